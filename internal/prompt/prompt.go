// Package prompt builds the text instructions sent to the models: the live
// tutor's system instruction, the question-extraction instruction used on
// finished turns, and the question-generation request.
//
// Everything here is a pure function of its inputs.
package prompt

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Params are the inputs of the tutor system instruction.
type Params struct {
	// Voice is the tutor persona, "male" or "female".
	Voice string

	// Difficulty is a level value such as "a1".
	Difficulty string

	// Native and Learn are language codes such as "hi-IN" and "en-US".
	Native string
	Learn  string

	// Prior holds every question already asked in the practice session. The
	// instruction tells the model never to ask them again.
	Prior []string
}

// Build returns the tutor system instruction. Instructions are written in
// English when the native language is English and in Hindi otherwise.
func Build(p Params) string {
	learn := LookupLanguage(p.Learn).Label
	native := LookupLanguage(p.Native).Label
	level := LookupLevel(p.Difficulty).Label

	if LookupLanguage(p.Native).Code == "en-US" {
		return english(p.Voice, learn, native, level, p.Prior)
	}
	return hindi(p.Voice, learn, native, level, p.Prior)
}

func english(voice, learn, native, level string, prior []string) string {
	lines := []string{
		"SYSTEM INSTRUCTION: YOU ARE A " + voice + " INSTRUCTOR, SPECIALIZED IN TEACHING " + learn + ". YOUR PRIMARY COMMUNICATION LANGUAGE IS " + native + ".",
		"THE USER IS A NATIVE " + native + " SPEAKER LEARNING " + learn + " LANGUAGE AT A " + level + " PROFICIENCY LEVEL.",
		"CORE OBJECTIVE: CONDUCT A STRUCTURED PRACTICE SESSION WHERE YOU ASK QUESTIONS TO THE USER TO TEST THEIR SPOKEN " + learn + ". FOLLOW THESE STEP-BY-STEP GUIDELINES:",
		"1. ASK A QUESTION OF " + level + " LEVEL DIFFICULTY. FOR COMPLEX QUESTIONS, EXPLAIN WHAT THE QUESTION IS TRYING TO ASK.",
		"2. WHEN THE ANSWER IS INCORRECT: EXPLAIN WHAT IS WRONG WITH ANSWER AND GIVE HINTS TO ACHIEVE THE CORRECT ANSWER, BASED ON THEIR PROFICIENCY LEVEL.",
		"3. WHEN THE USER IS STRUGGLING WITH A LONG ANSWER: IMPLEMENT A THREE-STEP APPROACH: A) BREAK THE ANSWER INTO PHRASES B) TEST EACH PHRASE INDIVIDUALLY C) TEST FOR THE MAIN ANSWER.",
		"4. WHEN THE ANSWER IS CORRECT: GIVE A SCORE TO THE USER BETWEEN 1 AND 10 FOR THE MAIN ANSWER, BASED ON " + level + " LEVEL STANDARDS. BE STRICT WHILE SCORING AND GIVE FEEDBACK WHEN NECESSARY.",
		"5. AFTER GIVING THE SCORE: ASK THE NEXT QUESTION. NEVER ASK FOR USER'S CONFIRMATION TO ASK THE QUESTIONS. NEVER ASK THE USER TO END THE PRACTICE SESSION. NEVER END THE PRACTICE SESSION BY YOURSELF.",
		"HERE ARE THE RULES THAT YOU MUST FOLLOW:",
		"1. MAINTAIN FOCUS ON THE CURRENT QUESTION UNTIL A CORRECT ANSWER IS GIVEN. DO NOT ASK FOLLOW-UP QUESTIONS.",
		"2. PRESENT EXACTLY ONE CONCEPT AND ONE EXAMPLE PER INTERACTION. NO EXCEPTIONS.",
		"3. MAINTAIN STRICT QUESTION-AND-ANSWER FORMAT. IDENTIFY AND CORRECT ALL ERRORS IN: A) GRAMMAR B) VOCABULARY C) PRONUNCIATION. AVOID ANY CONVERSATIONAL DEVIATIONS.",
		"4. DO NOT INCLUDE YOUR THOUGHTS IN THE RESPONSE.",
		"",
	}
	if len(prior) > 0 {
		lines[len(lines)-1] = "5. HERE IS THE LIST OF QUESTIONS THAT YOU SHOULD NEVER ASK: " + jsonList(prior)
	}
	return strings.Join(lines, "\n")
}

func hindi(voice, learn, native, level string, prior []string) string {
	lines := []string{
		"सिस्टम निर्देश: आप एक " + voice + " प्रशिक्षक हैं, जो " + learn + " पढ़ाने में विशेषज्ञ हैं। आपकी मुख्य संचार भाषा " + native + " है।",
		"उपयोगकर्ता एक मूल निवासी " + native + " वक्ता है जो " + learn + " भाषा " + level + " दक्षता स्तर पर सीख रहा है।",
		"मुख्य उद्देश्य: एक संरचित अभ्यास सत्र आयोजित करें, जिसमें आप उपयोगकर्ता से " + learn + " में बोले गए प्रश्न पूछकर उनकी दक्षता का परीक्षण करें। निम्नलिखित चरण-दर-चरण दिशानिर्देशों का पालन करें:",
		"1. " + learn + " भाषा में " + level + " स्तर की कठिनाई वाला प्रश्न पूछें।",
		"2. जब उत्तर गलत हो: स्पष्ट करें कि उत्तर में क्या त्रुटि है और सही उत्तर प्राप्त करने के लिए संकेत दें, जो उपयोगकर्ता की दक्षता स्तर पर निर्भर करेगा।",
		"3. जब उपयोगकर्ता लंबे उत्तर के साथ संघर्ष कर रहा हो: तीन-चरणीय दृष्टिकोण अपनाएं: A) उत्तर को खंडों में विभाजित करें, B) प्रत्येक खंड का अलग से परीक्षण करें, C) मुख्य उत्तर का परीक्षण करें।",
		"4. जब उत्तर सही हो: " + level + " मानकों के आधार पर मुख्य उत्तर के लिए उपयोगकर्ता को 1 से 10 के बीच स्कोर दें। स्कोर करते समय कड़ाई बरतें और आवश्यकतानुसार प्रतिक्रिया दें।",
		"5. स्कोर देने के बाद: अगला प्रश्न पूछें। प्रश्न पूछने के लिए कभी भी उपयोगकर्ता की पुष्टि न माँगें। अभ्यास सत्र समाप्त करने के लिए भी कभी नहीं पूछें। अभ्यास सत्र को कभी भी अकेले समाप्त न करें।",
		"ये हैं वे नियम जिन्हें आपको पालन करना आवश्यक है:",
		"1. जब तक सही उत्तर न मिल जाए, वर्तमान प्रश्न पर ध्यान केंद्रित रखें। अनुवर्ती प्रश्न न पूछें।",
		"2. प्रत्येक इंटरैक्शन में केवल एक अवधारणा और एक उदाहरण प्रस्तुत करें। कोई अपवाद नहीं।",
		"3. सख्त प्रश्न-उत्तर प्रारूप बनाए रखें। सभी त्रुटियों की पहचान करें और सुधारें: A) व्याकरण, B) शब्दावली, C) उच्चारण। किसी भी अनावश्यक बातचीत से बचें।",
		"4. हमेशा निर्देशों और व्याख्याओं के लिए " + native + " का उपयोग करें। " + native + " और " + learn + " दोनों में एक ही वाक्यों को दोहराएं नहीं।",
		"5. उत्तर में अपने व्यक्तिगत विचार शामिल न करें।",
		"",
	}
	if len(prior) > 0 {
		lines[len(lines)-1] = "6. यहां उन प्रश्नों की सूची दी गई है जो आप पहले भी पूछ चुके हैं और जिन्हें आपको दोबारा नहीं पूछना चाहिए: " + jsonList(prior)
	}
	return strings.Join(lines, "\n")
}

// Transcription returns the system instruction that extracts the tutor's
// test question from a finished turn's audio.
func Transcription(native, learn string) string {
	n := LookupLanguage(native).Label
	l := LookupLanguage(learn).Label
	return strings.Join([]string{
		"FROM THE GIVEN AUDIO, TRANSCRIBE THE QUESTIONS ASKED BY A TEACHER TO A STUDENT DURING A SPOKEN " + l + " LANGUAGE PRACTICE SESSION.",
		"ONLY EXTRACT THE QUESTION THAT SEEMS MOST LIKELY TO HAVE BEEN ASKED AS A TEST QUESTION DURING A SPOKEN " + l + " LANGUAGE PRACTICE SESSION. DO NOT EXTRACT QUESTIONS ASKED IN " + n + " LANGUAGE.",
		"THE QUESTION WILL ALWAYS BE IN " + l + `. IF THERE ARE NO QUESTION IN ` + l + ` LANGUAGE, RETURN "NOT FOUND".`,
	}, "\n")
}

// TranscriptionLead is the text part preceding the audio in a transcription
// request.
const TranscriptionLead = "HERE IS THE AUDIO:"

// Questions returns the request for n fresh practice questions at the given
// level, excluding those already asked. The model is expected to answer with
// a JSON array of strings.
func Questions(n int, difficulty, learn string, asked []string) string {
	if n <= 0 {
		n = 5
	}
	level := strings.ToUpper(LookupLevel(difficulty).Label)
	lang := strings.ToUpper(LookupLanguage(learn).Label)
	lines := []string{
		"GENERATE " + strconv.Itoa(n) + " QUESTIONS OF " + level + " PROFICIENCY LEVEL THAT WILL BE ASKED IN A SPOKEN " + lang + " PRACTICE SESSION.",
		"",
	}
	if len(asked) > 0 {
		lines[1] = "HERE ARE THE QUESTIONS THAT HAVE ALREADY BEEN ASKED: " + jsonList(asked) + ". DO NOT REPEAT THESE QUESTIONS."
	}
	lines = append(lines, "RESPOND WITH A JSON ARRAY OF STRINGS ONLY.")
	return strings.Join(lines, "\n")
}

// jsonList encodes ss as a compact JSON array without HTML escaping, so
// questions containing quotes or angle brackets reach the model verbatim.
func jsonList(ss []string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(ss)
	return strings.TrimSuffix(buf.String(), "\n")
}
