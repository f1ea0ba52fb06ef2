package prompt

// Language is a supported practice language.
type Language struct {
	Code  string
	Label string
}

// Level is a CEFR proficiency level.
type Level struct {
	Value          string
	Label          string
	SecondaryLabel string
}

// Languages lists the supported languages in display order.
var Languages = []Language{
	{Code: "en-US", Label: "English"},
	{Code: "hi-IN", Label: "Hindi"},
	{Code: "cmn-CN", Label: "Mandarin"},
}

// Levels lists the supported proficiency levels from easiest to hardest.
var Levels = []Level{
	{Value: "a1", Label: "A1", SecondaryLabel: "Beginner"},
	{Value: "a2", Label: "A2", SecondaryLabel: "Beginner+"},
	{Value: "b1", Label: "B1", SecondaryLabel: "Intermediate"},
	{Value: "b2", Label: "B2", SecondaryLabel: "Intermediate+"},
	{Value: "c1", Label: "C1", SecondaryLabel: "Advanced"},
	{Value: "c2", Label: "C2", SecondaryLabel: "Advanced+"},
}

// LookupLanguage returns the language for code, or English when code is
// unknown.
func LookupLanguage(code string) Language {
	for _, l := range Languages {
		if l.Code == code {
			return l
		}
	}
	return Languages[0]
}

// LookupLevel returns the level for value, or A1 when value is unknown.
func LookupLevel(value string) Level {
	for _, l := range Levels {
		if l.Value == value {
			return l
		}
	}
	return Levels[0]
}

// KnownLanguage reports whether code is in [Languages].
func KnownLanguage(code string) bool {
	for _, l := range Languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

// KnownLevel reports whether value is in [Levels].
func KnownLevel(value string) bool {
	for _, l := range Levels {
		if l.Value == value {
			return true
		}
	}
	return false
}
