package question

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultSimilarity is the Jaro-Winkler score at which two question texts are
// considered the same question.
const DefaultSimilarity = 0.92

// Normalize lowercases text, drops punctuation and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// Similarity returns the Jaro-Winkler similarity of the normalized texts.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	return matchr.JaroWinkler(na, nb, false)
}

// FindSimilar returns the question in qs most similar to text when that
// similarity reaches threshold. A threshold <= 0 uses DefaultSimilarity.
func FindSimilar(text string, qs []Question, threshold float64) (Question, bool) {
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}
	var (
		best  Question
		score float64
	)
	for _, q := range qs {
		if s := Similarity(text, q.Text); s >= threshold && s > score {
			best, score = q, s
		}
	}
	return best, score > 0
}

// ContainsSimilar reports whether any of texts reaches threshold similarity
// with text. A threshold <= 0 uses DefaultSimilarity.
func ContainsSimilar(texts []string, text string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}
	for _, t := range texts {
		if Similarity(text, t) >= threshold {
			return true
		}
	}
	return false
}
