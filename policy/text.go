package policy

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// minRatioLetters is the shortest text whose caps and punctuation ratios are
// meaningful; "OK!" is not shouting.
const minRatioLetters = 8

var urlRegex = regexp.MustCompile(`(?i)\b(?:(?:https?|ftp)://|www\.)[^\s<>"]+|\b[a-z0-9][a-z0-9-]*(?:\.[a-z0-9-]+)*\.(?:com|net|org|io|gg|me|co|app|xyz|ly|info|biz|link|site|ru|cn|tk)\b(?:/[^\s<>"]*)?`)

// TextSignals are the structural features of a piece of text.
type TextSignals struct {
	Length           int // runes
	Letters          int
	CapsRatio        float64
	PunctuationRatio float64
	URLs             []string
}

// AnalyzeText extracts the structural features of text.
func AnalyzeText(text string) TextSignals {
	s := TextSignals{Length: utf8.RuneCountInString(text)}

	var upper, punct, visible int
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			continue
		case unicode.IsLetter(r):
			s.Letters++
			if unicode.IsUpper(r) {
				upper++
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
		}
		visible++
	}

	if s.Letters >= minRatioLetters {
		s.CapsRatio = float64(upper) / float64(s.Letters)
	}
	if visible >= minRatioLetters {
		s.PunctuationRatio = float64(punct) / float64(visible)
	}
	s.URLs = urlRegex.FindAllString(text, -1)
	return s
}

// Fold lowercases text and strips diacritics so that "Ádmín" and "admin"
// compare equal.
func Fold(text string) string {
	// transformers carry state; build one per call
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Map(unicode.ToLower), norm.NFKC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return strings.ToLower(text)
	}
	return out
}

// Tokenize splits folded text on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(Fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// reservedMatch returns the reserved word text collides with, matching the
// whole folded text with separators removed or any single token.
func reservedMatch(text string, reserved []string) (string, bool) {
	if len(reserved) == 0 {
		return "", false
	}
	tokens := Tokenize(text)
	bare := strings.Join(tokens, "")
	for _, w := range reserved {
		w = Fold(w)
		if bare == w {
			return w, true
		}
		for _, tok := range tokens {
			if tok == w {
				return w, true
			}
		}
	}
	return "", false
}
