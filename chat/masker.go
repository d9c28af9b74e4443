package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/heibot/safety/policy"
)

// DefaultBannedWords is the profanity list masked in chat.
var DefaultBannedWords = []string{
	"fuck", "fucking", "shit", "bitch", "asshole", "bastard", "dick", "cunt", "piss", "slut", "whore",
}

// DefaultHateWords is the hate-speech list masked in chat.
var DefaultHateWords = []string{
	"retard", "retarded", "nazi", "kys", "subhuman", "vermin",
}

// leet maps common character substitutions to the letters they stand for.
var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
}

// Masker replaces listed words with an equal-length run of mask characters.
// Masking is a display transform; it does not make text safe.
type Masker struct {
	words [][]rune
	mask  rune
}

// NewMasker creates a masker over the union of the given word lists.
func NewMasker(lists ...[]string) *Masker {
	m := &Masker{mask: '*'}
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, w := range list {
			w = policy.Fold(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			m.words = append(m.words, []rune(w))
		}
	}
	return m
}

// DefaultMasker masks DefaultBannedWords and DefaultHateWords.
func DefaultMasker() *Masker {
	return NewMasker(DefaultBannedWords, DefaultHateWords)
}

// normalize folds text one rune at a time so the result stays aligned with
// the input's runes.
func normalize(text []rune) []rune {
	out := make([]rune, len(text))
	for i, r := range text {
		if l, ok := leet[r]; ok {
			out[i] = l
			continue
		}
		folded := policy.Fold(string(r))
		if utf8.RuneCountInString(folded) == 1 {
			out[i], _ = utf8.DecodeRuneInString(folded)
		} else {
			out[i] = unicode.ToLower(r)
		}
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Mask returns text with every listed word masked and whether anything
// changed. Words match on whole-word boundaries, case and diacritics folded.
func (m *Masker) Mask(text string) (string, bool) {
	if text == "" || len(m.words) == 0 {
		return text, false
	}

	orig := []rune(text)
	norm := normalize(orig)
	changed := false

	for i := 0; i < len(norm); i++ {
		if i > 0 && isWordRune(norm[i-1]) {
			continue
		}
		for _, w := range m.words {
			end := i + len(w)
			if end > len(norm) || !hasPrefix(norm[i:], w) {
				continue
			}
			if end < len(norm) && isWordRune(norm[end]) {
				continue
			}
			for j := i; j < end; j++ {
				if !unicode.IsSpace(orig[j]) {
					orig[j] = m.mask
				}
			}
			changed = true
		}
	}

	if !changed {
		return text, false
	}
	return string(orig), true
}

func hasPrefix(s, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}
