// Package policy is the pure rules engine: it maps classifier scores and
// content metadata to an allow or deny result per content profile. It
// performs no I/O.
package policy

import (
	"regexp"

	safety "github.com/heibot/safety"
)

// ImageRules is the threshold table for image uploads.
type ImageRules struct {
	Thresholds map[safety.Category]float64

	RequireFace       bool
	MinFaceConfidence float64
	MaxFaces          int

	MinDimension int
	MaxDimension int
	Formats      []string
	MaxBytes     int
}

// TextRules is the threshold table for a text profile. Zero values disable a
// check.
type TextRules struct {
	// Name prefixes structural violation codes, e.g. username_too_short.
	Name string

	Thresholds map[safety.Category]float64

	MinLength int
	MaxLength int

	// Charset, when set, must match the whole text.
	Charset       *regexp.Regexp
	ReservedWords []string

	MaxCapsRatio        float64
	MaxPunctuationRatio float64
	AllowURLs           bool
}

// Rules holds one table per content profile.
type Rules struct {
	Image       ImageRules
	Text        TextRules
	Username    TextRules
	TribeName   TextRules
	ChatMessage TextRules

	// WarnRatio is the fraction of a threshold at which a score produces a
	// warning instead of passing silently.
	WarnRatio float64
}

var usernameCharset = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DefaultReservedWords are names no user may register.
var DefaultReservedWords = []string{
	"admin", "administrator", "moderator", "mod", "staff", "support",
	"system", "root", "official", "security", "help", "null", "undefined",
}

// DefaultRules returns the production threshold tables.
func DefaultRules() Rules {
	return Rules{
		Image: ImageRules{
			Thresholds: map[safety.Category]float64{
				safety.CategoryNSFW:     0.70,
				safety.CategoryViolence: 0.80,
				safety.CategoryWeapons:  0.80,
			},
			RequireFace:       true,
			MinFaceConfidence: 0.70,
			MaxFaces:          1,
			MinDimension:      100,
			MaxDimension:      4000,
			Formats:           []string{"jpeg", "png", "webp"},
			MaxBytes:          10 << 20,
		},
		Text: TextRules{
			Name: "text",
			Thresholds: map[safety.Category]float64{
				safety.CategoryToxicity:   0.70,
				safety.CategorySpam:       0.60,
				safety.CategoryHateSpeech: 0.80,
				safety.CategoryHarassment: 0.70,
			},
			MinLength:           1,
			MaxLength:           5000,
			MaxCapsRatio:        0.70,
			MaxPunctuationRatio: 0.30,
		},
		Username: TextRules{
			Name: "username",
			Thresholds: map[safety.Category]float64{
				safety.CategoryToxicity: 0.50,
			},
			MinLength:     3,
			MaxLength:     20,
			Charset:       usernameCharset,
			ReservedWords: DefaultReservedWords,
		},
		TribeName: TextRules{
			Name: "tribe_name",
			Thresholds: map[safety.Category]float64{
				safety.CategoryToxicity: 0.60,
				safety.CategorySpam:     0.50,
			},
			MinLength: 3,
			MaxLength: 30,
		},
		ChatMessage: TextRules{
			Name: "chat",
			Thresholds: map[safety.Category]float64{
				safety.CategoryToxicity:   0.70,
				safety.CategorySpam:       0.60,
				safety.CategoryHateSpeech: 0.80,
				safety.CategoryHarassment: 0.70,
			},
			MinLength: 1,
			MaxLength: 2000,
			AllowURLs: true,
		},
		WarnRatio: 0.8,
	}
}

// For returns the text table of a text profile.
func (r Rules) For(ct safety.ContentType) (TextRules, bool) {
	switch ct {
	case safety.ContentText:
		return r.Text, true
	case safety.ContentUsername:
		return r.Username, true
	case safety.ContentTribeName:
		return r.TribeName, true
	case safety.ContentChatMessage:
		return r.ChatMessage, true
	}
	return TextRules{}, false
}
