package violation

import (
	"sort"

	safety "github.com/heibot/safety"
)

// Scores maps a category to a confidence in [0,1].
type Scores map[safety.Category]float64

// Get returns the score for a category, or 0.
func (s Scores) Get(c safety.Category) float64 {
	if s == nil {
		return 0
	}
	return s[c]
}

// Max returns the highest score and its category. Ties break by category
// name so the result is deterministic.
func (s Scores) Max() (safety.Category, float64) {
	var (
		best  safety.Category
		score = -1.0
	)
	for _, c := range s.Categories() {
		if v := s[c]; v > score {
			best, score = c, v
		}
	}
	if score < 0 {
		return "", 0
	}
	return best, score
}

// Categories returns the categories present, sorted.
func (s Scores) Categories() []safety.Category {
	out := make([]safety.Category, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clamp limits every score to [0,1].
func (s Scores) Clamp() Scores {
	for c, v := range s {
		switch {
		case v < 0:
			s[c] = 0
		case v > 1:
			s[c] = 1
		}
	}
	return s
}

// Merge combines score maps, keeping the highest score per category.
func Merge(lists ...Scores) Scores {
	out := make(Scores)
	for _, list := range lists {
		for c, v := range list {
			if cur, ok := out[c]; !ok || v > cur {
				out[c] = v
			}
		}
	}
	return out
}

// MaxRisk returns a score map with every given category at full confidence.
func MaxRisk(categories ...safety.Category) Scores {
	out := make(Scores, len(categories))
	for _, c := range categories {
		out[c] = 1
	}
	return out
}
