package violation

import (
	"strings"

	safety "github.com/heibot/safety"
)

// LabelHit is a single label reported by a classifier backend.
type LabelHit struct {
	Label      string
	Confidence float64 // 0-1
}

// Translator converts backend-specific labels to category scores.
type Translator interface {
	// Provider returns the backend name this translator handles.
	Provider() string

	// Translate converts label hits to category scores.
	Translate(hits []LabelHit) Scores
}

// LabelMapping maps a backend label to a category. An empty category marks a
// pass label that carries no risk.
type LabelMapping struct {
	Category safety.Category
	// Weight scales the backend confidence; 0 means 1.
	Weight float64
}

// BaseTranslator provides common translation functionality.
type BaseTranslator struct {
	providerName string
	labelMap     map[string]LabelMapping
}

// NewBaseTranslator creates a translator. Labels are matched case-insensitively.
func NewBaseTranslator(provider string, labelMap map[string]LabelMapping) *BaseTranslator {
	normalized := make(map[string]LabelMapping, len(labelMap))
	for k, v := range labelMap {
		normalized[strings.ToLower(k)] = v
	}
	return &BaseTranslator{
		providerName: provider,
		labelMap:     normalized,
	}
}

// Provider returns the backend name.
func (t *BaseTranslator) Provider() string {
	return t.providerName
}

// Translate converts label hits to scores. Unknown labels count as other.
func (t *BaseTranslator) Translate(hits []LabelHit) Scores {
	scores := make(Scores)
	for _, hit := range hits {
		if hit.Label == "" {
			continue
		}
		mapping, ok := t.labelMap[strings.ToLower(hit.Label)]
		if !ok {
			mapping = LabelMapping{Category: safety.CategoryOther}
		}
		if mapping.Category == "" {
			continue
		}

		conf := hit.Confidence
		if mapping.Weight > 0 {
			conf *= mapping.Weight
		}
		if cur, ok := scores[mapping.Category]; !ok || conf > cur {
			scores[mapping.Category] = conf
		}
	}
	return scores.Clamp()
}
