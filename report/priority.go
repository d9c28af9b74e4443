package report

import (
	"strings"
	"unicode/utf8"

	safety "github.com/heibot/safety"
)

// Reasons a reporter can pick.
const (
	ReasonViolence   = "violence"
	ReasonHateSpeech = "hate_speech"
	ReasonHarassment = "harassment"
	ReasonUnderage   = "underage"
	ReasonScam       = "scam"
	ReasonSpam       = "spam"
	ReasonNSFW       = "nsfw"
	ReasonFake       = "fake_profile"
	ReasonSelfHarm   = "self_harm"
	ReasonCopyright  = "copyright"
	ReasonOther      = "other"
)

var highRiskReasons = map[string]bool{
	ReasonViolence:   true,
	ReasonHateSpeech: true,
	ReasonHarassment: true,
	ReasonUnderage:   true,
	ReasonScam:       true,
}

// PriorityFor derives a new report's priority: high-risk reasons are high,
// a detailed description is medium, anything else is low.
func PriorityFor(reason, description string) safety.Priority {
	if highRiskReasons[normalizeReason(reason)] {
		return safety.PriorityHigh
	}
	if utf8.RuneCountInString(strings.TrimSpace(description)) >= safety.DescriptionMediumLength {
		return safety.PriorityMedium
	}
	return safety.PriorityLow
}

var reasonCategories = map[string]safety.Category{
	ReasonViolence:   safety.CategoryViolence,
	ReasonHateSpeech: safety.CategoryHateSpeech,
	ReasonHarassment: safety.CategoryHarassment,
	ReasonUnderage:   safety.CategoryMinorSafety,
	ReasonScam:       safety.CategoryScam,
	ReasonSpam:       safety.CategorySpam,
	ReasonNSFW:       safety.CategoryNSFW,
	ReasonFake:       safety.CategoryFakeContent,
	ReasonSelfHarm:   safety.CategorySelfHarm,
	ReasonCopyright:  safety.CategoryCopyright,
}

// CategoryFor maps a report reason to the category of the strike it leads to.
func CategoryFor(reason string) safety.Category {
	if c, ok := reasonCategories[normalizeReason(reason)]; ok {
		return c
	}
	return safety.CategoryOther
}

func normalizeReason(reason string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(reason)), " ", "_")
}
