// Package violation maps backend labels onto the moderation category
// taxonomy and merges per-category confidence scores.
package violation

import safety "github.com/heibot/safety"

// CategoryInfo provides metadata about a violation category.
type CategoryInfo struct {
	Category        safety.Category
	Name            string
	Description     string
	DefaultSeverity safety.Severity
}

// Registry maps categories to their metadata.
var Registry = map[safety.Category]CategoryInfo{
	safety.CategoryNSFW: {
		Category:        safety.CategoryNSFW,
		Name:            "NSFW",
		Description:     "Sexually explicit or suggestive content",
		DefaultSeverity: safety.SeverityHigh,
	},
	safety.CategoryViolence: {
		Category:        safety.CategoryViolence,
		Name:            "Violence",
		Description:     "Graphic violence, gore or threats",
		DefaultSeverity: safety.SeverityHigh,
	},
	safety.CategoryHateSpeech: {
		Category:        safety.CategoryHateSpeech,
		Name:            "Hate Speech",
		Description:     "Attacks on protected groups",
		DefaultSeverity: safety.SeverityHigh,
	},
	safety.CategoryHarassment: {
		Category:        safety.CategoryHarassment,
		Name:            "Harassment",
		Description:     "Insults, bullying or targeted abuse",
		DefaultSeverity: safety.SeverityMedium,
	},
	safety.CategorySpam: {
		Category:        safety.CategorySpam,
		Name:            "Spam",
		Description:     "Unsolicited promotion, flooding or meaningless content",
		DefaultSeverity: safety.SeverityLow,
	},
	safety.CategoryScam: {
		Category:        safety.CategoryScam,
		Name:            "Scam",
		Description:     "Fraud, phishing or deceptive payment requests",
		DefaultSeverity: safety.SeverityHigh,
	},
	safety.CategoryFakeContent: {
		Category:        safety.CategoryFakeContent,
		Name:            "Fake Content",
		Description:     "Impersonation or manipulated media",
		DefaultSeverity: safety.SeverityMedium,
	},
	safety.CategoryCopyright: {
		Category:        safety.CategoryCopyright,
		Name:            "Copyright",
		Description:     "Content used without rights",
		DefaultSeverity: safety.SeverityLow,
	},
	safety.CategoryMinorSafety: {
		Category:        safety.CategoryMinorSafety,
		Name:            "Minor Safety",
		Description:     "Content endangering minors",
		DefaultSeverity: safety.SeverityCritical,
	},
	safety.CategoryWeapons: {
		Category:        safety.CategoryWeapons,
		Name:            "Weapons",
		Description:     "Weapons display or trade",
		DefaultSeverity: safety.SeverityHigh,
	},
	safety.CategoryDrugs: {
		Category:        safety.CategoryDrugs,
		Name:            "Drugs",
		Description:     "Illegal drugs or controlled substances",
		DefaultSeverity: safety.SeverityHigh,
	},
	safety.CategorySelfHarm: {
		Category:        safety.CategorySelfHarm,
		Name:            "Self Harm",
		Description:     "Self-injury or suicide content",
		DefaultSeverity: safety.SeverityCritical,
	},
	safety.CategoryToxicity: {
		Category:        safety.CategoryToxicity,
		Name:            "Toxicity",
		Description:     "Rude, disrespectful or profane language",
		DefaultSeverity: safety.SeverityMedium,
	},
	safety.CategoryOther: {
		Category:        safety.CategoryOther,
		Name:            "Other",
		Description:     "Unclassified violations",
		DefaultSeverity: safety.SeverityMedium,
	},
}

// Info returns the metadata for a category, falling back to other.
func Info(c safety.Category) CategoryInfo {
	if info, ok := Registry[c]; ok {
		return info
	}
	return Registry[safety.CategoryOther]
}

// LogCategory maps a score key onto the category recorded in the moderation log.
func LogCategory(c safety.Category) safety.Category {
	switch c {
	case safety.CategoryToxicity:
		return safety.CategoryHarassment
	case "":
		return safety.CategoryOther
	}
	if _, ok := Registry[c]; !ok {
		return safety.CategoryOther
	}
	return c
}
