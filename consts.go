// Package safety is the trust and safety moderation core: content decisions,
// strike escalation, report intake, block relationships and chat enforcement.
package safety

import "time"

// ContentType is the moderation profile a piece of content is evaluated under.
type ContentType string

const (
	ContentImageUpload ContentType = "image_upload"
	ContentText        ContentType = "text_content"
	ContentUsername    ContentType = "username"
	ContentTribeName   ContentType = "tribe_name"
	ContentChatMessage ContentType = "chat_message"
)

// Valid reports whether the content type is known.
func (c ContentType) Valid() bool {
	switch c {
	case ContentImageUpload, ContentText, ContentUsername, ContentTribeName, ContentChatMessage:
		return true
	}
	return false
}

// IsText reports whether the content carries a text payload.
func (c ContentType) IsText() bool {
	return c != ContentImageUpload && c.Valid()
}

// DecisionAction is the outcome of a single evaluation.
type DecisionAction string

const (
	ActionAllow DecisionAction = "allow"
	ActionWarn  DecisionAction = "warn"
	ActionBlock DecisionAction = "block"
)

// LogAction is the enforcement recorded by a moderation log entry.
type LogAction string

const (
	LogWarning        LogAction = "warning"
	LogSoftBlock      LogAction = "soft_block"
	LogHardBan        LogAction = "hard_ban"
	LogBlockedImage   LogAction = "blocked_image"
	LogBlockedText    LogAction = "blocked_text"
	LogUserMuted      LogAction = "user_muted"
	LogUserSuspended  LogAction = "user_suspended"
	LogUserBanned     LogAction = "user_banned"
	LogAppealApproved LogAction = "appeal_approved"
	LogAppealRejected LogAction = "appeal_rejected"
)

// IsStrike reports whether entries with this action count toward the strike ladder.
func (a LogAction) IsStrike() bool {
	switch a {
	case LogWarning, LogSoftBlock, LogHardBan, LogUserBanned:
		return true
	}
	return false
}

// Cooldown returns how long an action keeps the user from acting again.
func (a LogAction) Cooldown() time.Duration {
	switch a {
	case LogSoftBlock:
		return SoftBlockCooldown
	case LogHardBan:
		return HardBanCooldown
	case LogUserBanned:
		return Permanent
	case LogUserSuspended:
		return HardBanCooldown
	}
	return 0
}

// Severity of a logged violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Category is the violation category recorded on a log entry and used as a
// classifier score key.
type Category string

const (
	CategoryNSFW        Category = "nsfw"
	CategoryViolence    Category = "violence"
	CategoryHateSpeech  Category = "hate_speech"
	CategoryHarassment  Category = "harassment"
	CategorySpam        Category = "spam"
	CategoryScam        Category = "scam"
	CategoryFakeContent Category = "fake_content"
	CategoryCopyright   Category = "copyright"
	CategoryMinorSafety Category = "minor_safety"
	CategoryWeapons     Category = "weapons"
	CategoryDrugs       Category = "drugs"
	CategorySelfHarm    Category = "self_harm"
	CategoryOther       Category = "other"

	// CategoryToxicity is a score-only key produced by text classifiers.
	// Log entries record it as harassment.
	CategoryToxicity Category = "toxicity"
)

// ReportStatus tracks a report through review.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportReviewing ReportStatus = "reviewing"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

// Active reports whether the report still blocks duplicates.
func (s ReportStatus) Active() bool {
	return s == ReportPending || s == ReportReviewing
}

// Priority of a report in the moderation queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	}
	return 0
}

// ResolutionAction is what a moderator did with a report.
type ResolutionAction string

const (
	ResolutionNoAction ResolutionAction = "no_action"
	ResolutionWarn     ResolutionAction = "warn"
	ResolutionEscalate ResolutionAction = "escalate"
	ResolutionRemove   ResolutionAction = "remove_content"
	ResolutionBan      ResolutionAction = "ban"
)

// TargetScope addresses a fan-out event.
type TargetScope string

const (
	ScopeTribe TargetScope = "tribe"
	ScopeUser  TargetScope = "user"
)

// Ladder and enforcement durations.
const (
	SoftBlockCooldown   = 24 * time.Hour
	HardBanCooldown     = 7 * 24 * time.Hour
	DefaultAppealWindow = 7 * 24 * time.Hour
	AutoMuteDuration    = 24 * time.Hour

	// Permanent is the cooldown of a ban with no end.
	Permanent time.Duration = 1<<63 - 1
)

// Chat and report thresholds.
const (
	AutoMuteViolations      = 3
	ChatRateLimit           = 5
	ChatRateWindow          = 10 * time.Second
	ReportEscalationReports = 5
	DescriptionMediumLength = 100
)

// AutoMuteReason is recorded on mutes applied for repeated chat violations.
const AutoMuteReason = "automatic: repeated chat violations"
