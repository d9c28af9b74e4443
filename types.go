package safety

import (
	"time"
)

// Decision is the result of evaluating one piece of content. It is produced
// fresh per evaluation and never mutated afterwards.
type Decision struct {
	Allowed    bool           `json:"allowed"`
	Violations []string       `json:"violations"`
	Warnings   []string       `json:"warnings"`
	Confidence float64        `json:"confidence"`
	Action     DecisionAction `json:"action"`

	// Strike is set when a denial was recorded against the user's ledger.
	Strike *StrikeAction `json:"strike,omitempty"`
}

// Denied builds a blocking decision.
func Denied(confidence float64, violations ...string) Decision {
	return Decision{
		Allowed:    false,
		Violations: violations,
		Warnings:   []string{},
		Confidence: confidence,
		Action:     ActionBlock,
	}
}

// StrikeAction is the next rung of the escalation ladder for a user.
type StrikeAction struct {
	Action      LogAction     `json:"action"`
	StrikeCount int           `json:"strike_count"`
	Cooldown    time.Duration `json:"cooldown"`
	Severity    Severity      `json:"severity"`
	Reason      string        `json:"reason"`
}

// IsPermanent reports whether the cooldown never ends.
func (s StrikeAction) IsPermanent() bool {
	return s.Cooldown == Permanent
}

// LogEntry is one moderation action recorded against a user.
type LogEntry struct {
	ID             string         `json:"id" db:"id"`
	UserID         string         `json:"user_id" db:"user_id"`
	TargetType     string         `json:"target_type" db:"target_type"`
	TargetID       string         `json:"target_id" db:"target_id"`
	Action         LogAction      `json:"action" db:"action"`
	Reason         string         `json:"reason" db:"reason"`
	Severity       Severity       `json:"severity" db:"severity"`
	Category       Category       `json:"category" db:"category"`
	ModeratorID    string         `json:"moderator_id,omitempty" db:"moderator_id"` // empty when automated
	Automated      bool           `json:"automated" db:"automated"`
	Confidence     float64        `json:"confidence" db:"confidence"`
	Metadata       map[string]any `json:"metadata,omitempty" db:"metadata"`
	Appealable     bool           `json:"appealable" db:"appealable"`
	AppealDeadline time.Time      `json:"appeal_deadline" db:"appeal_deadline"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy     string         `json:"resolved_by,omitempty" db:"resolved_by"`
}

// IsActive reports whether the entry is unresolved.
func (e LogEntry) IsActive() bool {
	return e.ResolvedAt == nil
}

// CountsAsStrike reports whether the entry is an active strike.
func (e LogEntry) CountsAsStrike() bool {
	return e.IsActive() && e.Action.IsStrike()
}

// InCooldown reports whether the entry still restricts the user at now.
func (e LogEntry) InCooldown(now time.Time) bool {
	if !e.IsActive() {
		return false
	}
	cd := e.Action.Cooldown()
	if cd == Permanent {
		return true
	}
	return now.Sub(e.CreatedAt) < cd
}

// CanAppeal reports whether the entry can still be appealed at now.
func (e LogEntry) CanAppeal(now time.Time) bool {
	return e.Appealable && e.IsActive() && now.Before(e.AppealDeadline)
}

// Resolution records how a moderator closed a report.
type Resolution struct {
	Action     ResolutionAction `json:"action"`
	Notes      string           `json:"notes"`
	ResolvedAt time.Time        `json:"resolved_at"`
	ResolvedBy string           `json:"resolved_by"`
}

// Report is a user complaint against another user or their content.
type Report struct {
	ID                string       `json:"id" db:"id"`
	ReporterID        string       `json:"reporter_id" db:"reporter_id"`
	TargetUserID      string       `json:"target_user_id" db:"target_user_id"`
	TargetType        string       `json:"target_type" db:"target_type"`
	TargetID          string       `json:"target_id" db:"target_id"`
	Reason            string       `json:"reason" db:"reason"`
	Description       string       `json:"description" db:"description"`
	Status            ReportStatus `json:"status" db:"status"`
	Priority          Priority     `json:"priority" db:"priority"`
	AssignedModerator string       `json:"assigned_moderator,omitempty" db:"assigned_moderator"`
	Resolution        *Resolution  `json:"resolution,omitempty" db:"resolution"`
	DuplicateOf       string       `json:"duplicate_of,omitempty" db:"duplicate_of"`
	DuplicateCount    int          `json:"duplicate_count" db:"duplicate_count"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the report is pending or under review.
func (r Report) IsActive() bool {
	return r.Status.Active()
}

// ReportTarget identifies what a report is about, irrespective of reporter.
type ReportTarget struct {
	TargetUserID string `json:"target_user_id"`
	TargetType   string `json:"target_type"`
	TargetID     string `json:"target_id"`
}

// BlockRelationship is a one-directional block between two users.
type BlockRelationship struct {
	BlockerID     string    `json:"blocker_id" db:"blocker_id"`
	BlockedUserID string    `json:"blocked_user_id" db:"blocked_user_id"`
	Reason        string    `json:"reason" db:"reason"`
	Description   string    `json:"description,omitempty" db:"description"`
	Mutual        bool      `json:"mutual" db:"mutual"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// NotificationSettings are a member's chat notification preferences in a tribe.
type NotificationSettings struct {
	Mentions    bool `json:"mentions"`
	AllMessages bool `json:"all_messages"`
	Muted       bool `json:"muted"`
}

// DefaultNotificationSettings returns the settings of a fresh membership.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{Mentions: true, AllMessages: true}
}

// ChatEnforcementState holds the restrictions of a user within one tribe chat.
type ChatEnforcementState struct {
	UserID               string               `json:"user_id" db:"user_id"`
	TribeID              string               `json:"tribe_id" db:"tribe_id"`
	IsMuted              bool                 `json:"is_muted" db:"is_muted"`
	MutedUntil           *time.Time           `json:"muted_until,omitempty" db:"muted_until"`
	MutedBy              string               `json:"muted_by,omitempty" db:"muted_by"`
	MuteReason           string               `json:"mute_reason,omitempty" db:"mute_reason"`
	IsShadowbanned       bool                 `json:"is_shadowbanned" db:"is_shadowbanned"`
	ShadowbanUntil       *time.Time           `json:"shadowban_until,omitempty" db:"shadowban_until"`
	ShadowbanReason      string               `json:"shadowban_reason,omitempty" db:"shadowban_reason"`
	ViolationCount       int                  `json:"violation_count" db:"violation_count"`
	LastViolationAt      *time.Time           `json:"last_violation_at,omitempty" db:"last_violation_at"`
	MessageCount         int64                `json:"message_count" db:"message_count"`
	LastMessageAt        *time.Time           `json:"last_message_at,omitempty" db:"last_message_at"`
	BlockedUsers         []string             `json:"blocked_users" db:"blocked_users"`
	NotificationSettings NotificationSettings `json:"notification_settings" db:"notification_settings"`
}

// MutedAt reports whether an unexpired mute is in force at now. A mute
// without an end time never expires.
func (s ChatEnforcementState) MutedAt(now time.Time) bool {
	if !s.IsMuted {
		return false
	}
	return s.MutedUntil == nil || now.Before(*s.MutedUntil)
}

// ShadowbannedAt reports whether an unexpired shadowban is in force at now.
func (s ChatEnforcementState) ShadowbannedAt(now time.Time) bool {
	if !s.IsShadowbanned {
		return false
	}
	return s.ShadowbanUntil == nil || now.Before(*s.ShadowbanUntil)
}

// CanSendMessage applies lazy expiry: a lapsed mute or shadowban no longer
// restricts the user even if the flags are still set.
func (s ChatEnforcementState) CanSendMessage(now time.Time) bool {
	return !s.MutedAt(now) && !s.ShadowbannedAt(now)
}

// HasBlocked reports whether userID is on this member's tribe block list.
func (s ChatEnforcementState) HasBlocked(userID string) bool {
	for _, id := range s.BlockedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
