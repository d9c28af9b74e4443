package hooks

import (
	"time"

	"github.com/google/uuid"

	safety "github.com/heibot/safety"
)

// EventType names a fan-out event.
type EventType string

const (
	EventDecisionBlocked EventType = "decision.blocked"
	EventStrikeRecorded  EventType = "strike.recorded"
	EventReportEscalated EventType = "report.escalated"
	EventUserMuted       EventType = "user.muted"

	EventUserShadowbanned EventType = "user.shadowbanned"
	EventShadowbanLifted  EventType = "user.shadowban_lifted"
)

// Event is the envelope handed to the real-time transport. Clients
// subscribed to TargetScope/TargetID receive it.
type Event struct {
	ID          string             `json:"id"`
	Type        EventType          `json:"type"`
	TargetScope safety.TargetScope `json:"target_scope"`
	TargetID    string             `json:"target_id"`
	Payload     map[string]any     `json:"payload"`
	CreatedAt   time.Time          `json:"created_at"`
}

// NewEvent stamps a new event with a random ID.
func NewEvent(typ EventType, scope safety.TargetScope, targetID string, payload map[string]any, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		TargetScope: scope,
		TargetID:    targetID,
		Payload:     payload,
		CreatedAt:   at,
	}
}

// Notification is a push message for one user.
type Notification struct {
	UserID   string `json:"user_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Deeplink string `json:"deeplink,omitempty"`
}

// ContentBlockedEvent is emitted when an evaluation denies content.
type ContentBlockedEvent struct {
	UserID      string             `json:"user_id"`
	ContentType safety.ContentType `json:"content_type"`
	Decision    safety.Decision    `json:"decision"`

	// Entry is the log entry recorded for the denial, if any.
	Entry *safety.LogEntry `json:"entry,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// StrikeRecordedEvent is emitted when the ledger appends a strike.
type StrikeRecordedEvent struct {
	Entry     safety.LogEntry     `json:"entry"`
	Strike    safety.StrikeAction `json:"strike"`
	Timestamp time.Time           `json:"timestamp"`
}

// ReportEscalatedEvent is emitted when enough reports on one target
// collapse onto a primary report.
type ReportEscalatedEvent struct {
	PrimaryReportID string              `json:"primary_report_id"`
	Target          safety.ReportTarget `json:"target"`
	Reporters       int                 `json:"reporters"`
	Dismissed       []string            `json:"dismissed"`
	Priority        safety.Priority     `json:"priority"`
	Timestamp       time.Time           `json:"timestamp"`
}

// UserMutedEvent is emitted when a user is muted in a tribe chat.
type UserMutedEvent struct {
	UserID    string     `json:"user_id"`
	TribeID   string     `json:"tribe_id"`
	MutedBy   string     `json:"muted_by,omitempty"` // empty for automatic mutes
	Reason    string     `json:"reason"`
	Until     *time.Time `json:"until,omitempty"`
	Automatic bool       `json:"automatic"`
	Timestamp time.Time  `json:"timestamp"`
}

// UserShadowbannedEvent is emitted when a shadowban is applied or lifted.
// The reason stays with moderators and is not part of the fan-out payload.
type UserShadowbannedEvent struct {
	UserID    string     `json:"user_id"`
	TribeID   string     `json:"tribe_id"`
	By        string     `json:"by"`
	Reason    string     `json:"reason,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
	Lifted    bool       `json:"lifted"`
	Timestamp time.Time  `json:"timestamp"`
}
