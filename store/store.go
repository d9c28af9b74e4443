// Package store defines the persistence interfaces of the moderation core.
// Implementations must enforce the uniqueness constraints documented on each
// method; services rely on them for correctness under concurrency.
package store

import (
	"context"
	"time"

	safety "github.com/heibot/safety"
)

// LogStore persists moderation log entries.
type LogStore interface {
	// AppendStrike inserts a strike entry only if the user currently has
	// exactly expectedActive active strikes. Otherwise it returns
	// safety.ErrRevisionConflict and inserts nothing.
	AppendStrike(ctx context.Context, entry safety.LogEntry, expectedActive int) error

	// AppendLog inserts a non-strike entry unconditionally.
	AppendLog(ctx context.Context, entry safety.LogEntry) error

	GetLog(ctx context.Context, id string) (*safety.LogEntry, error)

	// CountActiveStrikes counts active entries whose action is strike-eligible.
	CountActiveStrikes(ctx context.Context, userID string) (int, error)

	// ListActiveLogs returns the user's unresolved entries, oldest first.
	ListActiveLogs(ctx context.Context, userID string) ([]safety.LogEntry, error)

	// ListLogs returns the user's entries, newest first.
	ListLogs(ctx context.Context, userID string, limit int) ([]safety.LogEntry, error)

	// ResolveLog marks an entry resolved. Resolving is terminal: a second call
	// returns safety.ErrAlreadyResolved.
	ResolveLog(ctx context.Context, id, resolvedBy string, at time.Time) error
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	Statuses          []safety.ReportStatus
	TargetUserID      string
	AssignedModerator string
	Limit             int
}

// ReportStore persists reports.
type ReportStore interface {
	// CreateReport inserts a report. At most one active report may exist per
	// (reporter, target user, target type, target id); a second one fails
	// with safety.ErrDuplicateReport.
	CreateReport(ctx context.Context, r safety.Report) error

	GetReport(ctx context.Context, id string) (*safety.Report, error)

	// FindActiveReport returns the reporter's active report on target, or
	// safety.ErrNotFound.
	FindActiveReport(ctx context.Context, reporterID string, target safety.ReportTarget) (*safety.Report, error)

	// ListActiveByTarget returns every active report on target irrespective
	// of reporter, oldest first.
	ListActiveByTarget(ctx context.Context, target safety.ReportTarget) ([]safety.Report, error)

	ListReports(ctx context.Context, filter ReportFilter) ([]safety.Report, error)

	// UpdateReport rewrites the mutable fields of a report. It returns
	// safety.ErrAlreadyResolved when the stored report is no longer active.
	UpdateReport(ctx context.Context, r safety.Report) error

	// DismissDuplicate dismisses an active report as a duplicate of primaryID.
	// It reports false without error when the report was no longer active.
	DismissDuplicate(ctx context.Context, id, primaryID string, at time.Time) (bool, error)

	// AddDuplicates atomically adds n to the primary's duplicate count and
	// raises its priority to at least minPriority.
	AddDuplicates(ctx context.Context, primaryID string, n int, minPriority safety.Priority, at time.Time) error
}

// BlockStore persists block relationships, unique on (blocker, blocked).
type BlockStore interface {
	// CreateBlock inserts b. When the reverse relationship exists both rows
	// are flagged mutual in the same transaction and mutual is true. An
	// existing relationship fails with safety.ErrAlreadyBlocked.
	CreateBlock(ctx context.Context, b safety.BlockRelationship) (mutual bool, err error)

	// DeleteBlock removes blocker→blocked and clears the mutual flag of the
	// reverse row, which otherwise stays in force.
	DeleteBlock(ctx context.Context, blockerID, blockedUserID string) error

	GetBlock(ctx context.Context, blockerID, blockedUserID string) (*safety.BlockRelationship, error)
	ListBlocks(ctx context.Context, blockerID string) ([]safety.BlockRelationship, error)
}

// EnforcementStore persists chat enforcement state per (user, tribe).
type EnforcementStore interface {
	// GetEnforcement returns the state, or a fresh state when none exists.
	GetEnforcement(ctx context.Context, userID, tribeID string) (safety.ChatEnforcementState, error)

	// IncrementViolation atomically increments the violation count. When the
	// new count is a multiple of muteEvery the user is muted until
	// at+muteFor in the same write. It returns the updated state and whether
	// this call applied the mute.
	IncrementViolation(ctx context.Context, userID, tribeID string, at time.Time, muteEvery int, muteFor time.Duration) (safety.ChatEnforcementState, bool, error)

	// RecordMessage atomically increments the message count.
	RecordMessage(ctx context.Context, userID, tribeID string, at time.Time) error

	// SetMute mutes the user; a nil until never expires.
	SetMute(ctx context.Context, userID, tribeID string, until *time.Time, mutedBy, reason string) error
	ClearMute(ctx context.Context, userID, tribeID string) error

	SetShadowban(ctx context.Context, userID, tribeID string, until *time.Time, reason string) error
	ClearShadowban(ctx context.Context, userID, tribeID string) error

	AddTribeBlock(ctx context.Context, userID, tribeID, blockedUserID string) error
	RemoveTribeBlock(ctx context.Context, userID, tribeID, blockedUserID string) error

	SetNotificationSettings(ctx context.Context, userID, tribeID string, settings safety.NotificationSettings) error
}

// Store is the full persistence layer.
type Store interface {
	LogStore
	ReportStore
	BlockStore
	EnforcementStore

	// WithTx runs fn against a store whose writes commit together.
	WithTx(ctx context.Context, fn func(Store) error) error

	Ping(ctx context.Context) error
	Close() error
}

// StrikeActions are the log actions counted by CountActiveStrikes.
var StrikeActions = []safety.LogAction{
	safety.LogWarning,
	safety.LogSoftBlock,
	safety.LogHardBan,
	safety.LogUserBanned,
}

// ActiveReportStatuses are the statuses that block duplicate reports.
var ActiveReportStatuses = []safety.ReportStatus{
	safety.ReportPending,
	safety.ReportReviewing,
}
