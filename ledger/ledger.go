// Package ledger records moderation actions per user and escalates repeat
// offenders through the strike ladder: warning, soft block (24h), hard ban
// (7d), then a permanent ban.
//
// Counting a user's active strikes and appending the next one is serialized
// twice: an in-process lock per user, and a conditional append in the store
// that fails with safety.ErrRevisionConflict when another writer got there
// first. Conflicts are retried with exponential backoff.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
	"github.com/heibot/safety/utils"
)

// Options configures a Ledger.
type Options struct {
	Logger *zap.Logger

	// AppealWindow is added to CreatedAt to form the appeal deadline.
	AppealWindow time.Duration

	// MaxConflictRetries bounds retries of a conditional append that lost a race.
	MaxConflictRetries uint64

	IDGen *utils.IDGenerator
	Now   func() time.Time
}

// Ledger is the strike escalation ledger.
type Ledger struct {
	store  store.LogStore
	locks  *xsync.MapOf[string, *sync.Mutex]
	logger *zap.Logger
	opts   Options
}

// New creates a ledger over s.
func New(s store.LogStore, opts Options) *Ledger {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AppealWindow == 0 {
		opts.AppealWindow = safety.DefaultAppealWindow
	}
	if opts.MaxConflictRetries == 0 {
		opts.MaxConflictRetries = 5
	}
	if opts.IDGen == nil {
		opts.IDGen = utils.NewIDGenerator()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store:  s,
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
		logger: opts.Logger.Named("ledger"),
		opts:   opts,
	}
}

// Violation is a denial to be recorded as a strike.
type Violation struct {
	UserID     string
	TargetType string
	TargetID   string
	Category   safety.Category
	Severity   safety.Severity // defaults to the ladder's severity
	Reason     string
	Confidence float64
	Metadata   map[string]any

	// ModeratorID is empty for automated strikes.
	ModeratorID string
}

func (v Violation) validate() error {
	if v.UserID == "" {
		return safety.NewValidationError("user_id", "required")
	}
	if v.Category == "" {
		return safety.NewValidationError("category", "required")
	}
	return nil
}

// Ladder returns the action for the given strike number (1-based).
func Ladder(strike int) (safety.LogAction, safety.Severity) {
	switch {
	case strike <= 1:
		return safety.LogWarning, safety.SeverityLow
	case strike == 2:
		return safety.LogSoftBlock, safety.SeverityMedium
	case strike == 3:
		return safety.LogHardBan, safety.SeverityHigh
	default:
		return safety.LogUserBanned, safety.SeverityCritical
	}
}

func strikeAction(active int, category safety.Category) safety.StrikeAction {
	next := active + 1
	action, severity := Ladder(next)
	return safety.StrikeAction{
		Action:      action,
		StrikeCount: next,
		Cooldown:    action.Cooldown(),
		Severity:    severity,
		Reason:      fmt.Sprintf("strike %d for %s: %s", next, category, action),
	}
}

func (l *Ledger) lock(userID string) func() {
	mu, _ := l.locks.LoadOrCompute(userID, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

// StrikeCount returns the user's active strike-eligible entries.
func (l *Ledger) StrikeCount(ctx context.Context, userID string) (int, error) {
	return l.store.CountActiveStrikes(ctx, userID)
}

// DetermineStrikeAction returns what the user's next strike would be.
func (l *Ledger) DetermineStrikeAction(ctx context.Context, userID string, category safety.Category) (safety.StrikeAction, error) {
	n, err := l.store.CountActiveStrikes(ctx, userID)
	if err != nil {
		return safety.StrikeAction{}, err
	}
	return strikeAction(n, category), nil
}

// CanUserPerformAction reports false while any active entry is inside its
// cooldown.
func (l *Ledger) CanUserPerformAction(ctx context.Context, userID string) (bool, error) {
	entries, err := l.store.ListActiveLogs(ctx, userID)
	if err != nil {
		return false, err
	}
	now := l.opts.Now()
	for _, e := range entries {
		if e.InCooldown(now) {
			return false, nil
		}
	}
	return true, nil
}

func (l *Ledger) newEntry(userID string, action safety.LogAction, moderatorID string) safety.LogEntry {
	now := l.opts.Now()
	return safety.LogEntry{
		ID:             l.opts.IDGen.GenerateWithPrefix(utils.PrefixLog),
		UserID:         userID,
		Action:         action,
		ModeratorID:    moderatorID,
		Automated:      moderatorID == "",
		Appealable:     true,
		AppealDeadline: now.Add(l.opts.AppealWindow),
		CreatedAt:      now,
	}
}

// appendNext counts, builds and conditionally appends one strike, retrying
// when a concurrent writer changed the count.
func (l *Ledger) appendNext(ctx context.Context, userID string, build func(active int) safety.LogEntry) (safety.LogEntry, int, error) {
	unlock := l.lock(userID)
	defer unlock()

	var (
		entry  safety.LogEntry
		active int
	)
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(10*time.Millisecond),
		backoff.WithMaxInterval(200*time.Millisecond),
		backoff.WithMaxElapsedTime(2*time.Second),
	), l.opts.MaxConflictRetries)

	err := backoff.Retry(func() error {
		n, err := l.store.CountActiveStrikes(ctx, userID)
		if err != nil {
			return backoff.Permanent(err)
		}
		active = n
		entry = build(n)

		err = l.store.AppendStrike(ctx, entry, n)
		if errors.Is(err, safety.ErrRevisionConflict) {
			l.logger.Debug("strike append lost a race, retrying", zap.String("user_id", userID), zap.Int("observed", n))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return safety.LogEntry{}, 0, fmt.Errorf("append strike for %s: %w", userID, err)
	}
	return entry, active, nil
}

// RecordViolation appends the user's next strike for v and returns the
// stored entry with the ladder step it took.
func (l *Ledger) RecordViolation(ctx context.Context, v Violation) (safety.LogEntry, safety.StrikeAction, error) {
	if err := v.validate(); err != nil {
		return safety.LogEntry{}, safety.StrikeAction{}, err
	}

	var step safety.StrikeAction
	entry, _, err := l.appendNext(ctx, v.UserID, func(active int) safety.LogEntry {
		step = strikeAction(active, v.Category)
		e := l.newEntry(v.UserID, step.Action, v.ModeratorID)
		e.TargetType = v.TargetType
		e.TargetID = v.TargetID
		e.Category = v.Category
		e.Severity = v.Severity
		if e.Severity == "" {
			e.Severity = step.Severity
		}
		e.Reason = v.Reason
		if e.Reason == "" {
			e.Reason = step.Reason
		}
		e.Confidence = v.Confidence
		e.Metadata = v.Metadata
		return e
	})
	if err != nil {
		return safety.LogEntry{}, safety.StrikeAction{}, err
	}

	l.logger.Info("strike recorded",
		zap.String("user_id", v.UserID),
		zap.String("entry_id", entry.ID),
		zap.String("action", string(step.Action)),
		zap.Int("strike", step.StrikeCount),
		zap.String("category", string(v.Category)),
		zap.Bool("automated", entry.Automated))

	return entry, step, nil
}

// RecordAction appends a non-strike entry such as blocked_image or
// user_muted. Missing ID, timestamps and appeal deadline are filled in.
func (l *Ledger) RecordAction(ctx context.Context, entry safety.LogEntry) (safety.LogEntry, error) {
	if entry.UserID == "" {
		return entry, safety.NewValidationError("user_id", "required")
	}
	if entry.Action.IsStrike() {
		return entry, safety.NewValidationError("action", "strike actions go through RecordViolation")
	}

	now := l.opts.Now()
	if entry.ID == "" {
		entry.ID = l.opts.IDGen.GenerateWithPrefix(utils.PrefixLog)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.Appealable && entry.AppealDeadline.IsZero() {
		entry.AppealDeadline = entry.CreatedAt.Add(l.opts.AppealWindow)
	}
	if entry.Category == "" {
		entry.Category = safety.CategoryOther
	}
	if entry.Severity == "" {
		entry.Severity = safety.SeverityLow
	}
	entry.Automated = entry.ModeratorID == ""

	if err := l.store.AppendLog(ctx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// Resolve marks an entry resolved. Resolving is terminal.
func (l *Ledger) Resolve(ctx context.Context, entryID, resolvedBy string) error {
	return l.store.ResolveLog(ctx, entryID, resolvedBy, l.opts.Now())
}

// Reverse is a moderator overturning an entry; the entry stops counting.
func (l *Ledger) Reverse(ctx context.Context, entryID, moderatorID string) error {
	if moderatorID == "" {
		return safety.NewValidationError("moderator_id", "required")
	}
	if err := l.Resolve(ctx, entryID, moderatorID); err != nil {
		return err
	}
	l.logger.Info("entry reversed", zap.String("entry_id", entryID), zap.String("moderator_id", moderatorID))
	return nil
}

// Appeal decides an appeal against entryID. Approval resolves the entry.
// Either outcome is itself logged and returned.
func (l *Ledger) Appeal(ctx context.Context, entryID string, approved bool, moderatorID, notes string) (safety.LogEntry, error) {
	if moderatorID == "" {
		return safety.LogEntry{}, safety.NewValidationError("moderator_id", "required")
	}

	orig, err := l.store.GetLog(ctx, entryID)
	if err != nil {
		return safety.LogEntry{}, err
	}
	switch now := l.opts.Now(); {
	case !orig.IsActive():
		return safety.LogEntry{}, safety.ErrAlreadyResolved
	case !orig.Appealable:
		return safety.LogEntry{}, safety.NewValidationError("entry_id", "entry is not appealable")
	case !orig.CanAppeal(now):
		return safety.LogEntry{}, safety.ErrAppealExpired
	}

	action := safety.LogAppealRejected
	if approved {
		action = safety.LogAppealApproved
		if err := l.store.ResolveLog(ctx, entryID, moderatorID, l.opts.Now()); err != nil {
			return safety.LogEntry{}, err
		}
	}

	outcome := safety.LogEntry{
		UserID:      orig.UserID,
		TargetType:  "moderation_log",
		TargetID:    orig.ID,
		Action:      action,
		Reason:      notes,
		Severity:    orig.Severity,
		Category:    orig.Category,
		ModeratorID: moderatorID,
	}
	outcome, err = l.RecordAction(ctx, outcome)
	if err != nil {
		return outcome, err
	}

	l.logger.Info("appeal decided",
		zap.String("entry_id", entryID),
		zap.Bool("approved", approved),
		zap.String("moderator_id", moderatorID))
	return outcome, nil
}

// ManualBan permanently bans the user regardless of their strike count.
func (l *Ledger) ManualBan(ctx context.Context, userID, moderatorID, reason string) (safety.LogEntry, error) {
	if userID == "" {
		return safety.LogEntry{}, safety.NewValidationError("user_id", "required")
	}
	if moderatorID == "" {
		return safety.LogEntry{}, safety.NewValidationError("moderator_id", "required")
	}
	if reason == "" {
		return safety.LogEntry{}, safety.NewValidationError("reason", "required")
	}

	entry, _, err := l.appendNext(ctx, userID, func(int) safety.LogEntry {
		e := l.newEntry(userID, safety.LogUserBanned, moderatorID)
		e.TargetType = "user"
		e.TargetID = userID
		e.Category = safety.CategoryOther
		e.Severity = safety.SeverityCritical
		e.Reason = reason
		e.Confidence = 1
		return e
	})
	if err != nil {
		return safety.LogEntry{}, err
	}

	l.logger.Info("user banned", zap.String("user_id", userID), zap.String("moderator_id", moderatorID))
	return entry, nil
}

// ManualUnban resolves the user's active bans and returns how many it lifted.
func (l *Ledger) ManualUnban(ctx context.Context, userID, moderatorID string) (int, error) {
	if moderatorID == "" {
		return 0, safety.NewValidationError("moderator_id", "required")
	}

	unlock := l.lock(userID)
	defer unlock()

	entries, err := l.store.ListActiveLogs(ctx, userID)
	if err != nil {
		return 0, err
	}

	lifted := 0
	for _, e := range entries {
		if e.Action != safety.LogUserBanned && e.Action != safety.LogHardBan {
			continue
		}
		err := l.store.ResolveLog(ctx, e.ID, moderatorID, l.opts.Now())
		if errors.Is(err, safety.ErrAlreadyResolved) {
			continue
		}
		if err != nil {
			return lifted, err
		}
		lifted++
	}

	l.logger.Info("user unbanned", zap.String("user_id", userID), zap.Int("lifted", lifted))
	return lifted, nil
}

// History returns the user's entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]safety.LogEntry, error) {
	return l.store.ListLogs(ctx, userID, limit)
}
