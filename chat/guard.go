// Package chat guards the real-time tribe chat path.
//
// Every outgoing message passes CheckCanSend: a per-user rate limit, the
// sender's mute and shadowban state in the tribe, then profanity masking.
// Masked messages still go out but count as violations, and every third
// violation mutes the sender for a day.
package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/hooks"
	"github.com/heibot/safety/ledger"
	"github.com/heibot/safety/ratelimit"
	"github.com/heibot/safety/store"
	"github.com/heibot/safety/visibility"
)

// TribeDirectory answers role questions owned by the tribe service.
type TribeDirectory interface {
	IsCaptain(ctx context.Context, tribeID, userID string) (bool, error)

	// IsModerator reports platform-wide moderators.
	IsModerator(ctx context.Context, userID string) (bool, error)
}

// BlockChecker reports platform blocks in either direction.
type BlockChecker interface {
	IsBlocked(ctx context.Context, a, b string) (bool, error)
}

// Options configures a Guard.
type Options struct {
	Logger *zap.Logger

	// Limiter defaults to an in-memory limiter of ChatRateLimit messages per
	// ChatRateWindow. Multi-instance deployments pass ratelimit.Redis.
	Limiter ratelimit.Limiter

	Masker    *Masker
	Directory TribeDirectory
	Blocks    BlockChecker
	Hooks     hooks.Hooks

	// Ledger, when set, receives a user_muted entry for every mute.
	Ledger *ledger.Ledger

	// MuteEvery mutes a sender when their violation count reaches a multiple of it.
	MuteEvery int
	MuteFor   time.Duration

	Now func() time.Time
}

// Guard is the chat send-path guard and the tribe moderation surface.
type Guard struct {
	store  store.EnforcementStore
	logger *zap.Logger
	opts   Options
}

// New creates a guard over s.
func New(s store.EnforcementStore, opts Options) *Guard {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewMemory(ratelimit.Config{
			Limit:  safety.ChatRateLimit,
			Window: safety.ChatRateWindow,
		}, 100_000)
	}
	if opts.Masker == nil {
		opts.Masker = DefaultMasker()
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NopHooks{}
	}
	if opts.MuteEvery == 0 {
		opts.MuteEvery = safety.AutoMuteViolations
	}
	if opts.MuteFor == 0 {
		opts.MuteFor = safety.AutoMuteDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Guard{
		store:  s,
		logger: opts.Logger.Named("chat"),
		opts:   opts,
	}
}

// SendResult is the outcome of CheckCanSend.
type SendResult struct {
	Allowed bool

	// MaskedText is the text to deliver. It differs from the input when
	// listed words were masked.
	MaskedText string

	// Violation is true when masking changed the text.
	Violation bool

	// AutoMuted is true when this message's violation muted the sender.
	// The message itself is still delivered.
	AutoMuted bool

	RateLimit ratelimit.Result
}

// CheckCanSend runs the send-path checks for one message from userID in
// tribeID. Rejections are returned as errors: safety.ErrRateLimitExceeded,
// safety.ErrMuted or safety.ErrShadowbanned.
func (g *Guard) CheckCanSend(ctx context.Context, userID, tribeID, text string) (SendResult, error) {
	start := time.Now()
	defer func() { sendCheckDuration.Observe(time.Since(start).Seconds()) }()

	if userID == "" {
		return SendResult{}, safety.NewValidationError("user_id", "required")
	}
	if tribeID == "" {
		return SendResult{}, safety.NewValidationError("tribe_id", "required")
	}

	rl, err := g.opts.Limiter.Allow(ctx, "chat:"+userID)
	if err != nil {
		sendChecks.WithLabelValues("error").Inc()
		return SendResult{}, fmt.Errorf("chat rate limit for %s: %w", userID, err)
	}
	if !rl.Allowed {
		sendChecks.WithLabelValues("rate_limited").Inc()
		return SendResult{RateLimit: rl}, fmt.Errorf("%w: resets at %s", safety.ErrRateLimitExceeded, rl.ResetAt.UTC().Format(time.RFC3339))
	}

	state, err := g.store.GetEnforcement(ctx, userID, tribeID)
	if err != nil {
		sendChecks.WithLabelValues("error").Inc()
		return SendResult{}, err
	}
	now := g.opts.Now()
	if state.MutedAt(now) {
		sendChecks.WithLabelValues("muted").Inc()
		return SendResult{RateLimit: rl}, safety.ErrMuted
	}
	if state.ShadowbannedAt(now) {
		sendChecks.WithLabelValues("shadowbanned").Inc()
		return SendResult{RateLimit: rl}, safety.ErrShadowbanned
	}

	masked, changed := g.opts.Masker.Mask(text)
	res := SendResult{
		Allowed:    true,
		MaskedText: masked,
		Violation:  changed,
		RateLimit:  rl,
	}

	if changed {
		updated, muted, err := g.store.IncrementViolation(ctx, userID, tribeID, now, g.opts.MuteEvery, g.opts.MuteFor)
		if err != nil {
			sendChecks.WithLabelValues("error").Inc()
			return SendResult{}, err
		}
		g.logger.Debug("chat violation",
			zap.String("user_id", userID),
			zap.String("tribe_id", tribeID),
			zap.Int("violation_count", updated.ViolationCount))
		if muted {
			res.AutoMuted = true
			mutesApplied.WithLabelValues("automatic").Inc()
			g.announceMute(ctx, hooks.UserMutedEvent{
				UserID:    userID,
				TribeID:   tribeID,
				Reason:    safety.AutoMuteReason,
				Until:     updated.MutedUntil,
				Automatic: true,
				Timestamp: now,
			})
		}
	}

	if err := g.store.RecordMessage(ctx, userID, tribeID, now); err != nil {
		sendChecks.WithLabelValues("error").Inc()
		return SendResult{}, err
	}

	if changed {
		sendChecks.WithLabelValues("masked").Inc()
	} else {
		sendChecks.WithLabelValues("allowed").Inc()
	}
	return res, nil
}

// announceMute logs, records and fans out a mute. Failures are logged only;
// the mute itself is already stored.
func (g *Guard) announceMute(ctx context.Context, e hooks.UserMutedEvent) {
	g.logger.Info("user muted",
		zap.String("user_id", e.UserID),
		zap.String("tribe_id", e.TribeID),
		zap.String("muted_by", e.MutedBy),
		zap.Bool("automatic", e.Automatic))

	if g.opts.Ledger != nil {
		entry := safety.LogEntry{
			UserID:      e.UserID,
			TargetType:  "tribe",
			TargetID:    e.TribeID,
			Action:      safety.LogUserMuted,
			Reason:      e.Reason,
			Category:    safety.CategoryHarassment,
			Severity:    safety.SeverityMedium,
			ModeratorID: e.MutedBy,
			Appealable:  true,
			CreatedAt:   e.Timestamp,
		}
		if e.Automatic {
			entry.Confidence = 1
		}
		if _, err := g.opts.Ledger.RecordAction(ctx, entry); err != nil {
			g.logger.Warn("failed to record mute", zap.String("user_id", e.UserID), zap.Error(err))
		}
	}

	if err := g.opts.Hooks.OnUserMuted(ctx, e); err != nil {
		g.logger.Warn("mute hook failed", zap.String("user_id", e.UserID), zap.Error(err))
	}
}

// authorize allows tribe captains and platform moderators.
func (g *Guard) authorize(ctx context.Context, tribeID, actorID string) error {
	if actorID == "" {
		return safety.NewValidationError("actor_id", "required")
	}
	if g.opts.Directory == nil {
		return fmt.Errorf("%w: no tribe directory configured", safety.ErrPermissionDenied)
	}
	ok, err := g.opts.Directory.IsCaptain(ctx, tribeID, actorID)
	if err != nil {
		return fmt.Errorf("captain lookup: %w", err)
	}
	if ok {
		return nil
	}
	return g.requireModerator(ctx, actorID)
}

func (g *Guard) requireModerator(ctx context.Context, actorID string) error {
	if actorID == "" {
		return safety.NewValidationError("actor_id", "required")
	}
	if g.opts.Directory == nil {
		return fmt.Errorf("%w: no tribe directory configured", safety.ErrPermissionDenied)
	}
	ok, err := g.opts.Directory.IsModerator(ctx, actorID)
	if err != nil {
		return fmt.Errorf("moderator lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", safety.ErrPermissionDenied, actorID)
	}
	return nil
}

func (g *Guard) until(hours int) (*time.Time, error) {
	if hours < 0 {
		return nil, safety.NewValidationError("duration_hours", "must not be negative")
	}
	if hours == 0 {
		return nil, nil
	}
	t := g.opts.Now().Add(time.Duration(hours) * time.Hour)
	return &t, nil
}

func requireIDs(tribeID, userID string) error {
	if tribeID == "" {
		return safety.NewValidationError("tribe_id", "required")
	}
	if userID == "" {
		return safety.NewValidationError("user_id", "required")
	}
	return nil
}

// Mute mutes userID in tribeID for hours; zero hours mutes until lifted.
// mutedBy must be the tribe's captain or a platform moderator.
func (g *Guard) Mute(ctx context.Context, tribeID, userID, mutedBy string, hours int, reason string) error {
	if err := requireIDs(tribeID, userID); err != nil {
		return err
	}
	if reason == "" {
		return safety.NewValidationError("reason", "required")
	}
	if userID == mutedBy {
		return safety.NewValidationError("user_id", "cannot mute yourself")
	}
	until, err := g.until(hours)
	if err != nil {
		return err
	}
	if err := g.authorize(ctx, tribeID, mutedBy); err != nil {
		return err
	}

	if err := g.store.SetMute(ctx, userID, tribeID, until, mutedBy, reason); err != nil {
		return err
	}
	mutesApplied.WithLabelValues("manual").Inc()
	g.announceMute(ctx, hooks.UserMutedEvent{
		UserID:    userID,
		TribeID:   tribeID,
		MutedBy:   mutedBy,
		Reason:    reason,
		Until:     until,
		Timestamp: g.opts.Now(),
	})
	return nil
}

// Unmute lifts a mute.
func (g *Guard) Unmute(ctx context.Context, tribeID, userID, by string) error {
	if err := requireIDs(tribeID, userID); err != nil {
		return err
	}
	if err := g.authorize(ctx, tribeID, by); err != nil {
		return err
	}
	if err := g.store.ClearMute(ctx, userID, tribeID); err != nil {
		return err
	}
	g.logger.Info("user unmuted", zap.String("user_id", userID), zap.String("tribe_id", tribeID), zap.String("by", by))
	return nil
}

// Shadowban restricts userID in tribeID without telling them: their sends
// are rejected and their earlier messages are hidden from everyone else.
// Only platform moderators may shadowban. The tribe is told through a
// shadowban event; the user gets no notification.
func (g *Guard) Shadowban(ctx context.Context, tribeID, userID, by string, hours int, reason string) error {
	if err := requireIDs(tribeID, userID); err != nil {
		return err
	}
	if reason == "" {
		return safety.NewValidationError("reason", "required")
	}
	until, err := g.until(hours)
	if err != nil {
		return err
	}
	if err := g.requireModerator(ctx, by); err != nil {
		return err
	}
	if err := g.store.SetShadowban(ctx, userID, tribeID, until, reason); err != nil {
		return err
	}
	g.logger.Info("user shadowbanned",
		zap.String("user_id", userID),
		zap.String("tribe_id", tribeID),
		zap.String("by", by),
		zap.Int("hours", hours))
	g.fireShadowban(ctx, hooks.UserShadowbannedEvent{
		UserID:    userID,
		TribeID:   tribeID,
		By:        by,
		Reason:    reason,
		Until:     until,
		Timestamp: g.opts.Now(),
	})
	return nil
}

// LiftShadowban removes a shadowban.
func (g *Guard) LiftShadowban(ctx context.Context, tribeID, userID, by string) error {
	if err := requireIDs(tribeID, userID); err != nil {
		return err
	}
	if err := g.requireModerator(ctx, by); err != nil {
		return err
	}
	if err := g.store.ClearShadowban(ctx, userID, tribeID); err != nil {
		return err
	}
	g.logger.Info("shadowban lifted", zap.String("user_id", userID), zap.String("tribe_id", tribeID), zap.String("by", by))
	g.fireShadowban(ctx, hooks.UserShadowbannedEvent{
		UserID:    userID,
		TribeID:   tribeID,
		By:        by,
		Lifted:    true,
		Timestamp: g.opts.Now(),
	})
	return nil
}

func (g *Guard) fireShadowban(ctx context.Context, e hooks.UserShadowbannedEvent) {
	if err := g.opts.Hooks.OnUserShadowbanned(ctx, e); err != nil {
		g.logger.Warn("shadowban hook failed", zap.String("user_id", e.UserID), zap.Error(err))
	}
}

// BlockInTribe hides blockedUserID's messages from userID in tribeID.
func (g *Guard) BlockInTribe(ctx context.Context, tribeID, userID, blockedUserID string) error {
	if err := requireIDs(tribeID, userID); err != nil {
		return err
	}
	if blockedUserID == "" {
		return safety.NewValidationError("blocked_user_id", "required")
	}
	if blockedUserID == userID {
		return safety.NewValidationError("blocked_user_id", "cannot block yourself")
	}
	return g.store.AddTribeBlock(ctx, userID, tribeID, blockedUserID)
}

// UnblockInTribe reverses BlockInTribe.
func (g *Guard) UnblockInTribe(ctx context.Context, tribeID, userID, blockedUserID string) error {
	if err := requireIDs(tribeID, userID); err != nil {
		return err
	}
	return g.store.RemoveTribeBlock(ctx, userID, tribeID, blockedUserID)
}

// SetNotificationSettings replaces userID's chat notification preferences
// in tribeID.
func (g *Guard) SetNotificationSettings(ctx context.Context, tribeID, userID string, settings safety.NotificationSettings) error {
	if err := requireIDs(tribeID, userID); err != nil {
		return err
	}
	return g.store.SetNotificationSettings(ctx, userID, tribeID, settings)
}

// State returns userID's enforcement state in tribeID.
func (g *Guard) State(ctx context.Context, tribeID, userID string) (safety.ChatEnforcementState, error) {
	if err := requireIDs(tribeID, userID); err != nil {
		return safety.ChatEnforcementState{}, err
	}
	return g.store.GetEnforcement(ctx, userID, tribeID)
}

// CanView reports whether viewerID sees senderID's messages in tribeID.
func (g *Guard) CanView(ctx context.Context, tribeID, senderID, viewerID string, role visibility.ViewerRole) (bool, error) {
	sender, err := g.State(ctx, tribeID, senderID)
	if err != nil {
		return false, err
	}

	viewer := visibility.Viewer{UserID: viewerID, Role: role}
	if role != visibility.ViewerAdmin && viewerID != senderID {
		vs, err := g.State(ctx, tribeID, viewerID)
		if err != nil {
			return false, err
		}
		viewer.TribeBlocks = vs.BlockedUsers

		if g.opts.Blocks != nil {
			blocked, err := g.opts.Blocks.IsBlocked(ctx, viewerID, senderID)
			if err != nil {
				return false, err
			}
			viewer.Blocked = blocked
		}
	}
	return visibility.CanViewMessage(sender, viewer, g.opts.Now()), nil
}
