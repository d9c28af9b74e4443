package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/chat"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/hooks"
	"github.com/heibot/safety/ledger"
	"github.com/heibot/safety/policy"
	"github.com/heibot/safety/utils"
)

// ServiceErrorCode is the violation reported when a classifier was unavailable.
const ServiceErrorCode = "service_error"

var serviceError = policy.Violation{
	Code:     ServiceErrorCode,
	Category: safety.CategoryOther,
	Severity: safety.SeverityMedium,
}

// Content is the payload of one evaluation. Image profiles read Image (and
// optionally ImageURL for backends that fetch); text profiles read Text.
type Content struct {
	Text     string
	Image    []byte
	ImageURL string

	// TargetID identifies the content on the log entry of a denial.
	TargetID string
}

// Client is the moderation orchestrator.
type Client struct {
	ledger      *ledger.Ledger
	hooks       hooks.Hooks
	classifiers classifiers
	rules       policy.Rules
	masker      Masker
	logger      *zap.Logger
	opts        Options
}

// New creates a new moderation client.
func New(opts Options) (*Client, error) {
	if opts.Store == nil && opts.Ledger == nil {
		return nil, safety.ErrStoreNotConfigured
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.NopHooks{}
	}
	if opts.Resilient.Timeout == 0 {
		opts.Resilient = classifier.DefaultResilientConfig()
	}
	if opts.Resilient.Logger == nil {
		opts.Resilient.Logger = classifier.NewZapLogger(opts.Logger)
	}
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.New(opts.Store, ledger.Options{Logger: opts.Logger, Now: opts.Now})
	}

	rules := policy.DefaultRules()
	if opts.Rules != nil {
		rules = *opts.Rules
	}
	masker := opts.Masker
	if masker == nil {
		masker = chat.DefaultMasker()
	}

	c := &Client{
		ledger:      opts.Ledger,
		hooks:       opts.Hooks,
		classifiers: newClassifiers(opts),
		rules:       rules,
		masker:      masker,
		logger:      opts.Logger.Named("client"),
		opts:        opts,
	}
	if c.classifiers.empty() {
		c.logger.Warn("no classifiers configured, every evaluation will be denied")
	}
	return c, nil
}

// evaluation is a decision before any side effect.
type evaluation struct {
	decision safety.Decision
	leading  policy.Violation

	// unavailable is the classifier error that forced a denial.
	unavailable error

	hash string
}

func validate(content Content, ct safety.ContentType, userID string) (*classifier.ImageMeta, error) {
	if userID == "" {
		return nil, safety.NewValidationError("user_id", "required")
	}
	if !ct.Valid() {
		return nil, safety.NewValidationError("content_type", fmt.Sprintf("unknown content type %q", ct))
	}
	if ct == safety.ContentImageUpload {
		meta, err := classifier.InspectImage(content.Image)
		if err != nil {
			return nil, err
		}
		return &meta, nil
	}
	if strings.TrimSpace(content.Text) == "" {
		return nil, safety.NewValidationError("text", "empty payload")
	}
	return nil, nil
}

// evaluate decides without recording anything. Identical content and
// classifier output always produce the same decision.
func (c *Client) evaluate(ctx context.Context, content Content, ct safety.ContentType, userID string) (evaluation, error) {
	meta, err := validate(content, ct, userID)
	if err != nil {
		return evaluation{}, err
	}

	sig, clsErr := c.classifiers.signals(ctx, ct, content, userID, meta, c.rules.Image.RequireFace)
	if clsErr != nil {
		// scores of a failed call are placeholders; judge on structure only
		sig.Scores = nil
		classifierFailures.WithLabelValues(string(ct)).Inc()
		c.logger.Warn("classifier unavailable, denying",
			zap.String("user_id", userID),
			zap.String("content_type", string(ct)),
			zap.Error(clsErr))
	}

	res, err := c.rules.Evaluate(ct, sig)
	if err != nil {
		return evaluation{}, err
	}

	ev := evaluation{unavailable: clsErr, hash: contentHash(content, ct)}
	violations := res.Violations
	if clsErr != nil {
		violations = append([]policy.Violation{serviceError}, violations...)
		ev.leading = serviceError
	} else if lead, ok := res.Leading(); ok {
		ev.leading = lead
	}

	codes := make([]string, len(violations))
	for i, v := range violations {
		codes[i] = v.Code
	}

	d := safety.Decision{
		Allowed:    len(violations) == 0,
		Violations: codes,
		Warnings:   res.Warnings,
		Action:     res.Action,
	}
	switch {
	case !d.Allowed:
		d.Action = safety.ActionBlock
		d.Confidence = ev.leading.Score
		if d.Confidence == 0 {
			d.Confidence = 1
		}
	default:
		_, top := sig.Scores.Max()
		d.Confidence = 1 - top
	}
	ev.decision = d
	return ev, nil
}

// EvaluateContent decides whether userID may publish content as ct.
//
// Validation failures are returned as *safety.ValidationError without a
// decision. A denial is recorded against the user's ledger; if recording
// fails the denial is still returned, together with an error matching
// safety.ErrPersistence. Event and notification failures are logged only.
func (c *Client) EvaluateContent(ctx context.Context, content Content, ct safety.ContentType, userID string) (safety.Decision, error) {
	start := time.Now()
	defer func() { evaluationDuration.WithLabelValues(string(ct)).Observe(time.Since(start).Seconds()) }()

	ev, err := c.evaluate(ctx, content, ct, userID)
	if err != nil {
		return safety.Decision{}, err
	}
	decisionCount.WithLabelValues(string(ct), string(ev.decision.Action)).Inc()

	if ev.decision.Allowed {
		return ev.decision, nil
	}

	return c.recordDenial(ctx, userID, ct, content.TargetID, ev)
}

// recordDenial logs a denial and fans it out. Safety violations count as
// strikes; structural rejections and classifier outages are logged as
// blocked content without a strike.
func (c *Client) recordDenial(ctx context.Context, userID string, ct safety.ContentType, targetID string, ev evaluation) (safety.Decision, error) {
	d := ev.decision
	now := c.opts.Now()

	sctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
	defer cancel()

	meta := map[string]any{
		"content_type": string(ct),
		"violations":   d.Violations,
		"content_hash": ev.hash,
	}

	var (
		entry safety.LogEntry
		step  safety.StrikeAction
		err   error
	)
	if ev.leading.Category == safety.CategoryOther {
		action := safety.LogBlockedText
		if ct == safety.ContentImageUpload {
			action = safety.LogBlockedImage
		}
		entry, err = c.ledger.RecordAction(sctx, safety.LogEntry{
			UserID:     userID,
			TargetType: string(ct),
			TargetID:   targetID,
			Action:     action,
			Reason:     ev.leading.Code,
			Severity:   ev.leading.Severity,
			Category:   ev.leading.Category,
			Confidence: d.Confidence,
			Metadata:   meta,
			Appealable: ev.unavailable == nil,
			CreatedAt:  now,
		})
	} else {
		entry, step, err = c.ledger.RecordViolation(sctx, ledger.Violation{
			UserID:     userID,
			TargetType: string(ct),
			TargetID:   targetID,
			Category:   ev.leading.Category,
			Severity:   ev.leading.Severity,
			Reason:     strings.Join(d.Violations, ","),
			Confidence: d.Confidence,
			Metadata:   meta,
		})
		if err == nil {
			d.Strike = &step
		}
	}
	if err != nil {
		sideEffectFailures.WithLabelValues("log").Inc()
		c.logger.Error("failed to record denial",
			zap.String("user_id", userID),
			zap.String("content_type", string(ct)),
			zap.Error(err))
		if !errors.Is(err, safety.ErrPersistence) && !safety.IsValidationError(err) {
			err = safety.NewStoreError("record", "moderation_log", err)
		}
		return d, fmt.Errorf("record denial for %s: %w", userID, err)
	}

	c.logger.Info("content blocked",
		zap.String("user_id", userID),
		zap.String("content_type", string(ct)),
		zap.String("entry_id", entry.ID),
		zap.Strings("violations", d.Violations))

	c.fireContentBlocked(ctx, userID, ct, d, &entry, now)
	if d.Strike != nil {
		c.fireStrikeRecorded(ctx, entry, *d.Strike, now)
	}
	return d, nil
}

func (c *Client) fireContentBlocked(ctx context.Context, userID string, ct safety.ContentType, d safety.Decision, entry *safety.LogEntry, at time.Time) {
	err := c.hooks.OnContentBlocked(ctx, hooks.ContentBlockedEvent{
		UserID:      userID,
		ContentType: ct,
		Decision:    d,
		Entry:       entry,
		Timestamp:   at,
	})
	if err != nil {
		sideEffectFailures.WithLabelValues("hook").Inc()
		c.logger.Warn("content blocked hook failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (c *Client) fireStrikeRecorded(ctx context.Context, entry safety.LogEntry, step safety.StrikeAction, at time.Time) {
	err := c.hooks.OnStrikeRecorded(ctx, hooks.StrikeRecordedEvent{
		Entry:     entry,
		Strike:    step,
		Timestamp: at,
	})
	if err != nil {
		sideEffectFailures.WithLabelValues("hook").Inc()
		c.logger.Warn("strike hook failed", zap.String("user_id", entry.UserID), zap.Error(err))
	}
}

// Sanitize masks listed words with an equal-length mask. It is a display
// transform, not a safety decision: sanitized text has not been evaluated.
func (c *Client) Sanitize(text string) (string, bool) {
	return c.masker.Mask(text)
}

// Ledger returns the strike ledger denials are recorded in.
func (c *Client) Ledger() *ledger.Ledger {
	return c.ledger
}

// contentHash fingerprints content for log metadata.
func contentHash(content Content, ct safety.ContentType) string {
	if ct == safety.ContentImageUpload {
		return utils.HashBytes(content.Image)
	}
	return utils.HashText(content.Text)
}
