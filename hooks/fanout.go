package hooks

import (
	"context"
	"errors"
	"fmt"

	safety "github.com/heibot/safety"
)

// Publisher hands events to the real-time transport.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Notifier delivers push notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// FanOut turns moderation events into transport events and user
// notifications. Either side may be nil.
type FanOut struct {
	Publisher Publisher
	Notifier  Notifier
}

var _ Hooks = FanOut{}

func (f FanOut) deliver(ctx context.Context, e Event, n *Notification) error {
	var errs []error
	if f.Publisher != nil {
		if err := f.Publisher.Publish(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", e.Type, err))
		}
	}
	if f.Notifier != nil && n != nil {
		if err := f.Notifier.Notify(ctx, *n); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", n.Type, err))
		}
	}
	return errors.Join(errs...)
}

func logDeeplink(entry *safety.LogEntry) string {
	if entry == nil {
		return ""
	}
	return "/safety/log/" + entry.ID
}

// OnContentBlocked publishes to the user and tells them why.
func (f FanOut) OnContentBlocked(ctx context.Context, e ContentBlockedEvent) error {
	payload := map[string]any{
		"content_type": e.ContentType,
		"violations":   e.Decision.Violations,
		"confidence":   e.Decision.Confidence,
	}
	if e.Entry != nil {
		payload["entry_id"] = e.Entry.ID
	}

	reason := "it broke the community guidelines"
	if len(e.Decision.Violations) > 0 {
		reason = e.Decision.Violations[0]
	}
	n := &Notification{
		UserID:   e.UserID,
		Type:     string(EventDecisionBlocked),
		Title:    "Content not allowed",
		Message:  fmt.Sprintf("Your %s was not allowed: %s", e.ContentType, reason),
		Deeplink: logDeeplink(e.Entry),
	}
	return f.deliver(ctx, NewEvent(EventDecisionBlocked, safety.ScopeUser, e.UserID, payload, e.Timestamp), n)
}

var strikeTitles = map[safety.LogAction]string{
	safety.LogWarning:    "Warning",
	safety.LogSoftBlock:  "Temporarily restricted",
	safety.LogHardBan:    "Suspended for 7 days",
	safety.LogUserBanned: "Account banned",
}

// OnStrikeRecorded publishes the ladder step to the user.
func (f FanOut) OnStrikeRecorded(ctx context.Context, e StrikeRecordedEvent) error {
	payload := map[string]any{
		"entry_id":     e.Entry.ID,
		"action":       e.Strike.Action,
		"strike_count": e.Strike.StrikeCount,
		"permanent":    e.Strike.IsPermanent(),
		"appealable":   e.Entry.Appealable,
	}
	if !e.Strike.IsPermanent() {
		payload["cooldown_seconds"] = int64(e.Strike.Cooldown.Seconds())
	}

	n := &Notification{
		UserID:   e.Entry.UserID,
		Type:     string(EventStrikeRecorded),
		Title:    strikeTitles[e.Strike.Action],
		Message:  e.Strike.Reason,
		Deeplink: logDeeplink(&e.Entry),
	}
	return f.deliver(ctx, NewEvent(EventStrikeRecorded, safety.ScopeUser, e.Entry.UserID, payload, e.Timestamp), n)
}

// OnReportEscalated publishes against the reported user. Reporters are not
// notified.
func (f FanOut) OnReportEscalated(ctx context.Context, e ReportEscalatedEvent) error {
	payload := map[string]any{
		"primary_report_id": e.PrimaryReportID,
		"target_type":       e.Target.TargetType,
		"target_id":         e.Target.TargetID,
		"reporters":         e.Reporters,
		"dismissed":         e.Dismissed,
		"priority":          e.Priority,
	}
	return f.deliver(ctx, NewEvent(EventReportEscalated, safety.ScopeUser, e.Target.TargetUserID, payload, e.Timestamp), nil)
}

// OnUserMuted publishes to the tribe so every member's client updates, and
// notifies the muted user.
func (f FanOut) OnUserMuted(ctx context.Context, e UserMutedEvent) error {
	payload := map[string]any{
		"user_id":   e.UserID,
		"reason":    e.Reason,
		"automatic": e.Automatic,
	}
	if e.Until != nil {
		payload["until"] = e.Until.UnixMilli()
	}

	msg := "You were muted in this tribe: " + e.Reason
	if e.Until != nil {
		msg += fmt.Sprintf(" (until %s)", e.Until.UTC().Format("2006-01-02 15:04 MST"))
	}
	n := &Notification{
		UserID:   e.UserID,
		Type:     string(EventUserMuted),
		Title:    "Muted",
		Message:  msg,
		Deeplink: "/tribes/" + e.TribeID + "/chat",
	}
	return f.deliver(ctx, NewEvent(EventUserMuted, safety.ScopeTribe, e.TribeID, payload, e.Timestamp), n)
}

// OnUserShadowbanned publishes to the tribe so clients stop or resume
// showing the user's messages. The user is never notified.
func (f FanOut) OnUserShadowbanned(ctx context.Context, e UserShadowbannedEvent) error {
	typ := EventUserShadowbanned
	payload := map[string]any{"user_id": e.UserID}
	if e.Lifted {
		typ = EventShadowbanLifted
	} else if e.Until != nil {
		payload["until"] = e.Until.UnixMilli()
	}
	return f.deliver(ctx, NewEvent(typ, safety.ScopeTribe, e.TribeID, payload, e.Timestamp), nil)
}
