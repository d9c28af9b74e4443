// Package hooks provides the hook interface for moderation events and the
// fan-out contracts they are delivered through.
package hooks

import (
	"context"
)

// Hooks defines the interface for handling moderation events.
// Implementations must not block; the caller treats errors as best-effort.
type Hooks interface {
	// OnContentBlocked is called when content is denied.
	OnContentBlocked(ctx context.Context, e ContentBlockedEvent) error

	// OnStrikeRecorded is called when a strike is appended to a user's ledger.
	OnStrikeRecorded(ctx context.Context, e StrikeRecordedEvent) error

	// OnReportEscalated is called when reports on a target are collapsed.
	OnReportEscalated(ctx context.Context, e ReportEscalatedEvent) error

	// OnUserMuted is called when a user is muted in a tribe.
	OnUserMuted(ctx context.Context, e UserMutedEvent) error

	// OnUserShadowbanned is called when a shadowban is applied or lifted.
	OnUserShadowbanned(ctx context.Context, e UserShadowbannedEvent) error
}

// NopHooks is a no-op implementation of Hooks.
type NopHooks struct{}

// OnContentBlocked does nothing.
func (NopHooks) OnContentBlocked(ctx context.Context, e ContentBlockedEvent) error {
	return nil
}

// OnStrikeRecorded does nothing.
func (NopHooks) OnStrikeRecorded(ctx context.Context, e StrikeRecordedEvent) error {
	return nil
}

// OnReportEscalated does nothing.
func (NopHooks) OnReportEscalated(ctx context.Context, e ReportEscalatedEvent) error {
	return nil
}

// OnUserMuted does nothing.
func (NopHooks) OnUserMuted(ctx context.Context, e UserMutedEvent) error {
	return nil
}

// OnUserShadowbanned does nothing.
func (NopHooks) OnUserShadowbanned(ctx context.Context, e UserShadowbannedEvent) error {
	return nil
}

// Ensure NopHooks implements Hooks.
var _ Hooks = NopHooks{}

// ChainHooks chains multiple Hooks implementations.
type ChainHooks []Hooks

// OnContentBlocked calls all hooks in order.
func (ch ChainHooks) OnContentBlocked(ctx context.Context, e ContentBlockedEvent) error {
	for _, h := range ch {
		if err := h.OnContentBlocked(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnStrikeRecorded calls all hooks in order.
func (ch ChainHooks) OnStrikeRecorded(ctx context.Context, e StrikeRecordedEvent) error {
	for _, h := range ch {
		if err := h.OnStrikeRecorded(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnReportEscalated calls all hooks in order.
func (ch ChainHooks) OnReportEscalated(ctx context.Context, e ReportEscalatedEvent) error {
	for _, h := range ch {
		if err := h.OnReportEscalated(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnUserMuted calls all hooks in order.
func (ch ChainHooks) OnUserMuted(ctx context.Context, e UserMutedEvent) error {
	for _, h := range ch {
		if err := h.OnUserMuted(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// OnUserShadowbanned calls all hooks in order.
func (ch ChainHooks) OnUserShadowbanned(ctx context.Context, e UserShadowbannedEvent) error {
	for _, h := range ch {
		if err := h.OnUserShadowbanned(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FuncHooks allows using functions as hooks.
type FuncHooks struct {
	OnContentBlockedFunc  func(ctx context.Context, e ContentBlockedEvent) error
	OnStrikeRecordedFunc  func(ctx context.Context, e StrikeRecordedEvent) error
	OnReportEscalatedFunc func(ctx context.Context, e ReportEscalatedEvent) error
	OnUserMutedFunc       func(ctx context.Context, e UserMutedEvent) error

	OnUserShadowbannedFunc func(ctx context.Context, e UserShadowbannedEvent) error
}

// OnContentBlocked calls the function if set.
func (fh FuncHooks) OnContentBlocked(ctx context.Context, e ContentBlockedEvent) error {
	if fh.OnContentBlockedFunc != nil {
		return fh.OnContentBlockedFunc(ctx, e)
	}
	return nil
}

// OnStrikeRecorded calls the function if set.
func (fh FuncHooks) OnStrikeRecorded(ctx context.Context, e StrikeRecordedEvent) error {
	if fh.OnStrikeRecordedFunc != nil {
		return fh.OnStrikeRecordedFunc(ctx, e)
	}
	return nil
}

// OnReportEscalated calls the function if set.
func (fh FuncHooks) OnReportEscalated(ctx context.Context, e ReportEscalatedEvent) error {
	if fh.OnReportEscalatedFunc != nil {
		return fh.OnReportEscalatedFunc(ctx, e)
	}
	return nil
}

// OnUserMuted calls the function if set.
func (fh FuncHooks) OnUserMuted(ctx context.Context, e UserMutedEvent) error {
	if fh.OnUserMutedFunc != nil {
		return fh.OnUserMutedFunc(ctx, e)
	}
	return nil
}

// OnUserShadowbanned calls the function if set.
func (fh FuncHooks) OnUserShadowbanned(ctx context.Context, e UserShadowbannedEvent) error {
	if fh.OnUserShadowbannedFunc != nil {
		return fh.OnUserShadowbannedFunc(ctx, e)
	}
	return nil
}
