package safety

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogEntry_CountsAsStrike(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	tests := []struct {
		name   string
		entry  LogEntry
		strike bool
	}{
		{"active warning", LogEntry{Action: LogWarning}, true},
		{"active ban", LogEntry{Action: LogUserBanned}, true},
		{"resolved warning", LogEntry{Action: LogWarning, ResolvedAt: &now}, false},
		{"blocked image is not a strike", LogEntry{Action: LogBlockedImage}, false},
		{"muted is not a strike", LogEntry{Action: LogUserMuted}, false},
	}

	for _, tt := range tests {
		assert.Equal(tt.strike, tt.entry.CountsAsStrike(), tt.name)
	}
}

func TestLogEntry_InCooldown(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()

	soft := LogEntry{Action: LogSoftBlock, CreatedAt: now.Add(-23 * time.Hour)}
	assert.True(soft.InCooldown(now))
	soft.CreatedAt = now.Add(-25 * time.Hour)
	assert.False(soft.InCooldown(now))

	warning := LogEntry{Action: LogWarning, CreatedAt: now}
	assert.False(warning.InCooldown(now))

	banned := LogEntry{Action: LogUserBanned, CreatedAt: now.Add(-10 * 365 * 24 * time.Hour)}
	assert.True(banned.InCooldown(now))

	resolved := now
	banned.ResolvedAt = &resolved
	assert.False(banned.InCooldown(now))
}

func TestLogEntry_CanAppeal(t *testing.T) {
	now := time.Now()
	e := LogEntry{Appealable: true, AppealDeadline: now.Add(time.Hour)}
	assert.True(t, e.CanAppeal(now))
	assert.False(t, e.CanAppeal(now.Add(2*time.Hour)))

	e.Appealable = false
	assert.False(t, e.CanAppeal(now))
}

func TestChatEnforcementState_CanSendMessage(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(ChatEnforcementState{}.CanSendMessage(now))
	assert.False(ChatEnforcementState{IsMuted: true, MutedUntil: &future}.CanSendMessage(now))
	assert.True(ChatEnforcementState{IsMuted: true, MutedUntil: &past}.CanSendMessage(now), "lapsed mute")
	assert.False(ChatEnforcementState{IsMuted: true}.CanSendMessage(now), "open-ended mute")
	assert.False(ChatEnforcementState{IsShadowbanned: true, ShadowbanUntil: &future}.CanSendMessage(now))
	assert.True(ChatEnforcementState{IsShadowbanned: true, ShadowbanUntil: &past}.CanSendMessage(now))
}

func TestErrors_Taxonomy(t *testing.T) {
	assert := assert.New(t)

	assert.ErrorIs(ErrAlreadyBlocked, ErrDuplicateActive)
	assert.ErrorIs(ErrDuplicateReport, ErrDuplicateActive)

	se := NewStoreError("insert", "moderation_log", errors.New("disk full"))
	wrapped := fmt.Errorf("record: %w", se)
	assert.ErrorIs(wrapped, ErrPersistence)
	assert.True(IsStoreError(wrapped))
	assert.Equal(ErrorCategoryStore, GetErrorCategory(wrapped))

	assert.True(IsValidationError(NewValidationError("reason", "required")))
	assert.Equal(ErrorCategoryValidation, GetErrorCategory(NewValidationError("reason", "required")))

	pe := NewProviderError("remote", "503", "unavailable").WithStatusCode(503)
	assert.True(IsRetryable(pe))
	assert.False(IsRetryable(NewProviderError("remote", "403", "forbidden").WithStatusCode(403)))
	assert.True(IsRetryable(ErrRevisionConflict))
	assert.True(IsRetryable(WrapNetworkError(errors.New("dial tcp: connection refused"))))
}
