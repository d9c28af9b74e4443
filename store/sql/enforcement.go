package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bytedance/sonic"

	safety "github.com/heibot/safety"
)

const enforcementColumns = `user_id, tribe_id, is_muted, muted_until, muted_by, mute_reason, is_shadowbanned,
              shadowban_until, shadowban_reason, violation_count, last_violation_at, message_count,
              last_message_at, blocked_users, notification_settings`

func freshState(userID, tribeID string) safety.ChatEnforcementState {
	return safety.ChatEnforcementState{
		UserID:               userID,
		TribeID:              tribeID,
		BlockedUsers:         []string{},
		NotificationSettings: safety.DefaultNotificationSettings(),
	}
}

func scanEnforcement(row rowScanner) (safety.ChatEnforcementState, error) {
	var (
		st                                            safety.ChatEnforcementState
		mutedUntil, shadowbanUntil, lastViol, lastMsg sql.NullInt64
		blocked, settings                             sql.NullString
	)
	err := row.Scan(&st.UserID, &st.TribeID, &st.IsMuted, &mutedUntil, &st.MutedBy, &st.MuteReason,
		&st.IsShadowbanned, &shadowbanUntil, &st.ShadowbanReason, &st.ViolationCount, &lastViol,
		&st.MessageCount, &lastMsg, &blocked, &settings)
	if err != nil {
		return st, err
	}

	st.MutedUntil = fromNullMillis(mutedUntil)
	st.ShadowbanUntil = fromNullMillis(shadowbanUntil)
	st.LastViolationAt = fromNullMillis(lastViol)
	st.LastMessageAt = fromNullMillis(lastMsg)

	st.BlockedUsers = []string{}
	if blocked.Valid && blocked.String != "" {
		if err := sonic.UnmarshalString(blocked.String, &st.BlockedUsers); err != nil {
			return st, err
		}
	}
	st.NotificationSettings = safety.DefaultNotificationSettings()
	if settings.Valid && settings.String != "" {
		if err := sonic.UnmarshalString(settings.String, &st.NotificationSettings); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (s *Store) getEnforcement(ctx context.Context, userID, tribeID string, lock bool) (safety.ChatEnforcementState, error) {
	query := `SELECT ` + enforcementColumns + ` FROM chat_enforcement WHERE user_id = ? AND tribe_id = ?`
	if lock {
		query += s.forUpdate()
	}

	st, err := scanEnforcement(s.conn.QueryRowContext(ctx, s.rebind(query), userID, tribeID))
	if errors.Is(err, sql.ErrNoRows) {
		return freshState(userID, tribeID), nil
	}
	if err != nil {
		return st, safety.NewStoreError("get", "chat_enforcement", err)
	}
	return st, nil
}

// ensureEnforcement creates the (user, tribe) row if it does not exist yet.
func (s *Store) ensureEnforcement(ctx context.Context, userID, tribeID string) error {
	settings, err := sonic.MarshalString(safety.DefaultNotificationSettings())
	if err != nil {
		return safety.NewStoreError("marshal", "chat_enforcement", err)
	}
	query := s.insertIgnore("chat_enforcement", "user_id, tribe_id, blocked_users, notification_settings", "user_id, tribe_id", 4)
	if _, err := s.conn.ExecContext(ctx, query, userID, tribeID, "[]", settings); err != nil {
		return safety.NewStoreError("insert", "chat_enforcement", err)
	}
	return nil
}

// updateEnforcement ensures the row exists and applies set to it.
func (s *Store) updateEnforcement(ctx context.Context, userID, tribeID, set string, args ...any) error {
	if err := s.ensureEnforcement(ctx, userID, tribeID); err != nil {
		return err
	}
	args = append(args, userID, tribeID)
	query := s.rebind(`UPDATE chat_enforcement SET ` + set + ` WHERE user_id = ? AND tribe_id = ?`)
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return safety.NewStoreError("update", "chat_enforcement", err)
	}
	return nil
}

// GetEnforcement returns the stored state or a fresh one.
func (s *Store) GetEnforcement(ctx context.Context, userID, tribeID string) (safety.ChatEnforcementState, error) {
	return s.getEnforcement(ctx, userID, tribeID, false)
}

// IncrementViolation increments the violation count in place and applies
// the automatic mute in the same UPDATE when the new count is a multiple of
// muteEvery. violation_count is assigned last so every CASE sees the old
// value on MySQL as well.
func (s *Store) IncrementViolation(ctx context.Context, userID, tribeID string, at time.Time, muteEvery int, muteFor time.Duration) (safety.ChatEnforcementState, bool, error) {
	var (
		st    safety.ChatEnforcementState
		muted bool
	)
	err := s.inTx(ctx, func(tx *Store) error {
		if err := tx.ensureEnforcement(ctx, userID, tribeID); err != nil {
			return err
		}

		set := `last_violation_at = ?, violation_count = violation_count + 1`
		args := []any{millis(at)}
		if muteEvery > 0 {
			cond := fmt.Sprintf("(violation_count + 1) %% %d = 0", muteEvery)
			set = fmt.Sprintf(`is_muted = CASE WHEN %[1]s THEN ? ELSE is_muted END,
              muted_until = CASE WHEN %[1]s THEN ? ELSE muted_until END,
              muted_by = CASE WHEN %[1]s THEN '' ELSE muted_by END,
              mute_reason = CASE WHEN %[1]s THEN ? ELSE mute_reason END, `, cond) + set
			args = append([]any{true, millis(at.Add(muteFor)), safety.AutoMuteReason}, args...)
		}
		args = append(args, userID, tribeID)

		query := tx.rebind(`UPDATE chat_enforcement SET ` + set + ` WHERE user_id = ? AND tribe_id = ?`)
		if _, err := tx.conn.ExecContext(ctx, query, args...); err != nil {
			return safety.NewStoreError("update", "chat_enforcement", err)
		}

		var err error
		st, err = tx.getEnforcement(ctx, userID, tribeID, false)
		if err != nil {
			return err
		}
		muted = muteEvery > 0 && st.ViolationCount%muteEvery == 0
		return nil
	})
	if err != nil {
		return safety.ChatEnforcementState{}, false, err
	}
	return st, muted, nil
}

// RecordMessage increments the message count in place.
func (s *Store) RecordMessage(ctx context.Context, userID, tribeID string, at time.Time) error {
	return s.updateEnforcement(ctx, userID, tribeID,
		`message_count = message_count + 1, last_message_at = ?`, millis(at))
}

// SetMute mutes the user in the tribe.
func (s *Store) SetMute(ctx context.Context, userID, tribeID string, until *time.Time, mutedBy, reason string) error {
	return s.updateEnforcement(ctx, userID, tribeID,
		`is_muted = ?, muted_until = ?, muted_by = ?, mute_reason = ?`, true, nullMillis(until), mutedBy, reason)
}

// ClearMute lifts any mute.
func (s *Store) ClearMute(ctx context.Context, userID, tribeID string) error {
	return s.updateEnforcement(ctx, userID, tribeID,
		`is_muted = ?, muted_until = NULL, muted_by = '', mute_reason = ''`, false)
}

// SetShadowban shadowbans the user in the tribe.
func (s *Store) SetShadowban(ctx context.Context, userID, tribeID string, until *time.Time, reason string) error {
	return s.updateEnforcement(ctx, userID, tribeID,
		`is_shadowbanned = ?, shadowban_until = ?, shadowban_reason = ?`, true, nullMillis(until), reason)
}

// ClearShadowban lifts any shadowban.
func (s *Store) ClearShadowban(ctx context.Context, userID, tribeID string) error {
	return s.updateEnforcement(ctx, userID, tribeID,
		`is_shadowbanned = ?, shadowban_until = NULL, shadowban_reason = ''`, false)
}

// editBlockedUsers rewrites the tribe block list under a row lock.
func (s *Store) editBlockedUsers(ctx context.Context, userID, tribeID string, edit func([]string) []string) error {
	return s.inTx(ctx, func(tx *Store) error {
		if err := tx.ensureEnforcement(ctx, userID, tribeID); err != nil {
			return err
		}
		st, err := tx.getEnforcement(ctx, userID, tribeID, true)
		if err != nil {
			return err
		}
		raw, err := sonic.MarshalString(edit(st.BlockedUsers))
		if err != nil {
			return safety.NewStoreError("marshal", "chat_enforcement", err)
		}
		return tx.updateEnforcement(ctx, userID, tribeID, `blocked_users = ?`, raw)
	})
}

// AddTribeBlock adds blockedUserID to the user's block list in the tribe.
func (s *Store) AddTribeBlock(ctx context.Context, userID, tribeID, blockedUserID string) error {
	return s.editBlockedUsers(ctx, userID, tribeID, func(ids []string) []string {
		if slices.Contains(ids, blockedUserID) {
			return ids
		}
		return append(ids, blockedUserID)
	})
}

// RemoveTribeBlock removes blockedUserID from the user's block list.
func (s *Store) RemoveTribeBlock(ctx context.Context, userID, tribeID, blockedUserID string) error {
	return s.editBlockedUsers(ctx, userID, tribeID, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == blockedUserID })
	})
}

// SetNotificationSettings replaces the user's notification settings.
func (s *Store) SetNotificationSettings(ctx context.Context, userID, tribeID string, settings safety.NotificationSettings) error {
	raw, err := sonic.MarshalString(settings)
	if err != nil {
		return safety.NewStoreError("marshal", "chat_enforcement", err)
	}
	return s.updateEnforcement(ctx, userID, tribeID, `notification_settings = ?`, raw)
}
