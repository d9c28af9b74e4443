package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bytedance/sonic"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
)

const logColumns = `id, user_id, target_type, target_id, action, reason, severity, category, moderator_id,
              automated, confidence, metadata, appealable, appeal_deadline, created_at, resolved_at, resolved_by`

func (s *Store) insertLog(ctx context.Context, e safety.LogEntry) error {
	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		raw, err := sonic.Marshal(e.Metadata)
		if err != nil {
			return safety.NewStoreError("marshal", "moderation_log", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := s.rebind(`INSERT INTO moderation_log (` + logColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.conn.ExecContext(ctx, query,
		e.ID, e.UserID, e.TargetType, e.TargetID, e.Action, e.Reason, e.Severity, e.Category, e.ModeratorID,
		e.Automated, e.Confidence, metadata, e.Appealable, millis(e.AppealDeadline), millis(e.CreatedAt),
		nullMillis(e.ResolvedAt), e.ResolvedBy)
	if isUniqueViolation(err) {
		return safety.NewStoreError("insert", "moderation_log", safety.ErrDuplicateActive)
	}
	if err != nil {
		return safety.NewStoreError("insert", "moderation_log", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (safety.LogEntry, error) {
	var (
		e                   safety.LogEntry
		metadata            sql.NullString
		deadline, createdAt int64
		resolvedAt          sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.UserID, &e.TargetType, &e.TargetID, &e.Action, &e.Reason, &e.Severity, &e.Category,
		&e.ModeratorID, &e.Automated, &e.Confidence, &metadata, &e.Appealable, &deadline, &createdAt,
		&resolvedAt, &e.ResolvedBy)
	if err != nil {
		return e, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := sonic.UnmarshalString(metadata.String, &e.Metadata); err != nil {
			return e, err
		}
	}
	e.AppealDeadline = fromMillis(deadline)
	e.CreatedAt = fromMillis(createdAt)
	e.ResolvedAt = fromNullMillis(resolvedAt)
	return e, nil
}

func (s *Store) countActiveStrikes(ctx context.Context, userID string) (int, error) {
	args := []any{userID}
	for _, a := range store.StrikeActions {
		args = append(args, a)
	}

	query := s.rebind(`SELECT COUNT(*) FROM moderation_log
              WHERE user_id = ? AND resolved_at IS NULL AND action IN (` + placeholders(len(store.StrikeActions)) + `)`)

	var n int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, safety.NewStoreError("count", "moderation_log", err)
	}
	return n, nil
}

// lockGuard takes the row lock of key for the rest of the transaction.
func (s *Store) lockGuard(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, s.insertIgnore("row_guard", "guard_key, revision", "guard_key", 2), key, 0); err != nil {
		return safety.NewStoreError("insert", "row_guard", err)
	}
	var rev int64
	query := s.rebind(`SELECT revision FROM row_guard WHERE guard_key = ?` + s.forUpdate())
	if err := s.conn.QueryRowContext(ctx, query, key).Scan(&rev); err != nil {
		return safety.NewStoreError("lock", "row_guard", err)
	}
	return nil
}

func (s *Store) bumpGuard(ctx context.Context, key string) error {
	query := s.rebind(`UPDATE row_guard SET revision = revision + 1 WHERE guard_key = ?`)
	if _, err := s.conn.ExecContext(ctx, query, key); err != nil {
		return safety.NewStoreError("update", "row_guard", err)
	}
	return nil
}

// AppendStrike locks the user's strike guard row, re-counts active strikes
// and inserts only when the count still matches expectedActive.
func (s *Store) AppendStrike(ctx context.Context, entry safety.LogEntry, expectedActive int) error {
	guard := "strike:" + entry.UserID
	return s.inTx(ctx, func(tx *Store) error {
		if err := tx.lockGuard(ctx, guard); err != nil {
			return err
		}
		n, err := tx.countActiveStrikes(ctx, entry.UserID)
		if err != nil {
			return err
		}
		if n != expectedActive {
			return safety.ErrRevisionConflict
		}
		if err := tx.insertLog(ctx, entry); err != nil {
			return err
		}
		return tx.bumpGuard(ctx, guard)
	})
}

// AppendLog inserts a non-strike entry.
func (s *Store) AppendLog(ctx context.Context, entry safety.LogEntry) error {
	return s.insertLog(ctx, entry)
}

// GetLog gets a log entry by ID.
func (s *Store) GetLog(ctx context.Context, id string) (*safety.LogEntry, error) {
	query := s.rebind(`SELECT ` + logColumns + ` FROM moderation_log WHERE id = ?`)

	e, err := scanLog(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safety.ErrNotFound
	}
	if err != nil {
		return nil, safety.NewStoreError("get", "moderation_log", err)
	}
	return &e, nil
}

// CountActiveStrikes counts the user's unresolved strike entries.
func (s *Store) CountActiveStrikes(ctx context.Context, userID string) (int, error) {
	return s.countActiveStrikes(ctx, userID)
}

func (s *Store) listLogs(ctx context.Context, query string, args ...any) ([]safety.LogEntry, error) {
	rows, err := s.conn.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, safety.NewStoreError("list", "moderation_log", err)
	}
	defer rows.Close()

	var entries []safety.LogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, safety.NewStoreError("scan", "moderation_log", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, safety.NewStoreError("list", "moderation_log", err)
	}
	return entries, nil
}

// ListActiveLogs lists the user's unresolved entries, oldest first.
func (s *Store) ListActiveLogs(ctx context.Context, userID string) ([]safety.LogEntry, error) {
	return s.listLogs(ctx, `SELECT `+logColumns+` FROM moderation_log
              WHERE user_id = ? AND resolved_at IS NULL ORDER BY created_at ASC, id ASC`, userID)
}

// ListLogs lists the user's entries, newest first.
func (s *Store) ListLogs(ctx context.Context, userID string, limit int) ([]safety.LogEntry, error) {
	if limit <= 0 {
		return s.listLogs(ctx, `SELECT `+logColumns+` FROM moderation_log
              WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	}
	return s.listLogs(ctx, `SELECT `+logColumns+` FROM moderation_log
              WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
}

// ResolveLog resolves an active entry.
func (s *Store) ResolveLog(ctx context.Context, id, resolvedBy string, at time.Time) error {
	query := s.rebind(`UPDATE moderation_log SET resolved_at = ?, resolved_by = ? WHERE id = ? AND resolved_at IS NULL`)
	result, err := s.conn.ExecContext(ctx, query, millis(at), resolvedBy, id)
	if err != nil {
		return safety.NewStoreError("update", "moderation_log", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		return nil
	}
	if _, err := s.GetLog(ctx, id); err != nil {
		return err
	}
	return safety.ErrAlreadyResolved
}
