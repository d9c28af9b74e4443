package sql

import (
	"context"
	"database/sql"
	"errors"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/utils"
)

// pairGuard is the same for both directions of a block.
func pairGuard(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "block:" + utils.TupleKey(a, b)
}

// CreateBlock inserts a block and flags both rows mutual when the reverse
// block exists. Both directions lock the same guard row, so two users
// blocking each other concurrently still end up mutual.
func (s *Store) CreateBlock(ctx context.Context, b safety.BlockRelationship) (bool, error) {
	var mutual bool
	err := s.inTx(ctx, func(tx *Store) error {
		if err := tx.lockGuard(ctx, pairGuard(b.BlockerID, b.BlockedUserID)); err != nil {
			return err
		}

		var n int
		query := tx.rebind(`SELECT COUNT(*) FROM block_relationship WHERE blocker_id = ? AND blocked_user_id = ?`)
		if err := tx.conn.QueryRowContext(ctx, query, b.BlockedUserID, b.BlockerID).Scan(&n); err != nil {
			return safety.NewStoreError("get", "block_relationship", err)
		}
		mutual = n > 0

		query = tx.rebind(`INSERT INTO block_relationship (blocker_id, blocked_user_id, reason, description, mutual, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`)
		_, err := tx.conn.ExecContext(ctx, query, b.BlockerID, b.BlockedUserID, b.Reason, b.Description, mutual, millis(b.CreatedAt))
		if isUniqueViolation(err) {
			return safety.ErrAlreadyBlocked
		}
		if err != nil {
			return safety.NewStoreError("insert", "block_relationship", err)
		}

		if mutual {
			query = tx.rebind(`UPDATE block_relationship SET mutual = ? WHERE blocker_id = ? AND blocked_user_id = ?`)
			if _, err := tx.conn.ExecContext(ctx, query, true, b.BlockedUserID, b.BlockerID); err != nil {
				return safety.NewStoreError("update", "block_relationship", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return mutual, nil
}

// DeleteBlock removes a block and clears the reverse row's mutual flag.
func (s *Store) DeleteBlock(ctx context.Context, blockerID, blockedUserID string) error {
	return s.inTx(ctx, func(tx *Store) error {
		if err := tx.lockGuard(ctx, pairGuard(blockerID, blockedUserID)); err != nil {
			return err
		}

		query := tx.rebind(`DELETE FROM block_relationship WHERE blocker_id = ? AND blocked_user_id = ?`)
		result, err := tx.conn.ExecContext(ctx, query, blockerID, blockedUserID)
		if err != nil {
			return safety.NewStoreError("delete", "block_relationship", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return safety.ErrNotFound
		}

		query = tx.rebind(`UPDATE block_relationship SET mutual = ? WHERE blocker_id = ? AND blocked_user_id = ?`)
		if _, err := tx.conn.ExecContext(ctx, query, false, blockedUserID, blockerID); err != nil {
			return safety.NewStoreError("update", "block_relationship", err)
		}
		return nil
	})
}

func scanBlock(row rowScanner) (safety.BlockRelationship, error) {
	var (
		b         safety.BlockRelationship
		createdAt int64
	)
	if err := row.Scan(&b.BlockerID, &b.BlockedUserID, &b.Reason, &b.Description, &b.Mutual, &createdAt); err != nil {
		return b, err
	}
	b.CreatedAt = fromMillis(createdAt)
	return b, nil
}

// GetBlock gets a block by its direction.
func (s *Store) GetBlock(ctx context.Context, blockerID, blockedUserID string) (*safety.BlockRelationship, error) {
	query := s.rebind(`SELECT blocker_id, blocked_user_id, reason, description, mutual, created_at
              FROM block_relationship WHERE blocker_id = ? AND blocked_user_id = ?`)

	b, err := scanBlock(s.conn.QueryRowContext(ctx, query, blockerID, blockedUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safety.ErrNotFound
	}
	if err != nil {
		return nil, safety.NewStoreError("get", "block_relationship", err)
	}
	return &b, nil
}

// ListBlocks lists the users blockerID blocks, oldest first.
func (s *Store) ListBlocks(ctx context.Context, blockerID string) ([]safety.BlockRelationship, error) {
	query := s.rebind(`SELECT blocker_id, blocked_user_id, reason, description, mutual, created_at
              FROM block_relationship WHERE blocker_id = ? ORDER BY created_at ASC, blocked_user_id ASC`)

	rows, err := s.conn.QueryContext(ctx, query, blockerID)
	if err != nil {
		return nil, safety.NewStoreError("list", "block_relationship", err)
	}
	defer rows.Close()

	var blocks []safety.BlockRelationship
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, safety.NewStoreError("scan", "block_relationship", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, safety.NewStoreError("list", "block_relationship", err)
	}
	return blocks, nil
}
