// Package block manages platform-wide block relationships between users.
package block

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/store"
)

// Options configures a Registry.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

// Registry is the block registry.
type Registry struct {
	store  store.BlockStore
	logger *zap.Logger
	now    func() time.Time
}

// New creates a registry over s.
func New(s store.BlockStore, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		store:  s,
		logger: opts.Logger.Named("block"),
		now:    opts.Now,
	}
}

// Block records that blockerID blocks blockedUserID. When blockedUserID
// already blocks blockerID both relationships become mutual. Blocking twice
// fails with safety.ErrAlreadyBlocked.
func (r *Registry) Block(ctx context.Context, blockerID, blockedUserID, reason, description string) (safety.BlockRelationship, error) {
	switch {
	case blockerID == "":
		return safety.BlockRelationship{}, safety.NewValidationError("blocker_id", "required")
	case blockedUserID == "":
		return safety.BlockRelationship{}, safety.NewValidationError("blocked_user_id", "required")
	case blockerID == blockedUserID:
		return safety.BlockRelationship{}, safety.NewValidationError("blocked_user_id", "cannot block yourself")
	case reason == "":
		return safety.BlockRelationship{}, safety.NewValidationError("reason", "required")
	}

	b := safety.BlockRelationship{
		BlockerID:     blockerID,
		BlockedUserID: blockedUserID,
		Reason:        reason,
		Description:   description,
		CreatedAt:     r.now(),
	}
	mutual, err := r.store.CreateBlock(ctx, b)
	if err != nil {
		return safety.BlockRelationship{}, err
	}
	b.Mutual = mutual

	r.logger.Info("user blocked",
		zap.String("blocker_id", blockerID),
		zap.String("blocked_user_id", blockedUserID),
		zap.Bool("mutual", mutual))
	return b, nil
}

// Unblock removes blockerID's block on blockedUserID. A block in the other
// direction stays in force.
func (r *Registry) Unblock(ctx context.Context, blockerID, blockedUserID string) error {
	if blockerID == "" || blockedUserID == "" {
		return safety.NewValidationError("blocked_user_id", "required")
	}
	if err := r.store.DeleteBlock(ctx, blockerID, blockedUserID); err != nil {
		return err
	}
	r.logger.Info("user unblocked", zap.String("blocker_id", blockerID), zap.String("blocked_user_id", blockedUserID))
	return nil
}

// IsBlocked reports whether either user blocks the other.
func (r *Registry) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		_, err := r.store.GetBlock(ctx, pair[0], pair[1])
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, safety.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

// ListBlocked returns the relationships blockerID created.
func (r *Registry) ListBlocked(ctx context.Context, blockerID string) ([]safety.BlockRelationship, error) {
	return r.store.ListBlocks(ctx, blockerID)
}
