package client

import (
	"context"

	"golang.org/x/sync/errgroup"

	safety "github.com/heibot/safety"
)

// DefaultBatchConcurrency bounds concurrent evaluations of one batch.
const DefaultBatchConcurrency = 8

// BatchItem is one independent piece of content in a batch.
type BatchItem struct {
	ID          string // Caller's identifier (e.g., message_id)
	UserID      string
	ContentType safety.ContentType
	Content     Content
}

// BatchItemResult is the outcome for one batch item. Err is set for items
// that failed validation; a denial whose recording failed carries both the
// decision and the error.
type BatchItemResult struct {
	ID       string
	Decision safety.Decision
	Err      error
}

// Blocked reports whether the item was denied.
func (r *BatchItemResult) Blocked() bool {
	return r.Decision.Action != "" && !r.Decision.Allowed
}

// BatchResult is the outcome of EvaluateBatch.
type BatchResult struct {
	// Results maps item ID to its result.
	Results map[string]*BatchItemResult

	// Action is the strictest action across decided items.
	Action safety.DecisionAction

	BlockedCount int
	PassedCount  int
	ErrorCount   int
}

// BatchOptions tunes EvaluateBatch.
type BatchOptions struct {
	// Concurrency bounds parallel evaluations. Default: DefaultBatchConcurrency.
	Concurrency int
}

// EvaluateBatch evaluates independent items concurrently. Each item is
// decided and recorded exactly as EvaluateContent would; one item's failure
// never affects another.
func (c *Client) EvaluateBatch(ctx context.Context, items []BatchItem, opts BatchOptions) (*BatchResult, error) {
	if len(items) == 0 {
		return nil, safety.NewValidationError("items", "at least one item required")
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.ID == "" {
			return nil, safety.NewValidationError("id", "required")
		}
		if seen[it.ID] {
			return nil, safety.NewValidationError("id", "duplicate item "+it.ID)
		}
		seen[it.ID] = true
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultBatchConcurrency
	}

	results := make([]*BatchItemResult, len(items))
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, it := range items {
		g.Go(func() error {
			d, err := c.EvaluateContent(ctx, it.Content, it.ContentType, it.UserID)
			results[i] = &BatchItemResult{ID: it.ID, Decision: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{
		Results: make(map[string]*BatchItemResult, len(items)),
		Action:  safety.ActionAllow,
	}
	for _, r := range results {
		out.Results[r.ID] = r
		switch {
		case r.Decision.Action == "":
			out.ErrorCount++
			continue
		case r.Blocked():
			out.BlockedCount++
		default:
			out.PassedCount++
		}
		if actionRank(r.Decision.Action) > actionRank(out.Action) {
			out.Action = r.Decision.Action
		}
	}
	return out, nil
}
