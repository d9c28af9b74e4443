package client

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	safety "github.com/heibot/safety"
)

// BlockAction defines what to do when a field is denied.
type BlockAction string

const (
	// ActionReject rejects the entire submission.
	ActionReject BlockAction = "reject"

	// ActionReplace replaces the field with a specified value.
	ActionReplace BlockAction = "replace"

	// ActionHide clears the field.
	ActionHide BlockAction = "hide"

	// ActionMask masks listed words and keeps the rest of the field.
	ActionMask BlockAction = "mask"
)

// FieldInput is a single text field of a multi-field submission.
type FieldInput struct {
	Field       string             // Field name (e.g., "username", "bio")
	ContentType safety.ContentType // Profile the field is evaluated under
	Text        string
	OnBlock     BlockAction // Defaults to ActionReject
	ReplaceWith string      // Replacement value (for ActionReplace)
}

// FieldResult is the decision for one field.
type FieldResult struct {
	Field       string          `json:"field"`
	Decision    safety.Decision `json:"decision"`
	FinalValue  string          `json:"final_value"` // The value to store (original, replaced, masked or empty)
	WasReplaced bool            `json:"was_replaced"`
}

// FieldsInput is a multi-field submission from one user, such as a profile
// edit.
type FieldsInput struct {
	UserID   string
	TargetID string
	Fields   []FieldInput
}

// FieldsResult is the outcome of EvaluateFields.
type FieldsResult struct {
	Fields map[string]*FieldResult `json:"fields"`

	// Action is the strictest action across fields.
	Action safety.DecisionAction `json:"action"`

	// Rejected is true when a denied field's OnBlock is ActionReject.
	Rejected bool `json:"rejected"`

	// Strike is the ladder step taken, if the submission produced one.
	Strike *safety.StrikeAction `json:"strike,omitempty"`
}

// EvaluateFields evaluates every field concurrently under its own profile.
// A submission with several denied fields is recorded once, under the most
// severe violation, so one profile edit never costs more than one strike.
func (c *Client) EvaluateFields(ctx context.Context, in FieldsInput) (*FieldsResult, error) {
	if len(in.Fields) == 0 {
		return nil, safety.NewValidationError("fields", "at least one field required")
	}
	seen := make(map[string]bool, len(in.Fields))
	for _, f := range in.Fields {
		if f.Field == "" {
			return nil, safety.NewValidationError("field", "name required")
		}
		if seen[f.Field] {
			return nil, safety.NewValidationError("field", fmt.Sprintf("duplicate field %q", f.Field))
		}
		seen[f.Field] = true
	}

	evs := make([]evaluation, len(in.Fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range in.Fields {
		g.Go(func() error {
			ev, err := c.evaluate(gctx, Content{Text: f.Text, TargetID: in.TargetID}, f.ContentType, in.UserID)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Field, err)
			}
			evs[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &FieldsResult{
		Fields: make(map[string]*FieldResult, len(in.Fields)),
		Action: safety.ActionAllow,
	}
	worst := -1
	for i, f := range in.Fields {
		ev := evs[i]
		decisionCount.WithLabelValues(string(f.ContentType), string(ev.decision.Action)).Inc()

		fr := &FieldResult{Field: f.Field, Decision: ev.decision, FinalValue: f.Text}
		if !ev.decision.Allowed {
			fr.FinalValue, fr.WasReplaced = c.applyBlockAction(f)
			if f.OnBlock == "" || f.OnBlock == ActionReject {
				result.Rejected = true
			}
			if worst < 0 || moreSevere(ev, evs[worst]) {
				worst = i
			}
		}
		if actionRank(ev.decision.Action) > actionRank(result.Action) {
			result.Action = ev.decision.Action
		}
		result.Fields[f.Field] = fr
	}

	if worst < 0 {
		return result, nil
	}

	f := in.Fields[worst]
	d, err := c.recordDenial(ctx, in.UserID, f.ContentType, in.TargetID, evs[worst])
	result.Fields[f.Field].Decision = d
	result.Strike = d.Strike
	if err != nil {
		return result, err
	}
	return result, nil
}

// moreSevere orders denials for recording: a classifier outage first, then
// by the leading violation's severity and score.
func moreSevere(a, b evaluation) bool {
	if (a.unavailable != nil) != (b.unavailable != nil) {
		return a.unavailable != nil
	}
	if a.leading.Severity.Rank() != b.leading.Severity.Rank() {
		return a.leading.Severity.Rank() > b.leading.Severity.Rank()
	}
	return a.leading.Score > b.leading.Score
}

var (
	placeholderMu sync.RWMutex
	placeholders  = map[safety.ContentType]string{
		safety.ContentUsername:  "user",
		safety.ContentTribeName: "tribe",
	}
)

// applyBlockAction returns the value to keep for a denied field.
func (c *Client) applyBlockAction(f FieldInput) (string, bool) {
	switch f.OnBlock {
	case ActionReplace:
		if f.ReplaceWith != "" {
			return f.ReplaceWith, true
		}
		placeholderMu.RLock()
		p, ok := placeholders[f.ContentType]
		placeholderMu.RUnlock()
		if ok {
			return p, true
		}
		return "", true
	case ActionHide:
		return "", true
	case ActionMask:
		masked, changed := c.Sanitize(f.Text)
		return masked, changed
	default:
		return f.Text, false
	}
}
