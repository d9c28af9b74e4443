// Package visibility decides who sees moderated content and chat messages.
package visibility

import (
	"slices"
	"time"

	safety "github.com/heibot/safety"
)

// Policy defines how content should be displayed once it has been denied.
type Policy string

const (
	// PolicyAllOrNothing hides denied content from everyone but admins.
	PolicyAllOrNothing Policy = "all_or_nothing"

	// PolicyReplace shows a neutral placeholder in place of denied content.
	PolicyReplace Policy = "replace"

	// PolicySenderOnly shows denied content back to its author only, so the
	// author is not tipped off.
	PolicySenderOnly Policy = "sender_only"
)

// ViewerRole represents who is viewing the content.
type ViewerRole string

const (
	ViewerCreator ViewerRole = "creator" // Content author
	ViewerPublic  ViewerRole = "public"  // Anyone else
	ViewerAdmin   ViewerRole = "admin"   // Moderator
)

// Policies maps content types to their visibility policies.
type Policies map[safety.ContentType]Policy

// DefaultPolicies returns the policy table used when none is configured.
func DefaultPolicies() Policies {
	return Policies{
		safety.ContentImageUpload: PolicyAllOrNothing,
		safety.ContentText:        PolicyAllOrNothing,

		// names are load-bearing in the UI; replace rather than hide
		safety.ContentUsername:  PolicyReplace,
		safety.ContentTribeName: PolicyReplace,

		safety.ContentChatMessage: PolicySenderOnly,
	}
}

// For returns the policy for ct, all-or-nothing when ct is not listed.
func (p Policies) For(ct safety.ContentType) Policy {
	if policy, ok := p[ct]; ok {
		return policy
	}
	return PolicyAllOrNothing
}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyAllOrNothing, PolicyReplace, PolicySenderOnly:
		return true
	}
	return false
}

// Outcome aggregates the decisions of an object's fields.
type Outcome struct {
	Denied    int `json:"denied"`
	Allowed   int `json:"allowed"`
	Unchecked int `json:"unchecked"`
	Total     int `json:"total"`
}

// ComputeOutcome counts decisions; nil means the field was never evaluated.
func ComputeOutcome(decisions []*safety.Decision) Outcome {
	outcome := Outcome{Total: len(decisions)}
	for _, d := range decisions {
		switch {
		case d == nil:
			outcome.Unchecked++
		case d.Allowed:
			outcome.Allowed++
		default:
			outcome.Denied++
		}
	}
	return outcome
}

// CanView determines if a viewer can see content under policy.
func CanView(policy Policy, decision *safety.Decision, viewer ViewerRole) bool {
	if viewer == ViewerAdmin {
		return true
	}
	if decision == nil || decision.Allowed {
		return true
	}

	switch policy {
	case PolicyReplace:
		return true
	case PolicySenderOnly:
		return viewer == ViewerCreator
	default:
		return false
	}
}

// Viewer is a member looking at a tribe chat.
type Viewer struct {
	UserID string
	Role   ViewerRole

	// TribeBlocks is the viewer's block list in this tribe.
	TribeBlocks []string

	// Blocked is true when a platform block exists in either direction
	// between viewer and sender.
	Blocked bool
}

// CanViewMessage decides whether viewer sees a message from sender. A
// shadowbanned sender's messages are shown to the sender alone, so the
// restriction is not apparent to them.
func CanViewMessage(sender safety.ChatEnforcementState, viewer Viewer, now time.Time) bool {
	if viewer.Role == ViewerAdmin || viewer.UserID == sender.UserID {
		return true
	}
	if sender.ShadowbannedAt(now) {
		return false
	}
	if viewer.Blocked {
		return false
	}
	return !slices.Contains(viewer.TribeBlocks, sender.UserID)
}
