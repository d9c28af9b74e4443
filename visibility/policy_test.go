package visibility

import (
	"testing"
	"time"

	safety "github.com/heibot/safety"
)

var (
	allowed = &safety.Decision{Allowed: true, Action: safety.ActionAllow}
	denied  = &safety.Decision{Allowed: false, Action: safety.ActionBlock, Violations: []string{"toxicity_content"}}
)

func TestPolicies_For(t *testing.T) {
	tests := []struct {
		name        string
		contentType safety.ContentType
		expected    Policy
	}{
		{
			name:        "username - replaced",
			contentType: safety.ContentUsername,
			expected:    PolicyReplace,
		},
		{
			name:        "chat message - sender only",
			contentType: safety.ContentChatMessage,
			expected:    PolicySenderOnly,
		},
		{
			name:        "unknown content type - all or nothing",
			contentType: safety.ContentType("unknown"),
			expected:    PolicyAllOrNothing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DefaultPolicies().For(tt.contentType)
			if result != tt.expected {
				t.Errorf("For(%v) = %v, want %v", tt.contentType, result, tt.expected)
			}
		})
	}
}

func TestNewRenderer_Overrides(t *testing.T) {
	r := NewRenderer(Config{
		Policies:     Policies{safety.ContentTribeName: PolicyAllOrNothing},
		Replacements: map[safety.ContentType]string{safety.ContentUsername: "anon"},
	})

	if r.Policy(safety.ContentTribeName) != PolicyAllOrNothing {
		t.Error("configured policy was not applied")
	}
	if r.Policy(safety.ContentUsername) != PolicyReplace {
		t.Error("unconfigured content type lost its default policy")
	}

	// renderers never share a table
	if NewRenderer(Config{}).Policy(safety.ContentTribeName) != PolicyReplace {
		t.Error("override leaked into another renderer")
	}

	res := r.Render(ViewerPublic, []FieldData{{Field: "username", ContentType: safety.ContentUsername, RawValue: "bad", Decision: denied}})
	if f := res.Fields["username"]; f.Value != "anon" || !f.IsReplaced {
		t.Errorf("username = %+v, want configured placeholder", f)
	}
}

func TestPolicy_Valid(t *testing.T) {
	if !PolicySenderOnly.Valid() || Policy("hide").Valid() {
		t.Error("Valid() mismatch")
	}
}

func TestComputeOutcome(t *testing.T) {
	outcome := ComputeOutcome([]*safety.Decision{allowed, denied, nil, denied})
	if outcome.Total != 4 || outcome.Denied != 2 || outcome.Allowed != 1 || outcome.Unchecked != 1 {
		t.Errorf("ComputeOutcome = %+v", outcome)
	}
}

func TestCanView(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		decision *safety.Decision
		viewer   ViewerRole
		expected bool
	}{
		{"admin sees denied", PolicyAllOrNothing, denied, ViewerAdmin, true},
		{"unchecked is visible", PolicyAllOrNothing, nil, ViewerPublic, true},
		{"allowed is visible", PolicyAllOrNothing, allowed, ViewerPublic, true},
		{"denied hidden", PolicyAllOrNothing, denied, ViewerCreator, false},
		{"denied replaced", PolicyReplace, denied, ViewerPublic, true},
		{"sender sees own denied", PolicySenderOnly, denied, ViewerCreator, true},
		{"public does not", PolicySenderOnly, denied, ViewerPublic, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanView(tt.policy, tt.decision, tt.viewer); got != tt.expected {
				t.Errorf("CanView() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCanViewMessage(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	clean := safety.ChatEnforcementState{UserID: "s"}
	shadowed := safety.ChatEnforcementState{UserID: "s", IsShadowbanned: true, ShadowbanUntil: &later}
	lapsed := safety.ChatEnforcementState{UserID: "s", IsShadowbanned: true, ShadowbanUntil: &earlier}

	tests := []struct {
		name     string
		sender   safety.ChatEnforcementState
		viewer   Viewer
		expected bool
	}{
		{"clean sender", clean, Viewer{UserID: "v", Role: ViewerPublic}, true},
		{"shadowbanned hidden from others", shadowed, Viewer{UserID: "v", Role: ViewerPublic}, false},
		{"shadowbanned sees self", shadowed, Viewer{UserID: "s", Role: ViewerCreator}, true},
		{"admin sees shadowbanned", shadowed, Viewer{UserID: "m", Role: ViewerAdmin}, true},
		{"lapsed shadowban", lapsed, Viewer{UserID: "v", Role: ViewerPublic}, true},
		{"platform block", clean, Viewer{UserID: "v", Role: ViewerPublic, Blocked: true}, false},
		{"tribe block", clean, Viewer{UserID: "v", Role: ViewerPublic, TribeBlocks: []string{"s"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanViewMessage(tt.sender, tt.viewer, now); got != tt.expected {
				t.Errorf("CanViewMessage() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func profile(username, bio string, nameDecision, bioDecision *safety.Decision) []FieldData {
	return []FieldData{
		{Field: "username", ContentType: safety.ContentUsername, RawValue: username, Decision: nameDecision},
		{Field: "bio", ContentType: safety.ContentText, RawValue: bio, Decision: bioDecision},
	}
}

func TestRender(t *testing.T) {
	r := NewRenderer(Config{})

	res := r.Render(ViewerPublic, profile("badname", "hello", denied, nil))
	if !res.Visible {
		t.Fatal("profile with replaced username should stay visible")
	}
	if f := res.Fields["username"]; f.Value != "user" || !f.IsReplaced {
		t.Errorf("username = %+v, want replaced placeholder", f)
	}
	if f := res.Fields["bio"]; f.Value != "hello" {
		t.Errorf("bio = %+v", f)
	}
	if res.Outcome.Denied != 1 || res.Outcome.Unchecked != 1 {
		t.Errorf("outcome = %+v", res.Outcome)
	}

	res = r.Render(ViewerPublic, profile("name", "bad bio", nil, denied))
	if res.Visible {
		t.Error("denied bio hides the profile")
	}
	if res.Message != "Content unavailable" {
		t.Errorf("message = %q", res.Message)
	}

	res = r.Render(ViewerAdmin, profile("name", "bad bio", nil, denied))
	if !res.Visible || res.Fields["bio"].Value != "bad bio" {
		t.Errorf("admin render = %+v", res)
	}

	chat := []FieldData{{Field: "body", ContentType: safety.ContentChatMessage, RawValue: "you idiot", Masked: "you *****", Decision: allowed}}
	res = r.Render(ViewerPublic, chat)
	if f := res.Fields["body"]; f.Value != "you *****" || !f.IsReplaced {
		t.Errorf("masked chat = %+v", f)
	}
	res = r.Render(ViewerAdmin, chat)
	if f := res.Fields["body"]; f.Value != "you idiot" {
		t.Errorf("admin chat = %+v", f)
	}

	chat[0].Decision = denied
	res = r.Render(ViewerCreator, chat)
	if f := res.Fields["body"]; !f.Visible || f.Value != "you idiot" {
		t.Errorf("sender's own denied chat = %+v", f)
	}
	res = r.Render(ViewerPublic, chat)
	if f := res.Fields["body"]; f.Visible {
		t.Errorf("public denied chat = %+v", f)
	}
}
