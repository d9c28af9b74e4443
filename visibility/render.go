package visibility

import (
	safety "github.com/heibot/safety"
)

// RenderResult represents the result of rendering an object.
type RenderResult struct {
	Visible bool                     `json:"visible"`           // Whether the object is visible at all
	Fields  map[string]RenderedField `json:"fields"`            // Field-level rendering results
	Message string                   `json:"message,omitempty"` // Optional message for the whole object
	Outcome Outcome                  `json:"outcome"`
}

// RenderedField represents a rendered field value.
type RenderedField struct {
	Visible    bool   `json:"visible"`
	Value      string `json:"value,omitempty"` // may be replaced or masked
	IsReplaced bool   `json:"is_replaced"`
	Message    string `json:"message,omitempty"`
}

// Config sets a renderer's policy table and placeholders. Content types
// missing from either map keep the defaults.
type Config struct {
	Policies     Policies
	Replacements map[safety.ContentType]string
}

// Renderer applies visibility policies to the fields of one object.
type Renderer struct {
	policies     Policies
	replacements map[safety.ContentType]string
}

// NewRenderer creates a renderer from cfg.
func NewRenderer(cfg Config) *Renderer {
	r := &Renderer{
		policies: DefaultPolicies(),
		replacements: map[safety.ContentType]string{
			safety.ContentUsername:    "user",
			safety.ContentTribeName:   "tribe",
			safety.ContentText:        "This content was removed for violating community guidelines",
			safety.ContentChatMessage: "[message removed]",
		},
	}
	for ct, p := range cfg.Policies {
		r.policies[ct] = p
	}
	for ct, v := range cfg.Replacements {
		r.replacements[ct] = v
	}
	return r
}

// Policy returns the policy applied to ct.
func (r *Renderer) Policy(ct safety.ContentType) Policy {
	return r.policies.For(ct)
}

// FieldData represents raw field data to be rendered.
type FieldData struct {
	Field       string
	ContentType safety.ContentType
	RawValue    string

	// Masked is the display-masked value, if the text was sanitized.
	Masked string

	// Decision is nil when the field was never evaluated.
	Decision *safety.Decision
}

// Render renders an object's fields for viewer. The object disappears when
// any all-or-nothing field was denied.
func (r *Renderer) Render(viewer ViewerRole, fields []FieldData) RenderResult {
	decisions := make([]*safety.Decision, len(fields))
	for i, f := range fields {
		decisions[i] = f.Decision
	}
	result := RenderResult{
		Visible: true,
		Fields:  make(map[string]RenderedField, len(fields)),
		Outcome: ComputeOutcome(decisions),
	}

	for _, f := range fields {
		policy := r.Policy(f.ContentType)
		if policy == PolicyAllOrNothing && !CanView(policy, f.Decision, viewer) {
			result.Visible = false
			result.Message = r.blockedMessage(f.ContentType)
			result.Fields = map[string]RenderedField{}
			return result
		}
	}

	for _, f := range fields {
		result.Fields[f.Field] = r.renderField(viewer, f)
	}
	return result
}

func (r *Renderer) renderField(viewer ViewerRole, f FieldData) RenderedField {
	if f.Decision == nil || f.Decision.Allowed {
		value := f.RawValue
		if f.Masked != "" && viewer != ViewerAdmin {
			value = f.Masked
		}
		return RenderedField{Visible: true, Value: value, IsReplaced: value != f.RawValue}
	}

	if viewer == ViewerAdmin {
		return RenderedField{Visible: true, Value: f.RawValue, Message: r.blockedMessage(f.ContentType)}
	}

	switch r.Policy(f.ContentType) {
	case PolicyReplace:
		return RenderedField{
			Visible:    true,
			Value:      r.replacements[f.ContentType],
			IsReplaced: true,
		}
	case PolicySenderOnly:
		if viewer == ViewerCreator {
			return RenderedField{Visible: true, Value: f.RawValue, Message: "Only visible to you"}
		}
		return RenderedField{Visible: false, Message: r.blockedMessage(f.ContentType)}
	default:
		return RenderedField{Visible: false, Message: r.blockedMessage(f.ContentType)}
	}
}

func (r *Renderer) blockedMessage(ct safety.ContentType) string {
	switch ct {
	case safety.ContentChatMessage:
		return "Message removed"
	case safety.ContentImageUpload:
		return "Image removed"
	default:
		return "Content unavailable"
	}
}
