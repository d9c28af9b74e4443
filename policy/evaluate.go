package policy

import (
	"fmt"
	"slices"
	"strings"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

// Violation is one reason content was denied.
type Violation struct {
	Code     string          `json:"code"`
	Category safety.Category `json:"category"`
	Severity safety.Severity `json:"severity"`
	Score    float64         `json:"score,omitempty"`
}

// Signals are the inputs of an evaluation.
type Signals struct {
	Scores violation.Scores

	// Faces is nil when no face detector ran.
	Faces *classifier.FaceResult

	// Image is required for the image profile.
	Image *classifier.ImageMeta

	// Text is required for text profiles.
	Text string
}

// Result is the outcome of evaluating one profile.
type Result struct {
	Allowed    bool                  `json:"allowed"`
	Violations []Violation           `json:"violations"`
	Warnings   []string              `json:"warnings"`
	Action     safety.DecisionAction `json:"action"`
}

// Codes returns the violation codes in evaluation order.
func (r Result) Codes() []string {
	out := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Code
	}
	return out
}

// Leading returns the most severe violation, preferring the higher score and
// then the earlier violation on ties.
func (r Result) Leading() (Violation, bool) {
	if len(r.Violations) == 0 {
		return Violation{}, false
	}
	best := r.Violations[0]
	for _, v := range r.Violations[1:] {
		if v.Severity.Rank() > best.Severity.Rank() ||
			(v.Severity.Rank() == best.Severity.Rank() && v.Score > best.Score) {
			best = v
		}
	}
	return best, true
}

type evaluation struct {
	warnRatio  float64
	violations []Violation
	warnings   []string
}

func (e *evaluation) deny(code string, category safety.Category, score float64) {
	e.violations = append(e.violations, Violation{
		Code:     code,
		Category: violation.LogCategory(category),
		Severity: violation.Info(violation.LogCategory(category)).DefaultSeverity,
		Score:    score,
	})
}

func (e *evaluation) warn(code string) {
	e.warnings = append(e.warnings, code)
}

// thresholds checks every score against its threshold in category order.
func (e *evaluation) thresholds(table map[safety.Category]float64, scores violation.Scores) {
	cats := make([]safety.Category, 0, len(table))
	for c := range table {
		cats = append(cats, c)
	}
	slices.Sort(cats)

	for _, c := range cats {
		limit := table[c]
		score := scores.Get(c)
		switch {
		case score >= limit:
			e.deny(string(c)+"_content", c, score)
		case e.warnRatio > 0 && score >= limit*e.warnRatio:
			e.warn(string(c) + "_near_threshold")
		}
	}
}

func (e *evaluation) result() Result {
	res := Result{
		Allowed:    len(e.violations) == 0,
		Violations: e.violations,
		Warnings:   e.warnings,
	}
	if res.Violations == nil {
		res.Violations = []Violation{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	switch {
	case !res.Allowed:
		res.Action = safety.ActionBlock
	case len(res.Warnings) > 0:
		res.Action = safety.ActionWarn
	default:
		res.Action = safety.ActionAllow
	}
	return res
}

// Evaluate evaluates signals under the default rules.
func Evaluate(ct safety.ContentType, sig Signals) (Result, error) {
	return DefaultRules().Evaluate(ct, sig)
}

// Evaluate checks signals against the profile for ct. Every violated rule is
// reported; evaluation never stops at the first one.
func (r Rules) Evaluate(ct safety.ContentType, sig Signals) (Result, error) {
	e := &evaluation{warnRatio: r.WarnRatio}

	if ct == safety.ContentImageUpload {
		if sig.Image == nil {
			return Result{}, safety.NewValidationError("image", "image metadata required")
		}
		r.Image.evaluate(e, sig)
		return e.result(), nil
	}

	rules, ok := r.For(ct)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", safety.ErrUnsupportedType, ct)
	}
	rules.evaluate(e, sig)
	return e.result(), nil
}

func (r ImageRules) evaluate(e *evaluation, sig Signals) {
	img := sig.Image

	if len(r.Formats) > 0 && !slices.Contains(r.Formats, strings.ToLower(img.Format)) {
		e.deny("unsupported_format", safety.CategoryOther, 0)
	}
	if r.MaxBytes > 0 && img.Bytes > r.MaxBytes {
		e.deny("file_too_large", safety.CategoryOther, 0)
	}
	if r.MinDimension > 0 && (img.Width < r.MinDimension || img.Height < r.MinDimension) {
		e.deny("image_too_small", safety.CategoryOther, 0)
	}
	if r.MaxDimension > 0 && (img.Width > r.MaxDimension || img.Height > r.MaxDimension) {
		e.deny("image_too_large", safety.CategoryOther, 0)
	}

	if r.RequireFace {
		faces := 0
		if sig.Faces != nil {
			faces = sig.Faces.CountAbove(r.MinFaceConfidence)
		}
		switch {
		case faces == 0:
			e.deny("no_face_detected", safety.CategoryOther, 0)
		case r.MaxFaces > 0 && faces > r.MaxFaces:
			e.deny("multiple_faces", safety.CategoryOther, 0)
		}
	}

	e.thresholds(r.Thresholds, sig.Scores)
}

func (r TextRules) evaluate(e *evaluation, sig Signals) {
	text := sig.Text
	ts := AnalyzeText(text)

	if r.MinLength > 0 && ts.Length < r.MinLength {
		e.deny(r.Name+"_too_short", safety.CategoryOther, 0)
	}
	if r.MaxLength > 0 && ts.Length > r.MaxLength {
		e.deny(r.Name+"_too_long", safety.CategoryOther, 0)
	}
	if r.Charset != nil && text != "" && !r.Charset.MatchString(text) {
		e.deny(r.Name+"_invalid_characters", safety.CategoryOther, 0)
	}
	if _, ok := reservedMatch(text, r.ReservedWords); ok {
		e.deny(r.Name+"_reserved", safety.CategoryFakeContent, 0)
	}

	if r.MaxCapsRatio > 0 && ts.CapsRatio > r.MaxCapsRatio {
		e.deny("excessive_caps", safety.CategorySpam, ts.CapsRatio)
	}
	if r.MaxPunctuationRatio > 0 && ts.PunctuationRatio > r.MaxPunctuationRatio {
		e.deny("excessive_punctuation", safety.CategorySpam, ts.PunctuationRatio)
	}
	if !r.AllowURLs && len(ts.URLs) > 0 {
		e.deny("urls_not_allowed", safety.CategorySpam, 0)
	}

	e.thresholds(r.Thresholds, sig.Scores)
}
