package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

func goodImage() *classifier.ImageMeta {
	return &classifier.ImageMeta{Format: "jpeg", Width: 800, Height: 600, Bytes: 200 << 10}
}

func oneFace() *classifier.FaceResult {
	return &classifier.FaceResult{Faces: []classifier.Face{{Confidence: 0.95}}}
}

func TestEvaluate_ThresholdMonotonicity(t *testing.T) {
	tests := []struct {
		ct       safety.ContentType
		text     string
		category safety.Category
		limit    float64
	}{
		{safety.ContentImageUpload, "", safety.CategoryNSFW, 0.70},
		{safety.ContentImageUpload, "", safety.CategoryViolence, 0.80},
		{safety.ContentImageUpload, "", safety.CategoryWeapons, 0.80},
		{safety.ContentText, "a perfectly calm sentence", safety.CategoryToxicity, 0.70},
		{safety.ContentText, "a perfectly calm sentence", safety.CategorySpam, 0.60},
		{safety.ContentText, "a perfectly calm sentence", safety.CategoryHateSpeech, 0.80},
		{safety.ContentText, "a perfectly calm sentence", safety.CategoryHarassment, 0.70},
		{safety.ContentUsername, "river_otter", safety.CategoryToxicity, 0.50},
		{safety.ContentTribeName, "Night Owls", safety.CategoryToxicity, 0.60},
		{safety.ContentTribeName, "Night Owls", safety.CategorySpam, 0.50},
	}

	for _, tt := range tests {
		name := string(tt.ct) + "/" + string(tt.category)
		t.Run(name, func(t *testing.T) {
			for _, score := range []float64{tt.limit, tt.limit + 0.05, 1.0} {
				sig := Signals{Scores: violation.Scores{tt.category: score}, Text: tt.text}
				if tt.ct == safety.ContentImageUpload {
					sig.Image, sig.Faces = goodImage(), oneFace()
				}
				res, err := Evaluate(tt.ct, sig)
				require.NoError(t, err)
				assert.False(t, res.Allowed, "score %.2f", score)
				assert.Contains(t, res.Codes(), string(tt.category)+"_content")
				assert.Equal(t, safety.ActionBlock, res.Action)
			}

			for _, score := range []float64{0, tt.limit / 2, tt.limit - 0.01} {
				sig := Signals{Scores: violation.Scores{tt.category: score}, Text: tt.text}
				if tt.ct == safety.ContentImageUpload {
					sig.Image, sig.Faces = goodImage(), oneFace()
				}
				res, err := Evaluate(tt.ct, sig)
				require.NoError(t, err)
				assert.True(t, res.Allowed, "score %.2f", score)
				assert.Empty(t, res.Violations)
			}
		})
	}
}

func TestEvaluate_Username(t *testing.T) {
	tests := []struct {
		name     string
		username string
		codes    []string
	}{
		{"valid", "river_otter-7", nil},
		{"too short", "ad", []string{"username_too_short"}},
		{"too long", "abcdefghijklmnopqrstu", []string{"username_too_long"}},
		{"bad charset", "river otter", []string{"username_invalid_characters"}},
		{"reserved", "admin", []string{"username_reserved"}},
		{"reserved any case", "ADMIN", []string{"username_reserved"}},
		{"reserved token", "official_news", []string{"username_reserved"}},
		{"short and bad charset", "a!", []string{"username_too_short", "username_invalid_characters"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// reserved words reject regardless of scores
			res, err := Evaluate(safety.ContentUsername, Signals{Text: tt.username, Scores: violation.Scores{}})
			require.NoError(t, err)
			if tt.codes == nil {
				assert.True(t, res.Allowed)
				return
			}
			assert.False(t, res.Allowed)
			assert.Equal(t, tt.codes, res.Codes())
		})
	}
}

func TestEvaluate_TextStructure(t *testing.T) {
	res, err := Evaluate(safety.ContentText, Signals{Text: "THIS IS ABSOLUTELY OUTRAGEOUS"})
	require.NoError(t, err)
	assert.Equal(t, []string{"excessive_caps"}, res.Codes())

	res, err = Evaluate(safety.ContentText, Signals{Text: "what?!?!?! really!!!! ok..."})
	require.NoError(t, err)
	assert.Contains(t, res.Codes(), "excessive_punctuation")

	res, err = Evaluate(safety.ContentText, Signals{Text: "join us at https://spam.example.com now"})
	require.NoError(t, err)
	assert.Equal(t, []string{"urls_not_allowed"}, res.Codes())
	assert.Equal(t, safety.CategorySpam, res.Violations[0].Category)

	res, err = Evaluate(safety.ContentChatMessage, Signals{Text: "see www.example.com"})
	require.NoError(t, err)
	assert.True(t, res.Allowed, "chat allows links")

	res, err = Evaluate(safety.ContentText, Signals{Text: "OK!"})
	require.NoError(t, err)
	assert.True(t, res.Allowed, "short text is not shouting")
}

func TestEvaluate_Accumulates(t *testing.T) {
	res, err := Evaluate(safety.ContentText, Signals{
		Text:   "BUY NOW AT CHEAPDEALS.COM!!!!!!!!!!!!",
		Scores: violation.Scores{safety.CategorySpam: 0.9, safety.CategoryToxicity: 0.2},
	})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.ElementsMatch(t, []string{"excessive_caps", "excessive_punctuation", "urls_not_allowed", "spam_content"}, res.Codes())
}

func TestEvaluate_Image(t *testing.T) {
	tests := []struct {
		name  string
		meta  classifier.ImageMeta
		faces *classifier.FaceResult
		codes []string
	}{
		{"ok", classifier.ImageMeta{Format: "png", Width: 100, Height: 4000, Bytes: 1}, oneFace(), nil},
		{"gif", classifier.ImageMeta{Format: "gif", Width: 500, Height: 500}, oneFace(), []string{"unsupported_format"}},
		{"tiny", classifier.ImageMeta{Format: "webp", Width: 99, Height: 500}, oneFace(), []string{"image_too_small"}},
		{"huge", classifier.ImageMeta{Format: "jpeg", Width: 4001, Height: 500}, oneFace(), []string{"image_too_large"}},
		{"heavy", classifier.ImageMeta{Format: "jpeg", Width: 500, Height: 500, Bytes: 11 << 20}, oneFace(), []string{"file_too_large"}},
		{"no detector", classifier.ImageMeta{Format: "jpeg", Width: 500, Height: 500}, nil, []string{"no_face_detected"}},
		{"weak face", classifier.ImageMeta{Format: "jpeg", Width: 500, Height: 500},
			&classifier.FaceResult{Faces: []classifier.Face{{Confidence: 0.69}}}, []string{"no_face_detected"}},
		{"two faces", classifier.ImageMeta{Format: "jpeg", Width: 500, Height: 500},
			&classifier.FaceResult{Faces: []classifier.Face{{Confidence: 0.9}, {Confidence: 0.8}}}, []string{"multiple_faces"}},
		{"background face", classifier.ImageMeta{Format: "jpeg", Width: 500, Height: 500},
			&classifier.FaceResult{Faces: []classifier.Face{{Confidence: 0.9}, {Confidence: 0.3}}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := tt.meta
			res, err := Evaluate(safety.ContentImageUpload, Signals{Image: &meta, Faces: tt.faces})
			require.NoError(t, err)
			if tt.codes == nil {
				assert.True(t, res.Allowed)
				return
			}
			assert.Equal(t, tt.codes, res.Codes())
		})
	}
}

func TestEvaluate_Warnings(t *testing.T) {
	res, err := Evaluate(safety.ContentText, Signals{
		Text:   "borderline remark",
		Scores: violation.Scores{safety.CategoryToxicity: 0.6},
	})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, []string{"toxicity_near_threshold"}, res.Warnings)
	assert.Equal(t, safety.ActionWarn, res.Action)
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate(safety.ContentImageUpload, Signals{})
	assert.True(t, safety.IsValidationError(err))

	_, err = Evaluate(safety.ContentType("video"), Signals{})
	assert.ErrorIs(t, err, safety.ErrUnsupportedType)
}

func TestResult_Leading(t *testing.T) {
	res, err := Evaluate(safety.ContentText, Signals{
		Text:   "hello there friend",
		Scores: violation.Scores{safety.CategorySpam: 0.95, safety.CategoryHateSpeech: 0.85, safety.CategoryToxicity: 0.99},
	})
	require.NoError(t, err)

	lead, ok := res.Leading()
	require.True(t, ok)
	assert.Equal(t, "hate_speech_content", lead.Code)
	assert.Equal(t, safety.CategoryHateSpeech, lead.Category)
	assert.Equal(t, safety.SeverityHigh, lead.Severity)

	_, ok = Result{}.Leading()
	assert.False(t, ok)
}

func TestAnalyzeText(t *testing.T) {
	s := AnalyzeText("Hello World, visit example.com")
	assert.Equal(t, 30, s.Length)
	assert.Equal(t, []string{"example.com"}, s.URLs)
	assert.InDelta(t, 2.0/25.0, s.CapsRatio, 1e-9)

	assert.Empty(t, AnalyzeText("wait... what").URLs)
	assert.Equal(t, "admin", Fold("Ádmín"))
	assert.Equal(t, []string{"the", "handle", "42"}, Tokenize("The-Handle_42"))
}
