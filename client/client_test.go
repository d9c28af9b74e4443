package client

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/classifier/classifiertest"
	"github.com/heibot/safety/hooks"
	"github.com/heibot/safety/store/memory"
	"github.com/heibot/safety/violation"
)

// failingStore rejects every write.
type failingStore struct {
	*memory.Store
}

func (failingStore) AppendStrike(ctx context.Context, entry safety.LogEntry, expectedActive int) error {
	return errors.New("disk full")
}

func (failingStore) AppendLog(ctx context.Context, entry safety.LogEntry) error {
	return errors.New("disk full")
}

func fastResilience() classifier.ResilientConfig {
	return classifier.ResilientConfig{Timeout: time.Second}
}

func newTestClient(t *testing.T, opts Options) (*Client, *memory.Store) {
	t.Helper()
	s := memory.New()
	if opts.Store == nil {
		opts.Store = s
	}
	if opts.Resilient.Timeout == 0 {
		opts.Resilient = fastResilience()
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c, s
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, safety.ErrStoreNotConfigured)
}

func TestEvaluateContent_Text(t *testing.T) {
	tests := []struct {
		name       string
		ct         safety.ContentType
		text       string
		scores     violation.Scores
		allowed    bool
		action     safety.DecisionAction
		violations []string
		warnings   []string
	}{
		{
			name:       "clean text",
			ct:         safety.ContentText,
			text:       "looking forward to the hike on saturday",
			scores:     violation.Scores{safety.CategoryToxicity: 0.05},
			allowed:    true,
			action:     safety.ActionAllow,
			violations: []string{},
			warnings:   []string{},
		},
		{
			name:       "near threshold warns",
			ct:         safety.ContentText,
			text:       "that was a rough game",
			scores:     violation.Scores{safety.CategoryToxicity: 0.6},
			allowed:    true,
			action:     safety.ActionWarn,
			violations: []string{},
			warnings:   []string{"toxicity_near_threshold"},
		},
		{
			name:       "toxic text",
			ct:         safety.ContentText,
			text:       "you are worthless",
			scores:     violation.Scores{safety.CategoryToxicity: 0.95},
			allowed:    false,
			action:     safety.ActionBlock,
			violations: []string{"toxicity_content"},
			warnings:   []string{},
		},
		{
			name:       "reserved username",
			ct:         safety.ContentUsername,
			text:       "admin",
			allowed:    false,
			action:     safety.ActionBlock,
			violations: []string{"username_reserved"},
			warnings:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, Options{Texts: &classifiertest.Text{Scores: tt.scores}})

			d, err := c.EvaluateContent(context.Background(), Content{Text: tt.text}, tt.ct, "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.violations, d.Violations)
			assert.Equal(t, tt.warnings, d.Warnings)
			assert.GreaterOrEqual(t, d.Confidence, 0.0)
			assert.LessOrEqual(t, d.Confidence, 1.0)
		})
	}
}

func TestEvaluateContent_RecordsStrike(t *testing.T) {
	var blocked, strikes atomic.Int32
	h := hooks.FuncHooks{
		OnContentBlockedFunc: func(ctx context.Context, e hooks.ContentBlockedEvent) error {
			blocked.Add(1)
			return nil
		},
		OnStrikeRecordedFunc: func(ctx context.Context, e hooks.StrikeRecordedEvent) error {
			strikes.Add(1)
			return nil
		},
	}
	c, s := newTestClient(t, Options{
		Texts: &classifiertest.Text{Scores: violation.Scores{safety.CategoryHateSpeech: 0.9}},
		Hooks: h,
	})
	ctx := context.Background()

	d, err := c.EvaluateContent(ctx, Content{Text: "some hateful words", TargetID: "post-1"}, safety.ContentText, "u1")
	require.NoError(t, err)
	require.NotNil(t, d.Strike)
	assert.Equal(t, safety.LogWarning, d.Strike.Action)
	assert.Equal(t, 1, d.Strike.StrikeCount)
	assert.Equal(t, 0.9, d.Confidence)

	logs, err := s.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, safety.LogWarning, logs[0].Action)
	assert.Equal(t, safety.CategoryHateSpeech, logs[0].Category)
	assert.Equal(t, "post-1", logs[0].TargetID)
	assert.True(t, logs[0].Automated)
	assert.NotEmpty(t, logs[0].Metadata["content_hash"])

	d, err = c.EvaluateContent(ctx, Content{Text: "more hateful words"}, safety.ContentText, "u1")
	require.NoError(t, err)
	assert.Equal(t, safety.LogSoftBlock, d.Strike.Action)

	assert.Equal(t, int32(2), blocked.Load())
	assert.Equal(t, int32(2), strikes.Load())
}

func TestEvaluateContent_StructuralDenialIsNotAStrike(t *testing.T) {
	c, s := newTestClient(t, Options{Texts: &classifiertest.Text{}})
	ctx := context.Background()

	d, err := c.EvaluateContent(ctx, Content{Text: "ab"}, safety.ContentUsername, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Violations, "username_too_short")
	assert.Nil(t, d.Strike)
	assert.Equal(t, 1.0, d.Confidence)

	n, err := c.Ledger().StrikeCount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	logs, err := s.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, safety.LogBlockedText, logs[0].Action)
	assert.True(t, logs[0].Appealable)
}

func TestEvaluateContent_Image(t *testing.T) {
	ctx := context.Background()
	img := pngBytes(t, 200, 200)

	t.Run("portrait passes", func(t *testing.T) {
		c, _ := newTestClient(t, Options{
			Faces:  classifiertest.OneFace(0.95),
			Images: &classifiertest.Image{Scores: violation.Scores{safety.CategoryNSFW: 0.1}},
		})
		d, err := c.EvaluateContent(ctx, Content{Image: img}, safety.ContentImageUpload, "u1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.InDelta(t, 0.9, d.Confidence, 1e-9)
	})

	t.Run("no face is blocked without strike", func(t *testing.T) {
		c, s := newTestClient(t, Options{
			Faces:  &classifiertest.Faces{},
			Images: &classifiertest.Image{},
		})
		d, err := c.EvaluateContent(ctx, Content{Image: img}, safety.ContentImageUpload, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"no_face_detected"}, d.Violations)
		assert.Nil(t, d.Strike)

		logs, err := s.ListLogs(ctx, "u1", 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, safety.LogBlockedImage, logs[0].Action)
	})

	t.Run("nsfw is a strike", func(t *testing.T) {
		c, _ := newTestClient(t, Options{
			Faces:  classifiertest.OneFace(0.95),
			Images: &classifiertest.Image{Scores: violation.Scores{safety.CategoryNSFW: 0.92}},
		})
		d, err := c.EvaluateContent(ctx, Content{Image: img}, safety.ContentImageUpload, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"nsfw_content"}, d.Violations)
		require.NotNil(t, d.Strike)
	})

	t.Run("too small", func(t *testing.T) {
		c, _ := newTestClient(t, Options{Faces: classifiertest.OneFace(0.95), Images: &classifiertest.Image{}})
		d, err := c.EvaluateContent(ctx, Content{Image: pngBytes(t, 50, 50)}, safety.ContentImageUpload, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"image_too_small"}, d.Violations)
	})
}

func TestEvaluateContent_ClassifierFailureFailsClosed(t *testing.T) {
	c, s := newTestClient(t, Options{
		Texts: &classifiertest.Text{Err: errors.New("backend down")},
	})
	ctx := context.Background()

	d, err := c.EvaluateContent(ctx, Content{Text: "perfectly nice text"}, safety.ContentText, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, safety.ActionBlock, d.Action)
	assert.Equal(t, []string{ServiceErrorCode}, d.Violations)
	assert.Nil(t, d.Strike)

	logs, err := s.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, safety.LogBlockedText, logs[0].Action)
	assert.Equal(t, ServiceErrorCode, logs[0].Reason)
	assert.False(t, logs[0].Appealable)
}

func TestEvaluateContent_MissingClassifierFailsClosed(t *testing.T) {
	ctx := context.Background()
	img := pngBytes(t, 200, 200)

	tests := []struct {
		name    string
		opts    Options
		content Content
		ct      safety.ContentType
		action  safety.LogAction
	}{
		{
			name:    "text without text classifier",
			opts:    Options{Images: &classifiertest.Image{}, Faces: classifiertest.OneFace(0.95)},
			content: Content{Text: "you are an idiot and I hate you"},
			ct:      safety.ContentText,
			action:  safety.LogBlockedText,
		},
		{
			name:    "username without text classifier",
			opts:    Options{},
			content: Content{Text: "friendly_name"},
			ct:      safety.ContentUsername,
			action:  safety.LogBlockedText,
		},
		{
			name:    "image without image classifier",
			opts:    Options{Texts: &classifiertest.Text{}, Faces: classifiertest.OneFace(0.95)},
			content: Content{Image: img},
			ct:      safety.ContentImageUpload,
			action:  safety.LogBlockedImage,
		},
		{
			name:    "image without face detector",
			opts:    Options{Images: &classifiertest.Image{}},
			content: Content{Image: img},
			ct:      safety.ContentImageUpload,
			action:  safety.LogBlockedImage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s := newTestClient(t, tt.opts)

			d, err := c.EvaluateContent(ctx, tt.content, tt.ct, "u1")
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, safety.ActionBlock, d.Action)
			require.NotEmpty(t, d.Violations)
			assert.Equal(t, ServiceErrorCode, d.Violations[0])
			assert.Nil(t, d.Strike)

			logs, err := s.ListLogs(ctx, "u1", 10)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, tt.action, logs[0].Action)
			assert.False(t, logs[0].Appealable)
		})
	}
}

func TestEvaluateContent_ValidationHasNoSideEffects(t *testing.T) {
	texts := &classifiertest.Text{}
	c, s := newTestClient(t, Options{Texts: texts})
	ctx := context.Background()

	tests := []struct {
		name    string
		content Content
		ct      safety.ContentType
		user    string
	}{
		{"missing user", Content{Text: "hi"}, safety.ContentText, ""},
		{"unknown type", Content{Text: "hi"}, safety.ContentType("video"), "u1"},
		{"empty text", Content{Text: "   "}, safety.ContentText, "u1"},
		{"empty image", Content{}, safety.ContentImageUpload, "u1"},
		{"corrupt image", Content{Image: []byte("not an image")}, safety.ContentImageUpload, "u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.EvaluateContent(ctx, tt.content, tt.ct, tt.user)
			require.Error(t, err)
			assert.True(t, safety.IsValidationError(err))
		})
	}

	logs, err := s.ListLogs(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, texts.Calls())
}

func TestEvaluateContent_PersistenceFailure(t *testing.T) {
	c, _ := newTestClient(t, Options{
		Store: failingStore{memory.New()},
		Texts: &classifiertest.Text{Scores: violation.Scores{safety.CategorySpam: 0.99}},
	})

	d, err := c.EvaluateContent(context.Background(), Content{Text: "buy cheap followers"}, safety.ContentText, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, safety.ErrPersistence)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"spam_content"}, d.Violations)
	assert.Nil(t, d.Strike)
}

func TestEvaluateContent_HookFailureIgnored(t *testing.T) {
	c, _ := newTestClient(t, Options{
		Texts: &classifiertest.Text{Scores: violation.Scores{safety.CategorySpam: 0.99}},
		Hooks: hooks.FuncHooks{
			OnContentBlockedFunc: func(ctx context.Context, e hooks.ContentBlockedEvent) error {
				return errors.New("queue full")
			},
		},
	})

	d, err := c.EvaluateContent(context.Background(), Content{Text: "buy cheap followers"}, safety.ContentText, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.NotNil(t, d.Strike)
}

func TestEvaluate_Deterministic(t *testing.T) {
	c, _ := newTestClient(t, Options{
		Texts: &classifiertest.Text{Scores: violation.Scores{safety.CategoryToxicity: 0.75, safety.CategorySpam: 0.65}},
	})
	ctx := context.Background()

	first, err := c.evaluate(ctx, Content{Text: "SAME TEXT!!"}, safety.ContentText, "u1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.evaluate(ctx, Content{Text: "SAME TEXT!!"}, safety.ContentText, "u1")
		require.NoError(t, err)
		assert.Equal(t, first.decision, again.decision)
	}
}

func TestSanitize(t *testing.T) {
	c, _ := newTestClient(t, Options{})

	out, changed := c.Sanitize("well shit happens")
	assert.True(t, changed)
	assert.Equal(t, "well **** happens", out)

	out, changed = c.Sanitize("all good here")
	assert.False(t, changed)
	assert.Equal(t, "all good here", out)
}
