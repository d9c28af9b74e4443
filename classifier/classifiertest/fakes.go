// Package classifiertest provides deterministic classifier backends for tests.
package classifiertest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

// Faces is a FaceDetector returning a fixed result.
type Faces struct {
	Result classifier.FaceResult
	Err    error
	Delay  time.Duration
	calls  atomic.Int32
}

// OneFace returns a detector that sees a single face at the given confidence.
func OneFace(confidence float64) *Faces {
	return &Faces{Result: classifier.FaceResult{Faces: []classifier.Face{{Confidence: confidence}}}}
}

// Name implements classifier.Named.
func (f *Faces) Name() string { return "fake_faces" }

// DetectFaces implements classifier.FaceDetector.
func (f *Faces) DetectFaces(ctx context.Context, in classifier.ImageInput) (classifier.FaceResult, error) {
	f.calls.Add(1)
	if err := wait(ctx, f.Delay); err != nil {
		return classifier.FaceResult{}, err
	}
	return f.Result, f.Err
}

// Calls returns how many times the detector ran.
func (f *Faces) Calls() int { return int(f.calls.Load()) }

// Image is an ImageSafetyClassifier returning fixed scores.
type Image struct {
	Scores violation.Scores
	Err    error
	Delay  time.Duration
	Panic  bool
	calls  atomic.Int32
}

// Name implements classifier.Named.
func (c *Image) Name() string { return "fake_image" }

// ClassifyImage implements classifier.ImageSafetyClassifier.
func (c *Image) ClassifyImage(ctx context.Context, in classifier.ImageInput) (violation.Scores, error) {
	c.calls.Add(1)
	if c.Panic {
		panic("fake image classifier panic")
	}
	if err := wait(ctx, c.Delay); err != nil {
		return nil, err
	}
	return copyScores(c.Scores), c.Err
}

// Calls returns how many times the classifier ran.
func (c *Image) Calls() int { return int(c.calls.Load()) }

// Text is a TextClassifier returning fixed scores, optionally per input text.
type Text struct {
	Scores violation.Scores
	ByText map[string]violation.Scores
	Err    error
	Delay  time.Duration
	calls  atomic.Int32
}

// Name implements classifier.Named.
func (c *Text) Name() string { return "fake_text" }

// ClassifyText implements classifier.TextClassifier.
func (c *Text) ClassifyText(ctx context.Context, in classifier.TextInput) (violation.Scores, error) {
	c.calls.Add(1)
	if err := wait(ctx, c.Delay); err != nil {
		return nil, err
	}
	if s, ok := c.ByText[in.Text]; ok {
		return copyScores(s), c.Err
	}
	return copyScores(c.Scores), c.Err
}

// Calls returns how many times the classifier ran.
func (c *Text) Calls() int { return int(c.calls.Load()) }

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func copyScores(s violation.Scores) violation.Scores {
	out := make(violation.Scores, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
