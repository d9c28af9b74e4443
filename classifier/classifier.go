// Package classifier defines the scoring capabilities the moderation core
// consumes and wraps backends so they always answer within a time budget and
// fail closed.
package classifier

import (
	"context"
	"time"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/violation"
)

// Score keys produced by image safety classifiers.
var ImageCategories = []safety.Category{
	safety.CategoryNSFW,
	safety.CategoryViolence,
	safety.CategoryWeapons,
}

// Score keys produced by text classifiers.
var TextCategories = []safety.Category{
	safety.CategoryToxicity,
	safety.CategorySpam,
	safety.CategoryHateSpeech,
	safety.CategoryHarassment,
}

// ImageInput references an image either by its bytes or by a URL the backend
// can fetch. Cloud backends require URL; the remote backend accepts either.
type ImageInput struct {
	Data   []byte
	URL    string
	UserID string
}

// TextInput is a piece of text with the profile it is evaluated under.
type TextInput struct {
	Text        string
	ContentType safety.ContentType
	UserID      string
}

// Face is a single detected face.
type Face struct {
	Confidence float64 `json:"confidence"`
	X          int     `json:"x,omitempty"`
	Y          int     `json:"y,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
}

// FaceResult is the output of a face detector.
type FaceResult struct {
	Faces []Face `json:"faces"`
}

// CountAbove returns how many faces have at least the given confidence.
func (r FaceResult) CountAbove(minConfidence float64) int {
	n := 0
	for _, f := range r.Faces {
		if f.Confidence >= minConfidence {
			n++
		}
	}
	return n
}

// FaceDetector finds faces in an image.
type FaceDetector interface {
	DetectFaces(ctx context.Context, in ImageInput) (FaceResult, error)
}

// ImageSafetyClassifier scores an image per category.
type ImageSafetyClassifier interface {
	ClassifyImage(ctx context.Context, in ImageInput) (violation.Scores, error)
}

// TextClassifier scores text per category.
type TextClassifier interface {
	ClassifyText(ctx context.Context, in TextInput) (violation.Scores, error)
}

// Named is implemented by backends that report a name for logs and metrics.
type Named interface {
	Name() string
}

// BackendConfig is the base configuration shared by cloud backends.
type BackendConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	Region          string
	Endpoint        string
	Timeout         time.Duration
}

func nameOf(v any, fallback string) string {
	if n, ok := v.(Named); ok {
		return n.Name()
	}
	return fallback
}
