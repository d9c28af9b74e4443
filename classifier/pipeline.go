package classifier

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/heibot/safety/violation"
)

// PipelineMode decides how a secondary backend is consulted.
type PipelineMode string

const (
	// PipelineCascade asks the secondary only when the primary's top score
	// reaches the trigger.
	PipelineCascade PipelineMode = "cascade"

	// PipelineParallel asks both backends at once.
	PipelineParallel PipelineMode = "parallel"
)

// PipelineConfig configures a two-backend pipeline.
type PipelineConfig struct {
	Mode PipelineMode

	// Trigger is the primary top score at or above which a cascade consults
	// the secondary.
	Trigger float64
}

// DefaultPipelineConfig cascades on scores of 0.4 or more.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{Mode: PipelineCascade, Trigger: 0.4}
}

type scoreFunc[I any] func(ctx context.Context, in I) (violation.Scores, error)

// runPipeline merges primary and secondary scores most-strict. Any backend
// error is returned together with whatever scores were gathered, so fail
// closed results from a resilient backend still reach the caller.
func runPipeline[I any](ctx context.Context, cfg PipelineConfig, primary, secondary scoreFunc[I], in I) (violation.Scores, error) {
	if secondary == nil {
		return primary(ctx, in)
	}

	if cfg.Mode == PipelineParallel {
		var a, b violation.Scores
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			a, err = primary(gctx, in)
			return err
		})
		g.Go(func() error {
			var err error
			b, err = secondary(gctx, in)
			return err
		})
		err := g.Wait()
		return violation.Merge(a, b), err
	}

	first, err := primary(ctx, in)
	if err != nil {
		return first, err
	}
	if _, top := first.Max(); top < cfg.Trigger {
		return first, nil
	}
	second, err := secondary(ctx, in)
	return violation.Merge(first, second), err
}

// TextPipeline combines two text classifiers.
type TextPipeline struct {
	primary   TextClassifier
	secondary TextClassifier
	cfg       PipelineConfig
}

// NewTextPipeline creates a pipeline; secondary may be nil.
func NewTextPipeline(primary, secondary TextClassifier, cfg PipelineConfig) *TextPipeline {
	return &TextPipeline{primary: primary, secondary: secondary, cfg: cfg}
}

// ClassifyText implements TextClassifier.
func (p *TextPipeline) ClassifyText(ctx context.Context, in TextInput) (violation.Scores, error) {
	var second scoreFunc[TextInput]
	if p.secondary != nil {
		second = p.secondary.ClassifyText
	}
	return runPipeline(ctx, p.cfg, p.primary.ClassifyText, second, in)
}

// Name implements Named.
func (p *TextPipeline) Name() string {
	if p.secondary == nil {
		return nameOf(p.primary, "text")
	}
	return nameOf(p.primary, "text") + "+" + nameOf(p.secondary, "text")
}

// ImagePipeline combines two image safety classifiers.
type ImagePipeline struct {
	primary   ImageSafetyClassifier
	secondary ImageSafetyClassifier
	cfg       PipelineConfig
}

// NewImagePipeline creates a pipeline; secondary may be nil.
func NewImagePipeline(primary, secondary ImageSafetyClassifier, cfg PipelineConfig) *ImagePipeline {
	return &ImagePipeline{primary: primary, secondary: secondary, cfg: cfg}
}

// ClassifyImage implements ImageSafetyClassifier.
func (p *ImagePipeline) ClassifyImage(ctx context.Context, in ImageInput) (violation.Scores, error) {
	var second scoreFunc[ImageInput]
	if p.secondary != nil {
		second = p.secondary.ClassifyImage
	}
	return runPipeline(ctx, p.cfg, p.primary.ClassifyImage, second, in)
}

// Name implements Named.
func (p *ImagePipeline) Name() string {
	if p.secondary == nil {
		return nameOf(p.primary, "image")
	}
	return nameOf(p.primary, "image") + "+" + nameOf(p.secondary, "image")
}
