package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RussellLuo/slidingwindow"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/utils"
	"github.com/heibot/safety/violation"
)

// ResilientConfig configures the resilient wrappers.
type ResilientConfig struct {
	// Timeout bounds a whole call including retries.
	Timeout time.Duration

	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	EnableRetry  bool

	// QPS caps outbound calls per second to the backend; 0 disables the throttle.
	QPS int64

	Logger APILogger
}

// DefaultResilientConfig returns the request-path defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		EnableRetry:  true,
	}
}

type guard struct {
	provider string
	cfg      ResilientConfig
	retryer  *utils.Retryer
	limiter  *slidingwindow.Limiter
	logger   APILogger
}

func windowFunc() (slidingwindow.Window, slidingwindow.StopFunc) {
	return slidingwindow.NewLocalWindow()
}

func newGuard(provider string, cfg ResilientConfig) *guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResilientConfig().Timeout
	}
	g := &guard{
		provider: provider,
		cfg:      cfg,
		logger:   cfg.Logger,
	}
	if g.logger == nil {
		g.logger = NopLogger{}
	}
	if cfg.EnableRetry {
		g.retryer = utils.NewRetryer(utils.RetryConfig{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   2.0,
			Jitter:       0.1,
		})
	}
	if cfg.QPS > 0 {
		g.limiter, _ = slidingwindow.NewLimiter(time.Second, cfg.QPS, windowFunc)
	}
	return g
}

type outcome[T any] struct {
	val T
	err error
}

// call runs fn under the guard's deadline, throttle and retry policy. A
// backend that ignores its context still cannot hold the caller past the
// deadline, and a panic is reported as an error.
func call[T any](ctx context.Context, g *guard, op string, fn func(context.Context) (T, error)) (T, int, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	attempts := 0
	once := func() (T, error) {
		attempts++
		var zero T
		if g.limiter != nil && !g.limiter.Allow() {
			classifierThrottledCount.WithLabelValues(g.provider).Inc()
			return zero, safety.NewProviderError(g.provider, "throttled", "outbound budget exhausted").
				WithCategory(safety.ErrorCategoryRateLimit)
		}

		ch := make(chan outcome[T], 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- outcome[T]{err: fmt.Errorf("%s %s panicked: %v", g.provider, op, r)}
				}
			}()
			v, err := fn(ctx)
			ch <- outcome[T]{val: v, err: err}
		}()

		select {
		case res := <-ch:
			return res.val, res.err
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %s %s", safety.ErrTimeout, g.provider, op)
		}
	}

	var (
		val T
		err error
	)
	if g.retryer != nil {
		val, err = utils.DoWithResult(ctx, g.retryer, once)
	} else {
		val, err = once()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s %s", safety.ErrTimeout, g.provider, op)
	}
	return val, attempts - 1, err
}

func (g *guard) scores(ctx context.Context, op, userID string, size int, categories []safety.Category,
	fn func(context.Context) (violation.Scores, error)) (violation.Scores, error) {

	timer := StartLog(g.logger, g.provider, op).WithUser(userID).WithInputSize(size)
	scores, retries, err := call(ctx, g, op, fn)
	timer.WithRetryCount(retries)

	if err != nil {
		d := timer.Error(ctx, err)
		g.observe(op, "fail_closed", d)
		return violation.MaxRisk(categories...), fmt.Errorf("%w: %s %s: %w", safety.ErrClassifierUnavailable, g.provider, op, err)
	}
	if scores == nil {
		scores = violation.Scores{}
	}
	scores.Clamp()

	top, score := scores.Max()
	d := timer.Success(ctx, string(top), score)
	g.observe(op, "ok", d)
	return scores, nil
}

func (g *guard) observe(op, result string, d time.Duration) {
	classifierCallDuration.WithLabelValues(g.provider, op).Observe(d.Seconds())
	classifierCallCount.WithLabelValues(g.provider, op, result).Inc()
}

// ResilientFaceDetector bounds and logs a FaceDetector. On failure it
// reports no faces, which the image profile treats as a denial.
type ResilientFaceDetector struct {
	inner FaceDetector
	g     *guard
}

// WrapFaceDetector wraps d.
func WrapFaceDetector(d FaceDetector, cfg ResilientConfig) *ResilientFaceDetector {
	return &ResilientFaceDetector{inner: d, g: newGuard(nameOf(d, "faces"), cfg)}
}

// DetectFaces implements FaceDetector.
func (r *ResilientFaceDetector) DetectFaces(ctx context.Context, in ImageInput) (FaceResult, error) {
	const op = "detect_faces"
	timer := StartLog(r.g.logger, r.g.provider, op).WithUser(in.UserID).WithInputSize(len(in.Data))
	res, retries, err := call(ctx, r.g, op, func(ctx context.Context) (FaceResult, error) {
		return r.inner.DetectFaces(ctx, in)
	})
	timer.WithRetryCount(retries)

	if err != nil {
		d := timer.Error(ctx, err)
		r.g.observe(op, "fail_closed", d)
		return FaceResult{}, fmt.Errorf("%w: %s %s: %w", safety.ErrClassifierUnavailable, r.g.provider, op, err)
	}
	d := timer.Success(ctx, "faces", float64(len(res.Faces)))
	r.g.observe(op, "ok", d)
	return res, nil
}

// Name returns the wrapped backend name.
func (r *ResilientFaceDetector) Name() string { return r.g.provider }

// ResilientImageClassifier bounds and logs an ImageSafetyClassifier.
type ResilientImageClassifier struct {
	inner ImageSafetyClassifier
	g     *guard
}

// WrapImageClassifier wraps c.
func WrapImageClassifier(c ImageSafetyClassifier, cfg ResilientConfig) *ResilientImageClassifier {
	return &ResilientImageClassifier{inner: c, g: newGuard(nameOf(c, "image"), cfg)}
}

// ClassifyImage implements ImageSafetyClassifier. On failure every image
// category is reported at full confidence alongside the error.
func (r *ResilientImageClassifier) ClassifyImage(ctx context.Context, in ImageInput) (violation.Scores, error) {
	return r.g.scores(ctx, "classify_image", in.UserID, len(in.Data), ImageCategories, func(ctx context.Context) (violation.Scores, error) {
		return r.inner.ClassifyImage(ctx, in)
	})
}

// Name returns the wrapped backend name.
func (r *ResilientImageClassifier) Name() string { return r.g.provider }

// ResilientTextClassifier bounds and logs a TextClassifier.
type ResilientTextClassifier struct {
	inner TextClassifier
	g     *guard
}

// WrapTextClassifier wraps c.
func WrapTextClassifier(c TextClassifier, cfg ResilientConfig) *ResilientTextClassifier {
	return &ResilientTextClassifier{inner: c, g: newGuard(nameOf(c, "text"), cfg)}
}

// ClassifyText implements TextClassifier. On failure every text category is
// reported at full confidence alongside the error.
func (r *ResilientTextClassifier) ClassifyText(ctx context.Context, in TextInput) (violation.Scores, error) {
	return r.g.scores(ctx, "classify_text", in.UserID, len(in.Text), TextCategories, func(ctx context.Context) (violation.Scores, error) {
		return r.inner.ClassifyText(ctx, in)
	})
}

// Name returns the wrapped backend name.
func (r *ResilientTextClassifier) Name() string { return r.g.provider }

var (
	_ FaceDetector          = (*ResilientFaceDetector)(nil)
	_ ImageSafetyClassifier = (*ResilientImageClassifier)(nil)
	_ TextClassifier        = (*ResilientTextClassifier)(nil)
)
