// Package remote scores content with a self-hosted HTTP JSON model server.
//
// The server exposes three endpoints, each taking a JSON body and answering
// {"code":0,"message":"","scores":{...},"faces":[...]}:
//
//	POST {endpoint}/v1/faces
//	POST {endpoint}/v1/image
//	POST {endpoint}/v1/text
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

const providerName = "remote"

// Config holds the configuration for the remote backend.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration

	// Retries of the HTTP transport, on connection errors and 5xx.
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns the default remote configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		RetryWaitMin: 50 * time.Millisecond,
		RetryWaitMax: 500 * time.Millisecond,
	}
}

// leveledZap adapts zap to retryablehttp. Transport errors are logged at
// warn since the call may still succeed on retry.
type leveledZap struct {
	inner *zap.SugaredLogger
}

func (l leveledZap) Error(msg string, keysAndValues ...any) { l.inner.Warnw(msg, keysAndValues...) }
func (l leveledZap) Warn(msg string, keysAndValues ...any)  { l.inner.Warnw(msg, keysAndValues...) }
func (l leveledZap) Info(msg string, keysAndValues ...any)  { l.inner.Infow(msg, keysAndValues...) }
func (l leveledZap) Debug(msg string, keysAndValues ...any) { l.inner.Debugw(msg, keysAndValues...) }

// Classifier implements all three classifier capabilities over HTTP.
type Classifier struct {
	config     Config
	httpClient *http.Client
}

// New creates a new remote classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: remote endpoint", safety.ErrMissingConfig)
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = def.RetryWaitMax
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(leveledZap{logger.Named("remote").Sugar()})
	retryClient.CheckRetry = retryPolicy
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	httpClient := retryClient.StandardClient()
	httpClient.Timeout = cfg.Timeout

	return &Classifier{config: cfg, httpClient: httpClient}, nil
}

// retryPolicy leaves 429 to the caller, which has its own throttle.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Name returns the backend name.
func (c *Classifier) Name() string {
	return providerName
}

type imageRequest struct {
	Image  string `json:"image,omitempty"`
	URL    string `json:"url,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type textRequest struct {
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
	UserID      string `json:"user_id,omitempty"`
}

type response struct {
	Code    int                `json:"code"`
	Message string             `json:"message"`
	Scores  map[string]float64 `json:"scores"`
	Faces   []classifier.Face  `json:"faces"`
}

func newImageRequest(in classifier.ImageInput) (imageRequest, error) {
	req := imageRequest{URL: in.URL, UserID: in.UserID}
	if len(in.Data) > 0 {
		req.Image = base64.StdEncoding.EncodeToString(in.Data)
	}
	if req.Image == "" && req.URL == "" {
		return req, safety.NewValidationError("image", "no image data or url")
	}
	return req, nil
}

// DetectFaces implements classifier.FaceDetector.
func (c *Classifier) DetectFaces(ctx context.Context, in classifier.ImageInput) (classifier.FaceResult, error) {
	req, err := newImageRequest(in)
	if err != nil {
		return classifier.FaceResult{}, err
	}
	resp, err := c.post(ctx, "/v1/faces", req)
	if err != nil {
		return classifier.FaceResult{}, err
	}
	return classifier.FaceResult{Faces: resp.Faces}, nil
}

// ClassifyImage implements classifier.ImageSafetyClassifier.
func (c *Classifier) ClassifyImage(ctx context.Context, in classifier.ImageInput) (violation.Scores, error) {
	req, err := newImageRequest(in)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, "/v1/image", req)
	if err != nil {
		return nil, err
	}
	return toScores(resp.Scores), nil
}

// ClassifyText implements classifier.TextClassifier.
func (c *Classifier) ClassifyText(ctx context.Context, in classifier.TextInput) (violation.Scores, error) {
	resp, err := c.post(ctx, "/v1/text", textRequest{
		Text:        in.Text,
		ContentType: string(in.ContentType),
		UserID:      in.UserID,
	})
	if err != nil {
		return nil, err
	}
	return toScores(resp.Scores), nil
}

func (c *Classifier) post(ctx context.Context, path string, body any) (*response, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, safety.WrapNetworkError(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, safety.WrapNetworkError(err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, safety.NewProviderError(providerName, strconv.Itoa(httpResp.StatusCode), strings.TrimSpace(string(raw))).
			WithStatusCode(httpResp.StatusCode)
	}

	var resp response
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return nil, safety.NewProviderError(providerName, "decode", "malformed response").WithCause(err)
	}
	if resp.Code != 0 {
		return nil, safety.NewProviderError(providerName, strconv.Itoa(resp.Code), resp.Message)
	}
	return &resp, nil
}

// toScores keys the server's scores by category. The server speaks the
// category vocabulary directly, so no label translation is needed.
func toScores(in map[string]float64) violation.Scores {
	out := make(violation.Scores, len(in))
	for k, v := range in {
		out[safety.Category(strings.ToLower(k))] = v
	}
	return out.Clamp()
}

var (
	_ classifier.FaceDetector          = (*Classifier)(nil)
	_ classifier.ImageSafetyClassifier = (*Classifier)(nil)
	_ classifier.TextClassifier        = (*Classifier)(nil)
)
