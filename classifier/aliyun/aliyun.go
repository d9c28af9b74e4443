package aliyun

import (
	"context"
	"errors"
	"strconv"
	"strings"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	green "github.com/alibabacloud-go/green-20220302/v2/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/bytedance/sonic"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

const providerName = "aliyun"

// greenAPI is the part of the Green client the backend calls.
type greenAPI interface {
	TextModerationWithOptions(req *green.TextModerationRequest, runtime *util.RuntimeOptions) (*green.TextModerationResponse, error)
	ImageModerationWithOptions(req *green.ImageModerationRequest, runtime *util.RuntimeOptions) (*green.ImageModerationResponse, error)
}

// Classifier implements classifier.ImageSafetyClassifier and
// classifier.TextClassifier on Aliyun Green.
type Classifier struct {
	config     Config
	client     greenAPI
	translator violation.Translator
}

// New creates a new Aliyun classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, safety.ErrMissingConfig
	}
	if cfg.ImageService == "" {
		cfg.ImageService = DefaultConfig().ImageService
	}

	client, err := green.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		RegionId:        tea.String(cfg.Region),
		Endpoint:        tea.String(cfg.Endpoint),
	})
	if err != nil {
		return nil, errors.Join(safety.ErrInvalidConfig, err)
	}

	return newWithClient(cfg, client), nil
}

func newWithClient(cfg Config, client greenAPI) *Classifier {
	return &Classifier{
		config:     cfg,
		client:     client,
		translator: newTranslator(),
	}
}

// Name returns the backend name.
func (c *Classifier) Name() string {
	return providerName
}

func (c *Classifier) runtime() *util.RuntimeOptions {
	rt := &util.RuntimeOptions{}
	if c.config.Timeout > 0 {
		ms := int(c.config.Timeout.Milliseconds())
		rt.ReadTimeout = tea.Int(ms)
		rt.ConnectTimeout = tea.Int(ms)
	}
	return rt
}

// ClassifyText implements classifier.TextClassifier.
func (c *Classifier) ClassifyText(ctx context.Context, in classifier.TextInput) (violation.Scores, error) {
	params := map[string]any{"content": in.Text}
	if in.UserID != "" {
		params["accountId"] = in.UserID
	}
	body, err := sonic.MarshalString(params)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.TextModerationWithOptions(&green.TextModerationRequest{
		Service:           tea.String(textService(in.ContentType)),
		ServiceParameters: tea.String(body),
	}, c.runtime())
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if resp == nil || resp.Body == nil || resp.Body.Code == nil {
		return nil, safety.NewProviderError(providerName, "empty", "invalid response from aliyun")
	}
	if code := tea.Int32Value(resp.Body.Code); code != 200 {
		return nil, codeError(code, tea.StringValue(resp.Body.Message))
	}

	var labels, reason string
	if d := resp.Body.Data; d != nil {
		labels, reason = tea.StringValue(d.Labels), tea.StringValue(d.Reason)
	}
	return c.translator.Translate(textHits(labels, reason)), nil
}

// ClassifyImage implements classifier.ImageSafetyClassifier. Green fetches
// the image itself, so the input must carry a URL.
func (c *Classifier) ClassifyImage(ctx context.Context, in classifier.ImageInput) (violation.Scores, error) {
	if in.URL == "" {
		return nil, safety.NewValidationError("url", "aliyun image moderation requires an image url")
	}
	body, err := sonic.MarshalString(map[string]any{"imageUrl": in.URL, "dataId": in.UserID})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.ImageModerationWithOptions(&green.ImageModerationRequest{
		Service:           tea.String(c.config.ImageService),
		ServiceParameters: tea.String(body),
	}, c.runtime())
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if resp == nil || resp.Body == nil || resp.Body.Code == nil {
		return nil, safety.NewProviderError(providerName, "empty", "invalid response from aliyun")
	}
	if code := tea.Int32Value(resp.Body.Code); code != 200 {
		return nil, codeError(code, tea.StringValue(resp.Body.Msg))
	}

	var hits []violation.LabelHit
	if d := resp.Body.Data; d != nil {
		for _, item := range d.Result {
			if item == nil {
				continue
			}
			hits = append(hits, imageHit(tea.StringValue(item.Label), float64(tea.Float32Value(item.Confidence))))
		}
	}
	return c.translator.Translate(hits), nil
}

func textService(ct safety.ContentType) string {
	switch ct {
	case safety.ContentUsername, safety.ContentTribeName:
		return "nickname_detection"
	case safety.ContentText:
		return "comment_detection"
	default:
		return "chat_detection"
	}
}

// textHits splits the comma separated label list. Green reports a single risk
// level for the whole text; it becomes the confidence of every label.
func textHits(labels, reason string) []violation.LabelHit {
	conf := 0.9
	if reason != "" {
		var r struct {
			RiskLevel string `json:"riskLevel"`
		}
		if err := sonic.UnmarshalString(reason, &r); err == nil {
			switch r.RiskLevel {
			case "high":
				conf = 0.95
			case "medium":
				conf = 0.75
			case "low":
				conf = 0.5
			}
		}
	}

	var hits []violation.LabelHit
	for _, l := range strings.Split(labels, ",") {
		if l = strings.TrimSpace(l); l != "" {
			hits = append(hits, violation.LabelHit{Label: l, Confidence: conf})
		}
	}
	return hits
}

// imageHit converts a Green image result, whose confidence is on a 0-100 scale.
func imageHit(label string, confidence float64) violation.LabelHit {
	return violation.LabelHit{Label: label, Confidence: confidence / 100}
}

func codeError(code int32, msg string) error {
	return safety.NewProviderError(providerName, strconv.Itoa(int(code)), msg).WithStatusCode(int(code))
}

func wrapSDKError(err error) error {
	var sdkErr *tea.SDKError
	if errors.As(err, &sdkErr) {
		pe := safety.NewProviderError(providerName, tea.StringValue(sdkErr.Code), tea.StringValue(sdkErr.Message)).WithCause(err)
		if sdkErr.StatusCode != nil {
			pe = pe.WithStatusCode(tea.IntValue(sdkErr.StatusCode))
		}
		return pe
	}
	return safety.WrapNetworkError(err)
}

var (
	_ classifier.TextClassifier        = (*Classifier)(nil)
	_ classifier.ImageSafetyClassifier = (*Classifier)(nil)
)
