// Package huawei scores images and text with Huawei Cloud Moderation v3.
package huawei

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/auth/basic"
	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/sdkerr"
	moderation "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3"
	"github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3/model"
	region "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/moderation/v3/region"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

const providerName = "huawei"

// Config holds the configuration for the Huawei backend.
type Config struct {
	classifier.BackendConfig

	ProjectID string

	// ImageCategories are the checks requested for images.
	ImageCategories []string
}

// DefaultConfig returns the default Huawei configuration.
func DefaultConfig() Config {
	return Config{
		BackendConfig: classifier.BackendConfig{
			Region:  "cn-north-4",
			Timeout: 5 * time.Second,
		},
		ImageCategories: []string{"porn", "terrorism", "image_text"},
	}
}

type moderationAPI interface {
	RunTextModeration(req *model.RunTextModerationRequest) (*model.RunTextModerationResponse, error)
	CheckImageModeration(req *model.CheckImageModerationRequest) (*model.CheckImageModerationResponse, error)
}

// Classifier implements classifier.ImageSafetyClassifier and
// classifier.TextClassifier on Huawei Cloud.
type Classifier struct {
	config     Config
	client     moderationAPI
	translator violation.Translator
}

// New creates a new Huawei classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, safety.ErrMissingConfig
	}
	if len(cfg.ImageCategories) == 0 {
		cfg.ImageCategories = DefaultConfig().ImageCategories
	}

	auth := basic.NewCredentialsBuilder().
		WithAk(cfg.AccessKeyID).
		WithSk(cfg.AccessKeySecret).
		WithProjectId(cfg.ProjectID).
		Build()

	reg, err := region.SafeValueOf(cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("%w: huawei region: %w", safety.ErrInvalidConfig, err)
	}

	client := moderation.NewModerationClient(
		moderation.ModerationClientBuilder().
			WithRegion(reg).
			WithCredential(auth).
			Build())

	return &Classifier{
		config:     cfg,
		client:     client,
		translator: newTranslator(),
	}, nil
}

// Name returns the backend name.
func (c *Classifier) Name() string {
	return providerName
}

// ClassifyText implements classifier.TextClassifier. The SDK has no context
// support; callers bound the call through the resilient wrapper.
func (c *Classifier) ClassifyText(ctx context.Context, in classifier.TextInput) (violation.Scores, error) {
	eventType := textEventType(in.ContentType)
	resp, err := c.client.RunTextModeration(&model.RunTextModerationRequest{
		Body: &model.TextDetectionReq{
			EventType: &eventType,
			Data: &model.TextDetectionDataReq{
				Text: in.Text,
			},
		},
	})
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if resp == nil || resp.Result == nil {
		return nil, safety.NewProviderError(providerName, "empty", "invalid response from huawei")
	}

	r := resp.Result
	var suggestion, label string
	if r.Suggestion != nil {
		suggestion = string(*r.Suggestion)
	}
	if r.Label != nil {
		label = *r.Label
	}
	var details []labelConfidence
	if r.Details != nil {
		for _, d := range *r.Details {
			if d.Label == nil {
				continue
			}
			lc := labelConfidence{label: *d.Label}
			if d.Confidence != nil {
				lc.confidence = float64(*d.Confidence)
			}
			details = append(details, lc)
		}
	}
	return c.translator.Translate(textHits(suggestion, label, details)), nil
}

// ClassifyImage implements classifier.ImageSafetyClassifier.
func (c *Classifier) ClassifyImage(ctx context.Context, in classifier.ImageInput) (violation.Scores, error) {
	eventType := "head_image"
	categories := c.config.ImageCategories
	body := &model.ImageDetectionReq{
		EventType:  &eventType,
		Categories: &categories,
	}
	switch {
	case len(in.Data) > 0:
		image := base64.StdEncoding.EncodeToString(in.Data)
		body.Image = &image
	case in.URL != "":
		url := in.URL
		body.Url = &url
	default:
		return nil, safety.NewValidationError("image", "no image data or url")
	}

	resp, err := c.client.CheckImageModeration(&model.CheckImageModerationRequest{Body: body})
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if resp == nil || resp.Result == nil {
		return nil, safety.NewProviderError(providerName, "empty", "invalid response from huawei")
	}

	r := resp.Result
	var suggestion, category string
	if r.Suggestion != nil {
		suggestion = string(*r.Suggestion)
	}
	if r.Category != nil {
		category = *r.Category
	}
	var labels []string
	if r.Details != nil {
		for _, d := range *r.Details {
			if d.Label != nil {
				labels = append(labels, *d.Label)
			}
		}
	}
	return c.translator.Translate(imageHits(suggestion, category, labels)), nil
}

type labelConfidence struct {
	label      string
	confidence float64
}

// suggestionConfidence turns a verdict into a confidence for labels that
// carry none of their own.
func suggestionConfidence(suggestion string) float64 {
	switch strings.ToLower(suggestion) {
	case "block":
		return 0.95
	case "review":
		return 0.75
	}
	return 0
}

func textHits(suggestion, label string, details []labelConfidence) []violation.LabelHit {
	hits := make([]violation.LabelHit, 0, len(details)+1)
	if label != "" {
		hits = append(hits, violation.LabelHit{Label: label, Confidence: suggestionConfidence(suggestion)})
	}
	for _, d := range details {
		hits = append(hits, violation.LabelHit{Label: d.label, Confidence: d.confidence})
	}
	return hits
}

// imageHits scores the category and every detail label with the verdict's
// confidence; image details carry no score of their own.
func imageHits(suggestion, category string, labels []string) []violation.LabelHit {
	conf := suggestionConfidence(suggestion)
	if conf == 0 {
		return nil
	}
	hits := make([]violation.LabelHit, 0, len(labels)+1)
	if category != "" {
		hits = append(hits, violation.LabelHit{Label: category, Confidence: conf})
	}
	for _, l := range labels {
		hits = append(hits, violation.LabelHit{Label: l, Confidence: conf})
	}
	return hits
}

func textEventType(ct safety.ContentType) string {
	switch ct {
	case safety.ContentUsername, safety.ContentTribeName:
		return "nickname"
	case safety.ContentChatMessage:
		return "chat"
	default:
		return "comment"
	}
}

func wrapSDKError(err error) error {
	var svcErr *sdkerr.ServiceResponseError
	if errors.As(err, &svcErr) {
		return safety.NewProviderError(providerName, svcErr.ErrorCode, svcErr.ErrorMessage).
			WithStatusCode(svcErr.StatusCode).
			WithCause(err)
	}
	return safety.WrapNetworkError(err)
}

// Huawei labels, text and image.
var labelMappings = map[string]violation.LabelMapping{
	"porn":           {Category: safety.CategoryNSFW},
	"sexy":           {Category: safety.CategoryNSFW, Weight: 0.8},
	"sexual_hint":    {Category: safety.CategoryNSFW, Weight: 0.8},
	"moan":           {Category: safety.CategoryNSFW, Weight: 0.8},
	"terrorism":      {Category: safety.CategoryViolence},
	"violence":       {Category: safety.CategoryViolence},
	"bloody":         {Category: safety.CategoryViolence},
	"weapon":         {Category: safety.CategoryWeapons},
	"abuse":          {Category: safety.CategoryToxicity},
	"insult":         {Category: safety.CategoryHarassment},
	"discrimination": {Category: safety.CategoryHateSpeech},
	"ad":             {Category: safety.CategorySpam},
	"flood":          {Category: safety.CategorySpam},
	"meaningless":    {Category: safety.CategorySpam, Weight: 0.6},
	"qrcode":         {Category: safety.CategorySpam},
	"contraband":     {Category: safety.CategoryDrugs},
	"ban":            {Category: safety.CategoryOther},
	"politics":       {Category: safety.CategoryOther},
	"image_text":     {Category: safety.CategoryOther},

	"normal": {},
	"pass":   {},
}

func newTranslator() violation.Translator {
	return violation.NewBaseTranslator(providerName, labelMappings)
}

var (
	_ classifier.TextClassifier        = (*Classifier)(nil)
	_ classifier.ImageSafetyClassifier = (*Classifier)(nil)
)
