// Package tencent scores images with Tencent Cloud IMS and text with TMS.
package tencent

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	tcerr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	ims "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/ims/v20201229"
	tms "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tms/v20201229"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

const providerName = "tencent"

// Config holds the configuration for the Tencent backend.
type Config struct {
	classifier.BackendConfig

	// BizType selects a policy configured in the Tencent console; empty uses the default.
	TextBizType  string
	ImageBizType string
}

// DefaultConfig returns the default Tencent configuration.
func DefaultConfig() Config {
	return Config{
		BackendConfig: classifier.BackendConfig{
			Region:  "ap-guangzhou",
			Timeout: 5 * time.Second,
		},
	}
}

type textAPI interface {
	TextModerationWithContext(ctx context.Context, req *tms.TextModerationRequest) (*tms.TextModerationResponse, error)
}

type imageAPI interface {
	ImageModerationWithContext(ctx context.Context, req *ims.ImageModerationRequest) (*ims.ImageModerationResponse, error)
}

// Classifier implements classifier.ImageSafetyClassifier and
// classifier.TextClassifier on Tencent Cloud.
type Classifier struct {
	config     Config
	text       textAPI
	image      imageAPI
	translator violation.Translator
}

// New creates a new Tencent classifier.
func New(cfg Config) (*Classifier, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, safety.ErrMissingConfig
	}
	credential := common.NewCredential(cfg.AccessKeyID, cfg.AccessKeySecret)

	textProfile := profile.NewClientProfile()
	textProfile.HttpProfile.Endpoint = "tms.tencentcloudapi.com"
	imageProfile := profile.NewClientProfile()
	imageProfile.HttpProfile.Endpoint = "ims.tencentcloudapi.com"
	if cfg.Timeout > 0 {
		secs := int(cfg.Timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		textProfile.HttpProfile.ReqTimeout = secs
		imageProfile.HttpProfile.ReqTimeout = secs
	}

	tmsClient, err := tms.NewClient(credential, cfg.Region, textProfile)
	if err != nil {
		return nil, errors.Join(safety.ErrInvalidConfig, err)
	}
	imsClient, err := ims.NewClient(credential, cfg.Region, imageProfile)
	if err != nil {
		return nil, errors.Join(safety.ErrInvalidConfig, err)
	}

	return newWithClients(cfg, tmsClient, imsClient), nil
}

func newWithClients(cfg Config, text textAPI, image imageAPI) *Classifier {
	return &Classifier{
		config:     cfg,
		text:       text,
		image:      image,
		translator: newTranslator(),
	}
}

// Name returns the backend name.
func (c *Classifier) Name() string {
	return providerName
}

// ClassifyText implements classifier.TextClassifier.
func (c *Classifier) ClassifyText(ctx context.Context, in classifier.TextInput) (violation.Scores, error) {
	req := tms.NewTextModerationRequest()
	content := base64.StdEncoding.EncodeToString([]byte(in.Text))
	req.Content = &content
	if c.config.TextBizType != "" {
		req.BizType = &c.config.TextBizType
	}
	if in.UserID != "" {
		userID := in.UserID
		req.User = &tms.User{UserId: &userID}
	}

	resp, err := c.text.TextModerationWithContext(ctx, req)
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if resp == nil || resp.Response == nil {
		return nil, safety.NewProviderError(providerName, "empty", "invalid response from tms")
	}

	r := resp.Response
	hits := []violation.LabelHit{labelHit(deref(r.Label), derefInt(r.Score))}
	for _, d := range r.DetailResults {
		if d == nil {
			continue
		}
		hits = append(hits, labelHit(deref(d.Label), derefInt(d.Score)))
	}
	return c.translator.Translate(hits), nil
}

// ClassifyImage implements classifier.ImageSafetyClassifier. Raw bytes are
// sent inline; otherwise IMS fetches the URL.
func (c *Classifier) ClassifyImage(ctx context.Context, in classifier.ImageInput) (violation.Scores, error) {
	req := ims.NewImageModerationRequest()
	switch {
	case len(in.Data) > 0:
		content := base64.StdEncoding.EncodeToString(in.Data)
		req.FileContent = &content
	case in.URL != "":
		url := in.URL
		req.FileUrl = &url
	default:
		return nil, safety.NewValidationError("image", "no image data or url")
	}
	if c.config.ImageBizType != "" {
		req.BizType = &c.config.ImageBizType
	}
	if in.UserID != "" {
		userID := in.UserID
		req.User = &ims.User{UserId: &userID}
	}

	resp, err := c.image.ImageModerationWithContext(ctx, req)
	if err != nil {
		return nil, wrapSDKError(err)
	}
	if resp == nil || resp.Response == nil {
		return nil, safety.NewProviderError(providerName, "empty", "invalid response from ims")
	}

	r := resp.Response
	score := derefInt(r.Score)
	hits := []violation.LabelHit{labelHit(deref(r.Label), score), labelHit(deref(r.SubLabel), score)}
	for _, lr := range r.LabelResults {
		if lr == nil {
			continue
		}
		hits = append(hits, labelHit(deref(lr.Label), int64(derefUint(lr.Score))))
	}
	return c.translator.Translate(hits), nil
}

// labelHit converts a Tencent label and its 0-100 score.
func labelHit(label string, score int64) violation.LabelHit {
	return violation.LabelHit{Label: label, Confidence: float64(score) / 100}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func wrapSDKError(err error) error {
	var sdkErr *tcerr.TencentCloudSDKError
	if errors.As(err, &sdkErr) {
		pe := safety.NewProviderError(providerName, sdkErr.GetCode(), sdkErr.GetMessage()).WithCause(err)
		switch sdkErr.GetCode() {
		case "RequestLimitExceeded":
			pe = pe.WithCategory(safety.ErrorCategoryRateLimit)
		case "AuthFailure", "AuthFailure.SecretIdNotFound", "AuthFailure.SignatureFailure", "UnauthorizedOperation":
			pe = pe.WithCategory(safety.ErrorCategoryAuth)
		case "InternalError", "ClientError.NetworkError":
			pe = pe.WithCategory(safety.ErrorCategoryNetwork)
		}
		return pe
	}
	return safety.WrapNetworkError(err)
}

// Tencent labels, shared by TMS and IMS.
var labelMappings = map[string]violation.LabelMapping{
	"Porn":     {Category: safety.CategoryNSFW},
	"Sexy":     {Category: safety.CategoryNSFW, Weight: 0.8},
	"Sexual":   {Category: safety.CategoryNSFW},
	"Terror":   {Category: safety.CategoryViolence},
	"Violence": {Category: safety.CategoryViolence},
	"Abuse":    {Category: safety.CategoryToxicity},
	"Moan":     {Category: safety.CategoryNSFW, Weight: 0.8},
	"Ad":       {Category: safety.CategorySpam},
	"Spam":     {Category: safety.CategorySpam},
	"Fraud":    {Category: safety.CategoryScam},
	"Minor":    {Category: safety.CategoryMinorSafety},
	"Polity":   {Category: safety.CategoryOther},
	"Illegal":  {Category: safety.CategoryOther},
	"Custom":   {Category: safety.CategoryOther},

	// IMS sub labels
	"Weapon":   {Category: safety.CategoryWeapons},
	"Gun":      {Category: safety.CategoryWeapons},
	"Knife":    {Category: safety.CategoryWeapons},
	"Bloody":   {Category: safety.CategoryViolence},
	"Drug":     {Category: safety.CategoryDrugs},
	"SelfHarm": {Category: safety.CategorySelfHarm},
	"Insult":   {Category: safety.CategoryHarassment},
	"Racism":   {Category: safety.CategoryHateSpeech},
	"Hate":     {Category: safety.CategoryHateSpeech},

	"Normal": {},
	"Pass":   {},
}

func newTranslator() violation.Translator {
	return violation.NewBaseTranslator(providerName, labelMappings)
}

var (
	_ classifier.TextClassifier        = (*Classifier)(nil)
	_ classifier.ImageSafetyClassifier = (*Classifier)(nil)
)

func derefUint(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
