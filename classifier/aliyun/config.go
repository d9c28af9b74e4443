// Package aliyun scores images and text with Alibaba Cloud Green.
package aliyun

import (
	"time"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
	"github.com/heibot/safety/violation"
)

// Config holds the configuration for the Aliyun backend.
type Config struct {
	classifier.BackendConfig

	// ImageService is the Green image service, baselineCheck by default.
	ImageService string
}

// DefaultConfig returns the default Aliyun configuration.
func DefaultConfig() Config {
	return Config{
		BackendConfig: classifier.BackendConfig{
			Region:   "cn-shanghai",
			Endpoint: "green-cip.cn-shanghai.aliyuncs.com",
			Timeout:  5 * time.Second,
		},
		ImageService: "baselineCheck",
	}
}

// Green labels, text and image.
// Text: https://help.aliyun.com/document_detail/433945.html
// Image: https://help.aliyun.com/document_detail/467829.html
var labelMappings = map[string]violation.LabelMapping{
	// text
	"porn":           {Category: safety.CategoryNSFW},
	"sexual":         {Category: safety.CategoryNSFW},
	"adult_content":  {Category: safety.CategoryNSFW},
	"profanity":      {Category: safety.CategoryToxicity},
	"abuse":          {Category: safety.CategoryToxicity},
	"insult":         {Category: safety.CategoryHarassment},
	"threat":         {Category: safety.CategoryHarassment},
	"hate":           {Category: safety.CategoryHateSpeech},
	"racism":         {Category: safety.CategoryHateSpeech},
	"discrimination": {Category: safety.CategoryHateSpeech},
	"spam":           {Category: safety.CategorySpam},
	"ad":             {Category: safety.CategorySpam},
	"promotion":      {Category: safety.CategorySpam},
	"marketing":      {Category: safety.CategorySpam},
	"contact_info":   {Category: safety.CategorySpam},
	"qrcode":         {Category: safety.CategorySpam},
	"flood":          {Category: safety.CategorySpam, Weight: 0.8},
	"meaningless":    {Category: safety.CategorySpam, Weight: 0.6},
	"gibberish":      {Category: safety.CategorySpam, Weight: 0.6},
	"fraud":          {Category: safety.CategoryScam},
	"gambling":       {Category: safety.CategoryScam},
	"drug":           {Category: safety.CategoryDrugs},
	"contraband":     {Category: safety.CategoryDrugs},
	"weapon":         {Category: safety.CategoryWeapons},
	"terrorism":      {Category: safety.CategoryViolence},
	"extremism":      {Category: safety.CategoryViolence},
	"violence":       {Category: safety.CategoryViolence},
	"minor_sexual":   {Category: safety.CategoryMinorSafety},
	"child_abuse":    {Category: safety.CategoryMinorSafety},
	"self_harm":      {Category: safety.CategorySelfHarm},
	"politics":       {Category: safety.CategoryOther},

	// image
	"pornographic_adultcontent": {Category: safety.CategoryNSFW},
	"sexual_suggestivecontent":  {Category: safety.CategoryNSFW, Weight: 0.8},
	"nudity":                    {Category: safety.CategoryNSFW},
	"partial_nudity":            {Category: safety.CategoryNSFW, Weight: 0.8},
	"suggestive":                {Category: safety.CategoryNSFW, Weight: 0.7},
	"bloody":                    {Category: safety.CategoryViolence},
	"gore":                      {Category: safety.CategoryViolence},
	"corpse":                    {Category: safety.CategoryViolence},
	"violent_armedforces":       {Category: safety.CategoryWeapons},
	"contraband_gun":            {Category: safety.CategoryWeapons},
	"contraband_drug":           {Category: safety.CategoryDrugs},

	// pass
	"normal":   {},
	"nonlabel": {},
	"pass":     {},
}

func newTranslator() violation.Translator {
	return violation.NewBaseTranslator(providerName, labelMappings)
}
