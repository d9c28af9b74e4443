package huawei

import (
	"errors"
	"testing"

	"github.com/huaweicloud/huaweicloud-sdk-go-v3/core/sdkerr"
	"github.com/stretchr/testify/assert"

	safety "github.com/heibot/safety"
)

func TestTextScores(t *testing.T) {
	tr := newTranslator()

	scores := tr.Translate(textHits("block", "abuse", []labelConfidence{
		{label: "ad", confidence: 0.42},
		{label: "discrimination", confidence: 0.81},
	}))
	assert.Equal(t, 0.95, scores.Get(safety.CategoryToxicity))
	assert.Equal(t, 0.42, scores.Get(safety.CategorySpam))
	assert.Equal(t, 0.81, scores.Get(safety.CategoryHateSpeech))

	scores = tr.Translate(textHits("pass", "normal", nil))
	assert.Empty(t, scores)
}

func TestImageScores(t *testing.T) {
	tr := newTranslator()

	scores := tr.Translate(imageHits("review", "porn", []string{"sexy", "weapon"}))
	assert.Equal(t, 0.75, scores.Get(safety.CategoryNSFW))
	assert.Equal(t, 0.75, scores.Get(safety.CategoryWeapons))

	assert.Nil(t, imageHits("pass", "porn", []string{"sexy"}))
}

func TestTextEventType(t *testing.T) {
	assert.Equal(t, "nickname", textEventType(safety.ContentUsername))
	assert.Equal(t, "chat", textEventType(safety.ContentChatMessage))
	assert.Equal(t, "comment", textEventType(safety.ContentText))
}

func TestWrapSDKError(t *testing.T) {
	err := wrapSDKError(&sdkerr.ServiceResponseError{StatusCode: 429, ErrorCode: "ModerationText.0429", ErrorMessage: "too many"})
	assert.True(t, safety.IsProviderError(err))
	assert.True(t, safety.IsRetryable(err))

	err = wrapSDKError(&sdkerr.ServiceResponseError{StatusCode: 403, ErrorCode: "APIGW.0301"})
	assert.True(t, safety.IsAuthError(err))

	err = wrapSDKError(errors.New("dial tcp 10.0.0.1:443: i/o timeout"))
	assert.ErrorIs(t, err, safety.ErrTimeout)
}
