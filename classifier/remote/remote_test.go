package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	safety "github.com/heibot/safety"
	"github.com/heibot/safety/classifier"
)

func newTestClassifier(t *testing.T, h http.HandlerFunc) (*Classifier, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Endpoint = srv.URL + "/"
	cfg.APIKey = "secret"
	c, err := New(cfg)
	require.NoError(t, err)
	return c, srv
}

func TestClassifyText(t *testing.T) {
	c, _ := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req textRequest
		require.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, "you are great", req.Text)
		assert.Equal(t, "chat_message", req.ContentType)

		_, _ = w.Write([]byte(`{"code":0,"scores":{"toxicity":0.12,"SPAM":1.4}}`))
	})

	scores, err := c.ClassifyText(context.Background(), classifier.TextInput{
		Text:        "you are great",
		ContentType: safety.ContentChatMessage,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.12, scores.Get(safety.CategoryToxicity))
	assert.Equal(t, 1.0, scores.Get(safety.CategorySpam))
}

func TestDetectFaces(t *testing.T) {
	c, _ := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/faces", r.URL.Path)
		_, _ = w.Write([]byte(`{"code":0,"faces":[{"confidence":0.93},{"confidence":0.41}]}`))
	})

	res, err := c.DetectFaces(context.Background(), classifier.ImageInput{Data: []byte{0xff, 0xd8}})
	require.NoError(t, err)
	require.Len(t, res.Faces, 2)
	assert.Equal(t, 1, res.CountAbove(0.7))
}

func TestClassifyImage_Errors(t *testing.T) {
	c, _ := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":40001,"message":"unsupported image"}`))
	})
	_, err := c.ClassifyImage(context.Background(), classifier.ImageInput{URL: "https://cdn.example.com/x.jpg"})
	require.Error(t, err)
	assert.True(t, safety.IsProviderError(err))

	_, err = c.ClassifyImage(context.Background(), classifier.ImageInput{})
	assert.True(t, safety.IsValidationError(err))
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"scores":{"nsfw":0.05}}`))
	})

	scores, err := c.ClassifyImage(context.Background(), classifier.ImageInput{Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, 0.05, scores.Get(safety.CategoryNSFW))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoesNotRetryTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClassifier(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.ClassifyText(context.Background(), classifier.TextInput{Text: "x"})
	require.Error(t, err)
	assert.True(t, safety.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, safety.ErrMissingConfig)
}
