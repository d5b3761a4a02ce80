package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/AzielCF/az-wap/store/domain"
)

func TestClassify_NoAPIKeyDegradesToSafeDefault(t *testing.T) {
	c := New("")
	eval := c.Classify(context.Background(), "system", "transcript", domain.ModelAccurate)
	assert.Equal(t, ClassifyContinue, eval.Status)
	assert.Equal(t, 0.5, eval.Confidence)
}

func TestClassify_MalformedResponseDegradesToSafeDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "not json"}}]
		}`))
	}))
	defer srv.Close()

	c := New("test-key", option.WithBaseURL(srv.URL))
	eval := c.Classify(context.Background(), "system", "transcript", domain.ModelAccurate)
	assert.Equal(t, ClassifyContinue, eval.Status)
	assert.Equal(t, SentimentUnknown, eval.ClientSentiment)
}

func TestChat_ReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello there"}}]
		}`))
	}))
	defer srv.Close()

	c := New("test-key", option.WithBaseURL(srv.URL))
	out, err := c.Chat(context.Background(), ChatRequest{
		SystemPrompt: "be nice",
		Model:        domain.ModelAccurate,
		Temperature:  0.3,
		MaxTokens:    100,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestChat_NoAPIKeyFailsClosed(t *testing.T) {
	c := New("")
	_, err := c.Chat(context.Background(), ChatRequest{Model: domain.ModelAccurate})
	require.Error(t, err)
}
