package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaplabs/chat-recap/internal/store"
)

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		category Category
	}{
		{"model not found by type", 400, `{"error":{"type":"not_found_error","message":"model x"}}`, CategoryModel},
		{"model not found by status", 404, `{}`, CategoryModel},
		{"auth by type", 400, `{"error":{"type":"authentication_error","message":"bad key"}}`, CategoryAuth},
		{"permission by type", 400, `{"error":{"type":"permission_error","message":"no access"}}`, CategoryAuth},
		{"auth by status", 401, `{}`, CategoryAuth},
		{"forbidden by status", 403, `{}`, CategoryAuth},
		{"rate limit by type", 400, `{"error":{"type":"rate_limit_error","message":"slow down"}}`, CategoryRateLimit},
		{"rate limit by status", 429, `{}`, CategoryRateLimit},
		{"overloaded", 529, `{"error":{"type":"overloaded_error","message":"busy"}}`, CategoryServer},
		{"server by status", 500, `{}`, CategoryServer},
		{"unknown", 418, `{}`, CategoryUnknown},
		{"non-json body tolerated", 503, `<html>bad gateway</html>`, CategoryServer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			perr := classifyProviderError(tc.status, []byte(tc.body))
			assert.Equal(t, tc.category, perr.Category)
			assert.Equal(t, tc.status, perr.StatusCode)
			assert.NotEmpty(t, perr.Message)
		})
	}
}

func TestClassifyProviderErrorMessageFallsBackToStatusText(t *testing.T) {
	perr := classifyProviderError(429, []byte(`{}`))
	assert.Equal(t, "Too Many Requests", perr.Message)
}

func TestFormatMessages(t *testing.T) {
	sent := time.Date(2024, 3, 15, 9, 30, 5, 0, time.UTC)
	msgs := []store.Message{
		{Sender: "alice", Text: "morning all", SentAt: sent},
		{Sender: "bob", Text: "hey", SentAt: sent.Add(2 * time.Minute)},
	}

	got := FormatMessages(msgs)
	assert.Equal(t, "[09:30:05] alice: morning all\n[09:32:05] bob: hey", got)
}

func TestFormatMessagesConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	msgs := []store.Message{
		{Sender: "carol", Text: "hi", SentAt: time.Date(2024, 3, 15, 12, 0, 0, 0, loc)},
	}
	assert.Equal(t, "[09:00:00] carol: hi", FormatMessages(msgs))
}

func TestFormatMessagesEmpty(t *testing.T) {
	assert.Equal(t, "", FormatMessages(nil))
}

func TestEstimatorCountsTokens(t *testing.T) {
	e := NewEstimator()

	n := e.Estimate("gpt-4", "hello world, this is a chat transcript")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)

	// Longer text costs more tokens.
	longer := e.Estimate("gpt-4", "hello world, this is a chat transcript with quite a lot more text appended to it")
	assert.Greater(t, longer, n)
}

func TestEstimatorEmptyText(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 0, e.Estimate("gpt-4", ""))
}

func TestEstimatorUnknownModelFallsBack(t *testing.T) {
	e := NewEstimator()
	n := e.Estimate("claude-3-5-haiku-20241022", "some transcript text to estimate")
	assert.Greater(t, n, 0)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Provider: "openai", Model: "x"}
	assert.Error(t, cfg.Validate())

	cfg = Config{Provider: ProviderAnthropic}
	assert.Error(t, cfg.Validate())

	cfg = Config{Provider: ProviderAnthropic, Model: "claude-3-5-haiku-20241022"}
	assert.NoError(t, cfg.Validate())

	cfg = Config{Model: "x", MaxTokens: -1}
	assert.Error(t, cfg.Validate())
}

func TestClientSummarize(t *testing.T) {
	var gotReq anthropicRequest
	var gotAPIKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"content":[{"type":"text","text":"- topic one\n"},{"type":"text","text":"- topic two"}],
			"usage":{"input_tokens":812,"output_tokens":96}
		}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		Provider: ProviderAnthropic,
		Model:    "claude-3-5-haiku-20241022",
		APIKey:   "test-key",
		Endpoint: srv.URL,
	})
	require.NoError(t, err)

	res, err := client.Summarize(context.Background(), "[09:00:00] alice: hi")
	require.NoError(t, err)

	assert.Equal(t, "- topic one\n- topic two", res.Summary)
	assert.Equal(t, 812, res.InputTokens)
	assert.Equal(t, 96, res.OutputTokens)

	assert.Equal(t, "test-key", gotAPIKey)
	assert.Equal(t, anthropicAPIVersion, gotVersion)
	assert.Equal(t, "claude-3-5-haiku-20241022", gotReq.Model)
	assert.Equal(t, 500, gotReq.MaxTokens)
	require.Len(t, gotReq.Messages, 1)
	assert.Contains(t, gotReq.Messages[0].Content, "[09:00:00] alice: hi")
}

func TestClientSummarizeProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"throttled"}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{Model: "claude-3-5-haiku-20241022", Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = client.Summarize(context.Background(), "transcript")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CategoryRateLimit, perr.Category)
	assert.Equal(t, "throttled", perr.Message)
}

func TestClientSummarizeEmptySummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"usage":{"input_tokens":10,"output_tokens":0}}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{Model: "claude-3-5-haiku-20241022", Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = client.Summarize(context.Background(), "transcript")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CategoryUnknown, perr.Category)
}
