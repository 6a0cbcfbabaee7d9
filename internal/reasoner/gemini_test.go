// File: internal/reasoner/gemini_test.go
package reasoner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

func testReasonerConfig() config.ReasonerConfig {
	return config.ReasonerConfig{
		Provider:          "gemini",
		Model:             "gemini-test",
		APIKey:            "test-key",
		APITimeout:        5 * time.Second,
		Temperature:       0.2,
		MaxTokens:         1024,
		RequestsPerSecond: 1000, // Do not rate limit tests.
		Burst:             1000,
	}
}

// setupGeminiReasoner rigs up a GeminiReasoner against a mock HTTP server
// with a fast, bounded retry policy.
func setupGeminiReasoner(t *testing.T, handler http.HandlerFunc) *GeminiReasoner {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := testReasonerConfig()
	cfg.Endpoint = server.URL

	r, err := NewGeminiReasoner(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	r.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return r
}

// modelResponse wraps raw model text in the Gemini candidates envelope.
func modelResponse(t *testing.T, text string) []byte {
	t.Helper()
	payload := map[string]any{
		"candidates": []map[string]any{
			{
				"content":      map[string]any{"parts": []map[string]any{{"text": text}}},
				"finishReason": "STOP",
			},
		},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func testSnapshot() *Snapshot {
	return &Snapshot{
		Goal:          "open the wifi settings",
		Step:          1,
		MaxSteps:      25,
		ScreenshotB64: "aW1hZ2U=",
	}
}

func TestNewGeminiReasonerRequiresAPIKey(t *testing.T) {
	cfg := testReasonerConfig()
	cfg.APIKey = ""
	_, err := NewGeminiReasoner(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNewGeminiReasonerDefaultEndpoint(t *testing.T) {
	cfg := testReasonerConfig()
	cfg.Endpoint = ""
	r, err := NewGeminiReasoner(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Contains(t, r.endpoint, "gemini-test:generateContent")
}

func TestGeminiDecideSuccess(t *testing.T) {
	r := setupGeminiReasoner(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "test-key", req.Header.Get("x-goog-api-key"))
		w.Write(modelResponse(t, validTapJSON))
	})

	d, err := r.Decide(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionTapBySelector, d.Action)
}

func TestGeminiDecideRetriesRateLimit(t *testing.T) {
	var attempts atomic.Int32
	r := setupGeminiReasoner(t, func(w http.ResponseWriter, req *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(modelResponse(t, validTapJSON))
	})

	d, err := r.Decide(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionTapBySelector, d.Action)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestGeminiDecidePermanentErrorDoesNotRetry(t *testing.T) {
	var attempts atomic.Int32
	r := setupGeminiReasoner(t, func(w http.ResponseWriter, req *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := r.Decide(context.Background(), testSnapshot())
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureFatal, failure.Kind)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestGeminiDecideExhaustsRetriesOnRateLimit(t *testing.T) {
	r := setupGeminiReasoner(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := r.Decide(context.Background(), testSnapshot())
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureRateLimited, failure.Kind)
}

func TestGeminiDecideUnparseableModelOutput(t *testing.T) {
	r := setupGeminiReasoner(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write(modelResponse(t, "I would tap the button, probably."))
	})

	_, err := r.Decide(context.Background(), testSnapshot())
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureInvalidResponse, failure.Kind)
}

func TestBuildUserPromptIncludesGuardrailContext(t *testing.T) {
	snap := testSnapshot()
	snap.FailedTargets = []string{"btn_submit", "Send"}
	snap.LastError = "client did not respond in time"
	snap.History = []StepSummary{
		{Step: 1, Action: "launch_app", SubGoal: "open settings", Success: true},
		{Step: 2, Action: "tap_by_selector", Success: false, Message: "node not found"},
	}
	snap.Nodes = []schemas.Selector{
		{ViewID: "id/wifi", Text: "Wi-Fi", IsClickable: true},
	}

	prompt := buildUserPrompt(snap)
	assert.Contains(t, prompt, "open the wifi settings")
	assert.Contains(t, prompt, "Do not target these elements again")
	assert.Contains(t, prompt, "btn_submit")
	assert.Contains(t, prompt, "client did not respond in time")
	assert.Contains(t, prompt, "launch_app -> ok")
	assert.Contains(t, prompt, "tap_by_selector -> FAILED")
	assert.Contains(t, prompt, "id/wifi")
	assert.Contains(t, prompt, "(clickable)")
}
