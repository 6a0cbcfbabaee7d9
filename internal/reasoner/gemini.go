// File: internal/reasoner/gemini.go
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// GeminiReasoner implements Reasoner against the Google Gemini REST API.
type GeminiReasoner struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	cfg        config.ReasonerConfig

	// limiter caps outbound calls across every concurrent session.
	limiter        *rate.Limiter
	backoffFactory func() backoff.BackOff
}

// -- Gemini API request/response structures (internal to this file) --

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiReasoner initializes the client.
func NewGeminiReasoner(cfg config.ReasonerConfig, logger *zap.Logger) (*GeminiReasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}

	return &GeminiReasoner{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger:  logger.Named("reasoner.gemini"),
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

// Decide sends the snapshot to the Gemini API with retries and parses the
// model output into a validated Decision.
func (g *GeminiReasoner) Decide(ctx context.Context, snap *Snapshot) (*schemas.Decision, error) {
	payload := g.buildRequestPayload(snap)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewFailure(FailureFatal, fmt.Errorf("marshal request payload: %w", err))
	}

	var responseText string

	operation := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(NewFailure(FailureTimeout, err))
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(NewFailure(FailureFatal, fmt.Errorf("create HTTP request: %w", err)))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)

		startTime := time.Now()
		resp, err := g.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(NewFailure(FailureTimeout, err))
			}
			g.logger.Warn("Network error during reasoner request, retrying...", zap.Error(err))
			return NewFailure(FailureConnection, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return NewFailure(FailureConnection, fmt.Errorf("read response body: %w", err))
		}

		if resp.StatusCode != http.StatusOK {
			return g.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload geminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(NewFailure(FailureInvalidResponse, fmt.Errorf("decode response payload: %w", err)))
		}

		if len(responsePayload.Candidates) == 0 {
			return backoff.Permanent(NewFailure(FailureInvalidResponse, fmt.Errorf("gemini API returned no candidates")))
		}

		candidate := responsePayload.Candidates[0]
		if len(candidate.Content.Parts) == 0 {
			if candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST" {
				return backoff.Permanent(NewFailure(FailureFatal, fmt.Errorf("gemini API blocked the request (reason: %s)", candidate.FinishReason)))
			}
			return NewFailure(FailureInvalidResponse, fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason))
		}

		g.logger.Info("Reasoner generation complete.",
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
			zap.Int("total_tokens", responsePayload.UsageMetadata.TotalTokenCount),
		)

		responseText = candidate.Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(g.backoffFactory(), ctx)); err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			return nil, failure
		}
		return nil, NewFailure(FailureConnection, err)
	}

	return ParseDecision(responseText)
}

func (g *GeminiReasoner) buildRequestPayload(snap *Snapshot) geminiRequestPayload {
	parts := []geminiPart{{Text: buildUserPrompt(snap)}}
	if snap.ScreenshotB64 != "" {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/png",
			Data:     snap.ScreenshotB64,
		}})
	}

	return geminiRequestPayload{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: systemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      g.cfg.Temperature,
			ResponseMimeType: "application/json",
			MaxOutputTokens:  g.cfg.MaxTokens,
		},
	}
}

func (g *GeminiReasoner) handleAPIError(statusCode int, body []byte) error {
	g.logger.Error("Gemini API returned error status.",
		zap.Int("status", statusCode), zap.ByteString("response", body))
	baseErr := fmt.Errorf("gemini API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests:
		return NewFailure(FailureRateLimited, baseErr) // Transient, retry.
	case http.StatusServiceUnavailable, http.StatusInternalServerError:
		return NewFailure(FailureConnection, baseErr) // Transient, retry.
	default:
		return backoff.Permanent(NewFailure(FailureFatal, baseErr))
	}
}
