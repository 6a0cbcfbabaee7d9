// File: internal/reasoner/reasoner.go
package reasoner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Reasoner turns one observation of the device into one structured decision.
type Reasoner interface {
	Decide(ctx context.Context, snap *Snapshot) (*schemas.Decision, error)
}

// FailureKind classifies why a reasoning call failed. The step loop treats
// every kind alike as one more consecutive failure; the classification feeds
// the retry policy here and the logs, not the loop's control flow.
type FailureKind string

const (
	FailureRateLimited     FailureKind = "rate_limited"
	FailureConnection      FailureKind = "connection_error"
	FailureTimeout         FailureKind = "timeout"
	FailureInvalidResponse FailureKind = "invalid_response"
	FailureFatal           FailureKind = "fatal"
)

// Failure wraps a reasoning error with its classification.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("reasoner %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a classified reasoning failure.
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// Snapshot is everything the reasoner sees for one step.
type Snapshot struct {
	Goal          string
	Step          int
	MaxSteps      int
	ScreenshotB64 string

	// History holds the most recent step summaries, oldest first.
	History []StepSummary
	// FailedTargets describes UI elements the loop refuses to re-target.
	FailedTargets []string
	// LastError carries the failure message of the previous step, if any.
	LastError string
	// Nodes carries the result of the previous step's node query, if any.
	Nodes []schemas.Selector
}

// StepSummary is the compact history line fed back into the prompt.
type StepSummary struct {
	Step    int
	Action  string
	SubGoal string
	Success bool
	Message string
}

// New builds the Reasoner named by cfg.Provider.
func New(cfg config.ReasonerConfig, logger *zap.Logger) (Reasoner, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiReasoner(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown reasoner provider %q (supported: gemini)", cfg.Provider)
	}
}
