// File: internal/reasoner/parse.go
package reasoner

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// rawDecision mirrors schemas.Decision with the action name kept raw, so the
// closed-union mapping happens here instead of during unmarshaling.
type rawDecision struct {
	Reasoning schemas.Reasoning    `json:"reasoning"`
	Action    string               `json:"action_name"`
	Params    schemas.ActionParams `json:"action_params"`
}

// ParseDecision extracts the JSON object from a model response and parses it
// into a validated Decision. Every failure is an invalid_response: the
// response is never repaired, the step simply fails.
func ParseDecision(response string) (*schemas.Decision, error) {
	jsonText := strings.TrimSpace(response)
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		jsonText = strings.TrimSpace(matches[1])
	}
	if jsonText == "" {
		return nil, NewFailure(FailureInvalidResponse, fmt.Errorf("empty model response"))
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(jsonText), &raw); err != nil {
		return nil, NewFailure(FailureInvalidResponse, fmt.Errorf("unmarshal decision: %w", err))
	}

	kind := schemas.ParseActionKind(raw.Action)
	if kind == schemas.ActionUnknown {
		return nil, NewFailure(FailureInvalidResponse, fmt.Errorf("unknown action %q", raw.Action))
	}

	decision := &schemas.Decision{
		Reasoning: raw.Reasoning,
		Action:    kind,
		Params:    raw.Params,
	}
	if err := decision.Validate(); err != nil {
		return nil, NewFailure(FailureInvalidResponse, err)
	}
	return decision, nil
}
