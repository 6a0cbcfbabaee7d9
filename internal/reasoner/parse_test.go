// File: internal/reasoner/parse_test.go
package reasoner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

const validTapJSON = `{
	"reasoning": {
		"evaluation_previous_action": "launched the app",
		"visual_analysis": "settings screen visible",
		"next_sub_goal": "open wifi settings",
		"confidence_score": 0.9
	},
	"action_name": "tap_by_selector",
	"action_params": {
		"selector": {"view_id": "com.android.settings:id/wifi", "text": "Wi-Fi"}
	}
}`

func TestParseDecisionFromMarkdownFence(t *testing.T) {
	response := "Here is my decision:\n```json\n" + validTapJSON + "\n```\n"

	d, err := ParseDecision(response)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionTapBySelector, d.Action)
	require.NotNil(t, d.Params.Selector)
	assert.Equal(t, "com.android.settings:id/wifi", d.Params.Selector.ViewID)
	assert.Equal(t, "open wifi settings", d.Reasoning.NextSubGoal)
	require.NotNil(t, d.Reasoning.ConfidenceScore)
	assert.InDelta(t, 0.9, *d.Reasoning.ConfidenceScore, 1e-9)
}

func TestParseDecisionBareJSON(t *testing.T) {
	d, err := ParseDecision(validTapJSON)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionTapBySelector, d.Action)
}

func TestParseDecisionUnknownAction(t *testing.T) {
	response := `{"reasoning": {}, "action_name": "teleport", "action_params": {}}`

	_, err := ParseDecision(response)
	require.Error(t, err)
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, FailureInvalidResponse, failure.Kind)
}

func TestParseDecisionMissingRequiredParams(t *testing.T) {
	cases := map[string]string{
		"tap without selector":   `{"action_name": "tap_by_selector", "action_params": {}}`,
		"input without text":     `{"action_name": "input_by_selector", "action_params": {"selector": {"text": "field"}}}`,
		"swipe bad direction":    `{"action_name": "swipe", "action_params": {"direction": "sideways"}}`,
		"done without success":   `{"action_name": "done", "action_params": {"message": "finished"}}`,
		"launch without package": `{"action_name": "launch_app", "action_params": {}}`,
	}
	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDecision(response)
			var failure *Failure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, FailureInvalidResponse, failure.Kind)
		})
	}
}

func TestParseDecisionGarbage(t *testing.T) {
	for _, response := range []string{"", "not json at all", "```json\n\n```"} {
		_, err := ParseDecision(response)
		var failure *Failure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, FailureInvalidResponse, failure.Kind)
	}
}
