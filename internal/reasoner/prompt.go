// File: internal/reasoner/prompt.go
package reasoner

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are the decision core of an automation agent driving an Android device.
Each turn you receive the task goal, a screenshot of the current screen, a short history of previous steps, and optionally a list of UI nodes from the last query.

Respond with a single JSON object and nothing else:
{
  "reasoning": {
    "evaluation_previous_action": "<did the last action move the task forward?>",
    "visual_analysis": "<what the screenshot shows>",
    "accessibility_analysis": "<what the node list shows, if one was provided>",
    "next_sub_goal": "<the one concrete thing to achieve next>",
    "confidence_score": <0.0-1.0>
  },
  "action_name": "<one action>",
  "action_params": { ... }
}

Available actions:
- tap_by_selector, long_click_by_selector, select_by_selector, copy_by_selector, paste_by_selector: {"selector": {...}}
- input_by_selector: {"selector": {...}, "text_to_type": "..."}
- swipe_semantic, swipe: {"direction": "up"|"down"|"left"|"right"}
- perform_global_action: {"action_id": "GLOBAL_ACTION_BACK"|"GLOBAL_ACTION_HOME"|"GLOBAL_ACTION_RECENTS"}
- launch_app: {"package_name": "...", "activity": "..."}
- request_nodes_by_text: {"text": "...", "intent": "tap"|"input"}
- request_interactive_nodes, request_all_nodes, request_clickable_nodes: {"intent": "tap"|"input"}
- wait: {"duration_seconds": 1-10}
- done: {"success": true|false, "message": "..."}
- request_clarification: {"question": "..."}

Rules:
- Selectors must be copied verbatim from a node list you were given. Never invent selector fields.
- To interact with an element you have not located yet, run a node query first.
- Elements listed under "Do not target" have already failed or are not actionable; choose a different element or a different approach.
- Declare done as soon as the goal is met. If the goal is impossible or ambiguous beyond recovery, use done with success=false or request_clarification.`

// buildUserPrompt renders the per-step context block.
func buildUserPrompt(snap *Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "GOAL: %s\n", snap.Goal)
	fmt.Fprintf(&b, "STEP: %d of %d\n", snap.Step, snap.MaxSteps)

	if len(snap.History) > 0 {
		b.WriteString("\nRECENT STEPS (oldest first):\n")
		for _, h := range snap.History {
			status := "ok"
			if !h.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&b, "  %d. %s -> %s", h.Step, h.Action, status)
			if h.SubGoal != "" {
				fmt.Fprintf(&b, " (goal: %s)", h.SubGoal)
			}
			if h.Message != "" {
				fmt.Fprintf(&b, " -- %s", h.Message)
			}
			b.WriteByte('\n')
		}
	}

	if snap.LastError != "" {
		fmt.Fprintf(&b, "\nPREVIOUS STEP ERROR: %s\n", snap.LastError)
	}

	if len(snap.FailedTargets) > 0 {
		b.WriteString("\nDo not target these elements again:\n")
		for _, desc := range snap.FailedTargets {
			fmt.Fprintf(&b, "  - %s\n", desc)
		}
	}

	if len(snap.Nodes) > 0 {
		b.WriteString("\nNODES FROM LAST QUERY:\n")
		for i, n := range snap.Nodes {
			fmt.Fprintf(&b, "  [%d] %s", i, n.Describe())
			var caps []string
			if n.IsClickable {
				caps = append(caps, "clickable")
			}
			if n.IsEditable {
				caps = append(caps, "editable")
			}
			if n.IsLongClickable {
				caps = append(caps, "long-clickable")
			}
			if len(caps) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(caps, ", "))
			}
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nA screenshot of the current screen is attached. Decide the next action.")
	return b.String()
}
