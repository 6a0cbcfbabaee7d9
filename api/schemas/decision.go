// api/schemas/decision.go
package schemas

import "fmt"

// ActionKind enumerates every action the reasoner may decide on. The set is
// closed: strings that do not match a known kind parse to ActionUnknown
// instead of falling through string-keyed dispatch.
type ActionKind string

const (
	// -- Target-directed commands (carry a Selector) --
	ActionTapBySelector       ActionKind = "tap_by_selector"
	ActionLongClickBySelector ActionKind = "long_click_by_selector"
	ActionInputBySelector     ActionKind = "input_by_selector"
	ActionCopyBySelector      ActionKind = "copy_by_selector"
	ActionPasteBySelector     ActionKind = "paste_by_selector"
	ActionSelectBySelector    ActionKind = "select_by_selector"

	// -- Positional / semantic commands --
	ActionSwipeSemantic       ActionKind = "swipe_semantic"
	ActionSwipe               ActionKind = "swipe"
	ActionPerformGlobalAction ActionKind = "perform_global_action"
	ActionLaunchApp           ActionKind = "launch_app"

	// -- Node queries --
	ActionRequestNodesByText      ActionKind = "request_nodes_by_text"
	ActionRequestInteractiveNodes ActionKind = "request_interactive_nodes"
	ActionRequestAllNodes         ActionKind = "request_all_nodes"
	ActionRequestClickableNodes   ActionKind = "request_clickable_nodes"

	// -- Control flow --
	ActionWait                 ActionKind = "wait"
	ActionDone                 ActionKind = "done"
	ActionRequestClarification ActionKind = "request_clarification"

	// ActionUnknown is the single variant all unmatched strings map to.
	ActionUnknown ActionKind = "unknown"
)

var knownActionKinds = map[ActionKind]struct{}{
	ActionTapBySelector:           {},
	ActionLongClickBySelector:     {},
	ActionInputBySelector:         {},
	ActionCopyBySelector:          {},
	ActionPasteBySelector:         {},
	ActionSelectBySelector:        {},
	ActionSwipeSemantic:           {},
	ActionSwipe:                   {},
	ActionPerformGlobalAction:     {},
	ActionLaunchApp:               {},
	ActionRequestNodesByText:      {},
	ActionRequestInteractiveNodes: {},
	ActionRequestAllNodes:         {},
	ActionRequestClickableNodes:   {},
	ActionWait:                    {},
	ActionDone:                    {},
	ActionRequestClarification:    {},
}

// ParseActionKind maps a raw action name onto the closed union. Any string
// that is not a known kind, including the empty string, yields ActionUnknown.
func ParseActionKind(name string) ActionKind {
	k := ActionKind(name)
	if _, ok := knownActionKinds[k]; ok {
		return k
	}
	return ActionUnknown
}

// IsTargetDirected reports whether the kind addresses a specific UI element
// and therefore passes through the guardrail and failure-memory gate.
func (k ActionKind) IsTargetDirected() bool {
	switch k {
	case ActionTapBySelector, ActionLongClickBySelector, ActionInputBySelector,
		ActionCopyBySelector, ActionPasteBySelector, ActionSelectBySelector:
		return true
	}
	return false
}

// IsNodeQuery reports whether the kind is answered with a node list rather
// than an execution result.
func (k ActionKind) IsNodeQuery() bool {
	switch k {
	case ActionRequestNodesByText, ActionRequestInteractiveNodes,
		ActionRequestAllNodes, ActionRequestClickableNodes:
		return true
	}
	return false
}

// IsControlFlow reports whether the kind is handled locally without any
// device round-trip.
func (k ActionKind) IsControlFlow() bool {
	switch k {
	case ActionWait, ActionDone, ActionRequestClarification:
		return true
	}
	return false
}

// Reasoning is the reasoner's structured chain of thought for one step.
type Reasoning struct {
	EvaluationPreviousAction string   `json:"evaluation_previous_action"`
	VisualAnalysis           string   `json:"visual_analysis"`
	AccessibilityAnalysis    string   `json:"accessibility_analysis,omitempty"`
	NextSubGoal              string   `json:"next_sub_goal"`
	ConfidenceScore          *float64 `json:"confidence_score,omitempty"`
}

// ActionParams carries the parameters for a decided action. It is a single
// flat struct; Decision.Validate enforces per-kind requirements so the union
// stays strict despite the shared shape.
type ActionParams struct {
	Selector   *Selector `json:"selector,omitempty"`
	TextToType string    `json:"text_to_type,omitempty"`
	Start      *int      `json:"start,omitempty"`
	End        *int      `json:"end,omitempty"`

	Direction   string `json:"direction,omitempty"`
	ActionID    string `json:"action_id,omitempty"`
	PackageName string `json:"package_name,omitempty"`
	Activity    string `json:"activity,omitempty"`

	Text string `json:"text,omitempty"`
	// Intent names the semantic verb that motivated a node query ("tap" or
	// "input"); the dispatcher uses it to filter the returned node list by
	// the matching capability flag.
	Intent string `json:"intent,omitempty"`

	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Success         *bool  `json:"success,omitempty"`
	Message         string `json:"message,omitempty"`
	Question        string `json:"question,omitempty"`
}

// Decision is the reasoner's structured output for one step: reasoning text
// plus one action from the closed union. Immutable after creation.
type Decision struct {
	Reasoning Reasoning    `json:"reasoning"`
	Action    ActionKind   `json:"action_name"`
	Params    ActionParams `json:"action_params"`
}

// Validate enforces the per-kind parameter contract. A decision that fails
// validation never reaches dispatch; the reasoner adapter reports it as an
// invalid-response failure instead of repairing it.
func (d *Decision) Validate() error {
	switch d.Action {
	case ActionTapBySelector, ActionLongClickBySelector, ActionCopyBySelector,
		ActionPasteBySelector, ActionSelectBySelector:
		if d.Params.Selector == nil {
			return fmt.Errorf("action %q requires a selector", d.Action)
		}
	case ActionInputBySelector:
		if d.Params.Selector == nil {
			return fmt.Errorf("action %q requires a selector", d.Action)
		}
		if d.Params.TextToType == "" {
			return fmt.Errorf("action %q requires text_to_type", d.Action)
		}
	case ActionSwipeSemantic, ActionSwipe:
		switch d.Params.Direction {
		case "up", "down", "left", "right":
		default:
			return fmt.Errorf("action %q requires direction up|down|left|right, got %q", d.Action, d.Params.Direction)
		}
	case ActionPerformGlobalAction:
		if d.Params.ActionID == "" {
			return fmt.Errorf("action %q requires action_id", d.Action)
		}
	case ActionLaunchApp:
		if d.Params.PackageName == "" {
			return fmt.Errorf("action %q requires package_name", d.Action)
		}
	case ActionRequestNodesByText:
		if d.Params.Text == "" {
			return fmt.Errorf("action %q requires text", d.Action)
		}
	case ActionRequestInteractiveNodes, ActionRequestAllNodes, ActionRequestClickableNodes:
		// No parameters.
	case ActionWait:
		// Duration is clamped at dispatch; zero means the default.
	case ActionDone:
		if d.Params.Success == nil {
			return fmt.Errorf("action %q requires a success flag", d.Action)
		}
	case ActionRequestClarification:
		if d.Params.Question == "" {
			return fmt.Errorf("action %q requires a question", d.Action)
		}
	case ActionUnknown:
		return fmt.Errorf("unknown action kind")
	default:
		return fmt.Errorf("unhandled action kind %q", d.Action)
	}
	return nil
}
