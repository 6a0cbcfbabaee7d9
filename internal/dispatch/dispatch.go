// File: internal/dispatch/dispatch.go

// Package dispatch turns validated decisions into device traffic. Every
// action kind has exactly one handler; device-bound handlers go through the
// correlated transport, control-flow handlers complete locally.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Transport is the slice of the connection manager the dispatcher needs.
type Transport interface {
	Request(ctx context.Context, sessionID string, env *schemas.Envelope, timeout time.Duration) (*schemas.Envelope, error)
	Send(sessionID string, env *schemas.Envelope) error
}

// Outcome is the result of executing one decision.
type Outcome struct {
	Success bool
	Message string

	// Nodes is populated by node-query actions.
	Nodes []schemas.Selector

	// Done / DoneSuccess are set when the reasoner declared the task over.
	Done        bool
	DoneSuccess bool

	// Question is set when the reasoner asked for clarification.
	Question string
}

type handlerFunc func(ctx context.Context, sessionID string, d *schemas.Decision) (*Outcome, error)

// Dispatcher routes decisions to their handlers.
type Dispatcher struct {
	transport Transport
	cfg       config.AgentConfig
	logger    *zap.Logger
	handlers  map[schemas.ActionKind]handlerFunc
}

// NewDispatcher builds the dispatch table.
func NewDispatcher(t Transport, cfg config.AgentConfig, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		transport: t,
		cfg:       cfg,
		logger:    logger.Named("dispatch"),
	}
	d.handlers = map[schemas.ActionKind]handlerFunc{
		schemas.ActionTapBySelector:       d.execCommand,
		schemas.ActionLongClickBySelector: d.execCommand,
		schemas.ActionInputBySelector:     d.execCommand,
		schemas.ActionCopyBySelector:      d.execCommand,
		schemas.ActionPasteBySelector:     d.execCommand,
		schemas.ActionSelectBySelector:    d.execCommand,
		schemas.ActionSwipe:               d.execCommand,
		schemas.ActionLaunchApp:           d.execCommand,

		schemas.ActionSwipeSemantic:       d.execSwipeSemantic,
		schemas.ActionPerformGlobalAction: d.execGlobalAction,

		schemas.ActionRequestNodesByText:      d.execNodeQuery,
		schemas.ActionRequestInteractiveNodes: d.execNodeQuery,
		schemas.ActionRequestAllNodes:         d.execNodeQuery,
		schemas.ActionRequestClickableNodes:   d.execNodeQuery,

		schemas.ActionWait:                 d.execWait,
		schemas.ActionDone:                 d.execDone,
		schemas.ActionRequestClarification: d.execClarification,
	}
	return d
}

// Execute runs the decision's handler. A returned error means the step could
// not be carried out at all (transport failure, timeout); an unsuccessful
// Outcome means the device tried and reported failure.
func (d *Dispatcher) Execute(ctx context.Context, sessionID string, decision *schemas.Decision) (*Outcome, error) {
	h, ok := d.handlers[decision.Action]
	if !ok {
		return nil, fmt.Errorf("no handler for action %q", decision.Action)
	}
	return h(ctx, sessionID, decision)
}

// Screenshot captures the current screen as base64 PNG bytes.
func (d *Dispatcher) Screenshot(ctx context.Context, sessionID string) (string, error) {
	env := schemas.NewEnvelope(schemas.TypeRequestScreenshot, sessionID, "", nil)
	resp, err := d.transport.Request(ctx, sessionID, env, d.cfg.ClientResponseTimeout)
	if err != nil {
		return "", err
	}

	var content schemas.ScreenshotContent
	if err := json.Unmarshal(resp.Content, &content); err != nil {
		return "", fmt.Errorf("decode screenshot result: %w", err)
	}
	if !content.Success {
		return "", fmt.Errorf("screenshot failed on device: %s", content.Message)
	}
	return content.ImageBase64, nil
}

// execCommand is the generic path for device commands: wrap the decision into
// an execute envelope, wait for the correlated execution_result.
func (d *Dispatcher) execCommand(ctx context.Context, sessionID string, decision *schemas.Decision) (*Outcome, error) {
	return d.sendCommand(ctx, sessionID, string(decision.Action), decision.Params)
}

func (d *Dispatcher) sendCommand(ctx context.Context, sessionID, actionType string, params schemas.ActionParams) (*Outcome, error) {
	cmd := schemas.ExecuteCommand{ActionType: actionType, Parameters: params}
	env := schemas.NewEnvelope(schemas.TypeExecute, sessionID, "", cmd)

	resp, err := d.transport.Request(ctx, sessionID, env, d.cfg.ClientResponseTimeout)
	if err != nil {
		return nil, err
	}

	var content schemas.ExecutionContent
	if err := json.Unmarshal(resp.Content, &content); err != nil {
		return nil, fmt.Errorf("decode execution result: %w", err)
	}
	return &Outcome{Success: content.Success, Message: content.Message}, nil
}

// execSwipeSemantic tries the semantic swipe and, when the device rejects it
// as unsupported, falls back to a raw positional swipe exactly once.
func (d *Dispatcher) execSwipeSemantic(ctx context.Context, sessionID string, decision *schemas.Decision) (*Outcome, error) {
	out, err := d.sendCommand(ctx, sessionID, string(schemas.ActionSwipeSemantic), decision.Params)
	if err != nil {
		return nil, err
	}
	if out.Success || !isUnsupported(out.Message) {
		return out, nil
	}

	d.logger.Info("Semantic swipe unsupported, falling back to positional swipe.",
		zap.String("session_id", sessionID),
		zap.String("direction", decision.Params.Direction))
	return d.sendCommand(ctx, sessionID, string(schemas.ActionSwipe), decision.Params)
}

func isUnsupported(message string) bool {
	return strings.Contains(strings.ToLower(message), "unsupported")
}

// execGlobalAction runs a global navigation action. HOME gets a settle delay
// so the next screenshot sees the launcher, not the closing animation.
func (d *Dispatcher) execGlobalAction(ctx context.Context, sessionID string, decision *schemas.Decision) (*Outcome, error) {
	out, err := d.execCommand(ctx, sessionID, decision)
	if err != nil {
		return nil, err
	}
	if out.Success && decision.Params.ActionID == "GLOBAL_ACTION_HOME" {
		if err := sleepCtx(ctx, d.cfg.HomeSettleDelay); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// nodeQueryContent is the request payload for request_nodes_by_text. The
// other query kinds carry no content.
type nodeQueryContent struct {
	Text string `json:"text"`
}

// execNodeQuery runs an accessibility query and filters the returned nodes by
// the capability the reasoner intends to use them for.
func (d *Dispatcher) execNodeQuery(ctx context.Context, sessionID string, decision *schemas.Decision) (*Outcome, error) {
	var content any
	if decision.Action == schemas.ActionRequestNodesByText {
		content = nodeQueryContent{Text: decision.Params.Text}
	}
	env := schemas.NewEnvelope(string(decision.Action), sessionID, "", content)

	resp, err := d.transport.Request(ctx, sessionID, env, d.cfg.ClientResponseTimeout)
	if err != nil {
		return nil, err
	}

	var result schemas.NodesContent
	if err := json.Unmarshal(resp.Content, &result); err != nil {
		return nil, fmt.Errorf("decode node query result: %w", err)
	}
	if !result.Success {
		return &Outcome{Success: false, Message: result.Message}, nil
	}

	nodes := filterByIntent(result.Data.Nodes, decision.Params.Intent)
	if len(nodes) == 0 {
		return &Outcome{
			Success: false,
			Message: fmt.Sprintf("query %s returned no usable nodes (intent: %q)", decision.Action, decision.Params.Intent),
		}, nil
	}
	return &Outcome{
		Success: true,
		Message: fmt.Sprintf("found %d nodes", len(nodes)),
		Nodes:   nodes,
	}, nil
}

// filterByIntent keeps only the nodes whose capability flags can satisfy the
// verb the query was made for. An empty or unknown intent keeps everything.
func filterByIntent(nodes []schemas.Selector, intent string) []schemas.Selector {
	var keep func(schemas.Selector) bool
	switch intent {
	case "tap":
		keep = schemas.Selector.Tappable
	case "input":
		keep = func(n schemas.Selector) bool { return n.IsEditable }
	default:
		return nodes
	}

	filtered := make([]schemas.Selector, 0, len(nodes))
	for _, n := range nodes {
		if keep(n) {
			filtered = append(filtered, n)
		}
	}
	return filtered
}

// execWait pauses the loop. The duration is clamped to the configured range;
// zero means the default.
func (d *Dispatcher) execWait(ctx context.Context, _ string, decision *schemas.Decision) (*Outcome, error) {
	dur := time.Duration(decision.Params.DurationSeconds) * time.Second
	if dur == 0 {
		dur = d.cfg.WaitDefault
	}
	if dur < d.cfg.WaitMin {
		dur = d.cfg.WaitMin
	}
	if dur > d.cfg.WaitMax {
		dur = d.cfg.WaitMax
	}

	if err := sleepCtx(ctx, dur); err != nil {
		return nil, err
	}
	return &Outcome{Success: true, Message: fmt.Sprintf("waited %s", dur)}, nil
}

func (d *Dispatcher) execDone(_ context.Context, _ string, decision *schemas.Decision) (*Outcome, error) {
	return &Outcome{
		Success:     true,
		Message:     decision.Params.Message,
		Done:        true,
		DoneSuccess: decision.Params.Success != nil && *decision.Params.Success,
	}, nil
}

// execClarification forwards the question to the client and reports it back
// to the loop, which terminates the task after asking.
func (d *Dispatcher) execClarification(_ context.Context, sessionID string, decision *schemas.Decision) (*Outcome, error) {
	env := schemas.NewEnvelope(schemas.TypeClarificationRequest, sessionID, "",
		schemas.ClarificationContent{Question: decision.Params.Question})
	if err := d.transport.Send(sessionID, env); err != nil {
		d.logger.Warn("Failed to deliver clarification request.",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return &Outcome{
		Success:  true,
		Message:  "clarification requested",
		Question: decision.Params.Question,
	}, nil
}

// sleepCtx sleeps for dur unless ctx ends first.
func sleepCtx(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
