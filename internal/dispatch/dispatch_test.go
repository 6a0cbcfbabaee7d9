// File: internal/dispatch/dispatch_test.go
package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// fakeTransport records traffic and answers requests through a scriptable
// respond function.
type fakeTransport struct {
	requests []*schemas.Envelope
	sent     []*schemas.Envelope
	respond  func(env *schemas.Envelope) (*schemas.Envelope, error)
}

func (f *fakeTransport) Request(_ context.Context, _ string, env *schemas.Envelope, _ time.Duration) (*schemas.Envelope, error) {
	f.requests = append(f.requests, env)
	return f.respond(env)
}

func (f *fakeTransport) Send(_ string, env *schemas.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:               25,
		MaxConsecutiveFailures: 3,
		StagnationLimit:        3,
		FailureMemorySize:      10,
		ClientResponseTimeout:  time.Second,
		WaitMin:                time.Millisecond,
		WaitMax:                30 * time.Millisecond,
		WaitDefault:            10 * time.Millisecond,
		HomeSettleDelay:        time.Millisecond,
		HistoryLookback:        10,
	}
}

func newTestDispatcher(t *testing.T, respond func(env *schemas.Envelope) (*schemas.Envelope, error)) (*Dispatcher, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{respond: respond}
	return NewDispatcher(ft, testAgentConfig(), zaptest.NewLogger(t)), ft
}

// executionReply answers an execute request with an execution_result.
func executionReply(env *schemas.Envelope, success bool, message string) (*schemas.Envelope, error) {
	return schemas.NewEnvelope(schemas.TypeExecutionResult, env.SessionID, env.CorrelationID,
		schemas.ExecutionContent{Success: success, Message: message}), nil
}

// commandOf decodes the execute payload of a recorded request.
func commandOf(t *testing.T, env *schemas.Envelope) schemas.ExecuteCommand {
	t.Helper()
	var cmd schemas.ExecuteCommand
	require.NoError(t, json.Unmarshal(env.Content, &cmd))
	return cmd
}

func TestExecuteTapSuccess(t *testing.T) {
	d, ft := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return executionReply(env, true, "tapped")
	})

	decision := &schemas.Decision{
		Action: schemas.ActionTapBySelector,
		Params: schemas.ActionParams{Selector: &schemas.Selector{ViewID: "id/ok"}},
	}
	out, err := d.Execute(context.Background(), "sess", decision)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "tapped", out.Message)

	require.Len(t, ft.requests, 1)
	assert.Equal(t, schemas.TypeExecute, ft.requests[0].Type)
	cmd := commandOf(t, ft.requests[0])
	assert.Equal(t, "tap_by_selector", cmd.ActionType)
	assert.Equal(t, "id/ok", cmd.Parameters.Selector.ViewID)
}

func TestExecuteDeviceFailureIsNotAnError(t *testing.T) {
	d, _ := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return executionReply(env, false, "node not found")
	})

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionTapBySelector,
		Params: schemas.ActionParams{Selector: &schemas.Selector{Text: "gone"}},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "node not found", out.Message)
}

func TestExecuteTransportErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	d, _ := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return nil, wantErr
	})

	_, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionTapBySelector,
		Params: schemas.ActionParams{Selector: &schemas.Selector{Text: "x"}},
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestSwipeSemanticFallsBackExactlyOnce(t *testing.T) {
	d, ft := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		var cmd schemas.ExecuteCommand
		if err := json.Unmarshal(env.Content, &cmd); err != nil {
			return nil, err
		}
		if cmd.ActionType == "swipe_semantic" {
			return executionReply(env, false, "unsupported action: swipe_semantic")
		}
		return executionReply(env, true, "swiped")
	})

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionSwipeSemantic,
		Params: schemas.ActionParams{Direction: "down"},
	})
	require.NoError(t, err)
	assert.True(t, out.Success)

	require.Len(t, ft.requests, 2)
	assert.Equal(t, "swipe_semantic", commandOf(t, ft.requests[0]).ActionType)
	second := commandOf(t, ft.requests[1])
	assert.Equal(t, "swipe", second.ActionType)
	assert.Equal(t, "down", second.Parameters.Direction)
}

func TestSwipeFallbackFailureIsFinal(t *testing.T) {
	d, ft := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return executionReply(env, false, "unsupported action")
	})

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionSwipeSemantic,
		Params: schemas.ActionParams{Direction: "up"},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	// One semantic attempt, one positional attempt, nothing more.
	assert.Len(t, ft.requests, 2)
}

func TestSwipeSemanticOrdinaryFailureDoesNotFallBack(t *testing.T) {
	d, ft := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return executionReply(env, false, "screen is locked")
	})

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionSwipeSemantic,
		Params: schemas.ActionParams{Direction: "up"},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Len(t, ft.requests, 1)
}

func nodesReply(env *schemas.Envelope, nodes []schemas.Selector) (*schemas.Envelope, error) {
	kind, _ := schemas.ResponseKindFor(env.Type)
	return schemas.NewEnvelope(kind, env.SessionID, env.CorrelationID,
		schemas.NodesContent{Success: true, Data: schemas.NodeData{Nodes: nodes}}), nil
}

func TestNodeQueryFiltersByTapIntent(t *testing.T) {
	nodes := []schemas.Selector{
		{ViewID: "id/button", IsClickable: true},
		{ViewID: "id/field", IsEditable: true},
		{ViewID: "id/label"},
		{ViewID: "id/row", IsLongClickable: true},
	}
	d, ft := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return nodesReply(env, nodes)
	})

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionRequestInteractiveNodes,
		Params: schemas.ActionParams{Intent: "tap"},
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Len(t, out.Nodes, 2)
	assert.Equal(t, "id/button", out.Nodes[0].ViewID)
	assert.Equal(t, "id/row", out.Nodes[1].ViewID)

	require.Len(t, ft.requests, 1)
	assert.Equal(t, schemas.TypeRequestInteractiveNodes, ft.requests[0].Type)
}

func TestNodeQueryFiltersByInputIntent(t *testing.T) {
	nodes := []schemas.Selector{
		{ViewID: "id/button", IsClickable: true},
		{ViewID: "id/field", IsEditable: true},
	}
	d, _ := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return nodesReply(env, nodes)
	})

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionRequestAllNodes,
		Params: schemas.ActionParams{Intent: "input"},
	})
	require.NoError(t, err)
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, "id/field", out.Nodes[0].ViewID)
}

func TestNodeQueryEmptyAfterFilterFails(t *testing.T) {
	d, _ := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return nodesReply(env, []schemas.Selector{{ViewID: "id/label"}})
	})

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionRequestClickableNodes,
		Params: schemas.ActionParams{Intent: "tap"},
	})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Empty(t, out.Nodes)
}

func TestNodeQueryByTextCarriesQuery(t *testing.T) {
	d, ft := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return nodesReply(env, []schemas.Selector{{Text: "Submit", IsClickable: true}})
	})

	_, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionRequestNodesByText,
		Params: schemas.ActionParams{Text: "Submit", Intent: "tap"},
	})
	require.NoError(t, err)

	require.Len(t, ft.requests, 1)
	var content nodeQueryContent
	require.NoError(t, json.Unmarshal(ft.requests[0].Content, &content))
	assert.Equal(t, "Submit", content.Text)
}

func TestWaitClampsDuration(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	start := time.Now()
	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionWait,
		Params: schemas.ActionParams{DurationSeconds: 3600},
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, out.Success)
	// Clamped to WaitMax (30ms in the test config), never the requested hour.
	assert.Less(t, elapsed, time.Second)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestWaitZeroUsesDefault(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)

	start := time.Now()
	_, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionWait,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDoneOutcome(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	success := true

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionDone,
		Params: schemas.ActionParams{Success: &success, Message: "goal reached"},
	})
	require.NoError(t, err)
	assert.True(t, out.Done)
	assert.True(t, out.DoneSuccess)
	assert.Equal(t, "goal reached", out.Message)
}

func TestClarificationIsForwardedAndReported(t *testing.T) {
	d, ft := newTestDispatcher(t, nil)

	out, err := d.Execute(context.Background(), "sess", &schemas.Decision{
		Action: schemas.ActionRequestClarification,
		Params: schemas.ActionParams{Question: "which account?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "which account?", out.Question)

	require.Len(t, ft.sent, 1)
	assert.Equal(t, schemas.TypeClarificationRequest, ft.sent[0].Type)
	var content schemas.ClarificationContent
	require.NoError(t, json.Unmarshal(ft.sent[0].Content, &content))
	assert.Equal(t, "which account?", content.Question)
}

func TestScreenshot(t *testing.T) {
	d, _ := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return schemas.NewEnvelope(schemas.TypeScreenshotResult, env.SessionID, env.CorrelationID,
			schemas.ScreenshotContent{Success: true, ImageBase64: "cGl4ZWxz"}), nil
	})

	img, err := d.Screenshot(context.Background(), "sess")
	require.NoError(t, err)
	assert.Equal(t, "cGl4ZWxz", img)
}

func TestScreenshotDeviceFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, func(env *schemas.Envelope) (*schemas.Envelope, error) {
		return schemas.NewEnvelope(schemas.TypeScreenshotResult, env.SessionID, env.CorrelationID,
			schemas.ScreenshotContent{Success: false, Message: "screen off"}), nil
	})

	_, err := d.Screenshot(context.Background(), "sess")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screen off")
}
