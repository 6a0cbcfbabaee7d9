// api/schemas/kinds.go
package schemas

// Request/response message kinds carried in Envelope.Type. Each request kind
// pairs 1:1 with the result kind the device echoes back.
const (
	// Screen capture.
	TypeRequestScreenshot = "request_screenshot"
	TypeScreenshotResult  = "screenshot_result"

	// Generic command execution on the device.
	TypeExecute         = "execute"
	TypeExecutionResult = "execution_result"

	// Accessibility node queries.
	TypeRequestNodesByText      = "request_nodes_by_text"
	TypeNodesByTextResult       = "nodes_by_text_result"
	TypeRequestInteractiveNodes = "request_interactive_nodes"
	TypeInteractiveNodesResult  = "interactive_nodes_result"
	TypeRequestAllNodes         = "request_all_nodes"
	TypeAllNodesResult          = "all_nodes_result"
	TypeRequestClickableNodes   = "request_clickable_nodes"
	TypeClickableNodesResult    = "clickable_nodes_result"
)

// Session-control kinds. These travel without a correlation id and are routed
// by type, never into the transport's pending-request table.
const (
	TypeSessionConnect = "session_connect"
	TypeStartTask      = "start_task"
	TypeCancelTask     = "cancel_task"
	TypeClassifyInput  = "classify_input"
	TypeClientError    = "client_error"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Server-to-client notification kinds.
const (
	TypeStatus               = "status"
	TypeWarning              = "warning"
	TypeError                = "error"
	TypeClarificationRequest = "clarification_request"
	TypeTaskResult           = "task_result"
)

// responseKindFor maps each request kind to the result kind the device
// answers with. The transport pins the pairing on every correlated request
// and discards replies of any other type.
var responseKindFor = map[string]string{
	TypeRequestScreenshot:       TypeScreenshotResult,
	TypeExecute:                 TypeExecutionResult,
	TypeRequestNodesByText:      TypeNodesByTextResult,
	TypeRequestInteractiveNodes: TypeInteractiveNodesResult,
	TypeRequestAllNodes:         TypeAllNodesResult,
	TypeRequestClickableNodes:   TypeClickableNodesResult,
}

// ResponseKindFor returns the result kind paired with a request kind, and
// whether the pairing exists.
func ResponseKindFor(requestKind string) (string, bool) {
	k, ok := responseKindFor[requestKind]
	return k, ok
}
