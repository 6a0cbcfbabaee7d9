// api/schemas/envelope.go
package schemas

import "encoding/json"

// Envelope is the message frame exchanged on the duplex channel, in both
// directions. A response envelope always echoes the CorrelationID of the
// request that triggered it; envelopes without a correlation id are routed
// by Type to session-level control handling instead of the transport.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	SessionID     string          `json:"session_id"`
	Content       json.RawMessage `json:"content,omitempty"`
}

// IsCorrelated reports whether this envelope answers an outstanding request.
func (e *Envelope) IsCorrelated() bool {
	return e.CorrelationID != ""
}

// NewEnvelope builds an envelope with a marshaled content payload. Content is
// always one of the flat structs in this package, whose marshaling cannot
// fail; a nil content yields an empty payload.
func NewEnvelope(msgType, sessionID, correlationID string, content any) *Envelope {
	var raw json.RawMessage
	if content != nil {
		if b, err := json.Marshal(content); err == nil {
			raw = b
		}
	}
	return &Envelope{
		Type:          msgType,
		CorrelationID: correlationID,
		SessionID:     sessionID,
		Content:       raw,
	}
}
