package bridge

import (
	json "github.com/goccy/go-json"
)

// Inbound/outbound gateway opcodes consumed or emitted by the core, per
// spec.md §6.
const (
	OpDispatch     = 0
	OpHeartbeat    = 1
	OpIdentify     = 2
	OpResume       = 6
	OpReconnect    = 7
	OpHello        = 10
	OpHeartbeatAck = 11
)

// noSequence is the sentinel "none" value for GatewaySession.lastSeq before any
// sequenced frame has been received.
const noSequence int64 = -1

// Frame is the wire JSON text frame exchanged over the gateway transport.
type Frame struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type *string         `json:"t,omitempty"`
}

// helloPayload is the Hello opcode's `d` field.
type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// identifyPayload is the Identify opcode's `d` field.
type identifyPayload struct {
	Token      string                 `json:"token"`
	Properties identifyPropertiesJSON `json:"properties"`
	Intents    int64                  `json:"intents"`
}

type identifyPropertiesJSON struct {
	OS string `json:"os"`
}

// resumePayload is the Resume opcode's `d` field.
type resumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// readyPayload extracts only the fields the session needs to track from a
// READY dispatch; the rest of the payload is forwarded to the Event Sink
// unparsed, per spec.md §1 Non-goals ("schema validation of inbound events
// beyond extracting the fields the session needs").
type readyPayload struct {
	SessionID string `json:"session_id"`
	User      struct {
		ID string `json:"id"`
	} `json:"user"`
}

// dispatchEventReady is the event name that carries session identity.
const dispatchEventReady = "READY"

// encodeFrame marshals an outbound opcode+payload pair into a wire Frame.
func encodeFrame(op int, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Frame{Op: op, Data: data})
}
