package gateway

import "encoding/json"

// Inbound event names.
const (
	EventJoin  = "join_conversation"
	EventLeave = "leave_conversation"
	EventSend  = "send_message"
)

// Frame is the envelope of every inbound message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type conversationRequest struct {
	EnrollmentID string `json:"enrollment_id"`
}

type sendRequest struct {
	EnrollmentID string `json:"enrollment_id"`
	MessageText  string `json:"message_text"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type authenticatedPayload struct {
	User any `json:"user"`
}

const (
	msgMalformedFrame = "Malformed frame"
	msgUnknownEvent   = "Unknown event"
)
