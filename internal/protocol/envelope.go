package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolError reports a message that parsed as JSON but is not a valid
// envelope (not an object, or missing the "type" string).
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol: " + e.Reason
}

// Envelope is an inbound message decoded once at the boundary. Type is the
// discriminator; Raw keeps the full body so handlers can bind their own
// payload struct.
type Envelope struct {
	Type string
	Raw  json.RawMessage
}

// Decode validates a message body and extracts its type.
func Decode(data []byte) (*Envelope, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("message is not a JSON object: %v", err)}
	}
	rawType, ok := head["type"]
	if !ok {
		return nil, &ProtocolError{Reason: "message has no type field"}
	}
	var msgType string
	if err := json.Unmarshal(rawType, &msgType); err != nil || msgType == "" {
		return nil, &ProtocolError{Reason: "message type must be a non-empty string"}
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return &Envelope{Type: msgType, Raw: raw}, nil
}

// Bind unmarshals the envelope body into v.
func (e *Envelope) Bind(v interface{}) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("invalid %s payload: %v", e.Type, err)}
	}
	return nil
}

// ErrorMessage returns the "message" field of an error envelope.
func (e *Envelope) ErrorMessage() string {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(e.Raw, &body)
	return body.Message
}
