// Package protoo implements the protoo signaling protocol over WebSocket.
package protoo

import (
	"encoding/json"
	"fmt"
)

// Message is a protoo envelope. Exactly one of Request, Response or
// Notification is set.
type Message struct {
	Request      bool   `json:"request,omitempty"`
	Response     bool   `json:"response,omitempty"`
	Notification bool   `json:"notification,omitempty"`
	ID           uint32 `json:"id,omitempty"`
	Method       string `json:"method,omitempty"`
	OK           bool   `json:"ok,omitempty"`
	ErrorCode    int    `json:"errorCode,omitempty"`
	ErrorReason  string `json:"errorReason,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

// ParseMessage decodes and validates a protoo envelope. Malformed
// envelopes yield an InvalidMessageError.
func ParseMessage(byts []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(byts, &msg)
	if err != nil {
		return nil, InvalidMessageError{Wrapped: err}
	}

	switch {
	case msg.Request:
		if msg.Method == "" {
			return nil, InvalidMessageError{Wrapped: fmt.Errorf("missing request method")}
		}
		if msg.ID == 0 {
			return nil, InvalidMessageError{Wrapped: fmt.Errorf("missing request id")}
		}

	case msg.Response:
		if msg.ID == 0 {
			return nil, InvalidMessageError{Wrapped: fmt.Errorf("missing response id")}
		}

	case msg.Notification:
		if msg.Method == "" {
			return nil, InvalidMessageError{Wrapped: fmt.Errorf("missing notification method")}
		}

	default:
		return nil, InvalidMessageError{Wrapped: fmt.Errorf("missing message flag")}
	}

	return &msg, nil
}

func (msg *Message) marshal() ([]byte, error) {
	return json.Marshal(msg)
}

func createRequest(id uint32, method string, data interface{}) (*Message, error) {
	byts, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Request: true,
		ID:      id,
		Method:  method,
		Data:    byts,
	}, nil
}

func createSuccessResponse(req *Message, data interface{}) (*Message, error) {
	byts, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Response: true,
		ID:       req.ID,
		OK:       true,
		Data:     byts,
	}, nil
}

func createErrorResponse(req *Message, errorCode int, errorReason string) *Message {
	return &Message{
		Response:    true,
		ID:          req.ID,
		ErrorCode:   errorCode,
		ErrorReason: errorReason,
	}
}

func createNotification(method string, data interface{}) (*Message, error) {
	byts, err := marshalData(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Notification: true,
		Method:       method,
		Data:         byts,
	}, nil
}

func marshalData(data interface{}) (json.RawMessage, error) {
	if data == nil {
		return json.RawMessage("{}"), nil
	}

	if raw, ok := data.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return raw, nil
	}

	return json.Marshal(data)
}
