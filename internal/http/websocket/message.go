package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type SocketMessageType int

const (
	Update SocketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the envelope for all traffic over the activity socket.
// The ID field is echoed back on replies so a client can pair a reply
// with its source request; Origin and Target address a specific client
// and never leave the server.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	ID     int                    `json:"id"`
	Type   SocketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// ValidateArguments checks the message body carries each required key
// with the expected primitive type.
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	for key, expectedType := range required {
		value, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("failed to validate key '%v' - key is missing", key)
		}

		switch expectedType {
		case "number", "int":
			if _, ok := value.(float64); !ok {
				return fmt.Errorf("failed to validate key '%v' with type '%v' - %#v", key, expectedType, value)
			}
		case "string":
			if fmt.Sprintf("%v", value) == "" {
				return fmt.Errorf("failed to validate key '%v' with type '%v' - %#v", key, expectedType, value)
			}
		default:
			return fmt.Errorf("failed to validate key '%v' with type '%v' - unknown type", key, expectedType)
		}
	}

	return nil
}

// FormReply returns a new message carrying the same ID as the original
// and targeting its origin, so the client can pair the reply with its
// request.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType SocketMessageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		ID:     message.ID,
		Target: message.Origin,
	}
}
