package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ID          string      `json:"id"`
	MessageType string      `json:"message_type"`
	Message     interface{} `json:"message"`
}

// StringMessage is the wire form of a Message whose payload is itself a
// JSON document.
type StringMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	ID          string    `json:"id"`
	MessageType string    `json:"message_type"`
	Message     string    `json:"message"`
}

// ToStringMessage serializes the payload for MQTT transport.
func (message *Message) ToStringMessage() (StringMessage, error) {
	b, err := json.Marshal(message.Message)
	if err != nil {
		return StringMessage{}, errors.WithMessagef(err, "Could not marshal %s payload", message.MessageType)
	}

	return StringMessage{
		Timestamp:   message.Timestamp,
		From:        message.From,
		To:          message.To,
		ID:          message.ID,
		MessageType: message.MessageType,
		Message:     string(b),
	}, nil
}

func (message *StringMessage) Replace(v interface{}) Message {
	return Message{
		message.Timestamp,
		message.From,
		message.To,
		message.ID,
		message.MessageType,
		v,
	}
}

func CreateMessage(messageType, from, to string, message interface{}) Message {
	return Message{
		time.Now().UTC(),
		from,
		to,
		uuid.New().String(),
		messageType,
		message,
	}
}
