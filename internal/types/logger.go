package types

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tiiuae/coverageengine/internal/log"
)

type logger struct {
	log *log.Logger
}

// NewLogger returns a bus handler that logs every message except the
// position stream.
func NewLogger(l *log.Logger) MessageHandler {
	return &logger{l}
}

func (l *logger) Receive(message Message) {
	if message.MessageType == MessageGlobalPosition {
		return
	}

	b, _ := json.Marshal(message.Message)
	l.log.Info("Message", "type", message.MessageType, "from", message.From, "to", message.To, "payload", string(b))
}

func (l *logger) Run(ctx context.Context, wg *sync.WaitGroup, post PostFn) {
}
