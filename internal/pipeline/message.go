package pipeline

import (
	"context"
	"time"
)

// Message is one change event as delivered by a transport.
type Message struct {
	ID          string
	Payload     []byte
	Attributes  map[string]string
	PublishTime time.Time

	// AckFunc and NackFunc settle the message with its transport. Either may
	// be nil for transports without explicit settlement.
	AckFunc  func()
	NackFunc func()
}

// Ack settles the message as processed.
func (m Message) Ack() {
	if m.AckFunc != nil {
		m.AckFunc()
	}
}

// Nack asks the transport to redeliver the message.
func (m Message) Nack() {
	if m.NackFunc != nil {
		m.NackFunc()
	}
}

// MessageConsumer is a source of change events.
type MessageConsumer interface {
	Messages() <-chan Message
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Done() <-chan struct{}
}
