package outbox

import "context"

// Message is one relayed outbox row as handed to a broker.
type Message struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink delivers relayed messages. Send blocks until the broker acknowledged
// the message or ctx is done.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
}
