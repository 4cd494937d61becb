package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox/registry"
)

// Event is a decoded message: the outbox envelope plus the routing attributes
// the relay attaches.
type Event struct {
	MessageID   string
	EventID     string
	EventType   string
	AggregateID string
	OccurredAt  time.Time
	Actor       *outbox.ActorRef
	Data        json.RawMessage
}

// Handler processes one event. Returning a PermanentError acks the message
// without retry; any other error nacks it for redelivery.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (fn HandlerFunc) Handle(ctx context.Context, event Event) error { return fn(ctx, event) }

// PermanentError marks a failure that redelivery cannot fix.
type PermanentError struct{ Err error }

func (e PermanentError) Error() string { return e.Err.Error() }
func (e PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type idempotencyGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Forget(ctx context.Context, consumer, eventID string) error
}

type SubscriberParams struct {
	Name         string
	Subscription receiver
	Handler      Handler
	Idempotency  idempotencyGuard
	Logger       *logger.Logger
}

// Subscriber pulls from one Pub/Sub subscription and hands each event to its
// handler at most once per event id.
type Subscriber struct {
	name    string
	sub     receiver
	handler Handler
	guard   idempotencyGuard
	logg    *logger.Logger
}

func NewSubscriber(params SubscriberParams) (*Subscriber, error) {
	switch {
	case strings.TrimSpace(params.Name) == "":
		return nil, errors.New("consumer name is required")
	case params.Subscription == nil:
		return nil, errors.New("subscription is required")
	case params.Handler == nil:
		return nil, errors.New("handler is required")
	case params.Idempotency == nil:
		return nil, errors.New("idempotency manager is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Subscriber{
		name:    params.Name,
		sub:     params.Subscription,
		handler: params.Handler,
		guard:   params.Idempotency,
		logg:    params.Logger,
	}, nil
}

func (s *Subscriber) Name() string { return s.name }

// Run blocks until ctx is cancelled or the subscription fails.
func (s *Subscriber) Run(ctx context.Context) error {
	return s.sub.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg.ID, msg.Data, msg.Attributes) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process returns true when the message should be acked.
func (s *Subscriber) process(ctx context.Context, messageID string, data []byte, attrs map[string]string) bool {
	logCtx := s.logg.WithFields(ctx, map[string]any{"consumer": s.name, "message_id": messageID})

	event, err := decode(messageID, data, attrs)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "dropping undecodable message")
		return true
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":     event.EventID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	seen, err := s.guard.CheckAndMarkProcessed(logCtx, s.name, event.EventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if seen {
		s.logg.Debug(logCtx, "event already processed")
		return true
	}

	if err := s.handler.Handle(logCtx, event); err != nil {
		var permanent PermanentError
		if errors.As(err, &permanent) {
			s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "event rejected by handler")
			return true
		}
		s.logg.Error(logCtx, "event handler failed", err)
		if ferr := s.guard.Forget(logCtx, s.name, event.EventID); ferr != nil {
			s.logg.Error(logCtx, "failed to clear idempotency marker", ferr)
		}
		return false
	}
	return true
}

func decode(messageID string, data []byte, attrs map[string]string) (Event, error) {
	envelope, err := registry.DecodeEnvelope(data)
	if err != nil {
		return Event{}, err
	}
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(attrs["event_id"])
	}
	if eventID == "" {
		return Event{}, fmt.Errorf("event id missing")
	}
	eventType := strings.TrimSpace(attrs["event_type"])
	if eventType == "" {
		return Event{}, fmt.Errorf("event_type attribute missing")
	}
	return Event{
		MessageID:   messageID,
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: strings.TrimSpace(attrs["aggregate_id"]),
		OccurredAt:  envelope.OccurredAt,
		Actor:       envelope.Actor,
		Data:        envelope.Data,
	}, nil
}
