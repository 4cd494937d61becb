package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
)

type memGuard struct {
	seen      map[string]bool
	err       error
	forgotten []string
}

func (m *memGuard) CheckAndMarkProcessed(_ context.Context, consumer, eventID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	key := consumer + ":" + eventID
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *memGuard) Forget(_ context.Context, consumer, eventID string) error {
	delete(m.seen, consumer+":"+eventID)
	m.forgotten = append(m.forgotten, eventID)
	return nil
}

type stubReceiver struct{}

func (stubReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return nil
}

func newTestSubscriber(t *testing.T, handler Handler, guard *memGuard) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(SubscriberParams{
		Name:         "delivery",
		Subscription: stubReceiver{},
		Handler:      handler,
		Idempotency:  guard,
		Logger:       logger.New(logger.Options{ServiceName: "consumer-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return s
}

func envelopeJSON(t *testing.T, eventID string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID, OccurredAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), Data: raw})
	require.NoError(t, err)
	return body
}

func TestProcessHandlesEachEventOnce(t *testing.T) {
	var got []Event
	guard := &memGuard{seen: map[string]bool{}}
	s := newTestSubscriber(t, HandlerFunc(func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	}), guard)
	eventID := uuid.NewString()
	body := envelopeJSON(t, eventID, map[string]string{"order_id": "o-1"})
	attrs := map[string]string{"event_type": "delivery_completed", "aggregate_id": "o-1"}

	assert.True(t, s.process(context.Background(), "m1", body, attrs))
	assert.True(t, s.process(context.Background(), "m2", body, attrs), "duplicate is acked")
	require.Len(t, got, 1)
	assert.Equal(t, eventID, got[0].EventID)
	assert.Equal(t, "delivery_completed", got[0].EventType)
	assert.Equal(t, "o-1", got[0].AggregateID)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(got[0].Data))
}

func TestProcessNacksAndForgetsOnTransientFailure(t *testing.T) {
	guard := &memGuard{seen: map[string]bool{}}
	calls := 0
	s := newTestSubscriber(t, HandlerFunc(func(context.Context, Event) error {
		calls++
		if calls == 1 {
			return errors.New("db unavailable")
		}
		return nil
	}), guard)
	eventID := uuid.NewString()
	body := envelopeJSON(t, eventID, map[string]string{"k": "v"})
	attrs := map[string]string{"event_type": "delivery_completed"}

	assert.False(t, s.process(context.Background(), "m1", body, attrs))
	assert.Equal(t, []string{eventID}, guard.forgotten)
	assert.True(t, s.process(context.Background(), "m1", body, attrs), "redelivery succeeds")
	assert.Equal(t, 2, calls)
}

func TestProcessAcksPermanentFailures(t *testing.T) {
	guard := &memGuard{seen: map[string]bool{}}
	s := newTestSubscriber(t, HandlerFunc(func(context.Context, Event) error {
		return Permanent(errors.New("unknown order"))
	}), guard)

	assert.True(t, s.process(context.Background(), "m1", envelopeJSON(t, uuid.NewString(), map[string]int{"a": 1}), map[string]string{"event_type": "x"}))
	assert.Empty(t, guard.forgotten)
}

func TestProcessDropsUndecodableMessages(t *testing.T) {
	guard := &memGuard{seen: map[string]bool{}}
	s := newTestSubscriber(t, HandlerFunc(func(context.Context, Event) error {
		t.Fatal("handler must not run")
		return nil
	}), guard)

	assert.True(t, s.process(context.Background(), "m1", []byte("not json"), map[string]string{"event_type": "x"}))
	assert.True(t, s.process(context.Background(), "m2", envelopeJSON(t, uuid.NewString(), map[string]int{"a": 1}), nil), "missing event_type")
	assert.True(t, s.process(context.Background(), "m3", envelopeJSON(t, "", map[string]int{"a": 1}), map[string]string{"event_type": "x"}), "missing event id")
}

func TestProcessNacksWhenIdempotencyStoreFails(t *testing.T) {
	guard := &memGuard{seen: map[string]bool{}, err: errors.New("redis down")}
	s := newTestSubscriber(t, HandlerFunc(func(context.Context, Event) error { return nil }), guard)
	assert.False(t, s.process(context.Background(), "m1", envelopeJSON(t, uuid.NewString(), map[string]int{"a": 1}), map[string]string{"event_type": "x"}))
}

func TestNewSubscriberValidates(t *testing.T) {
	_, err := NewSubscriber(SubscriberParams{})
	require.Error(t, err)
}
