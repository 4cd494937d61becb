package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/partner-dispatch/internal/consumers"
	"github.com/angelmondragon/partner-dispatch/internal/dispatch"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox/payloads"
)

type fakeCompleter struct {
	orders []uuid.UUID
	actor  dispatch.Actor
	snap   *dispatch.Snapshot
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, orderID uuid.UUID, actor dispatch.Actor) (*dispatch.Snapshot, error) {
	f.orders = append(f.orders, orderID)
	f.actor = actor
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func newHandler(t *testing.T, svc *fakeCompleter) *Handler {
	t.Helper()
	h, err := NewHandler(svc, logger.New(logger.Options{ServiceName: "delivery-test", Output: io.Discard}))
	require.NoError(t, err)
	return h
}

func completedEvent(t *testing.T, payload payloads.DeliveryCompletedEvent) consumers.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return consumers.Event{EventID: uuid.NewString(), EventType: EventDeliveryCompleted, Data: raw}
}

func TestHandleCompletesAssignment(t *testing.T) {
	orderID := uuid.New()
	partnerID := uuid.New()
	svc := &fakeCompleter{snap: &dispatch.Snapshot{ID: uuid.New(), OrderID: orderID, PartnerID: &partnerID, Status: enums.AssignmentStatusCompleted}}
	h := newHandler(t, svc)

	err := h.Handle(context.Background(), completedEvent(t, payloads.DeliveryCompletedEvent{OrderID: orderID, PartnerID: &partnerID, CompletedAt: time.Now()}))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orderID}, svc.orders)
	assert.Equal(t, enums.ActorRoleService, svc.actor.Role)
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	svc := &fakeCompleter{}
	h := newHandler(t, svc)
	require.NoError(t, h.Handle(context.Background(), consumers.Event{EventType: "delivery_started", Data: []byte(`{}`)}))
	assert.Empty(t, svc.orders)
}

func TestHandleRejectsBadPayloads(t *testing.T) {
	h := newHandler(t, &fakeCompleter{})
	var permanent consumers.PermanentError

	err := h.Handle(context.Background(), consumers.Event{EventType: EventDeliveryCompleted, Data: []byte(`[1,2]`)})
	assert.ErrorAs(t, err, &permanent)

	err = h.Handle(context.Background(), completedEvent(t, payloads.DeliveryCompletedEvent{}))
	assert.ErrorAs(t, err, &permanent)
}

func TestHandleClassifiesDispatchErrors(t *testing.T) {
	var permanent consumers.PermanentError
	for _, code := range []pkgerrors.Code{pkgerrors.CodeNotFound, pkgerrors.CodeStateConflict} {
		h := newHandler(t, &fakeCompleter{err: pkgerrors.New(code, "nope")})
		err := h.Handle(context.Background(), completedEvent(t, payloads.DeliveryCompletedEvent{OrderID: uuid.New()}))
		assert.ErrorAs(t, err, &permanent, string(code))
	}

	h := newHandler(t, &fakeCompleter{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "load")})
	err := h.Handle(context.Background(), completedEvent(t, payloads.DeliveryCompletedEvent{OrderID: uuid.New()}))
	require.Error(t, err)
	assert.False(t, errors.As(err, &permanent))
}
