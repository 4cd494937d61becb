package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox/payloads"
)

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		DispatchTopic:     "dispatch-topic",
		NotificationTopic: "notification-topic",
	})
	require.NoError(t, err)
	return reg
}

func mustEnvelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	})
	require.NoError(t, err)
	return raw
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "n"})
	require.Error(t, err)
	_, err = NewEventRegistry(config.PubSubConfig{DispatchTopic: "d"})
	require.Error(t, err)
}

func TestEventRegistryResolveAssignmentEvent(t *testing.T) {
	reg := newTestEventRegistry(t)
	partnerID := uuid.New()
	assignmentID := uuid.New()

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventAssignmentAssigned,
		AggregateType: enums.AggregateAssignment,
		AggregateID:   assignmentID,
		Payload: mustEnvelope(t, payloads.AssignmentEvent{
			AssignmentID: assignmentID,
			PartnerID:    &partnerID,
			Status:       enums.AssignmentStatusAssigned,
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "dispatch-topic", resolved.Descriptor.Topic)
	payload, ok := resolved.Payload.(*payloads.AssignmentEvent)
	require.True(t, ok)
	require.NotNil(t, payload.PartnerID)
	assert.Equal(t, partnerID, *payload.PartnerID)
	assert.NotEmpty(t, resolved.Envelope.EventID)
}

func TestEventRegistryRoutesNotificationsSeparately(t *testing.T) {
	reg := newTestEventRegistry(t)
	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateAssignment,
		AggregateID:   uuid.New(),
		Payload: mustEnvelope(t, payloads.NotificationRequestedEvent{
			Kind:      payloads.NotificationKindAssignmentOffer,
			PartnerID: uuid.New(),
		}),
	})
	require.NoError(t, err)
	assert.Equal(t, "notification-topic", resolved.Descriptor.Topic)
	assert.ElementsMatch(t, []string{"dispatch-topic", "notification-topic"}, reg.Topics())
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType:     enums.OutboxEventType("order_created"),
			AggregateType: enums.AggregateAssignment,
			AggregateID:   uuid.New(),
		},
		"aggregate mismatch": {
			EventType:     enums.EventAssignmentAccepted,
			AggregateType: enums.AggregatePartner,
			AggregateID:   uuid.New(),
		},
		"missing aggregate id": {
			EventType:     enums.EventAssignmentAccepted,
			AggregateType: enums.AggregateAssignment,
		},
		"null data": {
			EventType:     enums.EventAssignmentAccepted,
			AggregateType: enums.AggregateAssignment,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":1,"event_id":"x","data":null}`),
		},
		"broken envelope": {
			EventType:     enums.EventAssignmentAccepted,
			AggregateType: enums.AggregateAssignment,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{`),
		},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(row)
			require.Error(t, err)
			var nonRetry NonRetryableError
			assert.True(t, errors.As(err, &nonRetry))
		})
	}
}
