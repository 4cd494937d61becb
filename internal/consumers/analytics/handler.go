package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/partner-dispatch/internal/consumers"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox/payloads"
)

// ConsumerName scopes idempotency markers for this consumer.
const ConsumerName = "assignment-analytics"

type rowWriter interface {
	Insert(ctx context.Context, rows ...any) error
}

// Handler turns assignment lifecycle events into assignment_events rows.
type Handler struct {
	writer rowWriter
	logg   *logger.Logger
}

func NewHandler(writer rowWriter, logg *logger.Logger) (*Handler, error) {
	if writer == nil {
		return nil, errors.New("bigquery writer required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Handler{writer: writer, logg: logg}, nil
}

// AssignmentEventRow is the BigQuery schema of the assignments table.
type AssignmentEventRow struct {
	EventID              string                `bigquery:"event_id"`
	EventType            string                `bigquery:"event_type"`
	OccurredAt           time.Time             `bigquery:"occurred_at"`
	AssignmentID         string                `bigquery:"assignment_id"`
	OrderID              string                `bigquery:"order_id"`
	PartnerID            cbigquery.NullString  `bigquery:"partner_id"`
	PreviousPartnerID    cbigquery.NullString  `bigquery:"previous_partner_id"`
	Status               string                `bigquery:"status"`
	AssignmentType       string                `bigquery:"assignment_type"`
	AttemptCount         int64                 `bigquery:"attempt_count"`
	SearchRadiusKm       float64               `bigquery:"search_radius_km"`
	DistanceKm           cbigquery.NullFloat64 `bigquery:"distance_km"`
	EstimatedTimeMinutes cbigquery.NullInt64   `bigquery:"estimated_time_minutes"`
	RejectionReason      cbigquery.NullString  `bigquery:"rejection_reason"`
	GeoDegraded          bool                  `bigquery:"geo_degraded"`
	ActorRole            cbigquery.NullString  `bigquery:"actor_role"`
	Payload              cbigquery.NullJSON    `bigquery:"payload"`
}

func (h *Handler) Handle(ctx context.Context, event consumers.Event) error {
	eventType, err := enums.ParseOutboxEventType(event.EventType)
	if err != nil || !strings.HasPrefix(string(eventType), "assignment_") {
		h.logg.Debug(ctx, "event not tracked by analytics")
		return nil
	}
	row, err := buildRow(event)
	if err != nil {
		return consumers.Permanent(err)
	}
	if err := h.writer.Insert(ctx, row); err != nil {
		return fmt.Errorf("write assignment row: %w", err)
	}
	return nil
}

func buildRow(event consumers.Event) (*AssignmentEventRow, error) {
	var payload payloads.AssignmentEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	row := &AssignmentEventRow{
		EventID:         event.EventID,
		EventType:       event.EventType,
		OccurredAt:      event.OccurredAt.UTC(),
		AssignmentID:    payload.AssignmentID.String(),
		OrderID:         payload.OrderID.String(),
		Status:          string(payload.Status),
		AssignmentType:  string(payload.Type),
		AttemptCount:    int64(payload.AttemptCount),
		SearchRadiusKm:  payload.SearchRadiusKm,
		GeoDegraded:     payload.GeoDegraded,
		RejectionReason: nullString(payload.RejectionReason),
		Payload:         cbigquery.NullJSON{JSONVal: string(event.Data), Valid: len(event.Data) > 0},
	}
	if payload.PartnerID != nil {
		row.PartnerID = cbigquery.NullString{StringVal: payload.PartnerID.String(), Valid: true}
	}
	if payload.PreviousPartnerID != nil {
		row.PreviousPartnerID = cbigquery.NullString{StringVal: payload.PreviousPartnerID.String(), Valid: true}
	}
	if payload.DistanceKm != nil {
		row.DistanceKm = cbigquery.NullFloat64{Float64: *payload.DistanceKm, Valid: true}
	}
	if payload.EstimatedTimeMinutes != nil {
		row.EstimatedTimeMinutes = cbigquery.NullInt64{Int64: int64(*payload.EstimatedTimeMinutes), Valid: true}
	}
	if event.Actor != nil && event.Actor.Role != "" {
		row.ActorRole = cbigquery.NullString{StringVal: event.Actor.Role, Valid: true}
	}
	return row, nil
}

func nullString(v *string) cbigquery.NullString {
	if v == nil || strings.TrimSpace(*v) == "" {
		return cbigquery.NullString{}
	}
	return cbigquery.NullString{StringVal: *v, Valid: true}
}
