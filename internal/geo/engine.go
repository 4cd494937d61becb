package geo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
)

// CandidateSource returns online partners inside a bounding box.
type CandidateSource interface {
	FindOnlineInBox(ctx context.Context, box BoundingBox) ([]models.PartnerLocation, error)
}

// QueryObserver records geo query outcomes.
type QueryObserver interface {
	ObserveGeoQuery(duration time.Duration, candidates int, err error)
}

// NearbyPartner is a matching candidate with its distance from the query point.
type NearbyPartner struct {
	PartnerID         uuid.UUID  `json:"partner_id"`
	Latitude          float64    `json:"lat"`
	Longitude         float64    `json:"lon"`
	DistanceKm        float64    `json:"distance_km"`
	EtaMinutes        int        `json:"eta_minutes"`
	IsMoving          bool       `json:"is_moving"`
	CurrentDeliveryID *uuid.UUID `json:"current_delivery_id"`
}

// IsFree reports whether the partner is not carrying another delivery.
func (p NearbyPartner) IsFree() bool {
	return p.CurrentDeliveryID == nil
}

// Engine answers radius queries over partner positions.
type Engine interface {
	FindNearby(ctx context.Context, centerLat, centerLon, radiusKm float64) ([]NearbyPartner, error)
}

type engine struct {
	source   CandidateSource
	speedKmh float64
	observer QueryObserver
}

// EngineOption customises the engine.
type EngineOption func(*engine)

// WithAverageSpeed overrides the speed used for ETA estimates.
func WithAverageSpeed(kmh float64) EngineOption {
	return func(e *engine) {
		if kmh > 0 {
			e.speedKmh = kmh
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(observer QueryObserver) EngineOption {
	return func(e *engine) {
		e.observer = observer
	}
}

// NewEngine builds an Engine reading candidates from source.
func NewEngine(source CandidateSource, opts ...EngineOption) (Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("candidate source required")
	}
	e := &engine{source: source, speedKmh: DefaultAverageSpeedKmh}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// FindNearby returns online partners within radiusKm of the center, closest
// first. A non-positive radius or an empty area yields an empty slice.
func (e *engine) FindNearby(ctx context.Context, centerLat, centerLon, radiusKm float64) ([]NearbyPartner, error) {
	if radiusKm <= 0 {
		return []NearbyPartner{}, nil
	}

	start := time.Now()
	box := NewBoundingBox(centerLat, centerLon, radiusKm)
	rows, err := e.source.FindOnlineInBox(ctx, box)
	if err != nil {
		e.observe(start, 0, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query partner locations")
	}

	out := make([]NearbyPartner, 0, len(rows))
	for _, row := range rows {
		// Membership uses the exact distance; only the reported value is rounded.
		exact := haversine(centerLat, centerLon, row.Latitude, row.Longitude)
		if exact > radiusKm {
			continue
		}
		distance := roundKm(exact)
		out = append(out, NearbyPartner{
			PartnerID:         row.PartnerID,
			Latitude:          row.Latitude,
			Longitude:         row.Longitude,
			DistanceKm:        distance,
			EtaMinutes:        CalculateETA(distance, e.speedKmh),
			IsMoving:          row.IsMoving,
			CurrentDeliveryID: row.CurrentDeliveryID,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})

	e.observe(start, len(out), nil)
	return out, nil
}

func (e *engine) observe(start time.Time, candidates int, err error) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveGeoQuery(time.Since(start), candidates, err)
}
