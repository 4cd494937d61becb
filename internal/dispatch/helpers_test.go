package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/partner-dispatch/internal/geo"
	"github.com/angelmondragon/partner-dispatch/internal/locations"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
)

func setupDispatchTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	stmts := []string{`
CREATE TABLE assignments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  restaurant_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  partner_id TEXT,
  status TEXT NOT NULL,
  type TEXT NOT NULL,
  restaurant_lat REAL NOT NULL,
  restaurant_lng REAL NOT NULL,
  customer_lat REAL NOT NULL,
  customer_lng REAL NOT NULL,
  distance_km REAL,
  estimated_time_minutes INTEGER,
  search_radius_km REAL NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 1,
  rejection_reason TEXT,
  assigned_by_id TEXT,
  assigned_at DATETIME,
  accepted_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE UNIQUE INDEX ux_assignments_order_id ON assignments(order_id);`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type stubGeo struct {
	mu         sync.Mutex
	partners   []geo.NearbyPartner
	err        error
	delay      time.Duration
	calls      int
	lastRadius float64
	onQuery    func()
}

func (g *stubGeo) FindNearby(ctx context.Context, _, _ float64, radiusKm float64) ([]geo.NearbyPartner, error) {
	g.mu.Lock()
	g.calls++
	g.lastRadius = radiusKm
	partners, err, delay, hook := g.partners, g.err, g.delay, g.onQuery
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	out := make([]geo.NearbyPartner, len(partners))
	copy(out, partners)
	return out, nil
}

func (g *stubGeo) set(partners ...geo.NearbyPartner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.partners = partners
}

type stubLocator struct {
	locations map[uuid.UUID]locations.Snapshot
	err       error
}

func (l *stubLocator) GetLocation(_ context.Context, partnerID uuid.UUID) (*locations.Snapshot, error) {
	if l.err != nil {
		return nil, l.err
	}
	if snap, ok := l.locations[partnerID]; ok {
		return &snap, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "partner location not found")
}

type memReservations struct {
	mu      sync.Mutex
	holders map[uuid.UUID]uuid.UUID
	err     error
}

func newMemReservations() *memReservations {
	return &memReservations{holders: map[uuid.UUID]uuid.UUID{}}
}

func (m *memReservations) Reserve(_ context.Context, partnerID, assignmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if holder, ok := m.holders[partnerID]; ok && holder != assignmentID {
		return false, nil
	}
	m.holders[partnerID] = assignmentID
	return true, nil
}

func (m *memReservations) Force(_ context.Context, partnerID, assignmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.holders[partnerID] = assignmentID
	return nil
}

func (m *memReservations) Release(_ context.Context, partnerID, assignmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if holder, ok := m.holders[partnerID]; ok && holder == assignmentID {
		delete(m.holders, partnerID)
	}
	return nil
}

func (m *memReservations) holder(partnerID uuid.UUID) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.holders[partnerID]
	return id, ok
}

type recordingOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
	err    error
}

func (o *recordingOutbox) Emit(_ context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if o.err != nil {
		return o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *recordingOutbox) types() []enums.OutboxEventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]enums.OutboxEventType, 0, len(o.events))
	for _, event := range o.events {
		out = append(out, event.EventType)
	}
	return out
}

func (o *recordingOutbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = nil
}

type recordingObserver struct {
	mu           sync.Mutex
	outcomes     []string
	degraded     []string
	reservations []string
}

func (o *recordingObserver) ObserveAssignment(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveGeoDegraded(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded = append(o.degraded, reason)
}

func (o *recordingObserver) ObserveReservation(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reservations = append(o.reservations, result)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	db           *gorm.DB
	svc          *service
	geo          *stubGeo
	locator      *stubLocator
	reservations *memReservations
	outbox       *recordingOutbox
	observer     *recordingObserver
	clock        *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := setupDispatchTestDB(t)
	h := &harness{
		db:           db,
		geo:          &stubGeo{},
		locator:      &stubLocator{locations: map[uuid.UUID]locations.Snapshot{}},
		reservations: newMemReservations(),
		outbox:       &recordingOutbox{},
		observer:     &recordingObserver{},
		clock:        &testClock{now: time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)},
	}
	svc, err := NewService(ServiceParams{
		Repository:   NewRepository(db),
		TX:           gormTxRunner{db: db},
		Outbox:       h.outbox,
		Geo:          h.geo,
		Locator:      h.locator,
		Reservations: h.reservations,
		Observer:     h.observer,
		Logger:       logger.New(logger.Options{ServiceName: "dispatch-test", Output: io.Discard}),
		GeoTimeout:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	h.svc = svc.(*service)
	h.svc.now = h.clock.Now
	return h
}

func ptr[T any](v T) *T { return &v }

func coords(lat, lng float64) Coordinates {
	return Coordinates{Latitude: ptr(lat), Longitude: ptr(lng)}
}

func autoInput(orderID uuid.UUID) AutoAssignInput {
	return AutoAssignInput{
		OrderID:      orderID,
		RestaurantID: uuid.New(),
		CustomerID:   uuid.New(),
		Restaurant:   coords(12.9716, 77.5946),
		Customer:     coords(12.9352, 77.6245),
		Actor:        Actor{ID: uuid.New(), Role: enums.ActorRoleService},
	}
}

func nearby(partnerID uuid.UUID, distance float64, busy bool) geo.NearbyPartner {
	p := geo.NearbyPartner{
		PartnerID:  partnerID,
		Latitude:   12.97,
		Longitude:  77.59,
		DistanceKm: distance,
		EtaMinutes: geo.CalculateETA(distance, geo.DefaultAverageSpeedKmh),
	}
	if busy {
		p.CurrentDeliveryID = ptr(uuid.New())
	}
	return p
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code(), "unexpected error %v", err)
}
