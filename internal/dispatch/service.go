package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/partner-dispatch/internal/geo"
	dbpkg "github.com/angelmondragon/partner-dispatch/pkg/db"
	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	"github.com/angelmondragon/partner-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/partner-dispatch/pkg/errors"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/pagination"
)

const (
	DefaultSearchRadiusKm = 5.0
	defaultGeoTimeout     = 2 * time.Second

	orderUniqueConstraint = "ux_assignments_order_id"
)

// Outcome labels reported to the Observer.
const (
	OutcomeAssigned   = "assigned"
	OutcomeUnassigned = "unassigned"
	OutcomeManual     = "manual"
	OutcomeAccepted   = "accepted"
	OutcomeRejected   = "rejected"
	OutcomeCompleted  = "completed"
	OutcomeConflict   = "conflict"

	GeoDegradedTimeout = "timeout"
	GeoDegradedError   = "error"

	ReservationHeld    = "held"
	ReservationSkipped = "skipped"
	ReservationFailed  = "failed"
)

type ServiceParams struct {
	Repository      Repository
	TX              txRunner
	Outbox          outboxPublisher
	Geo             geo.Engine
	Locator         partnerLocator
	Reservations    Reservations
	Observer        Observer
	Logger          *logger.Logger
	DefaultRadiusKm float64
	AverageSpeedKmh float64
	GeoTimeout      time.Duration
}

type service struct {
	repo          Repository
	tx            txRunner
	outbox        outboxPublisher
	geo           geo.Engine
	locator       partnerLocator
	reservations  Reservations
	observer      Observer
	logg          *logger.Logger
	defaultRadius float64
	speedKmh      float64
	geoTimeout    time.Duration
	now           func() time.Time
}

// NewService wires the dispatch orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("dispatch repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Geo == nil {
		return nil, fmt.Errorf("geo engine required")
	}
	if params.Locator == nil {
		return nil, fmt.Errorf("partner locator required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservations required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	radius := params.DefaultRadiusKm
	if radius <= 0 {
		radius = DefaultSearchRadiusKm
	}
	speed := params.AverageSpeedKmh
	if speed <= 0 {
		speed = geo.DefaultAverageSpeedKmh
	}
	timeout := params.GeoTimeout
	if timeout <= 0 {
		timeout = defaultGeoTimeout
	}
	return &service{
		repo:          params.Repository,
		tx:            params.TX,
		outbox:        params.Outbox,
		geo:           params.Geo,
		locator:       params.Locator,
		reservations:  params.Reservations,
		observer:      params.Observer,
		logg:          params.Logger,
		defaultRadius: radius,
		speedKmh:      speed,
		geoTimeout:    timeout,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// AutoAssign opens (or reopens) the order's assignment in pending and tries to
// match the nearest available partner around the restaurant.
func (s *service) AutoAssign(ctx context.Context, input AutoAssignInput) (*Snapshot, error) {
	if err := validateOrder(input.OrderID, input.RestaurantID, input.CustomerID, input.Restaurant, input.Customer); err != nil {
		return nil, err
	}
	radius := s.defaultRadius
	if input.SearchRadiusKm != nil {
		if *input.SearchRadiusKm <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "search radius must be positive")
		}
		radius = *input.SearchRadiusKm
	}

	var assignment models.Assignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.LockByOrderID(ctx, input.OrderID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
			}
			now := s.now()
			assignment = models.Assignment{
				ID:             uuid.New(),
				OrderID:        input.OrderID,
				RestaurantID:   input.RestaurantID,
				CustomerID:     input.CustomerID,
				Status:         enums.AssignmentStatusPending,
				Type:           enums.AssignmentTypeAuto,
				RestaurantLat:  *input.Restaurant.Latitude,
				RestaurantLng:  *input.Restaurant.Longitude,
				CustomerLat:    *input.Customer.Latitude,
				CustomerLng:    *input.Customer.Longitude,
				SearchRadiusKm: radius,
				AttemptCount:   1,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := repo.Create(ctx, &assignment); err != nil {
				if dbpkg.IsUniqueViolation(err, orderUniqueConstraint) {
					return pkgerrors.New(pkgerrors.CodeConflict, "order already has an active assignment")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create assignment")
			}
			return s.emitAssignmentEvent(ctx, tx, enums.EventAssignmentCreated, assignment, input.Actor)
		}

		if existing.Status != enums.AssignmentStatusRejected {
			return orderConflict(*existing)
		}
		updates := reopenUpdates(s.now(), radius, enums.AssignmentTypeAuto)
		updates["restaurant_id"] = input.RestaurantID
		updates["customer_id"] = input.CustomerID
		updates["restaurant_lat"] = *input.Restaurant.Latitude
		updates["restaurant_lng"] = *input.Restaurant.Longitude
		updates["customer_lat"] = *input.Customer.Latitude
		updates["customer_lng"] = *input.Customer.Longitude
		reopened, err := s.transition(ctx, repo, existing.ID, enums.AssignmentStatusPending, updates, enums.AssignmentStatusRejected)
		if err != nil {
			return err
		}
		assignment = *reopened
		return nil
	})
	if err != nil {
		s.observeConflict(err)
		return nil, err
	}

	return s.match(ctx, assignment, input.Actor)
}

// Redispatch reruns matching for a pending or rejected assignment, optionally
// with a wider radius.
func (s *service) Redispatch(ctx context.Context, assignmentID uuid.UUID, radiusKm *float64, actor Actor) (*Snapshot, error) {
	if assignmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	if radiusKm != nil && *radiusKm <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search radius must be positive")
	}

	var assignment models.Assignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, assignmentID)
		if err != nil {
			return err
		}
		radius := current.SearchRadiusKm
		if radiusKm != nil {
			radius = *radiusKm
		}
		if radius <= 0 {
			radius = s.defaultRadius
		}
		reopened, err := s.transition(ctx, repo, current.ID, enums.AssignmentStatusPending,
			reopenUpdates(s.now(), radius, enums.AssignmentTypeAuto),
			enums.AssignmentStatusPending, enums.AssignmentStatusRejected)
		if err != nil {
			return err
		}
		assignment = *reopened
		return nil
	})
	if err != nil {
		s.observeConflict(err)
		return nil, err
	}

	return s.match(ctx, assignment, actor)
}

// match runs the geo query outside any transaction and moves the assignment
// from pending to assigned when a partner can be reserved.
func (s *service) match(ctx context.Context, assignment models.Assignment, actor Actor) (*Snapshot, error) {
	ctx = s.logg.WithAssignment(ctx, assignment.ID.String(), assignment.OrderID.String())
	candidates, degraded := s.findCandidates(ctx, assignment)
	selected, ok := s.selectCandidate(ctx, assignment.ID, candidates)
	if !ok {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			payload := assignmentPayload(assignment)
			payload.GeoDegraded = degraded
			return s.emit(ctx, tx, enums.EventAssignmentUnassigned, assignment, actor, payload)
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record unassigned outcome")
		}
		s.observeOutcome(OutcomeUnassigned)
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"candidates":       len(candidates),
			"search_radius_km": assignment.SearchRadiusKm,
			"geo_degraded":     degraded,
		})
		s.logg.Info(logCtx, "no partner available, assignment left pending")
		snap := snapshotFromModel(assignment)
		return &snap, nil
	}

	now := s.now()
	partnerID := selected.PartnerID
	distance := selected.DistanceKm
	eta := selected.EtaMinutes
	updates := map[string]any{
		"status":                 enums.AssignmentStatusAssigned,
		"partner_id":             partnerID,
		"distance_km":            distance,
		"estimated_time_minutes": eta,
		"assigned_at":            now,
		"updated_at":             now,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updated, err := s.transition(ctx, repo, assignment.ID, enums.AssignmentStatusAssigned, updates, enums.AssignmentStatusPending)
		if err != nil {
			return err
		}
		assignment = *updated
		return s.emitAssigned(ctx, tx, assignment, actor)
	})
	if err != nil {
		s.release(ctx, partnerID, assignment.ID)
		s.observeConflict(err)
		return nil, err
	}

	s.observeOutcome(OutcomeAssigned)
	logCtx := s.logg.WithPartnerID(ctx, partnerID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"distance_km": distance,
		"eta_minutes": eta,
		"free":        selected.IsFree(),
	})
	s.logg.Info(logCtx, "partner assigned")
	snap := snapshotFromModel(assignment)
	return &snap, nil
}

// findCandidates bounds the geo query with the configured timeout. Failures
// degrade to an empty list so the assignment still completes as pending.
func (s *service) findCandidates(ctx context.Context, assignment models.Assignment) ([]geo.NearbyPartner, bool) {
	geoCtx, cancel := context.WithTimeout(ctx, s.geoTimeout)
	defer cancel()

	type result struct {
		partners []geo.NearbyPartner
		err      error
	}
	done := make(chan result, 1)
	go func() {
		partners, err := s.geo.FindNearby(geoCtx, assignment.RestaurantLat, assignment.RestaurantLng, assignment.SearchRadiusKm)
		done <- result{partners: partners, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.partners, false
		}
		reason := GeoDegradedError
		if errors.Is(res.err, context.DeadlineExceeded) {
			reason = GeoDegradedTimeout
		}
		s.degrade(ctx, reason, res.err)
	case <-geoCtx.Done():
		s.degrade(ctx, GeoDegradedTimeout, geoCtx.Err())
	}
	return nil, true
}

func (s *service) degrade(ctx context.Context, reason string, err error) {
	if s.observer != nil {
		s.observer.ObserveGeoDegraded(reason)
	}
	logCtx := s.logg.WithField(ctx, "reason", reason)
	logCtx = s.logg.WithField(logCtx, "error", err.Error())
	s.logg.Warn(logCtx, "geo query degraded to empty candidate list")
}

// selectCandidate prefers the closest free partner and falls back to the
// closest busy one. Partners reserved by another assignment are skipped.
func (s *service) selectCandidate(ctx context.Context, assignmentID uuid.UUID, candidates []geo.NearbyPartner) (geo.NearbyPartner, bool) {
	free := make([]geo.NearbyPartner, 0, len(candidates))
	busy := make([]geo.NearbyPartner, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.IsFree() {
			free = append(free, candidate)
			continue
		}
		busy = append(busy, candidate)
	}
	for _, group := range [][]geo.NearbyPartner{free, busy} {
		for _, candidate := range group {
			if s.reserve(ctx, candidate.PartnerID, assignmentID) {
				return candidate, true
			}
		}
	}
	return geo.NearbyPartner{}, false
}

func (s *service) reserve(ctx context.Context, partnerID, assignmentID uuid.UUID) bool {
	ok, err := s.reservations.Reserve(ctx, partnerID, assignmentID)
	if err != nil {
		s.observeReservation(ReservationFailed)
		logCtx := s.logg.WithPartnerID(ctx, partnerID.String())
		logCtx = s.logg.WithField(logCtx, "error", err.Error())
		s.logg.Warn(logCtx, "reservation store unavailable, selecting without reservation")
		return true
	}
	if !ok {
		s.observeReservation(ReservationSkipped)
		return false
	}
	s.observeReservation(ReservationHeld)
	return true
}

func (s *service) release(ctx context.Context, partnerID, assignmentID uuid.UUID) {
	if err := s.reservations.Release(ctx, partnerID, assignmentID); err != nil {
		logCtx := s.logg.WithPartnerID(ctx, partnerID.String())
		logCtx = s.logg.WithField(logCtx, "error", err.Error())
		s.logg.Warn(logCtx, "failed to release partner reservation")
	}
}

// ManualAssign pins the order to the given partner. An existing assignment is
// moved through reassigned to assigned with one more attempt.
func (s *service) ManualAssign(ctx context.Context, input ManualAssignInput) (*Snapshot, error) {
	if err := validateOrder(input.OrderID, input.RestaurantID, input.CustomerID, input.Restaurant, input.Customer); err != nil {
		return nil, err
	}
	if input.PartnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner id required")
	}

	distance, eta := s.manualEstimate(ctx, input)
	var (
		assignment      models.Assignment
		previousPartner *uuid.UUID
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		existing, err := repo.LockByOrderID(ctx, input.OrderID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
			}
			partnerID := input.PartnerID
			assignment = models.Assignment{
				ID:                   uuid.New(),
				OrderID:              input.OrderID,
				RestaurantID:         input.RestaurantID,
				CustomerID:           input.CustomerID,
				PartnerID:            &partnerID,
				Status:               enums.AssignmentStatusAssigned,
				Type:                 enums.AssignmentTypeManual,
				RestaurantLat:        *input.Restaurant.Latitude,
				RestaurantLng:        *input.Restaurant.Longitude,
				CustomerLat:          *input.Customer.Latitude,
				CustomerLng:          *input.Customer.Longitude,
				DistanceKm:           &distance,
				EstimatedTimeMinutes: &eta,
				SearchRadiusKm:       s.defaultRadius,
				AttemptCount:         1,
				AssignedByID:         actorID(input.Actor),
				AssignedAt:           &now,
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			if err := repo.Create(ctx, &assignment); err != nil {
				if dbpkg.IsUniqueViolation(err, orderUniqueConstraint) {
					return pkgerrors.New(pkgerrors.CodeConflict, "order already has an active assignment")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create assignment")
			}
			if err := s.emitAssignmentEvent(ctx, tx, enums.EventAssignmentCreated, assignment, input.Actor); err != nil {
				return err
			}
			return s.emitAssigned(ctx, tx, assignment, input.Actor)
		}

		if existing.Status == enums.AssignmentStatusCompleted {
			return orderConflict(*existing)
		}
		previousPartner = existing.PartnerID

		reassignFrom := append([]enums.AssignmentStatus{enums.AssignmentStatusRejected}, enums.ActiveAssignmentStatuses...)
		reassigned, err := s.transition(ctx, repo, existing.ID, enums.AssignmentStatusReassigned, map[string]any{
			"status":        enums.AssignmentStatusReassigned,
			"type":          enums.AssignmentTypeManual,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"updated_at":    now,
		}, reassignFrom...)
		if err != nil {
			return err
		}
		payload := assignmentPayload(*reassigned)
		payload.PreviousPartnerID = previousPartner
		payload.PartnerID = &input.PartnerID
		if err := s.emit(ctx, tx, enums.EventAssignmentReassigned, *reassigned, input.Actor, payload); err != nil {
			return err
		}

		assigned, err := s.transition(ctx, repo, existing.ID, enums.AssignmentStatusAssigned, map[string]any{
			"status":                 enums.AssignmentStatusAssigned,
			"partner_id":             input.PartnerID,
			"restaurant_id":          input.RestaurantID,
			"customer_id":            input.CustomerID,
			"restaurant_lat":         *input.Restaurant.Latitude,
			"restaurant_lng":         *input.Restaurant.Longitude,
			"customer_lat":           *input.Customer.Latitude,
			"customer_lng":           *input.Customer.Longitude,
			"distance_km":            distance,
			"estimated_time_minutes": eta,
			"rejection_reason":       nil,
			"assigned_by_id":         actorID(input.Actor),
			"assigned_at":            now,
			"accepted_at":            nil,
			"updated_at":             now,
		}, enums.AssignmentStatusReassigned)
		if err != nil {
			return err
		}
		assignment = *assigned
		return s.emitAssigned(ctx, tx, assignment, input.Actor)
	})
	if err != nil {
		s.observeConflict(err)
		return nil, err
	}

	if previousPartner != nil && *previousPartner != input.PartnerID {
		s.release(ctx, *previousPartner, assignment.ID)
	}
	if err := s.reservations.Force(ctx, input.PartnerID, assignment.ID); err != nil {
		s.observeReservation(ReservationFailed)
		logCtx := s.logg.WithPartnerID(ctx, input.PartnerID.String())
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "failed to reserve manually assigned partner")
	} else {
		s.observeReservation(ReservationHeld)
	}

	s.observeOutcome(OutcomeManual)
	logCtx := s.logg.WithAssignment(ctx, assignment.ID.String(), assignment.OrderID.String())
	logCtx = s.logg.WithPartnerID(logCtx, input.PartnerID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"attempt_count": assignment.AttemptCount,
		"distance_km":   distance,
		"eta_minutes":   eta,
	})
	s.logg.Info(logCtx, "partner manually assigned")
	snap := snapshotFromModel(assignment)
	return &snap, nil
}

// manualEstimate measures from the partner's last known position to the
// restaurant, or along the restaurant to customer leg when the partner has
// never reported a position.
func (s *service) manualEstimate(ctx context.Context, input ManualAssignInput) (float64, int) {
	restLat, restLng := *input.Restaurant.Latitude, *input.Restaurant.Longitude
	loc, err := s.locator.GetLocation(ctx, input.PartnerID)
	if err == nil && loc != nil {
		distance := geo.CalculateDistance(loc.Latitude, loc.Longitude, restLat, restLng)
		return distance, geo.CalculateETA(distance, s.speedKmh)
	}
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		logCtx := s.logg.WithPartnerID(ctx, input.PartnerID.String())
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "partner location unavailable for manual estimate")
	}
	distance := geo.CalculateDistance(restLat, restLng, *input.Customer.Latitude, *input.Customer.Longitude)
	return distance, geo.CalculateETA(distance, s.speedKmh)
}

// Accept confirms the offer. Only the assigned partner may accept.
func (s *service) Accept(ctx context.Context, assignmentID uuid.UUID, actor Actor) (*Snapshot, error) {
	if assignmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	var assignment models.Assignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, assignmentID)
		if err != nil {
			return err
		}
		if err := checkPartnerOwnership(*current, actor); err != nil {
			return err
		}
		now := s.now()
		updated, err := s.transition(ctx, repo, current.ID, enums.AssignmentStatusAccepted, map[string]any{
			"status":      enums.AssignmentStatusAccepted,
			"accepted_at": now,
			"updated_at":  now,
		}, enums.AssignmentStatusAssigned)
		if err != nil {
			return err
		}
		assignment = *updated
		return s.emitAssignmentEvent(ctx, tx, enums.EventAssignmentAccepted, assignment, actor)
	})
	if err != nil {
		s.observeConflict(err)
		return nil, err
	}
	if assignment.PartnerID != nil {
		s.release(ctx, *assignment.PartnerID, assignment.ID)
	}
	s.observeOutcome(OutcomeAccepted)
	snap := snapshotFromModel(assignment)
	return &snap, nil
}

// Reject records the partner's refusal. Re-dispatch is left to the caller.
func (s *service) Reject(ctx context.Context, assignmentID uuid.UUID, reason string, actor Actor) (*Snapshot, error) {
	if assignmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}
	var assignment models.Assignment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, assignmentID)
		if err != nil {
			return err
		}
		if err := checkPartnerOwnership(*current, actor); err != nil {
			return err
		}
		updated, err := s.transition(ctx, repo, current.ID, enums.AssignmentStatusRejected, map[string]any{
			"status":           enums.AssignmentStatusRejected,
			"rejection_reason": reason,
			"updated_at":       s.now(),
		}, enums.AssignmentStatusAssigned)
		if err != nil {
			return err
		}
		assignment = *updated
		return s.emitAssignmentEvent(ctx, tx, enums.EventAssignmentRejected, assignment, actor)
	})
	if err != nil {
		s.observeConflict(err)
		return nil, err
	}
	if assignment.PartnerID != nil {
		s.release(ctx, *assignment.PartnerID, assignment.ID)
	}
	s.observeOutcome(OutcomeRejected)
	snap := snapshotFromModel(assignment)
	return &snap, nil
}

// Complete closes an accepted assignment once the delivery finished. Repeated
// calls on a completed assignment return it unchanged.
func (s *service) Complete(ctx context.Context, orderID uuid.UUID, actor Actor) (*Snapshot, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var (
		assignment models.Assignment
		changed    bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.LockByOrderID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
		}
		if current.Status == enums.AssignmentStatusCompleted {
			assignment = *current
			return nil
		}
		now := s.now()
		updated, err := s.transition(ctx, repo, current.ID, enums.AssignmentStatusCompleted, map[string]any{
			"status":       enums.AssignmentStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}, enums.AssignmentStatusAccepted)
		if err != nil {
			return err
		}
		assignment = *updated
		changed = true
		return s.emitAssignmentEvent(ctx, tx, enums.EventAssignmentCompleted, assignment, actor)
	})
	if err != nil {
		s.observeConflict(err)
		return nil, err
	}
	if changed {
		s.observeOutcome(OutcomeCompleted)
	}
	snap := snapshotFromModel(assignment)
	return &snap, nil
}

func (s *service) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Snapshot, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	assignment, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	snap := snapshotFromModel(*assignment)
	return &snap, nil
}

// ListByPartnerID pages through a partner's assignments, newest first. A
// partner with no assignments yields NotFound.
func (s *service) ListByPartnerID(ctx context.Context, partnerID uuid.UUID, params pagination.Params) (*SnapshotPage, error) {
	if partnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "partner id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.ListByPartnerID(ctx, partnerID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assignments")
	}
	if len(rows) == 0 && cursor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no assignments for partner")
	}

	page := &SnapshotPage{Items: make([]Snapshot, 0, limit)}
	if len(rows) > limit {
		last := rows[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		rows = rows[:limit]
	}
	for _, row := range rows {
		page.Items = append(page.Items, snapshotFromModel(row))
	}
	return page, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Assignment, error) {
	assignment, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	return assignment, nil
}

// transition applies a status-guarded update and returns the fresh row. When
// the guard misses, the error carries the status the row actually holds.
func (s *service) transition(ctx context.Context, repo Repository, id uuid.UUID, target enums.AssignmentStatus, updates map[string]any, from ...enums.AssignmentStatus) (*models.Assignment, error) {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = s.now()
	}
	affected, err := repo.Transition(ctx, id, from, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update assignment")
	}
	current, err := s.load(ctx, repo, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, pkgerrors.InvalidTransition(string(current.Status), string(target), statusStrings(from)...)
	}
	return current, nil
}

func reopenUpdates(now time.Time, radius float64, kind enums.AssignmentType) map[string]any {
	return map[string]any{
		"status":                 enums.AssignmentStatusPending,
		"type":                   kind,
		"partner_id":             nil,
		"distance_km":            nil,
		"estimated_time_minutes": nil,
		"rejection_reason":       nil,
		"assigned_by_id":         nil,
		"assigned_at":            nil,
		"accepted_at":            nil,
		"search_radius_km":       radius,
		"attempt_count":          gorm.Expr("attempt_count + 1"),
		"updated_at":             now,
	}
}

func validateOrder(orderID, restaurantID, customerID uuid.UUID, restaurant, customer Coordinates) error {
	switch {
	case orderID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	case restaurantID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "restaurant id required")
	case customerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	case !restaurant.complete():
		return pkgerrors.New(pkgerrors.CodeValidation, "restaurant coordinates required")
	case !customer.complete():
		return pkgerrors.New(pkgerrors.CodeValidation, "customer coordinates required")
	}
	return nil
}

func orderConflict(existing models.Assignment) error {
	if existing.Status == enums.AssignmentStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeConflict, "order already delivered")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "order already has an active assignment")
}

func checkPartnerOwnership(assignment models.Assignment, actor Actor) error {
	if !actor.isPartner() {
		return nil
	}
	if assignment.PartnerID == nil || *assignment.PartnerID != actor.ID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "assignment belongs to another partner")
	}
	return nil
}

func actorID(actor Actor) *uuid.UUID {
	if actor.ID == uuid.Nil {
		return nil
	}
	id := actor.ID
	return &id
}

func statusStrings(statuses []enums.AssignmentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

func (s *service) observeOutcome(outcome string) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveAssignment(outcome)
}

func (s *service) observeReservation(result string) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveReservation(result)
}

func (s *service) observeConflict(err error) {
	if pkgerrors.IsCode(err, pkgerrors.CodeConflict) || pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		s.observeOutcome(OutcomeConflict)
	}
}
