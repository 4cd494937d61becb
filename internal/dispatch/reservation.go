package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/partner-dispatch/pkg/redis"
)

const defaultReservationTTL = 90 * time.Second

type redisReservations struct {
	store redis.ReservationStore
	ttl   time.Duration
}

// NewRedisReservations stores partner claims under
// dispatch:reservation:partner:<id> with the assignment id as value.
func NewRedisReservations(store redis.ReservationStore, ttl time.Duration) (Reservations, error) {
	if store == nil {
		return nil, errors.New("reservation store required")
	}
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	return &redisReservations{store: store, ttl: ttl}, nil
}

// Reserve claims the partner for the assignment. A claim already held by the
// same assignment counts as success.
func (r *redisReservations) Reserve(ctx context.Context, partnerID, assignmentID uuid.UUID) (bool, error) {
	key := r.store.ReservationKey(partnerID.String())
	ok, err := r.store.SetNX(ctx, key, assignmentID.String(), r.ttl)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	holder, err := r.store.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			ok, err = r.store.SetNX(ctx, key, assignmentID.String(), r.ttl)
			return ok, err
		}
		return false, err
	}
	return holder == assignmentID.String(), nil
}

// Force overwrites any claim. Manual assignment wins over auto selection.
func (r *redisReservations) Force(ctx context.Context, partnerID, assignmentID uuid.UUID) error {
	return r.store.Set(ctx, r.store.ReservationKey(partnerID.String()), assignmentID.String(), r.ttl)
}

// Release drops the claim if the assignment still holds it.
func (r *redisReservations) Release(ctx context.Context, partnerID, assignmentID uuid.UUID) error {
	key := r.store.ReservationKey(partnerID.String())
	holder, err := r.store.Get(ctx, key)
	if err != nil {
		if redis.IsNil(err) {
			return nil
		}
		return err
	}
	if holder != assignmentID.String() {
		return nil
	}
	return r.store.Del(ctx, key)
}
