package engine

import (
	"context"
	"slices"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

type BookRequest struct {
	RideType            models.RideType        `json:"ride_type"`
	Vehicle             models.VehicleCategory `json:"vehicle_type"`
	Tier                models.Tier            `json:"tier"`
	Pickup              models.Place           `json:"pickup"`
	Dropoff             models.Place           `json:"dropoff"`
	EstimatedFare       float64                `json:"estimated_fare"`
	EstimatedDistanceKm float64                `json:"estimated_distance_km"`
	PaymentMethod       string                 `json:"payment_method"`
	ScheduledAt         *time.Time             `json:"scheduled_at,omitempty"`
	Notes               string                 `json:"notes,omitempty"`
}

func (e *Engine) validateBooking(req *BookRequest) error {
	if req.RideType == "" {
		req.RideType = models.RideLocal
	}
	if !req.RideType.Valid() {
		return badRequest("unknown ride type %q", req.RideType)
	}
	if req.Vehicle == "" {
		req.Vehicle = models.VehicleElite
	}
	if !req.Vehicle.Valid() {
		return badRequest("unknown vehicle type %q", req.Vehicle)
	}
	if req.Tier != "" && !slices.Contains(e.cfg.Tiers, string(req.Tier)) {
		return badRequest("unknown tier %q", req.Tier)
	}
	if !geo.ValidCoord(req.Pickup.Coord()) || !geo.ValidCoord(req.Dropoff.Coord()) {
		return badRequest("pickup and dropoff must be valid coordinates")
	}
	if req.EstimatedFare < 0 || req.EstimatedDistanceKm < 0 {
		return badRequest("fare and distance must not be negative")
	}
	return nil
}

// Book creates a ride for riderID. Immediate rides enter search after the
// configured delay; future-dated rides wait for the scheduler.
func (e *Engine) Book(ctx context.Context, riderID string, req BookRequest) (*models.Ride, error) {
	if riderID == "" {
		return nil, badRequest("rider id is required")
	}
	if err := e.validateBooking(&req); err != nil {
		return nil, err
	}
	r := &models.Ride{
		ID:                  e.newID(),
		RiderID:             riderID,
		RideType:            req.RideType,
		BookingType:         models.BookNow,
		Vehicle:             req.Vehicle,
		Tier:                req.Tier,
		Pickup:              req.Pickup,
		Dropoff:             req.Dropoff,
		EstimatedFare:       req.EstimatedFare,
		EstimatedDistanceKm: req.EstimatedDistanceKm,
		PaymentMethod:       req.PaymentMethod,
		Notes:               req.Notes,
	}
	if req.ScheduledAt != nil && req.ScheduledAt.After(e.now()) {
		at := req.ScheduledAt.UTC()
		r.BookingType = models.BookScheduled
		r.ScheduledAt = &at
	}
	if err := e.machine.Create(ctx, r); err != nil {
		return nil, err
	}
	if r.Status == models.StatusSearching {
		e.coord.Start(r.ID, e.cfg.SearchDelay)
	}
	e.notify.Observe("ride_booked", map[string]any{
		"ride_id": r.ID, "rider_id": riderID, "status": r.Status, "booking_type": r.BookingType,
	})
	return r.Redacted(), nil
}

// PromoteDue moves scheduled rides whose departure falls inside the
// lookahead window into search. Rides whose departure passed more than the
// grace period ago are cancelled instead. It returns how many were promoted.
func (e *Engine) PromoteDue(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.rides.ListScheduledDue(ctx, now.Add(e.cfg.ScheduleLookahead))
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, r := range due {
		if r.ScheduledAt != nil && r.ScheduledAt.Before(now.Add(-e.cfg.ScheduleGrace)) {
			e.expireScheduled(ctx, r)
			continue
		}
		updated, err := e.machine.Fire(ctx, r.ID, e.machine.Promote())
		if err != nil {
			if !models.Expected(err) {
				e.logger.Error("promote_failed", "ride_id", r.ID, "err", err)
			}
			continue
		}
		promoted++
		e.coord.Start(updated.ID, 0)
		e.changed(updated, map[string]any{"reason": "scheduled_search_started"})
	}
	if promoted > 0 {
		e.logger.Info("scheduled_rides_promoted", "count", promoted)
	}
	return promoted, nil
}

func (e *Engine) expireScheduled(ctx context.Context, r *models.Ride) {
	updated, err := e.machine.Fire(ctx, r.ID, e.machine.CancelBySystem("scheduled_time_passed"))
	if err != nil {
		if !models.Expected(err) {
			e.logger.Error("scheduled_expire_failed", "ride_id", r.ID, "err", err)
		}
		return
	}
	e.logger.Info("scheduled_ride_expired", "ride_id", r.ID, "scheduled_at", r.ScheduledAt)
	e.changed(updated, map[string]any{"reason": "scheduled_time_passed"})
}

// RunScheduler polls for due scheduled rides until ctx is cancelled.
func (e *Engine) RunScheduler(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SchedulePollInterval)
	defer ticker.Stop()
	for {
		if _, err := e.PromoteDue(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("scheduler_poll_failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
