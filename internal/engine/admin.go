package engine

import (
	"context"
	"fmt"

	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/lease"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
)

// AdminAssign binds driverID to a ride that is still waiting for one. It
// takes the same ride lock as a driver acceptance.
func (e *Engine) AdminAssign(ctx context.Context, adminID, rideID, driverID string) (*models.Ride, error) {
	if driverID == "" {
		return nil, badRequest("driver id is required")
	}
	d, err := e.drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	st, err := e.fleet.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if st.CurrentRide != "" && st.CurrentRide != rideID {
		return nil, fmt.Errorf("%w: driver %s is on ride %s", models.ErrBadRequest, driverID, st.CurrentRide)
	}

	lockKey := lease.RideLockKey(rideID)
	locked, err := e.leases.Acquire(ctx, lockKey, adminID, e.cfg.BindTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire ride lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: ride %s is being assigned", models.ErrBusy, rideID)
	}
	defer func() {
		if _, err := e.leases.Release(context.WithoutCancel(ctx), lockKey, adminID); err != nil {
			e.logger.Warn("ride_lock_release_failed", "ride_id", rideID, "err", err)
		}
	}()

	r, err := e.machine.Fire(ctx, rideID, e.machine.AdminAssign(driverID, adminID))
	if err != nil {
		return nil, err
	}
	e.coord.VoidExcept(ctx, r.ID, driverID, "ride_assigned")
	e.coord.WithdrawDriver(ctx, driverID, r.ID)
	if err := e.fleet.Bind(ctx, driverID, r.ID); err != nil {
		e.logger.Error("fleet_bind_failed", "ride_id", r.ID, "driver_id", driverID, "err", err)
	}

	e.notify.ToDriver(driverID, "ride_assigned", map[string]any{"ride": r.Redacted(), "assigned_by": adminID})
	e.notify.ToUser(r.RiderID, "ride_accepted", map[string]any{"ride_id": r.ID, "ride": r.Redacted(), "driver": d})
	e.notify.Observe("ride_assigned", map[string]any{"ride_id": r.ID, "driver_id": driverID, "assignment_type": r.AssignmentType, "assigned_by": adminID})
	return r.Redacted(), nil
}

// AdminCancel cancels any active ride, voiding offers and freeing the driver.
func (e *Engine) AdminCancel(ctx context.Context, adminID, rideID, reason string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.CancelByAdmin(adminID, reason))
	if err != nil {
		return nil, err
	}
	e.coord.Void(ctx, r.ID, "ride_cancelled")
	e.releaseDriver(ctx, r.DriverID, r.ID)
	e.changed(r, map[string]any{"cancelled_by": models.ActorAdmin, "reason": reason})
	return r.Redacted(), nil
}

type RideStatusView struct {
	Ride           *models.Ride           `json:"ride"`
	PendingOffers  []string               `json:"pending_offers"`
	DriverLocation *models.DriverLocation `json:"driver_location,omitempty"`
}

func (e *Engine) AdminRideStatus(ctx context.Context, rideID string) (*RideStatusView, error) {
	r, err := e.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	view := &RideStatusView{Ride: r.Redacted(), PendingOffers: []string{}}
	if r.Status == models.StatusSearching {
		pending, err := e.coord.Outstanding(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		view.PendingOffers = pending
	}
	if r.DriverID != "" {
		loc, ok, err := e.geo.Position(ctx, r.DriverID)
		if err != nil {
			return nil, err
		}
		if ok {
			view.DriverLocation = &loc
		}
	}
	return view, nil
}

type DriverHistory struct {
	Driver       *models.Driver `json:"driver"`
	Availability fleet.Status   `json:"availability"`
	Rides        []*models.Ride `json:"rides"`
}

// AdminDriverHistory lists rides the driver was offered or bound to, newest first.
func (e *Engine) AdminDriverHistory(ctx context.Context, driverID string, limit int) (*DriverHistory, error) {
	d, err := e.drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	st, err := e.fleet.Get(ctx, driverID)
	if err != nil {
		return nil, err
	}
	rides, err := e.rides.ListByDriver(ctx, driverID, limit)
	if err != nil {
		return nil, err
	}
	for i, r := range rides {
		rides[i] = r.Redacted()
	}
	return &DriverHistory{Driver: d, Availability: st, Rides: rides}, nil
}

// ActiveRides lists rides in a non terminal status, or only those in status
// when one is given.
func (e *Engine) ActiveRides(ctx context.Context, status models.RideStatus, limit int) ([]*models.Ride, error) {
	statuses := ride.ActiveStatuses()
	if status != "" {
		if !status.Valid() {
			return nil, badRequest("unknown status %q", status)
		}
		statuses = []models.RideStatus{status}
	}
	rides, err := e.rides.ListByStatus(ctx, statuses, limit)
	if err != nil {
		return nil, err
	}
	for i, r := range rides {
		rides[i] = r.Redacted()
	}
	return rides, nil
}
