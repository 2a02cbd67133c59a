// Package engine holds one handler per inbound command. Handlers validate the
// command, drive the ride machine and the dispatch coordinator, clean up
// driver availability, and tell the affected actors what changed.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lease"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type Deps struct {
	Rides       storage.RideStore
	Drivers     storage.DriverStore
	Machine     *ride.Machine
	Coordinator *dispatch.Coordinator
	Geo         geo.Index
	Fleet       fleet.Store
	Leases      lease.Store
	Notify      dispatch.Notifier
	Config      config.DispatchConfig
	Logger      *slog.Logger
	// NewID mints ride ids; uuid.NewString when nil.
	NewID func() string
}

type Engine struct {
	rides   storage.RideStore
	drivers storage.DriverStore
	machine *ride.Machine
	coord   *dispatch.Coordinator
	geo     geo.Index
	fleet   fleet.Store
	leases  lease.Store
	notify  dispatch.Notifier
	cfg     config.DispatchConfig
	logger  *slog.Logger
	newID   func() string
}

func New(d Deps) *Engine {
	newID := d.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Engine{
		rides:   d.Rides,
		drivers: d.Drivers,
		machine: d.Machine,
		coord:   d.Coordinator,
		geo:     d.Geo,
		fleet:   d.Fleet,
		leases:  d.Leases,
		notify:  d.Notify,
		cfg:     d.Config,
		logger:  logging.Component(d.Logger, "engine"),
		newID:   newID,
	}
}

// StatusChange is the generic ride_status_changed payload.
type StatusChange struct {
	RideID string            `json:"ride_id"`
	Status models.RideStatus `json:"status"`
	Ride   *models.Ride      `json:"ride"`
	Extra  map[string]any    `json:"details,omitempty"`
}

// changed tells the rider, the bound driver (if any) and the observers that
// r moved to a new status.
func (e *Engine) changed(r *models.Ride, extra map[string]any) {
	msg := StatusChange{RideID: r.ID, Status: r.Status, Ride: r.Redacted(), Extra: extra}
	e.notify.ToUser(r.RiderID, "ride_status_changed", msg)
	if r.DriverID != "" {
		e.notify.ToDriver(r.DriverID, "ride_status_changed", msg)
	}
	e.notify.Observe("ride_status_changed", msg)
}

// releaseDriver frees the driver bound to ride. Failures are logged; the ride
// transition already happened and must not be reported as failed.
func (e *Engine) releaseDriver(ctx context.Context, driverID, rideID string) {
	if driverID == "" {
		return
	}
	if err := e.fleet.Release(ctx, driverID, rideID); err != nil {
		e.logger.Error("fleet_release_failed", "driver_id", driverID, "ride_id", rideID, "err", err)
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrBadRequest, fmt.Sprintf(format, args...))
}

func (e *Engine) now() time.Time { return e.machine.Now() }
