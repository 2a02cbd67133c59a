package engine

import (
	"context"
	"math"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
)

// UpdateLocation writes a driver position into the index. A driver bound to
// a ride has the position relayed to the rider.
func (e *Engine) UpdateLocation(ctx context.Context, loc models.DriverLocation, source string) error {
	if loc.DriverID == "" {
		return badRequest("driver id is required")
	}
	if !geo.ValidCoord(loc.Coord()) {
		return badRequest("invalid coordinates")
	}
	if loc.Updated.IsZero() {
		loc.Updated = e.now().UTC()
	}
	if err := e.geo.Upsert(ctx, loc); err != nil {
		return err
	}
	if err := e.fleet.MarkAvailableIfUnset(ctx, loc.DriverID); err != nil {
		return err
	}
	observability.LocationUpdates.WithLabelValues(source).Inc()

	st, err := e.fleet.Get(ctx, loc.DriverID)
	if err != nil || st.CurrentRide == "" {
		return err
	}
	r, err := e.rides.GetRide(ctx, st.CurrentRide)
	if err != nil {
		e.logger.Warn("location_relay_lookup_failed", "driver_id", loc.DriverID, "ride_id", st.CurrentRide, "err", err)
		return nil
	}
	if !r.Status.Bound() || r.DriverID != loc.DriverID {
		return nil
	}
	relay := map[string]any{
		"ride_id":   r.ID,
		"driver_id": loc.DriverID,
		"lat":       loc.Lat,
		"lng":       loc.Lng,
		"heading":   loc.Heading,
	}
	if r.Status == models.StatusDriverAssigned {
		relay["eta_minutes"] = eta.Minutes(eta.EstimateSeconds(loc.Coord(), r.Pickup.Coord(), e.cfg.DefaultSpeedMps))
	}
	e.notify.ToUser(r.RiderID, "driver_location_update", relay)
	return nil
}

// JoinDriver resolves the profile of a driver opening a channel.
func (e *Engine) JoinDriver(ctx context.Context, driverID string) (*models.Driver, error) {
	d, err := e.drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	e.notify.Observe("driver_online", map[string]any{"driver_id": driverID})
	return d, nil
}

// Disconnect handles the last channel of an actor going away. An unbound
// driver loses its availability state and its position; a bound driver keeps
// both.
func (e *Engine) Disconnect(ctx context.Context, actor presence.Actor) {
	if actor.Role != presence.RoleDriver {
		return
	}
	cleared, err := e.fleet.Clear(ctx, actor.ID)
	if err != nil {
		e.logger.Error("fleet_clear_failed", "driver_id", actor.ID, "err", err)
		return
	}
	if cleared {
		if err := e.geo.Remove(ctx, actor.ID); err != nil {
			e.logger.Warn("geo_remove_failed", "driver_id", actor.ID, "err", err)
		}
	}
	e.notify.Observe("driver_offline", map[string]any{"driver_id": actor.ID, "availability_cleared": cleared})
}

// Rate records the rider's rating on a completed ride and folds it into the
// driver's running average.
func (e *Engine) Rate(ctx context.Context, riderID, rideID string, rating int, feedback string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.Rate(riderID, rating, feedback))
	if err != nil {
		return nil, err
	}
	if r.DriverID == "" {
		return r.Redacted(), nil
	}
	d, err := e.drivers.UpdateDriver(ctx, r.DriverID, func(d *models.Driver) error {
		total := float64(d.TotalRatings)
		d.Rating = math.Round((d.Rating*total+float64(rating))/(total+1)*100) / 100
		d.TotalRatings++
		return nil
	})
	if err != nil {
		e.logger.Error("driver_rating_failed", "driver_id", r.DriverID, "ride_id", r.ID, "err", err)
		return r.Redacted(), nil
	}
	e.notify.ToDriver(r.DriverID, "rating_received", map[string]any{
		"ride_id":        r.ID,
		"rating":         rating,
		"feedback":       feedback,
		"average_rating": d.Rating,
		"total_ratings":  d.TotalRatings,
	})
	e.notify.Observe("ride_rated", map[string]any{"ride_id": r.ID, "driver_id": r.DriverID, "rating": rating})
	return r.Redacted(), nil
}
