package engine

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
)

// Accept is a driver accepting an offer. Losing the race is reported as
// ErrRaceLost; a missing lease as ErrStaleOffer.
func (e *Engine) Accept(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	r, err := e.coord.Accept(ctx, rideID, driverID)
	if err != nil {
		return nil, err
	}
	return r.Redacted(), nil
}

func (e *Engine) Decline(ctx context.Context, driverID, rideID, reason string) error {
	return e.coord.Decline(ctx, rideID, driverID, reason)
}

// Arrive issues the pickup code to the bound driver. The rider is told the
// driver is here but never receives the code over this path.
func (e *Engine) Arrive(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.Arrive(driverID))
	if err != nil {
		return nil, err
	}
	e.notify.ToDriver(driverID, "otp_generated", map[string]any{
		"ride_id":    r.ID,
		"otp":        r.OTP,
		"expires_at": r.OTPExpiresAt,
	})
	e.changed(r, nil)
	return r.Redacted(), nil
}

func (e *Engine) VerifyOTP(ctx context.Context, riderID, rideID, code string) (*models.Ride, error) {
	if code == "" {
		return nil, badRequest("otp is required")
	}
	r, err := e.machine.Fire(ctx, rideID, e.machine.VerifyOTP(riderID, code))
	if err != nil {
		if r != nil {
			e.notify.Observe("otp_rejected", map[string]any{"ride_id": rideID, "attempts": r.OTPAttempts})
		}
		return nil, err
	}
	e.changed(r, nil)
	return r.Redacted(), nil
}

func (e *Engine) Start(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.Start(driverID))
	if err != nil {
		return nil, err
	}
	e.changed(r, nil)
	return r.Redacted(), nil
}

func (e *Engine) ReachDrop(ctx context.Context, driverID, rideID string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.ReachDrop(driverID))
	if err != nil {
		return nil, err
	}
	e.changed(r, nil)
	return r.Redacted(), nil
}

// Complete closes the trip, splits the fare and makes the driver available.
func (e *Engine) Complete(ctx context.Context, driverID, rideID string, c ride.Completion) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.Complete(driverID, c))
	if err != nil {
		return nil, err
	}
	e.releaseDriver(ctx, driverID, r.ID)
	e.changed(r, map[string]any{
		"final_fare":          r.FinalFare,
		"platform_commission": r.PlatformCommission,
		"driver_earnings":     r.DriverEarnings,
		"payment_method":      r.PaymentMethod,
	})
	return r.Redacted(), nil
}

// CancelSearch is the rider giving up before a driver is bound. Every
// outstanding offer is voided at once.
func (e *Engine) CancelSearch(ctx context.Context, riderID, rideID, reason string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.CancelSearch(riderID, reason))
	if err != nil {
		return nil, err
	}
	e.coord.Void(ctx, r.ID, "ride_cancelled")
	e.changed(r, map[string]any{"cancelled_by": models.ActorUser, "reason": reason})
	return r.Redacted(), nil
}

// CancelBound is the rider cancelling an assigned ride before pickup.
func (e *Engine) CancelBound(ctx context.Context, riderID, rideID, reason string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.CancelBound(riderID, reason))
	if err != nil {
		return nil, err
	}
	e.releaseDriver(ctx, r.DriverID, r.ID)
	e.changed(r, map[string]any{"cancelled_by": models.ActorUser, "reason": reason})
	return r.Redacted(), nil
}

// DriverCancel returns the ride to search without the driver and schedules
// a fresh dispatch.
func (e *Engine) DriverCancel(ctx context.Context, driverID, rideID, reason string) (*models.Ride, error) {
	r, err := e.machine.Fire(ctx, rideID, e.machine.DriverCancel(driverID, reason))
	if err != nil {
		return nil, err
	}
	e.releaseDriver(ctx, driverID, r.ID)
	e.notify.ToUser(r.RiderID, "driver_cancelled", map[string]any{
		"ride_id": r.ID,
		"reason":  reason,
		"message": "Your driver cancelled. Finding you another driver.",
	})
	e.notify.Observe("driver_cancelled", map[string]any{"ride_id": r.ID, "driver_id": driverID, "reason": reason})
	e.coord.Redispatch(r.ID)
	return r.Redacted(), nil
}
