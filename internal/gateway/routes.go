package gateway

import (
	"context"

	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/ride"
)

type rideRef struct {
	RideID string `json:"ride_id"`
	Reason string `json:"reason,omitempty"`
}

type otpRequest struct {
	RideID string `json:"ride_id"`
	OTP    string `json:"otp"`
}

type rateRequest struct {
	RideID   string `json:"ride_id"`
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback,omitempty"`
}

type completeRequest struct {
	RideID string `json:"ride_id"`
	ride.Completion
}

type locationRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Heading float64 `json:"heading"`
}

type assignRequest struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

type historyRequest struct {
	DriverID string `json:"driver_id"`
	Limit    int    `json:"limit,omitempty"`
}

type activeRequest struct {
	Status models.RideStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

func (g *Gateway) buildRoutes() map[string]route {
	e := g.engine
	user, driver, admin := presence.RoleUser, presence.RoleDriver, presence.RoleAdmin

	// rideOp adapts the common "ride id plus optional reason" handlers.
	rideOp := func(role presence.Role, fn func(ctx context.Context, actorID, rideID, reason string) (*models.Ride, error)) route {
		return handle(role, func(ctx context.Context, a presence.Actor, req rideRef) (any, error) {
			if err := required("ride_id", req.RideID); err != nil {
				return nil, err
			}
			return fn(ctx, a.ID, req.RideID, req.Reason)
		})
	}
	noReason := func(fn func(ctx context.Context, actorID, rideID string) (*models.Ride, error)) func(context.Context, string, string, string) (*models.Ride, error) {
		return func(ctx context.Context, actorID, rideID, _ string) (*models.Ride, error) { return fn(ctx, actorID, rideID) }
	}

	return map[string]route{
		"book_ride": handle(user, func(ctx context.Context, a presence.Actor, req engine.BookRequest) (any, error) {
			return e.Book(ctx, a.ID, req)
		}),
		"cancel_search": rideOp(user, e.CancelSearch),
		"cancel_ride":   rideOp(user, e.CancelBound),
		"verify_otp": handle(user, func(ctx context.Context, a presence.Actor, req otpRequest) (any, error) {
			if err := required("ride_id", req.RideID, "otp", req.OTP); err != nil {
				return nil, err
			}
			return e.VerifyOTP(ctx, a.ID, req.RideID, req.OTP)
		}),
		"rate_ride": handle(user, func(ctx context.Context, a presence.Actor, req rateRequest) (any, error) {
			if err := required("ride_id", req.RideID); err != nil {
				return nil, err
			}
			return e.Rate(ctx, a.ID, req.RideID, req.Rating, req.Feedback)
		}),

		"accept_ride": rideOp(driver, noReason(e.Accept)),
		"decline_ride": handle(driver, func(ctx context.Context, a presence.Actor, req rideRef) (any, error) {
			if err := required("ride_id", req.RideID); err != nil {
				return nil, err
			}
			return map[string]string{"ride_id": req.RideID}, e.Decline(ctx, a.ID, req.RideID, req.Reason)
		}),
		"driver_arrived": rideOp(driver, noReason(e.Arrive)),
		"start_ride":     rideOp(driver, noReason(e.Start)),
		"reached_drop":   rideOp(driver, noReason(e.ReachDrop)),
		"complete_ride": handle(driver, func(ctx context.Context, a presence.Actor, req completeRequest) (any, error) {
			if err := required("ride_id", req.RideID); err != nil {
				return nil, err
			}
			return e.Complete(ctx, a.ID, req.RideID, req.Completion)
		}),
		"driver_cancel": rideOp(driver, e.DriverCancel),
		"location_update": handle(driver, func(ctx context.Context, a presence.Actor, req locationRequest) (any, error) {
			loc := models.DriverLocation{DriverID: a.ID, Lat: req.Lat, Lng: req.Lng, Heading: req.Heading}
			return nil, e.UpdateLocation(ctx, loc, "ws")
		}),

		"admin_assign": handle(admin, func(ctx context.Context, a presence.Actor, req assignRequest) (any, error) {
			if err := required("ride_id", req.RideID, "driver_id", req.DriverID); err != nil {
				return nil, err
			}
			return e.AdminAssign(ctx, a.ID, req.RideID, req.DriverID)
		}),
		"admin_cancel": rideOp(admin, e.AdminCancel),
		"admin_ride_status": handle(admin, func(ctx context.Context, _ presence.Actor, req rideRef) (any, error) {
			if err := required("ride_id", req.RideID); err != nil {
				return nil, err
			}
			return e.AdminRideStatus(ctx, req.RideID)
		}),
		"admin_driver_history": handle(admin, func(ctx context.Context, _ presence.Actor, req historyRequest) (any, error) {
			if err := required("driver_id", req.DriverID); err != nil {
				return nil, err
			}
			return e.AdminDriverHistory(ctx, req.DriverID, req.Limit)
		}),
		"admin_active_rides": handle(admin, func(ctx context.Context, _ presence.Actor, req activeRequest) (any, error) {
			return e.ActiveRides(ctx, req.Status, req.Limit)
		}),
	}
}
