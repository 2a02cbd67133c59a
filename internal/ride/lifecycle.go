package ride

import (
	"crypto/subtle"
	"fmt"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func boundTo(driverID string) func(*models.Ride) error {
	return func(r *models.Ride) error {
		if r.DriverID != driverID {
			return fmt.Errorf("%w: ride %s is not assigned to driver %s", models.ErrForbidden, r.ID, driverID)
		}
		return nil
	}
}

func ownedBy(riderID string) func(*models.Ride) error {
	return func(r *models.Ride) error {
		if r.RiderID != riderID {
			return fmt.Errorf("%w: ride %s does not belong to rider %s", models.ErrForbidden, r.ID, riderID)
		}
		return nil
	}
}

func unboundOr(driverID string) func(*models.Ride) error {
	return func(r *models.Ride) error {
		if r.DriverID != "" && r.DriverID != driverID {
			return fmt.Errorf("%w: ride %s is bound to another driver", models.ErrRaceLost, r.ID)
		}
		return nil
	}
}

func at(t time.Time) *time.Time { return &t }

// Bind assigns driverID after a lease-guarded acceptance.
func (m *Machine) Bind(driverID string) Transition {
	return Transition{
		Name:  "accept",
		From:  []models.RideStatus{models.StatusSearching},
		To:    models.StatusDriverAssigned,
		Guard: unboundOr(driverID),
		Apply: func(r *models.Ride, now time.Time) error {
			r.DriverID = driverID
			r.AcceptedAt = at(now)
			r.AssignmentType = "auto"
			r.Responses = append(r.Responses, models.DriverResponse{DriverID: driverID, Outcome: models.OutcomeAccepted, RespondedAt: now})
			return nil
		},
	}
}

func (m *Machine) AdminAssign(driverID, adminID string) Transition {
	return Transition{
		Name:  "admin_assign",
		From:  searchStates,
		To:    models.StatusDriverAssigned,
		Guard: unboundOr(driverID),
		Apply: func(r *models.Ride, now time.Time) error {
			r.DriverID = driverID
			r.AcceptedAt = at(now)
			r.AssignmentType = "manual"
			r.AssignedBy = adminID
			r.SearchStarted = true
			r.Responses = append(r.Responses, models.DriverResponse{
				DriverID: driverID, Outcome: models.OutcomeAdminAssigned, AssignedBy: adminID, RespondedAt: now,
			})
			return nil
		},
	}
}

// RecordResponse appends a decline, no_response or similar outcome without
// touching the status.
func (m *Machine) RecordResponse(driverID string, outcome models.Outcome, reason string) Transition {
	return Transition{
		Name: "record_" + string(outcome),
		From: active,
		Apply: func(r *models.Ride, now time.Time) error {
			r.Responses = append(r.Responses, models.DriverResponse{DriverID: driverID, Outcome: outcome, Reason: reason, RespondedAt: now})
			return nil
		},
	}
}

func (m *Machine) CountSearchRound() Transition {
	return Transition{
		Name: "search_round",
		From: []models.RideStatus{models.StatusSearching},
		Apply: func(r *models.Ride, _ time.Time) error {
			r.SearchAttempts++
			return nil
		},
	}
}

// Arrive issues a pickup code. Re-arriving keeps a still valid code and
// regenerates an expired or exhausted one.
func (m *Machine) Arrive(driverID string) Transition {
	return Transition{
		Name:  "arrive",
		From:  []models.RideStatus{models.StatusDriverAssigned, models.StatusDriverArrived},
		To:    models.StatusDriverArrived,
		Guard: boundTo(driverID),
		Apply: func(r *models.Ride, now time.Time) error {
			if r.OTP != "" && r.OTPExpiresAt != nil && now.Before(*r.OTPExpiresAt) {
				return nil
			}
			code, err := m.otp()
			if err != nil {
				return fmt.Errorf("generate otp: %w", err)
			}
			r.OTP = code
			r.OTPExpiresAt = at(now.Add(m.cfg.OTPValidity))
			r.OTPAttempts = 0
			if r.ArrivedAt == nil {
				r.ArrivedAt = at(now)
			}
			return nil
		},
	}
}

// VerifyOTP consumes the pickup code on an exact match. A mismatch keeps the
// code but counts the attempt; the last allowed attempt expires it.
func (m *Machine) VerifyOTP(riderID, code string) Transition {
	return Transition{
		Name:  "verify_otp",
		From:  []models.RideStatus{models.StatusDriverArrived},
		To:    models.StatusOTPVerified,
		Guard: ownedBy(riderID),
		Apply: func(r *models.Ride, now time.Time) error {
			if r.OTP == "" || r.OTPExpiresAt == nil || !now.Before(*r.OTPExpiresAt) {
				return fmt.Errorf("%w: ask the driver to signal arrival again", models.ErrOTPExpired)
			}
			if subtle.ConstantTimeCompare([]byte(code), []byte(r.OTP)) != 1 {
				r.OTPAttempts++
				left := m.cfg.OTPMaxAttempts - r.OTPAttempts
				if left <= 0 {
					r.OTP = ""
					r.OTPExpiresAt = at(now)
					return reject(fmt.Errorf("%w: code expired after %d attempts", models.ErrOTPMismatch, r.OTPAttempts))
				}
				return reject(fmt.Errorf("%w: %d attempts left", models.ErrOTPMismatch, left))
			}
			r.OTP = ""
			r.OTPExpiresAt = nil
			r.OTPVerifiedAt = at(now)
			return nil
		},
	}
}

func (m *Machine) Start(driverID string) Transition {
	return Transition{
		Name:  "start",
		From:  []models.RideStatus{models.StatusOTPVerified},
		To:    models.StatusInProgress,
		Guard: boundTo(driverID),
		Apply: func(r *models.Ride, now time.Time) error {
			r.StartedAt = at(now)
			return nil
		},
	}
}

func (m *Machine) ReachDrop(driverID string) Transition {
	return Transition{
		Name:  "reach_drop",
		From:  []models.RideStatus{models.StatusInProgress},
		To:    models.StatusReachedDrop,
		Guard: boundTo(driverID),
		Apply: func(r *models.Ride, now time.Time) error {
			r.ReachedDropAt = at(now)
			return nil
		},
	}
}

type Completion struct {
	FinalFare     float64 `json:"final_fare"`
	DistanceKm    float64 `json:"distance_km"`
	DurationMin   float64 `json:"duration_min"`
	PaymentMethod string  `json:"payment_method"`
}

// Commission splits fare into the platform cut, rounded to whole units, and
// the driver's earnings.
func Commission(fare float64, rideType models.RideType, rate, outstationRate float64) (commission, earnings float64) {
	if rideType == models.RideOutstation {
		rate = outstationRate
	}
	commission = math.Round(fare * rate)
	return commission, fare - commission
}

// Complete closes the trip. Completing straight from in_progress records the
// drop in the same write.
func (m *Machine) Complete(driverID string, c Completion) Transition {
	return Transition{
		Name:  "complete",
		From:  []models.RideStatus{models.StatusReachedDrop, models.StatusInProgress},
		To:    models.StatusCompleted,
		Guard: boundTo(driverID),
		Apply: func(r *models.Ride, now time.Time) error {
			fare := c.FinalFare
			if fare == 0 {
				fare = r.EstimatedFare
			}
			if fare < 0 || c.DistanceKm < 0 || c.DurationMin < 0 {
				return fmt.Errorf("%w: fare, distance and duration must not be negative", models.ErrBadRequest)
			}
			r.FinalFare = fare
			r.PlatformCommission, r.DriverEarnings = Commission(fare, r.RideType, m.cfg.CommissionRate, m.cfg.CommissionRateOutstation)
			r.ActualDistanceKm = c.DistanceKm
			r.ActualDurationMin = c.DurationMin
			if c.PaymentMethod != "" {
				r.PaymentMethod = c.PaymentMethod
			}
			if r.Status == models.StatusInProgress {
				r.ReachedDropAt = at(now)
			}
			r.CompletedAt = at(now)
			return nil
		},
	}
}

func cancelWith(by models.Actor, actorID, reason string) func(*models.Ride, time.Time) error {
	return func(r *models.Ride, now time.Time) error {
		r.Cancellation = &models.Cancellation{By: by, ActorID: actorID, Reason: reason, At: now}
		r.CancelledAt = at(now)
		r.OTP = ""
		r.OTPExpiresAt = nil
		return nil
	}
}

// CancelSearch is the rider cancelling before any driver is bound.
func (m *Machine) CancelSearch(riderID, reason string) Transition {
	return Transition{
		Name:  "cancel_search",
		From:  searchStates,
		To:    models.StatusCancelled,
		Guard: ownedBy(riderID),
		Apply: cancelWith(models.ActorUser, riderID, reason),
	}
}

// CancelBound is the rider cancelling an assigned ride before pickup.
func (m *Machine) CancelBound(riderID, reason string) Transition {
	return Transition{
		Name:  "cancel_bound",
		From:  driverCancellable,
		To:    models.StatusCancelled,
		Guard: ownedBy(riderID),
		Apply: cancelWith(models.ActorUser, riderID, reason),
	}
}

// CancelByRider accepts every state in which a rider may still cancel.
func (m *Machine) CancelByRider(riderID, reason string) Transition {
	return Transition{
		Name:  "cancel_rider",
		From:  riderCancellable,
		To:    models.StatusCancelled,
		Guard: ownedBy(riderID),
		Apply: cancelWith(models.ActorUser, riderID, reason),
	}
}

func (m *Machine) CancelByAdmin(adminID, reason string) Transition {
	return Transition{
		Name:  "cancel_admin",
		From:  active,
		To:    models.StatusCancelled,
		Apply: cancelWith(models.ActorAdmin, adminID, reason),
	}
}

func (m *Machine) CancelBySystem(reason string) Transition {
	return Transition{
		Name:  "cancel_system",
		From:  active,
		To:    models.StatusCancelled,
		Apply: cancelWith(models.ActorSystem, "", reason),
	}
}

// DriverCancel returns the ride to searching with the driver slot cleared.
func (m *Machine) DriverCancel(driverID, reason string) Transition {
	return Transition{
		Name:  "driver_cancel",
		From:  driverCancellable,
		To:    models.StatusSearching,
		Guard: boundTo(driverID),
		Apply: func(r *models.Ride, now time.Time) error {
			r.Responses = append(r.Responses, models.DriverResponse{DriverID: driverID, Outcome: models.OutcomeCancelled, Reason: reason, RespondedAt: now})
			r.DriverID = ""
			r.DriverCancellationReason = reason
			r.AssignmentType = ""
			r.AssignedBy = ""
			r.AcceptedAt = nil
			r.ArrivedAt = nil
			r.OTP = ""
			r.OTPExpiresAt = nil
			r.OTPAttempts = 0
			return nil
		},
	}
}

func (m *Machine) NoDrivers() Transition {
	return Transition{
		Name: "no_drivers",
		From: []models.RideStatus{models.StatusSearching},
		To:   models.StatusNoDriversAvailable,
	}
}

func (m *Machine) Escalate() Transition {
	return Transition{
		Name: "escalate",
		From: []models.RideStatus{models.StatusNoDriversAvailable},
		To:   models.StatusPendingAdminAssignment,
	}
}

// Promote moves a scheduled ride into active search exactly once.
func (m *Machine) Promote() Transition {
	return Transition{
		Name: "promote",
		From: []models.RideStatus{models.StatusScheduled},
		To:   models.StatusSearching,
		Guard: func(r *models.Ride) error {
			if r.SearchStarted {
				return fmt.Errorf("%w: ride %s was already promoted", models.ErrInvalidTransition, r.ID)
			}
			return nil
		},
		Apply: func(r *models.Ride, now time.Time) error {
			r.SearchStarted = true
			r.SearchStartedAt = at(now)
			return nil
		},
	}
}

func (m *Machine) Rate(riderID string, rating int, feedback string) Transition {
	return Transition{
		Name:  "rate",
		From:  []models.RideStatus{models.StatusCompleted},
		Guard: ownedBy(riderID),
		Apply: func(r *models.Ride, _ time.Time) error {
			if r.UserRating != 0 {
				return fmt.Errorf("%w: ride %s was already rated", models.ErrInvalidTransition, r.ID)
			}
			if rating < 1 || rating > 5 {
				return fmt.Errorf("%w: rating must be between 1 and 5", models.ErrBadRequest)
			}
			r.UserRating = rating
			r.UserFeedback = feedback
			return nil
		},
	}
}
