// Package ride is the authoritative ride lifecycle. Every status change goes
// through Machine.Fire, which validates the transition and persists it in a
// single atomic read-modify-write.
package ride

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Transition describes one guarded change. Guard runs before the status
// check so ownership and race errors win over InvalidTransition. An empty To
// keeps the current status.
type Transition struct {
	Name  string
	From  []models.RideStatus
	To    models.RideStatus
	Guard func(r *models.Ride) error
	Apply func(r *models.Ride, now time.Time) error
}

type rejection struct{ err error }

func (r *rejection) Error() string { return r.err.Error() }
func (r *rejection) Unwrap() error { return r.err }

// reject makes Fire persist Apply's bookkeeping, skip the status change and
// return err to the caller.
func reject(err error) error { return &rejection{err: err} }

type Machine struct {
	rides  storage.RideStore
	cfg    config.DispatchConfig
	now    func() time.Time
	otp    func() (string, error)
	logger *slog.Logger
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func WithOTPGenerator(fn func() (string, error)) Option { return func(m *Machine) { m.otp = fn } }

func NewMachine(rides storage.RideStore, cfg config.DispatchConfig, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		rides:  rides,
		cfg:    cfg,
		now:    time.Now,
		otp:    randomOTP,
		logger: logging.Component(logger, "ride"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) Now() time.Time { return m.now() }

// Create stores a new ride in its initial status: searching for immediate
// bookings, scheduled for future ones.
func (m *Machine) Create(ctx context.Context, r *models.Ride) error {
	now := m.now()
	r.CreatedAt, r.UpdatedAt = now, now
	if r.BookingType == models.BookScheduled {
		r.Status = models.StatusScheduled
		r.SearchStarted = false
	} else {
		r.BookingType = models.BookNow
		r.Status = models.StatusSearching
		r.SearchStarted = true
		r.SearchStartedAt = &now
	}
	if r.Responses == nil {
		r.Responses = []models.DriverResponse{}
	}
	if err := m.rides.CreateRide(ctx, r); err != nil {
		return err
	}
	observability.RidesBooked.WithLabelValues(string(r.BookingType)).Inc()
	m.logger.Info("ride_created", "ride_id", r.ID, "rider_id", r.RiderID, "status", r.Status, "tier", r.Tier)
	return nil
}

func (m *Machine) Fire(ctx context.Context, rideID string, t Transition) (*models.Ride, error) {
	var (
		rejected error
		from     models.RideStatus
	)
	updated, err := m.rides.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		rejected = nil
		from = r.Status
		if t.Guard != nil {
			if err := t.Guard(r); err != nil {
				return err
			}
		}
		if !slices.Contains(t.From, r.Status) {
			return fmt.Errorf("%w: cannot %s a ride that is %s", models.ErrInvalidTransition, t.Name, r.Status)
		}
		if t.To != "" && !CanTransition(r.Status, t.To) {
			return fmt.Errorf("%w: %s -> %s is not a valid transition", models.ErrInvalidTransition, r.Status, t.To)
		}
		now := m.now()
		if t.Apply != nil {
			if err := t.Apply(r, now); err != nil {
				var rj *rejection
				if !errors.As(err, &rj) {
					return err
				}
				rejected = rj.err
				r.UpdatedAt = now
				return nil
			}
		}
		if t.To != "" {
			r.Status = t.To
		}
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		observability.RejectedTransitions.WithLabelValues(t.Name, models.ErrorCode(err)).Inc()
		if models.Expected(err) {
			m.logger.Debug("transition_rejected", "ride_id", rideID, "transition", t.Name, "err", err)
		} else {
			m.logger.Error("transition_failed", "ride_id", rideID, "transition", t.Name, "err", err)
		}
		return nil, err
	}
	if rejected != nil {
		observability.RejectedTransitions.WithLabelValues(t.Name, models.ErrorCode(rejected)).Inc()
		m.logger.Info("transition_rejected", "ride_id", rideID, "transition", t.Name, "err", rejected)
		return updated, rejected
	}
	observability.RideTransitions.WithLabelValues(t.Name, string(updated.Status)).Inc()
	if t.To != "" {
		m.logger.Info("ride_transition", "ride_id", rideID, "transition", t.Name, "from", from, "to", updated.Status)
	}
	return updated, nil
}

func randomOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}
