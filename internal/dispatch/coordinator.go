// Package dispatch runs the tiered offer fan-out for rides in search and
// resolves the race between drivers accepting the same ride.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/lease"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/timer"
)

type Finder interface {
	Find(ctx context.Context, q matcher.Query) ([]matcher.Candidate, error)
}

// Notifier is the subset of notify.Emitter the coordinator talks through.
type Notifier interface {
	ToUser(userID, typ string, data any)
	ToDriver(driverID, typ string, data any)
	Observe(typ string, data any)
}

// Offer is the ride_request payload shown to a driver.
type Offer struct {
	RideID         string                 `json:"ride_id"`
	Pickup         models.Place           `json:"pickup"`
	Dropoff        models.Place           `json:"dropoff"`
	RideType       models.RideType        `json:"ride_type"`
	Vehicle        models.VehicleCategory `json:"vehicle_type"`
	Tier           models.Tier            `json:"tier"`
	EstimatedFare  float64                `json:"estimated_fare"`
	TripDistanceKm float64                `json:"trip_distance_km,omitempty"`
	DistanceKm     float64                `json:"distance_to_pickup_km"`
	ETAMinutes     int                    `json:"eta_minutes"`
	TimeoutMs      int64                  `json:"timeout_ms"`
	ExpiresAt      time.Time              `json:"expires_at"`
}

// activeRequest is the shared record of a round, kept so another process can
// void offers it did not send.
type activeRequest struct {
	RideID    string      `json:"ride_id"`
	Tier      models.Tier `json:"tier"`
	Drivers   []string    `json:"drivers"`
	StartedAt time.Time   `json:"started_at"`
}

type Deps struct {
	Rides   storage.RideStore
	Drivers storage.DriverStore
	Machine *ride.Machine
	Finder  Finder
	Leases  lease.Store
	Timers  timer.Scheduler
	Fleet   fleet.Store
	Notify  Notifier
	Config  config.DispatchConfig
	// Base is the context timer callbacks run under.
	Base   context.Context
	Logger *slog.Logger
}

type Coordinator struct {
	rides   storage.RideStore
	drivers storage.DriverStore
	machine *ride.Machine
	finder  Finder
	leases  lease.Store
	timers  timer.Scheduler
	fleet   fleet.Store
	notify  Notifier
	cfg     config.DispatchConfig
	base    context.Context
	logger  *slog.Logger

	// bounded wait for a ride lock held by another acceptor
	lockAttempts int
	lockRetry    time.Duration

	mu     sync.Mutex
	rounds map[string]*round
}

func New(d Deps) *Coordinator {
	base := d.Base
	if base == nil {
		base = context.Background()
	}
	return &Coordinator{
		rides:   d.Rides,
		drivers: d.Drivers,
		machine: d.Machine,
		finder:  d.Finder,
		leases:  d.Leases,
		timers:  d.Timers,
		fleet:   d.Fleet,
		notify:  d.Notify,
		cfg:     d.Config,
		base:    base,
		logger:  logging.Component(d.Logger, "dispatch"),
		rounds:  make(map[string]*round),

		lockAttempts: 5,
		lockRetry:    20 * time.Millisecond,
	}
}

// Start schedules the first search round for a ride that just entered
// searching.
func (c *Coordinator) Start(rideID string, delay time.Duration) {
	c.timers.Schedule(timer.SearchKey(rideID), delay, func() { c.search(c.base, rideID, 0) })
}

// Redispatch restarts the search after a driver gave up an assigned ride.
func (c *Coordinator) Redispatch(rideID string) {
	c.timers.Schedule(timer.RedispatchKey(rideID), c.cfg.RedispatchDelay, func() { c.search(c.base, rideID, 0) })
}

// Search runs the search synchronously from the first tier.
func (c *Coordinator) Search(ctx context.Context, rideID string) {
	c.search(ctx, rideID, 0)
}

func (c *Coordinator) search(ctx context.Context, rideID string, from int) {
	r, err := c.rides.GetRide(ctx, rideID)
	if err != nil {
		c.logger.Error("search_load_failed", "ride_id", rideID, "err", err)
		return
	}
	if r.Status != models.StatusSearching {
		c.logger.Debug("search_skipped", "ride_id", rideID, "status", r.Status)
		return
	}
	tiers := c.tiersFor(r)
	for i := from; i < len(tiers); i++ {
		stop, err := c.runRound(ctx, r, tiers[i], i)
		if err != nil {
			if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
				return
			}
			c.logger.Error("search_round_failed", "ride_id", rideID, "tier", tiers[i], "err", err)
			continue
		}
		if stop {
			return
		}
	}
	c.exhaust(ctx, rideID)
}

// runRound offers the ride to the best candidates of one tier. stop is true
// when the search must not fall through to the next tier: offers are still
// outstanding, or the round was closed while fanning out.
func (c *Coordinator) runRound(ctx context.Context, r *models.Ride, tier models.Tier, idx int) (bool, error) {
	r, err := c.machine.Fire(ctx, r.ID, c.machine.CountSearchRound())
	if err != nil {
		return false, err
	}
	observability.SearchRounds.WithLabelValues(string(tier)).Inc()

	exclude := make(map[string]bool)
	for _, resp := range r.Responses {
		if resp.Outcome == models.OutcomeCancelled {
			exclude[resp.DriverID] = true
		}
	}

	var (
		cands  []matcher.Candidate
		radius float64
	)
	for _, radius = range c.cfg.Radii() {
		cands, err = c.finder.Find(ctx, matcher.Query{
			Pickup:   r.Pickup.Coord(),
			Tier:     tier,
			Vehicle:  r.Vehicle,
			RadiusKm: radius,
			Exclude:  exclude,
		})
		if err != nil {
			return false, err
		}
		if len(cands) > 0 {
			break
		}
	}
	if len(cands) == 0 {
		c.logger.Info("tier_empty", "ride_id", r.ID, "tier", tier, "radius_km", radius)
		return false, nil
	}
	if len(cands) > c.cfg.TopN {
		cands = cands[:c.cfg.TopN]
	}

	timeout := c.offerTimeout(r.RideType)
	rd := c.openRound(r.ID, idx, tier)
	sent := 0
	for _, cand := range cands {
		ok, closed := c.offer(ctx, r, rd, cand, tier, timeout)
		if ok {
			sent++
		}
		if closed {
			break
		}
	}
	if rd.isClosed() {
		c.logger.Info("round_closed_during_fanout", "ride_id", r.ID, "tier", tier, "sent", sent)
		return true, nil
	}
	if sent == 0 {
		c.dropRound(r.ID, rd)
		c.logger.Info("tier_all_busy", "ride_id", r.ID, "tier", tier, "candidates", len(cands))
		return false, nil
	}

	offered, _ := rd.snapshot()
	c.storeActive(ctx, r.ID, tier, offered, timeout)
	c.notify.ToUser(r.RiderID, "drivers_found", map[string]any{
		"ride_id":    r.ID,
		"count":      sent,
		"tier":       tier,
		"radius_km":  radius,
		"timeout_ms": timeout.Milliseconds(),
	})
	c.notify.Observe("ride_offered", map[string]any{"ride_id": r.ID, "tier": tier, "drivers": offered})
	c.logger.Info("offers_sent", "ride_id", r.ID, "tier", tier, "count", sent, "radius_km", radius)

	if rd.seal() {
		// every offer was answered while we were still fanning out
		c.dropRound(r.ID, rd)
		return false, nil
	}
	return true, nil
}

// offer hands one candidate an offer. closed reports that the round was
// closed underneath the fan-out; nothing is left held for this driver then.
func (c *Coordinator) offer(ctx context.Context, r *models.Ride, rd *round, cand matcher.Candidate, tier models.Tier, timeout time.Duration) (sent, closed bool) {
	driverID := cand.Driver.ID
	if rd.isClosed() {
		return false, true
	}
	ok, err := c.leases.Acquire(ctx, lease.DriverPendingKey(driverID), r.ID, timeout)
	if err != nil {
		c.logger.Error("pending_lease_failed", "ride_id", r.ID, "driver_id", driverID, "err", err)
		return false, false
	}
	if !ok {
		observability.OffersSkipped.Inc()
		c.logger.Debug("driver_has_offer", "ride_id", r.ID, "driver_id", driverID)
		return false, false
	}
	ok, err = c.leases.Acquire(ctx, lease.RequestKey(r.ID, driverID), driverID, timeout)
	if err != nil || !ok {
		if _, rerr := c.leases.Release(ctx, lease.DriverPendingKey(driverID), r.ID); rerr != nil {
			c.logger.Warn("pending_release_failed", "driver_id", driverID, "err", rerr)
		}
		if err != nil {
			c.logger.Error("request_lease_failed", "ride_id", r.ID, "driver_id", driverID, "err", err)
		}
		return false, false
	}

	now := c.machine.Now()
	expires := now.Add(timeout)
	// the timer goes in before the round entry so a concurrent void that
	// sees the entry also cancels the timer
	c.timers.Schedule(timer.OfferKey(r.ID, driverID), timeout, func() { c.expire(c.base, r.ID, driverID) })
	if !rd.add(driverID, expires) {
		c.withdraw(ctx, r.ID, driverID)
		return false, true
	}
	if !rd.has(driverID) {
		// voided between add and delivery; void already withdrew it
		return false, true
	}

	secs := eta.EstimateSeconds(cand.Location.Coord(), r.Pickup.Coord(), c.cfg.DefaultSpeedMps)
	c.notify.ToDriver(driverID, "ride_request", Offer{
		RideID:         r.ID,
		Pickup:         r.Pickup,
		Dropoff:        r.Dropoff,
		RideType:       r.RideType,
		Vehicle:        r.Vehicle,
		Tier:           tier,
		EstimatedFare:  r.EstimatedFare,
		TripDistanceKm: r.EstimatedDistanceKm,
		DistanceKm:     cand.DistanceKm,
		ETAMinutes:     eta.Minutes(secs),
		TimeoutMs:      timeout.Milliseconds(),
		ExpiresAt:      expires.UTC(),
	})
	observability.OffersSent.Inc()
	return true, false
}

// Accept binds driverID to the ride if it still holds a live offer and no
// other driver got there first.
func (c *Coordinator) Accept(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	_, held, err := c.leases.Get(ctx, lease.RequestKey(rideID, driverID))
	if err != nil {
		return nil, fmt.Errorf("read offer lease: %w", err)
	}
	if !held {
		r, gerr := c.rides.GetRide(ctx, rideID)
		if gerr == nil && r.DriverID != "" && r.DriverID != driverID {
			return nil, c.lost(rideID, driverID)
		}
		observability.AcceptResults.WithLabelValues("stale").Inc()
		return nil, fmt.Errorf("%w: no outstanding offer for ride %s", models.ErrStaleOffer, rideID)
	}

	r, err := c.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != "" && r.DriverID != driverID {
		return nil, c.loseOffer(ctx, rideID, driverID)
	}

	lockKey := lease.RideLockKey(rideID)
	for attempt := 1; ; attempt++ {
		locked, err := c.leases.Acquire(ctx, lockKey, driverID, c.cfg.BindTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire ride lock: %w", err)
		}
		if locked {
			break
		}
		// another acceptor is binding; wait to see whether it wins
		cur, err := c.rides.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if cur.DriverID != "" && cur.DriverID != driverID {
			return nil, c.loseOffer(ctx, rideID, driverID)
		}
		if attempt >= c.lockAttempts {
			observability.AcceptResults.WithLabelValues("busy").Inc()
			return nil, fmt.Errorf("%w: ride %s is being assigned", models.ErrBusy, rideID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.lockRetry):
		}
	}
	defer func() {
		if _, err := c.leases.Release(context.WithoutCancel(ctx), lockKey, driverID); err != nil {
			c.logger.Warn("ride_lock_release_failed", "ride_id", rideID, "err", err)
		}
	}()

	bound, err := c.machine.Fire(ctx, rideID, c.machine.Bind(driverID))
	if err != nil {
		if errors.Is(err, models.ErrRaceLost) {
			return nil, c.loseOffer(ctx, rideID, driverID)
		}
		c.withdraw(ctx, rideID, driverID)
		c.resolve(ctx, rideID, driverID)
		observability.AcceptResults.WithLabelValues("rejected").Inc()
		return nil, err
	}
	c.onBound(ctx, bound, driverID)
	return bound, nil
}

// loseOffer frees the loser's offer and settles it in the round.
func (c *Coordinator) loseOffer(ctx context.Context, rideID, driverID string) error {
	c.withdraw(ctx, rideID, driverID)
	c.resolve(ctx, rideID, driverID)
	return c.lost(rideID, driverID)
}

func (c *Coordinator) lost(rideID, driverID string) error {
	observability.AcceptResults.WithLabelValues("race_lost").Inc()
	c.logger.Info("accept_race_lost", "ride_id", rideID, "driver_id", driverID)
	return fmt.Errorf("%w: ride %s", models.ErrRaceLost, rideID)
}

func (c *Coordinator) onBound(ctx context.Context, r *models.Ride, driverID string) {
	c.withdraw(ctx, r.ID, driverID)
	if err := c.fleet.Bind(ctx, driverID, r.ID); err != nil {
		c.logger.Error("fleet_bind_failed", "ride_id", r.ID, "driver_id", driverID, "err", err)
	}
	c.void(ctx, r.ID, driverID, "ride_assigned")

	profile, err := c.drivers.UpdateDriver(ctx, driverID, func(d *models.Driver) error {
		d.TotalAcceptances++
		return nil
	})
	if err != nil {
		c.logger.Warn("driver_stats_failed", "driver_id", driverID, "err", err)
		profile = &models.Driver{ID: driverID}
	}

	c.notify.ToUser(r.RiderID, "ride_accepted", map[string]any{
		"ride_id": r.ID,
		"ride":    r.Redacted(),
		"driver":  profile,
	})
	c.notify.Observe("ride_assigned", map[string]any{"ride_id": r.ID, "driver_id": driverID, "assignment_type": r.AssignmentType})
	observability.AcceptResults.WithLabelValues("won").Inc()
	if r.SearchStartedAt != nil && r.AcceptedAt != nil {
		observability.TimeToAssign.Observe(r.AcceptedAt.Sub(*r.SearchStartedAt).Seconds())
	}
	c.logger.Info("ride_accepted", "ride_id", r.ID, "driver_id", driverID)
}

// Decline releases the driver's offer and records it on the ride.
func (c *Coordinator) Decline(ctx context.Context, rideID, driverID, reason string) error {
	_, held, err := c.leases.Get(ctx, lease.RequestKey(rideID, driverID))
	if err != nil {
		return fmt.Errorf("read offer lease: %w", err)
	}
	if !held {
		return fmt.Errorf("%w: no outstanding offer for ride %s", models.ErrStaleOffer, rideID)
	}
	c.withdraw(ctx, rideID, driverID)
	if _, err := c.machine.Fire(ctx, rideID, c.machine.RecordResponse(driverID, models.OutcomeDeclined, reason)); err != nil && !models.Expected(err) {
		c.logger.Error("record_decline_failed", "ride_id", rideID, "driver_id", driverID, "err", err)
	}
	observability.Declines.Inc()
	c.notify.Observe("ride_declined", map[string]any{"ride_id": rideID, "driver_id": driverID, "reason": reason})
	c.resolve(ctx, rideID, driverID)
	return nil
}

func (c *Coordinator) expire(ctx context.Context, rideID, driverID string) {
	rd := c.roundOf(rideID)
	if rd == nil || !rd.has(driverID) {
		return
	}
	c.withdraw(ctx, rideID, driverID)
	if _, err := c.machine.Fire(ctx, rideID, c.machine.RecordResponse(driverID, models.OutcomeNoResponse, "timeout")); err != nil && !models.Expected(err) {
		c.logger.Error("record_timeout_failed", "ride_id", rideID, "driver_id", driverID, "err", err)
	}
	observability.OffersExpired.Inc()
	c.notify.ToDriver(driverID, "ride_request_expired", map[string]any{"ride_id": rideID})
	c.logger.Info("offer_expired", "ride_id", rideID, "driver_id", driverID)
	c.resolve(ctx, rideID, driverID)
}

// resolve marks one offer of the current round as answered and moves to the
// next tier when it was the last one.
func (c *Coordinator) resolve(ctx context.Context, rideID, driverID string) {
	rd := c.roundOf(rideID)
	if rd == nil {
		return
	}
	if _, advance := rd.resolve(driverID); advance {
		c.dropRound(rideID, rd)
		c.search(ctx, rideID, rd.tierIdx+1)
	}
}

// withdraw removes one driver's offer: its timer and both leases.
func (c *Coordinator) withdraw(ctx context.Context, rideID, driverID string) {
	c.timers.Cancel(timer.OfferKey(rideID, driverID))
	if err := c.leases.Delete(ctx, lease.RequestKey(rideID, driverID)); err != nil {
		c.logger.Warn("request_lease_delete_failed", "ride_id", rideID, "driver_id", driverID, "err", err)
	}
	if _, err := c.leases.Release(ctx, lease.DriverPendingKey(driverID), rideID); err != nil {
		c.logger.Warn("pending_release_failed", "ride_id", rideID, "driver_id", driverID, "err", err)
	}
}

// Void withdraws every outstanding offer for the ride and tells the drivers.
func (c *Coordinator) Void(ctx context.Context, rideID, reason string) int {
	return c.void(ctx, rideID, "", reason)
}

// VoidExcept is Void that leaves driverID's offer to the caller.
func (c *Coordinator) VoidExcept(ctx context.Context, rideID, driverID, reason string) int {
	return c.void(ctx, rideID, driverID, reason)
}

// WithdrawDriver drops whatever offer driverID currently holds because they
// were just bound to boundRide by other means, e.g. an admin assignment.
func (c *Coordinator) WithdrawDriver(ctx context.Context, driverID, boundRide string) {
	rideID, ok, err := c.leases.Get(ctx, lease.DriverPendingKey(driverID))
	if err != nil {
		c.logger.Warn("pending_lookup_failed", "driver_id", driverID, "err", err)
		return
	}
	if !ok {
		return
	}
	c.withdraw(ctx, rideID, driverID)
	if rideID == boundRide {
		return
	}
	c.notify.ToDriver(driverID, "ride_request_voided", map[string]any{"ride_id": rideID, "reason": "driver_assigned_elsewhere"})
	observability.OffersVoided.Inc()
	c.resolve(ctx, rideID, driverID)
}

func (c *Coordinator) void(ctx context.Context, rideID, except, reason string) int {
	drivers := make(map[string]bool)
	if rd := c.takeRound(rideID); rd != nil {
		for _, d := range rd.close() {
			drivers[d] = true
		}
	}
	active, err := c.loadActive(ctx, rideID)
	if err != nil {
		c.logger.Warn("active_request_read_failed", "ride_id", rideID, "err", err)
	}
	for _, d := range active {
		drivers[d] = true
	}
	c.timers.Cancel(timer.SearchKey(rideID))

	voided := 0
	for d := range drivers {
		if d == except {
			continue
		}
		_, held, err := c.leases.Get(ctx, lease.RequestKey(rideID, d))
		if err != nil || !held {
			c.withdraw(ctx, rideID, d)
			continue
		}
		c.withdraw(ctx, rideID, d)
		c.notify.ToDriver(d, "ride_request_voided", map[string]any{"ride_id": rideID, "reason": reason})
		observability.OffersVoided.Inc()
		voided++
	}
	if err := c.leases.Delete(ctx, lease.ActiveRequestKey(rideID)); err != nil {
		c.logger.Warn("active_request_delete_failed", "ride_id", rideID, "err", err)
	}
	if voided > 0 {
		c.logger.Info("offers_voided", "ride_id", rideID, "count", voided, "reason", reason)
	}
	return voided
}

// Outstanding lists drivers currently holding an offer for the ride.
func (c *Coordinator) Outstanding(ctx context.Context, rideID string) ([]string, error) {
	drivers, err := c.loadActive(ctx, rideID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(drivers))
	for _, d := range drivers {
		_, held, err := c.leases.Get(ctx, lease.RequestKey(rideID, d))
		if err != nil {
			return nil, err
		}
		if held {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Coordinator) exhaust(ctx context.Context, rideID string) {
	r, err := c.machine.Fire(ctx, rideID, c.machine.NoDrivers())
	if err != nil {
		if !models.Expected(err) {
			c.logger.Error("no_drivers_transition_failed", "ride_id", rideID, "err", err)
		}
		return
	}
	if err := c.leases.Delete(ctx, lease.ActiveRequestKey(rideID)); err != nil {
		c.logger.Warn("active_request_delete_failed", "ride_id", rideID, "err", err)
	}
	observability.NoDrivers.Inc()
	c.notify.ToUser(r.RiderID, "no_drivers_available", map[string]any{
		"ride_id":         r.ID,
		"search_attempts": r.SearchAttempts,
		"message":         "No drivers are available right now. Please try again shortly.",
	})
	c.notify.Observe("no_drivers_available", map[string]any{"ride_id": r.ID, "rider_id": r.RiderID})
	c.logger.Info("no_drivers_available", "ride_id", r.ID, "attempts", r.SearchAttempts)

	if !c.cfg.EscalateToAdmin {
		return
	}
	if _, err := c.machine.Fire(ctx, rideID, c.machine.Escalate()); err != nil {
		if !models.Expected(err) {
			c.logger.Error("escalate_failed", "ride_id", rideID, "err", err)
		}
		return
	}
	c.notify.Observe("pending_admin_assignment", map[string]any{"ride_id": r.ID, "rider_id": r.RiderID, "pickup": r.Pickup})
}

// tiersFor returns the configured tiers down to and including the ride's
// requested tier.
func (c *Coordinator) tiersFor(r *models.Ride) []models.Tier {
	tiers := make([]models.Tier, 0, len(c.cfg.Tiers))
	for _, t := range c.cfg.Tiers {
		tiers = append(tiers, models.Tier(t))
		if r.Tier != "" && models.Tier(t) == r.Tier {
			break
		}
	}
	return tiers
}

func (c *Coordinator) offerTimeout(t models.RideType) time.Duration {
	if t == models.RideOutstation {
		return c.cfg.OfferTimeoutOutstation
	}
	return c.cfg.OfferTimeoutLocal
}

func (c *Coordinator) storeActive(ctx context.Context, rideID string, tier models.Tier, drivers []string, ttl time.Duration) {
	raw, err := json.Marshal(activeRequest{RideID: rideID, Tier: tier, Drivers: drivers, StartedAt: c.machine.Now().UTC()})
	if err != nil {
		c.logger.Error("active_request_encode_failed", "ride_id", rideID, "err", err)
		return
	}
	if err := c.leases.Put(ctx, lease.ActiveRequestKey(rideID), string(raw), ttl); err != nil {
		c.logger.Warn("active_request_write_failed", "ride_id", rideID, "err", err)
	}
}

func (c *Coordinator) loadActive(ctx context.Context, rideID string) ([]string, error) {
	raw, ok, err := c.leases.Get(ctx, lease.ActiveRequestKey(rideID))
	if err != nil || !ok {
		return nil, err
	}
	var ar activeRequest
	if err := json.Unmarshal([]byte(raw), &ar); err != nil {
		return nil, fmt.Errorf("decode active request: %w", err)
	}
	return ar.Drivers, nil
}

func (c *Coordinator) openRound(rideID string, idx int, tier models.Tier) *round {
	rd := newRound(rideID, idx, tier)
	c.mu.Lock()
	c.rounds[rideID] = rd
	c.mu.Unlock()
	return rd
}

func (c *Coordinator) roundOf(rideID string) *round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rounds[rideID]
}

func (c *Coordinator) dropRound(rideID string, rd *round) {
	c.mu.Lock()
	if c.rounds[rideID] == rd {
		delete(c.rounds, rideID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) takeRound(rideID string) *round {
	c.mu.Lock()
	defer c.mu.Unlock()
	rd := c.rounds[rideID]
	delete(c.rounds, rideID)
	return rd
}
