package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lease"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/timer"
)

type message struct {
	to   string
	typ  string
	data any
}

type recorder struct {
	mu   sync.Mutex
	msgs []message
	// onDriver runs after a driver message is recorded, outside the lock.
	onDriver func(id, typ string)
}

func (r *recorder) add(to, typ string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message{to: to, typ: typ, data: data})
}

func (r *recorder) ToUser(id, typ string, data any) { r.add("user:"+id, typ, data) }
func (r *recorder) ToDriver(id, typ string, data any) {
	r.add("driver:"+id, typ, data)
	if r.onDriver != nil {
		r.onDriver(id, typ)
	}
}
func (r *recorder) Observe(typ string, data any) { r.add("observer", typ, data) }

func (r *recorder) count(to, typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.to == to && m.typ == typ {
			n++
		}
	}
	return n
}

type online struct{}

func (online) Connected(presence.Actor) bool { return true }

var pickup = models.Place{Lat: 12.9716, Lng: 77.5946, Address: "MG Road"}

type harness struct {
	store  *storage.MemoryStore
	geo    *geo.MemoryIndex
	fleet  *fleet.MemoryStore
	leases *lease.MemoryStore
	timers *timer.Manual
	notify *recorder
	mach   *ride.Machine
	coord  *Coordinator
	cfg    config.DispatchConfig
}

func newHarness(t *testing.T, mutate ...func(*config.DispatchConfig)) *harness {
	t.Helper()
	cfg := config.DefaultDispatchConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{
		store:  storage.NewMemoryStore(),
		geo:    geo.NewMemoryIndex(),
		fleet:  fleet.NewMemoryStore(),
		leases: lease.NewMemoryStore(),
		timers: timer.NewManual(),
		notify: &recorder{},
		cfg:    cfg,
	}
	h.mach = ride.NewMachine(h.store, cfg, nil)
	h.coord = New(Deps{
		Rides:   h.store,
		Drivers: h.store,
		Machine: h.mach,
		Finder:  &matcher.Finder{Geo: h.geo, Drivers: h.store, Fleet: h.fleet, Presence: online{}},
		Leases:  h.leases,
		Timers:  h.timers,
		Fleet:   h.fleet,
		Notify:  h.notify,
		Config:  cfg,
	})
	return h
}

func (h *harness) driver(t *testing.T, id string, tier models.Tier, rating float64, dLat float64) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.SaveDriver(ctx, &models.Driver{ID: id, Name: id, Tier: tier, Vehicle: models.VehicleElite, Rating: rating}); err != nil {
		t.Fatalf("save driver: %v", err)
	}
	if err := h.geo.Upsert(ctx, models.DriverLocation{DriverID: id, Lat: pickup.Lat + dLat, Lng: pickup.Lng}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := h.fleet.MarkAvailableIfUnset(ctx, id); err != nil {
		t.Fatalf("mark available: %v", err)
	}
}

func (h *harness) book(t *testing.T, id string) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:            id,
		RiderID:       "u-" + id,
		RideType:      models.RideLocal,
		Vehicle:       models.VehicleElite,
		Tier:          models.TierStandard,
		Pickup:        pickup,
		Dropoff:       models.Place{Lat: 12.93, Lng: 77.62, Address: "Koramangala"},
		EstimatedFare: 320,
	}
	if err := h.mach.Create(context.Background(), r); err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func (h *harness) status(t *testing.T, id string) *models.Ride {
	t.Helper()
	r, err := h.store.GetRide(context.Background(), id)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	return r
}

func (h *harness) held(t *testing.T, key string) bool {
	t.Helper()
	_, ok, err := h.leases.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("lease get: %v", err)
	}
	return ok
}

func TestTierFallthroughToStandard(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.driver(t, "s1", models.TierStandard, 4.5, 0.002)
	r := h.book(t, "r1")

	h.coord.Start(r.ID, h.cfg.SearchDelay)
	if !h.timers.Fire(timer.SearchKey(r.ID)) {
		t.Fatalf("search timer not scheduled")
	}
	if got := h.notify.count("driver:s1", "ride_request"); got != 1 {
		t.Fatalf("expected one offer to s1, got %d", got)
	}
	if got := h.status(t, r.ID).SearchAttempts; got != 2 {
		t.Fatalf("expected a premium and a standard round, got %d attempts", got)
	}

	bound, err := h.coord.Accept(ctx, r.ID, "s1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if bound.Status != models.StatusDriverAssigned || bound.DriverID != "s1" {
		t.Fatalf("unexpected ride after accept: %s %s", bound.Status, bound.DriverID)
	}
	if h.notify.count("user:"+r.RiderID, "ride_accepted") != 1 {
		t.Fatalf("rider not told about the acceptance")
	}
	st, _ := h.fleet.Get(ctx, "s1")
	if st.CurrentRide != r.ID {
		t.Fatalf("fleet not bound: %+v", st)
	}
	d, _ := h.store.GetDriver(ctx, "s1")
	if d.TotalAcceptances != 1 {
		t.Fatalf("acceptances not counted: %d", d.TotalAcceptances)
	}
	if h.held(t, lease.RequestKey(r.ID, "s1")) || h.held(t, lease.DriverPendingKey("s1")) {
		t.Fatalf("winner leases not released")
	}
	if h.timers.Pending(timer.OfferKey(r.ID, "s1")) {
		t.Fatalf("winner offer timer still pending")
	}
}

func TestConcurrentAcceptOneWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ids := []string{"p1", "p2", "p3", "p4", "p5"}
	for i, id := range ids {
		h.driver(t, id, models.TierPremium, 4.8, 0.001*float64(i+1))
	}
	r := h.book(t, "r1")
	h.coord.Search(ctx, r.ID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		lost    int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.coord.Accept(ctx, r.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case errors.Is(err, models.ErrRaceLost):
				lost++
			default:
				t.Errorf("driver %s: unexpected error %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if len(winners) != 1 || lost != len(ids)-1 {
		t.Fatalf("expected exactly one winner, got winners=%v lost=%d", winners, lost)
	}
	got := h.status(t, r.ID)
	if got.DriverID != winners[0] || got.Status != models.StatusDriverAssigned {
		t.Fatalf("ride bound to %q (%s), winner %s", got.DriverID, got.Status, winners[0])
	}
	for _, id := range ids {
		if h.held(t, lease.RequestKey(r.ID, id)) || h.held(t, lease.DriverPendingKey(id)) {
			t.Fatalf("lease left behind for %s", id)
		}
	}
	if h.held(t, lease.ActiveRequestKey(r.ID)) {
		t.Fatalf("active request record left behind")
	}
}

func TestNoDriversNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	r := h.book(t, "r1")
	h.coord.Search(context.Background(), r.ID)

	if got := h.status(t, r.ID).Status; got != models.StatusNoDriversAvailable {
		t.Fatalf("expected no_drivers_available, got %s", got)
	}
	if got := h.notify.count("user:"+r.RiderID, "no_drivers_available"); got != 1 {
		t.Fatalf("expected one notification, got %d", got)
	}
	// a late duplicate search must not notify again
	h.coord.Search(context.Background(), r.ID)
	if got := h.notify.count("user:"+r.RiderID, "no_drivers_available"); got != 1 {
		t.Fatalf("expected one notification after retry, got %d", got)
	}
}

func TestNoDriversEscalates(t *testing.T) {
	h := newHarness(t, func(c *config.DispatchConfig) { c.EscalateToAdmin = true })
	r := h.book(t, "r1")
	h.coord.Search(context.Background(), r.ID)

	if got := h.status(t, r.ID).Status; got != models.StatusPendingAdminAssignment {
		t.Fatalf("expected pending_admin_assignment, got %s", got)
	}
	if h.notify.count("observer", "pending_admin_assignment") != 1 {
		t.Fatalf("admins not told about the escalation")
	}
}

func TestDeclineAdvancesToNextTier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.driver(t, "p1", models.TierPremium, 4.9, 0.001)
	h.driver(t, "s1", models.TierStandard, 4.1, 0.001)
	r := h.book(t, "r1")
	h.coord.Search(ctx, r.ID)

	if h.notify.count("driver:s1", "ride_request") != 0 {
		t.Fatalf("standard driver offered before premium resolved")
	}
	if err := h.coord.Decline(ctx, r.ID, "p1", "too far"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if h.notify.count("driver:s1", "ride_request") != 1 {
		t.Fatalf("standard tier not searched after the last premium decline")
	}
	if h.held(t, lease.DriverPendingKey("p1")) {
		t.Fatalf("declining driver still marked pending")
	}
	got := h.status(t, r.ID)
	if !got.RespondedBy("p1", models.OutcomeDeclined) {
		t.Fatalf("decline not recorded: %+v", got.Responses)
	}
	if err := h.coord.Decline(ctx, r.ID, "p1", "again"); !errors.Is(err, models.ErrStaleOffer) {
		t.Fatalf("expected stale offer on second decline, got %v", err)
	}
}

func TestTimeoutFreesDriverForAnotherRide(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.driver(t, "s1", models.TierStandard, 4.2, 0.001)
	first := h.book(t, "r1")
	busy := h.book(t, "r2")

	h.coord.Search(ctx, first.ID)
	h.coord.Search(ctx, busy.ID)
	if h.notify.count("driver:s1", "ride_request") != 1 {
		t.Fatalf("driver with an outstanding offer was offered a second ride")
	}
	if got := h.status(t, busy.ID).Status; got != models.StatusNoDriversAvailable {
		t.Fatalf("ride with only busy candidates should exhaust, got %s", got)
	}

	if !h.timers.Fire(timer.OfferKey(first.ID, "s1")) {
		t.Fatalf("offer timer not scheduled")
	}
	if h.notify.count("driver:s1", "ride_request_expired") != 1 {
		t.Fatalf("driver not told the offer expired")
	}
	resp := h.status(t, first.ID).Responses
	if len(resp) != 1 || resp[0].Outcome != models.OutcomeNoResponse {
		t.Fatalf("expected a no_response entry, got %+v", resp)
	}
	if got := h.status(t, first.ID).Status; got != models.StatusNoDriversAvailable {
		t.Fatalf("first ride should have exhausted its tiers, got %s", got)
	}

	next := h.book(t, "r3")
	h.coord.Search(ctx, next.ID)
	if h.notify.count("driver:s1", "ride_request") != 2 {
		t.Fatalf("released driver was not offered the next ride")
	}
	if _, err := h.coord.Accept(ctx, first.ID, "s1"); !errors.Is(err, models.ErrStaleOffer) {
		t.Fatalf("accepting an expired offer should be stale, got %v", err)
	}
}

func TestVoidWithdrawsAllOffers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.driver(t, "p1", models.TierPremium, 4.9, 0.001)
	h.driver(t, "p2", models.TierPremium, 4.7, 0.002)
	r := h.book(t, "r1")
	h.coord.Search(ctx, r.ID)

	out, err := h.coord.Outstanding(ctx, r.ID)
	if err != nil || len(out) != 2 {
		t.Fatalf("expected two outstanding offers, got %v (%v)", out, err)
	}
	if n := h.coord.Void(ctx, r.ID, "ride_cancelled"); n != 2 {
		t.Fatalf("expected two voided offers, got %d", n)
	}
	for _, id := range []string{"p1", "p2"} {
		if h.notify.count("driver:"+id, "ride_request_voided") != 1 {
			t.Fatalf("%s not told about the void", id)
		}
		if h.held(t, lease.RequestKey(r.ID, id)) || h.held(t, lease.DriverPendingKey(id)) {
			t.Fatalf("lease left behind for %s", id)
		}
		if h.timers.Pending(timer.OfferKey(r.ID, id)) {
			t.Fatalf("offer timer left behind for %s", id)
		}
	}
	if _, err := h.coord.Accept(ctx, r.ID, "p1"); !errors.Is(err, models.ErrStaleOffer) {
		t.Fatalf("expected stale offer after void, got %v", err)
	}
}

func TestRedispatchSkipsCancellingDriver(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.driver(t, "s1", models.TierStandard, 4.9, 0.001)
	h.driver(t, "s2", models.TierStandard, 4.0, 0.002)
	r := h.book(t, "r1")
	h.coord.Search(ctx, r.ID)
	if _, err := h.coord.Accept(ctx, r.ID, "s1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := h.mach.Fire(ctx, r.ID, h.mach.DriverCancel("s1", "vehicle issue")); err != nil {
		t.Fatalf("driver cancel: %v", err)
	}
	_ = h.fleet.Release(ctx, "s1", r.ID)

	h.coord.Redispatch(r.ID)
	if d, ok := h.timers.Delay(timer.RedispatchKey(r.ID)); !ok || d != h.cfg.RedispatchDelay {
		t.Fatalf("redispatch not scheduled with the configured delay: %v %v", d, ok)
	}
	h.timers.Fire(timer.RedispatchKey(r.ID))
	if h.notify.count("driver:s1", "ride_request") != 1 {
		t.Fatalf("cancelling driver was offered the ride again")
	}
	if h.notify.count("driver:s2", "ride_request") != 2 {
		t.Fatalf("second driver not offered the ride on redispatch")
	}
}

func TestTiersFor(t *testing.T) {
	h := newHarness(t)
	got := h.coord.tiersFor(&models.Ride{Tier: models.TierPremium})
	if len(got) != 1 || got[0] != models.TierPremium {
		t.Fatalf("premium ride should only search premium, got %v", got)
	}
	if got := h.coord.tiersFor(&models.Ride{}); len(got) != 2 {
		t.Fatalf("untiered ride should search every tier, got %v", got)
	}
}

// lockObserver reports ride-lock misses so a test can change the ride while an
// acceptor waits on the lock.
type lockObserver struct {
	lease.Store
	onMiss func(key string)
}

func (l *lockObserver) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := l.Store.Acquire(ctx, key, value, ttl)
	if err == nil && !ok && l.onMiss != nil {
		l.onMiss(key)
	}
	return ok, err
}

func (h *harness) fanoutDrivers(t *testing.T) []string {
	t.Helper()
	ids := []string{"p1", "p2", "p3"}
	for i, id := range ids {
		h.driver(t, id, models.TierPremium, 4.8, 0.001*float64(i+1))
	}
	return ids
}

func (h *harness) assertFreed(t *testing.T, rideID, driverID string) {
	t.Helper()
	if h.held(t, lease.RequestKey(rideID, driverID)) || h.held(t, lease.DriverPendingKey(driverID)) {
		t.Fatalf("lease left behind for %s", driverID)
	}
	if h.timers.Pending(timer.OfferKey(rideID, driverID)) {
		t.Fatalf("offer timer left behind for %s", driverID)
	}
}

func TestCancelDuringFanoutStopsOffers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ids := h.fanoutDrivers(t)
	r := h.book(t, "r1")

	var (
		once  sync.Once
		first string
	)
	h.notify.onDriver = func(id, typ string) {
		if typ != "ride_request" {
			return
		}
		once.Do(func() {
			first = id
			if _, err := h.mach.Fire(ctx, r.ID, h.mach.CancelSearch(r.RiderID, "changed plans")); err != nil {
				t.Errorf("cancel: %v", err)
				return
			}
			h.coord.Void(ctx, r.ID, "ride_cancelled")
		})
	}
	h.coord.Search(ctx, r.ID)

	if first == "" {
		t.Fatalf("no offer was delivered")
	}
	if got := h.status(t, r.ID).Status; got != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if h.notify.count("driver:"+first, "ride_request_voided") != 1 {
		t.Fatalf("%s not told about the void", first)
	}
	for _, id := range ids {
		if id != first && h.notify.count("driver:"+id, "ride_request") != 0 {
			t.Fatalf("%s offered a cancelled ride", id)
		}
		h.assertFreed(t, r.ID, id)
	}
	if h.notify.count("user:"+r.RiderID, "drivers_found") != 0 {
		t.Fatalf("rider told drivers were found for a cancelled ride")
	}
	if h.notify.count("observer", "ride_offered") != 0 {
		t.Fatalf("observer told about offers of a cancelled ride")
	}
	if h.held(t, lease.ActiveRequestKey(r.ID)) {
		t.Fatalf("active request record left behind")
	}
}

func TestAcceptDuringFanoutStopsOffers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ids := h.fanoutDrivers(t)
	r := h.book(t, "r1")

	var (
		once  sync.Once
		first string
	)
	h.notify.onDriver = func(id, typ string) {
		if typ != "ride_request" {
			return
		}
		once.Do(func() {
			first = id
			if _, err := h.coord.Accept(ctx, r.ID, id); err != nil {
				t.Errorf("accept: %v", err)
			}
		})
	}
	h.coord.Search(ctx, r.ID)

	got := h.status(t, r.ID)
	if got.Status != models.StatusDriverAssigned || got.DriverID != first {
		t.Fatalf("ride bound to %q (%s), accepted by %s", got.DriverID, got.Status, first)
	}
	for _, id := range ids {
		if id != first && h.notify.count("driver:"+id, "ride_request") != 0 {
			t.Fatalf("%s offered an assigned ride", id)
		}
		h.assertFreed(t, r.ID, id)
	}
	if h.notify.count("user:"+r.RiderID, "drivers_found") != 0 {
		t.Fatalf("rider told drivers were found after assignment")
	}
	if h.coord.roundOf(r.ID) != nil {
		t.Fatalf("round left open after assignment")
	}
}

func TestAcceptWhileLockHeldIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fanoutDrivers(t)
	r := h.book(t, "r1")
	h.coord.Search(ctx, r.ID)
	h.coord.lockAttempts = 2
	h.coord.lockRetry = time.Millisecond

	lockKey := lease.RideLockKey(r.ID)
	if ok, err := h.leases.Acquire(ctx, lockKey, "p1", time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquire lock: %v %v", ok, err)
	}
	if _, err := h.coord.Accept(ctx, r.ID, "p2"); !errors.Is(err, models.ErrBusy) {
		t.Fatalf("expected busy while the lock is held, got %v", err)
	}
	if got := h.status(t, r.ID).Status; got != models.StatusSearching {
		t.Fatalf("expected searching, got %s", got)
	}
	if !h.held(t, lease.RequestKey(r.ID, "p2")) {
		t.Fatalf("retryable acceptance dropped the offer")
	}
	if rd := h.coord.roundOf(r.ID); rd == nil || !rd.has("p2") {
		t.Fatalf("offer should still be outstanding in the round")
	}

	if _, err := h.leases.Release(ctx, lockKey, "p1"); err != nil {
		t.Fatalf("release lock: %v", err)
	}
	bound, err := h.coord.Accept(ctx, r.ID, "p2")
	if err != nil {
		t.Fatalf("retry accept: %v", err)
	}
	if bound.DriverID != "p2" {
		t.Fatalf("ride bound to %q", bound.DriverID)
	}
}

func TestAcceptLosesToLockHolderThatBinds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fanoutDrivers(t)
	r := h.book(t, "r1")
	h.coord.Search(ctx, r.ID)

	lockKey := lease.RideLockKey(r.ID)
	if ok, err := h.leases.Acquire(ctx, lockKey, "p1", time.Minute); err != nil || !ok {
		t.Fatalf("pre-acquire lock: %v %v", ok, err)
	}
	var once sync.Once
	h.coord.leases = &lockObserver{Store: h.leases, onMiss: func(key string) {
		if key != lockKey {
			return
		}
		once.Do(func() {
			if _, err := h.mach.Fire(ctx, r.ID, h.mach.Bind("p1")); err != nil {
				t.Errorf("bind p1: %v", err)
			}
		})
	}}

	if _, err := h.coord.Accept(ctx, r.ID, "p2"); !errors.Is(err, models.ErrRaceLost) {
		t.Fatalf("expected race lost, got %v", err)
	}
	h.assertFreed(t, r.ID, "p2")
	if rd := h.coord.roundOf(r.ID); rd != nil && rd.has("p2") {
		t.Fatalf("losing offer still pending in the round")
	}
}
