package dispatch

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// round is the bookkeeping of one outstanding fan-out for a ride. It only
// decides when the round is over; leases stay the source of truth for
// whether an individual offer is live.
type round struct {
	mu      sync.Mutex
	rideID  string
	tierIdx int
	tier    models.Tier
	pending map[string]time.Time
	offered []string
	sealed  bool
	closed  bool
}

func newRound(rideID string, tierIdx int, tier models.Tier) *round {
	return &round{rideID: rideID, tierIdx: tierIdx, tier: tier, pending: make(map[string]time.Time)}
}

// add records an offer. It refuses once the round was closed, so a fan-out
// racing a cancel or an acceptance stops handing out offers.
func (r *round) add(driverID string, expires time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.pending[driverID] = expires
	r.offered = append(r.offered, driverID)
	return true
}

func (r *round) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *round) has(driverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[driverID]
	return ok
}

// resolve removes driverID. advance is true exactly once: for the last
// resolution of a sealed round.
func (r *round) resolve(driverID string) (present, advance bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[driverID]; !ok || r.closed {
		return false, false
	}
	delete(r.pending, driverID)
	if r.sealed && len(r.pending) == 0 {
		r.closed = true
		return true, true
	}
	return true, false
}

// seal marks fan-out as finished. It reports true when every offer was
// already resolved, in which case the caller moves on itself.
func (r *round) seal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	if len(r.pending) == 0 && !r.closed {
		r.closed = true
		return true
	}
	return false
}

// close ends the round and returns the drivers still pending.
func (r *round) close() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]string, 0, len(r.pending))
	for d := range r.pending {
		out = append(out, d)
	}
	r.pending = map[string]time.Time{}
	return out
}

func (r *round) snapshot() (offered []string, pending map[string]time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending = make(map[string]time.Time, len(r.pending))
	for k, v := range r.pending {
		pending[k] = v
	}
	return append([]string(nil), r.offered...), pending
}
