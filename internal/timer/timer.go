// Package timer schedules cancellable deferred actions keyed by name, e.g.
// one offer timeout per (ride, driver).
package timer

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type Scheduler interface {
	// Schedule replaces any pending action under key.
	Schedule(key string, d time.Duration, fn func())
	// Cancel reports whether a pending action was removed.
	Cancel(key string) bool
}

func OfferKey(rideID, driverID string) string { return "offer:" + rideID + ":" + driverID }
func SearchKey(rideID string) string          { return "search:" + rideID }
func RedispatchKey(rideID string) string      { return "redispatch:" + rideID }

type wheelEntry struct {
	gen   uint64
	timer *time.Timer
}

// Wheel runs actions on time.AfterFunc goroutines. A generation number per
// entry keeps a stopped-too-late timer from running a replaced action.
type Wheel struct {
	mu      sync.Mutex
	gen     uint64
	entries map[string]wheelEntry
	stopped bool
}

func NewWheel() *Wheel { return &Wheel{entries: make(map[string]wheelEntry)} }

func (w *Wheel) Schedule(key string, d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if prev, ok := w.entries[key]; ok {
		prev.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.entries[key] = wheelEntry{gen: gen, timer: time.AfterFunc(d, func() {
		w.mu.Lock()
		cur, ok := w.entries[key]
		if !ok || cur.gen != gen {
			w.mu.Unlock()
			return
		}
		delete(w.entries, key)
		w.mu.Unlock()
		fn()
	})}
}

func (w *Wheel) Cancel(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(w.entries, key)
	return true
}

func (w *Wheel) Pending(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[key]
	return ok
}

// Stop cancels everything and refuses new work.
func (w *Wheel) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for k, e := range w.entries {
		e.timer.Stop()
		delete(w.entries, k)
	}
}

type manualEntry struct {
	delay time.Duration
	fn    func()
}

// Manual never fires on its own; tests drive it with Fire.
type Manual struct {
	mu      sync.Mutex
	entries map[string]manualEntry
}

func NewManual() *Manual { return &Manual{entries: make(map[string]manualEntry)} }

func (m *Manual) Schedule(key string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = manualEntry{delay: d, fn: fn}
}

func (m *Manual) Cancel(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok
}

// Fire runs the action under key as if its delay elapsed.
func (m *Manual) Fire(key string) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if ok {
		e.fn()
	}
	return ok
}

// FirePrefix fires every pending action whose key starts with prefix, in key
// order, and returns how many ran.
func (m *Manual) FirePrefix(prefix string) int {
	n := 0
	for _, k := range m.Keys() {
		if strings.HasPrefix(k, prefix) && m.Fire(k) {
			n++
		}
	}
	return n
}

func (m *Manual) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func (m *Manual) Delay(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e.delay, ok
}

func (m *Manual) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
