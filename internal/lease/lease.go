// Package lease provides short-lived, atomically created keys used as
// distributed mutexes and "offer outstanding" markers.
package lease

import (
	"context"
	"sync"
	"time"
)

// Store is the shared lease primitive. Acquire must be a single atomic
// create-if-absent with expiry; callers never read-then-write.
type Store interface {
	Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	// Release deletes key only while it still holds value.
	Release(ctx context.Context, key, value string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

func RequestKey(rideID, driverID string) string {
	return "request-lease:" + rideID + ":" + driverID
}

func ActiveRequestKey(rideID string) string { return "active-request:" + rideID }

// DriverPendingKey holds the ride a driver currently has an offer for.
func DriverPendingKey(driverID string) string { return "driver-pending:" + driverID }

// RideLockKey guards the bind step of a ride.
func RideLockKey(rideID string) string { return "ride-lock:" + rideID }

type entry struct {
	value   string
	expires time.Time
}

// MemoryStore is a process-local Store. It gives the same atomicity within
// one process and is what single-node deployments and tests run on.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore { return NewMemoryStoreWithClock(time.Now) }

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry), now: now}
}

func (m *MemoryStore) live(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

func (m *MemoryStore) Acquire(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = entry{value: value, expires: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expires: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.value, ok, nil
}

func (m *MemoryStore) Release(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}
