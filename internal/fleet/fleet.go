// Package fleet tracks per-driver availability and the ride a driver is
// currently bound to.
package fleet

import (
	"context"
	"sync"
)

type Status struct {
	Known       bool   `json:"known"`
	Available   bool   `json:"available"`
	CurrentRide string `json:"current_ride,omitempty"`
}

type Store interface {
	Get(ctx context.Context, driverID string) (Status, error)
	// MarkAvailableIfUnset creates an available state only when none exists.
	MarkAvailableIfUnset(ctx context.Context, driverID string) error
	Bind(ctx context.Context, driverID, rideID string) error
	// Release frees the driver if they are bound to rideID or to nothing.
	Release(ctx context.Context, driverID, rideID string) error
	// Clear drops the state of an unbound driver; bound drivers keep it.
	Clear(ctx context.Context, driverID string) (bool, error)
}

type MemoryStore struct {
	mu     sync.Mutex
	states map[string]Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]Status)}
}

func (m *MemoryStore) Get(_ context.Context, driverID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[driverID], nil
}

func (m *MemoryStore) MarkAvailableIfUnset(_ context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[driverID]; !ok {
		m.states[driverID] = Status{Known: true, Available: true}
	}
	return nil
}

func (m *MemoryStore) Bind(_ context.Context, driverID, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[driverID] = Status{Known: true, Available: false, CurrentRide: rideID}
	return nil
}

func (m *MemoryStore) Release(_ context.Context, driverID, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[driverID]
	if st.CurrentRide != "" && st.CurrentRide != rideID {
		return nil
	}
	m.states[driverID] = Status{Known: true, Available: true}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, driverID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states[driverID].CurrentRide != "" {
		return false, nil
	}
	delete(m.states, driverID)
	return true, nil
}
