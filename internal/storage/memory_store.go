package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore implements RideStore and DriverStore for single-process runs
// and tests. It hands out clones only.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]*models.Ride
	drivers map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride), drivers: make(map[string]*models.Driver)}
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("%w: ride %s already exists", models.ErrBadRequest, r.ID)
	}
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return nil, fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.rides[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, statuses []models.RideStatus, limit int) ([]*models.Ride, error) {
	want := make(map[models.RideStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	return m.list(limit, func(r *models.Ride) bool { return want[r.Status] }, newestFirst), nil
}

func (m *MemoryStore) ListScheduledDue(_ context.Context, cutoff time.Time) ([]*models.Ride, error) {
	return m.list(0, func(r *models.Ride) bool {
		return r.Status == models.StatusScheduled && !r.SearchStarted && r.ScheduledAt != nil && !r.ScheduledAt.After(cutoff)
	}, func(a, b *models.Ride) bool { return a.ScheduledAt.Before(*b.ScheduledAt) }), nil
}

func (m *MemoryStore) ListByDriver(_ context.Context, driverID string, limit int) ([]*models.Ride, error) {
	return m.list(limit, func(r *models.Ride) bool {
		if r.DriverID == driverID {
			return true
		}
		for _, resp := range r.Responses {
			if resp.DriverID == driverID {
				return true
			}
		}
		return false
	}, newestFirst), nil
}

func newestFirst(a, b *models.Ride) bool { return a.CreatedAt.After(b.CreatedAt) }

func (m *MemoryStore) list(limit int, keep func(*models.Ride) bool, less func(a, b *models.Ride) bool) []*models.Ride {
	m.mu.RLock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > clampLimit(limit) {
		out = out[:clampLimit(limit)]
	}
	return out
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateDriver(_ context.Context, id string, fn func(*models.Driver) error) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
	}
	next := *cur
	if err := fn(&next); err != nil {
		return nil, err
	}
	m.drivers[id] = &next
	out := next
	return &out, nil
}
