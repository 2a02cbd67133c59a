package storage

import (
	"context"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// RideStore persists ride documents. UpdateRide is the only write path for an
// existing ride: fn runs against a private copy inside a single atomic
// read-modify-write, and nothing is persisted when fn returns an error.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error)
	ListByStatus(ctx context.Context, statuses []models.RideStatus, limit int) ([]*models.Ride, error)
	// ListScheduledDue returns scheduled rides not yet promoted whose departure
	// is at or before cutoff.
	ListScheduledDue(ctx context.Context, cutoff time.Time) ([]*models.Ride, error)
	// ListByDriver returns rides the driver was bound to or offered, newest first.
	ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Ride, error)
}

type DriverStore interface {
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	SaveDriver(ctx context.Context, d *models.Driver) error
	UpdateDriver(ctx context.Context, id string, fn func(*models.Driver) error) (*models.Driver, error)
}

const defaultListLimit = 100

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
