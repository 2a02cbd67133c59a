package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore keeps each ride as a JSONB document next to the columns the
// dispatch core queries on (status, scheduling, driver).
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresStoreFromDB(db), nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema files in name order.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO rides(id, rider_id, driver_id, status, scheduled_at, search_started, created_at, updated_at, doc) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.RiderID, nullString(r.DriverID), string(r.Status), nullTime(r.ScheduledAt), r.SearchStarted, r.CreatedAt, r.UpdatedAt, doc)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: ride %s already exists", models.ErrBadRequest, r.ID)
	}
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM rides WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRide(doc)
}

// UpdateRide locks the row for the duration of fn so concurrent writers on
// any process serialize on the database.
func (p *PostgresStore) UpdateRide(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM rides WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ride %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r, err := decodeRide(doc)
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = p.now()
	}
	next, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE rides SET driver_id=$2, status=$3, scheduled_at=$4, search_started=$5, updated_at=$6, doc=$7 WHERE id=$1`,
		id, nullString(r.DriverID), string(r.Status), nullTime(r.ScheduledAt), r.SearchStarted, r.UpdatedAt, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, statuses []models.RideStatus, limit int) ([]*models.Ride, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	return p.queryRides(ctx, `SELECT doc FROM rides WHERE status = ANY($1) ORDER BY created_at DESC LIMIT $2`, pq.Array(names), clampLimit(limit))
}

func (p *PostgresStore) ListScheduledDue(ctx context.Context, cutoff time.Time) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT doc FROM rides WHERE status = 'scheduled' AND NOT search_started AND scheduled_at <= $1 ORDER BY scheduled_at`, cutoff)
}

func (p *PostgresStore) ListByDriver(ctx context.Context, driverID string, limit int) ([]*models.Ride, error) {
	probe, err := json.Marshal([]map[string]string{{"driver_id": driverID}})
	if err != nil {
		return nil, err
	}
	return p.queryRides(ctx, `SELECT doc FROM rides WHERE driver_id = $1 OR doc -> 'driver_responses' @> $2::jsonb ORDER BY created_at DESC LIMIT $3`,
		driverID, string(probe), clampLimit(limit))
}

func (p *PostgresStore) queryRides(ctx context.Context, query string, args ...any) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Ride, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		r, err := decodeRide(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeRide(doc []byte) (*models.Ride, error) {
	var r models.Ride
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode ride: %w", err)
	}
	return &r, nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM drivers WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeDriver(doc)
}

func (p *PostgresStore) SaveDriver(ctx context.Context, d *models.Driver) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO drivers(id, updated_at, doc) VALUES($1,$2,$3) ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc`,
		d.ID, p.now(), doc)
	return err
}

func (p *PostgresStore) UpdateDriver(ctx context.Context, id string, fn func(*models.Driver) error) (*models.Driver, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM drivers WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	d, err := decodeDriver(doc)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	next, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE drivers SET updated_at=$2, doc=$3 WHERE id=$1`, id, p.now(), next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeDriver(doc []byte) (*models.Driver, error) {
	var d models.Driver
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("decode driver: %w", err)
	}
	return &d, nil
}
