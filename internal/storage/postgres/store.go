// Package postgres implements dispatch.DeviceStore on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT        NOT NULL,
	token      TEXT        NOT NULL,
	name       TEXT        NOT NULL DEFAULT '',
	active     BOOLEAN     NOT NULL DEFAULT TRUE,
	type       VARCHAR(20) NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp(),
	UNIQUE (user_id, token)
);
CREATE INDEX IF NOT EXISTS idx_devices_user_active ON devices (user_id) WHERE active;
`

// xmax is zero only for a row version this statement inserted, which tells
// the single caller that won the insert apart from every overwrite.
const upsertQuery = `
INSERT INTO devices (user_id, token, name, active, type)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, token) DO UPDATE SET
	name       = EXCLUDED.name,
	active     = EXCLUDED.active,
	type       = EXCLUDED.type,
	updated_at = GREATEST(clock_timestamp(), devices.updated_at + interval '1 microsecond')
RETURNING id, user_id, token, name, active, type, created_at, updated_at, (xmax = 0) AS created`

const deactivateQuery = `
UPDATE devices
SET active = FALSE,
	updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
WHERE id = $1
RETURNING updated_at`

const listActiveQuery = `
SELECT id, user_id, token, name, active, type, created_at, updated_at
FROM devices
WHERE user_id = $1 AND active
ORDER BY id`

// Store is a PostgreSQL-backed DeviceStore.
type Store struct {
	pool *pgxpool.Pool
}

// Open builds a pool from dsn, verifies it and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 5 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Upsert(ctx context.Context, user urn.URN, token string, fields device.Fields) (device.Device, bool, error) {
	var (
		d       device.Device
		userID  string
		kind    string
		created bool
	)
	err := s.pool.QueryRow(ctx, upsertQuery,
		user.String(), token, fields.Name, fields.Active, string(fields.Type),
	).Scan(&d.ID, &userID, &d.Token, &d.Name, &d.Active, &kind, &d.CreatedAt, &d.UpdatedAt, &created)
	if err != nil {
		return device.Device{}, false, fmt.Errorf("failed to upsert device: %w", err)
	}

	d.User = user
	d.Type = device.Platform(kind)
	return d, created, nil
}

func (s *Store) Deactivate(ctx context.Context, d *device.Device) error {
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, deactivateQuery, d.ID).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("device %d: %w", d.ID, dispatch.ErrDeviceNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to deactivate device %d: %w", d.ID, err)
	}

	d.Active = false
	d.UpdatedAt = updatedAt
	return nil
}

func (s *Store) ListActive(ctx context.Context, user urn.URN) ([]device.Device, error) {
	rows, err := s.pool.Query(ctx, listActiveQuery, user.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]device.Device, 0)
	for rows.Next() {
		var (
			d      device.Device
			userID string
			kind   string
		)
		if err := rows.Scan(&d.ID, &userID, &d.Token, &d.Name, &d.Active, &kind, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.User = user
		d.Type = device.Platform(kind)
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}
