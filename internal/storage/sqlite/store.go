// Package sqlite implements dispatch.DeviceStore on a local SQLite file.
// It is the default store for development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

const (
	dirPermissions    = 0750
	busyTimeoutMillis = 5000
	connectionTimeout = 5 * time.Second
)

// Timestamps are stored as unix microseconds so comparisons and the
// strictly increasing updated_at rule stay in integer arithmetic.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT    NOT NULL,
	token      TEXT    NOT NULL,
	name       TEXT    NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1,
	type       TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (user_id, token)
);
CREATE INDEX IF NOT EXISTS idx_devices_user_active ON devices (user_id, active);
`

const selectColumns = `id, user_id, token, name, active, type, created_at, updated_at`

// Store is a SQLite-backed DeviceStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeoutMillis)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serialises writers, which makes each upsert
	// transaction atomic with respect to every other.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Upsert inserts the (user, token) row or overwrites its fields inside one
// transaction. The INSERT ... DO NOTHING decides which caller created it.
func (s *Store) Upsert(ctx context.Context, user urn.URN, token string, fields device.Fields) (device.Device, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return device.Device{}, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixMicro()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO devices (user_id, token, name, active, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, token) DO NOTHING`,
		user.String(), token, fields.Name, fields.Active, string(fields.Type), now, now)
	if err != nil {
		return device.Device{}, false, fmt.Errorf("inserting device: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return device.Device{}, false, fmt.Errorf("reading insert result: %w", err)
	}
	created := inserted == 1

	if !created {
		_, err = tx.ExecContext(ctx, `
			UPDATE devices
			SET name = ?, active = ?, type = ?, updated_at = MAX(?, updated_at + 1)
			WHERE user_id = ? AND token = ?`,
			fields.Name, fields.Active, string(fields.Type), now, user.String(), token)
		if err != nil {
			return device.Device{}, false, fmt.Errorf("updating device: %w", err)
		}
	}

	d, err := scanDevice(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM devices WHERE user_id = ? AND token = ?`,
		user.String(), token))
	if err != nil {
		return device.Device{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return device.Device{}, false, fmt.Errorf("committing transaction: %w", err)
	}
	return d, created, nil
}

// Deactivate writes only active and updated_at.
func (s *Store) Deactivate(ctx context.Context, d *device.Device) error {
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE devices
		SET active = 0, updated_at = MAX(?, updated_at + 1)
		WHERE id = ?
		RETURNING updated_at`,
		s.now().UnixMicro(), d.ID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("device %d: %w", d.ID, dispatch.ErrDeviceNotFound)
	}
	if err != nil {
		return fmt.Errorf("deactivating device %d: %w", d.ID, err)
	}

	d.Active = false
	d.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return nil
}

func (s *Store) ListActive(ctx context.Context, user urn.URN) ([]device.Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM devices WHERE user_id = ? AND active = 1 ORDER BY id`,
		user.String())
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	devices := make([]device.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (device.Device, error) {
	var (
		d                    device.Device
		userID, platform     string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&d.ID, &userID, &d.Token, &d.Name, &d.Active, &platform, &createdAt, &updatedAt); err != nil {
		return device.Device{}, fmt.Errorf("scanning device: %w", err)
	}

	user, err := urn.Parse(userID)
	if err != nil {
		return device.Device{}, fmt.Errorf("device %d has invalid user %q: %w", d.ID, userID, err)
	}
	d.User = user
	d.Type = device.Platform(platform)
	d.CreatedAt = time.UnixMicro(createdAt).UTC()
	d.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return d, nil
}
