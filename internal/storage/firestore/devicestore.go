package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-fcm-devices/pkg/device"
	"github.com/tinywideclouds/go-fcm-devices/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// DeviceStore implements dispatch.DeviceStore using Google Cloud Firestore.
// Devices live at users/{userURN}/devices/{sha256(token)}.
type DeviceStore struct {
	client *firestore.Client
	now    func() time.Time
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client, now: time.Now}
}

// deviceRecord is the internal DB representation.
type deviceRecord struct {
	ID        int64     `firestore:"id"`
	User      string    `firestore:"user"`
	Token     string    `firestore:"token"`
	Name      string    `firestore:"name"`
	Active    bool      `firestore:"active"`
	Type      string    `firestore:"type"`
	CreatedAt time.Time `firestore:"created_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Upsert reads and writes the device document in one transaction. The
// transaction may be retried, so created is decided on the final attempt.
func (s *DeviceStore) Upsert(ctx context.Context, user urn.URN, token string, fields device.Fields) (device.Device, bool, error) {
	docID := hashToken(token)
	ref := s.devicesCollection(user).Doc(docID)

	var (
		record  deviceRecord
		created bool
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := s.timestamp()

		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read device: %w", err)
		}

		if status.Code(err) == codes.NotFound {
			created = true
			record = deviceRecord{
				ID:        numericID(user, token),
				User:      user.String(),
				Token:     token,
				Name:      fields.Name,
				Active:    fields.Active,
				Type:      string(fields.Type),
				CreatedAt: now,
				UpdatedAt: now,
			}
			return tx.Create(ref, record)
		}

		created = false
		if err := snap.DataTo(&record); err != nil {
			return fmt.Errorf("failed to decode device: %w", err)
		}
		record.Name = fields.Name
		record.Active = fields.Active
		record.Type = string(fields.Type)
		record.UpdatedAt = nextUpdatedAt(now, record.UpdatedAt)
		return tx.Set(ref, record)
	})
	if err != nil {
		return device.Device{}, false, fmt.Errorf("firestore upsert failed: %w", err)
	}

	return toDevice(record, user), created, nil
}

// Deactivate writes only the active and updated_at fields.
func (s *DeviceStore) Deactivate(ctx context.Context, d *device.Device) error {
	ref := s.devicesCollection(d.User).Doc(hashToken(d.Token))

	var updatedAt time.Time
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var record deviceRecord
		if err := snap.DataTo(&record); err != nil {
			return fmt.Errorf("failed to decode device: %w", err)
		}

		updatedAt = nextUpdatedAt(s.timestamp(), record.UpdatedAt)
		return tx.Update(ref, []firestore.Update{
			{Path: "active", Value: false},
			{Path: "updated_at", Value: updatedAt},
		})
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("device %d: %w", d.ID, dispatch.ErrDeviceNotFound)
	}
	if err != nil {
		return fmt.Errorf("firestore deactivate failed: %w", err)
	}

	d.Active = false
	d.UpdatedAt = updatedAt
	return nil
}

func (s *DeviceStore) ListActive(ctx context.Context, user urn.URN) ([]device.Device, error) {
	iter := s.devicesCollection(user).Where("active", "==", true).Documents(ctx)
	defer iter.Stop()

	devices := make([]device.Device, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Skip corrupt rows rather than failing the whole fan-out.
			continue
		}
		devices = append(devices, toDevice(record, user))
	}
	return devices, nil
}

// --- Helpers ---

func (s *DeviceStore) devicesCollection(user urn.URN) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(user.String()).Collection("devices")
}

// timestamp is truncated to the microsecond precision Firestore stores.
func (s *DeviceStore) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func nextUpdatedAt(now, prev time.Time) time.Time {
	if floor := prev.Add(time.Microsecond); now.Before(floor) {
		return floor
	}
	return now
}

func toDevice(r deviceRecord, user urn.URN) device.Device {
	return device.Device{
		ID:        r.ID,
		Name:      r.Name,
		User:      user,
		Active:    r.Active,
		Type:      device.Platform(r.Type),
		Token:     r.Token,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

// numericID derives a stable positive int64 from the (user, token) key.
func numericID(user urn.URN, token string) int64 {
	sum := sha256.Sum256([]byte(user.String() + "\x00" + token))
	return int64(binary.BigEndian.Uint64(sum[:8]) & (1<<63 - 1))
}
