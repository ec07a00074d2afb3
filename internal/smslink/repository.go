package smslink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openhalo/halo-bridge/internal/infrastructure/database"
)

// timeFormat matches the strftime default used by the schema.
const timeFormat = "2006-01-02T15:04:05Z"

// Repository persists phone-to-device links and the undeliverable-SMS
// outbox. This is the only bridge state that survives a restart; the
// bridge core itself is in-memory by design.
type Repository struct {
	db *database.DB
}

// NewRepository creates a repository backed by db. The schema is managed
// by the database package's migrations.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Link associates phoneNumber with deviceID, replacing any existing
// link for that number. label is optional operator-facing text.
func (r *Repository) Link(ctx context.Context, phoneNumber, deviceID, label string) error {
	if phoneNumber == "" {
		return ErrEmptyPhoneNumber
	}
	if deviceID == "" {
		return ErrEmptyDeviceID
	}

	now := time.Now().UTC().Format(timeFormat)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO phone_links (phone_number, device_id, label, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phone_number) DO UPDATE SET
			device_id = excluded.device_id,
			label = excluded.label,
			updated_at = excluded.updated_at`,
		phoneNumber, deviceID, label, now, now,
	)
	if err != nil {
		return fmt.Errorf("linking phone number: %w", err)
	}
	return nil
}

// Unlink removes the link for phoneNumber. Removing a number that was
// never linked returns ErrNotLinked.
func (r *Repository) Unlink(ctx context.Context, phoneNumber string) error {
	if phoneNumber == "" {
		return ErrEmptyPhoneNumber
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM phone_links WHERE phone_number = ?`, phoneNumber)
	if err != nil {
		return fmt.Errorf("unlinking phone number: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlinking phone number: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotLinked, phoneNumber)
	}
	return nil
}

// Resolve returns the link for phoneNumber, or ErrNotLinked.
func (r *Repository) Resolve(ctx context.Context, phoneNumber string) (Link, error) {
	if phoneNumber == "" {
		return Link{}, ErrEmptyPhoneNumber
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT phone_number, device_id, label, created_at, updated_at
		FROM phone_links WHERE phone_number = ?`, phoneNumber)

	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, fmt.Errorf("%w: %s", ErrNotLinked, phoneNumber)
	}
	if err != nil {
		return Link{}, fmt.Errorf("resolving phone number: %w", err)
	}
	return link, nil
}

// List returns all links ordered by phone number.
func (r *Repository) List(ctx context.Context) ([]Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT phone_number, device_id, label, created_at, updated_at
		FROM phone_links ORDER BY phone_number`)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var links []Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("listing links: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	return links, nil
}

// QueuePending records an SMS that could not be delivered to its device.
func (r *Repository) QueuePending(ctx context.Context, phoneNumber, deviceID, body string) (int64, error) {
	if phoneNumber == "" {
		return 0, ErrEmptyPhoneNumber
	}
	if deviceID == "" {
		return 0, ErrEmptyDeviceID
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_sms (phone_number, device_id, body, created_at)
		VALUES (?, ?, ?, ?)`,
		phoneNumber, deviceID, body, time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("queueing pending sms: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queueing pending sms: %w", err)
	}
	return id, nil
}

// PendingForDevice returns queued messages for deviceID, oldest first.
func (r *Repository) PendingForDevice(ctx context.Context, deviceID string) ([]PendingSMS, error) {
	if deviceID == "" {
		return nil, ErrEmptyDeviceID
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, phone_number, device_id, body, created_at
		FROM pending_sms WHERE device_id = ? ORDER BY id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("loading pending sms: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only rows

	var pending []PendingSMS
	for rows.Next() {
		var p PendingSMS
		var createdAt string
		if err := rows.Scan(&p.ID, &p.PhoneNumber, &p.DeviceID, &p.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("loading pending sms: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading pending sms: %w", err)
	}
	return pending, nil
}

// DeletePending removes one queued message after an operator handled it.
func (r *Repository) DeletePending(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_sms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting pending sms: %w", err)
	}
	return nil
}

// PurgePendingBefore deletes queued messages older than cutoff and
// returns the number removed.
func (r *Repository) PurgePendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_sms WHERE created_at < ?`,
		cutoff.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("purging pending sms: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging pending sms: %w", err)
	}
	return n, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLink(s scanner) (Link, error) {
	var link Link
	var label sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&link.PhoneNumber, &link.DeviceID, &label, &createdAt, &updatedAt); err != nil {
		return Link{}, err
	}
	link.Label = label.String
	link.CreatedAt = parseTime(createdAt)
	link.UpdatedAt = parseTime(updatedAt)
	return link, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
