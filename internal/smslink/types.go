package smslink

import "time"

// Link maps one phone number to the device that answers its messages.
type Link struct {
	PhoneNumber string    `json:"phone_number"`
	DeviceID    string    `json:"device_id"`
	Label       string    `json:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PendingSMS is an inbound message that could not be delivered because
// the target device was away. Kept so an operator can review what was
// missed; the bridge does not replay these automatically.
type PendingSMS struct {
	ID          int64     `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	DeviceID    string    `json:"device_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}
