package smslink

import "errors"

// Domain errors for the smslink package.
var (
	// ErrNotLinked is returned when no device is linked to a phone number.
	ErrNotLinked = errors.New("smslink: phone number not linked")

	// ErrEmptyPhoneNumber is returned when an operation is attempted with
	// an empty phone number.
	ErrEmptyPhoneNumber = errors.New("smslink: phone number cannot be empty")

	// ErrEmptyDeviceID is returned when a link is created without a device.
	ErrEmptyDeviceID = errors.New("smslink: device id cannot be empty")
)
