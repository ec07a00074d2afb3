package widget

import "errors"

// Domain errors for the widget package.
var (
	// ErrDuplicateInstance is returned when creating a widget instance
	// with an id that already exists.
	ErrDuplicateInstance = errors.New("widget: duplicate instance")

	// ErrUnknownInstance is returned when a mutation references a
	// removed or never-created instance. This is a recoverable warning:
	// the operation is dropped, nothing else happens.
	ErrUnknownInstance = errors.New("widget: unknown instance")
)
