// Package logging provides the structured logger used throughout Halo Bridge.
//
// It is a thin wrapper over log/slog that applies configuration-driven
// level filtering, output format selection, and service-wide default
// fields (service name, version).
//
// Domain packages do not import this package directly; they declare a
// small local Logger interface and accept anything that satisfies it,
// which *logging.Logger does.
package logging
