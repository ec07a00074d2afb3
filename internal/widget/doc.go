// Package widget tracks per-device widget instances and their
// data-source subscriptions.
//
// The store is the authoritative copy of widget state: devices render
// what the server holds and are assumed to forget everything across
// connections. Mutations use shallow-merge semantics (supplied keys
// overwrite, absent keys are retained), and a bidirectional subscription
// index lets data-source broadcasts fan out only to interested
// instances. After a device reconnects, ResyncAfterReconnect replays
// subscription commands so server-side push resumes without client
// involvement.
package widget
