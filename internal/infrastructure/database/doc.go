// Package database provides the SQLite connection used by Halo Bridge
// collaborators.
//
// The bridge core is intentionally ephemeral: pending requests, connection
// state and widget state live in memory and are lost on restart. Only
// collaborator state that must survive restarts (phone-number links, the
// SMS outbox) is stored here, in a single-writer SQLite database with
// embedded migrations.
//
// Migrations are .sql files embedded via the migrations package and
// applied in version order, each in its own transaction.
package database
