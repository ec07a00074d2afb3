// Package smslink maps phone numbers to devices for the SMS gateway.
//
// An inbound text is only actionable if its sender is linked to a
// device; the repository stores those links in SQLite along with an
// outbox of messages that arrived while their device was away. Links
// survive restarts — the rest of the bridge deliberately does not.
package smslink
