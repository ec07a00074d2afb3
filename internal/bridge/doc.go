// Package bridge connects stateless request handlers to persistently
// connected devices.
//
// Inbound HTTP calls and SMS webhooks live for one request; the devices
// they target hold long-lived bidirectional channels. The bridge closes
// that gap with four cooperating pieces:
//
//   - Registry: device id to live channel, with a stale-unregister guard
//     so a reconnect is never torn down by its predecessor's cleanup.
//   - Correlator: request/reply matching over the channel, with
//     exactly-once settlement across reply, timeout, disconnect and
//     cancellation.
//   - DedupGuard: a TTL'd set of in-flight operation keys suppressing
//     retransmitted commands.
//   - Bridge: the facade wiring them together with the widget state
//     store, exposed to the HTTP, SMS and broker layers.
package bridge
