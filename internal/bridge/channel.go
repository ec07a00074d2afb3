package bridge

import "encoding/json"

// Envelope is the unit of exchange on a device channel. Every message in
// both directions is one JSON envelope.
type Envelope struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Envelope types exchanged with devices.
const (
	TypeRequest = "request"
	TypeReply   = "reply"
	TypeAck     = "ack"

	// Widget commands. Devices (and the HTTP API on their behalf) use
	// these to manipulate the per-device widget state store.
	TypeWidgetCreate        = "widget:create"
	TypeWidgetRemove        = "widget:remove"
	TypeWidgetUpdateConfig  = "widget:updateConfig"
	TypeWidgetUpdatePos     = "widget:updatePosition"
	TypeWidgetSetVisibility = "widget:setVisibility"
	TypeWidgetBringToFront  = "widget:bringToFront"
	TypeWidgetSubscribe     = "widget:subscribe"
	TypeWidgetUnsubscribe   = "widget:unsubscribe"

	// Data push commands.
	TypeWidgetDataUpdate       = "widget:dataUpdate"
	TypeWidgetDataSourceUpdate = "widget:dataSourceUpdate"
	TypeWidgetConfigUpdate     = "widget:configUpdate"
	TypeGlobalStateUpdate      = "widget:globalStateUpdate"

	// TypeSpeechRequest asks the server-side synthesizer to speak. These
	// may be retransmitted by a device and are guarded by the dedup guard.
	TypeSpeechRequest = "tts:speak"
)

// Channel is the transport handle for one connected device.
//
// A Channel is owned exclusively by the connection registry entry for its
// device; other components must look it up through the registry on every
// use rather than holding their own reference, so a stale handle is never
// written to after a reconnect replaced it.
type Channel interface {
	// Send transmits one envelope to the device. Implementations buffer
	// writes and must not block indefinitely; an error means the message
	// was not accepted for delivery.
	Send(env Envelope) error
}

// Ack is the result of a widget command, returned to the issuer in place
// of the callback-style acknowledgement used by event-emitter designs.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ackOK is the successful acknowledgement.
func ackOK() Ack {
	return Ack{Success: true}
}

// ackErr builds a failed acknowledgement from an error.
func ackErr(err error) Ack {
	return Ack{Success: false, Error: err.Error()}
}
