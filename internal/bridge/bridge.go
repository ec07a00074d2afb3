package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openhalo/halo-bridge/internal/widget"
)

// Speaker performs speech synthesis on behalf of connected devices.
// Implementations are expected to be slow (seconds); the bridge guards
// them against duplicate triggering but does not queue.
type Speaker interface {
	Speak(ctx context.Context, deviceID, text string) error
}

// Options configures a Bridge.
type Options struct {
	// RequestTimeout is the default deadline for device requests.
	RequestTimeout time.Duration

	// DedupWindow is how long an operation key suppresses duplicates.
	DedupWindow time.Duration

	// MaxPendingPerDevice caps outstanding requests per device.
	// Zero means unlimited.
	MaxPendingPerDevice int

	Logger Logger
}

// Bridge is the composition point between stateless callers (HTTP
// handlers, the SMS webhook, broker subscriptions) and persistently
// connected devices.
//
// It owns the connection registry, the request correlator, the duplicate
// guard and the widget state store, and wires their lifecycle hooks
// together: a disconnect fast-fails the device's pending requests, a
// reconnect replays widget subscriptions.
type Bridge struct {
	registry   *Registry
	correlator *Correlator
	dedup      *DedupGuard
	widgets    *widget.Store

	speaker Speaker
	logger  Logger
}

// New assembles a bridge from opts.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	registry := NewRegistry()
	registry.SetLogger(logger)

	correlator := NewCorrelator(registry, opts.RequestTimeout, opts.MaxPendingPerDevice)
	correlator.SetLogger(logger)
	registry.AddListener(correlator)

	widgets := widget.NewStore()
	widgets.SetLogger(logger)

	b := &Bridge{
		registry:   registry,
		correlator: correlator,
		dedup:      NewDedupGuard(opts.DedupWindow),
		widgets:    widgets,
		logger:     logger,
	}
	widgets.SetSender(b)
	return b
}

// Registry exposes the connection registry for transports and the
// devices API.
func (b *Bridge) Registry() *Registry { return b.registry }

// Widgets exposes the widget state store for the HTTP widget API.
func (b *Bridge) Widgets() *widget.Store { return b.widgets }

// SetSpeaker installs the speech synthesizer. Without one, speech
// requests are acknowledged with an error.
func (b *Bridge) SetSpeaker(s Speaker) { b.speaker = s }

// SetObserver installs the request telemetry observer.
func (b *Bridge) SetObserver(obs RequestObserver) {
	b.correlator.SetObserver(obs)
}

// Connect registers a device channel. When widget state already exists
// for the device this is a reconnect, and the stored subscriptions are
// replayed so the device's server-side push resumes.
func (b *Bridge) Connect(deviceID string, ch Channel, userAgent string) {
	reconnect := b.widgets.HasDevice(deviceID)
	b.registry.Register(deviceID, ch, userAgent)
	if reconnect {
		b.widgets.ResyncAfterReconnect(deviceID)
	}
}

// Disconnect removes the device channel. The registry ignores the call
// when ch is no longer the registered channel, so a slow teardown never
// disturbs a newer connection. Widget state is retained for the next
// reconnect.
func (b *Bridge) Disconnect(deviceID string, ch Channel) {
	b.registry.Unregister(deviceID, ch)
}

// Touch records inbound activity from the device.
func (b *Bridge) Touch(deviceID string) {
	b.registry.Touch(deviceID)
}

// SendRequest transmits payload to deviceID and blocks until the reply
// arrives, the timeout elapses, the device disconnects or ctx is done.
// A zero timeout uses the bridge default.
func (b *Bridge) SendRequest(ctx context.Context, deviceID string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	call, err := b.correlator.Send(deviceID, payload, timeout)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// HandleReply resolves a pending request with the device's reply.
// Replies for unknown request ids are dropped; the device may be
// answering a request that already timed out or belonged to a previous
// server process.
func (b *Bridge) HandleReply(env Envelope) {
	b.correlator.Complete(env.ID, env.Payload)
}

// PushDataSource delivers an external data-source update to every widget
// subscribed to it, and forwards the update to the owning devices.
// Returns the number of widget instances updated.
func (b *Bridge) PushDataSource(dataSourceKey string, update json.RawMessage) int {
	var decoded any
	if len(update) > 0 {
		if err := json.Unmarshal(update, &decoded); err != nil {
			b.logger.Warn("discarding malformed data source update",
				"data_source", dataSourceKey,
				"error", err,
			)
			return 0
		}
	}

	devices, n := b.widgets.OnDataSourceBroadcast(dataSourceKey, decoded)
	if n == 0 {
		return 0
	}

	payload, err := json.Marshal(map[string]any{
		"data_source": dataSourceKey,
		"update":      decoded,
	})
	if err != nil {
		return n
	}
	// Only devices owning a subscribed instance hear about the update;
	// disconnected ones catch up through the reconnect resync.
	for _, deviceID := range devices {
		b.sendToDevice(deviceID, Envelope{
			Type:     TypeWidgetDataSourceUpdate,
			DeviceID: deviceID,
			Payload:  payload,
		})
	}
	return n
}

// SendWidgetCommand implements widget.CommandSender: it wraps a widget
// command in an envelope and transmits it over the device's live
// channel.
func (b *Bridge) SendWidgetCommand(deviceID, commandType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", commandType, err)
	}
	return b.sendToDevice(deviceID, Envelope{
		Type:     commandType,
		DeviceID: deviceID,
		Payload:  raw,
	})
}

// HandleEnvelope processes one inbound envelope from deviceID and
// returns the acknowledgement to transmit back. Replies settle their
// pending request and are not acknowledged.
func (b *Bridge) HandleEnvelope(ctx context.Context, deviceID string, env Envelope) (Ack, bool) {
	b.registry.Touch(deviceID)

	switch env.Type {
	case TypeReply:
		b.HandleReply(env)
		return Ack{}, false

	case TypeAck:
		return Ack{}, false

	case TypeSpeechRequest:
		return b.handleSpeech(ctx, deviceID, env), true

	case TypeWidgetCreate,
		TypeWidgetRemove,
		TypeWidgetUpdateConfig,
		TypeWidgetUpdatePos,
		TypeWidgetSetVisibility,
		TypeWidgetBringToFront,
		TypeWidgetSubscribe,
		TypeWidgetUnsubscribe,
		TypeWidgetDataUpdate,
		TypeWidgetDataSourceUpdate,
		TypeWidgetConfigUpdate,
		TypeGlobalStateUpdate:
		if err := b.handleWidgetCommand(deviceID, env); err != nil {
			return ackErr(err), true
		}
		return ackOK(), true

	default:
		b.logger.Warn("unknown envelope type",
			"device_id", deviceID,
			"type", env.Type,
		)
		return ackErr(fmt.Errorf("unknown envelope type %q", env.Type)), true
	}
}

// widgetCommand is the decoded payload shared by all widget commands.
// Each command reads the fields it needs.
type widgetCommand struct {
	InstanceID string         `json:"instance_id"`
	Config     map[string]any `json:"config"`
	Data       map[string]any `json:"data"`
	State      map[string]any `json:"state"`
	DataSource string         `json:"data_source"`
	Update     any            `json:"update"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Visible    bool           `json:"visible"`
}

func (b *Bridge) handleWidgetCommand(deviceID string, env Envelope) error {
	var cmd widgetCommand
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}

	switch env.Type {
	case TypeWidgetCreate:
		return b.widgets.CreateInstance(deviceID, cmd.InstanceID, cmd.Config)
	case TypeWidgetRemove:
		return b.widgets.RemoveInstance(cmd.InstanceID)
	case TypeWidgetUpdateConfig:
		return b.widgets.UpdateConfig(cmd.InstanceID, cmd.Config)
	case TypeWidgetUpdatePos:
		return b.widgets.UpdatePosition(cmd.InstanceID, cmd.X, cmd.Y)
	case TypeWidgetSetVisibility:
		return b.widgets.SetVisibility(cmd.InstanceID, cmd.Visible)
	case TypeWidgetBringToFront:
		return b.widgets.BringToFront(cmd.InstanceID)
	case TypeWidgetSubscribe:
		return b.widgets.Subscribe(cmd.InstanceID, cmd.DataSource)
	case TypeWidgetUnsubscribe:
		return b.widgets.Unsubscribe(cmd.InstanceID, cmd.DataSource)
	case TypeWidgetDataUpdate:
		return b.widgets.UpdateData(cmd.InstanceID, cmd.Data)
	case TypeWidgetConfigUpdate:
		return b.widgets.UpdateConfig(cmd.InstanceID, cmd.Config)
	case TypeWidgetDataSourceUpdate:
		b.widgets.OnDataSourceBroadcast(cmd.DataSource, cmd.Update)
		return nil
	case TypeGlobalStateUpdate:
		b.widgets.SetGlobalState(cmd.State)
		return nil
	default:
		return fmt.Errorf("unhandled widget command %q", env.Type)
	}
}

// speechPayload is the body of a speech request.
type speechPayload struct {
	Text string `json:"text"`
}

// handleSpeech runs the synthesizer for one speech request, suppressing
// retransmissions of the same envelope id for the dedup window.
func (b *Bridge) handleSpeech(ctx context.Context, deviceID string, env Envelope) Ack {
	key := "tts-" + env.ID
	if !b.dedup.TryAcquire(key) {
		b.logger.Debug("duplicate speech request suppressed",
			"device_id", deviceID,
			"request_id", env.ID,
		)
		return ackOK()
	}
	defer b.dedup.Release(key)

	if b.speaker == nil {
		return ackErr(fmt.Errorf("speech synthesis not configured"))
	}

	var p speechPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return ackErr(fmt.Errorf("decode speech payload: %w", err))
	}
	if p.Text == "" {
		return ackErr(fmt.Errorf("speech request has empty text"))
	}

	if err := b.speaker.Speak(ctx, deviceID, p.Text); err != nil {
		b.logger.Error("speech synthesis failed",
			"device_id", deviceID,
			"request_id", env.ID,
			"error", err,
		)
		return ackErr(err)
	}
	return ackOK()
}

// sendToDevice looks up the live channel and transmits env. The lookup
// happens per send so a reconnect is picked up immediately.
func (b *Bridge) sendToDevice(deviceID string, env Envelope) error {
	ch, ok := b.registry.Get(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, deviceID)
	}
	if err := ch.Send(env); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Stats is a point-in-time snapshot of bridge internals, reported by the
// health endpoint.
type Stats struct {
	ConnectedDevices int `json:"connected_devices"`
	PendingRequests  int `json:"pending_requests"`
	WidgetInstances  int `json:"widget_instances"`
	InflightOps      int `json:"inflight_ops"`
}

// Stats returns current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		ConnectedDevices: b.registry.Count(),
		PendingRequests:  b.correlator.PendingCount(),
		WidgetInstances:  b.widgets.InstanceCount(),
		InflightOps:      b.dedup.Len(),
	}
}

// Close releases timers held by the duplicate guard. Pending requests
// are not failed; callers should drain or time out first.
func (b *Bridge) Close() {
	b.dedup.Close()
}
