package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestObserver is notified when a pending request settles. outcome is
// one of "ok", "timeout", "device_unavailable" or "cancelled". Used for
// telemetry; may be nil.
type RequestObserver func(deviceID, outcome string, elapsed time.Duration)

// callResult carries the settled outcome into PendingCall.Wait.
type callResult struct {
	reply json.RawMessage
	err   error
}

// PendingCall is the caller's handle on an outstanding device request.
// It settles exactly once: with the first accepted reply, with ErrTimeout
// at the deadline, or with ErrDeviceUnavailable when the device drops.
type PendingCall struct {
	requestID string
	deviceID  string
	c         *Correlator
	done      chan callResult
}

// RequestID returns the identifier embedded in the transmitted payload.
// The device echoes it back in its reply.
func (p *PendingCall) RequestID() string {
	return p.requestID
}

// Wait blocks until the call settles or ctx is done. A context
// cancellation withdraws the pending entry; a reply arriving afterwards
// is dropped as stale.
func (p *PendingCall) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-p.done:
		return res.reply, res.err
	case <-ctx.Done():
		p.c.Cancel(p.requestID)
		// A reply may have won the race against the cancellation.
		select {
		case res := <-p.done:
			return res.reply, res.err
		default:
			return nil, ctx.Err()
		}
	}
}

// pendingEntry is the correlator's record of one outstanding request.
type pendingEntry struct {
	call      *PendingCall
	deviceID  string
	createdAt time.Time
	timer     *time.Timer
}

// Correlator matches asynchronous device replies back to the requests
// that caused them, turning the device's out-of-band reply stream into
// per-call completions for synchronous callers.
//
// For a single request id, resolution is exactly once: the first of
// {reply, deadline, disconnect, cancel} wins and later events for the
// same id are silently dropped. Across different ids there is no
// ordering guarantee; devices answer at their own pace.
//
// All public methods are thread-safe.
type Correlator struct {
	registry       *Registry
	defaultTimeout time.Duration
	maxPerDevice   int

	mu      sync.Mutex
	pending map[string]*pendingEntry

	observer RequestObserver
	logger   Logger
}

// NewCorrelator creates a correlator that locates device channels through
// registry. defaultTimeout applies when Send is called with a zero
// timeout; maxPerDevice caps outstanding requests per device (0 means
// unlimited).
func NewCorrelator(registry *Registry, defaultTimeout time.Duration, maxPerDevice int) *Correlator {
	return &Correlator{
		registry:       registry,
		defaultTimeout: defaultTimeout,
		maxPerDevice:   maxPerDevice,
		pending:        make(map[string]*pendingEntry),
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the correlator.
func (c *Correlator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetObserver sets the telemetry observer invoked on every settlement.
func (c *Correlator) SetObserver(obs RequestObserver) {
	c.observer = obs
}

// Send transmits payload to deviceID and returns a handle that settles
// with the device's reply.
//
// When the device has no live channel the call fails immediately with
// ErrDeviceUnavailable and no timer is started. Transmission itself is
// fire-and-forget: a successful Send means the request was accepted for
// delivery, not that the device received it.
func (c *Correlator) Send(deviceID string, payload json.RawMessage, timeout time.Duration) (*PendingCall, error) {
	ch, ok := c.registry.Get(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, deviceID)
	}

	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	requestID := uuid.NewString()
	call := &PendingCall{
		requestID: requestID,
		deviceID:  deviceID,
		c:         c,
		done:      make(chan callResult, 1),
	}

	c.mu.Lock()
	if c.maxPerDevice > 0 && c.countForDeviceLocked(deviceID) >= c.maxPerDevice {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTooManyPending, deviceID)
	}
	entry := &pendingEntry{
		call:      call,
		deviceID:  deviceID,
		createdAt: time.Now(),
	}
	entry.timer = time.AfterFunc(timeout, func() {
		c.expire(requestID)
	})
	c.pending[requestID] = entry
	c.mu.Unlock()

	env := Envelope{
		Type:     TypeRequest,
		ID:       requestID,
		DeviceID: deviceID,
		Payload:  payload,
	}
	if err := ch.Send(env); err != nil {
		// The channel refused the write; withdraw the entry so the slot
		// is not occupied for the full timeout.
		c.settle(requestID, nil, ErrDeviceUnavailable, "device_unavailable")
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	c.logger.Debug("request sent",
		"device_id", deviceID,
		"request_id", requestID,
		"timeout", timeout,
	)
	return call, nil
}

// Complete resolves the pending request identified by requestID with
// reply. Returns false when no such entry exists (already resolved,
// expired, cancelled or never known); such late replies are dropped
// without error, which is the intended behaviour for an at-most-once
// channel.
func (c *Correlator) Complete(requestID string, reply json.RawMessage) bool {
	if c.settle(requestID, reply, nil, "ok") {
		return true
	}
	c.logger.Debug("stale reply dropped", "request_id", requestID)
	return false
}

// Cancel withdraws a still-pending request. No cancellation signal is
// sent to the device; its eventual reply, if any, is dropped as stale.
func (c *Correlator) Cancel(requestID string) {
	c.settle(requestID, nil, context.Canceled, "cancelled")
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// DeviceConnected implements ConnectionListener. Nothing to do: a
// reconnect does not revive requests that failed while the device was
// away.
func (c *Correlator) DeviceConnected(string) {}

// DeviceDisconnected implements ConnectionListener. Outstanding requests
// for the device fail immediately with ErrDeviceUnavailable instead of
// waiting out their full timeout.
func (c *Correlator) DeviceDisconnected(deviceID string) {
	c.mu.Lock()
	var ids []string
	for id, e := range c.pending {
		if e.deviceID == deviceID {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.settle(id, nil, ErrDeviceUnavailable, "device_unavailable")
	}
	if len(ids) > 0 {
		c.logger.Info("failed pending requests after disconnect",
			"device_id", deviceID,
			"count", len(ids),
		)
	}
}

// expire times out a single request at its deadline.
func (c *Correlator) expire(requestID string) {
	if c.settle(requestID, nil, ErrTimeout, "timeout") {
		c.logger.Debug("request timed out", "request_id", requestID)
	}
}

// settle removes the entry for requestID and delivers the outcome to the
// waiter. Exactly one settle succeeds per request id; the map removal
// under the lock is the tie-break. Returns false when the entry was
// already gone.
func (c *Correlator) settle(requestID string, reply json.RawMessage, err error, outcome string) bool {
	c.mu.Lock()
	entry, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, requestID)
	c.mu.Unlock()

	entry.timer.Stop()
	entry.call.done <- callResult{reply: reply, err: err}

	if c.observer != nil {
		c.observer(entry.deviceID, outcome, time.Since(entry.createdAt))
	}
	return true
}

// countForDeviceLocked counts pending entries for a device.
// Caller must hold c.mu.
func (c *Correlator) countForDeviceLocked(deviceID string) int {
	n := 0
	for _, e := range c.pending {
		if e.deviceID == deviceID {
			n++
		}
	}
	return n
}
