package bridge

import (
	"errors"
	"sync"
	"testing"
)

// fakeChannel records envelopes sent through it.
type fakeChannel struct {
	mu        sync.Mutex
	envelopes []Envelope
	failSend  bool
}

func (c *fakeChannel) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("write on closed connection")
	}
	c.envelopes = append(c.envelopes, env)
	return nil
}

func (c *fakeChannel) sent() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.envelopes))
	copy(out, c.envelopes)
	return out
}

// recordingListener counts lifecycle notifications.
type recordingListener struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (l *recordingListener) DeviceConnected(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, deviceID)
}

func (l *recordingListener) DeviceDisconnected(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = append(l.disconnected, deviceID)
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{}

	r.Register("panel-1", ch, "halo-panel/2.1")

	got, ok := r.Get("panel-1")
	if !ok {
		t.Fatal("Get returned false for registered device")
	}
	if got != Channel(ch) {
		t.Error("Get returned a different channel")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
}

func TestGetUnknownDevice(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nope"); ok {
		t.Error("Get returned true for unknown device")
	}
}

func TestReconnectReplacesChannel(t *testing.T) {
	r := NewRegistry()
	old := &fakeChannel{}
	fresh := &fakeChannel{}

	r.Register("panel-1", old, "")
	r.Register("panel-1", fresh, "")

	got, _ := r.Get("panel-1")
	if got != Channel(fresh) {
		t.Error("reconnect did not replace the channel")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d after reconnect, want 1", r.Count())
	}
}

func TestStaleUnregisterIgnored(t *testing.T) {
	r := NewRegistry()
	old := &fakeChannel{}
	fresh := &fakeChannel{}

	r.Register("panel-1", old, "")
	r.Register("panel-1", fresh, "")

	// The old connection's teardown runs after the replacement.
	if removed := r.Unregister("panel-1", old); removed {
		t.Error("stale unregister removed the new session")
	}
	if _, ok := r.Get("panel-1"); !ok {
		t.Fatal("new session gone after stale unregister")
	}

	// The current channel's teardown does remove it.
	if removed := r.Unregister("panel-1", fresh); !removed {
		t.Error("current unregister reported no removal")
	}
	if _, ok := r.Get("panel-1"); ok {
		t.Error("session still present after unregister")
	}
}

func TestListenersNotified(t *testing.T) {
	r := NewRegistry()
	l := &recordingListener{}
	r.AddListener(l)

	ch := &fakeChannel{}
	r.Register("panel-1", ch, "")
	r.Unregister("panel-1", ch)

	if len(l.connected) != 1 || l.connected[0] != "panel-1" {
		t.Errorf("connected = %v", l.connected)
	}
	if len(l.disconnected) != 1 || l.disconnected[0] != "panel-1" {
		t.Errorf("disconnected = %v", l.disconnected)
	}
}

func TestStaleUnregisterDoesNotNotify(t *testing.T) {
	r := NewRegistry()
	l := &recordingListener{}
	r.AddListener(l)

	old := &fakeChannel{}
	fresh := &fakeChannel{}
	r.Register("panel-1", old, "")
	r.Register("panel-1", fresh, "")
	r.Unregister("panel-1", old)

	if len(l.disconnected) != 0 {
		t.Errorf("stale unregister fired disconnect notifications: %v", l.disconnected)
	}
}

func TestSessionsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Register("panel-1", &fakeChannel{}, "halo-panel/2.1")
	r.Register("panel-2", &fakeChannel{}, "")

	sessions := r.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("Sessions returned %d entries, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.ConnectedAt.IsZero() || s.LastSeenAt.IsZero() {
			t.Errorf("session %s has zero timestamps", s.DeviceID)
		}
	}
}

func TestTouchAdvancesLastSeen(t *testing.T) {
	r := NewRegistry()
	r.Register("panel-1", &fakeChannel{}, "")

	before := r.Sessions()[0].LastSeenAt
	r.Touch("panel-1")
	after := r.Sessions()[0].LastSeenAt

	if after.Before(before) {
		t.Error("Touch moved last-seen backwards")
	}
	// Touch on an unknown device must not panic.
	r.Touch("ghost")
}
