package widget

import (
	"errors"
	"sync"
	"testing"
)

// recordingSender captures widget commands instead of delivering them.
type recordingSender struct {
	mu       sync.Mutex
	commands []sentCommand
	fail     bool
}

type sentCommand struct {
	deviceID    string
	commandType string
	payload     any
}

func (s *recordingSender) SendWidgetCommand(deviceID, commandType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("channel closed")
	}
	s.commands = append(s.commands, sentCommand{deviceID, commandType, payload})
	return nil
}

func (s *recordingSender) sent() []sentCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentCommand, len(s.commands))
	copy(out, s.commands)
	return out
}

// recordingNotifier counts notifications per kind.
type recordingNotifier struct {
	mu          sync.Mutex
	initialized []string
	dataUpdates map[string]int
	removed     []string
	cleared     []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{dataUpdates: make(map[string]int)}
}

func (n *recordingNotifier) WidgetInitialized(_, instanceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialized = append(n.initialized, instanceID)
}

func (n *recordingNotifier) WidgetDataUpdated(instanceID string, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dataUpdates[instanceID]++
}

func (n *recordingNotifier) WidgetConfigUpdated(string, map[string]any) {}

func (n *recordingNotifier) WidgetRemoved(instanceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, instanceID)
}

func (n *recordingNotifier) GlobalStateUpdated(map[string]any) {}

func (n *recordingNotifier) StoreCleared(deviceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, deviceID)
}

func newTestStore() (*Store, *recordingSender, *recordingNotifier) {
	store := NewStore()
	sender := &recordingSender{}
	notifier := newRecordingNotifier()
	store.SetSender(sender)
	store.SetNotifier(notifier)
	return store, sender, notifier
}

func TestCreateInstance(t *testing.T) {
	store, _, notifier := newTestStore()

	err := store.CreateInstance("panel-1", "clock-1", map[string]any{"kind": "clock", "face": "analog"})
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	inst, ok := store.GetInstance("clock-1")
	if !ok {
		t.Fatal("instance not found after create")
	}
	if inst.DeviceID != "panel-1" {
		t.Errorf("DeviceID = %q, want panel-1", inst.DeviceID)
	}
	if inst.Kind != "clock" {
		t.Errorf("Kind = %q, want clock", inst.Kind)
	}
	if inst.Config["face"] != "analog" {
		t.Errorf("Config[face] = %v, want analog", inst.Config["face"])
	}
	if len(inst.Data) != 0 {
		t.Errorf("new instance has non-empty data: %v", inst.Data)
	}
	if len(notifier.initialized) != 1 || notifier.initialized[0] != "clock-1" {
		t.Errorf("initialized notifications = %v, want [clock-1]", notifier.initialized)
	}
}

func TestCreateInstanceDuplicate(t *testing.T) {
	store, _, _ := newTestStore()

	if err := store.CreateInstance("panel-1", "clock-1", nil); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	err := store.CreateInstance("panel-1", "clock-1", map[string]any{"face": "digital"})
	if !errors.Is(err, ErrDuplicateInstance) {
		t.Fatalf("duplicate create error = %v, want ErrDuplicateInstance", err)
	}

	// Original untouched.
	inst, _ := store.GetInstance("clock-1")
	if _, ok := inst.Config["face"]; ok {
		t.Error("duplicate create mutated the existing instance")
	}
}

func TestUpdateConfigShallowMerge(t *testing.T) {
	store, _, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", map[string]any{"a": 1, "b": 2})

	if err := store.UpdateConfig("w1", map[string]any{"b": 20, "c": 3}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	inst, _ := store.GetInstance("w1")
	if inst.Config["a"] != 1 {
		t.Errorf("absent key not retained: a = %v", inst.Config["a"])
	}
	if inst.Config["b"] != 20 {
		t.Errorf("supplied key not overwritten: b = %v", inst.Config["b"])
	}
	if inst.Config["c"] != 3 {
		t.Errorf("new key not added: c = %v", inst.Config["c"])
	}
}

func TestUpdateUnknownInstance(t *testing.T) {
	store, _, _ := newTestStore()

	if err := store.UpdateConfig("ghost", map[string]any{"a": 1}); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("UpdateConfig error = %v, want ErrUnknownInstance", err)
	}
	if err := store.UpdateData("ghost", map[string]any{"a": 1}); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("UpdateData error = %v, want ErrUnknownInstance", err)
	}
	if err := store.Subscribe("ghost", "weather"); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("Subscribe error = %v, want ErrUnknownInstance", err)
	}
}

func TestSetDataReplaces(t *testing.T) {
	store, _, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)

	if err := store.UpdateData("w1", map[string]any{"old": true}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetData("w1", map[string]any{"fresh": true}); err != nil {
		t.Fatal(err)
	}

	inst, _ := store.GetInstance("w1")
	if _, ok := inst.Data["old"]; ok {
		t.Error("SetData retained a key from the previous payload")
	}
	if inst.Data["fresh"] != true {
		t.Errorf("Data = %v, want fresh=true", inst.Data)
	}
}

func TestBringToFrontMonotonic(t *testing.T) {
	store, _, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)
	mustCreate(t, store, "panel-1", "w2", nil)

	if err := store.BringToFront("w1"); err != nil {
		t.Fatal(err)
	}
	if err := store.BringToFront("w2"); err != nil {
		t.Fatal(err)
	}

	i1, _ := store.GetInstance("w1")
	i2, _ := store.GetInstance("w2")
	z1, z2 := i1.Config["z_index"].(int), i2.Config["z_index"].(int)
	if z2 <= z1 {
		t.Errorf("z-index not monotonic: w1=%d w2=%d", z1, z2)
	}
}

func TestSubscribeForwardsCommand(t *testing.T) {
	store, sender, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)

	if err := store.Subscribe("w1", "weather.outdoor"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d commands, want 1", len(sent))
	}
	if sent[0].deviceID != "panel-1" || sent[0].commandType != "widget:subscribe" {
		t.Errorf("command = %+v", sent[0])
	}
	payload, ok := sent[0].payload.(subscribePayload)
	if !ok {
		t.Fatalf("payload type = %T", sent[0].payload)
	}
	if payload.InstanceID != "w1" || payload.DataSource != "weather.outdoor" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestSubscribeSendFailureStillRecorded(t *testing.T) {
	store, sender, _ := newTestStore()
	sender.fail = true
	mustCreate(t, store, "panel-1", "w1", nil)

	if err := store.Subscribe("w1", "weather"); err != nil {
		t.Fatalf("Subscribe returned error on send failure: %v", err)
	}
	// Index updated regardless; resync repairs the device side later.
	if _, n := store.OnDataSourceBroadcast("weather", map[string]any{"t": 21}); n != 1 {
		t.Errorf("broadcast reached %d instances, want 1", n)
	}
}

func TestBroadcastFanOut(t *testing.T) {
	store, _, notifier := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)
	mustCreate(t, store, "panel-2", "w2", nil)
	mustCreate(t, store, "panel-2", "w3", nil)

	mustSubscribe(t, store, "w1", "energy.grid")
	mustSubscribe(t, store, "w2", "energy.grid")
	mustSubscribe(t, store, "w3", "weather")

	update := map[string]any{"watts": 420}
	devices, n := store.OnDataSourceBroadcast("energy.grid", update)
	if n != 2 {
		t.Fatalf("broadcast reached %d instances, want 2", n)
	}
	// Owning devices reported sorted, without the non-subscriber's device.
	if len(devices) != 2 || devices[0] != "panel-1" || devices[1] != "panel-2" {
		t.Errorf("owning devices = %v, want [panel-1 panel-2]", devices)
	}

	// Data stored under the data-source key.
	i1, _ := store.GetInstance("w1")
	got, ok := i1.Data["energy.grid"].(map[string]any)
	if !ok || got["watts"] != 420 {
		t.Errorf("w1 data = %v", i1.Data)
	}
	// Non-subscriber untouched.
	i3, _ := store.GetInstance("w3")
	if _, ok := i3.Data["energy.grid"]; ok {
		t.Error("broadcast leaked to non-subscriber")
	}
	if notifier.dataUpdates["w3"] != 0 {
		t.Error("non-subscriber was notified")
	}
}

func TestUnsubscribeStopsBroadcast(t *testing.T) {
	store, _, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)
	mustSubscribe(t, store, "w1", "weather")

	if err := store.Unsubscribe("w1", "weather"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if _, n := store.OnDataSourceBroadcast("weather", map[string]any{"t": 5}); n != 0 {
		t.Errorf("broadcast after unsubscribe reached %d instances", n)
	}
}

func TestRemoveInstanceReleasesSubscriptions(t *testing.T) {
	store, _, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)
	mustSubscribe(t, store, "w1", "weather")
	mustSubscribe(t, store, "w1", "energy.grid")

	if err := store.RemoveInstance("w1"); err != nil {
		t.Fatalf("RemoveInstance failed: %v", err)
	}

	if _, ok := store.GetInstance("w1"); ok {
		t.Fatal("instance still present after removal")
	}
	if _, n := store.OnDataSourceBroadcast("weather", nil); n != 0 {
		t.Errorf("removed instance still receives broadcasts")
	}
	// Removal is terminal: later mutations are dropped, never resurrect.
	if err := store.UpdateData("w1", map[string]any{"a": 1}); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("post-removal update error = %v, want ErrUnknownInstance", err)
	}
	if _, ok := store.GetInstance("w1"); ok {
		t.Error("post-removal mutation resurrected the instance")
	}
}

func TestResyncAfterReconnect(t *testing.T) {
	store, sender, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)
	mustCreate(t, store, "panel-1", "w2", nil)
	mustCreate(t, store, "panel-2", "w3", nil)

	mustSubscribe(t, store, "w1", "weather")
	mustSubscribe(t, store, "w1", "energy.grid")
	mustSubscribe(t, store, "w2", "weather")
	mustSubscribe(t, store, "w3", "weather")

	before := len(sender.sent())

	if n := store.ResyncAfterReconnect("panel-1"); n != 3 {
		t.Fatalf("resync re-sent %d commands, want 3", n)
	}

	resent := sender.sent()[before:]
	var pairs []string
	for _, cmd := range resent {
		if cmd.deviceID != "panel-1" {
			t.Errorf("resync sent to %q, want panel-1", cmd.deviceID)
		}
		p := cmd.payload.(subscribePayload)
		pairs = append(pairs, p.InstanceID+"/"+p.DataSource)
	}
	// Replay order is stable: sorted by instance, then source.
	want := []string{"w1/energy.grid", "w1/weather", "w2/weather"}
	for i, p := range want {
		if i >= len(pairs) || pairs[i] != p {
			t.Fatalf("resync pairs = %v, want %v", pairs, want)
		}
	}
}

func TestResyncNoStateIsNoop(t *testing.T) {
	store, sender, _ := newTestStore()
	if n := store.ResyncAfterReconnect("unknown-panel"); n != 0 {
		t.Errorf("resync for unknown device re-sent %d commands", n)
	}
	if len(sender.sent()) != 0 {
		t.Error("resync for unknown device sent commands")
	}
}

func TestClearDevice(t *testing.T) {
	store, _, notifier := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)
	mustCreate(t, store, "panel-1", "w2", nil)
	mustCreate(t, store, "panel-2", "w3", nil)
	mustSubscribe(t, store, "w1", "weather")

	store.Clear("panel-1")

	if store.HasDevice("panel-1") {
		t.Error("HasDevice(panel-1) = true after clear")
	}
	if !store.HasDevice("panel-2") {
		t.Error("clear removed another device's instances")
	}
	if store.InstanceCount() != 1 {
		t.Errorf("InstanceCount = %d, want 1", store.InstanceCount())
	}
	if _, n := store.OnDataSourceBroadcast("weather", nil); n != 0 {
		t.Error("cleared instance still subscribed")
	}
	if len(notifier.cleared) != 1 || notifier.cleared[0] != "panel-1" {
		t.Errorf("cleared notifications = %v", notifier.cleared)
	}
}

func TestGlobalStateMerge(t *testing.T) {
	store, _, _ := newTestStore()

	store.SetGlobalState(map[string]any{"theme": "dark", "locale": "en"})
	store.SetGlobalState(map[string]any{"locale": "de"})

	state := store.GlobalState()
	if state["theme"] != "dark" {
		t.Errorf("theme = %v, want dark", state["theme"])
	}
	if state["locale"] != "de" {
		t.Errorf("locale = %v, want de", state["locale"])
	}

	// Returned map is a copy.
	state["theme"] = "light"
	if store.GlobalState()["theme"] != "dark" {
		t.Error("GlobalState returned store-owned map")
	}
}

func TestInstancesForDevice(t *testing.T) {
	store, _, _ := newTestStore()
	mustCreate(t, store, "panel-1", "w1", nil)
	mustCreate(t, store, "panel-1", "w2", nil)
	mustCreate(t, store, "panel-2", "w3", nil)

	got := store.InstancesForDevice("panel-1")
	if len(got) != 2 {
		t.Fatalf("InstancesForDevice returned %d instances, want 2", len(got))
	}
	for _, inst := range got {
		if inst.DeviceID != "panel-1" {
			t.Errorf("instance %s has DeviceID %q", inst.ID, inst.DeviceID)
		}
	}
}

func mustCreate(t *testing.T, store *Store, deviceID, instanceID string, cfg map[string]any) {
	t.Helper()
	if err := store.CreateInstance(deviceID, instanceID, cfg); err != nil {
		t.Fatalf("CreateInstance(%s): %v", instanceID, err)
	}
}

func mustSubscribe(t *testing.T, store *Store, instanceID, source string) {
	t.Helper()
	if err := store.Subscribe(instanceID, source); err != nil {
		t.Fatalf("Subscribe(%s, %s): %v", instanceID, source, err)
	}
}
