package widget

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// instance is the store's internal widget record.
type instance struct {
	id          string
	deviceID    string
	kind        string
	config      map[string]any
	data        map[string]any
	subs        map[string]struct{} // data-source keys this instance follows
	lastUpdated time.Time
}

// Store keeps per-device widget state and the data-source subscription
// index. The server is the source of truth: devices are assumed to
// remember nothing across connections, so the store can replay
// subscription state after a reconnect (ResyncAfterReconnect).
//
// The subscription index is bidirectional: each instance records the
// sources it follows, and each source records its followers, so a
// broadcast fans out in O(interested) and removing an instance releases
// its subscriptions without scanning the whole index.
//
// All public methods are thread-safe. Outbound commands and observer
// notifications are issued after the mutation committed, outside the
// store lock.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*instance
	byDevice  map[string]map[string]struct{} // deviceID -> instanceIDs
	bySource  map[string]map[string]struct{} // dataSourceKey -> instanceIDs
	global    map[string]any
	zTop      int

	sender   CommandSender
	notifier Notifier
	logger   Logger
}

// NewStore creates an empty widget state store.
func NewStore() *Store {
	return &Store{
		instances: make(map[string]*instance),
		byDevice:  make(map[string]map[string]struct{}),
		bySource:  make(map[string]map[string]struct{}),
		global:    make(map[string]any),
		notifier:  NopNotifier{},
		logger:    noopLogger{},
	}
}

// SetSender sets the command sender used to forward subscription commands
// to devices. Without a sender the store still tracks state but sends
// nothing.
func (s *Store) SetSender(sender CommandSender) {
	s.sender = sender
}

// SetNotifier sets the observer for store change notifications.
func (s *Store) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	s.notifier = n
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// CreateInstance inserts a new widget instance with empty data. The kind
// is read from the "kind" config key when present. Fails with
// ErrDuplicateInstance when the id is already taken.
func (s *Store) CreateInstance(deviceID, instanceID string, cfg map[string]any) error {
	s.mu.Lock()
	if _, exists := s.instances[instanceID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateInstance, instanceID)
	}

	inst := &instance{
		id:          instanceID,
		deviceID:    deviceID,
		config:      copyMap(cfg),
		data:        make(map[string]any),
		subs:        make(map[string]struct{}),
		lastUpdated: time.Now().UTC(),
	}
	if kind, ok := cfg["kind"].(string); ok {
		inst.kind = kind
	}
	s.instances[instanceID] = inst

	if s.byDevice[deviceID] == nil {
		s.byDevice[deviceID] = make(map[string]struct{})
	}
	s.byDevice[deviceID][instanceID] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("widget created",
		"device_id", deviceID,
		"instance_id", instanceID,
		"kind", inst.kind,
	)
	s.notifier.WidgetInitialized(deviceID, instanceID)
	return nil
}

// UpdateConfig shallow-merges partial into the instance configuration:
// supplied keys overwrite, absent keys are retained.
func (s *Store) UpdateConfig(instanceID string, partial map[string]any) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("config update for unknown widget", "instance_id", instanceID)
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	mergeInto(inst.config, partial)
	inst.lastUpdated = time.Now().UTC()
	snapshot := copyMap(inst.config)
	s.mu.Unlock()

	s.notifier.WidgetConfigUpdated(instanceID, snapshot)
	return nil
}

// UpdateData shallow-merges partial into the instance data payload.
func (s *Store) UpdateData(instanceID string, partial map[string]any) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("data update for unknown widget", "instance_id", instanceID)
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	mergeInto(inst.data, partial)
	inst.lastUpdated = time.Now().UTC()
	snapshot := copyMap(inst.data)
	s.mu.Unlock()

	s.notifier.WidgetDataUpdated(instanceID, snapshot)
	return nil
}

// SetData replaces the instance data payload entirely (no merge).
func (s *Store) SetData(instanceID string, data map[string]any) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("data set for unknown widget", "instance_id", instanceID)
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	inst.data = copyMap(data)
	inst.lastUpdated = time.Now().UTC()
	snapshot := copyMap(inst.data)
	s.mu.Unlock()

	s.notifier.WidgetDataUpdated(instanceID, snapshot)
	return nil
}

// UpdatePosition moves the widget. Position lives under the "position"
// config key and is replaced wholesale.
func (s *Store) UpdatePosition(instanceID string, x, y float64) error {
	return s.UpdateConfig(instanceID, map[string]any{
		"position": map[string]any{"x": x, "y": y},
	})
}

// SetVisibility shows or hides the widget.
func (s *Store) SetVisibility(instanceID string, visible bool) error {
	return s.UpdateConfig(instanceID, map[string]any{"visible": visible})
}

// BringToFront raises the widget above all others on its device by
// assigning the next z-index from a store-wide counter.
func (s *Store) BringToFront(instanceID string) error {
	s.mu.Lock()
	if _, ok := s.instances[instanceID]; !ok {
		s.mu.Unlock()
		s.logger.Warn("bring-to-front for unknown widget", "instance_id", instanceID)
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	s.zTop++
	z := s.zTop
	s.mu.Unlock()

	return s.UpdateConfig(instanceID, map[string]any{"z_index": z})
}

// RemoveInstance releases all subscriptions held by the instance from the
// index, then deletes it. A removed instance cannot be mutated; later
// operations against its id are dropped with ErrUnknownInstance, never
// resurrecting it.
func (s *Store) RemoveInstance(instanceID string) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	s.releaseSubscriptionsLocked(inst)
	delete(s.instances, instanceID)
	if ids := s.byDevice[inst.deviceID]; ids != nil {
		delete(ids, instanceID)
		if len(ids) == 0 {
			delete(s.byDevice, inst.deviceID)
		}
	}
	s.mu.Unlock()

	s.logger.Info("widget removed", "instance_id", instanceID, "device_id", inst.deviceID)
	s.notifier.WidgetRemoved(instanceID)
	return nil
}

// Subscribe records the instance's interest in dataSourceKey and forwards
// a subscription command to the device. The device side treats subscribe
// commands as idempotent, so double subscription (including the
// post-reconnect resync) is harmless.
func (s *Store) Subscribe(instanceID, dataSourceKey string) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("subscribe for unknown widget", "instance_id", instanceID)
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	inst.subs[dataSourceKey] = struct{}{}
	if s.bySource[dataSourceKey] == nil {
		s.bySource[dataSourceKey] = make(map[string]struct{})
	}
	s.bySource[dataSourceKey][instanceID] = struct{}{}
	deviceID := inst.deviceID
	s.mu.Unlock()

	s.sendSubscribe(deviceID, instanceID, dataSourceKey)
	return nil
}

// Unsubscribe removes the instance's interest in dataSourceKey from both
// sides of the index.
func (s *Store) Unsubscribe(instanceID, dataSourceKey string) error {
	s.mu.Lock()
	inst, ok := s.instances[instanceID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("unsubscribe for unknown widget", "instance_id", instanceID)
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	delete(inst.subs, dataSourceKey)
	if ids := s.bySource[dataSourceKey]; ids != nil {
		delete(ids, instanceID)
		if len(ids) == 0 {
			delete(s.bySource, dataSourceKey)
		}
	}
	s.mu.Unlock()
	return nil
}

// OnDataSourceBroadcast fans update out to every instance subscribed to
// dataSourceKey, storing it under that key in each instance's data
// mapping. Returns the ids of the devices owning an updated instance
// (sorted, deduplicated) and the number of instances updated.
func (s *Store) OnDataSourceBroadcast(dataSourceKey string, update any) ([]string, int) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.bySource[dataSourceKey]))
	deviceSet := make(map[string]struct{})
	type notification struct {
		instanceID string
		data       map[string]any
	}
	var notifications []notification
	for id := range s.bySource[dataSourceKey] {
		inst, ok := s.instances[id]
		if !ok {
			continue
		}
		inst.data[dataSourceKey] = update
		inst.lastUpdated = time.Now().UTC()
		ids = append(ids, id)
		deviceSet[inst.deviceID] = struct{}{}
		notifications = append(notifications, notification{
			instanceID: id,
			data:       copyMap(inst.data),
		})
	}
	s.mu.Unlock()

	for _, n := range notifications {
		s.notifier.WidgetDataUpdated(n.instanceID, n.data)
	}
	if len(ids) > 0 {
		s.logger.Debug("data source broadcast",
			"data_source", dataSourceKey,
			"recipients", len(ids),
		)
	}

	devices := make([]string, 0, len(deviceSet))
	for d := range deviceSet {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	return devices, len(ids)
}

// ResyncAfterReconnect re-sends a subscription command for every
// (instance, dataSourceKey) pair still recorded for deviceID. The device
// retains nothing across connections; this restores its server-side push
// state. Returns the number of commands re-sent.
func (s *Store) ResyncAfterReconnect(deviceID string) int {
	type sub struct {
		instanceID string
		source     string
	}
	s.mu.RLock()
	var subs []sub
	for id := range s.byDevice[deviceID] {
		inst, ok := s.instances[id]
		if !ok {
			continue
		}
		for source := range inst.subs {
			subs = append(subs, sub{instanceID: id, source: source})
		}
	}
	s.mu.RUnlock()

	// Replay in a stable order so device-side logs line up across
	// reconnects.
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].instanceID != subs[j].instanceID {
			return subs[i].instanceID < subs[j].instanceID
		}
		return subs[i].source < subs[j].source
	})

	for _, x := range subs {
		s.sendSubscribe(deviceID, x.instanceID, x.source)
	}
	if len(subs) > 0 {
		s.logger.Info("resynced subscriptions after reconnect",
			"device_id", deviceID,
			"count", len(subs),
		)
	}
	return len(subs)
}

// Clear unsubscribes and removes every instance for deviceID. Used on
// session teardown.
func (s *Store) Clear(deviceID string) {
	s.mu.Lock()
	removed := make([]string, 0, len(s.byDevice[deviceID]))
	for id := range s.byDevice[deviceID] {
		if inst, ok := s.instances[id]; ok {
			s.releaseSubscriptionsLocked(inst)
			delete(s.instances, id)
			removed = append(removed, id)
		}
	}
	delete(s.byDevice, deviceID)
	s.mu.Unlock()

	for _, id := range removed {
		s.notifier.WidgetRemoved(id)
	}
	s.notifier.StoreCleared(deviceID)
	s.logger.Info("widget store cleared", "device_id", deviceID, "removed", len(removed))
}

// SetGlobalState shallow-merges partial into the device-independent
// global state shared by all widgets.
func (s *Store) SetGlobalState(partial map[string]any) {
	s.mu.Lock()
	mergeInto(s.global, partial)
	snapshot := copyMap(s.global)
	s.mu.Unlock()

	s.notifier.GlobalStateUpdated(snapshot)
}

// GlobalState returns a copy of the global state.
func (s *Store) GlobalState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.global)
}

// GetInstance returns a snapshot of one instance.
func (s *Store) GetInstance(instanceID string) (Instance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[instanceID]
	if !ok {
		return Instance{}, false
	}
	return snapshotInstance(inst), true
}

// InstancesForDevice returns snapshots of all instances on deviceID.
func (s *Store) InstancesForDevice(deviceID string) []Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Instance, 0, len(s.byDevice[deviceID]))
	for id := range s.byDevice[deviceID] {
		if inst, ok := s.instances[id]; ok {
			out = append(out, snapshotInstance(inst))
		}
	}
	return out
}

// HasDevice reports whether any widget state is recorded for deviceID.
// The bridge uses this to distinguish a first connect from a reconnect.
func (s *Store) HasDevice(deviceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDevice[deviceID]) > 0
}

// InstanceCount returns the total number of widget instances.
func (s *Store) InstanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

// releaseSubscriptionsLocked removes inst from the source-side index.
// Caller must hold s.mu.
func (s *Store) releaseSubscriptionsLocked(inst *instance) {
	for source := range inst.subs {
		if ids := s.bySource[source]; ids != nil {
			delete(ids, inst.id)
			if len(ids) == 0 {
				delete(s.bySource, source)
			}
		}
	}
	inst.subs = make(map[string]struct{})
}

// sendSubscribe forwards one subscription command, logging failures
// rather than propagating them: the index is already updated and a
// reconnect resync will repair the device side.
func (s *Store) sendSubscribe(deviceID, instanceID, dataSourceKey string) {
	if s.sender == nil {
		return
	}
	err := s.sender.SendWidgetCommand(deviceID, "widget:subscribe", subscribePayload{
		InstanceID: instanceID,
		DataSource: dataSourceKey,
	})
	if err != nil {
		s.logger.Debug("subscribe command not delivered",
			"device_id", deviceID,
			"instance_id", instanceID,
			"data_source", dataSourceKey,
			"error", err,
		)
	}
}

// snapshotInstance builds a caller-owned copy of an instance.
func snapshotInstance(inst *instance) Instance {
	sources := make([]string, 0, len(inst.subs))
	for source := range inst.subs {
		sources = append(sources, source)
	}
	return Instance{
		ID:          inst.id,
		DeviceID:    inst.deviceID,
		Kind:        inst.kind,
		Config:      copyMap(inst.config),
		Data:        copyMap(inst.data),
		DataSources: sources,
		LastUpdated: inst.lastUpdated,
	}
}
