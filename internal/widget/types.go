package widget

import "time"

// Instance is one widget on one device. Instances are owned by the Store;
// methods returning an Instance return a deep copy that callers may
// modify freely.
type Instance struct {
	ID          string         `json:"id"`
	DeviceID    string         `json:"device_id"`
	Kind        string         `json:"kind,omitempty"`
	Config      map[string]any `json:"config"`
	Data        map[string]any `json:"data"`
	DataSources []string       `json:"data_sources,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// CommandSender forwards widget commands to a device. Implemented by the
// bridge facade; the store never holds a channel handle itself.
type CommandSender interface {
	SendWidgetCommand(deviceID, commandType string, payload any) error
}

// Notifier receives store change notifications for local observers
// (UI layers, debug tooling). All methods are called synchronously after
// the mutation committed; implementations must not call back into the
// Store.
type Notifier interface {
	WidgetInitialized(deviceID, instanceID string)
	WidgetDataUpdated(instanceID string, data map[string]any)
	WidgetConfigUpdated(instanceID string, config map[string]any)
	WidgetRemoved(instanceID string)
	GlobalStateUpdated(state map[string]any)
	StoreCleared(deviceID string)
}

// NopNotifier is a Notifier that ignores everything.
type NopNotifier struct{}

func (NopNotifier) WidgetInitialized(string, string)           {}
func (NopNotifier) WidgetDataUpdated(string, map[string]any)   {}
func (NopNotifier) WidgetConfigUpdated(string, map[string]any) {}
func (NopNotifier) WidgetRemoved(string)                       {}
func (NopNotifier) GlobalStateUpdated(map[string]any)          {}
func (NopNotifier) StoreCleared(string)                        {}

// subscribePayload is the wire payload of widget:subscribe commands sent
// to devices (initial subscribe and post-reconnect resync alike).
type subscribePayload struct {
	InstanceID string `json:"instance_id"`
	DataSource string `json:"data_source"`
}

// copyMap returns a shallow copy of m. Values are shared; the store's
// merge semantics are shallow by contract, so this is sufficient to keep
// callers from mutating store-owned maps.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeInto applies src onto dst: new keys overwrite, absent keys are
// retained.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
