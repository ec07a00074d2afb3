package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "halobridge"

// Topics builds the bridge's MQTT topic names under a configurable
// prefix. Using these helpers keeps topic naming consistent between the
// publishing and subscribing sides.
//
//	topics := mqtt.Topics{Prefix: "halobridge"}
//	topics.DataSource("weather.outdoor")
//	// Returns: "halobridge/datasource/weather.outdoor"
type Topics struct {
	// Prefix is the leading topic segment. Empty means DefaultPrefix.
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// DataSource returns the topic carrying updates for one data source.
//
// Example: halobridge/datasource/weather.outdoor
func (t Topics) DataSource(key string) string {
	return fmt.Sprintf("%s/datasource/%s", t.prefix(), key)
}

// AllDataSources returns the pattern matching every data-source topic.
// Data-source keys are a single topic level; dots inside a key are fine,
// slashes are not.
//
// Pattern: halobridge/datasource/+
func (t Topics) AllDataSources() string {
	return fmt.Sprintf("%s/datasource/+", t.prefix())
}

// DataSourceKey extracts the data-source key from a topic delivered on
// the AllDataSources pattern. Returns false when the topic does not
// match.
func (t Topics) DataSourceKey(topic string) (string, bool) {
	want := t.prefix() + "/datasource/"
	if !strings.HasPrefix(topic, want) {
		return "", false
	}
	key := strings.TrimPrefix(topic, want)
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// SystemStatus returns the service status topic, used for the online
// announcement and the Last Will.
//
// Example: halobridge/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// DeviceEvent returns the topic announcing device lifecycle events
// (connect, disconnect) to external observers.
//
// Example: halobridge/device/panel-kitchen/event
func (t Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/event", t.prefix(), deviceID)
}

// GlobalState returns the topic for externally published global state
// merges.
//
// Example: halobridge/globalstate
func (t Topics) GlobalState() string {
	return fmt.Sprintf("%s/globalstate", t.prefix())
}
