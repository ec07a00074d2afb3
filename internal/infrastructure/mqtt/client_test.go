package mqtt

import (
	"errors"
	"testing"

	"github.com/openhalo/halo-bridge/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "halobridge-test",
		},
		QoS:         1,
		TopicPrefix: "halobridge",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg)

	if got := opts.ClientID; got != "halobridge-test" {
		t.Errorf("ClientID = %q", got)
	}
	if len(opts.Servers) != 1 {
		t.Fatalf("Servers = %v", opts.Servers)
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q", got)
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for TLS broker")
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "halobridge"}

	tests := []struct {
		got  string
		want string
	}{
		{topics.DataSource("weather.outdoor"), "halobridge/datasource/weather.outdoor"},
		{topics.AllDataSources(), "halobridge/datasource/+"},
		{topics.SystemStatus(), "halobridge/system/status"},
		{topics.DeviceEvent("panel-kitchen"), "halobridge/device/panel-kitchen/event"},
		{topics.GlobalState(), "halobridge/globalstate"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}

	// Empty prefix falls back to the default.
	if got := (Topics{}).SystemStatus(); got != "halobridge/system/status" {
		t.Errorf("default prefix topic = %q", got)
	}
}

func TestDataSourceKey(t *testing.T) {
	topics := Topics{Prefix: "halobridge"}

	key, ok := topics.DataSourceKey("halobridge/datasource/energy.grid")
	if !ok || key != "energy.grid" {
		t.Errorf("key = %q ok=%v", key, ok)
	}

	for _, topic := range []string{
		"halobridge/system/status",
		"halobridge/datasource/",
		"halobridge/datasource/a/b",
		"other/datasource/x",
	} {
		if _, ok := topics.DataSourceKey(topic); ok {
			t.Errorf("DataSourceKey(%q) matched", topic)
		}
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}

	if err := c.Publish("", nil, 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Publish("t", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Publish("t", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize payload error = %v", err)
	}
	if err := c.Publish("t", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected publish error = %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("t", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("t", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected subscribe error = %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close on unconnected client: %v", err)
	}
}
