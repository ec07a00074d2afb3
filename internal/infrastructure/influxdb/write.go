package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteRequestMetric records one settled device request: which device,
// how it ended ("ok", "timeout", "device_unavailable", "cancelled") and
// how long it was outstanding.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteRequestMetric(deviceID, outcome string, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_requests",
		map[string]string{
			"device_id": deviceID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(elapsed.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteFleetGauge records point-in-time fleet counters: connected
// devices, pending requests, widget instances. Written periodically by
// the main loop.
func (c *Client) WriteFleetGauge(connected, pending, widgets int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"fleet",
		nil,
		map[string]interface{}{
			"connected_devices": connected,
			"pending_requests":  pending,
			"widget_instances":  widgets,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDataSourceMetric records a data-source broadcast and how many
// widget instances it reached.
func (c *Client) WriteDataSourceMetric(dataSourceKey string, recipients int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"datasource_broadcasts",
		map[string]string{
			"data_source": dataSourceKey,
		},
		map[string]interface{}{
			"recipients": recipients,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and
// fields, for measurements that don't fit the helper methods. Tags
// should stay low-cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
