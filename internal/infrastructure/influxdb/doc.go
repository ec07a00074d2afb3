// Package influxdb records bridge telemetry in InfluxDB v2: request
// latency per device and outcome, fleet gauges and data-source fan-out
// counts. Writes are batched and best-effort; losing telemetry never
// fails a request.
package influxdb
