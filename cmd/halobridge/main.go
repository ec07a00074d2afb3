// Halo Bridge - stateless-to-stateful device bridge
//
// Halo Bridge connects short-lived HTTP and SMS requests to wall
// displays holding persistent WebSocket connections. Callers fire a
// request and get the device's reply back on the same connection; the
// bridge owns the correlation, timeouts and widget state in between.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/openhalo/halo-bridge/migrations"

	"github.com/openhalo/halo-bridge/internal/api"
	"github.com/openhalo/halo-bridge/internal/bridge"
	"github.com/openhalo/halo-bridge/internal/infrastructure/config"
	"github.com/openhalo/halo-bridge/internal/infrastructure/database"
	"github.com/openhalo/halo-bridge/internal/infrastructure/influxdb"
	"github.com/openhalo/halo-bridge/internal/infrastructure/logging"
	"github.com/openhalo/halo-bridge/internal/infrastructure/mqtt"
	"github.com/openhalo/halo-bridge/internal/smslink"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// fleetGaugeInterval is how often fleet-wide counters are written to
// the telemetry store.
const fleetGaugeInterval = 30 * time.Second

// Outbox retention: queued texts older than this are dropped on the
// next sweep. Senders were already told their display was away.
const (
	pendingSMSRetention     = 7 * 24 * time.Hour
	pendingSMSSweepInterval = 6 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Halo Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (phone links and the SMS outbox; bridge state
	// itself is deliberately in-memory)
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	links := smslink.NewRepository(db)
	go pendingSMSSweepLoop(ctx, links, log)

	// Bridge core: registry, correlator, widget store, dedup guard
	b := bridge.New(bridge.Options{
		RequestTimeout:      cfg.Bridge.GetRequestTimeout(),
		DedupWindow:         cfg.Bridge.GetDedupWindow(),
		MaxPendingPerDevice: cfg.Bridge.MaxPendingPerDevice,
		Logger:              log,
	})
	defer b.Close()
	log.Info("bridge initialised",
		"request_timeout", cfg.Bridge.GetRequestTimeout(),
		"dedup_window", cfg.Bridge.GetDedupWindow(),
	)

	// Connect to InfluxDB (optional request telemetry)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		// Every settled request becomes a latency point.
		b.SetObserver(influxClient.WriteRequestMetric)
		go fleetGaugeLoop(ctx, b, influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker (optional data-source feed)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		mqttClient.SetLogger(log)

		if subErr := subscribeDataSources(mqttClient, b, influxClient, cfg.MQTT.QoS, log); subErr != nil {
			return fmt.Errorf("subscribing to data sources: %w", subErr)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// HTTP API and the device WebSocket endpoint
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		SMS:      cfg.SMS,
		Logger:   log,
		Bridge:   b,
		Links:    links,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
		"tls", cfg.API.TLS.Enabled,
	)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (drains device channels)
	// 2. MQTT (if enabled)
	// 3. InfluxDB (if enabled)
	// 4. Bridge core
	// 5. Database

	log.Info("Halo Bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HALOBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HALOBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// subscribeDataSources wires the broker's data-source topics into the
// bridge: each retained or live payload fans out to subscribed widgets
// and their connected devices.
func subscribeDataSources(client *mqtt.Client, b *bridge.Bridge, influxClient *influxdb.Client, qos int, log *logging.Logger) error {
	topics := client.Topics()

	handler := func(topic string, payload []byte) error {
		key, ok := topics.DataSourceKey(topic)
		if !ok {
			log.Debug("ignoring message on unexpected topic", "topic", topic)
			return nil
		}

		recipients := b.PushDataSource(key, json.RawMessage(payload))
		log.Debug("data source update fanned out",
			"data_source", key,
			"recipients", recipients,
		)
		if influxClient != nil {
			influxClient.WriteDataSourceMetric(key, recipients)
		}
		return nil
	}

	if err := client.Subscribe(topics.AllDataSources(), byte(qos), handler); err != nil {
		return err
	}
	log.Info("subscribed to data sources", "topic", topics.AllDataSources())
	return nil
}

// pendingSMSSweepLoop purges stale entries from the SMS outbox until
// the context is cancelled.
func pendingSMSSweepLoop(ctx context.Context, links *smslink.Repository, log *logging.Logger) {
	ticker := time.NewTicker(pendingSMSSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := links.PurgePendingBefore(ctx, time.Now().Add(-pendingSMSRetention))
			if err != nil {
				log.Error("purging sms outbox failed", "error", err)
				continue
			}
			if purged > 0 {
				log.Info("purged stale sms outbox entries", "count", purged)
			}
		}
	}
}

// fleetGaugeLoop periodically writes fleet-wide counters until the
// context is cancelled.
func fleetGaugeLoop(ctx context.Context, b *bridge.Bridge, influxClient *influxdb.Client) {
	ticker := time.NewTicker(fleetGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := b.Stats()
			influxClient.WriteFleetGauge(stats.ConnectedDevices, stats.PendingRequests, stats.WidgetInstances)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// MQTT and InfluxDB clients may be nil when those subsystems are
// disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
