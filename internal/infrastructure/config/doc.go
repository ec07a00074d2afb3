// Package config loads and validates the Halo Bridge configuration.
//
// Configuration is resolved in three layers, later layers winning:
//
//  1. Built-in defaults (defaultConfig)
//  2. The YAML file (configs/config.yaml by default)
//  3. HALOBRIDGE_* environment variable overrides
//
// Secrets (JWT signing key, MQTT credentials, InfluxDB token) should be
// supplied via environment variables rather than committed to the YAML file.
//
// Validate() is always run by Load(); a config that fails validation never
// reaches the rest of the application.
package config
