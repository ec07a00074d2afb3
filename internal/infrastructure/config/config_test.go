package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testJWTSecret = "unit-test-secret-key-with-enough-length!"

// writeConfig writes a YAML config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "`+testJWTSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Bridge.RequestTimeoutMs != 30000 {
		t.Errorf("Bridge.RequestTimeoutMs = %d, want 30000", cfg.Bridge.RequestTimeoutMs)
	}
	if cfg.Bridge.GetDedupWindow() != 30*time.Second {
		t.Errorf("GetDedupWindow() = %v, want 30s", cfg.Bridge.GetDedupWindow())
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT should default to disabled")
	}
	if cfg.WebSocket.SendBufferSize != 256 {
		t.Errorf("WebSocket.SendBufferSize = %d, want 256", cfg.WebSocket.SendBufferSize)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9090
bridge:
  request_timeout_ms: 5000
  dedup_window_ms: 1000
security:
  jwt:
    secret: "`+testJWTSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Bridge.GetRequestTimeout() != 5*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 5s", cfg.Bridge.GetRequestTimeout())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HALOBRIDGE_DATABASE_PATH", "/tmp/env-override.db")
	t.Setenv("HALOBRIDGE_JWT_SECRET", testJWTSecret)

	path := writeConfig(t, `
database:
  path: "./data/from-file.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Path != "/tmp/env-override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() should fail for missing file")
	}
}

func TestValidate_RejectsMissingJWTSecret(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 8080
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail without a JWT secret")
	}
	if !strings.Contains(err.Error(), "jwt.secret") {
		t.Errorf("error should mention jwt.secret, got: %v", err)
	}
}

func TestValidate_RejectsShortJWTSecret(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: "too-short"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail with a short JWT secret")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad port",
			yaml: "api:\n  port: 99999\n",
			want: "api.port",
		},
		{
			name: "bad qos",
			yaml: "mqtt:\n  qos: 7\n",
			want: "mqtt.qos",
		},
		{
			name: "zero request timeout",
			yaml: "bridge:\n  request_timeout_ms: -1\n",
			want: "request_timeout_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml+`
security:
  jwt:
    secret: "`+testJWTSecret+`"
`)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}
