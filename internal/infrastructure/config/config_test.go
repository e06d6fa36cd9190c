package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "depot-north"
api:
  host: "127.0.0.1"
  port: 4001
websocket:
  path: "/devices"
heartbeat:
  interval: 10
  timeout: 25
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  topic_prefix: "bn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "depot-north" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "depot-north")
	}
	if cfg.API.Port != 4001 {
		t.Errorf("API.Port = %d, want 4001", cfg.API.Port)
	}
	if cfg.WebSocket.Path != "/devices" {
		t.Errorf("WebSocket.Path = %q, want %q", cfg.WebSocket.Path, "/devices")
	}
	if got := cfg.HeartbeatInterval(); got != 10*time.Second {
		t.Errorf("HeartbeatInterval() = %v, want 10s", got)
	}
	if got := cfg.HeartbeatTimeout(); got != 25*time.Second {
		t.Errorf("HeartbeatTimeout() = %v, want 25s", got)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	// Unset values keep their defaults.
	if cfg.WebSocket.SendBuffer != 256 {
		t.Errorf("WebSocket.SendBuffer = %d, want 256", cfg.WebSocket.SendBuffer)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "tls without cert", mutate: func(c *Config) { c.API.TLS.Enabled = true }, wantErr: true},
		{name: "relative websocket path", mutate: func(c *Config) { c.WebSocket.Path = "ws" }, wantErr: true},
		{name: "zero send buffer", mutate: func(c *Config) { c.WebSocket.SendBuffer = 0 }, wantErr: true},
		{name: "rate limit without burst", mutate: func(c *Config) { c.WebSocket.RateLimit.Burst = 0 }, wantErr: true},
		{name: "rate limit disabled ignores burst", mutate: func(c *Config) {
			c.WebSocket.RateLimit.Enabled = false
			c.WebSocket.RateLimit.Burst = 0
		}},
		{name: "zero heartbeat interval", mutate: func(c *Config) { c.Heartbeat.Interval = 0 }, wantErr: true},
		{name: "zero heartbeat timeout", mutate: func(c *Config) { c.Heartbeat.Timeout = 0 }, wantErr: true},
		{name: "database enabled without path", mutate: func(c *Config) {
			c.Database.Enabled = true
			c.Database.Path = ""
		}, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "mqtt enabled without prefix", mutate: func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.TopicPrefix = ""
		}, wantErr: true},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
		{name: "empty JWT secret disables auth", mutate: func(c *Config) { c.Security.JWT.Secret = "" }},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("BUSNEPHEW_DATABASE_PATH", "/custom/hub.db")
	t.Setenv("BUSNEPHEW_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BUSNEPHEW_MQTT_USERNAME", "hub")
	t.Setenv("BUSNEPHEW_MQTT_PASSWORD", "hubpass")
	t.Setenv("BUSNEPHEW_API_HOST", "192.168.1.1")
	t.Setenv("BUSNEPHEW_API_PORT", "")
	t.Setenv("PORT", "4100")
	t.Setenv("BUSNEPHEW_CORS_ORIGIN", "")
	t.Setenv("CORS_ORIGIN", "https://a.example,https://b.example")
	t.Setenv("BUSNEPHEW_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("BUSNEPHEW_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/hub.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/hub.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "hub" || cfg.MQTT.Auth.Password != "hubpass" {
		t.Errorf("MQTT.Auth = %+v, want hub/hubpass", cfg.MQTT.Auth)
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 4100 {
		t.Errorf("API.Port = %d, want 4100", cfg.API.Port)
	}
	if len(cfg.API.CORS.AllowedOrigins) != 2 || cfg.API.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("API.CORS.AllowedOrigins = %v", cfg.API.CORS.AllowedOrigins)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestApplyEnvOverrides_PrefixedPortWins(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("BUSNEPHEW_API_PORT", "5000")
	t.Setenv("PORT", "6000")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 5000 {
		t.Errorf("API.Port = %d, want 5000", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.API.Port != 3001 {
		t.Errorf("defaultConfig API.Port = %d, want 3001", cfg.API.Port)
	}
	if cfg.Heartbeat.Interval != 30 || cfg.Heartbeat.Timeout != 60 {
		t.Errorf("defaultConfig Heartbeat = %+v, want 30/60", cfg.Heartbeat)
	}
	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled || cfg.Database.Enabled || cfg.Discovery.Enabled {
		t.Error("defaultConfig should leave optional integrations disabled")
	}
}
