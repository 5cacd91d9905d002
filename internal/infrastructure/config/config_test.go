package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
opcua:
  endpoint: "opc.tcp://plc.local:4840"
  keepalive_ms: 2000
mqtt:
  host: "broker.local"
  port: 1884
  client_id: "gw-1"
  qos: 0
  retain: true
  base_topics:
    sensors: "/plant/sensors/"
    commands: "plant/commands"
publish_mode: "on-change"
tags_map: "tags.yaml"
supervisor:
  max_attempts: 3
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.OPCUA.Endpoint != "opc.tcp://plc.local:4840" {
		t.Errorf("OPCUA.Endpoint = %q", cfg.OPCUA.Endpoint)
	}
	if cfg.Keepalive() != 2*time.Second {
		t.Errorf("Keepalive() = %v, want 2s", cfg.Keepalive())
	}
	if cfg.MQTT.Host != "broker.local" || cfg.MQTT.Port != 1884 {
		t.Errorf("MQTT = %s:%d", cfg.MQTT.Host, cfg.MQTT.Port)
	}
	if cfg.MQTT.BaseTopics.Sensors != "plant/sensors" {
		t.Errorf("BaseTopics.Sensors = %q, want trimmed", cfg.MQTT.BaseTopics.Sensors)
	}
	if cfg.PublishMode != PublishOnChange {
		t.Errorf("PublishMode = %q, want %q", cfg.PublishMode, PublishOnChange)
	}
	if cfg.Supervisor.MaxAttempts != 3 {
		t.Errorf("Supervisor.MaxAttempts = %d, want 3", cfg.Supervisor.MaxAttempts)
	}
	if cfg.RetryDelay() != 5*time.Second {
		t.Errorf("RetryDelay() = %v, want default 5s", cfg.RetryDelay())
	}
	if want := filepath.Join(filepath.Dir(configPath), "tags.yaml"); cfg.TagsMapPath() != want {
		t.Errorf("TagsMapPath() = %q, want %q", cfg.TagsMapPath(), want)
	}
	if !strings.HasPrefix(cfg.OPCUA.ApplicationURI, "urn:") || !strings.HasSuffix(cfg.OPCUA.ApplicationURI, ":gateway-client") {
		t.Errorf("ApplicationURI = %q", cfg.OPCUA.ApplicationURI)
	}
}

func TestLoad_GeneratedClientID(t *testing.T) {
	cfg, err := Load(writeConfig(t, "opcua:\n  endpoint: opc.tcp://localhost:4840\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !strings.HasPrefix(cfg.MQTT.ClientID, "opcua-gateway-") || len(cfg.MQTT.ClientID) != len("opcua-gateway-")+8 {
		t.Errorf("ClientID = %q, want opcua-gateway-<8 chars>", cfg.MQTT.ClientID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_OPCUA_ENDPOINT", "opc.tcp://env:4840")
	t.Setenv("GATEWAY_OPCUA_USERNAME", "operator")
	t.Setenv("GATEWAY_OPCUA_PASSWORD", "secret")
	t.Setenv("GATEWAY_MQTT_HOST", "env-broker")
	t.Setenv("GATEWAY_MQTT_USERNAME", "gw")
	t.Setenv("GATEWAY_MQTT_PASSWORD", "pw")

	cfg, err := Load(writeConfig(t, "opcua:\n  endpoint: opc.tcp://file:4840\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.OPCUA.Endpoint != "opc.tcp://env:4840" {
		t.Errorf("OPCUA.Endpoint = %q, want env override", cfg.OPCUA.Endpoint)
	}
	if cfg.OPCUA.Username != "operator" || cfg.OPCUA.Password != "secret" {
		t.Errorf("OPCUA credentials not overridden")
	}
	if cfg.MQTT.Host != "env-broker" || cfg.MQTT.Username != "gw" || cfg.MQTT.Password != "pw" {
		t.Errorf("MQTT settings not overridden: %+v", cfg.MQTT)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.OPCUA.Endpoint = "" }, wantErr: "opcua.endpoint is required"},
		{name: "wrong scheme", mutate: func(c *Config) { c.OPCUA.Endpoint = "http://x" }, wantErr: "opc.tcp://"},
		{name: "bad qos", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "bad port", mutate: func(c *Config) { c.MQTT.Port = 0 }, wantErr: "mqtt.port"},
		{name: "wildcard base", mutate: func(c *Config) { c.MQTT.BaseTopics.Commands = "cmd/#" }, wantErr: "wildcards"},
		{
			name: "commands above sensors",
			mutate: func(c *Config) {
				c.MQTT.BaseTopics.Sensors = "plant/sensors"
				c.MQTT.BaseTopics.Commands = "plant"
			},
			wantErr: "must not overlap",
		},
		{
			name: "sensors above commands",
			mutate: func(c *Config) {
				c.MQTT.BaseTopics.Sensors = "plant"
				c.MQTT.BaseTopics.Commands = "plant/commands"
			},
			wantErr: "must not overlap",
		},
		{
			name: "same base topics",
			mutate: func(c *Config) {
				c.MQTT.BaseTopics.Sensors = "plant"
				c.MQTT.BaseTopics.Commands = "plant"
			},
			wantErr: "must not overlap",
		},
		{
			name: "shared prefix is not overlap",
			mutate: func(c *Config) {
				c.MQTT.BaseTopics.Sensors = "plant/sensors"
				c.MQTT.BaseTopics.Commands = "plant/sensors2"
			},
		},
		{name: "status under commands", mutate: func(c *Config) { c.MQTT.StatusTopic = "commands/status" }, wantErr: "mqtt.status_topic"},
		{name: "unknown mode", mutate: func(c *Config) { c.PublishMode = "both" }, wantErr: "publish_mode"},
		{
			name: "cyclic without interval",
			mutate: func(c *Config) {
				c.PublishMode = PublishCyclic
				c.PublishIntervalMS = 0
			},
			wantErr: "publish_interval_ms",
		},
		{name: "zero attempts", mutate: func(c *Config) { c.Supervisor.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "password without user", mutate: func(c *Config) { c.OPCUA.Password = "x" }, wantErr: "opcua.password"},
		{
			name: "api disabled ignores port",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.OPCUA.Endpoint = "opc.tcp://localhost:4840"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_LogFileResolvesAgainstConfigDir(t *testing.T) {
	configPath := writeConfig(t, `
opcua:
  endpoint: "opc.tcp://localhost:4840"
logging:
  file:
    path: "logs/gateway.log"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := filepath.Join(filepath.Dir(configPath), "logs/gateway.log"); cfg.Logging.File.Path != want {
		t.Errorf("Logging.File.Path = %q, want %q", cfg.Logging.File.Path, want)
	}
}

func TestResolvePath(t *testing.T) {
	cfg := &Config{BaseDir: "/etc/gateway"}

	if got := cfg.ResolvePath("certs/client.pem"); got != filepath.Join("/etc/gateway", "certs/client.pem") {
		t.Errorf("ResolvePath(relative) = %q", got)
	}
	if got := cfg.ResolvePath("/abs/key.pem"); got != "/abs/key.pem" {
		t.Errorf("ResolvePath(absolute) = %q", got)
	}
	if got := cfg.ResolvePath(""); got != "" {
		t.Errorf("ResolvePath(empty) = %q", got)
	}
}
