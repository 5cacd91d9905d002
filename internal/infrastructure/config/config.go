package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every error Load returns.
var ErrInvalid = errors.New("config: invalid configuration")

// PublishMode selects how sensor values reach the broker.
type PublishMode string

const (
	// PublishOnChange publishes on every change notification from the server.
	PublishOnChange PublishMode = "on_change"

	// PublishCyclic polls every tag on a fixed interval and publishes unconditionally.
	PublishCyclic PublishMode = "cyclic"
)

// Config is the root configuration structure for the gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	OPCUA             OPCUAConfig      `yaml:"opcua"`
	MQTT              MQTTConfig       `yaml:"mqtt"`
	PublishMode       PublishMode      `yaml:"publish_mode"`
	PublishIntervalMS int              `yaml:"publish_interval_ms"`
	TagsMap           string           `yaml:"tags_map"`
	Supervisor        SupervisorConfig `yaml:"supervisor"`
	API               APIConfig        `yaml:"api"`
	Logging           LoggingConfig    `yaml:"logging"`

	// BaseDir is the directory of the loaded config file. Relative paths
	// in the tag map and security descriptor resolve against it.
	BaseDir string `yaml:"-"`
}

// OPCUAConfig contains OPC UA server connection settings.
type OPCUAConfig struct {
	Endpoint string `yaml:"endpoint"`

	// Security is the descriptor "policy,mode,certPath,keyPath".
	// Empty or "None" connects without message security.
	Security string `yaml:"security"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// KeepaliveMS is the interval of the server heartbeat read.
	KeepaliveMS int `yaml:"keepalive_ms"`

	// SamplingIntervalMS is the requested subscription publishing interval.
	SamplingIntervalMS int `yaml:"sampling_interval_ms"`

	// ApplicationURI identifies the client application to the server.
	// Default: urn:<hostname>:gateway-client
	ApplicationURI string `yaml:"application_uri"`

	ConnectTimeoutMS int `yaml:"connect_timeout_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
	Retain   bool   `yaml:"retain"`

	// KeepAlive is the broker keepalive in seconds.
	KeepAlive int `yaml:"keepalive"`

	// StatusTopic carries the retained online/offline status and the
	// Last Will message. Empty disables both.
	StatusTopic string `yaml:"status_topic"`

	BaseTopics BaseTopicsConfig `yaml:"base_topics"`
}

// BaseTopicsConfig contains the topic prefixes for both directions.
type BaseTopicsConfig struct {
	Sensors  string `yaml:"sensors"`
	Commands string `yaml:"commands"`
}

// SupervisorConfig contains connection retry and restart settings.
type SupervisorConfig struct {
	// RetryDelayMS is the fixed wait between connect attempts within a cycle.
	RetryDelayMS int `yaml:"retry_delay_ms"`

	// MaxAttempts caps connect attempts per session per cycle.
	MaxAttempts int `yaml:"max_attempts"`

	// RestartDelayMS is the wait after teardown before the next cycle.
	RestartDelayMS int `yaml:"restart_delay_ms"`
}

// APIConfig contains status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	// Path enables the file sink when set. Relative paths resolve against BaseDir.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GATEWAY_SECTION_KEY
// For example: GATEWAY_OPCUA_ENDPOINT, GATEWAY_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", ErrInvalid, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", ErrInvalid, err)
	}

	applyEnvOverrides(cfg)

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg.BaseDir = filepath.Dir(abs)
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		OPCUA: OPCUAConfig{
			KeepaliveMS:        5000,
			SamplingIntervalMS: 100,
			ConnectTimeoutMS:   10000,
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			QoS:         1,
			KeepAlive:   60,
			StatusTopic: "gateway/status",
			BaseTopics: BaseTopicsConfig{
				Sensors:  "sensors",
				Commands: "commands",
			},
		},
		PublishMode:       PublishOnChange,
		PublishIntervalMS: 1000,
		TagsMap:           "tags.yaml",
		Supervisor: SupervisorConfig{
			RetryDelayMS:   5000,
			MaxAttempts:    100,
			RestartDelayMS: 5000,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GATEWAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// OPC UA
	if v := os.Getenv("GATEWAY_OPCUA_ENDPOINT"); v != "" {
		cfg.OPCUA.Endpoint = v
	}
	if v := os.Getenv("GATEWAY_OPCUA_USERNAME"); v != "" {
		cfg.OPCUA.Username = v
	}
	if v := os.Getenv("GATEWAY_OPCUA_PASSWORD"); v != "" {
		cfg.OPCUA.Password = v
	}

	// MQTT
	if v := os.Getenv("GATEWAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("GATEWAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("GATEWAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}

// applyDerivedDefaults fills values that depend on the host or on other fields.
func (c *Config) applyDerivedDefaults() {
	if c.OPCUA.ApplicationURI == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		c.OPCUA.ApplicationURI = fmt.Sprintf("urn:%s:gateway-client", host)
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "opcua-gateway-" + uuid.NewString()[:8]
	}
	if c.PublishMode == "on-change" {
		c.PublishMode = PublishOnChange
	}
	c.MQTT.BaseTopics.Sensors = strings.Trim(c.MQTT.BaseTopics.Sensors, "/")
	c.MQTT.BaseTopics.Commands = strings.Trim(c.MQTT.BaseTopics.Commands, "/")
	c.Logging.File.Path = c.ResolvePath(c.Logging.File.Path)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// OPC UA validation
	if c.OPCUA.Endpoint == "" {
		errs = append(errs, "opcua.endpoint is required")
	} else if !strings.HasPrefix(c.OPCUA.Endpoint, "opc.tcp://") {
		errs = append(errs, "opcua.endpoint must start with opc.tcp://")
	}
	if c.OPCUA.KeepaliveMS <= 0 {
		errs = append(errs, "opcua.keepalive_ms must be positive")
	}
	if c.OPCUA.SamplingIntervalMS <= 0 {
		errs = append(errs, "opcua.sampling_interval_ms must be positive")
	}
	if c.OPCUA.Password != "" && c.OPCUA.Username == "" {
		errs = append(errs, "opcua.password requires opcua.username")
	}

	// MQTT validation
	if c.MQTT.Host == "" {
		errs = append(errs, "mqtt.host is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		errs = append(errs, "mqtt.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopics.Sensors == "" {
		errs = append(errs, "mqtt.base_topics.sensors is required")
	}
	if c.MQTT.BaseTopics.Commands == "" {
		errs = append(errs, "mqtt.base_topics.commands is required")
	}
	if strings.ContainsAny(c.MQTT.BaseTopics.Sensors+c.MQTT.BaseTopics.Commands+c.MQTT.StatusTopic, "+#") {
		errs = append(errs, "mqtt topics must not contain wildcards")
	}
	if topicsOverlap(c.MQTT.BaseTopics.Sensors, c.MQTT.BaseTopics.Commands) {
		errs = append(errs, "mqtt.base_topics.sensors and mqtt.base_topics.commands must not overlap")
	}
	if topicsOverlap(c.MQTT.StatusTopic, c.MQTT.BaseTopics.Commands) {
		errs = append(errs, "mqtt.status_topic must not sit under mqtt.base_topics.commands")
	}

	// Publish mode validation
	switch c.PublishMode {
	case PublishOnChange:
	case PublishCyclic:
		if c.PublishIntervalMS <= 0 {
			errs = append(errs, "publish_interval_ms must be positive in cyclic mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("publish_mode %q must be on_change or cyclic", c.PublishMode))
	}

	if c.TagsMap == "" {
		errs = append(errs, "tags_map is required")
	}

	// Supervisor validation
	if c.Supervisor.RetryDelayMS < 0 {
		errs = append(errs, "supervisor.retry_delay_ms must not be negative")
	}
	if c.Supervisor.MaxAttempts < 1 {
		errs = append(errs, "supervisor.max_attempts must be at least 1")
	}
	if c.Supervisor.RestartDelayMS < 0 {
		errs = append(errs, "supervisor.restart_delay_ms must not be negative")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// topicsOverlap reports whether a equals b or one sits below the other.
// A command filter on either would then see the gateway's own publishes.
func topicsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// ResolvePath returns p unchanged when absolute, otherwise joined to BaseDir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// TagsMapPath returns the resolved tag map file path.
func (c *Config) TagsMapPath() string {
	return c.ResolvePath(c.TagsMap)
}

// Keepalive returns the OPC UA heartbeat interval.
func (c *Config) Keepalive() time.Duration {
	return ms(c.OPCUA.KeepaliveMS)
}

// SamplingInterval returns the requested subscription interval.
func (c *Config) SamplingInterval() time.Duration {
	return ms(c.OPCUA.SamplingIntervalMS)
}

// ConnectTimeout returns the OPC UA dial timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return ms(c.OPCUA.ConnectTimeoutMS)
}

// PublishInterval returns the cyclic publish interval.
func (c *Config) PublishInterval() time.Duration {
	return ms(c.PublishIntervalMS)
}

// RetryDelay returns the fixed wait between connect attempts.
func (c *Config) RetryDelay() time.Duration {
	return ms(c.Supervisor.RetryDelayMS)
}

// RestartDelay returns the wait before a new supervisor cycle.
func (c *Config) RestartDelay() time.Duration {
	return ms(c.Supervisor.RestartDelayMS)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
