// OPC UA to MQTT Gateway
//
// This is the main entry point for the gateway. It mirrors OPC UA value
// changes onto MQTT topics and routes MQTT commands back into OPC UA
// writes, reconnecting both sides on its own after outages.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/api"
	gateway "github.com/nerrad567/opcua-mqtt-gateway/internal/bridges/opcua"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/config"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/mqtt"
	uaclient "github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/opcua"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/tag"
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

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown and an error only for startup failures.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting OPC UA MQTT gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log, err = logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing log file: %v\n", closeErr)
		}
	}()
	log.Info("configuration loaded",
		"path", configPath,
		"endpoint", cfg.OPCUA.Endpoint,
		"broker", mqtt.BrokerURL(cfg.MQTT),
		"mode", string(cfg.PublishMode),
	)

	registry, err := tag.LoadFile(cfg.TagsMapPath())
	if err != nil {
		return fmt.Errorf("loading tag map: %w", err)
	}
	log.Info("tag map loaded", "path", cfg.TagsMapPath(), "tags", registry.Len())

	security, err := gateway.ParseSecurityDescriptor(cfg.OPCUA.Security, cfg.BaseDir)
	if err != nil {
		return fmt.Errorf("parsing security descriptor: %w", err)
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	supervisor := newSupervisor(cfg, registry, security, log, gateway.NewMetrics(metricsRegistry))

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Logger:   log.With("component", "api"),
			Status:   supervisor,
			Gatherer: metricsRegistry,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("gateway started, press Ctrl+C to stop")
	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("running gateway: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// newSupervisor wires the real OPC UA and MQTT clients into the gateway.
func newSupervisor(cfg *config.Config, reg *tag.Registry, security *uaclient.Security, log *logging.Logger, metrics *gateway.Metrics) *gateway.Supervisor {
	uaLog := log.With("component", "opcua")
	mqttLog := log.With("component", "mqtt")
	gwLog := log.With("component", "gateway")

	uaOpts := uaclient.Options{
		Endpoint:       cfg.OPCUA.Endpoint,
		Security:       security,
		Username:       cfg.OPCUA.Username,
		Password:       cfg.OPCUA.Password,
		ApplicationURI: cfg.OPCUA.ApplicationURI,
		SessionName:    "opcua-mqtt-gateway",
		ConnectTimeout: cfg.ConnectTimeout(),
	}
	dialAutomation := func(ctx context.Context, opts uaclient.Options) (gateway.AutomationClient, error) {
		client, err := uaclient.Dial(ctx, opts, uaLog)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	dialBroker := func(ctx context.Context, onLost func(error)) (gateway.BrokerClient, error) {
		client, err := mqtt.Connect(ctx, cfg.MQTT, mqtt.WithOnDisconnect(onLost), mqtt.WithLogger(mqttLog))
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return gateway.NewSupervisor(gateway.SupervisorOptions{
		Registry:   reg,
		Topics:     mqtt.NewTopics(cfg.MQTT.BaseTopics.Sensors, cfg.MQTT.BaseTopics.Commands),
		Automation: gateway.NewAutomationSession(uaOpts, reg, dialAutomation, uaLog),
		Messaging:  gateway.NewMessagingSession(dialBroker, byte(cfg.MQTT.QoS), mqttLog),
		Retry: gateway.RetryPolicy{
			Delay:       cfg.RetryDelay(),
			MaxAttempts: cfg.Supervisor.MaxAttempts,
		},
		RestartDelay:     cfg.RestartDelay(),
		PublishMode:      cfg.PublishMode,
		PublishInterval:  cfg.PublishInterval(),
		SamplingInterval: cfg.SamplingInterval(),
		Heartbeat:        cfg.Keepalive(),
		QoS:              byte(cfg.MQTT.QoS),
		Retain:           cfg.MQTT.Retain,
		Logger:           gwLog,
		Metrics:          metrics,
	})
}

// getConfigPath returns the configuration file path.
// Checks GATEWAY_CONFIG environment variable first, then uses default.
func getConfigPath() string {
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
