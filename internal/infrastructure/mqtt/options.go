package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is used when the configured keepalive is not positive.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// BrokerURL returns the tcp:// URL for the configured broker.
func BrokerURL(cfg config.MQTTConfig) string {
	return fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
}

// buildClientOptions creates paho MQTT options from gateway config.
//
// This configures:
//   - Broker URL
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Clean session mode
//   - No automatic reconnect or connect retry
//   - In-order delivery of inbound messages
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(BrokerURL(cfg))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)

	// Recovery is owned by the connection supervisor.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := time.Duration(cfg.KeepAlive) * time.Second
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The broker publishes the will if the gateway drops off without a
// clean disconnect, so consumers can tell stale sensor values apart.
//
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	willPayload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)

	opts.SetWill(topic, willPayload, 1, true)
}

// buildOnlinePayload creates the JSON payload for online status messages.
func buildOnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// buildOfflinePayload creates the JSON payload for graceful offline status.
func buildOfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
