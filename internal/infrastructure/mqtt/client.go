package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the gateway's broker connection.
//
// Unlike a long-lived service client, it never reconnects on its own:
// a lost connection is reported through the OnDisconnect callback and
// the owner decides how to recover.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// onDisconnect is invoked when the broker connection drops.
	// Set by WithOnDisconnect before connecting; read-only afterwards.
	onDisconnect func(err error)

	// logger for handler errors and panics (optional, set via WithLogger).
	logger Logger
}

// Option configures a Client before it connects.
type Option func(*Client)

// WithOnDisconnect sets the callback invoked once the connection is lost.
// It is installed before the connection attempt, so a drop that races
// Connect is still reported.
func WithOnDisconnect(callback func(err error)) Option {
	return func(c *Client) { c.onDisconnect = callback }
}

// WithLogger sets a logger for handler errors and panics.
// Without one they are silently ignored.
func WithLogger(logger Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
//
// Handlers for one client are invoked in arrival order by the paho
// router goroutine. They should not block for extended periods.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload (typically JSON)
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth)
//  2. Configures Last Will and Testament (LWT) when a status topic is set
//  3. Attempts a single connection, bounded by ctx and the connect timeout
//  4. Publishes online status to the status topic
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: wrapping ErrConnectionFailed if the attempt fails or ctx ends
func Connect(ctx context.Context, cfg config.MQTTConfig, options ...Option) (*Client, error) {
	opts := buildClientOptions(cfg)
	if cfg.StatusTopic != "" {
		configureLWT(opts, cfg.StatusTopic, cfg.ClientID)
	}

	c := &Client{
		cfg:     cfg,
		options: opts,
	}
	for _, o := range options {
		o(c)
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if err := waitToken(ctx, token, defaultConnectTimeout); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.publishOnlineStatus()

	return c, nil
}

// waitToken blocks until the token completes, ctx ends or timeout elapses.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}

// publishOnlineStatus publishes the gateway's online status to the status topic.
func (c *Client) publishOnlineStatus() {
	if c.cfg.StatusTopic == "" {
		return
	}
	payload := buildOnlinePayload(c.cfg.ClientID)
	token := c.client.Publish(c.cfg.StatusTopic, byte(c.cfg.QoS), true, payload)
	token.WaitTimeout(defaultPublishTimeout)
}

// Close gracefully disconnects from the MQTT broker.
//
// It performs:
//  1. Publishes graceful offline status (different from LWT crash status)
//  2. Waits for pending publish operations
//  3. Disconnects from broker
//
// Close is idempotent.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() && c.cfg.StatusTopic != "" {
		payload := buildOfflinePayload(c.cfg.ClientID)
		token := c.client.Publish(c.cfg.StatusTopic, byte(c.cfg.QoS), true, payload)
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.logger; logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.logger; logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
