package mqtt

import (
	"context"
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic and waits for the
// broker acknowledgment.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// The wait is bounded by ctx and by the publish timeout. Every failure
// wraps ErrPublishFailed, ErrNotConnected, ErrInvalidTopic or ErrInvalidQoS.
//
// Example:
//
//	topic := topics.Sensor("line1/temp")
//	err := client.Publish(ctx, topic, []byte(`{"value":23.5}`), 1, false)
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
