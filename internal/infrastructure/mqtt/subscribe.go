package mqtt

import (
	"context"
	"fmt"
)

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "commands/+/setpoint"
//   - # (multi-level): "commands/#" matches every command topic
//
// Subscriptions are not restored after a lost connection; the owner
// reconnects and subscribes again.
//
// Example:
//
//	err := client.Subscribe(ctx, topics.CommandFilter(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}
