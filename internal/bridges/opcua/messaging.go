package opcua

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/mqtt"
)

// BrokerClient is the MQTT capability the gateway consumes.
// *mqtt.Client satisfies it; tests supply fakes.
type BrokerClient interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
	Close() error
}

// BrokerDialer opens a BrokerClient. onLost must be installed before the
// connection is attempted so that no drop goes unreported.
type BrokerDialer func(ctx context.Context, onLost func(err error)) (BrokerClient, error)

// RawMessage is one message received on the command filter.
type RawMessage struct {
	Topic   string
	Payload []byte
}

// MessagingSession owns the single connection to the broker.
//
// Inbound messages are queued without bound and delivered in arrival
// order, so a slow consumer never stalls the broker client's router.
//
// Thread Safety: All methods are safe for concurrent use.
type MessagingSession struct {
	dial   BrokerDialer
	qos    byte
	logger Logger

	mu     sync.RWMutex
	client BrokerClient
	lost   chan struct{}
	queue  *messageQueue
}

// NewMessagingSession creates a disconnected session. qos applies to
// the command subscription.
func NewMessagingSession(dial BrokerDialer, qos byte, logger Logger) *MessagingSession {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MessagingSession{dial: dial, qos: qos, logger: logger}
}

// Connect opens the broker connection. Failure is a ConnectError.
func (s *MessagingSession) Connect(ctx context.Context) error {
	lost := make(chan struct{})
	var once sync.Once
	onLost := func(err error) {
		once.Do(func() {
			s.logger.Warn("broker connection lost", "error", err)
			close(lost)
		})
	}

	client, err := s.dial(ctx, onLost)
	if err != nil {
		return newError(KindConnect, "messaging connect", err)
	}

	s.mu.Lock()
	old, oldQueue := s.client, s.queue
	s.client = client
	s.lost = lost
	s.queue = nil
	s.mu.Unlock()

	if oldQueue != nil {
		oldQueue.close()
	}
	if old != nil {
		closeBroker(old, s.logger)
	}
	return nil
}

// Lost is closed when the current broker connection drops.
// It returns nil before the first Connect.
func (s *MessagingSession) Lost() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lost
}

// SubscribeCommands subscribes to filter and returns every matching
// message in arrival order. The channel closes on Disconnect.
func (s *MessagingSession) SubscribeCommands(ctx context.Context, filter string) (<-chan RawMessage, error) {
	s.mu.Lock()
	client := s.client
	if client == nil {
		s.mu.Unlock()
		return nil, &GatewayError{Kind: KindConnect, Op: "subscribe commands", Topic: filter, Err: mqtt.ErrNotConnected}
	}
	if s.queue != nil {
		s.queue.close()
	}
	q := newMessageQueue()
	s.queue = q
	s.mu.Unlock()

	err := client.Subscribe(ctx, filter, s.qos, func(topic string, payload []byte) error {
		q.push(RawMessage{Topic: topic, Payload: append([]byte(nil), payload...)})
		return nil
	})
	if err != nil {
		q.close()
		return nil, &GatewayError{Kind: KindConnect, Op: "subscribe commands", Topic: filter, Err: err}
	}

	go q.pump()
	return q.out, nil
}

// Publish sends one message. Failure is a PublishError.
func (s *MessagingSession) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client == nil {
		return &GatewayError{Kind: KindPublish, Op: "publish", Topic: topic, Err: mqtt.ErrNotConnected}
	}
	if err := client.Publish(ctx, topic, payload, qos, retain); err != nil {
		return &GatewayError{Kind: KindPublish, Op: "publish", Topic: topic, Err: err}
	}
	return nil
}

// Disconnect closes the connection and ends the command stream. Idempotent.
func (s *MessagingSession) Disconnect() {
	s.mu.Lock()
	client, q := s.client, s.queue
	s.client = nil
	s.queue = nil
	s.mu.Unlock()

	if q != nil {
		q.close()
	}
	if client != nil {
		closeBroker(client, s.logger)
	}
}

func closeBroker(client BrokerClient, logger Logger) {
	if err := client.Close(); err != nil && !errors.Is(err, mqtt.ErrNotConnected) {
		logger.Warn("messaging disconnect failed", "error", err)
	}
}

// messageQueue is an unbounded FIFO between the broker router and the
// command consumer.
type messageQueue struct {
	mu      sync.Mutex
	pending []RawMessage
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
	out     chan RawMessage
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan RawMessage),
	}
}

// push never blocks.
func (q *messageQueue) push(m RawMessage) {
	select {
	case <-q.done:
		return
	default:
	}

	q.mu.Lock()
	q.pending = append(q.pending, m)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *messageQueue) close() {
	q.once.Do(func() { close(q.done) })
}

// pump moves queued messages to out until close. out is closed on exit.
func (q *messageQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		var next RawMessage
		ready := len(q.pending) > 0
		if ready {
			next = q.pending[0]
			q.pending[0] = RawMessage{}
			q.pending = q.pending[1:]
		}
		q.mu.Unlock()

		if !ready {
			select {
			case <-q.signal:
				continue
			case <-q.done:
				return
			}
		}

		select {
		case q.out <- next:
		case <-q.done:
			return
		}
	}
}
