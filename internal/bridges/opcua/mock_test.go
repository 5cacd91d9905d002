package opcua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/mqtt"
	uaclient "github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/opcua"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/tag"
)

// testRegistry returns a registry with one tag of each value type.
func testRegistry(t *testing.T) *tag.Registry {
	t.Helper()
	reg, err := tag.Load([]tag.Definition{
		{Name: "temperature", Address: "ns=2;s=Line1.Temperature", TopicSuffix: "line1/temp", Type: tag.Float, Command: true},
		{Name: "count", Address: "ns=2;s=Line1.Count", TopicSuffix: "line1/count", Type: tag.Int32, Command: true},
		{Name: "running", Address: "ns=2;s=Line1.Running", TopicSuffix: "line1/running", Type: tag.Boolean, Command: true},
		{Name: "recipe", Address: "ns=2;s=Line1.Recipe", TopicSuffix: "line1/recipe", Type: tag.String, Command: true},
	})
	if err != nil {
		t.Fatalf("tag.Load() error = %v", err)
	}
	return reg
}

func testTopics() mqtt.Topics {
	return mqtt.NewTopics("sensors", "commands")
}

// MockAutomationClient implements AutomationClient for testing.
type MockAutomationClient struct {
	mu sync.Mutex

	unresolved map[string]bool
	subscribed []uaclient.MonitoredItem
	notify     chan uaclient.Notification
	writes     []mockWrite
	reads      map[string]any
	writeErr   error
	readErr    error
	pingErr    error
	closed     int
}

type mockWrite struct {
	Address string
	Value   any
}

func NewMockAutomationClient() *MockAutomationClient {
	return &MockAutomationClient{
		unresolved: make(map[string]bool),
		notify:     make(chan uaclient.Notification, 64),
		reads:      make(map[string]any),
	}
}

func (m *MockAutomationClient) Resolve(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unresolved[address] {
		return uaclient.ErrBadStatus
	}
	return nil
}

func (m *MockAutomationClient) Subscribe(_ context.Context, _ time.Duration, items []uaclient.MonitoredItem) (<-chan uaclient.Notification, map[uint32]error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, items...)
	m.notify = make(chan uaclient.Notification, 64)
	return m.notify, nil, nil
}

func (m *MockAutomationClient) Read(_ context.Context, address string) (any, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, time.Time{}, m.readErr
	}
	return m.reads[address], time.Time{}, nil
}

func (m *MockAutomationClient) Write(_ context.Context, address string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, mockWrite{Address: address, Value: value})
	return nil
}

func (m *MockAutomationClient) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *MockAutomationClient) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// Notify simulates a data change for handle.
func (m *MockAutomationClient) Notify(handle tag.Handle, value any, ts time.Time) {
	m.Send(uaclient.Notification{Handle: uint32(handle), Value: value, Timestamp: ts})
}

// Send delivers a raw notification on the current subscription.
func (m *MockAutomationClient) Send(n uaclient.Notification) {
	m.mu.Lock()
	ch := m.notify
	m.mu.Unlock()
	ch <- n
}

func (m *MockAutomationClient) GetWrites() []mockWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockWrite(nil), m.writes...)
}

func (m *MockAutomationClient) GetSubscribed() []uaclient.MonitoredItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uaclient.MonitoredItem(nil), m.subscribed...)
}

func (m *MockAutomationClient) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockBrokerClient implements BrokerClient for testing.
type MockBrokerClient struct {
	mu           sync.Mutex
	published    []mockPublish
	handlers     map[string]mqtt.MessageHandler
	onDisconnect func(err error)
	publishErr   error
	closed       int
	closeErr     error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockBrokerClient() *MockBrokerClient {
	return &MockBrokerClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockBrokerClient) Publish(_ context.Context, topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockBrokerClient) Subscribe(_ context.Context, topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// SetOnDisconnect installs the connection-lost callback a dialer receives.
func (m *MockBrokerClient) SetOnDisconnect(callback func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = callback
}

func (m *MockBrokerClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

func (m *MockBrokerClient) setPublishErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErr = err
}

func (m *MockBrokerClient) closedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SimulateMessage delivers a message to the handler subscribed on filter.
func (m *MockBrokerClient) SimulateMessage(filter, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[filter]
	m.mu.Unlock()
	if ok {
		_ = handler(topic, payload)
	}
}

// SimulateDisconnect fires the connection-lost callback.
func (m *MockBrokerClient) SimulateDisconnect(err error) {
	m.mu.Lock()
	cb := m.onDisconnect
	m.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (m *MockBrokerClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockBrokerClient) HasSubscription(filter string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[filter]
	return ok
}

// dialLog records dial order across both sessions.
type dialLog struct {
	mu    sync.Mutex
	calls []string
}

func (d *dialLog) add(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, name)
}

func (d *dialLog) get() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

var errDialRefused = errors.New("connection refused")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// recordingLogger keeps Error calls for assertions.
type recordingLogger struct {
	noopLogger
	mu     sync.Mutex
	errors [][]any
	warns  []string
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) warned(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if w == msg {
			return true
		}
	}
	return false
}

func (l *recordingLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, append([]any{msg}, keysAndValues...))
}

// errorKinds returns the "kind" value of every recorded error.
func (l *recordingLogger) errorKinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var kinds []string
	for _, e := range l.errors {
		for i := 1; i+1 < len(e); i += 2 {
			if e[i] == "kind" {
				kinds = append(kinds, e[i+1].(string))
			}
		}
	}
	return kinds
}
