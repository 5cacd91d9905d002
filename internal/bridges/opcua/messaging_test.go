package opcua

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/mqtt"
)

func newTestMessaging(client *MockBrokerClient) *MessagingSession {
	return newTestMessagingWithLogger(client, nil)
}

func newTestMessagingWithLogger(client *MockBrokerClient, logger Logger) *MessagingSession {
	return NewMessagingSession(func(_ context.Context, onLost func(error)) (BrokerClient, error) {
		client.SetOnDisconnect(onLost)
		return client, nil
	}, 1, logger)
}

func TestMessagingSession_ConnectFailure(t *testing.T) {
	s := NewMessagingSession(func(context.Context, func(error)) (BrokerClient, error) { return nil, errDialRefused }, 1, nil)

	if err := s.Connect(context.Background()); !errors.Is(err, ErrConnect) {
		t.Errorf("Connect() error = %v, want ErrConnect", err)
	}
	if err := s.Publish(context.Background(), "t", nil, 1, false); !errors.Is(err, ErrPublish) {
		t.Errorf("Publish() before connect = %v, want ErrPublish", err)
	}
}

func TestMessagingSession_CommandsArriveInOrder(t *testing.T) {
	client := NewMockBrokerClient()
	s := newTestMessaging(client)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	cmds, err := s.SubscribeCommands(ctx, "commands/#")
	if err != nil {
		t.Fatalf("SubscribeCommands() error = %v", err)
	}

	// Producer outruns the consumer; nothing may block or be lost.
	const n = 500
	for i := 0; i < n; i++ {
		client.SimulateMessage("commands/#", "commands/line1/count", []byte(fmt.Sprintf(`{"value":%d}`, i)))
	}

	for i := 0; i < n; i++ {
		select {
		case m := <-cmds:
			if want := fmt.Sprintf(`{"value":%d}`, i); string(m.Payload) != want {
				t.Fatalf("message %d = %s, want %s", i, m.Payload, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}

	s.Disconnect()
	select {
	case _, ok := <-cmds:
		if ok {
			t.Error("stream should close on disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestMessagingSession_PublishError(t *testing.T) {
	client := NewMockBrokerClient()
	client.publishErr = mqtt.ErrPublishFailed
	s := newTestMessaging(client)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := s.Publish(context.Background(), "sensors/line1/temp", []byte("{}"), 1, false)
	if !errors.Is(err, ErrPublish) || !errors.Is(err, mqtt.ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublish wrapping cause", err)
	}
}

func TestMessagingSession_Lost(t *testing.T) {
	client := NewMockBrokerClient()
	s := newTestMessaging(client)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	lost := s.Lost()
	client.SimulateDisconnect(errors.New("EOF"))
	client.SimulateDisconnect(errors.New("EOF"))

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("Lost() not closed")
	}
}

func TestMessagingSession_LostDuringConnect(t *testing.T) {
	client := NewMockBrokerClient()
	s := NewMessagingSession(func(_ context.Context, onLost func(error)) (BrokerClient, error) {
		client.SetOnDisconnect(onLost)
		// The broker drops the link before the dialer returns.
		client.SimulateDisconnect(errors.New("connection reset"))
		return client, nil
	}, 1, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-s.Lost():
	case <-time.After(time.Second):
		t.Fatal("drop during connect was not reported by Lost()")
	}
}

func TestMessagingSession_ReconnectLogsCloseError(t *testing.T) {
	client := NewMockBrokerClient()
	logger := &recordingLogger{}
	s := newTestMessagingWithLogger(client, logger)
	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	client.closeErr = errors.New("write: broken pipe")
	client.mu.Unlock()

	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if client.closedCount() != 1 {
		t.Errorf("Close calls = %d, want 1 for the replaced client", client.closedCount())
	}
	if !logger.warned("messaging disconnect failed") {
		t.Error("close failure of the replaced client was not logged")
	}
}

func TestMessagingSession_DisconnectIdempotent(t *testing.T) {
	client := NewMockBrokerClient()
	s := newTestMessaging(client)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Disconnect()
	s.Disconnect()

	if client.closedCount() != 1 {
		t.Errorf("Close calls = %d, want 1", client.closedCount())
	}
	if _, err := s.SubscribeCommands(context.Background(), "commands/#"); !errors.Is(err, ErrConnect) {
		t.Errorf("SubscribeCommands after disconnect = %v, want ErrConnect", err)
	}
}
