package opcua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	uaclient "github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/opcua"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/tag"
)

// disconnectTimeout bounds best-effort session teardown.
const disconnectTimeout = 5 * time.Second

// AutomationClient is the OPC UA capability the gateway consumes.
// *uaclient.Client satisfies it; tests supply fakes.
type AutomationClient interface {
	// Resolve checks that address names a node on the server.
	Resolve(ctx context.Context, address string) error

	// Subscribe monitors every item on one subscription. Items the server
	// rejects are returned keyed by handle.
	Subscribe(ctx context.Context, interval time.Duration, items []uaclient.MonitoredItem) (<-chan uaclient.Notification, map[uint32]error, error)

	// Read returns the current value of a node.
	Read(ctx context.Context, address string) (any, time.Time, error)

	// Write sets the value of a node.
	Write(ctx context.Context, address string, value any) error

	// Ping performs a cheap server round trip.
	Ping(ctx context.Context) error

	// Close releases the subscription and session.
	Close(ctx context.Context) error
}

// AutomationDialer opens an AutomationClient.
type AutomationDialer func(ctx context.Context, opts uaclient.Options) (AutomationClient, error)

// ChangeEvent is one value change routed to a tag, or a stream failure.
type ChangeEvent struct {
	Handle    tag.Handle
	Tag       string
	Value     any

	// Timestamp is the server's source time for Value.
	Timestamp time.Time

	// Err is a connection-level failure; the stream ends after it.
	Err error
}

// AutomationSession owns the single connection to the automation server.
//
// Thread Safety: All methods are safe for concurrent use.
type AutomationSession struct {
	opts     uaclient.Options
	dial     AutomationDialer
	registry *tag.Registry
	logger   Logger

	mu     sync.RWMutex
	client AutomationClient
}

// NewAutomationSession creates a disconnected session.
func NewAutomationSession(opts uaclient.Options, reg *tag.Registry, dial AutomationDialer, logger Logger) *AutomationSession {
	if logger == nil {
		logger = noopLogger{}
	}
	return &AutomationSession{opts: opts, dial: dial, registry: reg, logger: logger}
}

// Connect opens the session. Security files are checked before any
// network attempt. Every failure is a ConnectError.
func (s *AutomationSession) Connect(ctx context.Context) error {
	if err := CheckSecurityFiles(s.opts.Security); err != nil {
		return &GatewayError{Kind: KindConnect, Op: "automation connect", Topic: s.opts.Endpoint, Err: err}
	}

	client, err := s.dial(ctx, s.opts)
	if err != nil {
		return &GatewayError{Kind: KindConnect, Op: "automation connect", Topic: s.opts.Endpoint, Err: err}
	}

	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()

	if old != nil {
		s.closeClient(old)
	}
	return nil
}

// current returns the live client or a ConnectError.
func (s *AutomationSession) current(op string) (AutomationClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, newError(KindConnect, op, uaclient.ErrNotConnected)
	}
	return s.client, nil
}

// ResolveAddresses checks every named tag's node on the server and
// returns the handles of those that resolved.
//
// A tag that fails to resolve is logged and left out; the returned
// error joins every such failure but the mapping is still usable.
func (s *AutomationSession) ResolveAddresses(ctx context.Context, names []string) (map[string]tag.Handle, error) {
	client, err := s.current("resolve addresses")
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]tag.Handle, len(names))
	var errs []error
	for _, name := range names {
		def, ok := s.registry.ByName(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", name, tag.ErrNotFound))
			continue
		}
		if err := client.Resolve(ctx, def.Address); err != nil {
			if ctx.Err() != nil {
				return nil, newError(KindConnect, "resolve addresses", ctx.Err())
			}
			s.logger.Warn("tag address did not resolve, excluding from monitoring",
				"tag", name, "node", def.Address, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		h, _ := s.registry.HandleFor(name)
		resolved[name] = h
	}
	return resolved, errors.Join(errs...)
}

// BindHandles records the live handle of every resolved tag in the
// registry so notifications and commands can be routed by handle.
// Binding the same pair again is a no-op.
func (s *AutomationSession) BindHandles(handles map[string]tag.Handle) error {
	for name, h := range handles {
		if err := s.registry.BindHandle(h, name); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeChanges registers one change-notification stream for the
// given tags and binds their handles in the registry.
//
// The returned channel closes when the stream ends. A stream failure is
// delivered as a final event with Err set.
func (s *AutomationSession) SubscribeChanges(ctx context.Context, handles map[string]tag.Handle, samplingInterval time.Duration) (<-chan ChangeEvent, error) {
	client, err := s.current("subscribe changes")
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, newError(KindConnect, "subscribe changes", errors.New("no tags to monitor"))
	}

	if err := s.BindHandles(handles); err != nil {
		return nil, newError(KindConnect, "subscribe changes", err)
	}

	items := make([]uaclient.MonitoredItem, 0, len(handles))
	for _, name := range s.registry.Names() {
		h, ok := handles[name]
		if !ok {
			continue
		}
		def, _ := s.registry.ByName(name)
		items = append(items, uaclient.MonitoredItem{Handle: uint32(h), Address: def.Address})
	}

	raw, rejected, err := client.Subscribe(ctx, samplingInterval, items)
	if err != nil {
		return nil, newError(KindConnect, "subscribe changes", err)
	}
	for h, rerr := range rejected {
		def, _ := s.registry.ByHandle(tag.Handle(h))
		s.logger.Warn("monitored item rejected", "tag", def.Name, "node", def.Address, "error", rerr)
	}

	out := make(chan ChangeEvent, cap(raw))
	go s.route(ctx, raw, out)
	return out, nil
}

// route maps raw notifications to tags until raw closes or ctx ends.
func (s *AutomationSession) route(ctx context.Context, raw <-chan uaclient.Notification, out chan<- ChangeEvent) {
	defer close(out)
	for {
		var n uaclient.Notification
		var ok bool
		select {
		case <-ctx.Done():
			return
		case n, ok = <-raw:
		}
		if !ok {
			select {
			case out <- ChangeEvent{Err: newError(KindConnect, "change stream", errors.New("notification stream closed"))}:
			case <-ctx.Done():
			}
			return
		}

		if n.Err != nil {
			select {
			case out <- ChangeEvent{Err: newError(KindConnect, "change stream", n.Err)}:
			case <-ctx.Done():
			}
			return
		}

		def, known := s.registry.ByHandle(tag.Handle(n.Handle))
		if !known {
			s.logger.Warn("notification for unknown handle", "handle", n.Handle)
			continue
		}
		if n.Status != nil {
			s.logger.Warn("bad quality value skipped", "tag", def.Name, "node", def.Address, "error", n.Status)
			continue
		}

		ev := ChangeEvent{Handle: tag.Handle(n.Handle), Tag: def.Name, Value: n.Value, Timestamp: n.Timestamp}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// ReadValue reads the named tag's current value.
// Failures are connection-level ConnectErrors.
func (s *AutomationSession) ReadValue(ctx context.Context, name string) (any, time.Time, error) {
	client, err := s.current("read value")
	if err != nil {
		return nil, time.Time{}, err
	}
	def, ok := s.registry.ByName(name)
	if !ok {
		return nil, time.Time{}, &GatewayError{Kind: KindConnect, Op: "read value", Tag: name, Err: tag.ErrNotFound}
	}
	v, ts, err := client.Read(ctx, def.Address)
	if err != nil {
		return nil, time.Time{}, &GatewayError{Kind: KindConnect, Op: "read value", Tag: name, Err: err}
	}
	return v, ts, nil
}

// WriteValue coerces value to vt and writes it to the tag bound to h.
//
// A value that does not fit vt is a CoercionError and nothing is sent.
// A rejected write is a WriteError. Neither is retried.
func (s *AutomationSession) WriteValue(ctx context.Context, h tag.Handle, value any, vt tag.ValueType) error {
	def, ok := s.registry.ByHandle(h)
	if !ok {
		return &GatewayError{Kind: KindWrite, Op: "write value", Value: value, Err: fmt.Errorf("handle %d is not bound", h)}
	}

	coerced, err := tag.Coerce(value, vt)
	if err != nil {
		return &GatewayError{Kind: KindCoercion, Op: "write value", Tag: def.Name, Value: value, Err: err}
	}

	client, err := s.current("write value")
	if err != nil {
		return &GatewayError{Kind: KindWrite, Op: "write value", Tag: def.Name, Value: value, Err: err}
	}
	if err := client.Write(ctx, def.Address, coerced); err != nil {
		return &GatewayError{Kind: KindWrite, Op: "write value", Tag: def.Name, Value: value, Err: err}
	}
	return nil
}

// Ping checks the server is still answering. Failure is a ConnectError.
func (s *AutomationSession) Ping(ctx context.Context) error {
	client, err := s.current("heartbeat")
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		return newError(KindConnect, "heartbeat", err)
	}
	return nil
}

// Disconnect releases the subscription and the connection. Idempotent.
func (s *AutomationSession) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		s.closeClient(client)
	}
}

func (s *AutomationSession) closeClient(c AutomationClient) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		s.logger.Warn("automation disconnect failed", "error", err)
	}
}
