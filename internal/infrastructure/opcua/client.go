package opcua

import (
	"context"
	"fmt"
	"sync"
	"time"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

const (
	// defaultConnectTimeout bounds discovery plus session creation.
	defaultConnectTimeout = 10 * time.Second

	// readMaxAge is the cache age the server may answer reads from, in ms.
	readMaxAge = 2000

	// notifyBuffer is the capacity of the raw publish notification channel.
	notifyBuffer = 256
)

// heartbeatNodeID is Server_ServerStatus_CurrentTime.
var heartbeatNodeID = ua.NewNumericNodeID(0, 2258)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options describes one session to an OPC UA server.
type Options struct {
	Endpoint string

	// Security is nil for an unsecured session.
	Security *Security

	Username string
	Password string

	ApplicationURI string
	SessionName    string
	ConnectTimeout time.Duration
}

// MonitoredItem requests change notifications for one node.
type MonitoredItem struct {
	Handle  uint32
	Address string
}

// Notification is one value change, or a stream-level error, from a subscription.
type Notification struct {
	Handle    uint32
	Value     any
	Timestamp time.Time

	// Status is non-nil when the server reported a non-Good quality for this item.
	Status error

	// Err is non-nil when the subscription itself failed. No further
	// notifications follow an Err.
	Err error
}

// Client is a single OPC UA session backed by gopcua.
//
// It never reconnects on its own. Close is idempotent.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client *gopcua.Client
	opts   Options
	logger Logger

	// session ends the context gopcua's background loops run on.
	session context.CancelFunc

	mu     sync.Mutex
	sub    *gopcua.Subscription
	cancel context.CancelFunc
	closed bool
}

// Dial discovers the server endpoints, selects the one matching
// opts.Security and opens a session.
//
// Every failure wraps ErrConnectionFailed.
func Dial(ctx context.Context, opts Options, logger Logger) (*Client, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoints, err := gopcua.GetEndpoints(ctx, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: get endpoints: %w", ErrConnectionFailed, err)
	}

	ep, err := pickEndpoint(endpoints, opts.Security)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	logger.Info("selected endpoint",
		"policy", ep.SecurityPolicyURI,
		"mode", securityModeStr(ep.SecurityMode),
		"url", ep.EndpointURL,
	)

	// The server may advertise an internal hostname we cannot reach.
	connectURL := opts.Endpoint

	c, err := gopcua.NewClient(connectURL, clientOptions(ep, opts)...)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %w", ErrConnectionFailed, err)
	}

	// gopcua runs its publish loop on the Connect context, so the session
	// gets its own context. The dial deadline only applies until Connect returns.
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, sessionCancel)
	err = c.Connect(sessionCtx)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		sessionCancel()
		_ = c.Close(context.Background())
		return nil, fmt.Errorf("%w: connect: %w", ErrConnectionFailed, err)
	}

	return &Client{client: c, opts: opts, logger: logger, session: sessionCancel}, nil
}

// pickEndpoint resolves the requested security against the offered endpoints.
func pickEndpoint(endpoints []*ua.EndpointDescription, sec *Security) (*ua.EndpointDescription, error) {
	policy, mode := "None", "None"
	if sec != nil {
		policy, mode = sec.Policy, sec.Mode
	}

	policyURI, err := PolicyURI(policy)
	if err != nil {
		return nil, err
	}
	secMode, err := SecurityMode(mode)
	if err != nil {
		return nil, err
	}

	ep := selectEndpoint(endpoints, policyURI, secMode)
	if ep == nil {
		return nil, fmt.Errorf("%w: policy=%s mode=%s", ErrNoEndpoint, policy, mode)
	}
	return ep, nil
}

// clientOptions builds the gopcua options for a selected endpoint.
func clientOptions(ep *ua.EndpointDescription, opts Options) []gopcua.Option {
	tokenType := ua.UserTokenTypeAnonymous
	if opts.Username != "" {
		tokenType = ua.UserTokenTypeUserName
	}

	out := []gopcua.Option{
		gopcua.SecurityFromEndpoint(ep, tokenType),
		gopcua.AutoReconnect(false),
	}
	if opts.ApplicationURI != "" {
		out = append(out, gopcua.ApplicationURI(opts.ApplicationURI))
	}
	if opts.SessionName != "" {
		out = append(out, gopcua.SessionName(opts.SessionName))
	}

	if opts.Username != "" {
		out = append(out, gopcua.AuthUsername(opts.Username, opts.Password))
	} else {
		out = append(out, gopcua.AuthAnonymous())
	}

	if ep.SecurityPolicyURI != ua.SecurityPolicyURINone && opts.Security != nil {
		out = append(out,
			gopcua.CertificateFile(opts.Security.CertFile),
			gopcua.PrivateKeyFile(opts.Security.KeyFile),
		)
	}
	return out
}

// Resolve checks that address names an existing node on the server.
func (c *Client) Resolve(ctx context.Context, address string) error {
	id, err := parseNodeID(address)
	if err != nil {
		return err
	}

	resp, err := c.client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{
			{NodeID: id, AttributeID: ua.AttributeIDNodeClass},
		},
	})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", address, err)
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("resolve %s: %w: empty response", address, ErrBadStatus)
	}
	if status := resp.Results[0].Status; status != ua.StatusOK {
		return fmt.Errorf("resolve %s: %w: %v", address, ErrBadStatus, status)
	}
	return nil
}

// Subscribe creates one subscription monitoring every item.
//
// Items the server rejects are returned in the rejected map keyed by
// handle and are not monitored. The notification channel is closed
// after ctx ends, Close is called, or an Err notification is sent.
func (c *Client) Subscribe(ctx context.Context, interval time.Duration, items []MonitoredItem) (<-chan Notification, map[uint32]error, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrNotConnected
	}
	if c.sub != nil {
		c.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: subscription already active", ErrSubscribeFailed)
	}
	c.mu.Unlock()

	rejected := make(map[uint32]error)
	requests := make([]*ua.MonitoredItemCreateRequest, 0, len(items))
	accepted := make([]MonitoredItem, 0, len(items))
	for _, it := range items {
		id, err := parseNodeID(it.Address)
		if err != nil {
			rejected[it.Handle] = err
			continue
		}
		requests = append(requests, gopcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, it.Handle))
		accepted = append(accepted, it)
	}
	if len(requests) == 0 {
		return nil, rejected, fmt.Errorf("%w: no valid items", ErrSubscribeFailed)
	}

	raw := make(chan *gopcua.PublishNotificationData, notifyBuffer)
	sub, err := c.client.Subscribe(ctx, &gopcua.SubscriptionParameters{Interval: interval}, raw)
	if err != nil {
		return nil, rejected, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	resp, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, requests...)
	if err != nil {
		_ = sub.Cancel(context.Background())
		return nil, rejected, fmt.Errorf("%w: monitor: %w", ErrSubscribeFailed, err)
	}
	if resp == nil {
		_ = sub.Cancel(context.Background())
		return nil, rejected, fmt.Errorf("%w: nil monitor response", ErrSubscribeFailed)
	}
	for i, res := range resp.Results {
		if i >= len(accepted) {
			break
		}
		if res.StatusCode != ua.StatusOK {
			rejected[accepted[i].Handle] = fmt.Errorf("%w: %v", ErrBadStatus, res.StatusCode)
		}
	}
	if len(rejected) == len(items) {
		_ = sub.Cancel(context.Background())
		return nil, rejected, fmt.Errorf("%w: every item rejected", ErrSubscribeFailed)
	}

	subCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.sub = sub
	c.cancel = cancel
	c.mu.Unlock()

	out := make(chan Notification, notifyBuffer)
	go c.forward(subCtx, raw, out)

	return out, rejected, nil
}

// forward translates raw publish data into Notifications until ctx ends
// or a subscription-level error is seen.
func (c *Client) forward(ctx context.Context, raw <-chan *gopcua.PublishNotificationData, out chan<- Notification) {
	defer close(out)

	send := func(n Notification) bool {
		select {
		case out <- n:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var res *gopcua.PublishNotificationData
		select {
		case <-ctx.Done():
			return
		case res = <-raw:
		}
		if res == nil {
			continue
		}

		if res.Error != nil {
			send(Notification{Err: fmt.Errorf("%w: %w", ErrSubscriptionLost, res.Error)})
			return
		}

		switch x := res.Value.(type) {
		case *ua.DataChangeNotification:
			for _, item := range x.MonitoredItems {
				if item == nil || item.Value == nil {
					continue
				}
				if !send(toNotification(item.ClientHandle, item.Value)) {
					return
				}
			}
		case *ua.StatusChangeNotification:
			if x.Status != ua.StatusOK {
				send(Notification{Err: fmt.Errorf("%w: %v", ErrSubscriptionLost, x.Status)})
				return
			}
		default:
			c.logger.Debug("ignoring publish result", "type", fmt.Sprintf("%T", res.Value))
		}
	}
}

// toNotification converts a monitored item value.
func toNotification(handle uint32, dv *ua.DataValue) Notification {
	n := Notification{Handle: handle, Timestamp: dataValueTime(dv)}
	if dv.Status != ua.StatusOK {
		n.Status = fmt.Errorf("%w: %v", ErrBadStatus, dv.Status)
		return n
	}
	if dv.Value != nil {
		n.Value = dv.Value.Value()
	}
	return n
}

// dataValueTime prefers the source timestamp, then the server timestamp.
func dataValueTime(dv *ua.DataValue) time.Time {
	if !dv.SourceTimestamp.IsZero() {
		return dv.SourceTimestamp
	}
	return dv.ServerTimestamp
}

// Read returns the current value of a node.
func (c *Client) Read(ctx context.Context, address string) (any, time.Time, error) {
	id, err := parseNodeID(address)
	if err != nil {
		return nil, time.Time{}, err
	}
	dv, err := c.readValue(ctx, id)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read %s: %w", address, err)
	}
	var v any
	if dv.Value != nil {
		v = dv.Value.Value()
	}
	return v, dataValueTime(dv), nil
}

func (c *Client) readValue(ctx context.Context, id *ua.NodeID) (*ua.DataValue, error) {
	resp, err := c.client.Read(ctx, &ua.ReadRequest{
		MaxAge: readMaxAge,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: id, AttributeID: ua.AttributeIDValue},
		},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrBadStatus)
	}
	dv := resp.Results[0]
	if dv.Status != ua.StatusOK {
		return nil, fmt.Errorf("%w: %v", ErrBadStatus, dv.Status)
	}
	return dv, nil
}

// Write sets the value attribute of a node. value must already have the
// Go type matching the node's data type.
func (c *Client) Write(ctx context.Context, address string, value any) error {
	id, err := parseNodeID(address)
	if err != nil {
		return err
	}
	variant, err := ua.NewVariant(value)
	if err != nil {
		return fmt.Errorf("write %s: variant: %w", address, err)
	}

	resp, err := c.client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      id,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        variant,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", address, err)
	}
	if len(resp.Results) > 0 && resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("write %s: %w: %v", address, ErrBadStatus, resp.Results[0])
	}
	return nil
}

// Ping reads the server's CurrentTime node.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.readValue(ctx, heartbeatNodeID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Close cancels the subscription and closes the session. Idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Cancel(ctx); err != nil {
			c.logger.Debug("subscription cancel failed", "error", err)
		}
	}
	if c.client == nil {
		return nil
	}
	err := c.client.Close(ctx)
	if c.session != nil {
		c.session()
	}
	return err
}

// parseNodeID wraps ua.ParseNodeID with ErrInvalidNodeID.
func parseNodeID(address string) (*ua.NodeID, error) {
	id, err := ua.ParseNodeID(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidNodeID, address, err)
	}
	return id, nil
}

// noopLogger discards all logs.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
