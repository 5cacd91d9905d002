package opcua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/config"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/opcua-mqtt-gateway/internal/tag"
)

// GatewayState is the supervisor's lifecycle position.
type GatewayState string

const (
	StateIdle                 GatewayState = "Idle"
	StateConnectingMessaging  GatewayState = "ConnectingMessaging"
	StateConnectingAutomation GatewayState = "ConnectingAutomation"
	StateSubscribingTags      GatewayState = "SubscribingTags"
	StateRunning              GatewayState = "Running"
	StateRestarting           GatewayState = "Restarting"
	StateStopped              GatewayState = "Stopped"
)

var allGatewayStates = []GatewayState{
	StateIdle, StateConnectingMessaging, StateConnectingAutomation,
	StateSubscribingTags, StateRunning, StateRestarting, StateStopped,
}

// SessionState is the state of one external connection.
type SessionState string

const (
	SessionDisconnected SessionState = "Disconnected"
	SessionConnecting   SessionState = "Connecting"
	SessionConnected    SessionState = "Connected"
	SessionFailed       SessionState = "Failed"
)

// Session labels used in logs and metrics.
const (
	sessionMessaging  = "messaging"
	sessionAutomation = "automation"
)

// publishQueueSize bounds change notifications waiting for the broker.
// A full queue blocks the notification reader; nothing is dropped.
const publishQueueSize = 256

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State      GatewayState `json:"state"`
	Messaging  SessionState `json:"messaging"`
	Automation SessionState `json:"automation"`
	Restarts   int          `json:"restarts"`
	LastError  string       `json:"last_error,omitempty"`
	Since      time.Time    `json:"since"`
}

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Registry   *tag.Registry
	Topics     mqtt.Topics
	Automation *AutomationSession
	Messaging  *MessagingSession

	// Retry bounds each session's connect phase within one cycle.
	// Messaging and automation each get their own budget.
	Retry RetryPolicy

	// RestartDelay is the wait between teardown and the next cycle.
	RestartDelay time.Duration

	PublishMode      config.PublishMode
	PublishInterval  time.Duration
	SamplingInterval time.Duration

	// Heartbeat is the automation liveness check interval. Zero disables it.
	Heartbeat time.Duration

	QoS    byte
	Retain bool

	Logger  Logger
	Metrics *Metrics

	// OnStateChange, when set, observes every gateway state transition.
	// It is called synchronously and must not block.
	OnStateChange func(GatewayState)
}

// Supervisor runs the gateway lifecycle: connect messaging, connect
// automation, subscribe, run, and on any fatal error tear down and
// start over. It only stops when its context ends.
//
// Thread Safety: Status is safe for concurrent use. Run must be called once.
type Supervisor struct {
	opts       SupervisorOptions
	translator *Translator
	logger     Logger
	metrics    *Metrics
	now        func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewSupervisor creates an Idle supervisor.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.PublishMode == "" {
		opts.PublishMode = config.PublishOnChange
	}
	s := &Supervisor{
		opts:       opts,
		translator: NewTranslator(opts.Registry, opts.Topics),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        time.Now,
		status: Status{
			State:      StateIdle,
			Messaging:  SessionDisconnected,
			Automation: SessionDisconnected,
			Since:      time.Now().UTC(),
		},
	}
	s.metrics.setState(StateIdle)
	return s
}

// Status returns the current snapshot.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Run drives restart cycles until ctx ends, then tears down and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	for {
		err := s.runCycle(ctx)
		s.teardown()

		if ctx.Err() != nil {
			s.logger.Info("gateway stopping")
			return nil
		}

		s.recordError(err)
		s.logger.Error("gateway cycle failed, restarting", append(errorArgs(err), "delay", s.opts.RestartDelay)...)
		s.setState(StateRestarting)
		s.metrics.incRestart()

		if err := sleep(ctx, s.opts.RestartDelay); err != nil {
			s.logger.Info("gateway stopping")
			return nil
		}
	}
}

// runCycle performs one connect-subscribe-run pass. It returns the error
// that ended the cycle.
func (s *Supervisor) runCycle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(StateConnectingMessaging)
	if err := s.connect(ctx, sessionMessaging, s.opts.Messaging.Connect); err != nil {
		return err
	}

	s.setState(StateConnectingAutomation)
	if err := s.connect(ctx, sessionAutomation, s.opts.Automation.Connect); err != nil {
		return err
	}

	s.setState(StateSubscribingTags)
	handles, err := s.opts.Automation.ResolveAddresses(ctx, s.opts.Registry.Names())
	if len(handles) == 0 {
		if err == nil {
			err = errors.New("no tags configured")
		}
		return newError(KindConnect, "resolve addresses", fmt.Errorf("no tag resolved: %w", err))
	}
	if err != nil {
		s.logger.Warn("some tags excluded from monitoring", "resolved", len(handles), "configured", s.opts.Registry.Len())
	}

	var changes <-chan ChangeEvent
	if s.opts.PublishMode == config.PublishCyclic {
		if err := s.opts.Automation.BindHandles(handles); err != nil {
			return newError(KindConnect, "bind handles", err)
		}
	} else {
		changes, err = s.opts.Automation.SubscribeChanges(ctx, handles, s.opts.SamplingInterval)
		if err != nil {
			return err
		}
	}

	commands, err := s.opts.Messaging.SubscribeCommands(ctx, s.opts.Topics.CommandFilter())
	if err != nil {
		return err
	}

	s.setState(StateRunning)
	s.logger.Info("gateway running",
		"tags", len(handles),
		"mode", string(s.opts.PublishMode),
		"commands", s.opts.Topics.CommandFilter(),
	)

	return s.serve(ctx, handles, changes, commands)
}

// connect runs one session's bounded retry, tracking its state.
func (s *Supervisor) connect(ctx context.Context, session string, fn func(context.Context) error) error {
	s.setSession(session, SessionConnecting)

	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		s.metrics.connectAttempt(session, err == nil)
		return err
	}, func(attempt int, err error) {
		s.logger.Warn("connect attempt failed",
			append(errorArgs(err), "session", session, "attempt", attempt, "max_attempts", s.opts.Retry.MaxAttempts)...)
	})
	if err != nil {
		s.setSession(session, SessionFailed)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	s.setSession(session, SessionConnected)
	s.logger.Info("session connected", "session", session)
	return nil
}

// serve runs the steady state until a fatal error or ctx ends.
func (s *Supervisor) serve(ctx context.Context, handles map[string]tag.Handle, changes <-chan ChangeEvent, commands <-chan RawMessage) error {
	g, gctx := errgroup.WithContext(ctx)
	outbound := make(chan OutboundMessage, publishQueueSize)

	if changes != nil {
		g.Go(func() error { return s.readChanges(gctx, changes, outbound) })
	} else {
		cyclic := NewCyclicPublisher(s.opts.Automation, s.translator, s.opts.Registry, namesOf(s.opts.Registry, handles), s.opts.PublishInterval, s.logger)
		cyclic.now = s.now
		g.Go(func() error { return cyclic.Run(gctx, outbound) })
	}

	g.Go(func() error { return s.publishWorker(gctx, outbound) })
	g.Go(func() error { return s.commandWorker(gctx, commands) })
	g.Go(func() error { return s.watchMessaging(gctx) })
	if s.opts.Heartbeat > 0 {
		g.Go(func() error { return s.heartbeat(gctx) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readChanges translates change events into outbound messages.
func (s *Supervisor) readChanges(ctx context.Context, changes <-chan ChangeEvent, out chan<- OutboundMessage) error {
	for {
		var ev ChangeEvent
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok = <-changes:
		}
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return newError(KindConnect, "change stream", errors.New("change stream ended"))
		}
		if ev.Err != nil {
			return ev.Err
		}

		// Messages carry the gateway clock. The source time of the first
		// notification after subscribing is the last change, not now.
		def, _ := s.opts.Registry.ByName(ev.Tag)
		msg, err := s.translator.ToMessage(ev.Tag, ev.Value, def.Type, s.now())
		if err != nil {
			s.logger.Warn("change notification discarded", errorArgs(err)...)
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// publishWorker sends outbound messages in order. A rejected publish
// ends the cycle.
func (s *Supervisor) publishWorker(ctx context.Context, in <-chan OutboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-in:
			if err := s.opts.Messaging.Publish(ctx, msg.Topic, msg.Payload, s.opts.QoS, s.opts.Retain); err != nil {
				s.metrics.incPublishFailure()
				var ge *GatewayError
				if errors.As(err, &ge) {
					ge.Tag = msg.TagName
					ge.Value = msg.Value
				}
				return err
			}
			s.metrics.incPublished()
			s.logger.Debug("published", "tag", msg.TagName, "topic", msg.Topic, "value", msg.Value)
		}
	}
}

// commandWorker routes inbound commands to automation writes, one at a
// time in arrival order. Bad commands are logged and dropped.
func (s *Supervisor) commandWorker(ctx context.Context, commands <-chan RawMessage) error {
	for {
		var raw RawMessage
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok = <-commands:
		}
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return newError(KindConnect, "command stream", errors.New("command stream ended"))
		}

		if err := s.dispatch(ctx, raw); err != nil {
			if IsFatal(err) {
				return err
			}
			s.logger.Warn("command dropped", errorArgs(err)...)
		}
	}
}

// dispatch handles one inbound command.
func (s *Supervisor) dispatch(ctx context.Context, raw RawMessage) error {
	suffix, ok := s.opts.Topics.CommandSuffix(raw.Topic)
	if !ok {
		s.metrics.incParseError()
		return &GatewayError{Kind: KindParse, Op: "route command", Topic: raw.Topic, Value: string(raw.Payload), Err: errors.New("topic outside command base")}
	}

	cmd, err := s.translator.FromMessage(suffix, raw.Payload)
	if err != nil {
		s.metrics.incParseError()
		return err
	}

	h, _ := s.opts.Registry.HandleFor(cmd.TagName)
	if err := s.opts.Automation.WriteValue(ctx, h, cmd.Value, cmd.Type); err != nil {
		var ge *GatewayError
		if errors.As(err, &ge) {
			ge.Topic = raw.Topic
			s.metrics.incWriteFailure(ge.Kind)
		}
		return err
	}

	s.metrics.incWrite()
	s.logger.Info("command written", "tag", cmd.TagName, "topic", raw.Topic, "value", cmd.Value)
	return nil
}

// watchMessaging ends the cycle when the broker connection drops.
func (s *Supervisor) watchMessaging(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.opts.Messaging.Lost():
		return newError(KindConnect, "messaging", errors.New("broker connection lost"))
	}
}

// heartbeat pings the automation server every Heartbeat interval.
func (s *Supervisor) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.opts.Automation.Ping(ctx); err != nil {
				return err
			}
		}
	}
}

// teardown closes both sessions. Failures are logged by the sessions.
func (s *Supervisor) teardown() {
	s.opts.Automation.Disconnect()
	s.setSession(sessionAutomation, SessionDisconnected)
	s.opts.Messaging.Disconnect()
	s.setSession(sessionMessaging, SessionDisconnected)
}

func (s *Supervisor) setState(state GatewayState) {
	s.mu.Lock()
	changed := s.status.State != state
	s.status.State = state
	if changed {
		s.status.Since = s.now().UTC()
	}
	if state == StateRestarting {
		s.status.Restarts++
	}
	if state == StateRunning {
		s.status.LastError = ""
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	s.metrics.setState(state)
	s.logger.Debug("gateway state changed", "state", string(state))
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

func (s *Supervisor) setSession(session string, state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch session {
	case sessionMessaging:
		s.status.Messaging = state
	case sessionAutomation:
		s.status.Automation = state
	}
}

func (s *Supervisor) recordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
}

// namesOf returns the resolved tag names in registry order.
func namesOf(reg *tag.Registry, handles map[string]tag.Handle) []string {
	names := make([]string, 0, len(handles))
	for _, name := range reg.Names() {
		if _, ok := handles[name]; ok {
			names = append(names, name)
		}
	}
	return names
}
