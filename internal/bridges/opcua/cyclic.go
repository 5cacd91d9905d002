package opcua

import (
	"context"
	"time"

	"github.com/nerrad567/opcua-mqtt-gateway/internal/tag"
)

// valueReader reads one tag's current value.
type valueReader interface {
	ReadValue(ctx context.Context, name string) (any, time.Time, error)
}

// CyclicPublisher polls every tag on a fixed interval and emits a
// message for each, whether or not the value changed.
type CyclicPublisher struct {
	reader     valueReader
	translator *Translator
	registry   *tag.Registry
	names      []string
	interval   time.Duration
	logger     Logger
	now        func() time.Time
}

// NewCyclicPublisher creates a publisher over the named tags.
func NewCyclicPublisher(reader valueReader, tr *Translator, reg *tag.Registry, names []string, interval time.Duration, logger Logger) *CyclicPublisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CyclicPublisher{
		reader:     reader,
		translator: tr,
		registry:   reg,
		names:      names,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// Run polls until ctx ends or a read fails. A failed read means the
// server connection is unhealthy and is returned as-is.
//
// The first poll happens immediately. Messages carry the poll time.
func (p *CyclicPublisher) Run(ctx context.Context, out chan<- OutboundMessage) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx, out); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *CyclicPublisher) poll(ctx context.Context, out chan<- OutboundMessage) error {
	for _, name := range p.names {
		def, ok := p.registry.ByName(name)
		if !ok {
			continue
		}
		value, _, err := p.reader.ReadValue(ctx, name)
		if err != nil {
			return err
		}

		msg, err := p.translator.ToMessage(name, value, def.Type, p.now())
		if err != nil {
			p.logger.Warn("cyclic value discarded", errorArgs(err)...)
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
