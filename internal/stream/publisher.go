package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"clinic-secops/internal/metrics"
	"clinic-secops/internal/models"
	"clinic-secops/internal/util"
)

const defaultSinkTimeout = 5 * time.Second

// Sink receives copies of committed audit events and incident snapshots. The relational
// store stays authoritative; sinks are best effort.
type Sink interface {
	Name() string
	PublishAudit(ctx context.Context, event *models.AuditEvent) error
	PublishIncident(ctx context.Context, incident *models.Incident) error
}

// Publisher fans events out to every sink in the background.
type Publisher struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPublisher(m *metrics.Metrics, sinks ...Sink) *Publisher {
	return &Publisher{
		sinks:   sinks,
		timeout: defaultSinkTimeout,
		metrics: m,
		logger:  util.Named("stream"),
	}
}

func (p *Publisher) Sinks() []string {
	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	return names
}

func (p *Publisher) PublishAudit(event *models.AuditEvent) {
	copied := *event
	p.dispatch("audit", copied.ID, func(ctx context.Context, s Sink) error {
		return s.PublishAudit(ctx, &copied)
	})
}

func (p *Publisher) PublishIncident(incident *models.Incident) {
	copied := *incident
	p.dispatch("incident", copied.ID, func(ctx context.Context, s Sink) error {
		return s.PublishIncident(ctx, &copied)
	})
}

func (p *Publisher) dispatch(kind, id string, send func(context.Context, Sink) error) {
	if len(p.sinks) == 0 {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("Publisher closed, delivery dropped", zap.String("kind", kind), zap.String("id", id))
		return
	}
	p.wg.Add(len(p.sinks))
	p.mu.Unlock()

	for _, sink := range p.sinks {
		go func(sink Sink) {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()

			if err := send(ctx, sink); err != nil {
				if p.metrics != nil {
					p.metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
				}
				p.logger.Warn("Sink delivery failed",
					zap.String("sink", sink.Name()),
					zap.String("kind", kind),
					zap.String("id", id),
					zap.Error(err))
			}
		}(sink)
	}
}

// Close stops accepting deliveries and waits for in-flight ones. Later publishes are
// dropped.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
