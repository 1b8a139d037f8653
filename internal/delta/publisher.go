// Package delta captures the state changes produced by one completed
// operation and hands them to downstream consumers (audit log,
// cross-tenant sync) without ever blocking the operation that produced
// them.
package delta

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"booking-core/internal/statestore"

	"github.com/google/uuid"
)

// Recorder collects the deltas of a single logical operation in commit
// order. It is not shared between operations.
type Recorder struct {
	tenantID string
	source   string
	deltas   []statestore.Delta
}

func NewRecorder(tenantID, source string) *Recorder {
	return &Recorder{tenantID: tenantID, source: source}
}

func (r *Recorder) Record(d statestore.Delta) {
	r.deltas = append(r.deltas, d)
}

func (r *Recorder) Len() int {
	return len(r.deltas)
}

// Batch seals the recorder into a one-shot sequence. The recorder must
// not be reused afterwards.
func (r *Recorder) Batch(at time.Time) *Batch {
	b := &Batch{
		ID:       uuid.NewString(),
		TenantID: r.tenantID,
		Source:   r.source,
		At:       at,
		deltas:   r.deltas,
	}
	r.deltas = nil
	return b
}

// Batch is a lazy, finite, one-shot sequence of deltas. Next returns
// false once drained; a drained batch stays drained and is not
// restartable.
type Batch struct {
	ID       string
	TenantID string
	Source   string
	At       time.Time

	mu     sync.Mutex
	deltas []statestore.Delta
	pos    int
}

func (b *Batch) Next() (statestore.Delta, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pos >= len(b.deltas) {
		return statestore.Delta{}, false
	}
	d := b.deltas[b.pos]
	b.pos++
	return d, true
}

func (b *Batch) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deltas) - b.pos
}

// drain consumes whatever is left of the sequence.
func (b *Batch) drain() []statestore.Delta {
	var out []statestore.Delta
	for {
		d, ok := b.Next()
		if !ok {
			return out
		}
		out = append(out, d)
	}
}

// Envelope is what sinks receive: the batch metadata plus its deltas in
// commit order, drained exactly once by the publisher.
type Envelope struct {
	ID       string             `json:"id"`
	TenantID string             `json:"tenant_id"`
	Source   string             `json:"source"`
	At       time.Time          `json:"at"`
	Deltas   []statestore.Delta `json:"deltas"`
}

// Sink consumes one operation's envelope.
type Sink interface {
	Consume(ctx context.Context, env Envelope) error
}

// Publisher fans envelopes out to its sinks from a background goroutine.
// Publish is best-effort and never blocks: a full queue drops the batch
// and reports it to the logger, and a sink failure never reaches the
// originating operation.
type Publisher struct {
	logger *slog.Logger
	sinks  []Sink
	queue  chan *Batch
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed bool
}

const defaultQueueSize = 256

func NewPublisher(logger *slog.Logger, sinks ...Sink) *Publisher {
	p := &Publisher{
		logger: logger,
		sinks:  sinks,
		queue:  make(chan *Batch, defaultQueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Publish(batch *Batch) {
	if batch == nil || batch.Remaining() == 0 {
		return
	}

	// The closed check and the send share the mutex with Close, so a
	// batch arriving during shutdown is dropped instead of hitting a
	// closed channel.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("publisher closed, dropping batch",
			"batch_id", batch.ID,
			"tenant_id", batch.TenantID,
			"deltas", batch.Remaining())
		return
	}
	select {
	case p.queue <- batch:
	default:
		p.logger.Warn("delta queue full, dropping batch",
			"batch_id", batch.ID,
			"tenant_id", batch.TenantID,
			"deltas", batch.Remaining())
	}
}

// Close drains the queue and stops the worker. Safe to call twice.
func (p *Publisher) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.queue)
		<-p.done
	})
}

func (p *Publisher) run() {
	defer close(p.done)
	for batch := range p.queue {
		env := Envelope{
			ID:       batch.ID,
			TenantID: batch.TenantID,
			Source:   batch.Source,
			At:       batch.At,
			Deltas:   batch.drain(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, sink := range p.sinks {
			if err := sink.Consume(ctx, env); err != nil {
				p.logger.Error("delta sink failed",
					"batch_id", env.ID,
					"tenant_id", env.TenantID,
					"error", err)
			}
		}
		cancel()
	}
}

// LogSink writes each delta to the structured log. It doubles as the
// audit trail when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Consume(_ context.Context, env Envelope) error {
	for _, d := range env.Deltas {
		s.logger.Info("delta",
			"batch_id", env.ID,
			"source", env.Source,
			"tenant_id", d.TenantID,
			"scope", string(d.Scope),
			"key", d.Key,
			"version", d.Version)
	}
	return nil
}
