package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auditrail/auditrail/internal/crypto"
)

// Handler persists a verified event and hands it to pattern detection; the
// worker pool calls it once per consumed message.
type Handler func(ctx context.Context, msg *Message) error

// WorkerPoolConfig configures retry and concurrency, mirroring the
// teacher's ProcessorConfig shape.
type WorkerPoolConfig struct {
	Concurrency    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	MaxAttempts    int
	PollInterval   time.Duration
	BatchSize      int
}

// DefaultWorkerPoolConfig returns §4.3's recommended defaults.
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Concurrency:  4,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxAttempts:  5,
		PollInterval: time.Second,
		BatchSize:    10,
	}
}

// WorkerPool runs long-lived consumers over a Queue, verifying integrity,
// persisting, and feeding pattern detection per message, with exponential
// backoff retry and DLQ handoff on exhaustion — the funding_webhook
// Processor's ticker/worker-loop shape, generalized from a single polling
// worker to a concurrent pool with backoff instead of a flat retry delay.
type WorkerPool struct {
	queue   Queue
	sealer  *crypto.Sealer
	handler Handler
	cfg     WorkerPoolConfig
	logger  *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool builds a WorkerPool. handler is called after integrity is
// verified; it is responsible for persistence and pattern-detector feed.
func NewWorkerPool(q Queue, sealer *crypto.Sealer, handler Handler, cfg WorkerPoolConfig, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{queue: q, sealer: sealer, handler: handler, cfg: cfg, logger: logger}
}

// Start launches cfg.Concurrency worker goroutines.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop signals all workers to exit and waits for them to drain.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, name string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := p.queue.Consume(ctx, name, p.cfg.BatchSize)
			if err != nil {
				p.logger.Error("queue consume failed", zap.String("worker", name), zap.Error(err))
				continue
			}
			for _, msg := range msgs {
				p.process(ctx, msg)
			}
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, msg *Message) {
	result, err := p.sealer.Verify(ctx, msg.Event)
	if err != nil || !result.HashMatches || !result.SignatureValid {
		reason := "integrity verification failed"
		if err != nil {
			reason = err.Error()
		}
		p.fail(ctx, msg, reason)
		return
	}

	if err := p.handler(ctx, msg); err != nil {
		p.fail(ctx, msg, err.Error())
		return
	}

	if err := p.queue.Ack(ctx, msg.ID); err != nil {
		p.logger.Warn("ack failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (p *WorkerPool) fail(ctx context.Context, msg *Message, reason string) {
	msg.FailureStack = append(msg.FailureStack, reason)

	if msg.Attempt+1 >= p.cfg.MaxAttempts {
		if err := p.queue.DeadLetter(ctx, msg, reason); err != nil {
			p.logger.Error("dead-letter failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
		if err := p.queue.Ack(ctx, msg.ID); err != nil {
			p.logger.Warn("ack after dead-letter failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}

	delay := BackoffDelay(msg.Attempt, p.cfg.InitialDelay, p.cfg.Multiplier, p.cfg.MaxDelay)
	if err := p.queue.Reschedule(ctx, msg, reason, delay); err != nil {
		p.logger.Error("reschedule failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if err := p.queue.Ack(ctx, msg.ID); err != nil {
		p.logger.Warn("ack after reschedule failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
