// Package ingest implements the producer API (§4.3's "submit" operation):
// validate, optionally seal, and enqueue an audit event, grounded on the
// teacher's funding_webhook.Processor call chain (validate -> sign ->
// persist) collapsed into one synchronous entrypoint.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/auditrail/auditrail/internal/crypto"
	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/queue"
	"github.com/auditrail/auditrail/internal/validate"
)

// Options parameterizes one submission, per spec.md §6's producer API.
type Options struct {
	GenerateHash      bool
	GenerateSignature bool
	CorrelationID     string
	SkipValidation    bool
	// Sync requests guaranteed delivery: Submit blocks until the queue
	// acknowledges durable receipt instead of fire-and-forget.
	Sync bool
}

// Result is returned only for Sync submissions.
type Result struct {
	EventID string
	Sealed  bool
}

// Producer is the C2->C1->C3 pipeline entrypoint other components and
// callers use to submit events.
type Producer struct {
	validator *validate.Validator
	sealer    *crypto.Sealer
	queue     queue.Queue
}

// New builds a Producer.
func New(validator *validate.Validator, sealer *crypto.Sealer, q queue.Queue) *Producer {
	return &Producer{validator: validator, sealer: sealer, queue: q}
}

// Submit validates, seals, and enqueues e. It returns the queue-assigned
// message ID (as Result.EventID) and whether sealing ran, but only when
// opts.Sync is set; otherwise
// it returns (nil, nil) on success (fire-and-forget) as spec.md §6
// requires.
func (p *Producer) Submit(ctx context.Context, e *event.Event, opts Options) (*Result, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if opts.CorrelationID != "" {
		e.CorrelationID = opts.CorrelationID
	}

	if !opts.SkipValidation {
		if err := p.validator.Validate(e); err != nil {
			return nil, err
		}
	}

	sealed := false
	if opts.GenerateHash || opts.GenerateSignature {
		if _, err := p.sealer.Seal(ctx, e); err != nil {
			return nil, aerrors.Wrap(aerrors.KindCrypto, "ingest", err)
		}
		sealed = true
	}

	if opts.Sync {
		id, err := p.queue.EnqueueSync(ctx, e)
		if err != nil {
			return nil, err
		}
		return &Result{EventID: id, Sealed: sealed}, nil
	}

	if _, err := p.queue.Enqueue(ctx, e); err != nil {
		return nil, err
	}
	return nil, nil
}
