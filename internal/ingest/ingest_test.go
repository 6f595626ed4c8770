package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditrail/auditrail/internal/config"
	"github.com/auditrail/auditrail/internal/crypto"
	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/queue"
	"github.com/auditrail/auditrail/internal/validate"
)

type fakeQueue struct {
	enqueued     []*event.Event
	enqueueSyncs []*event.Event
	nextID       string
}

func (q *fakeQueue) Enqueue(ctx context.Context, e *event.Event) (string, error) {
	q.enqueued = append(q.enqueued, e)
	return "msg-1", nil
}

func (q *fakeQueue) EnqueueSync(ctx context.Context, e *event.Event) (string, error) {
	q.enqueueSyncs = append(q.enqueueSyncs, e)
	return "msg-sync-1", nil
}

func (q *fakeQueue) Consume(ctx context.Context, consumerName string, count int) ([]*queue.Message, error) {
	return nil, nil
}

func (q *fakeQueue) Ack(ctx context.Context, messageID string) error { return nil }

func (q *fakeQueue) Reschedule(ctx context.Context, msg *queue.Message, failureReason string, delay time.Duration) error {
	return nil
}

func (q *fakeQueue) DeadLetter(ctx context.Context, msg *queue.Message, failureReason string) error {
	return nil
}

func newProducer() (*Producer, *fakeQueue) {
	validator := validate.New(&config.RetentionConfig{})
	sealer := crypto.NewSealer(crypto.NewLocalHMAC([]byte("test-key-0123456789")))
	q := &fakeQueue{}
	return New(validator, sealer, q), q
}

func validEvent() *event.Event {
	return &event.Event{
		Action:             "data.access.read",
		Status:             event.StatusSuccess,
		PrincipalID:        "user-1",
		OrganizationID:     "org-1",
		DataClassification: event.ClassificationInternal,
	}
}

func TestSubmitRejectsInvalidEvent(t *testing.T) {
	p, q := newProducer()
	e := &event.Event{}

	_, err := p.Submit(context.Background(), e, Options{})

	require.Error(t, err)
	assert.Equal(t, aerrors.KindValidation, aerrors.KindOf(err))
	assert.Empty(t, q.enqueued)
}

func TestSubmitFireAndForgetReturnsNoResult(t *testing.T) {
	p, q := newProducer()
	e := validEvent()

	result, err := p.Submit(context.Background(), e, Options{})

	require.NoError(t, err)
	assert.Nil(t, result)
	require.Len(t, q.enqueued, 1)
}

func TestSubmitSyncReturnsEventIDAndSealedFlag(t *testing.T) {
	p, q := newProducer()
	e := validEvent()

	result, err := p.Submit(context.Background(), e, Options{Sync: true, GenerateHash: true, GenerateSignature: true})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "msg-sync-1", result.EventID)
	assert.True(t, result.Sealed)
	require.Len(t, q.enqueueSyncs, 1)
	assert.NotEmpty(t, q.enqueueSyncs[0].Hash)
	assert.NotEmpty(t, q.enqueueSyncs[0].Signature)
}

func TestSubmitSkipValidationBypassesSchemaCheck(t *testing.T) {
	p, q := newProducer()
	e := &event.Event{}

	_, err := p.Submit(context.Background(), e, Options{SkipValidation: true})

	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
}

func TestSubmitAssignsIDAndTimestampWhenMissing(t *testing.T) {
	p, _ := newProducer()
	e := validEvent()

	_, err := p.Submit(context.Background(), e, Options{})

	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
}
