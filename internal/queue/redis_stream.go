package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
)

// DLQEntry is the dlq_entry logical row §4.4 names: a message that
// exhausted retries, its full retry history, and why it ultimately failed.
type DLQEntry struct {
	MessageID     string
	Event         *event.Event
	FailureReason string
	ErrorStack    []string
	RetryHistory  []string
	CreatedAt     time.Time
}

// DLQWriter persists dead-lettered messages; implemented by internal/store.
type DLQWriter interface {
	WriteDLQEntry(ctx context.Context, entry DLQEntry) error
}

const streamPrefix = "auditrail:events:"
const consumerGroup = "auditrail-workers"

// RedisStream is the Queue backed by Redis Streams, one stream per
// organizationId for per-tenant fairness (§4.3 "Enqueue").
type RedisStream struct {
	client *redis.Client
	dlq    DLQWriter
}

// NewRedisStream builds a RedisStream queue. dlq receives entries that
// exhaust retries.
func NewRedisStream(client *redis.Client, dlq DLQWriter) *RedisStream {
	return &RedisStream{client: client, dlq: dlq}
}

func streamKey(organizationID string) string {
	if organizationID == "" {
		organizationID = "_unassigned"
	}
	return streamPrefix + organizationID
}

func (q *RedisStream) ensureGroup(ctx context.Context, stream string) error {
	err := q.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (q *RedisStream) enqueue(ctx context.Context, e *event.Event) (string, error) {
	stream := streamKey(e.OrganizationID)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return "", aerrors.Wrap(aerrors.KindQueue, "queue", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindValidation, "queue", err)
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"event": string(payload), "attempt": "0"},
	}).Result()
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindQueue, "queue", err)
	}
	return id, nil
}

// Enqueue publishes e. Failure is QUEUE_ERROR, retryable per §4.3.
func (q *RedisStream) Enqueue(ctx context.Context, e *event.Event) (string, error) {
	return q.enqueue(ctx, e)
}

// EnqueueSync is identical to Enqueue here: XAdd only returns once the
// broker has durably appended the entry to the stream, so there is no
// separate "confirm" round-trip to perform.
func (q *RedisStream) EnqueueSync(ctx context.Context, e *event.Event) (string, error) {
	return q.enqueue(ctx, e)
}

// Consume reads up to count pending messages for consumerName via
// XREADGROUP, claiming new stream entries across every per-organization
// stream whose key matches the stream prefix, stopping once count
// messages have been collected.
func (q *RedisStream) Consume(ctx context.Context, consumerName string, count int) ([]*Message, error) {
	return q.consumeStream(ctx, streamPrefix+"*", consumerName, count)
}

func (q *RedisStream) consumeStream(ctx context.Context, pattern, consumerName string, count int) ([]*Message, error) {
	streams, err := q.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindQueue, "queue", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}

	var messages []*Message
	for _, stream := range streams {
		if err := q.ensureGroup(ctx, stream); err != nil {
			continue
		}
		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerName,
			Streams:  []string{stream, ">"},
			Count:    int64(count),
			Block:    2 * time.Second,
		}).Result()
		if err != nil && err != redis.Nil {
			continue
		}
		for _, s := range res {
			for _, raw := range s.Messages {
				msg, err := decodeMessage(raw)
				if err != nil {
					continue
				}
				messages = append(messages, msg)
			}
		}
		if len(messages) >= count {
			break
		}
	}
	return messages, nil
}

func decodeMessage(raw redis.XMessage) (*Message, error) {
	payload, _ := raw.Values["event"].(string)
	var e event.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, err
	}
	attempt := 0
	if a, ok := raw.Values["attempt"].(string); ok {
		fmt.Sscanf(a, "%d", &attempt)
	}
	return &Message{ID: raw.ID, Event: &e, Attempt: attempt, EnqueuedAt: time.Now()}, nil
}

// Ack acknowledges a message against every stream it might belong to,
// since the message ID embeds no stream identity in Redis Streams.
func (q *RedisStream) Ack(ctx context.Context, messageID string) error {
	streams, err := q.client.Keys(ctx, streamPrefix+"*").Result()
	if err != nil {
		return aerrors.Wrap(aerrors.KindQueue, "queue", err)
	}
	for _, stream := range streams {
		q.client.XAck(ctx, stream, consumerGroup, messageID)
	}
	return nil
}

// Reschedule re-publishes msg to its organization's stream after delay,
// incrementing the attempt count (§4.3 exponential backoff).
func (q *RedisStream) Reschedule(ctx context.Context, msg *Message, failureReason string, delay time.Duration) error {
	time.AfterFunc(delay, func() {
		payload, err := json.Marshal(msg.Event)
		if err != nil {
			return
		}
		stream := streamKey(msg.Event.OrganizationID)
		q.client.XAdd(context.Background(), &redis.XAddArgs{
			Stream: stream,
			Values: map[string]interface{}{
				"event":   string(payload),
				"attempt": fmt.Sprintf("%d", msg.Attempt+1),
			},
		})
	})
	return nil
}

// DeadLetter persists msg to the DLQ store with its failure reason and
// retry history after exhausting §4.3's attempt budget.
func (q *RedisStream) DeadLetter(ctx context.Context, msg *Message, failureReason string) error {
	entry := DLQEntry{
		MessageID:     msg.ID,
		Event:         msg.Event,
		FailureReason: failureReason,
		ErrorStack:    msg.FailureStack,
		RetryHistory:  append(append([]string{}, msg.FailureStack...), failureReason),
		CreatedAt:     time.Now().UTC(),
	}
	if q.dlq == nil {
		return aerrors.New(aerrors.KindConfig, "queue", "no dlq writer configured")
	}
	return q.dlq.WriteDLQEntry(ctx, entry)
}
