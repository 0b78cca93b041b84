package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/redis/go-redis/v9"
)

const (
	// InvoiceEventStream carries invoice lifecycle events relayed from the outbox.
	InvoiceEventStream = "invoices:events"
	// RefreshStream carries invoice ids whose checkout status should be re-polled.
	RefreshStream = "invoices:refresh"
	// DLQStream holds refresh requests that kept failing.
	DLQStream = "invoices:dlq"
)

type StreamProducer struct {
	client *redis.Client
}

func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client}
}

// PublishInvoiceEvent relays one outbox entry to the invoice event stream.
func (p *StreamProducer) PublishInvoiceEvent(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: InvoiceEventStream,
		Values: map[string]any{
			"event_id":   entry.ID.String(),
			"invoice_id": entry.AggregateID.String(),
			"event_type": entry.EventType,
			"payload":    string(payload),
			"timestamp":  entry.CreatedAt.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish invoice event: %w", err)
	}
	return nil
}

// RequestRefresh queues an invoice for a gateway status poll. attempt starts
// at 1 and grows each time a transient failure puts the request back.
func (p *StreamProducer) RequestRefresh(ctx context.Context, invoiceID string, attempt int) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: RefreshStream,
		Values: map[string]any{
			"invoice_id": invoiceID,
			"attempt":    attempt,
			"timestamp":  time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to queue refresh: %w", err)
	}
	return nil
}

func (p *StreamProducer) PublishToDLQ(ctx context.Context, invoiceID string, reason string) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: map[string]any{
			"invoice_id": invoiceID,
			"reason":     reason,
			"timestamp":  time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

// CreateGroup creates the consumer group, and the stream with it. An existing
// group is not an error.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read returns new messages for this consumer, or nil when the block timed out.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// ClaimStale takes over messages another consumer read but never acked.
func (c *StreamConsumer) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}
	return msgs, nil
}
