package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/invoicing/internal/domain/outbox"
	"github.com/cassiomorais/invoicing/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func newTestMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.NewMetrics("test", prometheus.NewRegistry())
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*outbox.Entry
	calls     int

	PublishFunc func(ctx context.Context, entry *outbox.Entry) error
}

func (p *fakePublisher) PublishInvoiceEvent(ctx context.Context, entry *outbox.Entry) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.PublishFunc != nil {
		if err := p.PublishFunc(ctx, entry); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, entry)
	return nil
}

type queuedRefresh struct {
	InvoiceID string
	Attempt   int
}

type fakeQueue struct {
	mu        sync.Mutex
	refreshes []queuedRefresh
	dead      map[string]string

	RequestRefreshFunc func(ctx context.Context, invoiceID string, attempt int) error
	PublishToDLQFunc   func(ctx context.Context, invoiceID string, reason string) error
}

func (q *fakeQueue) RequestRefresh(ctx context.Context, invoiceID string, attempt int) error {
	if q.RequestRefreshFunc != nil {
		if err := q.RequestRefreshFunc(ctx, invoiceID, attempt); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refreshes = append(q.refreshes, queuedRefresh{InvoiceID: invoiceID, Attempt: attempt})
	return nil
}

func (q *fakeQueue) PublishToDLQ(ctx context.Context, invoiceID string, reason string) error {
	if q.PublishToDLQFunc != nil {
		if err := q.PublishToDLQFunc(ctx, invoiceID, reason); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead == nil {
		q.dead = make(map[string]string)
	}
	q.dead[invoiceID] = reason
	return nil
}

func (q *fakeQueue) Refreshes() []queuedRefresh {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queuedRefresh(nil), q.refreshes...)
}

// Messages turns the queued refreshes into stream messages, as a consumer
// would read them back.
func (q *fakeQueue) Messages() []redis.XMessage {
	var msgs []redis.XMessage
	for i, r := range q.Refreshes() {
		msgs = append(msgs, refreshMessage(i, r.InvoiceID, r.Attempt))
	}
	return msgs
}

type fakeSource struct {
	mu    sync.Mutex
	acked []string
}

func (s *fakeSource) Read(ctx context.Context) ([]redis.XMessage, error) { return nil, nil }

func (s *fakeSource) ClaimStale(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	return nil, nil
}

func (s *fakeSource) Ack(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, messageID)
	return nil
}

func (s *fakeSource) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

type fakeCleaner struct {
	calls int
	err   error
}

func (c *fakeCleaner) Cleanup(ctx context.Context) (int64, error) {
	c.calls++
	return 3, c.err
}
