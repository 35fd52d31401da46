// Package queue is the event-log integration. The log is the reliable bridge
// between the in-memory decision and the persistent store: a publish that
// returns success is durable and will reach a consumer at least once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/coupon-issuer/internal/model"
)

// ErrPublishFailed means the record could not be made durable within the
// producer's retry budget. The caller must compensate the in-memory decision.
var ErrPublishFailed = errors.New("publish failed after retries")

// CauseHeader carries the failure cause on dead-lettered records.
const CauseHeader = "dlq-cause"

// recordProducer is the slice of kgo.Client the producer needs; tests swap in
// a fake.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Producer appends issuance events to the log with keyed partitioning.
type Producer struct {
	client    recordProducer
	kgoClient *kgo.Client // retained for Ping/Close; nil in tests
	topic     string
	dlqTopic  string
	budget    time.Duration
	attempts  int
}

// NewProducer connects to the log brokers. The synchronous-wait contract is
// built in: every publish waits for the broker acknowledgement.
func NewProducer(brokers []string, topic, dlqTopic string, budget time.Duration, attempts int) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no log brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0), // latency over batching on the hot path
		kgo.RecordRetries(2),
	)
	if err != nil {
		return nil, fmt.Errorf("create log client: %w", err)
	}
	return &Producer{
		client:    client,
		kgoClient: client,
		topic:     topic,
		dlqTopic:  dlqTopic,
		budget:    budget,
		attempts:  attempts,
	}, nil
}

// newProducerWithClient wires a custom record producer. Used by tests.
func newProducerWithClient(client recordProducer, topic, dlqTopic string, budget time.Duration, attempts int) *Producer {
	return &Producer{client: client, topic: topic, dlqTopic: dlqTopic, budget: budget, attempts: attempts}
}

// PublishIssuance appends one issuance record and waits for durability.
// Retries are bounded by both the attempt count and the time budget so the
// synchronous caller's latency stays controlled. On exhaustion it returns
// ErrPublishFailed.
func (p *Producer) PublishIssuance(ctx context.Context, rec model.IssuanceRecord) error {
	return p.publish(ctx, rec)
}

// PublishExhaustion appends a stock_exhausted marker for an event. It is
// published after the issuance record that debited the last unit; the writer
// retires the event row when it arrives.
func (p *Producer) PublishExhaustion(ctx context.Context, eventID string) error {
	rec := model.IssuanceRecord{
		Version:  model.RecordVersion,
		Type:     model.RecordTypeStockExhausted,
		EventID:  eventID,
		IssuedAt: time.Now().UTC(),
	}
	return p.publish(ctx, rec)
}

func (p *Producer) publish(ctx context.Context, rec model.IssuanceRecord) error {
	value, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.PartitionKey()),
		Value: value,
	}

	budgetCtx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * 10 * time.Millisecond
			select {
			case <-budgetCtx.Done():
				return fmt.Errorf("%w: %v", ErrPublishFailed, lastErr)
			case <-time.After(backoff):
			}
		}
		if lastErr = p.client.ProduceSync(budgetCtx, record).FirstErr(); lastErr == nil {
			return nil
		}
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Str("coupon_id", rec.CouponID).
			Str("event_id", rec.EventID).
			Msg("log publish attempt failed")
	}
	return fmt.Errorf("%w: %v", ErrPublishFailed, lastErr)
}

// PublishDeadLetter routes an unprocessable record to the dead letter topic,
// preserving its original key and attaching the failure cause.
func (p *Producer) PublishDeadLetter(ctx context.Context, key, value []byte, cause string) error {
	record := &kgo.Record{
		Topic:   p.dlqTopic,
		Key:     key,
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: CauseHeader, Value: []byte(cause)}},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// Ping checks broker reachability for health checks.
func (p *Producer) Ping(ctx context.Context) error {
	if p.kgoClient == nil {
		return nil
	}
	return p.kgoClient.Ping(ctx)
}

// Close flushes and releases the underlying client.
func (p *Producer) Close() {
	if p.kgoClient != nil {
		p.kgoClient.Close()
	}
}
