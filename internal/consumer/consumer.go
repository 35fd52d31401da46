package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Consumer runs the durable writer against the issuance event log. One
// consumer instance handles the partitions the group assigns it; within a
// partition records are applied strictly in order.
type Consumer struct {
	client *kgo.Client
	writer *Writer
}

// New joins the consumer group. Auto-commit is disabled: offsets are
// committed only after the database transaction for a record has committed,
// so a crash in between causes at most one replay, absorbed by idempotence.
func New(brokers []string, group, topic string, writer *Writer) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create log consumer: %w", err)
	}
	return &Consumer{client: client, writer: writer}, nil
}

// Run polls and applies records until the context is cancelled or an
// unsettleable record is hit (database and dead letter topic both down).
// In the latter case Run returns an error; restarting resumes from the last
// committed offset and redelivers the failed record.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().
				Err(err).
				Str("topic", topic).
				Int32("partition", partition).
				Msg("fetch error")
		})

		var settled []*kgo.Record
		var hardErr error
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if hardErr != nil {
				return
			}
			for _, record := range p.Records {
				if err := c.writer.Apply(ctx, record.Key, record.Value); err != nil {
					hardErr = err
					return
				}
				settled = append(settled, record)
			}
		})

		if len(settled) > 0 {
			if err := c.client.CommitRecords(ctx, settled...); err != nil {
				// The rows are durable; a failed commit only means replay,
				// which the uniqueness constraints absorb.
				log.Error().Err(err).Int("records", len(settled)).Msg("offset commit failed")
			} else {
				log.Info().Int("records", len(settled)).Msg("issuance records persisted")
			}
		}

		if hardErr != nil {
			return fmt.Errorf("writer halted: %w", hardErr)
		}
	}
}

// Ping checks broker reachability for startup validation.
func (c *Consumer) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.client.Ping(pingCtx)
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
