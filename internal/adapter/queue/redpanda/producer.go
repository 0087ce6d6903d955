// Package redpanda provides the Redpanda/Kafka queue integration for
// analysis jobs: a transactional producer on the ingress side and the
// worker-side consumer with retry and dead-letter handling.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/observability"
)

// Header keys carried on every job record.
const (
	headerJobID   = "job_id"
	headerAttempt = "attempt"
)

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	topic  string
	// Serialises transactions; the kgo client allows one in flight.
	txLock chan struct{}
}

// NewProducer constructs a transactional Producer and ensures the topic
// exists.
func NewProducer(brokers []string, topic, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda client: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, topic, 1, 1); err != nil {
		slog.Warn("topic creation failed, it may already exist",
			slog.String("topic", topic), slog.Any("error", err))
	}
	return &Producer{
		client: client,
		topic:  topic,
		txLock: make(chan struct{}, 1),
	}, nil
}

// EnqueueJob publishes one job message transactionally. The job id is the
// record key so re-deliveries of the same job stay on one partition.
func (p *Producer) EnqueueJob(ctx domain.Context, msg domain.JobMessage) error {
	if msg.JobID == "" {
		return fmt.Errorf("op=queue.enqueue: %w: empty job id", domain.ErrInvalidArgument)
	}
	select {
	case p.txLock <- struct{}{}:
		defer func() { <-p.txLock }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.client.BeginTransaction(); err != nil {
		return fmt.Errorf("op=queue.enqueue: begin transaction: %w", err)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("abort transaction failed", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=queue.enqueue: marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(msg.JobID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: headerJobID, Value: []byte(msg.JobID)},
			{Key: headerAttempt, Value: []byte(strconv.Itoa(0))},
		},
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("abort transaction failed", slog.Any("error", abortErr))
		}
		return fmt.Errorf("op=queue.enqueue: produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("op=queue.enqueue: commit transaction: %w", err)
	}

	observability.JobsEnqueuedTotal.Inc()
	observability.LoggerFromContext(ctx).Info("job enqueued",
		slog.String("job_id", msg.JobID), slog.String("topic", p.topic))
	return nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
