package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"

	"github.com/alexlabs/alex/internal/domain"
	"github.com/alexlabs/alex/internal/observability"
)

// Processor handles one decoded job message. A nil return acknowledges the
// delivery. A non-nil return counts one attempt: the consumer republishes
// the message with an incremented attempt header until the receive budget
// is spent, then moves it to the dead-letter topic.
type Processor func(ctx context.Context, msg domain.JobMessage) error

// Consumer polls the jobs topic and dispatches records to a Processor with
// bounded concurrency.
type Consumer struct {
	client      *kgo.Client
	topic       string
	dlqTopic    string
	groupID     string
	maxReceive  int
	concurrency int
	process     Processor

	// produce is swapped in tests; defaults to a synchronous produce on the
	// consumer's own client.
	produce func(ctx context.Context, rec *kgo.Record) error
}

// ConsumerConfig carries the consumer wiring.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	DLQTopic    string
	MaxReceive  int
	Concurrency int
}

// NewConsumer constructs a Consumer, ensuring both the jobs topic and the
// dead-letter topic exist.
func NewConsumer(cfg ConsumerConfig, process Processor) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if cfg.MaxReceive <= 0 {
		cfg.MaxReceive = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	kotelService := kotel.NewKotel(kotel.WithTracer(
		kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider())),
	))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}
	ctx := context.Background()
	for _, topic := range []string{cfg.Topic, cfg.DLQTopic} {
		if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
			slog.Warn("topic creation failed, it may already exist",
				slog.String("topic", topic), slog.Any("error", err))
		}
	}

	c := &Consumer{
		client:      client,
		topic:       cfg.Topic,
		dlqTopic:    cfg.DLQTopic,
		groupID:     cfg.GroupID,
		maxReceive:  cfg.MaxReceive,
		concurrency: cfg.Concurrency,
		process:     process,
	}
	c.produce = func(ctx context.Context, rec *kgo.Record) error {
		return c.client.ProduceSync(ctx, rec).FirstErr()
	}
	return c, nil
}

// Start polls until ctx is cancelled. Records are handled concurrently up
// to the configured limit; each record is marked for commit only after its
// outcome is settled (processed, republished or dead-lettered).
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("consumer starting",
		slog.String("group_id", c.groupID),
		slog.String("topic", c.topic),
		slog.Int("concurrency", c.concurrency))

	sem := semaphore.NewWeighted(int64(c.concurrency))
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			// Drain in-flight handlers before returning.
			_ = sem.Acquire(context.Background(), int64(c.concurrency))
			return ctx.Err()
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				slog.Error("fetch error",
					slog.String("topic", fe.Topic),
					slog.Int("partition", int(fe.Partition)),
					slog.Any("error", fe.Err))
			}
			time.Sleep(2 * time.Second)
			continue
		}
		fetches.EachRecord(func(record *kgo.Record) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(rec *kgo.Record) {
				defer sem.Release(1)
				c.handleRecord(ctx, rec)
				c.client.MarkCommitRecords(rec)
			}(record)
		})
	}
}

// attemptOf reads the attempt header; absent or malformed headers count as
// attempt zero.
func attemptOf(rec *kgo.Record) int {
	for _, h := range rec.Headers {
		if h.Key == headerAttempt {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n >= 0 {
				return n
			}
			return 0
		}
	}
	return 0
}

// handleRecord settles one delivery. Failures never propagate: the record
// is either republished for another attempt or dead-lettered.
func (c *Consumer) handleRecord(ctx context.Context, rec *kgo.Record) {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "ProcessJobRecord")
	defer span.End()

	var msg domain.JobMessage
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		slog.Error("malformed job record, dead-lettering",
			slog.String("key", string(rec.Key)), slog.Any("error", err))
		c.deadLetter(ctx, rec, "malformed payload")
		return
	}

	attempt := attemptOf(rec)
	lg := observability.LoggerFromContext(ctx).With(
		slog.String("job_id", msg.JobID),
		slog.Int("attempt", attempt),
	)
	ctx = observability.ContextWithLogger(ctx, lg)
	lg.Info("processing job delivery")

	err := c.process(ctx, msg)
	if err == nil {
		lg.Info("job delivery settled")
		return
	}
	lg.Error("job delivery failed", slog.Any("error", err))

	if attempt+1 >= c.maxReceive {
		c.deadLetter(ctx, rec, err.Error())
		return
	}
	c.republish(ctx, rec, attempt+1)
}

// republish re-enqueues the record with an incremented attempt header.
func (c *Consumer) republish(ctx context.Context, rec *kgo.Record, attempt int) {
	next := &kgo.Record{
		Topic: c.topic,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: []kgo.RecordHeader{
			{Key: headerJobID, Value: rec.Key},
			{Key: headerAttempt, Value: []byte(strconv.Itoa(attempt))},
		},
	}
	if err := c.produce(ctx, next); err != nil {
		slog.Error("republish failed, record will be redelivered by the broker",
			slog.String("key", string(rec.Key)), slog.Any("error", err))
	}
}

// deadLetter moves the record to the DLQ topic with its failure reason.
func (c *Consumer) deadLetter(ctx context.Context, rec *kgo.Record, reason string) {
	dead := &kgo.Record{
		Topic: c.dlqTopic,
		Key:   rec.Key,
		Value: rec.Value,
		Headers: []kgo.RecordHeader{
			{Key: headerJobID, Value: rec.Key},
			{Key: headerAttempt, Value: []byte(strconv.Itoa(attemptOf(rec)))},
			{Key: "reason", Value: []byte(reason)},
		},
	}
	if err := c.produce(ctx, dead); err != nil {
		slog.Error("dead-letter produce failed",
			slog.String("key", string(rec.Key)), slog.Any("error", err))
		return
	}
	observability.DLQMessagesTotal.Inc()
	slog.Warn("job moved to dead-letter topic",
		slog.String("key", string(rec.Key)), slog.String("reason", reason))
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
