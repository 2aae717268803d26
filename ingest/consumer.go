package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
	"github.com/atharva20-coder/swoopin-sub002/pkg/worker"
)

// Consumer pulls envelopes off the ingestion stream and runs them through
// the pipeline on a bounded worker pool.
type Consumer struct {
	client     *natsclient.Client
	pipeline   *Pipeline
	pool       *worker.Pool[jetstream.Msg]
	consumeCtx jetstream.ConsumeContext
	jobTimeout time.Duration
	nakDelay   time.Duration
	maxDeliver int
	logger     *slog.Logger
}

// ConsumerConfig tunes the consumer.
type ConsumerConfig struct {
	Workers    int           // processing goroutines, default 8
	QueueSize  int           // in-process buffer, default 256
	JobTimeout time.Duration // per-event budget, default 30s
	NakDelay   time.Duration // redelivery delay for transient failures, default 5s
	MaxDeliver int           // delivery attempts before the stream gives up, default 5
}

func (c *ConsumerConfig) normalize() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.NakDelay <= 0 {
		c.NakDelay = 5 * time.Second
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = 5
	}
}

// NewConsumer creates the stream consumer.
func NewConsumer(client *natsclient.Client, pipeline *Pipeline, cfg ConsumerConfig, logger *slog.Logger) (*Consumer, error) {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	c := &Consumer{
		client:     client,
		pipeline:   pipeline,
		jobTimeout: cfg.JobTimeout,
		nakDelay:   cfg.NakDelay,
		logger:     logger.With("component", "consumer"),
	}

	pool, err := worker.NewPool(cfg.Workers, cfg.QueueSize, c.handle)
	if err != nil {
		return nil, errors.WrapFatal(err, "ingest", "NewConsumer", "create worker pool")
	}
	c.pool = pool
	c.maxDeliver = cfg.MaxDeliver
	return c, nil
}

// Start creates the durable consumer and begins processing.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "ingest", "Start", "start worker pool")
	}

	js := c.client.JetStream()
	if js == nil {
		return errors.WrapFatal(errors.New("nats client not connected"), "ingest", "Start", "jetstream handle")
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:    ConsumerName,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    2 * c.jobTimeout,
		MaxDeliver: c.maxDeliver,
	})
	if err != nil {
		return errors.WrapTransient(err, "ingest", "Start", "create consumer")
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := c.pool.Submit(msg); err != nil {
			// Pool saturated: leave the message unacked so it redelivers
			// after AckWait.
			c.logger.Warn("worker queue full, deferring message")
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "ingest", "Start", "start consume")
	}
	c.consumeCtx = consumeCtx

	c.logger.Info("consumer started", "stream", StreamName, "durable", ConsumerName)
	return nil
}

// Stop drains in-flight work and detaches from the stream.
func (c *Consumer) Stop() {
	if c.consumeCtx != nil {
		c.consumeCtx.Stop()
	}
	c.pool.Stop()
	c.logger.Info("consumer stopped")
}

// handle processes one message and maps the pipeline's error taxonomy onto
// stream acknowledgement: transient failures redeliver after a delay,
// everything else terminates the delivery.
func (c *Consumer) handle(ctx context.Context, msg jetstream.Msg) error {
	jobCtx, cancel := context.WithTimeout(ctx, c.jobTimeout)
	defer cancel()

	var env Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		c.logger.Error("undecodable envelope terminated", "error", err)
		c.term(msg)
		return nil
	}

	result, err := c.pipeline.Process(jobCtx, &env)
	switch {
	case err == nil:
		c.ack(msg)
	case errors.IsTransient(err):
		c.logger.Warn("event deferred for retry", "message", result.Message, "error", err)
		if nakErr := msg.NakWithDelay(c.nakDelay); nakErr != nil {
			c.logger.Error("nak failed", "error", nakErr)
		}
		return err
	default:
		c.logger.Error("event terminated", "message", result.Message, "error", err)
		c.term(msg)
	}
	return nil
}

func (c *Consumer) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Error("ack failed", "error", err)
	}
}

func (c *Consumer) term(msg jetstream.Msg) {
	if err := msg.Term(); err != nil {
		c.logger.Error("term failed", "error", err)
	}
}
