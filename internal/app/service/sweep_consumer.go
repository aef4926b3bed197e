package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrUnknownSweep is returned for a sweep command of an unknown kind.
var ErrUnknownSweep = errors.New("unknown sweep kind")

const (
	sweepFetchBatch = 10
	sweepFetchWait  = 5 * time.Second
	// Pause after a failed fetch so a closed connection does not spin.
	sweepFetchBackoff = time.Second
)

// SweepConsumer runs sweeps requested over NATS JetStream.
type SweepConsumer struct {
	js           nats.JetStreamContext
	logger       *zap.Logger
	sweeper      *Sweeper
	fetchBackoff time.Duration
}

// NewSweepConsumer creates a new sweep command consumer.
func NewSweepConsumer(js nats.JetStreamContext, logger *zap.Logger, sweeper *Sweeper) *SweepConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepConsumer{js: js, logger: logger, sweeper: sweeper, fetchBackoff: sweepFetchBackoff}
}

// Run consumes sweep commands until ctx is done. Streams must already exist.
func (c *SweepConsumer) Run(ctx context.Context) error {
	_, err := c.js.ConsumerInfo(model.SweepStreamName, model.SweepConsumerName)
	if err != nil {
		_, err = c.js.AddConsumer(model.SweepStreamName, &nats.ConsumerConfig{
			Durable:       model.SweepConsumerName,
			AckPolicy:     nats.AckExplicitPolicy,
			FilterSubject: model.SweepSubjectPrefix + ".*",
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.SweepSubjectPrefix+".*", model.SweepConsumerName, nats.Bind(model.SweepStreamName, model.SweepConsumerName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	return c.consume(ctx, func() ([]*nats.Msg, error) {
		return sub.Fetch(sweepFetchBatch, nats.MaxWait(sweepFetchWait))
	})
}

// consume drives fetch until ctx is done. Fetch failures other than an empty
// wait are followed by fetchBackoff.
func (c *SweepConsumer) consume(ctx context.Context, fetch func() ([]*nats.Msg, error)) error {
	for {
		if ctx.Err() != nil {
			c.logger.Info("sweep consumer stopped")
			return nil
		}

		msgs, err := fetch()
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.logger.Error("failed to fetch sweep commands", zap.Error(err))
			if !sleepCtx(ctx, c.fetchBackoff) {
				c.logger.Info("sweep consumer stopped")
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			if err := c.Handle(ctx, msg.Data); err != nil {
				c.logger.Error("dropping sweep command", zap.String("subject", msg.Subject), zap.Error(err))
				_ = msg.Term()
				continue
			}
			_ = msg.Ack()
		}
	}
}

// Handle decodes one sweep command and runs the requested sweep.
// Sweep failures are logged by the sweeper; the next tick retries them.
func (c *SweepConsumer) Handle(ctx context.Context, data []byte) error {
	var cmd model.SweepCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode sweep command: %w", err)
	}

	c.logger.Debug("sweep command received",
		zap.String("kind", string(cmd.Kind)),
		zap.Time("requested_at", cmd.RequestedAt),
	)

	switch cmd.Kind {
	case model.SweepExpire:
		c.sweeper.SweepExpirations(ctx)
	case model.SweepStale:
		c.sweeper.SweepStale(ctx, cmd.RetentionDays)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSweep, cmd.Kind)
	}
	return nil
}

// sleepCtx waits for d and reports false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
