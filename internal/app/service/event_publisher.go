package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// JetStreamPublisher is the slice of nats.JetStreamContext used for publishing.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// LinkEventPublisher publishes committed link changes to NATS JetStream.
type LinkEventPublisher struct {
	js JetStreamPublisher
}

// NewLinkEventPublisher creates a new link event publisher.
func NewLinkEventPublisher(js JetStreamPublisher) *LinkEventPublisher {
	return &LinkEventPublisher{js: js}
}

// Publish sends event on the subject of its kind. The event ID doubles as the
// JetStream message ID so redelivered publishes are de-duplicated.
func (p *LinkEventPublisher) Publish(ctx context.Context, event model.LinkEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal link event: %w", err)
	}

	if _, err := p.js.Publish(event.Kind.Subject(), data, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("publish link event: %w", err)
	}
	return nil
}

// PublishSweep asks the sweep consumer of a running server to sweep now.
func PublishSweep(ctx context.Context, js JetStreamPublisher, cmd model.SweepCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal sweep command: %w", err)
	}
	if _, err := js.Publish(cmd.Kind.Subject(), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish sweep command: %w", err)
	}
	return nil
}
