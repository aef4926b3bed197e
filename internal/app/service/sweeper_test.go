package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/nats-io/nats.go"
)

func TestSweepConsumer_Handle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, CreateLinkInput{OriginalURL: "https://example.com/exp", ExpiresAt: ptrTime(testNow.Add(2 * time.Minute))})
	f.now = testNow.AddDate(0, 0, -10)
	old := f.create(t, CreateLinkInput{OriginalURL: "https://example.com/old"})
	f.now = testNow.Add(time.Hour)

	consumer := NewSweepConsumer(nil, nil, NewSweeper(nil, f.svc, SweeperOptions{RetentionDays: 30}))

	expire, _ := json.Marshal(model.SweepCommand{Kind: model.SweepExpire})
	if err := consumer.Handle(ctx, expire); err != nil {
		t.Fatalf("Handle(expire): %v", err)
	}
	if expired, _ := f.svc.ListExpired(ctx); len(expired) != 1 {
		t.Fatalf("expected 1 expired link, got %d", len(expired))
	}

	stale, _ := json.Marshal(model.SweepCommand{Kind: model.SweepStale, RetentionDays: 5})
	if err := consumer.Handle(ctx, stale); err != nil {
		t.Fatalf("Handle(stale): %v", err)
	}
	if _, err := f.repo.GetByCode(ctx, old.ShortCode, false); err == nil {
		t.Fatal("stale link must be purged with the requested retention")
	}

	unknown, _ := json.Marshal(model.SweepCommand{Kind: "vacuum"})
	if err := consumer.Handle(ctx, unknown); !errors.Is(err, ErrUnknownSweep) {
		t.Fatalf("expected ErrUnknownSweep, got %v", err)
	}
	if err := consumer.Handle(ctx, []byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	sweeper := NewSweeper(nil, f.svc, SweeperOptions{ExpireInterval: time.Millisecond, StaleInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweepConsumer_BacksOffOnFetchError(t *testing.T) {
	consumer := NewSweepConsumer(nil, nil, NewSweeper(nil, newFixture(t).svc, SweeperOptions{}))
	consumer.fetchBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	calls := 0
	err := consumer.consume(ctx, func() ([]*nats.Msg, error) {
		calls++
		return nil, nats.ErrConnectionClosed
	})
	if err != nil {
		t.Fatalf("consume returned error: %v", err)
	}
	if calls == 0 || calls > 10 {
		t.Fatalf("expected a handful of paced fetches, got %d", calls)
	}
}

func TestSweepConsumer_EmptyWaitDoesNotBackOff(t *testing.T) {
	consumer := NewSweepConsumer(nil, nil, NewSweeper(nil, newFixture(t).svc, SweeperOptions{}))
	consumer.fetchBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- consumer.consume(ctx, func() ([]*nats.Msg, error) {
			calls++
			if calls == 3 {
				cancel()
			}
			return nil, nats.ErrTimeout
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("consume returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeouts must be retried without backoff")
	}
}

type fakeJetStream struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return &nats.PubAck{Stream: model.LinkEventStreamName}, nil
}

func TestLinkEventPublisher_Publish(t *testing.T) {
	js := &fakeJetStream{}
	pub := NewLinkEventPublisher(js)

	err := pub.Publish(context.Background(), model.LinkEvent{Kind: model.LinkDeleted, ShortCode: "abc", LinkID: 3})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(js.subjects) != 1 || js.subjects[0] != "links.events.deleted" {
		t.Fatalf("unexpected subjects %v", js.subjects)
	}

	var event model.LinkEvent
	if err := json.Unmarshal(js.payloads[0], &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.ID == "" || event.ShortCode != "abc" || event.LinkID != 3 {
		t.Fatalf("unexpected event %+v", event)
	}

	js.err = errors.New("no responders")
	if err := pub.Publish(context.Background(), model.LinkEvent{Kind: model.LinkCreated}); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestPublishSweep(t *testing.T) {
	js := &fakeJetStream{}
	if err := PublishSweep(context.Background(), js, model.SweepCommand{Kind: model.SweepStale, RetentionDays: 7}); err != nil {
		t.Fatalf("PublishSweep: %v", err)
	}
	if js.subjects[0] != "links.sweep.stale" {
		t.Fatalf("unexpected subject %q", js.subjects[0])
	}
}
