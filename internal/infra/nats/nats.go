package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/LHLHLHE/short-links/config"
	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/nats-io/nats.go"
)

const (
	defaultConnectTimeout = 5 * time.Second
	sweepStreamMaxAge     = time.Hour
)

// Connect creates a NATS connection (with JetStream available) using application config.
func Connect(cfg config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name("short-links"),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(buildURL(cfg), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// StreamManager is the slice of nats.JetStreamContext needed to provision streams.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// Streams lists the JetStream streams the service publishes to.
func Streams() []nats.StreamConfig {
	return []nats.StreamConfig{
		{
			Name:     model.LinkEventStreamName,
			Subjects: []string{model.LinkEventSubjectPrefix + ".>"},
			MaxBytes: model.LinkEventStreamMaxBytes,
		},
		{
			Name:      model.SweepStreamName,
			Subjects:  []string{model.SweepSubjectPrefix + ".*"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    sweepStreamMaxAge,
		},
	}
}

// EnsureStreams creates any stream from Streams that does not exist yet.
func EnsureStreams(js StreamManager) error {
	for _, cfg := range Streams() {
		_, err := js.StreamInfo(cfg.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("nats: stream info %s: %w", cfg.Name, err)
		}
		if _, err := js.AddStream(&cfg); err != nil {
			return fmt.Errorf("nats: create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

func buildURL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
