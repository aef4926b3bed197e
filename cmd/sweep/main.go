// Command sweep asks a running server to run a link sweep immediately.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/LHLHLHE/short-links/config"
	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/LHLHLHE/short-links/internal/app/service"
	"github.com/LHLHLHE/short-links/internal/infra/logger"
	infraNATS "github.com/LHLHLHE/short-links/internal/infra/nats"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

func main() {
	var (
		kind          string
		retentionDays int
	)
	pflag.StringVarP(&kind, "kind", "k", string(model.SweepExpire), "sweep to run: expire or stale")
	pflag.IntVarP(&retentionDays, "retention-days", "r", 0, "staleness threshold in days (stale only, defaults to the server setting)")
	pflag.Parse()

	log := logger.MustInit(logger.Config{Development: true, Service: "sweep"})
	defer func() { _ = logger.Sync() }()

	cmd, err := buildCommand(kind, retentionDays, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	conn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer conn.Close()

	if err := infraNATS.EnsureStreams(js); err != nil {
		log.Fatal("Failed to provision JetStream streams", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := service.PublishSweep(ctx, js, cmd); err != nil {
		log.Fatal("Failed to request sweep", zap.Error(err))
	}

	log.Info("Sweep requested",
		zap.String("kind", string(cmd.Kind)),
		zap.Int("retention_days", cmd.RetentionDays),
	)
}

func buildCommand(kind string, retentionDays int, now time.Time) (model.SweepCommand, error) {
	cmd := model.SweepCommand{Kind: model.SweepKind(kind), RequestedAt: now}
	switch cmd.Kind {
	case model.SweepExpire:
		if retentionDays != 0 {
			return cmd, errors.New("--retention-days only applies to stale sweeps")
		}
	case model.SweepStale:
		if retentionDays < 0 {
			return cmd, errors.New("--retention-days must not be negative")
		}
		cmd.RetentionDays = retentionDays
	default:
		return cmd, fmt.Errorf("unknown sweep kind %q", kind)
	}
	return cmd, nil
}
