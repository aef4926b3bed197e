package redis

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/LHLHLHE/short-links/config"
	"github.com/redis/go-redis/v9"
)

const (
	clientName  = "short-links"
	dialTimeout = 5 * time.Second
	// Cache and rate limiter calls sit on the request path; keep them short.
	ioTimeout = time.Second
)

// Options translates cfg into the client options shared by the response
// cache and the rate limiter.
func Options(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:                  net.JoinHostPort(cmp.Or(cfg.Host, "localhost"), strconv.Itoa(cmp.Or(cfg.Port, 6379))),
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ClientName:            clientName,
		DialTimeout:           dialTimeout,
		ReadTimeout:           ioTimeout,
		WriteTimeout:          ioTimeout,
		ContextTimeoutEnabled: true,
	}
}

// NewClient connects to Redis and verifies the server answers PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := Options(cfg)
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
