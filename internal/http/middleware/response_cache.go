package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const CacheStatusHeader = "X-Cache"

// ResponseStore holds cached response bodies by namespace and key.
type ResponseStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
}

// CacheKeyFunc derives the cache key of a request; ok=false bypasses the cache.
type CacheKeyFunc func(c *fiber.Ctx) (key string, ok bool)

// ResponseCache is a read-through cache for JSON GET responses.
type ResponseCache struct {
	store  ResponseStore
	logger *zap.Logger
	ttls   map[string]time.Duration
	miss   error
}

// NewResponseCache builds a cache over store. ttls holds the lifetime of each
// namespace; miss is the sentinel the store returns for absent keys.
func NewResponseCache(store ResponseStore, logger *zap.Logger, ttls map[string]time.Duration, miss error) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{store: store, logger: logger, ttls: ttls, miss: miss}
}

// Handler serves cached bodies of namespace and stores successful responses.
// Store failures degrade to an uncached request.
func (rc *ResponseCache) Handler(namespace string, keyFn CacheKeyFunc) fiber.Handler {
	var ttl time.Duration
	if rc != nil {
		ttl = rc.ttls[namespace]
	}
	return func(c *fiber.Ctx) error {
		if rc == nil || rc.store == nil || ttl <= 0 {
			return c.Next()
		}
		key, ok := keyFn(c)
		if !ok {
			return c.Next()
		}

		ctx := c.UserContext()
		body, err := rc.store.Get(ctx, namespace, key)
		if err == nil {
			c.Set(CacheStatusHeader, "HIT")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(body)
		}
		if !errors.Is(err, rc.miss) {
			rc.logger.Warn("response cache read failed", zap.String("namespace", namespace), zap.Error(err))
		}

		if err := c.Next(); err != nil {
			return err
		}
		c.Set(CacheStatusHeader, "MISS")
		if c.Response().StatusCode() != fiber.StatusOK {
			return nil
		}

		// fasthttp reuses the body buffer once the request completes.
		body = append([]byte(nil), c.Response().Body()...)
		if err := rc.store.Set(ctx, namespace, key, body, ttl); err != nil {
			rc.logger.Warn("response cache write failed", zap.String("namespace", namespace), zap.Error(err))
		}
		return nil
	}
}
