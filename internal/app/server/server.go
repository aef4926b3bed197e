package server

import (
	"context"
	"errors"

	"github.com/LHLHLHE/short-links/internal/app/service"
	inthttp "github.com/LHLHLHE/short-links/internal/http/handler"
	"github.com/LHLHLHE/short-links/internal/http/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies bundles what the HTTP server needs to serve requests.
type Dependencies struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	AuthService service.AuthService
	// Redis backs the rate limiter; nil disables rate limiting.
	Redis     redis.Cmdable
	RateLimit middleware.RateLimitConfig
	// Cache serves read endpoints; nil disables response caching.
	Cache  *middleware.ResponseCache
	Checks map[string]inthttp.Check
}

// Server wraps the Fiber application and its dependencies.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New creates a new HTTP server instance with all routes registered.
func New(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "short-links",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(deps.Logger),
	})

	s := &Server{
		app:  app,
		deps: deps,
	}

	s.registerRoutes()
	return s
}

// App exposes the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the Fiber server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the Fiber server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Use(
		middleware.RequestID(),
		middleware.Recovery(s.deps.Logger),
		middleware.CORS(),
		middleware.Logger(s.deps.Logger),
	)

	inthttp.NewHealthHandler(inthttp.HealthDeps{
		Logger: s.deps.Logger,
		Checks: s.deps.Checks,
	}).Register(s.app)

	api := s.app.Group("")
	if s.deps.Redis != nil {
		api.Use(middleware.RateLimit(s.deps.Redis, s.deps.RateLimit, s.deps.Logger))
	}
	api.Use(middleware.Authenticate(s.deps.AuthService))

	inthttp.NewAuthHandler(s.deps.Logger, s.deps.AuthService).Register(api)

	var cached func(string, middleware.CacheKeyFunc) fiber.Handler
	if s.deps.Cache != nil {
		cached = s.deps.Cache.Handler
	}
	inthttp.NewLinkHandler(inthttp.LinkDeps{
		Logger:      s.deps.Logger,
		LinkService: s.deps.LinkService,
		Cached:      cached,
	}).Register(api)
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("unhandled request error", zap.Error(err), zap.String("path", c.Path()))
		}
		return c.Status(code).JSON(inthttp.ErrorResponse{Error: statusMessage(code, err)})
	}
}

func statusMessage(code int, err error) string {
	if code >= fiber.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
