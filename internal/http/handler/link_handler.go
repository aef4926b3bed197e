package handler

import (
	"strings"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/LHLHLHE/short-links/internal/app/service"
	"github.com/LHLHLHE/short-links/internal/http/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrSize = 256

// ExpiresAtLayout is the minute-precision layout accepted for expires_at.
const ExpiresAtLayout = "2006-01-02T15:04"

// LinkDeps groups dependencies required by link handlers.
type LinkDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
	// Cached wraps read endpoints with the response cache; nil disables it.
	Cached func(namespace string, key middleware.CacheKeyFunc) fiber.Handler
}

// LinkHandler implements the link management endpoints.
type LinkHandler struct {
	logger *zap.Logger
	links  service.LinkService
	cached func(namespace string, key middleware.CacheKeyFunc) fiber.Handler
}

// NewLinkHandler creates a link handler with the provided dependencies.
func NewLinkHandler(deps LinkDeps) *LinkHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cached := deps.Cached
	if cached == nil {
		cached = func(string, middleware.CacheKeyFunc) fiber.Handler {
			return func(c *fiber.Ctx) error { return c.Next() }
		}
	}
	return &LinkHandler{logger: logger, links: deps.LinkService, cached: cached}
}

// Register wires link routes onto the provided router. Fixed paths are
// registered before /:code so they are never taken for a short code.
func (h *LinkHandler) Register(router fiber.Router) {
	links := router.Group("/links")
	{
		links.Post("/shorten", h.CreateLink)
		links.Get("/search", h.cached(service.NamespaceSearchLink, searchKey), h.Search)
		links.Get("/my", middleware.RequireAuth(), h.cached(service.NamespaceMyLinks, ownerKey), h.MyLinks)
		links.Get("/expired", h.cached(service.NamespaceExpiredLinks, expiredKey), h.Expired)
		links.Get("/:code/stats", h.cached(service.NamespaceLinkStats, codeKey), h.Stats)
		links.Get("/:code/qr", h.QRCode)
		links.Get("/:code", h.Redirect)
		links.Put("/:code", h.UpdateLink)
		links.Delete("/:code", h.DeleteLink)
	}
}

// CreateLinkRequest represents the request body for creating a link.
type CreateLinkRequest struct {
	OriginalURL string `json:"original_url"`
	CustomAlias string `json:"custom_alias,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// UpdateLinkRequest represents the request body for updating a link.
type UpdateLinkRequest struct {
	OriginalURL string `json:"original_url"`
}

// LinkResponse is the public representation of a link.
type LinkResponse struct {
	ID            int64      `json:"id"`
	OriginalURL   string     `json:"original_url"`
	ShortCode     string     `json:"short_code"`
	ShortLink     string     `json:"short_link"`
	CreatedAt     time.Time  `json:"created_at"`
	RedirectCount int64      `json:"redirect_count"`
	LastUsedAt    *time.Time `json:"last_used_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	IsExpired     bool       `json:"is_expired"`
	UserID        *int64     `json:"user_id"`
}

// StatsResponse is the usage projection returned by the stats endpoint.
type StatsResponse struct {
	OriginalURL   string     `json:"original_url"`
	CreatedAt     time.Time  `json:"created_at"`
	RedirectCount int64      `json:"redirect_count"`
	LastUsedAt    *time.Time `json:"last_used_at"`
}

// CreateLink handles POST /links/shorten
func (h *LinkHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.OriginalURL) == "" {
		return fail(c, fiber.StatusBadRequest, "original_url is required")
	}

	rawExpiry := req.ExpiresAt
	if q := c.Query("expires_at"); q != "" {
		rawExpiry = q
	}
	expiresAt, err := parseExpiresAt(rawExpiry)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "expires_at must look like "+ExpiresAtLayout)
	}

	link, err := h.links.CreateLink(c.UserContext(), service.CreateLinkInput{
		OriginalURL: req.OriginalURL,
		Alias:       req.CustomAlias,
		ExpiresAt:   expiresAt,
		OwnerID:     middleware.UserID(c),
		RequestURL:  c.BaseURL() + c.Path(),
	})
	if err != nil {
		return respondError(c, h.logger, err, "failed to create link")
	}

	return c.Status(fiber.StatusCreated).JSON(toLinkResponse(link))
}

// Redirect handles GET /links/:code
func (h *LinkHandler) Redirect(c *fiber.Ctx) error {
	code := c.Params("code")
	destination, err := h.links.Resolve(c.UserContext(), code)
	if err != nil {
		return respondError(c, h.logger, err, "failed to resolve link")
	}

	h.logger.Debug("redirecting short link", zap.String("code", code), zap.String("target", destination))
	return c.Redirect(destination, fiber.StatusTemporaryRedirect)
}

// Stats handles GET /links/:code/stats
func (h *LinkHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.links.GetStats(c.UserContext(), c.Params("code"))
	if err != nil {
		return respondError(c, h.logger, err, "failed to load stats")
	}
	return c.JSON(StatsResponse{
		OriginalURL:   stats.OriginalURL,
		CreatedAt:     stats.CreatedAt,
		RedirectCount: stats.RedirectCount,
		LastUsedAt:    stats.LastUsedAt,
	})
}

// Search handles GET /links/search?original_url=
func (h *LinkHandler) Search(c *fiber.Ctx) error {
	originalURL := c.Query("original_url")
	if originalURL == "" {
		return fail(c, fiber.StatusBadRequest, "original_url is required")
	}
	links, err := h.links.ListByOriginalURL(c.UserContext(), originalURL)
	if err != nil {
		return respondError(c, h.logger, err, "failed to search links")
	}
	return c.JSON(toLinkResponses(links))
}

// MyLinks handles GET /links/my
func (h *LinkHandler) MyLinks(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	links, err := h.links.ListByOwner(c.UserContext(), *userID)
	if err != nil {
		return respondError(c, h.logger, err, "failed to list user links")
	}
	return c.JSON(toLinkResponses(links))
}

// Expired handles GET /links/expired
func (h *LinkHandler) Expired(c *fiber.Ctx) error {
	links, err := h.links.ListExpired(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err, "failed to list expired links")
	}
	return c.JSON(toLinkResponses(links))
}

// UpdateLink handles PUT /links/:code
func (h *LinkHandler) UpdateLink(c *fiber.Ctx) error {
	var req UpdateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.OriginalURL) == "" {
		return fail(c, fiber.StatusBadRequest, "original_url is required")
	}

	link, err := h.links.UpdateDestination(c.UserContext(), c.Params("code"), req.OriginalURL, middleware.UserID(c))
	if err != nil {
		return respondError(c, h.logger, err, "failed to update link")
	}
	return c.JSON(toLinkResponse(link))
}

// DeleteLink handles DELETE /links/:code
func (h *LinkHandler) DeleteLink(c *fiber.Ctx) error {
	if err := h.links.DeleteLink(c.UserContext(), c.Params("code"), middleware.UserID(c)); err != nil {
		return respondError(c, h.logger, err, "failed to delete link")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// QRCode handles GET /links/:code/qr and renders the short link as a PNG.
func (h *LinkHandler) QRCode(c *fiber.Ctx) error {
	link, err := h.links.GetLink(c.UserContext(), c.Params("code"))
	if err != nil {
		return respondError(c, h.logger, err, "failed to load link")
	}

	png, err := qrcode.Encode(link.ShortLink, qrcode.Medium, qrSize)
	if err != nil {
		return respondError(c, h.logger, err, "failed to render qr code")
	}

	c.Set(fiber.HeaderContentDisposition, "inline; filename=qrcode.png")
	c.Type("png")
	return c.Send(png)
}

func parseExpiresAt(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(ExpiresAtLayout, raw, time.UTC); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func toLinkResponse(link *model.Link) LinkResponse {
	return LinkResponse{
		ID:            link.ID,
		OriginalURL:   link.OriginalURL,
		ShortCode:     link.ShortCode,
		ShortLink:     link.ShortLink,
		CreatedAt:     link.CreatedAt,
		RedirectCount: link.RedirectCount,
		LastUsedAt:    link.LastUsedAt,
		ExpiresAt:     link.ExpiresAt,
		IsExpired:     link.IsExpired,
		UserID:        link.UserID,
	}
}

func toLinkResponses(links []model.Link) []LinkResponse {
	out := make([]LinkResponse, len(links))
	for i := range links {
		out[i] = toLinkResponse(&links[i])
	}
	return out
}

func codeKey(c *fiber.Ctx) (string, bool) {
	code := c.Params("code")
	return code, code != ""
}

func searchKey(c *fiber.Ctx) (string, bool) {
	u, err := service.ValidateURL(c.Query("original_url"))
	return u, err == nil
}

func ownerKey(c *fiber.Ctx) (string, bool) {
	userID := middleware.UserID(c)
	if userID == nil {
		return "", false
	}
	return service.OwnerKey(*userID), true
}

func expiredKey(*fiber.Ctx) (string, bool) {
	return service.ExpiredListingKey, true
}
