package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/LHLHLHE/short-links/internal/app/service"
	"github.com/LHLHLHE/short-links/internal/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type stubLinkService struct {
	service.LinkService

	created    service.CreateLinkInput
	requester  *int64
	links      map[string]*model.Link
	createErr  error
	mutateErr  error
	ownerCalls []int64
}

func newStubLinkService() *stubLinkService {
	return &stubLinkService{links: map[string]*model.Link{
		"abc12345": {ID: 1, OriginalURL: "https://example.com/a", ShortCode: "abc12345", ShortLink: "http://example.com/links/abc12345", CreatedAt: time.Now().UTC()},
	}}
}

func (s *stubLinkService) CreateLink(_ context.Context, input service.CreateLinkInput) (*model.Link, error) {
	s.created = input
	if s.createErr != nil {
		return nil, s.createErr
	}
	code := input.Alias
	if code == "" {
		code = "gen00001"
	}
	link, _ := service.BuildShortLink(input.RequestURL, code)
	return &model.Link{ID: 2, OriginalURL: input.OriginalURL, ShortCode: code, ShortLink: link, UserID: input.OwnerID, ExpiresAt: input.ExpiresAt}, nil
}

func (s *stubLinkService) Resolve(_ context.Context, code string) (string, error) {
	link, ok := s.links[code]
	if !ok {
		return "", service.ErrNotFound
	}
	return link.OriginalURL, nil
}

func (s *stubLinkService) GetLink(_ context.Context, code string) (*model.Link, error) {
	link, ok := s.links[code]
	if !ok {
		return nil, service.ErrNotFound
	}
	return link, nil
}

func (s *stubLinkService) GetStats(_ context.Context, code string) (*service.LinkStats, error) {
	link, ok := s.links[code]
	if !ok {
		return nil, service.ErrNotFound
	}
	return &service.LinkStats{OriginalURL: link.OriginalURL, CreatedAt: link.CreatedAt, RedirectCount: 7}, nil
}

func (s *stubLinkService) UpdateDestination(_ context.Context, code, newURL string, requesterID *int64) (*model.Link, error) {
	s.requester = requesterID
	if s.mutateErr != nil {
		return nil, s.mutateErr
	}
	link := *s.links[code]
	link.OriginalURL = newURL
	return &link, nil
}

func (s *stubLinkService) DeleteLink(_ context.Context, _ string, requesterID *int64) error {
	s.requester = requesterID
	return s.mutateErr
}

func (s *stubLinkService) ListByOwner(_ context.Context, ownerID int64) ([]model.Link, error) {
	s.ownerCalls = append(s.ownerCalls, ownerID)
	return []model.Link{*s.links["abc12345"]}, nil
}

func (s *stubLinkService) ListByOriginalURL(_ context.Context, originalURL string) ([]model.Link, error) {
	if _, err := service.ValidateURL(originalURL); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *stubLinkService) ListExpired(context.Context) ([]model.Link, error) {
	return []model.Link{}, nil
}

type stubTokens map[string]int64

func (s stubTokens) Authenticate(_ context.Context, token string) (int64, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid")
}

func newLinkApp(svc service.LinkService) *fiber.App {
	app := fiber.New()
	app.Use(middleware.Authenticate(stubTokens{"alice": 1}))
	NewLinkHandler(LinkDeps{LinkService: svc}).Register(app)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any, token string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func TestLinkHandler_CreateLink(t *testing.T) {
	svc := newStubLinkService()
	app := newLinkApp(svc)

	resp := doJSON(t, app, fiber.MethodPost, "/links/shorten?expires_at=2030-01-02T03:04", CreateLinkRequest{
		OriginalURL: "https://example.com/a",
	}, "alice")
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var got LinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ShortLink != "http://example.com/links/gen00001" {
		t.Fatalf("unexpected short link %q", got.ShortLink)
	}
	if svc.created.OwnerID == nil || *svc.created.OwnerID != 1 {
		t.Fatalf("expected owner 1, got %v", svc.created.OwnerID)
	}
	want := time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)
	if svc.created.ExpiresAt == nil || !svc.created.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, svc.created.ExpiresAt)
	}
}

func TestLinkHandler_CreateLinkErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       any
		serviceErr error
		wantStatus int
	}{
		{name: "missing url", path: "/links/shorten", body: CreateLinkRequest{}, wantStatus: fiber.StatusBadRequest},
		{name: "bad expiry", path: "/links/shorten?expires_at=tomorrow", body: CreateLinkRequest{OriginalURL: "https://example.com"}, wantStatus: fiber.StatusBadRequest},
		{name: "alias conflict", path: "/links/shorten", body: CreateLinkRequest{OriginalURL: "https://example.com", CustomAlias: "promo"}, serviceErr: service.ErrAliasConflict, wantStatus: fiber.StatusConflict},
		{name: "invalid alias", path: "/links/shorten", body: CreateLinkRequest{OriginalURL: "https://example.com", CustomAlias: "a/b"}, serviceErr: service.ErrInvalidAlias, wantStatus: fiber.StatusBadRequest},
		{name: "past expiry", path: "/links/shorten", body: CreateLinkRequest{OriginalURL: "https://example.com"}, serviceErr: service.ErrInvalidExpiry, wantStatus: fiber.StatusBadRequest},
		{name: "exhausted", path: "/links/shorten", body: CreateLinkRequest{OriginalURL: "https://example.com"}, serviceErr: service.ErrGenerationExhausted, wantStatus: fiber.StatusServiceUnavailable},
		{name: "store failure", path: "/links/shorten", body: CreateLinkRequest{OriginalURL: "https://example.com"}, serviceErr: errors.New("db down"), wantStatus: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubLinkService()
			svc.createErr = tt.serviceErr
			resp := doJSON(t, newLinkApp(svc), fiber.MethodPost, tt.path, tt.body, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestLinkHandler_Redirect(t *testing.T) {
	app := newLinkApp(newStubLinkService())

	resp := doJSON(t, app, fiber.MethodGet, "/links/abc12345", nil, "")
	if resp.StatusCode != fiber.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get(fiber.HeaderLocation); loc != "https://example.com/a" {
		t.Fatalf("unexpected location %q", loc)
	}

	resp = doJSON(t, app, fiber.MethodGet, "/links/zzzzzzzz", nil, "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLinkHandler_FixedRoutesWinOverCode(t *testing.T) {
	svc := newStubLinkService()
	app := newLinkApp(svc)

	if resp := doJSON(t, app, fiber.MethodGet, "/links/expired", nil, ""); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected expired listing, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, fiber.MethodGet, "/links/my", nil, ""); resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous owner listing, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, fiber.MethodGet, "/links/my", nil, "alice"); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected owner listing, got %d", resp.StatusCode)
	}
	if len(svc.ownerCalls) != 1 || svc.ownerCalls[0] != 1 {
		t.Fatalf("unexpected owner calls %v", svc.ownerCalls)
	}
	if resp := doJSON(t, app, fiber.MethodGet, "/links/search", nil, ""); resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without original_url, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, fiber.MethodGet, "/links/search?original_url=https://example.com/a", nil, ""); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected search result, got %d", resp.StatusCode)
	}
}

func TestLinkHandler_Stats(t *testing.T) {
	app := newLinkApp(newStubLinkService())

	resp := doJSON(t, app, fiber.MethodGet, "/links/abc12345/stats", nil, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.RedirectCount != 7 || stats.OriginalURL != "https://example.com/a" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestLinkHandler_UpdateAndDelete(t *testing.T) {
	svc := newStubLinkService()
	app := newLinkApp(svc)

	resp := doJSON(t, app, fiber.MethodPut, "/links/abc12345", UpdateLinkRequest{OriginalURL: "https://example.com/b"}, "alice")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if svc.requester == nil || *svc.requester != 1 {
		t.Fatalf("expected requester 1, got %v", svc.requester)
	}

	svc.mutateErr = service.ErrNotOwner
	resp = doJSON(t, app, fiber.MethodDelete, "/links/abc12345", nil, "")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if svc.requester != nil {
		t.Fatalf("anonymous delete must pass a nil requester, got %v", *svc.requester)
	}

	svc.mutateErr = nil
	resp = doJSON(t, app, fiber.MethodDelete, "/links/abc12345", nil, "alice")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestLinkHandler_QRCode(t *testing.T) {
	app := newLinkApp(newStubLinkService())

	resp := doJSON(t, app, fiber.MethodGet, "/links/abc12345/qr", nil, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get(fiber.HeaderContentType); ct != "image/png" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Fatal("expected a PNG body")
	}
}

func TestParseExpiresAt(t *testing.T) {
	if got, err := parseExpiresAt(""); err != nil || got != nil {
		t.Fatalf("empty expiry = %v, %v", got, err)
	}
	got, err := parseExpiresAt("2030-05-06T07:08:09+02:00")
	if err != nil {
		t.Fatalf("RFC3339 expiry: %v", err)
	}
	if !got.Equal(time.Date(2030, 5, 6, 5, 8, 9, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", got)
	}
}
