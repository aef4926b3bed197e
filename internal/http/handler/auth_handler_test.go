package handler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/LHLHLHE/short-links/internal/app/service"
	"github.com/gofiber/fiber/v2"
)

type stubAuthService struct {
	users map[string]string
}

func (s *stubAuthService) Register(_ context.Context, username, password string) (*model.User, error) {
	if username == "" || password == "" {
		return nil, service.ErrInvalidUser
	}
	if _, ok := s.users[username]; ok {
		return nil, service.ErrUsernameTaken
	}
	s.users[username] = password
	return &model.User{ID: int64(len(s.users)), Username: username, CreatedAt: time.Now().UTC()}, nil
}

func (s *stubAuthService) Login(_ context.Context, username, password string) (string, error) {
	if pw, ok := s.users[username]; !ok || pw != password {
		return "", service.ErrInvalidCredentials
	}
	return "token-" + username, nil
}

func (s *stubAuthService) Authenticate(context.Context, string) (int64, error) {
	return 0, service.ErrInvalidToken
}

func TestAuthHandler(t *testing.T) {
	app := fiber.New()
	NewAuthHandler(nil, &stubAuthService{users: make(map[string]string)}).Register(app)

	creds := CredentialsRequest{Username: "alice", Password: "pw"}
	if resp := doJSON(t, app, fiber.MethodPost, "/auth/register", creds, ""); resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	if resp := doJSON(t, app, fiber.MethodPost, "/auth/register", creds, ""); resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}

	resp := doJSON(t, app, fiber.MethodPost, "/auth/login", creds, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if token.AccessToken != "token-alice" || token.TokenType != "bearer" {
		t.Fatalf("unexpected token %+v", token)
	}

	bad := CredentialsRequest{Username: "alice", Password: "nope"}
	if resp := doJSON(t, app, fiber.MethodPost, "/auth/login", bad, ""); resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.StatusCode)
	}
}
