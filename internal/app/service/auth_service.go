package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/LHLHLHE/short-links/internal/app/repository"
	"golang.org/x/crypto/bcrypt"
)

const passwordCost = 12

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidUser        = errors.New("username and password are required")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// TokenIssuer mints and verifies access tokens.
type TokenIssuer interface {
	Issue(userID int64) (string, error)
	Validate(token string) (int64, error)
}

// AuthService registers users and exchanges credentials for tokens.
type AuthService interface {
	Register(ctx context.Context, username, password string) (*model.User, error)
	Login(ctx context.Context, username, password string) (string, error)
	// Authenticate resolves a bearer token to the id of a user that still exists.
	Authenticate(ctx context.Context, token string) (int64, error)
}

type authService struct {
	users  repository.UserRepository
	tokens TokenIssuer
	now    func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(users repository.UserRepository, tokens TokenIssuer) AuthService {
	return &authService{users: users, tokens: tokens, now: time.Now}
}

func (s *authService) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *authService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

func (s *authService) Authenticate(ctx context.Context, token string) (int64, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("load user: %w", err)
	}
	return userID, nil
}
