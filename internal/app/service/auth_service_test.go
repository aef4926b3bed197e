package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/LHLHLHE/short-links/internal/app/repository"
)

type memoryUserRepository struct {
	users map[string]model.User
}

func (m *memoryUserRepository) Create(_ context.Context, user *model.User) error {
	if _, ok := m.users[user.Username]; ok {
		return repository.ErrUsernameTaken
	}
	user.ID = int64(len(m.users) + 1)
	m.users[user.Username] = *user
	return nil
}

func (m *memoryUserRepository) GetByID(_ context.Context, id int64) (*model.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *memoryUserRepository) GetByUsername(_ context.Context, username string) (*model.User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

type stubIssuer struct{ issued []int64 }

func (s *stubIssuer) Issue(userID int64) (string, error) {
	s.issued = append(s.issued, userID)
	return fmt.Sprintf("token-%d", userID), nil
}

func (s *stubIssuer) Validate(token string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(token, "token-%d", &id); err != nil {
		return 0, err
	}
	return id, nil
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	users := &memoryUserRepository{users: make(map[string]model.User)}
	issuer := &stubIssuer{}
	svc := NewAuthService(users, issuer)
	ctx := context.Background()

	user, err := svc.Register(ctx, " alice ", "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Username != "alice" || user.PasswordHash == "s3cret" || user.PasswordHash == "" {
		t.Fatalf("unexpected user %+v", user)
	}

	if _, err := svc.Register(ctx, "alice", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	token, err := svc.Login(ctx, "alice", "s3cret")
	if err != nil || token != fmt.Sprintf("token-%d", user.ID) {
		t.Fatalf("Login = %q, %v", token, err)
	}
	if len(issuer.issued) != 1 || issuer.issued[0] != user.ID {
		t.Fatalf("expected token for user %d, issued %v", user.ID, issuer.issued)
	}

	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "bob", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc := NewAuthService(&memoryUserRepository{users: make(map[string]model.User)}, &stubIssuer{})
	if _, err := svc.Register(context.Background(), "  ", "pw"); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "carol", ""); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestAuthService_Authenticate(t *testing.T) {
	users := &memoryUserRepository{users: make(map[string]model.User)}
	svc := NewAuthService(users, &stubIssuer{})
	ctx := context.Background()

	user, err := svc.Register(ctx, "dave", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	id, err := svc.Authenticate(ctx, fmt.Sprintf("token-%d", user.ID))
	if err != nil || id != user.ID {
		t.Fatalf("Authenticate = %d, %v", id, err)
	}
	if _, err := svc.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	delete(users.users, "dave")
	if _, err := svc.Authenticate(ctx, fmt.Sprintf("token-%d", user.ID)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a removed user, got %v", err)
	}
}
