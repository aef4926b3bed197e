package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/LHLHLHE/short-links/internal/app/model"
	"github.com/LHLHLHE/short-links/internal/app/repository"
	"github.com/LHLHLHE/short-links/internal/app/shortcode"
	infraPrometheus "github.com/LHLHLHE/short-links/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	maxURLLength = 2048
	// MaxAliasLength matches the width of links.short_code.
	MaxAliasLength = 64
)

// LinkService defines behaviour-level operations on links.
// It is the only writer of link state and the only trigger of cache invalidation.
type LinkService interface {
	CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error)
	Resolve(ctx context.Context, code string) (string, error)
	GetLink(ctx context.Context, code string) (*model.Link, error)
	UpdateDestination(ctx context.Context, code, newURL string, requesterID *int64) (*model.Link, error)
	DeleteLink(ctx context.Context, code string, requesterID *int64) error
	GetStats(ctx context.Context, code string) (*LinkStats, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Link, error)
	ListByOriginalURL(ctx context.Context, originalURL string) ([]model.Link, error)
	ListExpired(ctx context.Context) ([]model.Link, error)
	SweepExpirations(ctx context.Context) ([]model.Link, error)
	SweepStale(ctx context.Context, retentionDays int) ([]model.Link, error)
}

// CodeGenerator acquires a unique short code by claiming it through claim.
type CodeGenerator interface {
	Generate(ctx context.Context, alias string, claim shortcode.ClaimFunc) (string, error)
}

// EventPublisher receives committed link changes.
type EventPublisher interface {
	Publish(ctx context.Context, event model.LinkEvent) error
}

// CreateLinkInput captures data required to create a link.
type CreateLinkInput struct {
	OriginalURL string
	Alias       string
	ExpiresAt   *time.Time
	OwnerID     *int64
	// RequestURL is the URL the shorten request was sent to. The short link is
	// that URL with its last path segment replaced by the code.
	RequestURL string
}

// LinkStats is the usage projection of a link.
type LinkStats struct {
	OriginalURL   string
	CreatedAt     time.Time
	RedirectCount int64
	LastUsedAt    *time.Time
}

// LinkDeps groups dependencies of the link service.
type LinkDeps struct {
	Repo        repository.LinkRepository
	Codes       CodeGenerator
	Invalidator *CacheInvalidator
	Events      EventPublisher
	Logger      *zap.Logger
	Metrics     *infraPrometheus.Metrics
	Now         func() time.Time
}

type linkService struct {
	repo        repository.LinkRepository
	codes       CodeGenerator
	invalidator *CacheInvalidator
	events      EventPublisher
	logger      *zap.Logger
	metrics     *infraPrometheus.Metrics
	now         func() time.Time
}

// NewLinkService returns a service implementation backed by the given dependencies.
func NewLinkService(deps LinkDeps) LinkService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	invalidator := deps.Invalidator
	if invalidator == nil {
		invalidator = NewCacheInvalidator(nil, logger, deps.Metrics, InvalidatorOptions{})
	}
	return &linkService{
		repo:        deps.Repo,
		codes:       deps.Codes,
		invalidator: invalidator,
		events:      deps.Events,
		logger:      logger,
		metrics:     deps.Metrics,
		now:         now,
	}
}

func (s *linkService) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	if strings.TrimSpace(input.RequestURL) == "" {
		return nil, ErrMissingRequestContext
	}
	originalURL, err := ValidateURL(input.OriginalURL)
	if err != nil {
		return nil, err
	}
	alias, err := ValidateAlias(input.Alias)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expiresAt, err := NormalizeExpiry(input.ExpiresAt, now)
	if err != nil {
		return nil, err
	}

	var created *model.Link
	_, err = s.codes.Generate(ctx, alias, func(ctx context.Context, code string) error {
		shortLink, err := BuildShortLink(input.RequestURL, code)
		if err != nil {
			return err
		}
		link := &model.Link{
			OriginalURL: originalURL,
			ShortCode:   code,
			ShortLink:   shortLink,
			CreatedAt:   now,
			ExpiresAt:   expiresAt,
			UserID:      input.OwnerID,
		}
		if err := s.repo.Create(ctx, link); err != nil {
			if errors.Is(err, repository.ErrCodeTaken) {
				return shortcode.ErrCodeTaken
			}
			return fmt.Errorf("insert link: %w", err)
		}
		created = link
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}

	s.metrics.LinkCreated()
	s.invalidator.AfterCreate(ctx, created)
	s.publish(ctx, model.LinkCreated, created)
	return created, nil
}

// Resolve returns the destination of an active link and records the redirect.
//
// The counter is read and written back inside one transaction without a row
// lock, so concurrent redirects on the same code may lose increments. Redirect
// counts are a best-effort metric.
func (s *linkService) Resolve(ctx context.Context, code string) (string, error) {
	var destination string
	err := s.repo.Transaction(ctx, func(repo repository.LinkRepository) error {
		link, err := repo.GetByCode(ctx, code, true)
		if err != nil {
			return notFound(err)
		}
		if err := repo.UpdateStats(ctx, link.ID, link.RedirectCount+1, s.now().UTC()); err != nil {
			return notFound(err)
		}
		destination = link.OriginalURL
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.Redirect("miss")
		}
		return "", fmt.Errorf("resolve link: %w", err)
	}
	s.metrics.Redirect("hit")
	return destination, nil
}

func (s *linkService) GetLink(ctx context.Context, code string) (*model.Link, error) {
	link, err := s.repo.GetByCode(ctx, code, true)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", notFound(err))
	}
	return link, nil
}

func (s *linkService) UpdateDestination(ctx context.Context, code, newURL string, requesterID *int64) (*model.Link, error) {
	originalURL, err := ValidateURL(newURL)
	if err != nil {
		return nil, err
	}

	var before, after *model.Link
	err = s.repo.Transaction(ctx, func(repo repository.LinkRepository) error {
		link, err := ownedLink(ctx, repo, code, requesterID)
		if err != nil {
			return err
		}
		id, err := repo.UpdateOriginalURL(ctx, link.ID, originalURL)
		if err != nil {
			return notFound(err)
		}
		updated, err := repo.GetByID(ctx, id)
		if err != nil {
			return notFound(err)
		}
		before, after = link, updated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update link: %w", err)
	}

	s.invalidator.AfterUpdate(ctx, before, after)
	s.publish(ctx, model.LinkUpdated, after)
	return after, nil
}

func (s *linkService) DeleteLink(ctx context.Context, code string, requesterID *int64) error {
	var deleted *model.Link
	err := s.repo.Transaction(ctx, func(repo repository.LinkRepository) error {
		link, err := ownedLink(ctx, repo, code, requesterID)
		if err != nil {
			return err
		}
		if err := repo.DeleteByCode(ctx, link.ShortCode); err != nil {
			return notFound(err)
		}
		deleted = link
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	s.invalidator.AfterDelete(ctx, deleted)
	s.publish(ctx, model.LinkDeleted, deleted)
	return nil
}

func (s *linkService) GetStats(ctx context.Context, code string) (*LinkStats, error) {
	link, err := s.repo.GetByCode(ctx, code, true)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", notFound(err))
	}
	return &LinkStats{
		OriginalURL:   link.OriginalURL,
		CreatedAt:     link.CreatedAt,
		RedirectCount: link.RedirectCount,
		LastUsedAt:    link.LastUsedAt,
	}, nil
}

func (s *linkService) ListByOwner(ctx context.Context, ownerID int64) ([]model.Link, error) {
	links, err := s.repo.ListByOwner(ctx, ownerID, true)
	if err != nil {
		return nil, fmt.Errorf("list owner links: %w", err)
	}
	return links, nil
}

func (s *linkService) ListByOriginalURL(ctx context.Context, originalURL string) ([]model.Link, error) {
	normalized, err := ValidateURL(originalURL)
	if err != nil {
		return nil, err
	}
	links, err := s.repo.ListByOriginalURL(ctx, normalized, true)
	if err != nil {
		return nil, fmt.Errorf("search links: %w", err)
	}
	return links, nil
}

func (s *linkService) ListExpired(ctx context.Context) ([]model.Link, error) {
	links, err := s.repo.ListExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expired links: %w", err)
	}
	return links, nil
}

// SweepExpirations flags every link past its expires_at. Invalidation only
// follows a successfully returned set, so a failed run invalidates nothing.
func (s *linkService) SweepExpirations(ctx context.Context) ([]model.Link, error) {
	expired, err := s.repo.BulkExpire(ctx, s.now().UTC())
	if err != nil {
		s.metrics.SweepFailed(string(model.SweepExpire))
		return nil, fmt.Errorf("expire links: %w", err)
	}
	if len(expired) == 0 {
		return expired, nil
	}

	s.metrics.Swept(string(model.SweepExpire), len(expired))
	s.invalidator.AfterSweep(ctx, expired, true)
	for i := range expired {
		s.publish(ctx, model.LinkExpired, &expired[i])
	}
	return expired, nil
}

// SweepStale hard-deletes links unused for retentionDays (or never used and
// created before that).
func (s *linkService) SweepStale(ctx context.Context, retentionDays int) ([]model.Link, error) {
	if retentionDays <= 0 {
		return nil, ErrInvalidRetention
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	deleted, err := s.repo.BulkDeleteStale(ctx, cutoff)
	if err != nil {
		s.metrics.SweepFailed(string(model.SweepStale))
		return nil, fmt.Errorf("delete stale links: %w", err)
	}
	if len(deleted) == 0 {
		return deleted, nil
	}

	includeExpired := false
	for i := range deleted {
		if deleted[i].IsExpired {
			includeExpired = true
			break
		}
	}

	s.metrics.Swept(string(model.SweepStale), len(deleted))
	s.invalidator.AfterSweep(ctx, deleted, includeExpired)
	for i := range deleted {
		s.publish(ctx, model.LinkPurged, &deleted[i])
	}
	return deleted, nil
}

func (s *linkService) publish(ctx context.Context, kind model.LinkEventKind, link *model.Link) {
	if s.events == nil || link == nil {
		return
	}
	event := model.LinkEvent{
		Kind:        kind,
		LinkID:      link.ID,
		ShortCode:   link.ShortCode,
		OriginalURL: link.OriginalURL,
		UserID:      link.UserID,
		Timestamp:   s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish link event",
			zap.String("kind", string(kind)),
			zap.String("code", link.ShortCode),
			zap.Error(err),
		)
	}
}

// ownedLink loads an active link and checks requesterID owns it.
func ownedLink(ctx context.Context, repo repository.LinkRepository, code string, requesterID *int64) (*model.Link, error) {
	link, err := repo.GetByCode(ctx, code, true)
	if err != nil {
		return nil, notFound(err)
	}
	if !link.Owned(requesterID) {
		return nil, ErrNotOwner
	}
	return link, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrLinkNotFound) {
		return ErrNotFound
	}
	return err
}

// ValidateURL trims raw and checks it is an absolute http(s) URL.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxURLLength {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return raw, nil
}

// ValidateAlias trims a custom alias and checks that it fits the short code
// column and stays a single path segment. An empty alias is valid and means
// a random code.
func ValidateAlias(raw string) (string, error) {
	alias := strings.TrimSpace(raw)
	if alias == "" {
		return "", nil
	}
	if utf8.RuneCountInString(alias) > MaxAliasLength {
		return "", ErrInvalidAlias
	}
	if strings.ContainsAny(alias, "/?#%\\") || strings.IndexFunc(alias, unicode.IsSpace) >= 0 ||
		strings.IndexFunc(alias, unicode.IsControl) >= 0 {
		return "", ErrInvalidAlias
	}
	return alias, nil
}

// NormalizeExpiry truncates expiresAt to the minute in UTC and rejects values
// not strictly after the current minute.
func NormalizeExpiry(expiresAt *time.Time, now time.Time) (*time.Time, error) {
	if expiresAt == nil {
		return nil, nil
	}
	normalized := expiresAt.UTC().Truncate(time.Minute)
	if !normalized.After(now.UTC().Truncate(time.Minute)) {
		return nil, ErrInvalidExpiry
	}
	return &normalized, nil
}

// BuildShortLink replaces the last path segment of requestURL with code,
// dropping any query string.
func BuildShortLink(requestURL, code string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(requestURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: unusable request url %q", ErrMissingRequestContext, requestURL)
	}
	dir := u.Path
	if idx := strings.LastIndex(dir, "/"); idx >= 0 {
		dir = dir[:idx]
	} else {
		dir = ""
	}
	u.Path = dir + "/" + code
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
