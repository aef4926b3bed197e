package service

import (
	"context"
	"strconv"
	"time"

	"github.com/LHLHLHE/short-links/internal/app/model"
	infraPrometheus "github.com/LHLHLHE/short-links/internal/infra/prometheus"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Cache namespaces of the read-through response cache.
const (
	NamespaceLinkStats    = "link_stats"
	NamespaceSearchLink   = "search_link"
	NamespaceMyLinks      = "my_links"
	NamespaceExpiredLinks = "expired_links"

	// ExpiredListingKey is the only key of the expired_links namespace.
	ExpiredListingKey = "all"
)

// Cache is the invalidation half of the cache backend.
type Cache interface {
	Invalidate(ctx context.Context, namespace, key string) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

// CacheEntry addresses one cached response; an empty Key addresses the whole namespace.
type CacheEntry struct {
	Namespace string
	Key       string
}

// InvalidatorOptions tunes retries of failed invalidation calls.
type InvalidatorOptions struct {
	Retries uint64
	Backoff time.Duration
	Timeout time.Duration
}

// CacheInvalidator drops the cached responses a committed link mutation made stale.
// Failures are retried, then logged and swallowed: the mutation already
// committed and the entries age out on their own TTL.
type CacheInvalidator struct {
	cache   Cache
	logger  *zap.Logger
	metrics *infraPrometheus.Metrics
	opts    InvalidatorOptions
}

// NewCacheInvalidator returns an invalidator over cache. A nil cache disables invalidation.
func NewCacheInvalidator(cache Cache, logger *zap.Logger, metrics *infraPrometheus.Metrics, opts InvalidatorOptions) *CacheInvalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 25 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &CacheInvalidator{cache: cache, logger: logger, metrics: metrics, opts: opts}
}

// CreatePlan lists the entries a newly created link makes stale.
func CreatePlan(link *model.Link) []CacheEntry {
	plan := newPlan()
	plan.add(NamespaceSearchLink, link.OriginalURL)
	plan.addOwner(link.UserID)
	return plan.entries
}

// MutationPlan lists the entries stale after an update or delete of the given
// link states (pass both the old and new state of an updated link).
func MutationPlan(links ...*model.Link) []CacheEntry {
	plan := newPlan()
	for _, link := range links {
		if link == nil {
			continue
		}
		plan.add(NamespaceLinkStats, link.ShortCode)
		plan.add(NamespaceSearchLink, link.OriginalURL)
		plan.addOwner(link.UserID)
	}
	return plan.entries
}

// SweepPlan lists the entries stale after a bulk sweep. The expired listing is
// dropped once when includeExpiredListing is set; owners are de-duplicated.
func SweepPlan(links []model.Link, includeExpiredListing bool) []CacheEntry {
	plan := newPlan()
	if includeExpiredListing {
		plan.add(NamespaceExpiredLinks, "")
	}
	for i := range links {
		plan.addOwner(links[i].UserID)
	}
	for i := range links {
		plan.add(NamespaceLinkStats, links[i].ShortCode)
		plan.add(NamespaceSearchLink, links[i].OriginalURL)
	}
	return plan.entries
}

func (i *CacheInvalidator) AfterCreate(ctx context.Context, link *model.Link) {
	i.Issue(ctx, CreatePlan(link))
}

func (i *CacheInvalidator) AfterUpdate(ctx context.Context, before, after *model.Link) {
	i.Issue(ctx, MutationPlan(before, after))
}

func (i *CacheInvalidator) AfterDelete(ctx context.Context, link *model.Link) {
	i.Issue(ctx, MutationPlan(link))
}

func (i *CacheInvalidator) AfterSweep(ctx context.Context, links []model.Link, includeExpiredListing bool) {
	if len(links) == 0 {
		return
	}
	i.Issue(ctx, SweepPlan(links, includeExpiredListing))
}

// Issue drops every entry, retrying each failed call before giving up on it.
func (i *CacheInvalidator) Issue(ctx context.Context, entries []CacheEntry) {
	if i == nil || i.cache == nil || len(entries) == 0 {
		return
	}

	// Invalidation follows a committed write and must not be cut short by the caller going away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.opts.Timeout)
	defer cancel()

	for _, entry := range entries {
		err := retry.Do(ctx, retry.WithMaxRetries(i.opts.Retries, retry.NewExponential(i.opts.Backoff)), func(ctx context.Context) error {
			if err := i.invalidate(ctx, entry); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			i.metrics.Invalidation(entry.Namespace, "error")
			i.logger.Warn("cache invalidation failed",
				zap.String("namespace", entry.Namespace),
				zap.String("key", entry.Key),
				zap.Error(err),
			)
			continue
		}
		i.metrics.Invalidation(entry.Namespace, "ok")
	}
}

func (i *CacheInvalidator) invalidate(ctx context.Context, entry CacheEntry) error {
	if entry.Key == "" {
		return i.cache.InvalidateNamespace(ctx, entry.Namespace)
	}
	return i.cache.Invalidate(ctx, entry.Namespace, entry.Key)
}

type plan struct {
	seen    map[CacheEntry]struct{}
	entries []CacheEntry
}

func newPlan() *plan {
	return &plan{seen: make(map[CacheEntry]struct{})}
}

func (p *plan) add(namespace, key string) {
	e := CacheEntry{Namespace: namespace, Key: key}
	if _, ok := p.seen[e]; ok {
		return
	}
	p.seen[e] = struct{}{}
	p.entries = append(p.entries, e)
}

// addOwner skips anonymous links; they appear in no owner listing.
func (p *plan) addOwner(userID *int64) {
	if userID == nil {
		return
	}
	p.add(NamespaceMyLinks, OwnerKey(*userID))
}

// OwnerKey is the my_links cache key of a user.
func OwnerKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
