package service

import (
	"errors"

	"github.com/LHLHLHE/short-links/internal/app/shortcode"
)

var (
	// ErrNotFound means no active link (or user) matches the request.
	ErrNotFound = errors.New("link not found")
	// ErrNotOwner means the requester does not own the link. Anonymous links have no owner.
	ErrNotOwner = errors.New("user is not owner of this link")
	// ErrAliasConflict means the requested custom alias is already in use.
	ErrAliasConflict = shortcode.ErrAliasConflict
	// ErrGenerationExhausted means no free short code was found within the retry bound.
	ErrGenerationExhausted = shortcode.ErrGenerationExhausted
	// ErrMissingRequestContext means create was called without the request URL needed to build the short link.
	ErrMissingRequestContext = errors.New("request is not provided")

	ErrInvalidURL       = errors.New("original url must be an absolute http(s) url")
	ErrInvalidExpiry    = errors.New("expiration date must be in the future")
	ErrInvalidAlias     = errors.New("custom alias must be a single url path segment of at most 64 characters")
	ErrInvalidRetention = errors.New("retention days must be positive")
)
