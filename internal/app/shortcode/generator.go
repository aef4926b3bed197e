// Package shortcode hands out collision-free short codes.
//
// Uniqueness is enforced by the store: a code is only returned once the
// caller's claim (the insert) succeeded. Random codes are retried a bounded
// number of times; aliases get exactly one claim.
package shortcode

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// Alphabet holds the characters a generated code is drawn from.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	DefaultLength   = 8
	DefaultAttempts = 5

	defaultExpectedCodes = 1_000_000
	falsePositiveRate    = 0.01
)

var (
	// ErrCodeTaken is returned by a ClaimFunc when the code already exists.
	ErrCodeTaken = errors.New("short code already taken")
	// ErrAliasConflict means a caller-chosen alias is already in use.
	ErrAliasConflict = errors.New("link with this alias already exists")
	// ErrGenerationExhausted means every attempt collided.
	ErrGenerationExhausted = errors.New("cannot generate short code")
)

// ClaimFunc tries to reserve code, typically by inserting the link row.
// It must return ErrCodeTaken (or wrap it) on a uniqueness conflict.
type ClaimFunc func(ctx context.Context, code string) error

// Lookup answers whether a code is already stored.
type Lookup interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// Options configures a Generator. Zero values fall back to the defaults.
type Options struct {
	Length   int
	Attempts int
	// Source seeds the token stream; a crypto-seeded ChaCha8 is used when nil.
	Source rand.Source
	// Lookup is probed before claiming a code the bloom filter may have seen.
	Lookup        Lookup
	ExpectedCodes uint
	// OnCollision is called once per colliding random code.
	OnCollision func()
}

// Generator draws random codes and claims them through the store.
type Generator struct {
	length      int
	attempts    int
	lookup      Lookup
	onCollision func()

	mu     sync.Mutex
	rnd    *rand.Rand
	filter *bloom.BloomFilter
}

// New builds a Generator from opts.
func New(opts Options) *Generator {
	if opts.Length <= 0 {
		opts.Length = DefaultLength
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.ExpectedCodes == 0 {
		opts.ExpectedCodes = defaultExpectedCodes
	}
	if opts.Source == nil {
		opts.Source = newChaChaSource()
	}
	return &Generator{
		length:      opts.Length,
		attempts:    opts.Attempts,
		lookup:      opts.Lookup,
		onCollision: opts.OnCollision,
		rnd:         rand.New(opts.Source),
		filter:      bloom.NewWithEstimates(opts.ExpectedCodes, falsePositiveRate),
	}
}

// Warm records codes known to exist so collisions with them are detected before claiming.
func (g *Generator) Warm(codes []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range codes {
		g.filter.AddString(c)
	}
}

// Token draws one random code of the configured length.
func (g *Generator) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		b.WriteByte(Alphabet[g.rnd.IntN(len(Alphabet))])
	}
	return b.String()
}

// Generate claims alias when it is non-empty, otherwise draws and claims
// random codes until one sticks or the attempt bound is reached.
func (g *Generator) Generate(ctx context.Context, alias string, claim ClaimFunc) (string, error) {
	if alias != "" {
		if err := claim(ctx, alias); err != nil {
			if errors.Is(err, ErrCodeTaken) {
				g.remember(alias)
				return "", ErrAliasConflict
			}
			return "", err
		}
		g.remember(alias)
		return alias, nil
	}

	for attempt := 0; attempt < g.attempts; attempt++ {
		code := g.Token()

		taken, err := g.knownTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if taken {
			g.collided()
			continue
		}

		err = claim(ctx, code)
		if err == nil {
			g.remember(code)
			return code, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			return "", err
		}
		g.remember(code)
		g.collided()
	}

	return "", fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, g.attempts)
}

// knownTaken consults the store only when the bloom filter may have seen code.
func (g *Generator) knownTaken(ctx context.Context, code string) (bool, error) {
	g.mu.Lock()
	maybe := g.filter.TestString(code)
	g.mu.Unlock()

	if !maybe || g.lookup == nil {
		return false, nil
	}
	exists, err := g.lookup.CodeExists(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check short code: %w", err)
	}
	return exists, nil
}

func (g *Generator) remember(code string) {
	g.mu.Lock()
	g.filter.AddString(code)
	g.mu.Unlock()
}

func (g *Generator) collided() {
	if g.onCollision != nil {
		g.onCollision()
	}
}

func newChaChaSource() rand.Source {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("shortcode: seed generator: %v", err))
	}
	return rand.NewChaCha8(seed)
}
