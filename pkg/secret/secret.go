// Package secret provides the site-wide secret used to derive action tokens
// and sign session cookies. The secret is created lazily on first use and
// persisted in the datalists table.
package secret

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/action-gateway/pkg/db"
)

const logPrefix = "secret:secret"

// secretBytes is the amount of entropy in a generated secret.
const secretBytes = 32

// ErrUnavailable is returned when no secret can be read or created.
var ErrUnavailable = errors.New("secret: site secret unavailable")

// Provider returns the site secret, creating it on first use.
type Provider interface {
	Get(ctx context.Context) (string, error)
	Init(ctx context.Context) (string, error)
}

// Datalist is the subset of db.Repository the store needs.
type Datalist interface {
	GetDatalist(ctx context.Context, name string) (*db.DatalistEntry, error)
	InsertDatalistIfAbsent(ctx context.Context, name, value string) (string, error)
}

// Store is a Provider backed by the datalists table. The value is cached
// after the first successful read.
type Store struct {
	repo Datalist

	mu     sync.Mutex
	cached string
}

// NewStore creates a Store over the given datalist repository.
func NewStore(repo Datalist) *Store {
	return &Store{repo: repo}
}

// Get returns the stored secret, initializing it when none exists.
func (s *Store) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" {
		return s.cached, nil
	}

	entry, err := s.repo.GetDatalist(ctx, db.SiteSecretKey)
	if err != nil {
		return "", fmt.Errorf("%s - read secret: %w: %v", logPrefix, ErrUnavailable, err)
	}
	if entry != nil && entry.Value != "" {
		s.cached = entry.Value
		return s.cached, nil
	}
	return s.initLocked(ctx)
}

// Init generates and persists a new secret unless another writer got there
// first, in which case the existing value wins.
func (s *Store) Init(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx)
}

func (s *Store) initLocked(ctx context.Context) (string, error) {
	candidate, err := Generate()
	if err != nil {
		return "", err
	}
	stored, err := s.repo.InsertDatalistIfAbsent(ctx, db.SiteSecretKey, candidate)
	if err != nil {
		return "", fmt.Errorf("%s - persist secret: %w: %v", logPrefix, ErrUnavailable, err)
	}
	if stored == "" {
		return "", fmt.Errorf("%s - empty secret stored: %w", logPrefix, ErrUnavailable)
	}
	slog.Info(fmt.Sprintf("%s - Site secret initialized", logPrefix))
	s.cached = stored
	return s.cached, nil
}

// Forget drops the cached value so the next Get re-reads the datalist.
func (s *Store) Forget() {
	s.mu.Lock()
	s.cached = ""
	s.mu.Unlock()
}

// Generate returns a new random hex secret.
func Generate() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s - generate secret: %w", logPrefix, err)
	}
	return hex.EncodeToString(buf), nil
}

// Static is a Provider holding a fixed value. An empty value behaves like a
// permanently unavailable store.
type Static string

// Get returns the fixed secret.
func (s Static) Get(context.Context) (string, error) {
	if s == "" {
		return "", ErrUnavailable
	}
	return string(s), nil
}

// Init returns the fixed secret; a Static provider cannot create one.
func (s Static) Init(ctx context.Context) (string, error) {
	return s.Get(ctx)
}
