// Package session keeps the per-visitor session in a signed cookie. The
// session carries the identifiers action tokens are bound to (session id
// and salt) plus the logged-in user and admin flag.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/morezero/action-gateway/pkg/secret"
)

const logPrefix = "session:session"

// DefaultCookie is the cookie name used when none is configured.
const DefaultCookie = "actiongate_session"

// DefaultTTL bounds how long an idle session cookie stays valid.
const DefaultTTL = 12 * time.Hour

// ErrNoSecret is returned by Save when the signing secret is unavailable.
var ErrNoSecret = errors.New("session: signing secret unavailable")

// Session is one visitor's session.
type Session struct {
	ID     string
	Salt   string
	UserID string
	Admin  bool
}

// LoggedIn reports whether a user is attached to the session.
func (s *Session) LoggedIn() bool { return s != nil && s.UserID != "" }

// CurrentUserID returns the logged-in user id, or "" for anonymous visitors.
func (s *Session) CurrentUserID() string {
	if s == nil {
		return ""
	}
	return s.UserID
}

// IsAdmin reports whether the logged-in user is an administrator.
func (s *Session) IsAdmin() bool { return s.LoggedIn() && s.Admin }

type claims struct {
	Salt   string `json:"salt"`
	UserID string `json:"uid,omitempty"`
	Admin  bool   `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Manager loads and stores sessions in a signed cookie.
type Manager struct {
	secrets secret.Provider
	cookie  string
	ttl     time.Duration
	secure  bool
	now     func() time.Time
}

// ManagerParams holds parameters for NewManager.
type ManagerParams struct {
	Secrets secret.Provider
	Cookie  string
	TTL     time.Duration
	Secure  bool
	Now     func() time.Time
}

// NewManager creates a Manager. Zero values fall back to defaults.
func NewManager(params ManagerParams) *Manager {
	m := &Manager{
		secrets: params.Secrets,
		cookie:  params.Cookie,
		ttl:     params.TTL,
		secure:  params.Secure,
		now:     params.Now,
	}
	if m.cookie == "" {
		m.cookie = DefaultCookie
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// New creates an anonymous session with a fresh id and salt.
func New() *Session {
	return &Session{ID: uuid.NewString(), Salt: newSalt()}
}

// Load returns the session carried by r. A missing, expired or tampered
// cookie yields a new anonymous session; fresh reports that case.
func (m *Manager) Load(ctx context.Context, r *http.Request) (s *Session, fresh bool) {
	c, err := r.Cookie(m.cookie)
	if err != nil || c.Value == "" {
		return New(), true
	}
	key, err := m.key(ctx)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - cannot verify session cookie: %v", logPrefix, err))
		return New(), true
	}

	parsed, err := jwt.ParseWithClaims(c.Value, &claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - discarding session cookie: %v", logPrefix, err))
		return New(), true
	}
	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || cl.ID == "" {
		return New(), true
	}
	return &Session{ID: cl.ID, Salt: cl.Salt, UserID: cl.UserID, Admin: cl.Admin}, false
}

// Save signs s and sets it as the session cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	key, err := m.key(ctx)
	if err != nil {
		return err
	}
	now := m.now()
	cl := &claims{
		Salt:   s.Salt,
		UserID: s.UserID,
		Admin:  s.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(key)
	if err != nil {
		return fmt.Errorf("%s - sign session: %w", logPrefix, err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Login returns a new session for userID. The id and salt are regenerated
// so tokens issued before login stop validating.
func (m *Manager) Login(userID string, admin bool) *Session {
	s := New()
	s.UserID = userID
	s.Admin = admin
	return s
}

// Logout returns a new anonymous session.
func (m *Manager) Logout() *Session {
	return New()
}

func (m *Manager) key(ctx context.Context) ([]byte, error) {
	if m.secrets == nil {
		return nil, ErrNoSecret
	}
	v, err := m.secrets.Get(ctx)
	if err != nil || v == "" {
		return nil, fmt.Errorf("%w: %v", ErrNoSecret, err)
	}
	return []byte("session:" + v), nil
}

func newSalt() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to a
		// second uuid rather than an empty salt.
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
