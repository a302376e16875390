// Package token derives and validates the time-scoped action tokens that
// guard every gated action. A token binds a timestamp to the site secret,
// the session id and the per-session salt; nothing is stored server-side.
package token

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/morezero/action-gateway/pkg/secret"
)

const logPrefix = "token:token"

// Request field names carrying the token and its timestamp.
const (
	FieldToken     = "__elgg_token"
	FieldTimestamp = "__elgg_ts"
)

// DefaultWindow is how far a timestamp may sit from the validator's clock,
// in either direction.
const DefaultWindow = time.Hour

// ErrUnavailable is returned when the secret or the session id is missing.
// Callers must treat it as a failed check.
var ErrUnavailable = errors.New("token: secret or session id unavailable")

// SecurityToken is a derived token together with the timestamp it was
// derived from.
type SecurityToken struct {
	Token     string `json:"__elgg_token"`
	Timestamp int64  `json:"__elgg_ts"`
}

// Derive returns the hex BLAKE3-256 digest of secret, timestamp, session id
// and salt concatenated in that order.
func Derive(ts int64, siteSecret, sessionID, salt string) (string, error) {
	if siteSecret == "" || sessionID == "" {
		return "", ErrUnavailable
	}
	var b strings.Builder
	b.Grow(len(siteSecret) + len(sessionID) + len(salt) + 20)
	b.WriteString(siteSecret)
	b.WriteString(strconv.FormatInt(ts, 10))
	b.WriteString(sessionID)
	b.WriteString(salt)
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// Matches reports whether candidate equals the token derived from the same
// inputs. It has no side effects.
func Matches(candidate string, ts int64, siteSecret, sessionID, salt string) bool {
	expected, err := Derive(ts, siteSecret, sessionID, salt)
	if err != nil || candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}

// InWindow reports whether ts lies strictly inside (now-window, now+window).
func InWindow(ts int64, now time.Time, window time.Duration) bool {
	n := now.Unix()
	w := int64(window / time.Second)
	return ts > n-w && ts < n+w
}

// ParseTimestamp parses a decimal unix timestamp from request input.
func ParseTimestamp(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// Codec derives tokens against a secret provider and clock.
type Codec struct {
	secrets secret.Provider
	now     func() time.Time
	window  time.Duration
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the clock used for generation and window checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// WithWindow overrides DefaultWindow. Non-positive values are ignored.
func WithWindow(d time.Duration) CodecOption {
	return func(c *Codec) {
		if d > 0 {
			c.window = d
		}
	}
}

// NewCodec creates a Codec reading the site secret from secrets.
func NewCodec(secrets secret.Provider, opts ...CodecOption) *Codec {
	c := &Codec{secrets: secrets, now: time.Now, window: DefaultWindow}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate derives a token for the current time.
func (c *Codec) Generate(ctx context.Context, sessionID, salt string) (SecurityToken, error) {
	ts := c.now().Unix()
	tok, err := c.derive(ctx, ts, sessionID, salt)
	if err != nil {
		return SecurityToken{}, err
	}
	return SecurityToken{Token: tok, Timestamp: ts}, nil
}

// Matches reports whether candidate is the token for ts in this session.
// ErrUnavailable is returned when no comparison could be made.
func (c *Codec) Matches(ctx context.Context, candidate string, ts int64, sessionID, salt string) (bool, error) {
	expected, err := c.derive(ctx, ts, sessionID, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1, nil
}

// InWindow applies the codec's clock and window to ts.
func (c *Codec) InWindow(ts int64) bool {
	return InWindow(ts, c.now(), c.window)
}

func (c *Codec) derive(ctx context.Context, ts int64, sessionID, salt string) (string, error) {
	if c.secrets == nil {
		return "", ErrUnavailable
	}
	siteSecret, err := c.secrets.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("%s - %w: %v", logPrefix, ErrUnavailable, err)
	}
	return Derive(ts, siteSecret, sessionID, salt)
}
