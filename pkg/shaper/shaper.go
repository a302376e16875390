// Package shaper turns the redirect at the end of a dispatch into a JSON
// envelope for asynchronous callers.
package shaper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/hooks"
)

const logPrefix = "shaper:shaper"

// Default async detection.
const (
	DefaultHeader = "X-Requested-With"
	DefaultMarker = "XMLHttpRequest"
)

// Config selects the header and marker that identify asynchronous callers.
type Config struct {
	Header string
	Marker string
}

// Shaper owns the action and forward hooks that implement the async path.
type Shaper struct {
	header string
	marker string
}

// New creates a Shaper. Empty config fields use the defaults.
func New(cfg Config) *Shaper {
	s := &Shaper{header: cfg.Header, marker: cfg.Marker}
	if s.header == "" {
		s.header = DefaultHeader
	}
	if s.marker == "" {
		s.marker = DefaultMarker
	}
	return s
}

// IsAsync reports whether r came from an asynchronous client.
func (s *Shaper) IsAsync(r *http.Request) bool {
	if r == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get(s.header)), s.marker)
}

// Register installs the shaper's callbacks on bus. Call once at startup,
// before other forward subscribers that should run only for redirects.
func (s *Shaper) Register(bus *hooks.Bus) {
	bus.Register(hooks.TopicAction, hooks.SubtypeAll, s.beforeAction)
	bus.Register(hooks.TopicForward, hooks.SubtypeAll, s.interceptForward)
}

func (s *Shaper) beforeAction(_ context.Context, ev *hooks.Event) error {
	req, ok := ev.Params.(*action.Request)
	if !ok || !req.Async {
		return nil
	}
	req.StartBuffering()
	return nil
}

func (s *Shaper) interceptForward(_ context.Context, ev *hooks.Event) error {
	req, ok := ev.Params.(*action.Request)
	if !ok || !req.Async {
		return nil
	}

	forward, _ := ev.Result.(string)
	env := NewEnvelope(req.CurrentURL, forward, req.Messages.Drain(), req.DrainBuffer())
	if err := Write(req.Response, env); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to write envelope for %s: %v", logPrefix, req.Name, err))
	}
	return hooks.ErrResponseSent
}

// Write emits env as the complete response body.
func Write(w http.ResponseWriter, env Envelope) error {
	if w == nil {
		return fmt.Errorf("%s - no response writer", logPrefix)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%s - encode envelope: %w", logPrefix, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("%s - write envelope: %w", logPrefix, err)
	}
	return nil
}
