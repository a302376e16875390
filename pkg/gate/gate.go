// Package gate decides whether a request may proceed to its action.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/hooks"
	"github.com/morezero/action-gateway/pkg/token"
)

const logPrefix = "gate:gate"

// DefaultExempt lists the actions that bypass the token check out of the box.
var DefaultExempt = []string{"admin/plugins/disable", "logout", "login", "file/download"}

// VetoParams is the payload of the permissions check hook.
type VetoParams struct {
	Token   string
	Time    int64
	Request *action.Request
}

// Gate validates action tokens and runs the permissions veto chain. The
// exemption list may be swapped at runtime; everything else is fixed.
type Gate struct {
	codec *token.Codec
	bus   *hooks.Bus

	mu     sync.RWMutex
	exempt map[string]struct{}
}

// Params holds parameters for New.
type Params struct {
	Codec *token.Codec
	// Bus may be nil, in which case no veto chain runs.
	Bus *hooks.Bus
	// Exempt overrides DefaultExempt when non-nil.
	Exempt []string
}

// New creates a Gate.
func New(params Params) *Gate {
	g := &Gate{codec: params.Codec, bus: params.Bus}
	exempt := params.Exempt
	if exempt == nil {
		exempt = DefaultExempt
	}
	g.SetExempt(exempt)
	return g
}

// SetExempt replaces the exemption list.
func (g *Gate) SetExempt(names []string) {
	next := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimRight(strings.TrimSpace(n), "/")
		if n != "" {
			next[n] = struct{}{}
		}
	}
	g.mu.Lock()
	g.exempt = next
	g.mu.Unlock()
}

// IsExempt reports whether name skips Check.
func (g *Gate) IsExempt(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.exempt[strings.TrimRight(name, "/")]
	return ok
}

// Exempt returns the exemption list in sorted order.
func (g *Gate) Exempt() []string {
	g.mu.RLock()
	out := make([]string, 0, len(g.exempt))
	for n := range g.exempt {
		out = append(out, n)
	}
	g.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Check validates the token fields on req. When visible is set a non-Valid
// outcome adds exactly one error to req.Messages; otherwise Check has no
// side effects beyond the veto chain it triggers.
func (g *Gate) Check(ctx context.Context, req *action.Request, visible bool) Outcome {
	out := g.evaluate(ctx, req)
	if out != Valid {
		slog.Debug(fmt.Sprintf("%s - %s: %s", logPrefix, req.Name, out))
		if visible && req.Messages != nil {
			req.Messages.Error(out.Message())
		}
	}
	return out
}

func (g *Gate) evaluate(ctx context.Context, req *action.Request) Outcome {
	rawToken := req.Input(token.FieldToken)
	rawTS := req.Input(token.FieldTimestamp)
	if rawToken == "" || rawTS == "" || req.Session == nil || req.Session.ID == "" {
		return MissingFields
	}
	ts, ok := token.ParseTimestamp(rawTS)
	if !ok {
		return MissingFields
	}
	if g.codec == nil {
		return MissingFields
	}

	match, err := g.codec.Matches(ctx, rawToken, ts, req.Session.ID, req.Session.Salt)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - token derivation failed, denying %s: %v", logPrefix, req.Name, err))
		return MissingFields
	}
	if !match {
		return TokenInvalid
	}
	if !g.codec.InWindow(ts) {
		return TimeWindowInvalid
	}

	if g.bus == nil {
		return Valid
	}
	allowed, err := g.bus.TriggerBool(ctx, hooks.TopicPermissionsCheck, hooks.SubtypeAll,
		VetoParams{Token: rawToken, Time: ts, Request: req}, true)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - permissions hook failed for %s: %v", logPrefix, req.Name, err))
		return VetoedByHook
	}
	if !allowed {
		return VetoedByHook
	}
	return Valid
}
