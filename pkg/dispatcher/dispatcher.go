// Package dispatcher runs one action request from gate to redirect.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/action-gateway/pkg/action"
	"github.com/morezero/action-gateway/pkg/events"
	"github.com/morezero/action-gateway/pkg/gate"
	"github.com/morezero/action-gateway/pkg/hooks"
	"github.com/morezero/action-gateway/pkg/messages"
	"github.com/morezero/action-gateway/pkg/registry"
)

const logPrefix = "dispatcher:dispatch"

// Result summarizes a finished dispatch.
type Result struct {
	Outcome Outcome
	// Gate is the gate outcome; gate.Valid for exempt actions.
	Gate gate.Outcome
	// Forward is the sanitized forwarder after the forward hooks ran.
	Forward string
	// Enveloped is set when a forward hook wrote the response.
	Enveloped bool
}

// Dispatcher routes action requests to registered handlers.
type Dispatcher struct {
	registry  *registry.Registry
	gate      *gate.Gate
	bus       *hooks.Bus
	publisher events.EventPublisher
	siteURL   string
	service   string
	respond   func(ctx context.Context, req *action.Request)
	now       func() time.Time
}

// Params holds parameters for New.
type Params struct {
	Registry *registry.Registry
	Gate     *gate.Gate
	Bus      *hooks.Bus
	// Publisher defaults to events.NoOpPublisher.
	Publisher events.EventPublisher
	SiteURL   string
	Service   string
	// BeforeRespond runs after the handler and before anything is written
	// to the transport. The server uses it to persist the session cookie.
	BeforeRespond func(ctx context.Context, req *action.Request)
	Now           func() time.Time
}

// New creates a Dispatcher.
func New(p Params) *Dispatcher {
	d := &Dispatcher{
		registry:  p.Registry,
		gate:      p.Gate,
		bus:       p.Bus,
		publisher: p.Publisher,
		siteURL:   p.SiteURL,
		service:   p.Service,
		respond:   p.BeforeRespond,
		now:       p.Now,
	}
	if d.bus == nil {
		d.bus = hooks.NewBus()
	}
	if d.publisher == nil {
		d.publisher = &events.NoOpPublisher{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Dispatch runs req to completion and writes the response: a redirect, or
// whatever a forward hook wrote in its place. Authorization and lookup
// failures are reported to the caller as exactly one error message, never
// as a returned error. The error return is reserved for a missing request.
func (d *Dispatcher) Dispatch(ctx context.Context, req *action.Request) (Result, error) {
	if req == nil {
		return Result{}, fmt.Errorf("%s - nil request", logPrefix)
	}
	if req.Messages == nil {
		req.Messages = messages.New()
	}
	req.Name = registry.Normalize(req.Name)
	req.CurrentURL = CurrentPageURL(req.CurrentURL, d.siteURL)
	res := Result{Outcome: Completed, Gate: gate.Valid}

	if d.gate != nil && !d.gate.IsExempt(req.Name) {
		res.Gate = d.gate.Check(ctx, req, true)
	}

	if res.Gate != gate.Valid {
		// A rejected request never reaches the caller's target; it goes
		// to the front page.
		res.Outcome = Gated
		req.Forwarder = ""
		metricGateRejections.WithLabelValues(res.Gate.String()).Inc()
	} else {
		req.Forwarder = SanitizeForwarder(req.Forwarder, d.siteURL)
		res.Outcome = d.execute(ctx, req)
	}

	res.Forward, res.Enveloped = d.forward(ctx, req)

	metricDispatches.WithLabelValues(res.Outcome.String(), asyncLabel(req.Async)).Inc()
	d.publish(ctx, req, res)
	slog.Debug(fmt.Sprintf("%s - %s outcome=%s gate=%s async=%v", logPrefix, req.Name, res.Outcome, res.Gate, req.Async))
	return res, nil
}

// execute covers lookup, the second authorization layer, the action hook
// and the handler call.
func (d *Dispatcher) execute(ctx context.Context, req *action.Request) Outcome {
	desc, ok := d.registry.Lookup(req.Name)
	switch {
	case !ok:
		return d.fail(req, ActionUndefined)
	case desc.AdminOnly && !req.IsAdmin():
		return d.fail(req, ActionUnauthorized)
	case !desc.Public && req.UserID() == "":
		return d.fail(req, ActionLoggedOut)
	}

	proceed, err := d.bus.TriggerBool(ctx, hooks.TopicAction, req.Name, req, true)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - action hook for %s failed: %v", logPrefix, req.Name, err))
		return Skipped
	}
	if !proceed {
		return Skipped
	}

	handler, ok := d.registry.Handler(desc)
	if !ok {
		return d.fail(req, ActionNotFound)
	}

	start := d.now()
	if err := handler(ctx, req); err != nil {
		slog.Warn(fmt.Sprintf("%s - handler %s returned: %v", logPrefix, req.Name, err))
	}
	metricHandlerSeconds.Observe(d.now().Sub(start).Seconds())
	return Completed
}

func (d *Dispatcher) fail(req *action.Request, o Outcome) Outcome {
	req.Messages.Error(o.Message(req.Name))
	return o
}

// forward runs the forward chain and, unless a hook already answered,
// redirects. It returns the final target and whether a hook responded.
func (d *Dispatcher) forward(ctx context.Context, req *action.Request) (string, bool) {
	if d.respond != nil {
		d.respond(ctx, req)
	}

	result, err := d.bus.Trigger(ctx, hooks.TopicForward, hooks.SubtypeAll, req, req.Forwarder)
	target, _ := result.(string)
	if errors.Is(err, hooks.ErrResponseSent) {
		return target, true
	}
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - forward hook for %s failed: %v", logPrefix, req.Name, err))
	}

	w := req.Response
	if w == nil || req.WroteDirect() {
		if dropped := req.Messages.Drain(); !dropped.Empty() {
			slog.Warn(fmt.Sprintf("%s - %s wrote its own response; dropping %d messages and %d errors",
				logPrefix, req.Name, len(dropped.Messages), len(dropped.Errors)))
		}
		return target, false
	}
	messages.SaveFlash(w, req.Messages)
	w.Header().Set("Location", ResolveForward(target, d.siteURL))
	w.WriteHeader(http.StatusFound)
	return target, false
}

func (d *Dispatcher) publish(ctx context.Context, req *action.Request, res Result) {
	outcome := res.Outcome.String()
	if res.Outcome == Gated {
		outcome = res.Gate.String()
	}
	event := &events.ActionDispatchedEvent{
		ID:         uuid.NewString(),
		Service:    d.service,
		Action:     req.Name,
		Outcome:    outcome,
		UserID:     req.UserID(),
		Async:      req.Async,
		ForwardURL: res.Forward,
		Timestamp:  d.now().UTC().Format(time.RFC3339),
	}
	if err := d.publisher.PublishDispatched(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish dispatch event for %s: %v", logPrefix, req.Name, err))
	}
}
