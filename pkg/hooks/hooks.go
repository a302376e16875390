// Package hooks is an ordered, topic-keyed interceptor chain. Collaborators
// register callbacks against a topic and subtype; a trigger walks the
// matching callbacks in registration order, threading a mutable result.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const logPrefix = "hooks:bus"

// Topics used by the action pipeline.
const (
	TopicAction           = "action"
	TopicForward          = "forward"
	TopicPermissionsCheck = "action_gatekeeper:permissions:check"
)

// SubtypeAll matches every subtype of a topic.
const SubtypeAll = "all"

// ErrResponseSent halts a chain after a callback has written the complete
// response. It propagates to the trigger's caller, which must stop too.
var ErrResponseSent = errors.New("hooks: response already sent")

// Event is passed to each callback. Callbacks may replace Result.
type Event struct {
	Topic   string
	Subtype string
	Params  any
	Result  any
}

// HandlerFunc is a registered callback. A non-nil error stops the chain.
type HandlerFunc func(ctx context.Context, ev *Event) error

type registration struct {
	subtype string
	fn      HandlerFunc
}

// Bus holds the registered callbacks. The zero value is not usable; call
// NewBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]registration)}
}

// Register appends fn to the chain for topic. Use SubtypeAll to receive
// every subtype.
func (b *Bus) Register(topic, subtype string, fn HandlerFunc) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], registration{subtype: subtype, fn: fn})
	slog.Debug(fmt.Sprintf("%s - registered %s/%s (%d in chain)", logPrefix, topic, subtype, len(b.handlers[topic])))
}

// Has reports whether any callback would receive topic/subtype.
func (b *Bus) Has(topic, subtype string) bool {
	return len(b.matching(topic, subtype)) > 0
}

// Trigger runs the chain and returns the final result. The first error
// stops the chain and is returned alongside the result at that point.
func (b *Bus) Trigger(ctx context.Context, topic, subtype string, params, result any) (any, error) {
	ev := &Event{Topic: topic, Subtype: subtype, Params: params, Result: result}
	for _, reg := range b.matching(topic, subtype) {
		if err := reg.fn(ctx, ev); err != nil {
			return ev.Result, err
		}
	}
	return ev.Result, nil
}

// TriggerBool runs a veto chain seeded with seed. Once any callback leaves
// the result false the remaining callbacks are skipped. A non-bool result
// is treated as "no opinion" and the previous value is kept.
func (b *Bus) TriggerBool(ctx context.Context, topic, subtype string, params any, seed bool) (bool, error) {
	current := seed
	for _, reg := range b.matching(topic, subtype) {
		if !current {
			break
		}
		ev := &Event{Topic: topic, Subtype: subtype, Params: params, Result: current}
		if err := reg.fn(ctx, ev); err != nil {
			return current, err
		}
		if v, ok := ev.Result.(bool); ok {
			current = v
		}
	}
	return current, nil
}

func (b *Bus) matching(topic, subtype string) []registration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	regs := b.handlers[topic]
	out := make([]registration, 0, len(regs))
	// Exact subtype first, then "all"; registration order within each.
	if subtype != SubtypeAll {
		for _, reg := range regs {
			if reg.subtype == subtype {
				out = append(out, reg)
			}
		}
	}
	for _, reg := range regs {
		if reg.subtype == SubtypeAll {
			out = append(out, reg)
		}
	}
	return out
}
