package registry

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/morezero/action-gateway/pkg/action"
)

const logPrefix = "registry:registry"

const defaultActionsDir = "actions"

// Config holds registry configuration.
type Config struct {
	// BasePath is prefixed to synthesized handler references.
	BasePath string
	// Duplicates selects the duplicate-registration policy.
	Duplicates DuplicatePolicy
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{Duplicates: DuplicateReplace}
}

// Registry holds action descriptors and the handlers they reference. It is
// safe for concurrent use; lookups take a read lock.
type Registry struct {
	config Config

	mu       sync.RWMutex
	actions  map[string]ActionDescriptor
	handlers map[string]action.Handler
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Config Config
}

// NewRegistry creates an empty Registry.
func NewRegistry(params NewRegistryParams) *Registry {
	cfg := params.Config
	if cfg.Duplicates == "" {
		cfg.Duplicates = DuplicateReplace
	}
	return &Registry{
		config:   cfg,
		actions:  make(map[string]ActionDescriptor),
		handlers: make(map[string]action.Handler),
	}
}

// Normalize strips trailing slashes from an action name.
func Normalize(name string) string {
	return strings.TrimRight(name, "/")
}

// DefaultHandlerRef is the handler reference synthesized for name when
// none is given.
func (r *Registry) DefaultHandlerRef(name string) string {
	return path.Join(r.config.BasePath, defaultActionsDir, Normalize(name))
}

// Register stores a descriptor for name. An empty handlerRef is replaced by
// DefaultHandlerRef. Under DuplicateReplace it always returns true.
func (r *Registry) Register(name string, public bool, handlerRef string, adminOnly bool) bool {
	name = Normalize(name)
	if handlerRef == "" {
		handlerRef = r.DefaultHandlerRef(name)
	}
	desc := ActionDescriptor{Name: name, HandlerRef: handlerRef, Public: public, AdminOnly: adminOnly}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.actions[name]; ok {
		if r.config.Duplicates == DuplicateReject {
			slog.Warn(fmt.Sprintf("%s - rejected duplicate registration of %q (kept %s)", logPrefix, name, prev.HandlerRef))
			return false
		}
		slog.Warn(fmt.Sprintf("%s - %q re-registered, replacing %s with %s", logPrefix, name, prev.HandlerRef, handlerRef))
	}
	r.actions[name] = desc
	slog.Debug(fmt.Sprintf("%s - registered %q public=%v admin=%v handler=%s", logPrefix, name, public, adminOnly, handlerRef))
	return true
}

// Bind attaches h to handlerRef. Binding nil removes the handler.
func (r *Registry) Bind(handlerRef string, h action.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.handlers, handlerRef)
		return
	}
	r.handlers[handlerRef] = h
}

// RegisterFunc registers name under its default handler reference and binds
// h to it.
func (r *Registry) RegisterFunc(name string, public, adminOnly bool, h action.Handler) bool {
	ref := r.DefaultHandlerRef(name)
	if !r.Register(name, public, ref, adminOnly) {
		return false
	}
	r.Bind(ref, h)
	return true
}

// Unregister removes the descriptor for name. Bound handlers are kept so a
// later registration can reuse them.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.actions, Normalize(name))
	r.mu.Unlock()
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (ActionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.actions[Normalize(name)]
	return desc, ok
}

// Handler returns the handler bound to the descriptor's reference.
func (r *Registry) Handler(desc ActionDescriptor) (action.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[desc.HandlerRef]
	return h, ok
}

// Exists reports whether name is registered and its handler is bound.
func (r *Registry) Exists(name string) bool {
	desc, ok := r.Lookup(name)
	if !ok {
		return false
	}
	_, bound := r.Handler(desc)
	return bound
}

// List returns every descriptor ordered by name.
func (r *Registry) List() []ActionDescriptor {
	r.mu.RLock()
	out := make([]ActionDescriptor, 0, len(r.actions))
	for _, d := range r.actions {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
