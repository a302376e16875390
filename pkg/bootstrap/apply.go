package bootstrap

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/morezero/action-gateway/pkg/gate"
	"github.com/morezero/action-gateway/pkg/registry"
)

const applyLogPrefix = "bootstrap:apply"

// Applier pushes manifests into the running registry, gate and user
// directory. Re-applying removes actions the previous manifest declared but
// the new one does not.
type Applier struct {
	registry   *registry.Registry
	gate       *gate.Gate
	users      *Directory
	base       *Manifest
	baseExempt []string

	mu      sync.Mutex
	applied map[string]bool
}

// ApplierParams holds parameters for NewApplier.
type ApplierParams struct {
	Registry *registry.Registry
	Gate     *gate.Gate
	Users    *Directory
	// Base is merged under every applied manifest (built-in actions).
	Base *Manifest
	// BaseExempt is the configured exemption list the manifest extends.
	BaseExempt []string
}

// NewApplier creates an Applier.
func NewApplier(p ApplierParams) *Applier {
	base := p.Base
	if base == nil {
		base = DefaultManifest()
	}
	return &Applier{
		registry:   p.Registry,
		gate:       p.Gate,
		users:      p.Users,
		base:       base,
		baseExempt: p.BaseExempt,
		applied:    make(map[string]bool),
	}
}

// Apply registers m (merged over the base manifest).
func (a *Applier) Apply(m *Manifest) {
	if m == nil {
		m = DefaultManifest()
	}
	merged := MergeManifests(a.base, m)

	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[string]bool, len(merged.Actions))
	for _, spec := range merged.Actions {
		name := registry.Normalize(spec.Name)
		if !a.registry.Register(name, spec.Public, spec.Handler, spec.AdminOnly) && a.applied[name] {
			// Our own earlier registration; reject policies guard against
			// other registrants, not against reloads.
			a.registry.Unregister(name)
			a.registry.Register(name, spec.Public, spec.Handler, spec.AdminOnly)
		}
		next[name] = true
	}
	for name := range a.applied {
		if !next[name] {
			a.registry.Unregister(name)
			slog.Info(fmt.Sprintf("%s - removed action %s", applyLogPrefix, name))
		}
	}
	a.applied = next

	if a.gate != nil {
		exempt := append(append([]string{}, a.baseExempt...), merged.Exempt...)
		a.gate.SetExempt(exempt)
	}
	if a.users != nil {
		a.users.Replace(merged.Users)
	}

	slog.Info(fmt.Sprintf("%s - applied %d actions, %d users, exempt=[%s]",
		applyLogPrefix, len(merged.Actions), len(merged.Users), strings.Join(merged.Exempt, ",")))
}

// Reload loads path and applies it. On error the running state is kept.
func (a *Applier) Reload(path string) error {
	m, err := LoadFile(path)
	if err != nil {
		return err
	}
	a.Apply(m)
	return nil
}
