package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
	"github.com/teslashibe/go-voicekit/pkg/reporting"
)

// Deps carries the collaborators an adapter factory needs. All fields are
// optional; factories fall back to defaults for nil values.
type Deps struct {
	// Logger is the structured logger; slog.Default() when nil.
	Logger *slog.Logger

	// Config resolves provider configurations. The bundled adapters
	// require it; a deployment without a database can back it with
	// agentconfig.MemoryStore.
	Config *agentconfig.Manager

	// Reporter delivers conversation usage snapshots. When nil, reporting
	// is disabled.
	Reporter *reporting.Reporter
}

// Factory constructs an adapter for one provider.
type Factory func(deps Deps) (Adapter, error)

// Registry maps provider names to adapter factories. The provider set is
// closed and enumerable; resolution is a map lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Provider]Factory)}
}

// Register adds a factory, overwriting any earlier registration.
func (r *Registry) Register(provider Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// New constructs an adapter for the named provider.
func (r *Registry) New(provider Provider, deps Deps) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[provider]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return f(deps)
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// defaultRegistry holds the factories registered by the bundled adapters.
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
// This is called by the bundled implementations in init().
func Register(provider Provider, f Factory) {
	defaultRegistry.Register(provider, f)
}

// New constructs an adapter from the default registry.
func New(provider Provider, deps Deps) (Adapter, error) {
	return defaultRegistry.New(provider, deps)
}

// Providers returns the provider names in the default registry.
func Providers() []Provider {
	return defaultRegistry.Providers()
}
