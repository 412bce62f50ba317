package agentconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL bounds configuration staleness. The admin surface is
	// low-QPS; a few minutes is fine.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultCacheSize bounds the cache entry count.
	DefaultCacheSize = 100

	// DefaultName is the cache-key segment used when no name is given.
	DefaultName = "default"
)

// Resolved is a configuration record with its JSON payload decoded.
type Resolved struct {
	ID        string
	Provider  string
	Name      string
	IsDefault bool
	Config    Config
	UpdatedAt time.Time
}

// Synthesized reports whether this value was built from serializer defaults
// because no record exists. Synthesized values are tagged "default-<provider>".
func (r *Resolved) Synthesized() bool {
	return r.ID == "default-"+r.Provider
}

// Manager is the single point of truth for fetching and saving named,
// provider-scoped configurations. It applies a read-through TTL cache over a
// Store and falls back to serializer defaults when no record exists.
//
// The Manager is explicitly constructed and injected; its lifetime belongs
// to the composition root, and Close releases the store and any background
// reload timer.
//
// The cache is a plain map without a lock around the store round-trip:
// concurrent misses on one key may each query the store. The upsert is
// idempotent and the cache converges on the next read, which is an
// acceptable tradeoff for a low-QPS configuration surface.
type Manager struct {
	store       Store
	serializers map[string]Serializer
	cache       *fifoCache
	logger      *slog.Logger

	reloadMu   sync.Mutex
	reloadStop chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerSettings)

type managerSettings struct {
	ttl         time.Duration
	cacheSize   int
	logger      *slog.Logger
	serializers []Serializer
	autoReload  time.Duration
}

// WithCacheTTL overrides the cache TTL.
func WithCacheTTL(ttl time.Duration) ManagerOption {
	return func(s *managerSettings) { s.ttl = ttl }
}

// WithCacheSize overrides the cache entry bound.
func WithCacheSize(n int) ManagerOption {
	return func(s *managerSettings) { s.cacheSize = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(s *managerSettings) { s.logger = logger }
}

// WithSerializers replaces the default serializer set.
func WithSerializers(serializers ...Serializer) ManagerOption {
	return func(s *managerSettings) { s.serializers = serializers }
}

// WithAutoReload enables a background timer that reloads all configuration
// at the given interval.
func WithAutoReload(interval time.Duration) ManagerOption {
	return func(s *managerSettings) { s.autoReload = interval }
}

// NewManager creates a Manager over the given store. Without
// WithSerializers, the OpenAI and ElevenLabs serializers are installed.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	settings := managerSettings{
		ttl:       DefaultCacheTTL,
		cacheSize: DefaultCacheSize,
		logger:    slog.Default(),
		serializers: []Serializer{
			NewOpenAISerializer(),
			NewElevenLabsSerializer(),
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	m := &Manager{
		store:       store,
		serializers: make(map[string]Serializer, len(settings.serializers)),
		cache:       newFIFOCache(settings.cacheSize, settings.ttl),
		logger:      settings.logger.With("component", "agentconfig.manager"),
	}
	for _, s := range settings.serializers {
		m.serializers[s.Provider()] = s
	}

	if settings.autoReload > 0 {
		m.reloadStop = make(chan struct{})
		go m.autoReloadLoop(settings.autoReload)
	}
	return m
}

// Providers returns the known provider names, sorted.
func (m *Manager) Providers() []string {
	out := make([]string, 0, len(m.serializers))
	for p := range m.serializers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StoredProviders returns the providers with at least one persisted record,
// as opposed to Providers, which lists every provider a serializer exists
// for.
func (m *Manager) StoredProviders(ctx context.Context) ([]string, error) {
	return m.store.ListProviders(ctx)
}

// Serializer returns the serializer for a provider.
func (m *Manager) Serializer(provider string) (Serializer, bool) {
	s, ok := m.serializers[provider]
	return s, ok
}

// GetProviderConfig resolves the named configuration for a provider. An
// empty name resolves the record flagged default. When no record exists, a
// value synthesized from the serializer default is returned, tagged with the
// sentinel id "default-<provider>" and cached with the normal TTL.
func (m *Manager) GetProviderConfig(ctx context.Context, provider, name string) (*Resolved, error) {
	ser, ok := m.serializers[provider]
	if !ok {
		return nil, fmt.Errorf("agentconfig: unknown provider %q", provider)
	}

	keyName := name
	if keyName == "" {
		keyName = DefaultName
	}
	cacheKey := provider + ":" + keyName

	if v, ok := m.cache.get(cacheKey); ok {
		return v, nil
	}

	var (
		rec Record
		err error
	)
	if name == "" {
		rec, err = m.store.GetDefault(ctx, provider)
	} else {
		rec, err = m.store.Get(ctx, provider, name)
	}

	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("agentconfig: load %s/%s: %w", provider, keyName, err)
		}
		// Never configured: synthesize from defaults so callers can tell
		// "no record" from "configured to defaults" by the sentinel id.
		resolved := &Resolved{
			ID:        "default-" + provider,
			Provider:  provider,
			Name:      keyName,
			IsDefault: true,
			Config:    ser.DefaultConfig(),
		}
		m.cache.set(cacheKey, resolved)
		return resolved, nil
	}

	cfg, err := ser.Deserialize(rec.ConfigJSON)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{
		ID:        rec.ID,
		Provider:  rec.Provider,
		Name:      rec.Name,
		IsDefault: rec.IsDefault,
		Config:    cfg,
		UpdatedAt: rec.UpdatedAt,
	}
	m.cache.set(cacheKey, resolved)
	return resolved, nil
}

// SaveProviderConfig validates and upserts a configuration by
// (provider, name). When isDefault is set, every other record for the
// provider loses its default flag first, keeping at most one default per
// provider. All cache entries for the provider are invalidated on success.
func (m *Manager) SaveProviderConfig(ctx context.Context, provider, name string, cfg Config, isDefault bool) (*Resolved, error) {
	ser, ok := m.serializers[provider]
	if !ok {
		return nil, fmt.Errorf("agentconfig: unknown provider %q", provider)
	}
	if name == "" {
		return nil, &ValidationError{Provider: provider, Fields: []FieldError{{
			Field: "name", Message: "configuration name must not be empty", Code: "required",
		}}}
	}

	if res := ser.Validate(cfg); !res.Valid {
		return nil, validationErr(provider, res)
	}

	text, err := ser.Serialize(cfg)
	if err != nil {
		return nil, err
	}

	if isDefault {
		if err := m.store.ClearDefaults(ctx, provider); err != nil {
			return nil, fmt.Errorf("agentconfig: clear defaults for %s: %w", provider, err)
		}
	}

	rec, err := m.store.Upsert(ctx, Record{
		Provider:   provider,
		Name:       name,
		IsDefault:  isDefault,
		ConfigJSON: text,
	})
	if err != nil {
		return nil, fmt.Errorf("agentconfig: save %s/%s: %w", provider, name, err)
	}

	m.cache.invalidatePrefix(provider + ":")
	m.logger.Info("configuration saved",
		"provider", provider,
		"name", name,
		"default", isDefault,
	)

	return &Resolved{
		ID:        rec.ID,
		Provider:  rec.Provider,
		Name:      rec.Name,
		IsDefault: rec.IsDefault,
		Config:    cfg,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// DeleteProviderConfig deletes by (provider, name). Deleting a missing
// record returns false without error.
func (m *Manager) DeleteProviderConfig(ctx context.Context, provider, name string) (bool, error) {
	deleted, err := m.store.Delete(ctx, provider, name)
	if err != nil {
		return false, fmt.Errorf("agentconfig: delete %s/%s: %w", provider, name, err)
	}
	if deleted {
		m.cache.invalidatePrefix(provider + ":")
		m.logger.Info("configuration deleted", "provider", provider, "name", name)
	}
	return deleted, nil
}

// GetDefaultProvider returns the configuration flagged default for the
// provider.
func (m *Manager) GetDefaultProvider(ctx context.Context, provider string) (*Resolved, error) {
	return m.GetProviderConfig(ctx, provider, "")
}

// SetDefaultProvider flags the named configuration as the provider default,
// unsetting every other default for that provider first.
func (m *Manager) SetDefaultProvider(ctx context.Context, provider, name string) error {
	rec, err := m.store.Get(ctx, provider, name)
	if err != nil {
		return fmt.Errorf("agentconfig: set default %s/%s: %w", provider, name, err)
	}

	if err := m.store.ClearDefaults(ctx, provider); err != nil {
		return fmt.Errorf("agentconfig: clear defaults for %s: %w", provider, err)
	}

	rec.IsDefault = true
	if _, err := m.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("agentconfig: set default %s/%s: %w", provider, name, err)
	}

	m.cache.invalidatePrefix(provider + ":")
	return nil
}

// ReloadConfiguration clears the cache and eagerly re-warms the default
// configuration for every known provider. Per-provider warm-up failures are
// logged and swallowed.
func (m *Manager) ReloadConfiguration(ctx context.Context) {
	m.cache.clear()
	for _, provider := range m.Providers() {
		if _, err := m.GetProviderConfig(ctx, provider, ""); err != nil {
			m.logger.Warn("config warm-up failed",
				"provider", provider,
				"error", err,
			)
		}
	}
}

// Stats returns a snapshot of cache activity.
func (m *Manager) Stats() CacheStats {
	return m.cache.stats()
}

// Close stops the auto-reload timer and releases the store.
func (m *Manager) Close() error {
	m.reloadMu.Lock()
	if m.reloadStop != nil {
		close(m.reloadStop)
		m.reloadStop = nil
	}
	m.reloadMu.Unlock()
	return m.store.Close()
}

func (m *Manager) autoReloadLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.reloadMu.Lock()
	stop := m.reloadStop
	m.reloadMu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ReloadConfiguration(context.Background())
		}
	}
}
