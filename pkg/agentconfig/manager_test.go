package agentconfig

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingStore wraps a Store and counts read traffic so tests can tell
// cached reads from store round-trips.
type countingStore struct {
	Store
	gets        int
	getDefaults int
}

func (c *countingStore) Get(ctx context.Context, provider, name string) (Record, error) {
	c.gets++
	return c.Store.Get(ctx, provider, name)
}

func (c *countingStore) GetDefault(ctx context.Context, provider string) (Record, error) {
	c.getDefaults++
	return c.Store.GetDefault(ctx, provider)
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *countingStore) {
	t.Helper()
	cs := &countingStore{Store: NewMemoryStore()}
	m := NewManager(cs, opts...)
	t.Cleanup(func() { m.Close() })
	return m, cs
}

func openAICfg(t *testing.T, displayName string) *OpenAIConfig {
	t.Helper()
	cfg, ok := NewOpenAISerializer().DefaultConfig().(*OpenAIConfig)
	if !ok {
		t.Fatal("openai default config has unexpected type")
	}
	cfg.DisplayName = displayName
	return cfg
}

func TestManagerGetProviderConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown provider", func(t *testing.T) {
		m, _ := newTestManager(t)
		if _, err := m.GetProviderConfig(ctx, "nope", ""); err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})

	t.Run("second read served from cache", func(t *testing.T) {
		m, cs := newTestManager(t)
		if _, err := m.SaveProviderConfig(ctx, "openai", "professional", openAICfg(t, "Professional"), true); err != nil {
			t.Fatalf("save: %v", err)
		}

		for i := 0; i < 3; i++ {
			got, err := m.GetProviderConfig(ctx, "openai", "professional")
			if err != nil {
				t.Fatalf("get %d: %v", i, err)
			}
			if got.Name != "professional" {
				t.Fatalf("got name %q", got.Name)
			}
		}
		if cs.gets != 1 {
			t.Fatalf("store queried %d times, want 1", cs.gets)
		}
	})

	t.Run("empty name resolves the default record", func(t *testing.T) {
		m, cs := newTestManager(t)
		if _, err := m.SaveProviderConfig(ctx, "openai", "professional", openAICfg(t, "Professional"), true); err != nil {
			t.Fatalf("save: %v", err)
		}

		got, err := m.GetProviderConfig(ctx, "openai", "")
		if err != nil {
			t.Fatalf("get default: %v", err)
		}
		if got.Name != "professional" || !got.IsDefault {
			t.Fatalf("got %q default=%v, want professional default", got.Name, got.IsDefault)
		}
		if cs.getDefaults != 1 {
			t.Fatalf("GetDefault called %d times, want 1", cs.getDefaults)
		}
	})

	t.Run("missing record synthesizes defaults", func(t *testing.T) {
		m, _ := newTestManager(t)

		got, err := m.GetProviderConfig(ctx, "elevenlabs", "")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != "default-elevenlabs" {
			t.Fatalf("got id %q, want sentinel default-elevenlabs", got.ID)
		}
		if !got.Synthesized() {
			t.Fatal("Synthesized() = false for sentinel id")
		}
		if !got.IsDefault {
			t.Fatal("synthesized value should be flagged default")
		}
		if got.Config.ProviderName() != "elevenlabs" {
			t.Fatalf("got provider %q", got.Config.ProviderName())
		}
	})

	t.Run("saved record is not synthesized", func(t *testing.T) {
		m, _ := newTestManager(t)
		if _, err := m.SaveProviderConfig(ctx, "openai", "main", openAICfg(t, "Main"), true); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, err := m.GetProviderConfig(ctx, "openai", "main")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Synthesized() {
			t.Fatal("Synthesized() = true for a saved record")
		}
	})
}

func TestManagerSaveProviderConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("empty name rejected", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.SaveProviderConfig(ctx, "openai", "", openAICfg(t, "X"), false)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("got %v, want ValidationError", err)
		}
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		m, _ := newTestManager(t)
		cfg := openAICfg(t, "Busted")
		cfg.Temperature = 9.0
		_, err := m.SaveProviderConfig(ctx, "openai", "busted", cfg, false)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("got %v, want ValidationError", err)
		}
	})

	t.Run("save invalidates cached reads", func(t *testing.T) {
		m, cs := newTestManager(t)
		if _, err := m.SaveProviderConfig(ctx, "openai", "main", openAICfg(t, "Before"), true); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := m.GetProviderConfig(ctx, "openai", "main"); err != nil {
			t.Fatalf("warm read: %v", err)
		}

		if _, err := m.SaveProviderConfig(ctx, "openai", "main", openAICfg(t, "After"), true); err != nil {
			t.Fatalf("re-save: %v", err)
		}

		got, err := m.GetProviderConfig(ctx, "openai", "main")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		oc, ok := got.Config.(*OpenAIConfig)
		if !ok {
			t.Fatalf("got config type %T", got.Config)
		}
		if oc.DisplayName != "After" {
			t.Fatalf("got displayName %q, want the re-saved value", oc.DisplayName)
		}
		if cs.gets != 2 {
			t.Fatalf("store queried %d times, want 2 (cache invalidated by save)", cs.gets)
		}
	})

	t.Run("at most one default per provider", func(t *testing.T) {
		m, cs := newTestManager(t)
		if _, err := m.SaveProviderConfig(ctx, "openai", "professional", openAICfg(t, "Professional"), true); err != nil {
			t.Fatalf("save professional: %v", err)
		}
		if _, err := m.SaveProviderConfig(ctx, "openai", "casual", openAICfg(t, "Casual"), false); err != nil {
			t.Fatalf("save casual: %v", err)
		}

		got, err := m.GetDefaultProvider(ctx, "openai")
		if err != nil {
			t.Fatalf("get default: %v", err)
		}
		if got.Name != "professional" {
			t.Fatalf("default is %q, want professional", got.Name)
		}

		if err := m.SetDefaultProvider(ctx, "openai", "casual"); err != nil {
			t.Fatalf("set default: %v", err)
		}

		got, err = m.GetDefaultProvider(ctx, "openai")
		if err != nil {
			t.Fatalf("get default after switch: %v", err)
		}
		if got.Name != "casual" {
			t.Fatalf("default is %q, want casual", got.Name)
		}

		recs, err := cs.List(ctx, "openai")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		defaults := 0
		for _, rec := range recs {
			if rec.IsDefault {
				defaults++
			}
		}
		if defaults != 1 {
			t.Fatalf("%d records flagged default, want exactly 1", defaults)
		}
	})

	t.Run("set default for missing name fails", func(t *testing.T) {
		m, _ := newTestManager(t)
		err := m.SetDefaultProvider(ctx, "openai", "ghost")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})
}

func TestManagerDeleteProviderConfig(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	deleted, err := m.DeleteProviderConfig(ctx, "openai", "ghost")
	if err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if deleted {
		t.Fatal("deleting a missing record reported true")
	}

	if _, err := m.SaveProviderConfig(ctx, "openai", "main", openAICfg(t, "Main"), true); err != nil {
		t.Fatalf("save: %v", err)
	}
	deleted, err = m.DeleteProviderConfig(ctx, "openai", "main")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("delete reported false for an existing record")
	}

	// A read after delete falls back to synthesized defaults.
	got, err := m.GetProviderConfig(ctx, "openai", "")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if !got.Synthesized() {
		t.Fatal("expected synthesized defaults after deleting the only record")
	}
}

func TestManagerReloadConfiguration(t *testing.T) {
	ctx := context.Background()
	m, cs := newTestManager(t)

	if _, err := m.SaveProviderConfig(ctx, "openai", "main", openAICfg(t, "Main"), true); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := m.GetProviderConfig(ctx, "openai", ""); err != nil {
		t.Fatalf("warm read: %v", err)
	}
	before := cs.getDefaults

	m.ReloadConfiguration(ctx)

	// Warm-up re-queries every provider default.
	if cs.getDefaults <= before {
		t.Fatalf("GetDefault count stayed at %d after reload", cs.getDefaults)
	}
	// And the re-warmed entry serves follow-up reads.
	after := cs.getDefaults
	if _, err := m.GetProviderConfig(ctx, "openai", ""); err != nil {
		t.Fatalf("get: %v", err)
	}
	if cs.getDefaults != after {
		t.Fatal("read after reload was not served from cache")
	}
}

func TestManagerStats(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, WithCacheTTL(time.Minute))

	if _, err := m.GetProviderConfig(ctx, "openai", ""); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := m.GetProviderConfig(ctx, "openai", ""); err != nil {
		t.Fatalf("get: %v", err)
	}

	stats := m.Stats()
	if stats.Misses != 1 {
		t.Fatalf("misses = %d, want 1", stats.Misses)
	}
	if stats.Hits != 1 {
		t.Fatalf("hits = %d, want 1", stats.Hits)
	}
}

func TestManagerProviders(t *testing.T) {
	m, _ := newTestManager(t)
	got := m.Providers()
	want := []string{"elevenlabs", "openai"}
	if len(got) != len(want) {
		t.Fatalf("providers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("providers = %v, want %v", got, want)
		}
	}
}
