package configstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DBPath: filepath.Join(t.TempDir(), "configs.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	t.Run("empty path rejected", func(t *testing.T) {
		if _, err := Open(Options{}); err == nil {
			t.Fatal("expected error for empty path")
		}
	})

	t.Run("creates schema", func(t *testing.T) {
		s := openTestStore(t)
		recs, err := s.List(context.Background(), "openai")
		if err != nil {
			t.Fatalf("list on fresh store: %v", err)
		}
		if len(recs) != 0 {
			t.Fatalf("fresh store has %d records", len(recs))
		}
	})
}

func TestStoreUpsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.Upsert(ctx, agentconfig.Record{
		Provider:   "openai",
		Name:       "main",
		IsDefault:  true,
		ConfigJSON: `{"a":1}`,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.ID == "" {
		t.Fatal("insert did not assign an id")
	}
	if first.CreatedAt.IsZero() || first.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set on insert")
	}

	second, err := s.Upsert(ctx, agentconfig.Record{
		Provider:   "openai",
		Name:       "main",
		IsDefault:  false,
		ConfigJSON: `{"a":2}`,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id changed on upsert: %q -> %q", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("created_at changed on upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if second.ConfigJSON != `{"a":2}` {
		t.Fatalf("config not replaced: %s", second.ConfigJSON)
	}
	if second.IsDefault {
		t.Fatal("default flag not replaced")
	}

	recs, err := s.List(ctx, "openai")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d rows after upsert of one identity, want 1", len(recs))
	}
}

func TestStoreGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Get(ctx, "openai", "ghost"); !errors.Is(err, agentconfig.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := s.GetDefault(ctx, "openai"); !errors.Is(err, agentconfig.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	if _, err := s.Upsert(ctx, agentconfig.Record{
		Provider: "openai", Name: "main", IsDefault: true, ConfigJSON: `{}`,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec, err := s.Get(ctx, "openai", "main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Provider != "openai" || rec.Name != "main" || !rec.IsDefault {
		t.Fatalf("got %+v", rec)
	}

	def, err := s.GetDefault(ctx, "openai")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if def.Name != "main" {
		t.Fatalf("default is %q, want main", def.Name)
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	deleted, err := s.Delete(ctx, "openai", "ghost")
	if err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if deleted {
		t.Fatal("delete of missing row reported true")
	}

	if _, err := s.Upsert(ctx, agentconfig.Record{
		Provider: "openai", Name: "main", ConfigJSON: `{}`,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	deleted, err = s.Delete(ctx, "openai", "main")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("delete of existing row reported false")
	}
	if _, err := s.Get(ctx, "openai", "main"); !errors.Is(err, agentconfig.ErrNotFound) {
		t.Fatalf("got %v after delete, want ErrNotFound", err)
	}
}

func TestStoreClearDefaults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"professional", "casual"} {
		if _, err := s.Upsert(ctx, agentconfig.Record{
			Provider: "openai", Name: name, IsDefault: name == "professional", ConfigJSON: `{}`,
		}); err != nil {
			t.Fatalf("upsert %s: %v", name, err)
		}
	}
	// Other providers keep their defaults.
	if _, err := s.Upsert(ctx, agentconfig.Record{
		Provider: "elevenlabs", Name: "main", IsDefault: true, ConfigJSON: `{}`,
	}); err != nil {
		t.Fatalf("upsert elevenlabs: %v", err)
	}

	if err := s.ClearDefaults(ctx, "openai"); err != nil {
		t.Fatalf("clear defaults: %v", err)
	}

	if _, err := s.GetDefault(ctx, "openai"); !errors.Is(err, agentconfig.ErrNotFound) {
		t.Fatalf("openai still has a default: %v", err)
	}
	if _, err := s.GetDefault(ctx, "elevenlabs"); err != nil {
		t.Fatalf("elevenlabs default lost: %v", err)
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"casual", "professional", "terse"} {
		if _, err := s.Upsert(ctx, agentconfig.Record{
			Provider: "openai", Name: name, ConfigJSON: `{}`,
		}); err != nil {
			t.Fatalf("upsert %s: %v", name, err)
		}
	}

	recs, err := s.List(ctx, "openai")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	// Ordered by name.
	for i, want := range []string{"casual", "professional", "terse"} {
		if recs[i].Name != want {
			t.Fatalf("recs[%d] = %q, want %q", i, recs[i].Name, want)
		}
	}
}

func TestStoreListProviders(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	got, err := s.ListProviders(ctx)
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("fresh store reports providers %v", got)
	}

	for _, rec := range []agentconfig.Record{
		{Provider: "openai", Name: "a", ConfigJSON: `{}`},
		{Provider: "openai", Name: "b", ConfigJSON: `{}`},
		{Provider: "elevenlabs", Name: "a", ConfigJSON: `{}`},
	} {
		if _, err := s.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err = s.ListProviders(ctx)
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	want := []string{"elevenlabs", "openai"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("providers = %v, want %v", got, want)
	}
}

func TestManagerOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := agentconfig.NewManager(s)

	cfg, ok := agentconfig.NewOpenAISerializer().DefaultConfig().(*agentconfig.OpenAIConfig)
	if !ok {
		t.Fatal("unexpected default config type")
	}
	cfg.DisplayName = "Persisted"

	if _, err := m.SaveProviderConfig(ctx, "openai", "main", cfg, true); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.GetDefaultProvider(ctx, "openai")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	oc, ok := got.Config.(*agentconfig.OpenAIConfig)
	if !ok {
		t.Fatalf("got config type %T", got.Config)
	}
	if oc.DisplayName != "Persisted" {
		t.Fatalf("round-trip lost displayName: %q", oc.DisplayName)
	}
}
