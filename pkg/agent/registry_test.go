package agent

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and create", func(t *testing.T) {
		r := NewRegistry()
		r.Register(ProviderMock, func(deps Deps) (Adapter, error) {
			return NewMock(), nil
		})

		a, err := r.New(ProviderMock, Deps{})
		if err != nil {
			t.Fatalf("new failed: %v", err)
		}
		if a == nil {
			t.Fatal("expected an adapter")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.New(Provider("nope"), Deps{}); !errors.Is(err, ErrUnknownProvider) {
			t.Errorf("err = %v, want ErrUnknownProvider", err)
		}
	})

	t.Run("providers are listed", func(t *testing.T) {
		r := NewRegistry()
		r.Register(ProviderMock, func(Deps) (Adapter, error) { return NewMock(), nil })
		r.Register(ProviderOpenAI, func(Deps) (Adapter, error) { return NewMock(), nil })

		providers := r.Providers()
		if len(providers) != 2 {
			t.Errorf("providers = %v, want 2 entries", providers)
		}
	})

	t.Run("factory error propagates", func(t *testing.T) {
		r := NewRegistry()
		want := errors.New("factory broke")
		r.Register(ProviderMock, func(Deps) (Adapter, error) { return nil, want })

		if _, err := r.New(ProviderMock, Deps{}); !errors.Is(err, want) {
			t.Errorf("err = %v, want factory error", err)
		}
	})
}
