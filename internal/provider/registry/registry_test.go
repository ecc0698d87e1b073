package registry

import (
	"context"
	"testing"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
)

type stubClient struct{ name string }

func (s stubClient) Name() string { return s.name }

func (stubClient) Complete(context.Context, *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return &domain.CompletionResponse{}, nil
}

func (stubClient) Stream(context.Context, *domain.CompletionRequest) (<-chan domain.TokenEvent, error) {
	ch := make(chan domain.TokenEvent)
	close(ch)
	return ch, nil
}

func stubFactory(typ string) ProviderFactory {
	return ProviderFactory{
		Type: typ,
		Create: func(config.ProviderConfig) (Client, error) {
			return stubClient{name: typ}, nil
		},
	}
}

func TestRegisterAndGetFactory(t *testing.T) {
	ClearFactories()
	defer ClearFactories()

	RegisterFactory(stubFactory("alpha"))
	RegisterFactory(stubFactory("beta"))

	f, ok := GetFactory("alpha")
	if !ok {
		t.Fatal("alpha not found")
	}
	if f.Type != "alpha" {
		t.Errorf("Type = %s", f.Type)
	}
	if _, ok := GetFactory("gamma"); ok {
		t.Error("gamma should not exist")
	}
	if !IsRegistered("beta") {
		t.Error("beta should be registered")
	}
}

func TestListFactoriesSorted(t *testing.T) {
	ClearFactories()
	defer ClearFactories()

	RegisterFactory(stubFactory("zeta"))
	RegisterFactory(stubFactory("alpha"))

	types := ListProviderTypes()
	if len(types) != 2 || types[0] != "alpha" || types[1] != "zeta" {
		t.Errorf("types = %v, want sorted", types)
	}
}

func TestRegisterFactoryPanics(t *testing.T) {
	ClearFactories()
	defer ClearFactories()

	RegisterFactory(stubFactory("dup"))

	assertPanics(t, "duplicate type", func() {
		RegisterFactory(stubFactory("dup"))
	})
	assertPanics(t, "empty type", func() {
		RegisterFactory(stubFactory(""))
	})
	assertPanics(t, "nil create", func() {
		RegisterFactory(ProviderFactory{Type: "nocreate"})
	})
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}
