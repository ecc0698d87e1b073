package provider

import (
	"context"
	"testing"
	"time"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/provider/registry"
)

type stubClient struct{}

func (stubClient) Name() string { return "stub" }

func (stubClient) Complete(context.Context, *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	return &domain.CompletionResponse{}, nil
}

func (stubClient) Stream(context.Context, *domain.CompletionRequest) (<-chan domain.TokenEvent, error) {
	ch := make(chan domain.TokenEvent)
	close(ch)
	return ch, nil
}

func setup(t *testing.T) {
	t.Helper()
	registry.ClearFactories()
	t.Cleanup(registry.ClearFactories)
	registry.RegisterFactory(registry.ProviderFactory{
		Type: "stub",
		Capabilities: domain.Capabilities{
			SupportsStreaming: true,
			MaxTimeout:        2 * time.Minute,
			DefaultMaxTokens:  1024,
		},
		Create: func(config.ProviderConfig) (registry.Client, error) {
			return stubClient{}, nil
		},
	})
}

func TestNewRegistryValidatesEagerly(t *testing.T) {
	setup(t)

	tests := []struct {
		name     string
		cfg      config.ProviderConfig
		wantCode domain.ErrorCode
	}{
		{
			name:     "unknown type",
			cfg:      config.ProviderConfig{Type: "mystery", APIKey: "k"},
			wantCode: domain.ErrorCodeUnknownProvider,
		},
		{
			name:     "missing credentials",
			cfg:      config.ProviderConfig{Type: "stub"},
			wantCode: domain.ErrorCodeMissingCredentials,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry([]config.ProviderConfig{tt.cfg})
			if err == nil {
				t.Fatal("expected configuration error")
			}
			ce := domain.AsCoreError(err)
			if ce.Type != domain.ErrorTypeConfiguration {
				t.Errorf("type = %s, want configuration", ce.Type)
			}
			if ce.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", ce.Code, tt.wantCode)
			}
		})
	}
}

func TestLookupWithoutClientConstruction(t *testing.T) {
	setup(t)
	r, err := NewRegistry([]config.ProviderConfig{
		{Name: "primary", Type: "stub", Model: "m1", APIKey: "k"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	caps, err := r.Lookup("primary")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !caps.SupportsStreaming || caps.DefaultMaxTokens != 1024 {
		t.Errorf("caps = %+v", caps)
	}

	if _, err := r.Lookup("ghost"); err == nil {
		t.Error("unknown entry should fail")
	}
}

func TestCapabilityOverrides(t *testing.T) {
	setup(t)
	r, err := NewRegistry([]config.ProviderConfig{
		{
			Name:             "tuned",
			Type:             "stub",
			APIKey:           "k",
			MaxTimeout:       30 * time.Second,
			DisableStreaming: true,
			SupportsThinking: true,
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	caps, err := r.Lookup("tuned")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if caps.SupportsStreaming {
		t.Error("streaming should be disabled by override")
	}
	if caps.MaxTimeout != 30*time.Second {
		t.Errorf("MaxTimeout = %s", caps.MaxTimeout)
	}
	if !caps.SupportsThinking {
		t.Error("thinking override lost")
	}
}

func TestResolveModelOverride(t *testing.T) {
	setup(t)
	r, err := NewRegistry([]config.ProviderConfig{
		{Name: "primary", Type: "stub", Model: "default-model", APIKey: "k"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	client, _, err := r.Resolve("primary", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if client == nil {
		t.Fatal("nil client")
	}
	if got := r.Model("primary"); got != "default-model" {
		t.Errorf("Model = %q", got)
	}

	if _, _, err := r.Resolve("ghost", ""); err == nil {
		t.Error("unknown entry should fail")
	}
}

func TestEntryNameDefaultsToType(t *testing.T) {
	setup(t)
	r, err := NewRegistry([]config.ProviderConfig{
		{Type: "stub", APIKey: "k"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.Lookup("stub"); err != nil {
		t.Errorf("entry not reachable by type name: %v", err)
	}
}
