// Package registry provides provider factory registration and lookup.
//
// Each provider package exposes an explicit registration function that calls
// RegisterFactory; cmd/calliope (or tests) wires those registrations so we
// avoid init() side effects. Capabilities are recorded alongside the factory
// so callers can inspect them without constructing a client.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
)

// Client is the interface every provider client implements.
type Client interface {
	// Name returns the provider type identifier.
	Name() string

	// Complete handles unary (non-streaming) requests.
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error)

	// Stream returns a channel of token events.
	// The channel MUST be closed by the provider when done.
	Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.TokenEvent, error)
}

// ProviderFactory defines how to create a provider of a specific type.
type ProviderFactory struct {
	// Type is the provider type identifier used in configuration
	// (e.g., "openai", "anthropic").
	Type string

	// Description provides a human-readable description of the provider.
	Description string

	// Capabilities are the defaults for this provider type. Per-entry
	// configuration may override individual flags.
	Capabilities domain.Capabilities

	// Create instantiates a new client from configuration.
	Create func(cfg config.ProviderConfig) (Client, error)

	// ValidateConfig performs provider-specific configuration validation.
	// Optional: if nil, only the credential presence check applies.
	ValidateConfig func(cfg config.ProviderConfig) error
}

var (
	factoryMu   sync.RWMutex
	factoryMap  = make(map[string]ProviderFactory)
	factoryList []ProviderFactory
)

// RegisterFactory registers a provider factory for a specific type.
// Panics if a factory with the same type is already registered.
func RegisterFactory(f ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("provider factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("provider factory %q must have a Create function", f.Type))
	}

	if _, exists := factoryMap[f.Type]; exists {
		panic(fmt.Sprintf("provider factory %q already registered", f.Type))
	}

	factoryMap[f.Type] = f
	factoryList = append(factoryList, f)
}

// GetFactory returns the factory for a provider type, if registered.
func GetFactory(providerType string) (ProviderFactory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[providerType]
	return f, ok
}

// ListFactories returns all registered provider factories sorted by type.
func ListFactories() []ProviderFactory {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	result := make([]ProviderFactory, len(factoryList))
	copy(result, factoryList)
	sort.Slice(result, func(i, j int) bool {
		return result[i].Type < result[j].Type
	})
	return result
}

// ListProviderTypes returns all registered provider type names.
func ListProviderTypes() []string {
	factories := ListFactories()
	types := make([]string, len(factories))
	for i, f := range factories {
		types[i] = f.Type
	}
	return types
}

// IsRegistered returns true if a provider type is registered.
func IsRegistered(providerType string) bool {
	_, ok := GetFactory(providerType)
	return ok
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[string]ProviderFactory)
	factoryList = nil
}
