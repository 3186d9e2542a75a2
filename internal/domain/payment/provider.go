package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider executes payment attempts. Implementations set attempt.State on
// success and return a *PaymentError when the payment did not go through.
type Provider interface {
	// Name returns the provider identifier stored on attempts
	Name() string

	// Execute tries to move the attempt's amount. It may block on external I/O.
	Execute(ctx context.Context, attempt *Attempt) error
}

// ProviderFactory holds the registered payment providers
type ProviderFactory struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{
		providers: make(map[string]Provider),
	}
}

// Register adds a payment provider under its own name
func (f *ProviderFactory) Register(provider Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[provider.Name()] = provider
}

// Get retrieves a payment provider by name
func (f *ProviderFactory) Get(name string) (Provider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	provider, exists := f.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, name)
	}
	return provider, nil
}

// List returns all registered provider names
func (f *ProviderFactory) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.providers))
	for name := range f.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
