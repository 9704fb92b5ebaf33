package clm

import (
	"net/http"
	"sync"

	"github.com/contractiq/backend/internal/domain/integration"
)

// Registry maps provider codes to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[integration.ProviderCode]integration.ProviderAdapter
	fallback integration.ProviderAdapter
}

// NewRegistry returns a registry holding the DocuSign, Ironclad and generic
// adapters, sharing httpClient. A nil client gets NewHTTPClient.
func NewRegistry(httpClient *http.Client) *Registry {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	r := &Registry{
		adapters: make(map[integration.ProviderCode]integration.ProviderAdapter),
		fallback: GenericAdapter{},
	}
	r.Register(NewDocuSignAdapter(httpClient))
	r.Register(NewIroncladAdapter(httpClient))
	r.Register(GenericAdapter{})
	return r
}

var _ integration.ProviderRegistry = (*Registry)(nil)

// Register adds or replaces the adapter for its provider code
func (r *Registry) Register(adapter integration.ProviderAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Provider()] = adapter
}

// Adapter returns the adapter for code, or the generic fallback
func (r *Registry) Adapter(code integration.ProviderCode) integration.ProviderAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[code]; ok {
		return a
	}
	return r.fallback
}
