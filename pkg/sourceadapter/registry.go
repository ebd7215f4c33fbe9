package sourceadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hopgate/carbroker/pkg/company"
)

// Factory builds a SourceAdapter from a source's endpoint configuration.
// Registered once per transport kind at startup.
type Factory func(ep company.Endpoint) (SourceAdapter, error)

// AdapterRegistry is a keyed cache of sourceId → SourceAdapter, lazily
// materialized from the source's transport config. Concurrent lookups for
// the same key deduplicate via singleflight: at most one construction per
// key is in flight, others await its result.
type AdapterRegistry struct {
	mu        sync.RWMutex
	cache     map[uuid.UUID]SourceAdapter
	factories map[company.Transport]Factory
	companies CompanyLookup
	sf        singleflight.Group
}

// CompanyLookup resolves a source company's id to its endpoint
// configuration. Implemented by the company package.
type CompanyLookup interface {
	Get(ctx context.Context, id uuid.UUID) (company.Company, error)
}

// NewAdapterRegistry creates an empty registry.
func NewAdapterRegistry(companies CompanyLookup) *AdapterRegistry {
	return &AdapterRegistry{
		cache:     make(map[uuid.UUID]SourceAdapter),
		factories: make(map[company.Transport]Factory),
		companies: companies,
	}
}

// RegisterFactory wires a transport kind to the Factory that constructs
// adapters for it.
func (r *AdapterRegistry) RegisterFactory(transport company.Transport, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[transport] = f
}

// Get returns the SourceAdapter for sourceID, constructing and caching it on
// first use.
func (r *AdapterRegistry) Get(ctx context.Context, sourceID uuid.UUID) (SourceAdapter, error) {
	r.mu.RLock()
	if a, ok := r.cache[sourceID]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.sf.Do(sourceID.String(), func() (any, error) {
		// Re-check under the singleflight key in case another caller won the
		// race between the RUnlock above and Do being entered.
		r.mu.RLock()
		if a, ok := r.cache[sourceID]; ok {
			r.mu.RUnlock()
			return a, nil
		}
		r.mu.RUnlock()

		c, err := r.companies.Get(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("looking up source company %s: %w", sourceID, err)
		}
		if c.Type != company.TypeSource || c.Endpoint == nil {
			return nil, fmt.Errorf("company %s is not a configured source", sourceID)
		}

		r.mu.RLock()
		factory, ok := r.factories[c.Endpoint.Transport]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("no adapter factory registered for transport %q", c.Endpoint.Transport)
		}

		adapter, err := factory(*c.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("constructing adapter for source %s: %w", sourceID, err)
		}

		r.mu.Lock()
		r.cache[sourceID] = adapter
		r.mu.Unlock()

		return adapter, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(SourceAdapter), nil
}

// Invalidate evicts a cached adapter so the next Get reconstructs it from
// current source configuration.
func (r *AdapterRegistry) Invalidate(sourceID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, sourceID)
}
