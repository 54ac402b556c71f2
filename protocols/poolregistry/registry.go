package poolregistry

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry provides fast, concurrent-safe indexed access to pool metadata.
// Discovery only ever adds entries; a pool that goes bad is excised from
// pricing subgraphs, not from the registry.
type Registry struct {
	mu    sync.RWMutex
	byKey map[PoolKey]PoolView
}

// NewRegistry creates a registry pre-populated with the given pools.
func NewRegistry(pools []PoolView) *Registry {
	byKey := make(map[PoolKey]PoolView, len(pools))
	for _, p := range pools {
		byKey[p.Key] = p
	}
	return &Registry{byKey: byKey}
}

// Add records a pool's metadata. The first entry for a key wins: a
// re-announced pool must not move to a different token pair.
func (r *Registry) Add(p PoolView) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[p.Key]; ok {
		return false
	}
	r.byKey[p.Key] = p
	return true
}

// GetByKey retrieves a pool by its PoolKey.
func (r *Registry) GetByKey(key PoolKey) (PoolView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byKey[key]
	return p, ok
}

// GetByAddress retrieves a pool by its contract address.
func (r *Registry) GetByAddress(address common.Address) (PoolView, bool) {
	return r.GetByKey(AddressToPoolKey(address))
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// All returns a defensive copy of all pools in the registry.
func (r *Registry) All() []PoolView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]PoolView, 0, len(r.byKey))
	for _, p := range r.byKey {
		all = append(all, p)
	}
	return all
}
