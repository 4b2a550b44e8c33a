package pool

import (
	"net/netip"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Registry maps remote addresses to their pools, created lazily. It is safe
// for unsynchronized concurrent use, and concurrent GetOrCreate calls for
// the same address converge on a single pool. The map is sharded, so
// lookups for unrelated addresses never contend on one lock.
type Registry struct {
	pools cmap.ConcurrentMap[string, *Pool]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: cmap.New[*Pool]()}
}

// GetOrCreate returns the pool for addr, building it with newPool on first
// use. newPool runs under a shard lock and must not block; in particular,
// callers must Acquire on the returned handle only after this call returns.
func (r *Registry) GetOrCreate(addr netip.AddrPort, newPool func() *Pool) *Pool {
	key := addr.String()
	if p, ok := r.pools.Get(key); ok {
		return p
	}
	return r.pools.Upsert(key, nil, func(exist bool, current *Pool, _ *Pool) *Pool {
		if exist {
			return current
		}
		return newPool()
	})
}

// Each calls f for every pool in the registry.
func (r *Registry) Each(f func(p *Pool)) {
	r.pools.IterCb(func(_ string, p *Pool) { f(p) })
}

// Len returns the number of pools.
func (r *Registry) Len() int { return r.pools.Count() }
