package tls

import (
	"sync"

	"github.com/vyrodovalexey/tlsgate/internal/resolver"
)

// Registry shares contexts between listeners and targets whose descriptors
// are equal. Sharing lasts for one generation: after Renew the next Get for
// a descriptor builds a fresh context, re-reading its key material. It is
// safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	resolver   resolver.Resolver
	opts       []Option
	entries    map[string]registryEntry
	generation uint64
}

type registryEntry struct {
	ctx        *Context
	generation uint64
}

// NewRegistry creates a registry that builds contexts with res and opts.
func NewRegistry(res resolver.Resolver, opts ...Option) *Registry {
	return &Registry{
		resolver: res,
		opts:     opts,
		entries:  make(map[string]registryEntry),
	}
}

func registryKey(desc *Descriptor, base string) string {
	return desc.Fingerprint() + "|" + base
}

// Get returns the context for desc resolved against base, building it on
// first use in the current generation. Build errors are not cached.
func (r *Registry) Get(desc *Descriptor, base string) (*Context, error) {
	key := registryKey(desc, base)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok && e.generation == r.generation && e.ctx.desc.Equal(desc) {
		return e.ctx, nil
	}

	c, err := NewContext(desc, r.resolver, base, r.opts...)
	if err != nil {
		return nil, err
	}
	r.entries[key] = registryEntry{ctx: c, generation: r.generation}
	return c, nil
}

// Renew starts a new generation. Contexts already handed out stay valid;
// later Gets rebuild them from their resources.
func (r *Registry) Renew() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
}

// Retain makes keep the registry's only contents and returns how many cached
// contexts were dropped. Used after a reload so that stale key material is
// released, and after a failed one to put the running contexts back.
func (r *Registry) Retain(keep []*Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]registryEntry, len(keep))
	for _, c := range keep {
		entries[registryKey(c.desc, c.location)] = registryEntry{ctx: c, generation: r.generation}
	}

	dropped := 0
	for key, e := range r.entries {
		if kept, ok := entries[key]; !ok || kept.ctx != e.ctx {
			dropped++
		}
	}
	r.entries = entries
	return dropped
}

// Len returns the number of cached contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
