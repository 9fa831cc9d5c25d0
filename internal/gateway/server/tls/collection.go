package tls

import (
	"errors"
	"strings"

	tlspkg "github.com/vyrodovalexey/tlsgate/internal/tls"
)

// ErrNoContexts is returned when a collection is built without contexts.
var ErrNoContexts = errors.New("at least one TLS context is required")

// Collection selects a server context by requested host name. Names come
// from each context's certificate; the first context is the default.
type Collection struct {
	contexts []*tlspkg.Context
	exact    map[string]*tlspkg.Context
	wildcard map[string]*tlspkg.Context
}

// NewCollection indexes contexts by the DNS names of their certificates.
// When two contexts claim the same name the earlier one wins.
func NewCollection(contexts ...*tlspkg.Context) (*Collection, error) {
	if len(contexts) == 0 {
		return nil, ErrNoContexts
	}

	c := &Collection{
		contexts: contexts,
		exact:    make(map[string]*tlspkg.Context),
		wildcard: make(map[string]*tlspkg.Context),
	}
	for _, ctx := range contexts {
		if ctx == nil {
			return nil, errors.New("nil TLS context in collection")
		}
		for _, name := range ctx.DNSNames() {
			name = strings.ToLower(strings.TrimSuffix(name, "."))
			index, key := c.exact, name
			if suffix, ok := strings.CutPrefix(name, "*."); ok {
				index, key = c.wildcard, suffix
			}
			if _, taken := index[key]; !taken {
				index[key] = ctx
			}
		}
	}
	return c, nil
}

// Select returns the context for serverName. An exact name beats a wildcard,
// a wildcard covers exactly one label, and anything else gets the default.
func (c *Collection) Select(serverName string) *tlspkg.Context {
	ctx, _ := c.lookup(serverName)
	return ctx
}

// lookup is Select that also reports whether a name matched.
func (c *Collection) lookup(serverName string) (*tlspkg.Context, bool) {
	name := strings.ToLower(strings.TrimSuffix(serverName, "."))
	if name == "" {
		return c.Default(), false
	}
	if ctx, ok := c.exact[name]; ok {
		return ctx, true
	}
	if _, parent, ok := strings.Cut(name, "."); ok && parent != "" {
		if ctx, ok := c.wildcard[parent]; ok {
			return ctx, true
		}
	}
	return c.Default(), false
}

// Default returns the first context.
func (c *Collection) Default() *tlspkg.Context {
	return c.contexts[0]
}

// Contexts returns the contexts in configuration order.
func (c *Collection) Contexts() []*tlspkg.Context {
	out := make([]*tlspkg.Context, len(c.contexts))
	copy(out, c.contexts)
	return out
}

// Len returns the number of contexts.
func (c *Collection) Len() int {
	return len(c.contexts)
}
