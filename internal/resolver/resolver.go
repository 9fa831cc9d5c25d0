// Package resolver maps resource locations to readable streams.
//
// A location is either a plain file path, relative to the directory of a base
// location, or a URI whose scheme selects a registered SchemeResolver
// (for example vault://secret/gateway/tls#certificate).
package resolver

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SchemeFile is the scheme used for plain filesystem locations.
const SchemeFile = "file"

// ErrUnknownScheme is returned when no resolver is registered for a location's scheme.
var ErrUnknownScheme = errors.New("no resolver registered for scheme")

// Resolver opens a resource identified by a location relative to a base location.
// Callers own the returned stream and must close it.
type Resolver interface {
	Resolve(base, location string) (io.ReadCloser, error)
}

// SchemeResolver opens an absolute location for a single URI scheme.
type SchemeResolver interface {
	Open(location string) (io.ReadCloser, error)
}

// SchemeResolverFunc adapts a function to SchemeResolver.
type SchemeResolverFunc func(location string) (io.ReadCloser, error)

// Open calls f(location).
func (f SchemeResolverFunc) Open(location string) (io.ReadCloser, error) {
	return f(location)
}

// Map dispatches locations to scheme resolvers. A location without a scheme
// is treated as a file path.
type Map struct {
	mu      sync.RWMutex
	schemes map[string]SchemeResolver
}

// Option configures a Map.
type Option func(*Map)

// WithScheme registers a scheme resolver.
func WithScheme(scheme string, r SchemeResolver) Option {
	return func(m *Map) {
		m.schemes[strings.ToLower(scheme)] = r
	}
}

// NewMap creates a resolver map with the file scheme registered.
func NewMap(opts ...Option) *Map {
	m := &Map{
		schemes: map[string]SchemeResolver{
			SchemeFile: FileResolver{},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces the resolver for scheme.
func (m *Map) Register(scheme string, r SchemeResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemes[strings.ToLower(scheme)] = r
}

// Resolve combines base and location and opens the result.
func (m *Map) Resolve(base, location string) (io.ReadCloser, error) {
	if location == "" {
		return nil, errors.New("empty resource location")
	}

	combined := Combine(base, location)
	scheme := schemeOf(combined)
	if scheme == "" {
		scheme = SchemeFile
	}

	m.mu.RLock()
	r, ok := m.schemes[scheme]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (location %s)", ErrUnknownScheme, scheme, combined)
	}

	rc, err := r.Open(combined)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", combined, err)
	}
	return rc, nil
}

// Combine resolves location against base. Absolute paths and locations that
// carry a scheme are returned unchanged; relative paths are resolved against
// the directory containing base.
func Combine(base, location string) string {
	if base == "" || schemeOf(location) != "" || filepath.IsAbs(location) {
		return location
	}

	if schemeOf(base) != "" && schemeOf(base) != SchemeFile {
		baseURL, err := url.Parse(base)
		if err != nil {
			return location
		}
		ref, err := url.Parse(location)
		if err != nil {
			return location
		}
		return baseURL.ResolveReference(ref).String()
	}

	dir := strings.TrimPrefix(base, "file://")
	if !strings.HasSuffix(dir, "/") && !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir = filepath.Dir(dir)
	}
	return filepath.Join(dir, location)
}

// FilePath returns the filesystem path location names once resolved against
// base, or false when it is served by another scheme.
func FilePath(base, location string) (string, bool) {
	if location == "" {
		return "", false
	}
	combined := Combine(base, location)
	switch schemeOf(combined) {
	case "":
		return filepath.Clean(combined), true
	case SchemeFile:
		return filepath.Clean(strings.TrimPrefix(combined, "file://")), true
	default:
		return "", false
	}
}

// schemeOf returns the lower-cased URI scheme of location, or "" when there is none.
// Single-letter schemes are treated as Windows drive letters.
func schemeOf(location string) string {
	i := strings.Index(location, "://")
	if i < 2 {
		return ""
	}
	scheme := location[:i]
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return ""
		}
	}
	return strings.ToLower(scheme)
}

// FileResolver opens filesystem paths and file:// URIs.
type FileResolver struct{}

// Open opens the file named by location.
func (FileResolver) Open(location string) (io.ReadCloser, error) {
	return os.Open(strings.TrimPrefix(location, "file://"))
}
