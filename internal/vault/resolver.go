package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// Scheme is the resource location scheme served by Resolver.
const Scheme = "vault"

// Resolver opens vault:// locations. It implements resolver.SchemeResolver.
type Resolver struct {
	client  Client
	timeout time.Duration
}

// NewResolver creates a resolver reading through client. timeout bounds
// each read; zero uses DefaultRequestTimeout.
func NewResolver(client Client, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Resolver{client: client, timeout: timeout}
}

// Location is a parsed vault:// location.
type Location struct {
	Mount  string
	Path   string
	Field  string
	Base64 bool
}

// ParseLocation parses vault://<mount>/<path>[?encoding=base64]#<field>.
func ParseLocation(location string) (*Location, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return nil, fmt.Errorf("%w: scheme %q is not %s", ErrInvalidPath, u.Scheme, Scheme)
	}

	loc := &Location{
		Mount: u.Host,
		Path:  strings.Trim(u.Path, "/"),
		Field: u.Fragment,
	}
	if loc.Mount == "" || loc.Path == "" {
		return nil, fmt.Errorf("%w: %s needs a mount and a path", ErrInvalidPath, location)
	}
	if loc.Field == "" {
		return nil, fmt.Errorf("%w: %s names no #field", ErrInvalidPath, location)
	}

	switch enc := u.Query().Get("encoding"); enc {
	case "":
	case "base64":
		loc.Base64 = true
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidPath, enc)
	}
	return loc, nil
}

// Open reads the field named by location.
func (r *Resolver) Open(location string) (io.ReadCloser, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	data, err := r.client.ReadKV(ctx, loc.Mount, loc.Path)
	if err != nil {
		return nil, err
	}

	raw, ok := data[loc.Field]
	if !ok {
		return nil, WrapError(ErrFieldNotFound, loc.Mount+"/"+loc.Path+"#"+loc.Field)
	}
	value, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %s is %T, not a string", ErrInvalidPath, loc.Field, raw)
	}

	content := []byte(value)
	if loc.Base64 {
		content, err = base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("field %s is not valid base64: %w", loc.Field, err)
		}
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}
