// Package provider defines the config source abstraction.
//
// Providers load raw configuration bytes and support watching for changes.
package provider

import (
	"context"
	"fmt"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile Type = "file"
)

// Provider abstracts config sources.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type returns the provider type for logging/debugging.
	Type() Type

	// Load reads raw config bytes from the source.
	Load(ctx context.Context) ([]byte, error)

	// Watch starts watching for changes and signals via the returned channel.
	// The channel receives a value when config changes.
	// Cancel the context to stop watching.
	// Returns nil channel if watching is not supported.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases any resources held by the provider.
	Close() error
}

// New creates a Provider for the given type and path.
func New(typ Type, path string) (Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	switch typ {
	case TypeFile, "":
		return NewFileProvider(path)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", typ)
	}
}
