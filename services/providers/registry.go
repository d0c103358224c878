package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrProviderNotFound is returned when no adapter is registered for a vendor
	ErrProviderNotFound = errors.New("provider not found")

	// ErrFormatNotSupported is returned when no codec is registered for a format
	ErrFormatNotSupported = errors.New("format not supported")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// Registry holds vendor adapters and inbound codecs
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	codecs   map[Format]Codec
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		codecs:   make(map[Format]Codec),
	}
}

// RegisterAdapter registers the adapter under its vendor name
func (r *Registry) RegisterAdapter(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := adapter.Name()
	if name == "" {
		return errors.New("adapter name cannot be empty")
	}

	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}

	r.adapters[name] = adapter
	return nil
}

// RegisterCodec registers an inbound codec, replacing any existing one
func (r *Registry) RegisterCodec(codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[codec.Format()] = codec
}

// Adapter retrieves an adapter by vendor name
func (r *Registry) Adapter(vendor string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[vendor]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, vendor)
	}
	return adapter, nil
}

// Codec retrieves the codec for an inbound format
func (r *Registry) Codec(format Format) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codec, exists := r.codecs[format]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrFormatNotSupported, format)
	}
	return codec, nil
}

// ListProviders returns all registered vendor names in sorted order
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetProviderCount returns the number of registered adapters
func (r *Registry) GetProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// GetProviderStats returns a summary for the status endpoint
func (r *Registry) GetProviderStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make(map[string]string, len(r.adapters))
	for name, a := range r.adapters {
		formats[name] = string(a.Format())
	}
	inbound := make([]string, 0, len(r.codecs))
	for f := range r.codecs {
		inbound = append(inbound, string(f))
	}
	sort.Strings(inbound)

	return map[string]interface{}{
		"provider_count":  len(r.adapters),
		"provider_format": formats,
		"inbound_formats": inbound,
	}
}

// Clear removes all adapters and codecs from the registry
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[string]Adapter)
	r.codecs = make(map[Format]Codec)
}

// AdapterBuilder creates an adapter from its configuration
type AdapterBuilder func(config ProviderConfig) Adapter

// RegistryBuilder helps build a registry with multiple adapters
type RegistryBuilder struct {
	registry *Registry
	builders map[string]AdapterBuilder
	codecs   []Codec
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		registry: NewRegistry(),
		builders: make(map[string]AdapterBuilder),
	}
}

// WithAdapterBuilder registers a builder for a vendor
func (rb *RegistryBuilder) WithAdapterBuilder(vendor string, builder AdapterBuilder) *RegistryBuilder {
	rb.builders[vendor] = builder
	return rb
}

// WithCodec adds an inbound codec
func (rb *RegistryBuilder) WithCodec(codec Codec) *RegistryBuilder {
	rb.codecs = append(rb.codecs, codec)
	return rb
}

// Build creates every adapter that has a builder. Vendors without an entry
// in configs use DefaultProviderConfig.
func (rb *RegistryBuilder) Build(configs map[string]ProviderConfig) (*Registry, error) {
	for vendor, builder := range rb.builders {
		config, ok := configs[vendor]
		if !ok {
			config = DefaultProviderConfig()
		}
		if err := rb.registry.RegisterAdapter(builder(config)); err != nil {
			return nil, fmt.Errorf("failed to register provider %s: %w", vendor, err)
		}
	}
	for _, codec := range rb.codecs {
		rb.registry.RegisterCodec(codec)
	}
	return rb.registry, nil
}
