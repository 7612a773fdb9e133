package pipeline

import "fmt"

// SourceFactory produces a fresh SourceAdapter instance per migration;
// adapters are never shared across concurrent operations (spec §3,
// AdapterRegistry invariant).
type SourceFactory func() SourceAdapter

// DestFactory produces a fresh DestinationAdapter instance per migration.
type DestFactory func() DestinationAdapter

// Registry is the process-wide, read-only-after-startup map of adapter
// keys to constructors, grounded on the Python
// UniversalPipelineEngine.source_registry/dest_registry.
type Registry struct {
	sources map[string]SourceFactory
	dests   map[string]DestFactory
}

func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		dests:   make(map[string]DestFactory),
	}
}

func (r *Registry) RegisterSource(key string, factory SourceFactory) {
	r.sources[key] = factory
}

func (r *Registry) RegisterDestination(key string, factory DestFactory) {
	r.dests[key] = factory
}

func (r *Registry) Sources() []string {
	keys := make([]string, 0, len(r.sources))
	for k := range r.sources {
		keys = append(keys, k)
	}
	return keys
}

func (r *Registry) Destinations() []string {
	keys := make([]string, 0, len(r.dests))
	for k := range r.dests {
		keys = append(keys, k)
	}
	return keys
}

func (r *Registry) NewSource(key string) (SourceAdapter, error) {
	factory, ok := r.sources[key]
	if !ok {
		return nil, fmt.Errorf("unsupported source type %q, available: %v", key, r.Sources())
	}
	return factory(), nil
}

func (r *Registry) NewDestination(key string) (DestinationAdapter, error) {
	factory, ok := r.dests[key]
	if !ok {
		return nil, fmt.Errorf("unsupported destination type %q, available: %v", key, r.Destinations())
	}
	return factory(), nil
}

func (r *Registry) HasSource(key string) bool      { _, ok := r.sources[key]; return ok }
func (r *Registry) HasDestination(key string) bool { _, ok := r.dests[key]; return ok }
