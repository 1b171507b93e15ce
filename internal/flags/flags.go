// Package flags provides feature flags read from configuration.
// Flags are read-only after initialization and unknown flags are disabled.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/deepwork/internal/log"
)

// Flag name constants for type-safe flag access.
const (
	// FlagCacheWatcher starts the database watcher in serve mode so edits made
	// by other processes drop cached values.
	FlagCacheWatcher = "cache-watcher"

	// FlagRequestCoalescing shares one store query between concurrent cache
	// misses for the same key.
	FlagRequestCoalescing = "request-coalescing"
)

// Defaults returns the value of every known flag when configuration does
// not mention it.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagCacheWatcher:      true,
		FlagRequestCoalescing: true,
	}
}

// Known returns the names of all flags the program reads, sorted.
func Known() []string {
	return slices.Sorted(maps.Keys(Defaults()))
}

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map. The map is copied.
// If flags is nil, an empty registry is created (all flags disabled).
func New(flags map[string]bool) *Registry {
	r := &Registry{flags: make(map[string]bool, len(flags))}
	maps.Copy(r.flags, flags)
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(r.flags), "flags", r.All())
	return r
}

// NewWithDefaults creates a Registry from Defaults overlaid with flags.
func NewWithDefaults(flags map[string]bool) *Registry {
	merged := Defaults()
	maps.Copy(merged, flags)
	for name := range flags {
		if _, ok := Defaults()[name]; !ok {
			log.Warn(log.CatConfig, "Unknown feature flag in config", "flag", name)
		}
	}
	return New(merged)
}

// Enabled returns true if the named flag is enabled.
// Unknown flags and a nil registry report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags.
// Returns an empty map if the registry is nil.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}
