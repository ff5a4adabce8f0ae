package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vibot/internal/resolve"
)

// ErrSourceNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested source name.
var ErrSourceNotRegistered = errors.New("config: source not registered")

// SourceFactory builds a resolver source from its chain entry. The
// surrounding resolver config carries shared settings such as the ffmpeg path.
type SourceFactory func(entry SourceEntry, rc ResolverConfig) (resolve.Source, error)

// Registry maps source names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]SourceFactory)}
}

// Register registers a source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = factory
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create instantiates the source registered under entry.Name.
// Returns [ErrSourceNotRegistered] if no factory has been registered for that name.
func (r *Registry) Create(entry SourceEntry, rc ResolverConfig) (resolve.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotRegistered, entry.Name)
	}
	return factory(entry, rc)
}

// CreateChain instantiates every source of rc.Chain in order.
func (r *Registry) CreateChain(rc ResolverConfig) ([]resolve.Source, error) {
	sources := make([]resolve.Source, 0, len(rc.Chain))
	var errs []error
	for i, entry := range rc.Chain {
		s, err := r.Create(entry, rc)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolver.chain[%d]: %w", i, err))
			continue
		}
		sources = append(sources, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sources, nil
}

// RegisterBuiltinSources registers the yt-dlp and direct ffmpeg sources.
func RegisterBuiltinSources(r *Registry) {
	r.Register("ytdlp", func(entry SourceEntry, rc ResolverConfig) (resolve.Source, error) {
		return &resolve.YTDLP{Binary: entry.Binary, Format: entry.Format, FFmpeg: rc.FFmpeg}, nil
	})
	r.Register("direct", func(entry SourceEntry, rc ResolverConfig) (resolve.Source, error) {
		ffmpeg := rc.FFmpeg
		if entry.Binary != "" {
			ffmpeg = entry.Binary
		}
		return &resolve.Direct{FFmpeg: ffmpeg}, nil
	})
}
