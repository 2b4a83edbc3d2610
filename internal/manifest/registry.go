package manifest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
)

// Registry discovers manifests under a set of plugin roots and indexes them
// by trigger. Reload swaps the full catalog atomically, so lookups during a
// reload keep seeing the previous catalog.
type Registry struct {
	paths  []string
	logger *slog.Logger

	mu      sync.RWMutex
	catalog map[string]*Manifest
	ordered []*Manifest
}

// NewRegistry builds an empty registry over the given plugin roots.
func NewRegistry(paths []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		paths:   paths,
		logger:  logger.With("component", "manifest_registry"),
		catalog: map[string]*Manifest{},
	}
}

// Load walks every plugin root, validates each command.yaml it finds, and
// swaps in the new catalog. A manifest that fails validation or collides on
// a trigger is skipped with a warning; it never aborts the load.
func (r *Registry) Load() error {
	catalog := map[string]*Manifest{}
	var ordered []*Manifest

	for _, root := range r.paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || d.Name() != Filename {
				return nil
			}
			m, err := Load(path)
			if err != nil {
				r.logger.Warn("skipping invalid manifest", "path", path, "error", err)
				return nil
			}
			if key, ok := collides(catalog, m); ok {
				r.logger.Warn("skipping manifest with trigger collision",
					"path", path, "name", m.Name, "trigger", key,
					"claimed_by", catalog[key].Name)
				return nil
			}
			for _, key := range m.Keys() {
				catalog[key] = m
			}
			ordered = append(ordered, m)
			return nil
		})
		if err != nil {
			r.logger.Warn("plugin root walk failed", "root", root, "error", err)
		}
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	r.mu.Lock()
	r.catalog = catalog
	r.ordered = ordered
	r.mu.Unlock()

	r.logger.Info("manifest catalog loaded", "plugins", len(ordered), "triggers", len(catalog))
	return nil
}

func collides(catalog map[string]*Manifest, m *Manifest) (string, bool) {
	for _, key := range m.Keys() {
		if _, exists := catalog[key]; exists {
			return key, true
		}
	}
	return "", false
}

// Resolve looks up a manifest by trigger or alias, e.g. "/weather".
func (r *Registry) Resolve(trigger string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.catalog[trigger]
	return m, ok
}

// Manifests returns the loaded manifests sorted by name.
func (r *Registry) Manifests() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manifest, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len reports the number of loaded plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Paths returns the configured plugin roots.
func (r *Registry) Paths() []string {
	return r.paths
}

// String summarizes the catalog, useful in logs.
func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d plugins)", r.Len())
}
