package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"recon/internal/config"
)

// Registry serves lookups from the current Index snapshot.
type Registry struct {
	src     Source
	current atomic.Pointer[Index]
}

// New returns a Registry backed by src. Call Reload before the first lookup.
func New(src Source) *Registry {
	return &Registry{src: src}
}

// Reload reads every model from the source, lints it, and atomically swaps
// in a new Index. Models with lint errors are left out; the previous
// snapshot stays in place when the source itself fails.
func (r *Registry) Reload(ctx context.Context) (*Index, error) {
	if r.src == nil {
		return nil, errors.New("registry: no source")
	}
	models, err := r.src.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: load: %w", err)
	}

	valid := models[:0:0]
	for _, m := range models {
		issues := config.ValidateModel(m)
		for _, is := range issues {
			slog.Warn("model lint", "model", m.ID, "severity", is.Severity, "path", is.Path, "msg", is.Message)
		}
		if config.HasErrors(issues) {
			continue
		}
		valid = append(valid, m)
	}

	ix, errs := NewIndex(valid)
	for _, e := range errs {
		slog.Warn("model skipped", "err", e)
	}
	r.current.Store(ix)
	slog.Debug("registry reloaded", "models", ix.Len(), "skipped", len(models)-ix.Len())
	return ix, nil
}

// Snapshot returns the current Index; nil before the first Reload.
func (r *Registry) Snapshot() *Index { return r.current.Load() }

// Lookup is Snapshot().Lookup.
func (r *Registry) Lookup(filename string) (config.ProcessingModel, bool) {
	return r.Snapshot().Lookup(filename)
}

// LookupKind is Snapshot().LookupKind.
func (r *Registry) LookupKind(filename string, kind config.SourceKind) (config.ProcessingModel, bool) {
	return r.Snapshot().LookupKind(filename, kind)
}

// Get is Snapshot().Get.
func (r *Registry) Get(id string) (config.ProcessingModel, bool) {
	return r.Snapshot().Get(id)
}

// Close releases the underlying source.
func (r *Registry) Close() error {
	if r.src == nil {
		return nil
	}
	return r.src.Close()
}
