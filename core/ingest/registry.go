package ingest

import (
	"context"
	"fmt"
	"strings"

	"edu-cti/core/consolidate"
)

// SourceAdapter produces incident drafts for one upstream source. The
// scraping/parsing mechanics live entirely behind this interface.
type SourceAdapter interface {
	Name() string
	// FetchSince returns drafts published on or after the since date
	// (ISO YYYY-MM-DD). An empty since means full historical depth.
	FetchSince(ctx context.Context, since string, limit int) ([]consolidate.Draft, error)
}

// Registry is the explicit adapter mapping built at startup. There is
// no ambient global registration.
type Registry struct {
	adapters map[string]SourceAdapter
	order    []string
}

func NewRegistry(adapters ...SourceAdapter) (*Registry, error) {
	r := &Registry{adapters: map[string]SourceAdapter{}}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(a SourceAdapter) error {
	name := strings.TrimSpace(a.Name())
	if name == "" {
		return fmt.Errorf("adapter with empty name")
	}
	if _, ok := r.adapters[name]; ok {
		return fmt.Errorf("adapter %q already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (SourceAdapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Adapters returns adapters in registration order.
func (r *Registry) Adapters() []SourceAdapter {
	out := make([]SourceAdapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}
