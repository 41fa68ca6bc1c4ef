package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry holds the supervisor's sources keyed by name, in registration
// order. Register, StartAll, WaitForSync and StopAll may be called from
// different goroutines.
type Registry struct {
	mu      sync.Mutex
	order   []string
	byName  map[string]Collector
	started bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Collector)}
}

// Register adds a source. Names are unique: a second source with the same
// name is rejected.
func (r *Registry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("source %q already registered", name)
	}
	r.byName[name] = c
	r.order = append(r.order, name)
	return nil
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (Collector, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byName[name]
	return c, ok
}

// Names returns the registered source names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Collectors returns the registered sources in registration order.
func (r *Registry) Collectors() []Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []Collector {
	out := make([]Collector, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// PartialStartError is returned when some, but not all, sources failed to
// start. Failed is sorted; Errs holds the cause per source name.
type PartialStartError struct {
	Failed []string
	Errs   map[string]error
	Total  int
}

func (e *PartialStartError) Error() string {
	return fmt.Sprintf("%d of %d sources failed to start: %s", len(e.Failed), e.Total, strings.Join(e.Failed, ", "))
}

// StartAll starts every source concurrently. One failing source does not
// stop the others. It returns a *PartialStartError when some failed and a
// plain error when all of them did.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	sources := r.snapshotLocked()
	r.started = true
	r.mu.Unlock()

	if len(sources) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	var g errgroup.Group
	for _, c := range sources {
		g.Go(func() error {
			if err := c.Start(ctx); err != nil {
				slog.Error("source failed to start", "source", c.Name(), "error", err)
				mu.Lock()
				errs[c.Name()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == 0 {
		return nil
	}
	failed := make([]string, 0, len(errs))
	for name := range errs {
		failed = append(failed, name)
	}
	sort.Strings(failed)

	if len(failed) == len(sources) {
		return fmt.Errorf("all %d sources failed to start: %s", len(failed), strings.Join(failed, ", "))
	}
	return &PartialStartError{Failed: failed, Errs: errs, Total: len(sources)}
}

// WaitForSync waits until every source delivered its first data, or returns
// the first sync error. ctx bounds the wait.
func (r *Registry) WaitForSync(ctx context.Context) error {
	sources := r.Collectors()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range sources {
		g.Go(func() error {
			if err := c.WaitForSync(gctx); err != nil {
				return fmt.Errorf("source %s sync: %w", c.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every source in reverse registration order. It is a no-op
// before StartAll and after a previous StopAll.
func (r *Registry) StopAll() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	sources := r.snapshotLocked()
	r.started = false
	r.mu.Unlock()

	for i := len(sources) - 1; i >= 0; i-- {
		sources[i].Stop()
	}
}
