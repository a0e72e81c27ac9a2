package statistics

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/studiowebux/searchmeter/internal/types"
)

// Factory constructs a fresh sink for a descriptor
type Factory func(d Descriptor, deps Deps) (Sink, error)

// Deps are the collaborators a factory may need
type Deps struct {
	Logger *zap.Logger
	Writer ObservationWriter
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory makes an implementation available to every registry created afterwards.
// Statistic plugins call it from an init function. Registering a name twice panics, like
// database/sql drivers.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("statistics: RegisterFactory factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("statistics: RegisterFactory called twice for " + name)
	}
	factories[name] = f
}

// ErrDuplicateStatistic is returned when a descriptor name is registered twice
var ErrDuplicateStatistic = errors.New("duplicate statistic name")

// InstantiationError reports a descriptor whose implementation could not be constructed
type InstantiationError struct {
	Descriptor     string
	Implementation string
	Suggestion     string
	Err            error
}

func (e *InstantiationError) Error() string {
	msg := fmt.Sprintf("statistic %q: cannot instantiate implementation %q: %v", e.Descriptor, e.Implementation, e.Err)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	return msg
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// ErrUnknownImplementation is wrapped by InstantiationError when no factory matches
var ErrUnknownImplementation = errors.New("unknown implementation")

// Registry owns the statistic descriptors and the implementation table
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]Factory
	descriptors []Descriptor
	index       map[string]int
	validate    *validator.Validate
}

// NewRegistry creates a registry seeded with every globally registered implementation
func NewRegistry() *Registry {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	r := &Registry{
		factories: make(map[string]Factory, len(factories)),
		index:     map[string]int{},
		validate:  validator.New(),
	}
	for name, f := range factories {
		r.factories[name] = f
	}
	return r
}

// RegisterFactory adds or replaces an implementation in this registry only
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Implementations returns the sorted implementation names
func (r *Registry) Implementations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds a descriptor. Descriptor names are unique.
func (r *Registry) Register(d Descriptor) error {
	if err := r.validate.Struct(d); err != nil {
		return fmt.Errorf("statistic %q: invalid descriptor: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.index[d.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateStatistic, d.Name)
	}
	d.Kinds = slices.Clone(d.Kinds)
	r.index[d.Name] = len(r.descriptors)
	r.descriptors = append(r.descriptors, d)
	return nil
}

// Replace drops every descriptor and registers the given set, collecting per-item errors
func (r *Registry) Replace(descriptors []Descriptor) []error {
	r.mu.Lock()
	r.descriptors = nil
	r.index = map[string]int{}
	r.mu.Unlock()

	var errs []error
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Descriptors returns every descriptor in registration order
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.descriptors)
}

// ActiveStatistics returns the active descriptors in registration order
func (r *Registry) ActiveStatistics() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var active []Descriptor
	for _, d := range r.descriptors {
		if d.Active {
			active = append(active, d)
		}
	}
	return active
}

// ActiveFor returns the active descriptors that observe the given kind
func (r *Registry) ActiveFor(kind types.Kind) []Descriptor {
	var out []Descriptor
	for _, d := range r.ActiveStatistics() {
		if d.AppliesTo(kind) {
			out = append(out, d)
		}
	}
	return out
}

// Descriptor looks a descriptor up by name
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// Instantiate constructs a fresh sink for the descriptor
func (r *Registry) Instantiate(d Descriptor, deps Deps) (Sink, error) {
	r.mu.RLock()
	f, ok := r.factories[d.Implementation]
	r.mu.RUnlock()

	if !ok {
		return nil, &InstantiationError{
			Descriptor:     d.Name,
			Implementation: d.Implementation,
			Suggestion:     r.suggest(d.Implementation),
			Err:            ErrUnknownImplementation,
		}
	}

	sink, err := f(d, deps.withDefaults())
	if err != nil {
		return nil, &InstantiationError{Descriptor: d.Name, Implementation: d.Implementation, Err: err}
	}
	return sink, nil
}

// InstantiateActive builds a sink set for every active descriptor. Descriptors that fail are
// reported and skipped; the rest of the set still loads.
func (r *Registry) InstantiateActive(deps Deps) (*Set, []error) {
	deps = deps.withDefaults()
	set := &Set{byName: map[string]int{}}

	var errs []error
	for _, d := range r.ActiveStatistics() {
		sink, err := r.Instantiate(d, deps)
		if err != nil {
			deps.Logger.Error("Failed to instantiate statistic",
				zap.String("statistic", d.Name),
				zap.String("implementation", d.Implementation),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		set.byName[d.Name] = len(set.instances)
		set.instances = append(set.instances, Instance{Descriptor: d, Sink: sink})
	}
	return set, errs
}

func (r *Registry) suggest(name string) string {
	matches := fuzzy.Find(name, r.Implementations())
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Str
}

// Instance pairs a descriptor with its live sink
type Instance struct {
	Descriptor Descriptor
	Sink       Sink
}

// Set holds the sink instances of one run. It is immutable after construction.
type Set struct {
	instances []Instance
	byName    map[string]int
}

// Instances returns the instances in descriptor order
func (s *Set) Instances() []Instance {
	if s == nil {
		return nil
	}
	return slices.Clone(s.instances)
}

// Len returns the number of instances
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.instances)
}

// ByName returns the instance for a descriptor name
func (s *Set) ByName(name string) (Instance, bool) {
	if s == nil {
		return Instance{}, false
	}
	i, ok := s.byName[name]
	if !ok {
		return Instance{}, false
	}
	return s.instances[i], true
}

// ForKind returns the sinks attached to the given kind
func (s *Set) ForKind(kind types.Kind) []Sink {
	if s == nil {
		return nil
	}
	var sinks []Sink
	for _, inst := range s.instances {
		if inst.Descriptor.AppliesTo(kind) {
			sinks = append(sinks, inst.Sink)
		}
	}
	return sinks
}

// Snapshots returns a read-only view of every renderable sink
func (s *Set) Snapshots() []Snapshot {
	if s == nil {
		return nil
	}
	var out []Snapshot
	for _, inst := range s.instances {
		snap, ok := inst.Sink.(Snapshotter)
		if !ok {
			continue
		}
		out = append(out, Snapshot{
			Name:           inst.Descriptor.Name,
			Implementation: inst.Descriptor.Implementation,
			Kinds:          slices.Clone(inst.Descriptor.Kinds),
			HasView:        inst.Descriptor.HasView,
			Entries:        snap.Snapshot(),
		})
	}
	return out
}

// Gatherers returns the prometheus gatherers exposed by sinks of this set
func (s *Set) Gatherers() prometheus.Gatherers {
	if s == nil {
		return nil
	}
	var out prometheus.Gatherers
	for _, inst := range s.instances {
		if g, ok := inst.Sink.(prometheus.Gatherer); ok {
			out = append(out, g)
		}
	}
	return out
}

// Flush flushes every buffering sink
func (s *Set) Flush() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, inst := range s.instances {
		if f, ok := inst.Sink.(Flusher); ok {
			if err := f.Flush(); err != nil {
				errs = append(errs, fmt.Errorf("statistic %s: %w", inst.Descriptor.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close flushes and releases every sink. The set must not receive observations afterwards.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	errs := []error{s.Flush()}
	for _, inst := range s.instances {
		if c, ok := inst.Sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("statistic %s: %w", inst.Descriptor.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}
