package stresstest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/types"
)

// ScopeOption configures a Scope
type ScopeOption func(*Scope)

// WithScopeLogger sets the scope logger; executors and sinks inherit it
func WithScopeLogger(logger *zap.Logger) ScopeOption {
	return func(s *Scope) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithManager persists runs, their observations (through the history statistic) and their
// final snapshots
func WithManager(m *Manager) ScopeOption {
	return func(s *Scope) { s.manager = m }
}

// WithScopeClock overrides the clock used for runs and observations
func WithScopeClock(now func() time.Time) ScopeOption {
	return func(s *Scope) {
		if now != nil {
			s.now = now
		}
	}
}

// Scope owns the executors and statistic sinks of the current test. Restart throws all of them
// away and builds fresh ones from the provider's plan; nothing survives from one build to the next.
type Scope struct {
	provider PlanProvider
	registry *statistics.Registry
	manager  *Manager
	logger   *zap.Logger
	now      func() time.Time

	// lifecycle serializes Restart, Start, Stop and Close
	lifecycle  sync.Mutex
	current    atomic.Pointer[build]
	generation atomic.Int64
}

// build is everything constructed by one Restart
type build struct {
	plan      *Plan
	executors []*Executor
	configs   map[types.Kind]ExecutorConfig
	stats     *statistics.Set
	err       *BuildError
	run       atomic.Pointer[Run]
}

func (b *build) activeRunID() int64 {
	if r := b.run.Load(); r != nil && r.IsRunning() {
		return r.ID
	}
	return 0
}

// NewScope creates an empty scope. Call Restart to build the first test.
func NewScope(provider PlanProvider, registry *statistics.Registry, opts ...ScopeOption) *Scope {
	s := &Scope{
		provider: provider,
		registry: registry,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = statistics.NewRegistry()
	}
	return s
}

// Restart stops the current test, discards its executors and sinks, and builds new ones from a
// fresh plan. Construction is best-effort: components that fail are reported in a *BuildError
// while the others are built. Restarting twice in a row is equivalent to restarting once.
func (s *Scope) Restart(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if old := s.current.Swap(nil); old != nil {
		s.teardown(ctx, old)
	}

	plan, err := s.provider.Plan()
	var b *build
	if err != nil {
		be := &BuildError{}
		be.add("configuration", err, true)
		b = &build{err: be}
	} else {
		b = s.build(plan)
	}

	s.current.Store(b)
	gen := s.generation.Add(1)

	if b.err != nil {
		s.logger.Error("Scope rebuilt with errors",
			zap.Int64("generation", gen),
			zap.Int("executors", len(b.executors)),
			zap.Int("statistics", b.stats.Len()),
			zap.Bool("fatal", b.err.Fatal()),
			zap.Error(b.err))
		return b.err
	}

	s.logger.Info("Scope rebuilt",
		zap.Int64("generation", gen),
		zap.Int("executors", len(b.executors)),
		zap.Int("statistics", b.stats.Len()))
	return nil
}

func (s *Scope) build(plan *Plan) *build {
	b := &build{plan: plan, configs: make(map[types.Kind]ExecutorConfig)}
	be := &BuildError{}

	if plan.Statistics != nil {
		for _, err := range s.registry.Replace(plan.Statistics) {
			be.add("statistics", err, false)
		}
	}

	deps := statistics.Deps{Logger: s.logger, Now: s.now}
	if s.manager != nil {
		deps.Writer = &runWriter{manager: s.manager, runID: b.activeRunID}
	}
	set, errs := s.registry.InstantiateActive(deps)
	for _, err := range errs {
		component := "statistics"
		var instErr *statistics.InstantiationError
		if errors.As(err, &instErr) {
			component = "statistic " + instErr.Descriptor
		}
		be.add(component, err, false)
	}
	b.stats = set

	for _, ep := range plan.Executors {
		component := ep.Kind.String() + " executor"
		if _, dup := b.configs[ep.Kind]; dup {
			be.add(component, errors.New("declared more than once"), true)
			continue
		}
		b.configs[ep.Kind] = ep.Config
		if !ep.Config.Enabled {
			continue
		}

		if err := ep.Config.Validate(); err != nil {
			be.add(component, err, true)
			continue
		}
		if ep.Issuer == nil {
			be.add(component, errors.New("no issuer configured"), true)
			continue
		}
		if ep.Source == nil {
			be.add(component, errors.New("no source configured"), true)
			continue
		}
		src, err := ep.Source()
		if err != nil {
			be.add(component, fmt.Errorf("failed to build source: %w", err), true)
			continue
		}

		exec := NewExecutor(ep.Kind, src, ep.Issuer,
			WithLogger(s.logger),
			WithDrainTimeout(plan.DrainTimeout),
			WithClassifyPolicy(plan.Policy),
			WithClock(s.now))
		for _, sink := range set.ForKind(ep.Kind) {
			// a fresh executor is never running
			_ = exec.AddStatistic(sink)
		}
		b.executors = append(b.executors, exec)
	}

	b.err = be.orNil()
	return b
}

// Start starts every enabled executor together and opens a new run
func (s *Scope) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	b := s.current.Load()
	if b == nil {
		return fmt.Errorf("%w: scope has not been built, call Restart first", ErrInvalidState)
	}
	if b.err.Fatal() {
		return fmt.Errorf("%w: cannot start: %w", ErrInvalidState, b.err)
	}
	if len(b.executors) == 0 {
		return fmt.Errorf("%w: no executor is enabled", ErrInvalidState)
	}
	for _, exec := range b.executors {
		if exec.IsRunning() {
			return ErrAlreadyRunning
		}
	}
	// the previous run ended on its own and its watcher has not closed it yet
	s.finalizeRun(b, RunStatusCompleted)

	run := &Run{
		GUID:       ksuid.New().String(),
		Name:       b.plan.Name,
		Generation: s.generation.Load(),
		StartedAt:  s.now(),
		Status:     RunStatusRunning,
	}
	if s.manager != nil {
		if err := s.manager.CreateRun(run); err != nil {
			return fmt.Errorf("failed to create run record: %w", err)
		}
	}
	b.run.Store(run)

	var g errgroup.Group
	for _, exec := range b.executors {
		g.Go(func() error {
			return exec.Start(b.configs[exec.Kind()])
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to start executors, stopping the ones that started", zap.Error(err))
		_ = s.stopExecutors(ctx, b)
		s.finalizeRun(b, RunStatusCancelled)
		return err
	}

	dones := make([]<-chan struct{}, len(b.executors))
	for i, exec := range b.executors {
		dones[i] = exec.Done()
	}
	go s.finalizeWhenDone(b, run, dones)

	s.logger.Info("Stress test started",
		zap.String("run", run.GUID),
		zap.Int("executors", len(b.executors)))
	return nil
}

// finalizeWhenDone completes run once every executor has finished on its own. A run that was
// stopped, restarted or replaced in the meantime is left alone.
func (s *Scope) finalizeWhenDone(b *build, run *Run, dones []<-chan struct{}) {
	for _, done := range dones {
		<-done
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if b.run.Load() == run {
		s.finalizeRun(b, RunStatusCompleted)
	}
}

// Stop stops every executor and closes the run. Statistics stay readable until the next Restart.
func (s *Scope) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	b := s.current.Load()
	if b == nil {
		return nil
	}
	return s.stop(ctx, b)
}

func (s *Scope) stop(ctx context.Context, b *build) error {
	status := RunStatusCompleted
	for _, exec := range b.executors {
		if exec.IsRunning() {
			status = RunStatusCancelled
		}
	}

	err := s.stopExecutors(ctx, b)
	s.finalizeRun(b, status)
	return err
}

func (s *Scope) stopExecutors(ctx context.Context, b *build) error {
	var g errgroup.Group
	for _, exec := range b.executors {
		g.Go(func() error {
			return exec.Stop(ctx)
		})
	}
	return g.Wait()
}

// finalizeRun flushes buffering sinks and records the run totals
func (s *Scope) finalizeRun(b *build, status string) {
	current := b.run.Load()
	if current == nil || !current.IsRunning() {
		return
	}

	if err := b.stats.Flush(); err != nil {
		s.logger.Warn("Failed to flush statistics", zap.Error(err))
	}

	run := *current
	now := s.now()
	run.CompletedAt = &now
	run.Status = status
	for _, exec := range b.executors {
		st := exec.Status()
		run.TotalIssued += st.Issued
		run.TotalSucceeded += st.Succeeded
		run.TotalFailed += st.Failed
	}

	if s.manager != nil {
		if err := s.manager.SaveSnapshots(run.ID, b.stats.Snapshots()); err != nil {
			s.logger.Warn("Failed to save statistic snapshots", zap.String("run", run.GUID), zap.Error(err))
		}
		if err := s.manager.UpdateRun(&run); err != nil {
			s.logger.Warn("Failed to update run record", zap.String("run", run.GUID), zap.Error(err))
		}
	}
	b.run.Store(&run)

	s.logger.Info("Stress test finished",
		zap.String("run", run.GUID),
		zap.String("status", status),
		zap.Int64("issued", run.TotalIssued),
		zap.Int64("failed", run.TotalFailed))
}

// teardown stops b and releases its sinks
func (s *Scope) teardown(ctx context.Context, b *build) {
	if err := s.stop(ctx, b); err != nil {
		s.logger.Warn("Executors did not stop cleanly", zap.Error(err))
	}
	if err := b.stats.Close(); err != nil {
		s.logger.Warn("Failed to close statistics", zap.Error(err))
	}
}

// Wait blocks until every executor of the current build has finished, or ctx is done
func (s *Scope) Wait(ctx context.Context) error {
	b := s.current.Load()
	if b == nil {
		return nil
	}
	for _, exec := range b.executors {
		select {
		case <-exec.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops the test and releases everything. The scope can be rebuilt with Restart.
func (s *Scope) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if b := s.current.Swap(nil); b != nil {
		s.teardown(ctx, b)
	}
	return nil
}

// Statistics returns the sinks of the current build, nil before the first Restart
func (s *Scope) Statistics() *statistics.Set {
	if b := s.current.Load(); b != nil {
		return b.stats
	}
	return nil
}

// Executor returns the executor for kind when it was built
func (s *Scope) Executor(kind types.Kind) (*Executor, bool) {
	b := s.current.Load()
	if b == nil {
		return nil, false
	}
	for _, exec := range b.executors {
		if exec.Kind() == kind {
			return exec, true
		}
	}
	return nil, false
}

// Status returns the status of every built executor
func (s *Scope) Status() []Status {
	b := s.current.Load()
	if b == nil {
		return nil
	}
	out := make([]Status, 0, len(b.executors))
	for _, exec := range b.executors {
		out = append(out, exec.Status())
	}
	return out
}

// IsRunning reports whether any executor is running
func (s *Scope) IsRunning() bool {
	for _, st := range s.Status() {
		if st.Running {
			return true
		}
	}
	return false
}

// Run returns a copy of the current or last run, nil when none was started since the last Restart
func (s *Scope) Run() *Run {
	b := s.current.Load()
	if b == nil {
		return nil
	}
	r := b.run.Load()
	if r == nil {
		return nil
	}
	run := *r
	return &run
}

// Generation counts the Restart calls so far
func (s *Scope) Generation() int64 {
	return s.generation.Load()
}

// BuildError returns the errors of the last Restart, nil when it was clean
func (s *Scope) BuildError() *BuildError {
	if b := s.current.Load(); b != nil {
		return b.err
	}
	return nil
}
