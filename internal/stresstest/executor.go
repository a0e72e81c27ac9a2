package stresstest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/searchmeter/internal/pacing"
	"github.com/studiowebux/searchmeter/internal/source"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/types"
)

var errAborted = errors.New("operation aborted after drain timeout")

// Status is a point-in-time view of an executor.
//
// Failed counts every failed observation, including source failures that never reached the
// service. Those are also counted in SourceErrors, so once the run is over
// Failed == Issued - Succeeded + SourceErrors.
type Status struct {
	Kind          types.Kind `json:"kind"`
	Running       bool       `json:"running"`
	Workers       int        `json:"workers"`
	ActiveWorkers int        `json:"active_workers"`
	Issued        int64      `json:"issued"`
	Succeeded     int64      `json:"succeeded"`
	Failed        int64      `json:"failed"`
	SourceErrors  int64      `json:"source_errors"`
	StartedAt     time.Time  `json:"started_at,omitzero"`
}

// Option configures an Executor
type Option func(*Executor)

// WithLogger sets the executor logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDrainTimeout bounds how long Stop waits for in-flight calls before aborting them
func WithDrainTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.drainTimeout = d
		}
	}
}

// WithClassifyPolicy sets how failed calls are categorized
func WithClassifyPolicy(p ClassifyPolicy) Option {
	return func(e *Executor) { e.policy = p }
}

// WithClock overrides the observation timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor drives one kind of operation against the search service with a pool of workers
type Executor struct {
	kind         types.Kind
	source       source.Source
	issuer       Issuer
	logger       *zap.Logger
	drainTimeout time.Duration
	policy       ClassifyPolicy
	now          func() time.Time

	mu         sync.Mutex
	running    bool
	sinks      []statistics.Sink
	workers    int
	startedAt  time.Time
	stopWork   context.CancelFunc
	abortCalls context.CancelFunc
	done       chan struct{}

	issued       atomic.Int64
	succeeded    atomic.Int64
	failed       atomic.Int64
	sourceErrors atomic.Int64
	active       atomic.Int32
}

// NewExecutor creates a stopped executor for kind
func NewExecutor(kind types.Kind, src source.Source, issuer Issuer, opts ...Option) *Executor {
	done := make(chan struct{})
	close(done)

	e := &Executor{
		kind:         kind,
		source:       src,
		issuer:       issuer,
		logger:       zap.NewNop(),
		drainTimeout: DefaultDrainTimeout,
		policy:       DefaultClassifyPolicy(),
		now:          time.Now,
		done:         done,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.Stringer("kind", kind))
	return e
}

// Kind returns the operation kind this executor drives
func (e *Executor) Kind() types.Kind {
	return e.kind
}

// AddStatistic registers a sink for the next run
func (e *Executor) AddStatistic(sink statistics.Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("%w: cannot add a statistic to a running %s executor", ErrInvalidState, e.kind)
	}
	e.sinks = append(e.sinks, sink)
	return nil
}

// Start spawns cfg.Workers workers. A disabled config leaves the executor stopped.
func (e *Executor) Start(cfg ExecutorConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}
	if !cfg.Enabled {
		e.logger.Debug("Executor disabled, not starting")
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	pacer, err := pacing.New(cfg.Pacing)
	if err != nil {
		return fmt.Errorf("invalid executor config: %w", err)
	}

	// Pacing waits stop on stopWork; in-flight calls only on abortCalls
	workCtx, stopWork := context.WithCancel(context.Background())
	callCtx, abortCalls := context.WithCancel(context.Background())

	// The sink list is frozen for the whole run
	sinks := slices.Clone(e.sinks)
	done := make(chan struct{})

	e.running = true
	e.workers = cfg.Workers
	e.startedAt = e.now()
	e.stopWork = stopWork
	e.abortCalls = abortCalls
	e.done = done
	e.issued.Store(0)
	e.succeeded.Store(0)
	e.failed.Store(0)
	e.sourceErrors.Store(0)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(workCtx, callCtx, id, pacer, sinks)
		}(i)
	}

	go func() {
		wg.Wait()
		stopWork()
		abortCalls()

		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(done)

		e.logger.Info("Executor finished",
			zap.Int64("issued", e.issued.Load()),
			zap.Int64("succeeded", e.succeeded.Load()),
			zap.Int64("failed", e.failed.Load()))
	}()

	e.logger.Info("Executor started",
		zap.Int("workers", cfg.Workers),
		zap.String("pacing", pacer.Mode()))
	return nil
}

// Stop halts the executor. Workers waiting on pacing exit at once; workers inside a call get
// the drain timeout to finish, then their call is cancelled and an Aborted observation is
// published in its place. Stop returns once every worker has exited.
//
// Stopping a stopped executor is a no-op. A ctx that expires before the drain timeout aborts
// in-flight calls early and its error is returned.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		done := e.done
		e.mu.Unlock()
		<-done
		return nil
	}
	stopWork, abortCalls, done := e.stopWork, e.abortCalls, e.done
	e.mu.Unlock()

	stopWork()

	timer := time.NewTimer(e.drainTimeout)
	defer timer.Stop()

	var ctxErr error
	select {
	case <-done:
		return nil
	case <-timer.C:
		e.logger.Warn("Drain timeout exceeded, aborting in-flight operations",
			zap.Duration("drain_timeout", e.drainTimeout),
			zap.Int32("in_flight", e.active.Load()))
	case <-ctx.Done():
		ctxErr = ctx.Err()
		e.logger.Warn("Stop cancelled, aborting in-flight operations",
			zap.Int32("in_flight", e.active.Load()),
			zap.Error(ctxErr))
	}

	abortCalls()
	<-done
	return ctxErr
}

// Done is closed when every worker of the current run has exited, either because the
// executor was stopped or because a non-repeatable source ran out.
func (e *Executor) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// IsRunning reports whether workers are active
func (e *Executor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status returns the current counters (thread-safe)
func (e *Executor) Status() Status {
	e.mu.Lock()
	running, workers, startedAt := e.running, e.workers, e.startedAt
	e.mu.Unlock()

	return Status{
		Kind:          e.kind,
		Running:       running,
		Workers:       workers,
		ActiveWorkers: int(e.active.Load()),
		Issued:        e.issued.Load(),
		Succeeded:     e.succeeded.Load(),
		Failed:        e.failed.Load(),
		SourceErrors:  e.sourceErrors.Load(),
		StartedAt:     startedAt,
	}
}

// worker paces, pulls and issues operations until stopped or the source runs out
func (e *Executor) worker(workCtx, callCtx context.Context, id int, pacer pacing.Controller, sinks []statistics.Sink) {
	for {
		if err := pacer.Wait(workCtx); err != nil {
			return
		}

		payload, err := e.source.Next()
		if err != nil {
			if errors.Is(err, source.ErrExhausted) && !e.source.Repeatable() {
				return
			}
			// The operation never reached the service
			e.failed.Add(1)
			e.sourceErrors.Add(1)
			e.publish(sinks, types.Observation{
				Kind:      e.kind,
				Issued:    false,
				Category:  types.CategoryOther,
				Meta:      types.UnknownResponse,
				Timestamp: e.now(),
				Worker:    id,
				Err:       err.Error(),
			})
			continue
		}

		// No operation starts once stop was requested
		if workCtx.Err() != nil {
			return
		}

		obs := e.execute(callCtx, types.Operation{
			Kind:     e.kind,
			Payload:  payload,
			IssuedAt: e.now(),
			Worker:   id,
		})
		e.publish(sinks, obs)
	}
}

type callResult struct {
	meta types.ResponseMeta
	err  error
}

// execute issues op and turns the outcome into an observation. A call still running when
// callCtx is cancelled is abandoned; its late result is discarded.
func (e *Executor) execute(callCtx context.Context, op types.Operation) types.Observation {
	e.issued.Add(1)
	e.active.Add(1)
	defer e.active.Add(-1)

	start := time.Now()
	results := make(chan callResult, 1)
	go func() {
		meta, err := e.issuer.Issue(callCtx, op)
		results <- callResult{meta: meta, err: err}
	}()

	var res callResult
	select {
	case res = <-results:
	case <-callCtx.Done():
		res = callResult{meta: types.UnknownResponse, err: errAborted}
	}

	obs := types.Observation{
		Kind:        e.kind,
		Issued:      true,
		Latency:     time.Since(start),
		Meta:        res.meta,
		RequestSize: op.Payload.Size(),
		Timestamp:   e.now(),
		Worker:      op.Worker,
	}

	if res.err == nil {
		obs.Success = true
		e.succeeded.Add(1)
		return obs
	}

	e.failed.Add(1)
	obs.Err = res.err.Error()
	if obs.Meta == (types.ResponseMeta{}) {
		obs.Meta = types.UnknownResponse
	}
	if callCtx.Err() != nil {
		obs.Category = types.CategoryAborted
	} else {
		obs.Category = e.policy.Classify(res.err)
	}
	return obs
}

// publish hands obs to every sink. A panicking sink is logged and does not take the worker down.
func (e *Executor) publish(sinks []statistics.Sink, obs types.Observation) {
	for _, sink := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Statistic panicked while publishing",
						zap.String("sink", fmt.Sprintf("%T", sink)),
						zap.Any("panic", r))
				}
			}()
			sink.Publish(obs)
		}()
	}
}
