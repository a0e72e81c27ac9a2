package stresstest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/searchmeter/internal/pacing"
	"github.com/studiowebux/searchmeter/internal/source"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/types"
)

func TestExecutor_EverySinkSeesEveryObservation(t *testing.T) {
	const n = 60
	issuer := &countingIssuer{fail: func(op types.Operation) error {
		i, _ := strconv.Atoi(op.Payload.Query.Get("q"))
		switch i % 3 {
		case 1:
			return statusErr(503)
		case 2:
			return context.DeadlineExceeded
		}
		return nil
	}}

	exec := NewExecutor(types.KindQuery, source.NewList(queries(n), source.Sequential, false), issuer)
	first, second := &recordingSink{}, &recordingSink{}
	counter := statistics.NewOperationCounter()
	for _, s := range []statistics.Sink{first, second, counter} {
		require.NoError(t, exec.AddStatistic(s))
	}

	require.NoError(t, exec.Start(unlimited(3)))
	waitDone(t, exec.Done(), 5*time.Second)

	assert.Equal(t, n, first.len())
	assert.Equal(t, n, second.len())
	assert.Equal(t, int64(n), counter.Succeeded(types.KindQuery)+counter.Failed(types.KindQuery))
	assert.Equal(t, int64(n/3), counter.Succeeded(types.KindQuery))

	st := exec.Status()
	assert.Equal(t, int64(n), st.Issued)
	assert.Equal(t, st.Issued, st.Succeeded+st.Failed)
}

func TestExecutor_FiniteSourceStopsNaturally(t *testing.T) {
	issuer := &countingIssuer{}
	exec := NewExecutor(types.KindQuery, source.NewList(queries(10), source.Sequential, false), issuer)
	sink := &recordingSink{}
	require.NoError(t, exec.AddStatistic(sink))

	require.NoError(t, exec.Start(unlimited(4)))
	waitDone(t, exec.Done(), 5*time.Second)

	obs := sink.all()
	require.Len(t, obs, 10)
	for _, o := range obs {
		assert.True(t, o.Success)
		assert.True(t, o.Issued)
		assert.Equal(t, types.KindQuery, o.Kind)
	}

	st := exec.Status()
	assert.False(t, st.Running)
	assert.Equal(t, int64(10), st.Succeeded)
	assert.Equal(t, int64(10), issuer.calls.Load())
}

func TestExecutor_ServerErrorsAreHistogrammed(t *testing.T) {
	docs := make([]types.Payload, 5)
	for i := range docs {
		docs[i] = types.Payload{Documents: []map[string]any{{"id": i}}}
	}
	issuer := IssuerFunc(func(context.Context, types.Operation) (types.ResponseMeta, error) {
		return types.ResponseMeta{StatusCode: 500, QTime: -1, Hits: -1}, statusErr(500)
	})

	exec := NewExecutor(types.KindUpdate, source.NewList(docs, source.Sequential, false), issuer)
	hist := statistics.NewErrorHistogram()
	require.NoError(t, exec.AddStatistic(hist))

	require.NoError(t, exec.Start(unlimited(2)))
	waitDone(t, exec.Done(), 5*time.Second)

	assert.Equal(t, int64(5), hist.Count("ServerError{500}"))
	assert.Equal(t, int64(0), hist.Count(statistics.SuccessLabel))
}

func TestExecutor_ClassifyPolicyIsConfigurable(t *testing.T) {
	issuer := IssuerFunc(func(context.Context, types.Operation) (types.ResponseMeta, error) {
		return types.ResponseMeta{StatusCode: 429}, statusErr(429)
	})

	exec := NewExecutor(types.KindQuery, source.NewList(queries(3), source.Sequential, false), issuer,
		WithClassifyPolicy(ClassifyPolicy{ServerErrorMinStatus: 400}))
	sink := &recordingSink{}
	require.NoError(t, exec.AddStatistic(sink))

	require.NoError(t, exec.Start(unlimited(1)))
	waitDone(t, exec.Done(), 5*time.Second)

	for _, o := range sink.all() {
		assert.Equal(t, types.ServerError(429), o.Category)
		assert.Equal(t, 429, o.Meta.StatusCode)
	}
}

// blockingSource hands out payloads only when released
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSource) Next() (types.Payload, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return types.Payload{}, nil
}

func (b *blockingSource) Repeatable() bool { return true }

func TestExecutor_StopWaitsForWorkersAndIssuesNothingAfterward(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	issuer := &countingIssuer{}
	exec := NewExecutor(types.KindQuery, src, issuer, WithDrainTimeout(time.Minute))

	require.NoError(t, exec.Start(unlimited(2)))
	waitDone(t, src.entered, 2*time.Second)

	stopped := make(chan error, 1)
	go func() { stopped <- exec.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a worker was still inside the source")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the source was released")
	}

	assert.Zero(t, issuer.calls.Load(), "no operation may start once stop was requested")
	assert.False(t, exec.IsRunning())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, issuer.calls.Load())
}

func TestExecutor_StopInterruptsPacing(t *testing.T) {
	exec := NewExecutor(types.KindOptimize, source.NewCommand(types.ActionOptimize), &countingIssuer{})
	require.NoError(t, exec.Start(fixed(3, time.Hour)))

	start := time.Now()
	require.NoError(t, exec.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_DrainTimeoutAbortsInFlightCalls(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	var late atomic.Int64
	issuer := IssuerFunc(func(ctx context.Context, _ types.Operation) (types.ResponseMeta, error) {
		// ignores ctx on purpose, like a stuck transport
		<-unblock
		late.Add(1)
		return types.ResponseMeta{StatusCode: 200}, nil
	})

	exec := NewExecutor(types.KindUpdate, source.NewCommand(types.ActionCommit), issuer,
		WithDrainTimeout(50*time.Millisecond))
	sink := &recordingSink{}
	require.NoError(t, exec.AddStatistic(sink))

	require.NoError(t, exec.Start(unlimited(2)))
	requireEventually(t, func() bool { return exec.Status().ActiveWorkers == 2 }, "both workers in flight")

	start := time.Now()
	require.NoError(t, exec.Stop(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	obs := sink.all()
	require.Len(t, obs, 2)
	for _, o := range obs {
		assert.True(t, o.Issued)
		assert.False(t, o.Success)
		assert.Equal(t, types.CategoryAborted, o.Category)
		assert.Equal(t, types.UnknownResponse, o.Meta)
	}
	assert.Equal(t, int64(2), exec.Status().Failed)

	// abandoned calls complete later without publishing
	unblock <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, sink.len())
}

func TestExecutor_StopContextCancelsEarly(t *testing.T) {
	issuer := IssuerFunc(func(ctx context.Context, _ types.Operation) (types.ResponseMeta, error) {
		<-ctx.Done()
		return types.ResponseMeta{}, ctx.Err()
	})
	exec := NewExecutor(types.KindQuery, source.NewCommand(""), issuer, WithDrainTimeout(time.Minute))
	sink := &recordingSink{}
	require.NoError(t, exec.AddStatistic(sink))

	require.NoError(t, exec.Start(unlimited(1)))
	requireEventually(t, func() bool { return exec.Status().ActiveWorkers == 1 }, "worker in flight")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := exec.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, 1, sink.len())
	assert.Equal(t, types.CategoryAborted, sink.all()[0].Category)
}

func TestExecutor_LifecycleErrors(t *testing.T) {
	exec := NewExecutor(types.KindQuery, source.NewCommand(""), &countingIssuer{})
	require.NoError(t, exec.Start(fixed(1, time.Hour)))
	defer exec.Stop(context.Background())

	err := exec.Start(fixed(1, time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.ErrorIs(t, err, ErrInvalidState)

	err = exec.AddStatistic(&recordingSink{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExecutor_InvalidConfig(t *testing.T) {
	exec := NewExecutor(types.KindQuery, source.NewCommand(""), &countingIssuer{})

	assert.Error(t, exec.Start(ExecutorConfig{Enabled: true, Workers: 0}))
	assert.Error(t, exec.Start(ExecutorConfig{Enabled: true, Workers: 1, Pacing: pacing.Config{Mode: "bursty"}}))
	assert.Error(t, exec.Start(ExecutorConfig{Enabled: true, Workers: 1, Pacing: pacing.Config{Mode: pacing.ModeFixed}}))
	assert.False(t, exec.IsRunning())
}

func TestExecutor_DisabledStaysStopped(t *testing.T) {
	issuer := &countingIssuer{}
	exec := NewExecutor(types.KindUpdate, source.NewCommand(""), issuer)

	require.NoError(t, exec.Start(ExecutorConfig{Enabled: false, Workers: 4}))
	assert.False(t, exec.IsRunning())
	waitDone(t, exec.Done(), time.Second)
	assert.Zero(t, issuer.calls.Load())

	// stopping a stopped executor is a no-op
	assert.NoError(t, exec.Stop(context.Background()))
}

// flakySource fails every other call but can always be retried
type flakySource struct {
	n atomic.Int64
}

func (f *flakySource) Next() (types.Payload, error) {
	if f.n.Add(1)%2 == 0 {
		return types.Payload{}, errors.New("generator hiccup")
	}
	return types.Payload{Action: types.ActionCommit}, nil
}

func (f *flakySource) Repeatable() bool { return true }

func TestExecutor_RepeatableSourceFailuresAreNotIssued(t *testing.T) {
	issuer := &countingIssuer{}
	exec := NewExecutor(types.KindUpdate, &flakySource{}, issuer)
	sink := &recordingSink{}
	require.NoError(t, exec.AddStatistic(sink))

	require.NoError(t, exec.Start(fixed(1, time.Millisecond)))
	requireEventually(t, func() bool { return sink.len() >= 10 }, "observations flowing")
	require.NoError(t, exec.Stop(context.Background()))

	var issued, notIssued int64
	for _, o := range sink.all() {
		if o.Issued {
			issued++
			assert.True(t, o.Success)
			continue
		}
		notIssued++
		assert.False(t, o.Success)
		assert.Equal(t, types.CategoryOther, o.Category)
		assert.Equal(t, "generator hiccup", o.Err)
	}
	assert.Equal(t, issuer.calls.Load(), issued)
	assert.Positive(t, notIssued)

	st := exec.Status()
	assert.Equal(t, issued, st.Issued)
	assert.Equal(t, notIssued, st.SourceErrors)
	assert.Equal(t, st.Issued-st.Succeeded+st.SourceErrors, st.Failed)

	for _, o := range sink.all() {
		if o.Issued {
			assert.Equal(t, int64(len(types.ActionCommit)), o.RequestSize)
		} else {
			assert.Zero(t, o.RequestSize)
		}
	}
}

func TestExecutor_ExhaustedRepeatableListKeepsRunning(t *testing.T) {
	// an empty repeating list can never produce a payload
	exec := NewExecutor(types.KindQuery, source.NewList(nil, source.Sequential, true), &countingIssuer{})
	sink := &recordingSink{}
	require.NoError(t, exec.AddStatistic(sink))

	require.NoError(t, exec.Start(fixed(1, time.Millisecond)))
	requireEventually(t, func() bool { return sink.len() >= 3 }, "failures recorded")
	assert.True(t, exec.IsRunning())
	require.NoError(t, exec.Stop(context.Background()))

	for _, o := range sink.all() {
		assert.False(t, o.Issued)
	}
}

func TestExecutor_CanRestartAfterStop(t *testing.T) {
	issuer := &countingIssuer{}
	exec := NewExecutor(types.KindOptimize, source.NewCommand(types.ActionOptimize), issuer)

	require.NoError(t, exec.Start(fixed(1, time.Millisecond)))
	requireEventually(t, func() bool { return issuer.calls.Load() > 0 }, "first run issues")
	require.NoError(t, exec.Stop(context.Background()))

	before := issuer.calls.Load()
	require.NoError(t, exec.Start(fixed(1, time.Millisecond)))
	requireEventually(t, func() bool { return issuer.calls.Load() > before }, "second run issues")
	require.NoError(t, exec.Stop(context.Background()))
}

type panickingSink struct{}

func (panickingSink) Publish(types.Observation) { panic("bad sink") }

func TestExecutor_PanickingSinkDoesNotStopWorkers(t *testing.T) {
	exec := NewExecutor(types.KindQuery, source.NewList(queries(5), source.Sequential, false), &countingIssuer{})
	good := &recordingSink{}
	require.NoError(t, exec.AddStatistic(panickingSink{}))
	require.NoError(t, exec.AddStatistic(good))

	require.NoError(t, exec.Start(unlimited(1)))
	waitDone(t, exec.Done(), 5*time.Second)
	assert.Equal(t, 5, good.len())
}
