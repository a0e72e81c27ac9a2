package stresstest

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studiowebux/searchmeter/internal/pacing"
	"github.com/studiowebux/searchmeter/internal/source"
	"github.com/studiowebux/searchmeter/internal/types"
)

// statusErr mimics an issuer error carrying an HTTP status
type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

// recordingSink keeps every observation it receives
type recordingSink struct {
	mu  sync.Mutex
	obs []types.Observation
}

func (s *recordingSink) Publish(obs types.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs)
}

func (s *recordingSink) all() []types.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Observation(nil), s.obs...)
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs)
}

// queries builds n query payloads q=0..q=n-1
func queries(n int) []types.Payload {
	payloads := make([]types.Payload, n)
	for i := range payloads {
		payloads[i] = types.Payload{Query: url.Values{"q": {fmt.Sprint(i)}}}
	}
	return payloads
}

// countingIssuer succeeds unless fail returns an error, and remembers the queries it saw
type countingIssuer struct {
	calls atomic.Int64
	fail  func(op types.Operation) error

	mu   sync.Mutex
	seen []string
}

func (c *countingIssuer) Issue(ctx context.Context, op types.Operation) (types.ResponseMeta, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.seen = append(c.seen, op.Payload.Query.Get("q"))
	c.mu.Unlock()

	if c.fail != nil {
		if err := c.fail(op); err != nil {
			return types.ResponseMeta{StatusCode: 500, QTime: -1, Hits: -1}, err
		}
	}
	return types.ResponseMeta{StatusCode: 200, QTime: 1, Hits: 10}, nil
}

func (c *countingIssuer) queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func unlimited(workers int) ExecutorConfig {
	return ExecutorConfig{Enabled: true, Workers: workers, Pacing: pacing.Config{Mode: pacing.ModeUnlimited}}
}

func fixed(workers int, delay time.Duration) ExecutorConfig {
	return ExecutorConfig{Enabled: true, Workers: workers, Pacing: pacing.Config{Mode: pacing.ModeFixed, Delay: delay}}
}

func waitDone(t *testing.T, ch <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %s", timeout)
	}
}

func listSource(n int, repeat bool) func() (source.Source, error) {
	return func() (source.Source, error) {
		return source.NewList(queries(n), source.Sequential, repeat), nil
	}
}

func requireEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
