package statistics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/studiowebux/searchmeter/internal/types"
)

// Built-in implementation names
const (
	ImplOperationCounter = "operation-counter"
	ImplErrorHistogram   = "error-histogram"
	ImplLatencyHistogram = "latency-histogram"
	ImplPercentiles      = "percentiles"
	ImplThroughput       = "throughput"
	ImplQTimeHistogram   = "qtime-histogram"
	ImplPrometheus       = "prometheus"
	ImplHistory          = "history"
)

// DefaultLatencyBuckets are the upper bounds, in milliseconds, of the latency histograms
var DefaultLatencyBuckets = []int64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

func init() {
	RegisterFactory(ImplOperationCounter, func(Descriptor, Deps) (Sink, error) {
		return NewOperationCounter(), nil
	})
	RegisterFactory(ImplErrorHistogram, func(Descriptor, Deps) (Sink, error) {
		return NewErrorHistogram(), nil
	})
	RegisterFactory(ImplLatencyHistogram, func(d Descriptor, _ Deps) (Sink, error) {
		bounds, err := d.BucketsParam("buckets", DefaultLatencyBuckets)
		if err != nil {
			return nil, err
		}
		return NewLatencyHistogram(bounds), nil
	})
	RegisterFactory(ImplPercentiles, func(Descriptor, Deps) (Sink, error) {
		return NewPercentiles(), nil
	})
	RegisterFactory(ImplThroughput, func(d Descriptor, deps Deps) (Sink, error) {
		window, err := d.IntParam("window", 60)
		if err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, fmt.Errorf("window must be greater than 0")
		}
		return NewThroughput(window, deps.Now), nil
	})
	RegisterFactory(ImplQTimeHistogram, func(d Descriptor, _ Deps) (Sink, error) {
		bounds, err := d.BucketsParam("buckets", DefaultLatencyBuckets)
		if err != nil {
			return nil, err
		}
		return NewQTimeHistogram(bounds), nil
	})
}

// OperationCounter counts successes and failures per kind
type OperationCounter struct {
	mu        sync.Mutex
	succeeded map[types.Kind]int64
	failed    map[types.Kind]int64
}

// NewOperationCounter creates an empty counter
func NewOperationCounter() *OperationCounter {
	return &OperationCounter{
		succeeded: map[types.Kind]int64{},
		failed:    map[types.Kind]int64{},
	}
}

// Publish records one observation
func (c *OperationCounter) Publish(obs types.Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if obs.Success {
		c.succeeded[obs.Kind]++
	} else {
		c.failed[obs.Kind]++
	}
}

// Succeeded returns the success count for a kind
func (c *OperationCounter) Succeeded(kind types.Kind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.succeeded[kind]
}

// Failed returns the failure count for a kind
func (c *OperationCounter) Failed(kind types.Kind) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed[kind]
}

// Total returns the number of observations across all kinds
func (c *OperationCounter) Total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, n := range c.succeeded {
		total += n
	}
	for _, n := range c.failed {
		total += n
	}
	return total
}

// Snapshot implements Snapshotter
func (c *OperationCounter) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []Entry
	for _, kind := range types.AllKinds {
		ok, failed := c.succeeded[kind], c.failed[kind]
		if ok == 0 && failed == 0 {
			continue
		}
		entries = append(entries,
			Entry{Label: kind.String() + " success", Value: float64(ok)},
			Entry{Label: kind.String() + " failed", Value: float64(failed)},
		)
	}
	return entries
}

// SuccessLabel is the histogram key used for successful observations
const SuccessLabel = "Success"

// ErrorHistogram counts observations per outcome category
type ErrorHistogram struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewErrorHistogram creates an empty histogram
func NewErrorHistogram() *ErrorHistogram {
	return &ErrorHistogram{counts: map[string]int64{}}
}

// Publish records one observation
func (h *ErrorHistogram) Publish(obs types.Observation) {
	key := SuccessLabel
	if !obs.Success {
		key = obs.Category.String()
	}
	h.mu.Lock()
	h.counts[key]++
	h.mu.Unlock()
}

// Count returns the number of observations recorded under a label
func (h *ErrorHistogram) Count(label string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[label]
}

// Counts returns a copy of all counts
func (h *ErrorHistogram) Counts() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int64, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

// Snapshot implements Snapshotter
func (h *ErrorHistogram) Snapshot() []Entry {
	counts := h.Counts()
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	entries := make([]Entry, 0, len(labels))
	for _, label := range labels {
		entries = append(entries, Entry{Label: label, Value: float64(counts[label])})
	}
	return entries
}

// bucketCounter is a fixed-bound histogram with an overflow bucket
type bucketCounter struct {
	bounds []int64
	counts []int64
}

func newBucketCounter(bounds []int64) bucketCounter {
	return bucketCounter{bounds: bounds, counts: make([]int64, len(bounds)+1)}
}

func (b *bucketCounter) add(v int64) {
	i := sort.Search(len(b.bounds), func(i int) bool { return v <= b.bounds[i] })
	b.counts[i]++
}

func (b *bucketCounter) entries(unit string) []Entry {
	entries := make([]Entry, 0, len(b.counts))
	for i, n := range b.counts {
		label := "+Inf"
		if i < len(b.bounds) {
			label = "<= " + strconv.FormatInt(b.bounds[i], 10)
		}
		entries = append(entries, Entry{Label: label, Value: float64(n), Unit: unit})
	}
	return entries
}

// LatencyHistogram buckets client-measured latency in milliseconds
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets bucketCounter
}

// NewLatencyHistogram creates a histogram with the given upper bounds in ms
func NewLatencyHistogram(bounds []int64) *LatencyHistogram {
	return &LatencyHistogram{buckets: newBucketCounter(bounds)}
}

// Publish records one observation
func (h *LatencyHistogram) Publish(obs types.Observation) {
	if !obs.Issued {
		return
	}
	h.mu.Lock()
	h.buckets.add(obs.Latency.Milliseconds())
	h.mu.Unlock()
}

// Counts returns a copy of the bucket counts, overflow last
func (h *LatencyHistogram) Counts() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.buckets.counts...)
}

// Snapshot implements Snapshotter
func (h *LatencyHistogram) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buckets.entries("ops")
}

// QTimeHistogram buckets the server-reported query time
type QTimeHistogram struct {
	mu      sync.Mutex
	buckets bucketCounter
	unknown int64
}

// NewQTimeHistogram creates a histogram with the given upper bounds in ms
func NewQTimeHistogram(bounds []int64) *QTimeHistogram {
	return &QTimeHistogram{buckets: newBucketCounter(bounds)}
}

// Publish records one observation. Responses without a QTime are counted separately.
func (h *QTimeHistogram) Publish(obs types.Observation) {
	if !obs.Issued || !obs.Success {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if obs.Meta.QTime < 0 {
		h.unknown++
		return
	}
	h.buckets.add(obs.Meta.QTime)
}

// Unknown returns the number of successful responses that carried no QTime
func (h *QTimeHistogram) Unknown() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unknown
}

// Snapshot implements Snapshotter
func (h *QTimeHistogram) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.buckets.entries("ops")
	return append(entries, Entry{Label: "unknown", Value: float64(h.unknown), Unit: "ops"})
}

// percentileCompression trades digest size for accuracy; a digest keeps at most a few
// hundred centroids at this setting whatever the run length
const percentileCompression = 200

// Percentiles tracks min/max/average and percentile latency of issued operations.
// Percentiles are estimated with a t-digest so memory stays bounded over long runs.
type Percentiles struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	count  int
	total  int64
	min    int64
	max    int64
}

// NewPercentiles creates an empty tracker
func NewPercentiles() *Percentiles {
	return &Percentiles{
		digest: tdigest.NewWithCompression(percentileCompression),
		min:    -1,
		max:    -1,
	}
}

// Publish records one observation
func (p *Percentiles) Publish(obs types.Observation) {
	if !obs.Issued {
		return
	}
	ms := obs.Latency.Milliseconds()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.digest.Add(float64(ms), 1)
	p.count++
	p.total += ms
	if p.min == -1 || ms < p.min {
		p.min = ms
	}
	if p.max == -1 || ms > p.max {
		p.max = ms
	}
}

// Count returns the number of recorded durations
func (p *Percentiles) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Avg returns the average duration in milliseconds
func (p *Percentiles) Avg() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count == 0 {
		return 0
	}
	return float64(p.total) / float64(p.count)
}

// Min returns the minimum duration, or 0 if no results
func (p *Percentiles) Min() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.min == -1 {
		return 0
	}
	return p.min
}

// Max returns the maximum duration, or 0 if no results
func (p *Percentiles) Max() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.max == -1 {
		return 0
	}
	return p.max
}

// Percentile estimates the percentile value (q between 0 and 100)
func (p *Percentiles) Percentile(q float64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percentile(q)
}

// percentile requires p.mu; the digest compresses lazily on read
func (p *Percentiles) percentile(q float64) int64 {
	if p.count == 0 {
		return 0
	}
	switch {
	case q <= 0:
		return p.min
	case q >= 100:
		return p.max
	}
	v := p.digest.Quantile(q / 100)
	if math.IsNaN(v) {
		return 0
	}
	// estimates never leave the observed range
	return min(max(int64(math.Round(v)), p.min), p.max)
}

// Snapshot implements Snapshotter
func (p *Percentiles) Snapshot() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == 0 {
		return []Entry{{Label: "count", Value: 0}}
	}
	return []Entry{
		{Label: "count", Value: float64(p.count)},
		{Label: "avg", Value: float64(p.total) / float64(p.count), Unit: "ms"},
		{Label: "min", Value: float64(p.min), Unit: "ms"},
		{Label: "max", Value: float64(p.max), Unit: "ms"},
		{Label: "p50", Value: float64(p.percentile(50)), Unit: "ms"},
		{Label: "p95", Value: float64(p.percentile(95)), Unit: "ms"},
		{Label: "p99", Value: float64(p.percentile(99)), Unit: "ms"},
	}
}

// Throughput keeps a per-second time series of completed operations over a rolling window
type Throughput struct {
	mu      sync.Mutex
	window  int
	now     func() time.Time
	seconds map[int64]int64
	total   int64
	first   time.Time
}

// NewThroughput creates a time series keeping the last window seconds
func NewThroughput(window int, now func() time.Time) *Throughput {
	if now == nil {
		now = time.Now
	}
	return &Throughput{window: window, now: now, seconds: map[int64]int64{}}
}

// Publish records one observation in the second it completed
func (t *Throughput) Publish(obs types.Observation) {
	ts := obs.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	sec := ts.Unix()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.first.IsZero() || ts.Before(t.first) {
		t.first = ts
	}
	t.seconds[sec]++
	t.total++
	t.evict(sec)
}

func (t *Throughput) evict(current int64) {
	cutoff := current - int64(t.window)
	for sec := range t.seconds {
		if sec <= cutoff {
			delete(t.seconds, sec)
		}
	}
}

// Series returns (second, count) pairs in the window ending at the current second, oldest first
func (t *Throughput) Series() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().Unix()
	entries := make([]Entry, 0, t.window)
	for sec := now - int64(t.window) + 1; sec <= now; sec++ {
		entries = append(entries, Entry{
			Label: time.Unix(sec, 0).Format("15:04:05"),
			Value: float64(t.seconds[sec]),
			Unit:  "ops/s",
		})
	}
	return entries
}

// Rate returns the number of operations completed during the last full second
func (t *Throughput) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.seconds[t.now().Unix()-1])
}

// Snapshot implements Snapshotter
func (t *Throughput) Snapshot() []Entry {
	t.mu.Lock()
	now := t.now()
	last := t.seconds[now.Unix()-1]
	total, first := t.total, t.first
	t.mu.Unlock()

	avg := 0.0
	if elapsed := now.Sub(first).Seconds(); !first.IsZero() && elapsed > 0 {
		avg = float64(total) / elapsed
	}
	return []Entry{
		{Label: "last second", Value: float64(last), Unit: "ops/s"},
		{Label: "average", Value: avg, Unit: "ops/s"},
		{Label: "total", Value: float64(total), Unit: "ops"},
	}
}
