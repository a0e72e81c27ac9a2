package statistics

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/studiowebux/searchmeter/internal/types"
)

// Descriptor is the immutable metadata of one pluggable statistic
type Descriptor struct {
	Name           string            `yaml:"name" json:"name" validate:"required"`
	Implementation string            `yaml:"implementation" json:"implementation" validate:"required"`
	Kinds          []types.Kind      `yaml:"kinds" json:"kinds" validate:"required,min=1"`
	HasView        bool              `yaml:"view" json:"view"`
	Active         bool              `yaml:"active" json:"active"`
	Params         map[string]string `yaml:"params" json:"params,omitempty"`
}

// AppliesTo reports whether the statistic observes operations of the given kind
func (d Descriptor) AppliesTo(kind types.Kind) bool {
	return slices.Contains(d.Kinds, kind)
}

// Param returns a string parameter or def when unset
func (d Descriptor) Param(name, def string) string {
	if v, ok := d.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// IntParam returns an integer parameter or def when unset
func (d Descriptor) IntParam(name string, def int) (int, error) {
	v, ok := d.Params[name]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return n, nil
}

// DurationParam returns a duration parameter or def when unset
func (d Descriptor) DurationParam(name string, def time.Duration) (time.Duration, error) {
	v, ok := d.Params[name]
	if !ok || v == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", name, err)
	}
	return dur, nil
}

// BucketsParam parses a comma separated, strictly increasing list of bucket bounds
func (d Descriptor) BucketsParam(name string, def []int64) ([]int64, error) {
	v, ok := d.Params[name]
	if !ok || v == "" {
		return def, nil
	}
	parts := strings.Split(v, ",")
	bounds := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		if len(bounds) > 0 && n <= bounds[len(bounds)-1] {
			return nil, fmt.Errorf("parameter %s: bounds must be strictly increasing", name)
		}
		bounds = append(bounds, n)
	}
	return bounds, nil
}

// DefaultDescriptors is the statistic set used when configuration names none
func DefaultDescriptors() []Descriptor {
	all := []types.Kind{types.KindQuery, types.KindUpdate, types.KindOptimize}
	return []Descriptor{
		{Name: "operations", Implementation: ImplOperationCounter, Kinds: all, HasView: true, Active: true},
		{Name: "errors", Implementation: ImplErrorHistogram, Kinds: all, HasView: true, Active: true},
		{Name: "query-latency", Implementation: ImplLatencyHistogram, Kinds: []types.Kind{types.KindQuery}, HasView: true, Active: true},
		{Name: "query-percentiles", Implementation: ImplPercentiles, Kinds: []types.Kind{types.KindQuery}, HasView: true, Active: true},
		{Name: "query-throughput", Implementation: ImplThroughput, Kinds: []types.Kind{types.KindQuery}, HasView: true, Active: true},
		{Name: "query-qtime", Implementation: ImplQTimeHistogram, Kinds: []types.Kind{types.KindQuery}, HasView: true, Active: true},
		{Name: "update-percentiles", Implementation: ImplPercentiles, Kinds: []types.Kind{types.KindUpdate}, HasView: true, Active: true},
		{Name: "optimize-percentiles", Implementation: ImplPercentiles, Kinds: []types.Kind{types.KindOptimize}, HasView: true, Active: true},
	}
}
