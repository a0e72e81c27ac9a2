// Package pacing decides how long an executor worker waits before issuing its next operation.
package pacing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Mode names accepted in configuration
const (
	ModeUnlimited = "unlimited"
	ModeFixed     = "fixed"
	ModeRandom    = "random"
	ModePerMinute = "per_minute"
)

// Config describes the pacing of one executor
type Config struct {
	Mode      string        `yaml:"mode" json:"mode"`
	Delay     time.Duration `yaml:"delay" json:"delay"`
	Min       time.Duration `yaml:"min" json:"min"`
	Max       time.Duration `yaml:"max" json:"max"`
	PerMinute int           `yaml:"per_minute" json:"per_minute"`
}

// Controller is shared by all workers of an executor. Wait is safe for concurrent use and
// returns ctx.Err() as soon as the context is cancelled.
type Controller interface {
	Wait(ctx context.Context) error
	Mode() string
}

// Unlimited returns a controller that never waits
func Unlimited() Controller { return unlimited{} }

// FixedDelay returns a controller that waits exactly d before each operation
func FixedDelay(d time.Duration) Controller { return fixedDelay{delay: d} }

// RandomDelay returns a controller that waits a uniformly sampled duration in [min, max]
func RandomDelay(min, max time.Duration) Controller { return randomDelay{min: min, max: max} }

// PerMinute returns a controller that admits n operations per minute across all workers
func PerMinute(n int) Controller {
	return perMinute{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)}
}

// New builds a controller from configuration. An empty mode means unlimited.
func New(cfg Config) (Controller, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeUnlimited:
		return Unlimited(), nil
	case ModeFixed:
		if cfg.Delay <= 0 {
			return nil, fmt.Errorf("fixed pacing requires a positive delay, got %s", cfg.Delay)
		}
		return FixedDelay(cfg.Delay), nil
	case ModeRandom:
		if cfg.Min < 0 || cfg.Max < cfg.Min {
			return nil, fmt.Errorf("random pacing requires 0 <= min <= max, got min=%s max=%s", cfg.Min, cfg.Max)
		}
		return RandomDelay(cfg.Min, cfg.Max), nil
	case ModePerMinute:
		if cfg.PerMinute <= 0 {
			return nil, fmt.Errorf("per_minute pacing requires a positive rate, got %d", cfg.PerMinute)
		}
		return PerMinute(cfg.PerMinute), nil
	}
	return nil, fmt.Errorf("unknown pacing mode %q", cfg.Mode)
}

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (unlimited) Mode() string                   { return ModeUnlimited }

type fixedDelay struct {
	delay time.Duration
}

func (f fixedDelay) Wait(ctx context.Context) error { return sleep(ctx, f.delay) }
func (f fixedDelay) Mode() string                   { return ModeFixed }

type randomDelay struct {
	min, max time.Duration
}

func (r randomDelay) Wait(ctx context.Context) error {
	return sleep(ctx, r.sample())
}

func (r randomDelay) sample() time.Duration {
	span := r.max - r.min
	if span <= 0 {
		return r.min
	}
	// inclusive upper bound
	return r.min + time.Duration(rand.Int64N(int64(span)+1))
}

func (r randomDelay) Mode() string { return ModeRandom }

type perMinute struct {
	limiter *rate.Limiter
}

func (p perMinute) Wait(ctx context.Context) error { return p.limiter.Wait(ctx) }
func (p perMinute) Mode() string                   { return ModePerMinute }

// sleep waits for d or until ctx is done, whichever comes first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
