package stresstest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/studiowebux/searchmeter/internal/pacing"
	"github.com/studiowebux/searchmeter/internal/source"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/types"
)

const (
	// DefaultDrainTimeout bounds how long Stop waits for in-flight calls
	DefaultDrainTimeout = 5 * time.Second

	// MaxWorkers caps the goroutines of a single executor
	MaxWorkers = 1000
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusCancelled = "cancelled"
)

var validate = validator.New()

// ExecutorConfig is the runtime configuration of one executor
type ExecutorConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Workers int           `yaml:"workers" json:"workers" validate:"min=1,max=1000"`
	Pacing  pacing.Config `yaml:"pacing" json:"pacing"`
}

// Validate checks the worker count and the pacing mode
func (c ExecutorConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid executor config: %w", err)
	}
	if _, err := pacing.New(c.Pacing); err != nil {
		return fmt.Errorf("invalid executor config: %w", err)
	}
	return nil
}

// Issuer sends one operation to the search service and reports what it answered.
//
// Implementations must honor ctx cancellation; an error that carries an HTTP status should
// expose it through a StatusCode() int method so it can be classified as ServerError.
type Issuer interface {
	Issue(ctx context.Context, op types.Operation) (types.ResponseMeta, error)
}

// IssuerFunc adapts a function to Issuer
type IssuerFunc func(ctx context.Context, op types.Operation) (types.ResponseMeta, error)

func (f IssuerFunc) Issue(ctx context.Context, op types.Operation) (types.ResponseMeta, error) {
	return f(ctx, op)
}

// ExecutorPlan describes one executor of a test.
// Source is called on every restart so that each run starts from a fresh payload stream.
type ExecutorPlan struct {
	Kind   types.Kind
	Config ExecutorConfig
	Source func() (source.Source, error)
	Issuer Issuer
}

// Plan is everything a scope needs to build a test
type Plan struct {
	// Name labels persisted runs
	Name      string
	Executors []ExecutorPlan
	// Statistics replaces the registry descriptors when non-nil
	Statistics   []statistics.Descriptor
	DrainTimeout time.Duration
	Policy       ClassifyPolicy
}

// PlanProvider supplies a fresh plan on every scope restart
type PlanProvider interface {
	Plan() (*Plan, error)
}

// PlanFunc adapts a function to PlanProvider
type PlanFunc func() (*Plan, error)

func (f PlanFunc) Plan() (*Plan, error) { return f() }

// Run represents a persisted stress test run
type Run struct {
	ID             int64
	GUID           string
	Name           string
	Generation     int64
	StartedAt      time.Time
	CompletedAt    *time.Time
	Status         string // "running", "completed", "cancelled"
	TotalIssued    int64
	TotalSucceeded int64
	TotalFailed    int64
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == RunStatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusCancelled
}

// Duration returns the elapsed time of the run, up to now when still running
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
