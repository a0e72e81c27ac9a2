package statistics

import (
	"github.com/studiowebux/searchmeter/internal/types"
)

// Sink aggregates observations for one active statistic during one run.
//
// Publish is the only mutating entry point. Implementations must accept concurrent calls from
// every worker of every executor the statistic is attached to, and apply each observation as a
// single atomic step.
type Sink interface {
	Publish(obs types.Observation)
}

// Snapshotter is implemented by sinks that can be rendered. Snapshot must not mutate state.
type Snapshotter interface {
	Snapshot() []Entry
}

// Flusher is implemented by sinks that buffer observations before writing them elsewhere
type Flusher interface {
	Flush() error
}

// Entry is one labelled value of a statistic snapshot
type Entry struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Snapshot is the read-only view of a sink handed to the rendering layer
type Snapshot struct {
	Name           string       `json:"name"`
	Implementation string       `json:"implementation"`
	Kinds          []types.Kind `json:"kinds"`
	HasView        bool         `json:"view"`
	Entries        []Entry      `json:"entries"`
}

// ObservationWriter persists batches of observations. The history statistic writes through it.
type ObservationWriter interface {
	WriteObservations(obs []types.Observation) error
}
