// Package types holds the values passed between sources, executors and statistics.
package types

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Kind identifies which executor an operation belongs to
type Kind int

const (
	KindQuery Kind = iota
	KindUpdate
	KindOptimize
)

// AllKinds lists every operation kind in executor order
var AllKinds = []Kind{KindQuery, KindUpdate, KindOptimize}

// String returns the lower-case name of the kind
func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindUpdate:
		return "update"
	case KindOptimize:
		return "optimize"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a kind name (case-insensitive)
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "query":
		return KindQuery, nil
	case "update":
		return KindUpdate, nil
	case "optimize":
		return KindOptimize, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q (expected query, update or optimize)", s)
}

// UnmarshalText implements encoding.TextUnmarshaler so kinds can be read from YAML and JSON
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Action values carried by optimize-kind payloads
const (
	ActionOptimize = "optimize"
	ActionCommit   = "commit"
)

// Payload is the concrete request an OperationSource hands to an executor
type Payload struct {
	Query     url.Values       `json:"query,omitempty"`
	Documents []map[string]any `json:"documents,omitempty"`
	Action    string           `json:"action,omitempty"`
}

// Size returns an approximation of the request size in bytes
func (p Payload) Size() int64 {
	size := int64(len(p.Query.Encode()) + len(p.Action))
	if len(p.Documents) > 0 {
		if b, err := json.Marshal(p.Documents); err == nil {
			size += int64(len(b))
		}
	}
	return size
}

// Operation is one unit of work pulled from a source and issued once
type Operation struct {
	Kind     Kind
	Payload  Payload
	IssuedAt time.Time
	Worker   int
}

// ResponseMeta describes what came back from the search service
type ResponseMeta struct {
	StatusCode int
	Size       int64
	QTime      int64 // server-reported processing time in ms, -1 when unknown
	Hits       int64 // number of matching documents, -1 when unknown
}

// UnknownResponse is the zero-information response used for failed calls
var UnknownResponse = ResponseMeta{QTime: -1, Hits: -1}

// ErrorClass is the coarse failure category of an observation
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTimeout
	ClassConnectionRefused
	ClassServerError
	ClassOther
	ClassAborted
)

// ErrorCategory is the failure category of an observation. Code is only set for ServerError.
type ErrorCategory struct {
	Class ErrorClass
	Code  int
}

// Category constructors
var (
	CategoryNone              = ErrorCategory{Class: ClassNone}
	CategoryTimeout           = ErrorCategory{Class: ClassTimeout}
	CategoryConnectionRefused = ErrorCategory{Class: ClassConnectionRefused}
	CategoryOther             = ErrorCategory{Class: ClassOther}
	CategoryAborted           = ErrorCategory{Class: ClassAborted}
)

// ServerError returns the category for an error response with the given status code
func ServerError(code int) ErrorCategory {
	return ErrorCategory{Class: ClassServerError, Code: code}
}

// String renders the category, e.g. "Timeout" or "ServerError{500}"
func (c ErrorCategory) String() string {
	switch c.Class {
	case ClassNone:
		return "None"
	case ClassTimeout:
		return "Timeout"
	case ClassConnectionRefused:
		return "ConnectionRefused"
	case ClassServerError:
		return fmt.Sprintf("ServerError{%d}", c.Code)
	case ClassOther:
		return "Other"
	case ClassAborted:
		return "Aborted"
	}
	return "Unknown"
}

// Observation is the immutable outcome of executing (or failing to produce) one operation
type Observation struct {
	Kind      Kind
	Issued    bool // false when the source failed before anything was sent
	Success   bool
	Category  ErrorCategory
	Latency   time.Duration
	Meta      ResponseMeta
	// RequestSize is the approximate size of the request payload, 0 when nothing was sent
	RequestSize int64
	Timestamp   time.Time
	Worker      int
	Err         string
}
