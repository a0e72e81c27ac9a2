package solr

import (
	"encoding/json"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmespath/go-jmespath"
)

// Default response paths of a Solr JSON response
const (
	DefaultQTimePath = "responseHeader.QTime"
	DefaultHitsPath  = "response.numFound"
)

// expressionCacheSize bounds the number of compiled expressions kept around
const expressionCacheSize = 64

// Extractor pulls numeric fields out of JSON responses with JMESPath expressions.
// Compiled expressions are cached and shared between goroutines.
type Extractor struct {
	cache *lru.Cache[string, *jmespath.JMESPath]
}

// NewExtractor creates an extractor with an empty expression cache
func NewExtractor() *Extractor {
	cache, err := lru.New[string, *jmespath.JMESPath](expressionCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Extractor{cache: cache}
}

// Compile returns the compiled form of expression, compiling it at most once
func (e *Extractor) Compile(expression string) (*jmespath.JMESPath, error) {
	if jp, ok := e.cache.Get(expression); ok {
		return jp, nil
	}
	jp, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid JMESPath expression '%s': %w", expression, err)
	}
	e.cache.Add(expression, jp)
	return jp, nil
}

// Int searches data with expression and returns the result as an integer.
// ok is false when the expression matches nothing or a non-numeric value.
func (e *Extractor) Int(data any, expression string) (value int64, ok bool, err error) {
	if expression == "" {
		return 0, false, nil
	}
	jp, err := e.Compile(expression)
	if err != nil {
		return 0, false, err
	}
	result, err := jp.Search(data)
	if err != nil {
		return 0, false, fmt.Errorf("JMESPath search failed: %w", err)
	}

	switch v := result.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false, nil
		}
		return int64(v), true, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false, nil
		}
		return n, true, nil
	default:
		return 0, false, nil
	}
}

// ResponseFields extracts QTime and hit count from a raw JSON body.
// Fields that cannot be found are reported as -1.
func (e *Extractor) ResponseFields(body []byte, qtimePath, hitsPath string) (qtime, hits int64) {
	qtime, hits = -1, -1
	if len(body) == 0 {
		return
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return
	}
	if v, ok, _ := e.Int(data, qtimePath); ok {
		qtime = v
	}
	if v, ok, _ := e.Int(data, hitsPath); ok {
		hits = v
	}
	return
}
