// Package source produces the payloads executors send to the search service.
//
// Every Source is safe for concurrent use by all workers of an executor. Finite sources
// return ErrExhausted once depleted; Repeatable reports whether the owning executor should
// keep pulling after that.
package source

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/studiowebux/searchmeter/internal/types"
)

// ErrExhausted is returned by Next when a finite source has no payloads left
var ErrExhausted = errors.New("operation source exhausted")

// Source produces the next payload for one operation kind
type Source interface {
	Next() (types.Payload, error)
	Repeatable() bool
}

// Order controls how a List walks its payloads
type Order string

const (
	Sequential Order = "sequential"
	Random     Order = "random"
)

// List serves a fixed set of payloads, either once or cycling forever
type List struct {
	mu       sync.Mutex
	payloads []types.Payload
	order    Order
	repeat   bool
	next     int
}

// NewList creates a list source. With repeat=false the list is drained once and the source
// reports itself non-repeatable.
func NewList(payloads []types.Payload, order Order, repeat bool) *List {
	if order == "" {
		order = Sequential
	}
	return &List{
		payloads: payloads,
		order:    order,
		repeat:   repeat,
	}
}

// Next returns the next payload
func (l *List) Next() (types.Payload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.payloads) == 0 {
		return types.Payload{}, ErrExhausted
	}

	if l.order == Random {
		if !l.repeat {
			if l.next >= len(l.payloads) {
				return types.Payload{}, ErrExhausted
			}
			// partial Fisher-Yates so each payload is served exactly once
			j := l.next + rand.IntN(len(l.payloads)-l.next)
			l.payloads[l.next], l.payloads[j] = l.payloads[j], l.payloads[l.next]
			p := l.payloads[l.next]
			l.next++
			return p, nil
		}
		return l.payloads[rand.IntN(len(l.payloads))], nil
	}

	if l.next >= len(l.payloads) {
		if !l.repeat {
			return types.Payload{}, ErrExhausted
		}
		l.next = 0
	}
	p := l.payloads[l.next]
	l.next++
	return p, nil
}

// Repeatable reports whether the list cycles
func (l *List) Repeatable() bool {
	return l.repeat
}

// Len returns the number of payloads in the list
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.payloads)
}

// Command emits the same maintenance action (optimize or commit) forever
type Command struct {
	action string
}

// NewCommand creates a command source for the given action
func NewCommand(action string) *Command {
	if action == "" {
		action = types.ActionOptimize
	}
	return &Command{action: action}
}

// Next returns a payload carrying the action
func (c *Command) Next() (types.Payload, error) {
	return types.Payload{Action: c.action}, nil
}

// Repeatable is always true for commands
func (c *Command) Repeatable() bool { return true }
