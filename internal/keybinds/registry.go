// Package keybinds maps dashboard keys to actions. Defaults can be overridden from the
// configuration file.
package keybinds

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Action represents a user action that can be triggered by a keybinding
type Action string

const (
	ActionStart      Action = "start"
	ActionStop       Action = "stop"
	ActionRestart    Action = "restart"
	ActionQuit       Action = "quit"
	ActionScrollUp   Action = "scroll_up"
	ActionScrollDown Action = "scroll_down"
	ActionPageUp     Action = "page_up"
	ActionPageDown   Action = "page_down"
	ActionGoToTop    Action = "go_to_top"
	ActionGoToBottom Action = "go_to_bottom"
)

// AllActions lists every action in help order
var AllActions = []Action{
	ActionStart, ActionStop, ActionRestart, ActionScrollUp, ActionScrollDown,
	ActionPageUp, ActionPageDown, ActionGoToTop, ActionGoToBottom, ActionQuit,
}

// reservedKeys cannot be rebound
var reservedKeys = map[string]Action{
	"ctrl+c": ActionQuit,
}

// Binding represents a keybinding mapping
type Binding struct {
	Key    string
	Action Action
}

// Registry manages keybinding mappings and matching. It is not safe for concurrent mutation;
// build it before handing it to the dashboard.
type Registry struct {
	// bindings maps key -> action
	bindings map[string]Action
}

// NewRegistry creates an empty registry with only the reserved keys bound
func NewRegistry() *Registry {
	r := &Registry{bindings: make(map[string]Action)}
	for key, action := range reservedKeys {
		r.bindings[key] = action
	}
	return r
}

// Defaults returns the default dashboard bindings
func Defaults() *Registry {
	r := NewRegistry()
	r.RegisterMultiple([]string{"s"}, ActionStart)
	r.RegisterMultiple([]string{"x"}, ActionStop)
	r.RegisterMultiple([]string{"r"}, ActionRestart)
	r.RegisterMultiple([]string{"q", "esc"}, ActionQuit)
	r.RegisterMultiple([]string{"up", "k"}, ActionScrollUp)
	r.RegisterMultiple([]string{"down", "j"}, ActionScrollDown)
	r.RegisterMultiple([]string{"pgup", "ctrl+u"}, ActionPageUp)
	r.RegisterMultiple([]string{"pgdown", "ctrl+d"}, ActionPageDown)
	r.RegisterMultiple([]string{"home", "g"}, ActionGoToTop)
	r.RegisterMultiple([]string{"end", "G"}, ActionGoToBottom)
	return r
}

// Register adds a keybinding to the registry
func (r *Registry) Register(key string, action Action) {
	if _, reserved := reservedKeys[key]; reserved {
		return
	}
	r.bindings[key] = action
}

// RegisterMultiple registers multiple keybindings for the same action
func (r *Registry) RegisterMultiple(keys []string, action Action) {
	for _, key := range keys {
		r.Register(key, action)
	}
}

// Match returns the action bound to key
func (r *Registry) Match(key string) (Action, bool) {
	action, ok := r.bindings[key]
	return action, ok
}

// Keys returns the sorted keys bound to an action
func (r *Registry) Keys(action Action) []string {
	var keys []string
	for key, act := range r.bindings {
		if act == action {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// KeyString returns a human-readable string of keys bound to an action
func (r *Registry) KeyString(action Action) string {
	keys := r.Keys(action)
	if len(keys) == 0 {
		return "unbound"
	}
	return strings.Join(keys, "/")
}

// ListBindings returns every binding sorted by key
func (r *Registry) ListBindings() []Binding {
	bindings := make([]Binding, 0, len(r.bindings))
	for key, action := range r.bindings {
		bindings = append(bindings, Binding{Key: key, Action: action})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Key < bindings[j].Key })
	return bindings
}

// Help renders a one-line summary of the given actions
func (r *Registry) Help(actions ...Action) string {
	parts := make([]string, 0, len(actions))
	for _, action := range actions {
		parts = append(parts, r.KeyString(action)+" "+strings.ReplaceAll(string(action), "_", " "))
	}
	return strings.Join(parts, " • ")
}

// Apply rebinds actions from a configuration map of action name -> keys. Every key of an
// overridden action replaces that action's default keys.
func (r *Registry) Apply(overrides map[string][]string) error {
	names := make([]string, len(AllActions))
	for i, a := range AllActions {
		names[i] = string(a)
	}

	// sorted for deterministic conflicts
	actions := make([]string, 0, len(overrides))
	for name := range overrides {
		actions = append(actions, name)
	}
	sort.Strings(actions)

	for _, name := range actions {
		action := Action(name)
		if !slices.Contains(AllActions, action) {
			return fmt.Errorf("unknown action %q%s", name, suggest(name, names))
		}
		for _, key := range r.Keys(action) {
			if _, reserved := reservedKeys[key]; !reserved {
				delete(r.bindings, key)
			}
		}
		for _, key := range overrides[name] {
			if _, reserved := reservedKeys[key]; reserved {
				return fmt.Errorf("key %q is reserved", key)
			}
			r.bindings[key] = action
		}
	}
	return r.Validate()
}

// Validate checks that the actions needed to drive and leave the dashboard stay bound
func (r *Registry) Validate() error {
	for _, action := range []Action{ActionStart, ActionStop, ActionRestart, ActionQuit} {
		if len(r.Keys(action)) == 0 {
			return fmt.Errorf("action %q has no key", action)
		}
	}
	return nil
}

// Clone creates a deep copy of the registry
func (r *Registry) Clone() *Registry {
	clone := NewRegistry()
	for key, action := range r.bindings {
		clone.bindings[key] = action
	}
	return clone
}

func suggest(name string, candidates []string) string {
	matches := fuzzy.Find(name, candidates)
	if len(matches) == 0 {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", matches[0].Str)
}
