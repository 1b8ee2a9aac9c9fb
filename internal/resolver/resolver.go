package resolver

import (
	"scanbridge/internal/events"
)

// KeySet is the ordered list of extras that may carry a scan payload.
// It is immutable once built.
type KeySet struct {
	keys []string
}

// NewKeySet copies keys, dropping blanks and duplicates while keeping the
// first occurrence's priority. A nil or empty list yields DefaultDataKeys.
func NewKeySet(keys []string) KeySet {
	if len(keys) == 0 {
		keys = DefaultDataKeys
	}
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return KeySet{keys: out}
}

func (s KeySet) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Primary is the vendor-documented payload key.
func (s KeySet) Primary() string {
	if len(s.keys) == 0 {
		return ""
	}
	return s.keys[0]
}

// Resolve returns the first candidate key, in priority order, whose value
// in ev is a non-empty string.
func (s KeySet) Resolve(ev events.ScanEvent) (key, value string, ok bool) {
	for _, k := range s.keys {
		if v, found := ev.String(k); found && v != "" {
			return k, v, true
		}
	}
	return "", "", false
}

// Filter decides which tags a registered receiver is handed.
type Filter struct {
	Actions   []string
	AcceptAny bool
}

// NewFilter builds a filter from an action list; a Wildcard entry turns
// on AcceptAny.
func NewFilter(actions []string) Filter {
	if len(actions) == 0 {
		actions = DefaultActions
	}
	f := Filter{Actions: make([]string, 0, len(actions))}
	for _, a := range actions {
		if a == Wildcard {
			f.AcceptAny = true
			continue
		}
		f.Actions = append(f.Actions, a)
	}
	return f
}

func (f Filter) Accepts(tag string) bool {
	if f.AcceptAny {
		return true
	}
	for _, a := range f.Actions {
		if a == tag {
			return true
		}
	}
	return false
}
