package state

import (
	"sync"
	"time"
)

// Keys written by the store itself.
const (
	KeyLastUpdated = "lastUpdated"
	KeyLastError   = "lastError"
	KeyLastAction  = "lastAction"
)

// Store is the diagnostics key/value state. The latest write for a key
// wins; every write stamps KeyLastUpdated with unix milliseconds.
type Store struct {
	mu       sync.RWMutex
	data     map[string]any
	onChange func(snapshot map[string]any)
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{data: map[string]any{}, now: time.Now}
}

// OnChange installs fn to be called with a fresh snapshot after every write.
// fn runs on the writer's goroutine and must not block.
func (s *Store) OnChange(fn func(snapshot map[string]any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) Set(key string, value any) {
	s.SetMany(map[string]any{key: value})
}

// SetMany applies all pairs as one update.
func (s *Store) SetMany(kv map[string]any) {
	s.mu.Lock()
	for k, v := range kv {
		s.data[k] = v
	}
	s.data[KeyLastUpdated] = s.now().UnixMilli()
	fn := s.onChange
	var snap map[string]any
	if fn != nil {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Action records what the relay just did, with an optional error.
func (s *Store) Action(action string, err error) {
	kv := map[string]any{KeyLastAction: action}
	if err != nil {
		kv[KeyLastError] = err.Error()
	}
	s.SetMany(kv)
}

func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (s *Store) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() map[string]any {
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
