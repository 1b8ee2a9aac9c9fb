package registry

import (
	"sort"
	"sync"
)

// Source is one configured scan input: a reader reachable through one of
// the transport adapters.
type Source struct {
	ID         string `yaml:"id"          json:"id"`
	Name       string `yaml:"name"        json:"name"`
	Adapter    string `yaml:"adapter"     json:"adapter"`
	DataSource string `yaml:"data_source" json:"data_source"`

	Enabled bool `yaml:"enabled,omitempty" json:"enabled"`
	Online  bool `yaml:"-"                 json:"online"`
}

type Store struct {
	mu   sync.RWMutex
	data map[string]Source
}

func NewStore() *Store {
	return &Store{data: map[string]Source{}}
}

func (s *Store) Get(id string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[id]
	return v, ok
}

// Upsert stores m, keeping the online flag of an existing entry.
func (s *Store) Upsert(m Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[m.ID]; ok {
		m.Online = old.Online
	}
	s.data[m.ID] = m
}

func (s *Store) SetOnline(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[id]
	if !ok {
		return
	}
	v.Online = online
	s.data[id] = v
}

// List returns all sources ordered by ID.
func (s *Store) List() []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Source, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListEnabled() []Source {
	all := s.List()
	out := all[:0]
	for _, v := range all {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}
