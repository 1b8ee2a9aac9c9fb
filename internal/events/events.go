package events

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScanEvent is one notification from an event source: a tag (the broadcast
// action) and its string-keyed extras. A nil field value means the extra was
// present but did not carry a string.
type ScanEvent struct {
	ID     uuid.UUID          `json:"id"`
	Tag    string             `json:"tag"`
	Fields map[string]*string `json:"fields"`
	Source string             `json:"source"`
	Time   time.Time          `json:"time"`
}

func New(source, tag string, fields map[string]*string) ScanEvent {
	if fields == nil {
		fields = map[string]*string{}
	}
	return ScanEvent{
		ID:     uuid.New(),
		Tag:    tag,
		Fields: fields,
		Source: source,
		Time:   time.Now(),
	}
}

// Str returns a pointer to s, for building Fields literals.
func Str(s string) *string { return &s }

// String returns the string value stored under key.
func (e ScanEvent) String(key string) (string, bool) {
	v, ok := e.Fields[key]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Keys returns the field names in lexical order.
func (e ScanEvent) Keys() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Describe renders the extras as "k=v, " pairs for diagnostics.
func (e ScanEvent) Describe() string {
	var b strings.Builder
	for _, k := range e.Keys() {
		v := "null"
		if p := e.Fields[k]; p != nil {
			v = *p
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteString(", ")
	}
	return b.String()
}

type Buffer interface {
	Push(e ScanEvent)
	Pull(after time.Time, max int) []ScanEvent
	Last(max int) []ScanEvent
}

type ring struct {
	mu   sync.RWMutex
	data []ScanEvent
	size int
}

func NewRing(size int) Buffer {
	if size <= 0 {
		size = 1
	}
	return &ring{data: make([]ScanEvent, 0, size), size: size}
}

func (r *ring) Push(e ScanEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.data) == r.size {
		r.data = r.data[1:]
	}
	r.data = append(r.data, e)
}

func (r *ring) Pull(after time.Time, max int) []ScanEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ScanEvent, 0, max)
	for i := len(r.data) - 1; i >= 0 && len(out) < max; i-- {
		if r.data[i].Time.After(after) {
			out = append(out, r.data[i])
		}
	}
	reverse(out)
	return out
}

// Last returns up to max of the newest events, oldest first.
func (r *ring) Last(max int) []ScanEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if max > len(r.data) {
		max = len(r.data)
	}
	out := make([]ScanEvent, max)
	copy(out, r.data[len(r.data)-max:])
	return out
}

func reverse(s []ScanEvent) {
	for l, rgt := 0, len(s)-1; l < rgt; l, rgt = l+1, rgt-1 {
		s[l], s[rgt] = s[rgt], s[l]
	}
}
