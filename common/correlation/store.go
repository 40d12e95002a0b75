// Package correlation holds the request-scoped context store: the live map of field name to value
// that every extraction phase, downstream capture and propagation step reads and writes.
package correlation

import (
	"maps"
	"sort"
	"sync"

	"github.com/rainbow-me/ctxfields/common/masking"
)

// Data is a point-in-time copy of the stored values.
type Data map[string]string

// Masker returns the masked projection of a field value.
type Masker interface {
	Mask(name, value string) string
}

// Diagnostic records a field that could not be resolved as configured.
type Diagnostic struct {
	Field   string
	Stage   string
	Message string
}

// Store is safe for use by concurrent continuations of the same request. Overlapping writes are
// last-write-wins. A store must not outlive or be shared between requests.
type Store struct {
	mu          sync.RWMutex
	values      Data
	diagnostics []Diagnostic
	masker      Masker
}

// NewStore returns an empty store. A nil masker means every value is masked on masked reads,
// sensitive or not.
func NewStore(masker Masker) *Store {
	return &Store{values: make(Data), masker: masker}
}

// Set stores value under name. An empty value removes the field.
func (s *Store) Set(name, value string) {
	if s == nil || name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.values, name)
		return
	}
	s.values[name] = value
}

// SetAll merges values into the store, skipping empty names and values.
func (s *Store) SetAll(values map[string]string) {
	if s == nil || len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if k != "" && v != "" {
			s.values[k] = v
		}
	}
}

// Get returns the stored value or "".
func (s *Store) Get(name string) string {
	v, _ := s.Lookup(name)
	return v
}

func (s *Store) Lookup(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

func (s *Store) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Snapshot returns a copy of the unmasked values.
func (s *Store) Snapshot() Data {
	if s == nil {
		return Data{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Keys returns the stored field names in lexical order.
func (s *Store) Keys() []string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Masked returns the masked projection of a stored value. The stored value is left untouched.
func (s *Store) Masked(name string) string {
	v, ok := s.Lookup(name)
	if !ok {
		return ""
	}
	return s.mask(name, v)
}

// MaskedSnapshot returns a copy of the values with sensitive ones masked.
func (s *Store) MaskedSnapshot() Data {
	snap := s.Snapshot()
	for k, v := range snap {
		snap[k] = s.mask(k, v)
	}
	return snap
}

func (s *Store) mask(name, value string) string {
	if s.masker == nil {
		return masking.Mask(value, masking.Masked)
	}
	return s.masker.Mask(name, value)
}

func (s *Store) AddDiagnostic(d Diagnostic) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append(s.diagnostics, d)
}

// Diagnostics returns the diagnostics recorded so far, in order.
func (s *Store) Diagnostics() []Diagnostic {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Diagnostic(nil), s.diagnostics...)
}
