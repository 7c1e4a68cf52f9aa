package stepdef

import "sync"

// Scope is the mutable state shared between the steps of a single scenario.
// It is created fresh before the first step and discarded after the last; a
// When step typically writes into it and a Then step reads and asserts.
type Scope struct {
	mu   sync.RWMutex
	vals map[string]any
}

// NewScope builds a scope seeded with the given string variables.
func NewScope(vars map[string]string) *Scope {
	sc := &Scope{vals: make(map[string]any, len(vars))}
	for k, v := range vars {
		sc.vals[k] = v
	}
	return sc
}

// Set stores a value under key, replacing any previous value.
func (s *Scope) Set(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = val
}

// Get returns the value under key.
func (s *Scope) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

// String returns the value under key as a string, or "" when absent.
func (s *Scope) String(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return ""
}

// Int returns the value under key as an int, or 0 when absent or non-int.
func (s *Scope) Int(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	if n, ok := v.(int); ok {
		return n
	}
	return 0
}

// Delete removes key from the scope.
func (s *Scope) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vals, key)
}

// Values returns a shallow copy of the scope contents, e.g. as an
// expression-evaluation environment.
func (s *Scope) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out
}
