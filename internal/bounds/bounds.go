// Package bounds keeps the operator's search configuration: per-parameter
// [min,max] optimization bounds, the most recently proposed setpoints, and
// the last completed search result.
package bounds

import (
	"fmt"
	"sync"

	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/search"
)

// Store holds search bounds and proposed setpoints. Reset clears bounds,
// setpoints and the stored result together; the UI must never pair bounds
// from one run with setpoints from another.
type Store struct {
	mu        sync.RWMutex
	reg       *registry.Registry
	bounds    map[string]search.Bounds
	setpoints map[string]float64
	result    *search.Result
}

func New(reg *registry.Registry) *Store {
	s := &Store{reg: reg}
	s.resetLocked()
	return s
}

// resetLocked restores catalog defaults. Callers hold the write lock (or are
// the constructor).
func (s *Store) resetLocked() {
	s.bounds = make(map[string]search.Bounds)
	for _, p := range s.reg.All() {
		s.bounds[p.ID] = search.Bounds{Min: p.Min, Max: p.Max}
	}
	s.setpoints = make(map[string]float64)
	s.result = nil
}

// Bounds returns a copy of the current bounds map.
func (s *Store) Bounds() map[string]search.Bounds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]search.Bounds, len(s.bounds))
	for id, b := range s.bounds {
		out[id] = b
	}
	return out
}

// BoundsFor returns one parameter's bounds.
func (s *Store) BoundsFor(id string) (search.Bounds, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bounds[id]
	return b, ok
}

// SetBounds replaces several bounds atomically: either every entry is valid
// and applied, or nothing changes.
func (s *Store) SetBounds(update map[string]search.Bounds) error {
	for id, b := range update {
		if _, ok := s.reg.Get(id); !ok {
			return fmt.Errorf("unknown parameter %q", id)
		}
		if b.Min > b.Max {
			return fmt.Errorf("inverted bounds for %s: [%g, %g]", id, b.Min, b.Max)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range update {
		s.bounds[id] = b
	}
	return nil
}

// SetBound updates a single parameter's bounds.
func (s *Store) SetBound(id string, b search.Bounds) error {
	return s.SetBounds(map[string]search.Bounds{id: b})
}

// Setpoints returns a copy of the proposed setpoint map.
func (s *Store) Setpoints() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.setpoints))
	for id, v := range s.setpoints {
		out[id] = v
	}
	return out
}

// SetSetpoints replaces the proposed setpoint map wholesale.
func (s *Store) SetSetpoints(sp map[string]float64) error {
	for id := range sp {
		if _, ok := s.reg.Get(id); !ok {
			return fmt.Errorf("unknown parameter %q", id)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setpoints = make(map[string]float64, len(sp))
	for id, v := range sp {
		s.setpoints[id] = v
	}
	return nil
}

// Result returns the last completed search result, or nil.
func (s *Store) Result() *search.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// ApplyResult stores a completed search run and adopts its best MV vector as
// the proposed setpoints.
func (s *Store) ApplyResult(result *search.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	s.setpoints = make(map[string]float64, len(result.BestMVValues))
	for id, v := range result.BestMVValues {
		s.setpoints[id] = v
	}
}

// Reset restores catalog-default bounds and clears setpoints and the stored
// result in one step.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}
