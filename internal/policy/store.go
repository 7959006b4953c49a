package policy

import (
	"github.com/roach88/psbthsm/internal/model"
)

type entry struct {
	id     ID
	policy Policy
}

// Store is a set of policies keyed by identifier.
//
// INVARIANTS:
//   - No two entries share an identifier
//   - Iteration order is insertion order (evaluation results never depend on it)
//   - A failed Add or Remove leaves the store unchanged
//
// Not safe for concurrent mutation.
type Store struct {
	entries []entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add inserts p and returns its identifier.
// Returns ErrDuplicateEntry if a policy with the same identifier exists.
func (s *Store) Add(p Policy) (ID, error) {
	id := p.ID()
	if s.Has(id) {
		return id, model.ErrDuplicateEntry
	}
	s.entries = append(s.entries, entry{id: id, policy: p})
	return id, nil
}

// Remove deletes the policy with identifier id.
// Returns ErrNotFound if absent.
func (s *Store) Remove(id ID) error {
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return nil
		}
	}
	return model.ErrNotFound
}

// Get returns the policy with identifier id.
func (s *Store) Get(id ID) (Policy, bool) {
	for _, e := range s.entries {
		if e.id == id {
			return e.policy, true
		}
	}
	return Policy{}, false
}

// Has reports whether a policy with identifier id is stored.
func (s *Store) Has(id ID) bool {
	_, ok := s.Get(id)
	return ok
}

// Len returns the number of stored policies.
func (s *Store) Len() int {
	return len(s.entries)
}

// IDs returns the stored identifiers in insertion order.
func (s *Store) IDs() []ID {
	ids := make([]ID, len(s.entries))
	for i, e := range s.entries {
		ids[i] = e.id
	}
	return ids
}

// Policies returns a copy of the stored policies in insertion order.
func (s *Store) Policies() []Policy {
	policies := make([]Policy, len(s.entries))
	for i, e := range s.entries {
		policies[i] = e.policy
	}
	return policies
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	return &Store{entries: entries}
}
