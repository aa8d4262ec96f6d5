package rbac

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// Scope is a set of org unit ids. An empty scope grants no access.
type Scope map[uuid.UUID]struct{}

// NewScope builds a scope from ids
func NewScope(ids ...uuid.UUID) Scope {
	s := make(Scope, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the scope
func (s Scope) Contains(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// IsEmpty reports whether the scope grants nothing
func (s Scope) IsEmpty() bool {
	return len(s) == 0
}

// Len returns the number of units in the scope
func (s Scope) Len() int {
	return len(s)
}

// Merge adds every id of other into s
func (s Scope) Merge(other Scope) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// IDs returns the ids sorted by byte order so callers get stable output
func (s Scope) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}
