package rbac

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"approval-workflow-service/internal/models"
)

// OrgHierarchy is a read-only snapshot of the org tree. Descendant sets are
// memoized per unit.
type OrgHierarchy struct {
	parents  map[uuid.UUID]*uuid.UUID
	children map[uuid.UUID][]uuid.UUID
	version  uint64

	mu   sync.RWMutex
	memo map[uuid.UUID]Scope
}

// NewOrgHierarchy indexes units and rejects cyclic parent chains
func NewOrgHierarchy(units []models.OrgUnit) (*OrgHierarchy, error) {
	h := &OrgHierarchy{
		parents:  make(map[uuid.UUID]*uuid.UUID, len(units)),
		children: make(map[uuid.UUID][]uuid.UUID, len(units)),
		memo:     make(map[uuid.UUID]Scope),
	}

	for _, unit := range units {
		h.parents[unit.ID] = unit.ParentID
	}
	for _, unit := range units {
		if unit.ParentID == nil {
			continue
		}
		if *unit.ParentID == unit.ID {
			return nil, fmt.Errorf("%w: unit %s is its own parent", ErrCyclicHierarchy, unit.ID)
		}
		h.children[*unit.ParentID] = append(h.children[*unit.ParentID], unit.ID)
	}

	if err := h.detectCycles(); err != nil {
		return nil, err
	}
	h.version = treeVersion(units)
	return h, nil
}

// treeVersion hashes the parent links of units in a stable order, so two
// loads of the same tree agree on the version.
func treeVersion(units []models.OrgUnit) uint64 {
	sorted := make([]models.OrgUnit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})

	d := xxhash.New()
	for i := range sorted {
		parent := uuid.Nil
		if sorted[i].ParentID != nil {
			parent = *sorted[i].ParentID
		}
		d.Write(sorted[i].ID[:])
		d.Write(parent[:])
	}
	return d.Sum64()
}

// Version identifies the shape of the tree. Snapshots with the same units
// and parent links share a version.
func (h *OrgHierarchy) Version() uint64 {
	return h.version
}

// detectCycles walks every parent chain once, colouring nodes so each chain is
// visited in linear time overall.
func (h *OrgHierarchy) detectCycles() error {
	const (
		unvisited = iota
		inPath
		done
	)
	state := make(map[uuid.UUID]int, len(h.parents))

	for start := range h.parents {
		if state[start] == done {
			continue
		}

		var path []uuid.UUID
		current := start
		for {
			if state[current] == done {
				break
			}
			if state[current] == inPath {
				return fmt.Errorf("%w: unit %s", ErrCyclicHierarchy, current)
			}
			state[current] = inPath
			path = append(path, current)

			parent, known := h.parents[current]
			if !known || parent == nil {
				break
			}
			if _, exists := h.parents[*parent]; !exists {
				// Dangling parent reference; the unit acts as a root.
				break
			}
			current = *parent
		}

		for _, id := range path {
			state[id] = done
		}
	}
	return nil
}

// Exists reports whether the unit is part of the snapshot
func (h *OrgHierarchy) Exists(id uuid.UUID) bool {
	_, ok := h.parents[id]
	return ok
}

// Len returns the number of units in the snapshot
func (h *OrgHierarchy) Len() int {
	return len(h.parents)
}

// AllUnits returns the scope of every org unit
func (h *OrgHierarchy) AllUnits() Scope {
	all := make(Scope, len(h.parents))
	for id := range h.parents {
		all[id] = struct{}{}
	}
	return all
}

// DescendantsOf returns id and all of its descendants. Unknown ids resolve to
// an empty scope.
func (h *OrgHierarchy) DescendantsOf(id uuid.UUID) Scope {
	if !h.Exists(id) {
		return Scope{}
	}

	h.mu.RLock()
	cached, ok := h.memo[id]
	h.mu.RUnlock()
	if ok {
		return clone(cached)
	}

	result := Scope{id: {}}
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range h.children[current] {
			if result.Contains(child) {
				continue
			}
			result[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	h.mu.Lock()
	h.memo[id] = result
	h.mu.Unlock()

	return clone(result)
}

// ScopeOf returns every unit the user may act within. The top role sees all
// units without walking the tree.
func (h *OrgHierarchy) ScopeOf(user *models.User) Scope {
	if user == nil {
		return Scope{}
	}
	if user.Role == models.TopRole {
		return h.AllUnits()
	}

	scope := h.DescendantsOf(user.PrimaryOrgUnitID)
	for _, assignment := range user.Assignments {
		scope.Merge(h.DescendantsOf(assignment.OrgUnitID))
	}
	return scope
}

func clone(s Scope) Scope {
	out := make(Scope, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// HierarchyStore holds the current hierarchy snapshot. Readers never block a
// refresh.
type HierarchyStore struct {
	current atomic.Pointer[OrgHierarchy]
}

// NewHierarchyStore creates a store seeded with h
func NewHierarchyStore(h *OrgHierarchy) *HierarchyStore {
	s := &HierarchyStore{}
	s.current.Store(h)
	return s
}

// Current returns the active snapshot
func (s *HierarchyStore) Current() *OrgHierarchy {
	return s.current.Load()
}

// Replace swaps in a new snapshot
func (s *HierarchyStore) Replace(h *OrgHierarchy) {
	s.current.Store(h)
}
