// Package hierarchy maintains the in-memory parent→children task DAG: a
// mutable analogue of the teacher's internal/dag.TaskGraph, canonically
// ordered so descendant/ancestor listings and stop-protocol sweeps are
// reproducible, but able to grow and shrink as the host emits events.
package hierarchy

import (
	"sort"
	"sync"

	"taskrelay/internal/depreader"
	"taskrelay/internal/identity"
)

// Store is the in-memory parent->children task hierarchy described in
// spec.md §3 (Hierarchy) and §4.3. A child has at most one direct parent at
// any instant; removing a parent's last child deletes the parent entry.
type Store struct {
	mu       sync.Mutex
	children map[identity.TaskID]map[identity.TaskID]struct{}
	parent   map[identity.TaskID]identity.TaskID
}

// New returns an empty hierarchy store.
func New() *Store {
	return &Store{
		children: make(map[identity.TaskID]map[identity.TaskID]struct{}),
		parent:   make(map[identity.TaskID]identity.TaskID),
	}
}

// AddChild links child under parent. Idempotent. A child already linked to a
// different parent is re-parented to the new one, preserving the "at most
// one direct parent" invariant.
func (s *Store) AddChild(parent, child identity.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addChildLocked(parent, child)
}

func (s *Store) addChildLocked(parent, child identity.TaskID) {
	if prev, ok := s.parent[child]; ok && prev != parent {
		s.removeChildLocked(prev, child)
	}
	set, ok := s.children[parent]
	if !ok {
		set = make(map[identity.TaskID]struct{})
		s.children[parent] = set
	}
	set[child] = struct{}{}
	s.parent[child] = parent
}

// RemoveChild unlinks child from parent. If parent's set becomes empty, the
// parent entry is deleted entirely (spec.md §4.3).
func (s *Store) RemoveChild(parent, child identity.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeChildLocked(parent, child)
}

func (s *Store) removeChildLocked(parent, child identity.TaskID) {
	set, ok := s.children[parent]
	if !ok {
		return
	}
	delete(set, child)
	if s.parent[child] == parent {
		delete(s.parent, child)
	}
	if len(set) == 0 {
		delete(s.children, parent)
	}
}

// Children returns a canonically sorted snapshot of parent's direct children.
func (s *Store) Children(parent identity.TaskID) []identity.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.childrenLocked(parent)
}

func (s *Store) childrenLocked(parent identity.TaskID) []identity.TaskID {
	set, ok := s.children[parent]
	if !ok {
		return nil
	}
	out := make([]identity.TaskID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// FindParent performs a direct lookup (backed by the reverse index kept in
// sync by AddChild/RemoveChild); it returns at most one ID per the
// "at most one direct parent" invariant.
func (s *Store) FindParent(child identity.TaskID) (identity.TaskID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parent[child]
	return p, ok
}

// Ancestors performs an iterative, cycle-guarded ascent from id to the
// top-most ancestor, returning the chain (id excluded, nearest-first).
func (s *Store) Ancestors(id identity.TaskID) []identity.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chain []identity.TaskID
	visited := map[identity.TaskID]struct{}{id: {}}
	cur := id
	for {
		p, ok := s.parent[cur]
		if !ok {
			break
		}
		if _, seen := visited[p]; seen {
			break
		}
		chain = append(chain, p)
		visited[p] = struct{}{}
		cur = p
	}
	return chain
}

// TopmostAncestor returns the highest ancestor of id, or id itself if it has
// no parent.
func (s *Store) TopmostAncestor(id identity.TaskID) identity.TaskID {
	chain := s.Ancestors(id)
	if len(chain) == 0 {
		return id
	}
	return chain[len(chain)-1]
}

// AllDescendants performs a depth-first, visited-guarded traversal and
// returns every descendant of id, canonically sorted.
func (s *Store) AllDescendants(id identity.TaskID) []identity.TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	visited := make(map[identity.TaskID]struct{})
	var out []identity.TaskID
	var walk func(identity.TaskID)
	walk = func(cur identity.TaskID) {
		for _, child := range s.childrenLocked(cur) {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	sortIDs(out)
	return out
}

// DependencyLookup resolves a dependency's bare name to a TaskID against the
// host's task list, exactly as identity.Resolve does for user labels.
type DependencyLookup func(name string) (identity.TaskID, bool)

// RegisterDependencyTree reads id's declared dependencies and links each
// resolved dependency as a child of id, recursing into each one. visited
// prevents infinite recursion on a cyclical or re-encountered declaration.
func (s *Store) RegisterDependencyTree(
	id identity.TaskID,
	task identity.HostTask,
	loadConfig depreader.WorkspaceConfigLoader,
	lookup DependencyLookup,
	tasksByID map[identity.TaskID]identity.HostTask,
	visited map[identity.TaskID]struct{},
) {
	if visited == nil {
		visited = make(map[identity.TaskID]struct{})
	}
	if _, seen := visited[id]; seen {
		return
	}
	visited[id] = struct{}{}

	deps := depreader.Read(task, loadConfig)
	for _, name := range deps.Names {
		depID, ok := lookup(name)
		if !ok {
			continue
		}
		s.AddChild(id, depID)
		depTask, ok := tasksByID[depID]
		if !ok {
			continue
		}
		s.RegisterDependencyTree(depID, depTask, loadConfig, lookup, tasksByID, visited)
	}
}

// ActiveExecution is the subset of execution-handle bookkeeping that
// DiscoverParents needs to see from the state store, to avoid a hierarchy->
// state store import cycle.
type ActiveExecution struct {
	ID   identity.TaskID
	Deps []string // dependency names declared by this execution, from depreader
}

// DiscoverParents handles a task that started "out of nowhere": it scans
// active executions for one that lists id's name among its declared
// dependencies. Matching tolerates a source mismatch between the registered
// dependency name and id's actual source by falling back to name-only
// comparison; on a label match, the actual ID is registered directly so
// subsequent lookups no longer need the fallback.
func (s *Store) DiscoverParents(id identity.TaskID, active []ActiveExecution) (identity.TaskID, bool) {
	if _, ok := s.FindParent(id); ok {
		return identity.TaskID(""), false
	}
	name := id.Name()
	for _, exec := range active {
		for _, dep := range exec.Deps {
			if dep != name {
				continue
			}
			s.AddChild(exec.ID, id)
			return exec.ID, true
		}
	}
	return identity.TaskID(""), false
}

func sortIDs(ids []identity.TaskID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
