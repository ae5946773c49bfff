package engine

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"taskrelay/internal/depreader"
	"taskrelay/internal/hierarchy"
	"taskrelay/internal/host"
	"taskrelay/internal/identity"
	"taskrelay/internal/logging"
	"taskrelay/internal/messages"
	"taskrelay/internal/persistence"
	"taskrelay/internal/telemetry"
)

var log = logging.NewComponentLogger("engine")

// Engine wires the Hierarchy Store, State Store, Persistence Layer, Message
// Emitter, and Host runtime together into the Task Orchestration Engine of
// spec.md §2. Per spec.md §5 it is single-threaded and cooperative at this
// layer: mu serializes every lifecycle/stop/run entry point so the engine
// behaves as one logical executor regardless of how many goroutines call in.
type Engine struct {
	mu sync.Mutex

	runtime     host.Runtime
	hierarchy   *hierarchy.Store
	state       *Store
	persistence *persistence.Layer
	emitter     *messages.Emitter
	queue       *EventQueue

	// setupGroup deduplicates concurrent ensureParentRunning attempts for
	// the same proxy-parent ID, the in-flight-setup map of spec.md §3.
	setupGroup singleflight.Group

	tasksMu sync.RWMutex
	tasks   map[identity.TaskID]identity.HostTask

	telemetry *telemetry.Registry
	depsCache *depreader.CachedReader
}

// New wires a ready Engine and starts its event queue consumer.
func New(runtime host.Runtime, persist *persistence.Layer, emitter *messages.Emitter) *Engine {
	e := &Engine{
		runtime:     runtime,
		hierarchy:   hierarchy.New(),
		state:       NewStore(),
		persistence: persist,
		emitter:     emitter,
		tasks:       make(map[identity.TaskID]identity.HostTask),
		telemetry:   telemetry.NewRegistry(),
		depsCache:   depreader.NewCachedReader(256),
	}
	e.queue = NewEventQueue(e.handleStart, e.telemetry.QueueDepth)
	return e
}

// Telemetry exposes the engine's metric registry, for a CLI "stats" surface
// or the view transport to report on.
func (e *Engine) Telemetry() *telemetry.Registry { return e.telemetry }

// Close stops the event queue, waiting for already-queued start events to
// finish. The persistence layer is not closed here; its owner closes it.
func (e *Engine) Close() {
	e.queue.Close()
}

// WireHost spawns a goroutine forwarding the runtime's start/end event
// channels into the engine until ctx is cancelled.
func (e *Engine) WireHost(ctx context.Context) {
	starts, ends := e.runtime.Events()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-starts:
				if !ok {
					return
				}
				e.OnHostStart(ev)
			case ev, ok := <-ends:
				if !ok {
					return
				}
				e.OnHostEnd(ev)
			}
		}
	}()
}

// RefreshTasks re-fetches the host's task list into the local cache used by
// identifier resolution and dependency-tree registration.
func (e *Engine) RefreshTasks(ctx context.Context) error {
	tasks, err := e.runtime.FetchTasks(ctx)
	if err != nil {
		return &HostCallFailedError{Op: "fetchTasks", Err: err}
	}
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	e.tasks = make(map[identity.TaskID]identity.HostTask, len(tasks))
	for _, t := range tasks {
		e.tasks[t.ID] = t
	}
	return nil
}

func (e *Engine) taskList() []identity.HostTask {
	e.tasksMu.RLock()
	defer e.tasksMu.RUnlock()
	out := make([]identity.HostTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) taskByID(id identity.TaskID) (identity.HostTask, bool) {
	e.tasksMu.RLock()
	defer e.tasksMu.RUnlock()
	t, ok := e.tasks[id]
	return t, ok
}

// resolve maps a user label to a canonical ID using the current task cache.
func (e *Engine) resolve(label string) (identity.TaskID, error) {
	return identity.Resolve(e.taskList(), label)
}

// Resolve is the exported form of resolve, for callers outside the engine
// package (the command dispatcher) that need the same source-precedence
// label lookup without duplicating it.
func (e *Engine) Resolve(label string) (identity.TaskID, error) {
	return e.resolve(label)
}

// Tasks returns a snapshot of the current host task cache.
func (e *Engine) Tasks() []identity.HostTask {
	return e.taskList()
}

func (e *Engine) configLoader() depreader.WorkspaceConfigLoader {
	return func(task identity.HostTask) ([]byte, bool) {
		return e.runtime.WorkspaceConfig(context.Background(), task)
	}
}

// depLookup resolves a declared dependency name to a TaskID using the same
// source-precedence rule as identity.Resolve.
func (e *Engine) depLookup() hierarchy.DependencyLookup {
	return func(name string) (identity.TaskID, bool) {
		id, err := identity.Resolve(e.taskList(), name)
		if err != nil {
			return "", false
		}
		return id, true
	}
}

// tasksByIDSnapshot returns the current task cache keyed by ID, for
// RegisterDependencyTree's recursive lookups.
func (e *Engine) tasksByIDSnapshot() map[identity.TaskID]identity.HostTask {
	e.tasksMu.RLock()
	defer e.tasksMu.RUnlock()
	out := make(map[identity.TaskID]identity.HostTask, len(e.tasks))
	for k, v := range e.tasks {
		out[k] = v
	}
	return out
}

// dependencyNames returns the declared dependency names for id, used by
// DiscoverParents to compare against a newly-started task's name.
func (e *Engine) dependencyNames(id identity.TaskID) []string {
	task, ok := e.taskByID(id)
	if !ok {
		return nil
	}
	return e.depsCache.Read(task, e.configLoader()).Names
}

// DependencyTree resolves id's declared dependency names into a nested tree
// of {id, label, dependsOn} nodes plus the declared execution order, for the
// updateTasks outbound message (spec.md §6: every task entry carries
// dependsOn:tree, dependsOrder). Cyclic declarations are cut off the same
// way RegisterDependencyTree guards recursion: a visited set scoped to this
// call, not the hierarchy store's own (separate) bookkeeping.
func (e *Engine) DependencyTree(id identity.TaskID) ([]map[string]any, depreader.Order) {
	task, ok := e.taskByID(id)
	if !ok {
		return nil, depreader.OrderParallel
	}
	deps := e.depsCache.Read(task, e.configLoader())
	tree := e.resolveDependencyTree(deps.Names, map[identity.TaskID]struct{}{id: {}})
	return tree, deps.Order
}

func (e *Engine) resolveDependencyTree(names []string, visited map[identity.TaskID]struct{}) []map[string]any {
	if len(names) == 0 {
		return nil
	}
	lookup := e.depLookup()
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		depID, ok := lookup(name)
		if !ok {
			continue
		}
		if _, seen := visited[depID]; seen {
			continue
		}
		visited[depID] = struct{}{}

		depTask, ok := e.taskByID(depID)
		if !ok {
			continue
		}
		childDeps := e.depsCache.Read(depTask, e.configLoader())
		out = append(out, map[string]any{
			"id":        string(depID),
			"label":     depTask.Name,
			"dependsOn": e.resolveDependencyTree(childDeps.Names, visited),
		})
	}
	return out
}

// activeExecutionsForDiscovery builds the hierarchy.ActiveExecution list
// DiscoverParents needs from currently-running tasks the state store knows
// about (a subset of the host's own ActiveExecutions, restricted to what
// the engine has registered, per spec.md §4.3's "scan active executions").
func (e *Engine) activeExecutionsForDiscovery() []hierarchy.ActiveExecution {
	e.tasksMu.RLock()
	ids := make([]identity.TaskID, 0, len(e.tasks))
	for id := range e.tasks {
		ids = append(ids, id)
	}
	e.tasksMu.RUnlock()

	var out []hierarchy.ActiveExecution
	for _, id := range ids {
		if !e.state.IsRunning(id) {
			continue
		}
		out = append(out, hierarchy.ActiveExecution{ID: id, Deps: e.dependencyNames(id)})
	}
	return out
}

// emit is a small convenience wrapper so lifecycle code reads closer to the
// spec's message names.
func (e *Engine) emit(t messages.Type, payload map[string]any) {
	e.emitter.Emit(t, payload)
}

func shortName(id identity.TaskID) string { return id.Name() }

// matchesAnyShortName reports whether display contains, case-insensitively,
// any of names — the predicate the stop protocol's terminal sweep applies.
func matchesAnyShortName(display string, names []string) bool {
	lower := strings.ToLower(display)
	for _, n := range names {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
