package engine

import (
	"context"
	"time"

	"taskrelay/internal/identity"
	"taskrelay/internal/messages"
)

// RunTask implements the Run Protocol of spec.md §4.7.
func (e *Engine) RunTask(ctx context.Context, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.resolve(label)
	if err != nil {
		return err
	}

	topmost := e.topmostAncestorForRun(id)

	e.emit(messages.DismissTaskGroup, map[string]any{"label": string(topmost)})

	group := append([]identity.TaskID{topmost}, e.hierarchy.AllDescendants(topmost)...)
	for _, node := range group {
		e.state.ClearCancellation(node)
		e.state.Clear(node)
		e.state.ExitStopping(node)
		if parent, ok := e.hierarchy.FindParent(node); ok {
			e.hierarchy.RemoveChild(parent, node)
		}
	}

	if err := e.persistence.DismissCompletedTaskTree(topmost); err != nil {
		e.notePersistenceErr("dismissCompletedTaskTree", topmost, err)
	}

	task, ok := e.taskByID(id)
	if ok {
		e.hierarchy.RegisterDependencyTree(id, task, e.configLoader(), e.depLookup(), e.tasksByIDSnapshot(), nil)
	}

	handle, err := e.runtime.ExecuteTask(ctx, id)
	if err != nil {
		return &HostCallFailedError{Op: "executeTask", Err: err}
	}
	e.state.StartRunning(id, time.Now(), handle, false)

	if err := e.persistence.AddRecentlyUsed(id); err != nil {
		e.notePersistenceErr("addRecentlyUsed", id, err)
	}
	return nil
}

// topmostAncestorForRun finds the highest ancestor of id in the live
// hierarchy; if id has no live parent, it falls back to walking persisted
// completedTasks parent links, so re-running a grandchild whose parent
// group has long since finished still dismisses the right stale group
// (spec.md §4.7 step 2).
func (e *Engine) topmostAncestorForRun(id identity.TaskID) identity.TaskID {
	if live := e.hierarchy.TopmostAncestor(id); live != id {
		return live
	}

	completed, err := e.persistence.GetPersistedCompletedTasks()
	if err != nil {
		log.Warn("getPersistedCompletedTasks failed while resolving topmost ancestor for %s: %v", id, err)
		return id
	}

	cur := id
	visited := map[identity.TaskID]struct{}{cur: {}}
	for {
		found := identity.TaskID("")
		for parentID, result := range completed {
			for _, sub := range result.Subtasks {
				if sub == cur {
					found = parentID
					break
				}
			}
			if found != "" {
				break
			}
		}
		if found == "" {
			return cur
		}
		if _, seen := visited[found]; seen {
			return cur
		}
		visited[found] = struct{}{}
		cur = found
	}
}
