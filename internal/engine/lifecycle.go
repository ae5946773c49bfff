package engine

import (
	"context"
	"fmt"
	"time"

	"taskrelay/internal/host"
	"taskrelay/internal/identity"
	"taskrelay/internal/messages"
	"taskrelay/internal/taskmodel"
)

// OnHostStart is the entry point the host adapter calls when it observes a
// task starting; it pushes onto the single-consumer event queue so parent-
// before-child message ordering is preserved (spec.md §4.4).
func (e *Engine) OnHostStart(ev host.StartEvent) {
	e.queue.Push(ev)
}

// OnHostEnd handles a host end event directly; end events are leaves in
// causal order and need no queueing (spec.md §4.4).
func (e *Engine) OnHostEnd(ev host.EndEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handleEnd(ev)
}

// handleStart implements spec.md §4.5 start(ev). It runs under e.mu via the
// event queue's single consumer goroutine serialization; no two start
// events are ever processed concurrently.
func (e *Engine) handleStart(ev host.StartEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func(began time.Time) { e.telemetry.HandleStartDuration.Observe(time.Since(began)) }(time.Now())

	id := ev.ID

	// Guard A: duplicate host event for an already-running, already-handled task.
	if state, _, handle, _, ok := e.state.Get(id); ok && state == Running && handle != nil {
		log.Debug("duplicate start event for %s dropped", id)
		return
	}

	// Guard B: this ID's next event must be silently ignored per the stop protocol.
	if e.state.ConsumeCancellation(id) {
		log.Debug("cancelled start event for %s dropped", id)
		return
	}

	startTime := time.Now()
	e.state.StartRunning(id, startTime, ev.Handle, false)
	if err := e.persistence.ClearCompletedTask(id); err != nil {
		e.notePersistenceErr("clearCompletedTask", id, err)
	}

	task, haveTask := e.taskByID(id)
	if haveTask {
		// The task's definition may have just been (re)created on disk; drop
		// any stale dependency-list entry before re-registering its tree.
		e.depsCache.Invalidate(id)
		e.hierarchy.RegisterDependencyTree(id, task, e.configLoader(), e.depLookup(), e.tasksByIDSnapshot(), nil)
	}

	e.hierarchy.DiscoverParents(id, e.activeExecutionsForDiscovery())

	var parentTask identity.TaskID
	if parent, ok := e.hierarchy.FindParent(id); ok {
		e.ensureParentRunning(parent)
		_, parentStartTime, _, _, _ := e.state.Get(parent)
		e.emit(messages.SubtaskStarted, map[string]any{
			"parent":          string(parent),
			"child":           string(id),
			"parentStartTime": parentStartTime,
		})
		parentTask = parent
	}

	history, _ := e.persistence.GetTaskHistory(id)
	isFirstRun := history.Count == 0

	payload := map[string]any{
		"taskLabel":  string(id),
		"startTime":  startTime,
		"isFirstRun": isFirstRun,
		"subtasks":   e.hierarchy.Children(id),
		"state":      string(Running),
	}
	if history.Count > 0 {
		payload["avgDuration"] = history.AverageDuration()
	}
	if parentTask != "" {
		payload["parentTask"] = string(parentTask)
	}
	e.emit(messages.TaskStarted, payload)
}

// ensureParentRunning synthesizes a "proxy parent": a task the view should
// show as running even though the host hasn't emitted a start event for it
// yet (spec.md §4.5). Must be called with e.mu already held; it never
// re-acquires it.
func (e *Engine) ensureParentRunning(pid identity.TaskID) {
	if e.state.IsRunning(pid) {
		return
	}

	// The in-flight-setup map: dedupe concurrent synthesis attempts for the
	// same proxy parent. With e.mu serializing all top-level entry points
	// this never actually races today, but it keeps the component faithful
	// to spec.md §3's In-flight-setup Map if a future caller enters the
	// engine without going through mu (e.g. a direct proxy-resolution RPC).
	e.setupGroup.Do(string(pid), func() (any, error) {
		e.state.StartRunning(pid, time.Now(), nil, true)

		if grandparent, ok := e.hierarchy.FindParent(pid); ok {
			e.ensureParentRunning(grandparent)
			e.emit(messages.SubtaskStarted, map[string]any{
				"parent": string(grandparent),
				"child":  string(pid),
			})
		}

		e.emit(messages.TaskStarted, map[string]any{
			"taskLabel":         string(pid),
			"isDependencyProxy": true,
			"subtasks":          e.hierarchy.Children(pid),
		})
		e.emit(messages.TaskStateChanged, map[string]any{
			"taskLabel": string(pid),
			"state":     string(Running),
			"canStop":   true,
			"canFocus":  false,
		})
		return nil, nil
	})
}

// handleEnd implements spec.md §4.5 end(ev). Caller must hold e.mu.
func (e *Engine) handleEnd(ev host.EndEvent) {
	id := ev.ID
	exitCode := ev.ExitCode
	failed := exitCode != 0

	state, startTime, _, _, tracked := e.state.Get(id)
	if !tracked {
		log.Debug("end event for untracked task %s dropped", id)
		return
	}
	if state == Stopping || e.state.ConsumeCancellation(id) {
		e.state.Clear(id)
		return
	}

	subtasks := e.hierarchy.Children(id)
	parent, hasParent := e.hierarchy.FindParent(id)

	duration := time.Since(startTime)
	rec := taskmodel.ExecutionRecord{ID: id, ExitCode: exitCode, Failed: failed, Timestamp: time.Now(), Duration: duration}
	if err := e.persistence.AddExecutionRecord(rec); err != nil {
		e.notePersistenceErr("addExecutionRecord", id, err)
	}
	if !failed {
		if err := e.persistence.UpdateTaskHistory(id, duration); err != nil {
			e.notePersistenceErr("updateTaskHistory", id, err)
		}
	}

	result := taskmodel.Result{
		ExitCode:  exitCode,
		Failed:    failed,
		Timestamp: time.Now(),
		Duration:  duration,
		Subtasks:  subtasks,
	}
	if hasParent {
		result.ParentTask = parent
	}
	if err := e.persistence.SaveCompletedTask(id, result); err != nil {
		e.notePersistenceErr("saveCompletedTask", id, err)
	}

	if hasParent {
		e.emit(messages.SubtaskEnded, map[string]any{
			"parent":   string(parent),
			"child":    string(id),
			"exitCode": exitCode,
			"failed":   failed,
		})
		if failed {
			e.propagateFailure(parent, id, exitCode)
		}
	}

	e.state.Clear(id)

	payload := map[string]any{
		"taskLabel": string(id),
		"exitCode":  exitCode,
		"failed":    failed,
		"duration":  duration,
		"subtasks":  subtasks,
	}
	if hasParent {
		payload["parentTask"] = string(parent)
	}
	if failed {
		payload["reason"] = fmt.Sprintf("exit code %d", exitCode)
	}
	e.emit(messages.TaskCompleted, payload)
}

// propagateFailure recursively marks parent and every ancestor above it as
// synthetically failed, per spec.md §4.5. Caller must hold e.mu.
func (e *Engine) propagateFailure(parent, failedChild identity.TaskID, childExitCode int) {
	_, startTime, handle, _, tracked := e.state.Get(parent)
	if !tracked {
		startTime = time.Now()
	}
	duration := time.Since(startTime)

	grandparent, hasGrandparent := e.hierarchy.FindParent(parent)
	reason := fmt.Sprintf("Dependency failed: %s (exit code %d)", failedChild, childExitCode)

	result := taskmodel.Result{
		ExitCode:         -1,
		Failed:           true,
		Reason:           reason,
		FailedDependency: failedChild,
		Timestamp:        time.Now(),
		Duration:         duration,
		Subtasks:         e.hierarchy.Children(parent),
	}
	if hasGrandparent {
		result.ParentTask = grandparent
	}
	if err := e.persistence.SaveCompletedTask(parent, result); err != nil {
		e.notePersistenceErr("saveCompletedTask", parent, err)
	}

	if handle != nil {
		if err := handle.Terminate(context.Background()); err != nil {
			log.Warn("terminate(%s) failed during failure propagation: %v", parent, err)
		}
	}

	rec := taskmodel.ExecutionRecord{ID: parent, ExitCode: -1, Failed: true, Timestamp: time.Now(), Duration: duration}
	if err := e.persistence.AddExecutionRecord(rec); err != nil {
		e.notePersistenceErr("addExecutionRecord", parent, err)
	}

	payload := map[string]any{
		"taskLabel":        string(parent),
		"exitCode":         -1,
		"failed":           true,
		"reason":           reason,
		"failedDependency": string(failedChild),
		"duration":         duration,
		"subtasks":         result.Subtasks,
	}
	if hasGrandparent {
		payload["parentTask"] = string(grandparent)
	}
	e.emit(messages.TaskCompleted, payload)

	e.state.Clear(parent)

	if hasGrandparent {
		e.propagateFailure(grandparent, parent, -1)
	}
}

// notePersistenceErr logs a failed persistence call and records it on the
// telemetry registry's error counter, per spec.md §7 PersistenceFailed:
// logged, never thrown across the engine boundary.
func (e *Engine) notePersistenceErr(op string, id identity.TaskID, err error) {
	log.Warn("%s(%s) failed: %v", op, id, err)
	e.telemetry.PersistenceErrors.Inc()
}
