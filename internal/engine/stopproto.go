package engine

import (
	"context"

	"taskrelay/internal/host"
	"taskrelay/internal/identity"
	"taskrelay/internal/messages"
)

// StopTask implements the multi-phase Stop Protocol of spec.md §4.6.
func (e *Engine) StopTask(ctx context.Context, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.resolve(label)
	if err != nil {
		// Unknown label: treated the same as "already stopped" — emit the
		// terminal state and return without error (spec.md §8 boundary
		// behavior: "stopTask on an unknown ID emits exactly one
		// taskStateChanged{state:stopped}").
		e.emit(messages.TaskStateChanged, map[string]any{"state": "stopped"})
		return nil
	}

	if !e.state.IsTracked(id) || e.state.IsStopping(id) {
		e.emit(messages.TaskStateChanged, map[string]any{"taskLabel": string(id), "state": "stopped"})
		return nil
	}

	if !e.state.EnterStopping(id) {
		return nil
	}
	e.state.Cancel(id)
	e.state.Transition(id, Stopping)
	e.emit(messages.TaskStateChanged, map[string]any{
		"taskLabel": string(id),
		"state":     string(Stopping),
		"canStop":   false,
		"canFocus":  false,
	})

	_, _, handle, _, _ := e.state.Get(id)
	if handle == nil {
		handle = e.adoptHandleFromHost(ctx, id)
	}

	descendants := e.hierarchy.AllDescendants(id)

	rootTerminateFailed := false
	for _, d := range descendants {
		e.state.Cancel(d)
		_, _, dHandle, _, _ := e.state.Get(d)
		if dHandle == nil {
			dHandle = e.adoptHandleFromHost(ctx, d)
		}
		if dHandle != nil {
			if err := dHandle.Terminate(ctx); err != nil {
				log.Warn("terminate(%s) failed during stop sweep of %s: %v", d, id, err)
			}
		}
		e.state.Clear(d)
		e.emit(messages.TaskEnded, map[string]any{
			"taskLabel": string(d),
			"exitCode":  130,
			"duration":  0,
			"subtasks":  nil,
		})
	}

	if handle != nil {
		if err := handle.Terminate(ctx); err != nil {
			log.Warn("terminate(%s) failed: %v", id, err)
			rootTerminateFailed = true
		}
	} else {
		rootTerminateFailed = true
	}

	if rootTerminateFailed || len(descendants) > 0 {
		e.sweepTerminals(ctx, id, descendants)
	}

	e.state.Clear(id)
	e.state.ExitStopping(id)
	// id's own Cancellation-Set entry is deliberately left in place: it is
	// only consumed the next time a host event for id arrives (start()
	// Guard B), which is what lets a stray late start after the stop
	// protocol has already returned still get silenced.
	for _, d := range descendants {
		e.state.ClearCancellation(d)
	}

	e.emit(messages.TaskStateChanged, map[string]any{"taskLabel": string(id), "state": "stopped"})
	e.emit(messages.TaskEnded, map[string]any{"taskLabel": string(id), "exitCode": 130})

	if rootTerminateFailed {
		e.telemetry.StopProtocolFailed.Inc()
	} else {
		e.telemetry.StopProtocolCompleted.Inc()
	}
	return nil
}

// adoptHandleFromHost performs the best-effort active-executions lookup
// spec.md §4.6 step 4 describes for a task whose in-memory record carries
// no execution handle (a proxy parent).
func (e *Engine) adoptHandleFromHost(ctx context.Context, id identity.TaskID) host.Handle {
	active, err := e.runtime.ActiveExecutions(ctx)
	if err != nil {
		log.Warn("activeExecutions lookup failed while adopting handle for %s: %v", id, err)
		return nil
	}
	for _, a := range active {
		if a.ID == id {
			e.state.AdoptHandle(id, a.Handle)
			return a.Handle
		}
	}
	return nil
}

// sweepTerminals implements spec.md §4.6 phase 3: enumerate host terminals,
// interrupt then dispose every one whose display name contains the short
// name of the root or any descendant, case-insensitively.
func (e *Engine) sweepTerminals(ctx context.Context, root identity.TaskID, descendants []identity.TaskID) {
	names := []string{shortName(root)}
	for _, d := range descendants {
		names = append(names, shortName(d))
	}

	terminals, err := e.runtime.Terminals(ctx)
	if err != nil {
		log.Warn("terminals enumeration failed during sweep: %v", err)
		return
	}

	disposed := 0
	for _, t := range terminals {
		if !matchesAnyShortName(t.DisplayName, names) {
			continue
		}
		if err := e.runtime.InterruptTerminal(ctx, t.ID); err != nil {
			log.Warn("interruptTerminal(%s) failed: %v", t.ID, err)
		}
		if err := e.runtime.DisposeTerminal(ctx, t.ID); err != nil {
			log.Warn("disposeTerminal(%s) failed: %v", t.ID, err)
			continue
		}
		disposed++
	}
	log.Debug("terminal sweep for %s disposed %d terminal(s)", root, disposed)
}
