// Package host defines the boundary between the engine and the process
// runtime that actually spawns tasks, per spec.md §1/§6: a
// fetchTasks/executeTask/onStart/onEnd surface plus a per-execution
// terminate() primitive of unspecified reliability.
package host

import (
	"context"

	"taskrelay/internal/identity"
)

// Handle is the opaque, host-provided capability to terminate a running
// execution. It may be nil for proxy parents (spec.md §3 Execution Handle).
type Handle interface {
	Terminate(ctx context.Context) error
}

// StartEvent is what the host emits when a task begins running.
type StartEvent struct {
	ID     identity.TaskID
	Handle Handle
}

// EndEvent is what the host emits when a task's process exits.
type EndEvent struct {
	ID       identity.TaskID
	ExitCode int
}

// Terminal is a single open terminal/output pane the host exposes, keyed by
// a human display name (e.g. "npm: build"), used by the stop protocol's
// terminal-sweep fallback (spec.md §4.6 phase 3).
type Terminal struct {
	ID          string
	DisplayName string
}

// ActiveExecution describes a task the host currently considers running,
// used for best-effort handle adoption and parent discovery.
type ActiveExecution struct {
	ID     identity.TaskID
	Handle Handle
}

// Runtime is the port the engine drives; spec.md calls it "the host task
// runtime" and treats every method as potentially unreliable.
type Runtime interface {
	// FetchTasks returns every task the host currently knows about.
	FetchTasks(ctx context.Context) ([]identity.HostTask, error)

	// ExecuteTask asks the host to start task id, returning a handle to the
	// new execution.
	ExecuteTask(ctx context.Context, id identity.TaskID) (Handle, error)

	// ActiveExecutions lists tasks the host currently considers running,
	// used by the stop protocol to adopt a handle when none is recorded.
	ActiveExecutions(ctx context.Context) ([]ActiveExecution, error)

	// Terminals enumerates open terminals/output panes for the sweep
	// fallback in spec.md §4.6 phase 3.
	Terminals(ctx context.Context) ([]Terminal, error)

	// InterruptTerminal sends a graceful-interrupt signal byte to the named
	// terminal (e.g. Ctrl-C) without disposing it.
	InterruptTerminal(ctx context.Context, terminalID string) error

	// DisposeTerminal closes the named terminal outright.
	DisposeTerminal(ctx context.Context, terminalID string) error

	// Events returns the channels the host uses to emit start/end
	// notifications. The Runtime owns these channels' lifetime.
	Events() (starts <-chan StartEvent, ends <-chan EndEvent)

	// WorkspaceConfig returns the raw bytes of the workspace configuration
	// file relevant to task, used by the Dependency Reader's fallback path.
	WorkspaceConfig(ctx context.Context, task identity.HostTask) ([]byte, bool)

	// DefinitionPath resolves a task's definition location for
	// openTaskDefinition, returning (path, ok).
	DefinitionPath(ctx context.Context, id identity.TaskID) (string, bool)
}
