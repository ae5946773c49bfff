package engine

import "fmt"

// HostCallFailedError wraps a failed call into the host runtime — executeTask,
// terminate, or a workspace-config parse — per spec.md §7: logged and
// degraded, never allowed to crash the engine.
type HostCallFailedError struct {
	Op  string
	Err error
}

func (e *HostCallFailedError) Error() string {
	return fmt.Sprintf("host call failed (%s): %v", e.Op, e.Err)
}

func (e *HostCallFailedError) Unwrap() error { return e.Err }

// PersistenceFailedError wraps a KV write failure. Per spec.md §7 these are
// logged inside the async-mutex chain; this type exists so callers that do
// want to inspect a failure (e.g. a test) can do so without parsing strings.
type PersistenceFailedError struct {
	Op  string
	Err error
}

func (e *PersistenceFailedError) Error() string {
	return fmt.Sprintf("persistence operation failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceFailedError) Unwrap() error { return e.Err }
