package identity

import "fmt"

// NotFoundError reports that a user-supplied label did not resolve to any
// known task. Per spec.md §7 it is a NotFound condition: surfaced to the
// operator, never thrown across the engine boundary as a crash.
type NotFoundError struct {
	Label string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("task not found: %q", e.Label)
}
