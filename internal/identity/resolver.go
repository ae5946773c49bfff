package identity

import "strings"

const legacyNpmPrefix = "npm: "

// Resolve maps a user-supplied label (an ID or a bare name) to a canonical
// TaskID against the given host task list, per spec.md §4.1:
//
//  1. exact "source|name" match
//  2. name match, preferring source Workspace, else the first match in
//     iteration order
//  3. legacy "npm: X" prefix -> first task with source "npm" and name X
//
// Resolve never depends on host enumeration order for case (2) beyond the
// stated precedence: Workspace always wins regardless of where it appears
// in tasks.
func Resolve(tasks []HostTask, label string) (TaskID, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", &NotFoundError{Label: label}
	}

	// (a) exact ID match.
	for _, t := range tasks {
		if string(t.ID) == label {
			return t.ID, nil
		}
	}

	// (c) legacy prefix, checked before bare-name matching since "npm: X" is
	// never itself a valid bare name.
	if rest, ok := strings.CutPrefix(label, legacyNpmPrefix); ok {
		for _, t := range tasks {
			if t.Source == "npm" && t.Name == rest {
				return t.ID, nil
			}
		}
		return "", &NotFoundError{Label: label}
	}

	// (b) name match with source precedence.
	var firstMatch *TaskID
	for i := range tasks {
		t := &tasks[i]
		if t.Name != label {
			continue
		}
		if t.Source == SourceWorkspace {
			return t.ID, nil
		}
		if firstMatch == nil {
			id := t.ID
			firstMatch = &id
		}
	}
	if firstMatch != nil {
		return *firstMatch, nil
	}

	return "", &NotFoundError{Label: label}
}
