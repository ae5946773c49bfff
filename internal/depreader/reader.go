// Package depreader extracts a task's declared dependency list from either
// the task's own metadata or a workspace configuration file, tolerating the
// comments and trailing commas operators commonly leave in such files.
package depreader

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"taskrelay/internal/identity"
	"taskrelay/internal/logging"
)

// Order is the declared dependency-execution order for a task.
type Order string

const (
	OrderParallel Order = "parallel"
	OrderSequence Order = "sequence"
)

// Dependencies is the normalized result of reading a task's dependency list.
type Dependencies struct {
	Names []string
	Order Order
}

// empty is returned whenever parsing fails; failures are logged, never
// propagated as errors (spec.md §4.2, §7: HostCallFailed degrades silently).
func empty() Dependencies { return Dependencies{Names: nil, Order: OrderParallel} }

var log = logging.NewComponentLogger("depreader")

// WorkspaceConfigLoader reads the raw bytes of the workspace config file for
// the given task, e.g. a package.json-like manifest. Returning (nil, false)
// means no such file exists for this task.
type WorkspaceConfigLoader func(task identity.HostTask) (raw []byte, ok bool)

// Read extracts the dependency list for task, trying its own metadata first
// and falling back to the workspace config file.
func Read(task identity.HostTask, loadConfig WorkspaceConfigLoader) Dependencies {
	if deps, ok := fromMetadata(task.Metadata); ok {
		return deps
	}
	if loadConfig == nil {
		return empty()
	}
	raw, ok := loadConfig(task)
	if !ok {
		return empty()
	}
	return fromConfigFile(raw, task.Name)
}

func fromMetadata(meta map[string]any) (Dependencies, bool) {
	if meta == nil {
		return Dependencies{}, false
	}
	raw, ok := meta["dependsOn"]
	if !ok {
		raw, ok = meta["dependencies"]
	}
	if !ok {
		return Dependencies{}, false
	}
	names, parseOK := normalizeDepList(raw)
	if !parseOK {
		log.Warn("task metadata carries an unrecognized dependency list shape")
		return empty(), true
	}
	return Dependencies{Names: names, Order: orderFromMetadata(meta)}, true
}

func orderFromMetadata(meta map[string]any) Order {
	if raw, ok := meta["dependsOrder"]; ok {
		if s, ok := raw.(string); ok && Order(s) == OrderSequence {
			return OrderSequence
		}
	}
	return OrderParallel
}

// configDoc is the shape of a workspace config file's task section: each key
// is a task name, each value an ordered dependency list plus optional order tag.
type configDoc struct {
	Tasks map[string]struct {
		DependsOn    []json.RawMessage `json:"dependsOn"`
		DependsOrder string             `json:"dependsOrder"`
	} `json:"tasks"`
}

func fromConfigFile(raw []byte, taskName string) Dependencies {
	cleaned := stripJSONC(string(raw))

	var doc configDoc
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(cleaned)
		if rerr != nil {
			log.Warn("workspace config parse failed for task %q: %v", taskName, err)
			return empty()
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			log.Warn("workspace config parse failed after repair for task %q: %v", taskName, err)
			return empty()
		}
	}

	entry, ok := doc.Tasks[taskName]
	if !ok {
		return empty()
	}

	names := make([]string, 0, len(entry.DependsOn))
	for _, raw := range entry.DependsOn {
		name, ok := normalizeDepEntry(raw)
		if !ok {
			continue
		}
		names = append(names, name)
	}

	order := OrderParallel
	if Order(entry.DependsOrder) == OrderSequence {
		order = OrderSequence
	}
	return Dependencies{Names: names, Order: order}
}

// normalizeDepList accepts either a []any of bare names/objects (from
// metadata, already decoded by encoding/json into generic values) or a
// []string, and normalizes to a flat name list.
func normalizeDepList(raw any) ([]string, bool) {
	list, ok := raw.([]any)
	if !ok {
		if strs, ok := raw.([]string); ok {
			return strs, true
		}
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case map[string]any:
			if name, ok := labelOrTask(v); ok {
				out = append(out, name)
			}
		}
	}
	return out, true
}

func labelOrTask(obj map[string]any) (string, bool) {
	if v, ok := obj["task"].(string); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	if v, ok := obj["label"].(string); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	return "", false
}

// normalizeDepEntry handles a single dependsOn array element from the
// workspace config file, where each element is raw JSON: either a bare
// quoted name or an object carrying "label"/"task".
func normalizeDepEntry(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return labelOrTask(obj)
	}
	return "", false
}
