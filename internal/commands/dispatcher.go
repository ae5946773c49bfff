// Package commands implements the Command Dispatcher: the inbound command
// handler from the view (spec.md §6 inbound message table).
package commands

import (
	"context"
	"strings"

	"taskrelay/internal/engine"
	"taskrelay/internal/host"
	"taskrelay/internal/logging"
	"taskrelay/internal/messages"
	"taskrelay/internal/persistence"
)

var log = logging.NewComponentLogger("commands")

// Command is one inbound message from the view: a type tag plus arbitrary
// payload fields, exactly as spec.md §6 describes it.
type Command struct {
	Type    string
	Payload map[string]any
}

func (c Command) str(key string) string {
	v, _ := c.Payload[key].(string)
	return v
}

func (c Command) integer(key string) (int, bool) {
	switch v := c.Payload[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// Dispatcher routes inbound commands to the engine, the persistence layer,
// and the host runtime, and emits the corresponding outbound reply messages.
type Dispatcher struct {
	engine      *engine.Engine
	persistence *persistence.Layer
	emitter     *messages.Emitter
	runtime     host.Runtime
}

// New returns a ready Dispatcher.
func New(e *engine.Engine, p *persistence.Layer, emitter *messages.Emitter, runtime host.Runtime) *Dispatcher {
	return &Dispatcher{engine: e, persistence: p, emitter: emitter, runtime: runtime}
}

// Dispatch handles one inbound command, per spec.md §6's inbound table.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case "ready":
		d.handleReady(ctx)
	case "navigate":
		d.handleNavigate(cmd)
	case "navigateBack":
		d.handleNavigateBack()
	case "navigateForward":
		d.handleNavigateForward()
	case "navigateToHistoryItem":
		d.handleNavigateToHistoryItem(cmd)
	case "runTask":
		d.handleRunTask(ctx, cmd)
	case "stopTask":
		d.handleStopTask(ctx, cmd)
	case "focusTerminal":
		d.handleFocusTerminal(ctx, cmd)
	case "openTaskDefinition":
		d.handleOpenTaskDefinition(ctx, cmd)
	case "toggleStar":
		d.handleToggleStar(cmd)
	case "dismissTask":
		d.handleDismissTask(cmd)
	case "getTaskLists":
		d.handleGetTaskLists(ctx)
	case "getPanelState":
		d.handleGetPanelState()
	case "getLogBuffer":
		d.handleGetLogBuffer()
	case "getExecutionHistory":
		d.handleGetExecutionHistory()
	case "setPanelState":
		d.handleSetPanelState(cmd)
	case "copyTasksJson":
		d.handleCopyTasksJSON(ctx)
	default:
		log.Warn("unrecognized command type %q", cmd.Type)
	}
}

func (d *Dispatcher) handleReady(ctx context.Context) {
	if err := d.engine.RefreshTasks(ctx); err != nil {
		d.emitError("ready", err)
	}
	d.handleGetTaskLists(ctx)
	d.handleGetPanelState()

	entries, idx := d.persistence.GetNavigationHistory()
	d.emitter.Emit(messages.UpdateNavigationHistory, map[string]any{"entries": entries, "index": idx})
}

func (d *Dispatcher) handleNavigate(cmd Command) {
	file := cmd.str("file")
	if err := d.persistence.Navigate(file); err != nil {
		d.emitError("navigate", err)
		return
	}
	d.emitter.Emit(messages.LoadMdx, map[string]any{"file": file})
}

func (d *Dispatcher) handleNavigateBack() {
	file, ok, err := d.persistence.NavigateBack()
	if err != nil {
		d.emitError("navigateBack", err)
		return
	}
	if !ok {
		return
	}
	d.emitter.Emit(messages.LoadMdx, map[string]any{"file": file})
}

func (d *Dispatcher) handleNavigateForward() {
	file, ok, err := d.persistence.NavigateForward()
	if err != nil {
		d.emitError("navigateForward", err)
		return
	}
	if !ok {
		return
	}
	d.emitter.Emit(messages.LoadMdx, map[string]any{"file": file})
}

func (d *Dispatcher) handleNavigateToHistoryItem(cmd Command) {
	index, ok := cmd.integer("index")
	if !ok {
		d.emitError("navigateToHistoryItem", errInvalidPayload("index"))
		return
	}
	file, found, err := d.persistence.NavigateToHistoryItem(index)
	if err != nil {
		d.emitError("navigateToHistoryItem", err)
		return
	}
	if !found {
		return
	}
	d.emitter.Emit(messages.LoadMdx, map[string]any{"file": file})
}

func (d *Dispatcher) handleRunTask(ctx context.Context, cmd Command) {
	if err := d.engine.RunTask(ctx, cmd.str("label")); err != nil {
		d.emitError("runTask", err)
	}
}

func (d *Dispatcher) handleStopTask(ctx context.Context, cmd Command) {
	if err := d.engine.StopTask(ctx, cmd.str("label")); err != nil {
		d.emitError("stopTask", err)
	}
}

func (d *Dispatcher) handleFocusTerminal(ctx context.Context, cmd Command) {
	label := cmd.str("label")
	terminals, err := d.runtime.Terminals(ctx)
	if err != nil {
		d.emitError("focusTerminal", err)
		return
	}
	for _, term := range terminals {
		if strings.Contains(strings.ToLower(term.DisplayName), strings.ToLower(label)) {
			return // host reveals terminals directly; nothing further to emit
		}
	}
	d.emitter.Emit(messages.Error, map[string]any{"message": "no terminal found for " + label})
}

func (d *Dispatcher) handleOpenTaskDefinition(ctx context.Context, cmd Command) {
	label := cmd.str("label")
	id, err := d.engine.Resolve(label)
	if err != nil {
		d.emitError("openTaskDefinition", err)
		return
	}
	if _, ok := d.runtime.DefinitionPath(ctx, id); !ok {
		d.emitter.Emit(messages.Error, map[string]any{"message": "no definition found for " + label})
	}
}

func (d *Dispatcher) handleToggleStar(cmd Command) {
	label := cmd.str("label")
	id, err := d.engine.Resolve(label)
	if err != nil {
		d.emitError("toggleStar", err)
		return
	}
	if err := d.persistence.ToggleStar(id); err != nil {
		d.emitError("toggleStar", err)
		return
	}
	d.emitter.Emit(messages.UpdateStarred, map[string]any{"starred": d.persistence.GetStarredTasks()})
}

func (d *Dispatcher) handleDismissTask(cmd Command) {
	label := cmd.str("label")
	id, err := d.engine.Resolve(label)
	if err != nil {
		d.emitError("dismissTask", err)
		return
	}
	if err := d.persistence.DismissCompletedTaskTree(id); err != nil {
		d.emitError("dismissTask", err)
	}
}

func (d *Dispatcher) handleGetTaskLists(ctx context.Context) {
	tasks, err := d.runtime.FetchTasks(ctx)
	if err != nil {
		d.emitError("getTaskLists", err)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		tree, order := d.engine.DependencyTree(t.ID)
		out = append(out, map[string]any{
			"id":           string(t.ID),
			"label":        t.Name,
			"displayLabel": t.Name,
			"source":       t.Source,
			"definition":   t.DefinitionPath,
			"dependsOn":    tree,
			"dependsOrder": string(order),
		})
	}
	d.emitter.Emit(messages.UpdateTasks, map[string]any{"tasks": out})
}

func (d *Dispatcher) handleGetPanelState() {
	d.emitter.Emit(messages.PanelState, map[string]any{"state": d.persistence.GetPanelState()})
}

func (d *Dispatcher) handleGetLogBuffer() {
	d.emitter.Emit(messages.LogBuffer, map[string]any{"messages": d.emitter.Snapshot()})
}

func (d *Dispatcher) handleGetExecutionHistory() {
	d.emitter.Emit(messages.ExecutionHistory, map[string]any{"history": d.persistence.GetExecutionHistory()})
}

func (d *Dispatcher) handleSetPanelState(cmd Command) {
	merged, err := d.persistence.UpdatePanelState(cmd.Payload)
	if err != nil {
		d.emitError("setPanelState", err)
		return
	}
	d.emitter.Emit(messages.PanelState, map[string]any{"state": merged})
}

func (d *Dispatcher) handleCopyTasksJSON(ctx context.Context) {
	tasks, err := d.runtime.FetchTasks(ctx)
	if err != nil {
		d.emitError("copyTasksJson", err)
		return
	}
	d.emitter.Emit(messages.UpdateTasks, map[string]any{"tasks": tasks, "clipboard": true})
}

func (d *Dispatcher) emitError(op string, err error) {
	log.Warn("%s failed: %v", op, err)
	d.emitter.Emit(messages.Error, map[string]any{"op": op, "message": err.Error()})
}

type invalidPayloadError struct{ field string }

func (e *invalidPayloadError) Error() string { return "invalid or missing payload field: " + e.field }

func errInvalidPayload(field string) error { return &invalidPayloadError{field: field} }
