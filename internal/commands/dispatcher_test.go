package commands

import (
	"context"
	"sync"
	"testing"

	"taskrelay/internal/engine"
	"taskrelay/internal/host"
	"taskrelay/internal/identity"
	"taskrelay/internal/messages"
	"taskrelay/internal/persistence"
)

type collectSink struct {
	mu  sync.Mutex
	log []messages.Message
}

func (c *collectSink) Send(m messages.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, m)
}

func (c *collectSink) last(t messages.Type) (messages.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.log) - 1; i >= 0; i-- {
		if c.log[i].Type == t {
			return c.log[i], true
		}
	}
	return messages.Message{}, false
}

func (c *collectSink) count(t messages.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.log {
		if m.Type == t {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *host.Sim, *collectSink) {
	t.Helper()
	sim := host.NewSim()
	sink := &collectSink{}
	layer := persistence.New(persistence.NewMemKV(), persistence.NewMemKV(), persistence.DefaultRetentionConfig())
	emitter := messages.NewEmitter(sink)
	e := engine.New(sim, layer, emitter)
	t.Cleanup(func() {
		e.Close()
		layer.Close()
	})
	return New(e, layer, emitter, sim), sim, sink
}

func TestReadyEmitsTasksAndPanelState(t *testing.T) {
	d, sim, sink := newTestDispatcher(t)
	id := identity.NewTaskID(identity.SourceWorkspace, "build")
	sim.AddTask(identity.HostTask{ID: id, Name: "build", Source: identity.SourceWorkspace})

	d.Dispatch(context.Background(), Command{Type: "ready"})

	msg, ok := sink.last(messages.UpdateTasks)
	if !ok {
		t.Fatal("expected an updateTasks message")
	}
	tasks, ok := msg.Payload["tasks"].([]map[string]any)
	if !ok || len(tasks) != 1 {
		t.Fatalf("expected one task in payload, got %+v", msg.Payload["tasks"])
	}
	if tasks[0]["label"] != "build" {
		t.Fatalf("expected label build, got %v", tasks[0]["label"])
	}

	if _, ok := sink.last(messages.PanelState); !ok {
		t.Fatal("expected a panelState message")
	}
	if _, ok := sink.last(messages.UpdateNavigationHistory); !ok {
		t.Fatal("expected an updateNavigationHistory message")
	}
}

func TestReadyEmitsDependencyTreeAndOrder(t *testing.T) {
	d, sim, sink := newTestDispatcher(t)
	cleanID := identity.NewTaskID(identity.SourceWorkspace, "clean")
	buildID := identity.NewTaskID(identity.SourceWorkspace, "build")
	sim.AddTask(identity.HostTask{ID: cleanID, Name: "clean", Source: identity.SourceWorkspace})
	sim.AddTask(identity.HostTask{
		ID:     buildID,
		Name:   "build",
		Source: identity.SourceWorkspace,
		Metadata: map[string]any{
			"dependsOn":    []any{"clean"},
			"dependsOrder": "sequence",
		},
	})

	d.Dispatch(context.Background(), Command{Type: "ready"})

	msg, ok := sink.last(messages.UpdateTasks)
	if !ok {
		t.Fatal("expected an updateTasks message")
	}
	tasks, ok := msg.Payload["tasks"].([]map[string]any)
	if !ok || len(tasks) != 2 {
		t.Fatalf("expected two tasks in payload, got %+v", msg.Payload["tasks"])
	}

	var build map[string]any
	for _, task := range tasks {
		if task["label"] == "build" {
			build = task
		}
	}
	if build == nil {
		t.Fatal("expected a build task entry")
	}
	if build["dependsOrder"] != "sequence" {
		t.Fatalf("expected dependsOrder sequence, got %v", build["dependsOrder"])
	}
	tree, ok := build["dependsOn"].([]map[string]any)
	if !ok || len(tree) != 1 {
		t.Fatalf("expected a one-node dependency tree, got %+v", build["dependsOn"])
	}
	if tree[0]["id"] != string(cleanID) || tree[0]["label"] != "clean" {
		t.Fatalf("expected resolved dependency on clean, got %+v", tree[0])
	}
	if nested, ok := tree[0]["dependsOn"].([]map[string]any); !ok || len(nested) != 0 {
		t.Fatalf("expected clean's own dependency list to be empty, got %+v", tree[0]["dependsOn"])
	}
}

func TestNavigateEmitsLoadMdx(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	d.Dispatch(context.Background(), Command{Type: "navigate", Payload: map[string]any{"file": "a.mdx"}})

	msg, ok := sink.last(messages.LoadMdx)
	if !ok {
		t.Fatal("expected a loadMdx message")
	}
	if msg.Payload["file"] != "a.mdx" {
		t.Fatalf("expected file a.mdx, got %v", msg.Payload["file"])
	}
}

func TestNavigateBackNoHistoryIsQuiet(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	before := sink.count(messages.LoadMdx)
	d.Dispatch(context.Background(), Command{Type: "navigateBack"})
	if sink.count(messages.LoadMdx) != before {
		t.Fatal("expected no loadMdx emission when there is no history to go back to")
	}
}

func TestRunTaskAndStopTaskRoundTrip(t *testing.T) {
	d, sim, sink := newTestDispatcher(t)
	id := identity.NewTaskID(identity.SourceWorkspace, "serve")
	sim.AddTask(identity.HostTask{ID: id, Name: "serve", Source: identity.SourceWorkspace})

	d.Dispatch(context.Background(), Command{Type: "ready"})
	d.Dispatch(context.Background(), Command{Type: "runTask", Payload: map[string]any{"label": "serve"}})

	d.Dispatch(context.Background(), Command{Type: "stopTask", Payload: map[string]any{"label": "serve"}})

	msg, ok := sink.last(messages.TaskStateChanged)
	if !ok {
		t.Fatal("expected a taskStateChanged message")
	}
	if msg.Payload["state"] != "stopped" {
		t.Fatalf("expected final state stopped, got %v", msg.Payload["state"])
	}
}

func TestToggleStarEmitsUpdateStarred(t *testing.T) {
	d, sim, sink := newTestDispatcher(t)
	id := identity.NewTaskID(identity.SourceWorkspace, "build")
	sim.AddTask(identity.HostTask{ID: id, Name: "build", Source: identity.SourceWorkspace})
	d.Dispatch(context.Background(), Command{Type: "ready"})

	d.Dispatch(context.Background(), Command{Type: "toggleStar", Payload: map[string]any{"label": "build"}})

	msg, ok := sink.last(messages.UpdateStarred)
	if !ok {
		t.Fatal("expected an updateStarred message")
	}
	starred, ok := msg.Payload["starred"].([]identity.TaskID)
	if !ok || len(starred) != 1 || starred[0] != id {
		t.Fatalf("expected starred list [%s], got %+v", id, msg.Payload["starred"])
	}
}

func TestToggleStarUnknownLabelEmitsError(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	d.Dispatch(context.Background(), Command{Type: "toggleStar", Payload: map[string]any{"label": "ghost"}})

	if _, ok := sink.last(messages.UpdateStarred); ok {
		t.Fatal("did not expect an updateStarred message for an unresolvable label")
	}
	if _, ok := sink.last(messages.Error); !ok {
		t.Fatal("expected an error message for an unresolvable label")
	}
}

func TestSetPanelStateMergesAndEmits(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	d.Dispatch(context.Background(), Command{Type: "setPanelState", Payload: map[string]any{"collapsed": true}})

	msg, ok := sink.last(messages.PanelState)
	if !ok {
		t.Fatal("expected a panelState message")
	}
	state, ok := msg.Payload["state"].(map[string]any)
	if !ok || state["collapsed"] != true {
		t.Fatalf("expected merged state with collapsed=true, got %+v", msg.Payload["state"])
	}
}

func TestGetLogBufferReturnsPriorMessages(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	d.Dispatch(context.Background(), Command{Type: "navigate", Payload: map[string]any{"file": "a.mdx"}})
	d.Dispatch(context.Background(), Command{Type: "getLogBuffer"})

	// The reply carries a snapshot taken before its own emission, so it holds
	// the earlier loadMdx message but not the logBuffer message itself.
	msg, ok := sink.last(messages.LogBuffer)
	if !ok {
		t.Fatal("expected a logBuffer message")
	}
	logged, ok := msg.Payload["messages"].([]messages.Message)
	if !ok || len(logged) == 0 || logged[len(logged)-1].Type != messages.LoadMdx {
		t.Fatalf("expected the prior loadMdx message in the log buffer, got %+v", msg.Payload["messages"])
	}
}

func TestUnrecognizedCommandTypeIsANoOp(t *testing.T) {
	d, _, sink := newTestDispatcher(t)
	before := len(sink.log)
	d.Dispatch(context.Background(), Command{Type: "bogus"})
	if len(sink.log) != before {
		t.Fatal("expected no message emitted for an unrecognized command type")
	}
}
