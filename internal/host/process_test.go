package host

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDefs(t *testing.T, defs []processTaskDef) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	raw, err := json.Marshal(defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestProcessFetchTasksDefaultsSourceToWorkspace(t *testing.T) {
	path := writeDefs(t, []processTaskDef{{Name: "build", Command: "true"}})
	p := NewProcess(path)

	tasks, err := p.FetchTasks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Source != "Workspace" {
		t.Fatalf("expected one Workspace-sourced task, got %+v", tasks)
	}
}

func TestProcessExecuteTaskReportsSuccessExit(t *testing.T) {
	path := writeDefs(t, []processTaskDef{{Name: "ok", Command: "sh", Args: []string{"-c", "exit 0"}}})
	p := NewProcess(path)

	tasks, _ := p.FetchTasks(context.Background())
	id := tasks[0].ID

	handle, err := p.ExecuteTask(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("expected a non-nil handle")
	}

	starts, ends := p.Events()
	select {
	case ev := <-starts:
		if ev.ID != id {
			t.Fatalf("expected start event for %s, got %s", id, ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for start event")
	}

	select {
	case ev := <-ends:
		if ev.ExitCode != 0 {
			t.Fatalf("expected exit code 0, got %d", ev.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for end event")
	}
}

func TestProcessExecuteTaskReportsNonZeroExit(t *testing.T) {
	path := writeDefs(t, []processTaskDef{{Name: "fail", Command: "sh", Args: []string{"-c", "exit 3"}}})
	p := NewProcess(path)

	tasks, _ := p.FetchTasks(context.Background())
	id := tasks[0].ID

	if _, err := p.ExecuteTask(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, ends := p.Events()
	select {
	case ev := <-ends:
		if ev.ExitCode != 3 {
			t.Fatalf("expected exit code 3, got %d", ev.ExitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for end event")
	}
}

func TestProcessExecuteUnknownTaskFails(t *testing.T) {
	path := writeDefs(t, nil)
	p := NewProcess(path)
	if _, err := p.ExecuteTask(context.Background(), "Workspace|ghost"); err == nil {
		t.Fatal("expected an error for an unknown task")
	}
}

func TestProcessTerminateCancelsRunningCommand(t *testing.T) {
	path := writeDefs(t, []processTaskDef{{Name: "sleepy", Command: "sleep", Args: []string{"30"}}})
	p := NewProcess(path)

	tasks, _ := p.FetchTasks(context.Background())
	id := tasks[0].ID

	handle, err := p.ExecuteTask(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := handle.Terminate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, ends := p.Events()
	select {
	case ev := <-ends:
		if ev.ExitCode == 0 {
			t.Fatal("expected a non-zero exit code after termination")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for end event after termination")
	}
}

func TestProcessTerminalsAreANoOp(t *testing.T) {
	p := NewProcess(writeDefs(t, nil))
	terms, err := p.Terminals(context.Background())
	if err != nil || terms != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", terms, err)
	}
	if err := p.InterruptTerminal(context.Background(), "anything"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.DisposeTerminal(context.Background(), "anything"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
