package host

import (
	"context"
	"testing"

	"taskrelay/internal/identity"
)

func TestSimExecuteTaskEmitsStart(t *testing.T) {
	s := NewSim()
	id := identity.NewTaskID(identity.SourceWorkspace, "build")
	s.AddTask(identity.HostTask{ID: id, Name: "build", Source: identity.SourceWorkspace})

	h, err := s.ExecuteTask(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h == nil {
		t.Fatal("expected non-nil handle")
	}

	starts, _ := s.Events()
	ev := <-starts
	if ev.ID != id {
		t.Fatalf("got %v", ev.ID)
	}
}

func TestSimExecuteUnknownTaskFails(t *testing.T) {
	s := NewSim()
	_, err := s.ExecuteTask(context.Background(), identity.NewTaskID("npm", "missing"))
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestSimTerminateIsIdempotentAndObservable(t *testing.T) {
	s := NewSim()
	id := identity.NewTaskID(identity.SourceWorkspace, "build")
	s.AddTask(identity.HostTask{ID: id, Name: "build"})
	handle := s.Start(id)

	if handle.Terminated() {
		t.Fatal("expected not yet terminated")
	}
	if err := handle.Terminate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handle.Terminated() {
		t.Fatal("expected terminated after call")
	}
	if err := handle.Terminate(context.Background()); err != nil {
		t.Fatalf("second terminate should also be a no-op success: %v", err)
	}
}

func TestSimMatchingTerminals(t *testing.T) {
	s := NewSim()
	s.AddTerminal(Terminal{ID: "t1", DisplayName: "npm: build"})
	s.AddTerminal(Terminal{ID: "t2", DisplayName: "Task - lint"})
	s.AddTerminal(Terminal{ID: "t3", DisplayName: "unrelated shell"})

	got := s.MatchingTerminals([]string{"build"})
	if len(got) != 1 || got[0] != "t1" {
		t.Fatalf("got %v", got)
	}
}

func TestSimDisposeTerminalRemovesIt(t *testing.T) {
	s := NewSim()
	s.AddTerminal(Terminal{ID: "t1", DisplayName: "npm: build"})
	if err := s.DisposeTerminal(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TerminalOpen("t1") {
		t.Fatal("expected terminal removed")
	}
}
