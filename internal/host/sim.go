package host

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"taskrelay/internal/identity"
)

// simHandle is a Sim-owned execution handle: terminating it just flips a
// flag the simulator can observe in tests, mirroring the teacher's
// preference for hermetic, environment-independent execution (no real
// subprocess involved).
type simHandle struct {
	mu          sync.Mutex
	id          identity.TaskID
	terminated  bool
	terminateFn func(identity.TaskID) error
}

func (h *simHandle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return nil
	}
	h.terminated = true
	if h.terminateFn != nil {
		return h.terminateFn(h.id)
	}
	return nil
}

// Terminated reports whether Terminate has been called on this handle.
func (h *simHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Sim is an in-memory, deterministic Runtime used by tests and the CLI's
// demo mode. Nothing it does touches the filesystem or a real process; every
// state transition is driven explicitly by test code calling Start/End.
type Sim struct {
	mu sync.Mutex

	tasks     map[identity.TaskID]identity.HostTask
	configs   map[identity.TaskID][]byte
	defPaths  map[identity.TaskID]string
	active    map[identity.TaskID]*simHandle
	terminals map[string]Terminal // keyed by Terminal.ID

	starts chan StartEvent
	ends   chan EndEvent

	// TerminateErr, when set, is returned by every simHandle.Terminate call,
	// simulating an unreliable host terminate() per spec.md §4.6 rationale.
	TerminateErr error
}

// NewSim returns an empty simulator with buffered event channels.
func NewSim() *Sim {
	return &Sim{
		tasks:     make(map[identity.TaskID]identity.HostTask),
		configs:   make(map[identity.TaskID][]byte),
		defPaths:  make(map[identity.TaskID]string),
		active:    make(map[identity.TaskID]*simHandle),
		terminals: make(map[string]Terminal),
		starts:    make(chan StartEvent, 64),
		ends:      make(chan EndEvent, 64),
	}
}

// AddTask registers a host task definition so FetchTasks/ExecuteTask can see
// it. Workspace-config bytes and a definition path are attached separately
// via SetWorkspaceConfig and SetDefinitionPath.
func (s *Sim) AddTask(task identity.HostTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// SetWorkspaceConfig attaches raw config bytes to be returned for task.
func (s *Sim) SetWorkspaceConfig(id identity.TaskID, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[id] = raw
}

// SetDefinitionPath attaches a definition path to be returned for id.
func (s *Sim) SetDefinitionPath(id identity.TaskID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defPaths[id] = path
}

// AddTerminal registers an open terminal the sweep phase can find by name.
func (s *Sim) AddTerminal(t Terminal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals[t.ID] = t
}

// TerminalOpen reports whether the named terminal is still open.
func (s *Sim) TerminalOpen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.terminals[id]
	return ok
}

// HandleFor returns the simHandle recorded for id's active execution, for
// tests to assert on Terminated().
func (s *Sim) HandleFor(id identity.TaskID) (*simHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.active[id]
	return h, ok
}

// Start emits a start event for id on behalf of the host, recording a fresh
// execution handle.
func (s *Sim) Start(id identity.TaskID) *simHandle {
	h := &simHandle{id: id, terminateFn: func(identity.TaskID) error { return s.TerminateErr }}
	s.mu.Lock()
	s.active[id] = h
	s.mu.Unlock()
	s.starts <- StartEvent{ID: id, Handle: h}
	return h
}

// End emits an end event for id on behalf of the host.
func (s *Sim) End(id identity.TaskID, exitCode int) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	s.ends <- EndEvent{ID: id, ExitCode: exitCode}
}

func (s *Sim) FetchTasks(ctx context.Context) ([]identity.HostTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.HostTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Sim) ExecuteTask(ctx context.Context, id identity.TaskID) (Handle, error) {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("host: unknown task %q", id)
	}
	s.mu.Unlock()
	return s.Start(id), nil
}

func (s *Sim) ActiveExecutions(ctx context.Context) ([]ActiveExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveExecution, 0, len(s.active))
	for id, h := range s.active {
		out = append(out, ActiveExecution{ID: id, Handle: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Sim) Terminals(ctx context.Context) ([]Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Terminal, 0, len(s.terminals))
	for _, t := range s.terminals {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Sim) InterruptTerminal(ctx context.Context, terminalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terminals[terminalID]; !ok {
		return fmt.Errorf("host: unknown terminal %q", terminalID)
	}
	return nil
}

func (s *Sim) DisposeTerminal(ctx context.Context, terminalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.terminals[terminalID]; !ok {
		return fmt.Errorf("host: unknown terminal %q", terminalID)
	}
	delete(s.terminals, terminalID)
	return nil
}

func (s *Sim) Events() (<-chan StartEvent, <-chan EndEvent) {
	return s.starts, s.ends
}

func (s *Sim) WorkspaceConfig(ctx context.Context, task identity.HostTask) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.configs[task.ID]
	return raw, ok
}

func (s *Sim) DefinitionPath(ctx context.Context, id identity.TaskID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.defPaths[id]
	return path, ok
}

// MatchingTerminals returns the IDs of every open terminal whose display
// name contains, case-insensitively, any of the given short names — the
// lookup the stop protocol's terminal sweep performs (spec.md §4.6 phase 3).
func (s *Sim) MatchingTerminals(shortNames []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, t := range s.terminals {
		lower := strings.ToLower(t.DisplayName)
		for _, name := range shortNames {
			if strings.Contains(lower, strings.ToLower(name)) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

var _ Runtime = (*Sim)(nil)
