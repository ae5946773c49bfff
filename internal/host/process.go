package host

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"taskrelay/internal/identity"
	"taskrelay/internal/logging"
)

var processLog = logging.NewComponentLogger("host.process")

// processHandle cancels a running os/exec command via its CancelCauseFunc,
// in the pack's TaskExecutionService.cancelFuncs style: cancellation is a
// cause recorded on the context, not a raw signal.
type processHandle struct {
	cancel context.CancelCauseFunc
}

func (h *processHandle) Terminate(ctx context.Context) error {
	h.cancel(errTerminatedByStopProtocol)
	return nil
}

var errTerminatedByStopProtocol = fmt.Errorf("host: terminated by stop protocol")

// processTaskDef is one entry in a workspace's task definitions file, the
// "process" adapter's source of truth for what ExecuteTask can run.
type processTaskDef struct {
	Name           string         `json:"name"`
	Source         string         `json:"source"`
	Command        string         `json:"command"`
	Args           []string       `json:"args"`
	Dir            string         `json:"dir"`
	DefinitionPath string         `json:"definitionPath"`
	Metadata       map[string]any `json:"metadata"`
}

// Process is a Runtime backed by real os/exec subprocesses, reading its task
// list from a JSON definitions file (workspace-relative) the way the
// Dependency Reader's fallback config path is read.
type Process struct {
	mu         sync.Mutex
	defsPath   string
	cancelFuncs map[identity.TaskID]context.CancelCauseFunc
	active     map[identity.TaskID]struct{}

	starts chan StartEvent
	ends   chan EndEvent
}

// NewProcess returns a Process adapter reading task definitions from
// defsPath.
func NewProcess(defsPath string) *Process {
	return &Process{
		defsPath:    defsPath,
		cancelFuncs: make(map[identity.TaskID]context.CancelCauseFunc),
		active:      make(map[identity.TaskID]struct{}),
		starts:      make(chan StartEvent, 64),
		ends:        make(chan EndEvent, 64),
	}
}

func (p *Process) loadDefs() ([]processTaskDef, error) {
	raw, err := os.ReadFile(p.defsPath)
	if err != nil {
		return nil, fmt.Errorf("host.process: reading %s: %w", p.defsPath, err)
	}
	var defs []processTaskDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("host.process: parsing %s: %w", p.defsPath, err)
	}
	return defs, nil
}

func (p *Process) FetchTasks(ctx context.Context) ([]identity.HostTask, error) {
	defs, err := p.loadDefs()
	if err != nil {
		return nil, err
	}
	out := make([]identity.HostTask, 0, len(defs))
	for _, d := range defs {
		source := d.Source
		if source == "" {
			source = identity.SourceWorkspace
		}
		out = append(out, identity.HostTask{
			ID:             identity.NewTaskID(source, d.Name),
			Name:           d.Name,
			Source:         source,
			DefinitionPath: d.DefinitionPath,
			Metadata:       d.Metadata,
		})
	}
	return out, nil
}

func (p *Process) findDef(id identity.TaskID) (processTaskDef, bool) {
	defs, err := p.loadDefs()
	if err != nil {
		return processTaskDef{}, false
	}
	for _, d := range defs {
		source := d.Source
		if source == "" {
			source = identity.SourceWorkspace
		}
		if identity.NewTaskID(source, d.Name) == id {
			return d, true
		}
	}
	return processTaskDef{}, false
}

// ExecuteTask spawns the task's command as a real subprocess, reporting its
// exit on the Events() end channel when it finishes.
func (p *Process) ExecuteTask(ctx context.Context, id identity.TaskID) (Handle, error) {
	def, ok := p.findDef(id)
	if !ok {
		return nil, fmt.Errorf("host.process: unknown task %q", id)
	}
	if def.Command == "" {
		return nil, fmt.Errorf("host.process: task %q has no command", id)
	}

	taskCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))

	p.mu.Lock()
	p.cancelFuncs[id] = cancel
	p.active[id] = struct{}{}
	p.mu.Unlock()

	cmd := exec.CommandContext(taskCtx, def.Command, def.Args...)
	cmd.Dir = def.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		p.mu.Lock()
		delete(p.cancelFuncs, id)
		delete(p.active, id)
		p.mu.Unlock()
		cancel(nil)
		return nil, fmt.Errorf("host.process: starting %q: %w", id, err)
	}

	p.starts <- StartEvent{ID: id, Handle: &processHandle{cancel: cancel}}

	go func() {
		err := cmd.Wait()
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		p.mu.Lock()
		delete(p.cancelFuncs, id)
		delete(p.active, id)
		p.mu.Unlock()
		cancel(nil)
		p.ends <- EndEvent{ID: id, ExitCode: exitCode}
	}()

	return &processHandle{cancel: cancel}, nil
}

func (p *Process) ActiveExecutions(ctx context.Context) ([]ActiveExecution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ActiveExecution, 0, len(p.active))
	for id := range p.active {
		cancel := p.cancelFuncs[id]
		out = append(out, ActiveExecution{ID: id, Handle: &processHandle{cancel: cancel}})
	}
	return out, nil
}

// Terminals, InterruptTerminal, and DisposeTerminal have no analogue for
// plain os/exec subprocesses (no embedded terminal pane); they report an
// empty/no-op surface so the stop protocol's terminal-sweep fallback is a
// harmless no-op under this adapter.
func (p *Process) Terminals(ctx context.Context) ([]Terminal, error) { return nil, nil }

func (p *Process) InterruptTerminal(ctx context.Context, terminalID string) error { return nil }

func (p *Process) DisposeTerminal(ctx context.Context, terminalID string) error { return nil }

func (p *Process) Events() (<-chan StartEvent, <-chan EndEvent) {
	return p.starts, p.ends
}

func (p *Process) WorkspaceConfig(ctx context.Context, task identity.HostTask) ([]byte, bool) {
	raw, err := os.ReadFile(p.defsPath)
	if err != nil {
		processLog.Warn("workspaceConfig: reading %s: %v", p.defsPath, err)
		return nil, false
	}
	return raw, true
}

func (p *Process) DefinitionPath(ctx context.Context, id identity.TaskID) (string, bool) {
	def, ok := p.findDef(id)
	if !ok || def.DefinitionPath == "" {
		return "", false
	}
	return def.DefinitionPath, true
}

var _ Runtime = (*Process)(nil)
