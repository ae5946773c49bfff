package depreader

import (
	"testing"

	"taskrelay/internal/identity"
)

func TestRead_FromMetadataBareNames(t *testing.T) {
	task := identity.HostTask{
		Name: "build",
		Metadata: map[string]any{
			"dependsOn": []any{"clean", "codegen"},
		},
	}
	deps := Read(task, nil)
	if len(deps.Names) != 2 || deps.Names[0] != "clean" || deps.Names[1] != "codegen" {
		t.Fatalf("got %+v", deps)
	}
	if deps.Order != OrderParallel {
		t.Fatalf("expected default parallel order, got %q", deps.Order)
	}
}

func TestRead_FromMetadataObjectEntriesAndSequenceOrder(t *testing.T) {
	task := identity.HostTask{
		Name: "deploy",
		Metadata: map[string]any{
			"dependsOn": []any{
				map[string]any{"task": "build"},
				map[string]any{"label": "test"},
			},
			"dependsOrder": "sequence",
		},
	}
	deps := Read(task, nil)
	if len(deps.Names) != 2 || deps.Names[0] != "build" || deps.Names[1] != "test" {
		t.Fatalf("got %+v", deps)
	}
	if deps.Order != OrderSequence {
		t.Fatalf("expected sequence order, got %q", deps.Order)
	}
}

func TestRead_FallsBackToWorkspaceConfig(t *testing.T) {
	task := identity.HostTask{Name: "build"}
	raw := []byte(`{
		// workspace tasks
		"tasks": {
			"build": {
				"dependsOn": ["clean", {"label": "codegen"}],
				"dependsOrder": "sequence", // trailing comma below
			},
		}
	}`)
	deps := Read(task, func(identity.HostTask) ([]byte, bool) { return raw, true })
	if len(deps.Names) != 2 || deps.Names[0] != "clean" || deps.Names[1] != "codegen" {
		t.Fatalf("got %+v", deps)
	}
	if deps.Order != OrderSequence {
		t.Fatalf("expected sequence order, got %q", deps.Order)
	}
}

func TestRead_NoConfigReturnsEmptyParallel(t *testing.T) {
	task := identity.HostTask{Name: "build"}
	deps := Read(task, func(identity.HostTask) ([]byte, bool) { return nil, false })
	if len(deps.Names) != 0 {
		t.Fatalf("expected no deps, got %+v", deps)
	}
	if deps.Order != OrderParallel {
		t.Fatalf("expected default parallel order, got %q", deps.Order)
	}
}

func TestRead_MalformedConfigDegradesToEmpty(t *testing.T) {
	task := identity.HostTask{Name: "build"}
	raw := []byte(`{ this is not json at all ]`)
	deps := Read(task, func(identity.HostTask) ([]byte, bool) { return raw, true })
	if len(deps.Names) != 0 {
		t.Fatalf("expected parse failure to degrade to empty deps, got %+v", deps)
	}
	if deps.Order != OrderParallel {
		t.Fatalf("expected parallel fallback order, got %q", deps.Order)
	}
}

func TestRead_TaskAbsentFromConfigReturnsEmpty(t *testing.T) {
	task := identity.HostTask{Name: "missing"}
	raw := []byte(`{"tasks": {"build": {"dependsOn": ["clean"]}}}`)
	deps := Read(task, func(identity.HostTask) ([]byte, bool) { return raw, true })
	if len(deps.Names) != 0 {
		t.Fatalf("expected empty deps for task absent from config, got %+v", deps)
	}
}
