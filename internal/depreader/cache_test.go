package depreader

import (
	"testing"

	"taskrelay/internal/identity"
)

func TestCachedReader_ServesStaleValueAfterFirstLookup(t *testing.T) {
	task := identity.HostTask{ID: "Workspace|build", Name: "build"}
	calls := 0
	loader := func(identity.HostTask) ([]byte, bool) {
		calls++
		return []byte(`{"tasks": {"build": {"dependsOn": ["clean"]}}}`), true
	}

	c := NewCachedReader(8)
	first := c.Read(task, loader)
	second := c.Read(task, loader)

	if calls != 1 {
		t.Fatalf("expected loader called once, got %d", calls)
	}
	if len(first.Names) != 1 || first.Names[0] != "clean" {
		t.Fatalf("got %+v", first)
	}
	if len(second.Names) != 1 || second.Names[0] != "clean" {
		t.Fatalf("got %+v", second)
	}
}

func TestCachedReader_InvalidateForcesReread(t *testing.T) {
	task := identity.HostTask{ID: "Workspace|build", Name: "build"}
	calls := 0
	loader := func(identity.HostTask) ([]byte, bool) {
		calls++
		return []byte(`{"tasks": {"build": {"dependsOn": ["clean"]}}}`), true
	}

	c := NewCachedReader(8)
	c.Read(task, loader)
	c.Invalidate(task.ID)
	c.Read(task, loader)

	if calls != 2 {
		t.Fatalf("expected loader called twice after invalidation, got %d", calls)
	}
}

func TestCachedReader_DistinctTasksCachedIndependently(t *testing.T) {
	raw := []byte(`{"tasks": {"build": {"dependsOn": ["clean"]}, "deploy": {"dependsOn": ["build"]}}}`)
	loader := func(identity.HostTask) ([]byte, bool) { return raw, true }

	c := NewCachedReader(8)
	build := c.Read(identity.HostTask{ID: "Workspace|build", Name: "build"}, loader)
	deploy := c.Read(identity.HostTask{ID: "Workspace|deploy", Name: "deploy"}, loader)

	if len(build.Names) != 1 || build.Names[0] != "clean" {
		t.Fatalf("got %+v", build)
	}
	if len(deploy.Names) != 1 || deploy.Names[0] != "build" {
		t.Fatalf("got %+v", deploy)
	}
}
