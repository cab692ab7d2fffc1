package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/broneotodak/ctk-orchestrator/internal/errs"
)

func TestRegisterRejectsRelativePaths(t *testing.T) {
	r := New()
	if err := r.Register("memory", "relative/path", ""); err == nil {
		t.Fatalf("expected error for relative tenant path")
	}
}

func TestResolveUnregisteredRole(t *testing.T) {
	r := New()
	if _, err := r.Resolve("ghost"); err == nil {
		t.Fatalf("expected error resolving unregistered role")
	}
}

func TestResolvePrefersTenantOverGlobal(t *testing.T) {
	dir := t.TempDir()
	tenantPath := filepath.Join(dir, "tenant_tool")
	globalPath := filepath.Join(dir, "global_tool")
	mustCreate(t, tenantPath)
	mustCreate(t, globalPath)

	r := New()
	if err := r.Register("memory", tenantPath, globalPath); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ref, err := r.Resolve("memory")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Source != SourceTenant || ref.Path != tenantPath {
		t.Fatalf("expected tenant slot to win, got %+v", ref)
	}
}

func TestResolveFallsBackToGlobalWhenTenantMissing(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global_tool")
	mustCreate(t, globalPath)

	r := New()
	if err := r.Register("memory", filepath.Join(dir, "does_not_exist"), globalPath); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ref, err := r.Resolve("memory")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Source != SourceGlobal || ref.Path != globalPath {
		t.Fatalf("expected global fallback, got %+v", ref)
	}
}

func TestResolveFailsWhenNeitherSlotExistsOnDisk(t *testing.T) {
	dir := t.TempDir()
	r := New()
	if err := r.Register("memory", filepath.Join(dir, "a"), filepath.Join(dir, "b")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Resolve("memory"); err == nil {
		t.Fatalf("expected error when neither slot exists on disk")
	}
}

func mustCreate(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
}

func TestLoadDocumentParsesTenantAndGlobalPaths(t *testing.T) {
	doc, err := LoadDocument([]byte("memory:\n  tenant: /opt/thr/memory.sh\n  global: /opt/ctk/memory.sh\nqa:\n  global: /opt/ctk/qa.sh\n"))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if doc["memory"].Tenant != "/opt/thr/memory.sh" || doc["memory"].Global != "/opt/ctk/memory.sh" {
		t.Fatalf("unexpected memory entry: %+v", doc["memory"])
	}
	if doc["qa"].Tenant != "" || doc["qa"].Global != "/opt/ctk/qa.sh" {
		t.Fatalf("unexpected qa entry: %+v", doc["qa"])
	}
}

func TestRegisterRolesPrefersDocumentOverDefaultGlobal(t *testing.T) {
	dir := t.TempDir()
	tenantPath := filepath.Join(dir, "tenant_tool")
	mustCreate(t, tenantPath)

	doc := Document{"memory": PathEntry{Tenant: tenantPath}}
	r := New()
	if err := RegisterRoles(r, doc, []string{"memory", "qa"}, func(role string) string {
		return filepath.Join(dir, role+"_default")
	}); err != nil {
		t.Fatalf("RegisterRoles: %v", err)
	}

	ref, err := r.Resolve("memory")
	if err != nil {
		t.Fatalf("Resolve memory: %v", err)
	}
	if ref.Source != SourceTenant || ref.Path != tenantPath {
		t.Fatalf("expected document's tenant slot to be registered, got %+v", ref)
	}

	// qa has no document entry: RegisterRoles must still register it
	// against the fallback's conventional global path, which doesn't
	// exist on disk here, so resolution fails with NoImplementation
	// rather than UnregisteredRole.
	_, err = r.Resolve("qa")
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindNoImplementation {
		t.Fatalf("expected qa to be registered (but unresolvable) via the fallback path, got %v", err)
	}
}

func TestDiscoverDocumentPrefersExplicitThenConfigDir(t *testing.T) {
	dir := t.TempDir()
	candidate := filepath.Join(dir, "registry.yaml")
	mustCreate(t, candidate)

	if got := DiscoverDocument("", dir); got != candidate {
		t.Fatalf("expected config-dir registry.yaml to be discovered, got %q", got)
	}
	if got := DiscoverDocument(filepath.Join(dir, "does-not-exist.yaml"), dir); got != "" {
		t.Fatalf("expected a missing explicit path to resolve to empty, got %q", got)
	}
}
