// Package registry implements the Tool Registry (C3): role name to
// absolute filesystem path resolution, with tenant-slot precedence over
// a global fallback.
package registry

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/broneotodak/ctk-orchestrator/internal/errs"
)

// Source identifies which slot a ToolRef was resolved from.
type Source string

const (
	SourceTenant Source = "tenant"
	SourceGlobal Source = "global"
)

// ToolRef is a resolved, on-disk tool binding for a role.
type ToolRef struct {
	Role   string
	Path   string
	Source Source
}

type slot struct {
	tenant string
	global string
}

// Registry is a mutex-guarded role -> {tenant slot, global slot} table.
// Reads (Resolve) take the read lock; registration takes the write
// lock, mirroring the corpus's catalog read/write split for a structure
// that is written rarely (at startup) and read once per step.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]slot
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]slot)}
}

// Register binds a role to tenant and/or global absolute paths. Either
// may be empty. Registering the same role again replaces its entry.
func (r *Registry) Register(role, tenantPath, globalPath string) error {
	const op = "registry.Register"
	if tenantPath != "" && !filepath.IsAbs(tenantPath) {
		return errs.Newf(op, errs.KindConfigError, "registry: tenant path for role %q must be absolute, got %q", role, tenantPath)
	}
	if globalPath != "" && !filepath.IsAbs(globalPath) {
		return errs.Newf(op, errs.KindConfigError, "registry: global path for role %q must be absolute, got %q", role, globalPath)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[role] = slot{tenant: tenantPath, global: globalPath}
	return nil
}

// Resolve returns the ToolRef for role, preferring the tenant slot over
// the global slot, provided the chosen path exists on disk.
func (r *Registry) Resolve(role string) (ToolRef, error) {
	const op = "registry.Resolve"

	r.mu.RLock()
	s, ok := r.entries[role]
	r.mu.RUnlock()

	if !ok {
		return ToolRef{}, errs.New(op, errs.KindUnregisteredRole, errs.ErrUnregisteredRole)
	}

	if s.tenant != "" && exists(s.tenant) {
		return ToolRef{Role: role, Path: s.tenant, Source: SourceTenant}, nil
	}
	if s.global != "" && exists(s.global) {
		return ToolRef{Role: role, Path: s.global, Source: SourceGlobal}, nil
	}
	return ToolRef{}, errs.New(op, errs.KindNoImplementation, errs.ErrNoImplementation)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// PathEntry is one role's tenant/global path mapping as loaded from a
// registry document, mirroring Registry's own slot pair.
type PathEntry struct {
	Tenant string `yaml:"tenant,omitempty" json:"tenant,omitempty"`
	Global string `yaml:"global,omitempty" json:"global,omitempty"`
}

// Document is the on-disk shape of a registry.yaml: role name to its
// tenant/global path mapping. The CLI populates the table from a
// document like this; RegisterRoles falls back to a conventional
// global path only for a role the document gives no global path.
type Document map[string]PathEntry

// LoadDocument parses a registry.yaml document's bytes.
func LoadDocument(data []byte) (Document, error) {
	const op = "registry.LoadDocument"
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.New(op, errs.KindConfigError, err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// DiscoverDocument resolves a registry document path: an explicit
// override first, then registry.yaml next to configDir (the run
// config's own directory), then ~/.config/ctk/registry.yaml. Returns
// "" when none exist — an absent document is not an error, since a
// deployment may rely entirely on the global-convention fallback.
func DiscoverDocument(explicit, configDir string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	if configDir != "" {
		candidate := filepath.Join(configDir, "registry.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".config", "ctk", "registry.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// LoadDocumentFromDiscovery finds and loads a registry document via
// DiscoverDocument, returning an empty Document (not an error) when
// none is found.
func LoadDocumentFromDiscovery(explicit, configDir string) (Document, error) {
	const op = "registry.LoadDocumentFromDiscovery"
	path := DiscoverDocument(explicit, configDir)
	if path == "" {
		return Document{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(op, errs.KindConfigError, err)
	}
	return LoadDocument(data)
}

// RegisterRoles registers every role in roles against reg, preferring
// doc's tenant/global paths and falling back to defaultGlobal(role)
// for the global slot whenever the document has no entry (or no
// global path) for that role.
func RegisterRoles(reg *Registry, doc Document, roles []string, defaultGlobal func(role string) string) error {
	for _, role := range roles {
		entry := doc[role]
		global := entry.Global
		if global == "" {
			global = defaultGlobal(role)
		}
		if err := reg.Register(role, entry.Tenant, global); err != nil {
			return err
		}
	}
	return nil
}
