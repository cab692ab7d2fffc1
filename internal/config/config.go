// Package config implements the Config Validator (C2): the declarative
// RunConfig shape, its YAML loading/discovery, and the ordered
// validation rules that enforce tenant invariants.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/broneotodak/ctk-orchestrator/internal/errs"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
)

// Phase is a contiguous group of steps within a hybrid run sharing a
// topology.
type Phase struct {
	Name   string   `yaml:"name" json:"name"`
	Mode   string   `yaml:"mode" json:"mode"` // "sequential" | "parallel"
	Agents []string `yaml:"agents" json:"agents"`
}

// RunConfig is the declarative run document. Only the keys below are
// recognized; anything else fails validation.
type RunConfig struct {
	Project    string                 `yaml:"project" json:"project"`
	Mode       string                 `yaml:"mode" json:"mode"`
	Security   string                 `yaml:"security" json:"security"`
	Agents     []string               `yaml:"agents,omitempty" json:"agents,omitempty"`
	Phases     []Phase                `yaml:"phases,omitempty" json:"phases,omitempty"`
	Metadata   map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Validation interface{}            `yaml:"validation,omitempty" json:"validation,omitempty"`
	Retries    *int                   `yaml:"retries,omitempty" json:"retries,omitempty"`
}

var recognizedModes = map[string]bool{
	string(policy.ModeSequential): true,
	string(policy.ModeParallel):   true,
	string(policy.ModeHybrid):     true,
}

var recognizedSecurity = map[string]bool{
	string(policy.SecurityStrict):   true,
	string(policy.SecurityStandard): true,
	string(policy.SecurityRelaxed):  true,
}

var recognizedPhaseModes = map[string]bool{
	string(policy.ModeSequential): true,
	string(policy.ModeParallel):   true,
}

// Validate runs the ordered rule list from the config validator design.
// It never mutates cfg; it either returns nil or a descriptive error
// naming the offending key.
func Validate(cfg *RunConfig) error {
	const op = "config.Validate"

	if cfg == nil {
		return errs.Newf(op, errs.KindConfigError, "config: missing document")
	}

	if cfg.Mode != "" && !recognizedModes[cfg.Mode] {
		return errs.Newf(op, errs.KindConfigError, "config: unrecognized mode %q", cfg.Mode)
	}
	if cfg.Security != "" && !recognizedSecurity[cfg.Security] {
		return errs.Newf(op, errs.KindConfigError, "config: unrecognized security %q", cfg.Security)
	}

	if cfg.Project == policy.ImmutableTenant {
		if cfg.Mode != "" && cfg.Mode != string(policy.ModeSequential) {
			return errs.Newf(op, errs.KindConfigError, "config: tenant %q forces mode=sequential, got %q", policy.ImmutableTenant, cfg.Mode)
		}
		if cfg.Security != "" && cfg.Security != string(policy.SecurityStrict) {
			return errs.Newf(op, errs.KindConfigError, "config: tenant %q forces security=strict, got %q", policy.ImmutableTenant, cfg.Security)
		}
		if len(cfg.Phases) > 0 {
			return errs.Newf(op, errs.KindConfigError, "config: tenant %q forbids key \"phases\"", policy.ImmutableTenant)
		}
	}

	if len(cfg.Phases) > 0 && cfg.Mode != string(policy.ModeHybrid) {
		return errs.Newf(op, errs.KindConfigError, "config: key \"phases\" requires mode=hybrid, got %q", cfg.Mode)
	}

	for i, ph := range cfg.Phases {
		if ph.Name == "" {
			return errs.Newf(op, errs.KindConfigError, "config: phases[%d] missing name", i)
		}
		if !recognizedPhaseModes[ph.Mode] {
			return errs.Newf(op, errs.KindConfigError, "config: phases[%d] unrecognized mode %q", i, ph.Mode)
		}
		if err := checkUniqueRoles(ph.Agents); err != nil {
			return errs.Newf(op, errs.KindConfigError, "config: phases[%d] %v", i, err)
		}
	}

	if err := checkUniqueRoles(cfg.Agents); err != nil {
		return errs.Newf(op, errs.KindConfigError, "config: %v", err)
	}

	if cfg.Retries != nil && (*cfg.Retries < 0 || *cfg.Retries > 1) {
		return errs.Newf(op, errs.KindConfigError, "config: retries must be 0 or 1, got %d", *cfg.Retries)
	}

	return nil
}

func checkUniqueRoles(roles []string) error {
	seen := make(map[string]bool, len(roles))
	for _, r := range roles {
		if seen[r] {
			return fmt.Errorf("duplicate role %q in plan", r)
		}
		seen[r] = true
	}
	return nil
}

// Load parses a RunConfig from YAML bytes and validates it. Any key
// outside the recognized set (§3: project, mode, security, agents,
// phases, metadata, validation, retries) is rejected rather than
// silently dropped.
func Load(data []byte) (*RunConfig, error) {
	const op = "config.Load"

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg RunConfig
	if err := dec.Decode(&cfg); err != nil {
		if strings.Contains(err.Error(), "not found in type") || strings.Contains(err.Error(), "field") {
			return nil, errs.Newf(op, errs.KindConfigError, "config: unrecognized key: %v", err)
		}
		return nil, errs.New(op, errs.KindConfigError, fmt.Errorf("parsing config yaml: %w", err))
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Discover resolves the config file path using the documented discovery
// order: an explicit path (e.g. from --config), then ./ctk.yaml, then
// ~/.config/ctk/ctk.yaml. It returns "" if none exist. An explicit
// path that does not exist yields "" without trying the other two.
func Discover(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}
	if _, err := os.Stat("ctk.yaml"); err == nil {
		return "ctk.yaml"
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidate := filepath.Join(home, ".config", "ctk", "ctk.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// LoadFromDiscovery finds and loads the run config via Discover, or
// returns a ConfigError if no document can be found.
func LoadFromDiscovery(explicit string) (*RunConfig, error) {
	path := Discover(explicit)
	if path == "" {
		if explicit != "" {
			return nil, errs.Newf("config.LoadFromDiscovery", errs.KindConfigError, "config document %q not found", explicit)
		}
		return nil, errs.Newf("config.LoadFromDiscovery", errs.KindConfigError, "no config document found (looked for ./ctk.yaml, ~/.config/ctk/ctk.yaml)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("config.LoadFromDiscovery", errs.KindConfigError, err)
	}
	return Load(data)
}
