package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/config"
	"github.com/broneotodak/ctk-orchestrator/internal/errs"
	"github.com/broneotodak/ctk-orchestrator/internal/hitl"
	"github.com/broneotodak/ctk-orchestrator/internal/logging"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
)

type abortingPrompter struct{}

func (abortingPrompter) Ask(string) (hitl.Decision, error) { return hitl.DecisionAbort, nil }

func abortingController(t *testing.T) *hitl.Controller {
	t.Helper()
	return hitl.NewController(hitl.NewMemoryStore(), abortingPrompter{}, 0)
}

func hybridMode() policy.ProjectMode {
	return policy.ProjectMode{Project: "default", Mode: policy.ModeHybrid, Security: policy.SecurityStandard}
}

// TestHybridRunnerRefusesImmutableTenant mirrors S2 / testable
// property #2: the immutable tenant forbids hybrid topology outright,
// before any step executes.
func TestHybridRunnerRefusesImmutableTenant(t *testing.T) {
	reg := testRegistry(t, map[string]string{"memory": writeTool(t, "exit 0\n")})
	deps := Deps{Registry: reg, Logger: logging.NoOpLogger{}, RunID: "run-refuse"}
	r := &HybridRunner{Deps: deps}
	b := baton.New()
	cfg := &config.RunConfig{
		Mode:   string(policy.ModeHybrid),
		Phases: []config.Phase{{Name: "p1", Mode: string(policy.ModeSequential), Agents: []string{"memory"}}},
	}

	err := r.Run(context.Background(), cfg, strictTenantMode(), b)
	if err == nil {
		t.Fatalf("expected the immutable tenant to refuse hybrid topology")
	}
	if kind, ok := errs.KindOf(err); !ok || kind != errs.KindForbiddenTopology {
		t.Fatalf("expected KindForbiddenTopology, got %v", err)
	}
	if len(b.Keys()) != 0 {
		t.Fatalf("expected no baton writes before the refusal, got keys %v", b.Keys())
	}
}

// TestHybridRunnerBoundsParallelConcurrency is a timing check in the
// spirit of S5 and testable property #3: four 200ms roles with
// MaxParallel=2 must take at least two batches' worth of wall time,
// and every role must still be merged into the baton. It does not
// count how many roles run at once.
func TestHybridRunnerBoundsParallelConcurrency(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "tool.sh")
	script := "#!/bin/sh\nsleep 0.2\nexit 0\n"
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatalf("writing tool: %v", err)
	}
	reg := testRegistry(t, map[string]string{
		"a": tool, "b": tool, "c": tool, "d": tool,
	})
	deps := Deps{Registry: reg, Logger: logging.NoOpLogger{}, RunID: "run-bound"}
	r := &HybridRunner{Deps: deps, MaxParallel: 2}
	b := baton.New()
	cfg := &config.RunConfig{
		Mode: string(policy.ModeHybrid),
		Phases: []config.Phase{
			{Name: "p1", Mode: string(policy.ModeParallel), Agents: []string{"a", "b", "c", "d"}},
		},
	}

	var current, peak int32
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				if v := atomic.LoadInt32(&current); v > atomic.LoadInt32(&peak) {
					atomic.StoreInt32(&peak, v)
				}
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	start := time.Now()
	if err := r.Run(context.Background(), cfg, hybridMode(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(done)
	elapsed := time.Since(start)

	// Four 200ms-sleeping roles bounded to 2 concurrent workers must
	// take at least two batches: well over a single batch's duration.
	if elapsed < 350*time.Millisecond {
		t.Fatalf("expected bounded concurrency to serialize into at least two batches, took %s", elapsed)
	}
	for _, role := range []string{"a", "b", "c", "d"} {
		if _, ok := b.Get(role); !ok {
			t.Fatalf("expected merged baton to carry role %q", role)
		}
	}
}

// TestHybridRunnerMergesPhaseResultsIntoBaton exercises testable
// property #4 (baton monotonicity) across a hybrid run with both
// sequential and parallel phases.
func TestHybridRunnerMergesPhaseResultsIntoBaton(t *testing.T) {
	reg := testRegistry(t, map[string]string{
		"memory":     writeTool(t, "exit 0\n"),
		"validation": writeTool(t, "exit 0\n"),
		"qa":         writeTool(t, "exit 0\n"),
	})
	deps := Deps{Registry: reg, Logger: logging.NoOpLogger{}, RunID: "run-merge"}
	r := &HybridRunner{Deps: deps}
	b := baton.New()
	cfg := &config.RunConfig{
		Mode: string(policy.ModeHybrid),
		Phases: []config.Phase{
			{Name: "gather", Mode: string(policy.ModeParallel), Agents: []string{"memory", "validation"}},
			{Name: "verify", Mode: string(policy.ModeSequential), Agents: []string{"qa"}},
		},
	}

	if err := r.Run(context.Background(), cfg, hybridMode(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, role := range []string{"memory", "validation", "qa"} {
		if _, ok := b.Get(role); !ok {
			t.Fatalf("expected baton to carry role %q after the hybrid run", role)
		}
	}
}

// TestHybridRunnerPhaseHITLGatesBeforeExecution ensures a HITL abort at
// a phase boundary prevents that phase's steps from ever running.
func TestHybridRunnerPhaseHITLGatesBeforeExecution(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	tool := filepath.Join(dir, "tool.sh")
	script := "#!/bin/sh\ntouch " + marker + "\nexit 0\n"
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatalf("writing tool: %v", err)
	}
	reg := testRegistry(t, map[string]string{"memory": tool})
	deps := Deps{Registry: reg, Logger: logging.NoOpLogger{}, RunID: "run-hitl"}
	r := &HybridRunner{Deps: deps, Hitl: abortingController(t)}
	b := baton.New()
	cfg := &config.RunConfig{
		Mode:   string(policy.ModeHybrid),
		Phases: []config.Phase{{Name: "p1", Mode: string(policy.ModeSequential), Agents: []string{"memory"}}},
	}

	if err := r.Run(context.Background(), cfg, hybridMode(), b); err == nil {
		t.Fatalf("expected the aborting HITL controller to stop the run")
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatalf("expected the phase's step to never run after a HITL abort")
	}
}
