package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/config"
	"github.com/broneotodak/ctk-orchestrator/internal/errs"
	"github.com/broneotodak/ctk-orchestrator/internal/hitl"
	"github.com/broneotodak/ctk-orchestrator/internal/logging"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
	"github.com/broneotodak/ctk-orchestrator/internal/telemetry"
)

// defaultMaxParallel is the worker-pool size for a parallel phase when
// CTK_MAX_PARALLEL is unset.
const defaultMaxParallel = 3

// HybridRunner executes a RunConfig's phase list, running each phase
// sequentially or as a bounded worker pool per its declared mode, with
// an operator checkpoint at every phase boundary.
type HybridRunner struct {
	Deps Deps
	Hitl *hitl.Controller
	// MaxParallel bounds a single parallel phase's concurrency,
	// independent of how many roles that phase lists. CTK_MAX_PARALLEL,
	// default 3 when zero.
	MaxParallel int
}

func (r *HybridRunner) maxParallel() int {
	if r.MaxParallel > 0 {
		return r.MaxParallel
	}
	return defaultMaxParallel
}

// Run executes every phase of cfg in order. The immutable tenant
// forbids hybrid/parallel topology outright: Run refuses before
// starting a single step.
func (r *HybridRunner) Run(ctx context.Context, cfg *config.RunConfig, mode policy.ProjectMode, b *baton.Baton) error {
	const op = "runner.HybridRunner.Run"

	if mode.Immutable {
		return errs.New(op, errs.KindForbiddenTopology, errs.ErrForbiddenTopology)
	}

	for _, phase := range cfg.Phases {
		if r.Hitl != nil {
			if _, err := r.Hitl.CheckPhaseApproval(ctx, mode, phase.Name, r.Deps.RunID, b); err != nil {
				return err
			}
		}

		phaseCtx, span := telemetry.StartPhase(ctx, r.Deps.RunID, phase.Name, phase.Mode == string(policy.ModeParallel))

		var err error
		if phase.Mode == string(policy.ModeParallel) {
			err = r.runParallelPhase(phaseCtx, phase, mode, b)
		} else {
			err = r.runSequentialPhase(phaseCtx, phase, mode, b)
		}
		span.End()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *HybridRunner) runSequentialPhase(ctx context.Context, phase config.Phase, mode policy.ProjectMode, b *baton.Baton) error {
	const op = "runner.HybridRunner.runSequentialPhase"
	for _, role := range phase.Agents {
		outcome := RunStep(ctx, r.Deps, mode, phase.Name, role, false)
		applyOutcome(b, role, outcome)
		if outcome.Err != nil && (!outcome.Blocked || mode.Security == policy.SecurityStrict) {
			return outcome.Err
		}
		if !outcome.Accepted && mode.Security == policy.SecurityStrict {
			return errs.Newf(op, errs.KindGateRejection, "phase %q role %q rejected under strict security", phase.Name, role)
		}
	}
	return nil
}

// runParallelPhase dispatches phase.Agents onto a bounded worker pool.
// Each worker operates on its own copy-on-write baton snapshot taken
// at phase entry; results are merged back deterministically in
// role-sorted order once every worker has settled. A worker panic is
// recovered and recorded as that role's error (stack trace included)
// rather than crashing the process. Under strict security, any
// rejected, blocked or errored step causes the phase to report an
// error after every started worker has finished — already-started
// work always drains before the phase reports failure. Under other
// profiles a rejected or security-blocked step is recorded and the
// phase continues; any other step error or a panic still fails it.
func (r *HybridRunner) runParallelPhase(ctx context.Context, phase config.Phase, mode policy.ProjectMode, b *baton.Baton) error {
	sem := make(chan struct{}, r.maxParallel())
	var wg sync.WaitGroup

	snapshots := make(map[string]*baton.Baton, len(phase.Agents))
	errsOut := make(map[string]error, len(phase.Agents))
	var mu sync.Mutex

	for _, role := range phase.Agents {
		role := role
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if p := recover(); p != nil {
					mu.Lock()
					errsOut[role] = fmt.Errorf("role %q panicked: %v\n%s", role, p, debug.Stack())
					mu.Unlock()
				}
			}()

			snap := b.Snapshot()
			outcome := RunStep(ctx, r.Deps, mode, phase.Name, role, true)
			applyOutcome(snap, role, outcome)

			mu.Lock()
			snapshots[role] = snap
			if outcome.Err != nil && (!outcome.Blocked || mode.Security == policy.SecurityStrict) {
				errsOut[role] = outcome.Err
			} else if !outcome.Accepted && mode.Security == policy.SecurityStrict {
				errsOut[role] = errs.Newf("runner.runParallelPhase", errs.KindGateRejection, "phase %q role %q rejected under strict security", phase.Name, role)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	baton.MergeAll(b, snapshots)

	if len(errsOut) > 0 {
		roles := make([]string, 0, len(errsOut))
		for role := range errsOut {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		r.Deps.Logger.ErrorWithContext(ctx, "parallel phase had failing roles", logging.Fields{"phase": phase.Name, "roles": roles})
		return errsOut[roles[0]]
	}
	return nil
}
