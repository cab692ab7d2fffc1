package runner

import (
	"context"

	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/config"
	"github.com/broneotodak/ctk-orchestrator/internal/errs"
	"github.com/broneotodak/ctk-orchestrator/internal/gate"
	"github.com/broneotodak/ctk-orchestrator/internal/hitl"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
)

// SequentialRunner executes a plain ordered list of roles, one at a
// time, aborting the run on the first rejected or security-blocked
// step when the active security profile is strict. Other step errors
// (an unresolvable role, artifacts that cannot be serialized for the
// scan) abort the run under every profile.
type SequentialRunner struct {
	Deps Deps
	// Hitl, when non-nil, gates the whole run on operator approval
	// before the first step executes.
	Hitl *hitl.Controller
}

// Run executes cfg.Agents in order against b, returning the first
// fatal error (if any). b accumulates every step's gate verdict and
// artifacts regardless of outcome.
func (r *SequentialRunner) Run(ctx context.Context, cfg *config.RunConfig, mode policy.ProjectMode, b *baton.Baton) error {
	const op = "runner.SequentialRunner.Run"

	if r.Hitl != nil {
		if _, err := r.Hitl.CheckPhaseApproval(ctx, mode, "run", r.Deps.RunID, b); err != nil {
			return err
		}
	}

	for _, role := range cfg.Agents {
		outcome := RunStep(ctx, r.Deps, mode, "", role, false)
		applyOutcome(b, role, outcome)

		if outcome.Err != nil && (!outcome.Blocked || mode.Security == policy.SecurityStrict) {
			return outcome.Err
		}
		if !outcome.Accepted && mode.Security == policy.SecurityStrict {
			return errs.Newf(op, errs.KindGateRejection, "role %q rejected under strict security", role)
		}
	}
	return nil
}

func reasonFor(outcome StepOutcome) string {
	if outcome.Err != nil {
		return outcome.Err.Error()
	}
	if outcome.Accepted {
		return "accepted"
	}
	return "rejected"
}

// applyOutcome delegates to gate.Apply for the <role>_gate /
// <role>_artifacts keys (written regardless of verdict), and
// additionally writes the bare <role> key to the step's artifacts when
// the step was accepted, per the baton's §3 key contract.
func applyOutcome(b *baton.Baton, role string, outcome StepOutcome) {
	gate.Apply(b, role, gate.Verdict{Accepted: outcome.Accepted, Reason: reasonFor(outcome)}, outcome.Artifacts)
	if outcome.Accepted {
		b.Set(role, outcome.Artifacts)
	}
}
