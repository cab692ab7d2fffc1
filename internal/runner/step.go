// Package runner implements the Sequential Runner (C10) and Hybrid
// Runner (C11): the components that actually walk a RunConfig's plan,
// invoking each role's tool and applying the security filter,
// acceptance gate, and metrics recording around every step.
package runner

import (
	"context"
	"time"

	"github.com/broneotodak/ctk-orchestrator/internal/adapter"
	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/errs"
	"github.com/broneotodak/ctk-orchestrator/internal/gate"
	"github.com/broneotodak/ctk-orchestrator/internal/launcher"
	"github.com/broneotodak/ctk-orchestrator/internal/logging"
	"github.com/broneotodak/ctk-orchestrator/internal/metrics"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
	"github.com/broneotodak/ctk-orchestrator/internal/registry"
	"github.com/broneotodak/ctk-orchestrator/internal/security"
	"github.com/broneotodak/ctk-orchestrator/internal/telemetry"
)

// Deps bundles everything a step execution needs, so sequential and
// hybrid runners share one call shape.
type Deps struct {
	Registry    *registry.Registry
	Recorder    *metrics.Recorder
	Logger      logging.ComponentLogger
	RunID       string
	Retries     int           // 0 or 1, from RunConfig.Retries
	Deadline    time.Duration // CTK_TOOL_TIMEOUT_MS; 0 means launcher default
	ParseTokens bool          // CTK_LLM_WRAP
}

// StepOutcome is what running one role's step produces.
type StepOutcome struct {
	Role      string
	Accepted  bool
	Rejected  bool
	Blocked   bool // security filter fail-closed
	Artifacts map[string]interface{}
	Err       error
}

// RunStep resolves role, invokes its tool, filters and gates its
// artifacts, retries once on rejection or timeout when Deps.Retries
// allows it, and records a metrics entry. It never panics.
func RunStep(ctx context.Context, deps Deps, mode policy.ProjectMode, phase, role string, parallelPhase bool) StepOutcome {
	const op = "runner.RunStep"

	ref, err := deps.Registry.Resolve(role)
	if err != nil {
		deps.Logger.ErrorWithContext(ctx, "role resolution failed", logging.Fields{"role": role, "error": err.Error()})
		return StepOutcome{Role: role, Err: errs.New(op, errs.KindNoImplementation, err)}
	}

	attempts := 1 + deps.Retries
	var outcome StepOutcome
	for attempt := 0; attempt < attempts; attempt++ {
		outcome = attemptStep(ctx, deps, mode, phase, role, ref, parallelPhase, attempt)
		if outcome.Accepted || outcome.Blocked || outcome.Err != nil {
			break
		}
		deps.Logger.WarnWithContext(ctx, "step rejected, retrying", logging.Fields{"role": role, "attempt": attempt})
	}
	return outcome
}

func attemptStep(ctx context.Context, deps Deps, mode policy.ProjectMode, phase, role string, ref registry.ToolRef, parallelPhase bool, attempt int) StepOutcome {
	start := time.Now()

	spanCtx, span := telemetry.StartStep(ctx, deps.RunID, phase, role)
	defer span.End()

	tags := launcher.Tags{
		RunID:         deps.RunID,
		Project:       mode.Project,
		StrictMode:    mode.Security == policy.SecurityStrict,
		ParallelPhase: parallelPhase,
	}

	result, raw := adapter.Invoke(spanCtx, adapter.Options{
		Role:          role,
		Strategy:      adapter.StrategyProcess,
		Path:          ref.Path,
		Tags:          tags,
		Deadline:      deps.Deadline,
		ParseTokens:   deps.ParseTokens,
		ParallelPhase: parallelPhase,
	})

	strict := mode.Security == policy.SecurityStrict
	report, err := security.Scan(result.Artifacts, strict)
	if err != nil {
		return StepOutcome{Role: role, Err: errs.New("runner.attemptStep", errs.KindSecurityViolation, err)}
	}
	if report.Blocked {
		deps.Logger.ErrorWithContext(ctx, "security scan refused artifacts", logging.Fields{"role": role, "reason": report.Reason})
		return recordAndReturn(deps, mode, phase, role, start, raw, false, true, attempt, result.Artifacts,
			errs.Newf("runner.attemptStep", errs.KindSecurityViolation, "role %q: %s", role, report.Reason))
	}
	// Per SPEC_FULL §4.7 step 5: any finding at all (PII or
	// secret-shaped) fails closed under strict security; non-strict
	// profiles tolerate PII findings but never secret-shaped ones —
	// leaked credentials are refused regardless of tenant.
	if len(report.Findings) > 0 && strict {
		deps.Logger.ErrorWithContext(ctx, "security scan found disallowed content", logging.Fields{"role": role, "families": len(report.Findings)})
		return recordAndReturn(deps, mode, phase, role, start, raw, false, true, attempt, result.Artifacts,
			errs.Newf("runner.attemptStep", errs.KindSecurityViolation, "role %q: artifacts matched %d disallowed content family(ies)", role, len(report.Findings)))
	}
	if security.HasSecretFinding(report) {
		return recordAndReturn(deps, mode, phase, role, start, raw, false, true, attempt, result.Artifacts,
			errs.Newf("runner.attemptStep", errs.KindSecurityViolation, "role %q: secret-shaped content detected", role))
	}

	verdict := gate.Accept(role, mode, result.Artifacts)
	telemetry.RecordOutcome(span, verdict.Accepted, exitCodeOf(raw))

	outcome := StepOutcome{Role: role, Accepted: verdict.Accepted, Rejected: !verdict.Accepted, Artifacts: result.Artifacts}
	recordMetric(deps, mode, phase, role, start, raw, verdict.Accepted, attempt, result)
	return outcome
}

func recordAndReturn(deps Deps, mode policy.ProjectMode, phase, role string, start time.Time, raw *launcher.Result, accepted, blocked bool, attempt int, artifacts map[string]interface{}, err error) StepOutcome {
	recordMetric(deps, mode, phase, role, start, raw, accepted, attempt, adapter.Result{Artifacts: artifacts})
	return StepOutcome{Role: role, Accepted: accepted, Blocked: blocked, Artifacts: artifacts, Err: err}
}

func recordMetric(deps Deps, mode policy.ProjectMode, phase, role string, start time.Time, raw *launcher.Result, accepted bool, attempt int, result adapter.Result) {
	if deps.Recorder == nil {
		return
	}
	rec := metrics.Record{
		RunID:      deps.RunID,
		Project:    mode.Project,
		Phase:      phase,
		Role:       role,
		Accepted:   accepted,
		ExitCode:   exitCodeOf(raw),
		Timeout:    raw != nil && raw.Timeout,
		Retries:    attempt,
		ToolCalls:  result.ToolCalls,
		TokensIn:   result.TokensIn,
		TokensOut:  result.TokensOut,
		DurationMS: time.Since(start).Milliseconds(),
		Timestamp:  start,
	}
	_ = deps.Recorder.Record(rec)
}

func exitCodeOf(raw *launcher.Result) int {
	if raw == nil {
		return 0
	}
	return raw.ExitCode
}
