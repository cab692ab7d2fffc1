// Package gate implements the Acceptance Gates (C6): a per-role
// predicate deciding whether a step's artifacts are good enough to
// continue the run, plus the baton bookkeeping every gate evaluation
// produces regardless of its verdict.
package gate

import (
	"strings"

	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
)

// Verdict is the outcome of evaluating one role's artifacts.
type Verdict struct {
	Accepted bool
	Reason   string
}

// Accept evaluates role's artifacts under mode, branching explicitly
// on the active ProjectMode rather than a global mutable setting, so
// the same process can run gates for multiple tenants concurrently
// without cross-talk.
func Accept(role string, mode policy.ProjectMode, artifacts map[string]interface{}) Verdict {
	if artifacts == nil {
		return Verdict{Accepted: false, Reason: "no artifacts produced"}
	}

	switch role {
	case "memory":
		return acceptMemory(mode, artifacts)
	case "sql":
		return acceptSQL(mode, artifacts)
	case "validation":
		return acceptValidation(mode, artifacts)
	case "qa":
		return acceptQA(mode, artifacts)
	case "security":
		return acceptSecurity(mode, artifacts)
	case "env":
		return acceptEnv(mode, artifacts)
	default:
		// Unregistered-in-this-table role: accept but the caller still
		// records the artifacts, so an operator reviewing the run can
		// see what an unrecognized role actually produced.
		return Verdict{Accepted: true, Reason: "no acceptance rule for role; defaulted to accept"}
	}
}

func acceptMemory(mode policy.ProjectMode, artifacts map[string]interface{}) Verdict {
	saved, _ := artifacts["saved"].(bool)
	if !saved {
		return Verdict{Accepted: false, Reason: "memory write did not report saved=true"}
	}
	if mode.Immutable && artifacts["redacted"] == true {
		return Verdict{Accepted: false, Reason: "tenant forbids accepting a redacted memory artifact"}
	}
	return Verdict{Accepted: true, Reason: "memory saved"}
}

// acceptSQL implements "accept iff artifacts.success != false": a
// literal false rejects the step; a missing or non-boolean success
// field is accepted, matching the spec's loose-equality rule. Under
// strict security a redacted (unparsed) result is also rejected.
func acceptSQL(mode policy.ProjectMode, artifacts map[string]interface{}) Verdict {
	if v, ok := artifacts["success"]; ok {
		if b, isBool := v.(bool); isBool && !b {
			return Verdict{Accepted: false, Reason: "sql step reported success=false"}
		}
	}
	if mode.Security == policy.SecurityStrict && artifacts["redacted"] == true {
		return Verdict{Accepted: false, Reason: "strict security forbids an unparsed sql result"}
	}
	return Verdict{Accepted: true, Reason: "sql step succeeded"}
}

// acceptValidation implements "ok == true OR issues is a list", with a
// tenant-strict content scan rejecting any issue string mentioning
// ERROR or FAIL.
func acceptValidation(mode policy.ProjectMode, artifacts map[string]interface{}) Verdict {
	ok, _ := artifacts["ok"].(bool)
	issues, issuesIsList := issueStrings(artifacts["issues"])
	if !ok && !issuesIsList {
		return Verdict{Accepted: false, Reason: "validation reported no ok flag and no issues list"}
	}
	if mode.Immutable {
		for _, issue := range issues {
			upper := strings.ToUpper(issue)
			if strings.Contains(upper, "ERROR") || strings.Contains(upper, "FAIL") {
				return Verdict{Accepted: false, Reason: "strict tenant rejects an issue mentioning ERROR or FAIL"}
			}
		}
	}
	return Verdict{Accepted: true, Reason: "validation passed"}
}

// issueStrings normalizes an "issues" field from either []string (the
// adapter's own shape) or []interface{} (a JSON-decoded module result)
// into a plain string slice, reporting whether the field is a list.
func issueStrings(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// acceptQA implements "testsPassed == true", with a tenant-strict
// pass-rate floor of 80% when per-test counts are present.
func acceptQA(mode policy.ProjectMode, artifacts map[string]interface{}) Verdict {
	passed, _ := artifacts["testsPassed"].(bool)
	if !passed {
		return Verdict{Accepted: false, Reason: "qa step did not report testsPassed=true"}
	}
	if mode.Immutable {
		if rate, ok := passRate(artifacts); ok && rate < 0.8 {
			return Verdict{Accepted: false, Reason: "strict tenant requires a qa pass-rate of at least 80%"}
		}
	}
	return Verdict{Accepted: true, Reason: "qa tests passed"}
}

// passRate extracts a pass-rate from optional per-test counts
// (testsRun/testsFailed or total/passed), returning ok=false when
// neither shape is present.
func passRate(artifacts map[string]interface{}) (float64, bool) {
	if run, ok := numberOf(artifacts["testsRun"]); ok && run > 0 {
		if failed, ok := numberOf(artifacts["testsFailed"]); ok {
			return (run - failed) / run, true
		}
	}
	if total, ok := numberOf(artifacts["total"]); ok && total > 0 {
		if passedCount, ok := numberOf(artifacts["passed"]); ok {
			return passedCount / total, true
		}
	}
	return 0, false
}

func numberOf(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// acceptSecurity implements "audit == true OR ok == true", with a
// tenant-strict requirement of zero reported issues.
func acceptSecurity(mode policy.ProjectMode, artifacts map[string]interface{}) Verdict {
	audit, _ := artifacts["audit"].(bool)
	ok, _ := artifacts["ok"].(bool)
	if !audit && !ok {
		return Verdict{Accepted: false, Reason: "security step reported neither audit=true nor ok=true"}
	}
	if mode.Immutable {
		if n, isInt := issueCount(artifacts); isInt && n > 0 {
			return Verdict{Accepted: false, Reason: "strict tenant requires zero reported security issues"}
		}
	}
	return Verdict{Accepted: true, Reason: "security audit passed"}
}

func issueCount(artifacts map[string]interface{}) (int, bool) {
	switch v := artifacts["issues"].(type) {
	case []string:
		return len(v), true
	case []interface{}:
		return len(v), true
	}
	if n, ok := numberOf(artifacts["issueCount"]); ok {
		return int(n), true
	}
	return 0, false
}

// acceptEnv implements "no error, artifacts.ok != false", with a
// tenant-strict requirement that every required environment key is
// present. The env adapter reuses the sql adapter's shape, so both the
// forced "success" field and an optional "ok" field are honored.
func acceptEnv(mode policy.ProjectMode, artifacts map[string]interface{}) Verdict {
	if v, ok := artifacts["success"]; ok {
		if b, isBool := v.(bool); isBool && !b {
			return Verdict{Accepted: false, Reason: "env step reported success=false"}
		}
	}
	if v, ok := artifacts["ok"]; ok {
		if b, isBool := v.(bool); isBool && !b {
			return Verdict{Accepted: false, Reason: "env step reported ok=false"}
		}
	}
	if mode.Immutable {
		if missing, isList := issueStrings(artifacts["missingKeys"]); isList && len(missing) > 0 {
			return Verdict{Accepted: false, Reason: "strict tenant requires all environment keys present"}
		}
	}
	return Verdict{Accepted: true, Reason: "env step succeeded"}
}

// Apply writes the gate's verdict into b under <role>_gate and
// <role>_artifacts regardless of outcome, so a rejected step still
// leaves a durable record of what it produced and why it was
// rejected. It does not write the bare <role> key; callers add that
// themselves once a step is accepted, per the baton's §3 key contract.
func Apply(b *baton.Baton, role string, verdict Verdict, artifacts map[string]interface{}) {
	b.Set(role+"_gate", map[string]interface{}{
		"accepted": verdict.Accepted,
		"reason":   verdict.Reason,
	})
	b.Set(role+"_artifacts", artifacts)
}
