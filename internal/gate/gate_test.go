package gate

import (
	"testing"

	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
)

func standardMode() policy.ProjectMode {
	return policy.ProjectMode{Project: "default", Mode: policy.ModeSequential, Security: policy.SecurityStandard}
}

func strictMode() policy.ProjectMode {
	return policy.ProjectMode{Project: "THR", Mode: policy.ModeSequential, Security: policy.SecurityStrict, Immutable: true}
}

func TestAcceptNilArtifactsFailsClosed(t *testing.T) {
	v := Accept("memory", standardMode(), nil)
	if v.Accepted {
		t.Fatalf("nil artifacts must never be accepted")
	}
}

func TestAcceptMemoryRequiresSaved(t *testing.T) {
	v := Accept("memory", standardMode(), map[string]interface{}{"saved": false})
	if v.Accepted {
		t.Fatalf("saved=false must be rejected")
	}
	v = Accept("memory", standardMode(), map[string]interface{}{"saved": true})
	if !v.Accepted {
		t.Fatalf("saved=true should be accepted")
	}
}

func TestAcceptMemoryStrictRejectsRedacted(t *testing.T) {
	v := Accept("memory", strictMode(), map[string]interface{}{"saved": true, "redacted": true})
	if v.Accepted {
		t.Fatalf("strict tenant must reject a redacted memory artifact")
	}
}

func TestAcceptSecurityNonStrictRejectsFailedAudit(t *testing.T) {
	v := Accept("security", standardMode(), map[string]interface{}{"ok": false})
	if v.Accepted {
		t.Fatalf("neither audit=true nor ok=true must be rejected under non-strict security too")
	}
}

func TestAcceptSecurityStrictRejectsFailure(t *testing.T) {
	v := Accept("security", strictMode(), map[string]interface{}{"ok": false})
	if v.Accepted {
		t.Fatalf("strict security must reject a failed audit")
	}
}

func TestAcceptUnknownRoleDefaultsToAccept(t *testing.T) {
	v := Accept("mystery", standardMode(), map[string]interface{}{"anything": true})
	if !v.Accepted {
		t.Fatalf("unregistered role should default to accept")
	}
}

func TestAcceptValidationAcceptsIssuesListWithoutOK(t *testing.T) {
	v := Accept("validation", standardMode(), map[string]interface{}{"issues": []string{"a warning"}})
	if !v.Accepted {
		t.Fatalf("an issues list alone should satisfy validation's OR clause")
	}
}

func TestAcceptValidationStrictRejectsErrorIssue(t *testing.T) {
	v := Accept("validation", strictMode(), map[string]interface{}{"ok": true, "issues": []string{"FAIL: bad schema"}})
	if v.Accepted {
		t.Fatalf("strict tenant must reject an issue mentioning FAIL")
	}
}

func TestAcceptQAStrictRequiresPassRateFloor(t *testing.T) {
	v := Accept("qa", strictMode(), map[string]interface{}{"testsPassed": true, "testsRun": float64(10), "testsFailed": float64(3)})
	if v.Accepted {
		t.Fatalf("70%% pass rate should fail the strict 80%% floor")
	}
	v = Accept("qa", strictMode(), map[string]interface{}{"testsPassed": true, "testsRun": float64(10), "testsFailed": float64(1)})
	if !v.Accepted {
		t.Fatalf("90%% pass rate should satisfy the strict 80%% floor")
	}
}

func TestAcceptSecurityAcceptsAuditTrue(t *testing.T) {
	v := Accept("security", standardMode(), map[string]interface{}{"audit": true, "ok": false})
	if !v.Accepted {
		t.Fatalf("audit=true alone should satisfy security's OR clause")
	}
}

func TestAcceptSecurityStrictRequiresZeroIssues(t *testing.T) {
	v := Accept("security", strictMode(), map[string]interface{}{"ok": true, "issues": []string{"minor finding"}})
	if v.Accepted {
		t.Fatalf("strict tenant must reject a security audit with reported issues")
	}
}

func TestAcceptSQLAcceptsMissingSuccessField(t *testing.T) {
	v := Accept("sql", standardMode(), map[string]interface{}{"rows": float64(3)})
	if !v.Accepted {
		t.Fatalf("a missing success field is not literal false, so sql should accept")
	}
}

func TestApplyRecordsRegardlessOfVerdict(t *testing.T) {
	b := baton.New()
	Apply(b, "qa", Verdict{Accepted: false, Reason: "failed"}, map[string]interface{}{"testsPassed": false})
	if _, ok := b.Get("qa_gate"); !ok {
		t.Fatalf("expected qa_gate to be recorded even on rejection")
	}
	if _, ok := b.Get("qa_artifacts"); !ok {
		t.Fatalf("expected qa_artifacts to be recorded even on rejection")
	}
}
