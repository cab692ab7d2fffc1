package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTool(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing tool: %v", err)
	}
	return path
}

func TestInvokeModuleStrategy(t *testing.T) {
	result, raw := Invoke(context.Background(), Options{
		Role:     "memory",
		Strategy: StrategyModule,
		Module: func(map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"saved": true}, nil
		},
	})
	if raw != nil {
		t.Fatalf("module strategy should not return a launcher.Result")
	}
	if result.Artifacts["saved"] != true {
		t.Fatalf("unexpected artifacts: %v", result.Artifacts)
	}
}

func TestInvokeProcessStrategyNormalizesMemory(t *testing.T) {
	tool := writeTool(t, "exit 0\n")
	result, raw := Invoke(context.Background(), Options{
		Role:     "memory",
		Strategy: StrategyProcess,
		Path:     tool,
	})
	if raw == nil || raw.ExitCode != 0 {
		t.Fatalf("expected raw result with exit 0, got %+v", raw)
	}
	if result.Artifacts["saved"] != true {
		t.Fatalf("expected saved=true on exit 0, got %v", result.Artifacts)
	}
}

// TestInvokeProcessStrategyCarriesMemoryStdout guards against
// collapsing a role's artifacts down to its exit-code boolean: the
// security filter scans artifacts, not raw launcher output, so a
// memory tool's stdout must survive into Artifacts for PII/secret
// scanning to see it at all.
func TestInvokeProcessStrategyCarriesMemoryStdout(t *testing.T) {
	tool := writeTool(t, "echo 'contact jane.doe@example.com'\n")
	result, _ := Invoke(context.Background(), Options{
		Role:     "memory",
		Strategy: StrategyProcess,
		Path:     tool,
	})
	stdout, _ := result.Artifacts["stdout"].(string)
	if !strings.Contains(stdout, "jane.doe@example.com") {
		t.Fatalf("expected memory artifacts to carry forward stdout, got %v", result.Artifacts)
	}
}

func TestInvokeSQLParsesJSONOutput(t *testing.T) {
	tool := writeTool(t, `echo '{"rows":3}'`+"\n")
	result, _ := Invoke(context.Background(), Options{
		Role:     "sql",
		Strategy: StrategyProcess,
		Path:     tool,
	})
	if result.Artifacts["rows"] != float64(3) {
		t.Fatalf("expected parsed rows=3, got %v", result.Artifacts)
	}
	if result.Artifacts["success"] != true {
		t.Fatalf("expected success=true forced from exit code, got %v", result.Artifacts)
	}
}

func TestInvokeSQLFallsBackToRedactedPreview(t *testing.T) {
	tool := writeTool(t, "echo 'not json'\n")
	result, _ := Invoke(context.Background(), Options{
		Role:     "sql",
		Strategy: StrategyProcess,
		Path:     tool,
	})
	if result.Artifacts["redacted"] != true {
		t.Fatalf("expected redacted fallback for non-JSON stdout, got %v", result.Artifacts)
	}
}

func TestParseTokenTelemetryAggregatesAcrossLines(t *testing.T) {
	stdout := `{"llm_tokens_in":10,"llm_tokens_out":5}
some unrelated line
{"metrics":{"tokens":{"input":3,"output":2}}}
`
	tin, tout := parseTokenTelemetry(stdout, "")
	if tin != 13 || tout != 7 {
		t.Fatalf("parseTokenTelemetry = (%d, %d), want (13, 7)", tin, tout)
	}
}

func TestParseTokenTelemetryDisabledDuringParallelPhase(t *testing.T) {
	tool := writeTool(t, `echo '{"llm_tokens_in":10,"llm_tokens_out":5}'`+"\n")
	result, _ := Invoke(context.Background(), Options{
		Role:          "qa",
		Strategy:      StrategyProcess,
		Path:          tool,
		ParseTokens:   true,
		ParallelPhase: true,
	})
	if result.TokensIn != 0 || result.TokensOut != 0 {
		t.Fatalf("expected token parsing disabled during parallel phase, got in=%d out=%d", result.TokensIn, result.TokensOut)
	}
}
