// Package adapter implements the Adapter Layer (C5): per-role
// normalizers converting raw tool output into a uniform artifacts
// shape, with a redacted-preview fallback and optional token telemetry.
package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/broneotodak/ctk-orchestrator/internal/launcher"
)

const previewBytes = 512

// Strategy selects how a role's tool is invoked.
type Strategy string

const (
	// StrategyProcess always invokes the tool via the subprocess
	// launcher. Every role supports this path.
	StrategyProcess Strategy = "process"
	// StrategyModule invokes an in-process implementation directly,
	// when one is registered for the role. Falls back to
	// StrategyProcess if none is registered.
	StrategyModule Strategy = "module"
)

// ModuleFunc is the in-process entry point a role may optionally
// expose, used by the module Strategy instead of spawning a process.
type ModuleFunc func(input map[string]interface{}) (artifacts map[string]interface{}, err error)

// Result is the normalized, uniform shape every adapter produces.
type Result struct {
	Artifacts map[string]interface{}
	TokensIn  int
	TokensOut int
	ToolCalls int
}

// Options configures a single adapter invocation.
type Options struct {
	Role          string
	Strategy      Strategy
	Module        ModuleFunc
	Path          string
	Args          []string
	Tags          launcher.Tags
	ExtraEnv      map[string]string
	Deadline      time.Duration // CTK_TOOL_TIMEOUT_MS; 0 means launcher default
	ParseTokens   bool          // CTK_LLM_WRAP, disabled entirely during parallel phases
	ParallelPhase bool
}

// Invoke runs the role's adapter and returns its normalized Result and
// the raw launcher.Result (nil when the module strategy was used),
// letting callers apply the security filter / gate against artifacts
// while still having the exit code available for metrics.
func Invoke(ctx context.Context, opts Options) (Result, *launcher.Result) {
	if opts.Strategy == StrategyModule && opts.Module != nil {
		out, err := opts.Module(nil)
		if err != nil {
			return redactedModuleFailure(err), nil
		}
		return Result{Artifacts: out}, nil
	}

	lr := launcher.Run(ctx, opts.Path, opts.Args, opts.Tags, opts.ExtraEnv, opts.Deadline)
	result := normalize(opts.Role, lr)

	if opts.ParseTokens && !opts.ParallelPhase {
		tin, tout := parseTokenTelemetry(lr.Stdout, lr.Stderr)
		result.TokensIn = tin
		result.TokensOut = tout
	}

	return result, &lr
}

func redactedModuleFailure(err error) Result {
	return Result{Artifacts: map[string]interface{}{
		"redacted": true,
		"error":    err.Error(),
	}}
}

// normalize converts a raw launcher Result into role-specific
// artifacts per the per-role table. memory/qa/security carry stdout
// and stderr forward alongside their boolean fields: the security
// filter only ever scans Artifacts, never the launcher's raw output,
// so dropping the text here would make those roles invisible to it.
func normalize(role string, lr launcher.Result) Result {
	switch role {
	case "memory":
		return Result{Artifacts: map[string]interface{}{
			"saved":  lr.ExitCode == 0,
			"stdout": lr.Stdout,
			"stderr": lr.Stderr,
		}}
	case "sql", "env":
		return Result{Artifacts: normalizeJSONOrRedact(lr)}
	case "validation":
		issues := []string{}
		if strings.TrimSpace(lr.Stderr) != "" {
			issues = []string{lr.Stderr}
		}
		return Result{Artifacts: map[string]interface{}{
			"ok":     lr.ExitCode == 0,
			"issues": issues,
		}}
	case "qa":
		return Result{Artifacts: map[string]interface{}{
			"testsPassed": lr.ExitCode == 0,
			"stdout":      lr.Stdout,
			"stderr":      lr.Stderr,
		}}
	case "security":
		return Result{Artifacts: map[string]interface{}{
			"audit":  true,
			"ok":     lr.ExitCode == 0,
			"stdout": lr.Stdout,
			"stderr": lr.Stderr,
		}}
	default:
		// Unknown role: pass through a redacted preview so the gate's
		// default accept=true still has something to log against.
		return Result{Artifacts: redactedPreview(lr)}
	}
}

// normalizeJSONOrRedact implements the sql/env rule: parse stdout as
// JSON if possible, forcing a success field; otherwise a redacted
// preview with success also forced from the exit code.
func normalizeJSONOrRedact(lr launcher.Result) map[string]interface{} {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(lr.Stdout), &parsed); err == nil {
		parsed["success"] = lr.ExitCode == 0
		return parsed
	}
	out := redactedPreview(lr)
	out["success"] = lr.ExitCode == 0
	return out
}

// redactedPreview builds the bounded, metadata-only placeholder used
// whenever stdout cannot be parsed as JSON for a JSON-expecting
// adapter. The full stdout is never retained.
func redactedPreview(lr launcher.Result) map[string]interface{} {
	preview := lr.Stdout
	truncated := len(preview) > previewBytes
	if truncated {
		preview = preview[:previewBytes]
	}
	return map[string]interface{}{
		"exitCode":       lr.ExitCode,
		"stdout_preview": preview,
		"stdout_bytes":   len(lr.Stdout),
		"redacted":       true,
	}
}

// telemetryLine is the shape of an optional token-telemetry JSON line
// a tool may emit on stdout or stderr.
type telemetryLine struct {
	TokensIn  int `json:"llm_tokens_in"`
	TokensOut int `json:"llm_tokens_out"`
	Metrics   *struct {
		Tokens struct {
			Input  int `json:"input"`
			Output int `json:"output"`
		} `json:"tokens"`
	} `json:"metrics"`
}

// parseTokenTelemetry scans stdout and stderr line by line for JSON
// objects carrying token counts, aggregating across all matching
// lines. Never applied during a parallel phase (see adapter Options).
func parseTokenTelemetry(stdout, stderr string) (tokensIn, tokensOut int) {
	for _, stream := range []string{stdout, stderr} {
		scanner := bufio.NewScanner(strings.NewReader(stream))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || line[0] != '{' {
				continue
			}
			var t telemetryLine
			if err := json.Unmarshal([]byte(line), &t); err != nil {
				continue
			}
			if t.Metrics != nil {
				tokensIn += t.Metrics.Tokens.Input
				tokensOut += t.Metrics.Tokens.Output
				continue
			}
			tokensIn += t.TokensIn
			tokensOut += t.TokensOut
		}
	}
	return tokensIn, tokensOut
}
