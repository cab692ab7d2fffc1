// Command orchestrate runs a declarative tool orchestration plan
// against the local filesystem: it resolves roles to registered
// tools, executes them under the active tenant's policy, and reports
// the result through its exit code.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/broneotodak/ctk-orchestrator/internal/baton"
	"github.com/broneotodak/ctk-orchestrator/internal/config"
	"github.com/broneotodak/ctk-orchestrator/internal/errs"
	"github.com/broneotodak/ctk-orchestrator/internal/hitl"
	"github.com/broneotodak/ctk-orchestrator/internal/logging"
	"github.com/broneotodak/ctk-orchestrator/internal/metrics"
	"github.com/broneotodak/ctk-orchestrator/internal/policy"
	"github.com/broneotodak/ctk-orchestrator/internal/registry"
	"github.com/broneotodak/ctk-orchestrator/internal/runner"
	"github.com/broneotodak/ctk-orchestrator/internal/telemetry"
)

const (
	exitOK             = 0
	exitGeneralFailure = 1
	exitHITLAbort      = 2
	exitStepTimeout    = 124
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("orchestrate", flag.ContinueOnError)
	project := fs.String("project", "", "tenant/project override (CTK_PROJECT)")
	modeFlag := fs.String("mode", "", "execution mode override: sequential|parallel|hybrid")
	configPath := fs.String("config", "", "path to a run config document")
	dryRun := fs.Bool("dry-run", false, "validate the config and register the plan's roles without executing any tool")
	debug := fs.Bool("debug", false, "enable debug-level logging")
	if err := fs.Parse(args); err != nil {
		return exitGeneralFailure
	}

	logger := logging.NewTextLogger(os.Stderr, logging.FormatHuman, *debug).WithComponent("orchestrate")

	shutdown, err := telemetry.Init()
	if err != nil {
		logger.Error("failed to initialize telemetry", logging.Fields{"error": err.Error()})
		return exitGeneralFailure
	}
	defer shutdown(context.Background())

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error("failed to resolve working directory", logging.Fields{"error": err.Error()})
		return exitGeneralFailure
	}
	projectOverride := *project
	if projectOverride == "" {
		projectOverride = os.Getenv("CTK_PROJECT")
	}
	mode := policy.Detect(cwd, projectOverride)

	configPathUsed := config.Discover(*configPath)
	cfg, err := config.LoadFromDiscovery(*configPath)
	if err != nil {
		logger.Error("failed to load run config", logging.Fields{"error": err.Error()})
		return exitGeneralFailure
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
		if err := config.Validate(cfg); err != nil {
			logger.Error("--mode override produced an invalid config", logging.Fields{"error": err.Error()})
			return exitGeneralFailure
		}
	}

	if mode.Immutable && !*dryRun && os.Getenv("CTK_APPROVED") != "1" {
		logger.Error("tenant requires explicit operator approval before a non-dry-run", logging.Fields{"project": mode.Project})
		fmt.Fprintln(os.Stderr, "set CTK_APPROVED=1 after review, or pass --dry-run")
		return exitGeneralFailure
	}

	configDir := ""
	if configPathUsed != "" {
		configDir = filepath.Dir(configPathUsed)
	}
	regDoc, err := registry.LoadDocumentFromDiscovery(os.Getenv("CTK_REGISTRY"), configDir)
	if err != nil {
		logger.Error("failed to load registry document", logging.Fields{"error": err.Error()})
		return exitGeneralFailure
	}

	reg := registry.New()
	if err := registerFromConfig(reg, cfg, regDoc); err != nil {
		logger.Error("failed to build tool registry", logging.Fields{"error": err.Error()})
		return exitGeneralFailure
	}

	runID := uuid.New().String()
	metricsDir := os.Getenv("CTK_METRICS_DIR")
	if metricsDir == "" {
		metricsDir = metrics.DefaultDir
	}
	recorder, err := metrics.Open(metricsDir, runID)
	if err != nil {
		logger.Error("failed to open metrics recorder", logging.Fields{"error": err.Error()})
		return exitGeneralFailure
	}
	defer recorder.Close()

	retries := 1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	deps := runner.Deps{
		Registry:    reg,
		Recorder:    recorder,
		Logger:      logger,
		RunID:       runID,
		Retries:     retries,
		Deadline:    toolTimeout(),
		ParseTokens: os.Getenv("CTK_LLM_WRAP") == "1",
	}

	b := baton.New()

	if *dryRun {
		logger.Info("dry run: config validated and roles registered, no tool executed", logging.Fields{"project": mode.Project, "mode": cfg.Mode})
		return exitOK
	}

	runStart := time.Now()
	runErr := execute(context.Background(), cfg, mode, deps, b)
	summarize(logger, recorder, time.Since(runStart))

	if runErr == nil {
		return exitOK
	}
	if kind, ok := errs.KindOf(runErr); ok {
		switch kind {
		case errs.KindHITLAbort:
			logger.Error("run aborted by operator", logging.Fields{"error": runErr.Error()})
			return exitHITLAbort
		case errs.KindTimeout:
			logger.Error("run aborted on step timeout", logging.Fields{"error": runErr.Error()})
			return exitStepTimeout
		}
	}
	logger.Error("run failed", logging.Fields{"error": runErr.Error()})
	return exitGeneralFailure
}

func execute(ctx context.Context, cfg *config.RunConfig, mode policy.ProjectMode, deps runner.Deps, b *baton.Baton) error {
	var controller *hitl.Controller
	if os.Getenv("CTK_HITL") == "1" {
		timeoutMS := 0
		fmt.Sscanf(os.Getenv("CTK_HITL_TIMEOUT_MS"), "%d", &timeoutMS)
		store, err := checkpointStore()
		if err != nil {
			return err
		}
		controller = hitl.NewController(
			store,
			hitl.NewStdinPrompter(bufio.NewReader(os.Stdin)),
			msToDuration(timeoutMS),
		)
	}

	if cfg.Mode == string(policy.ModeHybrid) {
		hr := &runner.HybridRunner{Deps: deps, Hitl: controller, MaxParallel: maxParallel()}
		return hr.Run(ctx, cfg, mode, b)
	}

	sr := &runner.SequentialRunner{Deps: deps, Hitl: controller}
	return sr.Run(ctx, cfg, mode, b)
}

// toolTimeout reads CTK_TOOL_TIMEOUT_MS, falling back to the launcher
// default (120s) when unset or invalid.
func toolTimeout() time.Duration {
	ms := 0
	if _, err := fmt.Sscanf(os.Getenv("CTK_TOOL_TIMEOUT_MS"), "%d", &ms); err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// maxParallel reads CTK_MAX_PARALLEL, falling back to the hybrid
// runner's default (3) when unset or invalid.
func maxParallel() int {
	n := 0
	if _, err := fmt.Sscanf(os.Getenv("CTK_MAX_PARALLEL"), "%d", &n); err != nil || n <= 0 {
		return 0
	}
	return n
}

// registerFromConfig registers every role named by cfg (top-level
// agents plus every phase's agents) against reg, sourcing each role's
// tenant/global paths from doc — a loaded registry.yaml, or the inline
// mapping a deployment ships alongside its run config — and falling
// back to defaultToolPath's global convention only for roles doc
// doesn't mention.
func registerFromConfig(reg *registry.Registry, cfg *config.RunConfig, doc registry.Document) error {
	roles := append([]string{}, cfg.Agents...)
	for _, phase := range cfg.Phases {
		roles = append(roles, phase.Agents...)
	}
	return registry.RegisterRoles(reg, doc, roles, defaultToolPath)
}

// defaultToolPath resolves a role to its conventional global tool
// location, used only when the registry document has no global path
// for that role.
func defaultToolPath(role string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.config/ctk/tools/" + role
}

func summarize(logger logging.ComponentLogger, recorder *metrics.Recorder, wall time.Duration) {
	logger.Info(recorder.Summary().Line(wall), nil)
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// checkpointStore returns a RedisStore when CTK_CHECKPOINT_REDIS_URL is
// set, falling back to the in-process MemoryStore otherwise.
func checkpointStore() (hitl.Store, error) {
	url := os.Getenv("CTK_CHECKPOINT_REDIS_URL")
	if url == "" {
		return hitl.NewMemoryStore(), nil
	}
	return hitl.NewRedisStore(url)
}
