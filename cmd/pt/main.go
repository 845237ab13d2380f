// Package main — cmd/pt/main.go
//
// Process triage CLI entrypoint.
//
// `pt run` executes one full triage pass:
//  1. Initialise structured logger (zap, JSON format by default).
//  2. Call automaxprocs so GOMAXPROCS matches the container's cgroup quota.
//  3. Load priors.json/policy.json from $XDG_CONFIG_HOME/process_triage
//     (built-in defaults when missing or invalid).
//  4. Build the protected-process filter and start the metrics server.
//  5. Scan /proc for the current process table.
//  6. Open the rate limiter, alpha-wealth ledger and supervision library.
//  7. Run the filter -> infer -> decide -> execute pipeline, which also
//     records supervision observations (best-effort).
//  8. Persist scan/inference/decision artifacts to the session directory.
//
// `pt version` prints the build version and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/processtriage/pt/internal/alphawealth"
	"github.com/processtriage/pt/internal/cgroupio"
	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/executor"
	"github.com/processtriage/pt/internal/observability"
	"github.com/processtriage/pt/internal/pipeline"
	"github.com/processtriage/pt/internal/plugin"
	"github.com/processtriage/pt/internal/policyconfig"
	"github.com/processtriage/pt/internal/priorsconfig"
	"github.com/processtriage/pt/internal/protectedfilter"
	"github.com/processtriage/pt/internal/ratelimit"
	"github.com/processtriage/pt/internal/session"
	"github.com/processtriage/pt/internal/supervision"
)

// version, commit, and buildTime are stamped by the release build via
// -ldflags; their zero values are printed for a plain `go build`.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configDir   string
		sessionRoot string
		logLevel    string
		logFormat   string
		metricsAddr string
		robotMode   bool
	)

	root := &cobra.Command{
		Use:   "pt",
		Short: "Process triage — belief-driven classification and remediation of stray processes",
		Long: "pt scans the live process table, classifies each process under a Bayesian\n" +
			"belief model, and decides an action under a constraint stack of policy,\n" +
			"rate-limit, alpha-investing, and blast-radius gates.",
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "Directory holding priors.json and policy.json")
	root.PersistentFlags().StringVar(&sessionRoot, "session-root", defaultSessionRoot(), "Directory session artifacts are written under")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json, console)")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9091", "Prometheus metrics listen address")
	root.PersistentFlags().BoolVar(&robotMode, "robot-mode", false, "Force robot mode on regardless of policy.json's setting")

	root.AddCommand(newRunCommand(&configDir, &sessionRoot, &logLevel, &logFormat, &metricsAddr, &robotMode))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "pt %s (commit=%s built=%s)\n", version, commit, buildTime)
			return nil
		},
	}
}

func newRunCommand(configDir, sessionRoot, logLevel, logFormat, metricsAddr *string, robotMode *bool) *cobra.Command {
	var dryRun bool
	var pluginsDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one triage pass: scan, infer, decide, and (unless --dry-run) act",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), runOptions{
				configDir:   *configDir,
				sessionRoot: *sessionRoot,
				logLevel:    *logLevel,
				logFormat:   *logFormat,
				metricsAddr: *metricsAddr,
				robotMode:   *robotMode,
				dryRun:      dryRun,
				pluginsDir:  pluginsDir,
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Infer and decide but never execute the plan")
	cmd.Flags().StringVar(&pluginsDir, "plugins-dir", "", "Directory of plugin.toml manifests (defaults to <config-dir>/plugins)")
	return cmd
}

type runOptions struct {
	configDir   string
	sessionRoot string
	logLevel    string
	logFormat   string
	metricsAddr string
	robotMode   bool
	dryRun      bool
	pluginsDir  string
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "process_triage")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/process_triage"
	}
	return filepath.Join(home, ".config", "process_triage")
}

func defaultSessionRoot() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "process_triage", "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/state/process_triage/sessions"
	}
	return filepath.Join(home, ".local", "state", "process_triage", "sessions")
}

func runOnce(ctx context.Context, opts runOptions) error {
	log, err := buildLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Sugar().Debugf(format, args...)
	})); err != nil {
		log.Warn("automaxprocs adjustment failed, leaving GOMAXPROCS as-is", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("pt starting", zap.String("version", version), zap.String("commit", commit))

	priors, err := loadOrDefaultPriors(filepath.Join(opts.configDir, "priors.json"), log)
	if err != nil {
		return err
	}
	policy, err := loadOrDefaultPolicy(filepath.Join(opts.configDir, "policy.json"), log)
	if err != nil {
		return err
	}
	if opts.robotMode {
		policy.RobotMode.Enabled = true
	}

	filter, err := protectedfilter.New(nil, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("protected filter init failed: %w", err)
	}

	metrics := observability.NewMetrics()
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go func() {
		if err := metrics.ServeMetrics(metricsCtx, opts.metricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", opts.metricsAddr))

	now := time.Now()
	scanStart := time.Now()
	records, err := pipeline.Scan(now)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	metrics.ScanDuration.Observe(time.Since(scanStart).Seconds())
	metrics.CandidatesScannedTotal.Add(float64(len(records)))
	log.Info("scan complete", zap.Int("processes", len(records)))

	rateLimiter, err := ratelimit.New(filepath.Join(opts.sessionRoot, "rate_limit.json"), toRateLimits(policy.RateLimits))
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}
	wealth, err := alphawealth.New(filepath.Join(opts.sessionRoot, "alpha_state.json"), defaultAlphaWealth)
	if err != nil {
		return fmt.Errorf("alpha wealth ledger init failed: %w", err)
	}

	library, err := supervision.OpenLibrary(filepath.Join(opts.sessionRoot, "supervision.db"))
	if err != nil {
		log.Warn("supervision library unavailable, learning disabled this run", zap.Error(err))
	}
	var learner *supervision.Learner
	if library != nil {
		defer library.Close() //nolint:errcheck
		learner = supervision.NewLearner(library)
	}

	var ex *executor.Executor
	if opts.dryRun {
		log.Info("dry-run: plan will be computed but never executed")
	} else {
		ex = executor.New(cgroupPathForPID, executor.KillGrace)
	}

	pluginsDir := opts.pluginsDir
	if pluginsDir == "" {
		pluginsDir = filepath.Join(opts.configDir, "plugins")
	}
	if mgr, err := plugin.Discover(pluginsDir); err != nil {
		log.Debug("no plugins loaded", zap.Error(err))
	} else {
		log.Info("plugins discovered", zap.Strings("names", mgr.Names()))
	}

	result, err := pipeline.Run(ctx, filter, records, pipeline.Options{
		Priors:      priors,
		Policy:      policy,
		LossMatrix:  decision.DefaultLossMatrix(),
		Executor:    ex,
		RateLimiter: rateLimiter,
		AlphaWealth: wealth,
		Learner:     learner,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	for _, inf := range result.Inferences {
		class, conf := inf.Update.Posterior.MAP()
		metrics.InferencesTotal.WithLabelValues(class.String()).Inc()
		metrics.PosteriorConfidence.Observe(conf)
	}
	for _, p := range result.Plans {
		metrics.DecisionsTotal.WithLabelValues(p.Decision.Action.String()).Inc()
		if p.Decision.ConstraintOverride != nil {
			for _, gate := range p.Decision.ConstraintOverride.BlockedBy {
				metrics.ConstraintOverridesTotal.WithLabelValues(string(gate)).Inc()
			}
		}
	}
	for _, e := range result.Executions {
		metrics.ActionsExecutedTotal.WithLabelValues(e.Outcome.Action.String(), strconv.FormatBool(e.Outcome.Success)).Inc()
		metrics.ActionDuration.WithLabelValues(e.Outcome.Action.String()).Observe(e.Outcome.Duration.Seconds())
		if e.Outcome.ReversalMetadata != nil {
			metrics.ReversalsTotal.WithLabelValues(e.Outcome.Action.String()).Inc()
		}
	}
	metrics.RecordRun(wealth.Remaining(), fdrFraction(result))

	hostID, err := os.Hostname()
	if err != nil {
		hostID = "unknown-host"
	}
	sessionID := session.NewID(now)
	handle, err := session.Open(opts.sessionRoot, sessionID, hostID)
	if err != nil {
		return fmt.Errorf("session open failed: %w", err)
	}
	defer handle.Close() //nolint:errcheck

	if _, err := handle.WriteInventory(pipeline.ToInventoryArtifact(records, result.FilterResult)); err != nil {
		log.Error("failed to write inventory artifact", zap.Error(err))
	} else {
		metrics.SessionArtifactsWrittenTotal.WithLabelValues("inventory").Inc()
	}
	if _, err := handle.WriteInference(pipeline.ToInferenceArtifact(result.Inferences, decision.DefaultLossMatrix())); err != nil {
		log.Error("failed to write inference artifact", zap.Error(err))
	} else {
		metrics.SessionArtifactsWrittenTotal.WithLabelValues("inference").Inc()
	}
	if _, err := handle.WritePlan(pipeline.ToPlanArtifact(result.Plans)); err != nil {
		log.Error("failed to write plan artifact", zap.Error(err))
	} else {
		metrics.SessionArtifactsWrittenTotal.WithLabelValues("plan").Inc()
	}

	log.Info("pt run complete",
		zap.String("session_id", sessionID),
		zap.Int("scanned", len(records)),
		zap.Int("candidates", len(result.Inferences)),
		zap.Int("actions_executed", len(result.Executions)),
	)
	return nil
}

// fdrFraction reports what share of a run's plans survived the FDR gate
// (i.e. were eligible for an aggressive action), for the run-level gauge.
func fdrFraction(result *pipeline.Result) float64 {
	if len(result.Plans) == 0 {
		return 0
	}
	eligible := 0
	for _, p := range result.Plans {
		if p.Decision.Action != decision.Keep {
			eligible++
		}
	}
	return float64(eligible) / float64(len(result.Plans))
}

func loadOrDefaultPriors(path string, log *zap.Logger) (priorsconfig.Config, error) {
	cfg, err := priorsconfig.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		log.Warn("priors.json present but invalid, check its contents", zap.Error(err))
	}
	log.Info("using built-in priors defaults", zap.String("path", path))
	return priorsconfig.Defaults(), nil
}

func loadOrDefaultPolicy(path string, log *zap.Logger) (policyconfig.Config, error) {
	cfg, err := policyconfig.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		log.Warn("policy.json present but invalid, check its contents", zap.Error(err))
	}
	log.Info("using built-in policy defaults", zap.String("path", path))
	return policyconfig.Defaults(), nil
}

// defaultAlphaWealth seeds a fresh alpha-investing ledger at a conservative
// starting balance (enough headroom for a handful of aggressive actions
// before the gate starts blocking).
const defaultAlphaWealth = 5.0

func toRateLimits(rl policyconfig.RateLimits) ratelimit.Limits {
	limits := ratelimit.Limits{}
	if rl.MaxPerRun > 0 {
		limits.MaxPerRun = &rl.MaxPerRun
	}
	if rl.MaxPerMinute > 0 {
		limits.MaxPerMinute = &rl.MaxPerMinute
	}
	if rl.MaxPerHour > 0 {
		limits.MaxPerHour = &rl.MaxPerHour
	}
	if rl.MaxPerDay > 0 {
		limits.MaxPerDay = &rl.MaxPerDay
	}
	return limits
}

// cgroupPathForPID resolves the absolute (v2) or hierarchy-relative (v1)
// cgroup path for a target, reading /proc/<pid>/cgroup the way the kernel
// documents it: one "hierarchy-id:controller-list:path" line per
// hierarchy, with an empty controller list marking the unified v2 line.
func cgroupPathForPID(target executor.Target) (string, error) {
	version, v2Mount, err := cgroupio.DetectVersion()
	if err != nil {
		return "", err
	}

	rel, err := readProcCgroupPath(target.PID)
	if err != nil {
		return "", err
	}

	switch version {
	case cgroupio.V2, cgroupio.Hybrid:
		return filepath.Join(v2Mount, rel), nil
	case cgroupio.V1:
		return rel, nil
	default:
		return "", fmt.Errorf("cmd/pt: no cgroup hierarchy detected for pid %d", target.PID)
	}
}

func readProcCgroupPath(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", err
	}

	var v1Fallback string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[1] == "" {
			return parts[2], nil
		}
		if v1Fallback == "" {
			v1Fallback = parts[2]
		}
	}
	if v1Fallback != "" {
		return v1Fallback, nil
	}
	return "", fmt.Errorf("cmd/pt: no cgroup entry found for pid %d", pid)
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
