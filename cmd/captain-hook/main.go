// Package main implements the captain-hook CLI: the process wired up as an
// assistant permission hook, plus the operator subcommands (registration,
// human review, invalidation, scanning) that manage its state.
//
// # File Index
//
//   - main.go      - entry point, rootCmd, global flags, component wiring
//   - evaluate.go  - evaluate subcommand: the spec's stdin/stdout hook contract
//   - session.go   - register / enable / disable subcommands
//   - human.go     - human list / respond / promote subcommands
//   - invalidate.go - invalidate role / all subcommands
//   - scan.go      - scan <path> subcommand
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Epiphytic/captain-hook/internal/cache"
	"github.com/Epiphytic/captain-hook/internal/cascade"
	"github.com/Epiphytic/captain-hook/internal/config"
	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/humanqueue"
	"github.com/Epiphytic/captain-hook/internal/jaccard"
	"github.com/Epiphytic/captain-hook/internal/logging"
	"github.com/Epiphytic/captain-hook/internal/metrics"
	"github.com/Epiphytic/captain-hook/internal/sanitize"
	"github.com/Epiphytic/captain-hook/internal/session"
	"github.com/Epiphytic/captain-hook/internal/store"
	"github.com/Epiphytic/captain-hook/internal/supervisor"
	"github.com/Epiphytic/captain-hook/internal/vectorindex"
)

var (
	verbose     bool
	policyPath  string
	rolesPath   string
	stateDir    string
	teamID      string
	hookShape   string
	metricsAddr string

	logger *zap.Logger
	app    *application
)

// application bundles every wired component the subcommands share, built
// once in rootCmd's PersistentPreRunE.
type application struct {
	sessions   *session.Registry
	sanitizer  *sanitize.Pipeline
	loader     *config.Loader
	stores     map[decision.ScopeLevel]*store.Store
	scopes     *store.ScopeResolver
	cache      *cache.Cache
	jaccard    *jaccard.Index
	vector     *vectorindex.Index
	vectorPath string
	human      *humanqueue.Queue
	supervisor supervisor.Client
	runner     *cascade.Runner
}

var rootCmd = &cobra.Command{
	Use:   "captain-hook",
	Short: "Policy cascade for assistant tool-call permission decisions",
	Long: `captain-hook evaluates assistant tool calls (Bash, Write, Edit, ...) against
a cascade of policy tiers — path policy, exact cache, near-duplicate match,
embedding match, supervisor model, and finally a human review queue — and
emits an allow/deny/ask verdict in the shape an assistant hook expects.

Run "captain-hook evaluate" (or no subcommand at all) with a hook request on
stdin to gate a single tool call.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		app, err = buildApplication()
		if err != nil {
			return fmt.Errorf("wire components: %w", err)
		}
		if metricsAddr != "" {
			startMetricsServer(metricsAddr)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil && app.loader != nil {
			_ = app.loader.Close()
		}
		if app != nil && app.vector != nil && app.vectorPath != "" {
			if app.vector.ShouldRebuild() {
				app.vector.BuildFrom(app.vector.Snapshot())
			}
			if err := app.vector.SaveToDisk(app.vectorPath); err != nil && logger != nil {
				logger.Warn("failed to persist vector index", zap.Error(err))
			}
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEvaluate(cmd, args)
	},
}

func init() {
	home, _ := os.UserHomeDir()
	defaultState := filepath.Join(home, ".captain-hook")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", filepath.Join(defaultState, "policy.toml"), "path to the TOML policy file")
	rootCmd.PersistentFlags().StringVar(&rolesPath, "roles", filepath.Join(defaultState, "roles.yaml"), "path to the YAML role definitions file")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", defaultState, "directory holding decision stores, caches, and the human queue")
	rootCmd.PersistentFlags().StringVar(&teamID, "team", "default", "team identifier, used to namespace the supervisor socket")
	rootCmd.PersistentFlags().StringVar(&hookShape, "hook-shape", "permission-decision", "hook output shape: permission-decision or decision")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (disabled if empty)")

	evaluateCmd.Flags().String("session-id", "", "override the session id read from stdin")

	rootCmd.AddCommand(
		evaluateCmd,
		registerCmd,
		enableCmd,
		disableCmd,
		humanCmd,
		invalidateCmd,
		scanCmd,
	)
	humanCmd.AddCommand(humanListCmd, humanRespondCmd, humanPromoteCmd)
	invalidateCmd.AddCommand(invalidateRoleCmd, invalidateAllCmd)
}

// buildApplication wires every package under internal/ into one Runner,
// seeding the in-memory indices from whatever the on-disk stores already
// hold. Called once per process invocation.
func buildApplication() (*application, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	loader, err := config.NewLoader(policyPath, rolesPath, func(format string, args ...any) {
		if logger != nil {
			logger.Sugar().Debugf(format, args...)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	sanitizer, err := sanitize.New()
	if err != nil {
		return nil, fmt.Errorf("build sanitizer: %w", err)
	}

	sessions := session.New(filepath.Join(stateDir, "sessions"), nil)

	baseStore := store.New(filepath.Join(stateDir, "decisions"))
	baseStore.SetLogger(func(format string, args ...any) {
		if logger != nil {
			logger.Sugar().Warnf(format, args...)
		}
	})
	stores := map[decision.ScopeLevel]*store.Store{
		decision.ScopeOrg:     baseStore,
		decision.ScopeProject: baseStore,
		decision.ScopeUser:    baseStore,
		decision.ScopeRole:    baseStore,
	}

	scopes, err := store.NewScopeResolver(baseStore)
	if err != nil {
		return nil, fmt.Errorf("build scope resolver: %w", err)
	}

	var allRecords []decision.DecisionRecord
	for _, scope := range decision.AllScopesBroadestFirst {
		recs, err := baseStore.Load(scope)
		if err != nil {
			return nil, fmt.Errorf("load %s decisions: %w", scope, err)
		}
		allRecords = append(allRecords, recs...)
	}

	exactCache := cache.New()
	exactCache.LoadAll(allRecords)

	policy := loader.Policy()

	jaccardIdx := jaccard.New(policy.Jaccard.MinTokens, policy.Jaccard.Threshold)
	for _, rec := range allRecords {
		jaccardIdx.Insert(rec)
	}

	vectorPath := filepath.Join(stateDir, "vector_index.jsonl")
	vectorIdx, err := vectorindex.LoadFromDisk(vectorPath, policy.Vector.Threshold, policy.Vector.RebuildPolicy(), policy.Vector.DisableEmbedding)
	if err != nil {
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	if len(vectorIdx.Snapshot()) == 0 && len(allRecords) > 0 {
		vectorIdx.BuildFrom(allRecords)
	}

	humanQueue := humanqueue.New(filepath.Join(stateDir, "human-queue"))

	var superClient supervisor.Client
	switch policy.Supervisor.Mode {
	case "local_socket":
		runtimeDir := policy.Supervisor.RuntimeDir
		if runtimeDir == "" {
			runtimeDir = stateDir
		}
		superClient = &supervisor.LocalSocketClient{
			SocketPath: supervisor.SocketPathForTeam(runtimeDir, teamID),
		}
	case "remote_api":
		superClient = supervisor.NewRemoteAPIClient(policy.Supervisor.APIKey, policy.Supervisor.BaseURL, policy.Supervisor.Model)
	}

	timeouts := policy.Timeouts
	regTimeout := durationOrDefault(timeouts.RegistrationSeconds, 10*time.Second)
	supTimeout := durationOrDefault(timeouts.SupervisorSeconds, 20*time.Second)
	humanTimeout := durationOrDefault(timeouts.HumanSeconds, 5*time.Minute)

	runner := &cascade.Runner{
		Sessions:   sessions,
		Sanitizer:  sanitizer,
		Roles:      loader,
		Sensitive:  loader.Sensitive(),
		Overrides:  loader.Overrides(),
		Scopes:     scopes,
		Cache:      exactCache,
		Jaccard:    jaccardIdx,
		Vector:     vectorIdx,
		Supervisor: superClient,
		Human:      humanQueue,
		Stores:     stores,

		RegistrationTimeout: regTimeout,
		SupervisorTimeout:   supTimeout,
		HumanTimeout:        humanTimeout,
		SupervisorScope:     config.ScopeFromName(policy.Supervisor.ScopeName),

		Logf: func(format string, args ...any) {
			if logger != nil {
				logger.Sugar().Warnf(format, args...)
			}
		},
	}

	return &application{
		sessions:   sessions,
		sanitizer:  sanitizer,
		loader:     loader,
		stores:     stores,
		scopes:     scopes,
		cache:      exactCache,
		jaccard:    jaccardIdx,
		vector:     vectorIdx,
		vectorPath: vectorPath,
		human:      humanQueue,
		supervisor: superClient,
		runner:     runner,
	}, nil
}

// startMetricsServer exposes the cascade's Prometheus collectors on a
// background HTTP listener. Failures are logged, never fatal — a metrics
// scrape target going down shouldn't block tool-call gating.
func startMetricsServer(addr string) {
	registry := metrics.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Sugar().Infof("metrics: serving /metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Warnf("metrics: server error: %v", err)
		}
	}()
}

func durationOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
