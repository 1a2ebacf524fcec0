// commands.go contains the cobra command definitions and the shared
// engine bootstrap every command builds on, following the teacher's
// one-builder-function-per-command convention.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/first-fluke/cratos-sub006/internal/admission"
	"github.com/first-fluke/cratos-sub006/internal/approval"
	"github.com/first-fluke/cratos-sub006/internal/config"
	"github.com/first-fluke/cratos-sub006/internal/engine"
	"github.com/first-fluke/cratos-sub006/internal/eventbus"
	"github.com/first-fluke/cratos-sub006/internal/eventlog"
	"github.com/first-fluke/cratos-sub006/internal/maintenance"
	"github.com/first-fluke/cratos-sub006/internal/memory"
	"github.com/first-fluke/cratos-sub006/internal/observability"
	"github.com/first-fluke/cratos-sub006/internal/planner"
	"github.com/first-fluke/cratos-sub006/internal/retry"
	"github.com/first-fluke/cratos-sub006/internal/toolrunner"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// bootstrap wires every C1-C6 collaborator from a loaded Config into a
// ready-to-use Engine, plus the background maintenance Scheduler that
// should run alongside it.
type bootstrap struct {
	cfg       *config.Config
	engine    *engine.Engine
	sqlite    *eventlog.SQLiteStore
	scheduler *maintenance.Scheduler
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	traceStop func(context.Context) error
}

func newBootstrap(configPath string) (*bootstrap, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: load config: %w", err)
	}

	format := "text"
	if cfg.Logging.JSON {
		format = "json"
	}
	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: format,
		Output: os.Stderr,
	})
	logger := obsLogger.Raw()

	metrics := observability.NewMetrics()
	tracer, traceStop := observability.NewTracer(observability.TraceConfig{
		ServiceName: "orchestrate",
		Endpoint:    os.Getenv("ORCHESTRATE_OTEL_ENDPOINT"),
	})

	pl, err := buildPlanner(cfg.Planner)
	if err != nil {
		return nil, err
	}

	tools := toolrunner.NewRegistry()
	if err := registerBuiltinTools(tools); err != nil {
		return nil, fmt.Errorf("orchestrate: register builtin tools: %w", err)
	}

	mem := memory.NewMemoryStore(cfg.Memory.TTL)

	bus := eventbus.New(256)
	hotLog := eventlog.NewMemoryStore()
	var log eventlog.Store = hotLog
	var sqliteStore *eventlog.SQLiteStore
	if cfg.EventLog.SQLitePath != "" {
		sqliteStore, err = eventlog.OpenSQLiteStore(cfg.EventLog.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("orchestrate: open durable event log: %w", err)
		}
		sqliteStore.WithTracer(tracer)
		log = eventlog.NewDurableStore(hotLog, sqliteStore, logger)
	}

	approvals := approval.NewManager()

	queue := admission.New(admission.Config{
		Mode:          cfg.Admission.AdmissionMode(),
		N:             cfg.Admission.N,
		CollectWindow: cfg.Engine.CollectWindow,
	})

	eng := engine.New(pl, tools, mem,
		engine.WithConfig(engine.Config{
			MaxIterations:     cfg.Engine.MaxIterations,
			TokenBudget:       cfg.Engine.TokenBudget,
			MaxDepth:          cfg.Engine.MaxDepth,
			WallClock:         cfg.Engine.WallClock,
			ApprovalThreshold: cfg.Engine.RiskLevel(),
			ApprovalTTL:       cfg.Engine.ApprovalTTL,
			ToolOptions:       toolrunner.Options{Policy: cfg.Policy.ToolPolicy()},
			AdmissionMode:     cfg.Admission.AdmissionMode(),
			CollectWindow:     cfg.Engine.CollectWindow,
		}),
		engine.WithEventBus(bus),
		engine.WithEventLog(log),
		engine.WithApprovalManager(approvals),
		engine.WithAdmissionQueue(queue),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
		engine.WithTracer(tracer),
	)

	instrumented := func(name string, run func(ctx context.Context) error) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			start := time.Now()
			err := run(ctx)
			status := "success"
			if err != nil {
				status = "error"
			}
			metrics.RecordMaintenanceSweep(name, status, time.Since(start).Seconds())
			return err
		}
	}

	var jobs []maintenance.Job
	jobs = append(jobs, maintenance.Job{
		Name:     "memory-sweep",
		Interval: cfg.Memory.TTL / 4,
		Run: instrumented("memory-sweep", func(ctx context.Context) error {
			n := mem.Sweep()
			logger.Debug("memory sweep complete", "expired_sessions", n)
			return nil
		}),
	})
	if sqliteStore != nil {
		jobs = append(jobs, maintenance.Job{
			Name:     "event-log-retention",
			Interval: cfg.EventLog.SweepInterval,
			Run: instrumented("event-log-retention", func(ctx context.Context) error {
				n, err := sqliteStore.PruneOlderThan(ctx, time.Now().Add(-cfg.EventLog.RetentionPeriod))
				if err != nil {
					return err
				}
				logger.Debug("event log retention sweep complete", "pruned_executions", n)
				return nil
			}),
		})
	}
	scheduler := maintenance.New(jobs, maintenance.WithLogger(logger))

	return &bootstrap{
		cfg: cfg, engine: eng, sqlite: sqliteStore, scheduler: scheduler,
		logger: logger, metrics: metrics, tracer: tracer, traceStop: traceStop,
	}, nil
}

func (b *bootstrap) close() {
	b.scheduler.Stop()
	if b.sqlite != nil {
		b.sqlite.Close()
	}
	if err := b.traceStop(context.Background()); err != nil {
		b.logger.Error("tracer shutdown failed", "error", err)
	}
}

func buildPlanner(cfg config.PlannerConfig) (planner.Planner, error) {
	switch cfg.Provider {
	case "anthropic", "":
		p, err := planner.NewAnthropicPlanner(planner.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, err
		}
		return planner.NewRetryingPlanner(p, retry.DefaultConfig()), nil
	default:
		return nil, fmt.Errorf("orchestrate: unsupported planner provider %q", cfg.Provider)
	}
}

// registerBuiltinTools wires the handful of low-risk tools every
// orchestrator deployment gets for free; deployment-specific tools are
// registered by embedding this package rather than through config.
func registerBuiltinTools(reg *toolrunner.Registry) error {
	return reg.Register(toolrunner.Tool{
		Definition: models.ToolDefinition{
			Name:        "current_time",
			Description: "Returns the current UTC time in RFC3339 format.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
			Risk:        models.RiskLow,
		},
		Handler: func(ctx *toolrunner.InvocationContext, arguments json.RawMessage) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	})
}

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		channel    string
		sessionKey string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "run [input text]",
		Short: "Run a single input through the engine and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := newBootstrap(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			defer boot.close()

			result, err := boot.engine.Execute(cmd.Context(), engineInput(channel, sessionKey, userID, args[0]))
			if err != nil {
				return err
			}
			return printResult(result)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&channel, "channel", "cli", "Inbound channel label recorded on the execution")
	cmd.Flags().StringVar(&sessionKey, "session", "cli-default", "Session key to load/append history under")
	cmd.Flags().StringVar(&userID, "user", "cli-user", "Caller identity recorded on the input")

	return cmd
}

// =============================================================================
// Chat Command
// =============================================================================

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		sessionKey string
		userID     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive REPL against one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := newBootstrap(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			defer boot.close()

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprintln(os.Stdout, "orchestrate chat — type a message, Ctrl-D to exit")
			for {
				fmt.Fprint(os.Stdout, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := scanner.Text()
				if line == "" {
					continue
				}
				result, err := boot.engine.Execute(cmd.Context(), engineInput("cli", sessionKey, userID, line))
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					continue
				}
				if err := printResult(result); err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionKey, "session", "chat-default", "Session key to load/append history under")
	cmd.Flags().StringVar(&userID, "user", "chat-user", "Caller identity recorded on the input")

	return cmd
}

// =============================================================================
// Sweep Command
// =============================================================================

// buildSweepCmd runs every maintenance job once and exits, useful for
// invoking the sweeps from an external cron rather than the engine's own
// long-lived scheduler.
func buildSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run maintenance sweeps (memory expiry, event-log retention) once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := newBootstrap(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			defer boot.close()

			boot.scheduler.Start(cmd.Context())
			boot.scheduler.Stop()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd runs the maintenance scheduler for the process lifetime
// and exposes the Prometheus metrics registered by the engine and
// maintenance jobs on cfg.Server.Addr, until the context is cancelled.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance scheduler and serve Prometheus metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot, err := newBootstrap(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			defer boot.close()

			boot.scheduler.Start(cmd.Context())

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: boot.cfg.Server.Addr, Handler: mux}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func engineInput(channel, sessionKey, userID, text string) engine.ExecuteInput {
	return engine.ExecuteInput{
		Channel:    channel,
		SessionKey: sessionKey,
		UserID:     userID,
		InputText:  text,
	}
}

func printResult(result models.ExecutionResult) error {
	switch result.Status {
	case models.ExecutionCompleted:
		fmt.Fprintln(os.Stdout, result.Output)
		return nil
	default:
		return fmt.Errorf("execution %s: %s", result.Status, result.Error)
	}
}
