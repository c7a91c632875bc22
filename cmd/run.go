// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/authctx"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/memory"
	"github.com/webpilot-ai/webpilot/internal/modelclient"
	"github.com/webpilot-ai/webpilot/internal/observability"
	"github.com/webpilot-ai/webpilot/internal/planner"
	"github.com/webpilot-ai/webpilot/internal/store"
)

// newRunCmd creates the `run` command: one objective, one browser session,
// driven to a terminal state.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [objective]",
		Short: "Runs a browser automation objective to completion",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("agent.max_actions", cmd.Flags().Lookup("max-actions")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.resume_session_id", cmd.Flags().Lookup("resume-session")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config: %w", err)
			}

			objective := strings.TrimSpace(args[0])
			tenant := viper.GetString("tenant")
			platform := viper.GetString("platform")
			approveChecks := viper.GetBool("approve-safety-checks")

			update, err := executeRun(ctx, cfg, objective, tenant, platform, approveChecks, logger)
			if err != nil {
				return err
			}

			logger.Info("Run complete.",
				zap.String("status", string(update.Status)),
				zap.String("reason", update.Reason),
				zap.Int("steps", update.StepCount))
			if update.Status != schemas.RunCompleted {
				return fmt.Errorf("run ended %s: %s", update.Status, update.Reason)
			}
			return nil
		},
	}

	runCmd.Flags().String("tenant", "default", "tenant the run belongs to")
	runCmd.Flags().String("platform", "", "target platform key for auth-context reuse (e.g. the site's domain)")
	runCmd.Flags().Int("max-actions", 0, "override the action cap for this run")
	runCmd.Flags().String("resume-session", "", "re-attach to an existing provider session instead of creating one")
	runCmd.Flags().Bool("approve-safety-checks", false, "automatically acknowledge model safety checks")
	return runCmd
}

// executeRun wires the components together and drives the loop.
func executeRun(ctx context.Context, cfg *config.Config, objective, tenant, platform string, approveChecks bool, logger *zap.Logger) (schemas.SessionStatusUpdate, error) {
	var update schemas.SessionStatusUpdate

	model, err := modelclient.New(cfg.Model, logger)
	if err != nil {
		return update, fmt.Errorf("failed to build model client: %w", err)
	}

	provider, err := browser.NewProvider(cfg.Provider, logger)
	if err != nil {
		return update, fmt.Errorf("failed to build provider client: %w", err)
	}

	// Persistence is optional: without a database URL the run still executes,
	// it just leaves no records behind.
	var (
		sink     agent.RecordSink
		registry *authctx.Registry
	)
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return update, fmt.Errorf("failed to create database pool: %w", err)
		}
		defer pool.Close()

		st, err := store.New(ctx, pool, logger)
		if err != nil {
			return update, fmt.Errorf("failed to initialize store: %w", err)
		}
		sink = st

		registry, err = authctx.New(ctx, pool, provider, logger)
		if err != nil {
			return update, fmt.Errorf("failed to initialize auth context registry: %w", err)
		}
	} else {
		logger.Warn("No database configured, running without persistence or auth-context reuse.")
	}

	// The interface value must stay nil when no registry exists.
	var authStore browser.AuthContextStore
	var authCheck planner.AuthChecker
	if registry != nil && platform != "" {
		authStore = registry
		authCheck = registry
	}

	manager := browser.NewManager(cfg, provider, authStore, tenant, platform, logger)
	mem := memory.NewStore(cfg.Agent.PlanMaxSteps, cfg.Agent.HistorySize, logger)
	taskPlanner := planner.New(model, authCheck, cfg.Agent.PlanMaxSteps, logger)

	var safety agent.SafetyAcknowledger
	if approveChecks {
		safety = autoAcknowledger{logger: logger}
	}

	a := agent.New(cfg, agent.Options{
		Model:    model,
		Browser:  manager,
		Planner:  taskPlanner,
		Memory:   mem,
		Sink:     sink,
		Safety:   safety,
		Tenant:   tenant,
		Platform: platform,
	}, logger)

	return a.Run(ctx, objective)
}

// autoAcknowledger approves every safety check, logging each one. Only wired
// when the operator opts in.
type autoAcknowledger struct {
	logger *zap.Logger
}

func (a autoAcknowledger) AcknowledgeSafetyCheck(_ context.Context, check schemas.SafetyCheck) bool {
	a.logger.Warn("Auto-acknowledging safety check.",
		zap.String("check_id", check.ID),
		zap.String("message", check.Message))
	return true
}
