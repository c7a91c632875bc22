// internal/agent/run.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/stallguard"
)

// Run drives the session from objective to terminal state. Whatever the
// outcome, mission memory is released, the browser session is torn down, and
// a terminal status update is emitted. The returned error is non-nil only
// for the failed status.
func (a *Agent) Run(ctx context.Context, objective string) (schemas.SessionStatusUpdate, error) {
	startedAt := time.Now()
	a.logger.Info("Starting run.", zap.String("objective", truncateReason(objective, 200)))

	status, reason, runErr := a.run(ctx, objective)

	stepCount := a.mem.ActionCount(a.sessionID)
	a.mem.ClearSession(a.sessionID)
	a.browser.Disconnect(context.WithoutCancel(ctx))

	update := schemas.SessionStatusUpdate{
		SessionID:  a.sessionID,
		Status:     status,
		Reason:     reason,
		StepCount:  stepCount,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if a.sink != nil {
		if err := a.sink.UpdateSessionStatus(context.WithoutCancel(ctx), update); err != nil {
			a.logger.Warn("Failed to persist terminal status.", zap.Error(err))
		}
	}

	a.logger.Info("Run finished.",
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("step_count", stepCount))
	return update, runErr
}

func (a *Agent) run(ctx context.Context, objective string) (schemas.RunStatus, string, error) {
	if err := a.browser.Connect(ctx); err != nil {
		return schemas.RunFailed, "could not connect to remote browser", fmt.Errorf("browser connect failed: %w", err)
	}

	plan := a.planner.Plan(ctx, objective, a.tenant, a.platform)
	a.mem.SetMissionMemory(a.sessionID, objective, plan)

	input := []schemas.Item{schemas.UserMessage(objective)}
	previousResponseID := ""
	maxActions := a.cfg.Agent.MaxActions

	for a.mem.ActionCount(a.sessionID) < maxActions {
		if ctx.Err() != nil {
			return schemas.RunStopped, "run context canceled", nil
		}
		if a.gate != nil && !a.gate.CanRun(ctx) {
			return schemas.RunStopped, "stopped by caller", nil
		}
		if !a.browser.Alive() {
			return schemas.RunFailed, "remote browser session lost", browser.ErrSessionLost
		}

		items, token, err := a.GetAction(ctx, input, previousResponseID)
		if err != nil {
			return schemas.RunFailed, "model call failed after retries", err
		}
		previousResponseID = token

		outputs, execErr := a.TakeAction(ctx, items)
		for range outputs {
			a.mem.IncrementActionCount(a.sessionID)
		}

		if execErr != nil {
			if errors.Is(execErr, ErrSafetyCheckRejected) {
				return schemas.RunFailed, "safety check rejected", execErr
			}
			// Action-level failures are recoverable: feed the error back so
			// the model can adjust on the next turn. Outputs of the calls
			// that did execute still go back, keeping every executed call
			// acknowledged under the continuation token.
			a.mem.IncrementActionCount(a.sessionID)
			a.logger.Warn("Action failed, informing model.", zap.Error(execErr))
			input = append(outputs, schemas.DeveloperMessage(fmt.Sprintf(
				"The last action failed with error: %v. Assess the current page state and try a different approach.", execErr)))
			continue
		}

		if len(outputs) == 0 {
			// No calls to execute means the model considers the task done.
			return schemas.RunCompleted, completionReason(items), nil
		}

		input = outputs

		history := a.mem.GetActionHistory(a.sessionID)
		result := stallguard.Check(history, time.Now(), a.cfg.Agent.Stall)
		if result.Stuck {
			a.logger.Warn("Stall detected, injecting recovery guidance.",
				zap.String("pattern", string(result.Pattern)),
				zap.String("reason", result.Reason),
				zap.String("severity", string(result.Severity)))
			instruction := stallguard.RecoveryInstruction(result.Pattern, a.mem.Goal(a.sessionID))
			input = append(input, schemas.DeveloperMessage(instruction))
			// Drain the window so the same episode does not re-trigger on
			// every subsequent turn.
			a.mem.ClearActionHistory(a.sessionID)
		}
	}

	return schemas.RunCapped, fmt.Sprintf("action cap of %d reached", maxActions), nil
}

// completionReason summarizes the model's final message for the status
// record.
func completionReason(items []schemas.Item) string {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Type == schemas.ItemMessage {
			if text := items[i].MessageText(); text != "" {
				return truncateReason(text, 500)
			}
		}
	}
	return "model signaled completion"
}

func truncateReason(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
