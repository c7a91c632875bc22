// internal/planner/planner.go
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// degenerateStepLimit bounds the fallback single-step plan built from the
// raw objective text.
const degenerateStepLimit = 500

// ModelCaller is the slice of the model client the planner needs.
type ModelCaller interface {
	CreateResponse(ctx context.Context, req schemas.ModelRequest) (*schemas.ModelResponse, error)
}

// AuthChecker reports whether a durable authentication context already
// carries login state for (tenant, platform).
type AuthChecker interface {
	IsAuthenticated(ctx context.Context, tenant, platform string) (bool, error)
}

// Planner turns a free-text objective into an ordered list of concrete,
// atomic browser steps via a single model call. Planning is best-effort: any
// failure degrades to a single-step plan built from the objective itself.
type Planner struct {
	model    ModelCaller
	auth     AuthChecker
	maxSteps int
	logger   *zap.Logger
}

// New builds a planner. auth may be nil when no registry is available.
func New(model ModelCaller, auth AuthChecker, maxSteps int, logger *zap.Logger) *Planner {
	if maxSteps <= 0 {
		maxSteps = 200
	}
	return &Planner{
		model:    model,
		auth:     auth,
		maxSteps: maxSteps,
		logger:   logger.Named("planner"),
	}
}

const planningPrompt = `You are a task planner for an autonomous browser agent. Convert the user's objective into an ordered list of concrete, atomic browser steps.

Rules:
- Each step must be a single browser-executable action (navigate, click, type, select, submit, read).
- Be complete rather than brief; include every step the objective requires.
- The agent operates fully autonomously, including through verification challenges. Never produce a step that asks a human to log in, confirm, approve, or wait.
- Never produce a logout or session-teardown step; the session's login state must persist for reuse.
- Output only the numbered list, one step per line, no commentary.`

// Plan generates the step list for the objective. It never fails the run:
// on model or parsing failure it returns a degenerate single-step plan.
func (p *Planner) Plan(ctx context.Context, objective, tenant, platform string) []string {
	prompt := planningPrompt
	if p.authenticated(ctx, tenant, platform) {
		prompt += "\n\nThe agent is already authenticated on the target platform from a previous session. Do not include any login or sign-in steps."
		p.logger.Info("Planning with existing authentication.",
			zap.String("tenant", tenant), zap.String("platform", platform))
	}

	req := schemas.ModelRequest{
		Input: []schemas.Item{
			schemas.DeveloperMessage(prompt),
			schemas.UserMessage(fmt.Sprintf("Objective:\n%s", objective)),
		},
	}

	resp, err := p.model.CreateResponse(ctx, req)
	if err != nil {
		p.logger.Warn("Planning call failed, using degenerate plan.", zap.Error(err))
		return p.fallbackPlan(objective)
	}

	var text strings.Builder
	for _, item := range resp.Output {
		if item.Type == schemas.ItemMessage {
			text.WriteString(item.MessageText())
			text.WriteString("\n")
		}
	}

	steps := parseSteps(text.String())
	if len(steps) == 0 {
		p.logger.Warn("Planner output contained no extractable steps.")
		return p.fallbackPlan(objective)
	}
	if len(steps) > p.maxSteps {
		p.logger.Warn("Plan exceeds safety cap, truncating.",
			zap.Int("steps", len(steps)), zap.Int("cap", p.maxSteps))
		steps = steps[:p.maxSteps]
	}

	p.logger.Info("Generated step plan.", zap.Int("steps", len(steps)))
	return steps
}

func (p *Planner) authenticated(ctx context.Context, tenant, platform string) bool {
	if p.auth == nil {
		return false
	}
	ok, err := p.auth.IsAuthenticated(ctx, tenant, platform)
	if err != nil {
		p.logger.Warn("Auth context lookup failed, assuming unauthenticated.", zap.Error(err))
		return false
	}
	return ok
}

var (
	numberedLine = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
	dashLine     = regexp.MustCompile(`^\s*[-*]\s+(.+)$`)
	workflowHead = regexp.MustCompile(`(?im)^\s*WORKFLOW:\s*$|^\s*WORKFLOW:\s*`)
)

// parseSteps pulls numbered or dash-prefixed lines out of the model output.
func parseSteps(text string) []string {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			steps = append(steps, strings.TrimSpace(m[1]))
			continue
		}
		if m := dashLine.FindStringSubmatch(line); m != nil {
			steps = append(steps, strings.TrimSpace(m[1]))
		}
	}
	return steps
}

// fallbackPlan degrades gracefully: first the objective's own WORKFLOW
// section verbatim, then the truncated objective as one step.
func (p *Planner) fallbackPlan(objective string) []string {
	if section := workflowSection(objective); section != "" {
		if steps := parseSteps(section); len(steps) > 0 {
			return steps
		}
		return []string{section}
	}

	step := strings.TrimSpace(objective)
	if len(step) > degenerateStepLimit {
		step = step[:degenerateStepLimit]
	}
	return []string{step}
}

// workflowSection extracts everything after a "WORKFLOW:" marker, up to the
// next all-caps section header or end of text.
func workflowSection(objective string) string {
	loc := workflowHead.FindStringIndex(objective)
	if loc == nil {
		return ""
	}
	rest := objective[loc[1]:]
	if idx := strings.Index(rest, "AUTHENTICATION:"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}
