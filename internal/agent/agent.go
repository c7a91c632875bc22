// internal/agent/agent.go
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Agent drives one session from objective to terminal state: it merges
// mission context into each model request, executes the returned actions
// against the browser, records history, and repeats until the model signals
// completion, the action cap is hit, or the caller's gate stops the run.
type Agent struct {
	sessionID string
	cfg       *config.Config
	logger    *zap.Logger

	model   ModelCaller
	browser BrowserDriver
	planner TaskPlanner
	mem     *memory.Store
	sink    RecordSink
	safety  SafetyAcknowledger
	gate    RunGate

	tenant   string
	platform string

	sequence int
}

// Options collects the collaborators the agent is wired with. Sink, Safety
// and Gate are optional.
type Options struct {
	Model    ModelCaller
	Browser  BrowserDriver
	Planner  TaskPlanner
	Memory   *memory.Store
	Sink     RecordSink
	Safety   SafetyAcknowledger
	Gate     RunGate
	Tenant   string
	Platform string
}

// New builds an agent for a single run.
func New(cfg *config.Config, opts Options, logger *zap.Logger) *Agent {
	sessionID := uuid.New().String()
	return &Agent{
		sessionID: sessionID,
		cfg:       cfg,
		logger:    logger.Named("agent").With(zap.String("session_id", sessionID)),
		model:     opts.Model,
		browser:   opts.Browser,
		planner:   opts.Planner,
		mem:       opts.Memory,
		sink:      opts.Sink,
		safety:    opts.Safety,
		gate:      opts.Gate,
		tenant:    opts.Tenant,
		platform:  opts.Platform,
	}
}

// SessionID returns this run's session id.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// GetAction submits the conversation turn to the model. Mission memory, when
// present, is prepended as a developer message; the tool manifest is sized to
// the configured viewport. Returns the model's output items and the new
// continuation token.
func (a *Agent) GetAction(ctx context.Context, input []schemas.Item, previousResponseID string) ([]schemas.Item, string, error) {
	if mission := a.mem.FormatForPrompt(a.sessionID); mission != "" {
		input = append([]schemas.Item{schemas.DeveloperMessage(mission)}, input...)
	}

	tools := append(
		[]schemas.Tool{schemas.ComputerUseTool(a.cfg.Browser.ViewportWidth, a.cfg.Browser.ViewportHeight)},
		schemas.NavigationTools()...,
	)

	resp, err := a.model.CreateResponse(ctx, schemas.ModelRequest{
		Input:              input,
		Tools:              tools,
		PreviousResponseID: previousResponseID,
		Truncation:         "auto",
	})
	if err != nil {
		return nil, "", fmt.Errorf("model call failed: %w", err)
	}
	return resp.Output, resp.ID, nil
}

// TakeAction executes the model's output items strictly in order and returns
// the output items to feed back. Every computer/function call produces
// exactly one output item in matching order; messages and reasoning are
// logged only. A rejected safety check aborts with ErrSafetyCheckRejected.
func (a *Agent) TakeAction(ctx context.Context, items []schemas.Item) ([]schemas.Item, error) {
	var outputs []schemas.Item

	for _, item := range items {
		switch item.Type {
		case schemas.ItemMessage:
			a.logger.Info("Model message.", zap.String("text", item.MessageText()))

		case schemas.ItemReasoning:
			for _, part := range item.Summary {
				if part.Text != "" {
					a.logger.Debug("Model reasoning.", zap.String("summary", part.Text))
				}
			}

		case schemas.ItemComputerCall:
			out, err := a.executeComputerCall(ctx, item)
			if err != nil {
				return outputs, err
			}
			outputs = append(outputs, out)

		case schemas.ItemFunctionCall:
			out, err := a.executeFunctionCall(ctx, item)
			if err != nil {
				return outputs, err
			}
			outputs = append(outputs, out)

		default:
			a.logger.Debug("Ignoring unhandled item type.",
				zap.String("type", string(item.Type)))
		}
	}
	return outputs, nil
}

// executeComputerCall runs one viewport action and returns its
// computer_call_output carrying a screenshot of the resulting page state.
func (a *Agent) executeComputerCall(ctx context.Context, item schemas.Item) (schemas.Item, error) {
	if item.Action == nil {
		return schemas.Item{}, fmt.Errorf("computer_call %s has no action", item.CallID)
	}
	action := *item.Action

	acked, err := a.acknowledgeChecks(ctx, item.PendingSafetyChecks, action)
	if err != nil {
		return schemas.Item{}, err
	}

	a.logAction(ctx, "computer_use", action.Describe(), item)
	a.recordAction(action)

	if err := a.dispatch(ctx, action); err != nil {
		return schemas.Item{}, fmt.Errorf("action %q failed: %w", action.Describe(), err)
	}

	// The model needs the post-action page state. Actions that can alter the
	// page force a fresh capture; pointer moves may serve the cache.
	shot, err := a.browser.Screenshot(ctx, action.ChangesVisualState())
	if err != nil {
		return schemas.Item{}, fmt.Errorf("post-action screenshot failed: %w", err)
	}

	return schemas.Item{
		Type:                     schemas.ItemComputerCallOutput,
		CallID:                   item.CallID,
		AcknowledgedSafetyChecks: acked,
		Output: &schemas.ContentPart{
			Type:     schemas.ContentInputImage,
			ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(shot),
		},
	}, nil
}

// acknowledgeChecks runs every pending safety check through the acknowledger.
// Without an acknowledger any flagged action is refused.
func (a *Agent) acknowledgeChecks(ctx context.Context, pending []schemas.SafetyCheck, action schemas.ComputerAction) ([]schemas.SafetyCheck, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	for _, check := range pending {
		ok := a.safety != nil && a.safety.AcknowledgeSafetyCheck(ctx, check)
		if !ok {
			a.logger.Warn("Safety check rejected, aborting run.",
				zap.String("check_id", check.ID),
				zap.String("message", check.Message),
				zap.String("action", action.Describe()))
			return nil, fmt.Errorf("%w: %s", ErrSafetyCheckRejected, check.Message)
		}
		a.logger.Info("Safety check acknowledged.",
			zap.String("check_id", check.ID),
			zap.String("message", check.Message))
	}
	return pending, nil
}

// dispatch routes a computer action to the browser. The kind set is closed:
// anything unrecognized is an error, never a silent no-op.
func (a *Agent) dispatch(ctx context.Context, action schemas.ComputerAction) error {
	switch action.Type {
	case schemas.ActionClick:
		return a.browser.Click(ctx, action.X, action.Y, action.Button)
	case schemas.ActionDoubleClick:
		return a.browser.DoubleClick(ctx, action.X, action.Y)
	case schemas.ActionScroll:
		return a.browser.Scroll(ctx, action.X, action.Y, action.ScrollX, action.ScrollY)
	case schemas.ActionType:
		return a.browser.Type(ctx, action.Text)
	case schemas.ActionKeypress:
		return a.browser.Keypress(ctx, action.Keys)
	case schemas.ActionDrag:
		return a.browser.Drag(ctx, action.Path)
	case schemas.ActionMove:
		return a.browser.Move(ctx, action.X, action.Y)
	case schemas.ActionWait:
		return a.browser.Wait(ctx)
	case schemas.ActionScreenshot:
		// The capture happens uniformly after dispatch.
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action.Type)
	}
}

// executeFunctionCall dispatches a function tool (navigation) and returns
// its function_call_output.
func (a *Agent) executeFunctionCall(ctx context.Context, item schemas.Item) (schemas.Item, error) {
	var result string

	switch item.Name {
	case schemas.FunctionGoto:
		var args struct {
			URL string `json:"url"`
		}
		if err := json.UnmarshalFromString(item.Arguments, &args); err != nil {
			return schemas.Item{}, fmt.Errorf("bad goto arguments %q: %w", item.Arguments, err)
		}
		a.logAction(ctx, schemas.FunctionGoto, "navigate to "+args.URL, item)
		a.recordKind(schemas.ActionGoto, schemas.ActionDetails{URL: args.URL})
		if err := a.browser.Goto(ctx, args.URL); err != nil {
			return schemas.Item{}, err
		}
		result = "navigated to " + args.URL

	case schemas.FunctionBack:
		a.logAction(ctx, schemas.FunctionBack, "go back", item)
		a.recordKind(schemas.ActionBack, schemas.ActionDetails{})
		if err := a.browser.Back(ctx); err != nil {
			return schemas.Item{}, err
		}
		if url, err := a.browser.CurrentURL(ctx); err == nil {
			result = "went back to " + url
		} else {
			result = "went back"
		}

	default:
		return schemas.Item{}, fmt.Errorf("%w: %q", ErrUnknownFunction, item.Name)
	}

	return schemas.Item{
		Type:       schemas.ItemFunctionCallOutput,
		CallID:     item.CallID,
		OutputText: result,
	}, nil
}

// recordAction logs a computer action into mission memory for the stall
// guard.
func (a *Agent) recordAction(action schemas.ComputerAction) {
	details := schemas.ActionDetails{
		X:    action.X,
		Y:    action.Y,
		Text: action.Text,
		Keys: action.Keys,
	}
	if len(action.Path) > 0 {
		details.X = action.Path[0].X
		details.Y = action.Path[0].Y
	}
	a.recordKind(action.Type, details)
}

func (a *Agent) recordKind(kind schemas.ActionKind, details schemas.ActionDetails) {
	a.mem.LogAction(a.sessionID, schemas.ActionRecord{
		At:      time.Now(),
		Kind:    kind,
		Details: details,
	})
}

// logAction persists an action-log record before execution so observers see
// progress promptly. Persistence failures never block the run.
func (a *Agent) logAction(ctx context.Context, toolLabel, instruction string, item schemas.Item) {
	a.sequence++
	a.logger.Info("Executing action.",
		zap.Int("sequence", a.sequence),
		zap.String("instruction", instruction))

	if a.sink == nil {
		return
	}
	payload, err := json.Marshal(item)
	if err != nil {
		payload = []byte("{}")
	}
	rec := schemas.ActionLogRecord{
		SessionID:   a.sessionID,
		Sequence:    a.sequence,
		ToolLabel:   toolLabel,
		Instruction: instruction,
		RawPayload:  payload,
		At:          time.Now(),
	}
	if err := a.sink.InsertActionLog(ctx, rec); err != nil {
		a.logger.Warn("Failed to persist action log.", zap.Error(err))
	}
}
