// internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// ModelCaller is the computer-use endpoint surface the loop consumes.
type ModelCaller interface {
	CreateResponse(ctx context.Context, req schemas.ModelRequest) (*schemas.ModelResponse, error)
}

// BrowserDriver is the remote-session surface the loop drives. Implemented
// by browser.Manager; narrowed here so tests can substitute a fake.
type BrowserDriver interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context)
	Alive() bool

	Click(ctx context.Context, x, y int, button string) error
	DoubleClick(ctx context.Context, x, y int) error
	Scroll(ctx context.Context, x, y, deltaX, deltaY int) error
	Type(ctx context.Context, text string) error
	Keypress(ctx context.Context, keys []string) error
	Drag(ctx context.Context, path []schemas.Point) error
	Move(ctx context.Context, x, y int) error
	Wait(ctx context.Context) error

	Goto(ctx context.Context, url string) error
	Back(ctx context.Context) error
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, force bool) ([]byte, error)
}

// TaskPlanner turns an objective into an ordered step list. Planning is
// best-effort and never fails the run.
type TaskPlanner interface {
	Plan(ctx context.Context, objective, tenant, platform string) []string
}

// RecordSink receives action logs and the terminal status update. A nil sink
// disables persistence.
type RecordSink interface {
	InsertActionLog(ctx context.Context, rec schemas.ActionLogRecord) error
	UpdateSessionStatus(ctx context.Context, upd schemas.SessionStatusUpdate) error
}

// SafetyAcknowledger decides whether a model-flagged safety check may
// proceed. It may consult external state (human approval, policy flags); a
// false return aborts the run.
type SafetyAcknowledger interface {
	AcknowledgeSafetyCheck(ctx context.Context, check schemas.SafetyCheck) bool
}

// RunGate is polled once per loop iteration; a false return stops the run
// after the current action completes.
type RunGate interface {
	CanRun(ctx context.Context) bool
}
