// internal/agent/errors.go
package agent

import "errors"

var (
	// ErrSafetyCheckRejected means the acknowledger declined a pending
	// safety check. The run aborts; the flagged action never executes.
	ErrSafetyCheckRejected = errors.New("safety check rejected")

	// ErrUnknownAction means the model emitted an action kind outside the
	// closed dispatch set.
	ErrUnknownAction = errors.New("unknown action kind")

	// ErrUnknownFunction means the model called a function tool the loop
	// does not expose.
	ErrUnknownFunction = errors.New("unknown function tool")
)
