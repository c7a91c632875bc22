// api/schemas/records.go
package schemas

import (
	"encoding/json"
	"time"
)

// ActionRecord is an immutable log entry for one executed action. Records are
// held in a bounded most-recent-N ring per session and consumed by the stall
// guard.
type ActionRecord struct {
	At      time.Time     `json:"at"`
	Kind    ActionKind    `json:"kind"`
	Details ActionDetails `json:"details"`
}

// ActionDetails carries only the fields relevant to the record's kind.
type ActionDetails struct {
	X    int      `json:"x,omitempty"`
	Y    int      `json:"y,omitempty"`
	Text string   `json:"text,omitempty"`
	URL  string   `json:"url,omitempty"`
	Keys []string `json:"keys,omitempty"`
}

// StallPattern tags the kind of unproductive behavior detected in the action
// history window.
type StallPattern string

const (
	StallNone         StallPattern = "none"
	StallRepeatedWait StallPattern = "repeated-wait"
	StallSameClick    StallPattern = "same-click"
	StallRepeatedType StallPattern = "repeated-typing"
	StallCircularNav  StallPattern = "circular-nav"
	StallInactivity   StallPattern = "stuck-inactivity"
	StallGeneral      StallPattern = "general-stuck"
)

// Severity tier of a detected stall.
type StallSeverity string

const (
	SeverityLow    StallSeverity = "low"
	SeverityMedium StallSeverity = "medium"
	SeverityHigh   StallSeverity = "high"
)

// StallCheckResult is derived fresh from the current history window; it is
// never persisted.
type StallCheckResult struct {
	Stuck    bool
	Pattern  StallPattern
	Reason   string
	Severity StallSeverity
}

// RunStatus is the terminal state of an action-loop run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunCapped    RunStatus = "capped"
	RunStopped   RunStatus = "stopped"
	RunFailed    RunStatus = "failed"
)

// ActionLogRecord is the per-action record produced to the persistence
// collaborator. RawPayload is the action as the model emitted it.
type ActionLogRecord struct {
	SessionID   string          `json:"session_id"`
	Sequence    int             `json:"sequence"`
	ToolLabel   string          `json:"tool_label"`
	Instruction string          `json:"instruction"`
	Reasoning   string          `json:"reasoning,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	At          time.Time       `json:"at"`
}

// SessionStatusUpdate is emitted once when a run reaches a terminal state.
type SessionStatusUpdate struct {
	SessionID  string    `json:"session_id"`
	Status     RunStatus `json:"status"`
	Reason     string    `json:"reason"`
	StepCount  int       `json:"step_count"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
