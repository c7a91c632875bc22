// internal/memory/memory.go
package memory

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// missionState is everything remembered about one running session.
type missionState struct {
	goal        string
	plan        []string
	actionCount int
	history     []schemas.ActionRecord
}

// Store holds per-session mission memory: the original goal, the step plan,
// a monotonic action counter, and a bounded ring of action records consumed
// by the stall guard. State lives for the duration of a run and is released
// by ClearSession on termination; nothing is persisted.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*missionState
	planCap    int
	historyCap int
	logger     *zap.Logger
}

// NewStore builds a memory store. planCap bounds the stored step plan and
// historyCap bounds the action-record ring.
func NewStore(planCap, historyCap int, logger *zap.Logger) *Store {
	if planCap <= 0 {
		planCap = 200
	}
	if historyCap <= 0 {
		historyCap = 50
	}
	return &Store{
		sessions:   make(map[string]*missionState),
		planCap:    planCap,
		historyCap: historyCap,
		logger:     logger.Named("memory"),
	}
}

// SetMissionMemory seeds the goal and plan for a session. It is idempotent:
// a session that already has memory is left untouched.
func (s *Store) SetMissionMemory(sessionID, goal string, plan []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sessionID]; exists {
		s.logger.Debug("Mission memory already set, ignoring.",
			zap.String("session_id", sessionID))
		return
	}

	if len(plan) > s.planCap {
		s.logger.Warn("Step plan exceeds cap, truncating.",
			zap.String("session_id", sessionID),
			zap.Int("plan_len", len(plan)),
			zap.Int("cap", s.planCap))
		plan = plan[:s.planCap]
	}

	stored := make([]string, len(plan))
	copy(stored, plan)
	s.sessions[sessionID] = &missionState{goal: goal, plan: stored}
}

// FormatForPrompt renders the mission as a developer-message block: the goal,
// the numbered plan, and a short steering instruction. It returns "" when the
// session has no memory or an empty plan, which disables injection.
func (s *Store) FormatForPrompt(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok || len(state.plan) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("MISSION GOAL: ")
	b.WriteString(state.goal)
	b.WriteString("\n\nPLANNED STEPS:\n")
	for i, step := range state.plan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("\nFollow the planned steps in order. If the page state shows a step is already done, move on to the next one. Stay focused on the mission goal.")
	return b.String()
}

// LogAction appends a record to the session's history ring, evicting the
// oldest entry once the ring is full.
func (s *Store) LogAction(sessionID string, rec schemas.ActionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		state = &missionState{}
		s.sessions[sessionID] = state
	}

	state.history = append(state.history, rec)
	if len(state.history) > s.historyCap {
		state.history = state.history[len(state.history)-s.historyCap:]
	}
}

// GetActionHistory returns a copy of the session's history, oldest first.
func (s *Store) GetActionHistory(sessionID string) []schemas.ActionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok || len(state.history) == 0 {
		return nil
	}
	out := make([]schemas.ActionRecord, len(state.history))
	copy(out, state.history)
	return out
}

// ClearActionHistory drains the ring without touching goal or plan.
func (s *Store) ClearActionHistory(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.sessions[sessionID]; ok {
		state.history = nil
	}
}

// IncrementActionCount bumps and returns the session's action counter.
func (s *Store) IncrementActionCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		state = &missionState{}
		s.sessions[sessionID] = state
	}
	state.actionCount++
	return state.actionCount
}

// ActionCount returns the counter without modifying it.
func (s *Store) ActionCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.sessions[sessionID]; ok {
		return state.actionCount
	}
	return 0
}

// Goal returns the stored mission goal, or "" when none is set.
func (s *Store) Goal(sessionID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.sessions[sessionID]; ok {
		return state.goal
	}
	return ""
}

// ClearSession releases all state for the session. Called unconditionally on
// run termination to bound memory growth.
func (s *Store) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}
