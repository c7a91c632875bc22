package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func newTestStore(t *testing.T) *Store {
	return NewStore(200, 5, zaptest.NewLogger(t))
}

func TestSetMissionMemoryIdempotent(t *testing.T) {
	s := newTestStore(t)

	s.SetMissionMemory("s1", "first goal", []string{"step one"})
	s.SetMissionMemory("s1", "second goal", []string{"other step"})

	assert.Equal(t, "first goal", s.Goal("s1"))
	assert.Contains(t, s.FormatForPrompt("s1"), "step one")
	assert.NotContains(t, s.FormatForPrompt("s1"), "other step")
}

func TestSetMissionMemoryCapsPlan(t *testing.T) {
	s := NewStore(3, 5, zaptest.NewLogger(t))

	plan := []string{"a", "b", "c", "d", "e"}
	s.SetMissionMemory("s1", "goal", plan)

	prompt := s.FormatForPrompt("s1")
	assert.Contains(t, prompt, "3. c")
	assert.NotContains(t, prompt, "4. d")
}

func TestFormatForPrompt(t *testing.T) {
	s := newTestStore(t)

	t.Run("empty without memory", func(t *testing.T) {
		assert.Empty(t, s.FormatForPrompt("missing"))
	})

	t.Run("empty with empty plan", func(t *testing.T) {
		s.SetMissionMemory("empty-plan", "goal", nil)
		assert.Empty(t, s.FormatForPrompt("empty-plan"))
	})

	t.Run("numbered rendition", func(t *testing.T) {
		s.SetMissionMemory("s1", "order a pizza", []string{"open the site", "pick a pizza", "check out"})
		prompt := s.FormatForPrompt("s1")
		assert.Contains(t, prompt, "MISSION GOAL: order a pizza")
		assert.Contains(t, prompt, "1. open the site")
		assert.Contains(t, prompt, "2. pick a pizza")
		assert.Contains(t, prompt, "3. check out")
	})
}

func TestActionHistoryRing(t *testing.T) {
	s := newTestStore(t) // history cap 5

	for i := 0; i < 8; i++ {
		s.LogAction("s1", schemas.ActionRecord{
			At:      time.Now(),
			Kind:    schemas.ActionClick,
			Details: schemas.ActionDetails{X: i},
		})
	}

	history := s.GetActionHistory("s1")
	require.Len(t, history, 5)
	// Oldest three were evicted; remaining entries come back oldest first.
	assert.Equal(t, 3, history[0].Details.X)
	assert.Equal(t, 7, history[4].Details.X)
}

func TestGetActionHistoryReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	s.LogAction("s1", schemas.ActionRecord{Kind: schemas.ActionClick})

	history := s.GetActionHistory("s1")
	history[0].Kind = schemas.ActionWait

	assert.Equal(t, schemas.ActionClick, s.GetActionHistory("s1")[0].Kind)
}

func TestClearActionHistoryKeepsMission(t *testing.T) {
	s := newTestStore(t)
	s.SetMissionMemory("s1", "goal", []string{"step"})
	s.LogAction("s1", schemas.ActionRecord{Kind: schemas.ActionClick})

	s.ClearActionHistory("s1")

	assert.Empty(t, s.GetActionHistory("s1"))
	assert.NotEmpty(t, s.FormatForPrompt("s1"))
}

func TestIncrementActionCount(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, 0, s.ActionCount("s1"))
	assert.Equal(t, 1, s.IncrementActionCount("s1"))
	assert.Equal(t, 2, s.IncrementActionCount("s1"))
	assert.Equal(t, 2, s.ActionCount("s1"))
}

func TestClearSession(t *testing.T) {
	s := newTestStore(t)
	s.SetMissionMemory("s1", "goal", []string{"step"})
	s.LogAction("s1", schemas.ActionRecord{Kind: schemas.ActionClick})
	s.IncrementActionCount("s1")

	s.ClearSession("s1")

	assert.Empty(t, s.FormatForPrompt("s1"))
	assert.Empty(t, s.GetActionHistory("s1"))
	assert.Equal(t, 0, s.ActionCount("s1"))
}

func TestConcurrentSessionsIsolated(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", n)
			s.SetMissionMemory(id, fmt.Sprintf("goal-%d", n), []string{"step"})
			for j := 0; j < 20; j++ {
				s.LogAction(id, schemas.ActionRecord{Kind: schemas.ActionClick})
				s.IncrementActionCount(id)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("session-%d", i)
		assert.Equal(t, fmt.Sprintf("goal-%d", i), s.Goal(id))
		assert.Equal(t, 20, s.ActionCount(id))
		assert.Len(t, s.GetActionHistory(id), 5)
	}
}
