package stallguard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

func defaultThresholds() config.StallConfig {
	return config.StallConfig{
		WaitThreshold:      3,
		ClickRadiusPx:      10,
		ClickThreshold:     2,
		TypeThreshold:      2,
		NavThreshold:       3,
		InactivityDuration: 60 * time.Second,
	}
}

func rec(kind schemas.ActionKind, details schemas.ActionDetails, at time.Time) schemas.ActionRecord {
	return schemas.ActionRecord{At: at, Kind: kind, Details: details}
}

func TestCheckEmptyHistory(t *testing.T) {
	res := Check(nil, time.Now(), defaultThresholds())
	assert.False(t, res.Stuck)
	assert.Equal(t, schemas.StallNone, res.Pattern)
}

func TestCheckRepeatedWait(t *testing.T) {
	now := time.Now()

	t.Run("three trailing waits trigger", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionClick, schemas.ActionDetails{X: 5, Y: 5}, now),
			rec(schemas.ActionWait, schemas.ActionDetails{}, now),
			rec(schemas.ActionWait, schemas.ActionDetails{}, now),
			rec(schemas.ActionWait, schemas.ActionDetails{}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.True(t, res.Stuck)
		assert.Equal(t, schemas.StallRepeatedWait, res.Pattern)
		assert.Equal(t, schemas.SeverityHigh, res.Severity)
	})

	t.Run("interrupted wait run does not trigger", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionWait, schemas.ActionDetails{}, now),
			rec(schemas.ActionWait, schemas.ActionDetails{}, now),
			rec(schemas.ActionClick, schemas.ActionDetails{X: 5, Y: 5}, now),
			rec(schemas.ActionWait, schemas.ActionDetails{}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.False(t, res.Stuck)
	})
}

func TestCheckSameClick(t *testing.T) {
	now := time.Now()

	t.Run("two clicks within radius trigger", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionClick, schemas.ActionDetails{X: 100, Y: 100}, now),
			rec(schemas.ActionClick, schemas.ActionDetails{X: 104, Y: 103}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.True(t, res.Stuck)
		assert.Equal(t, schemas.StallSameClick, res.Pattern)
		assert.Equal(t, schemas.SeverityHigh, res.Severity)
	})

	t.Run("distant clicks do not trigger", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionClick, schemas.ActionDetails{X: 100, Y: 100}, now),
			rec(schemas.ActionClick, schemas.ActionDetails{X: 300, Y: 400}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.False(t, res.Stuck)
	})

	t.Run("fractional radius is honored", func(t *testing.T) {
		cfg := defaultThresholds()
		cfg.ClickRadiusPx = 4.5
		history := []schemas.ActionRecord{
			rec(schemas.ActionClick, schemas.ActionDetails{X: 100, Y: 100}, now),
			rec(schemas.ActionClick, schemas.ActionDetails{X: 103, Y: 103}, now),
		}
		// Distance is ~4.24px: inside 4.5 but outside 4.0.
		res := Check(history, now, cfg)
		assert.True(t, res.Stuck)

		cfg.ClickRadiusPx = 4.0
		res = Check(history, now, cfg)
		assert.False(t, res.Stuck)
	})

	t.Run("only the last five clicks are considered", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionClick, schemas.ActionDetails{X: 100, Y: 100}, now),
		}
		// Five fresh clicks spread far apart push the old one out of the window.
		coords := [][2]int{{10, 10}, {200, 10}, {400, 10}, {10, 300}, {200, 300}}
		for _, c := range coords {
			history = append(history, rec(schemas.ActionClick, schemas.ActionDetails{X: c[0], Y: c[1]}, now))
		}
		res := Check(history, now, defaultThresholds())
		assert.False(t, res.Stuck)
	})
}

func TestCheckRepeatedTyping(t *testing.T) {
	now := time.Now()

	t.Run("same normalized text twice triggers", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionType, schemas.ActionDetails{Text: "Hello World"}, now),
			rec(schemas.ActionClick, schemas.ActionDetails{X: 1, Y: 1}, now),
			rec(schemas.ActionType, schemas.ActionDetails{Text: "  hello world "}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.True(t, res.Stuck)
		assert.Equal(t, schemas.StallRepeatedType, res.Pattern)
		assert.Equal(t, schemas.SeverityMedium, res.Severity)
	})

	t.Run("different texts do not trigger", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionType, schemas.ActionDetails{Text: "first"}, now),
			rec(schemas.ActionType, schemas.ActionDetails{Text: "second"}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.False(t, res.Stuck)
	})
}

func TestCheckCircularNav(t *testing.T) {
	now := time.Now()

	t.Run("url revisited three times triggers", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionGoto, schemas.ActionDetails{URL: "https://example.com/a"}, now),
			rec(schemas.ActionGoto, schemas.ActionDetails{URL: "https://example.com/b"}, now),
			rec(schemas.ActionGoto, schemas.ActionDetails{URL: "https://example.com/a"}, now),
			rec(schemas.ActionGoto, schemas.ActionDetails{URL: "https://example.com/a"}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.True(t, res.Stuck)
		assert.Equal(t, schemas.StallCircularNav, res.Pattern)
	})

	t.Run("two visits do not trigger", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionGoto, schemas.ActionDetails{URL: "https://example.com/a"}, now),
			rec(schemas.ActionGoto, schemas.ActionDetails{URL: "https://example.com/a"}, now),
		}
		res := Check(history, now, defaultThresholds())
		assert.False(t, res.Stuck)
	})
}

func TestCheckInactivity(t *testing.T) {
	now := time.Now()

	t.Run("only idle actions recently triggers", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionClick, schemas.ActionDetails{X: 1, Y: 1}, now.Add(-5*time.Minute)),
			rec(schemas.ActionScreenshot, schemas.ActionDetails{}, now.Add(-30*time.Second)),
			rec(schemas.ActionMove, schemas.ActionDetails{X: 2, Y: 2}, now.Add(-10*time.Second)),
		}
		res := Check(history, now, defaultThresholds())
		assert.True(t, res.Stuck)
		assert.Equal(t, schemas.StallInactivity, res.Pattern)
	})

	t.Run("recent meaningful action does not trigger", func(t *testing.T) {
		history := []schemas.ActionRecord{
			rec(schemas.ActionClick, schemas.ActionDetails{X: 1, Y: 1}, now.Add(-10*time.Second)),
		}
		res := Check(history, now, defaultThresholds())
		assert.False(t, res.Stuck)
	})
}

func TestCheckPriorityOrder(t *testing.T) {
	now := time.Now()
	// History that satisfies both same-click and repeated-wait; the trailing
	// waits must win because repeated-wait is checked first.
	history := []schemas.ActionRecord{
		rec(schemas.ActionClick, schemas.ActionDetails{X: 50, Y: 50}, now),
		rec(schemas.ActionClick, schemas.ActionDetails{X: 52, Y: 51}, now),
		rec(schemas.ActionWait, schemas.ActionDetails{}, now),
		rec(schemas.ActionWait, schemas.ActionDetails{}, now),
		rec(schemas.ActionWait, schemas.ActionDetails{}, now),
	}
	res := Check(history, now, defaultThresholds())
	assert.True(t, res.Stuck)
	assert.Equal(t, schemas.StallRepeatedWait, res.Pattern)
}

func TestRecoveryInstruction(t *testing.T) {
	goal := "buy a red stapler"

	for _, pattern := range []schemas.StallPattern{
		schemas.StallRepeatedWait,
		schemas.StallSameClick,
		schemas.StallRepeatedType,
		schemas.StallCircularNav,
		schemas.StallInactivity,
		schemas.StallGeneral,
	} {
		text := RecoveryInstruction(pattern, goal)
		assert.True(t, strings.HasPrefix(text, "ATTENTION:"), "pattern %s missing prefix", pattern)
		assert.Contains(t, text, goal, "pattern %s missing goal", pattern)
	}
}
