// internal/stallguard/stallguard.go
package stallguard

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Window sizes for the per-pattern lookbacks.
const (
	clickWindow = 5
	typeWindow  = 4
	navWindow   = 6
)

// Check analyzes the action-history window and classifies repetitive or
// unproductive behavior. It is a pure function of the history, the current
// time, and the configured thresholds. Patterns short-circuit in priority
// order: repeated wait, same click, repeated typing, circular navigation,
// inactivity.
func Check(history []schemas.ActionRecord, now time.Time, cfg config.StallConfig) schemas.StallCheckResult {
	if len(history) == 0 {
		return notStuck()
	}

	if res, ok := checkRepeatedWait(history, cfg.WaitThreshold); ok {
		return res
	}
	if res, ok := checkSameClick(history, cfg.ClickRadiusPx, cfg.ClickThreshold); ok {
		return res
	}
	if res, ok := checkRepeatedTyping(history, cfg.TypeThreshold); ok {
		return res
	}
	if res, ok := checkCircularNav(history, cfg.NavThreshold); ok {
		return res
	}
	if res, ok := checkInactivity(history, now, cfg.InactivityDuration); ok {
		return res
	}
	return notStuck()
}

func notStuck() schemas.StallCheckResult {
	return schemas.StallCheckResult{Pattern: schemas.StallNone}
}

// checkRepeatedWait fires when the tail of history is an unbroken run of
// wait actions at least threshold long.
func checkRepeatedWait(history []schemas.ActionRecord, threshold int) (schemas.StallCheckResult, bool) {
	if threshold <= 0 {
		return schemas.StallCheckResult{}, false
	}
	run := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind != schemas.ActionWait {
			break
		}
		run++
	}
	if run < threshold {
		return schemas.StallCheckResult{}, false
	}
	return schemas.StallCheckResult{
		Stuck:    true,
		Pattern:  schemas.StallRepeatedWait,
		Reason:   fmt.Sprintf("last %d actions were all waits", run),
		Severity: schemas.SeverityHigh,
	}, true
}

// checkSameClick fires when, among the most recent clicks, threshold or more
// land within radiusPx of each other.
func checkSameClick(history []schemas.ActionRecord, radiusPx float64, threshold int) (schemas.StallCheckResult, bool) {
	if threshold <= 0 {
		return schemas.StallCheckResult{}, false
	}
	var clicks []schemas.ActionRecord
	for i := len(history) - 1; i >= 0 && len(clicks) < clickWindow; i-- {
		k := history[i].Kind
		if k == schemas.ActionClick || k == schemas.ActionDoubleClick {
			clicks = append(clicks, history[i])
		}
	}
	if len(clicks) < threshold {
		return schemas.StallCheckResult{}, false
	}

	for i := range clicks {
		near := 1
		for j := i + 1; j < len(clicks); j++ {
			dx := float64(clicks[i].Details.X - clicks[j].Details.X)
			dy := float64(clicks[i].Details.Y - clicks[j].Details.Y)
			if math.Hypot(dx, dy) <= radiusPx {
				near++
			}
		}
		if near >= threshold {
			return schemas.StallCheckResult{
				Stuck:   true,
				Pattern: schemas.StallSameClick,
				Reason: fmt.Sprintf("%d recent clicks within %.0fpx of (%d, %d)",
					near, radiusPx, clicks[i].Details.X, clicks[i].Details.Y),
				Severity: schemas.SeverityHigh,
			}, true
		}
	}
	return schemas.StallCheckResult{}, false
}

// checkRepeatedTyping fires when the same normalized text was typed at least
// threshold times among the most recent type actions.
func checkRepeatedTyping(history []schemas.ActionRecord, threshold int) (schemas.StallCheckResult, bool) {
	if threshold <= 0 {
		return schemas.StallCheckResult{}, false
	}
	counts := make(map[string]int)
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < typeWindow; i-- {
		if history[i].Kind != schemas.ActionType {
			continue
		}
		seen++
		norm := strings.ToLower(strings.TrimSpace(history[i].Details.Text))
		if norm == "" {
			continue
		}
		counts[norm]++
		if counts[norm] >= threshold {
			return schemas.StallCheckResult{
				Stuck:    true,
				Pattern:  schemas.StallRepeatedType,
				Reason:   fmt.Sprintf("typed %q %d times recently", norm, counts[norm]),
				Severity: schemas.SeverityMedium,
			}, true
		}
	}
	return schemas.StallCheckResult{}, false
}

// checkCircularNav fires when a single URL was visited at least threshold
// times among the most recent goto actions.
func checkCircularNav(history []schemas.ActionRecord, threshold int) (schemas.StallCheckResult, bool) {
	if threshold <= 0 {
		return schemas.StallCheckResult{}, false
	}
	counts := make(map[string]int)
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < navWindow; i-- {
		if history[i].Kind != schemas.ActionGoto {
			continue
		}
		seen++
		url := history[i].Details.URL
		if url == "" {
			continue
		}
		counts[url]++
		if counts[url] >= threshold {
			return schemas.StallCheckResult{
				Stuck:    true,
				Pattern:  schemas.StallCircularNav,
				Reason:   fmt.Sprintf("navigated to %s %d times recently", url, counts[url]),
				Severity: schemas.SeverityHigh,
			}, true
		}
	}
	return schemas.StallCheckResult{}, false
}

// checkInactivity fires when no meaningful action (waits, screenshots and
// cursor moves do not count) happened within the threshold of the most
// recent record.
func checkInactivity(history []schemas.ActionRecord, now time.Time, threshold time.Duration) (schemas.StallCheckResult, bool) {
	if threshold <= 0 {
		return schemas.StallCheckResult{}, false
	}
	cutoff := now.Add(-threshold)
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		if rec.At.Before(cutoff) {
			break
		}
		if isMeaningful(rec.Kind) {
			return schemas.StallCheckResult{}, false
		}
	}
	return schemas.StallCheckResult{
		Stuck:    true,
		Pattern:  schemas.StallInactivity,
		Reason:   fmt.Sprintf("no meaningful action in the last %s", threshold),
		Severity: schemas.SeverityHigh,
	}, true
}

func isMeaningful(kind schemas.ActionKind) bool {
	switch kind {
	case schemas.ActionWait, schemas.ActionScreenshot, schemas.ActionMove:
		return false
	default:
		return true
	}
}

// RecoveryInstruction maps a detected pattern to corrective guidance for the
// next model turn. Injection is the action loop's job; this only supplies
// the text.
func RecoveryInstruction(pattern schemas.StallPattern, goal string) string {
	var advice string
	switch pattern {
	case schemas.StallRepeatedWait:
		advice = "You have been waiting repeatedly without progress. Stop waiting. Take a screenshot, reassess the page, and perform a concrete action toward the goal."
	case schemas.StallSameClick:
		advice = "You keep clicking the same spot without effect. That element is not responding. Scroll or look for a different element that advances the goal."
	case schemas.StallRepeatedType:
		advice = "You typed the same text multiple times. The input may not be focused or already contains the text. Click the field first, verify its contents, then continue."
	case schemas.StallCircularNav:
		advice = "You are navigating in circles between the same pages. Stop and re-read the current page carefully before navigating again."
	case schemas.StallInactivity:
		advice = "No meaningful progress has been made recently. Reassess the current page and take a decisive next step."
	default:
		advice = "Progress appears stalled. Reassess the page state and change your approach."
	}
	return fmt.Sprintf("ATTENTION: %s Your goal is: %s", advice, goal)
}
