// internal/browser/keys.go
package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
)

// keyNames maps the upper-cased key names the model emits to the DOM key
// values CDP expects. Single printable characters pass through unchanged.
var keyNames = map[string]string{
	"ENTER":      "Enter",
	"RETURN":     "Enter",
	"TAB":        "Tab",
	"ESC":        "Escape",
	"ESCAPE":     "Escape",
	"BACKSPACE":  "Backspace",
	"DELETE":     "Delete",
	"DEL":        "Delete",
	"SPACE":      " ",
	"HOME":       "Home",
	"END":        "End",
	"PAGEUP":     "PageUp",
	"PAGEDOWN":   "PageDown",
	"UP":         "ArrowUp",
	"DOWN":       "ArrowDown",
	"LEFT":       "ArrowLeft",
	"RIGHT":      "ArrowRight",
	"ARROWUP":    "ArrowUp",
	"ARROWDOWN":  "ArrowDown",
	"ARROWLEFT":  "ArrowLeft",
	"ARROWRIGHT": "ArrowRight",
	"CTRL":       "Control",
	"CONTROL":    "Control",
	"ALT":        "Alt",
	"OPTION":     "Alt",
	"SHIFT":      "Shift",
	"META":       "Meta",
	"CMD":        "Meta",
	"COMMAND":    "Meta",
	"SUPER":      "Meta",
	"WIN":        "Meta",
}

// modifierBits maps translated modifier key values to the CDP modifier
// bitmask used while the modifier is held.
var modifierBits = map[string]input.Modifier{
	"Control": input.ModifierCtrl,
	"Alt":     input.ModifierAlt,
	"Shift":   input.ModifierShift,
	"Meta":    input.ModifierMeta,
}

// translateKey converts one model-provided key name to its CDP key value.
func translateKey(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("empty key name")
	}
	if mapped, ok := keyNames[strings.ToUpper(trimmed)]; ok {
		return mapped, nil
	}
	// Function keys (F1..F12) and single printable characters pass through.
	runes := []rune(trimmed)
	if len(runes) == 1 {
		return trimmed, nil
	}
	upper := strings.ToUpper(trimmed)
	if len(upper) <= 3 && strings.HasPrefix(upper, "F") {
		return upper, nil
	}
	return "", fmt.Errorf("unrecognized key name %q", name)
}

// isModifier reports whether a translated key value is a modifier key.
func isModifier(key string) bool {
	_, ok := modifierBits[key]
	return ok
}

// translateChord resolves a key combination into held modifiers plus the
// non-modifier keys to press while they are held. A chord of only modifiers is
// valid (the keys themselves are pressed and released).
func translateChord(names []string) (modifiers []string, keys []string, err error) {
	for _, name := range names {
		key, err := translateKey(name)
		if err != nil {
			return nil, nil, err
		}
		if isModifier(key) {
			modifiers = append(modifiers, key)
		} else {
			keys = append(keys, key)
		}
	}
	if len(modifiers) == 0 && len(keys) == 0 {
		return nil, nil, fmt.Errorf("empty key chord")
	}
	return modifiers, keys, nil
}

// chordModifiers folds held modifiers into a CDP bitmask.
func chordModifiers(held []string) input.Modifier {
	var mask input.Modifier
	for _, m := range held {
		mask |= modifierBits[m]
	}
	return mask
}
