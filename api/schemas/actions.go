// api/schemas/actions.go
package schemas

import "fmt"

// ActionKind enumerates the closed set of viewport actions the model may
// request. Dispatch is always by explicit switch on this type; an unrecognized
// kind is an error, never a silent no-op.
type ActionKind string

const (
	ActionClick       ActionKind = "click"
	ActionDoubleClick ActionKind = "double_click"
	ActionScroll      ActionKind = "scroll"
	ActionType        ActionKind = "type"
	ActionWait        ActionKind = "wait"
	ActionKeypress    ActionKind = "keypress"
	ActionDrag        ActionKind = "drag"
	ActionScreenshot  ActionKind = "screenshot"
	ActionMove        ActionKind = "move"

	// Function-tool actions. These arrive as function calls rather than
	// computer calls but share the history vocabulary for stall detection.
	ActionGoto ActionKind = "goto"
	ActionBack ActionKind = "back"
)

// Mouse button names as the model emits them.
const (
	ButtonLeft    = "left"
	ButtonRight   = "right"
	ButtonMiddle  = "middle"
	ButtonBack    = "back"
	ButtonForward = "forward"
)

// Point is a viewport coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ComputerAction is the typed payload of a computer_call item. Only the fields
// relevant to Type are populated.
type ComputerAction struct {
	Type ActionKind `json:"type"`

	// click, double_click, move
	Button string `json:"button,omitempty"`
	X      int    `json:"x,omitempty"`
	Y      int    `json:"y,omitempty"`

	// scroll: X/Y is the anchor point, ScrollX/ScrollY the deltas.
	ScrollX int `json:"scroll_x,omitempty"`
	ScrollY int `json:"scroll_y,omitempty"`

	// type
	Text string `json:"text,omitempty"`

	// keypress
	Keys []string `json:"keys,omitempty"`

	// drag
	Path []Point `json:"path,omitempty"`
}

// Describe renders a short human-readable instruction for observers. The loop
// logs this before executing so progress is visible promptly.
func (a ComputerAction) Describe() string {
	switch a.Type {
	case ActionClick:
		return fmt.Sprintf("click %s at (%d, %d)", a.Button, a.X, a.Y)
	case ActionDoubleClick:
		return fmt.Sprintf("double-click at (%d, %d)", a.X, a.Y)
	case ActionScroll:
		return fmt.Sprintf("scroll by (%d, %d) at (%d, %d)", a.ScrollX, a.ScrollY, a.X, a.Y)
	case ActionType:
		return fmt.Sprintf("type %q", truncate(a.Text, 60))
	case ActionWait:
		return "wait"
	case ActionKeypress:
		return fmt.Sprintf("press %v", a.Keys)
	case ActionDrag:
		if n := len(a.Path); n >= 2 {
			return fmt.Sprintf("drag from (%d, %d) to (%d, %d)", a.Path[0].X, a.Path[0].Y, a.Path[n-1].X, a.Path[n-1].Y)
		}
		return "drag"
	case ActionScreenshot:
		return "take screenshot"
	case ActionMove:
		return fmt.Sprintf("move pointer to (%d, %d)", a.X, a.Y)
	default:
		return string(a.Type)
	}
}

// ChangesVisualState reports whether executing the action can alter what the
// page looks like. Actions that do require a forced screenshot refresh; pure
// pointer movement does not.
func (a ComputerAction) ChangesVisualState() bool {
	switch a.Type {
	case ActionMove, ActionScreenshot, ActionWait:
		return false
	default:
		return true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
