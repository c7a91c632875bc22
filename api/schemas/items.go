// api/schemas/items.go
package schemas

// ItemType discriminates the union of conversation items exchanged with the
// computer-use model. Every request input and every response output is a flat
// list of these.
type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemReasoning          ItemType = "reasoning"
	ItemComputerCall       ItemType = "computer_call"
	ItemComputerCallOutput ItemType = "computer_call_output"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
)

// Message roles. The developer role carries steering context (mission memory,
// stall recovery guidance) that the model treats as higher priority than user
// text.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"
)

// ContentPart is one chunk of message content. Text parts carry Text; image
// parts carry a data URL in ImageURL.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

const (
	ContentInputText  = "input_text"
	ContentOutputText = "output_text"
	ContentInputImage = "input_image"
)

// SafetyCheck is attached by the model to a pending computer call. It must be
// explicitly acknowledged before the call may execute; a rejected check aborts
// the run.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Item is the wire representation of one conversation item. It is a tagged
// union: Type selects which fields are meaningful, everything else stays
// zero-valued and is omitted on the wire.
type Item struct {
	Type ItemType `json:"type"`
	ID   string   `json:"id,omitempty"`

	// Message fields.
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// Reasoning fields. Audit/logging only, never executed.
	Summary []ContentPart `json:"summary,omitempty"`

	// Computer call fields. CallID pairs the call with its output item.
	CallID              string          `json:"call_id,omitempty"`
	Action              *ComputerAction `json:"action,omitempty"`
	PendingSafetyChecks []SafetyCheck   `json:"pending_safety_checks,omitempty"`

	// Computer call output fields.
	AcknowledgedSafetyChecks []SafetyCheck `json:"acknowledged_safety_checks,omitempty"`
	Output                   *ContentPart  `json:"output,omitempty"`

	// Function call fields. Arguments is raw JSON owned by the model.
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Function call output. A plain string result, JSON-encoded when the
	// underlying result is structured.
	OutputText string `json:"output_text,omitempty"`

	// Status as reported by the model (e.g. "completed"). Informational.
	Status string `json:"status,omitempty"`
}

// DeveloperMessage builds a developer-role text item.
func DeveloperMessage(text string) Item {
	return Item{
		Type:    ItemMessage,
		Role:    RoleDeveloper,
		Content: []ContentPart{{Type: ContentInputText, Text: text}},
	}
}

// UserMessage builds a user-role text item.
func UserMessage(text string) Item {
	return Item{
		Type:    ItemMessage,
		Role:    RoleUser,
		Content: []ContentPart{{Type: ContentInputText, Text: text}},
	}
}

// MessageText flattens the text content of a message item.
func (it Item) MessageText() string {
	var out string
	for _, part := range it.Content {
		out += part.Text
	}
	return out
}
