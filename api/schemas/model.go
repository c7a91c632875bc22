// api/schemas/model.go
package schemas

// Tool types accepted in the request manifest.
const (
	ToolComputerUse = "computer_use_preview"
	ToolFunction    = "function"
)

// Built-in function tool names the loop dispatches on.
const (
	FunctionGoto = "goto"
	FunctionBack = "back"
)

// Tool describes one entry in the tool manifest submitted with every model
// call. The computer-use tool is sized to the browser viewport; function tools
// expose out-of-band capabilities (navigation) the viewport cannot reach.
type Tool struct {
	Type string `json:"type"`

	// Computer-use tool.
	DisplayWidth  int    `json:"display_width,omitempty"`
	DisplayHeight int    `json:"display_height,omitempty"`
	Environment   string `json:"environment,omitempty"`

	// Function tool.
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ModelRequest is one call to the computer-use endpoint. PreviousResponseID is
// the opaque continuation token from the prior response; when set, the
// provider retains internal context and Input only needs the new turn.
type ModelRequest struct {
	Model              string `json:"model"`
	Input              []Item `json:"input"`
	Tools              []Tool `json:"tools,omitempty"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	Truncation         string `json:"truncation,omitempty"`
}

// ModelResponse carries the model's output items and the continuation token
// for the next call. The token is owned entirely by the endpoint; never
// interpret it.
type ModelResponse struct {
	ID     string `json:"id"`
	Output []Item `json:"output"`
}

// ComputerCalls filters the computer_call items from the output.
func (r *ModelResponse) ComputerCalls() []Item {
	var calls []Item
	for _, it := range r.Output {
		if it.Type == ItemComputerCall {
			calls = append(calls, it)
		}
	}
	return calls
}

// ComputerUseTool builds the viewport-sized computer-use manifest entry.
func ComputerUseTool(width, height int) Tool {
	return Tool{
		Type:          ToolComputerUse,
		DisplayWidth:  width,
		DisplayHeight: height,
		Environment:   "browser",
	}
}

// NavigationTools returns the function tools for actions the viewport cannot
// express: direct URL navigation and history back.
func NavigationTools() []Tool {
	return []Tool{
		{
			Type:        ToolFunction,
			Name:        FunctionGoto,
			Description: "Navigate the browser to a specific URL.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "Absolute URL to open.",
					},
				},
				"required": []string{"url"},
			},
		},
		{
			Type:        ToolFunction,
			Name:        FunctionBack,
			Description: "Go back to the previous page in browser history.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}
