package llm

// Conversation roles shared by all providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the text content of the message. For RoleTool it carries
	// the tool result.
	Content string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is RoleTool, identifying which tool call
	// this responds to.
	ToolCallID string
}

// ToolCall represents a fully assembled tool invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments string as produced by the
	// model. It is not guaranteed to parse.
	Arguments string
}

// ToolFragment is one tool-call delta from a streaming response. Fragments
// sharing an Index belong to the same call; Arguments text arrives split
// across many fragments.
type ToolFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}
