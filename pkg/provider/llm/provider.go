// Package llm defines the Provider interface for streaming Large Language
// Model backends.
//
// A provider wraps a remote or local model API (e.g. OpenAI, or anything
// any-llm-go can reach) behind a single streaming completion call. Responses
// arrive as a channel of tagged Chunk values: incremental text, tool-call
// fragments, token usage, and a terminal done marker. Tool-call fragments are
// emitted raw; consumers fold them with a ToolCallAssembler.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages.
	// This value directly affects billing.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return
	// it directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, including the system
	// message when the caller uses one. The last message typically drives
	// the response.
	Messages []Message

	// Tools is the set of function definitions offered to the model. The
	// model may choose to call one or more of them in its response.
	Tools []ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means use the provider default.
	MaxTokens int
}

// ChunkKind tags the streaming chunk variant.
type ChunkKind uint8

const (
	// ChunkContent carries incremental assistant text.
	ChunkContent ChunkKind = iota + 1
	// ChunkToolFragment carries one tool-call delta. Fragments for the same
	// call share an index and are folded by the consumer.
	ChunkToolFragment
	// ChunkUsage carries token accounting, emitted at most once per stream.
	ChunkUsage
	// ChunkDone terminates every stream. Err is non-nil when the stream
	// failed after starting.
	ChunkDone
)

// Chunk is a single event emitted by a streaming completion. Exactly one
// field group is meaningful, selected by Kind.
type Chunk struct {
	Kind ChunkKind

	// Text is set for ChunkContent.
	Text string

	// Fragment is set for ChunkToolFragment.
	Fragment ToolFragment

	// Usage is set for ChunkUsage.
	Usage Usage

	// Err is set for ChunkDone when generation failed mid-stream.
	Err error
}

// Provider is the abstraction over any streaming LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only
	// channel that emits Chunk values as they arrive. The last chunk before
	// close is always a ChunkDone carrying the stream error, if any; when
	// ctx is cancelled the implementation may close the channel without it.
	//
	// Callers must drain the channel to avoid goroutine leaks. The initial
	// error return is non-nil only for failures that prevent the stream
	// from starting (e.g. invalid credentials, malformed request), and the
	// returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
