// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the orchestrator sends correct
// CompletionRequests and to feed controlled chunk sequences without a live
// LLM backend. All fields are safe to set before calling any method; mutating
// them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Scripts: [][]llm.Chunk{{
//	        {Kind: llm.ChunkContent, Text: "Hello!"},
//	        {Kind: llm.ChunkDone},
//	    }},
//	}
//	ch, err := p.StreamCompletion(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/trunkline-ai/trunkline/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// Each call to StreamCompletion consumes the next script in Scripts; once
// they run out, the last script repeats. A nil Scripts yields a stream with
// a single successful ChunkDone.
type Provider struct {
	mu sync.Mutex

	// Scripts holds one chunk sequence per expected stream, emitted in call
	// order. Authors include the terminal ChunkDone themselves.
	Scripts [][]llm.Chunk

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// instead of starting a channel.
	StreamErr error

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []StreamCall

	next int
}

// StreamCompletion records the call and plays back the next script.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}

	var script []llm.Chunk
	switch {
	case len(p.Scripts) == 0:
		script = []llm.Chunk{{Kind: llm.ChunkDone}}
	case p.next < len(p.Scripts):
		script = p.Scripts[p.next]
		p.next++
	default:
		script = p.Scripts[len(p.Scripts)-1]
	}
	chunks := make([]llm.Chunk, len(script))
	copy(chunks, script)
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Calls returns a snapshot of recorded StreamCompletion invocations.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamCall, len(p.StreamCalls))
	copy(out, p.StreamCalls)
	return out
}

// Reset clears all recorded calls and rewinds the script cursor. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
