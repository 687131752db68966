package llm

import "slices"

// ToolCallAssembler folds streamed tool-call fragments into complete calls.
//
// The first fragment seen for an index binds the call's ID and name; later
// fragments for that index only extend the argument text, so a garbled late
// fragment cannot rebind an in-flight call. Not safe for concurrent use; each
// consumer owns one per completion turn.
type ToolCallAssembler struct {
	calls map[int]*ToolCall
}

// NewToolCallAssembler returns an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{calls: make(map[int]*ToolCall)}
}

// Add folds one fragment into the call at its index.
func (a *ToolCallAssembler) Add(f ToolFragment) {
	tc, ok := a.calls[f.Index]
	if !ok {
		tc = &ToolCall{}
		a.calls[f.Index] = tc
	}
	if tc.ID == "" {
		tc.ID = f.ID
	}
	if tc.Name == "" {
		tc.Name = f.Name
	}
	tc.Arguments += f.Arguments
}

// Len reports how many distinct calls have been started.
func (a *ToolCallAssembler) Len() int {
	return len(a.calls)
}

// Calls returns the assembled calls ordered by stream index.
func (a *ToolCallAssembler) Calls() []ToolCall {
	idxs := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idxs = append(idxs, i)
	}
	slices.Sort(idxs)

	out := make([]ToolCall, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, *a.calls[i])
	}
	return out
}
