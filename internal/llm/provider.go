// Package llm defines the model-provider contract the agent pipeline
// depends on, adapted from the teacher's llm.Provider (internal/llm/provider.go):
// trimmed of streaming, image generation, and thought-signature plumbing
// this domain never exercises, and extended with a Usage return so every
// call can feed internal/tokenaccount's TokenDetail monoid.
package llm

import (
	"context"
	"encoding/json"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	Name string
	Args json.RawMessage
	ID   string
}

// Message is one turn in a chat-style conversation.
type Message struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	ToolID    string
	ToolCalls []ToolCall
}

// ToolSchema describes a tool the model may call.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Usage carries raw token counts for a single call, in the shape
// tokenaccount.FromCounts expects (spec §4.6/§9): ReasoningTokens and
// CachedTokens are zero when a provider doesn't report them.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	CachedTokens    int
	ReasoningTokens int
}

// Provider is the model-invocation contract every agent (Scout, Architect,
// Janitor variants) depends on. ResponseSchema, when non-nil, constrains the
// model's final message to a JSON object matching that schema — this backs
// the Scout/Architect/Janitor structured-output contracts (spec §4.1-§4.4).
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string, responseSchema map[string]any) (Message, Usage, error)
}
