package agent

import (
	"encoding/json"
	"fmt"

	"github.com/Lumen-Labs/brainapi2/internal/llm"
)

// emitResultTool is the synthetic tool name every llm.Provider adapter forces
// the model onto when a responseSchema is supplied (see internal/llm's
// per-provider Chat implementations).
const emitResultTool = "emit_result"

// DecodeStructured unmarshals a schema-constrained final message into v. It
// prefers the forced emit_result tool-call payload and falls back to parsing
// msg.Content as JSON, since not every provider surfaces structured output as
// a tool call in every situation.
func DecodeStructured(msg llm.Message, v any) error {
	for _, tc := range msg.ToolCalls {
		if tc.Name == emitResultTool {
			if err := json.Unmarshal(tc.Args, v); err != nil {
				return fmt.Errorf("decode structured result: %w", err)
			}
			return nil
		}
	}
	if msg.Content == "" {
		return fmt.Errorf("decode structured result: empty message with no %s tool call", emitResultTool)
	}
	if err := json.Unmarshal([]byte(msg.Content), v); err != nil {
		return fmt.Errorf("decode structured result from content: %w", err)
	}
	return nil
}
