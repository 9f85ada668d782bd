// Package agent holds the shared tool-dispatch loop the Scout, Architect,
// and Janitor agents run on top of, generalized from the teacher's
// internal/agent.Engine (runLoop/dispatchTools/ensureToolCallIDs and the
// maybeSummarize/adjustCutIndexForToolDeps history-compaction pair), trimmed
// of streaming, agent-to-agent delegation, and the teacher's generic
// open-ended tool surface (text_to_speech chunking, multi_tool_use_parallel
// fan-out) that this domain's fixed four-tool Architect loop never uses.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
	"github.com/Lumen-Labs/brainapi2/internal/tools"
)

// defaultHistoryMax/defaultHistoryDrop are the message-count compaction
// constants called out in the Architect's tooler-mode design: once history
// exceeds 25 messages, drop the oldest 8 (preserving tool-call/response
// pairing) rather than run an LLM-backed summarization pass.
const (
	defaultHistoryMax  = 25
	defaultHistoryDrop = 8
)

// Loop is the tool-dispatch step loop shared by every agent in the pipeline.
type Loop struct {
	Provider llm.Provider
	Tools    tools.Registry
	Model    string

	MaxSteps     int
	HistoryMax   int
	HistoryDrop  int
	MaxParallel  int

	toolCallSeq uint64
}

func (l *Loop) maxSteps() int {
	if l.MaxSteps > 0 {
		return l.MaxSteps
	}
	return 25
}

func (l *Loop) historyMax() int {
	if l.HistoryMax > 0 {
		return l.HistoryMax
	}
	return defaultHistoryMax
}

func (l *Loop) historyDrop() int {
	if l.HistoryDrop > 0 {
		return l.HistoryDrop
	}
	return defaultHistoryDrop
}

// Run drives the chat/tool-dispatch loop until the model responds with no
// tool calls (a final message) or MaxSteps is exhausted. responseSchema, when
// set, is passed through to every Provider.Chat call so the model's eventual
// final message is schema-constrained.
func (l *Loop) Run(ctx context.Context, msgs []llm.Message, responseSchema map[string]any) (llm.Message, []llm.Message, llm.Usage, error) {
	log := observability.LoggerWithTrace(ctx)
	var total llm.Usage
	var schemas []llm.ToolSchema
	if l.Tools != nil {
		schemas = l.Tools.Schemas()
	}

	for step := 0; step < l.maxSteps(); step++ {
		msgs = l.compactHistory(msgs)

		msg, usage, err := l.Provider.Chat(ctx, msgs, schemas, l.Model, responseSchema)
		if err != nil {
			log.Error().Err(err).Int("step", step).Msg("agent_loop_chat_error")
			return llm.Message{}, msgs, total, err
		}
		total.InputTokens += usage.InputTokens
		total.OutputTokens += usage.OutputTokens
		total.CachedTokens += usage.CachedTokens
		total.ReasoningTokens += usage.ReasoningTokens

		msg.ToolCalls = l.ensureToolCallIDs(msgs, msg.ToolCalls)
		msgs = append(msgs, msg)

		if len(msg.ToolCalls) == 0 {
			return msg, msgs, total, nil
		}
		if responseSchema != nil && isEmitResultOnly(msg.ToolCalls) {
			// emit_result is a synthetic tool every llm.Provider adapter forces
			// the model onto to carry schema-constrained output; it is never
			// dispatched like a real tool call.
			return msg, msgs, total, nil
		}

		log.Debug().Int("step", step).Int("tool_calls", len(msg.ToolCalls)).Msg("agent_loop_tool_calls")
		msgs = l.dispatchTools(ctx, msgs, msg.ToolCalls)
	}

	return llm.Message{}, msgs, total, fmt.Errorf("agent loop: exceeded max steps (%d) without a final response", l.maxSteps())
}

func isEmitResultOnly(calls []llm.ToolCall) bool {
	if len(calls) != 1 {
		return false
	}
	return calls[0].Name == emitResultTool
}

func (l *Loop) ensureToolCallIDs(msgs []llm.Message, calls []llm.ToolCall) []llm.ToolCall {
	used := make(map[string]struct{}, len(calls))
	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		for _, tc := range m.ToolCalls {
			if id := strings.TrimSpace(tc.ID); id != "" {
				used[id] = struct{}{}
			}
		}
	}
	for i := range calls {
		id := strings.TrimSpace(calls[i].ID)
		if id == "" || func() bool { _, ok := used[id]; return ok }() {
			id = l.nextToolCallID()
			for {
				if _, ok := used[id]; !ok {
					break
				}
				id = l.nextToolCallID()
			}
		}
		calls[i].ID = id
		used[id] = struct{}{}
	}
	return calls
}

func (l *Loop) nextToolCallID() string {
	seq := atomic.AddUint64(&l.toolCallSeq, 1)
	return fmt.Sprintf("agent-call-%d", seq)
}

// dispatchTools runs a batch of tool calls with bounded parallelism and
// appends one "tool" message per call, in call order.
func (l *Loop) dispatchTools(ctx context.Context, msgs []llm.Message, calls []llm.ToolCall) []llm.Message {
	if len(calls) == 0 || l.Tools == nil {
		return msgs
	}
	maxParallel := l.MaxParallel
	if maxParallel <= 0 || maxParallel > len(calls) {
		maxParallel = len(calls)
	}

	results := make([]llm.Message, len(calls))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	log := observability.LoggerWithTrace(ctx)

	for i, tc := range calls {
		i, tc := i, tc
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			log.Debug().Str("tool", tc.Name).Msg("agent_loop_tool_dispatch")
			payload, err := l.Tools.Dispatch(ctx, tc.Name, tc.Args)
			if err != nil {
				payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
			}
			results[i] = llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID}
		}()
	}
	wg.Wait()
	return append(msgs, results...)
}

// compactHistory drops the oldest messages once history exceeds
// historyMax(), keeping any leading system message and never splitting a
// tool-call/tool-response pair, the same invariant the teacher's
// adjustCutIndexForToolDeps enforces for its token-budget-triggered cut.
func (l *Loop) compactHistory(msgs []llm.Message) []llm.Message {
	if len(msgs) <= l.historyMax() {
		return msgs
	}
	start := 0
	if msgs[0].Role == "system" {
		start = 1
	}
	cutIndex := start + l.historyDrop()
	if cutIndex >= len(msgs) {
		return msgs
	}
	cutIndex = adjustCutIndexForToolDeps(msgs, start, cutIndex)

	out := make([]llm.Message, 0, len(msgs)-cutIndex+start)
	out = append(out, msgs[:start]...)
	out = append(out, msgs[cutIndex:]...)
	return out
}

func adjustCutIndexForToolDeps(msgs []llm.Message, start, cutIndex int) int {
	if cutIndex <= start || cutIndex >= len(msgs) {
		return cutIndex
	}
	required := make(map[string]struct{})
	for i := cutIndex; i < len(msgs); i++ {
		if msgs[i].Role == "tool" {
			if id := strings.TrimSpace(msgs[i].ToolID); id != "" {
				required[id] = struct{}{}
			}
		}
	}
	if len(required) == 0 {
		return cutIndex
	}
	earliest := cutIndex
	for toolID := range required {
		for i := cutIndex - 1; i >= start; i-- {
			if msgs[i].Role != "assistant" {
				continue
			}
			for _, tc := range msgs[i].ToolCalls {
				if strings.TrimSpace(tc.ID) == toolID {
					if i < earliest {
						earliest = i
					}
				}
			}
		}
	}
	return earliest
}
