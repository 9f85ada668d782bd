// Package openai adapts llm.Provider to the OpenAI Chat Completions API,
// grounded on the teacher's internal/llm/openai_client.go/client.go: kept
// the message/tool conversion shape (AdaptMessages/AdaptSchemas, trimmed
// to adaptMessages/adaptSchemas in schema.go) and thinking-model
// max-completion-tokens handling, dropped streaming, Gemini-raw-HTTP
// fallback, and Responses-API paths this domain's synchronous,
// schema-constrained agent calls never exercise.
package openai

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
)

// Client is an llm.Provider backed by the OpenAI SDK.
type Client struct {
	sdk   sdk.Client
	model string
}

// Config is the subset of connection/model settings the adapter needs.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// New constructs a Client from Config.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

// isThinkingModel matches the "o<int>-*" model family, which takes
// max_completion_tokens instead of max_tokens.
func isThinkingModel(model string) bool {
	m := strings.ToLower(model)
	if !strings.HasPrefix(m, "o") {
		return false
	}
	rest := m[1:]
	i := 0
	for ; i < len(rest) && rest[i] >= '0' && rest[i] <= '9'; i++ {
	}
	return i > 0 && i < len(rest) && rest[i] == '-'
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

// Chat sends msgs to the model. When responseSchema is non-nil, a synthetic
// emit_result tool is forced via ToolChoice so the reply is a single
// structured tool call matching the schema, mirroring the forced-tool
// technique the Anthropic adapter uses.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, llm.Usage, error) {
	resolvedModel := c.pickModel(model)
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(resolvedModel),
		Messages: adaptMessages(msgs),
		Tools:    adaptSchemas(tools),
	}
	if isThinkingModel(resolvedModel) {
		params.MaxCompletionTokens = param.NewOpt(int64(4096))
	} else {
		params.MaxTokens = param.NewOpt(int64(4096))
	}
	if responseSchema != nil {
		resultDef := sdk.FunctionDefinitionParam{
			Name:        "emit_result",
			Description: sdk.String("Emit the final structured result."),
			Parameters:  responseSchema,
		}
		params.Tools = append(params.Tools, sdk.ChatCompletionFunctionTool(resultDef))
		params.ToolChoice = sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: "emit_result"},
			},
		}
	}

	log := observability.LoggerWithTrace(ctx)
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", resolvedModel).Msg("openai_chat_error")
		return llm.Message{}, llm.Usage{}, err
	}
	if len(comp.Choices) == 0 {
		return llm.Message{}, llm.Usage{}, fmt.Errorf("openai provider: no choices returned")
	}

	msg := comp.Choices[0].Message
	out := llm.Message{Role: "assistant", Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		if v, ok := tc.AsAny().(sdk.ChatCompletionMessageFunctionToolCall); ok {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: v.Function.Name, Args: []byte(v.Function.Arguments), ID: v.ID})
		}
	}

	usage := llm.Usage{InputTokens: int(comp.Usage.PromptTokens), OutputTokens: int(comp.Usage.CompletionTokens)}
	log.Debug().Str("model", resolvedModel).Int("input_tokens", usage.InputTokens).Int("output_tokens", usage.OutputTokens).Msg("openai_chat_ok")

	return out, usage, nil
}
