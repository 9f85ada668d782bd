// Package google adapts llm.Provider to the Gemini API via
// google.golang.org/genai, grounded on the teacher's
// internal/llm/google/client.go: kept the content/tool conversion shape
// (toContents, adaptTools) and AUTO function-calling-mode choice, trimmed
// of streaming, image generation, and thought-signature plumbing this
// domain never exercises.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
)

// Client is an llm.Provider backed by the Gemini API.
type Client struct {
	client      *genai.Client
	model       string
	httpOptions genai.HTTPOptions
}

// Config is the subset of connection/model settings the adapter needs.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New constructs a Client from Config.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	httpOpts := genai.HTTPOptions{}
	if cfg.Timeout > 0 {
		httpOpts.Timeout = &cfg.Timeout
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("google provider: init client: %w", err)
	}
	return &Client{client: client, model: model, httpOptions: httpOpts}, nil
}

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

// Chat sends msgs to the model. responseSchema, when non-nil, is wired as
// the sole allowed function declaration in ANY mode so the reply is forced
// into that single structured call — the Gemini analogue of the forced-tool
// technique used by the Anthropic/OpenAI adapters.
func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, responseSchema map[string]any) (llm.Message, llm.Usage, error) {
	effectiveModel := c.pickModel(model)
	log := observability.LoggerWithTrace(ctx)

	contents, err := toContents(msgs)
	if err != nil {
		log.Error().Err(err).Msg("google_chat_tocontents_error")
		return llm.Message{}, llm.Usage{}, err
	}

	toolDecls, toolCfg, err := adaptTools(tools, responseSchema)
	if err != nil {
		log.Error().Err(err).Msg("google_chat_adapttools_error")
		return llm.Message{}, llm.Usage{}, err
	}

	cfg := &genai.GenerateContentConfig{HTTPOptions: &c.httpOptions, Tools: toolDecls, ToolConfig: toolCfg}
	var system []string
	for _, m := range msgs {
		if m.Role == "system" && strings.TrimSpace(m.Content) != "" {
			system = append(system, m.Content)
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	resp, err := c.client.Models.GenerateContent(ctx, effectiveModel, contents, cfg)
	if err != nil {
		log.Error().Err(err).Str("model", effectiveModel).Msg("google_chat_error")
		return llm.Message{}, llm.Usage{}, err
	}

	msg, err := messageFromResponse(resp)
	if err != nil {
		log.Error().Err(err).Msg("google_chat_response_parse_error")
		return llm.Message{}, llm.Usage{}, err
	}

	usage := llm.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.CachedTokens = int(resp.UsageMetadata.CachedContentTokenCount)
	}
	log.Debug().Str("model", effectiveModel).Int("tool_calls", len(msg.ToolCalls)).Msg("google_chat_ok")
	return msg, usage, nil
}

func toContents(msgs []llm.Message) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("google provider: messages required")
	}
	var contents []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case "system":
			continue // system instruction is carried separately, via GenerateContentConfig.SystemInstruction in Chat
		case "user":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case "assistant":
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Args, &args)
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case "tool":
			var result map[string]any
			_ = json.Unmarshal([]byte(m.Content), &result)
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromFunctionResponse(m.ToolID, result)},
			})
		}
	}
	return contents, nil
}

func messageFromResponse(resp *genai.GenerateContentResponse) (llm.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return llm.Message{}, fmt.Errorf("google provider: no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return llm.Message{Role: "assistant"}, nil
	}
	var sb strings.Builder
	var calls []llm.ToolCall
	callIdx := 0
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			callIdx++
			id := part.FunctionCall.ID
			if strings.TrimSpace(id) == "" {
				id = "call-" + strconv.Itoa(callIdx)
			}
			calls = append(calls, llm.ToolCall{Name: part.FunctionCall.Name, Args: args, ID: id})
		}
	}
	return llm.Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}, nil
}

// adaptTools converts portable tool schemas to genai declarations. When
// responseSchema is set, it is appended as a forced "emit_result" function
// and the calling mode switches to ANY restricted to that single name.
func adaptTools(schemas []llm.ToolSchema, responseSchema map[string]any) ([]*genai.Tool, *genai.ToolConfig, error) {
	fd := make([]*genai.FunctionDeclaration, 0, len(schemas)+1)
	for _, s := range schemas {
		if strings.TrimSpace(s.Name) == "" {
			return nil, nil, fmt.Errorf("google provider: tool name required")
		}
		fd = append(fd, &genai.FunctionDeclaration{Name: s.Name, Description: s.Description, ParametersJsonSchema: s.Parameters})
	}
	if responseSchema != nil {
		fd = append(fd, &genai.FunctionDeclaration{Name: "emit_result", Description: "Emit the final structured result.", ParametersJsonSchema: responseSchema})
	}
	if len(fd) == 0 {
		return nil, nil, nil
	}
	mode := genai.FunctionCallingConfigModeAuto
	var allowed []string
	if responseSchema != nil {
		mode = genai.FunctionCallingConfigModeAny
		allowed = []string{"emit_result"}
	}
	cfg := &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode, AllowedFunctionNames: allowed}}
	return []*genai.Tool{{FunctionDeclarations: fd}}, cfg, nil
}
