// Package providers selects and constructs the llm.Provider the rest of the
// module talks to, grounded on the teacher's internal/llm/providers/factory.go
// provider-switch shape but rewired against this module's own adapter
// Config types (internal/llm/{openai,anthropic,google}) rather than the
// teacher's single shared HTTP client parameter, since only the Google
// adapter needs one.
package providers

import (
	"fmt"
	"net/http"

	"github.com/Lumen-Labs/brainapi2/internal/config"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/llm/anthropic"
	"github.com/Lumen-Labs/brainapi2/internal/llm/google"
	openaillm "github.com/Lumen-Labs/brainapi2/internal/llm/openai"
)

// Build constructs an llm.Provider from cfg.Completions, keyed by Backend:
//   - "openai" (default): OpenAI Chat Completions
//   - "anthropic": Anthropic Messages API
//   - "google": Gemini API (needs an http.Client for the genai SDK's transport)
func Build(cfg config.CompletionsConfig, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.Backend {
	case "", "openai":
		return openaillm.New(openaillm.Config{APIKey: cfg.APIKey, BaseURL: cfg.DefaultHost, Model: cfg.CompletionsModel}), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: cfg.APIKey, BaseURL: cfg.DefaultHost, Model: cfg.CompletionsModel}), nil
	case "google":
		return google.New(google.Config{APIKey: cfg.APIKey, BaseURL: cfg.DefaultHost, Model: cfg.CompletionsModel}, httpClient)
	default:
		return nil, fmt.Errorf("providers: unsupported llm backend %q", cfg.Backend)
	}
}
