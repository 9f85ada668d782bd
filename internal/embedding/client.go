// Package embedding calls an OpenAI-compatible embeddings endpoint,
// adapted from the teacher's internal/embedding/client.go: kept the
// HTTP-POST-with-configurable-auth-header shape, replaced the error-on-
// non-2xx behavior with the original source's "warn and return an
// unembedded record" contract (process_node_vectors/process_rel_vectors in
// ingestion_manager.py print a warning and carry on when embeddings are
// empty, rather than aborting the whole ingestion).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
)

// Config is the subset of connection settings the client needs.
type Config struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string
	Timeout   time.Duration
}

// Client embeds text via an OpenAI-compatible /v1/embeddings endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs a Client, defaulting Path/Timeout the way the teacher's
// loader does (EMBED_PATH=/v1/embeddings, 30s timeout).
func New(cfg Config) *Client {
	if cfg.Path == "" {
		cfg.Path = "/v1/embeddings"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIHeader == "" {
		cfg.APIHeader = "Authorization"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one kg.Vector per input text, in order. A text that fails to
// embed (transport error, non-2xx, malformed response) yields a Vector with
// an empty Embeddings slice rather than aborting the batch — callers must
// check Vector.Embedded() before writing, matching the "warn and skip"
// contract the original ingestion manager uses for both nodes and edges.
func (c *Client) Embed(ctx context.Context, texts []string) []kg.Vector {
	out := make([]kg.Vector, len(texts))
	if len(texts) == 0 {
		return out
	}
	log := observability.LoggerWithTrace(ctx)

	vecs, err := c.embedBatch(ctx, texts)
	if err != nil {
		log.Warn().Err(err).Int("count", len(texts)).Msg("embedding_batch_failed")
		return out // all entries remain unembedded
	}
	for i := range out {
		if i < len(vecs) {
			out[i].Embeddings = vecs[i]
		} else {
			log.Warn().Str("text", texts[i]).Msg("embedding_missing_for_input")
		}
	}
	return out
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		if c.cfg.APIHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		} else {
			req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding endpoint %s: %s", resp.Status, string(raw))
	}

	var parsed embedResp
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// CheckReachability sends a one-word probe and reports whether the endpoint
// responds with a usable embedding.
func (c *Client) CheckReachability(ctx context.Context) error {
	vecs := c.Embed(ctx, []string{"ping"})
	if len(vecs) == 0 || !vecs[0].Embedded() {
		return fmt.Errorf("embedding endpoint reachability check failed")
	}
	return nil
}
