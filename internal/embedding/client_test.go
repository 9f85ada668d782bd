package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jsonEmbeddingServer(embeddings [][]float32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, len(embeddings))
		for i, e := range embeddings {
			data[i] = map[string]any{"embedding": e}
		}
		b, _ := json.Marshal(map[string]any{"data": data})
		w.Write(b)
	}))
}

func TestEmbedReturnsOneVectorPerInput(t *testing.T) {
	ts := jsonEmbeddingServer([][]float32{{0.1, 0.2}, {0.3, 0.4}})
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Model: "m"})
	vecs := c.Embed(context.Background(), []string{"a", "b"})
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if !vecs[0].Embedded() || !vecs[1].Embedded() {
		t.Fatalf("expected both vectors embedded")
	}
}

func TestEmbedAuthorizationHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"data":[{"embedding":[0.5]}]}`))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Model: "m", APIKey: "secret"})
	c.Embed(context.Background(), []string{"x"})
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected Bearer secret, got %q", gotAuth)
	}
}

func TestEmbedCustomHeader(t *testing.T) {
	var gotHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-api-key")
		w.Write([]byte(`{"data":[{"embedding":[0.5]}]}`))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Model: "m", APIKey: "abc", APIHeader: "x-api-key"})
	c.Embed(context.Background(), []string{"x"})
	if gotHeader != "abc" {
		t.Fatalf("expected x-api-key abc, got %q", gotHeader)
	}
}

func TestEmbedReturnsUnembeddedOnTransportError(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0", Model: "m"})
	vecs := c.Embed(context.Background(), []string{"a", "b"})
	if len(vecs) != 2 {
		t.Fatalf("expected 2 placeholder vectors, got %d", len(vecs))
	}
	for _, v := range vecs {
		if v.Embedded() {
			t.Fatalf("expected unembedded vectors on transport failure")
		}
	}
}

func TestEmbedReturnsUnembeddedOnNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Model: "m"})
	vecs := c.Embed(context.Background(), []string{"a"})
	if vecs[0].Embedded() {
		t.Fatalf("expected unembedded vector on 500 response")
	}
}

func TestCheckReachabilityFailsWhenUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0", Model: "m"})
	if err := c.CheckReachability(context.Background()); err == nil {
		t.Fatalf("expected reachability error")
	}
}
