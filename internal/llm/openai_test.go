package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newOpenAITestServer(t *testing.T, name string, handler http.HandlerFunc) (*OpenAIProvider, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p, err := NewOpenAIProvider(name, ClientConfig{APIKey: "sk-test", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewOpenAIProvider failed: %v", err)
	}
	return p, srv.Close
}

func TestOpenAIStreamReasoningAndUsage(t *testing.T) {
	var gotBody map[string]interface{}
	p, cleanup := newOpenAITestServer(t, ProviderDeepSeek, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"id":"1","object":"chat.completion.chunk","model":"deepseek-reasoner","choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"let me think"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"deepseek-reasoner","choices":[{"index":0,"delta":{"content":"Hi"}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"deepseek-reasoner","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"deepseek-reasoner","choices":[],"usage":{"prompt_tokens":11,"completion_tokens":4,"total_tokens":15}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		io.WriteString(w, "data: [DONE]\n\n")
	})
	defer cleanup()

	s, err := p.Stream(context.Background(), &Request{
		Model:     "deepseek-reasoner",
		System:    "be brief",
		Messages:  []Message{{Role: RoleUser, Parts: []Part{TextPart("hello")}}},
		Reasoning: true,
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	chunks := collect(t, s)

	wantKinds := []ChunkKind{ChunkReasoning, ChunkText, ChunkText, ChunkFinish}
	if len(chunks) != len(wantKinds) {
		t.Fatalf("chunk count mismatch: got %d, want %d (%+v)", len(chunks), len(wantKinds), chunks)
	}
	for i, k := range wantKinds {
		if chunks[i].Kind != k {
			t.Errorf("chunk %d kind mismatch: got %s, want %s", i, chunks[i].Kind, k)
		}
	}
	fin := chunks[3]
	if fin.FinishReason != FinishStop {
		t.Errorf("finish mismatch: got %q", fin.FinishReason)
	}
	if fin.Usage == nil || fin.Usage.PromptTokens != 11 || fin.Usage.CompletionTokens != 4 {
		t.Errorf("usage mismatch: %+v", fin.Usage)
	}

	msgs, _ := gotBody["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(msgs))
	}
	if first, _ := msgs[0].(map[string]interface{}); first["role"] != "system" {
		t.Errorf("first message role mismatch: got %v", first["role"])
	}
}

func TestOpenAIStreamAPIError(t *testing.T) {
	p, cleanup := newOpenAITestServer(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})
	defer cleanup()

	_, err := p.Stream(context.Background(), &Request{Model: "gpt-4.5-preview-2025-02-27"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Provider != ProviderOpenAI {
		t.Errorf("api error mismatch: %+v", apiErr)
	}
	if ClassifyError(err) != ErrorTypeAuth {
		t.Errorf("classification mismatch: got %q", ClassifyError(err))
	}
}

func TestOpenAIGenerateJSONMode(t *testing.T) {
	var gotBody struct {
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
		Stream bool `json:"stream"`
	}
	p, cleanup := newOpenAITestServer(t, ProviderOpenAI, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"chatName\":\"Go Tips\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`)
	})
	defer cleanup()

	comp, err := p.Generate(context.Background(), &Request{
		Model:  "gpt-4o-mini",
		Schema: &Schema{Fields: []SchemaField{{Name: "chatName"}}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if gotBody.ResponseFormat.Type != "json_object" {
		t.Errorf("response format mismatch: got %q", gotBody.ResponseFormat.Type)
	}
	if gotBody.Stream {
		t.Error("Generate must not stream")
	}
	var out namerReply
	if err := DecodeObject(comp.Text, &out); err != nil || out.ChatName != "Go Tips" {
		t.Errorf("decode mismatch: %+v err=%v", out, err)
	}
	if comp.Usage.Total() != 8 {
		t.Errorf("usage mismatch: got %d", comp.Usage.Total())
	}
}
