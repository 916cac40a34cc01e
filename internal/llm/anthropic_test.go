package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func writeAnthropicEvents(w http.ResponseWriter, events [][2]string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e[0], e[1])
	}
}

func TestAnthropicStreamThinkingAndText(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeAnthropicEvents(w, [][2]string{
			{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-7-sonnet-20250219","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"pondering"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Answer"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":1}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":9}}`},
			{"message_stop", `{"type":"message_stop"}`},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(ClientConfig{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewAnthropicProvider failed: %v", err)
	}

	s, err := p.Stream(context.Background(), &Request{
		Model:          "claude-3-7-sonnet-20250219",
		Messages:       []Message{{Role: RoleUser, Parts: []Part{TextPart("why?")}}},
		Reasoning:      true,
		ThinkingBudget: 16384,
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	chunks := collect(t, s)

	wantKinds := []ChunkKind{ChunkReasoning, ChunkText, ChunkFinish}
	if len(chunks) != len(wantKinds) {
		t.Fatalf("chunk count mismatch: got %d, want %d (%+v)", len(chunks), len(wantKinds), chunks)
	}
	for i, k := range wantKinds {
		if chunks[i].Kind != k {
			t.Errorf("chunk %d kind mismatch: got %s, want %s", i, chunks[i].Kind, k)
		}
	}
	if chunks[2].FinishReason != FinishStop {
		t.Errorf("finish mismatch: got %q", chunks[2].FinishReason)
	}
	if u := chunks[2].Usage; u == nil || u.PromptTokens != 12 || u.CompletionTokens != 9 {
		t.Errorf("usage mismatch: %+v", u)
	}

	thinking, _ := gotBody["thinking"].(map[string]interface{})
	if thinking["type"] != "enabled" || thinking["budget_tokens"] != float64(16384) {
		t.Errorf("thinking mismatch: %+v", thinking)
	}
	if gotBody["max_tokens"] != float64(16384+4096) {
		t.Errorf("max_tokens mismatch: got %v", gotBody["max_tokens"])
	}
}

func TestConvertAnthropicMessagesAttachments(t *testing.T) {
	msgs := convertAnthropicMessages([]Message{
		{Role: RoleUser, Parts: []Part{
			TextPart("look"),
			{Kind: PartImage, URL: "https://x/cat.png", Name: "cat.png"},
			{Kind: PartFile, URL: "https://x/doc.pdf", MimeType: "application/pdf", Name: "doc.pdf"},
			{Kind: PartTextFile, URL: "https://x/a.txt", MimeType: "text/plain", Name: "a.txt"},
		}},
		{Role: RoleAssistant, Parts: []Part{TextPart("")}},
		{Role: RoleAssistant, Parts: []Part{TextPart("ok")}},
	})
	if len(msgs) != 2 {
		t.Fatalf("message count mismatch: got %d, want 2", len(msgs))
	}
	blocks := msgs[0].Content
	if len(blocks) != 4 {
		t.Fatalf("block count mismatch: got %d, want 4", len(blocks))
	}
	if blocks[1].OfImage == nil {
		t.Error("expected image block")
	}
	if blocks[2].OfDocument == nil {
		t.Error("expected document block")
	}
	if blocks[3].OfText == nil || blocks[3].OfText.Text != "[attachment: a.txt] https://x/a.txt" {
		t.Errorf("expected text reference, got %+v", blocks[3])
	}
}
