package llm

import (
	"testing"

	"github.com/roelfdiedericks/xai-go"
)

func decodeAll(d *xaiDecoder, in []*xai.ChatChunk) []Chunk {
	var out []Chunk
	for _, c := range in {
		out = append(out, d.decode(c)...)
	}
	if fin, ok := d.finishChunk(); ok {
		out = append(out, fin)
	}
	return out
}

func TestXAIDecoder(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		in        []*xai.ChatChunk
		wantKinds []ChunkKind
		wantTexts []string
	}{
		{
			name: "text only",
			req:  Request{},
			in: []*xai.ChatChunk{
				{Delta: "Hel"},
				{Delta: "lo", FinishReason: xai.FinishReasonStop},
			},
			wantKinds: []ChunkKind{ChunkText, ChunkText, ChunkFinish},
			wantTexts: []string{"Hel", "lo"},
		},
		{
			name: "reasoning dropped when not requested",
			req:  Request{},
			in: []*xai.ChatChunk{
				{ReasoningDelta: "hmm"},
				{Delta: "ok", FinishReason: xai.FinishReasonStop},
			},
			wantKinds: []ChunkKind{ChunkText, ChunkFinish},
			wantTexts: []string{"ok"},
		},
		{
			name: "reasoning kept when requested",
			req:  Request{Reasoning: true},
			in: []*xai.ChatChunk{
				{ReasoningDelta: "hmm"},
				{Delta: "ok", FinishReason: xai.FinishReasonStop},
			},
			wantKinds: []ChunkKind{ChunkReasoning, ChunkText, ChunkFinish},
			wantTexts: []string{"hmm", "ok"},
		},
		{
			name: "citations become sources before finish",
			req:  Request{Search: true},
			in: []*xai.ChatChunk{
				{Delta: "answer"},
				{
					FinishReason: xai.FinishReasonStop,
					Citations:    []string{"https://a.example", "", "https://b.example", "https://a.example"},
				},
			},
			wantKinds: []ChunkKind{ChunkText, ChunkSource, ChunkSource, ChunkFinish},
			wantTexts: []string{"answer"},
		},
		{
			name: "citations ignored without search",
			req:  Request{},
			in: []*xai.ChatChunk{
				{Delta: "answer", FinishReason: xai.FinishReasonStop, Citations: []string{"https://a.example"}},
			},
			wantKinds: []ChunkKind{ChunkText, ChunkFinish},
			wantTexts: []string{"answer"},
		},
		{
			name: "no finish reason",
			req:  Request{},
			in: []*xai.ChatChunk{
				{Delta: "cut"},
			},
			wantKinds: []ChunkKind{ChunkText},
			wantTexts: []string{"cut"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			chunks := decodeAll(newXAIDecoder(&req), tt.in)
			if len(chunks) != len(tt.wantKinds) {
				t.Fatalf("chunk count mismatch: got %d, want %d (%+v)", len(chunks), len(tt.wantKinds), chunks)
			}
			var texts []string
			for i, k := range tt.wantKinds {
				if chunks[i].Kind != k {
					t.Errorf("chunk %d kind mismatch: got %s, want %s", i, chunks[i].Kind, k)
				}
				if k == ChunkText || k == ChunkReasoning {
					texts = append(texts, chunks[i].Text)
				}
			}
			if len(texts) != len(tt.wantTexts) {
				t.Fatalf("texts mismatch: got %q, want %q", texts, tt.wantTexts)
			}
			for i := range texts {
				if texts[i] != tt.wantTexts[i] {
					t.Errorf("text %d mismatch: got %q, want %q", i, texts[i], tt.wantTexts[i])
				}
			}
		})
	}
}

func TestXAIDecoderSourceURLs(t *testing.T) {
	d := newXAIDecoder(&Request{Search: true})
	chunks := decodeAll(d, []*xai.ChatChunk{
		{Citations: []string{"https://a.example", "https://b.example"}},
		{Citations: []string{"https://b.example"}, FinishReason: xai.FinishReasonStop},
	})

	var urls []string
	for _, c := range chunks {
		if c.Kind == ChunkSource {
			urls = append(urls, c.Source.URL)
		}
	}
	if len(urls) != 2 || urls[0] != "https://a.example" || urls[1] != "https://b.example" {
		t.Errorf("source urls mismatch: got %q", urls)
	}
}

func TestXAIDecoderFinishAndUsage(t *testing.T) {
	d := newXAIDecoder(&Request{})
	d.decode(&xai.ChatChunk{Delta: "a", Usage: xai.Usage{PromptTokens: 3, CompletionTokens: 1}})
	d.decode(&xai.ChatChunk{Delta: "b", FinishReason: xai.FinishReasonLength, Usage: xai.Usage{PromptTokens: 3, CompletionTokens: 2}})

	fin, ok := d.finishChunk()
	if !ok {
		t.Fatal("expected finish chunk")
	}
	if fin.FinishReason != FinishLength {
		t.Errorf("finish mismatch: got %q", fin.FinishReason)
	}
	if fin.Usage == nil || fin.Usage.PromptTokens != 3 || fin.Usage.CompletionTokens != 2 {
		t.Errorf("usage mismatch: got %+v", fin.Usage)
	}
}

func TestMapXAIFinish(t *testing.T) {
	tests := []struct {
		in   xai.FinishReason
		want FinishReason
	}{
		{xai.FinishReasonStop, FinishStop},
		{xai.FinishReasonLength, FinishLength},
		{xai.FinishReasonToolCalls, FinishToolCalls},
		{xai.FinishReasonContentFilter, FinishContentFilter},
		{xai.FinishReason("weird"), FinishOther},
	}
	for _, tt := range tests {
		if got := mapXAIFinish(tt.in); got != tt.want {
			t.Errorf("mapXAIFinish(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
