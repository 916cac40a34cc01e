package llm

import (
	"context"
	"testing"
)

// fakeProvider is a Provider that records calls
type fakeProvider struct {
	name     string
	generate func(req *Request) (*Completion, error)
	calls    int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	f.calls++
	return NewSliceStream([]Chunk{FinishChunk(FinishStop, nil)}, nil), nil
}

func (f *fakeProvider) Generate(ctx context.Context, req *Request) (*Completion, error) {
	f.calls++
	if f.generate == nil {
		return &Completion{}, nil
	}
	return f.generate(req)
}

func allProviders() map[string]Provider {
	return map[string]Provider{
		ProviderGemini:    &fakeProvider{name: ProviderGemini},
		ProviderDeepSeek:  &fakeProvider{name: ProviderDeepSeek},
		ProviderOpenAI:    &fakeProvider{name: ProviderOpenAI},
		ProviderAnthropic: &fakeProvider{name: ProviderAnthropic},
		ProviderXAI:       &fakeProvider{name: ProviderXAI},
	}
}

func TestCandidatesOrder(t *testing.T) {
	r := NewRegistry(Catalogue(), allProviders(), nil)
	cands := r.Candidates(Flags{})
	if len(cands) != len(DefaultPriority) {
		t.Fatalf("candidate count mismatch: got %d, want %d", len(cands), len(DefaultPriority))
	}
	for i, id := range DefaultPriority {
		if cands[i].ID() != id {
			t.Errorf("candidate %d mismatch: got %q, want %q", i, cands[i].ID(), id)
		}
	}
}

func TestCandidatesOptions(t *testing.T) {
	r := NewRegistry(Catalogue(), allProviders(), nil)
	byID := make(map[string]Candidate)
	for _, c := range r.Candidates(Flags{Search: true, Reasoning: true}) {
		byID[c.ID()] = c
	}

	tests := []struct {
		id        string
		search    bool
		budget    int
		imageOut  bool
		reasoning bool
	}{
		{"gemini-2.0-flash-001", true, 0, false, true},
		{"gemini-2.5-flash-preview-04-17", true, 24576, false, true},
		{"gemini-2.5-pro-exp-03-25", true, 24576, false, true},
		{"gemini-2.0-flash-exp", true, NoThinkingBudget, true, true},
		{"deepseek-chat", false, NoThinkingBudget, false, true},
		{"claude-3-7-sonnet-20250219", true, 16384, false, true},
		{"claude-3-5-sonnet-latest", false, NoThinkingBudget, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			c, ok := byID[tt.id]
			if !ok {
				t.Fatalf("missing candidate %q", tt.id)
			}
			if c.Options.Search != tt.search {
				t.Errorf("search mismatch: got %v, want %v", c.Options.Search, tt.search)
			}
			if c.Options.ThinkingBudget != tt.budget {
				t.Errorf("budget mismatch: got %d, want %d", c.Options.ThinkingBudget, tt.budget)
			}
			if c.Options.ImageOutput != tt.imageOut {
				t.Errorf("image output mismatch: got %v, want %v", c.Options.ImageOutput, tt.imageOut)
			}
			if c.Options.Reasoning != tt.reasoning {
				t.Errorf("reasoning mismatch: got %v, want %v", c.Options.Reasoning, tt.reasoning)
			}
		})
	}

	for _, c := range r.Candidates(Flags{}) {
		if c.Options.Search || c.Options.Reasoning {
			t.Errorf("%s: flags off must disable search and reasoning", c.ID())
		}
	}
}

func TestCandidatesSkipUnconfigured(t *testing.T) {
	providers := map[string]Provider{
		ProviderDeepSeek:  &fakeProvider{name: ProviderDeepSeek},
		ProviderAnthropic: nil,
	}
	r := NewRegistry(Catalogue(), providers, nil)
	cands := r.Candidates(Flags{})
	want := []string{"deepseek-chat", "deepseek-reasoner"}
	if len(cands) != len(want) {
		t.Fatalf("candidate count mismatch: got %d, want %d", len(cands), len(want))
	}
	for i := range want {
		if cands[i].ID() != want[i] {
			t.Errorf("candidate %d mismatch: got %q, want %q", i, cands[i].ID(), want[i])
		}
	}
	if r.Available("gpt-4.0") {
		t.Error("gpt-4.0 should not be available")
	}
}

func TestPriorityOverride(t *testing.T) {
	r := NewRegistry(Catalogue(), allProviders(), []string{"claude-3-5-sonnet-latest", "no-such-model", "deepseek-chat", "claude-3-5-sonnet-latest"})
	cands := r.Candidates(Flags{})
	if len(cands) != 2 {
		t.Fatalf("candidate count mismatch: got %d, want 2", len(cands))
	}
	if cands[0].ID() != "claude-3-5-sonnet-latest" || cands[1].ID() != "deepseek-chat" {
		t.Errorf("order mismatch: %q, %q", cands[0].ID(), cands[1].ID())
	}
}

func TestSelectableExcludesImageModel(t *testing.T) {
	r := NewRegistry(Catalogue(), allProviders(), nil)
	for _, m := range r.Selectable() {
		if m.ID == "gemini-2.0-flash-exp" || m.ID == "grok-3-mini" {
			t.Errorf("%s should not be offered to the classifier", m.ID)
		}
	}
	if got := len(r.Selectable()); got != 8 {
		t.Errorf("selectable count mismatch: got %d, want 8", got)
	}
}
