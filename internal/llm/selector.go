package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
	. "github.com/roelfdiedericks/chatgate/internal/metrics"
)

const selectorPromptHead = `
    You are an AI assistant designed to analyze user prompts and determine the most suitable AI model to handle them effectively.

    ### **Your Role:**
    1. **Model Selection:**
    - Your task is to evaluate the user's prompt and select the best AI model from the available list.
    - Each model has specific strengths, such as coding, general knowledge, reasoning, or web access.
    - Refer to the provided descriptions to make an informed decision.

    ### **Guidelines:**
    - **Only return the model name in JSON format.**
    - **Do not provide explanations or additional text.**
    - **Ensure the model selection aligns with the provided descriptions.**

    ### **Available AI Models (JSON Format):**
`

type modelDescription struct {
	ModelName        string `json:"modelName"`
	ModelDescription string `json:"modelDescription"`
}

// SelectorPrompt builds the classifier system prompt for models
func SelectorPrompt(models []ModelSpec) string {
	descs := make([]modelDescription, 0, len(models))
	for _, m := range models {
		descs = append(descs, modelDescription{ModelName: m.ID, ModelDescription: m.Description})
	}
	data, _ := json.MarshalIndent(descs, "", "  ")
	return selectorPromptHead + "    " + string(data) + "\n"
}

// Selector resolves the requested model identifier. "auto" is resolved
// with one structured classification call; anything else is returned
// as is.
type Selector struct {
	registry   *Registry
	classifier Provider
	model      string
	timeout    atomic.Int64 // nanoseconds
}

// NewSelector creates a selector. classifier may be nil, in which case
// automatic selection always fails.
func NewSelector(registry *Registry, classifier Provider, model string, timeout time.Duration) *Selector {
	s := &Selector{registry: registry, classifier: classifier, model: model}
	s.SetTimeout(timeout)
	return s
}

// SetTimeout changes the classifier deadline. Zero disables it.
func (s *Selector) SetTimeout(d time.Duration) {
	s.timeout.Store(int64(d))
}

// Select returns the model identifier to try first. ok is false when
// automatic classification failed for any reason; there is no retry.
func (s *Selector) Select(ctx context.Context, requested string, history []Message) (string, bool) {
	if requested != AutoModel {
		return requested, true
	}

	start := time.Now()
	id, err := s.classify(ctx, history)
	MetricSince("selector", "classify", start)
	if err != nil {
		L_warn("selector: classification failed", "error", err, "type", ClassifyError(err))
		MetricFailWithReason("selector", "", string(ClassifyError(err)))
		return "", false
	}
	MetricSuccess("selector", "")
	L_debug("selector: classified", "model", id, "elapsed", time.Since(start).Round(time.Millisecond))
	return id, true
}

type selectorReply struct {
	ModelName string `json:"modelName"`
}

func (s *Selector) classify(ctx context.Context, history []Message) (string, error) {
	if s.classifier == nil {
		return "", ErrNoProvider
	}
	models := s.registry.Selectable()
	if len(models) == 0 {
		return "", ErrNoProvider
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}

	if d := time.Duration(s.timeout.Load()); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	comp, err := s.classifier.Generate(ctx, &Request{
		Model:          s.model,
		System:         SelectorPrompt(models),
		Messages:       textOnly(history),
		ThinkingBudget: NoThinkingBudget,
		Schema: &Schema{
			Name:   "model_selection",
			Fields: []SchemaField{{Name: "modelName", Enum: ids}},
		},
	})
	if err != nil {
		return "", err
	}

	var reply selectorReply
	if err := DecodeObject(comp.Text, &reply); err != nil {
		return "", err
	}
	id := strings.TrimSpace(reply.ModelName)
	for _, allowed := range ids {
		if id == allowed {
			return id, nil
		}
	}
	return "", &unknownModelError{id: id}
}

type unknownModelError struct{ id string }

func (e *unknownModelError) Error() string {
	return "classifier returned unknown model " + `"` + e.id + `"`
}

// textOnly strips attachments; the classifier only needs the words
func textOnly(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, Message{Role: m.Role, Parts: []Part{TextPart(text)}})
	}
	return out
}
