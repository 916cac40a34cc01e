// Package llm provides the provider abstraction used by the chat pipeline:
// a pull-based chunk stream, the model catalogue, the provider registry,
// the model selector and the provider adapters.
package llm

import (
	"context"
)

// Provider kinds
const (
	ProviderGemini    = "gemini"
	ProviderDeepSeek  = "deepseek"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderXAI       = "xai"
)

// Provider is the interface every upstream client implements.
// Implementations are constructed once at startup and shared between
// requests, so they must be safe for concurrent use.
type Provider interface {
	// Name returns the provider kind (ProviderGemini, ...)
	Name() string

	// Stream opens a streaming generation. The caller must Close the
	// returned stream.
	Stream(ctx context.Context, req *Request) (Stream, error)

	// Generate runs a non-streaming generation. When req.Schema is set
	// the returned text is a JSON object matching the schema.
	Generate(ctx context.Context, req *Request) (*Completion, error)
}

// Role of a message in the conversation
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind identifies the content of a Part
type PartKind string

const (
	PartText     PartKind = "text"
	PartImage    PartKind = "image"
	PartTextFile PartKind = "text_file"
	PartFile     PartKind = "file"
)

// Part is one piece of message content. Non-text parts reference their
// bytes by URL; a Placeholder part has no URL because resolution failed.
type Part struct {
	Kind        PartKind
	Text        string
	URL         string
	MimeType    string
	Name        string
	Placeholder bool
}

// TextPart builds a text part
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// Message is a provider-agnostic conversation turn
type Message struct {
	Role  Role
	Parts []Part
}

// Text concatenates the text parts of the message
func (m Message) Text() string {
	if len(m.Parts) == 1 && m.Parts[0].Kind == PartText {
		return m.Parts[0].Text
	}
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// SchemaField is one string property of a structured-output schema
type SchemaField struct {
	Name        string
	Description string
	Enum        []string
}

// Schema describes a flat JSON object of required string fields
type Schema struct {
	Name   string
	Fields []SchemaField
}

// Request is a single generation request
type Request struct {
	Model    string // upstream model name
	System   string
	Messages []Message

	Search         bool // enable provider-side web search / grounding
	Reasoning      bool // include reasoning in the stream
	ThinkingBudget int  // <0 = do not send
	ImageOutput    bool // request image modality
	MaxTokens      int

	Schema *Schema // Generate only
}

// Completion is the result of Generate
type Completion struct {
	Text  string
	Usage Usage
}

// Usage is token accounting as reported by a provider
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt + completion
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}
