// Package types contains the conversation records shared by the store,
// the pipeline and the HTTP layer.
package types

import "time"

// DefaultConversationName is the name given to a conversation before the
// namer has run.
const DefaultConversationName = "New Chat"

// Conversation is a named, owned sequence of messages
type Conversation struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"userId"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// Attachment references a file stored in the blob bucket
type Attachment struct {
	FileName string `json:"fileName"`
	FileKey  string `json:"fileKey"`
	FileType string `json:"fileType"`
	FileSize string `json:"fileSize"`
	FileID   string `json:"fileId"`
}

// Source is a citation surfaced by a search-grounded model
type Source struct {
	SourceType string `json:"sourceType"`
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url"`
}

// Usage holds token accounting for one generation
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Message is one prompt/response exchange. A nil Response means the
// prompt is stored but generation has not completed.
type Message struct {
	ID               string       `json:"id"`
	ConversationID   string       `json:"chatId"`
	Prompt           string       `json:"prompt"`
	Response         *string      `json:"response"`
	Model            string       `json:"modelName,omitempty"`
	FinishReason     string       `json:"finishReason,omitempty"`
	Reasoning        *string      `json:"reasoning,omitempty"`
	Usage            Usage        `json:"usage"`
	ResponseTimeMs   float64      `json:"responseTime"`
	IncludeSearch    bool         `json:"includeSearch"`
	IncludeReasoning bool         `json:"includeReasoning"`
	Attachments      []Attachment `json:"attachments"`
	Sources          []Source     `json:"sources"`
	Liked            bool         `json:"liked"`
	CreatedAt        time.Time    `json:"createdAt"`
}

// Pending reports whether the message is still waiting for a response
func (m *Message) Pending() bool {
	return m.Response == nil
}

// StringPtr returns a pointer to s, or nil when s is empty
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
