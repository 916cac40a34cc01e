package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

const namerPrompt = "You are an assistant whose job is just to create a chat name on the basis of the user's prompt. " +
	"Make sure the chat name is relevant to the user's prompt and keep it short, concise and professional."

const maxChatNameLen = 80

// Namer generates a short conversation title from the first prompt
type Namer struct {
	provider Provider
	model    string
	timeout  time.Duration
}

// NewNamer creates a namer backed by provider
func NewNamer(provider Provider, model string, timeout time.Duration) *Namer {
	return &Namer{provider: provider, model: model, timeout: timeout}
}

type namerReply struct {
	ChatName string `json:"chatName"`
}

// Name returns a title for prompt
func (n *Namer) Name(ctx context.Context, prompt string) (string, error) {
	if n == nil || n.provider == nil {
		return "", ErrNoProvider
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	comp, err := n.provider.Generate(ctx, &Request{
		Model:          n.model,
		System:         namerPrompt,
		Messages:       []Message{{Role: RoleUser, Parts: []Part{TextPart(prompt)}}},
		ThinkingBudget: NoThinkingBudget,
		Schema: &Schema{
			Name:   "chat_name",
			Fields: []SchemaField{{Name: "chatName", Description: "short title for the conversation"}},
		},
	})
	if err != nil {
		return "", err
	}

	var reply namerReply
	if err := DecodeObject(comp.Text, &reply); err != nil {
		return "", err
	}
	name := strings.TrimSpace(reply.ChatName)
	if name == "" {
		return "", errors.New("namer returned an empty name")
	}
	if r := []rune(name); len(r) > maxChatNameLen {
		name = string(r[:maxChatNameLen])
	}
	return name, nil
}
