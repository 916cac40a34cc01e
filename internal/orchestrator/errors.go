package orchestrator

import "errors"

var (
	// ErrSelection means automatic model selection failed; nothing was attempted
	ErrSelection = errors.New("model selection failed")
	// ErrExhausted means every candidate failed
	ErrExhausted = errors.New("all models failed")
	// ErrIncompleteStream means a provider stream ended without a finish chunk
	ErrIncompleteStream = errors.New("stream ended without finish")
	// ErrPersist wraps a failure to store the completed message
	ErrPersist = errors.New("failed to persist message")
	// ErrConversationBusy means a generation for the conversation is already running
	ErrConversationBusy = errors.New("conversation has a generation in flight")
)

// Client-facing error texts
const (
	SelectionFailedMessage = "Failed to select a suitable model !!"
	ExhaustedMessage       = "Sorry, I couldn't generate a response at this time. Please try again later."
)
