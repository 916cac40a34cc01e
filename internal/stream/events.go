// Package stream defines the events sent to chat clients and the sinks
// that deliver them.
package stream

import (
	"encoding/json"
	"errors"

	"github.com/roelfdiedericks/chatgate/internal/types"
)

// Kind is the wire name of an event
type Kind string

const (
	KindChatMetadata Kind = "chat-metadata"
	KindStatus       Kind = "status"
	KindReasoning    Kind = "reasoning"
	KindResponse     Kind = "response"
	KindSource       Kind = "source"
	KindDetails      Kind = "details"
	KindMessageID    Kind = "messageId"
	KindError        Kind = "error"
)

var knownKinds = map[Kind]bool{
	KindChatMetadata: true,
	KindStatus:       true,
	KindReasoning:    true,
	KindResponse:     true,
	KindSource:       true,
	KindDetails:      true,
	KindMessageID:    true,
	KindError:        true,
}

var (
	// ErrUnknownEvent is returned by sinks for events not built by a constructor
	ErrUnknownEvent = errors.New("stream: unknown event kind")
	// ErrClientGone is returned once the client connection can no longer be written
	ErrClientGone = errors.New("stream: client gone")
)

// Event is one client-facing event. The only valid values are those
// returned by the constructors below; the zero Event is rejected.
type Event struct {
	kind    Kind
	content any
}

// Kind returns the event kind
func (e Event) Kind() Kind { return e.kind }

// Content returns the payload
func (e Event) Content() any { return e.content }

// Valid reports whether e was built by a constructor
func (e Event) Valid() bool { return knownKinds[e.kind] }

// MarshalJSON encodes the {"type", "content"} envelope
func (e Event) MarshalJSON() ([]byte, error) {
	if !e.Valid() {
		return nil, ErrUnknownEvent
	}
	return json.Marshal(struct {
		Type    Kind `json:"type"`
		Content any  `json:"content"`
	}{e.kind, e.content})
}

// Metadata identifies the conversation at the start of a stream
type Metadata struct {
	ChatID   string `json:"chatId"`
	ChatName string `json:"chatName"`
}

// Details summarizes a completed generation
type Details struct {
	FinishReason     string  `json:"finishReason"`
	TotalTokens      int     `json:"totalTokens"`
	CompletionTokens int     `json:"completionTokens"`
	PromptTokens     int     `json:"promptTokens"`
	ModelUsed        string  `json:"modelUsed"`
	ResponseTime     float64 `json:"responseTime"`
}

func ChatMetadata(chatID, chatName string) Event {
	return Event{kind: KindChatMetadata, content: Metadata{ChatID: chatID, ChatName: chatName}}
}

func Status(text string) Event    { return Event{kind: KindStatus, content: text} }
func Reasoning(text string) Event { return Event{kind: KindReasoning, content: text} }
func Response(text string) Event  { return Event{kind: KindResponse, content: text} }

func Source(src types.Source) Event { return Event{kind: KindSource, content: src} }

func DetailsEvent(d Details) Event { return Event{kind: KindDetails, content: d} }

func MessageID(id string) Event { return Event{kind: KindMessageID, content: id} }

func Error(text string) Event { return Event{kind: KindError, content: text} }

// Sink receives events in order. Implementations return ErrClientGone
// (possibly wrapped) when delivery is no longer possible.
type Sink interface {
	Send(Event) error
}
