package orchestrator

import (
	"github.com/roelfdiedericks/chatgate/internal/llm"
	"github.com/roelfdiedericks/chatgate/internal/types"
)

// Turn is one generation request as seen by the pipeline
type Turn struct {
	ConversationID string
	Prompt         string
	RequestedModel string // model id or llm.AutoModel
	Flags          llm.Flags

	// History ends with the current user turn, which carries the
	// resolved attachment parts.
	History     []llm.Message
	Attachments []types.Attachment
}

// Result describes a successful run
type Result struct {
	Model     string
	MessageID string
	Message   *types.Message
	Attempts  []string
}
