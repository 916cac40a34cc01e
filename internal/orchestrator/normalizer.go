package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	"github.com/roelfdiedericks/chatgate/internal/store"
	"github.com/roelfdiedericks/chatgate/internal/stream"
	"github.com/roelfdiedericks/chatgate/internal/tokens"
	"github.com/roelfdiedericks/chatgate/internal/types"
)

// ArtifactSaver accepts generated files for background storage
type ArtifactSaver interface {
	SaveAsync(data []byte)
}

// Normalizer runs one attempt: it consumes a provider stream, forwards
// canonical events and persists the finished message.
type Normalizer struct {
	writer    store.MessageWriter
	artifacts ArtifactSaver
	estimate  func(text string) int
	now       func() time.Time

	// estimateMessages counts a prompt including per-message framing
	estimateMessages func(texts []string) int
}

// NewNormalizer creates a normalizer. artifacts may be nil.
func NewNormalizer(writer store.MessageWriter, artifacts ArtifactSaver) *Normalizer {
	return &Normalizer{
		writer:           writer,
		artifacts:        artifacts,
		estimate:         tokens.Estimate,
		estimateMessages: tokens.EstimateMessages,
		now:              time.Now,
	}
}

// Invoke streams one candidate. The returned error is nil only after
// the message was stored and its id sent to the client.
func (n *Normalizer) Invoke(ctx context.Context, sink stream.Sink, c llm.Candidate, turn *Turn) (*types.Message, error) {
	start := n.now()

	req := &llm.Request{
		Model:          upstreamModel(c.Spec),
		Messages:       llm.PrepareMessages(turn.History, c.Spec.Features),
		Search:         c.Options.Search,
		Reasoning:      c.Options.Reasoning,
		ThinkingBudget: c.Options.ThinkingBudget,
		ImageOutput:    c.Options.ImageOutput,
	}

	s, err := c.Provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var text, reasoning strings.Builder
	var sources []types.Source

	for s.Next() {
		ch := s.Chunk()
		switch ch.Kind {
		case llm.ChunkReasoning:
			if ch.Text == "" {
				continue
			}
			reasoning.WriteString(ch.Text)
			if err := sink.Send(stream.Reasoning(ch.Text)); err != nil {
				return nil, err
			}

		case llm.ChunkText:
			if ch.Text == "" {
				continue
			}
			text.WriteString(ch.Text)
			if err := sink.Send(stream.Response(ch.Text)); err != nil {
				return nil, err
			}

		case llm.ChunkSource:
			if ch.Source == nil || ch.Source.URL == "" {
				continue
			}
			src := types.Source{SourceType: "url", ID: uuid.NewString(), Title: ch.Source.Title, URL: ch.Source.URL}
			sources = append(sources, src)
			if err := sink.Send(stream.Source(src)); err != nil {
				return nil, err
			}

		case llm.ChunkFile:
			if ch.File != nil && n.artifacts != nil {
				n.artifacts.SaveAsync(ch.File.Data)
			}

		case llm.ChunkFinish:
			return n.finish(ctx, sink, c, turn, ch, start, text.String(), reasoning.String(), sources)

		default:
			L_warn("normalizer: ignoring chunk of unknown kind", "model", c.ID(), "kind", ch.Kind.String())
		}
	}

	if err := s.Err(); err != nil {
		return nil, err
	}
	return nil, ErrIncompleteStream
}

func (n *Normalizer) finish(ctx context.Context, sink stream.Sink, c llm.Candidate, turn *Turn,
	ch llm.Chunk, start time.Time, text, reasoning string, sources []types.Source) (*types.Message, error) {

	elapsedMs := float64(n.now().Sub(start).Microseconds()) / 1000
	usage := n.usage(ch.Usage, turn, text, reasoning)
	finishReason := string(ch.FinishReason)
	if finishReason == "" {
		finishReason = string(llm.FinishUnknown)
	}

	err := sink.Send(stream.DetailsEvent(stream.Details{
		FinishReason:     finishReason,
		TotalTokens:      usage.TotalTokens,
		CompletionTokens: usage.CompletionTokens,
		PromptTokens:     usage.PromptTokens,
		ModelUsed:        c.ID(),
		ResponseTime:     elapsedMs,
	}))
	if err != nil {
		return nil, err
	}

	msg, err := n.writer.InsertFinalMessage(ctx, &store.FinalMessage{
		ConversationID:   turn.ConversationID,
		Prompt:           turn.Prompt,
		Response:         text,
		Reasoning:        reasoning,
		Model:            c.ID(),
		FinishReason:     finishReason,
		Usage:            usage,
		ResponseTimeMs:   elapsedMs,
		IncludeSearch:    turn.Flags.Search,
		IncludeReasoning: turn.Flags.Reasoning,
		Attachments:      turn.Attachments,
		Sources:          sources,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	if err := sink.Send(stream.MessageID(msg.ID)); err != nil {
		return msg, err
	}
	return msg, nil
}

// usage fills the counts a provider did not report with estimates
func (n *Normalizer) usage(reported *llm.Usage, turn *Turn, text, reasoning string) types.Usage {
	var u types.Usage
	if reported != nil {
		u.PromptTokens = reported.PromptTokens
		u.CompletionTokens = reported.CompletionTokens
	}
	if u.PromptTokens == 0 {
		texts := make([]string, len(turn.History))
		for i, m := range turn.History {
			texts[i] = m.Text()
		}
		u.PromptTokens = n.estimateMessages(texts)
	}
	if u.CompletionTokens == 0 {
		u.CompletionTokens = n.estimate(text) + n.estimate(reasoning)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func upstreamModel(spec llm.ModelSpec) string {
	if spec.Upstream != "" {
		return spec.Upstream
	}
	return spec.ID
}
