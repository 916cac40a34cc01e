package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicProvider streams Claude models through the official SDK
type AnthropicProvider struct {
	client    anthropic.Client
	maxTokens int
}

// NewAnthropicProvider creates a Claude client
func NewAnthropicProvider(cfg ClientConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(cfg.httpClient()),
		option.WithMaxRetries(0), // fallback moves on to the next model instead
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}, nil
}

func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

func (p *AnthropicProvider) buildParams(req *Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	thinking := req.Reasoning && req.ThinkingBudget > 0 && req.Schema == nil
	if thinking {
		// max_tokens must be greater than thinking.budget_tokens
		if minRequired := req.ThinkingBudget + 4096; maxTokens < minRequired {
			L_debug("anthropic: adjusting max_tokens for thinking", "original", maxTokens, "required", minRequired)
			maxTokens = minRequired
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  convertAnthropicMessages(req.Messages),
	}
	if thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}

	system := req.System
	if req.Schema != nil {
		system = withSchemaInstruction(system, req.Schema)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func convertAnthropicMessages(msgs []Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, m := range msgs {
		if m.Role == RoleAssistant {
			text := m.Text()
			if text == "" {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range m.Parts {
			switch {
			case part.Kind == PartText:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case part.Kind == PartImage && part.URL != "":
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: part.URL}))
			case part.MimeType == "application/pdf" && part.URL != "":
				blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.URLPDFSourceParam{URL: part.URL}))
			default:
				blocks = append(blocks, anthropic.NewTextBlock(AttachmentReference(part)))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		result = append(result, anthropic.NewUserMessage(blocks...))
	}
	return result
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: ProviderAnthropic, StatusCode: apiErr.StatusCode, Message: err.Error()}
	}
	return err
}

// Stream opens a Messages stream. The finish chunk is emitted on
// message_stop, so a connection that drops earlier yields no finish.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	params := p.buildParams(req)
	if req.Search {
		L_debug("anthropic: search requested but no search tool is configured", "model", req.Model)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	L_debug("anthropic: stream opened", "model", req.Model, "thinking", params.Thinking.OfEnabled != nil)

	message := anthropic.Message{}
	done := false

	fill := func() ([]Chunk, error) {
		for !done && stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				return nil, fmt.Errorf("anthropic: accumulate: %w", err)
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						return []Chunk{TextChunk(delta.Text)}, nil
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						return []Chunk{ReasoningChunk(delta.Thinking)}, nil
					}
				}
			case anthropic.MessageStopEvent:
				done = true
				usage := &Usage{
					PromptTokens:     int(message.Usage.InputTokens),
					CompletionTokens: int(message.Usage.OutputTokens),
				}
				return []Chunk{FinishChunk(mapAnthropicStop(string(message.StopReason)), usage)}, io.EOF
			}
		}
		if err := stream.Err(); err != nil {
			return nil, wrapAnthropicError(err)
		}
		return nil, io.EOF
	}
	return newPullStream(fill, stream.Close), nil
}

func mapAnthropicStop(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	case "refusal":
		return FinishContentFilter
	case "":
		return FinishUnknown
	default:
		return FinishOther
	}
}

// Generate runs a non-streaming Messages call
func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Completion, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, wrapAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	return &Completion{
		Text: text.String(),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}
