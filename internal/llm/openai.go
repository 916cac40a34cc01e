package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

// OpenAIProvider serves OpenAI and OpenAI-compatible APIs (DeepSeek).
type OpenAIProvider struct {
	name      string
	client    *openai.Client
	maxTokens int
}

// NewOpenAIProvider creates a client. name is the provider kind it is
// registered under (ProviderOpenAI or ProviderDeepSeek).
func NewOpenAIProvider(name string, cfg ClientConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key not configured", name)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		config.BaseURL = baseURL
	}
	config.HTTPClient = cfg.httpClient()

	return &OpenAIProvider{
		name:      name,
		client:    openai.NewClientWithConfig(config),
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) buildRequest(req *Request) openai.ChatCompletionRequest {
	system := req.System
	if req.Schema != nil {
		system = withSchemaInstruction(system, req.Schema)
	}

	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, convertToOpenAIMessage(m))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	out := openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.Schema != nil {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out
}

func convertToOpenAIMessage(m Message) openai.ChatCompletionMessage {
	if m.Role == RoleAssistant {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text()}
	}

	hasMedia := false
	for _, part := range m.Parts {
		if part.Kind != PartText {
			hasMedia = true
			break
		}
	}
	if !hasMedia {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text()}
	}

	var parts []openai.ChatMessagePart
	for _, part := range m.Parts {
		switch part.Kind {
		case PartText:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Text})
		case PartImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.URL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		default:
			// chat completions only takes images by URL
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: AttachmentReference(part)})
		}
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// wrapOpenAIError converts SDK errors to *APIError so they classify by status
func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		return &APIError{Provider: p.name, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	case errors.As(err, &reqErr):
		return &APIError{Provider: p.name, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	default:
		return err
	}
}

// Stream opens a chat completion stream
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	creq := p.buildRequest(req)
	creq.Stream = true
	creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	if req.Search {
		L_debug("openai: search requested but not supported on chat completions", "provider", p.name, "model", req.Model)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		err = p.wrapError(err)
		L_warn("openai: stream creation failed", "provider", p.name, "model", req.Model, "error", err)
		return nil, err
	}
	L_debug("openai: stream opened", "provider", p.name, "model", req.Model, "messages", len(creq.Messages))

	var (
		finish FinishReason
		usage  *Usage
	)
	fill := func() ([]Chunk, error) {
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if finish == "" {
					return nil, io.EOF
				}
				return []Chunk{FinishChunk(finish, usage)}, io.EOF
			}
			if err != nil {
				return nil, p.wrapError(err)
			}

			if resp.Usage != nil {
				usage = &Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			var chunks []Chunk
			if choice.Delta.ReasoningContent != "" && req.Reasoning {
				chunks = append(chunks, ReasoningChunk(choice.Delta.ReasoningContent))
			}
			if choice.Delta.Content != "" {
				chunks = append(chunks, TextChunk(choice.Delta.Content))
			}
			if choice.FinishReason != "" {
				finish = mapOpenAIFinish(choice.FinishReason)
			}
			if len(chunks) > 0 {
				return chunks, nil
			}
		}
	}
	return newPullStream(fill, stream.Close), nil
}

func mapOpenAIFinish(reason openai.FinishReason) FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return FinishStop
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonContentFilter:
		return FinishContentFilter
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonNull:
		return FinishUnknown
	default:
		return FinishOther
	}
}

// Generate runs a non-streaming completion; with a schema the response
// is constrained to a JSON object.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty response", p.name)
	}
	return &Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
