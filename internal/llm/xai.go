package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/roelfdiedericks/xai-go"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

const xaiDefaultMaxTokens = 8192

// XAIProvider streams Grok models over xAI's gRPC API
type XAIProvider struct {
	client    *xai.Client
	maxTokens int
}

// NewXAIProvider creates a Grok client
func NewXAIProvider(cfg ClientConfig) (*XAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("xai API key not configured")
	}

	xcfg := xai.Config{APIKey: xai.NewSecureString(cfg.APIKey)}
	if cfg.Timeout > 0 {
		xcfg.Timeout = cfg.Timeout
	}
	client, err := xai.New(xcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create xai client: %w", err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = xaiDefaultMaxTokens
	}
	return &XAIProvider{client: client, maxTokens: maxTokens}, nil
}

func (p *XAIProvider) Name() string { return ProviderXAI }

func safeInt32(n int) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < 0 {
		return 0
	}
	return int32(n)
}

func (p *XAIProvider) buildRequest(req *Request) *xai.ChatRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	xreq := xai.NewChatRequest().
		WithModel(req.Model).
		WithMaxTokens(safeInt32(maxTokens))

	system := req.System
	if req.Schema != nil {
		system = withSchemaInstruction(system, req.Schema)
	}
	if system != "" {
		xreq.SystemMessage(xai.SystemContent{Text: system})
	}

	for _, m := range req.Messages {
		addXAIMessage(xreq, m)
	}

	if req.Search {
		xreq.AddTool(xai.NewWebSearchTool())
	}
	if req.Reasoning {
		// only grok-3-mini honours reasoning effort
		xreq.WithReasoningEffort(xai.ReasoningEffortLow)
	}
	return xreq
}

// addXAIMessage maps a message onto the request. UserContent carries at
// most one image; further attachments become text references.
func addXAIMessage(xreq *xai.ChatRequest, m Message) {
	if m.Role == RoleAssistant {
		if text := m.Text(); text != "" {
			xreq.AssistantMessage(xai.AssistantContent{Text: text})
		}
		return
	}

	var textParts []string
	imageURL := ""
	for _, part := range m.Parts {
		switch {
		case part.Kind == PartText:
			if part.Text != "" {
				textParts = append(textParts, part.Text)
			}
		case part.Kind == PartImage && part.URL != "" && imageURL == "":
			imageURL = part.URL
		default:
			textParts = append(textParts, AttachmentReference(part))
		}
	}

	content := xai.UserContent{Text: strings.Join(textParts, "\n")}
	if imageURL != "" {
		content.ImageURL = imageURL
	}
	xreq.UserMessage(content)
}

// Stream opens a chat stream
func (p *XAIProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	stream, err := p.client.StreamChat(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	L_debug("xai: stream opened", "model", req.Model, "search", req.Search)

	d := newXAIDecoder(req)
	fill := func() ([]Chunk, error) {
		for {
			chunk, err := stream.Next()
			if errors.Is(err, io.EOF) {
				if fin, ok := d.finishChunk(); ok {
					return []Chunk{fin}, io.EOF
				}
				return nil, io.EOF
			}
			if err != nil {
				return nil, err
			}
			if chunks := d.decode(chunk); len(chunks) > 0 {
				return chunks, nil
			}
		}
	}
	return newPullStream(fill, func() error {
		stream.Close()
		return nil
	}), nil
}

// xaiDecoder maps Grok stream chunks onto the provider chunk union.
// Finish reason and usage are held until the stream ends.
type xaiDecoder struct {
	reasoning   bool
	search      bool
	seenSources map[string]bool
	finish      FinishReason
	usage       *Usage
}

func newXAIDecoder(req *Request) *xaiDecoder {
	return &xaiDecoder{
		reasoning:   req.Reasoning,
		search:      req.Search,
		seenSources: make(map[string]bool),
	}
}

func (d *xaiDecoder) decode(chunk *xai.ChatChunk) []Chunk {
	if chunk == nil {
		return nil
	}
	if chunk.FinishReason != "" {
		d.finish = mapXAIFinish(chunk.FinishReason)
	}
	if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
		d.usage = &Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
		}
	}

	var chunks []Chunk
	if chunk.ReasoningDelta != "" && d.reasoning {
		chunks = append(chunks, ReasoningChunk(chunk.ReasoningDelta))
	}
	if chunk.Delta != "" {
		chunks = append(chunks, TextChunk(chunk.Delta))
	}
	// citations arrive on the final chunk
	if d.search {
		for _, url := range chunk.Citations {
			if url == "" || d.seenSources[url] {
				continue
			}
			d.seenSources[url] = true
			chunks = append(chunks, SourceChunk(url, ""))
		}
	}
	return chunks
}

// finishChunk returns the terminal chunk, or false when no finish reason
// was seen.
func (d *xaiDecoder) finishChunk() (Chunk, bool) {
	if d.finish == "" {
		return Chunk{}, false
	}
	return FinishChunk(d.finish, d.usage), true
}

func mapXAIFinish(reason xai.FinishReason) FinishReason {
	switch reason {
	case xai.FinishReasonStop:
		return FinishStop
	case xai.FinishReasonLength:
		return FinishLength
	case xai.FinishReasonToolCalls:
		return FinishToolCalls
	case xai.FinishReasonContentFilter:
		return FinishContentFilter
	default:
		return FinishOther
	}
}

// Generate runs a non-streaming completion
func (p *XAIProvider) Generate(ctx context.Context, req *Request) (*Completion, error) {
	resp, err := p.client.CompleteChat(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return &Completion{
		Text: resp.Content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
