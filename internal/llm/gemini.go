package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider talks to the Generative Language REST API directly.
// Search grounding, thinking config and image output are only reachable
// through the native endpoint.
type GeminiProvider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	maxTokens int
}

// NewGeminiProvider creates a Gemini client
func NewGeminiProvider(cfg ClientConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &GeminiProvider{
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		client:    cfg.httpClient(),
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

// Wire types. Only the fields chatgate sends are declared.

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type geminiSchema struct {
	Type        string                  `json:"type"`
	Description string                  `json:"description,omitempty"`
	Enum        []string                `json:"enum,omitempty"`
	Properties  map[string]geminiSchema `json:"properties,omitempty"`
	Required    []string                `json:"required,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens    int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig     *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
	ResponseMimeType   string                `json:"responseMimeType,omitempty"`
	ResponseSchema     *geminiSchema         `json:"responseSchema,omitempty"`
	ResponseModalities []string              `json:"responseModalities,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

func (p *GeminiProvider) buildRequest(ctx context.Context, req *Request) *geminiRequest {
	body := &geminiRequest{}

	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		content := geminiContent{Role: role}
		for _, part := range m.Parts {
			content.Parts = append(content.Parts, p.convertPart(ctx, part))
		}
		if len(content.Parts) == 0 {
			continue
		}
		body.Contents = append(body.Contents, content)
	}

	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}

	gen := &geminiGenerationConfig{}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	gen.MaxOutputTokens = maxTokens

	if req.ThinkingBudget >= 0 {
		gen.ThinkingConfig = &geminiThinkingConfig{
			ThinkingBudget:  req.ThinkingBudget,
			IncludeThoughts: req.Reasoning,
		}
	}

	if req.ImageOutput {
		gen.ResponseModalities = []string{"TEXT", "IMAGE"}
	} else if req.Search {
		// image generation models reject tools
		body.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}

	if req.Schema != nil {
		gen.ResponseMimeType = "application/json"
		gen.ResponseSchema = toGeminiSchema(req.Schema)
	}

	if gen.MaxOutputTokens > 0 || gen.ThinkingConfig != nil || gen.ResponseSchema != nil || len(gen.ResponseModalities) > 0 {
		body.GenerationConfig = gen
	}
	return body
}

func toGeminiSchema(s *Schema) *geminiSchema {
	out := &geminiSchema{Type: "OBJECT", Properties: make(map[string]geminiSchema, len(s.Fields))}
	for _, f := range s.Fields {
		out.Properties[f.Name] = geminiSchema{Type: "STRING", Description: f.Description, Enum: f.Enum}
		out.Required = append(out.Required, f.Name)
	}
	return out
}

// convertPart inlines attachments. Gemini cannot fetch arbitrary URLs,
// so the bytes are downloaded here; failures degrade to a text reference.
func (p *GeminiProvider) convertPart(ctx context.Context, part Part) geminiPart {
	if part.Kind == PartText {
		return geminiPart{Text: part.Text}
	}
	if part.URL == "" {
		return geminiPart{Text: AttachmentReference(part)}
	}
	data, mimeType, err := fetchURL(ctx, p.client, part.URL, MaxInlineBytes)
	if err != nil {
		L_warn("gemini: attachment fetch failed, sending reference", "name", part.Name, "error", err)
		return geminiPart{Text: AttachmentReference(part)}
	}
	if part.MimeType != "" {
		mimeType = part.MimeType
	}
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

func (p *GeminiProvider) post(ctx context.Context, url string, body *geminiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	L_trace("gemini: request", "url", url, "bytes", len(payload))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, geminiError(resp.StatusCode, raw)
	}
	return resp, nil
}

func geminiError(status int, raw []byte) error {
	msg := gjson.GetBytes(raw, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if st := gjson.GetBytes(raw, "error.status").String(); st != "" {
		msg = st + ": " + msg
	}
	return &APIError{Provider: ProviderGemini, StatusCode: status, Message: msg}
}

// Stream opens streamGenerateContent with SSE framing
func (p *GeminiProvider) Stream(ctx context.Context, req *Request) (Stream, error) {
	body := p.buildRequest(ctx, req)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, req.Model)

	resp, err := p.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	L_debug("gemini: stream opened", "model", req.Model, "search", req.Search, "thinkingBudget", req.ThinkingBudget)

	d := newGeminiDecoder(resp.Body, req.Reasoning)
	return newPullStream(d.next, resp.Body.Close), nil
}

// geminiDecoder turns SSE events into chunks
type geminiDecoder struct {
	scanner     *bufio.Scanner
	reasoning   bool
	seenSources map[string]bool
	finish      FinishReason
	usage       *Usage
}

func newGeminiDecoder(r io.Reader, reasoning bool) *geminiDecoder {
	scanner := bufio.NewScanner(r)
	// inline images arrive as a single data line
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	return &geminiDecoder{scanner: scanner, reasoning: reasoning, seenSources: make(map[string]bool)}
}

func (d *geminiDecoder) next() ([]Chunk, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		chunks, err := d.decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		if len(chunks) > 0 {
			return chunks, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if d.finish == "" {
		return nil, io.EOF
	}
	return []Chunk{FinishChunk(d.finish, d.usage)}, io.EOF
}

func (d *geminiDecoder) decode(payload []byte) ([]Chunk, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("gemini: invalid stream payload")
	}
	root := gjson.ParseBytes(payload)

	if e := root.Get("error"); e.Exists() {
		return nil, &APIError{Provider: ProviderGemini, StatusCode: int(e.Get("code").Int()), Message: e.Get("message").String()}
	}

	var chunks []Chunk
	cand := root.Get("candidates.0")

	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() && text.String() != "" {
			if part.Get("thought").Bool() {
				if d.reasoning {
					chunks = append(chunks, ReasoningChunk(text.String()))
				}
			} else {
				chunks = append(chunks, TextChunk(text.String()))
			}
		}
		if inline := part.Get("inlineData"); inline.Exists() {
			data, err := base64.StdEncoding.DecodeString(inline.Get("data").String())
			if err != nil {
				L_warn("gemini: bad inline data, skipping", "error", err)
			} else {
				chunks = append(chunks, FileChunk(inline.Get("mimeType").String(), data))
			}
		}
		return true
	})

	cand.Get("groundingMetadata.groundingChunks").ForEach(func(_, gc gjson.Result) bool {
		uri := gc.Get("web.uri").String()
		if uri == "" || d.seenSources[uri] {
			return true
		}
		d.seenSources[uri] = true
		chunks = append(chunks, SourceChunk(uri, gc.Get("web.title").String()))
		return true
	})

	if um := root.Get("usageMetadata"); um.Exists() {
		d.usage = &Usage{
			PromptTokens:     int(um.Get("promptTokenCount").Int()),
			CompletionTokens: int(um.Get("candidatesTokenCount").Int() + um.Get("thoughtsTokenCount").Int()),
		}
	}

	if fr := cand.Get("finishReason").String(); fr != "" {
		d.finish = mapGeminiFinish(fr)
	}
	if br := root.Get("promptFeedback.blockReason").String(); br != "" {
		d.finish = FinishContentFilter
	}
	return chunks, nil
}

func mapGeminiFinish(reason string) FinishReason {
	switch reason {
	case "STOP":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return FinishContentFilter
	case "MALFORMED_FUNCTION_CALL":
		return FinishError
	case "FINISH_REASON_UNSPECIFIED":
		return FinishUnknown
	default:
		return FinishOther
	}
}

// Generate calls generateContent and returns the joined non-thought text
func (p *GeminiProvider) Generate(ctx context.Context, req *Request) (*Completion, error) {
	body := p.buildRequest(ctx, req)
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)

	resp, err := p.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	root := gjson.ParseBytes(raw)

	var text strings.Builder
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if !part.Get("thought").Bool() {
			text.WriteString(part.Get("text").String())
		}
		return true
	})
	if text.Len() == 0 {
		if br := root.Get("promptFeedback.blockReason").String(); br != "" {
			return nil, fmt.Errorf("gemini: prompt blocked: %s", br)
		}
		return nil, fmt.Errorf("gemini: empty response")
	}

	return &Completion{
		Text: text.String(),
		Usage: Usage{
			PromptTokens:     int(root.Get("usageMetadata.promptTokenCount").Int()),
			CompletionTokens: int(root.Get("usageMetadata.candidatesTokenCount").Int()),
		},
	}, nil
}
