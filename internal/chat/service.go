// Package chat turns a client chat request into an orchestrated turn:
// validation, the redirect flow, first-request naming and history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	"github.com/roelfdiedericks/chatgate/internal/orchestrator"
	"github.com/roelfdiedericks/chatgate/internal/store"
	"github.com/roelfdiedericks/chatgate/internal/stream"
	"github.com/roelfdiedericks/chatgate/internal/types"
)

var (
	// ErrInvalidRequest wraps every validation failure
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound is returned for unknown conversations and for
	// conversations owned by someone else
	ErrNotFound = errors.New("conversation not found")
)

// InputMessage is one message as sent by the client
type InputMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

// Request is a validated-on-Start chat request
type Request struct {
	OwnerID        string
	ConversationID string
	Model          string
	Messages       []InputMessage
	Flags          llm.Flags
	Redirected     bool
}

// Store is the persistence the service needs
type Store interface {
	store.Gateway
	ListMessages(ctx context.Context, conversationID string) ([]types.Message, error)
	DeleteLastMessageIfPending(ctx context.Context, conversationID string) (bool, error)
}

// Resolver turns attachments into content parts
type Resolver interface {
	Resolve(ctx context.Context, atts []types.Attachment) []llm.Part
}

// Namer proposes a conversation name from the first prompt
type Namer interface {
	Name(ctx context.Context, prompt string) (string, error)
}

// Runner is the orchestrator surface used by the service
type Runner interface {
	Begin(conversationID string) (release func(), err error)
	Run(ctx context.Context, sink stream.Sink, turn *orchestrator.Turn) (*orchestrator.Result, error)
}

// Catalogue answers whether a model identifier is known
type Catalogue interface {
	Lookup(id string) (llm.ModelSpec, bool)
}

// Service handles chat requests
type Service struct {
	store    Store
	resolver Resolver
	namer    Namer
	runner   Runner
	models   Catalogue
}

// NewService wires the service. namer may be nil, in which case
// conversations keep their default name.
func NewService(st Store, resolver Resolver, namer Namer, runner Runner, models Catalogue) *Service {
	return &Service{store: st, resolver: resolver, namer: namer, runner: runner, models: models}
}

// Session is a started request holding the conversation lock.
// Stream must be called exactly once, or Close to abandon it.
type Session struct {
	svc     *Service
	req     *Request
	conv    *types.Conversation
	release func()
}

// Start validates req, checks ownership and claims the conversation.
// Errors: ErrInvalidRequest, ErrNotFound, orchestrator.ErrConversationBusy.
// Nothing has been written to the client when Start fails.
func (s *Service) Start(ctx context.Context, req *Request) (*Session, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.OwnerID != req.OwnerID {
		L_warn("chat: conversation owned by another user", "conversation", conv.ID, "user", req.OwnerID)
		return nil, ErrNotFound
	}

	release, err := s.runner.Begin(conv.ID)
	if err != nil {
		return nil, err
	}
	return &Session{svc: s, req: req, conv: conv, release: release}, nil
}

func (s *Service) validate(req *Request) error {
	if req.ConversationID == "" {
		return fmt.Errorf("%w: chatId is required", ErrInvalidRequest)
	}
	if req.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if req.Model != llm.AutoModel {
		if _, ok := s.models.Lookup(req.Model); !ok {
			return fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, req.Model)
		}
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != string(llm.RoleUser) {
		return fmt.Errorf("%w: last message must come from the user", ErrInvalidRequest)
	}
	if strings.TrimSpace(last.Content) == "" && len(last.Attachments) == 0 {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidRequest)
	}
	return nil
}

// Close releases the conversation without streaming
func (sess *Session) Close() {
	sess.release()
}

// Stream runs the turn, writing events to sink. The conversation lock
// is released when it returns.
func (sess *Session) Stream(ctx context.Context, sink stream.Sink) (*orchestrator.Result, error) {
	defer sess.release()
	s := sess.svc
	req := sess.req
	start := time.Now()

	firstRequest := false
	if req.Redirected {
		deleted, err := s.store.DeleteLastMessageIfPending(ctx, sess.conv.ID)
		if err != nil {
			L_warn("chat: failed to delete pending message", "conversation", sess.conv.ID, "error", err)
		}
		firstRequest = deleted
	}

	stored, err := s.store.ListMessages(ctx, sess.conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(stored) == 0 {
		firstRequest = true
	}

	prompt := req.Messages[len(req.Messages)-1]
	if firstRequest {
		sess.name(ctx, prompt.Content)
	}

	if err := sink.Send(stream.ChatMetadata(sess.conv.ID, sess.conv.Name)); err != nil {
		return nil, err
	}

	parts := s.resolver.Resolve(ctx, prompt.Attachments)
	turn := &orchestrator.Turn{
		ConversationID: sess.conv.ID,
		Prompt:         prompt.Content,
		RequestedModel: req.Model,
		Flags:          req.Flags,
		History:        BuildHistory(stored, prompt.Content, parts),
		Attachments:    prompt.Attachments,
	}

	res, err := s.runner.Run(ctx, sink, turn)
	L_elapsed(start, "chat: request finished", "conversation", sess.conv.ID, "error", err)
	return res, err
}

// name renames the conversation from the first prompt. Failures are
// logged and the current name is kept.
func (sess *Session) name(ctx context.Context, prompt string) {
	if sess.svc.namer == nil || strings.TrimSpace(prompt) == "" {
		return
	}
	name, err := sess.svc.namer.Name(ctx, prompt)
	if err != nil {
		L_warn("chat: naming failed, keeping current name", "conversation", sess.conv.ID, "error", err)
		return
	}
	conv, err := sess.svc.store.RenameConversation(ctx, sess.conv.ID, name)
	if err != nil {
		L_warn("chat: rename failed", "conversation", sess.conv.ID, "error", err)
		return
	}
	L_debug("chat: conversation named", "conversation", conv.ID, "name", conv.Name)
	sess.conv = conv
}

// BuildHistory replays stored exchanges as user/assistant text and
// appends the current prompt with its attachment parts. Pending and
// empty responses are skipped.
func BuildHistory(stored []types.Message, prompt string, parts []llm.Part) []llm.Message {
	out := make([]llm.Message, 0, 2*len(stored)+1)
	for _, m := range stored {
		if m.Pending() {
			continue
		}
		if m.Prompt != "" {
			out = append(out, llm.Message{Role: llm.RoleUser, Parts: []llm.Part{llm.TextPart(m.Prompt)}})
		}
		if m.Response != nil && strings.TrimSpace(*m.Response) != "" {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Parts: []llm.Part{llm.TextPart(*m.Response)}})
		}
	}

	current := llm.Message{Role: llm.RoleUser}
	if prompt != "" {
		current.Parts = append(current.Parts, llm.TextPart(prompt))
	}
	current.Parts = append(current.Parts, parts...)
	return append(out, current)
}
