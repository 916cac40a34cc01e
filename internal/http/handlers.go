package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/roelfdiedericks/chatgate/internal/blob"
	"github.com/roelfdiedericks/chatgate/internal/chat"
	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	. "github.com/roelfdiedericks/chatgate/internal/metrics"
	"github.com/roelfdiedericks/chatgate/internal/orchestrator"
	"github.com/roelfdiedericks/chatgate/internal/store"
	"github.com/roelfdiedericks/chatgate/internal/stream"
	"github.com/roelfdiedericks/chatgate/internal/types"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

type chatRequest struct {
	Messages    []chat.InputMessage `json:"messages"`
	Model       string              `json:"model"`
	ChatID      string              `json:"chatId"`
	ModelParams struct {
		IncludeSearch    bool `json:"includeSearch"`
		IncludeReasoning bool `json:"includeReasoning"`
	} `json:"modelParams"`
	Redirected bool `json:"redirected"`
}

// handleChat handles POST /api/v1/chat and streams the answer as SSE
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	u := getUserFromContext(r)

	var body chatRequest
	if !decodeBody(w, r, &body) {
		return
	}
	model := body.Model
	if model == "" {
		model = r.URL.Query().Get("model")
	}

	req := &chat.Request{
		OwnerID:        u.ID,
		ConversationID: body.ChatID,
		Model:          model,
		Messages:       body.Messages,
		Flags:          llm.Flags{Search: body.ModelParams.IncludeSearch, Reasoning: body.ModelParams.IncludeReasoning},
		Redirected:     body.Redirected,
	}

	sess, err := s.deps.Chat.Start(r.Context(), req)
	switch {
	case errors.Is(err, chat.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "No chat exists with the given id")
		return
	case errors.Is(err, orchestrator.ErrConversationBusy):
		writeError(w, http.StatusConflict, "A response is already being generated for this chat")
		return
	case err != nil:
		L_error("http: chat start failed", "user", u.ID, "chat", body.ChatID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	sse, err := stream.NewSSEWriter(r.Context(), w)
	if err != nil {
		sess.Close()
		L_error("http: SSE not supported", "error", err)
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	L_info("http: chat request", "user", u.ID, "chat", body.ChatID, "model", model, "redirected", body.Redirected)
	if _, err := sess.Stream(r.Context(), sse); err != nil {
		if !sse.Started() {
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		L_debug("http: chat ended with error", "chat", body.ChatID, "error", err)
	}
}

// handleCreateChat handles POST /api/v1/chat/create
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	u := getUserFromContext(r)

	var body struct {
		Prompt    string `json:"prompt"`
		ModelName string `json:"modelName"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if body.ModelName != llm.AutoModel {
		if _, ok := s.deps.Models.Lookup(body.ModelName); !ok {
			writeError(w, http.StatusBadRequest, "unknown model")
			return
		}
	}

	ctx := r.Context()
	conv, err := s.deps.Store.CreateConversation(ctx, u.ID, "")
	if err != nil {
		L_error("http: create chat failed", "user", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if _, err := s.deps.Store.StorePrompt(ctx, &store.PendingPrompt{
		ConversationID: conv.ID,
		Prompt:         body.Prompt,
		Model:          body.ModelName,
	}); err != nil {
		L_error("http: store prompt failed", "chat", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	MetricInc("http", "chats_created")
	writeJSON(w, http.StatusOK, map[string]string{"chatId": conv.ID, "chatName": conv.Name})
}

// handleGetChat handles GET /api/v1/chat/{chatId}
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r, r.PathValue("chatId"))
	if !ok {
		return
	}
	msgs, err := s.deps.Store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		L_error("http: list messages failed", "chat", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// handleDeleteChat handles DELETE /api/v1/chat/{chatId}
func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.ownedConversation(w, r, r.PathValue("chatId"))
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteConversation(r.Context(), conv.ID); err != nil {
		L_error("http: delete chat failed", "chat", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "successfully deleted chat"})
}

// handleListChats handles GET /api/v1/chats
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	u := getUserFromContext(r)
	convs, err := s.deps.Store.ListConversations(r.Context(), u.ID)
	if err != nil {
		L_error("http: list chats failed", "user", u.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if convs == nil {
		convs = []types.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": convs})
}

// handleDeleteMessage handles DELETE /api/v1/message?messageId=&chatId=
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	messageID := q.Get("messageId")
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "messageId is required")
		return
	}
	conv, ok := s.ownedConversation(w, r, q.Get("chatId"))
	if !ok {
		return
	}
	err := s.deps.Store.DeleteMessage(r.Context(), conv.ID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No message exists with the given id")
		return
	}
	if err != nil {
		L_error("http: delete message failed", "chat", conv.ID, "message", messageID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "successfully deleted message"})
}

// handleLikeMessage handles POST /api/v1/message/like
func (s *Server) handleLikeMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MessageID string `json:"messageId"`
		ChatID    string `json:"chatId"`
		Liked     bool   `json:"liked"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.MessageID == "" {
		writeError(w, http.StatusBadRequest, "messageId is required")
		return
	}
	conv, ok := s.ownedConversation(w, r, body.ChatID)
	if !ok {
		return
	}
	err := s.deps.Store.SetLiked(r.Context(), conv.ID, body.MessageID, body.Liked)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No message exists with the given id")
		return
	}
	if err != nil {
		L_error("http: like failed", "chat", conv.ID, "message", body.MessageID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": body.Liked})
}

// handleUploadURL handles POST /api/v1/files
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Files == nil {
		writeError(w, http.StatusServiceUnavailable, "File storage is not configured")
		return
	}
	var body struct {
		FileName string          `json:"fileName"`
		FileSize json.RawMessage `json:"fileSize"`
		FileType string          `json:"fileType"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.FileName == "" {
		writeError(w, http.StatusBadRequest, "fileName is required")
		return
	}

	upload, err := s.deps.Files.UploadURL(r.Context(), body.FileName, strings.Trim(string(body.FileSize), `"`), body.FileType)
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		writeError(w, http.StatusBadRequest, "File size too large")
		return
	case errors.Is(err, blob.ErrInvalidSize):
		writeError(w, http.StatusBadRequest, "Invalid file size")
		return
	case err != nil:
		L_error("http: upload url failed", "file", body.FileName, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

// handleReadURL handles GET /api/v1/files?fileKey=
func (s *Server) handleReadURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Files == nil {
		writeError(w, http.StatusServiceUnavailable, "File storage is not configured")
		return
	}
	key := r.URL.Query().Get("fileKey")
	if key == "" {
		writeError(w, http.StatusBadRequest, "fileKey is required")
		return
	}
	url, err := s.deps.Files.ReadURL(r.Context(), key)
	if err != nil {
		L_error("http: read url failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"readURL": url})
}

type modelInfo struct {
	llm.ModelSpec
	Available bool `json:"available"`
}

// handleModels handles GET /api/v1/models
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	specs := s.deps.Models.Models()
	out := make([]modelInfo, 0, len(specs))
	for _, spec := range specs {
		out = append(out, modelInfo{ModelSpec: spec, Available: s.deps.Models.Available(spec.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": out})
}

// handleMetrics handles GET /api/v1/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownedConversation loads id and checks it belongs to the caller. On
// failure the response has been written.
func (s *Server) ownedConversation(w http.ResponseWriter, r *http.Request, id string) (*types.Conversation, bool) {
	if id == "" {
		writeError(w, http.StatusBadRequest, "chatId is required")
		return nil, false
	}
	u := getUserFromContext(r)
	conv, err := s.deps.Store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && conv.OwnerID != u.ID) {
		writeError(w, http.StatusNotFound, "No chat exists with the given id")
		return nil, false
	}
	if err != nil {
		L_error("http: load chat failed", "chat", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return conv, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		L_debug("http: invalid JSON body", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		L_debug("http: failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
