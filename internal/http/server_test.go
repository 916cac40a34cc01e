package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/chatgate/internal/attachments"
	"github.com/roelfdiedericks/chatgate/internal/blob"
	"github.com/roelfdiedericks/chatgate/internal/chat"
	"github.com/roelfdiedericks/chatgate/internal/config"
	"github.com/roelfdiedericks/chatgate/internal/llm"
	"github.com/roelfdiedericks/chatgate/internal/orchestrator"
	"github.com/roelfdiedericks/chatgate/internal/store"
	"github.com/roelfdiedericks/chatgate/internal/user"
)

var (
	hashOnce sync.Once
	pwHash   string
)

func testHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := user.HashPassword("pw")
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		pwHash = h
	})
	return pwHash
}

// echoProvider answers every request with the last user text
type echoProvider struct{}

func (echoProvider) Name() string { return "fake" }

func (echoProvider) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	last := req.Messages[len(req.Messages)-1].Text()
	return llm.NewSliceStream([]llm.Chunk{
		llm.TextChunk("echo: " + last),
		llm.FinishChunk(llm.FinishStop, &llm.Usage{PromptTokens: 3, CompletionTokens: 2}),
	}, nil), nil
}

func (echoProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	return nil, errors.New("not supported")
}

type fakeSigner struct{}

func (fakeSigner) ReadURL(ctx context.Context, key string) (string, error) {
	return "https://blob.test/" + key + "?sig", nil
}

func (fakeSigner) UploadURL(ctx context.Context, fileName, fileSize, fileType string) (*blob.Upload, error) {
	if fileSize == "999999999" {
		return nil, blob.ErrTooLarge
	}
	if fileSize == "" {
		return nil, blob.ErrInvalidSize
	}
	id := "uuid_" + blob.SanitizeFileName(fileName)
	return &blob.Upload{URL: "https://blob.test/put", Key: blob.UploadPrefix + id, FileID: id}, nil
}

type testServer struct {
	srv   *Server
	store *store.MemoryStore
	orch  *orchestrator.Orchestrator
}

func newTestServer(t *testing.T, files FileSigner) *testServer {
	t.Helper()
	hash := testHash(t)
	users := user.NewRegistry([]config.UserConfig{
		{ID: "alice", PasswordHash: hash},
		{ID: "bob", PasswordHash: hash},
	})

	st := store.NewMemoryStore()
	catalogue := []llm.ModelSpec{{ID: "m1", Label: "Model One", Provider: "fake", ThinkingBudget: llm.NoThinkingBudget}}
	reg := llm.NewRegistry(catalogue, map[string]llm.Provider{"fake": echoProvider{}}, []string{"m1"})
	orch := orchestrator.NewOrchestrator(reg, llm.NewSelector(reg, nil, "", 0), orchestrator.NewNormalizer(st, nil), time.Second)
	svc := chat.NewService(st, attachments.NewResolver(nil, 1), nil, orch, reg)

	srv, err := NewServer(config.HTTPConfig{}, Deps{Users: users, Store: st, Chat: svc, Models: reg, Files: files})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return &testServer{srv: srv, store: st, orch: orch}
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.SetBasicAuth(userID, "pw")
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
}

type sseEvent struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &ev); err != nil {
			t.Fatalf("bad SSE block %q: %v", block, err)
		}
		out = append(out, ev)
	}
	return out
}

func (ts *testServer) createChat(t *testing.T, userID, prompt string) string {
	t.Helper()
	rec := ts.do(t, "POST", "/api/v1/chat/create", userID, map[string]string{"prompt": prompt, "modelName": "m1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp struct{ ChatID, ChatName string }
	decode(t, rec, &resp)
	if resp.ChatName != "New Chat" {
		t.Errorf("chat name mismatch: %q", resp.ChatName)
	}
	return resp.ChatID
}

func chatBody(chatID, model, prompt string) map[string]any {
	return map[string]any{
		"chatId":     chatID,
		"model":      model,
		"redirected": true,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
}

func TestNewServerRequiresUsers(t *testing.T) {
	_, err := NewServer(config.HTTPConfig{}, Deps{Users: user.NewRegistry(nil)})
	if err == nil {
		t.Fatal("expected error without auth users")
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health mismatch: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, nil)

	if rec := ts.do(t, "GET", "/api/v1/chats", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing auth: got %d", rec.Code)
	}
	req := httptest.NewRequest("GET", "/api/v1/chats", nil)
	req.SetBasicAuth("alice", "wrong")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password: got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
	if rec := ts.do(t, "GET", "/api/v1/chats", "alice", nil); rec.Code != http.StatusOK {
		t.Errorf("valid auth: got %d", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	rl.RecordFailure("1.2.3.4")
	if !rl.IsLimited("1.2.3.4") || rl.IsLimited("5.6.7.8") {
		t.Error("limiter state mismatch")
	}
	rl.ClearFailure("1.2.3.4")
	if rl.IsLimited("1.2.3.4") {
		t.Error("ClearFailure should unblock")
	}
	if NewRateLimiter(0).IsLimited("x") {
		t.Error("zero delay never limits")
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	ts := newTestServer(t, nil)
	chatID := ts.createChat(t, "alice", "hello")

	rec := ts.do(t, "POST", "/api/v1/chat", "alice", chatBody(chatID, "m1", "hello"))
	if rec.Code != http.StatusOK {
		t.Fatalf("chat failed: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type mismatch: %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{"chat-metadata", "status", "response", "details", "messageId"}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("event types mismatch:\ngot  %v\nwant %v", types, want)
	}
	var text string
	json.Unmarshal(events[2].Content, &text)
	if text != "echo: hello" {
		t.Errorf("response mismatch: %q", text)
	}

	rec = ts.do(t, "GET", "/api/v1/chat/"+chatID, "alice", nil)
	var got struct {
		Messages []struct {
			ID       string  `json:"id"`
			Prompt   string  `json:"prompt"`
			Response *string `json:"response"`
		} `json:"messages"`
	}
	decode(t, rec, &got)
	if len(got.Messages) != 1 || got.Messages[0].Response == nil || *got.Messages[0].Response != "echo: hello" {
		t.Errorf("stored messages mismatch: %s", rec.Body.String())
	}
	var msgID string
	json.Unmarshal(events[4].Content, &msgID)
	if got.Messages[0].ID != msgID {
		t.Errorf("messageId mismatch: %q vs %q", msgID, got.Messages[0].ID)
	}
}

func TestChatErrorsBeforeStreaming(t *testing.T) {
	ts := newTestServer(t, nil)
	chatID := ts.createChat(t, "alice", "hello")

	tests := []struct {
		name   string
		userID string
		body   any
		want   int
	}{
		{"invalid model", "alice", chatBody(chatID, "gpt-9", "hi"), http.StatusBadRequest},
		{"empty messages", "alice", map[string]any{"chatId": chatID, "model": "m1"}, http.StatusBadRequest},
		{"unknown chat", "alice", chatBody("missing", "m1", "hi"), http.StatusNotFound},
		{"other owner", "bob", chatBody(chatID, "m1", "hi"), http.StatusNotFound},
		{"bad json", "alice", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, "POST", "/api/v1/chat", tt.userID, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status mismatch: got %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestChatBusyConversation(t *testing.T) {
	ts := newTestServer(t, nil)
	chatID := ts.createChat(t, "alice", "hello")

	release, err := ts.orch.Begin(chatID)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	rec := ts.do(t, "POST", "/api/v1/chat", "alice", chatBody(chatID, "m1", "hello"))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestChatAutoWithoutClassifierFails(t *testing.T) {
	ts := newTestServer(t, nil)
	chatID := ts.createChat(t, "alice", "hello")

	rec := ts.do(t, "POST", "/api/v1/chat", "alice", chatBody(chatID, "auto", "hello"))
	events := parseSSE(t, rec.Body.String())
	if len(events) != 2 || events[1].Type != "error" {
		t.Fatalf("expected metadata then one error, got %s", rec.Body.String())
	}
	var text string
	json.Unmarshal(events[1].Content, &text)
	if text != orchestrator.SelectionFailedMessage {
		t.Errorf("error text mismatch: %q", text)
	}
}

func TestListAndDeleteChats(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.createChat(t, "alice", "one")
	ts.createChat(t, "bob", "two")

	var list struct {
		Chats []struct {
			ID string `json:"id"`
		} `json:"chats"`
	}
	decode(t, ts.do(t, "GET", "/api/v1/chats", "alice", nil), &list)
	if len(list.Chats) != 1 || list.Chats[0].ID != a {
		t.Errorf("chats mismatch: %+v", list.Chats)
	}

	if rec := ts.do(t, "DELETE", "/api/v1/chat/"+a, "bob", nil); rec.Code != http.StatusNotFound {
		t.Errorf("bob must not delete alice's chat: %d", rec.Code)
	}
	if rec := ts.do(t, "DELETE", "/api/v1/chat/"+a, "alice", nil); rec.Code != http.StatusOK {
		t.Errorf("delete failed: %d", rec.Code)
	}
	if rec := ts.do(t, "GET", "/api/v1/chat/"+a, "alice", nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted chat should be gone: %d", rec.Code)
	}
}

func TestMessageLikeAndDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	chatID := ts.createChat(t, "alice", "hello")
	msgs, _ := ts.store.ListMessages(context.Background(), chatID)
	msgID := msgs[0].ID

	rec := ts.do(t, "POST", "/api/v1/message/like", "alice", map[string]any{"messageId": msgID, "chatId": chatID, "liked": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("like failed: %d %s", rec.Code, rec.Body.String())
	}
	msgs, _ = ts.store.ListMessages(context.Background(), chatID)
	if !msgs[0].Liked {
		t.Error("message should be liked")
	}

	if rec := ts.do(t, "POST", "/api/v1/message/like", "alice", map[string]any{"messageId": "nope", "chatId": chatID}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown message: got %d", rec.Code)
	}
	if rec := ts.do(t, "DELETE", "/api/v1/message?chatId="+chatID+"&messageId="+msgID, "alice", nil); rec.Code != http.StatusOK {
		t.Errorf("delete failed: %d", rec.Code)
	}
	if rec := ts.do(t, "DELETE", "/api/v1/message?chatId="+chatID, "alice", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing messageId: got %d", rec.Code)
	}
}

func TestFiles(t *testing.T) {
	ts := newTestServer(t, fakeSigner{})

	rec := ts.do(t, "POST", "/api/v1/files", "alice", map[string]any{"fileName": "my cat.png", "fileSize": 1024, "fileType": "image/png"})
	if rec.Code != http.StatusOK {
		t.Fatalf("upload failed: %d %s", rec.Code, rec.Body.String())
	}
	var up blob.Upload
	decode(t, rec, &up)
	if up.Key != "users/uploads/uuid_my_cat.png" || up.FileID != "uuid_my_cat.png" {
		t.Errorf("upload mismatch: %+v", up)
	}

	rec = ts.do(t, "POST", "/api/v1/files", "alice", map[string]any{"fileName": "big.bin", "fileSize": "999999999"})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "too large") {
		t.Errorf("too large: %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, "GET", "/api/v1/files?fileKey=users/uploads/x", "alice", nil)
	var read struct {
		ReadURL string `json:"readURL"`
	}
	decode(t, rec, &read)
	if read.ReadURL != "https://blob.test/users/uploads/x?sig" {
		t.Errorf("read url mismatch: %q", read.ReadURL)
	}

	if rec := ts.do(t, "GET", "/api/v1/files", "alice", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing key: got %d", rec.Code)
	}
}

func TestFilesWithoutBucket(t *testing.T) {
	ts := newTestServer(t, nil)
	if rec := ts.do(t, "GET", "/api/v1/files?fileKey=k", "alice", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestModelsAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	var models struct {
		Models []struct {
			ID        string `json:"id"`
			Label     string `json:"label"`
			Available bool   `json:"available"`
		} `json:"models"`
	}
	decode(t, ts.do(t, "GET", "/api/v1/models", "alice", nil), &models)
	if len(models.Models) != 1 || models.Models[0].Label != "Model One" || !models.Models[0].Available {
		t.Errorf("models mismatch: %+v", models)
	}

	rec := ts.do(t, "GET", "/api/v1/metrics", "alice", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http") {
		t.Errorf("metrics mismatch: %d %s", rec.Code, rec.Body.String())
	}
}
