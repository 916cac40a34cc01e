package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/roelfdiedericks/chatgate/internal/types"
)

func TestEventEnvelope(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"status", Status("Trying model: deepseek-chat..."), `{"type":"status","content":"Trying model: deepseek-chat..."}`},
		{"metadata", ChatMetadata("c1", "New Chat"), `{"type":"chat-metadata","content":{"chatId":"c1","chatName":"New Chat"}}`},
		{"source", Source(types.Source{SourceType: "url", ID: "s1", URL: "https://a"}), `{"type":"source","content":{"sourceType":"url","id":"s1","url":"https://a"}}`},
		{"message id", MessageID("m1"), `{"type":"messageId","content":"m1"}`},
		{"details", DetailsEvent(Details{FinishReason: "stop", TotalTokens: 3, CompletionTokens: 2, PromptTokens: 1, ModelUsed: "x", ResponseTime: 12.5}),
			`{"type":"details","content":{"finishReason":"stop","totalTokens":3,"completionTokens":2,"promptTokens":1,"modelUsed":"x","responseTime":12.5}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("envelope mismatch:\ngot  %s\nwant %s", data, tt.want)
			}
		})
	}
}

func TestZeroEventRejected(t *testing.T) {
	var ev Event
	if ev.Valid() {
		t.Fatal("zero event should be invalid")
	}
	if _, err := json.Marshal(ev); err == nil {
		t.Error("marshal of zero event should fail")
	}
	r := &Recorder{}
	if err := r.Send(ev); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("expected ErrUnknownEvent, got %v", err)
	}
	if len(r.Events()) != 0 {
		t.Error("rejected event was recorded")
	}
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(context.Background(), rec)
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}
	if w.Started() {
		t.Error("writer should not start before the first event")
	}

	if err := w.Send(Status("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := w.Send(Response("world")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type mismatch: got %q", got)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("X-Accel-Buffering mismatch: got %q", got)
	}
	want := "data: {\"type\":\"status\",\"content\":\"hello\"}\n\n" +
		"data: {\"type\":\"response\",\"content\":\"world\"}\n\n"
	if rec.Body.String() != want {
		t.Errorf("body mismatch:\ngot  %q\nwant %q", rec.Body.String(), want)
	}
	if !rec.Flushed {
		t.Error("expected flush")
	}
}

type failingWriter struct {
	*httptest.ResponseRecorder
}

func (f failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSSEWriterClientGone(t *testing.T) {
	w, err := NewSSEWriter(context.Background(), failingWriter{httptest.NewRecorder()})
	if err != nil {
		t.Fatalf("NewSSEWriter failed: %v", err)
	}
	if err := w.Send(Status("x")); !errors.Is(err, ErrClientGone) {
		t.Fatalf("expected ErrClientGone, got %v", err)
	}
	if err := w.Send(Status("y")); !errors.Is(err, ErrClientGone) {
		t.Errorf("writer should stay failed, got %v", err)
	}
}

func TestSSEWriterCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	w, _ := NewSSEWriter(ctx, rec)
	if err := w.Send(Status("x")); !errors.Is(err, ErrClientGone) {
		t.Errorf("expected ErrClientGone, got %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Error("nothing should be written after cancellation")
	}
}

type noFlush struct{ http.ResponseWriter }

func TestSSEWriterRequiresFlusher(t *testing.T) {
	if _, err := NewSSEWriter(context.Background(), noFlush{httptest.NewRecorder()}); err == nil {
		t.Error("expected error for writer without Flush")
	}
}

func TestRecorderFailAfter(t *testing.T) {
	r := &Recorder{FailAfter: 2}
	r.Send(Status("a"))
	r.Send(Response("b"))
	if err := r.Send(Response("c")); !errors.Is(err, ErrClientGone) {
		t.Errorf("expected ErrClientGone, got %v", err)
	}
	if got := strings.Join(r.Texts(KindResponse), ""); got != "b" {
		t.Errorf("texts mismatch: got %q", got)
	}
}
