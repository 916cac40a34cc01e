// Package http provides the JSON and SSE API server.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/roelfdiedericks/chatgate/internal/blob"
	"github.com/roelfdiedericks/chatgate/internal/chat"
	"github.com/roelfdiedericks/chatgate/internal/config"
	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	. "github.com/roelfdiedericks/chatgate/internal/metrics"
	"github.com/roelfdiedericks/chatgate/internal/store"
	"github.com/roelfdiedericks/chatgate/internal/user"
)

// ModelCatalogue is the model list exposed to clients
type ModelCatalogue interface {
	Models() []llm.ModelSpec
	Lookup(id string) (llm.ModelSpec, bool)
	Available(id string) bool
}

// FileSigner issues presigned blob URLs
type FileSigner interface {
	ReadURL(ctx context.Context, key string) (string, error)
	UploadURL(ctx context.Context, fileName, fileSize, fileType string) (*blob.Upload, error)
}

// Deps are the collaborators the handlers use. Files may be nil when no
// bucket is configured; the file routes then answer 503.
type Deps struct {
	Users  *user.Registry
	Store  store.Store
	Chat   *chat.Service
	Models ModelCatalogue
	Files  FileSigner
}

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	deps        Deps
	rateLimiter *RateLimiter
	authDelay   time.Duration
	wg          sync.WaitGroup
}

// NewServer creates a new HTTP server instance
func NewServer(cfg config.HTTPConfig, deps Deps) (*Server, error) {
	if deps.Users == nil || !deps.Users.HasAuthUsers() {
		L_error("http: no users with credentials found")
		return nil, fmt.Errorf("HTTP server requires at least one user with a passwordHash (use 'chatgate hash-password')")
	}
	if deps.Store == nil || deps.Chat == nil || deps.Models == nil {
		return nil, fmt.Errorf("http: store, chat service and model catalogue are required")
	}

	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:3001"
	}
	authDelay := time.Duration(cfg.AuthFailureDelayMs) * time.Millisecond

	s := &Server{
		deps:        deps,
		rateLimiter: NewRateLimiter(10 * authDelay),
		authDelay:   authDelay,
	}

	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second, // 0 keeps SSE open
		IdleTimeout:  120 * time.Second,
	}
	L_debug("http: server created", "listen", listen, "users", len(deps.Users.List()), "files", deps.Files != nil)
	return s, nil
}

// Handler returns the routed handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// logging -> strip headers -> auth
	wrap := func(route string, h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(route, s.stripHeaders(s.basicAuth(h)))
	}

	mux.HandleFunc("POST /api/v1/chat", wrap("chat", s.handleChat))
	mux.HandleFunc("POST /api/v1/chat/create", wrap("chat_create", s.handleCreateChat))
	mux.HandleFunc("GET /api/v1/chat/{chatId}", wrap("chat_get", s.handleGetChat))
	mux.HandleFunc("DELETE /api/v1/chat/{chatId}", wrap("chat_delete", s.handleDeleteChat))
	mux.HandleFunc("GET /api/v1/chats", wrap("chats", s.handleListChats))
	mux.HandleFunc("DELETE /api/v1/message", wrap("message_delete", s.handleDeleteMessage))
	mux.HandleFunc("POST /api/v1/message/like", wrap("message_like", s.handleLikeMessage))
	mux.HandleFunc("POST /api/v1/files", wrap("files_upload", s.handleUploadURL))
	mux.HandleFunc("GET /api/v1/files", wrap("files_read", s.handleReadURL))
	mux.HandleFunc("GET /api/v1/models", wrap("models", s.handleModels))
	mux.HandleFunc("GET /api/v1/metrics", wrap("metrics", s.handleMetrics))

	mux.HandleFunc("GET /health", s.logRequest("health", s.handleHealth))

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", s.server.Addr)

		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest logs each request and records its timing under http/<route>
func (s *Server) logRequest(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		MetricSince("http", route, start)
		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}
