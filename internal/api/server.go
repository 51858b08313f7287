// Package api implements the Home Mind HTTP API.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hoornet/home-mind/internal/buildinfo"
	"github.com/hoornet/home-mind/internal/chat"
	"github.com/hoornet/home-mind/internal/memory"
)

// ChatEngine runs one chat exchange. *chat.Engine satisfies it.
type ChatEngine interface {
	Chat(ctx context.Context, req chat.Request, onChunk func(chunk string)) (*chat.Response, error)
}

// Pinger verifies the Home Assistant connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthChecker is implemented by stores with a remote backend.
type healthChecker interface {
	Healthy(ctx context.Context) bool
}

// writeJSON encodes v to w. Errors usually mean the client went away.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	token         string
	engine        ChatEngine
	facts         memory.FactStore
	conversations memory.ConversationStore
	ha            Pinger
	logger        *slog.Logger
	server        *http.Server
}

// NewServer creates the API server.
func NewServer(address string, port int, token string, engine ChatEngine, facts memory.FactStore, conversations memory.ConversationStore, ha Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:       address,
		port:          port,
		token:         token,
		engine:        engine,
		facts:         facts,
		conversations: conversations,
		ha:            ha,
		logger:        logger.With("component", "api"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /api/memory/{userId}", s.handleMemoryList)
	mux.HandleFunc("POST /api/memory/{userId}", s.handleMemoryAdd)
	mux.HandleFunc("DELETE /api/memory/{userId}", s.handleMemoryClear)
	mux.HandleFunc("DELETE /api/memory/{userId}/{factId}", s.handleMemoryDelete)

	mux.HandleFunc("GET /api/conversations/{userId}", s.handleConversationList)
	mux.HandleFunc("GET /api/conversations/{userId}/{conversationId}", s.handleConversationGet)
	mux.HandleFunc("DELETE /api/conversations/{userId}/{conversationId}", s.handleConversationDelete)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(s.withAuth(mux))
}

// Start begins serving HTTP requests. Blocks until shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // streaming exchanges can run long
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withAuth enforces the bearer token on every route except health,
// which load balancers probe unauthenticated.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" || r.URL.Path == "/api/health" || r.URL.Path == "/" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "Home Mind",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	haOK := s.ha.Ping(ctx) == nil

	memoryOK := true
	if hc, ok := s.facts.(healthChecker); ok {
		memoryOK = hc.Healthy(ctx)
	}

	status := "healthy"
	code := http.StatusOK
	if !haOK || !memoryOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"status":        status,
		"homeassistant": haOK,
		"memory":        memoryOK,
	}, s.logger)
}

// decodeChatRequest parses and validates the shared chat payload.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	if req.UserID == "" {
		s.errorResponse(w, http.StatusBadRequest, "user_id is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.engine.Chat(r.Context(), req, nil)
	if err != nil {
		s.logger.Error("chat failed", "user_id", req.UserID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "chat error: "+err.Error())
		return
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	resp, err := s.engine.Chat(r.Context(), req, func(chunk string) {
		s.writeSSE(w, "chunk", map[string]string{"text": chunk})
		flusher.Flush()
	})
	if err != nil {
		s.logger.Error("chat stream failed", "user_id", req.UserID, "error", err)
		s.writeSSE(w, "error", map[string]string{"error": err.Error()})
		flusher.Flush()
		return
	}

	s.writeSSE(w, "done", resp)
	flusher.Flush()
}

func (s *Server) writeSSE(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Debug("failed to marshal SSE payload", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	facts, err := s.facts.GetFacts(r.Context(), userID)
	if err != nil {
		s.logger.Error("fact listing failed", "user_id", userID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load facts")
		return
	}
	if facts == nil {
		facts = []memory.Fact{}
	}
	writeJSON(w, map[string]any{"facts": facts, "count": len(facts)}, s.logger)
}

func (s *Server) handleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	var body struct {
		Content    string  `json:"content"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Content == "" {
		s.errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}
	if !memory.ValidCategory(body.Category) {
		s.errorResponse(w, http.StatusBadRequest, "invalid category: "+body.Category)
		return
	}
	if body.Confidence <= 0 {
		body.Confidence = 0.8
	}

	id, err := s.facts.AddFact(r.Context(), userID, body.Content, memory.Category(body.Category), body.Confidence)
	if err != nil {
		s.logger.Error("fact add failed", "user_id", userID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to store fact")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]string{"id": id}, s.logger)
}

func (s *Server) handleMemoryClear(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	deleted, err := s.facts.ClearUserFacts(r.Context(), userID)
	if err != nil {
		s.logger.Error("memory clear failed", "user_id", userID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to clear facts")
		return
	}
	writeJSON(w, map[string]int{"deleted": deleted}, s.logger)
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	factID := r.PathValue("factId")

	ok, err := s.facts.DeleteFact(r.Context(), userID, factID)
	if err != nil {
		s.logger.Error("fact delete failed", "fact_id", factID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete fact")
		return
	}
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "fact not found")
		return
	}
	writeJSON(w, map[string]bool{"deleted": true}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	summaries, err := s.conversations.ListConversations(userID)
	if err != nil {
		s.logger.Error("conversation listing failed", "user_id", userID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if summaries == nil {
		summaries = []memory.ConversationSummary{}
	}
	writeJSON(w, map[string]any{"conversations": summaries}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")

	messages, err := s.conversations.History(conversationID, 0)
	if err != nil {
		s.logger.Error("history load failed", "conversation_id", conversationID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if messages == nil {
		messages = []memory.ConversationMessage{}
	}
	writeJSON(w, map[string]any{"messages": messages}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")

	deleted, err := s.conversations.DeleteConversation(conversationID)
	if err != nil {
		s.logger.Error("conversation delete failed", "conversation_id", conversationID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	writeJSON(w, map[string]int{"deleted": deleted}, s.logger)
}
