package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/RichardoC/tablechat/internal/catalog"
	"github.com/RichardoC/tablechat/internal/llm"
	"github.com/RichardoC/tablechat/internal/models"
	"github.com/RichardoC/tablechat/internal/session"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const SessionCookie = "tablechat_session"

type Handler struct {
	sessions *session.Manager
	catalog  *catalog.Catalog
	agents   *llm.Factory
	logger   *zap.Logger
}

func NewHandler(sessions *session.Manager, cat *catalog.Catalog, agents *llm.Factory, logger *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		catalog:  cat,
		agents:   agents,
		logger:   logger,
	}
}

// Register mounts the API and the page on mux.
func (h *Handler) Register(mux *http.ServeMux, page http.Handler) {
	mux.HandleFunc("/api/conversations", h.Conversations)
	mux.HandleFunc("/api/conversations/select", h.SelectConversation)
	mux.HandleFunc("/api/conversations/new", h.NewChat)
	mux.HandleFunc("/api/conversations/update", h.UpdateConversation)
	mux.HandleFunc("/api/messages", h.GetMessages)
	mux.HandleFunc("/api/queries", h.GetQueries)
	mux.HandleFunc("/api/message", h.HandleMessage)
	mux.HandleFunc("/api/sources", h.GetSources)
	mux.Handle("/", page)
}

type MessageRequest struct {
	Content string `json:"content"`
}

type CreateConversationRequest struct {
	Title         string   `json:"title"`
	VectorStoreID string   `json:"vector_store_id"`
	DatabaseIDs   []string `json:"database_ids"`
}

type UpdateConversationRequest struct {
	VectorStoreID string   `json:"vector_store_id"`
	DatabaseIDs   []string `json:"database_ids"`
}

type SelectConversationRequest struct {
	Title string `json:"title"`
}

type ConversationSummary struct {
	Title         string    `json:"title"`
	VectorStoreID string    `json:"vector_store_id"`
	DatabaseIDs   []string  `json:"database_ids"`
	MessageCount  int       `json:"message_count"`
	LastUpdate    time.Time `json:"last_update"`
}

type ConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Current       string                `json:"current,omitempty"`
}

type SourcesResponse struct {
	VectorStores []models.VectorStoreProps `json:"vector_stores"`
	Databases    []string                  `json:"databases"`
}

// session resolves the caller's web session from its cookie, issuing a new
// cookie when there is none or it has expired.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	s, created := h.sessions.Get(id)
	if created || s.ID() != id {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    s.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// conversationTitle reads conversation_id from the query string, falling
// back to the selected conversation.
func conversationTitle(r *http.Request, s *session.Session) string {
	if title := strings.TrimSpace(r.URL.Query().Get("conversation_id")); title != "" {
		return title
	}
	return s.CurrentTitle()
}

func summarize(c models.Conversation) ConversationSummary {
	ids := c.DatabaseIDs
	if ids == nil {
		ids = []string{}
	}
	return ConversationSummary{
		Title:         c.Title,
		VectorStoreID: c.VectorStoreID,
		DatabaseIDs:   ids,
		MessageCount:  len(c.Messages),
		LastUpdate:    c.LastUpdate,
	}
}

// Conversations lists the sidebar on GET and handles the creation form on POST.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)

	switch r.Method {
	case http.MethodGet:
		convs := s.Conversations()
		resp := ConversationsResponse{
			Conversations: make([]ConversationSummary, 0, len(convs)),
			Current:       s.CurrentTitle(),
		}
		for _, c := range convs {
			resp.Conversations = append(resp.Conversations, summarize(c))
		}
		h.logger.Debug("Retrieved conversations",
			zap.Int("count", len(convs)),
			zap.String("session", s.ID()))
		h.writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var req CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.catalog.Validate(req.VectorStoreID, req.DatabaseIDs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		conv, err := s.CreateConversation(req.Title, req.VectorStoreID, req.DatabaseIDs)
		switch {
		case errors.Is(err, session.ErrDuplicateTitle):
			http.Error(w, "A conversation with this title already exists", http.StatusConflict)
			return
		case errors.Is(err, session.ErrEmptyTitle):
			http.Error(w, "Conversation title is required", http.StatusBadRequest)
			return
		case err != nil:
			h.logger.Error("Failed to create conversation", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		h.logger.Info("Created conversation",
			zap.String("session", s.ID()),
			zap.String("title", conv.Title),
			zap.Strings("databases", conv.DatabaseIDs))
		h.writeJSON(w, http.StatusCreated, summarize(conv))

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)

	var req SelectConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Select(req.Title); err != nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// NewChat clears the selection so the page shows the creation form.
func (h *Handler) NewChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.session(w, r).ClearSelection()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.catalog.Validate(req.VectorStoreID, req.DatabaseIDs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := s.UpdateSources(conversationTitle(r, s), req.VectorStoreID, req.DatabaseIDs)
	if err != nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, summarize(conv))
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)

	conv, ok := s.Conversation(conversationTitle(r, s))
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	msgs := conv.Messages
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) GetQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)

	conv, ok := s.Conversation(conversationTitle(r, s))
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	results := conv.QueryResults
	if results == nil {
		results = []models.QueryResult{}
	}
	h.writeJSON(w, http.StatusOK, results)
}

func (h *Handler) GetSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := SourcesResponse{
		VectorStores: []models.VectorStoreProps{},
		Databases:    h.catalog.DatabaseIDs(),
	}
	for _, id := range h.catalog.VectorStoreIDs() {
		props, _ := h.catalog.VectorStoreProps(id)
		resp.VectorStores = append(resp.VectorStores, props)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// HandleMessage appends the user's message, streams the agent's answer as
// server-sent events and appends the answer once it is complete.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)
	title := conversationTitle(r, s)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, ok := s.Conversation(title)
	if !ok {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	agent, err := h.agents.Get(ctx, s, title, conv.LastUpdate)
	if err != nil {
		h.logger.Error("Failed to create agent", zap.String("conversation", title), zap.Error(err))
		http.Error(w, "Failed to create agent: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := s.AppendMessage(title, models.RoleUser, req.Content); err != nil {
		h.logger.Error("Failed to save user message", zap.Error(err))
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}

	stream := newEventStream(w)
	ctx = llm.WithQueryObserver(ctx, func(q models.QueryResult) {
		stream.sendJSON("query", q)
	})

	answer, err := agent.StreamChat(ctx, conv.Messages, req.Content, func(_ context.Context, chunk []byte) error {
		return stream.send("token", string(chunk))
	})

	if err != nil {
		h.logger.Error("Failed to process message", zap.String("conversation", title), zap.Error(err))
		stream.send("error", "Failed to process message: "+err.Error())
		return
	}
	if strings.TrimSpace(answer) == "" {
		stream.send("error", "The agent returned an empty answer")
		return
	}

	msg, err := s.AppendMessage(title, models.RoleAssistant, answer)
	if err != nil {
		h.logger.Error("Failed to save assistant message", zap.Error(err))
		stream.send("error", "Failed to save message")
		return
	}
	stream.sendJSON("done", msg)
}
