package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bdobrica/kioku/common/trace"
	"github.com/bdobrica/kioku/internal/kioku/memory"
	"github.com/bdobrica/kioku/internal/kioku/observability"
	"github.com/bdobrica/kioku/internal/kioku/retrieval"
	"github.com/bdobrica/kioku/internal/kioku/store"
)

var (
	errEmptyBody         = errors.New("empty body")
	errRetrievalDisabled = errors.New("retrieval is not enabled")
)

type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	TraceID string   `json:"trace_id,omitempty"`
	Details []string `json:"details,omitempty"`
}

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(trace.Middleware)
	r.Use(a.recoverer)

	r.Get("/health", a.handleHealth)
	r.Get("/status", a.handleStatus)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.limitBody)
		r.Use(a.timeout)

		r.Post("/conversations", a.handleCreateConversation)
		r.Get("/conversations/{id}", a.handleGetConversation)
		r.Delete("/conversations/{id}", a.handleDeleteConversation)
		r.Get("/conversations/{id}/messages", a.handleListMessages)
		r.Post("/conversations/{id}/turns", a.handleTurn)

		r.Post("/prepare", a.handlePrepare)
		r.Post("/enrich", a.handleEnrich)
		r.Post("/documents", a.handleAddDocument)
		r.Post("/search", a.handleSearch)
	})
	return r
}

func (a *App) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				observability.WithTrace(r.Context(), a.logger).Error("panic in handler",
					"path", r.URL.Path, "panic", v)
				respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *App) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) timeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type createConversationRequest struct {
	ID string `json:"id"`
}

func (a *App) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conv, err := a.CreateConversation(r.Context(), strings.TrimSpace(req.ID))
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

type conversationResponse struct {
	*store.Conversation
	State memory.MemoryState `json:"state"`
}

func (a *App) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := a.store.GetConversation(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	state, err := a.store.LoadState(r.Context(), id)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	if state.RecentMessages == nil {
		state.RecentMessages = []memory.Message{}
	}
	respondJSON(w, http.StatusOK, conversationResponse{Conversation: conv, State: state})
}

func (a *App) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	unlock := a.locks.Lock(id)
	defer unlock()
	if err := a.store.DeleteConversation(r.Context(), id); err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleListMessages(w http.ResponseWriter, r *http.Request) {
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, r, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return
		}
		offset = n
	}
	msgs, err := a.store.Messages(r.Context(), chi.URLParam(r, "id"), offset)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"offset": offset, "messages": msgs})
}

func (a *App) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if msg := validateMessages(req.Messages); msg != "" {
		respondError(w, r, http.StatusBadRequest, "invalid_message", msg)
		return
	}
	resp, err := a.Turn(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *App) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if msg := validateMessages(req.History); msg != "" {
		respondError(w, r, http.StatusBadRequest, "invalid_message", msg)
		return
	}
	resp, err := a.Prepare(r.Context(), req)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type enrichRequest struct {
	Question        string                      `json:"question"`
	Summary         *memory.ConversationSummary `json:"summary"`
	RecentMessages  []memory.Message            `json:"recent_messages"`
	MaxSummaryChars int                         `json:"max_summary_chars"`
}

func (a *App) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, r, http.StatusBadRequest, "missing_question", "question is required")
		return
	}
	if msg := validateMessages(req.RecentMessages); msg != "" {
		respondError(w, r, http.StatusBadRequest, "invalid_message", msg)
		return
	}
	query := a.enricher.Enrich(req.Question, req.Summary, req.RecentMessages, req.MaxSummaryChars)
	respondJSON(w, http.StatusOK, map[string]string{"query": query})
}

func (a *App) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	if a.index == nil {
		respondError(w, r, http.StatusNotImplemented, "retrieval_disabled", errRetrievalDisabled.Error())
		return
	}
	var doc retrieval.Document
	if err := decodeJSON(r, &doc); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(doc.Content) == "" {
		respondError(w, r, http.StatusBadRequest, "missing_content", "content is required")
		return
	}
	id, err := a.index.Add(r.Context(), doc)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	docs, err := a.search(r.Context(), "", req.Query, req.TopK)
	if err != nil {
		a.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// validateMessages only admits user and assistant turns; system blocks are
// generated from the summary and never enter history.
func validateMessages(msgs []memory.Message) string {
	for i, m := range msgs {
		switch m.Role {
		case memory.RoleUser, memory.RoleAssistant:
		default:
			return "message " + strconv.Itoa(i) + " has unknown role " + strconv.Quote(string(m.Role))
		}
	}
	return ""
}

// respondServiceError maps domain errors to HTTP statuses.
func (a *App) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr *memory.ConfigurationError
		sumErr *memory.SummarizationError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrExists):
		respondError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, errRetrievalDisabled):
		respondError(w, r, http.StatusNotImplemented, "retrieval_disabled", err.Error())
	case errors.As(err, &cfgErr):
		respondJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid configuration", Code: "invalid_configuration",
			TraceID: trace.FromContext(r.Context()), Details: cfgErr.Problems,
		})
	case errors.As(err, &sumErr):
		respondError(w, r, http.StatusBadGateway, "summarization_failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		observability.WithTrace(r.Context(), a.logger).Error("request failed", "path", r.URL.Path, "err", err)
		respondError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code, TraceID: trace.FromContext(r.Context())})
}
