package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"codescout/internal/agent"
	"codescout/internal/llm"
	"codescout/internal/search"
	"codescout/internal/suggest"
	"codescout/internal/taskgraph"
)

type retrieveResponse struct {
	ID     string   `json:"id"`
	Query  string   `json:"query"`
	Answer string   `json:"answer"`
	Paths  []string `json:"paths"`
}

func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRetrieve drives one agent exchange end-to-end.
func (a *app) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	repoName := r.URL.Query().Get("repo_name")
	if query == "" || repoName == "" {
		respondError(w, http.StatusBadRequest, errors.New("query and repo_name are required"))
		return
	}

	parsed, err := search.ParseQuery(query)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if parsed.Target == "" {
		respondError(w, http.StatusBadRequest, errors.New("query has no searchable text"))
		return
	}

	id := uuid.New()
	ag := &agent.Agent{
		Gateway:   a.gateway,
		Search:    a.semantic,
		Ingestion: a.ingestion,
		RepoName:  repoName,
		MaxSteps:  a.cfg.Agent.MaxSteps,
		Langs:     parsed.Langs,
		Exchange:  agent.NewExchange(id, parsed.Target),
	}

	if err := ag.Run(r.Context()); err != nil {
		log.Error().Err(err).Str("query", query).Msg("retrieve_failed")
		respondError(w, statusFromError(err), err)
		return
	}

	respondJSON(w, http.StatusOK, retrieveResponse{
		ID:     id.String(),
		Query:  query,
		Answer: ag.Exchange.Answer,
		Paths:  ag.Exchange.PathsSeen,
	})
}

func (a *app) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.UserQuery == "" || req.RepoName == "" {
		respondError(w, http.StatusBadRequest, errors.New("user_query and repo_name are required"))
		return
	}

	resp, err := a.controller.Handle(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", req.ID).Msg("suggest_failed")
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFromError(err error) int {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, search.ErrNonSemanticQuery):
		return http.StatusBadRequest
	case errors.Is(err, taskgraph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, suggest.ErrInvalidState),
		errors.Is(err, taskgraph.ErrInvariant),
		errors.Is(err, taskgraph.ErrVersionMismatch):
		return http.StatusConflict
	case errors.As(err, &apiErr), errors.Is(err, llm.ErrBadCompletion):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
