package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/richinex/agentdock/internal/errs"
	"github.com/richinex/agentdock/storage"
)

type agentRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Instructions *string `json:"instructions"`
}

// loadAgent returns the path's agent when the caller owns it.
func (s *Server) loadAgent(r *http.Request) (storage.Agent, error) {
	a, err := s.store.GetAgent(r.Context(), userID(r), chi.URLParam(r, "agentID"))
	if err != nil {
		return storage.Agent{}, lookupError(err, errs.CodeAgentNotFound)
	}
	return a, nil
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	name := trimmed(req.Name)
	if name == "" {
		s.writeError(w, r, errs.New(errs.CodeInvalidRequest, "name is required"))
		return
	}

	a := storage.Agent{
		UserID:       userID(r),
		Name:         name,
		Description:  trimmed(req.Description),
		Instructions: trimmed(req.Instructions),
	}
	if err := s.store.CreateAgent(r.Context(), &a); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context(), userID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleUpdateAgent changes only the fields present and non-empty.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req agentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if v := trimmed(req.Name); v != "" {
		a.Name = v
	}
	if req.Description != nil {
		a.Description = trimmed(req.Description)
	}
	if req.Instructions != nil {
		a.Instructions = trimmed(req.Instructions)
	}
	if err := s.store.UpdateAgent(r.Context(), &a); err != nil {
		s.writeError(w, r, lookupError(err, errs.CodeAgentNotFound))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgent(r.Context(), userID(r), chi.URLParam(r, "agentID")); err != nil {
		s.writeError(w, r, lookupError(err, errs.CodeAgentNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
