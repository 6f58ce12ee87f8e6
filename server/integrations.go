package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/richinex/agentdock/internal/errs"
	"github.com/richinex/agentdock/mcp"
	"github.com/richinex/agentdock/openapi"
	"github.com/richinex/agentdock/storage"
	"github.com/richinex/agentdock/tools"
)

type openAPIRequest struct {
	Name      *string `json:"name"`
	SchemaURL *string `json:"schema_url"`
	APIURL    *string `json:"api_url"`
}

type mcpRequest struct {
	Name      *string `json:"name"`
	Transport *string `json:"transport"`
	URL       *string `json:"url"`
}

// loadTools fetches and translates a schema. Any failure is the caller's
// configuration error.
func (s *Server) loadTools(r *http.Request, schemaURL string) ([]tools.Descriptor, error) {
	descriptors, err := openapi.Load(r.Context(), s.httpClient, schemaURL)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidRequest, err, "failed to load OpenAPI schema: "+err.Error())
	}
	return descriptors, nil
}

func (s *Server) handleCreateOpenAPI(w http.ResponseWriter, r *http.Request) {
	var req openAPIRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	name, schemaURL, apiURL := trimmed(req.Name), trimmed(req.SchemaURL), trimmed(req.APIURL)
	if err := required(map[string]*string{"name": &name, "schema_url": &schemaURL, "api_url": &apiURL}); err != nil {
		s.writeError(w, r, err)
		return
	}

	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	descriptors, err := s.loadTools(r, schemaURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	api := storage.OpenAPIIntegration{
		AgentID:   a.ID,
		Name:      name,
		SchemaURL: schemaURL,
		APIURL:    apiURL,
		Tools:     descriptors,
	}
	if err := s.store.CreateOpenAPI(r.Context(), &api); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api)
}

func (s *Server) handleListOpenAPIs(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	apis, err := s.store.ListOpenAPIs(r.Context(), a.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apis)
}

func (s *Server) loadOpenAPI(r *http.Request) (storage.OpenAPIIntegration, error) {
	a, err := s.loadAgent(r)
	if err != nil {
		return storage.OpenAPIIntegration{}, err
	}
	api, err := s.store.GetOpenAPI(r.Context(), a.ID, chi.URLParam(r, "openapiID"))
	if err != nil {
		return storage.OpenAPIIntegration{}, lookupError(err, errs.CodeOpenAPINotFound)
	}
	return api, nil
}

func (s *Server) handleGetOpenAPI(w http.ResponseWriter, r *http.Request) {
	api, err := s.loadOpenAPI(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api)
}

// handleUpdateOpenAPI re-fetches the schema only when a new URL is given.
func (s *Server) handleUpdateOpenAPI(w http.ResponseWriter, r *http.Request) {
	api, err := s.loadOpenAPI(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req openAPIRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if v := trimmed(req.SchemaURL); v != "" {
		descriptors, err := s.loadTools(r, v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		api.SchemaURL = v
		api.Tools = descriptors
	}
	if v := trimmed(req.Name); v != "" {
		api.Name = v
	}
	if v := trimmed(req.APIURL); v != "" {
		api.APIURL = v
	}
	if err := s.store.UpdateOpenAPI(r.Context(), &api); err != nil {
		s.writeError(w, r, lookupError(err, errs.CodeOpenAPINotFound))
		return
	}
	writeJSON(w, http.StatusOK, api)
}

func (s *Server) handleDeleteOpenAPI(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteOpenAPI(r.Context(), a.ID, chi.URLParam(r, "openapiID")); err != nil {
		s.writeError(w, r, lookupError(err, errs.CodeOpenAPINotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func transportError(err error) error {
	return errs.Wrap(errs.CodeInvalidRequest, err, err.Error())
}

func (s *Server) handleCreateMCP(w http.ResponseWriter, r *http.Request) {
	var req mcpRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	name, transport, url := trimmed(req.Name), trimmed(req.Transport), trimmed(req.URL)
	if err := required(map[string]*string{"name": &name, "transport": &transport, "url": &url}); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := mcp.ValidateTransport(transport); err != nil {
		s.writeError(w, r, transportError(err))
		return
	}

	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	server := storage.MCPIntegration{AgentID: a.ID, Name: name, Transport: transport, URL: url}
	if err := s.store.CreateMCP(r.Context(), &server); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, server)
}

func (s *Server) handleListMCPs(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	servers, err := s.store.ListMCPs(r.Context(), a.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) loadMCP(r *http.Request) (storage.MCPIntegration, error) {
	a, err := s.loadAgent(r)
	if err != nil {
		return storage.MCPIntegration{}, err
	}
	server, err := s.store.GetMCP(r.Context(), a.ID, chi.URLParam(r, "mcpID"))
	if err != nil {
		return storage.MCPIntegration{}, lookupError(err, errs.CodeMCPNotFound)
	}
	return server, nil
}

func (s *Server) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	server, err := s.loadMCP(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (s *Server) handleUpdateMCP(w http.ResponseWriter, r *http.Request) {
	server, err := s.loadMCP(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req mcpRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if v := trimmed(req.Transport); v != "" {
		if err := mcp.ValidateTransport(v); err != nil {
			s.writeError(w, r, transportError(err))
			return
		}
		server.Transport = v
	}
	if v := trimmed(req.Name); v != "" {
		server.Name = v
	}
	if v := trimmed(req.URL); v != "" {
		server.URL = v
	}
	if err := s.store.UpdateMCP(r.Context(), &server); err != nil {
		s.writeError(w, r, lookupError(err, errs.CodeMCPNotFound))
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (s *Server) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.DeleteMCP(r.Context(), a.ID, chi.URLParam(r, "mcpID")); err != nil {
		s.writeError(w, r, lookupError(err, errs.CodeMCPNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
