package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/richinex/agentdock/internal/errs"
	"github.com/richinex/agentdock/retrieval"
)

// UploadField is the multipart field holding the document.
const UploadField = "file"

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.store.ListDocuments(r.Context(), a.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleUploadDocument ingests one multipart file. Unsupported types are
// rejected before anything is extracted or embedded.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile(UploadField)
	if err != nil {
		s.writeError(w, r, errs.Wrap(errs.CodeInvalidRequest, err, "a multipart field named \"file\" is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, errs.Wrap(errs.CodeInvalidRequest, err, "failed to read upload"))
		return
	}

	doc, err := s.documents.Ingest(r.Context(), retrieval.IngestRequest{
		AgentID:     a.ID,
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrUnsupportedType) {
			s.writeError(w, r, errs.Wrap(errs.CodeInvalidRequest, err, "unsupported document type: only plain text and PDF are accepted"))
			return
		}
		if errors.Is(err, retrieval.ErrUnreadable) {
			s.writeError(w, r, errs.Wrap(errs.CodeInvalidRequest, err, "document could not be read"))
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	a, err := s.loadAgent(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.documents.Delete(r.Context(), a.ID, chi.URLParam(r, "documentID")); err != nil {
		s.writeError(w, r, lookupError(err, errs.CodeDocumentNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
