package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/richinex/agentdock/internal/errs"
	"github.com/richinex/agentdock/storage"
)

var errNotFound = errs.New(errs.CodeNotFound, "")

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError sends the coded error body. Causes of internal errors are
// logged, never sent.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errs.From(err)
	if e.Status() >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, e.Status(), errorBody{Error: errorDetail{Code: e.Code(), Message: e.Message()}})
}

// lookupError maps storage.ErrNotFound to code and anything else to internal.
func lookupError(err error, code errs.Code) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errs.Wrap(code, err, "")
	}
	return errs.Wrap(errs.CodeInternal, err, "")
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.CodeInvalidRequest, err, fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// required trims each value and fails when any is empty.
func required(fields map[string]*string) error {
	var missing []string
	for name, v := range fields {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errs.New(errs.CodeInvalidRequest, "missing required field(s): "+strings.Join(missing, ", "))
	}
	return nil
}

// trimmed returns the trimmed value of an optional field, or "" when unset.
func trimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
