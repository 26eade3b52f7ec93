package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tkingovr/agent-governor/api"
	"github.com/tkingovr/agent-governor/internal/admin"
	"github.com/tkingovr/agent-governor/internal/approval"
	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

const maxBodyBytes = 1 << 20

// requestError is a client error with optional schema violations.
type requestError struct {
	status  int
	msg     string
	details []string
}

func (e *requestError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeJSON(w, reqErr.status, api.ErrorResponse{Error: reqErr.msg, Details: reqErr.details})
	case errors.Is(err, admin.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
	case errors.Is(err, toolpolicy.ErrNotFound),
		errors.Is(err, outputguard.ErrNotFound),
		errors.Is(err, approval.ErrNotFound):
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: err.Error()})
	case errors.Is(err, approval.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, api.ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
	}
}

// decodeBody validates the request body against schema and decodes it
// into v. An empty body is accepted when optional is set.
func decodeBody(r *http.Request, schema string, v any, optional bool) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return &requestError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
	}
	if strings.TrimSpace(string(body)) == "" {
		if optional {
			return nil
		}
		return &requestError{status: http.StatusBadRequest, msg: "request body is required"}
	}
	if !json.Valid(body) {
		return &requestError{status: http.StatusBadRequest, msg: "request body is not valid JSON"}
	}

	violations, err := validateBody(schema, body)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		return &requestError{status: http.StatusBadRequest, msg: "request body failed validation", details: violations}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &requestError{status: http.StatusBadRequest, msg: "invalid request body: " + err.Error()}
	}
	return nil
}

// actor returns the caller named in the X-Actor header.
func actor(r *http.Request) (string, error) {
	a := strings.TrimSpace(r.Header.Get(ActorHeader))
	if a == "" {
		return "", &requestError{status: http.StatusBadRequest, msg: ActorHeader + " header is required"}
	}
	return a, nil
}
