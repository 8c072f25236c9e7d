package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/jobs"
	"github.com/MimeLyc/batch-rewriter/internal/llm"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
)

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrNoValidItems),
		errors.Is(err, rewrite.ErrInvalidInput),
		llm.IsKind(err, llm.KindInvalidProvider):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

// writeErr maps err to a status and writes it. Gateway errors expose their
// user-facing message and code.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Message: err.Error()}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		resp.Message = llmErr.Message
		resp.Code = llmErr.Code
	}
	if status == http.StatusInternalServerError {
		log.Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, resp)
}
