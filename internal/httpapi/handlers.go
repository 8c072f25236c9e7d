package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/batch-rewriter/internal/jobs"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
)

type submitJobRequest struct {
	ItemIDs  []int64 `json:"item_ids"`
	Provider string  `json:"provider"`
	Style    string  `json:"style"`
}

type submitJobResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
	Total  int         `json:"total"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	provider, style := s.defaults(req.Provider, req.Style)

	job, err := s.manager.Submit(r.Context(), jobs.SubmitRequest{
		Owner:    rewrite.ActorFromContext(r.Context()),
		Provider: provider,
		Style:    style,
		ItemIDs:  req.ItemIDs,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitJobResponse{
		JobID:  job.ID,
		Status: job.Status,
		Total:  job.Total,
	})
}

// defaults fills an empty provider or style from the runtime settings.
func (s *Server) defaults(provider, style string) (string, string) {
	provider = strings.TrimSpace(provider)
	style = strings.TrimSpace(style)
	if (provider == "" || style == "") && s.settings != nil {
		if current, err := s.settings.GetRuntimeSettings(); err == nil {
			if provider == "" {
				provider = current.DefaultProvider
			}
			if style == "" {
				style = current.DefaultStyle
			}
		}
	}
	return provider, style
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	views, err := s.query.ListJobs(r.Context(), limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleJobsStatus(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0)
	for _, raw := range r.URL.Query()["ids"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	snaps, err := s.query.ListJobsStatus(r.Context(), ids)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.query.GetJobDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.manager.Cancel(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":          id,
		"status":          jobs.StatusCancelled,
		"cancelled_items": n,
	})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
