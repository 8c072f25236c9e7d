package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MimeLyc/batch-rewriter/internal/content"
	"github.com/MimeLyc/batch-rewriter/internal/rewrite"
)

type rewriteRequest struct {
	ItemID   int64  `json:"item_id"`
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Style    string `json:"style"`
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var req rewriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	provider, style := s.defaults(req.Provider, req.Style)

	text, err := s.rewriter.RewriteItem(r.Context(), rewrite.ItemRequest{
		ItemID:   req.ItemID,
		Content:  req.Content,
		Provider: provider,
		Style:    style,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": text})
}

type historyResponse struct {
	ID       int64     `json:"id"`
	Provider string    `json:"provider"`
	Style    string    `json:"style"`
	Content  string    `json:"content"`
	Date     time.Time `json:"date"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parseID(w, chi.URLParam(r, "itemID"))
	if !ok {
		return
	}
	entries, err := s.rewriter.History(r.Context(), itemID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ret := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		ret = append(ret, historyResponse{
			ID:       e.ID,
			Provider: e.Provider,
			Style:    e.Style,
			Content:  e.Content,
			Date:     e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		writeError(w, http.StatusNotImplemented, "content store is not configured")
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	item, err := s.content.GetItem(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type putItemRequest struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

func (s *Server) handlePutItem(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		writeError(w, http.StatusNotImplemented, "content store is not configured")
		return
	}
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req putItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Status == "" {
		req.Status = content.StatusPublish
	}
	item, err := s.content.UpsertItem(r.Context(), content.Item{
		ID:     id,
		Title:  req.Title,
		Body:   req.Body,
		Status: req.Status,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
