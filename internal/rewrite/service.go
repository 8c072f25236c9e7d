package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/batch-rewriter/internal/llm"
	"github.com/MimeLyc/batch-rewriter/pkg/log"
)

var ErrInvalidInput = errors.New("invalid rewrite input")

// HistoryEntry is one saved rewrite of a content item.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	ContentItemID int64     `json:"content_item_id"`
	Actor         string    `json:"actor"`
	Provider      string    `json:"provider"`
	Style         string    `json:"style"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryStore appends and lists history entries.
type HistoryStore interface {
	AddHistory(ctx context.Context, entry HistoryEntry) (int64, error)
	// ListHistory returns entries newest first.
	ListHistory(ctx context.Context, contentItemID int64) ([]HistoryEntry, error)
}

// Gateway is the provider gateway as seen by the service.
type Gateway interface {
	Has(provider string) bool
	Rewrite(ctx context.Context, provider, content, style string) (string, error)
}

// HistorySwitch reports whether history should be saved; read per call.
type HistorySwitch interface {
	HistoryEnabled() bool
}

type staticSwitch bool

func (s staticSwitch) HistoryEnabled() bool { return bool(s) }

type Option func(*Service)

// WithHistorySwitch replaces the default (always enabled).
func WithHistorySwitch(sw HistorySwitch) Option {
	return func(s *Service) {
		if sw != nil {
			s.historySwitch = sw
		}
	}
}

// WithHistoryEnabled fixes the history toggle.
func WithHistoryEnabled(enabled bool) Option {
	return WithHistorySwitch(staticSwitch(enabled))
}

// Service rewrites content through the gateway and records history.
type Service struct {
	gateway       Gateway
	history       HistoryStore
	historySwitch HistorySwitch
}

func NewService(gateway Gateway, history HistoryStore, opts ...Option) *Service {
	s := &Service{
		gateway:       gateway,
		history:       history,
		historySwitch: staticSwitch(true),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RewriteContent rewrites text with provider and style. Unregistered
// providers fail with llm.KindInvalidProvider without reaching the gateway.
func (s *Service) RewriteContent(ctx context.Context, text, provider, style string) (string, error) {
	if !s.gateway.Has(provider) {
		return "", llm.ErrInvalidProvider(provider)
	}
	return s.gateway.Rewrite(ctx, provider, text, style)
}

// SaveHistory stores text as the latest rewrite of contentItemID and reports
// whether it was saved. It never fails: disabled history, an unresolvable
// item and store errors all report false.
func (s *Service) SaveHistory(ctx context.Context, contentItemID int64, provider, style, text string) (int64, bool) {
	if s.history == nil || !s.historySwitch.HistoryEnabled() {
		return 0, false
	}
	if contentItemID <= 0 {
		active, ok := activeItemFromContext(ctx)
		if !ok {
			log.Debug("history skipped: no content item for %s rewrite", provider)
			return 0, false
		}
		contentItemID = active
	}

	id, err := s.history.AddHistory(ctx, HistoryEntry{
		ContentItemID: contentItemID,
		Actor:         ActorFromContext(ctx),
		Provider:      provider,
		Style:         style,
		Content:       text,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Error("Failed to save history for item %d: %v", contentItemID, err)
		return 0, false
	}
	return id, true
}

// History lists saved rewrites of contentItemID, newest first.
func (s *Service) History(ctx context.Context, contentItemID int64) ([]HistoryEntry, error) {
	if contentItemID <= 0 {
		return nil, fmt.Errorf("%w: item id is required", ErrInvalidInput)
	}
	if s.history == nil {
		return []HistoryEntry{}, nil
	}
	entries, err := s.history.ListHistory(ctx, contentItemID)
	if err != nil {
		return nil, fmt.Errorf("list history for item %d: %w", contentItemID, err)
	}
	return entries, nil
}

// ItemRequest is a single, non-batch rewrite.
type ItemRequest struct {
	ItemID   int64
	Content  string
	Provider string
	Style    string
}

// RewriteItem rewrites req.Content and saves the result to the item history.
func (s *Service) RewriteItem(ctx context.Context, req ItemRequest) (string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Provider) == "" {
		return "", fmt.Errorf("%w: provider is required", ErrInvalidInput)
	}

	ctx = WithActiveItem(ctx, req.ItemID)
	text, err := s.RewriteContent(ctx, req.Content, req.Provider, req.Style)
	if err != nil {
		return "", err
	}
	s.SaveHistory(ctx, req.ItemID, req.Provider, req.Style, text)
	return text, nil
}
