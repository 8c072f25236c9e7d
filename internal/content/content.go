package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// StatusPublish is the only status whose items may be rewritten.
const StatusPublish = "publish"

var ErrNotFound = errors.New("content item not found")

// Item is a rewritable unit of content.
type Item struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *Item) Publishable() bool {
	return i != nil && i.Status == StatusPublish
}

// Store is the content backend the rewrite pipeline reads from and writes to.
type Store interface {
	// GetItem returns ErrNotFound for unknown ids.
	GetItem(ctx context.Context, id int64) (*Item, error)
	// GetItems returns the items that exist, keyed by id.
	GetItems(ctx context.Context, ids []int64) (map[int64]*Item, error)
	UpdateBody(ctx context.Context, id int64, body string) error
	UpsertItem(ctx context.Context, item Item) (*Item, error)
}

// FilterPublishable keeps the ids that exist and are publishable, in their
// first-seen order and without duplicates.
func FilterPublishable(ctx context.Context, store Store, ids []int64) ([]int64, error) {
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	items, err := store.GetItems(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("load content items: %w", err)
	}
	out := make([]int64, 0, len(unique))
	for _, id := range unique {
		if items[id].Publishable() {
			out = append(out, id)
		}
	}
	return out, nil
}

// Links builds edit and view URLs for content items.
type Links struct {
	SiteURL string
}

func (l Links) base() string {
	return strings.TrimRight(l.SiteURL, "/")
}

func (l Links) Edit(id int64) string {
	return fmt.Sprintf("%s/items/%d/edit", l.base(), id)
}

func (l Links) View(id int64) string {
	return fmt.Sprintf("%s/items/%d", l.base(), id)
}
