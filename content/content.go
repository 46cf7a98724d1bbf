// Package content models the dated, grouped content items that iterative
// tasks enrich, and the store contract they are read from and written to.
package content

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DateLayout is the layout of the date keys items are filed under.
const DateLayout = "2006-01-02"

// Item is one content entry. Metadata holds derived fields such as summary,
// score and tags.
type Item struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Body     string         `json:"body,omitempty"`
	Link     string         `json:"link,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Missing reports whether any of fields is absent from the item metadata.
func (it Item) Missing(fields []string) bool {
	for _, f := range fields {
		if _, ok := it.Metadata[f]; !ok {
			return true
		}
	}
	return false
}

// Clone copies the item with its own metadata map.
func (it Item) Clone() Item {
	meta := make(map[string]any, len(it.Metadata))
	for k, v := range it.Metadata {
		meta[k] = v
	}
	it.Metadata = meta
	return it
}

// Store reads and writes items by date and source group.
type Store interface {
	// Groups returns every group filed under date. An unknown date yields
	// an empty map.
	Groups(ctx context.Context, date string) (map[string][]Item, error)
	// SaveGroup replaces the items of one group.
	SaveGroup(ctx context.Context, date, group string, items []Item) error
}

// Window returns the most recent days dates ending at now, newest first.
func Window(now time.Time, days int) []string {
	if days <= 0 {
		return nil
	}
	dates := make([]string, days)
	for i := 0; i < days; i++ {
		dates[i] = now.AddDate(0, 0, -i).Format(DateLayout)
	}
	return dates
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	dates map[string]map[string][]Item
	saves int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dates: make(map[string]map[string][]Item)}
}

func (s *MemoryStore) Groups(_ context.Context, date string) (map[string][]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Item, len(s.dates[date]))
	for g, items := range s.dates[date] {
		out[g] = cloneItems(items)
	}
	return out, nil
}

func (s *MemoryStore) SaveGroup(_ context.Context, date, group string, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dates[date] == nil {
		s.dates[date] = make(map[string][]Item)
	}
	s.dates[date][group] = cloneItems(items)
	s.saves++
	return nil
}

// Saves returns how many SaveGroup calls the store has served.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// GroupNames lists the groups filed under date, sorted.
func (s *MemoryStore) GroupNames(date string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dates[date]))
	for g := range s.dates[date] {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
