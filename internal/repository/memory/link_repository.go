package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"shortlink/internal/domain"
	"shortlink/internal/repository"

	"github.com/google/uuid"
)

// linkRepository keeps links in a map guarded by a single mutex.
// Used for local runs (DB_DRIVER=memory) and behavioural tests.
type linkRepository struct {
	mu    sync.RWMutex
	links map[string]*entry
	seq   uint64
}

type entry struct {
	link *domain.Link
	seq  uint64 // insertion order, breaks created_at ties
}

// NewLinkRepository creates an empty in-memory store.
func NewLinkRepository() repository.LinkRepository {
	return &linkRepository{links: make(map[string]*entry)}
}

func (r *linkRepository) Create(_ context.Context, link *domain.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.links[link.ShortCode]; ok {
		return domain.ErrCodeConflict
	}

	now := time.Now().UTC()
	link.ID = uuid.NewString()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = link.CreatedAt

	r.seq++
	r.links[link.ShortCode] = &entry{link: copyLink(link), seq: r.seq}
	return nil
}

func (r *linkRepository) GetByShortCode(_ context.Context, shortCode string) (*domain.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.links[shortCode]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyLink(e.link), nil
}

func (r *linkRepository) ExistsShortCode(_ context.Context, shortCode string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.links[shortCode]
	return ok, nil
}

func (r *linkRepository) IncrementClicks(_ context.Context, shortCode string, at time.Time) (*domain.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.links[shortCode]
	if !ok {
		return nil, domain.ErrNotFound
	}

	clickedAt := at.UTC()
	e.link.Clicks++
	e.link.LastClicked = &clickedAt
	e.link.UpdatedAt = clickedAt

	return copyLink(e.link), nil
}

func (r *linkRepository) DeleteByShortCode(_ context.Context, shortCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.links[shortCode]; !ok {
		return domain.ErrNotFound
	}
	delete(r.links, shortCode)
	return nil
}

func (r *linkRepository) List(_ context.Context, filter domain.ListFilter) ([]*domain.Link, error) {
	r.mu.RLock()
	matched := make([]*entry, 0, len(r.links))
	for _, e := range r.links {
		if filter.Matches(e.link) {
			matched = append(matched, &entry{link: copyLink(e.link), seq: e.seq})
		}
	}
	r.mu.RUnlock()

	less := lessFunc(filter.Sort)
	desc := filter.Order != domain.OrderAsc
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return less(matched[j], matched[i])
		}
		return less(matched[i], matched[j])
	})

	links := make([]*domain.Link, len(matched))
	for i, e := range matched {
		links[i] = e.link
	}
	return links, nil
}

func (r *linkRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.links)), nil
}

func (r *linkRepository) SumClicks(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, e := range r.links {
		total += e.link.Clicks
	}
	return total, nil
}

// lessFunc orders entries ascending by field; insertion order breaks ties.
func lessFunc(field domain.SortField) func(a, b *entry) bool {
	return func(a, b *entry) bool {
		switch field {
		case domain.SortByClicks:
			if a.link.Clicks != b.link.Clicks {
				return a.link.Clicks < b.link.Clicks
			}
		case domain.SortByName:
			an, bn := strings.ToLower(a.link.ShortCode), strings.ToLower(b.link.ShortCode)
			if an != bn {
				return an < bn
			}
		default:
			if !a.link.CreatedAt.Equal(b.link.CreatedAt) {
				return a.link.CreatedAt.Before(b.link.CreatedAt)
			}
		}
		return a.seq < b.seq
	}
}

func copyLink(l *domain.Link) *domain.Link {
	c := *l
	if l.LastClicked != nil {
		ts := *l.LastClicked
		c.LastClicked = &ts
	}
	return &c
}
