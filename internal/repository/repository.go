package repository

import (
	"context"
	"time"

	"shortlink/internal/domain"
)

// LinkRepository is the persistent store for links, keyed by short code.
//
// Implementations must enforce short code uniqueness on Create and apply
// IncrementClicks as a single atomic update, so that concurrent callers never
// lose or double count a click.
type LinkRepository interface {
	// Create inserts a new link and fills in its ID.
	// Returns domain.ErrCodeConflict if the short code is taken.
	Create(ctx context.Context, link *domain.Link) error

	// GetByShortCode returns domain.ErrNotFound if the code doesn't exist.
	GetByShortCode(ctx context.Context, shortCode string) (*domain.Link, error)

	// ExistsShortCode checks if a short code is already in use.
	ExistsShortCode(ctx context.Context, shortCode string) (bool, error)

	// IncrementClicks adds one click, sets last_clicked to at and returns the
	// updated link. Returns domain.ErrNotFound if the code doesn't exist.
	IncrementClicks(ctx context.Context, shortCode string, at time.Time) (*domain.Link, error)

	// DeleteByShortCode removes the link permanently.
	// Returns domain.ErrNotFound if the code doesn't exist.
	DeleteByShortCode(ctx context.Context, shortCode string) error

	// List returns links matching filter. The filter is expected to be normalized.
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Link, error)

	// Count returns the number of stored links.
	Count(ctx context.Context) (int64, error)

	// SumClicks returns the total of all click counters.
	SumClicks(ctx context.Context) (int64, error)
}
