package domain

import (
	"errors"
	"time"
)

// Link is a short code mapped to a target URL, together with its click
// counters. ShortCode and TargetURL never change after creation.
type Link struct {
	ID          string
	ShortCode   string
	TargetURL   string
	Clicks      int64
	LastClicked *time.Time // nil until the first click
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

var (
	ErrInvalidURL          = errors.New("invalid URL")
	ErrInvalidCodeFormat   = errors.New("short code must be 6-8 alphanumeric characters")
	ErrCodeConflict        = errors.New("short code already exists")
	ErrAllocationExhausted = errors.New("failed to generate unique short code")
	ErrNotFound            = errors.New("link not found")
	ErrStoreUnavailable    = errors.New("link store unavailable")
)

// NewLink returns an unsaved link with zeroed counters.
func NewLink(shortCode, targetURL string) *Link {
	now := time.Now().UTC()
	return &Link{
		ShortCode: shortCode,
		TargetURL: targetURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Activity buckets a link by how recently it was clicked.
type Activity string

const (
	ActivityNoClicks Activity = "no_clicks"
	ActivityHot      Activity = "hot"
	ActivityActive   Activity = "active"
	ActivityDormant  Activity = "dormant"
	ActivityOld      Activity = "old"
)

// DaysSinceLastClick returns whole days elapsed between the last click and now.
// ok is false when the link has never been clicked.
func (l *Link) DaysSinceLastClick(now time.Time) (days int, ok bool) {
	if l.LastClicked == nil {
		return 0, false
	}
	return int(now.Sub(*l.LastClicked) / (24 * time.Hour)), true
}

// ActivityAt classifies the link relative to now.
func (l *Link) ActivityAt(now time.Time) Activity {
	if l.Clicks == 0 {
		return ActivityNoClicks
	}

	days, ok := l.DaysSinceLastClick(now)
	switch {
	case !ok:
		return ActivityOld
	case days <= 1:
		return ActivityHot
	case days <= 7:
		return ActivityActive
	case days <= 30:
		return ActivityDormant
	default:
		return ActivityOld
	}
}

// Totals are store-wide aggregates, computed on every request.
type Totals struct {
	Links  int64
	Clicks int64
}
