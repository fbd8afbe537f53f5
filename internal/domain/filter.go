package domain

import (
	"errors"
	"strings"
)

// SortField selects the column used to order a link listing.
type SortField string

const (
	SortByDate   SortField = "date"
	SortByClicks SortField = "clicks"
	SortByName   SortField = "name"
)

// SortOrder is asc or desc.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

var ErrInvalidFilter = errors.New("invalid list filter")

// ListFilter narrows and orders a listing. The zero value lists every link,
// newest first.
type ListFilter struct {
	Search string // case-insensitive substring of short code or target URL
	Sort   SortField
	Order  SortOrder
}

// Normalize fills defaults and rejects unknown sort fields or orders.
func (f ListFilter) Normalize() (ListFilter, error) {
	f.Search = strings.TrimSpace(f.Search)

	switch f.Sort {
	case "":
		f.Sort = SortByDate
	case SortByDate, SortByClicks, SortByName:
	default:
		return f, ErrInvalidFilter
	}

	switch f.Order {
	case "":
		f.Order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return f, ErrInvalidFilter
	}

	return f, nil
}

// Matches reports whether l satisfies the search term.
func (f ListFilter) Matches(l *Link) bool {
	if f.Search == "" {
		return true
	}
	term := strings.ToLower(f.Search)
	return strings.Contains(strings.ToLower(l.ShortCode), term) ||
		strings.Contains(strings.ToLower(l.TargetURL), term)
}
