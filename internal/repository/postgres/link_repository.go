package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shortlink/internal/domain"
	"shortlink/internal/metrics"
	"shortlink/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE raised by the short_code UNIQUE constraint.
const uniqueViolation = "23505"

const linkColumns = `id::text, short_code, target_url, clicks, last_clicked, created_at, updated_at`

// linkRepository is the PostgreSQL implementation of repository.LinkRepository.
type linkRepository struct {
	db *pgxpool.Pool
}

// NewLinkRepository creates a new PostgreSQL link repository.
func NewLinkRepository(db *pgxpool.Pool) repository.LinkRepository {
	return &linkRepository{db: db}
}

// Create inserts a new link. The UNIQUE constraint on short_code decides
// between concurrent creators of the same code.
func (r *linkRepository) Create(ctx context.Context, link *domain.Link) error {
	defer observe("create", time.Now())

	query := `
		INSERT INTO links (id, short_code, target_url, clicks, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		RETURNING ` + linkColumns

	row := r.db.QueryRow(ctx, query, uuid.NewString(), link.ShortCode, link.TargetURL, link.CreatedAt)
	if err := scanLink(row, link); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrCodeConflict
		}
		metrics.DatabaseErrorsTotal.WithLabelValues("create").Inc()
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

// GetByShortCode retrieves a link by its short code.
func (r *linkRepository) GetByShortCode(ctx context.Context, shortCode string) (*domain.Link, error) {
	defer observe("get", time.Now())

	query := `SELECT ` + linkColumns + ` FROM links WHERE short_code = $1`

	link := &domain.Link{}
	if err := scanLink(r.db.QueryRow(ctx, query, shortCode), link); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		metrics.DatabaseErrorsTotal.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return link, nil
}

// ExistsShortCode checks if a short code already exists.
func (r *linkRepository) ExistsShortCode(ctx context.Context, shortCode string) (bool, error) {
	defer observe("exists", time.Now())

	query := `SELECT EXISTS(SELECT 1 FROM links WHERE short_code = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, shortCode).Scan(&exists); err != nil {
		metrics.DatabaseErrorsTotal.WithLabelValues("exists").Inc()
		return false, fmt.Errorf("failed to check short code existence: %w", err)
	}

	return exists, nil
}

// IncrementClicks atomically bumps the counter in a single UPDATE.
func (r *linkRepository) IncrementClicks(ctx context.Context, shortCode string, at time.Time) (*domain.Link, error) {
	defer observe("increment", time.Now())

	query := `
		UPDATE links
		SET clicks = clicks + 1, last_clicked = $2, updated_at = $2
		WHERE short_code = $1
		RETURNING ` + linkColumns

	link := &domain.Link{}
	if err := scanLink(r.db.QueryRow(ctx, query, shortCode, at), link); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		metrics.DatabaseErrorsTotal.WithLabelValues("increment").Inc()
		return nil, fmt.Errorf("failed to increment clicks: %w", err)
	}

	return link, nil
}

// DeleteByShortCode removes the row; there is no soft delete.
func (r *linkRepository) DeleteByShortCode(ctx context.Context, shortCode string) error {
	defer observe("delete", time.Now())

	result, err := r.db.Exec(ctx, `DELETE FROM links WHERE short_code = $1`, shortCode)
	if err != nil {
		metrics.DatabaseErrorsTotal.WithLabelValues("delete").Inc()
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// List returns links matching filter in the requested order.
func (r *linkRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Link, error) {
	defer observe("list", time.Now())

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + linkColumns + ` FROM links`)

	if filter.Search != "" {
		args = append(args, strings.ToLower(filter.Search))
		sb.WriteString(` WHERE position($1 in lower(short_code)) > 0 OR position($1 in lower(target_url)) > 0`)
	}

	sb.WriteString(` ORDER BY ` + orderClause(filter))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		metrics.DatabaseErrorsTotal.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*domain.Link
	for rows.Next() {
		link := &domain.Link{}
		if err := scanLink(rows, link); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}

// Count returns the number of links.
func (r *linkRepository) Count(ctx context.Context) (int64, error) {
	defer observe("count", time.Now())

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM links`).Scan(&count); err != nil {
		metrics.DatabaseErrorsTotal.WithLabelValues("count").Inc()
		return 0, fmt.Errorf("failed to count links: %w", err)
	}

	return count, nil
}

// SumClicks returns the sum of all click counters, 0 for an empty table.
func (r *linkRepository) SumClicks(ctx context.Context) (int64, error) {
	defer observe("sum_clicks", time.Now())

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(clicks), 0)::bigint FROM links`).Scan(&total); err != nil {
		metrics.DatabaseErrorsTotal.WithLabelValues("sum_clicks").Inc()
		return 0, fmt.Errorf("failed to sum clicks: %w", err)
	}

	return total, nil
}

// orderClause maps a normalized filter to a fixed ORDER BY fragment.
// Only whitelisted column names ever reach the SQL text.
func orderClause(filter domain.ListFilter) string {
	dir := "DESC"
	if filter.Order == domain.OrderAsc {
		dir = "ASC"
	}

	switch filter.Sort {
	case domain.SortByClicks:
		return "clicks " + dir + ", created_at " + dir
	case domain.SortByName:
		return "lower(short_code) " + dir
	default:
		return "created_at " + dir + ", id " + dir
	}
}

func scanLink(row pgx.Row, link *domain.Link) error {
	return row.Scan(
		&link.ID,
		&link.ShortCode,
		&link.TargetURL,
		&link.Clicks,
		&link.LastClicked,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
}

func observe(operation string, start time.Time) {
	metrics.DatabaseQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
