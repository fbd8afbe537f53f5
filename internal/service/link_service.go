package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"shortlink/internal/domain"
	"shortlink/internal/metrics"
	"shortlink/internal/repository"
	"shortlink/pkg/logger"
	"shortlink/pkg/validator"
)

const (
	// generatedCodeLength is the length of codes drawn when the caller
	// doesn't request one.
	generatedCodeLength = 6

	// maxAllocationAttempts bounds the collision retry loop.
	maxAllocationAttempts = 10

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Cache maps short codes to target URLs in front of the repository.
type Cache interface {
	GetTarget(ctx context.Context, shortCode string) (string, bool, error)
	SetTarget(ctx context.Context, shortCode, target string) error
	Delete(ctx context.Context, shortCode string) error
}

// LinkService allocates short codes, resolves redirects and manages links.
//
// Redirect resolution records the click before returning the target
// (record-then-respond), so the stored counter matches the redirects served.
// A failed click write is logged and the redirect is still returned.
type LinkService struct {
	repo   repository.LinkRepository
	cache  Cache
	logger *slog.Logger

	newCode func() (string, error)
	now     func() time.Time
}

// NewLinkService creates a new link service. cache may be nil.
func NewLinkService(repo repository.LinkRepository, cache Cache, logger *slog.Logger) *LinkService {
	if cache == nil {
		cache = noopCache{}
	}
	return &LinkService{
		repo:    repo,
		cache:   cache,
		logger:  logger,
		newCode: func() (string, error) { return generateShortCode(generatedCodeLength) },
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateLink stores a link for targetURL. An empty shortCode means "generate
// one"; a non-empty one must be 6-8 alphanumerics and is never retried.
func (s *LinkService) CreateLink(ctx context.Context, targetURL, shortCode string) (*domain.Link, error) {
	if err := validator.ValidateURL(targetURL); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidURL, err)
	}

	var (
		link *domain.Link
		err  error
	)
	if shortCode != "" {
		link, err = s.createWithCode(ctx, targetURL, shortCode)
	} else {
		link, err = s.createWithGeneratedCode(ctx, targetURL)
	}
	if err != nil {
		return nil, err
	}

	metrics.RecordLinkCreated()
	s.log(ctx).Info("Link created", "short_code", link.ShortCode, "id", link.ID)

	if err := s.cache.SetTarget(ctx, link.ShortCode, link.TargetURL); err != nil {
		s.log(ctx).Warn("Failed to cache link", "short_code", link.ShortCode, "error", err)
	}

	return link, nil
}

func (s *LinkService) createWithCode(ctx context.Context, targetURL, shortCode string) (*domain.Link, error) {
	if err := validator.ValidateShortCode(shortCode); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidCodeFormat, err)
	}

	exists, err := s.repo.ExistsShortCode(ctx, shortCode)
	if err != nil {
		return nil, storeError("check short code", err)
	}
	if exists {
		return nil, domain.ErrCodeConflict
	}

	link := domain.NewLink(shortCode, targetURL)
	if err := s.repo.Create(ctx, link); err != nil {
		if errors.Is(err, domain.ErrCodeConflict) {
			return nil, domain.ErrCodeConflict
		}
		return nil, storeError("create link", err)
	}

	return link, nil
}

func (s *LinkService) createWithGeneratedCode(ctx context.Context, targetURL string) (*domain.Link, error) {
	for attempt := 1; attempt <= maxAllocationAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate short code: %w", err)
		}

		exists, err := s.repo.ExistsShortCode(ctx, code)
		if err != nil {
			return nil, storeError("check short code", err)
		}
		if exists {
			metrics.RecordCodeCollision()
			s.log(ctx).Debug("Generated short code collided", "short_code", code, "attempt", attempt)
			continue
		}

		link := domain.NewLink(code, targetURL)
		err = s.repo.Create(ctx, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, domain.ErrCodeConflict) {
			return nil, storeError("create link", err)
		}

		// taken between the existence check and the insert
		metrics.RecordCodeCollision()
		s.log(ctx).Debug("Generated short code collided on insert", "short_code", code, "attempt", attempt)
	}

	s.log(ctx).Error("Short code allocation exhausted", "attempts", maxAllocationAttempts)
	return nil, domain.ErrAllocationExhausted
}

// ResolveLink returns the target URL for code and records one click.
func (s *LinkService) ResolveLink(ctx context.Context, code string) (string, error) {
	if !validator.IsValidShortCode(code) {
		return "", domain.ErrNotFound
	}

	target, cached, err := s.cache.GetTarget(ctx, code)
	if err != nil {
		s.log(ctx).Warn("Cache lookup failed", "short_code", code, "error", err)
		cached = false
	}

	if !cached {
		link, err := s.repo.GetByShortCode(ctx, code)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", domain.ErrNotFound
			}
			return "", storeError("get link", err)
		}
		target = link.TargetURL

		if err := s.cache.SetTarget(ctx, code, target); err != nil {
			s.log(ctx).Warn("Failed to cache link", "short_code", code, "error", err)
		}
	}

	if _, err := s.repo.IncrementClicks(ctx, code, s.now()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// deleted after the lookup, or a stale cache entry
			s.evict(ctx, code)
			return "", domain.ErrNotFound
		}
		metrics.RecordClickRecordFailure()
		s.log(ctx).Error("Failed to record click", "short_code", code, "error", err)
	} else {
		metrics.RecordClickRecorded()
	}

	metrics.RecordRedirect()
	return target, nil
}

// GetLink returns the link for code without recording a click.
func (s *LinkService) GetLink(ctx context.Context, code string) (*domain.Link, error) {
	if !validator.IsValidShortCode(code) {
		return nil, domain.ErrNotFound
	}

	link, err := s.repo.GetByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, storeError("get link", err)
	}
	return link, nil
}

// RecordClick increments the click counter of code and returns the updated link.
func (s *LinkService) RecordClick(ctx context.Context, code string) (*domain.Link, error) {
	if !validator.IsValidShortCode(code) {
		return nil, domain.ErrNotFound
	}

	link, err := s.repo.IncrementClicks(ctx, code, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, storeError("record click", err)
	}

	metrics.RecordClickRecorded()
	return link, nil
}

// DeleteLink permanently removes code. Afterwards the code resolves exactly
// like one that never existed.
func (s *LinkService) DeleteLink(ctx context.Context, code string) error {
	if !validator.IsValidShortCode(code) {
		return domain.ErrNotFound
	}

	if err := s.repo.DeleteByShortCode(ctx, code); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return storeError("delete link", err)
	}

	s.evict(ctx, code)
	metrics.RecordLinkDeleted()
	s.log(ctx).Info("Link deleted", "short_code", code)
	return nil
}

// ListLinks returns links matching filter, newest first unless the filter
// says otherwise.
func (s *LinkService) ListLinks(ctx context.Context, filter domain.ListFilter) ([]*domain.Link, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}

	links, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, storeError("list links", err)
	}
	return links, nil
}

// Totals counts links and sums clicks straight from the store.
func (s *LinkService) Totals(ctx context.Context) (*domain.Totals, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, storeError("count links", err)
	}

	clicks, err := s.repo.SumClicks(ctx)
	if err != nil {
		return nil, storeError("sum clicks", err)
	}

	return &domain.Totals{Links: count, Clicks: clicks}, nil
}

func (s *LinkService) evict(ctx context.Context, code string) {
	if err := s.cache.Delete(ctx, code); err != nil {
		s.log(ctx).Warn("Failed to evict cached link", "short_code", code, "error", err)
	}
}

func (s *LinkService) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, s.logger)
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// generateShortCode draws length characters uniformly from codeAlphabet
// using crypto/rand.
func generateShortCode(length int) (string, error) {
	alphabetSize := big.NewInt(int64(len(codeAlphabet)))

	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}

	return string(code), nil
}

type noopCache struct{}

func (noopCache) GetTarget(context.Context, string) (string, bool, error) { return "", false, nil }
func (noopCache) SetTarget(context.Context, string, string) error        { return nil }
func (noopCache) Delete(context.Context, string) error                   { return nil }
