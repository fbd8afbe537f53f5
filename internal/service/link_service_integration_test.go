package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shortlink/internal/domain"
	"shortlink/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run the service against the in-memory store so that
// allocation, redirects and deletion are observed end to end.

func newMemoryService() *LinkService {
	return NewLinkService(memory.NewLinkRepository(), nil, testLogger())
}

func TestMemory_CreateThenResolve(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()

	target := "https://example.com/a/b?c=1&d=%20x#frag"
	link, err := svc.CreateLink(ctx, target, "")
	require.NoError(t, err)

	got, err := svc.ResolveLink(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	stored, err := svc.GetLink(ctx, link.ShortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Clicks)
	require.NotNil(t, stored.LastClicked)
}

func TestMemory_SuppliedCodeTwice(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()

	_, err := svc.CreateLink(ctx, "https://example.com/one", "mycode")
	require.NoError(t, err)

	_, err = svc.CreateLink(ctx, "https://example.com/two", "mycode")
	assert.ErrorIs(t, err, domain.ErrCodeConflict)

	got, err := svc.ResolveLink(ctx, "mycode")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/one", got)
}

func TestMemory_DeletedBehavesLikeNeverCreated(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()

	_, err := svc.CreateLink(ctx, "https://example.com", "temp01")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteLink(ctx, "temp01"))

	_, deletedErr := svc.ResolveLink(ctx, "temp01")
	_, neverErr := svc.ResolveLink(ctx, "never1")

	assert.ErrorIs(t, deletedErr, domain.ErrNotFound)
	assert.ErrorIs(t, neverErr, domain.ErrNotFound)
	assert.Equal(t, neverErr, deletedErr)

	assert.ErrorIs(t, svc.DeleteLink(ctx, "temp01"), domain.ErrNotFound)

	// the code is free again
	_, err = svc.CreateLink(ctx, "https://example.org", "temp01")
	assert.NoError(t, err)
}

func TestMemory_ConcurrentResolvesCountEveryClick(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()

	_, err := svc.CreateLink(ctx, "https://example.com", "busy01")
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ResolveLink(ctx, "busy01")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	link, err := svc.GetLink(ctx, "busy01")
	require.NoError(t, err)
	assert.Equal(t, int64(n), link.Clicks)
}

func TestMemory_ConcurrentCreatesSameCode(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()

	const n = 50
	var (
		wg        sync.WaitGroup
		created   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateLink(ctx, "https://example.com", "short1")
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrCodeConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())

	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Links)
}

func TestMemory_LastClickedUsesClock(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.CreateLink(ctx, "https://example.com", "clock1")
	require.NoError(t, err)

	link, err := svc.RecordClick(ctx, "clock1")
	require.NoError(t, err)
	require.NotNil(t, link.LastClicked)
	assert.True(t, link.LastClicked.Equal(fixed))
	assert.Equal(t, int64(1), link.Clicks)
}

func TestMemory_Totals(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()

	_, err := svc.CreateLink(ctx, "https://a.example.com", "aaaaaa")
	require.NoError(t, err)
	_, err = svc.CreateLink(ctx, "https://b.example.com", "bbbbbb")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.ResolveLink(ctx, "aaaaaa")
		require.NoError(t, err)
	}

	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals.Links)
	assert.Equal(t, int64(3), totals.Clicks)
}

func TestMemory_ListLinksSearchAndSort(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()

	_, err := svc.CreateLink(ctx, "https://golang.org/doc", "gogogo")
	require.NoError(t, err)
	_, err = svc.CreateLink(ctx, "https://example.com", "exampl")
	require.NoError(t, err)
	_, err = svc.RecordClick(ctx, "exampl")
	require.NoError(t, err)

	links, err := svc.ListLinks(ctx, domain.ListFilter{Search: "GOLANG"})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "gogogo", links[0].ShortCode)

	links, err = svc.ListLinks(ctx, domain.ListFilter{Sort: domain.SortByClicks, Order: domain.OrderDesc})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "exampl", links[0].ShortCode)
}
