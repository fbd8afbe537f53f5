package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"shortlink/internal/domain"
	"shortlink/internal/repository/memory"
	"shortlink/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==================== MOCKS ====================

// MockLinkService is a mock implementation of LinkService
type MockLinkService struct {
	mock.Mock
}

func (m *MockLinkService) CreateLink(ctx context.Context, targetURL, shortCode string) (*domain.Link, error) {
	args := m.Called(ctx, targetURL, shortCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Link), args.Error(1)
}

func (m *MockLinkService) ResolveLink(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

func (m *MockLinkService) GetLink(ctx context.Context, code string) (*domain.Link, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Link), args.Error(1)
}

func (m *MockLinkService) RecordClick(ctx context.Context, code string) (*domain.Link, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Link), args.Error(1)
}

func (m *MockLinkService) DeleteLink(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockLinkService) ListLinks(ctx context.Context, filter domain.ListFilter) ([]*domain.Link, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Link), args.Error(1)
}

func (m *MockLinkService) Totals(ctx context.Context) (*domain.Totals, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Totals), args.Error(1)
}

// ==================== HELPER FUNCTIONS ====================

var fixedNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func setupTestHandler() (http.Handler, *Handler, *MockLinkService) {
	mockService := new(MockLinkService)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := NewHandler(mockService, logger, "http://localhost:8080", "test")
	handler.now = func() time.Time { return fixedNow }

	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, handler, mockService
}

func sampleLink(code, target string) *domain.Link {
	return &domain.Link{
		ID:        "7f1c3d5e-0000-4000-8000-000000000001",
		ShortCode: code,
		TargetURL: target,
		CreatedAt: fixedNow.Add(-time.Hour),
		UpdatedAt: fixedNow.Add(-time.Hour),
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

// ==================== CREATE LINK TESTS ====================

func TestCreateLink_Success(t *testing.T) {
	// Arrange
	mux, _, mockService := setupTestHandler()

	mockService.On("CreateLink", mock.Anything, "https://example.com", "").
		Return(sampleLink("abc123", "https://example.com"), nil)

	body := `{"targetUrl": "https://example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/links", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	// Act
	mux.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusCreated, w.Code)

	response := decodeBody(t, w)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, "abc123", data["shortCode"])
	assert.Equal(t, "https://example.com", data["targetUrl"])
	assert.Equal(t, "http://localhost:8080/abc123", data["shortUrl"])
	assert.Equal(t, float64(0), data["clicks"])
	assert.Nil(t, data["lastClicked"])
	assert.Equal(t, "no_clicks", data["activity"])

	mockService.AssertExpectations(t)
}

func TestCreateLink_WithShortCode(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	mockService.On("CreateLink", mock.Anything, "https://example1.com", "mylink").
		Return(sampleLink("mylink", "https://example1.com"), nil)

	body := `{"targetUrl": "https://example1.com", "shortCode": "mylink"}`
	req := httptest.NewRequest(http.MethodPost, "/api/links", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "mylink", data["shortCode"])
	mockService.AssertExpectations(t)
}

func TestCreateLink_TableDriven(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    string
		mockSetup      func(*MockLinkService)
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Invalid JSON",
			requestBody:    `{invalid}`,
			mockSetup:      func(m *MockLinkService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid request",
		},
		{
			name:           "Missing URL",
			requestBody:    `{"targetUrl": ""}`,
			mockSetup:      func(m *MockLinkService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "required",
		},
		{
			name:        "Invalid URL",
			requestBody: `{"targetUrl": "not-a-url"}`,
			mockSetup: func(m *MockLinkService) {
				m.On("CreateLink", mock.Anything, "not-a-url", "").
					Return(nil, fmt.Errorf("%w: bad scheme", domain.ErrInvalidURL))
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid URL",
		},
		{
			name:        "Invalid short code",
			requestBody: `{"targetUrl": "https://example.com", "shortCode": "ab"}`,
			mockSetup: func(m *MockLinkService) {
				m.On("CreateLink", mock.Anything, "https://example.com", "ab").
					Return(nil, domain.ErrInvalidCodeFormat)
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "6-8 alphanumeric",
		},
		{
			name:        "Code taken",
			requestBody: `{"targetUrl": "https://example.com", "shortCode": "taken1"}`,
			mockSetup: func(m *MockLinkService) {
				m.On("CreateLink", mock.Anything, "https://example.com", "taken1").
					Return(nil, domain.ErrCodeConflict)
			},
			expectedStatus: http.StatusConflict,
			expectedError:  "already exists",
		},
		{
			name:        "Allocation exhausted",
			requestBody: `{"targetUrl": "https://example.com"}`,
			mockSetup: func(m *MockLinkService) {
				m.On("CreateLink", mock.Anything, "https://example.com", "").
					Return(nil, domain.ErrAllocationExhausted)
			},
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "retry",
		},
		{
			name:        "Store down",
			requestBody: `{"targetUrl": "https://example.com"}`,
			mockSetup: func(m *MockLinkService) {
				m.On("CreateLink", mock.Anything, "https://example.com", "").
					Return(nil, fmt.Errorf("create link: %w: %w", domain.ErrStoreUnavailable, errors.New("dial tcp")))
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			mux, _, mockService := setupTestHandler()
			tt.mockSetup(mockService)

			req := httptest.NewRequest(http.MethodPost, "/api/links", bytes.NewBufferString(tt.requestBody))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			// Act
			mux.ServeHTTP(w, req)

			// Assert
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, decodeBody(t, w)["error"], tt.expectedError)
			mockService.AssertExpectations(t)
		})
	}
}

// ==================== REDIRECT TESTS ====================

func TestRedirect_Success(t *testing.T) {
	// Arrange
	mux, _, mockService := setupTestHandler()

	target := "https://example.com/a/b?c=1&d=2"
	mockService.On("ResolveLink", mock.Anything, "abc123").Return(target, nil)

	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	w := httptest.NewRecorder()

	// Act
	mux.ServeHTTP(w, req)

	// Assert
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, target, w.Header().Get("Location"))
	mockService.AssertExpectations(t)
}

func TestRedirect_NonASCIITargetUnchanged(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	target := "https://example.com/café?q=ü"
	mockService.On("ResolveLink", mock.Anything, "utf8ok").Return(target, nil)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/utf8ok", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, target, w.Header().Get("Location"))
}

func TestRedirect_CodeNamedLikeRoute(t *testing.T) {
	// Arrange
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	linkService := service.NewLinkService(memory.NewLinkRepository(), nil, logger)

	mux := http.NewServeMux()
	NewHandler(linkService, logger, "http://localhost:8080", "test").Register(mux)
	RegisterMetrics(mux)

	for _, code := range []string{"metrics", "healthz", "apilinks"} {
		_, err := linkService.CreateLink(ctx, "https://example.com/"+code, code)
		require.NoError(t, err)
	}

	for _, code := range []string{"metrics", "healthz", "apilinks"} {
		// Act
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+code, nil))

		// Assert
		assert.Equal(t, http.StatusFound, w.Code, code)
		assert.Equal(t, "https://example.com/"+code, w.Header().Get("Location"), code)

		link, err := linkService.GetLink(ctx, code)
		require.NoError(t, err)
		assert.Equal(t, int64(1), link.Clicks, code)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, MetricsPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "links_created_total")
}

func TestRedirect_NotFound(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	mockService.On("ResolveLink", mock.Anything, "nope12").Return("", domain.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/nope12", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Invalid link", decodeBody(t, w)["error"])
	assert.Empty(t, w.Header().Get("Location"))
}

func TestRedirect_StoreUnavailable(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	mockService.On("ResolveLink", mock.Anything, "abc123").
		Return("", fmt.Errorf("get link: %w", domain.ErrStoreUnavailable))

	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ==================== MANAGEMENT TESTS ====================

func TestGetLink(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	link := sampleLink("abc123", "https://example.com")
	clicked := fixedNow.Add(-3 * 24 * time.Hour)
	link.Clicks = 4
	link.LastClicked = &clicked

	mockService.On("GetLink", mock.Anything, "abc123").Return(link, nil)
	mockService.On("GetLink", mock.Anything, "zzz999").Return(nil, domain.ErrNotFound)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/links/abc123", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(4), data["clicks"])
	assert.Equal(t, "active", data["activity"])
	assert.NotNil(t, data["lastClicked"])

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/links/zzz999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteLink(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	mockService.On("DeleteLink", mock.Anything, "abc123").Return(nil)
	mockService.On("DeleteLink", mock.Anything, "gone00").Return(domain.ErrNotFound)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/links/abc123", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/links/gone00", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	mockService.AssertExpectations(t)
}

func TestRecordClick(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	link := sampleLink("abc123", "https://example.com")
	link.Clicks = 1
	link.LastClicked = &fixedNow
	mockService.On("RecordClick", mock.Anything, "abc123").Return(link, nil)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/links/abc123/click", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["clicks"])
	assert.Equal(t, "hot", data["activity"])
}

func TestListLinks(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	want := domain.ListFilter{Search: "exa", Sort: domain.SortByClicks, Order: domain.OrderAsc}
	mockService.On("ListLinks", mock.Anything, want).Return([]*domain.Link{
		sampleLink("abc123", "https://example.com"),
		sampleLink("def456", "https://example.org"),
	}, nil)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/links?q=exa&sort=clicks&order=asc", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, "def456", data[1].(map[string]interface{})["shortCode"])
	mockService.AssertExpectations(t)
}

func TestListLinks_EmptyIsArray(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	mockService.On("ListLinks", mock.Anything, domain.ListFilter{}).Return([]*domain.Link{}, nil)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/links", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decodeBody(t, w)["data"])
}

func TestListLinks_BadSort(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	mockService.On("ListLinks", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidFilter)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/links?sort=size", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ==================== HEALTH TESTS ====================

func TestSystemHealth(t *testing.T) {
	mux, handler, mockService := setupTestHandler()
	handler.startedAt = fixedNow.Add(-(26*time.Hour + 5*time.Minute))

	mockService.On("Totals", mock.Anything).Return(&domain.Totals{Links: 3, Clicks: 42}, nil)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	response := decodeBody(t, w)
	assert.Equal(t, "1d 2h 5m", response["uptime"])
	assert.Equal(t, "2024-06-10T12:00:00Z", response["timestamp"])
	assert.Equal(t, float64(3), response["totalLinks"])
	assert.Equal(t, float64(42), response["totalClicks"])
	assert.Equal(t, "test", response["environment"])

	usage := response["memoryUsage"].(float64)
	assert.GreaterOrEqual(t, usage, float64(0))
	assert.LessOrEqual(t, usage, float64(100))
}

func TestSystemHealth_StoreDown(t *testing.T) {
	mux, _, mockService := setupTestHandler()

	mockService.On("Totals", mock.Anything).Return(nil, domain.ErrStoreUnavailable)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	response := decodeBody(t, w)
	assert.Equal(t, "0m", response["uptime"])
	assert.Equal(t, float64(0), response["memoryUsage"])
	assert.Equal(t, float64(0), response["totalLinks"])
	assert.Equal(t, float64(0), response["totalClicks"])
	assert.Equal(t, "error", response["environment"])
}

func TestHealthCheck(t *testing.T) {
	mux, _, _ := setupTestHandler()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0m"},
		{59 * time.Second, "0m"},
		{42 * time.Minute, "42m"},
		{3*time.Hour + 7*time.Minute, "3h 7m"},
		{49 * time.Hour, "2d 1h 0m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.in), tt.in.String())
	}
}
