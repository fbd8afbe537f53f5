package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"shortlink/internal/domain"
	"shortlink/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsPath sits under /api so it can never shadow a short code.
const MetricsPath = "/api/metrics"

// LinkService interface defines the service methods needed by the handler
// Using an interface instead of concrete type allows for easy mocking in tests
type LinkService interface {
	CreateLink(ctx context.Context, targetURL, shortCode string) (*domain.Link, error)
	ResolveLink(ctx context.Context, code string) (string, error)
	GetLink(ctx context.Context, code string) (*domain.Link, error)
	RecordClick(ctx context.Context, code string) (*domain.Link, error)
	DeleteLink(ctx context.Context, code string) error
	ListLinks(ctx context.Context, filter domain.ListFilter) ([]*domain.Link, error)
	Totals(ctx context.Context) (*domain.Totals, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	linkService LinkService
	logger      *slog.Logger
	baseURL     string // prefix for shortUrl, e.g. "http://localhost:8080"
	environment string
	startedAt   time.Time
	now         func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(linkService LinkService, logger *slog.Logger, baseURL, environment string) *Handler {
	return &Handler{
		linkService: linkService,
		logger:      logger,
		baseURL:     baseURL,
		environment: environment,
		startedAt:   time.Now(),
		now:         time.Now,
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/links", h.CreateLink)
	mux.HandleFunc("GET /api/links", h.ListLinks)
	mux.HandleFunc("GET /api/links/{code}", h.GetLink)
	mux.HandleFunc("DELETE /api/links/{code}", h.DeleteLink)
	mux.HandleFunc("POST /api/links/{code}/click", h.RecordClick)
	mux.HandleFunc("GET /api/healthz", h.SystemHealth)
	mux.HandleFunc("GET /health/live", h.HealthCheck)
	mux.HandleFunc("GET /{code}", h.Redirect)
}

// RegisterMetrics mounts the Prometheus exposition on mux.
func RegisterMetrics(mux *http.ServeMux) {
	mux.Handle("GET "+MetricsPath, promhttp.Handler())
}

// Request/Response DTOs

type CreateLinkRequest struct {
	TargetURL string `json:"targetUrl"`
	ShortCode string `json:"shortCode,omitempty"`
}

type LinkResponse struct {
	ID          string          `json:"id"`
	ShortCode   string          `json:"shortCode"`
	ShortURL    string          `json:"shortUrl"`
	TargetURL   string          `json:"targetUrl"`
	Clicks      int64           `json:"clicks"`
	LastClicked *time.Time      `json:"lastClicked"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Activity    domain.Activity `json:"activity"`
}

type SystemHealthResponse struct {
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
	MemoryUsage int    `json:"memoryUsage"`
	TotalLinks  int64  `json:"totalLinks"`
	TotalClicks int64  `json:"totalClicks"`
	Environment string `json:"environment"`
}

// CreateLink handles POST /api/links
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req CreateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	defer r.Body.Close()

	if req.TargetURL == "" {
		respondError(w, http.StatusBadRequest, "targetUrl is required")
		return
	}

	link, err := h.linkService.CreateLink(r.Context(), req.TargetURL, req.ShortCode)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusCreated, h.toResponse(link), "Link created successfully")
}

// ListLinks handles GET /api/links?q=&sort=&order=
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ListFilter{
		Search: query.Get("q"),
		Sort:   domain.SortField(query.Get("sort")),
		Order:  domain.SortOrder(query.Get("order")),
	}

	links, err := h.linkService.ListLinks(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	response := make([]LinkResponse, 0, len(links))
	for _, link := range links {
		response = append(response, h.toResponse(link))
	}

	respondSuccess(w, http.StatusOK, response, "")
}

// GetLink handles GET /api/links/{code}
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.linkService.GetLink(r.Context(), r.PathValue("code"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, h.toResponse(link), "")
}

// DeleteLink handles DELETE /api/links/{code}
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := h.linkService.DeleteLink(r.Context(), r.PathValue("code")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecordClick handles POST /api/links/{code}/click
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	link, err := h.linkService.RecordClick(r.Context(), r.PathValue("code"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, h.toResponse(link), "Click recorded")
}

// Redirect handles GET /{code}
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")

	target, err := h.linkService.ResolveLink(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Invalid link")
			return
		}
		h.respondServiceError(w, r, err)
		return
	}

	// Location carries the stored URL unescaped; http.Redirect would hex-escape
	// non-ASCII bytes. 302 so every visit reaches the resolver.
	w.Header().Set("Location", target)
	w.WriteHeader(http.StatusFound)
}

// SystemHealth handles GET /api/healthz
func (h *Handler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	now := h.now()

	totals, err := h.linkService.Totals(r.Context())
	if err != nil {
		logger.FromContext(r.Context(), h.logger).Error("Health check failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, SystemHealthResponse{
			Uptime:      "0m",
			Timestamp:   now.UTC().Format(time.RFC3339),
			Environment: "error",
		})
		return
	}

	respondJSON(w, http.StatusOK, SystemHealthResponse{
		Uptime:      formatUptime(now.Sub(h.startedAt)),
		Timestamp:   now.UTC().Format(time.RFC3339),
		MemoryUsage: memoryUsagePercent(),
		TotalLinks:  totals.Links,
		TotalClicks: totals.Clicks,
		Environment: h.environment,
	})
}

// HealthCheck handles GET /health/live
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) toResponse(link *domain.Link) LinkResponse {
	return LinkResponse{
		ID:          link.ID,
		ShortCode:   link.ShortCode,
		ShortURL:    fmt.Sprintf("%s/%s", h.baseURL, link.ShortCode),
		TargetURL:   link.TargetURL,
		Clicks:      link.Clicks,
		LastClicked: link.LastClicked,
		CreatedAt:   link.CreatedAt,
		UpdatedAt:   link.UpdatedAt,
		Activity:    link.ActivityAt(h.now()),
	}
}

// respondServiceError maps service errors to HTTP status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), h.logger)

	switch {
	case errors.Is(err, domain.ErrInvalidURL):
		respondError(w, http.StatusBadRequest, "Invalid URL. Please enter a valid http or https URL")
	case errors.Is(err, domain.ErrInvalidCodeFormat):
		respondError(w, http.StatusBadRequest, "Short code must be 6-8 alphanumeric characters")
	case errors.Is(err, domain.ErrInvalidFilter):
		respondError(w, http.StatusBadRequest, "Invalid sort or order parameter")
	case errors.Is(err, domain.ErrCodeConflict):
		respondError(w, http.StatusConflict, "Short code already exists")
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "Link not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		log.Error("Store unavailable", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	case errors.Is(err, domain.ErrAllocationExhausted):
		log.Error("Could not allocate short code", "error", err)
		respondError(w, http.StatusInternalServerError, "Could not generate a unique short code, please retry")
	default:
		log.Error("Unexpected error", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// formatUptime renders d as "2d 3h 4m", "3h 4m" or "4m".
func formatUptime(d time.Duration) string {
	total := int(d / time.Minute)
	days := total / (24 * 60)
	hours := (total % (24 * 60)) / 60
	minutes := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// memoryUsagePercent reports in-use heap as a share of heap obtained from the OS.
func memoryUsagePercent() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return min(int(m.HeapInuse*100/m.HeapSys), 100)
}
