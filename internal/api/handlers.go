package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"marketplace-mcp/backend/internal/repository"
	"marketplace-mcp/backend/internal/services"
	"marketplace-mcp/backend/pkg/models"
)

// Handler contains HTTP handlers for the marketplace registry REST API
type Handler struct {
	marketplace *services.MarketplaceService
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(marketplace *services.MarketplaceService) *Handler {
	return &Handler{marketplace: marketplace}
}

// RegisterHandlers mounts the registry routes on the given group
func RegisterHandlers(g *echo.Group, h *Handler) {
	g.GET("/search", h.SearchServers)
	g.GET("/servers/:name", h.GetServer)
	g.GET("/recommendations/:projectType", h.Recommend)
	g.POST("/servers/:name/install", h.InstallServer)
	g.GET("/installed", h.ListInstalled)
}

// SearchServers handles GET /search?query=&category=&official_only=
func (h *Handler) SearchServers(c echo.Context) error {
	opts := models.SearchOptions{
		Query: c.QueryParam("query"),
	}

	if raw := c.QueryParam("category"); raw != "" {
		category := models.Category(raw)
		if !category.Valid() {
			return writeProblem(c, http.StatusBadRequest, "Invalid category", "unknown category: "+raw)
		}
		opts.Category = &category
	}
	if raw := c.QueryParam("official_only"); raw != "" {
		officialOnly, err := strconv.ParseBool(raw)
		if err != nil {
			return writeProblem(c, http.StatusBadRequest, "Invalid official_only", "official_only must be a boolean")
		}
		opts.OfficialOnly = officialOnly
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return writeProblem(c, http.StatusBadRequest, "Invalid limit", "limit must be a non-negative integer")
		}
		opts.Limit = limit
	}

	results, err := h.marketplace.Search(c.Request().Context(), opts)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, descriptorList(results))
}

// GetServer handles GET /servers/:name
func (h *Handler) GetServer(c echo.Context) error {
	descriptor, err := h.marketplace.GetServer(c.Request().Context(), c.Param("name"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, descriptor)
}

// Recommend handles GET /recommendations/:projectType
func (h *Handler) Recommend(c echo.Context) error {
	results, err := h.marketplace.Recommend(c.Request().Context(), c.Param("projectType"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, descriptorList(results))
}

// InstallServer handles POST /servers/:name/install
func (h *Handler) InstallServer(c echo.Context) error {
	descriptor, err := h.marketplace.Install(c.Request().Context(), c.Param("name"))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, descriptor)
}

// ListInstalled handles GET /installed
func (h *Handler) ListInstalled(c echo.Context) error {
	results, err := h.marketplace.ListInstalled(c.Request().Context())
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, descriptorList(results))
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Service:   "marketplace-mcp",
		Version:   "1.0.0",
		Timestamp: time.Now(),
	})
}

// descriptorList keeps empty results rendering as [] instead of null.
func descriptorList(descriptors []models.ServiceDescriptor) []models.ServiceDescriptor {
	if descriptors == nil {
		return []models.ServiceDescriptor{}
	}
	return descriptors
}

// writeServiceError maps the store/service error taxonomy onto HTTP status
// codes, rendered as RFC 7807 Problem Details.
func writeServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return writeProblem(c, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, repository.ErrConstraintViolation):
		return writeProblem(c, http.StatusConflict, "Constraint violation", err.Error())
	case errors.Is(err, repository.ErrStoreUnavailable):
		return writeProblem(c, http.StatusServiceUnavailable, "Store unavailable", err.Error())
	default:
		return writeProblem(c, http.StatusInternalServerError, "Internal error", err.Error())
	}
}

// writeProblem writes an RFC 7807 Problem Details JSON error response
func writeProblem(c echo.Context, status int, title, detail string) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, models.ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
