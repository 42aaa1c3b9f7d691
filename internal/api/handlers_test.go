package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-mcp/backend/internal/logging"
	"marketplace-mcp/backend/internal/repository"
	"marketplace-mcp/backend/internal/services"
	"marketplace-mcp/backend/pkg/models"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	store, err := repository.NewSQLiteRegistryStore(filepath.Join(t.TempDir(), "registry.db"), 2, logging.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := services.NewMarketplaceService(store, logging.NewLogger())
	_, err = svc.SyncCatalog(context.Background(), []models.ServiceDescriptor{
		{Name: "git-tools", Category: models.CategoryDevelopmentTools, PopularityScore: 50, IsOfficial: true, Tags: []string{"git"}},
		{Name: "db-helper", Category: models.CategoryDatabase, PopularityScore: 80},
	})
	require.NoError(t, err)

	e := echo.New()
	handler := NewHandler(svc)
	RegisterHandlers(e.Group("/api/v1"), handler)
	e.GET("/health", handler.HandleHealth)
	return e
}

func doRequest(t *testing.T, e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) []models.ServiceDescriptor {
	t.Helper()
	var list []models.ServiceDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	return list
}

func TestSearchEndpoint(t *testing.T) {
	e := newTestServer(t)

	t.Run("full registry in rank order", func(t *testing.T) {
		rec := doRequest(t, e, http.MethodGet, "/api/v1/search")
		require.Equal(t, http.StatusOK, rec.Code)
		list := decodeList(t, rec)
		require.Len(t, list, 2)
		assert.Equal(t, "db-helper", list[0].Name)
		assert.Equal(t, "git-tools", list[1].Name)
	})

	t.Run("official only", func(t *testing.T) {
		rec := doRequest(t, e, http.MethodGet, "/api/v1/search?official_only=true")
		require.Equal(t, http.StatusOK, rec.Code)
		list := decodeList(t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, "git-tools", list[0].Name)
	})

	t.Run("invalid category", func(t *testing.T) {
		rec := doRequest(t, e, http.MethodGet, "/api/v1/search?category=warp_drives")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
	})

	t.Run("invalid official_only", func(t *testing.T) {
		rec := doRequest(t, e, http.MethodGet, "/api/v1/search?official_only=perhaps")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetServerEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doRequest(t, e, http.MethodGet, "/api/v1/servers/git-tools")
	require.Equal(t, http.StatusOK, rec.Code)
	var d models.ServiceDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "git-tools", d.Name)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/servers/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")

	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusNotFound, problem.Status)
	assert.NotEmpty(t, problem.Detail)
}

func TestInstallEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/servers/git-tools/install")
	require.Equal(t, http.StatusOK, rec.Code)
	var d models.ServiceDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, models.StatusInstalled, d.InstallationStatus)
	assert.True(t, d.IsInstalled)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/installed")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeList(t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "git-tools", list[0].Name)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/servers/missing/install")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecommendationsEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doRequest(t, e, http.MethodGet, "/api/v1/recommendations/unknown_type")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeList(t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, models.CategoryDevelopmentTools, list[0].Category)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestServer(t)

	rec := doRequest(t, e, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
}
