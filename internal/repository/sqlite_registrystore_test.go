package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-mcp/backend/internal/logging"
	"marketplace-mcp/backend/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteRegistryStore {
	t.Helper()
	store, err := NewSQLiteRegistryStore(filepath.Join(t.TempDir(), "registry.db"), 2, logging.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testDescriptors() []models.ServiceDescriptor {
	return []models.ServiceDescriptor{
		{
			Name:            "git-tools",
			Description:     "Git repository helpers",
			Category:        models.CategoryDevelopmentTools,
			Version:         "1.0.0",
			PopularityScore: 50,
			IsOfficial:      true,
			Tags:            []string{"git", "vcs"},
			Capabilities:    []string{"clone", "diff"},
		},
		{
			Name:            "db-helper",
			Description:     "Database schema helpers",
			Category:        models.CategoryDatabase,
			Version:         "0.9.0",
			PopularityScore: 80,
			IsOfficial:      false,
			Tags:            []string{"sql"},
			ConfigurationSchema: map[string]string{
				"connection_string": "string",
			},
		},
	}
}

func TestSyncAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	count, err := store.SyncDescriptors(ctx, testDescriptors())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	t.Run("full registry in rank order", func(t *testing.T) {
		results, err := store.Search(ctx, models.SearchOptions{})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "db-helper", results[0].Name)
		assert.Equal(t, "git-tools", results[1].Name)
	})

	t.Run("official only", func(t *testing.T) {
		results, err := store.Search(ctx, models.SearchOptions{OfficialOnly: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "git-tools", results[0].Name)
	})

	t.Run("substring query matches name", func(t *testing.T) {
		results, err := store.Search(ctx, models.SearchOptions{Query: "git"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "git-tools", results[0].Name)
	})

	t.Run("query is case-insensitive and matches tags", func(t *testing.T) {
		results, err := store.Search(ctx, models.SearchOptions{Query: "SQL"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "db-helper", results[0].Name)
	})

	t.Run("category filter", func(t *testing.T) {
		category := models.CategoryDatabase
		results, err := store.Search(ctx, models.SearchOptions{Category: &category})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "db-helper", results[0].Name)
	})

	t.Run("json columns round-trip", func(t *testing.T) {
		d, err := store.GetByName(ctx, "db-helper")
		require.NoError(t, err)
		assert.Equal(t, []string{"sql"}, d.Tags)
		assert.Equal(t, map[string]string{"connection_string": "string"}, d.ConfigurationSchema)
		d, err = store.GetByName(ctx, "git-tools")
		require.NoError(t, err)
		assert.Equal(t, []string{"clone", "diff"}, d.Capabilities)
	})
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SyncDescriptors(ctx, testDescriptors())
	require.NoError(t, err)
	first, err := store.Search(ctx, models.SearchOptions{})
	require.NoError(t, err)

	_, err = store.SyncDescriptors(ctx, testDescriptors())
	require.NoError(t, err)
	second, err := store.Search(ctx, models.SearchOptions{})
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Version, second[i].Version)
		assert.Equal(t, first[i].InstallationStatus, second[i].InstallationStatus)
	}
}

func TestSyncPreservesInstallState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SyncDescriptors(ctx, testDescriptors())
	require.NoError(t, err)

	_, err = store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalling)
	require.NoError(t, err)
	_, err = store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalled)
	require.NoError(t, err)

	// Catalog reload with updated catalog fields must not uninstall.
	updated := testDescriptors()
	updated[0].Description = "Git repository helpers, now faster"
	updated[0].Version = "1.1.0"
	_, err = store.SyncDescriptors(ctx, updated)
	require.NoError(t, err)

	d, err := store.GetByName(ctx, "git-tools")
	require.NoError(t, err)
	assert.Equal(t, "Git repository helpers, now faster", d.Description)
	assert.Equal(t, "1.1.0", d.Version)
	assert.Equal(t, models.StatusInstalled, d.InstallationStatus)
	assert.True(t, d.IsInstalled)
}

func TestSyncIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SyncDescriptors(ctx, testDescriptors())
	require.NoError(t, err)

	batch := testDescriptors()
	batch[0].Description = "should never land"
	batch = append(batch, models.ServiceDescriptor{Name: "broken", Category: "warp_drives"})

	_, err = store.SyncDescriptors(ctx, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConstraintViolation))

	// Previous snapshot untouched.
	d, err := store.GetByName(ctx, "git-tools")
	require.NoError(t, err)
	assert.Equal(t, "Git repository helpers", d.Description)
	_, err = store.GetByName(ctx, "broken")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetByNameNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetByName(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateInstallStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SyncDescriptors(ctx, testDescriptors())
	require.NoError(t, err)

	t.Run("direct not_installed to installed is rejected", func(t *testing.T) {
		_, err := store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalled)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConstraintViolation))
	})

	t.Run("walks the state machine", func(t *testing.T) {
		d, err := store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalling)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInstalling, d.InstallationStatus)
		assert.False(t, d.IsInstalled)

		d, err = store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalled)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInstalled, d.InstallationStatus)
		assert.True(t, d.IsInstalled)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		d, err := store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalled)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInstalled, d.InstallationStatus)
	})

	t.Run("failed resets through not_installed", func(t *testing.T) {
		_, err := store.UpdateInstallStatus(ctx, "db-helper", models.StatusInstalling)
		require.NoError(t, err)
		d, err := store.UpdateInstallStatus(ctx, "db-helper", models.StatusFailed)
		require.NoError(t, err)
		assert.False(t, d.IsInstalled)

		d, err = store.UpdateInstallStatus(ctx, "db-helper", models.StatusNotInstalled)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNotInstalled, d.InstallationStatus)
	})

	t.Run("unknown descriptor", func(t *testing.T) {
		_, err := store.UpdateInstallStatus(ctx, "missing", models.StatusInstalling)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestListInstalled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SyncDescriptors(ctx, testDescriptors())
	require.NoError(t, err)

	installed, err := store.ListInstalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)

	_, err = store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalling)
	require.NoError(t, err)
	_, err = store.UpdateInstallStatus(ctx, "git-tools", models.StatusInstalled)
	require.NoError(t, err)

	installed, err = store.ListInstalled(ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "git-tools", installed[0].Name)
}

func TestSearchOrderingBreaksTiesByName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := []models.ServiceDescriptor{
		{Name: "zeta", Category: models.CategoryDatabase, PopularityScore: 10},
		{Name: "alpha", Category: models.CategoryDatabase, PopularityScore: 10},
		{Name: "mid", Category: models.CategoryDatabase, PopularityScore: 20},
	}
	_, err := store.SyncDescriptors(ctx, batch)
	require.NoError(t, err)

	results, err := store.Search(ctx, models.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "mid", results[0].Name)
	assert.Equal(t, "alpha", results[1].Name)
	assert.Equal(t, "zeta", results[2].Name)
}

func TestLearningRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := &models.LearningRecord{
		InteractionType: "search",
		Context:         map[string]any{"query": "git"},
		Insight:         "searched for git tooling",
	}
	require.NoError(t, store.AppendLearningRecord(ctx, first))
	assert.NotZero(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())

	second := &models.LearningRecord{InteractionType: "installation", Insight: "installed git-tools"}
	require.NoError(t, store.AppendLearningRecord(ctx, second))

	records, err := store.ListLearningRecords(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "installation", records[0].InteractionType)
	assert.Equal(t, "search", records[1].InteractionType)
	assert.Equal(t, "git", records[1].Context["query"])

	filtered, err := store.ListLearningRecords(ctx, "search", 10)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, first.ID, filtered[0].ID)
}
