package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"marketplace-mcp/backend/internal/logging"
	"marketplace-mcp/backend/internal/repository"
	"marketplace-mcp/backend/pkg/models"
)

// ErrSyncFailed indicates a catalog sync batch was aborted and rolled
// back. The previously synchronized registry is untouched.
var ErrSyncFailed = errors.New("registry sync failed")

const (
	recommendationsPerCategory = 3
	maxRecommendations         = 10
)

// projectTypeCategories maps a project-type label onto the ordered
// categories mined for recommendations. Unknown labels fall back to
// development tools.
var projectTypeCategories = map[string][]models.Category{
	"web_development":    {models.CategoryWebAPIs, models.CategoryDatabase},
	"data_science":       {models.CategoryAIML, models.CategoryDatabase},
	"devops":             {models.CategoryCloudServices, models.CategoryDevelopmentTools},
	"content_management": {models.CategoryContentManagement, models.CategoryProductivity},
}

var defaultProjectCategories = []models.Category{models.CategoryDevelopmentTools}

// MarketplaceService is the core service over the marketplace registry:
// catalog sync, ranked search, recommendations, install tracking, and
// interaction learning.
type MarketplaceService struct {
	store  repository.RegistryStore
	logger *logging.Logger
}

// NewMarketplaceService creates a new MarketplaceService.
func NewMarketplaceService(store repository.RegistryStore, logger *logging.Logger) *MarketplaceService {
	return &MarketplaceService{
		store:  store,
		logger: logger,
	}
}

// SyncCatalog reconciles loaded catalog descriptors into the registry.
// The batch is all-or-nothing; on failure the previous registry snapshot
// remains queryable and the error wraps the store cause.
func (s *MarketplaceService) SyncCatalog(ctx context.Context, descriptors []models.ServiceDescriptor) (int, error) {
	previous := s.currentVersions(ctx)

	count, err := s.store.SyncDescriptors(ctx, descriptors)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}

	for _, d := range descriptors {
		prev, ok := previous[d.Name]
		if !ok || prev == d.Version {
			continue
		}
		if isVersionUpgrade(prev, d.Version) {
			s.logger.Info("Descriptor upgraded", "name", d.Name, "from", prev, "to", d.Version)
		}
	}

	s.logger.Info("Catalog synchronized", "count", count)
	return count, nil
}

// currentVersions snapshots name -> version before a sync so upgrades can
// be reported. Read failures just suppress the reporting.
func (s *MarketplaceService) currentVersions(ctx context.Context) map[string]string {
	existing, err := s.store.Search(ctx, models.SearchOptions{})
	if err != nil {
		return nil
	}
	versions := make(map[string]string, len(existing))
	for _, d := range existing {
		versions[d.Name] = d.Version
	}
	return versions
}

func isVersionUpgrade(from, to string) bool {
	prev, err := semver.NewVersion(from)
	if err != nil {
		return false
	}
	next, err := semver.NewVersion(to)
	if err != nil {
		return false
	}
	return next.GreaterThan(prev)
}

// Search executes a ranked, filterable registry query.
func (s *MarketplaceService) Search(ctx context.Context, opts models.SearchOptions) ([]models.ServiceDescriptor, error) {
	return s.store.Search(ctx, opts)
}

// GetServer retrieves one descriptor by exact name.
func (s *MarketplaceService) GetServer(ctx context.Context, name string) (*models.ServiceDescriptor, error) {
	return s.store.GetByName(ctx, name)
}

// Recommend maps a project type onto ranked descriptors: up to three top
// results per mapped category, category order preserved, capped at ten.
// Collisions across categories are not deduplicated.
func (s *MarketplaceService) Recommend(ctx context.Context, projectType string) ([]models.ServiceDescriptor, error) {
	categories, ok := projectTypeCategories[projectType]
	if !ok {
		categories = defaultProjectCategories
	}

	var results []models.ServiceDescriptor
	for _, category := range categories {
		c := category
		top, err := s.store.Search(ctx, models.SearchOptions{Category: &c, Limit: recommendationsPerCategory})
		if err != nil {
			return nil, err
		}
		results = append(results, top...)
	}

	if len(results) > maxRecommendations {
		results = results[:maxRecommendations]
	}
	return results, nil
}

// Install marks the named descriptor installed, walking the install state
// machine: not_installed -> installing -> installed, with failed resetting
// through not_installed first. Installing an installed descriptor is a
// no-op that returns it unchanged. The actual installation step is a
// status claim only.
func (s *MarketplaceService) Install(ctx context.Context, name string) (*models.ServiceDescriptor, error) {
	descriptor, err := s.store.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	switch descriptor.InstallationStatus {
	case models.StatusInstalled:
		return descriptor, nil
	case models.StatusFailed:
		if _, err := s.store.UpdateInstallStatus(ctx, name, models.StatusNotInstalled); err != nil {
			return nil, err
		}
	}

	if _, err := s.store.UpdateInstallStatus(ctx, name, models.StatusInstalling); err != nil {
		// A concurrent install may already have finished; converge on it.
		if errors.Is(err, repository.ErrConstraintViolation) {
			if current, gerr := s.store.GetByName(ctx, name); gerr == nil && current.InstallationStatus == models.StatusInstalled {
				return current, nil
			}
		}
		return nil, err
	}

	installed, err := s.store.UpdateInstallStatus(ctx, name, models.StatusInstalled)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Descriptor installed", "name", name)
	return installed, nil
}

// ListInstalled returns all installed descriptors in rank order.
func (s *MarketplaceService) ListInstalled(ctx context.Context) ([]models.ServiceDescriptor, error) {
	return s.store.ListInstalled(ctx)
}

// RecordInteraction appends a learning record, best-effort: a persistence
// failure is logged and swallowed so the calling flow never fails on it.
func (s *MarketplaceService) RecordInteraction(ctx context.Context, interactionType string, contextPayload map[string]any, insight string) {
	record := &models.LearningRecord{
		InteractionType: interactionType,
		Context:         contextPayload,
		Insight:         insight,
	}
	if err := s.store.AppendLearningRecord(ctx, record); err != nil {
		s.logger.Warn("Failed to record interaction", "type", interactionType, "error", err)
	}
}

// LearningHistory returns recent learning records, newest first.
func (s *MarketplaceService) LearningHistory(ctx context.Context, interactionType string, limit int) ([]models.LearningRecord, error) {
	return s.store.ListLearningRecords(ctx, interactionType, limit)
}
