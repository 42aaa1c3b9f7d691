package repository

import (
	"context"
	"errors"

	"marketplace-mcp/backend/pkg/models"
)

// Store error taxonomy. Callers branch on these with errors.Is.
var (
	// ErrStoreUnavailable indicates the backing file or connection could
	// not be opened. Retryable by the caller.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConstraintViolation indicates a write broke a uniqueness,
	// foreign-key, or state-transition invariant.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNotFound indicates the named descriptor does not exist.
	ErrNotFound = errors.New("descriptor not found")
)

// RegistryStore is the durable storage interface for the marketplace
// registry, install state, and learning records.
type RegistryStore interface {
	// SyncDescriptors upserts the batch keyed by name in one transaction,
	// preserving existing install state. Returns the count synchronized.
	SyncDescriptors(ctx context.Context, descriptors []models.ServiceDescriptor) (int, error)

	// Search returns descriptors matching opts, ordered by
	// (popularity_score desc, name asc).
	Search(ctx context.Context, opts models.SearchOptions) ([]models.ServiceDescriptor, error)

	// GetByName retrieves a descriptor by exact name.
	GetByName(ctx context.Context, name string) (*models.ServiceDescriptor, error)

	// UpdateInstallStatus transitions a descriptor's install status and
	// returns the updated descriptor. Setting the current status again is
	// a no-op.
	UpdateInstallStatus(ctx context.Context, name string, status models.InstallationStatus) (*models.ServiceDescriptor, error)

	// ListInstalled returns all descriptors with is_installed set.
	ListInstalled(ctx context.Context) ([]models.ServiceDescriptor, error)

	// AppendLearningRecord appends one learning record.
	AppendLearningRecord(ctx context.Context, record *models.LearningRecord) error

	// ListLearningRecords returns recent learning records, newest first,
	// optionally filtered by interaction type.
	ListLearningRecords(ctx context.Context, interactionType string, limit int) ([]models.LearningRecord, error)

	// Close closes the store.
	Close() error
}
