package services

import "context"

// MemoryDocument is one ranked document returned by the memory service.
type MemoryDocument struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MemoryAddResult is the outcome of an add-document call. Failures are
// carried in the result, never raised: callers log and continue.
type MemoryAddResult struct {
	Success    bool   `json:"success"`
	DocumentID string `json:"document_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// MemoryQueryResult is the outcome of a query call. On failure Documents
// is empty and Reason explains why, so callers degrade to no augmentation.
type MemoryQueryResult struct {
	Success   bool             `json:"success"`
	Documents []MemoryDocument `json:"documents,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// MemoryClient is an interface for the external semantic-memory service
// used to augment responses with prior project context.
type MemoryClient interface {
	// IsAvailable reports whether the service was reachable and
	// authorized at initialization.
	IsAvailable() bool

	// AddDocument stores a free-text document scoped to projectID.
	// documentID may be empty; metadata may be nil.
	AddDocument(ctx context.Context, projectID, text, documentID string, metadata map[string]any) *MemoryAddResult

	// Query returns up to limit documents ranked against queryText,
	// scoped to projectID. limit <= 0 selects the default of 5.
	Query(ctx context.Context, projectID, queryText string, limit int) *MemoryQueryResult
}
