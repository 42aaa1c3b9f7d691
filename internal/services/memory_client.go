package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"marketplace-mcp/backend/internal/logging"
)

// projectCategoryPrefix scopes documents and queries per project so that
// different projects never cross-contaminate on the shared service.
const projectCategoryPrefix = "rag_project_"

const defaultQueryLimit = 5

// HTTPMemoryClient is an HTTP implementation of the MemoryClient
// interface. It is stateless between calls; availability is decided once
// at construction and every later failure is returned as a result value.
type HTTPMemoryClient struct {
	baseURL string
	apiKey  string
	userID  string
	client  *http.Client
	logger  *logging.Logger

	available bool
	reason    string
}

// NewHTTPMemoryClient creates the client and probes the service. A failed
// probe does not error; it leaves the client in the unavailable state with
// the reason retained for callers.
func NewHTTPMemoryClient(ctx context.Context, baseURL, apiKey, userID string, timeout time.Duration, logger *logging.Logger) *HTTPMemoryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &HTTPMemoryClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		userID:  userID,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}

	if apiKey == "" {
		c.reason = "memory service api key not configured"
		logger.Warn("Memory augmentation disabled", "reason", c.reason)
		return c
	}

	if err := c.ping(ctx); err != nil {
		c.reason = fmt.Sprintf("memory service unreachable: %v", err)
		logger.Warn("Memory augmentation disabled", "reason", c.reason)
		return c
	}

	c.available = true
	logger.Info("Memory augmentation enabled", "base_url", baseURL, "user_id", userID)
	return c
}

// IsAvailable reports whether the service was reachable and authorized at
// initialization.
func (c *HTTPMemoryClient) IsAvailable() bool {
	return c.available
}

// AddDocument stores a free-text document scoped to projectID.
func (c *HTTPMemoryClient) AddDocument(ctx context.Context, projectID, text, documentID string, metadata map[string]any) *MemoryAddResult {
	if !c.available {
		return &MemoryAddResult{Reason: c.reason}
	}
	if documentID == "" {
		documentID = uuid.New().String()
	}

	merged := map[string]any{
		"category":    projectCategoryPrefix + projectID,
		"project_id":  projectID,
		"document_id": documentID,
	}
	for k, v := range metadata {
		merged[k] = v
	}

	payload := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": text}},
		"user_id":  c.userID,
		"metadata": merged,
	}

	if err := c.post(ctx, "/v1/memories/", payload, nil); err != nil {
		c.logger.Warn("Memory add failed", "project_id", projectID, "error", err)
		return &MemoryAddResult{Reason: err.Error()}
	}
	return &MemoryAddResult{Success: true, DocumentID: documentID}
}

// Query returns ranked documents for queryText scoped to projectID.
func (c *HTTPMemoryClient) Query(ctx context.Context, projectID, queryText string, limit int) *MemoryQueryResult {
	if !c.available {
		return &MemoryQueryResult{Reason: c.reason}
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	payload := map[string]any{
		"query":   queryText,
		"user_id": c.userID,
		"limit":   limit,
		"filters": map[string]any{"category": projectCategoryPrefix + projectID},
	}

	var response struct {
		Results []struct {
			ID       string         `json:"id"`
			Memory   string         `json:"memory"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"results"`
	}
	if err := c.post(ctx, "/v1/memories/search/", payload, &response); err != nil {
		c.logger.Warn("Memory query failed", "project_id", projectID, "error", err)
		return &MemoryQueryResult{Reason: err.Error()}
	}

	documents := make([]MemoryDocument, 0, len(response.Results))
	for _, r := range response.Results {
		documents = append(documents, MemoryDocument{
			ID:       r.ID,
			Text:     r.Memory,
			Score:    r.Score,
			Metadata: r.Metadata,
		})
	}
	return &MemoryQueryResult{Success: true, Documents: documents}
}

func (c *HTTPMemoryClient) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ping/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("unauthorized: status code %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status code %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPMemoryClient) post(ctx context.Context, path string, payload any, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("memory service returned status code %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

func (c *HTTPMemoryClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Token "+c.apiKey)
}
