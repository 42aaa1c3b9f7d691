// Package models defines the domain models for the marketplace registry service
package models

import "time"

// Category classifies a marketplace server descriptor
type Category string

const (
	CategoryDatabase          Category = "database"
	CategoryCloudServices     Category = "cloud_services"
	CategoryDevelopmentTools  Category = "development_tools"
	CategoryCommunication     Category = "communication"
	CategoryAIML              Category = "ai_ml"
	CategoryProductivity      Category = "productivity"
	CategorySearchAndData     Category = "search_and_data"
	CategorySecurity          Category = "security"
	CategoryWebAPIs           Category = "web_apis"
	CategoryContentManagement Category = "content_management"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryDatabase,
	CategoryCloudServices,
	CategoryDevelopmentTools,
	CategoryCommunication,
	CategoryAIML,
	CategoryProductivity,
	CategorySearchAndData,
	CategorySecurity,
	CategoryWebAPIs,
	CategoryContentManagement,
}

// Valid reports whether c is one of the closed category set.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// InstallationStatus represents the operator-facing install state of a descriptor
type InstallationStatus string

const (
	StatusNotInstalled InstallationStatus = "not_installed"
	StatusInstalling   InstallationStatus = "installing"
	StatusInstalled    InstallationStatus = "installed"
	StatusFailed       InstallationStatus = "failed"
)

// statusTransitions is the closed transition table for install state.
// Retry after a failure goes back through not_installed.
var statusTransitions = map[InstallationStatus][]InstallationStatus{
	StatusNotInstalled: {StatusInstalling},
	StatusInstalling:   {StatusInstalled, StatusFailed},
	StatusFailed:       {StatusNotInstalled},
	StatusInstalled:    {},
}

// Valid reports whether s is a known installation status.
func (s InstallationStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether the transition s -> next is permitted.
func (s InstallationStatus) CanTransitionTo(next InstallationStatus) bool {
	for _, t := range statusTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ServiceDescriptor represents a single installable marketplace server
type ServiceDescriptor struct {
	Name                string             `json:"name" db:"name"`
	Description         string             `json:"description" db:"description"`
	RepositoryURL       string             `json:"repository_url" db:"repository_url"`
	Category            Category           `json:"category" db:"category"`
	Author              string             `json:"author" db:"author"`
	Version             string             `json:"version" db:"version"`
	InstallationMethod  string             `json:"installation_method" db:"installation_method"`
	Capabilities        []string           `json:"capabilities,omitempty" db:"capabilities"`
	Dependencies        []string           `json:"dependencies,omitempty" db:"dependencies"`
	ConfigurationSchema map[string]string  `json:"configuration_schema,omitempty" db:"configuration_schema"`
	PopularityScore     int                `json:"popularity_score" db:"popularity_score"`
	LastUpdated         time.Time          `json:"last_updated" db:"last_updated"`
	IsOfficial          bool               `json:"is_official" db:"is_official"`
	IsInstalled         bool               `json:"is_installed" db:"is_installed"`
	InstallationStatus  InstallationStatus `json:"installation_status" db:"installation_status"`
	Tags                []string           `json:"tags,omitempty" db:"tags"`

	// Audit fields
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SearchOptions contains parameters for searching the registry
type SearchOptions struct {
	Query        string
	Category     *Category
	OfficialOnly bool
	Limit        int
}

// LearningRecord represents one append-only interaction learning event
type LearningRecord struct {
	ID              int64          `json:"id" db:"id"`
	InteractionType string         `json:"interaction_type" db:"interaction_type"`
	Context         map[string]any `json:"context,omitempty" db:"context"`
	Insight         string         `json:"insight" db:"insight"`
	Timestamp       time.Time      `json:"timestamp" db:"timestamp"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
