// Package catalog loads and validates the static marketplace feed of
// installable server descriptors.
package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/goccy/go-yaml"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"marketplace-mcp/backend/internal/logging"
	"marketplace-mcp/backend/pkg/models"
)

// ErrUnavailable indicates the catalog feed is missing or malformed.
var ErrUnavailable = errors.New("catalog unavailable")

//go:embed default_catalog.json
var defaultFeed []byte

//go:embed feed_schema.json
var feedSchema []byte

// DefaultFeed returns the catalog feed bundled with the binary.
func DefaultFeed() []byte {
	return bytes.Clone(defaultFeed)
}

// Loader parses a catalog feed into validated service descriptors.
// Load is deterministic: identical feed bytes produce an identical
// descriptor sequence, preserving feed order.
type Loader struct {
	path   string
	schema *jsonschema.Schema
	logger *logging.Logger
}

// NewLoader creates a Loader for the feed at path. An empty path selects
// the embedded default feed.
func NewLoader(path string, logger *logging.Logger) (*Loader, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(feedSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing feed schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("feed_schema.json", doc); err != nil {
		return nil, fmt.Errorf("adding feed schema: %w", err)
	}
	schema, err := compiler.Compile("feed_schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling feed schema: %w", err)
	}
	return &Loader{path: path, schema: schema, logger: logger}, nil
}

// feedEntry is the wire form of one catalog descriptor.
type feedEntry struct {
	Name                string            `json:"name"`
	Description         string            `json:"description"`
	RepositoryURL       string            `json:"repository_url"`
	Category            string            `json:"category"`
	Author              string            `json:"author"`
	Version             string            `json:"version"`
	InstallationMethod  string            `json:"installation_method"`
	Capabilities        []string          `json:"capabilities"`
	Dependencies        []string          `json:"dependencies"`
	ConfigurationSchema map[string]string `json:"configuration_schema"`
	PopularityScore     int               `json:"popularity_score"`
	LastUpdated         string            `json:"last_updated"`
	IsOfficial          bool              `json:"is_official"`
	Tags                []string          `json:"tags"`
}

// Load reads, validates, and parses the feed into descriptors.
func (l *Loader) Load() ([]models.ServiceDescriptor, error) {
	data, err := l.read()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding feed: %v", ErrUnavailable, err)
	}
	if err := l.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: invalid feed entry: %v", ErrUnavailable, err)
	}

	var entries []feedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding feed: %v", ErrUnavailable, err)
	}

	descriptors := make([]models.ServiceDescriptor, 0, len(entries))
	for _, e := range entries {
		d, err := e.toDescriptor()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrUnavailable, e.Name, err)
		}
		if d.Version != "" {
			if _, err := semver.NewVersion(d.Version); err != nil {
				l.logger.Warn("Descriptor version is not semver", "name", d.Name, "version", d.Version)
			}
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// read returns the raw feed as JSON, converting YAML feeds when the
// configured path carries a .yaml/.yml extension.
func (l *Loader) read() ([]byte, error) {
	if l.path == "" {
		return defaultFeed, nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading feed %s: %v", ErrUnavailable, l.path, err)
	}
	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".yaml", ".yml":
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("%w: converting yaml feed %s: %v", ErrUnavailable, l.path, err)
		}
		return converted, nil
	}
	return data, nil
}

func (e feedEntry) toDescriptor() (models.ServiceDescriptor, error) {
	category := models.Category(e.Category)
	if !category.Valid() {
		return models.ServiceDescriptor{}, fmt.Errorf("unknown category %q", e.Category)
	}

	var lastUpdated time.Time
	if e.LastUpdated != "" {
		var err error
		lastUpdated, err = parseTimestamp(e.LastUpdated)
		if err != nil {
			return models.ServiceDescriptor{}, fmt.Errorf("invalid last_updated %q", e.LastUpdated)
		}
	}

	return models.ServiceDescriptor{
		Name:                e.Name,
		Description:         e.Description,
		RepositoryURL:       e.RepositoryURL,
		Category:            category,
		Author:              e.Author,
		Version:             e.Version,
		InstallationMethod:  e.InstallationMethod,
		Capabilities:        e.Capabilities,
		Dependencies:        e.Dependencies,
		ConfigurationSchema: e.ConfigurationSchema,
		PopularityScore:     e.PopularityScore,
		LastUpdated:         lastUpdated,
		IsOfficial:          e.IsOfficial,
		InstallationStatus:  models.StatusNotInstalled,
		Tags:                e.Tags,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
