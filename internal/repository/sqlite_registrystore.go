package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"marketplace-mcp/backend/internal/logging"
	"marketplace-mcp/backend/pkg/models"
)

// SQLiteRegistryStore is a SQLite implementation of the RegistryStore
// interface, backed by a single database file.
type SQLiteRegistryStore struct {
	db     *sql.DB
	logger *logging.Logger

	initOnce sync.Once
	initErr  error
}

// NewSQLiteRegistryStore opens or creates the registry database at dbPath.
// maxConns bounds the connection pool; values below 1 fall back to 1.
// Schema creation is deferred to first use.
func NewSQLiteRegistryStore(dbPath string, maxConns int, logger *logging.Logger) (*SQLiteRegistryStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %v", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrStoreUnavailable, err)
	}
	if maxConns < 1 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping db: %v", ErrStoreUnavailable, err)
	}

	return &SQLiteRegistryStore{db: db, logger: logger}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS service_descriptors (
	name                 TEXT PRIMARY KEY,
	description          TEXT NOT NULL DEFAULT '',
	repository_url       TEXT NOT NULL DEFAULT '',
	category             TEXT NOT NULL,
	author               TEXT NOT NULL DEFAULT '',
	version              TEXT NOT NULL DEFAULT '',
	installation_method  TEXT NOT NULL DEFAULT '',
	capabilities         TEXT,
	dependencies         TEXT,
	configuration_schema TEXT,
	popularity_score     INTEGER NOT NULL DEFAULT 0,
	last_updated         TEXT,
	is_official          INTEGER NOT NULL DEFAULT 0,
	is_installed         INTEGER NOT NULL DEFAULT 0,
	installation_status  TEXT NOT NULL DEFAULT 'not_installed',
	tags                 TEXT,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_descriptors_category ON service_descriptors(category);
CREATE INDEX IF NOT EXISTS idx_descriptors_rank ON service_descriptors(popularity_score DESC, name ASC);
CREATE INDEX IF NOT EXISTS idx_descriptors_installed ON service_descriptors(is_installed);

CREATE TABLE IF NOT EXISTS learning_records (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	interaction_type TEXT NOT NULL,
	context          TEXT,
	insight          TEXT NOT NULL DEFAULT '',
	timestamp        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learning_type ON learning_records(interaction_type);
`

// ensureSchema creates the tables exactly once, no matter how many
// requests race to be first.
func (s *SQLiteRegistryStore) ensureSchema(ctx context.Context) error {
	s.initOnce.Do(func() {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			s.initErr = fmt.Errorf("%w: create schema: %v", ErrStoreUnavailable, err)
		}
	})
	return s.initErr
}

// withConn runs fn with a dedicated connection from the pool, releasing
// it on every exit path.
func (s *SQLiteRegistryStore) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %v", ErrStoreUnavailable, err)
	}
	defer conn.Close()
	return fn(conn)
}

const descriptorColumns = `name, description, repository_url, category, author, version,
	installation_method, capabilities, dependencies, configuration_schema,
	popularity_score, last_updated, is_official, is_installed,
	installation_status, tags, created_at, updated_at`

const upsertDescriptor = `
INSERT INTO service_descriptors (
	name, description, repository_url, category, author, version,
	installation_method, capabilities, dependencies, configuration_schema,
	popularity_score, last_updated, is_official, is_installed,
	installation_status, tags, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	description          = excluded.description,
	repository_url       = excluded.repository_url,
	category             = excluded.category,
	author               = excluded.author,
	version              = excluded.version,
	installation_method  = excluded.installation_method,
	capabilities         = excluded.capabilities,
	dependencies         = excluded.dependencies,
	configuration_schema = excluded.configuration_schema,
	popularity_score     = excluded.popularity_score,
	last_updated         = excluded.last_updated,
	is_official          = excluded.is_official,
	tags                 = excluded.tags,
	updated_at           = excluded.updated_at`

// SyncDescriptors reconciles a loaded catalog into the registry. The whole
// batch is one transaction: either all descriptors land or none do.
// Existing is_installed/installation_status values are operator state and
// are never touched by a sync.
func (s *SQLiteRegistryStore) SyncDescriptors(ctx context.Context, descriptors []models.ServiceDescriptor) (int, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return 0, err
	}

	for _, d := range descriptors {
		if d.Name == "" {
			return 0, fmt.Errorf("%w: descriptor with empty name", ErrConstraintViolation)
		}
		if !d.Category.Valid() {
			return 0, fmt.Errorf("%w: descriptor %q has unknown category %q", ErrConstraintViolation, d.Name, d.Category)
		}
	}

	count := 0
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin sync: %v", ErrStoreUnavailable, err)
		}
		defer tx.Rollback()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, d := range descriptors {
			capabilities, err := marshalJSON(d.Capabilities)
			if err != nil {
				return err
			}
			dependencies, err := marshalJSON(d.Dependencies)
			if err != nil {
				return err
			}
			configSchema, err := marshalJSON(d.ConfigurationSchema)
			if err != nil {
				return err
			}
			tags, err := marshalJSON(d.Tags)
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, upsertDescriptor,
				d.Name, d.Description, d.RepositoryURL, string(d.Category), d.Author, d.Version,
				d.InstallationMethod, capabilities, dependencies, configSchema,
				d.PopularityScore, formatTime(d.LastUpdated), d.IsOfficial,
				string(models.StatusNotInstalled), tags, now, now)
			if err != nil {
				return storeError("sync descriptor "+d.Name, err)
			}
			count++
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Search executes a ranked, filterable query against the registry.
// Ordering is always (popularity_score desc, name asc) so ties resolve
// deterministically.
func (s *SQLiteRegistryStore) Search(ctx context.Context, opts models.SearchOptions) ([]models.ServiceDescriptor, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	var where []string
	var args []interface{}

	if opts.Query != "" {
		pattern := "%" + strings.ToLower(opts.Query) + "%"
		where = append(where, "(lower(name) LIKE ? OR lower(description) LIKE ? OR lower(tags) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if opts.Category != nil {
		where = append(where, "category = ?")
		args = append(args, string(*opts.Category))
	}
	if opts.OfficialOnly {
		where = append(where, "is_official = 1")
	}

	query := "SELECT " + descriptorColumns + " FROM service_descriptors"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY popularity_score DESC, name ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("search", err)
	}
	defer rows.Close()

	var descriptors []models.ServiceDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, rows.Err()
}

// GetByName retrieves a descriptor by exact name.
func (s *SQLiteRegistryStore) GetByName(ctx context.Context, name string) (*models.ServiceDescriptor, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT "+descriptorColumns+" FROM service_descriptors WHERE name = ?", name)
	d, err := scanDescriptor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return &d, nil
}

// UpdateInstallStatus transitions a descriptor's install status, keeping
// is_installed in lockstep. Setting the current status again is a no-op.
// Invalid transitions fail with ErrConstraintViolation.
func (s *SQLiteRegistryStore) UpdateInstallStatus(ctx context.Context, name string, status models.InstallationStatus) (*models.ServiceDescriptor, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown installation status %q", ErrConstraintViolation, status)
	}

	err := s.withConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin status update: %v", ErrStoreUnavailable, err)
		}
		defer tx.Rollback()

		var current models.InstallationStatus
		err = tx.QueryRowContext(ctx,
			"SELECT installation_status FROM service_descriptors WHERE name = ?", name).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		if err != nil {
			return storeError("read install status", err)
		}

		if current == status {
			return tx.Commit()
		}
		if !current.CanTransitionTo(status) {
			return fmt.Errorf("%w: install status %s -> %s for %s", ErrConstraintViolation, current, status, name)
		}

		now := time.Now().UTC().Format(time.RFC3339)
		_, err = tx.ExecContext(ctx,
			"UPDATE service_descriptors SET installation_status = ?, is_installed = ?, updated_at = ? WHERE name = ?",
			string(status), status == models.StatusInstalled, now, name)
		if err != nil {
			return storeError("update install status", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return s.GetByName(ctx, name)
}

// ListInstalled returns all installed descriptors in rank order.
func (s *SQLiteRegistryStore) ListInstalled(ctx context.Context) ([]models.ServiceDescriptor, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+descriptorColumns+" FROM service_descriptors WHERE is_installed = 1 ORDER BY popularity_score DESC, name ASC")
	if err != nil {
		return nil, storeError("list installed", err)
	}
	defer rows.Close()

	var descriptors []models.ServiceDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, rows.Err()
}

// AppendLearningRecord appends one learning record. Records are
// append-only; there is no update or delete path.
func (s *SQLiteRegistryStore) AppendLearningRecord(ctx context.Context, record *models.LearningRecord) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	contextJSON, err := marshalJSON(record.Context)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO learning_records (interaction_type, context, insight, timestamp) VALUES (?, ?, ?, ?)",
		record.InteractionType, contextJSON, record.Insight, record.Timestamp.Format(time.RFC3339))
	if err != nil {
		return storeError("append learning record", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// ListLearningRecords returns recent records newest first, optionally
// filtered by interaction type.
func (s *SQLiteRegistryStore) ListLearningRecords(ctx context.Context, interactionType string, limit int) ([]models.LearningRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	query := "SELECT id, interaction_type, context, insight, timestamp FROM learning_records"
	var args []interface{}
	if interactionType != "" {
		query += " WHERE interaction_type = ?"
		args = append(args, interactionType)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list learning records", err)
	}
	defer rows.Close()

	var records []models.LearningRecord
	for rows.Next() {
		var r models.LearningRecord
		var contextJSON sql.NullString
		var ts string
		if err := rows.Scan(&r.ID, &r.InteractionType, &contextJSON, &r.Insight, &ts); err != nil {
			return nil, err
		}
		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &r.Context); err != nil {
				return nil, fmt.Errorf("decode learning context: %w", err)
			}
		}
		r.Timestamp, _ = time.Parse(time.RFC3339, ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the store.
func (s *SQLiteRegistryStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDescriptor(row scanner) (models.ServiceDescriptor, error) {
	var d models.ServiceDescriptor
	var capabilities, dependencies, configSchema, tags, lastUpdated sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&d.Name, &d.Description, &d.RepositoryURL, &d.Category, &d.Author, &d.Version,
		&d.InstallationMethod, &capabilities, &dependencies, &configSchema,
		&d.PopularityScore, &lastUpdated, &d.IsOfficial, &d.IsInstalled,
		&d.InstallationStatus, &tags, &createdAt, &updatedAt,
	)
	if err != nil {
		return d, err
	}

	if capabilities.Valid {
		json.Unmarshal([]byte(capabilities.String), &d.Capabilities)
	}
	if dependencies.Valid {
		json.Unmarshal([]byte(dependencies.String), &d.Dependencies)
	}
	if configSchema.Valid {
		json.Unmarshal([]byte(configSchema.String), &d.ConfigurationSchema)
	}
	if tags.Valid {
		json.Unmarshal([]byte(tags.String), &d.Tags)
	}
	if lastUpdated.Valid && lastUpdated.String != "" {
		d.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated.String)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return d, nil
}

// marshalJSON encodes structured fields for their TEXT columns; nil and
// empty values are stored as NULL.
func marshalJSON(v interface{}) (sql.NullString, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case nil:
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode json column: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// storeError maps driver failures onto the store error taxonomy.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "constraint") {
		return fmt.Errorf("%w: %s: %v", ErrConstraintViolation, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
