package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/matview-io/matview/internal/config"
	"github.com/matview-io/matview/internal/matview"
)

// pqCodeUniqueViolation is the SQLSTATE raised when an insert hits the
// unique constraint on view_definitions.name.
const pqCodeUniqueViolation = "23505"

// PersistentDefinitionStore implements matview.DefinitionStore on
// PostgreSQL. Definitions are validated before they touch the database,
// so every row in view_definitions is executable as-is.
type PersistentDefinitionStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentDefinitionStore creates a definition store backed by the
// shared connection pool.
func NewPersistentDefinitionStore(conn *Connection) *PersistentDefinitionStore {
	return &PersistentDefinitionStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// CreateDefinition stores a new definition. The ID is assigned here when
// empty; the name must be globally unique.
func (s *PersistentDefinitionStore) CreateDefinition(ctx context.Context, def *matview.Definition) error {
	if def == nil {
		return matview.ErrDefinitionNil
	}

	if err := def.Validate(); err != nil {
		return err
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	query := `
		INSERT INTO view_definitions (id, name, sql, refresh_strategy, unique_index_columns, dependencies, schedule, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.conn.ExecContext(
		ctx,
		query,
		def.ID,
		def.Name,
		def.SQL,
		string(def.RefreshStrategy),
		pq.Array(def.UniqueIndexColumns),
		pq.Array(def.Dependencies),
		def.Schedule,
		def.CreatedAt,
		def.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqCodeUniqueViolation {
			return fmt.Errorf("%w: %q", matview.ErrDefinitionExists, def.Name)
		}

		return fmt.Errorf("failed to insert view definition: %w", err)
	}

	s.logger.Debug("View definition created",
		slog.String("definition_id", def.ID),
		slog.String("view", def.Name),
		slog.String("strategy", def.RefreshStrategy.String()))

	return nil
}

// UpdateDefinition replaces the mutable fields of an existing definition.
// The name is the view's identity and cannot change; dropping and
// recreating under a new definition is the supported rename path.
func (s *PersistentDefinitionStore) UpdateDefinition(ctx context.Context, def *matview.Definition) error {
	if def == nil {
		return matview.ErrDefinitionNil
	}

	if err := def.Validate(); err != nil {
		return err
	}

	if def.ID == "" {
		return fmt.Errorf("%w: missing ID", matview.ErrDefinitionNotFound)
	}

	def.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE view_definitions
		SET sql = $1, refresh_strategy = $2, unique_index_columns = $3, dependencies = $4, schedule = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := s.conn.ExecContext(
		ctx,
		query,
		def.SQL,
		string(def.RefreshStrategy),
		pq.Array(def.UniqueIndexColumns),
		pq.Array(def.Dependencies),
		def.Schedule,
		def.UpdatedAt,
		def.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update view definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", matview.ErrDefinitionNotFound, def.ID)
	}

	return nil
}

// GetDefinition fetches a definition by ID.
func (s *PersistentDefinitionStore) GetDefinition(ctx context.Context, id string) (*matview.Definition, error) {
	query := `
		SELECT id, name, sql, refresh_strategy, unique_index_columns, dependencies, schedule, created_at, updated_at
		FROM view_definitions
		WHERE id = $1
	`

	return s.getDefinition(ctx, query, id)
}

// GetDefinitionByName fetches a definition by its unique view name.
func (s *PersistentDefinitionStore) GetDefinitionByName(ctx context.Context, name string) (*matview.Definition, error) {
	query := `
		SELECT id, name, sql, refresh_strategy, unique_index_columns, dependencies, schedule, created_at, updated_at
		FROM view_definitions
		WHERE name = $1
	`

	return s.getDefinition(ctx, query, name)
}

// ListDefinitions returns all definitions ordered by name.
func (s *PersistentDefinitionStore) ListDefinitions(ctx context.Context) ([]*matview.Definition, error) {
	query := `
		SELECT id, name, sql, refresh_strategy, unique_index_columns, dependencies, schedule, created_at, updated_at
		FROM view_definitions
		ORDER BY name
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query view definitions: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var defs []*matview.Definition

	for rows.Next() {
		var def matview.Definition

		err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.SQL,
			&def.RefreshStrategy,
			pq.Array(&def.UniqueIndexColumns),
			pq.Array(&def.Dependencies),
			&def.Schedule,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan view definition: %w", err)
		}

		defs = append(defs, &def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if defs == nil {
		defs = []*matview.Definition{}
	}

	return defs, nil
}

// DeleteDefinition removes a definition by ID. Run records go with it
// via the foreign key cascade in the schema.
func (s *PersistentDefinitionStore) DeleteDefinition(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing ID", matview.ErrDefinitionNotFound)
	}

	query := `
		DELETE FROM view_definitions
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete view definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", matview.ErrDefinitionNotFound, id)
	}

	s.logger.Debug("View definition deleted", slog.String("definition_id", id))

	return nil
}

func (s *PersistentDefinitionStore) getDefinition(ctx context.Context, query string, arg any) (*matview.Definition, error) {
	var def matview.Definition

	err := s.conn.QueryRowContext(ctx, query, arg).Scan(
		&def.ID,
		&def.Name,
		&def.SQL,
		&def.RefreshStrategy,
		pq.Array(&def.UniqueIndexColumns),
		pq.Array(&def.Dependencies),
		&def.Schedule,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, matview.ErrDefinitionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query view definition: %w", err)
	}

	return &def, nil
}

// Compile-time interface check.
var _ matview.DefinitionStore = (*PersistentDefinitionStore)(nil)
