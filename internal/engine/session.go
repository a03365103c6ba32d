package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/matview-io/matview/internal/matview"
)

// Session carries per-operation state: the connection, the resolved
// schema and the DDL statements executed so far. A fresh Session is
// created for every Run invocation, so nothing here needs locking.
type Session struct {
	conn   Conn
	logger *slog.Logger

	schema     string
	statements []string
}

// NewSession returns a session bound to one connection and logger.
func NewSession(conn Conn, logger *slog.Logger) *Session {
	return &Session{
		conn:   conn,
		logger: logger,
	}
}

// Exec runs one DDL statement on the session connection and records it
// on success.
func (s *Session) Exec(ctx context.Context, stmt string) error {
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return err
	}

	s.statements = append(s.statements, stmt)

	return nil
}

// ExecTx runs one DDL statement inside an open transaction and records
// it on success.
func (s *Session) ExecTx(ctx context.Context, tx *sql.Tx, stmt string) error {
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}

	s.statements = append(s.statements, stmt)

	return nil
}

// Begin opens a transaction on the session connection.
func (s *Session) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.conn.BeginTx(ctx, nil)
}

// Statements returns the DDL statements executed so far, in order.
func (s *Session) Statements() []string {
	return s.statements
}

// ConnectionIdle reports whether the connection is outside any
// transaction and can therefore run CONCURRENTLY variants. Connections
// that cannot report their status are assumed to be mid-transaction.
func (s *Session) ConnectionIdle() bool {
	reporter, ok := s.conn.(TransactionStatusReporter)
	if !ok {
		return false
	}

	return !reporter.InTransaction()
}

// CurrentSchema resolves the schema unqualified view names land in: the
// first entry of the connection's search_path that names an existing
// schema, with $user expanded to the current role. Falls back to public
// when nothing on the path exists. The result is cached for the life of
// the session.
func (s *Session) CurrentSchema(ctx context.Context) (string, error) {
	if s.schema != "" {
		return s.schema, nil
	}

	var searchPath string
	if err := s.conn.QueryRowContext(ctx, showSearchPathQuery).Scan(&searchPath); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSchemaResolution, err)
	}

	for _, candidate := range parseSearchPath(searchPath) {
		if candidate == "$user" {
			if err := s.conn.QueryRowContext(ctx, currentUserQuery).Scan(&candidate); err != nil {
				return "", fmt.Errorf("%w: %w", ErrSchemaResolution, err)
			}
		}

		exists, err := s.schemaExists(ctx, candidate)
		if err != nil {
			return "", err
		}

		if exists {
			s.schema = candidate

			return s.schema, nil
		}
	}

	s.logger.Debug("No search_path entry exists, falling back to public schema",
		slog.String("search_path", searchPath))

	s.schema = "public"

	return s.schema, nil
}

// ViewExists reports whether a materialized view with this name exists
// in the session's resolved schema.
func (s *Session) ViewExists(ctx context.Context, view string) (bool, error) {
	schema, err := s.CurrentSchema(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := s.conn.QueryRowContext(ctx, matviewExistsQuery, schema, view).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCatalogQueryFailed, err)
	}

	return exists, nil
}

// HasUniqueIndex reports whether the view carries at least one unique
// index, the precondition for REFRESH ... CONCURRENTLY.
func (s *Session) HasUniqueIndex(ctx context.Context, view string) (bool, error) {
	schema, err := s.CurrentSchema(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := s.conn.QueryRowContext(ctx, uniqueIndexExistsQuery, schema, view).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCatalogQueryFailed, err)
	}

	return exists, nil
}

// RowCount measures a view's row count under the requested strategy.
// The none strategy returns the unknown sentinel without touching the
// database at all; estimated reads the planner's reltuples estimate;
// exact pays for a full COUNT(*). A vanished view yields unknown rather
// than an error, since counts are advisory.
func (s *Session) RowCount(ctx context.Context, strategy matview.RowCountStrategy, view string) (int64, error) {
	switch strategy.Normalize() {
	case matview.RowCountEstimated:
		return s.estimatedRowCount(ctx, view)
	case matview.RowCountExact:
		return s.exactRowCount(ctx, view)
	default:
		return matview.RowCountUnknown, nil
	}
}

func (s *Session) estimatedRowCount(ctx context.Context, view string) (int64, error) {
	schema, err := s.CurrentSchema(ctx)
	if err != nil {
		return matview.RowCountUnknown, err
	}

	var estimate int64

	err = s.conn.QueryRowContext(ctx, estimatedRowCountQuery, schema, view).Scan(&estimate)
	if errors.Is(err, sql.ErrNoRows) {
		return matview.RowCountUnknown, nil
	}

	if err != nil {
		return matview.RowCountUnknown, fmt.Errorf("%w: %w", ErrCatalogQueryFailed, err)
	}

	// Never-analyzed relations report -1 in recent PostgreSQL versions.
	if estimate < 0 {
		return matview.RowCountUnknown, nil
	}

	return estimate, nil
}

func (s *Session) exactRowCount(ctx context.Context, view string) (int64, error) {
	schema, err := s.CurrentSchema(ctx)
	if err != nil {
		return matview.RowCountUnknown, err
	}

	var count int64
	if err := s.conn.QueryRowContext(ctx, BuildCountRows(QualifiedName(schema, view))).Scan(&count); err != nil {
		return matview.RowCountUnknown, fmt.Errorf("%w: %w", ErrCatalogQueryFailed, err)
	}

	return count, nil
}

func (s *Session) schemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	if err := s.conn.QueryRowContext(ctx, schemaExistsQuery, schema).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: %w", ErrSchemaResolution, err)
	}

	return exists, nil
}

// parseSearchPath splits a SHOW search_path value into candidate schema
// names, trimming whitespace and surrounding double quotes.
func parseSearchPath(searchPath string) []string {
	raw := strings.Split(searchPath, ",")

	candidates := make([]string, 0, len(raw))

	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		entry = strings.Trim(entry, `"`)

		if entry == "" {
			continue
		}

		candidates = append(candidates, entry)
	}

	return candidates
}
