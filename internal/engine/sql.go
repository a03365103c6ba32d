package engine

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Catalog queries used by session helpers. Relation names are always
// bound as parameters; only DDL interpolates identifiers, and those go
// through QualifiedName.
const (
	showSearchPathQuery = `SHOW search_path`

	currentUserQuery = `SELECT current_user`

	schemaExistsQuery = `
		SELECT EXISTS (
			SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1
		)`

	matviewExistsQuery = `
		SELECT EXISTS (
			SELECT 1 FROM pg_catalog.pg_matviews
			WHERE schemaname = $1 AND matviewname = $2
		)`

	uniqueIndexExistsQuery = `
		SELECT EXISTS (
			SELECT 1
			FROM pg_catalog.pg_index i
			JOIN pg_catalog.pg_class c ON c.oid = i.indrelid
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2 AND i.indisunique
		)`

	estimatedRowCountQuery = `
		SELECT c.reltuples::bigint
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`
)

// QualifiedName renders a schema-qualified, double-quoted relation name
// for interpolation into DDL.
func QualifiedName(schema, relation string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(relation)
}

// BuildCreateMaterializedView renders the CREATE statement for a view's
// defining query. The view is always populated on creation.
func BuildCreateMaterializedView(qualified, definitionSQL string) string {
	return fmt.Sprintf("CREATE MATERIALIZED VIEW %s AS %s WITH DATA", qualified, strings.TrimSpace(definitionSQL))
}

// BuildRefreshMaterializedView renders the REFRESH statement, optionally
// with CONCURRENTLY.
func BuildRefreshMaterializedView(qualified string, concurrently bool) string {
	if concurrently {
		return fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s", qualified)
	}

	return fmt.Sprintf("REFRESH MATERIALIZED VIEW %s", qualified)
}

// BuildDropMaterializedView renders the DROP statement. RESTRICT is
// spelled out even though it is PostgreSQL's default, so the recorded
// statement states the dependency behavior explicitly.
func BuildDropMaterializedView(qualified string, cascade bool) string {
	behavior := "RESTRICT"
	if cascade {
		behavior = "CASCADE"
	}

	return fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s %s", qualified, behavior)
}

// BuildRenameMaterializedView renders the ALTER ... RENAME statement.
// The new name is bare (unqualified) because PostgreSQL keeps the
// relation in its original schema on rename.
func BuildRenameMaterializedView(qualified, newName string) string {
	return fmt.Sprintf("ALTER MATERIALIZED VIEW %s RENAME TO %s", qualified, pq.QuoteIdentifier(newName))
}

// BuildCreateUniqueIndex renders the unique index statement required by
// concurrent refreshes.
func BuildCreateUniqueIndex(indexName, qualified string, columns []string, concurrently bool) string {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = pq.QuoteIdentifier(column)
	}

	keyword := ""
	if concurrently {
		keyword = "CONCURRENTLY "
	}

	return fmt.Sprintf("CREATE UNIQUE INDEX %s%s ON %s (%s)",
		keyword, pq.QuoteIdentifier(indexName), qualified, strings.Join(quoted, ", "))
}

// BuildCountRows renders the exact row count query for a view.
func BuildCountRows(qualified string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", qualified)
}

// UniqueIndexName derives the deterministic name for a view's unique
// index from its schema, view name and indexed columns. Deriving instead
// of storing lets a swap refresh recreate the same index the create
// operation built.
func UniqueIndexName(schema, view string, columns []string) string {
	parts := make([]string, 0, len(columns)+3)
	parts = append(parts, schema, view, "uniq")
	parts = append(parts, columns...)

	return strings.Join(parts, "_")
}
