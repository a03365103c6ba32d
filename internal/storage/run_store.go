package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/matview-io/matview/internal/config"
	"github.com/matview-io/matview/internal/matview"
)

// defaultRunListLimit caps ListRuns when the caller passes no limit.
const defaultRunListLimit = 50

// PersistentRunStore implements matview.RunStore on PostgreSQL. Runs are
// inserted in the running state before the engine executes and finalized
// exactly once; the WHERE status = 'running' guard in FinalizeRun backs
// the in-memory state machine with a database-level check.
type PersistentRunStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentRunStore creates a run store backed by the shared
// connection pool.
func NewPersistentRunStore(conn *Connection) *PersistentRunStore {
	return &PersistentRunStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// CreateRun stores a new run. Runs are born running regardless of what
// the caller set; the ID and start time are assigned here when empty.
func (s *PersistentRunStore) CreateRun(ctx context.Context, run *matview.Run) error {
	if run == nil {
		return matview.ErrRunNil
	}

	if !run.Operation.IsValid() {
		return fmt.Errorf("%w: got %q", matview.ErrOperationInvalid, run.Operation)
	}

	if run.DefinitionID == "" {
		return fmt.Errorf("%w: run has no definition ID", matview.ErrDefinitionNotFound)
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	run.Status = matview.RunStatusRunning

	metaJSON, err := json.Marshal(run.Meta)
	if err != nil {
		return fmt.Errorf("failed to serialize run meta: %w", err)
	}

	query := `
		INSERT INTO view_runs (id, definition_id, operation, status, started_at, duration_ms, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.conn.ExecContext(
		ctx,
		query,
		run.ID,
		run.DefinitionID,
		string(run.Operation),
		string(run.Status),
		run.StartedAt,
		run.DurationMs,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug("Run created",
		slog.String("run_id", run.ID),
		slog.String("definition_id", run.DefinitionID),
		slog.String("operation", run.Operation.String()))

	return nil
}

// FinalizeRun writes the terminal fields of a finalized run. Only a run
// still in the running state can be finalized; a second finalize returns
// ErrRunTerminal.
func (s *PersistentRunStore) FinalizeRun(ctx context.Context, run *matview.Run) error {
	if run == nil {
		return matview.ErrRunNil
	}

	if run.ID == "" {
		return fmt.Errorf("%w: run has no ID", matview.ErrRunNotFound)
	}

	if !run.Status.IsTerminal() {
		return fmt.Errorf("%w: finalize requires a terminal status, got %q", matview.ErrInvalidRunTransition, run.Status)
	}

	metaJSON, err := json.Marshal(run.Meta)
	if err != nil {
		return fmt.Errorf("failed to serialize run meta: %w", err)
	}

	var errJSON []byte
	if run.Error != nil {
		errJSON, err = json.Marshal(run.Error)
		if err != nil {
			return fmt.Errorf("failed to serialize run error: %w", err)
		}
	}

	query := `
		UPDATE view_runs
		SET status = $1, finished_at = $2, duration_ms = $3, meta = $4, error = $5
		WHERE id = $6 AND status = $7
	`

	result, err := s.conn.ExecContext(
		ctx,
		query,
		string(run.Status),
		run.FinishedAt,
		run.DurationMs,
		metaJSON,
		errJSON,
		run.ID,
		string(matview.RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return s.finalizeConflict(ctx, run.ID)
	}

	return nil
}

// finalizeConflict tells a missing run apart from one already terminal.
func (s *PersistentRunStore) finalizeConflict(ctx context.Context, runID string) error {
	var status string

	err := s.conn.QueryRowContext(ctx, `SELECT status FROM view_runs WHERE id = $1`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", matview.ErrRunNotFound, runID)
	}

	if err != nil {
		return fmt.Errorf("failed to query run status: %w", err)
	}

	return fmt.Errorf("%w: run %s is already %s", matview.ErrRunTerminal, runID, status)
}

// GetRun fetches a run by ID.
func (s *PersistentRunStore) GetRun(ctx context.Context, id string) (*matview.Run, error) {
	query := `
		SELECT id, definition_id, operation, status, started_at, finished_at, duration_ms, meta, error
		FROM view_runs
		WHERE id = $1
	`

	var (
		run        matview.Run
		finishedAt sql.NullTime
		metaJSON   []byte
		errJSON    []byte
	)

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.DefinitionID,
		&run.Operation,
		&run.Status,
		&run.StartedAt,
		&finishedAt,
		&run.DurationMs,
		&metaJSON,
		&errJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", matview.ErrRunNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	if err := hydrateRun(&run, finishedAt, metaJSON, errJSON); err != nil {
		return nil, err
	}

	return &run, nil
}

// ListRuns returns recent runs newest first, filtered to one definition
// when definitionID is non-empty.
func (s *PersistentRunStore) ListRuns(ctx context.Context, definitionID string, limit int) ([]*matview.Run, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)

	if definitionID == "" {
		query := `
			SELECT id, definition_id, operation, status, started_at, finished_at, duration_ms, meta, error
			FROM view_runs
			ORDER BY started_at DESC
			LIMIT $1
		`
		rows, err = s.conn.QueryContext(ctx, query, limit)
	} else {
		query := `
			SELECT id, definition_id, operation, status, started_at, finished_at, duration_ms, meta, error
			FROM view_runs
			WHERE definition_id = $1
			ORDER BY started_at DESC
			LIMIT $2
		`
		rows, err = s.conn.QueryContext(ctx, query, definitionID, limit)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var runs []*matview.Run

	for rows.Next() {
		var (
			run        matview.Run
			finishedAt sql.NullTime
			metaJSON   []byte
			errJSON    []byte
		)

		err := rows.Scan(
			&run.ID,
			&run.DefinitionID,
			&run.Operation,
			&run.Status,
			&run.StartedAt,
			&finishedAt,
			&run.DurationMs,
			&metaJSON,
			&errJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if err := hydrateRun(&run, finishedAt, metaJSON, errJSON); err != nil {
			return nil, err
		}

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if runs == nil {
		runs = []*matview.Run{}
	}

	return runs, nil
}

// hydrateRun fills the nullable and JSONB fields scanned from a row.
func hydrateRun(run *matview.Run, finishedAt sql.NullTime, metaJSON, errJSON []byte) error {
	if finishedAt.Valid {
		t := finishedAt.Time

		run.FinishedAt = &t
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &run.Meta); err != nil {
			return fmt.Errorf("failed to parse run meta: %w", err)
		}
	}

	if len(errJSON) > 0 {
		var detail matview.ErrorDetail
		if err := json.Unmarshal(errJSON, &detail); err != nil {
			return fmt.Errorf("failed to parse run error: %w", err)
		}

		run.Error = &detail
	}

	return nil
}

// Compile-time interface check.
var _ matview.RunStore = (*PersistentRunStore)(nil)
