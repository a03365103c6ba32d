package runner

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matview-io/matview/internal/matview"
	"github.com/matview-io/matview/internal/metrics"
	"github.com/matview-io/matview/internal/queue"
	"github.com/matview-io/matview/internal/storage"
)

// catalog scripts the database state behind the stub driver: whether the
// view and its unique index exist, and which DDL statements ran.
type catalog struct {
	viewExists  bool
	indexExists bool
	execed      []string
}

type stubDriver struct {
	catalog *catalog
}

func (d *stubDriver) Open(_ string) (driver.Conn, error) {
	return &stubConn{catalog: d.catalog}, nil
}

type stubConn struct {
	catalog *catalog
}

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return &stubStmt{catalog: c.catalog, query: query}, nil
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) {
	return stubTx{}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubStmt struct {
	catalog *catalog
	query   string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }

func (s *stubStmt) Exec(_ []driver.Value) (driver.Result, error) {
	s.catalog.execed = append(s.catalog.execed, s.query)

	// DDL mutates the scripted catalog so a refresh after a create sees
	// the view.
	switch {
	case strings.Contains(s.query, "CREATE MATERIALIZED VIEW"):
		s.catalog.viewExists = true
	case strings.Contains(s.query, "DROP MATERIALIZED VIEW"):
		s.catalog.viewExists = false
	case strings.Contains(s.query, "CREATE UNIQUE INDEX"):
		s.catalog.indexExists = true
	}

	return driver.RowsAffected(1), nil
}

func (s *stubStmt) Query(_ []driver.Value) (driver.Rows, error) {
	switch {
	case strings.Contains(s.query, "SHOW search_path"):
		return oneRow("search_path", "public"), nil
	case strings.Contains(s.query, "pg_namespace") && !strings.Contains(s.query, "pg_class"):
		return oneRow("exists", true), nil
	case strings.Contains(s.query, "pg_matviews"):
		return oneRow("exists", s.catalog.viewExists), nil
	case strings.Contains(s.query, "pg_index"):
		return oneRow("exists", s.catalog.indexExists), nil
	default:
		return nil, fmt.Errorf("unscripted query: %s", s.query)
	}
}

type stubRows struct {
	columns []string
	values  [][]driver.Value
	pos     int
}

func (r *stubRows) Columns() []string { return r.columns }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}

	copy(dest, r.values[r.pos])
	r.pos++

	return nil
}

func oneRow(column string, value driver.Value) *stubRows {
	return &stubRows{
		columns: []string{column},
		values:  [][]driver.Value{{value}},
	}
}

// newStubDB creates an *sql.DB over the stub driver.
func newStubDB(t *testing.T, c *catalog) *sql.DB {
	t.Helper()

	driverName := fmt.Sprintf("matview_runner_stub_%s_%d", t.Name(), time.Now().UnixNano())
	sql.Register(driverName, &stubDriver{catalog: c})

	db, err := sql.Open(driverName, "")
	if err != nil {
		t.Fatalf("failed to open stub database: %v", err)
	}

	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testHarness wires a Runner over the stub driver and in-memory stores
// with a definition already saved.
type testHarness struct {
	runner      *Runner
	catalog     *catalog
	definitions *storage.InMemoryDefinitionStore
	runs        *storage.InMemoryRunStore
	def         *matview.Definition
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	c := &catalog{}
	db := newStubDB(t, c)
	definitions := storage.NewInMemoryDefinitionStore()
	runs := storage.NewInMemoryRunStore()
	definitions.AttachRunStore(runs)

	def := &matview.Definition{
		Name:            "mv_orders",
		SQL:             "SELECT order_id, total FROM orders",
		RefreshStrategy: matview.RefreshStrategyRegular,
	}

	if err := definitions.CreateDefinition(t.Context(), def); err != nil {
		t.Fatalf("failed to seed definition: %v", err)
	}

	r, err := New(db, definitions, runs, testLogger())
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}

	return &testHarness{
		runner:      r,
		catalog:     c,
		definitions: definitions,
		runs:        runs,
		def:         def,
	}
}

func TestNewValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	definitions := storage.NewInMemoryDefinitionStore()
	runs := storage.NewInMemoryRunStore()
	db := newStubDB(t, &catalog{})

	if _, err := New(nil, definitions, runs, nil); !errors.Is(err, ErrConnNil) {
		t.Errorf("expected ErrConnNil, got %v", err)
	}

	if _, err := New(db, nil, runs, nil); !errors.Is(err, ErrDefinitionStoreNil) {
		t.Errorf("expected ErrDefinitionStoreNil, got %v", err)
	}

	if _, err := New(db, definitions, nil, nil); !errors.Is(err, ErrRunStoreNil) {
		t.Errorf("expected ErrRunStoreNil, got %v", err)
	}

	if _, err := New(db, definitions, runs, nil); err != nil {
		t.Errorf("expected runner with nil logger to build, got %v", err)
	}
}

func TestRunnerRecordsSuccessfulRun(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)

	resp, err := h.runner.Create(t.Context(), h.def, matview.CreateOptions{})
	if err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}

	if resp.Status != matview.StatusCreated {
		t.Errorf("expected status created, got %q", resp.Status)
	}

	if resp.Response.View != "public.mv_orders" {
		t.Errorf("expected qualified view name, got %q", resp.Response.View)
	}

	runs, err := h.runs.ListRuns(t.Context(), h.def.ID, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(runs))
	}

	run := runs[0]

	if run.Status != matview.RunStatusSuccess {
		t.Errorf("expected run status success, got %q", run.Status)
	}

	if run.Operation != matview.OperationCreate {
		t.Errorf("expected run operation create, got %q", run.Operation)
	}

	if run.FinishedAt == nil {
		t.Error("expected finalized run to have FinishedAt")
	}

	if run.Error != nil {
		t.Errorf("expected no error detail on success, got %+v", run.Error)
	}

	if run.Meta.Request.Operation != matview.OperationCreate {
		t.Errorf("expected request echo in meta, got %+v", run.Meta.Request)
	}

	if run.Meta.Response.View != "public.mv_orders" {
		t.Errorf("expected response payload in meta, got %+v", run.Meta.Response)
	}
}

func TestRunnerRecordsFailedRunAndReRaises(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)

	// The view was never created, so a regular refresh fails its
	// precondition.
	resp, err := h.runner.Refresh(t.Context(), h.def, matview.RefreshOptions{})

	if !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("expected ErrOperationFailed, got %v", err)
	}

	if !resp.Failed() {
		t.Fatalf("expected failed response, got status %q", resp.Status)
	}

	if resp.Error.Class != "not_found" {
		t.Errorf("expected not_found class, got %q", resp.Error.Class)
	}

	runs, err := h.runs.ListRuns(t.Context(), h.def.ID, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(runs))
	}

	run := runs[0]

	if run.Status != matview.RunStatusFailed {
		t.Errorf("expected run status failed, got %q", run.Status)
	}

	if run.Error == nil || run.Error.Class != "not_found" {
		t.Errorf("expected not_found error detail on run, got %+v", run.Error)
	}
}

func TestRunnerExecuteDispatchesJobs(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)

	createJob := queue.NewJob(matview.OperationCreate, h.def.ID)

	resp, err := h.runner.Execute(t.Context(), createJob)
	if err != nil {
		t.Fatalf("create job failed: %v", err)
	}

	if resp.Status != matview.StatusCreated {
		t.Errorf("expected created, got %q", resp.Status)
	}

	refreshJob := queue.NewJob(matview.OperationRefresh, h.def.ID)

	resp, err = h.runner.Execute(t.Context(), refreshJob)
	if err != nil {
		t.Fatalf("refresh job failed: %v", err)
	}

	if resp.Status != matview.StatusUpdated {
		t.Errorf("expected updated, got %q", resp.Status)
	}

	dropJob := queue.NewJob(matview.OperationDrop, h.def.ID)
	dropJob.Cascade = true

	resp, err = h.runner.Execute(t.Context(), dropJob)
	if err != nil {
		t.Fatalf("drop job failed: %v", err)
	}

	if resp.Status != matview.StatusDeleted {
		t.Errorf("expected deleted, got %q", resp.Status)
	}

	if !resp.Request.Cascade {
		t.Error("expected cascade option echoed in the request")
	}

	runs, err := h.runs.ListRuns(t.Context(), h.def.ID, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 3 {
		t.Errorf("expected 3 run records, got %d", len(runs))
	}
}

func TestRunnerExecuteUnknownDefinition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)

	job := queue.NewJob(matview.OperationRefresh, "0b0b2a9e-9d1c-4a44-8a63-1a2b3c4d5e6f")

	resp, err := h.runner.Execute(t.Context(), job)

	if !errors.Is(err, matview.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}

	if resp != nil {
		t.Errorf("expected no response for unresolvable job, got %+v", resp)
	}

	// No definition, no audit record.
	runs, err := h.runs.ListRuns(t.Context(), "", 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}

	if len(runs) != 0 {
		t.Errorf("expected no run records, got %d", len(runs))
	}
}

func TestRunnerExecuteRejectsInvalidJob(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)

	_, err := h.runner.Execute(t.Context(), &queue.Job{ID: "job-1", Operation: "vacuum", DefinitionID: h.def.ID})
	if !errors.Is(err, matview.ErrOperationInvalid) {
		t.Errorf("expected ErrOperationInvalid, got %v", err)
	}
}

func TestRunnerNilDefinition(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	h := newTestHarness(t)

	if _, err := h.runner.Create(t.Context(), nil, matview.CreateOptions{}); !errors.Is(err, matview.ErrDefinitionNil) {
		t.Errorf("expected ErrDefinitionNil, got %v", err)
	}
}

// createFailStore rejects every CreateRun call.
type createFailStore struct {
	matview.RunStore
}

func (s *createFailStore) CreateRun(_ context.Context, _ *matview.Run) error {
	return errors.New("audit database unavailable")
}

func TestRunnerAbortsWhenAuditCreateFails(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	c := &catalog{}
	db := newStubDB(t, c)
	definitions := storage.NewInMemoryDefinitionStore()

	def := &matview.Definition{
		Name:            "mv_orders",
		SQL:             "SELECT order_id, total FROM orders",
		RefreshStrategy: matview.RefreshStrategyRegular,
	}

	if err := definitions.CreateDefinition(t.Context(), def); err != nil {
		t.Fatalf("failed to seed definition: %v", err)
	}

	r, err := New(db, definitions, &createFailStore{RunStore: storage.NewInMemoryRunStore()}, testLogger())
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}

	resp, err := r.Create(t.Context(), def, matview.CreateOptions{})

	if !errors.Is(err, ErrAuditCreateFailed) {
		t.Fatalf("expected ErrAuditCreateFailed, got %v", err)
	}

	if !resp.Failed() {
		t.Errorf("expected error response, got status %q", resp.Status)
	}

	if len(c.execed) != 0 {
		t.Errorf("expected no DDL without an audit record, got %v", c.execed)
	}
}

// finalizeFailStore accepts CreateRun but rejects FinalizeRun.
type finalizeFailStore struct {
	matview.RunStore
}

func (s *finalizeFailStore) FinalizeRun(_ context.Context, _ *matview.Run) error {
	return errors.New("audit database unavailable")
}

func TestRunnerFinalizeFailureNeverMasksOutcome(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	c := &catalog{}
	db := newStubDB(t, c)
	definitions := storage.NewInMemoryDefinitionStore()

	def := &matview.Definition{
		Name:            "mv_orders",
		SQL:             "SELECT order_id, total FROM orders",
		RefreshStrategy: matview.RefreshStrategyRegular,
	}

	if err := definitions.CreateDefinition(t.Context(), def); err != nil {
		t.Fatalf("failed to seed definition: %v", err)
	}

	r, err := New(db, definitions, &finalizeFailStore{RunStore: storage.NewInMemoryRunStore()}, testLogger())
	if err != nil {
		t.Fatalf("failed to build runner: %v", err)
	}

	before := testutil.ToFloat64(metrics.AuditFinalizeFailures)

	resp, err := r.Create(t.Context(), def, matview.CreateOptions{})
	if err != nil {
		t.Fatalf("expected finalize failure to stay silent, got %v", err)
	}

	if !resp.OK() {
		t.Errorf("expected success response, got status %q", resp.Status)
	}

	if delta := testutil.ToFloat64(metrics.AuditFinalizeFailures) - before; delta != 1 {
		t.Errorf("expected finalize failure counter to grow by 1, got %v", delta)
	}
}
