package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"github.com/matview-io/matview/internal/matview"
	"github.com/matview-io/matview/internal/queue"
	"github.com/matview-io/matview/internal/runner"
	"github.com/matview-io/matview/internal/storage"
)

const defaultRunsLimit = 20

var (
	// ErrViewNameRequired indicates the subcommand needs a view name argument.
	ErrViewNameRequired = errors.New("view name argument required")

	// ErrEnqueueNeedsKafka indicates enqueue was attempted against the
	// in-process backend, which only exists inside the daemon process.
	ErrEnqueueNeedsKafka = errors.New(
		"enqueue requires the kafka queue backend: set MATVIEW_QUEUE_BACKEND=kafka")
)

// cmdCreate creates the materialized view for a stored definition.
func cmdCreate(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	force := fs.Bool("force", false, "drop and recreate an existing view")

	viewName, err := parseViewCommand(fs, args)
	if err != nil {
		return err
	}

	conn, definitions, runs, err := openStores()
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()

	def, err := definitions.GetDefinitionByName(ctx, viewName)
	if err != nil {
		return err
	}

	jobRunner, err := runner.New(conn, definitions, runs, logger)
	if err != nil {
		return err
	}

	resp, err := jobRunner.Create(ctx, def, matview.CreateOptions{Force: *force})

	return printOutcome(resp, err)
}

// cmdRefresh refreshes the view using its configured strategy.
func cmdRefresh(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	rowCount := fs.String("row-count", "none", "row count strategy: none, estimated, or exact")

	viewName, err := parseViewCommand(fs, args)
	if err != nil {
		return err
	}

	strategy, err := parseRowCount(*rowCount)
	if err != nil {
		return err
	}

	conn, definitions, runs, err := openStores()
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()

	def, err := definitions.GetDefinitionByName(ctx, viewName)
	if err != nil {
		return err
	}

	jobRunner, err := runner.New(conn, definitions, runs, logger)
	if err != nil {
		return err
	}

	resp, err := jobRunner.Refresh(ctx, def, matview.RefreshOptions{RowCount: strategy})

	return printOutcome(resp, err)
}

// cmdDrop drops the materialized view.
func cmdDrop(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("drop", flag.ContinueOnError)
	cascade := fs.Bool("cascade", false, "drop dependent objects too")
	rowCount := fs.String("row-count", "none", "row count strategy for the before count")

	viewName, err := parseViewCommand(fs, args)
	if err != nil {
		return err
	}

	strategy, err := parseRowCount(*rowCount)
	if err != nil {
		return err
	}

	conn, definitions, runs, err := openStores()
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()

	def, err := definitions.GetDefinitionByName(ctx, viewName)
	if err != nil {
		return err
	}

	jobRunner, err := runner.New(conn, definitions, runs, logger)
	if err != nil {
		return err
	}

	resp, err := jobRunner.Drop(ctx, def, matview.DropOptions{Cascade: *cascade, RowCount: strategy})

	return printOutcome(resp, err)
}

// cmdList prints all stored view definitions as JSON.
func cmdList(_ []string, _ *slog.Logger) error {
	conn, definitions, _, err := openStores()
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	defs, err := definitions.ListDefinitions(context.Background())
	if err != nil {
		return err
	}

	if defs == nil {
		defs = []*matview.Definition{}
	}

	return printJSON(defs)
}

// cmdRuns prints recent runs, newest first. With a view name argument
// only that view's runs are shown.
func cmdRuns(args []string, _ *slog.Logger) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", defaultRunsLimit, "maximum number of runs to show")

	viewName := ""

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		viewName = args[0]
		args = args[1:]
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if viewName == "" {
		viewName = fs.Arg(0)
	}

	conn, definitions, runs, err := openStores()
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()

	definitionID := ""

	if viewName != "" {
		def, err := definitions.GetDefinitionByName(ctx, viewName)
		if err != nil {
			return err
		}

		definitionID = def.ID
	}

	records, err := runs.ListRuns(ctx, definitionID, *limit)
	if err != nil {
		return err
	}

	if records == nil {
		records = []*matview.Run{}
	}

	return printJSON(records)
}

// cmdEnqueue hands an operation to the worker daemon through the queue
// instead of executing it in this process.
func cmdEnqueue(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)

	var (
		op       = fs.String("op", "", "operation to enqueue: create, refresh, or drop")
		viewName = fs.String("view", "", "view name the operation targets")
		force    = fs.Bool("force", false, "create only: drop and recreate an existing view")
		cascade  = fs.Bool("cascade", false, "drop only: drop dependent objects too")
		rowCount = fs.String("row-count", "none", "row count strategy: none, estimated, or exact")
	)

	if err := fs.Parse(args); err != nil {
		return err
	}

	operation := matview.OperationKind(*op)
	if !operation.IsValid() {
		return fmt.Errorf("%w: got %q", matview.ErrOperationInvalid, *op)
	}

	if *viewName == "" {
		return ErrViewNameRequired
	}

	strategy, err := parseRowCount(*rowCount)
	if err != nil {
		return err
	}

	queueConfig := queue.LoadConfig()
	if queueConfig.Backend != queue.BackendKafka {
		return fmt.Errorf("%w: got %q", ErrEnqueueNeedsKafka, queueConfig.Backend)
	}

	conn, definitions, _, err := openStores()
	if err != nil {
		return err
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()

	def, err := definitions.GetDefinitionByName(ctx, *viewName)
	if err != nil {
		return err
	}

	backend, err := queue.NewBackend(queueConfig, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = backend.Close()
	}()

	job := queue.NewJob(operation, def.ID)
	job.Force = *force
	job.Cascade = *cascade
	job.RowCount = strategy

	if err := backend.Enqueue(ctx, job); err != nil {
		return err
	}

	return printJSON(job)
}

// parseViewCommand extracts the view name and parses the remaining
// flags. The name may come before or after the flags.
func parseViewCommand(fs *flag.FlagSet, args []string) (string, error) {
	viewName := ""

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		viewName = args[0]
		args = args[1:]
	}

	if err := fs.Parse(args); err != nil {
		return "", err
	}

	if viewName == "" {
		viewName = fs.Arg(0)
	}

	if viewName == "" {
		return "", fmt.Errorf("%w: usage: %s VIEW_NAME", ErrViewNameRequired, fs.Name())
	}

	return viewName, nil
}

// parseRowCount validates a row count strategy flag value.
func parseRowCount(value string) (matview.RowCountStrategy, error) {
	strategy := matview.RowCountStrategy(value)
	if !strategy.IsValid() {
		return "", fmt.Errorf("invalid row count strategy %q, must be one of: none, estimated, exact", value)
	}

	return strategy, nil
}

// openStores connects to the configured database and wraps it in the
// persistent stores.
func openStores() (*storage.Connection, *storage.PersistentDefinitionStore, *storage.PersistentRunStore, error) {
	conn, err := storage.NewConnection(storage.LoadConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	return conn, storage.NewPersistentDefinitionStore(conn), storage.NewPersistentRunStore(conn), nil
}

// printOutcome prints the operation response as JSON and passes the
// operation error through, so a failed operation still shows its full
// response before the process exits non-zero.
func printOutcome(resp *matview.ServiceResponse, err error) error {
	if resp != nil {
		if printErr := printJSON(resp); printErr != nil {
			return printErr
		}
	}

	return err
}

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	fmt.Println(string(data))

	return nil
}
