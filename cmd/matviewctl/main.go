// Package main provides the matview operator CLI.
//
// matviewctl runs materialized view lifecycle operations against the
// store and database configured by DATABASE_URL: create, refresh, and
// drop execute synchronously and print the full operation response as
// JSON; enqueue hands the operation to the worker daemon through the
// kafka queue instead.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/matview-io/matview/internal/config"
)

// Build-time version information.
// These variables are set at build time using -ldflags.
var (
	Version   = "0.1.0-dev" // Version of matviewctl
	GitCommit = "unknown"   // Git commit hash
	BuildTime = "unknown"   // Build timestamp
	name      = "matviewctl"
)

func main() {
	var (
		configHelp  = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		printVersionInfo()
		os.Exit(0)
	}

	if *configHelp || len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	// Logs go to stderr so stdout stays parseable JSON.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("MATVIEW_LOG_LEVEL", slog.LevelWarn),
	}))

	command := os.Args[1]
	args := os.Args[2:]

	if err := executeCommand(command, args, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// executeCommand dispatches the named subcommand.
func executeCommand(command string, args []string, logger *slog.Logger) error {
	switch command {
	case "create":
		return cmdCreate(args, logger)
	case "refresh":
		return cmdRefresh(args, logger)
	case "drop":
		return cmdDrop(args, logger)
	case "list":
		return cmdList(args, logger)
	case "runs":
		return cmdRuns(args, logger)
	case "enqueue":
		return cmdEnqueue(args, logger)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printVersionInfo displays comprehensive version information.
func printVersionInfo() {
	fmt.Printf("%s v%s\n", name, Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Materialized View Operator CLI for matview\n")
}

// printUsage displays usage information.
func printUsage() {
	fmt.Printf(`%s v%s - Materialized View Operator CLI

USAGE:
    %s [OPTIONS] COMMAND [COMMAND OPTIONS] [VIEW_NAME]

COMMANDS:
    create VIEW_NAME    Create the materialized view for a stored definition
                        (--force drops and recreates an existing view)
    refresh VIEW_NAME   Refresh the view using its configured strategy
                        (--row-count none|estimated|exact)
    drop VIEW_NAME      Drop the materialized view
                        (--cascade drops dependent objects too)
    list                List stored view definitions
    runs [VIEW_NAME]    Show recent runs, newest first (--limit N)
    enqueue             Enqueue an operation for the worker daemon
                        (--op create|refresh|drop --view VIEW_NAME)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL           PostgreSQL connection string (REQUIRED)
    MATVIEW_QUEUE_BACKEND  Queue backend for enqueue (must be kafka)
    KAFKA_BROKERS          Kafka bootstrap brokers for enqueue
    MATVIEW_LOG_LEVEL      Log level for diagnostics on stderr

EXAMPLES:
    %s create mv_daily_orders            # Create the view
    %s refresh mv_daily_orders --row-count exact
    %s drop mv_daily_orders --cascade
    %s runs mv_daily_orders --limit 10
    %s enqueue --op refresh --view mv_daily_orders

Operation responses are printed to stdout as JSON; a failed operation
prints its response and exits 1.
`, name, Version, name, name, name, name, name, name)
}
