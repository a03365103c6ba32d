// Package engine executes materialized view lifecycle operations against
// PostgreSQL. Every operation runs through the same three-phase driver:
// describe the normalized request, check preconditions, execute the DDL.
// Failures of any kind (validation, database errors, panics) are caught
// at the driver boundary and converted into an error ServiceResponse; the
// driver never lets a failure escape to the caller.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/matview-io/matview/internal/matview"
)

// Operation is one materialized view lifecycle operation. Implementations
// are constructed per invocation with a definition and caller options and
// are driven exclusively by Run.
type Operation interface {
	// Describe returns the normalized request echo recorded in the
	// response and the run audit meta.
	Describe() matview.Request

	// Prepare checks every precondition that can be checked before DDL is
	// issued. A non-nil error aborts the operation before Execute.
	Prepare(ctx context.Context, session *Session) error

	// Execute performs the operation's DDL and returns the response
	// payload and the success status to report.
	Execute(ctx context.Context, session *Session) (matview.Result, matview.Status, error)
}

// slowOperationThreshold flags operations that warrant a closer look at
// the view's defining query or refresh strategy.
const slowOperationThreshold = 10 * time.Second

// Run drives one operation through describe → prepare → execute and
// always returns a ServiceResponse. Errors and panics from any phase are
// classified and serialized into an error response here; initiators that
// need failures re-raised get that from the runner wrapper, not from the
// engine.
func Run(ctx context.Context, conn Conn, logger *slog.Logger, op Operation) *matview.ServiceResponse {
	req := op.Describe()
	session := NewSession(conn, logger)
	start := time.Now()

	resp := runGuarded(ctx, session, op, req)

	duration := time.Since(start)

	if resp.Failed() {
		logger.Error("Materialized view operation failed",
			slog.String("operation", req.Operation.String()),
			slog.String("view", req.View),
			slog.String("class", resp.Error.Class),
			slog.String("error", resp.Error.Message),
			slog.Duration("duration", duration))

		return resp
	}

	logger.Info("Materialized view operation completed",
		slog.String("operation", req.Operation.String()),
		slog.String("view", req.View),
		slog.String("status", resp.Status.String()),
		slog.Int("statement_count", len(resp.Response.Statements)),
		slog.Duration("duration", duration))

	if duration > slowOperationThreshold {
		logger.Warn("Slow materialized view operation detected",
			slog.String("operation", req.Operation.String()),
			slog.String("view", req.View),
			slog.Duration("duration", duration),
			slog.String("recommendation", "Consider the swap strategy or optimizing the view's defining query"))
	}

	return resp
}

// runGuarded sequences prepare and execute under a panic guard. The named
// return lets the deferred recover replace the response.
func runGuarded(
	ctx context.Context,
	session *Session,
	op Operation,
	req matview.Request,
) (resp *matview.ServiceResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = matview.NewErrorResponse(req, matview.ErrorDetail{
				Class:     string(KindInternal),
				Message:   fmt.Sprintf("panic: %v", r),
				Backtrace: stackLines(),
			})
		}
	}()

	if err := op.Prepare(ctx, session); err != nil {
		return errorResponse(req, err)
	}

	result, status, err := op.Execute(ctx, session)
	if err != nil {
		return errorResponse(req, err)
	}

	// The session records every DDL statement it executes; stamp the list
	// once here so operations cannot drift from what actually ran.
	result.Statements = session.Statements()

	resp, err = matview.NewResponse(status, req, result)
	if err != nil {
		return errorResponse(req, err)
	}

	return resp
}

// errorResponse converts a prepare/execute error into the normalized
// error response shape. Internal (unexpected) errors carry a backtrace;
// expected failure kinds carry class and message only.
func errorResponse(req matview.Request, err error) *matview.ServiceResponse {
	kind := Classify(err)

	detail := matview.ErrorDetail{
		Class:   string(kind),
		Message: err.Error(),
	}

	if kind == KindInternal {
		detail.Backtrace = stackLines()
	}

	return matview.NewErrorResponse(req, detail)
}

// stackLines captures the current goroutine's stack as trimmed lines.
func stackLines() []string {
	return strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
}
