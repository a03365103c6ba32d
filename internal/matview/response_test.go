package matview

import (
	"errors"
	"testing"
)

func TestNewResponse_SuccessStatuses(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := Request{Operation: OperationCreate, View: "mv_x"}
	result := Result{View: "public.mv_x", RowsBefore: RowCountUnknown, RowsAfter: RowCountUnknown}

	for _, status := range []Status{StatusOK, StatusCreated, StatusUpdated, StatusSkipped, StatusDeleted} {
		resp, err := NewResponse(status, req, result)
		if err != nil {
			t.Fatalf("NewResponse(%s) failed: %v", status, err)
		}

		if !resp.OK() || resp.Failed() {
			t.Errorf("NewResponse(%s) OK() = %v, Failed() = %v, want true/false", status, resp.OK(), resp.Failed())
		}

		if resp.Error != nil {
			t.Errorf("NewResponse(%s) carries error detail on success", status)
		}

		if resp.Request.View != "mv_x" {
			t.Errorf("NewResponse(%s) request echo lost: got %q", status, resp.Request.View)
		}
	}
}

func TestNewResponse_RejectsErrorStatus(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewResponse(StatusError, Request{}, Result{})
	if !errors.Is(err, ErrStatusErrorPairing) {
		t.Errorf("NewResponse(error) error = %v, want %v", err, ErrStatusErrorPairing)
	}
}

func TestNewResponse_RejectsUnknownStatus(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewResponse("finished", Request{}, Result{})
	if !errors.Is(err, ErrStatusInvalid) {
		t.Errorf("NewResponse(finished) error = %v, want %v", err, ErrStatusInvalid)
	}
}

func TestNewErrorResponse_PairsStatusAndDetail(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := Request{Operation: OperationRefresh, View: "mv_x", Strategy: RefreshStrategyConcurrent}
	resp := NewErrorResponse(req, ErrorDetail{Class: "contention", Message: "could not obtain lock"})

	if resp.Status != StatusError {
		t.Errorf("NewErrorResponse() status = %s, want %s", resp.Status, StatusError)
	}

	if resp.Error == nil {
		t.Fatal("NewErrorResponse() error detail is nil")
	}

	if resp.Error.Class != "contention" {
		t.Errorf("NewErrorResponse() class = %s, want contention", resp.Error.Class)
	}

	if resp.OK() || !resp.Failed() {
		t.Errorf("NewErrorResponse() OK() = %v, Failed() = %v, want false/true", resp.OK(), resp.Failed())
	}

	if resp.ErrorMessage() != "could not obtain lock" {
		t.Errorf("ErrorMessage() = %q", resp.ErrorMessage())
	}
}

func TestNewErrorResponse_DefaultsClassToInternal(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	resp := NewErrorResponse(Request{}, ErrorDetail{Message: "boom"})
	if resp.Error.Class != "internal" {
		t.Errorf("NewErrorResponse() default class = %s, want internal", resp.Error.Class)
	}
}

func TestStatus_SuccessAndErrorAreExhaustive(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Every valid status is either a success or the error status, never both.
	for _, status := range ValidStatuses() {
		resp := ServiceResponse{Status: status}
		if resp.OK() == resp.Failed() {
			t.Errorf("status %s: OK() and Failed() are not mutually exclusive", status)
		}
	}
}

func TestStatus_IsValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, status := range ValidStatuses() {
		if !status.IsValid() {
			t.Errorf("IsValid() = false for valid status %s", status)
		}
	}

	if Status("done").IsValid() {
		t.Error("IsValid() = true for unknown status")
	}
}
