package main

import (
	"errors"
	"strings"
	"testing"
)

// mockMigrationRunner implements MigrationRunner for testing.
type mockMigrationRunner struct {
	upError      error
	downError    error
	statusError  error
	versionError error
	dropError    error
	closeError   error

	calls []string
}

func (m *mockMigrationRunner) Up() error {
	m.calls = append(m.calls, "up")

	return m.upError
}

func (m *mockMigrationRunner) Down() error {
	m.calls = append(m.calls, "down")

	return m.downError
}

func (m *mockMigrationRunner) Status() error {
	m.calls = append(m.calls, "status")

	return m.statusError
}

func (m *mockMigrationRunner) Version() error {
	m.calls = append(m.calls, "version")

	return m.versionError
}

func (m *mockMigrationRunner) Drop() error {
	m.calls = append(m.calls, "drop")

	return m.dropError
}

func (m *mockMigrationRunner) Close() error {
	m.calls = append(m.calls, "close")

	return m.closeError
}

var _ MigrationRunner = (*mockMigrationRunner)(nil)

// NOTE: NewMigrationRunner needs a reachable database; it is covered by
// the storage package's integration tests, which apply the embedded
// migrations against a PostgreSQL testcontainer.

func TestExecuteCommand(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name        string
		command     string
		runner      *mockMigrationRunner
		wantCall    string
		wantErr     bool
		errContains string
	}{
		{
			name:     "up dispatches to runner",
			command:  "up",
			runner:   &mockMigrationRunner{},
			wantCall: "up",
		},
		{
			name:     "down dispatches to runner",
			command:  "down",
			runner:   &mockMigrationRunner{},
			wantCall: "down",
		},
		{
			name:     "status dispatches to runner",
			command:  "status",
			runner:   &mockMigrationRunner{},
			wantCall: "status",
		},
		{
			name:     "version dispatches to runner",
			command:  "version",
			runner:   &mockMigrationRunner{},
			wantCall: "version",
		},
		{
			name:        "up propagates runner error",
			command:     "up",
			runner:      &mockMigrationRunner{upError: errors.New("syntax error in migration")},
			wantCall:    "up",
			wantErr:     true,
			errContains: "syntax error in migration",
		},
		{
			// Test stdin is empty, so the confirmation prompt reads EOF
			// and the drop is cancelled without touching the runner.
			name:    "drop without confirmation is cancelled",
			command: "drop",
			runner:  &mockMigrationRunner{},
		},
		{
			name:        "unknown command is rejected",
			command:     "sideways",
			runner:      &mockMigrationRunner{},
			wantErr:     true,
			errContains: "unknown command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executeCommand(tt.command, tt.runner)

			if tt.wantErr {
				if err == nil {
					t.Fatal("executeCommand() expected error, got nil")
				}

				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("executeCommand() error = %v, want containing %q", err, tt.errContains)
				}
			} else if err != nil {
				t.Errorf("executeCommand() unexpected error: %v", err)
			}

			if tt.wantCall != "" {
				if len(tt.runner.calls) != 1 || tt.runner.calls[0] != tt.wantCall {
					t.Errorf("executeCommand() calls = %v, want [%s]", tt.runner.calls, tt.wantCall)
				}
			} else if len(tt.runner.calls) != 0 {
				t.Errorf("executeCommand() calls = %v, want none", tt.runner.calls)
			}
		})
	}
}
