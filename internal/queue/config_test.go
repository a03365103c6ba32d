package queue

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadConfig()

	if cfg.Backend != BackendInProcess {
		t.Errorf("expected default backend inprocess, got %q", cfg.Backend)
	}

	if cfg.Name != "matview_jobs" {
		t.Errorf("expected default queue name matview_jobs, got %q", cfg.Name)
	}

	if cfg.BufferSize != 64 {
		t.Errorf("expected default buffer 64, got %d", cfg.BufferSize)
	}

	if len(cfg.Brokers) != 1 || cfg.Brokers[0] != "localhost:9092" {
		t.Errorf("expected default brokers [localhost:9092], got %v", cfg.Brokers)
	}

	if cfg.GroupID != "matview-worker" {
		t.Errorf("expected default group matview-worker, got %q", cfg.GroupID)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("MATVIEW_QUEUE_BACKEND", "kafka")
	t.Setenv("MATVIEW_QUEUE_NAME", "matview_jobs_staging")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092 ,")
	t.Setenv("KAFKA_GROUP_ID", "matview-staging")

	cfg := LoadConfig()

	if cfg.Backend != BackendKafka {
		t.Errorf("expected kafka backend, got %q", cfg.Backend)
	}

	if cfg.Name != "matview_jobs_staging" {
		t.Errorf("expected queue name matview_jobs_staging, got %q", cfg.Name)
	}

	if len(cfg.Brokers) != 2 {
		t.Fatalf("expected brokers trimmed to 2 entries, got %v", cfg.Brokers)
	}

	if cfg.Brokers[0] != "kafka-1:9092" || cfg.Brokers[1] != "kafka-2:9092" {
		t.Errorf("expected trimmed broker addresses, got %v", cfg.Brokers)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected kafka config to validate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{
			name:   "valid inprocess",
			config: &Config{Backend: BackendInProcess, Name: "matview_jobs", BufferSize: 8},
		},
		{
			name: "valid kafka",
			config: &Config{
				Backend: BackendKafka,
				Name:    "matview_jobs",
				Brokers: []string{"localhost:9092"},
				GroupID: "matview-worker",
			},
		},
		{
			name:    "unknown backend",
			config:  &Config{Backend: "rabbitmq", Name: "matview_jobs"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "empty queue name",
			config:  &Config{Backend: BackendInProcess, Name: "  ", BufferSize: 8},
			wantErr: ErrQueueNameEmpty,
		},
		{
			name:    "zero buffer for inprocess",
			config:  &Config{Backend: BackendInProcess, Name: "matview_jobs"},
			wantErr: ErrBufferSizeInvalid,
		},
		{
			name:    "kafka without brokers",
			config:  &Config{Backend: BackendKafka, Name: "matview_jobs", GroupID: "g"},
			wantErr: ErrBrokersEmpty,
		},
		{
			name: "kafka without group id",
			config: &Config{
				Backend: BackendKafka,
				Name:    "matview_jobs",
				Brokers: []string{"localhost:9092"},
			},
			wantErr: ErrGroupIDEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	inprocess := &Config{Backend: BackendInProcess, Name: "matview_jobs", BufferSize: 64}
	if s := inprocess.String(); !strings.Contains(s, "inprocess") || !strings.Contains(s, "buffer=64") {
		t.Errorf("unexpected inprocess summary: %q", s)
	}

	kafka := &Config{
		Backend: BackendKafka,
		Name:    "matview_jobs",
		Brokers: []string{"kafka-1:9092", "kafka-2:9092"},
		GroupID: "matview-worker",
	}
	if s := kafka.String(); !strings.Contains(s, "kafka-1:9092,kafka-2:9092") || !strings.Contains(s, "group=matview-worker") {
		t.Errorf("unexpected kafka summary: %q", s)
	}
}

func TestBackendKind(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, kind := range ValidBackendKinds() {
		if !kind.IsValid() {
			t.Errorf("expected %q to be valid", kind)
		}
	}

	if BackendKind("sqs").IsValid() {
		t.Error("expected sqs to be invalid")
	}

	if BackendKafka.String() != "kafka" {
		t.Errorf("expected kafka, got %q", BackendKafka.String())
	}
}

func TestNewBackendSelection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	backend, err := NewBackend(&Config{Backend: BackendInProcess, Name: "matview_jobs", BufferSize: 4}, nil)
	if err != nil {
		t.Fatalf("failed to build inprocess backend: %v", err)
	}

	if _, ok := backend.(*InProcess); !ok {
		t.Errorf("expected *InProcess, got %T", backend)
	}

	defer func() { _ = backend.Close() }()

	if _, err := NewBackend(&Config{Backend: "rabbitmq", Name: "matview_jobs"}, nil); !errors.Is(err, ErrBackendUnknown) {
		t.Errorf("expected ErrBackendUnknown, got %v", err)
	}
}
