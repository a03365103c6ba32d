// Package manifest loads declared view definitions from a YAML file and
// syncs them into the definition store at daemon startup.
//
// The manifest is the declarative path: teams keep matview.yaml in the
// repo that owns the views, and the daemon upserts it on boot. Views
// created through the CLI are untouched; sync never deletes definitions
// that are absent from the file.
package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/matview-io/matview/internal/config"
	"github.com/matview-io/matview/internal/matview"
)

// DefaultManifestPath is the default location of the view manifest.
const DefaultManifestPath = "matview.yaml"

// ManifestPathEnvVar is the environment variable overriding the manifest
// location.
const ManifestPathEnvVar = "MATVIEW_MANIFEST_PATH"

var (
	// ErrManifestParse is returned when the manifest file exists but is
	// not valid YAML. A broken manifest fails loudly; only a missing one
	// degrades.
	ErrManifestParse = errors.New("manifest cannot be parsed")

	// ErrDuplicateView is returned when two manifest entries declare the
	// same view name.
	ErrDuplicateView = errors.New("duplicate view name in manifest")
)

type (
	// Entry is one declared view definition.
	Entry struct {
		Name               string   `yaml:"name"`
		SQL                string   `yaml:"sql"`
		RefreshStrategy    string   `yaml:"refresh_strategy"`
		UniqueIndexColumns []string `yaml:"unique_index_columns"`
		Dependencies       []string `yaml:"dependencies"`
		Schedule           string   `yaml:"schedule"`
	}

	// Manifest is the parsed view declaration file.
	Manifest struct {
		Views []Entry `yaml:"views"`
	}
)

// Load reads a manifest from the given path.
//
// Behavior:
//   - Missing file returns an empty manifest, not an error: the daemon
//     runs fine on store-managed definitions alone.
//   - Unreadable or unparsable files return an error: a manifest that
//     exists but cannot be used means declared views would silently stop
//     refreshing.
func Load(path string, logger *slog.Logger) (*Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("manifest not found, continuing without declared views",
				slog.String("path", path))

			return &Manifest{}, nil
		}

		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	if len(data) == 0 {
		return &Manifest{}, nil
	}

	var m Manifest

	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifestParse, path, err)
	}

	return &m, nil
}

// LoadFromEnv loads the manifest from the path in MATVIEW_MANIFEST_PATH,
// falling back to matview.yaml in the working directory.
func LoadFromEnv(logger *slog.Logger) (*Manifest, error) {
	return Load(config.GetEnvStr(ManifestPathEnvVar, DefaultManifestPath), logger)
}

// Validate checks every entry and rejects duplicate names. All entries
// are checked before sync touches the store, so a bad manifest never
// half-applies.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Views))

	for _, entry := range m.Views {
		if seen[entry.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateView, entry.Name)
		}

		seen[entry.Name] = true

		if err := entry.Definition().Validate(); err != nil {
			return fmt.Errorf("view %q: %w", entry.Name, err)
		}
	}

	return nil
}

// Definition converts the entry to a domain definition. An empty
// refresh_strategy defaults to regular, so the common case reads as just
// name + sql.
func (e Entry) Definition() *matview.Definition {
	strategy := matview.RefreshStrategy(e.RefreshStrategy)
	if e.RefreshStrategy == "" {
		strategy = matview.RefreshStrategyRegular
	}

	return &matview.Definition{
		Name:               e.Name,
		SQL:                e.SQL,
		RefreshStrategy:    strategy,
		UniqueIndexColumns: e.UniqueIndexColumns,
		Dependencies:       e.Dependencies,
		Schedule:           e.Schedule,
	}
}
