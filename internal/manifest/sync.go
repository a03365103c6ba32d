package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/matview-io/matview/internal/matview"
)

// SyncResult summarizes one manifest sync.
type SyncResult struct {
	Created   int
	Updated   int
	Unchanged int
}

// String returns a log-friendly summary of the sync result.
func (r *SyncResult) String() string {
	return fmt.Sprintf("created=%d updated=%d unchanged=%d", r.Created, r.Updated, r.Unchanged)
}

// Sync upserts the manifest's views into the store: new names are
// created, changed declarations update the stored definition, identical
// ones are left alone. Definitions in the store but not in the manifest
// are never touched. The manifest is validated up front, so a bad entry
// fails the sync before anything is written.
func (m *Manifest) Sync(
	ctx context.Context,
	store matview.DefinitionStore,
	logger *slog.Logger,
) (*SyncResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	result := &SyncResult{}

	for _, entry := range m.Views {
		declared := entry.Definition()

		existing, err := store.GetDefinitionByName(ctx, entry.Name)

		switch {
		case errors.Is(err, matview.ErrDefinitionNotFound):
			if err := store.CreateDefinition(ctx, declared); err != nil {
				return result, fmt.Errorf("failed to create view %q: %w", entry.Name, err)
			}

			result.Created++

			logger.Info("manifest view created",
				slog.String("view_name", entry.Name),
				slog.String("strategy", declared.RefreshStrategy.String()),
			)
		case err != nil:
			return result, fmt.Errorf("failed to look up view %q: %w", entry.Name, err)
		case declarationChanged(existing, declared):
			declared.ID = existing.ID
			declared.CreatedAt = existing.CreatedAt

			if err := store.UpdateDefinition(ctx, declared); err != nil {
				return result, fmt.Errorf("failed to update view %q: %w", entry.Name, err)
			}

			result.Updated++

			logger.Info("manifest view updated",
				slog.String("view_name", entry.Name),
				slog.String("strategy", declared.RefreshStrategy.String()),
			)
		default:
			result.Unchanged++
		}
	}

	logger.Info("manifest sync complete",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("unchanged", result.Unchanged),
	)

	return result, nil
}

// declarationChanged compares the fields the manifest controls. ID and
// timestamps are store-owned and excluded.
func declarationChanged(existing, declared *matview.Definition) bool {
	return existing.SQL != declared.SQL ||
		existing.RefreshStrategy != declared.RefreshStrategy ||
		!slices.Equal(existing.UniqueIndexColumns, declared.UniqueIndexColumns) ||
		!slices.Equal(existing.Dependencies, declared.Dependencies) ||
		existing.Schedule != declared.Schedule
}
