package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matview-io/matview/internal/matview"
)

// InMemoryDefinitionStore provides thread-safe in-memory definition
// storage with the same semantics as the persistent store. Used by
// worker and manifest tests, and by anything that wants the engine
// without a database-backed catalog.
type InMemoryDefinitionStore struct {
	// byID maps definition IDs to definitions
	byID map[string]*matview.Definition
	// byName maps view names to definitions for the uniqueness check
	byName map[string]*matview.Definition
	// runs receives cascading deletes; nil when no run store is attached
	runs *InMemoryRunStore
	// mutex protects concurrent access to both maps
	mutex sync.RWMutex
}

// NewInMemoryDefinitionStore creates a new thread-safe in-memory
// definition store.
func NewInMemoryDefinitionStore() *InMemoryDefinitionStore {
	return &InMemoryDefinitionStore{
		byID:   make(map[string]*matview.Definition),
		byName: make(map[string]*matview.Definition),
	}
}

// CreateDefinition stores a new definition.
func (s *InMemoryDefinitionStore) CreateDefinition(_ context.Context, def *matview.Definition) error {
	if def == nil {
		return matview.ErrDefinitionNil
	}

	if err := def.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.byName[def.Name]; exists {
		return fmt.Errorf("%w: %q", matview.ErrDefinitionExists, def.Name)
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	if _, exists := s.byID[def.ID]; exists {
		return fmt.Errorf("%w: %q", matview.ErrDefinitionExists, def.ID)
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}

	def.UpdatedAt = now

	// Store a copy to prevent external modification
	defCopy := *def
	s.byID[defCopy.ID] = &defCopy
	s.byName[defCopy.Name] = &defCopy

	return nil
}

// UpdateDefinition replaces the mutable fields of an existing definition.
func (s *InMemoryDefinitionStore) UpdateDefinition(_ context.Context, def *matview.Definition) error {
	if def == nil {
		return matview.ErrDefinitionNil
	}

	if err := def.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, exists := s.byID[def.ID]
	if !exists {
		return fmt.Errorf("%w: %s", matview.ErrDefinitionNotFound, def.ID)
	}

	// The name is the view's identity and cannot change.
	defCopy := *def
	defCopy.Name = existing.Name
	defCopy.CreatedAt = existing.CreatedAt
	defCopy.UpdatedAt = time.Now().UTC()

	s.byID[defCopy.ID] = &defCopy
	s.byName[defCopy.Name] = &defCopy

	return nil
}

// GetDefinition fetches a definition by ID.
func (s *InMemoryDefinitionStore) GetDefinition(_ context.Context, id string) (*matview.Definition, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	def, exists := s.byID[id]
	if !exists {
		return nil, matview.ErrDefinitionNotFound
	}

	defCopy := *def

	return &defCopy, nil
}

// GetDefinitionByName fetches a definition by its unique view name.
func (s *InMemoryDefinitionStore) GetDefinitionByName(_ context.Context, name string) (*matview.Definition, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	def, exists := s.byName[name]
	if !exists {
		return nil, matview.ErrDefinitionNotFound
	}

	defCopy := *def

	return &defCopy, nil
}

// ListDefinitions returns all definitions ordered by name.
func (s *InMemoryDefinitionStore) ListDefinitions(_ context.Context) ([]*matview.Definition, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	defs := make([]*matview.Definition, 0, len(s.byID))

	for _, def := range s.byID {
		defCopy := *def
		defs = append(defs, &defCopy)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Name < defs[j].Name
	})

	return defs, nil
}

// DeleteDefinition removes a definition and its runs, mirroring the
// database-level cascade.
func (s *InMemoryDefinitionStore) DeleteDefinition(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	def, exists := s.byID[id]
	if !exists {
		return fmt.Errorf("%w: %s", matview.ErrDefinitionNotFound, id)
	}

	delete(s.byID, id)
	delete(s.byName, def.Name)

	if s.runs != nil {
		s.runs.deleteByDefinition(id)
	}

	return nil
}

// AttachRunStore wires an in-memory run store so deletes cascade to run
// records the way the schema's foreign key does.
func (s *InMemoryDefinitionStore) AttachRunStore(runs *InMemoryRunStore) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.runs = runs
}

// InMemoryRunStore provides thread-safe in-memory run storage with the
// same transition guarantees as the persistent store.
type InMemoryRunStore struct {
	// byID maps run IDs to runs
	byID map[string]*matview.Run
	// mutex protects concurrent access
	mutex sync.RWMutex
}

// NewInMemoryRunStore creates a new thread-safe in-memory run store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		byID: make(map[string]*matview.Run),
	}
}

// CreateRun stores a new run in the running state.
func (s *InMemoryRunStore) CreateRun(_ context.Context, run *matview.Run) error {
	if run == nil {
		return matview.ErrRunNil
	}

	if !run.Operation.IsValid() {
		return fmt.Errorf("%w: got %q", matview.ErrOperationInvalid, run.Operation)
	}

	if run.DefinitionID == "" {
		return fmt.Errorf("%w: run has no definition ID", matview.ErrDefinitionNotFound)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	run.Status = matview.RunStatusRunning

	runCopy := *run
	s.byID[runCopy.ID] = &runCopy

	return nil
}

// FinalizeRun writes the terminal fields of a finalized run.
func (s *InMemoryRunStore) FinalizeRun(_ context.Context, run *matview.Run) error {
	if run == nil {
		return matview.ErrRunNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, exists := s.byID[run.ID]
	if !exists {
		return fmt.Errorf("%w: %s", matview.ErrRunNotFound, run.ID)
	}

	if err := matview.ValidateRunTransition(existing.Status, run.Status); err != nil {
		return err
	}

	runCopy := *run
	s.byID[runCopy.ID] = &runCopy

	return nil
}

// GetRun fetches a run by ID.
func (s *InMemoryRunStore) GetRun(_ context.Context, id string) (*matview.Run, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	run, exists := s.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", matview.ErrRunNotFound, id)
	}

	runCopy := *run

	return &runCopy, nil
}

// ListRuns returns recent runs newest first, filtered to one definition
// when definitionID is non-empty.
func (s *InMemoryRunStore) ListRuns(_ context.Context, definitionID string, limit int) ([]*matview.Run, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	runs := make([]*matview.Run, 0, len(s.byID))

	for _, run := range s.byID {
		if definitionID != "" && run.DefinitionID != definitionID {
			continue
		}

		runCopy := *run
		runs = append(runs, &runCopy)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

// deleteByDefinition removes all runs for one definition. Caller-facing
// cascade entry point used by InMemoryDefinitionStore.
func (s *InMemoryRunStore) deleteByDefinition(definitionID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for id, run := range s.byID {
		if run.DefinitionID == definitionID {
			delete(s.byID, id)
		}
	}
}

// Compile-time interface checks.
var (
	_ matview.DefinitionStore = (*InMemoryDefinitionStore)(nil)
	_ matview.RunStore        = (*InMemoryRunStore)(nil)
)
