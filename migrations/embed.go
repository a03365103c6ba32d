// Package migrations embeds the PostgreSQL schema migrations and
// validates their integrity before they are applied.
//
// Filenames follow the strict 001_name.(up|down).sql convention, so a
// plain lexicographic sort is also apply order. The validation rules
// reject anything that would make a deployment ambiguous: malformed
// names, unpaired up/down files, and gaps in the sequence.
package migrations

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// filenamePattern is the strict migration naming standard:
// 001_migration_name.up.sql or 001_migration_name.down.sql.
var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// Set is a validated collection of migration files. The zero source
	// is the compiled-in schema; tests inject an fstest.MapFS to exercise
	// the validation rules against broken layouts.
	Set struct {
		fsys      fs.FS
		checksums map[string]string // filename -> checksum, recorded on first Validate
	}

	// File is one parsed migration filename.
	File struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
		Filename  string
	}
)

// NewSet returns a Set over the given filesystem. Pass nil for the
// embedded schema migrations.
func NewSet(fsys fs.FS) *Set {
	if fsys == nil {
		fsys = embedded
	}

	return &Set{
		fsys:      fsys,
		checksums: make(map[string]string),
	}
}

// FS returns the migration filesystem, rooted at the directory holding
// the .sql files. This is what golang-migrate's iofs source consumes.
func (s *Set) FS() fs.FS {
	return s.fsys
}

// List returns the migration filenames in apply order. Files that do
// not match the naming standard are excluded; Validate reports them as
// an error when nothing conforming remains.
func (s *Set) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && filenamePattern.MatchString(filename) {
			files = append(files, filename)
		}
	}

	// The 3-digit prefix makes lexicographic order numeric order.
	sort.Strings(files)

	return files, nil
}

// Content returns the raw bytes of one migration file.
func (s *Set) Content(filename string) ([]byte, error) {
	return fs.ReadFile(s.fsys, filename)
}

// MaxSequence returns the highest migration sequence number in the set,
// or 0 when the set is empty or unreadable.
func (s *Set) MaxSequence() int {
	files, err := s.List()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, filename := range files {
		if file, err := ParseFilename(filename); err == nil && file.Sequence > maxSequence {
			maxSequence = file.Sequence
		}
	}

	return maxSequence
}

// Validate checks the whole set: every file is readable and well named,
// every up has a down, the sequence starts at 001 with no gaps, and the
// content matches the checksums recorded by the previous Validate call
// on this Set.
func (s *Set) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found")
	}

	for _, filename := range files {
		if _, err := s.Content(filename); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}
	}

	if err := s.validatePairing(files); err != nil {
		return err
	}

	if err := s.validateSequence(files); err != nil {
		return err
	}

	if len(s.checksums) > 0 {
		if err := s.validateChecksums(files); err != nil {
			return err
		}
	}

	for _, filename := range files {
		content, err := s.Content(filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		s.checksums[filename] = checksum(content)
	}

	return nil
}

// ParseFilename extracts the sequence, name, and direction from a
// migration filename.
func ParseFilename(filename string) (*File, error) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &File{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has its down counterpart
// and vice versa.
func (s *Set) validatePairing(files []string) error {
	directions := make(map[string]map[string]bool) // sequence_name -> direction set

	for _, filename := range files {
		file, err := ParseFilename(filename)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", file.Sequence, file.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][file.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !seen["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures the sequence starts at 001 and has no gaps.
func (s *Set) validateSequence(files []string) error {
	seen := make(map[int]bool)

	for _, filename := range files {
		file, err := ParseFilename(filename)
		if err != nil {
			return err
		}

		seen[file.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for sequence := range seen {
		sequences = append(sequences, sequence)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1,
				sequences[i],
			)
		}
	}

	return nil
}

// validateChecksums verifies file content against the checksums recorded
// by the previous Validate call.
func (s *Set) validateChecksums(files []string) error {
	for _, filename := range files {
		content, err := s.Content(filename)
		if err != nil {
			return fmt.Errorf("failed to read file %s for checksum validation: %w", filename, err)
		}

		if stored, exists := s.checksums[filename]; exists && checksum(content) != stored {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", filename)
		}
	}

	return nil
}

func checksum(content []byte) string {
	hash := sha256.Sum256(content)

	return fmt.Sprintf("%x", hash)
}
