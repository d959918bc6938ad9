// Package dataset manages a note store on disk: an annotations.json
// index mapping note_id to its record, next to an image/ tree with one
// subdirectory per note. The index is the source of truth; every
// pipeline stage mutates a store through this package only.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yfan/redsift/internal/note"
	"github.com/yfan/redsift/internal/util"
)

const (
	// IndexFile is the JSON index filename inside a store root.
	IndexFile = "annotations.json"
	// ImagesDir is the image tree directory name inside a store root.
	ImagesDir = "image"
)

// Store is one dataset directory. Single writer at a time; callers are
// expected to run stages sequentially against the same store.
type Store struct {
	root  string
	index map[string]*note.Record
}

// Open loads the store at root, creating the directory layout if it
// does not exist yet. A missing index means a fresh store; a present
// but unparsable index is reported as ErrCorruptIndex, never silently
// treated as empty.
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("dataset: empty store root: %w", util.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Join(root, ImagesDir), 0755); err != nil {
		return nil, fmt.Errorf("dataset: create store layout: %w", err)
	}

	s := &Store{root: root, index: make(map[string]*note.Record)}

	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: read index: %w", err)
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return nil, fmt.Errorf("dataset: parse %s: %v: %w", s.indexPath(), err, util.ErrCorruptIndex)
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, IndexFile)
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Len returns the number of indexed records.
func (s *Store) Len() int { return len(s.index) }

// Has reports whether the id is indexed.
func (s *Store) Has(noteID string) bool {
	_, ok := s.index[noteID]
	return ok
}

// Get returns the record for id, if present.
func (s *Store) Get(noteID string) (*note.Record, bool) {
	r, ok := s.index[noteID]
	return r, ok
}

// IDs returns all indexed note ids in sorted order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Upsert inserts or replaces the record keyed by its note id. The
// caller is responsible for the record's image_refs matching files
// already on disk, and for calling Save to persist.
func (s *Store) Upsert(rec *note.Record) error {
	if rec == nil || rec.NoteID == "" {
		return fmt.Errorf("dataset: record without note_id: %w", util.ErrInvalidConfig)
	}
	s.index[rec.NoteID] = rec
	return nil
}

// Remove deletes the index entry and the note's image directory as one
// logical unit. The index is persisted before the files go away, so a
// crash can orphan a directory but never leave an entry pointing at
// deleted files.
func (s *Store) Remove(noteID string) error {
	if _, ok := s.index[noteID]; !ok {
		return fmt.Errorf("dataset: remove %s: %w", noteID, util.ErrNotFound)
	}
	delete(s.index, noteID)
	if err := s.Save(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.ImageDir(noteID)); err != nil {
		return fmt.Errorf("dataset: remove images for %s: %w", noteID, err)
	}
	return nil
}

// RemoveEntry deletes and persists only the index entry, leaving the
// image tree alone. Used by the archiver after it has already moved
// the files out.
func (s *Store) RemoveEntry(noteID string) error {
	if _, ok := s.index[noteID]; !ok {
		return fmt.Errorf("dataset: remove entry %s: %w", noteID, util.ErrNotFound)
	}
	delete(s.index, noteID)
	return s.Save()
}

// Save writes the index atomically (temp file + rename).
func (s *Store) Save() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.index); err != nil {
		return fmt.Errorf("dataset: encode index: %w", err)
	}
	if err := util.WriteFileAtomic(s.indexPath(), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("dataset: save index: %w", err)
	}
	return nil
}

// ImageDir returns the absolute image directory for a note id.
func (s *Store) ImageDir(noteID string) string {
	return filepath.Join(s.root, ImagesDir, noteID)
}

// ImageRef builds the store-relative reference for one image file.
// References use forward slashes regardless of platform.
func ImageRef(noteID, filename string) string {
	return path.Join(ImagesDir, noteID, filename)
}

// ResolvePath turns a store-relative image ref into an absolute path.
func (s *Store) ResolvePath(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

// VerifyReport lists the two ways index and image tree can disagree.
type VerifyReport struct {
	// MissingFiles maps note id to the image refs that do not resolve.
	MissingFiles map[string][]string
	// OrphanDirs are image subdirectories with no index entry.
	OrphanDirs []string
}

// OK reports whether the store is internally consistent.
func (r *VerifyReport) OK() bool {
	return len(r.MissingFiles) == 0 && len(r.OrphanDirs) == 0
}

// Verify cross-checks every index entry against the image tree and
// the image tree against the index.
func (s *Store) Verify() (*VerifyReport, error) {
	report := &VerifyReport{MissingFiles: make(map[string][]string)}

	for id, rec := range s.index {
		for _, ref := range rec.ImageRefs {
			if _, err := os.Stat(s.ResolvePath(ref)); err != nil {
				report.MissingFiles[id] = append(report.MissingFiles[id], ref)
			}
		}
	}

	entries, err := os.ReadDir(filepath.Join(s.root, ImagesDir))
	if err != nil {
		return nil, fmt.Errorf("dataset: read image tree: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !s.Has(entry.Name()) {
			report.OrphanDirs = append(report.OrphanDirs, entry.Name())
		}
	}
	sort.Strings(report.OrphanDirs)
	return report, nil
}

// CleanOrphans removes image subdirectories that have no index entry
// and returns the note ids that were cleaned. This is the recovery
// pass for crashes that landed files before their index entry.
func (s *Store) CleanOrphans() ([]string, error) {
	report, err := s.Verify()
	if err != nil {
		return nil, err
	}
	for _, id := range report.OrphanDirs {
		if strings.ContainsAny(id, `/\`) {
			continue
		}
		if err := os.RemoveAll(s.ImageDir(id)); err != nil {
			return nil, fmt.Errorf("dataset: clean orphan %s: %w", id, err)
		}
	}
	return report.OrphanDirs, nil
}
