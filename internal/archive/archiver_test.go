package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/note"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func seedAged(t *testing.T, s *dataset.Store, id string, age time.Duration) {
	t.Helper()
	dir := s.ImageDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0.jpg"), []byte("img-"+id), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	rec := &note.Record{
		NoteID:    id,
		Caption:   "caption " + id,
		ImageRefs: []string{dataset.ImageRef(id, "0.jpg")},
		FetchedAt: testNow.Add(-age),
	}
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestArchiveMovesOldNotes(t *testing.T) {
	raw, err := dataset.Open(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	archiveRoot := filepath.Join(t.TempDir(), "data_past")

	seedAged(t, raw, "old", 40*24*time.Hour)
	seedAged(t, raw, "fresh", 2*24*time.Hour)

	a := New(&Config{
		Raw:         raw,
		ArchiveRoot: archiveRoot,
		MaxAge:      30 * 24 * time.Hour,
		Now:         func() time.Time { return testNow },
	})
	result, err := a.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Scanned != 2 || result.Moved != 1 {
		t.Errorf("result = %+v, want 1 of 2 moved", result)
	}
	if len(result.MovedIDs) != 1 || result.MovedIDs[0] != "old" {
		t.Errorf("moved ids = %v, want [old]", result.MovedIDs)
	}
	wantDest := filepath.Join(archiveRoot, "20260901_120000")
	if result.Dest != wantDest {
		t.Errorf("dest = %q, want %q", result.Dest, wantDest)
	}

	// The note lives in exactly one store afterwards.
	if raw.Has("old") {
		t.Error("old note still in raw index")
	}
	if _, err := os.Stat(raw.ImageDir("old")); !os.IsNotExist(err) {
		t.Errorf("old images still in raw tree, stat err = %v", err)
	}
	if !raw.Has("fresh") {
		t.Error("fresh note should stay in raw store")
	}

	archived, err := dataset.Open(result.Dest)
	if err != nil {
		t.Fatalf("open archive store: %v", err)
	}
	rec, ok := archived.Get("old")
	if !ok {
		t.Fatal("old note missing from archive index")
	}
	data, err := os.ReadFile(archived.ResolvePath(rec.ImageRefs[0]))
	if err != nil {
		t.Fatalf("read archived image: %v", err)
	}
	if string(data) != "img-old" {
		t.Errorf("archived image = %q", data)
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	raw, err := dataset.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	archiveRoot := filepath.Join(t.TempDir(), "data_past")

	seedAged(t, raw, "fresh", time.Hour)

	a := New(&Config{
		Raw:         raw,
		ArchiveRoot: archiveRoot,
		MaxAge:      30 * 24 * time.Hour,
		Now:         func() time.Time { return testNow },
	})
	result, err := a.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Moved != 0 || result.Dest != "" {
		t.Errorf("result = %+v, want nothing moved", result)
	}
	// No empty archive directory is created for an idle run.
	if _, err := os.Stat(archiveRoot); !os.IsNotExist(err) {
		t.Errorf("archive root created for idle run, stat err = %v", err)
	}
}

func TestArchiveBrokenNoteReported(t *testing.T) {
	raw, err := dataset.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	seedAged(t, raw, "broken", 60*24*time.Hour)
	if err := os.RemoveAll(raw.ImageDir("broken")); err != nil {
		t.Fatalf("remove images: %v", err)
	}

	a := New(&Config{
		Raw:         raw,
		ArchiveRoot: filepath.Join(t.TempDir(), "data_past"),
		MaxAge:      30 * 24 * time.Hour,
		Now:         func() time.Time { return testNow },
	})
	result, err := a.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Moved != 0 || len(result.Errors) != 1 {
		t.Errorf("result = %+v, want 1 error", result)
	}
	// The record stays in raw so an operator can inspect it.
	if !raw.Has("broken") {
		t.Error("broken record should not be dropped")
	}
}

func TestArchiveCompletesInterruptedRun(t *testing.T) {
	raw, err := dataset.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	archiveRoot := filepath.Join(t.TempDir(), "data_past")
	seedAged(t, raw, "old", 40*24*time.Hour)
	oldRec, _ := raw.Get("old")

	cfg := &Config{
		Raw:         raw,
		ArchiveRoot: archiveRoot,
		MaxAge:      30 * 24 * time.Hour,
		Now:         func() time.Time { return testNow },
	}
	first, err := New(cfg).Run()
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Simulate a crash after the archive index was saved but before the
	// raw entry was removed: restore the raw entry and run again later.
	if err := raw.Upsert(oldRec.Clone()); err != nil {
		t.Fatalf("restore raw entry: %v", err)
	}
	if err := raw.Save(); err != nil {
		t.Fatalf("save raw index: %v", err)
	}

	cfg.Now = func() time.Time { return testNow.Add(time.Hour) }
	second, err := New(cfg).Run()
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(second.Errors) != 0 {
		t.Fatalf("second run errors = %v, want none", second.Errors)
	}
	if second.Moved != 1 {
		t.Errorf("second run moved = %d, want the unit completed", second.Moved)
	}

	// The note ends up in exactly one place: the first run's archive.
	if raw.Has("old") {
		t.Error("raw entry should be cleared by the resumed run")
	}
	firstArchive, err := dataset.Open(first.Dest)
	if err != nil {
		t.Fatalf("open first archive: %v", err)
	}
	if !firstArchive.Has("old") {
		t.Error("note missing from the first run's archive")
	}
	rec, _ := firstArchive.Get("old")
	if _, err := os.Stat(firstArchive.ResolvePath(rec.ImageRefs[0])); err != nil {
		t.Errorf("archived image missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(second.Dest, dataset.IndexFile)); !os.IsNotExist(err) {
		t.Errorf("second run should not index the note again, stat err = %v", err)
	}
}

func TestArchiveIdempotentPerNote(t *testing.T) {
	raw, err := dataset.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	archiveRoot := filepath.Join(t.TempDir(), "data_past")
	seedAged(t, raw, "old", 40*24*time.Hour)

	cfg := &Config{
		Raw:         raw,
		ArchiveRoot: archiveRoot,
		MaxAge:      30 * 24 * time.Hour,
		Now:         func() time.Time { return testNow },
	}
	if _, err := New(cfg).Run(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	result, err := New(cfg).Run()
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Scanned != 0 || result.Moved != 0 {
		t.Errorf("second run = %+v, want empty scan", result)
	}
}
