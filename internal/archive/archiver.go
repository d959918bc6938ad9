// Package archive relocates aged-out notes from the raw store into a
// timestamp-named archive store, bounding raw store growth.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/report"
	"github.com/yfan/redsift/internal/util"
)

// Archiver moves notes older than MaxAge out of a raw store.
type Archiver struct {
	raw    *dataset.Store
	root   string
	maxAge time.Duration
	now    func() time.Time
	logger *report.EventLogger
}

// Config holds archiver configuration.
type Config struct {
	Raw         *dataset.Store
	ArchiveRoot string        // parent directory of per-run archive stores
	MaxAge      time.Duration // notes fetched longer ago than this are moved
	Now         func() time.Time
	Logger      *report.EventLogger
}

// New creates an Archiver.
func New(cfg *Config) *Archiver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Archiver{
		raw:    cfg.Raw,
		root:   cfg.ArchiveRoot,
		maxAge: cfg.MaxAge,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// Result summarizes an archive run.
type Result struct {
	Scanned  int
	Moved    int
	MovedIDs []string
	Dest     string // archive store root, "" when nothing qualified
	Errors   []error
}

// Run selects candidates by fetched_at age and relocates them
// note-by-note: image directory moved, archive index updated and
// saved, then the raw entry removed and saved. Each note is one unit;
// an interrupted run leaves already-moved notes archived exactly once.
func (a *Archiver) Run() (*Result, error) {
	result := &Result{}
	cutoff := a.now().Add(-a.maxAge)

	var candidates []string
	for _, id := range a.raw.IDs() {
		rec, _ := a.raw.Get(id)
		result.Scanned++
		if rec.FetchedAt.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		util.InfoLog("No notes older than %v to archive", a.maxAge)
		return result, nil
	}

	dest := filepath.Join(a.root, a.now().Format("20060102_150405"))
	archiveStore, err := dataset.Open(dest)
	if err != nil {
		return result, fmt.Errorf("archive: open destination: %w", err)
	}
	result.Dest = dest
	util.InfoLog("Archiving %d notes to %s", len(candidates), dest)

	for _, id := range candidates {
		if err := a.archiveOne(archiveStore, id); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("archive %s: %w", id, err))
			util.ErrorLog("Failed to archive %s: %v", id, err)
			continue
		}
		result.Moved++
		result.MovedIDs = append(result.MovedIDs, id)
		util.InfoLog("Archived %s", id)
		a.logEvent(id, dest)
	}

	util.SuccessLog("Archive complete: %d scanned, %d moved to %s",
		result.Scanned, result.Moved, dest)
	return result, nil
}

func (a *Archiver) archiveOne(archiveStore *dataset.Store, id string) error {
	rec, _ := a.raw.Get(id)

	srcDir := a.raw.ImageDir(id)
	dstDir := archiveStore.ImageDir(id)

	if _, err := os.Stat(srcDir); err != nil {
		// No raw files. An earlier run interrupted between its archive
		// save and the raw entry removal leaves the note in a prior
		// archive store; completing the unit means clearing the raw
		// entry, not moving anything.
		prior, err := a.inPriorArchive(archiveStore.Root(), id)
		if err != nil {
			return err
		}
		if !prior && !archiveStore.Has(id) {
			// Neither raw files nor an archived copy: the record is
			// broken, not merely half-moved.
			return fmt.Errorf("images missing for %s: %w", id, util.ErrNotFound)
		}
		if prior {
			return a.raw.RemoveEntry(id)
		}
	} else if err := util.MoveDir(srcDir, dstDir); err != nil {
		return err
	}

	if err := archiveStore.Upsert(rec.Clone()); err != nil {
		return err
	}
	if err := archiveStore.Save(); err != nil {
		return err
	}
	return a.raw.RemoveEntry(id)
}

// inPriorArchive reports whether an archive store under the archive
// root other than exclude already indexes the note. Reads indices
// directly so probing never creates store layouts in old archives.
func (a *Archiver) inPriorArchive(exclude, id string) (bool, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read archive root: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(a.root, entry.Name())
		if dir == exclude {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, dataset.IndexFile))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return false, fmt.Errorf("read archive index %s: %w", dir, err)
		}
		var index map[string]json.RawMessage
		if err := json.Unmarshal(data, &index); err != nil {
			continue
		}
		if _, ok := index[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (a *Archiver) logEvent(noteID, dest string) {
	if err := a.logger.Log(&report.Event{
		Level:  report.LevelInfo,
		Event:  report.EventArchive,
		NoteID: noteID,
		Store:  a.raw.Root(),
		Dest:   dest,
	}); err != nil {
		util.WarnLog("Failed to write event log: %v", err)
	}
}
