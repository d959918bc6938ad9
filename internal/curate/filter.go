package curate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"unicode/utf8"

	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/note"
	"github.com/yfan/redsift/internal/report"
	"github.com/yfan/redsift/internal/util"
)

// Predicate is one independently toggleable quality check. It returns
// whether the record passes and, if not, a human-readable reason.
type Predicate struct {
	Name  string
	Check func(s *dataset.Store, rec *note.Record) (ok bool, reason string)
}

// CaptionNonEmpty fails records whose caption has fewer than minRunes
// characters.
func CaptionNonEmpty(minRunes int) Predicate {
	if minRunes < 1 {
		minRunes = 1
	}
	return Predicate{
		Name: "caption",
		Check: func(_ *dataset.Store, rec *note.Record) (bool, string) {
			n := utf8.RuneCountInString(rec.Caption)
			if n < minRunes {
				return false, fmt.Sprintf("caption too short (%d < %d chars)", n, minRunes)
			}
			return true, ""
		},
	}
}

// HasImages fails records with no image refs or with refs that do not
// resolve to files on disk.
func HasImages() Predicate {
	return Predicate{
		Name: "images",
		Check: func(s *dataset.Store, rec *note.Record) (bool, string) {
			if len(rec.ImageRefs) == 0 {
				return false, "no images"
			}
			for _, ref := range rec.ImageRefs {
				if _, err := os.Stat(s.ResolvePath(ref)); err != nil {
					return false, fmt.Sprintf("missing image %s", ref)
				}
			}
			return true, ""
		},
	}
}

// MinImageSize fails records containing any image smaller than
// minWidth x minHeight, or any image that cannot be decoded.
func MinImageSize(minWidth, minHeight int) Predicate {
	return Predicate{
		Name: "image-size",
		Check: func(s *dataset.Store, rec *note.Record) (bool, string) {
			for _, ref := range rec.ImageRefs {
				f, err := os.Open(s.ResolvePath(ref))
				if err != nil {
					return false, fmt.Sprintf("unreadable image %s", ref)
				}
				cfg, _, err := image.DecodeConfig(f)
				f.Close()
				if err != nil {
					return false, fmt.Sprintf("undecodable image %s", ref)
				}
				if cfg.Width < minWidth || cfg.Height < minHeight {
					return false, fmt.Sprintf("image %s too small (%dx%d)", ref, cfg.Width, cfg.Height)
				}
			}
			return true, ""
		},
	}
}

// Filter scans a store and removes records failing any enabled
// predicate, reporting exactly what was removed and why.
type Filter struct {
	store  *dataset.Store
	preds  []Predicate
	dedupe bool
	dryRun bool
	logger *report.EventLogger
}

// FilterConfig holds filter configuration.
type FilterConfig struct {
	Store      *dataset.Store
	Predicates []Predicate
	// Dedupe removes records whose first image is byte-identical to an
	// earlier record's (stable id order decides the survivor).
	Dedupe bool
	DryRun bool
	Logger *report.EventLogger
}

// NewFilter creates a Filter.
func NewFilter(cfg *FilterConfig) *Filter {
	return &Filter{
		store:  cfg.Store,
		preds:  cfg.Predicates,
		dedupe: cfg.Dedupe,
		dryRun: cfg.DryRun,
		logger: cfg.Logger,
	}
}

// Removal is one record removed by a filter run.
type Removal struct {
	NoteID string
	Reason string
}

// FilterReport summarizes a filter run.
type FilterReport struct {
	Scanned int
	Kept    int
	Removed []Removal
}

// RemovedIDs returns the removed note ids in scan order.
func (r *FilterReport) RemovedIDs() []string {
	ids := make([]string, len(r.Removed))
	for i, rm := range r.Removed {
		ids[i] = rm.NoteID
	}
	return ids
}

// Run scans every record in stable id order. Each failing record is
// removed (index entry plus image directory) as one unit, so a second
// run with the same predicates removes nothing.
func (f *Filter) Run() (*FilterReport, error) {
	rep := &FilterReport{}
	seenSignatures := make(map[string]string)

	for _, id := range f.store.IDs() {
		rec, _ := f.store.Get(id)
		rep.Scanned++

		reason := f.evaluate(rec, seenSignatures)
		if reason == "" {
			rep.Kept++
			continue
		}

		rep.Removed = append(rep.Removed, Removal{NoteID: id, Reason: reason})
		util.InfoLog("Removing %s: %s", id, reason)
		f.logEvent(id, reason)

		if f.dryRun {
			continue
		}
		if err := f.store.Remove(id); err != nil {
			return rep, fmt.Errorf("filter: remove %s: %w", id, err)
		}
	}

	util.SuccessLog("Filter complete: %d scanned, %d kept, %d removed",
		rep.Scanned, rep.Kept, len(rep.Removed))
	return rep, nil
}

// evaluate returns the removal reason, or "" when the record passes.
func (f *Filter) evaluate(rec *note.Record, seenSignatures map[string]string) string {
	for _, pred := range f.preds {
		ok, reason := pred.Check(f.store, rec)
		if !ok {
			return fmt.Sprintf("%s: %s", pred.Name, reason)
		}
	}

	if f.dedupe && len(rec.ImageRefs) > 0 {
		sig, err := f.firstImageSignature(rec)
		if err != nil {
			return fmt.Sprintf("dedupe: %v", err)
		}
		if prev, dup := seenSignatures[sig]; dup {
			return fmt.Sprintf("dedupe: duplicate of %s", prev)
		}
		seenSignatures[sig] = rec.NoteID
	}
	return ""
}

// firstImageSignature hashes the first image's bytes. Byte-hash
// equality is the baseline duplicate policy; swap the predicate set to
// change it.
func (f *Filter) firstImageSignature(rec *note.Record) (string, error) {
	data, err := os.ReadFile(f.store.ResolvePath(rec.ImageRefs[0]))
	if err != nil {
		return "", fmt.Errorf("unreadable first image: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (f *Filter) logEvent(noteID, reason string) {
	if err := f.logger.Log(&report.Event{
		Level:  report.LevelInfo,
		Event:  report.EventFilter,
		NoteID: noteID,
		Store:  f.store.Root(),
		Reason: reason,
	}); err != nil {
		util.WarnLog("Failed to write event log: %v", err)
	}
}
