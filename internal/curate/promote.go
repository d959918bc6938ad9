// Package curate moves the publish-ready subset of notes into shape:
// promotion copies selected notes from the raw store into the final
// store, and filtering enforces the final store's quality invariants.
package curate

import (
	"fmt"
	"os"

	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/report"
	"github.com/yfan/redsift/internal/util"
)

// Promoter copies notes from a source store into a destination store.
// Promotion is non-destructive: the raw record stays where it is until
// the archiver ages it out.
type Promoter struct {
	src       *dataset.Store
	dst       *dataset.Store
	overwrite bool
	logger    *report.EventLogger
}

// PromoterConfig holds promoter configuration.
type PromoterConfig struct {
	Source      *dataset.Store
	Destination *dataset.Store
	Overwrite   bool
	Logger      *report.EventLogger
}

// NewPromoter creates a Promoter.
func NewPromoter(cfg *PromoterConfig) *Promoter {
	return &Promoter{
		src:       cfg.Source,
		dst:       cfg.Destination,
		overwrite: cfg.Overwrite,
		logger:    cfg.Logger,
	}
}

// PromoteResult summarizes a promotion run.
type PromoteResult struct {
	Promoted int
	Updated  int
	Skipped  int
	Failed   int
	Errors   []error
}

// Promote copies each selected note: images first, then the index
// entry, then save. A crash leaves at worst an orphaned image
// directory, never an index entry pointing at missing files.
func (p *Promoter) Promote(ids []string) (*PromoteResult, error) {
	result := &PromoteResult{}

	for _, id := range ids {
		rec, ok := p.src.Get(id)
		if !ok {
			result.Failed++
			err := fmt.Errorf("promote %s: not in source store: %w", id, util.ErrNotFound)
			result.Errors = append(result.Errors, err)
			util.ErrorLog("%v", err)
			continue
		}

		exists := p.dst.Has(id)
		if exists && !p.overwrite {
			result.Skipped++
			util.InfoLog("Skipping %s: already in final store", id)
			p.logEvent(report.EventConflict, report.LevelInfo, id, "already in destination", nil)
			continue
		}

		if err := p.promoteOne(id, exists); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("promote %s: %w", id, err))
			util.ErrorLog("Failed to promote %s: %v", id, err)
			p.logEvent(report.EventError, report.LevelError, id, "", err)
			continue
		}

		if exists {
			result.Updated++
			util.InfoLog("Updated %s in final store", id)
		} else {
			result.Promoted++
			util.InfoLog("Promoted %s (%d images)", id, len(rec.ImageRefs))
		}
		p.logEvent(report.EventPromote, report.LevelInfo, id, "", nil)
	}

	util.SuccessLog("Promotion complete: %d promoted, %d updated, %d skipped, %d failed",
		result.Promoted, result.Updated, result.Skipped, result.Failed)
	return result, nil
}

// promoteOne copies one note's images into the destination, then
// upserts and saves the index entry. On overwrite the new images are
// fully staged before the old directory is swapped out.
func (p *Promoter) promoteOne(id string, overwriting bool) error {
	srcDir := p.src.ImageDir(id)
	dstDir := p.dst.ImageDir(id)

	if overwriting {
		staging := dstDir + ".staging"
		os.RemoveAll(staging)
		if err := util.CopyDir(srcDir, staging); err != nil {
			os.RemoveAll(staging)
			return err
		}
		if err := os.RemoveAll(dstDir); err != nil {
			return fmt.Errorf("replace old images: %w", err)
		}
		if err := os.Rename(staging, dstDir); err != nil {
			return fmt.Errorf("swap in new images: %w", err)
		}
	} else {
		if err := util.CopyDir(srcDir, dstDir); err != nil {
			os.RemoveAll(dstDir)
			return err
		}
	}

	rec, _ := p.src.Get(id)
	if err := p.dst.Upsert(rec.Clone()); err != nil {
		return err
	}
	return p.dst.Save()
}

func (p *Promoter) logEvent(typ report.EventType, level report.EventLevel, noteID, reason string, err error) {
	event := &report.Event{
		Level:  level,
		Event:  typ,
		NoteID: noteID,
		Store:  p.dst.Root(),
		Reason: reason,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if logErr := p.logger.Log(event); logErr != nil {
		util.WarnLog("Failed to write event log: %v", logErr)
	}
}
