// Package crawl pulls notes off the platform into a raw dataset store.
// A note is the smallest unit of work: its index entry is committed
// only after every declared image has landed on disk, so the raw index
// never references files that do not exist.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/note"
	"github.com/yfan/redsift/internal/report"
	"github.com/yfan/redsift/internal/state"
	"github.com/yfan/redsift/internal/util"
	"github.com/yfan/redsift/internal/xhs"
)

const noteURLPrefix = "https://www.xiaohongshu.com/explore/"

// Fetcher is the slice of the API client the crawler needs.
type Fetcher interface {
	SearchNotes(ctx context.Context, keyword string, page int, searchID string) (*xhs.SearchPage, error)
	NoteDetail(ctx context.Context, noteID, xsecToken string) (*xhs.NoteCard, error)
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}

// Crawler drives search pagination and note commits.
type Crawler struct {
	fetcher      Fetcher
	store        *dataset.Store
	state        *state.DB
	logger       *report.EventLogger
	maxNotes     int
	imageLimit   int
	showProgress bool
}

// Config holds crawler configuration.
type Config struct {
	Fetcher  Fetcher
	Store    *dataset.Store
	State    *state.DB // optional; enables dedupe and resumable cursors
	Logger   *report.EventLogger
	MaxNotes int // per run, across all keywords
	// ImageConcurrency bounds parallel image downloads within one note.
	ImageConcurrency int
	ShowProgress     bool
}

// New creates a Crawler.
func New(cfg *Config) *Crawler {
	if cfg.MaxNotes <= 0 {
		cfg.MaxNotes = 10
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 4
	}
	return &Crawler{
		fetcher:      cfg.Fetcher,
		store:        cfg.Store,
		state:        cfg.State,
		logger:       cfg.Logger,
		maxNotes:     cfg.MaxNotes,
		imageLimit:   cfg.ImageConcurrency,
		showProgress: cfg.ShowProgress,
	}
}

// Result summarizes a crawl run. Per-note failures are aggregated
// here; only store-level failures abort the run.
type Result struct {
	RunID   string
	Fetched int
	Skipped int
	Failed  int
	Errors  []error
}

// Crawl fetches up to MaxNotes notes for the given keywords.
// Cancellation is honored between notes; each note commit is atomic.
func (c *Crawler) Crawl(ctx context.Context, keywords []string) (*Result, error) {
	result := &Result{}

	if c.state != nil {
		runID, err := c.state.StartRun(keywords)
		if err != nil {
			return nil, err
		}
		result.RunID = runID
		defer func() {
			if err := c.state.FinishRun(runID, result.Fetched, result.Skipped, result.Failed); err != nil {
				util.WarnLog("Failed to record run summary: %v", err)
			}
		}()
	}
	c.logRunEvent(result.RunID, strings.Join(keywords, ","), "run started")

	var bar *progressbar.ProgressBar
	if c.showProgress {
		bar = progressbar.NewOptions(c.maxNotes,
			progressbar.OptionSetDescription("Crawling"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("notes"),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	for _, keyword := range keywords {
		if result.Fetched >= c.maxNotes {
			break
		}
		if err := c.crawlKeyword(ctx, keyword, bar, result); err != nil {
			if errors.Is(err, context.Canceled) {
				util.WarnLog("Crawl interrupted")
				return result, nil
			}
			return result, err
		}
	}

	if bar != nil {
		bar.Finish()
	}

	c.finishRun(result)
	return result, nil
}

// CrawlURLs fetches the specific notes named by note page URLs, with
// the same all-images-or-nothing commit rule as a keyword crawl.
func (c *Crawler) CrawlURLs(ctx context.Context, urls []string) (*Result, error) {
	result := &Result{}

	if c.state != nil {
		runID, err := c.state.StartRun(urls)
		if err != nil {
			return nil, err
		}
		result.RunID = runID
		defer func() {
			if err := c.state.FinishRun(runID, result.Fetched, result.Skipped, result.Failed); err != nil {
				util.WarnLog("Failed to record run summary: %v", err)
			}
		}()
	}
	c.logRunEvent(result.RunID, strings.Join(urls, ","), "run started")

	for _, rawURL := range urls {
		if ctx.Err() != nil {
			util.WarnLog("Crawl interrupted")
			return result, nil
		}

		noteID, token, err := xhs.ParseNoteURL(rawURL)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			util.ErrorLog("%v", err)
			continue
		}

		if skip, reason := c.alreadyHave(noteID); skip {
			result.Skipped++
			c.logEvent(report.EventSkip, report.LevelDebug, noteID, "", reason, 0, nil)
			continue
		}

		if err := c.fetchNote(ctx, "", noteID, token); err != nil {
			if errors.Is(err, context.Canceled) {
				util.WarnLog("Crawl interrupted")
				return result, nil
			}
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("note %s: %w", noteID, err))
			util.ErrorLog("Note %s failed: %v", noteID, err)
			c.logEvent(report.EventError, report.LevelError, noteID, "", "", 0, err)
			continue
		}
		result.Fetched++
	}

	c.finishRun(result)
	return result, nil
}

func (c *Crawler) finishRun(result *Result) {
	util.SuccessLog("Crawl complete: %d fetched, %d skipped, %d failed",
		result.Fetched, result.Skipped, result.Failed)
	c.logRunEvent(result.RunID, "",
		fmt.Sprintf("fetched %d, skipped %d, failed %d", result.Fetched, result.Skipped, result.Failed))
}

func (c *Crawler) crawlKeyword(ctx context.Context, keyword string, bar *progressbar.ProgressBar, result *Result) error {
	page, searchID := 1, ""
	if c.state != nil {
		savedPage, savedID, err := c.state.Cursor(keyword)
		if err != nil {
			return err
		}
		if savedPage > 0 {
			page, searchID = savedPage, savedID
			util.InfoLog("Resuming '%s' from page %d", keyword, page)
		}
	}
	if searchID == "" {
		searchID = xhs.NewSearchID()
	}

	for result.Fetched < c.maxNotes {
		// Save the cursor before consuming the page: a run stopped by
		// MaxNotes mid-page resumes on this page, and re-fetching it is
		// harmless because already-committed notes are skipped.
		if c.state != nil {
			if err := c.state.SaveCursor(keyword, page, searchID); err != nil {
				util.WarnLog("Failed to save cursor: %v", err)
			}
		}

		util.DebugLog("Searching '%s' page %d", keyword, page)
		sp, err := c.fetcher.SearchNotes(ctx, keyword, page, searchID)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("search %q page %d: %w", keyword, page, err))
			util.ErrorLog("Search failed for '%s' page %d: %v", keyword, page, err)
			return nil
		}

		for _, item := range sp.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if result.Fetched >= c.maxNotes {
				break
			}
			if item.ModelType != "note" {
				continue
			}
			noteID := item.ID
			if i := strings.IndexByte(noteID, '#'); i >= 0 {
				noteID = noteID[:i]
			}
			if noteID == "" || item.XsecToken == "" {
				continue
			}

			if skip, reason := c.alreadyHave(noteID); skip {
				result.Skipped++
				c.logEvent(report.EventSkip, report.LevelDebug, noteID, keyword, reason, 0, nil)
				continue
			}

			if err := c.fetchNote(ctx, keyword, noteID, item.XsecToken); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				result.Failed++
				result.Errors = append(result.Errors, fmt.Errorf("note %s: %w", noteID, err))
				util.ErrorLog("Note %s failed: %v", noteID, err)
				c.logEvent(report.EventError, report.LevelError, noteID, keyword, "", 0, err)
				continue
			}

			result.Fetched++
			if bar != nil {
				bar.Add(1)
			}
		}

		if !sp.HasMore {
			util.InfoLog("Keyword '%s' exhausted after page %d", keyword, page)
			if c.state != nil {
				if err := c.state.ClearCursor(keyword); err != nil {
					util.WarnLog("Failed to clear cursor: %v", err)
				}
			}
			return nil
		}

		page++
	}
	return nil
}

func (c *Crawler) alreadyHave(noteID string) (bool, string) {
	if c.store.Has(noteID) {
		return true, "already in store"
	}
	if c.state != nil {
		seen, err := c.state.Seen(noteID)
		if err != nil {
			util.WarnLog("Seen lookup failed for %s: %v", noteID, err)
			return false, ""
		}
		if seen {
			return true, "previously fetched"
		}
	}
	return false, ""
}

// fetchNote retrieves one note's detail and all of its images, then
// commits the record. On any image failure the note directory is torn
// down and the note is not committed.
func (c *Crawler) fetchNote(ctx context.Context, keyword, noteID, xsecToken string) error {
	card, err := c.fetcher.NoteDetail(ctx, noteID, xsecToken)
	if err != nil {
		return err
	}
	if card.Desc == "" || len(card.ImageList) == 0 {
		c.logEvent(report.EventSkip, report.LevelInfo, noteID, keyword, "missing caption or images", 0, nil)
		return fmt.Errorf("missing caption or images: %w", util.ErrPartialNote)
	}

	fetchedAt := time.Now().UTC()
	dir := c.store.ImageDir(noteID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create note dir: %w", err)
	}

	refs := make([]string, len(card.ImageList))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.imageLimit)
	for i, img := range card.ImageList {
		i, img := i, img
		g.Go(func() error {
			url := img.BestURL()
			if url == "" {
				return fmt.Errorf("image %d has no url: %w", i, util.ErrPartialNote)
			}
			data, err := c.fetcher.DownloadImage(gctx, url)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			filename := fmt.Sprintf("%d.jpg", i)
			if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
				return fmt.Errorf("write image %d: %w", i, err)
			}
			refs[i] = dataset.ImageRef(noteID, filename)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		os.RemoveAll(dir)
		if errors.Is(err, util.ErrPartialNote) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%v: %w", err, util.ErrPartialNote)
	}

	rec := recordFromCard(card, noteID, refs, fetchedAt)
	if err := c.store.Upsert(rec); err != nil {
		os.RemoveAll(dir)
		return err
	}
	if err := c.store.Save(); err != nil {
		// Store-level failure: the run cannot continue safely.
		return err
	}

	if c.state != nil {
		if err := c.state.MarkSeen(noteID, keyword, fetchedAt); err != nil {
			util.WarnLog("Failed to mark %s seen: %v", noteID, err)
		}
	}

	util.InfoLog("Committed note %s (%d images)", noteID, len(refs))
	c.logEvent(report.EventCommit, report.LevelInfo, noteID, keyword, "", len(refs), nil)
	return nil
}

func recordFromCard(card *xhs.NoteCard, noteID string, refs []string, fetchedAt time.Time) *note.Record {
	var tags []string
	for _, tag := range card.TagList {
		if tag.Name != "" {
			tags = append(tags, tag.Name)
		}
	}

	rec := &note.Record{
		NoteID:    noteID,
		Title:     card.Title,
		Caption:   card.Desc,
		Tags:      tags,
		ImageRefs: refs,
		FetchedAt: fetchedAt,
		SourceURL: noteURLPrefix + noteID,
	}
	if card.User.UserID != "" {
		rec.User = &note.User{UserID: card.User.UserID, Nickname: card.User.Nickname}
	}
	if card.InteractInfo != (xhs.InteractInfo{}) {
		rec.Stats = &note.Stats{
			Liked:     card.InteractInfo.LikedCount,
			Collected: card.InteractInfo.CollectedCount,
			Comments:  card.InteractInfo.CommentCount,
			Shares:    card.InteractInfo.ShareCount,
		}
	}
	return rec
}

// logRunEvent records run lifecycle in the event log.
func (c *Crawler) logRunEvent(runID, scope, summary string) {
	if err := c.logger.Log(&report.Event{
		Level:   report.LevelInfo,
		Event:   report.EventCrawl,
		RunID:   runID,
		Keyword: scope,
		Reason:  summary,
	}); err != nil {
		util.WarnLog("Failed to write event log: %v", err)
	}
}

func (c *Crawler) logEvent(typ report.EventType, level report.EventLevel, noteID, keyword, reason string, images int, err error) {
	event := &report.Event{
		Level:   level,
		Event:   typ,
		NoteID:  noteID,
		Keyword: keyword,
		Reason:  reason,
		Images:  images,
	}
	if err != nil {
		event.Error = err.Error()
	}
	if logErr := c.logger.Log(event); logErr != nil {
		util.WarnLog("Failed to write event log: %v", logErr)
	}
}
