package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/crawl"
	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/sign"
	"github.com/yfan/redsift/internal/state"
	"github.com/yfan/redsift/internal/util"
	"github.com/yfan/redsift/internal/xhs"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Search notes by keyword and fetch them into the raw store",
	Long: `Search the platform for notes matching the configured keywords and
fetch each note's detail and images into the raw store. With --url,
fetch the named note pages directly instead of searching.

A note is committed to the index only after every image has been
downloaded; partial notes are discarded. Already-fetched note ids are
skipped, and pagination cursors are saved so an interrupted crawl can
resume where it left off.`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringSliceP("keyword", "k", nil, "search keyword (repeatable)")
	crawlCmd.Flags().StringSliceP("url", "u", nil, "note page URL to fetch directly (repeatable)")
	crawlCmd.Flags().Int("max-notes", 10, "maximum notes to fetch this run")
	crawlCmd.Flags().Int("image-concurrency", 4, "parallel image downloads per note")
	crawlCmd.Flags().Duration("interval", time.Second, "minimum spacing between API calls")
	crawlCmd.Flags().String("cookies", "cookies.json", "credentials (cookie export) file")
	crawlCmd.Flags().Bool("no-progress", false, "disable the progress bar")

	viper.BindPFlag("keywords", crawlCmd.Flags().Lookup("keyword"))
	viper.BindPFlag("max_notes", crawlCmd.Flags().Lookup("max-notes"))
	viper.BindPFlag("image_concurrency", crawlCmd.Flags().Lookup("image-concurrency"))
	viper.BindPFlag("request_interval", crawlCmd.Flags().Lookup("interval"))
	viper.BindPFlag("cookies", crawlCmd.Flags().Lookup("cookies"))
}

func runCrawl(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	urls, _ := cmd.Flags().GetStringSlice("url")
	keywords := viper.GetStringSlice("keywords")
	if len(urls) == 0 && len(keywords) == 0 {
		return fmt.Errorf("at least one keyword or URL is required (use --keyword/-k, --url/-u, or set keywords in config)")
	}

	creds, err := sign.LoadCredentials(viper.GetString("cookies"))
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	signer, err := sign.NewWebSigner(creds)
	if err != nil {
		return err
	}

	client, err := xhs.NewClient(xhs.Options{
		Signer:      signer,
		Credentials: creds,
		Interval:    viper.GetDuration("request_interval"),
	})
	if err != nil {
		return err
	}
	defer client.Close()

	rawStore, err := dataset.Open(viper.GetString("raw_dir"))
	if err != nil {
		return fmt.Errorf("failed to open raw store: %w", err)
	}

	db, err := state.Open(viper.GetString("db"))
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer db.Close()

	logger := openEventLogger()
	defer logger.Close()

	noProgress, _ := cmd.Flags().GetBool("no-progress")

	crawler := crawl.New(&crawl.Config{
		Fetcher:          client,
		Store:            rawStore,
		State:            db,
		Logger:           logger,
		MaxNotes:         viper.GetInt("max_notes"),
		ImageConcurrency: viper.GetInt("image_concurrency"),
		ShowProgress:     !noProgress && !viper.GetBool("quiet"),
	})

	// Interrupts stop the crawl at the next note boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	var result *crawl.Result
	if len(urls) > 0 {
		util.InfoLog("Fetching %d note URL(s) -> %s", len(urls), rawStore.Root())
		result, err = crawler.CrawlURLs(ctx, urls)
	} else {
		util.InfoLog("Crawling %d keyword(s), up to %d notes -> %s",
			len(keywords), viper.GetInt("max_notes"), rawStore.Root())
		result, err = crawler.Crawl(ctx, keywords)
	}
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	util.InfoLog("")
	util.InfoLog("=== Crawl Summary ===")
	util.InfoLog("  Duration: %v", time.Since(start).Round(time.Millisecond))
	util.InfoLog("  Fetched:  %d", result.Fetched)
	util.InfoLog("  Skipped:  %d", result.Skipped)
	util.InfoLog("  Failed:   %d", result.Failed)
	for _, e := range result.Errors {
		util.WarnLog("  %v", e)
	}
	return nil
}
