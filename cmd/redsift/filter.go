package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/curate"
	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/util"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Remove final-store notes that fail the quality predicates",
	Long: `Scan the final store and remove every note failing an enabled
predicate: caption length, resolvable images, minimum image size, and
duplicate detection (byte-identical first image).

Each predicate can be toggled independently. Removals always print a
full report of what was removed and why; use --dry-run to preview.`,
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)

	filterCmd.Flags().Int("min-caption", 10, "minimum caption length in characters (0 = disabled)")
	filterCmd.Flags().Bool("require-images", true, "require at least one resolvable image")
	filterCmd.Flags().Int("min-image-size", 0, "minimum image width and height in pixels (0 = disabled)")
	filterCmd.Flags().Bool("dedupe", true, "remove notes whose first image duplicates an earlier note's")
	filterCmd.Flags().Bool("dry-run", false, "report removals without performing them")

	viper.BindPFlag("filter.min_caption", filterCmd.Flags().Lookup("min-caption"))
	viper.BindPFlag("filter.require_images", filterCmd.Flags().Lookup("require-images"))
	viper.BindPFlag("filter.min_image_size", filterCmd.Flags().Lookup("min-image-size"))
	viper.BindPFlag("filter.dedupe", filterCmd.Flags().Lookup("dedupe"))
}

func runFilter(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	store, err := dataset.Open(viper.GetString("final_dir"))
	if err != nil {
		return fmt.Errorf("failed to open final store: %w", err)
	}

	logger := openEventLogger()
	defer logger.Close()

	var preds []curate.Predicate
	if n := viper.GetInt("filter.min_caption"); n > 0 {
		preds = append(preds, curate.CaptionNonEmpty(n))
	}
	if viper.GetBool("filter.require_images") {
		preds = append(preds, curate.HasImages())
	}
	if n := viper.GetInt("filter.min_image_size"); n > 0 {
		preds = append(preds, curate.MinImageSize(n, n))
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		util.InfoLog("DRY-RUN mode: no records will be removed")
	}

	filter := curate.NewFilter(&curate.FilterConfig{
		Store:      store,
		Predicates: preds,
		Dedupe:     viper.GetBool("filter.dedupe"),
		DryRun:     dryRun,
		Logger:     logger,
	})

	rep, err := filter.Run()
	if err != nil {
		return fmt.Errorf("filter failed: %w", err)
	}

	util.InfoLog("")
	util.InfoLog("=== Filter Report ===")
	util.InfoLog("  Scanned: %d", rep.Scanned)
	util.InfoLog("  Kept:    %d", rep.Kept)
	util.InfoLog("  Removed: %d", len(rep.Removed))
	for _, rm := range rep.Removed {
		util.InfoLog("    %s (%s)", rm.NoteID, rm.Reason)
	}
	return nil
}
