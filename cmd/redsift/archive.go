package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/archive"
	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/util"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move aged-out raw notes into a timestamped archive",
	Long: `Move raw-store notes older than the age threshold into a new
archive directory named by the run timestamp.

Each note is moved as one unit (images relocated, archive index saved,
raw index entry removed), so an interrupted run leaves already-moved
notes archived exactly once and never counted twice.`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	archiveCmd.Flags().Int("max-age", 30, "age threshold in days")

	viper.BindPFlag("archive_max_age_days", archiveCmd.Flags().Lookup("max-age"))
}

func runArchive(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	rawStore, err := dataset.Open(viper.GetString("raw_dir"))
	if err != nil {
		return fmt.Errorf("failed to open raw store: %w", err)
	}

	logger := openEventLogger()
	defer logger.Close()

	maxAgeDays := viper.GetInt("archive_max_age_days")
	if maxAgeDays <= 0 {
		return fmt.Errorf("archive age threshold must be positive, got %d", maxAgeDays)
	}

	archiver := archive.New(&archive.Config{
		Raw:         rawStore,
		ArchiveRoot: viper.GetString("archive_dir"),
		MaxAge:      time.Duration(maxAgeDays) * 24 * time.Hour,
		Logger:      logger,
	})

	result, err := archiver.Run()
	if err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}

	util.InfoLog("")
	util.InfoLog("=== Archive Report ===")
	util.InfoLog("  Scanned: %d", result.Scanned)
	util.InfoLog("  Moved:   %d", result.Moved)
	if result.Dest != "" {
		util.InfoLog("  Destination: %s", result.Dest)
	}
	for _, id := range result.MovedIDs {
		util.InfoLog("    %s", id)
	}
	for _, e := range result.Errors {
		util.WarnLog("  %v", e)
	}
	return nil
}
