package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/curate"
	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/util"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <note-id> [note-id...]",
	Short: "Copy selected notes from the raw store into the final store",
	Long: `Copy the named notes from the raw store into the final store.

Images are copied before the index entry is written, so an interrupted
promotion can orphan image files (clean with 'redsift doctor --fix')
but never leaves an index entry pointing at missing files. A note id
already present in the final store is skipped unless --overwrite is
given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPromote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)

	promoteCmd.Flags().Bool("overwrite", false, "replace notes already in the final store")
}

func runPromote(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	srcStore, err := dataset.Open(viper.GetString("raw_dir"))
	if err != nil {
		return fmt.Errorf("failed to open raw store: %w", err)
	}
	dstStore, err := dataset.Open(viper.GetString("final_dir"))
	if err != nil {
		return fmt.Errorf("failed to open final store: %w", err)
	}

	logger := openEventLogger()
	defer logger.Close()

	overwrite, _ := cmd.Flags().GetBool("overwrite")

	promoter := curate.NewPromoter(&curate.PromoterConfig{
		Source:      srcStore,
		Destination: dstStore,
		Overwrite:   overwrite,
		Logger:      logger,
	})

	result, err := promoter.Promote(args)
	if err != nil {
		return fmt.Errorf("promotion failed: %w", err)
	}

	util.InfoLog("Final store now holds %d notes", dstStore.Len())
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d notes failed to promote", result.Failed, len(args))
	}
	return nil
}
