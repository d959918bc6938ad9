package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/state"
	"github.com/yfan/redsift/internal/util"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show store contents and recent crawl runs",
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().Int("runs", 5, "number of recent runs to show")
}

func runReport(cmd *cobra.Command, args []string) error {
	applyLogLevel()

	util.InfoLog("=== Stores ===")
	for _, entry := range []struct{ name, key string }{
		{"raw", "raw_dir"},
		{"final", "final_dir"},
	} {
		root := viper.GetString(entry.key)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			util.InfoLog("  %-5s %s: not present", entry.name, root)
			continue
		}
		store, err := dataset.Open(root)
		if err != nil {
			util.ErrorLog("  %-5s %s: %v", entry.name, root, err)
			continue
		}
		images := 0
		for _, id := range store.IDs() {
			rec, _ := store.Get(id)
			images += len(rec.ImageRefs)
		}
		util.InfoLog("  %-5s %s: %d notes, %d images", entry.name, root, store.Len(), images)
	}

	dbPath := viper.GetString("db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	seen, err := db.SeenCount()
	if err != nil {
		return err
	}
	util.InfoLog("")
	util.InfoLog("=== Crawl State ===")
	util.InfoLog("  Notes ever fetched: %d", seen)

	limit, _ := cmd.Flags().GetInt("runs")
	runs, err := db.RecentRuns(limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		status := "running"
		if !r.FinishedAt.IsZero() {
			status = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		util.InfoLog("  %s  %s  fetched=%d skipped=%d failed=%d  keywords=%v",
			r.StartedAt.Format("2006-01-02 15:04"), status, r.Fetched, r.Skipped, r.Failed, r.Keywords)
	}
	return nil
}
