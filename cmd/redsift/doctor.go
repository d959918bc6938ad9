package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/dataset"
	"github.com/yfan/redsift/internal/state"
	"github.com/yfan/redsift/internal/util"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check store consistency and optionally clean orphaned files",
	Long: `Run consistency checks across the raw and final stores and the
crawl state database.

For each store this verifies that the index parses, that every indexed
image ref resolves to a file, and that no image directory exists
without an index entry. With --fix, orphaned image directories (the
residue of an interrupted promotion or crawl) are removed.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().Bool("fix", false, "remove orphaned image directories")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	applyLogLevel()
	fix, _ := cmd.Flags().GetBool("fix")

	util.InfoLog("=== redsift doctor ===")

	problems := 0
	stores := map[string]string{
		"raw":   viper.GetString("raw_dir"),
		"final": viper.GetString("final_dir"),
	}
	for _, name := range []string{"raw", "final"} {
		n, err := checkStore(name, stores[name], fix)
		if err != nil {
			util.ErrorLog("%s store: %v", name, err)
			problems++
			continue
		}
		problems += n
	}

	dbPath := viper.GetString("db")
	if _, err := os.Stat(dbPath); err == nil {
		db, err := state.Open(dbPath)
		if err != nil {
			util.ErrorLog("state database: %v", err)
			problems++
		} else {
			defer db.Close()
			if err := db.CheckIntegrity(); err != nil {
				util.ErrorLog("state database: %v", err)
				problems++
			} else {
				util.SuccessLog("state database: ok")
			}
		}
	} else {
		util.InfoLog("state database: not present (nothing crawled yet)")
	}

	if problems > 0 {
		return fmt.Errorf("found %d problem(s)", problems)
	}
	util.SuccessLog("All checks passed")
	return nil
}

// checkStore verifies one store and returns the number of problems
// left after any fixes.
func checkStore(name, root string, fix bool) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		util.InfoLog("%s store: not present", name)
		return 0, nil
	}

	store, err := dataset.Open(root)
	if err != nil {
		return 0, err
	}

	rep, err := store.Verify()
	if err != nil {
		return 0, err
	}

	problems := 0
	for id, refs := range rep.MissingFiles {
		problems++
		util.ErrorLog("%s store: %s references %d missing file(s): %v", name, id, len(refs), refs)
	}

	if len(rep.OrphanDirs) > 0 {
		if fix {
			cleaned, err := store.CleanOrphans()
			if err != nil {
				return problems, err
			}
			util.SuccessLog("%s store: removed %d orphaned image dir(s): %v", name, len(cleaned), cleaned)
		} else {
			problems += len(rep.OrphanDirs)
			util.WarnLog("%s store: %d orphaned image dir(s) (run with --fix to clean): %v",
				name, len(rep.OrphanDirs), rep.OrphanDirs)
		}
	}

	if problems == 0 {
		util.SuccessLog("%s store: %d notes, consistent", name, store.Len())
	}
	return problems, nil
}
