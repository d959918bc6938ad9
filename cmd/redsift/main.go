package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "redsift",
		Short: "Crawl, curate and archive note datasets",
		Long: `redsift acquires notes (images + title + caption) from the platform
into a raw dataset, promotes a curated subset into a publish-ready final
dataset, filters the final dataset against quality invariants, and
archives aged-out raw notes.

Each dataset is a directory pairing an annotations.json index with an
image/ tree; the index is the source of truth and every command keeps
the two consistent.`,
		Version: Version,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/redsift.yaml)")
	rootCmd.PersistentFlags().String("raw-dir", "data", "raw store directory")
	rootCmd.PersistentFlags().String("final-dir", "data_final", "final store directory")
	rootCmd.PersistentFlags().String("archive-dir", "data_past", "archive root directory")
	rootCmd.PersistentFlags().String("db", "redsift-state.db", "crawl state database file")
	rootCmd.PersistentFlags().String("artifacts", "artifacts", "event log output directory")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("raw_dir", rootCmd.PersistentFlags().Lookup("raw-dir"))
	viper.BindPFlag("final_dir", rootCmd.PersistentFlags().Lookup("final-dir"))
	viper.BindPFlag("archive_dir", rootCmd.PersistentFlags().Lookup("archive-dir"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("artifacts", rootCmd.PersistentFlags().Lookup("artifacts"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("redsift")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REDSIFT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func applyLogLevel() {
	util.SetVerbose(viper.GetBool("verbose"))
	util.SetQuiet(viper.GetBool("quiet"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
