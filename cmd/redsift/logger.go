package main

import (
	"github.com/spf13/viper"

	"github.com/yfan/redsift/internal/report"
	"github.com/yfan/redsift/internal/util"
)

// openEventLogger opens the run-scoped JSONL event log, degrading to a
// null logger if the artifacts directory is not writable.
func openEventLogger() *report.EventLogger {
	level := report.LevelInfo
	if viper.GetBool("quiet") {
		level = report.LevelWarning
	} else if viper.GetBool("verbose") {
		level = report.LevelDebug
	}

	logger, err := report.NewEventLogger(viper.GetString("artifacts"), level)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		return report.NullLogger()
	}
	if logger.Path() != "" {
		util.InfoLog("Event log: %s", logger.Path())
	}
	return logger
}
