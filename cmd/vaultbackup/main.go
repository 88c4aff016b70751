// Command vaultbackup runs deduplicating, content-addressed backups.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"dedupvault/internal/logging"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	root := &cobra.Command{
		Use:     "vaultbackup",
		Short:   "Deduplicating, content-addressed backup engine",
		Version: version,
	}
	root.PersistentFlags().String("home", "", "storage root (defaults to the platform config directory)")

	root.AddCommand(
		newBackupCmd(logger),
		newRestoreCmd(logger),
		newSnapshotCmd(logger),
		newPruneCmd(logger),
		newWatchCmd(logger),
		newConfigCmd(logger),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
