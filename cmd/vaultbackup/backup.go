package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dedupvault/internal/backup"
	"dedupvault/internal/chunker"
)

func newBackupCmd(logger *slog.Logger) *cobra.Command {
	var (
		name        string
		description string
		parent      string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "backup <source-dir>",
		Short: "Back up a directory tree into a new snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd, logger)
			if err != nil {
				return err
			}
			defer d.close()

			chunkOpts := chunker.Options{Kind: chunker.KindCDC}
			if d.config != nil {
				chunkOpts, err = d.config.Chunker.ChunkerOptions()
				if err != nil {
					return err
				}
			}

			progress := func(ev backup.ProgressEvent) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d files, %d/%d bytes: %s", ev.FilesProcessed, ev.TotalFiles, ev.BytesProcessed, ev.TotalBytes, ev.CurrentFile)
			}
			engine := newBackupEngine(d, logger, progress)
			opts := backup.Options{Name: name, Description: description, Concurrency: concurrency, Chunker: chunkOpts}

			var res backup.Result
			if parent != "" {
				res, err = engine.BackupIncremental(cmd.Context(), args[0], opts, parent, nil)
			} else {
				res, err = engine.Backup(cmd.Context(), args[0], opts)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "\n")
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s: %d files rechunked, %d carried forward, %d bytes, %s\n",
				res.SnapshotID, res.FilesProcessed, res.FilesCarriedForward, res.BytesProcessed, res.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "snapshot name")
	cmd.Flags().StringVar(&description, "description", "", "snapshot description")
	cmd.Flags().StringVar(&parent, "parent", "", "parent snapshot ID for an incremental backup")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "per-file worker pool size (0 = default)")
	return cmd
}
