package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dedupvault/internal/restore"
)

func newRestoreCmd(logger *slog.Logger) *cobra.Command {
	var (
		verify    bool
		preserve  bool
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "restore <snapshot-id> <target-dir>",
		Short: "Restore a snapshot's files onto disk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd, logger)
			if err != nil {
				return err
			}
			defer d.close()

			progress := func(ev restore.ProgressEvent) {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d files, %d/%d bytes: %s", ev.FilesProcessed, ev.TotalFiles, ev.BytesProcessed, ev.TotalBytes, ev.CurrentFile)
			}
			engine := newRestoreEngine(d, logger, progress)
			res, err := engine.Restore(cmd.Context(), args[0], args[1], restore.Options{
				VerifyIntegrity:    verify,
				PreserveAttributes: preserve,
				OverwriteExisting:  overwrite,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "\n")
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d files (%d failed), %d bytes\n",
				res.FilesRestored, res.FilesFailed, res.BytesRestored)
			for _, f := range res.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "  failed: %s: %v\n", f.Path, f.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify-integrity", false, "recompute and verify content_hash after reassembly")
	cmd.Flags().BoolVar(&preserve, "preserve-attributes", false, "apply recorded mtime to restored files")
	cmd.Flags().BoolVar(&overwrite, "overwrite-existing", false, "clobber files already present at the target path")
	return cmd
}
