package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dedupvault/internal/merkle"
	"dedupvault/internal/metadata"
)

func newSnapshotCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect snapshots",
	}
	cmd.AddCommand(
		newSnapshotListCmd(logger),
		newSnapshotShowCmd(logger),
		newSnapshotDiffCmd(logger),
	)
	return cmd
}

func newSnapshotListCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd, logger)
			if err != nil {
				return err
			}
			defer d.close()

			snaps, err := d.meta.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d files\t%d bytes\n",
					s.ID, s.Name, s.Status, s.FileCount, s.TotalBytes)
			}
			return nil
		},
	}
}

func newSnapshotShowCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Show a snapshot's files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd, logger)
			if err != nil {
				return err
			}
			defer d.close()

			snap, err := d.meta.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id: %s\nname: %s\nstatus: %s\ncreated_at: %s\nmerkle_root: %s\n",
				snap.ID, snap.Name, snap.Status, snap.CreatedAt, snap.MerkleRoot)

			files, err := d.meta.ListFiles(cmd.Context(), snap.ID, "")
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%d bytes\t%s\n", f.Path, f.Size, f.ContentHash)
			}
			return nil
		},
	}
}

func newSnapshotDiffCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <snapshot-a> <snapshot-b>",
		Short: "Diff two snapshots by path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd, logger)
			if err != nil {
				return err
			}
			defer d.close()

			rootA, err := buildMerkleRoot(cmd, d, args[0])
			if err != nil {
				return err
			}
			rootB, err := buildMerkleRoot(cmd, d, args[1])
			if err != nil {
				return err
			}

			for _, entry := range merkle.Diff(rootA, rootB) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", entry.Kind, entry.Path)
			}
			return nil
		},
	}
}

func buildMerkleRoot(cmd *cobra.Command, d *deps, snapshotID string) (*merkle.Node, error) {
	files, err := d.meta.ListFiles(cmd.Context(), snapshotID, "")
	if err != nil {
		return nil, err
	}
	return merkle.Build(toMerkleFiles(files)), nil
}

func toMerkleFiles(recs []metadata.FileRecord) []merkle.File {
	out := make([]merkle.File, 0, len(recs))
	for _, r := range recs {
		digest, err := parseDigestOrZero(r.ContentHash)
		if err != nil {
			continue
		}
		out = append(out, merkle.File{Path: r.Path, Size: r.Size, ContentHash: digest})
	}
	return out
}
