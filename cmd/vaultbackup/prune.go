package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dedupvault/internal/retention"
)

func newPruneCmd(logger *slog.Logger) *cobra.Command {
	var (
		keepCount  int
		maxAgeDays int
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply retention policies to prune old snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd, logger)
			if err != nil {
				return err
			}
			defer d.close()

			var policies []retention.Policy
			if keepCount > 0 {
				policies = append(policies, retention.NewCountRetentionPolicy(keepCount))
			}
			if maxAgeDays > 0 {
				policies = append(policies, retention.NewAgeRetentionPolicy(maxAgeDays))
			}
			if len(policies) == 0 && d.config != nil {
				policies, err = d.config.BuildRetentionPolicies()
				if err != nil {
					return err
				}
			}
			if len(policies) == 0 {
				return fmt.Errorf("at least one of --keep-count, --max-age-days, or a configured retention policy must be set")
			}

			engine := retention.NewEngine(d.meta, policies, logger)
			pruned, err := engine.Prune(cmd.Context(), dryRun, hexDecrefer(d))
			if err != nil {
				return err
			}

			verb := "pruned"
			if dryRun {
				verb = "would prune"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d snapshot(s)\n", verb, len(pruned))
			for _, id := range pruned {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keepCount, "keep-count", 0, "keep the N newest snapshots (CountRetentionPolicy)")
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "keep snapshots newer than N days (AgeRetentionPolicy)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the prune set without deleting anything")
	return cmd
}
