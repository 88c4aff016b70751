package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dedupvault/internal/changetracker"
	configfile "dedupvault/internal/config/file"
)

func newWatchCmd(logger *slog.Logger) *cobra.Command {
	var (
		excludePatterns []string
		debounceMS      int
	)

	cmd := &cobra.Command{
		Use:   "watch <root>",
		Short: "Watch a directory and log file change events as they're detected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if h, herr := resolveHome(cmd); herr == nil {
				if cfg, cerr := configfile.NewStore(h.ConfigPath()).Load(ctx); cerr == nil && cfg != nil {
					if len(excludePatterns) == 0 {
						excludePatterns = cfg.Watch.ExcludePatterns
					}
					if debounceMS == 0 {
						debounceMS = cfg.Watch.DebounceMS
					}
				}
			}

			debounce := changetracker.DefaultDebounce
			if debounceMS > 0 {
				debounce = time.Duration(debounceMS) * time.Millisecond
			}

			ws, err := changetracker.NewWatchService(changetracker.WatchConfig{
				Root:            args[0],
				ExcludePatterns: excludePatterns,
				Debounce:        debounce,
				Logger:          logger,
			})
			if err != nil {
				return err
			}
			defer ws.Close()

			var journal *changetracker.Journal
			if h, herr := resolveHome(cmd); herr == nil {
				j, jerr := changetracker.OpenJournal(h.JournalPath(), logger)
				if jerr != nil {
					return fmt.Errorf("open change journal: %w", jerr)
				}
				journal = j
				defer journal.Close()
			}

			ws.Start(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s (ctrl-c to stop)\n", args[0])

			for event := range ws.Events() {
				if journal != nil {
					if err := journal.Record(event); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "failed to record event for %s: %v\n", event.Path, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", event.Kind, event.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&excludePatterns, "exclude", nil, "glob patterns to exclude from watching")
	cmd.Flags().IntVar(&debounceMS, "debounce-ms", 0, "debounce window in milliseconds (0 = default)")
	return cmd
}
