package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dedupvault/internal/config"
	configfile "dedupvault/internal/config/file"
	"dedupvault/internal/home"
)

func newConfigCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize a vault's declarative configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd())
	return cmd
}

func resolveHome(cmd *cobra.Command) (home.Dir, error) {
	homeFlag, _ := cmd.Flags().GetString("home")
	if homeFlag != "" {
		return home.New(homeFlag), nil
	}
	return home.Default()
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.json to the vault's storage root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := resolveHome(cmd)
			if err != nil {
				return err
			}
			if err := h.EnsureExists(); err != nil {
				return err
			}

			cfg := &config.Config{
				StorageRoot: h.Root(),
				Chunker: config.ChunkerConfig{
					Kind: "cdc",
					Min:  16 * 1024,
					Avg:  64 * 1024,
					Max:  256 * 1024,
				},
				Compression: "none",
				RetentionPolicies: []config.RetentionPolicyConfig{
					{Type: "count", Count: 10},
					{Type: "age", Days: 30},
				},
				Watch: config.WatchConfig{
					DebounceMS: 500,
				},
			}

			if err := configfile.NewStore(h.ConfigPath()).Save(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", h.ConfigPath())
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the vault's current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := resolveHome(cmd)
			if err != nil {
				return err
			}
			cfg, err := configfile.NewStore(h.ConfigPath()).Load(cmd.Context())
			if err != nil {
				return err
			}
			if cfg == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no config at %s (run \"config init\" to create one)\n", h.ConfigPath())
				return nil
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
