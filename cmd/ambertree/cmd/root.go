/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ssargent/ambertree/pkg/config"
	"github.com/ssargent/ambertree/pkg/log"
	"github.com/ssargent/ambertree/pkg/store"

	"github.com/spf13/cobra"
)

type contextKey string

const storeContextKey contextKey = "store"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ambertree",
	Short: "ambertree - embeddable copy-on-write B-tree KV store",
	Long: `ambertree is a single-file, copy-on-write B-tree key-value store
with crash-safe commits via a double-write superblock.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.LevelFromString(cfg.Logging.Level)})

		s, err := store.New(store.Config{
			DataDir:       cfg.DataDir,
			Order:         cfg.Order,
			FsyncOnCommit: cfg.FsyncOnCommit,
		})
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		if err := s.Open(); err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}

		cmd.SetContext(context.WithValue(cmd.Context(), storeContextKey, s))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		s, ok := storeFromContext(cmd)
		if !ok {
			return nil
		}
		return s.Close()
	},
}

// loadConfig builds the effective configuration for this invocation: the
// built-in defaults, overlaid by an explicit --config file (or, if none was
// given, whatever sits at config.GetDefaultConfigPath()), overlaid in turn by
// any --data-dir/--order flags the user actually passed on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		if p := config.GetDefaultConfigPath(); config.ConfigExists(p) {
			configPath = p
		}
	}
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
		}
		cfg = loaded
	}

	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("order") {
		cfg.Order, _ = cmd.Flags().GetInt("order")
	}

	return cfg, nil
}

// storeFromContext retrieves the store opened by PersistentPreRunE. Every
// subcommand uses this helper rather than constructing its own store, so
// there is exactly one open data file per invocation.
func storeFromContext(cmd *cobra.Command) (*store.Store, bool) {
	s, ok := cmd.Context().Value(storeContextKey).(*store.Store)
	return s, ok
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory for the store")
	rootCmd.PersistentFlags().Int("order", 0, "B-tree node order (0 uses the built-in default)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a config file (default: "+config.GetDefaultConfigPath()+" if present)")
}
