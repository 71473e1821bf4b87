package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/ofsync/internal/config"
	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/hasher"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/registry"
	"github.com/TheMichaelB/ofsync/internal/scanner"
	"github.com/TheMichaelB/ofsync/internal/state"
)

var (
	cfgFile      string
	outputFormat string
	verbose      bool

	cfg    *config.Config
	logger *events.Logger
	reg    *registry.Registry
)

var rootCmd = &cobra.Command{
	Use:   "ofsync",
	Short: "Track pairs of offline folders and report what changed",
	Long: `ofsync keeps a registry of local/remote folder pairs (for example a
working directory and its copy on removable media) and tells you, per file
and per pair, which side changed since the last scan.

No files are ever copied; ofsync only classifies.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./ofsync.yaml, ~/.config/ofsync/ofsync.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputText,
		"Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("Error: %v", err)
		os.Exit(exitCode(err))
	}
}

func setup(cmd *cobra.Command, args []string) error {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	switch outputFormat {
	case outputText, outputJSON, outputYAML:
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}

	loaded, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if verbose {
		cfg.Log.Level = "debug"
	}
	if !cfg.Log.Color {
		color.NoColor = true
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if reg != nil {
		if err := reg.Close(); err != nil {
			return fmt.Errorf("close registry: %w", err)
		}
		reg = nil
	}
	return nil
}

// openRegistry wires the tracking store, hasher and scanner from cfg and
// opens the registry database.
func openRegistry(ctx context.Context) (*registry.Registry, error) {
	if reg != nil {
		return reg, nil
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	store, err := state.New(cfg.Tracking, logger)
	if err != nil {
		return nil, err
	}
	h, err := hasher.FromConfig(cfg.Scan)
	if err != nil {
		return nil, err
	}

	r, err := registry.Open(ctx, cfg.Registry, scanner.New(store, h, logger), logger)
	if err != nil {
		return nil, err
	}
	reg = r
	return reg, nil
}

func exitCode(err error) int {
	switch models.Code(err) {
	case models.ErrCodeInvalidPath:
		return 2
	case models.ErrCodeNotFound:
		return 3
	case models.ErrCodeStoreIO:
		return 4
	}
	switch {
	case errors.Is(err, models.ErrInvalidName), errors.Is(err, models.ErrAlreadyExists):
		return 2
	case errors.Is(err, models.ErrLocked):
		return 5
	}
	return 1
}
