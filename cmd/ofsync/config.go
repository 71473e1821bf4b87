package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/ofsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat == outputJSON {
			return printJSON(cfg)
		}
		return printYAML(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:     "init <path>",
	Short:   "Write an example config file",
	Example: `  ofsync config init ~/.config/ofsync/ofsync.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveExample(args[0]); err != nil {
			return err
		}
		printSuccess("Wrote example config to %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)
}
