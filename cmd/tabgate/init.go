package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/tabgate/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a documented default config.kdl",
	Long: `Write a documented default config.kdl.

Without a path the file goes to the global config location. Existing files are kept
unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GlobalConfigPath()
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no config path: pass one explicitly")
		}
		if force, _ := cmd.Flags().GetBool("force"); !force {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
}
