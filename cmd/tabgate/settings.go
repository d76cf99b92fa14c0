package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/tabgate/internal/config"
	"github.com/standardbeagle/tabgate/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and edit persisted settings",
	Long: fmt.Sprintf(`Read and edit the persisted settings file.

Known keys:
  %s      domain proxied origins are subdomains of
  %s  comma separated origins the control script accepts`,
		settings.KeyProxyDomain, settings.KeyAllowedOrigins),
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSettings(cmd)
		if err != nil {
			return err
		}
		v, ok := store.Get(args[0])
		if !ok {
			return fmt.Errorf("setting %q is not set", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSettings(cmd)
		if err != nil {
			return err
		}
		if err := store.Set(args[0], args[1]); err != nil {
			return err
		}
		return store.Close()
	},
}

var settingsUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSettings(cmd)
		if err != nil {
			return err
		}
		store.Delete(args[0])
		return store.Close()
	},
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := openSettings(cmd)
		if err != nil {
			return err
		}
		for _, k := range store.Keys() {
			v, _ := store.Get(k)
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, v)
		}
		return nil
	},
}

func init() {
	settingsCmd.PersistentFlags().String("file", "", "Settings file (default: host.settings-path)")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsUnsetCmd, settingsListCmd)
}

func openSettings(cmd *cobra.Command) (*settings.FileStore, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		path = cfg.Host.SettingsPath
	}
	return settings.Open(settings.FileStoreConfig{Path: path})
}
