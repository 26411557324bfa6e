package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusworks/rollsync/internal/config"
)

// configCmd is the parent command for config management.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and modify rollsync configuration",
	Long: `View and modify the rollsync configuration file.

The file stores the backend mode, service URLs, and the NAME of the
environment variable holding the service-role key. The key itself is
never written to disk.

Examples:
  rollsync config show
  rollsync config set mode gotrue
  rollsync config set auth-url https://xyz.supabase.co/auth/v1
  rollsync config path`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

// configShowCmd shows the current configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("# Configuration file: %s\n", configPath())
		fmt.Printf("mode:            %s\n", cfg.Mode)
		if cfg.AuthURL != "" {
			fmt.Printf("auth_url:        %s\n", cfg.AuthURL)
		}
		if cfg.Mode == config.ModeGoTrue {
			fmt.Printf("rest_url:        %s\n", cfg.ProfileURL())
		}
		fmt.Printf("service_key_env: %s\n", cfg.ServiceKeyEnv)
		if cfg.DBPath != "" {
			fmt.Printf("db_path:         %s\n", cfg.DBPath)
		}
		return nil
	},
}

// configSetCmd writes one setting back to the config file.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set one configuration value and save the file.

Available keys:
  mode             store backend: gotrue or local
  auth-url         auth service base URL (gotrue mode)
  rest-url         profile query API base URL (gotrue mode)
  service-key-env  environment variable NAMING the service-role key
  db-path          sqlite database path (local mode)

Examples:
  rollsync config set mode local
  rollsync config set service-key-env SCHOOL_SERVICE_KEY`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		switch key {
		case "mode":
			cfg.Mode = value
		case "auth-url":
			cfg.AuthURL = value
		case "rest-url":
			cfg.RestURL = value
		case "service-key-env":
			cfg.ServiceKeyEnv = value
		case "db-path":
			cfg.DBPath = value
		default:
			return fmt.Errorf("unknown key %q (supported: mode, auth-url, rest-url, service-key-env, db-path)", key)
		}

		path := configPath()
		if err := cfg.SaveTo(path); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", path)
		return nil
	},
}

// configPathCmd prints the config file location.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(configPath())
		return nil
	},
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.ConfigPath()
}
