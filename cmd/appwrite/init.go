package main

import (
	"fmt"

	appwrite "github.com/appwrite/sdk-for-go"
	"github.com/spf13/cobra"
)

var (
	initEndpoint string
	initProject  string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", appwrite.DefaultEndpoint, "Appwrite API endpoint")
	initCmd.Flags().StringVar(&initProject, "project", "", "project ID")
	_ = initCmd.MarkFlagRequired("project")
}

var initCmd = &cobra.Command{
	Use:   "init --project <id>",
	Short: "Store endpoint and project in ~/.appwrite/config.toml",
	Long:  "Initialize the Appwrite CLI by storing the endpoint and project ID in the local configuration file.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.Endpoint = initEndpoint
		cfg.Default.Project = initProject

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
		return nil
	},
}
