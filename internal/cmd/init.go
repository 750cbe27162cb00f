package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reposync/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize reposync configuration",
	Long:  "Create a default settings file at ~/.reposync/config.yaml (or --user-config)",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	configPath := userConfigPath
	if configPath == "" {
		var err error
		if configPath, err = config.GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	out := cmd.OutOrStdout()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "⚠️  Configuration file already exists at: %s\n", configPath)
		fmt.Fprint(out, "Do you want to overwrite it? (y/N): ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if r := strings.TrimSpace(response); r != "y" && r != "Y" {
			fmt.Fprintln(out, "Configuration initialization cancelled.")
			return nil
		}
	}

	defaultConfig := config.Default()
	defaultConfig.GitHub.Organization = "your-org"

	if err := defaultConfig.SaveConfigToPath(configPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(out, "✅ Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "📝 Set github.organization and export GITHUB_TOKEN before running reposync sync.")

	return nil
}
