package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reposync/pkg/reposync"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a sync configuration file",
	Long: `Validate a sync configuration file without touching any repository.

Offline checks (always performed):
• YAML syntax and unknown keys
• At least one file rule, no duplicate destinations
• Relative paths that stay inside the repository
• Every source file exists under the source root

Catalog checks (when --org is given):
• Every excluded repository name appears in the organization's membership file

Examples:
  reposync validate --config sync.yaml
  reposync validate --config sync.yaml --source-root ./standards
  reposync validate --config sync.yaml --org acme --membership-file peribolos.yaml`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&syncConfigPath, "config", "", "sync configuration file (required)")
	validateCmd.Flags().StringVar(&sourceRoot, "source-root", "", "directory source paths are relative to (defaults to the config file's directory)")
	validateCmd.Flags().StringVar(&orgFlag, "org", "", "also check exclusions against this organization's catalog")
	validateCmd.Flags().StringVar(&membershipFile, "membership-file", "", "read the membership file from disk instead of GitHub")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🔍 Validating configuration file: %s\n", syncConfigPath)

	syncConfig, err := reposync.LoadSyncConfig(syncConfigPath, sourceRoot)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fmt.Fprintf(out, "✓ Configuration is valid: %d files to sync\n", len(syncConfig.FilesToSync))
	for _, rule := range syncConfig.FilesToSync {
		line := fmt.Sprintf("  - %s → %s", rule.Source, rule.Destination)
		if len(rule.ExcludeRepos) > 0 {
			line += fmt.Sprintf(" (not in: %s)", strings.Join(rule.ExcludeRepos, ", "))
		}
		fmt.Fprintln(out, line)
	}
	if len(syncConfig.ExcludeRepos) > 0 {
		fmt.Fprintf(out, "  Excluded repositories: %s\n", strings.Join(syncConfig.ExcludeRepos, ", "))
	}

	org := appConfig.GitHub.Organization
	if !cmd.Flags().Changed("org") || org == "" {
		return nil
	}

	catalog, err := loadCatalog(cmd.Context(), cmd, org)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(catalog))
	for _, t := range catalog {
		known[t.Name] = true
	}

	var unknown []string
	for _, name := range syncConfig.ExcludeRepos {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	for _, rule := range syncConfig.FilesToSync {
		for _, name := range rule.ExcludeRepos {
			if !known[name] {
				unknown = append(unknown, name)
			}
		}
	}

	if len(unknown) > 0 {
		fmt.Fprintf(out, "⚠️  Excluded repositories not found in %s: %s\n", org, strings.Join(unknown, ", "))
		return nil
	}
	fmt.Fprintf(out, "✓ All excluded repositories exist in %s (%d repositories)\n", org, len(catalog))
	return nil
}
