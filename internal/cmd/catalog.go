package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reposync/pkg/config"
	"reposync/pkg/github"
	"reposync/pkg/reposync"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the repositories of an organization",
	Long: `Print the repositories listed in the organization's membership file, in file
order, with their default branches.

The membership file is read from <org>/.github/peribolos.yaml unless
--membership-file points at a local copy. With --config, repositories excluded
by the sync configuration are marked.

Examples:
  reposync catalog --org acme
  reposync catalog --org acme --membership-file peribolos.yaml --config sync.yaml`,
	Args: cobra.NoArgs,
	RunE: runCatalog,
}

func init() {
	catalogCmd.Flags().StringVar(&orgFlag, "org", "", "GitHub organization (defaults to github.organization)")
	catalogCmd.Flags().StringVar(&membershipFile, "membership-file", "", "read the membership file from disk instead of GitHub")
	catalogCmd.Flags().StringVar(&syncConfigPath, "config", "", "sync configuration used to mark excluded repositories")
}

// membershipSource picks the local file when given, else the org's .github repository
func membershipSource(cfg *config.Config, file string, client github.APIClient) reposync.MembershipSource {
	if file != "" {
		return &reposync.FileMembershipSource{Path: file}
	}
	return reposync.NewGitHubMembershipSource(client, cfg.Sync.MembershipRepo, cfg.Sync.MembershipPath)
}

// loadCatalog resolves credentials only when the catalog lives on GitHub
func loadCatalog(ctx context.Context, cmd *cobra.Command, org string) ([]reposync.RepositoryTarget, error) {
	var client github.APIClient
	if membershipFile == "" {
		creds, err := resolveCredentials(ctx, appConfig, cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		client = creds.Client
	}

	return reposync.LoadCatalog(ctx, membershipSource(appConfig, membershipFile, client), org)
}

func requireOrg() (string, error) {
	org := appConfig.GitHub.Organization
	if org == "" {
		return "", errors.New("organization not specified: use --org or set github.organization in ~/.reposync/config.yaml")
	}
	return org, nil
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	org, err := requireOrg()
	if err != nil {
		return err
	}

	var syncConfig *reposync.SyncConfig
	if syncConfigPath != "" {
		if syncConfig, err = reposync.LoadSyncConfig(syncConfigPath, sourceRoot); err != nil {
			return err
		}
	}

	catalog, err := loadCatalog(cmd.Context(), cmd, org)
	if err != nil {
		return err
	}

	printCatalog(cmd.OutOrStdout(), org, catalog, syncConfig)
	return nil
}

func printCatalog(out io.Writer, org string, catalog []reposync.RepositoryTarget, syncConfig *reposync.SyncConfig) {
	fmt.Fprintf(out, "Repositories in %s:\n", org)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	excluded := 0
	for _, t := range catalog {
		note := ""
		if syncConfig != nil && syncConfig.IsExcluded(t.Name) {
			note = "excluded"
			excluded++
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", t.Name, t.DefaultBranch, note)
	}
	_ = tw.Flush()

	fmt.Fprintf(out, "\n%d repositories", len(catalog))
	if excluded > 0 {
		fmt.Fprintf(out, ", %d excluded", excluded)
	}
	fmt.Fprintln(out)
}
