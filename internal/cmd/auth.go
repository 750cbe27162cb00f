package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"reposync/internal/auth"
	"reposync/pkg/config"
	"reposync/pkg/github"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authentication commands",
	Long:  "Commands for inspecting the GitHub credentials reposync acts with",
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the resolved GitHub identity",
	Long: `Resolve GitHub credentials the same way sync does and print the identity that
will own the forks, where the token came from and the scopes it carries.

Credentials are looked up in this order:
  1. GitHub App installation (github.app in the settings file)
  2. GITHUB_TOKEN, then GITHUB_PAT
  3. github.token in the settings file`,
	RunE: runAuthStatus,
}

func init() {
	authCmd.AddCommand(authStatusCmd)
}

// newProvider builds the credential provider for the resolved settings.
// Replaced in tests.
var newProvider = func(cfg *config.Config) auth.Provider {
	opts := []github.ClientOption{github.WithLogger(logger)}

	if cfg.GitHub.App.Enabled() {
		return &auth.AppProvider{
			AppID:          cfg.GitHub.App.AppID,
			InstallationID: cfg.GitHub.App.InstallationID,
			PrivateKeyPath: cfg.GitHub.App.PrivateKeyPath,
			Identity:       cfg.GitHub.Identity,
			APIURL:         cfg.GitHub.APIURL,
			Options:        opts,
		}
	}

	return &auth.TokenProvider{
		ConfigToken: cfg.GitHub.Token,
		Identity:    cfg.GitHub.Identity,
		APIURL:      cfg.GitHub.APIURL,
		Options:     opts,
	}
}

// resolveCredentials authenticates and prints guidance to errOut on failure
func resolveCredentials(ctx context.Context, cfg *config.Config, errOut io.Writer) (*auth.Credentials, error) {
	creds, err := newProvider(cfg).Credentials(ctx)
	if err != nil {
		fmt.Fprintf(errOut, "Authentication failed: %v\n", err)

		var authErr *auth.Error
		if errors.As(err, &authErr) {
			fmt.Fprint(errOut, authErr.GetTroubleshootingMessage())
			if authErr.Type == auth.ErrorTypeMissingToken {
				fmt.Fprintf(errOut, "\n%s\n", github.GetAuthInstructions())
			}
		}
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	logger.Debug("resolved GitHub credentials", "identity", creds.Identity, "source", creds.Source)
	return creds, nil
}

func runAuthStatus(cmd *cobra.Command, _ []string) error {
	creds, err := resolveCredentials(cmd.Context(), appConfig, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Authenticated as %s\n", creds.Identity)
	fmt.Fprintf(out, "  Source: %s\n", creds.Source)
	if len(creds.Scopes) > 0 {
		fmt.Fprintf(out, "  Scopes: %s\n", strings.Join(creds.Scopes, ", "))
	}
	if creds.Client != nil {
		fmt.Fprintf(out, "  API: %s\n", creds.Client.BaseURL())
	}
	return nil
}
