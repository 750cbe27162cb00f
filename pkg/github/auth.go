package github

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"
)

// ValidateToken resolves the login behind the client's token and checks the
// scopes needed to fork repositories and open pull requests.
// Fine-grained and installation tokens report no scopes; those are accepted
// as-is and fail later with a permission error if they lack access.
func (c *Client) ValidateToken(ctx context.Context) (*TokenInfo, error) {
	var (
		user *github.User
		resp *github.Response
	)

	err := c.do(ctx, "authenticated user", func() (*github.Response, error) {
		var err error
		user, resp, err = c.client.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to validate GitHub token: %w", err)
	}

	scopes := []string{}
	if resp != nil {
		if scopeHeader := resp.Header.Get("X-OAuth-Scopes"); scopeHeader != "" {
			scopes = strings.Split(strings.ReplaceAll(scopeHeader, " ", ""), ",")
		}
	}

	tokenInfo := &TokenInfo{
		User:   user.GetLogin(),
		Scopes: scopes,
	}

	if err := validatePermissions(tokenInfo.Scopes); err != nil {
		return tokenInfo, err
	}

	return tokenInfo, nil
}

// validatePermissions checks if a classic token carries a repository scope
func validatePermissions(scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}

	for _, scope := range scopes {
		if scope == "repo" || scope == "public_repo" {
			return nil
		}
	}

	return NewError(ErrorTypePermission,
		fmt.Sprintf("GitHub token missing required permissions (has: %s). Please ensure your token has the repo or public_repo scope",
			strings.Join(scopes, ", ")), nil)
}

// GetAuthInstructions returns instructions for setting up GitHub authentication
func GetAuthInstructions() string {
	return `GitHub authentication is required. Please set up authentication using one of the following methods:

1. Environment Variable (Recommended for CI/CD):
   export GITHUB_TOKEN="your_personal_access_token"
   (GITHUB_PAT is accepted as a fallback)

2. Configuration File:
   Add the following to ~/.reposync/config.yaml:

   github:
     token: "your_personal_access_token"

3. GitHub App installation:

   github:
     identity: "bot-account-that-owns-the-forks"
     app:
       app_id: 12345
       installation_id: 67890
       private_key_path: "/path/to/private-key.pem"

To create a personal access token:
1. Go to GitHub Settings > Developer settings > Personal access tokens
2. Click "Generate new token (classic)"
3. Select the following scopes:
   - repo (Full control of private repositories)
   or public_repo when every target repository is public
4. Copy the generated token and use it with one of the methods above`
}
