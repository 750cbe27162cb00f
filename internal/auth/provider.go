// Package auth resolves the GitHub credentials a sync run acts with: the
// token used for API calls and git pushes, and the identity that owns forks.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"golang.org/x/oauth2"

	"reposync/pkg/github"
)

// Token environment variables, in lookup order
const (
	EnvToken    = "GITHUB_TOKEN"
	EnvTokenAlt = "GITHUB_PAT"
)

// Credentials are the resolved identity of a run
type Credentials struct {
	Token    string
	Identity string
	Scopes   []string
	// Source describes where the token came from, for display only
	Source string
	Client *github.Client
}

// Provider resolves credentials
type Provider interface {
	Credentials(ctx context.Context) (*Credentials, error)
}

// TokenProvider authenticates with a personal access token
type TokenProvider struct {
	// ConfigToken is used when neither environment variable is set
	ConfigToken string
	// Identity skips the GET /user lookup when set
	Identity string
	APIURL   string
	Options  []github.ClientOption
}

// Credentials resolves the token and, unless configured, the login behind it
func (p *TokenProvider) Credentials(ctx context.Context) (*Credentials, error) {
	token, source := p.lookupToken()
	if token == "" {
		return nil, missingTokenError()
	}

	client, err := p.client(ctx, token)
	if err != nil {
		return nil, &Error{Type: ErrorTypeUnknown, Message: err.Error(), OriginalError: err}
	}

	creds := &Credentials{
		Token:    token,
		Identity: p.Identity,
		Source:   source,
		Client:   client,
	}
	if creds.Identity != "" {
		return creds, nil
	}

	info, err := client.ValidateToken(ctx)
	if err != nil {
		return nil, ClassifyError(err)
	}
	creds.Identity = info.User
	creds.Scopes = info.Scopes
	return creds, nil
}

func (p *TokenProvider) client(ctx context.Context, token string) (*github.Client, error) {
	if p.APIURL == "" {
		return github.NewClient(token, p.Options...), nil
	}
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return github.NewClientWithHTTPClient(hc, p.APIURL, p.Options...)
}

func (p *TokenProvider) lookupToken() (string, string) {
	for _, env := range []string{EnvToken, EnvTokenAlt} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v, "environment variable " + env
		}
	}
	if p.ConfigToken != "" {
		return p.ConfigToken, "configuration file"
	}
	return "", ""
}

// AppProvider authenticates as a GitHub App installation
type AppProvider struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	// Identity owns the forks. Installation tokens cannot resolve it via /user.
	Identity string
	APIURL   string
	// Transport is the base transport, http.DefaultTransport when nil
	Transport http.RoundTripper
	Options   []github.ClientOption
}

// Credentials mints an installation token. The API client keeps refreshing
// it through the installation transport; the returned Token is for git.
func (p *AppProvider) Credentials(ctx context.Context) (*Credentials, error) {
	if p.AppID == 0 || p.InstallationID == 0 || p.PrivateKeyPath == "" {
		return nil, &Error{
			Type:    ErrorTypeInvalidAppConfig,
			Message: "GitHub App authentication requires app_id, installation_id and private_key_path",
		}
	}
	if p.Identity == "" {
		return nil, &Error{
			Type:    ErrorTypeMissingIdentity,
			Message: "GitHub App authentication requires github.identity",
			TroubleshootingSteps: []string{
				"Set github.identity to the account or organization that owns the forks",
			},
		}
	}

	key, err := os.ReadFile(p.PrivateKeyPath)
	if err != nil {
		return nil, ClassifyError(err)
	}

	base := p.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	tr, err := ghinstallation.New(base, p.AppID, p.InstallationID, key)
	if err != nil {
		return nil, &Error{
			Type:          ErrorTypeInvalidAppConfig,
			Message:       fmt.Sprintf("invalid GitHub App private key: %v", err),
			OriginalError: err,
		}
	}
	if p.APIURL != "" {
		tr.BaseURL = strings.TrimSuffix(p.APIURL, "/")
	}

	token, err := tr.Token(ctx)
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("failed to create installation token: %w", err))
	}

	client, err := github.NewClientWithHTTPClient(&http.Client{Transport: tr}, p.APIURL, p.Options...)
	if err != nil {
		return nil, &Error{Type: ErrorTypeUnknown, Message: err.Error(), OriginalError: err}
	}

	return &Credentials{
		Token:    token,
		Identity: p.Identity,
		Source:   fmt.Sprintf("GitHub App %d installation %d", p.AppID, p.InstallationID),
		Client:   client,
	}, nil
}
