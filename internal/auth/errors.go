package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"

	"reposync/pkg/github"
)

// ErrorType represents different types of credential errors
type ErrorType string

const (
	// Credential resolution errors
	ErrorTypeMissingToken      ErrorType = "missing_token"
	ErrorTypeInvalidToken      ErrorType = "invalid_token"
	ErrorTypeInsufficientScope ErrorType = "insufficient_scope"
	ErrorTypeMissingIdentity   ErrorType = "missing_identity"

	// GitHub App errors
	ErrorTypeInvalidAppConfig ErrorType = "invalid_app_config"
	ErrorTypeKeyAccess        ErrorType = "key_access"

	// Transport errors
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimited ErrorType = "rate_limited"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Error represents a structured credential error with troubleshooting guidance
type Error struct {
	Type                 ErrorType `json:"type"`
	Message              string    `json:"message"`
	OriginalError        error     `json:"-"`
	TroubleshootingSteps []string  `json:"troubleshooting_steps"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the original error for error unwrapping
func (e *Error) Unwrap() error {
	return e.OriginalError
}

// IsRetryable returns true if running the command again may succeed without
// changing any configuration
func (e *Error) IsRetryable() bool {
	return e.Type == ErrorTypeNetwork || e.Type == ErrorTypeRateLimited
}

// GetTroubleshootingMessage returns a formatted troubleshooting message
func (e *Error) GetTroubleshootingMessage() string {
	if len(e.TroubleshootingSteps) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\nTroubleshooting steps:\n")
	for i, step := range e.TroubleshootingSteps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
	}
	return sb.String()
}

// ClassifyError analyzes an error and returns a structured Error
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}

	// File system errors come first: a missing private key is also a PathError
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &Error{
			Type:          ErrorTypeKeyAccess,
			Message:       fmt.Sprintf("Cannot read GitHub App private key %s: %v", pathErr.Path, pathErr.Err),
			OriginalError: err,
			TroubleshootingSteps: []string{
				"Check that github.app.private_key_path points to the downloaded .pem file",
				"Verify that the file is readable by the current user",
			},
		}
	}

	var ghErr *github.Error
	if errors.As(err, &ghErr) {
		return classifyGitHubError(ghErr, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return networkError(err)
	}

	return &Error{
		Type:          ErrorTypeUnknown,
		Message:       fmt.Sprintf("Failed to resolve GitHub credentials: %v", err),
		OriginalError: err,
		TroubleshootingSteps: []string{
			"Check your internet connection",
			"Run 'reposync auth status' to inspect the resolved credentials",
		},
	}
}

func classifyGitHubError(ghErr *github.Error, err error) *Error {
	switch ghErr.Type {
	case github.ErrorTypeAuth:
		return &Error{
			Type:          ErrorTypeInvalidToken,
			Message:       "GitHub rejected the token",
			OriginalError: err,
			TroubleshootingSteps: []string{
				"Check that GITHUB_TOKEN (or GITHUB_PAT) holds a current token",
				"Tokens are revoked when they expire or when the owner leaves the organization",
				"Generate a new token and export it again",
			},
		}
	case github.ErrorTypePermission:
		return &Error{
			Type:          ErrorTypeInsufficientScope,
			Message:       ghErr.Message,
			OriginalError: err,
			TroubleshootingSteps: []string{
				"Grant the token the repo scope, or public_repo when every repository is public",
				"For fine-grained tokens, allow contents and pull requests write access",
			},
		}
	case github.ErrorTypeRateLimit:
		return &Error{
			Type:          ErrorTypeRateLimited,
			Message:       "GitHub API rate limit exceeded while resolving credentials",
			OriginalError: err,
			TroubleshootingSteps: []string{
				"Wait for the rate limit window to reset and try again",
			},
		}
	case github.ErrorTypeNetwork:
		return networkError(err)
	}

	return &Error{
		Type:          ErrorTypeUnknown,
		Message:       fmt.Sprintf("Failed to resolve GitHub credentials: %v", err),
		OriginalError: err,
	}
}

func networkError(err error) *Error {
	return &Error{
		Type:          ErrorTypeNetwork,
		Message:       fmt.Sprintf("Cannot reach the GitHub API: %v", err),
		OriginalError: err,
		TroubleshootingSteps: []string{
			"Check your internet connection",
			"When using GitHub Enterprise, verify github.api_url",
			"Check proxy settings (HTTPS_PROXY)",
		},
	}
}

func missingTokenError() *Error {
	return &Error{
		Type:    ErrorTypeMissingToken,
		Message: "no GitHub token found",
		TroubleshootingSteps: []string{
			"export GITHUB_TOKEN=<personal access token>",
			"or set github.token in ~/.reposync/config.yaml",
			"or configure a GitHub App under github.app",
		},
	}
}
