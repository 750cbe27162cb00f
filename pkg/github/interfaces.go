package github

import "context"

// APIClient defines the GitHub operations needed to fork repositories,
// read their files and open pull requests against them
type APIClient interface {
	// Identity operations
	ValidateToken(ctx context.Context) (*TokenInfo, error)

	// Repository operations
	GetRepository(ctx context.Context, owner, name string) (*Repository, error)
	CreateFork(ctx context.Context, owner, name string) (*Repository, error)

	// Content operations. found is false when the path does not exist at ref.
	GetFileContent(ctx context.Context, owner, name, path, ref string) (content []byte, found bool, err error)

	// Pull request operations
	ListPullRequests(ctx context.Context, owner, name string, filter PullRequestFilter) ([]PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, name string, pr NewPullRequest) (*PullRequest, error)

	// Branch operations
	GetBranch(ctx context.Context, owner, name, branch string) (*Branch, error)
	DeleteBranch(ctx context.Context, owner, name, branch string) error
}
