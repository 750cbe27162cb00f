package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// Client implements the APIClient interface using the GitHub REST API
type Client struct {
	client  *github.Client
	limiter RateLimiter
	retry   *RetryConfig
	logger  *slog.Logger
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithRateLimiter shares a rate limiter between clients
func WithRateLimiter(rl RateLimiter) ClientOption {
	return func(c *Client) { c.limiter = rl }
}

// WithRetryConfig overrides the default retry behaviour
func WithRetryConfig(cfg *RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger used for request tracing
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a new GitHub API client with the provided token
func NewClient(token string, opts ...ClientOption) *Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return newClient(github.NewClient(tc), opts...)
}

// NewClientWithHTTPClient creates a client on top of an already authenticated
// transport, such as a GitHub App installation transport. apiURL selects a
// GitHub Enterprise endpoint when set.
func NewClientWithHTTPClient(hc *http.Client, apiURL string, opts ...ClientOption) (*Client, error) {
	gh := github.NewClient(hc)
	if apiURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
		}
	}
	return newClient(gh, opts...), nil
}

// BaseURL is the API endpoint requests are sent to
func (c *Client) BaseURL() string {
	return c.client.BaseURL.String()
}

func newClient(gh *github.Client, opts ...ClientOption) *Client {
	c := &Client{
		client:  gh,
		limiter: NewRateLimiter(nil),
		retry:   DefaultRetryConfig(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs one API call under the rate limiter and retry policy
func (c *Client) do(ctx context.Context, resource string, call func() (*github.Response, error)) error {
	return WithRetry(ctx, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter wait failed: %w", err)
			}
		}

		resp, err := call()

		if resp != nil && c.limiter != nil && resp.Rate.Limit > 0 {
			c.limiter.UpdateLimits(resp.Rate.Remaining, resp.Rate.Reset.Time)
		}
		if err != nil {
			c.logger.Debug("github request failed", "resource", resource, "error", err)
			return WrapGitHubError(err, resource)
		}
		return nil
	}, c.retry)
}

// GetRepository retrieves a repository by owner and name
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*Repository, error) {
	var repo *github.Repository

	err := c.do(ctx, fmt.Sprintf("repository %s/%s", owner, name), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		repo, resp, err = c.client.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	return convertGitHubRepository(repo), nil
}

// CreateFork forks owner/name into the authenticated account. GitHub creates
// forks asynchronously, so the returned repository may not be cloneable yet.
func (c *Client) CreateFork(ctx context.Context, owner, name string) (*Repository, error) {
	var fork *github.Repository

	err := c.do(ctx, fmt.Sprintf("fork of repository %s/%s", owner, name), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		fork, resp, err = c.client.Repositories.CreateFork(ctx, owner, name, &github.RepositoryCreateForkOptions{})

		// 202 Accepted: the fork is being created
		var accepted *github.AcceptedError
		if errors.As(err, &accepted) {
			return resp, nil
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if fork == nil {
		fork = &github.Repository{}
	}

	return convertGitHubRepository(fork), nil
}

// GetFileContent reads a single file at ref. An empty ref means the default branch.
func (c *Client) GetFileContent(ctx context.Context, owner, name, path, ref string) ([]byte, bool, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	resource := fmt.Sprintf("file %s in %s/%s", path, owner, name)

	var (
		file *github.RepositoryContent
		dir  []*github.RepositoryContent
	)
	err := c.do(ctx, resource, func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		file, dir, resp, err = c.client.Repositories.GetContents(ctx, owner, name, path, opts)
		return resp, err
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if file == nil || dir != nil {
		return nil, true, NewError(ErrorTypeValidation, fmt.Sprintf("%s is a directory", path), nil)
	}

	// Files above 1MB come back without inline content
	if file.GetEncoding() == "none" {
		return c.downloadFile(ctx, owner, name, path, opts)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, true, fmt.Errorf("failed to decode %s: %w", resource, err)
	}
	return []byte(content), true, nil
}

func (c *Client) downloadFile(ctx context.Context, owner, name, path string, opts *github.RepositoryContentGetOptions) ([]byte, bool, error) {
	var body io.ReadCloser
	err := c.do(ctx, fmt.Sprintf("file %s in %s/%s", path, owner, name), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		body, resp, err = c.client.Repositories.DownloadContents(ctx, owner, name, path, opts)
		return resp, err
	})
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = body.Close()
	}()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, true, nil
}

// ListPullRequests lists pull requests matching filter
func (c *Client) ListPullRequests(ctx context.Context, owner, name string, filter PullRequestFilter) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       filter.State,
		Head:        filter.Head,
		Base:        filter.Base,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []PullRequest

	for {
		var (
			prs  []*github.PullRequest
			next int
		)
		err := c.do(ctx, fmt.Sprintf("pull requests for %s/%s", owner, name), func() (*github.Response, error) {
			var (
				resp *github.Response
				err  error
			)
			prs, resp, err = c.client.PullRequests.List(ctx, owner, name, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, pr := range prs {
			all = append(all, convertGitHubPullRequest(pr))
		}

		if next == 0 {
			break
		}
		opts.Page = next
	}

	return all, nil
}

// CreatePullRequest opens a pull request against owner/name
func (c *Client) CreatePullRequest(ctx context.Context, owner, name string, pr NewPullRequest) (*PullRequest, error) {
	req := &github.NewPullRequest{
		Title:               github.String(pr.Title),
		Body:                github.String(pr.Body),
		Head:                github.String(pr.Head),
		Base:                github.String(pr.Base),
		MaintainerCanModify: github.Bool(pr.MaintainerCanModify),
	}

	var created *github.PullRequest
	err := c.do(ctx, fmt.Sprintf("pull request for %s/%s", owner, name), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		created, resp, err = c.client.PullRequests.Create(ctx, owner, name, req)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	result := convertGitHubPullRequest(created)
	return &result, nil
}

// GetBranch returns the head of a branch. GitHub answers 404 until a new
// fork's git data has been copied.
func (c *Client) GetBranch(ctx context.Context, owner, name, branch string) (*Branch, error) {
	var b *github.Branch

	err := c.do(ctx, fmt.Sprintf("branch %s in %s/%s", branch, owner, name), func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		b, resp, err = c.client.Repositories.GetBranch(ctx, owner, name, branch, 1)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	return &Branch{
		Name: b.GetName(),
		SHA:  b.GetCommit().GetSHA(),
	}, nil
}

// DeleteBranch removes a branch. Deleting a missing branch is not an error.
func (c *Client) DeleteBranch(ctx context.Context, owner, name, branch string) error {
	err := c.do(ctx, fmt.Sprintf("branch %s in %s/%s", branch, owner, name), func() (*github.Response, error) {
		return c.client.Git.DeleteRef(ctx, owner, name, "heads/"+strings.TrimPrefix(branch, "refs/heads/"))
	})
	if err != nil && !IsNotFound(err) {
		var ghErr *Error
		// GitHub answers 422 "Reference does not exist" for branches already gone
		if errors.As(err, &ghErr) && ghErr.Type == ErrorTypeValidation {
			return nil
		}
		return err
	}
	return nil
}

// convertGitHubRepository converts a GitHub API repository to our internal type
func convertGitHubRepository(repo *github.Repository) *Repository {
	r := &Repository{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Fork:          repo.GetFork(),
		Archived:      repo.GetArchived(),
		CloneURL:      repo.GetCloneURL(),
		HTMLURL:       repo.GetHTMLURL(),
		PushedAt:      repo.GetPushedAt().Time,
	}
	if repo.Parent != nil {
		r.ParentFullName = repo.GetParent().GetFullName()
	}
	return r
}

// convertGitHubPullRequest converts a GitHub API pull request to our internal type
func convertGitHubPullRequest(pr *github.PullRequest) PullRequest {
	return PullRequest{
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		State:     pr.GetState(),
		HTMLURL:   pr.GetHTMLURL(),
		HeadOwner: pr.GetHead().GetUser().GetLogin(),
		HeadRef:   pr.GetHead().GetRef(),
		HeadSHA:   pr.GetHead().GetSHA(),
		BaseRef:   pr.GetBase().GetRef(),
	}
}

var _ APIClient = (*Client)(nil)
