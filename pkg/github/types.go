package github

import "time"

// Repository represents a GitHub repository
type Repository struct {
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	FullName       string    `json:"full_name"`
	DefaultBranch  string    `json:"default_branch"`
	Fork           bool      `json:"fork"`
	ParentFullName string    `json:"parent_full_name,omitempty"`
	Archived       bool      `json:"archived"`
	CloneURL       string    `json:"clone_url"`
	HTMLURL        string    `json:"html_url"`
	PushedAt       time.Time `json:"pushed_at"`
}

// Branch is a branch head
type Branch struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

// PullRequest represents an open or closed pull request
type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	HeadOwner string `json:"head_owner"`
	HeadRef   string `json:"head_ref"`
	HeadSHA   string `json:"head_sha"`
	BaseRef   string `json:"base_ref"`
}

// NewPullRequest describes a pull request to open
type NewPullRequest struct {
	Title string
	Body  string
	// Head is "owner:branch" for cross-repository pull requests
	Head                string
	Base                string
	MaintainerCanModify bool
}

// PullRequestFilter narrows ListPullRequests. Empty fields are not sent.
type PullRequestFilter struct {
	State string
	Head  string
	Base  string
}

// TokenInfo contains information about the authenticated token
type TokenInfo struct {
	User   string   `json:"user"`
	Scopes []string `json:"scopes"`
}
