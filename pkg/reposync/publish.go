package reposync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"reposync/pkg/github"
)

// Publisher opens, or finds, the pull request carrying a repository's
// changes.
type Publisher struct {
	client github.APIClient
	rc     RunContext
	logger *slog.Logger
}

// NewPublisher creates a Publisher acting as rc.Identity
func NewPublisher(client github.APIClient, rc RunContext, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, rc: rc, logger: orDiscard(logger)}
}

// FindReusable looks for an open sync pull request from the identity's fork
// whose head already holds the desired content of every pending decision.
// It returns nil when there is none.
func (p *Publisher) FindReusable(ctx context.Context, target RepositoryTarget, fork *ForkHandle, decisions []FileSyncDecision) (*PullRequestRef, error) {
	if fork == nil || !fork.Exists {
		return nil, nil
	}

	prs, err := p.client.ListPullRequests(ctx, target.Org, target.Name, github.PullRequestFilter{
		State: "open",
		Base:  target.DefaultBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}

	prefix := p.rc.SyncBranchPrefix()
	rules := make([]FileRule, 0, len(decisions))
	for _, d := range decisions {
		if d.NeedsWrite() {
			rules = append(rules, d.Rule)
		}
	}

	for _, pr := range prs {
		if !strings.EqualFold(pr.HeadOwner, p.rc.Identity) || !strings.HasPrefix(pr.HeadRef, prefix) {
			continue
		}

		reader := NewAPIReader(p.client, fork.Owner, fork.Name, pr.HeadRef)
		rechecked, err := classifyRules(ctx, reader, rules)
		if err != nil {
			p.logger.Debug("could not inspect open pull request", "repo", target.FullName(), "number", pr.Number, "error", err)
			continue
		}
		if len(pending(rechecked)) > 0 {
			continue
		}

		p.logger.Info("reusing open pull request", "repo", target.FullName(), "number", pr.Number)
		return &PullRequestRef{
			Number: pr.Number,
			URL:    pr.HTMLURL,
			Branch: pr.HeadRef,
			Reused: true,
		}, nil
	}
	return nil, nil
}

// Publish opens a pull request from the fork's commit branch to the
// target's default branch. An open pull request from the same head is
// returned unchanged. In dry-run mode nothing is created.
func (p *Publisher) Publish(ctx context.Context, target RepositoryTarget, fork *ForkHandle, commit *CommitRef, decisions []FileSyncDecision) (*PullRequestRef, error) {
	branch := p.rc.BranchName()
	if commit != nil && commit.Branch != "" {
		branch = commit.Branch
	}

	if p.rc.DryRun {
		return &PullRequestRef{Branch: branch, Simulated: true}, nil
	}
	if commit == nil {
		return nil, fmt.Errorf("no commit to publish for %s", target.FullName())
	}

	head := fork.Owner + ":" + branch
	existing, err := p.client.ListPullRequests(ctx, target.Org, target.Name, github.PullRequestFilter{
		State: "open",
		Head:  head,
		Base:  target.DefaultBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	if len(existing) > 0 {
		pr := existing[0]
		return &PullRequestRef{Number: pr.Number, URL: pr.HTMLURL, Branch: branch, Reused: true}, nil
	}

	pr, err := p.client.CreatePullRequest(ctx, target.Org, target.Name, github.NewPullRequest{
		Title:               CommitTitle,
		Body:                PullRequestBody(decisions),
		Head:                head,
		Base:                target.DefaultBranch,
		MaintainerCanModify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	p.logger.Info("created pull request", "repo", target.FullName(), "number", pr.Number, "url", pr.HTMLURL)
	return &PullRequestRef{Number: pr.Number, URL: pr.HTMLURL, Branch: branch}, nil
}

// Cleanup deletes a pushed branch whose pull request could not be opened
func (p *Publisher) Cleanup(ctx context.Context, fork *ForkHandle, commit *CommitRef) error {
	if p.rc.DryRun || fork == nil || commit == nil {
		return nil
	}
	return p.client.DeleteBranch(ctx, fork.Owner, fork.Name, commit.Branch)
}

// PullRequestBody lists each changed destination path with its change kind
func PullRequestBody(decisions []FileSyncDecision) string {
	var b strings.Builder
	b.WriteString("This pull request synchronizes repository standards from the organization's canonical templates.\n\n")
	b.WriteString("## Files Updated\n\n")
	for _, d := range decisions {
		if !d.NeedsWrite() {
			continue
		}
		fmt.Fprintf(&b, "- `%s` (%s)\n", d.Path(), d.Change())
	}
	return b.String()
}
