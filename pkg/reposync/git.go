package reposync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"reposync/pkg/gitops"
)

// CommitTitle is the subject of sync commits and the title of sync pull
// requests
const CommitTitle = "chore: sync repository standards"

// WorkingCopy is a local clone owned by one repository's run
type WorkingCopy interface {
	ContentReader
	Close() error
}

// GitOperator performs the local git steps of a repository's run
type GitOperator interface {
	Clone(ctx context.Context, fork *ForkHandle, target RepositoryTarget) (WorkingCopy, error)
	// SyncWithUpstream is best effort; a non-nil result is a warning
	SyncWithUpstream(ctx context.Context, wc WorkingCopy, fork *ForkHandle, target RepositoryTarget) *SyncWarning
	ApplyDecisions(ctx context.Context, wc WorkingCopy, decisions []FileSyncDecision) ([]FileWrite, error)
	// CommitAndPush returns nil without error when writes is empty
	CommitAndPush(ctx context.Context, wc WorkingCopy, writes []FileWrite) (*CommitRef, error)
}

// GitClient adapts gitops.Operator to GitOperator
type GitClient struct {
	op     *gitops.Operator
	rc     RunContext
	logger *slog.Logger
}

// NewGitClient creates a GitOperator cloning under rc.WorkRoot and
// authenticating with rc.Token.
func NewGitClient(rc RunContext, logger *slog.Logger) *GitClient {
	logger = orDiscard(logger)
	return &GitClient{
		op:     gitops.NewOperator(rc.WorkRoot, gitops.TokenAuth(rc.Token), logger),
		rc:     rc,
		logger: logger,
	}
}

type localCopy struct {
	*gitops.WorkingCopy
}

func (c localCopy) ReadFile(_ context.Context, path string) ([]byte, bool, error) {
	return c.WorkingCopy.ReadFile(path)
}

func unwrapCopy(wc WorkingCopy) (*gitops.WorkingCopy, error) {
	lc, ok := wc.(localCopy)
	if !ok {
		return nil, fmt.Errorf("unsupported working copy %T", wc)
	}
	return lc.WorkingCopy, nil
}

// Clone implements GitOperator
func (g *GitClient) Clone(ctx context.Context, fork *ForkHandle, target RepositoryTarget) (WorkingCopy, error) {
	wc, err := g.op.Clone(ctx, gitops.CloneOptions{
		URL:    fork.CloneURL,
		Branch: target.DefaultBranch,
		Depth:  g.rc.CloneDepth,
	})
	if err != nil {
		return nil, err
	}
	return localCopy{wc}, nil
}

// SyncWithUpstream implements GitOperator. A dry-run clone of upstream
// itself has nothing to sync.
func (g *GitClient) SyncWithUpstream(ctx context.Context, wc WorkingCopy, fork *ForkHandle, target RepositoryTarget) *SyncWarning {
	if !fork.Exists {
		return nil
	}

	local, err := unwrapCopy(wc)
	if err != nil {
		return &SyncWarning{Err: err, Stale: true}
	}

	err = g.op.SyncWithUpstream(ctx, local, gitops.SyncOptions{
		UpstreamURL:  g.rc.RepoURL(target.Org, target.Name),
		Branch:       target.DefaultBranch,
		PushToOrigin: !g.rc.DryRun,
	})
	if err == nil || errors.Is(err, gitops.ErrAlreadyUpToDate) {
		return nil
	}

	g.logger.Warn("fork sync failed", "repo", target.FullName(), "error", err)

	// A failed push still leaves the local branch at upstream's head
	return &SyncWarning{Err: err, Stale: !errors.Is(err, gitops.ErrPush)}
}

// ApplyDecisions implements GitOperator
func (g *GitClient) ApplyDecisions(_ context.Context, wc WorkingCopy, decisions []FileSyncDecision) ([]FileWrite, error) {
	local, err := unwrapCopy(wc)
	if err != nil {
		return nil, err
	}

	writes := plannedWrites(decisions)
	files := make([]gitops.File, len(writes))
	for i, w := range writes {
		files[i] = gitops.File{Path: w.Path, Content: w.Content}
	}

	if _, err := g.op.WriteFiles(local, files); err != nil {
		return nil, err
	}
	return writes, nil
}

// CommitAndPush implements GitOperator
func (g *GitClient) CommitAndPush(ctx context.Context, wc WorkingCopy, writes []FileWrite) (*CommitRef, error) {
	if len(writes) == 0 {
		return nil, nil
	}

	local, err := unwrapCopy(wc)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(writes))
	for i, w := range writes {
		paths[i] = w.Path
	}

	author := g.rc.CommitAuthor()
	ref, err := g.op.CommitAndPush(ctx, local, gitops.CommitOptions{
		Branch:  g.rc.BranchName(),
		Message: CommitMessage(writes),
		Paths:   paths,
		Author:  gitops.Signature{Name: author.Name, Email: author.Email},
		Push:    !g.rc.DryRun,
	})
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}
	return &CommitRef{Branch: ref.Branch, Hash: ref.Hash}, nil
}

// CommitMessage lists every written path in rule order
func CommitMessage(writes []FileWrite) string {
	var b strings.Builder
	b.WriteString(CommitTitle)
	b.WriteString("\n\nUpdated files:\n")
	for _, w := range writes {
		fmt.Fprintf(&b, "- %s\n", w.Path)
	}
	return b.String()
}

// plannedWrites returns the writes decisions call for, in order
func plannedWrites(decisions []FileSyncDecision) []FileWrite {
	var writes []FileWrite
	for _, d := range decisions {
		if !d.NeedsWrite() {
			continue
		}
		writes = append(writes, FileWrite{
			Path:    d.Path(),
			Kind:    d.Kind,
			Content: d.Rule.Content(),
		})
	}
	return writes
}
