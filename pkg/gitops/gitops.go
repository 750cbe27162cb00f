// Package gitops performs the local git work of a sync run with go-git:
// cloning forks, fast-forwarding them to upstream, writing files and
// publishing a commit on a fresh branch.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

const (
	// OriginRemote is the remote pointing at the fork
	OriginRemote = "origin"
	// UpstreamRemote is the remote pointing at the canonical repository
	UpstreamRemote = "upstream"
)

// TokenAuth returns HTTP basic auth accepted by GitHub for a bearer token.
// An empty token yields nil, which go-git treats as anonymous.
func TokenAuth(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &http.BasicAuth{
		Username: "x-access-token",
		Password: token,
	}
}

// Signature identifies the author of sync commits
type Signature struct {
	Name  string
	Email string
}

// Operator runs git operations inside a work root directory
type Operator struct {
	workRoot string
	auth     transport.AuthMethod
	logger   *slog.Logger
	now      func() time.Time
}

// NewOperator creates an Operator that clones under workRoot and
// authenticates remotes with auth (nil for anonymous or local remotes).
func NewOperator(workRoot string, auth transport.AuthMethod, logger *slog.Logger) *Operator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Operator{
		workRoot: workRoot,
		auth:     auth,
		logger:   logger,
		now:      time.Now,
	}
}

// CloneOptions configures Clone
type CloneOptions struct {
	URL string
	// Branch to check out. Empty means the remote HEAD.
	Branch string
	// Depth > 0 requests a shallow clone. Upstream sync needs history, so
	// shallow clones usually end up classified against the fork as-is.
	Depth int
}

// Clone clones a repository into a fresh directory under the work root.
func (o *Operator) Clone(ctx context.Context, opts CloneOptions) (*WorkingCopy, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: remote URL cannot be empty", ErrClone)
	}

	if err := os.MkdirAll(o.workRoot, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create work root: %w", ErrClone, err)
	}

	dir, err := os.MkdirTemp(o.workRoot, "clone-*")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create clone directory: %w", ErrClone, err)
	}

	cloneOpts := &git.CloneOptions{
		URL:   opts.URL,
		Auth:  o.auth,
		Depth: opts.Depth,
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Branch)
	}

	o.logger.Debug("cloning repository", "url", opts.URL, "branch", opts.Branch, "dir", dir)

	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOpts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %s: %w", ErrClone, opts.URL, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: failed to get worktree: %w", ErrClone, err)
	}

	branch := opts.Branch
	if branch == "" {
		head, err := repo.Head()
		if err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("%w: failed to resolve HEAD: %w", ErrClone, err)
		}
		branch = head.Name().Short()
	}

	return &WorkingCopy{
		dir:    dir,
		repo:   repo,
		wt:     wt,
		branch: branch,
	}, nil
}

// SyncOptions configures SyncWithUpstream
type SyncOptions struct {
	UpstreamURL string
	Branch      string
	// PushToOrigin pushes the fast-forwarded branch back to the fork
	PushToOrigin bool
}

// SyncWithUpstream fast-forwards the working copy's branch to upstream's
// branch. It returns ErrAlreadyUpToDate when nothing moved and
// ErrNotFastForward when the fork has diverged; in both cases the working
// copy is left untouched.
func (o *Operator) SyncWithUpstream(ctx context.Context, wc *WorkingCopy, opts SyncOptions) error {
	branch := opts.Branch
	if branch == "" {
		branch = wc.branch
	}

	remote, err := wc.repo.Remote(UpstreamRemote)
	if errors.Is(err, git.ErrRemoteNotFound) {
		remote, err = wc.repo.CreateRemote(&config.RemoteConfig{
			Name: UpstreamRemote,
			URLs: []string{opts.UpstreamURL},
		})
	}
	if err != nil {
		return WrapError(err, "failed to configure upstream remote")
	}

	upstreamRef := plumbing.NewRemoteReferenceName(UpstreamRemote, branch)
	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(branch), upstreamRef))

	err = remote.FetchContext(ctx, &git.FetchOptions{
		RemoteName: UpstreamRemote,
		RefSpecs:   []config.RefSpec{refSpec},
		Auth:       o.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return WrapErrorf(err, "failed to fetch %s from upstream", branch)
	}

	upstream, err := wc.repo.Reference(upstreamRef, true)
	if err != nil {
		return WrapErrorf(err, "failed to resolve %s", upstreamRef)
	}
	head, err := wc.repo.Head()
	if err != nil {
		return WrapError(err, "failed to resolve HEAD")
	}

	if head.Hash() == upstream.Hash() {
		return ErrAlreadyUpToDate
	}

	headCommit, err := wc.repo.CommitObject(head.Hash())
	if err != nil {
		return WrapError(err, "failed to load HEAD commit")
	}
	upstreamCommit, err := wc.repo.CommitObject(upstream.Hash())
	if err != nil {
		return WrapError(err, "failed to load upstream commit")
	}

	ancestor, err := headCommit.IsAncestor(upstreamCommit)
	if err != nil {
		return WrapError(err, "failed to compare with upstream")
	}
	if !ancestor {
		return fmt.Errorf("%w: %s has commits not in upstream", ErrNotFastForward, branch)
	}

	if err := wc.wt.Reset(&git.ResetOptions{Commit: upstream.Hash(), Mode: git.HardReset}); err != nil {
		return WrapErrorf(err, "failed to reset %s to upstream", branch)
	}

	o.logger.Debug("fast-forwarded to upstream", "branch", branch, "commit", upstream.Hash().String())

	if opts.PushToOrigin {
		if err := o.push(ctx, wc, branch); err != nil {
			return err
		}
	}

	return nil
}

// File is one file to write into a working copy
type File struct {
	Path    string
	Content []byte
}

// WriteFiles writes files into the worktree, creating parent directories,
// and returns the written paths in order.
func (o *Operator) WriteFiles(wc *WorkingCopy, files []File) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, f := range files {
		p, err := cleanPath(f.Path)
		if err != nil {
			return written, err
		}

		fs := wc.wt.Filesystem
		if dir := path.Dir(p); dir != "." {
			if err := fs.MkdirAll(dir, 0755); err != nil {
				return written, WrapErrorf(err, "failed to create directory for %s", p)
			}
		}
		if err := util.WriteFile(fs, p, f.Content, 0644); err != nil {
			return written, WrapErrorf(err, "failed to write %s", p)
		}
		written = append(written, p)
	}
	return written, nil
}

// CommitOptions configures CommitAndPush
type CommitOptions struct {
	Branch  string
	Message string
	Paths   []string
	Author  Signature
	// Push publishes the branch to origin after committing
	Push bool
}

// CommitRef identifies a commit published on a branch
type CommitRef struct {
	Branch string
	Hash   string
}

// CommitAndPush creates Branch at HEAD, commits Paths on it and optionally
// pushes it to origin. With no paths it does nothing and returns nil.
func (o *Operator) CommitAndPush(ctx context.Context, wc *WorkingCopy, opts CommitOptions) (*CommitRef, error) {
	if len(opts.Paths) == 0 {
		return nil, nil
	}
	if opts.Branch == "" {
		return nil, fmt.Errorf("%w: branch name is required", ErrCommit)
	}

	head, err := wc.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve HEAD: %w", ErrCommit, err)
	}

	branchRef := plumbing.NewBranchReferenceName(opts.Branch)
	if err := wc.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, head.Hash())); err != nil {
		return nil, fmt.Errorf("%w: failed to create branch %s: %w", ErrCommit, opts.Branch, err)
	}
	// Switch HEAD without touching the worktree so pending writes survive
	if err := wc.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return nil, fmt.Errorf("%w: failed to switch to %s: %w", ErrCommit, opts.Branch, err)
	}
	wc.branch = opts.Branch

	for _, p := range opts.Paths {
		if _, err := wc.wt.Add(p); err != nil {
			return nil, fmt.Errorf("%w: failed to stage %s: %w", ErrCommit, p, err)
		}
	}

	hash, err := wc.wt.Commit(opts.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  opts.Author.Name,
			Email: opts.Author.Email,
			When:  o.now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommit, err)
	}

	o.logger.Debug("created commit", "branch", opts.Branch, "commit", hash.String(), "files", len(opts.Paths))

	if opts.Push {
		if err := o.push(ctx, wc, opts.Branch); err != nil {
			return nil, err
		}
	}

	return &CommitRef{Branch: opts.Branch, Hash: hash.String()}, nil
}

func (o *Operator) push(ctx context.Context, wc *WorkingCopy, branch string) error {
	ref := plumbing.NewBranchReferenceName(branch)
	err := wc.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: OriginRemote,
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))},
		Auth:       o.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		if errors.Is(err, git.ErrNonFastForwardUpdate) {
			return fmt.Errorf("%w: %w: %s", ErrPush, ErrNotFastForward, branch)
		}
		return fmt.Errorf("%w: %s: %w", ErrPush, branch, err)
	}
	return nil
}

// cleanPath normalizes a worktree-relative slash path
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}
