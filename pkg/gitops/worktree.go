package gitops

import (
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
)

// WorkingCopy is a cloned repository on disk. It is owned by a single
// goroutine and must be closed to remove its directory.
type WorkingCopy struct {
	dir    string
	repo   *git.Repository
	wt     *git.Worktree
	branch string
}

// Dir returns the clone directory
func (wc *WorkingCopy) Dir() string {
	return wc.dir
}

// Branch returns the checked out branch
func (wc *WorkingCopy) Branch() string {
	return wc.branch
}

// Head returns the commit hash HEAD points at
func (wc *WorkingCopy) Head() (string, error) {
	head, err := wc.repo.Head()
	if err != nil {
		return "", err
	}
	return head.Hash().String(), nil
}

// ReadFile reads a worktree file. found is false when the path does not exist.
func (wc *WorkingCopy) ReadFile(p string) ([]byte, bool, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return nil, false, err
	}

	fs := wc.wt.Filesystem
	info, err := fs.Lstat(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, WrapErrorf(err, "failed to stat %s", cleaned)
	}
	if info.IsDir() {
		return nil, true, fmt.Errorf("%w: %s", ErrIsDirectory, cleaned)
	}

	data, err := util.ReadFile(fs, cleaned)
	if err != nil {
		return nil, true, WrapErrorf(err, "failed to read %s", cleaned)
	}
	return data, true, nil
}

// Close removes the clone directory
func (wc *WorkingCopy) Close() error {
	if wc.dir == "" {
		return nil
	}
	return os.RemoveAll(wc.dir)
}
