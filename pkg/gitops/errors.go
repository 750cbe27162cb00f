package gitops

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Operator. Check them with errors.Is.
var (
	// ErrClone is returned when a repository cannot be cloned.
	ErrClone = errors.New("clone failed")

	// ErrAlreadyUpToDate is returned by SyncWithUpstream when the working copy
	// already matches upstream.
	ErrAlreadyUpToDate = errors.New("already up to date")

	// ErrNotFastForward is returned when the local branch has diverged from upstream.
	ErrNotFastForward = errors.New("not a fast-forward")

	// ErrPush is returned when a branch cannot be pushed.
	ErrPush = errors.New("push failed")

	// ErrCommit is returned when staging or committing fails.
	ErrCommit = errors.New("commit failed")

	// ErrInvalidPath is returned for absolute paths or paths escaping the worktree.
	ErrInvalidPath = errors.New("invalid path")

	// ErrIsDirectory is returned when a file path names a directory.
	ErrIsDirectory = errors.New("path is a directory")
)

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
