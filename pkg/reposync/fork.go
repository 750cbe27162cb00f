package reposync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"reposync/pkg/github"
)

const (
	DefaultForkTimeout      = 2 * time.Minute
	DefaultForkPollInterval = 2 * time.Second
)

var errForkNotReady = errors.New("fork not ready")

// ForkManager makes sure the acting identity owns a fork of each target
type ForkManager struct {
	client       github.APIClient
	rc           RunContext
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// ForkOption configures a ForkManager
type ForkOption func(*ForkManager)

// WithForkTimeout bounds how long fork creation may take to become ready
func WithForkTimeout(d time.Duration) ForkOption {
	return func(m *ForkManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithForkPollInterval sets the initial interval between readiness checks
func WithForkPollInterval(d time.Duration) ForkOption {
	return func(m *ForkManager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// NewForkManager creates a ForkManager acting as rc.Identity
func NewForkManager(client github.APIClient, rc RunContext, logger *slog.Logger, opts ...ForkOption) *ForkManager {
	m := &ForkManager{
		client:       client,
		rc:           rc,
		timeout:      DefaultForkTimeout,
		pollInterval: DefaultForkPollInterval,
		logger:       orDiscard(logger),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureFork returns the identity's fork of target, creating it when absent.
// In dry-run mode nothing is created and the handle points at upstream when
// the fork does not exist yet.
func (m *ForkManager) EnsureFork(ctx context.Context, target RepositoryTarget) (*ForkHandle, error) {
	existing, err := m.lookup(ctx, target)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		m.logger.Debug("using existing fork", "repo", target.FullName(), "fork", existing.FullName())
		existing.Simulated = m.rc.DryRun
		return existing, nil
	}

	if m.rc.DryRun {
		return &ForkHandle{
			Owner:     m.rc.Identity,
			Name:      target.Name,
			CloneURL:  m.rc.RepoURL(target.Org, target.Name),
			Simulated: true,
		}, nil
	}

	started := time.Now()
	created, err := m.client.CreateFork(ctx, target.Org, target.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create fork of %s: %w", target.FullName(), err)
	}

	name := target.Name
	if created != nil && created.Name != "" {
		name = created.Name
	}

	m.logger.Info("fork requested", "repo", target.FullName(), "fork", m.rc.Identity+"/"+name)

	if err := m.waitForFork(ctx, name); err != nil {
		return nil, err
	}

	return &ForkHandle{
		Owner:    m.rc.Identity,
		Name:     name,
		CloneURL: m.rc.RepoURL(m.rc.Identity, name),
		Exists:   true,
		Created:  true,
		Waited:   time.Since(started),
	}, nil
}

// lookup returns the existing fork handle or nil when the identity has no
// repository of that name.
func (m *ForkManager) lookup(ctx context.Context, target RepositoryTarget) (*ForkHandle, error) {
	repo, err := m.client.GetRepository(ctx, m.rc.Identity, target.Name)
	if err != nil {
		if github.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up fork of %s: %w", target.FullName(), err)
	}

	if !repo.Fork {
		return nil, fmt.Errorf("%w: %s/%s exists and is not a fork", ErrForkInvalid, m.rc.Identity, target.Name)
	}
	if repo.ParentFullName != "" && !strings.EqualFold(repo.ParentFullName, target.FullName()) {
		return nil, fmt.Errorf("%w: %s/%s is a fork of %s", ErrForkInvalid, m.rc.Identity, target.Name, repo.ParentFullName)
	}

	return &ForkHandle{
		Owner:    m.rc.Identity,
		Name:     repo.Name,
		CloneURL: m.rc.RepoURL(m.rc.Identity, repo.Name),
		Exists:   true,
	}, nil
}

// waitForFork polls the fork until its default branch can be read, with
// exponential backoff bounded by the fork timeout. GitHub serves the
// repository metadata of a new fork before its git data is copied.
func (m *ForkManager) waitForFork(ctx context.Context, name string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.pollInterval
	b.MaxInterval = 4 * m.pollInterval
	b.MaxElapsedTime = m.timeout

	operation := func() error {
		repo, err := m.client.GetRepository(ctx, m.rc.Identity, name)
		if err != nil {
			if github.IsNotFound(err) {
				return errForkNotReady
			}
			return backoff.Permanent(err)
		}
		if repo.DefaultBranch == "" {
			return errForkNotReady
		}

		if _, err := m.client.GetBranch(ctx, m.rc.Identity, name, repo.DefaultBranch); err != nil {
			if github.IsNotFound(err) || isEmptyRepository(err) {
				return errForkNotReady
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	notify := func(_ error, next time.Duration) {
		m.logger.Debug("waiting for fork", "fork", m.rc.Identity+"/"+name, "retry_in", next)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errForkNotReady):
		return fmt.Errorf("%w: %s/%s not ready after %s", ErrForkTimeout, m.rc.Identity, name, m.timeout)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrForkTimeout, ctx.Err())
	default:
		return fmt.Errorf("failed waiting for fork %s/%s: %w", m.rc.Identity, name, err)
	}
}

// isEmptyRepository reports the 409 GitHub returns for a repository without commits
func isEmptyRepository(err error) bool {
	var ghErr *github.Error
	return errors.As(err, &ghErr) && ghErr.Type == github.ErrorTypeConflict
}
