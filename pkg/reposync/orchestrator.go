// Package reposync propagates canonical template files to every repository
// of an organization through forks and pull requests.
package reposync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"reposync/pkg/github"
)

// Options configures an Orchestrator
type Options struct {
	Config *SyncConfig
	Run    RunContext
	Client github.APIClient
	// Git defaults to a GitClient built from Run
	Git GitOperator
	// Workers is the number of repositories processed concurrently
	Workers     int
	ForkOptions []ForkOption
	Reporter    *Reporter
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Orchestrator runs every target through fork, clone, classify, apply and
// publish, isolating failures per repository.
type Orchestrator struct {
	config     *SyncConfig
	rc         RunContext
	forks      *ForkManager
	git        GitOperator
	classifier *DiffClassifier
	publisher  *Publisher
	workers    int
	reporter   *Reporter
	metrics    *Metrics
	logger     *slog.Logger
}

// NewOrchestrator validates opts and creates an Orchestrator
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: sync configuration is required", ErrInvalidConfig)
	}
	if opts.Client == nil {
		return nil, errors.New("GitHub client is required")
	}
	if opts.Run.Identity == "" {
		return nil, errors.New("acting identity is required")
	}
	if opts.Run.StartedAt.IsZero() {
		opts.Run.StartedAt = time.Now()
	}

	logger := orDiscard(opts.Logger)
	gitOp := opts.Git
	if gitOp == nil {
		gitOp = NewGitClient(opts.Run, logger)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = NewReporter(io.Discard, opts.Run.DryRun)
	}

	return &Orchestrator{
		config:     opts.Config,
		rc:         opts.Run,
		forks:      NewForkManager(opts.Client, opts.Run, logger, opts.ForkOptions...),
		git:        gitOp,
		classifier: NewDiffClassifier(opts.Config),
		publisher:  NewPublisher(opts.Client, opts.Run, logger),
		workers:    workers,
		reporter:   reporter,
		metrics:    opts.Metrics,
		logger:     logger,
	}, nil
}

type repoJob struct {
	index  int
	target RepositoryTarget
}

type repoResult struct {
	index  int
	result RepoSyncResult
}

// Run processes targets and returns the summary in target order. Cancelling
// ctx stops dispatching; repositories already in progress run to a terminal
// state and the rest are recorded as skipped.
func (o *Orchestrator) Run(ctx context.Context, targets []RepositoryTarget) (*RunSummary, error) {
	started := time.Now()
	summary := &RunSummary{
		Results: make([]RepoSyncResult, 0, len(targets)),
		DryRun:  o.rc.DryRun,
	}

	o.logger.Info("starting sync run",
		"org", o.rc.Org,
		"repositories", len(targets),
		"workers", o.workers,
		"dry_run", o.rc.DryRun,
		"branch", o.rc.BranchName())

	jobs := make(chan repoJob)
	results := make(chan repoResult)
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.Go(func() error {
		defer close(jobs)
		for i, t := range targets {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case jobs <- repoJob{index: i, target: t}:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < o.workers; w++ {
		g.Go(func() error {
			for job := range jobs {
				results <- repoResult{index: job.index, result: o.processRepository(detached, job.target)}
			}
			return nil
		})
	}

	var waitErr error
	go func() {
		waitErr = g.Wait()
		close(results)
	}()

	// Single collector: buffers out-of-order completions and flushes in
	// target order.
	buffered := make(map[int]RepoSyncResult)
	next := 0
	for res := range results {
		buffered[res.index] = res.result
		for {
			r, ok := buffered[next]
			if !ok {
				break
			}
			delete(buffered, next)
			o.record(summary, r)
			next++
		}
	}

	for ; next < len(targets); next++ {
		if r, ok := buffered[next]; ok {
			o.record(summary, r)
			continue
		}
		o.record(summary, RepoSyncResult{
			Target:  targets[next],
			State:   StateStart,
			Outcome: Outcome{Status: OutcomeSkipped, Reason: SkipCancelled},
		})
	}

	summary.Duration = time.Since(started)
	o.metrics.ObserveRun(summary.Duration)
	o.reporter.Summary(summary)

	o.logger.Info("sync run finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration)

	return summary, waitErr
}

func (o *Orchestrator) record(summary *RunSummary, res RepoSyncResult) {
	summary.add(res)
	o.metrics.ObserveResult(res)
	o.reporter.Result(res)
}

// processRepository drives one target to a terminal state. It never
// returns an error; failures are recorded in the result.
func (o *Orchestrator) processRepository(ctx context.Context, target RepositoryTarget) (res RepoSyncResult) {
	started := time.Now()
	logger := o.logger.With("repo", target.FullName())
	res = RepoSyncResult{Target: target, State: StateStart}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("repository run panicked", "panic", r)
			res.fail(stageAfter(res.State), fmt.Errorf("internal error: %v", r))
		}
		res.Duration = time.Since(started)
	}()

	if o.config.IsExcluded(target.Name) {
		res.Outcome = Outcome{Status: OutcomeSkipped, Reason: SkipExcluded}
		return res
	}

	logger.Debug("processing repository")

	fork, err := o.forks.EnsureFork(ctx, target)
	if err != nil {
		logger.Error("fork failed", "error", err)
		res.fail(StageForking, err)
		return res
	}
	res.Fork = fork
	res.State = StateForked

	wc, err := o.git.Clone(ctx, fork, target)
	if err != nil {
		logger.Error("clone failed", "error", err)
		res.fail(StageCloning, err)
		return res
	}
	defer func() {
		if err := wc.Close(); err != nil {
			logger.Warn("failed to remove working copy", "error", err)
		}
	}()
	res.State = StateCloned

	if warning := o.git.SyncWithUpstream(ctx, wc, fork, target); warning != nil {
		res.Warnings = append(res.Warnings, warning.Error())
		if warning.Stale {
			res.Stale = true
			res.Warnings = append(res.Warnings, "files were compared with the fork's current default branch, which may be behind upstream")
		}
	}

	decisions, err := o.classifier.Classify(ctx, wc, target)
	if err != nil {
		logger.Error("classification failed", "error", err)
		res.fail(StageClassifying, err)
		return res
	}
	res.Decisions = pending(decisions)
	res.UpToDate = upToDatePaths(decisions)
	res.State = StateClassified

	if len(res.Decisions) == 0 {
		logger.Info("repository up to date")
		res.done("up to date")
		return res
	}

	reuse, err := o.publisher.FindReusable(ctx, target, fork, res.Decisions)
	if err != nil {
		logger.Warn("could not check open pull requests", "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("could not check open pull requests: %v", err))
	}
	if reuse != nil {
		res.PullRequest = reuse
		res.done("changes already proposed")
		return res
	}

	var commit *CommitRef
	if !o.rc.DryRun {
		writes, err := o.git.ApplyDecisions(ctx, wc, res.Decisions)
		if err != nil {
			logger.Error("applying files failed", "error", err)
			res.fail(StageApplying, err)
			return res
		}

		commit, err = o.git.CommitAndPush(ctx, wc, writes)
		if err != nil {
			logger.Error("commit failed", "error", err)
			res.fail(StageCommitting, err)
			return res
		}
		res.Commit = commit
	}
	res.State = StateApplied

	pr, err := o.publisher.Publish(ctx, target, fork, commit, res.Decisions)
	if err != nil {
		logger.Error("publishing failed", "error", err)
		if cerr := o.publisher.Cleanup(ctx, fork, commit); cerr != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not delete branch %s: %v", commit.Branch, cerr))
		}
		res.fail(StagePublishing, err)
		return res
	}
	res.PullRequest = pr
	res.State = StatePublished

	logger.Info("repository synchronized", "files", len(res.Decisions), "pull_request", pr.URL)
	res.done("")
	return res
}

func (r *RepoSyncResult) fail(stage Stage, err error) {
	r.Err = &StageError{Stage: stage, Err: err}
	r.State = StateFailed
	r.Outcome = Outcome{Status: OutcomeFailed, Stage: stage, Reason: err.Error()}
}

func (r *RepoSyncResult) done(reason string) {
	r.State = StateDone
	r.Outcome = Outcome{Status: OutcomeSuccess, Reason: reason}
}

// stageAfter names the stage that runs once state is reached
func stageAfter(state State) Stage {
	switch state {
	case StateStart:
		return StageForking
	case StateForked:
		return StageCloning
	case StateCloned:
		return StageClassifying
	case StateClassified:
		return StageApplying
	default:
		return StagePublishing
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
