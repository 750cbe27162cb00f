package reposync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reposync/pkg/github"
)

const ciPath = ".github/workflows/ci.yml"

func ciConfig() *SyncConfig {
	return &SyncConfig{
		FilesToSync: []FileRule{NewFileRule("ci.yml", ciPath, []byte("X"))},
	}
}

func targets(names ...string) []RepositoryTarget {
	out := make([]RepositoryTarget, len(names))
	for i, n := range names {
		out[i] = RepositoryTarget{Org: "acme", Name: n, DefaultBranch: "main"}
	}
	return out
}

type harness struct {
	api     *fakeAPI
	git     *fakeGit
	out     *bytes.Buffer
	metrics *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		api:     newFakeAPI(),
		git:     newFakeGit(),
		out:     &bytes.Buffer{},
		metrics: NewMetrics(),
	}
}

func (h *harness) orchestrator(t *testing.T, cfg *SyncConfig, dryRun bool, workers int) *Orchestrator {
	t.Helper()
	rc := testRunContext(dryRun)
	o, err := NewOrchestrator(Options{
		Config:  cfg,
		Run:     rc,
		Client:  h.api,
		Git:     h.git,
		Workers: workers,
		ForkOptions: []ForkOption{
			WithForkTimeout(50 * time.Millisecond),
			WithForkPollInterval(5 * time.Millisecond),
		},
		Reporter: NewReporter(h.out, dryRun),
		Metrics:  h.metrics,
	})
	require.NoError(t, err)
	return o
}

func resultFor(t *testing.T, s *RunSummary, name string) RepoSyncResult {
	t.Helper()
	for _, r := range s.Results {
		if r.Target.Name == name {
			return r
		}
	}
	t.Fatalf("no result for %s", name)
	return RepoSyncResult{}
}

func TestNewOrchestrator_Validation(t *testing.T) {
	_, err := NewOrchestrator(Options{Client: newFakeAPI(), Run: testRunContext(false)})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewOrchestrator(Options{Config: ciConfig(), Run: testRunContext(false)})
	assert.Error(t, err)

	rc := testRunContext(false)
	rc.Identity = ""
	_, err = NewOrchestrator(Options{Config: ciConfig(), Client: newFakeAPI(), Run: rc})
	assert.Error(t, err)
}

func TestOrchestrator_TwoRepositoryScenario(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.api.addFork(testIdentity, "repoB", "acme/repoB")
	h.git.setFile("repoB", ciPath, "X")

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA", "repoB"))
	require.NoError(t, err)

	assert.True(t, summary.OK())
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)

	a := resultFor(t, summary, "repoA")
	assert.Equal(t, StateDone, a.State)
	require.Len(t, a.Decisions, 1)
	assert.Equal(t, DecisionMissing, a.Decisions[0].Kind)
	require.NotNil(t, a.PullRequest)
	assert.False(t, a.PullRequest.Simulated)
	assert.False(t, a.PullRequest.Reused)
	assert.Equal(t, "https://github.com/acme/repoA/pull/101", a.PullRequest.URL)
	require.NotNil(t, a.Commit)
	assert.Equal(t, "sync-repo-standards-20240301123000", a.Commit.Branch)

	b := resultFor(t, summary, "repoB")
	assert.Equal(t, StateDone, b.State)
	assert.Empty(t, b.Decisions)
	assert.Equal(t, []string{ciPath}, b.UpToDate)
	assert.Nil(t, b.PullRequest)

	require.Len(t, h.api.createdPR, 1)
	pr := h.api.createdPR[0]
	assert.Equal(t, CommitTitle, pr.Title)
	assert.Equal(t, "sync-bot:sync-repo-standards-20240301123000", pr.Head)
	assert.Equal(t, "main", pr.Base)
	assert.Contains(t, pr.Body, "- `.github/workflows/ci.yml` (added)")

	assert.Empty(t, h.git.applied["repoB"])
	assert.Equal(t, 2, h.git.closed)

	out := h.out.String()
	assert.Contains(t, out, "Processing: acme/repoA")
	assert.Contains(t, out, "Added: .github/workflows/ci.yml")
	assert.Contains(t, out, "Pull request: https://github.com/acme/repoA/pull/101 (created)")
	assert.Contains(t, out, "Processing: acme/repoB")
	assert.Contains(t, out, "Up to date: .github/workflows/ci.yml")
	assert.Contains(t, out, "All files up to date")
	assert.Contains(t, out, "Summary: Successfully processed 2/2 repositories")
	assert.Less(t, strings.Index(out, "acme/repoA"), strings.Index(out, "acme/repoB"))
}

func TestOrchestrator_PartialFailure(t *testing.T) {
	h := newHarness(t)
	h.api.pollsUntilReady["sync-bot/repoA"] = -1
	h.api.addFork(testIdentity, "repoB", "acme/repoB")

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA", "repoB"))
	require.NoError(t, err)

	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	a := resultFor(t, summary, "repoA")
	assert.Equal(t, StateFailed, a.State)
	assert.Equal(t, OutcomeFailed, a.Outcome.Status)
	assert.Equal(t, StageForking, a.Outcome.Stage)
	assert.Contains(t, a.Outcome.Reason, "fork timeout")
	assert.ErrorIs(t, a.Err, ErrForkTimeout)

	var stageErr *StageError
	require.ErrorAs(t, a.Err, &stageErr)
	assert.Equal(t, StageForking, stageErr.Stage)

	b := resultFor(t, summary, "repoB")
	assert.Equal(t, StateDone, b.State)
	assert.NoError(t, b.Err)
	require.NotNil(t, b.PullRequest)

	assert.NotContains(t, h.git.cloned, "repoA")

	out := h.out.String()
	assert.Contains(t, out, "Failed at forking: fork timeout")
	assert.Contains(t, out, "Summary: Successfully processed 1/2 repositories")
	assert.Contains(t, out, "Failed: acme/repoA (forking:")
}

func TestOrchestrator_DryRunPurity(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoB", "acme/repoB")
	h.git.setFile("repoB", ciPath, "old")

	summary, err := h.orchestrator(t, ciConfig(), true, 1).Run(context.Background(), targets("repoA", "repoB"))
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.True(t, summary.DryRun)

	assert.Zero(t, h.api.called("CreateFork"))
	assert.Zero(t, h.api.called("CreatePullRequest"))
	assert.Zero(t, h.api.called("DeleteBranch"))
	assert.Empty(t, h.git.applied)
	assert.Empty(t, h.git.commits)

	a := resultFor(t, summary, "repoA")
	require.Len(t, a.Decisions, 1)
	assert.Equal(t, DecisionMissing, a.Decisions[0].Kind)
	require.NotNil(t, a.PullRequest)
	assert.True(t, a.PullRequest.Simulated)
	assert.Nil(t, a.Commit)

	b := resultFor(t, summary, "repoB")
	require.Len(t, b.Decisions, 1)
	assert.Equal(t, DecisionDifferent, b.Decisions[0].Kind)

	out := h.out.String()
	assert.Contains(t, out, "Would add: .github/workflows/ci.yml")
	assert.Contains(t, out, "Would update: .github/workflows/ci.yml")
	assert.Contains(t, out, "(simulated)")
	assert.Contains(t, out, "Dry run:")
}

func TestOrchestrator_ReusesOpenPullRequest(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")

	o := h.orchestrator(t, ciConfig(), false, 1)
	first, err := o.Run(context.Background(), targets("repoA"))
	require.NoError(t, err)
	require.NotNil(t, first.Results[0].PullRequest)
	require.Len(t, h.api.createdPR, 1)

	// The fork branch now holds the synced file
	branch := first.Results[0].PullRequest.Branch
	h.api.files[fmt.Sprintf("sync-bot/repoA@%s:%s", branch, ciPath)] = []byte("X")

	// A later run with a different branch name sees the open pull request
	later := testRunContext(false)
	later.StartedAt = testStart.Add(time.Hour)
	o2, err := NewOrchestrator(Options{Config: ciConfig(), Run: later, Client: h.api, Git: h.git, Reporter: NewReporter(h.out, false)})
	require.NoError(t, err)

	second, err := o2.Run(context.Background(), targets("repoA"))
	require.NoError(t, err)

	res := second.Results[0]
	assert.Equal(t, StateDone, res.State)
	require.NotNil(t, res.PullRequest)
	assert.True(t, res.PullRequest.Reused)
	assert.Equal(t, first.Results[0].PullRequest.Number, res.PullRequest.Number)
	assert.Nil(t, res.Commit)
	assert.Len(t, h.api.createdPR, 1)
	assert.Contains(t, h.out.String(), "(existing)")
	assert.NotContains(t, h.out.String(), "Already proposed")
}

func TestOrchestrator_OutdatedOpenPullRequestIsNotReused(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.api.prs["acme/repoA"] = []github.PullRequest{{
		Number:    7,
		State:     "open",
		HeadOwner: testIdentity,
		HeadRef:   "sync-repo-standards-20230101000000",
		BaseRef:   "main",
	}}
	h.api.files["sync-bot/repoA@sync-repo-standards-20230101000000:"+ciPath] = []byte("stale")

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA"))
	require.NoError(t, err)

	res := summary.Results[0]
	require.NotNil(t, res.PullRequest)
	assert.False(t, res.PullRequest.Reused)
	assert.NotEqual(t, 7, res.PullRequest.Number)
	assert.Len(t, h.api.createdPR, 1)
}

func TestOrchestrator_IdempotentAfterMerge(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.git.setFile("repoA", ciPath, "X")

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA"))
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, res.Decisions)
	assert.Zero(t, h.api.called("CreatePullRequest"))
	assert.Empty(t, h.git.commits)
}

func TestOrchestrator_Exclusions(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.api.addFork(testIdentity, "legacy", "acme/legacy")

	cfg := &SyncConfig{
		ExcludeRepos: []string{"legacy"},
		FilesToSync: []FileRule{
			NewFileRule("ci.yml", ciPath, []byte("X")),
			NewFileRule(".golangci.yml", "", []byte("lint"), "repoA"),
		},
	}

	summary, err := h.orchestrator(t, cfg, false, 1).Run(context.Background(), targets("repoA", "legacy"))
	require.NoError(t, err)
	assert.True(t, summary.OK())
	assert.Equal(t, 1, summary.Skipped)

	legacy := resultFor(t, summary, "legacy")
	assert.Equal(t, OutcomeSkipped, legacy.Outcome.Status)
	assert.Equal(t, "excluded", legacy.Outcome.Reason)
	assert.Empty(t, legacy.Decisions)
	assert.NotContains(t, h.git.cloned, "legacy")
	assert.Zero(t, h.api.called("GetRepository sync-bot/legacy"))

	a := resultFor(t, summary, "repoA")
	require.Len(t, a.Decisions, 1)
	assert.Equal(t, ciPath, a.Decisions[0].Path())
	for _, w := range h.git.applied["repoA"] {
		assert.NotEqual(t, ".golangci.yml", w.Path)
	}
	assert.Contains(t, h.out.String(), "Skipped: excluded")
}

func TestOrchestrator_StaleForkWarning(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.git.setFile("repoA", ciPath, "X")
	h.git.syncWarn["repoA"] = &SyncWarning{Err: errors.New("diverged"), Stale: true}

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA"))
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, StateDone, res.State)
	assert.True(t, res.Stale)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, "could not sync fork with upstream: diverged", res.Warnings[0])
	// Classified against the fork's current content
	assert.Equal(t, []string{ciPath}, res.UpToDate)
	assert.True(t, summary.OK())
	assert.Contains(t, h.out.String(), "Warning: could not sync fork with upstream: diverged")
}

func TestOrchestrator_PushFailureWarningIsNotStale(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.git.syncWarn["repoA"] = &SyncWarning{Err: errors.New("push rejected"), Stale: false}

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA"))
	require.NoError(t, err)

	res := summary.Results[0]
	assert.False(t, res.Stale)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, StateDone, res.State)
}

func TestOrchestrator_StageFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		wantStage Stage
	}{
		{
			name: "clone failure",
			setup: func(h *harness) {
				h.git.cloneErr["repoA"] = errors.New("clone: connection reset")
			},
			wantStage: StageCloning,
		},
		{
			name: "non-fork repository with the same name",
			setup: func(h *harness) {
				h.api.repos["sync-bot/repoA"] = &github.Repository{Owner: testIdentity, Name: "repoA"}
			},
			wantStage: StageForking,
		},
		{
			name: "commit failure",
			setup: func(h *harness) {
				h.git.commitErr["repoA"] = errors.New("push rejected")
			},
			wantStage: StageCommitting,
		},
		{
			name: "pull request failure",
			setup: func(h *harness) {
				h.api.createPRErr["acme/repoA"] = github.NewError(github.ErrorTypeValidation, "no commits between", nil)
			},
			wantStage: StagePublishing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.api.addFork(testIdentity, "repoB", "acme/repoB")
			if tt.name != "non-fork repository with the same name" {
				h.api.addFork(testIdentity, "repoA", "acme/repoA")
			}
			tt.setup(h)

			summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA", "repoB"))
			require.NoError(t, err)

			a := resultFor(t, summary, "repoA")
			assert.Equal(t, OutcomeFailed, a.Outcome.Status)
			assert.Equal(t, tt.wantStage, a.Outcome.Stage)

			var stageErr *StageError
			require.ErrorAs(t, a.Err, &stageErr)
			assert.Equal(t, tt.wantStage, stageErr.Stage)

			b := resultFor(t, summary, "repoB")
			assert.Equal(t, StateDone, b.State)
			assert.False(t, summary.OK())
		})
	}
}

func TestOrchestrator_PublishFailureDeletesBranch(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.api.createPRErr["acme/repoA"] = errors.New("boom")

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA"))
	require.NoError(t, err)

	assert.Equal(t, StagePublishing, summary.Results[0].Outcome.Stage)
	assert.Equal(t, []string{"sync-bot/repoA:sync-repo-standards-20240301123000"}, h.api.deleted)
}

func TestOrchestrator_CreatesMissingFork(t *testing.T) {
	h := newHarness(t)
	h.api.pollsUntilReady["sync-bot/repoA"] = 2

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(context.Background(), targets("repoA"))
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, StateDone, res.State)
	require.NotNil(t, res.Fork)
	assert.True(t, res.Fork.Created)
	assert.Equal(t, 1, h.api.called("CreateFork acme/repoA"))
}

func TestOrchestrator_ResultsInTargetOrder(t *testing.T) {
	h := newHarness(t)
	names := []string{"r1", "r2", "r3", "r4", "r5"}
	for i, n := range names {
		h.api.addFork(testIdentity, n, "acme/"+n)
		h.git.setFile(n, ciPath, "X")
		h.git.delay[n] = time.Duration(len(names)-i) * 10 * time.Millisecond
	}

	summary, err := h.orchestrator(t, ciConfig(), false, 3).Run(context.Background(), targets(names...))
	require.NoError(t, err)

	require.Len(t, summary.Results, len(names))
	for i, n := range names {
		assert.Equal(t, n, summary.Results[i].Target.Name)
	}

	out := h.out.String()
	last := -1
	for _, n := range names {
		idx := strings.Index(out, "Processing: acme/"+n+"\n")
		require.GreaterOrEqual(t, idx, 0)
		assert.Greater(t, idx, last)
		last = idx
	}
}

func TestOrchestrator_CancelledBeforeDispatch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.orchestrator(t, ciConfig(), false, 2).Run(ctx, targets("repoA", "repoB"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, summary.Cancelled)
	assert.Zero(t, summary.Succeeded)
	assert.False(t, summary.OK())
	for _, r := range summary.Results {
		assert.Equal(t, "run cancelled", r.Outcome.Reason)
	}
	assert.Zero(t, h.git.cloneCount())
}

func TestOrchestrator_InFlightRepositoryFinishesAfterCancel(t *testing.T) {
	h := newHarness(t)
	h.api.addFork(testIdentity, "repoA", "acme/repoA")
	h.api.addFork(testIdentity, "repoB", "acme/repoB")
	h.git.delay["repoA"] = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	summary, err := h.orchestrator(t, ciConfig(), false, 1).Run(ctx, targets("repoA", "repoB"))
	require.NoError(t, err)

	a := resultFor(t, summary, "repoA")
	assert.Equal(t, StateDone, a.State)
	require.NotNil(t, a.PullRequest)

	b := resultFor(t, summary, "repoB")
	assert.Equal(t, OutcomeSkipped, b.Outcome.Status)
	assert.Equal(t, "run cancelled", b.Outcome.Reason)
}

func TestStageAfter(t *testing.T) {
	assert.Equal(t, StageForking, stageAfter(StateStart))
	assert.Equal(t, StageCloning, stageAfter(StateForked))
	assert.Equal(t, StageClassifying, stageAfter(StateCloned))
	assert.Equal(t, StageApplying, stageAfter(StateClassified))
	assert.Equal(t, StagePublishing, stageAfter(StateApplied))
}
