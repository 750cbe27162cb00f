package reposync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reposync/pkg/github"
)

func testDecisions() []FileSyncDecision {
	return []FileSyncDecision{
		{Rule: NewFileRule("ci.yml", ciPath, []byte("X")), Kind: DecisionMissing},
		{Rule: NewFileRule(".golangci.yml", "", []byte("lint")), Kind: DecisionDifferent},
	}
}

func testFork() *ForkHandle {
	return &ForkHandle{Owner: testIdentity, Name: "repo", Exists: true}
}

func TestPublisher_Publish(t *testing.T) {
	api := newFakeAPI()
	p := NewPublisher(api, testRunContext(false), nil)
	commit := &CommitRef{Branch: "sync-repo-standards-20240301123000", Hash: "abc"}

	ref, err := p.Publish(context.Background(), targets("repo")[0], testFork(), commit, testDecisions())
	require.NoError(t, err)

	assert.Equal(t, 101, ref.Number)
	assert.Equal(t, "https://github.com/acme/repo/pull/101", ref.URL)
	assert.Equal(t, commit.Branch, ref.Branch)
	assert.False(t, ref.Reused)

	require.Len(t, api.createdPR, 1)
	pr := api.createdPR[0]
	assert.Equal(t, "chore: sync repository standards", pr.Title)
	assert.Equal(t, "sync-bot:sync-repo-standards-20240301123000", pr.Head)
	assert.Equal(t, "main", pr.Base)
	assert.True(t, pr.MaintainerCanModify)
}

func TestPublisher_PublishReturnsExistingPullRequest(t *testing.T) {
	api := newFakeAPI()
	api.prs["acme/repo"] = []github.PullRequest{{
		Number:    9,
		HTMLURL:   "https://github.com/acme/repo/pull/9",
		HeadOwner: testIdentity,
		HeadRef:   "sync-repo-standards-20240301123000",
		BaseRef:   "main",
	}}
	p := NewPublisher(api, testRunContext(false), nil)

	ref, err := p.Publish(context.Background(), targets("repo")[0], testFork(),
		&CommitRef{Branch: "sync-repo-standards-20240301123000"}, testDecisions())
	require.NoError(t, err)

	assert.Equal(t, 9, ref.Number)
	assert.True(t, ref.Reused)
	assert.Zero(t, api.called("CreatePullRequest"))
}

func TestPublisher_DryRun(t *testing.T) {
	api := newFakeAPI()
	p := NewPublisher(api, testRunContext(true), nil)

	ref, err := p.Publish(context.Background(), targets("repo")[0], testFork(), nil, testDecisions())
	require.NoError(t, err)

	assert.True(t, ref.Simulated)
	assert.Equal(t, "sync-repo-standards-20240301123000", ref.Branch)
	assert.Empty(t, api.calls)
}

func TestPublisher_PublishWithoutCommit(t *testing.T) {
	p := NewPublisher(newFakeAPI(), testRunContext(false), nil)

	_, err := p.Publish(context.Background(), targets("repo")[0], testFork(), nil, testDecisions())
	assert.Error(t, err)
}

func TestPublisher_FindReusable(t *testing.T) {
	const branch = "sync-repo-standards-20240101000000"

	setup := func() *fakeAPI {
		api := newFakeAPI()
		api.prs["acme/repo"] = []github.PullRequest{
			{Number: 3, HeadOwner: "someone-else", HeadRef: branch, BaseRef: "main"},
			{Number: 4, HeadOwner: "Sync-Bot", HeadRef: "feature", BaseRef: "main"},
			{Number: 5, HeadOwner: "Sync-Bot", HeadRef: branch, BaseRef: "main", HTMLURL: "https://github.com/acme/repo/pull/5"},
		}
		return api
	}

	t.Run("head carries the desired content", func(t *testing.T) {
		api := setup()
		api.files["sync-bot/repo@"+branch+":"+ciPath] = []byte("X")
		api.files["sync-bot/repo@"+branch+":.golangci.yml"] = []byte("lint")

		ref, err := NewPublisher(api, testRunContext(false), nil).FindReusable(context.Background(), targets("repo")[0], testFork(), testDecisions())
		require.NoError(t, err)
		require.NotNil(t, ref)
		assert.Equal(t, 5, ref.Number)
		assert.True(t, ref.Reused)
		assert.Equal(t, branch, ref.Branch)
	})

	t.Run("head is missing a file", func(t *testing.T) {
		api := setup()
		api.files["sync-bot/repo@"+branch+":"+ciPath] = []byte("X")

		ref, err := NewPublisher(api, testRunContext(false), nil).FindReusable(context.Background(), targets("repo")[0], testFork(), testDecisions())
		require.NoError(t, err)
		assert.Nil(t, ref)
	})

	t.Run("fork not created yet", func(t *testing.T) {
		api := setup()

		ref, err := NewPublisher(api, testRunContext(true), nil).FindReusable(context.Background(), targets("repo")[0], &ForkHandle{Owner: testIdentity, Name: "repo"}, testDecisions())
		require.NoError(t, err)
		assert.Nil(t, ref)
		assert.Empty(t, api.calls)
	})

	t.Run("listing fails", func(t *testing.T) {
		api := setup()
		api.listPRErr = errors.New("boom")

		_, err := NewPublisher(api, testRunContext(false), nil).FindReusable(context.Background(), targets("repo")[0], testFork(), testDecisions())
		assert.Error(t, err)
	})
}

func TestPublisher_Cleanup(t *testing.T) {
	api := newFakeAPI()
	commit := &CommitRef{Branch: "sync-repo-standards-20240301123000"}

	require.NoError(t, NewPublisher(api, testRunContext(true), nil).Cleanup(context.Background(), testFork(), commit))
	assert.Empty(t, api.deleted)

	require.NoError(t, NewPublisher(api, testRunContext(false), nil).Cleanup(context.Background(), testFork(), nil))
	assert.Empty(t, api.deleted)

	require.NoError(t, NewPublisher(api, testRunContext(false), nil).Cleanup(context.Background(), testFork(), commit))
	assert.Equal(t, []string{"sync-bot/repo:sync-repo-standards-20240301123000"}, api.deleted)
}

func TestPullRequestBody(t *testing.T) {
	decisions := append(testDecisions(), FileSyncDecision{Rule: NewFileRule("x", "", nil), Kind: DecisionUpToDate})

	body := PullRequestBody(decisions)

	assert.Contains(t, body, "## Files Updated")
	assert.Contains(t, body, "- `.github/workflows/ci.yml` (added)\n- `.golangci.yml` (updated)\n")
	assert.NotContains(t, body, "`x`")
}
