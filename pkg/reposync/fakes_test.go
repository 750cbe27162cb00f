package reposync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"reposync/pkg/github"
)

const testIdentity = "sync-bot"

var testStart = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func testRunContext(dryRun bool) RunContext {
	return RunContext{
		Org:       "acme",
		Identity:  testIdentity,
		Token:     "test-token",
		WorkRoot:  "unused",
		DryRun:    dryRun,
		StartedAt: testStart,
	}
}

func notFound(resource string) error {
	err := github.NewError(github.ErrorTypeNotFound, "not found", nil)
	err.Resource = resource
	return err
}

// fakeAPI is an in-memory github.APIClient
type fakeAPI struct {
	mu sync.Mutex

	repos map[string]*github.Repository
	// files is keyed by "owner/name@ref:path"
	files map[string][]byte
	prs   map[string][]github.PullRequest

	// pollsUntilReady delays fork visibility after CreateFork; negative
	// means never
	pollsUntilReady map[string]int
	// branchPolls delays the default branch of a visible fork
	branchPolls map[string]int
	createPRErr map[string]error
	listPRErr   error

	calls     []string
	createdPR []github.NewPullRequest
	deleted   []string
	nextPR    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		repos:           make(map[string]*github.Repository),
		files:           make(map[string][]byte),
		prs:             make(map[string][]github.PullRequest),
		pollsUntilReady: make(map[string]int),
		branchPolls:     make(map[string]int),
		createPRErr:     make(map[string]error),
		nextPR:          100,
	}
}

func (f *fakeAPI) addFork(owner, name, parent string) {
	f.repos[owner+"/"+name] = &github.Repository{
		Owner:          owner,
		Name:           name,
		FullName:       owner + "/" + name,
		DefaultBranch:  "main",
		Fork:           true,
		ParentFullName: parent,
	}
}

func (f *fakeAPI) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAPI) called(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeAPI) ValidateToken(context.Context) (*github.TokenInfo, error) {
	return &github.TokenInfo{User: testIdentity, Scopes: []string{"repo"}}, nil
}

func (f *fakeAPI) GetRepository(_ context.Context, owner, name string) (*github.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + name
	f.record("GetRepository %s", key)

	if n, ok := f.pollsUntilReady[key]; ok {
		if n < 0 {
			return nil, notFound(key)
		}
		if n > 0 {
			f.pollsUntilReady[key] = n - 1
			return nil, notFound(key)
		}
	}

	repo, ok := f.repos[key]
	if !ok {
		return nil, notFound(key)
	}
	copied := *repo
	return &copied, nil
}

func (f *fakeAPI) CreateFork(_ context.Context, owner, name string) (*github.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateFork %s/%s", owner, name)

	f.repos[testIdentity+"/"+name] = &github.Repository{
		Owner:          testIdentity,
		Name:           name,
		FullName:       testIdentity + "/" + name,
		DefaultBranch:  "main",
		Fork:           true,
		ParentFullName: owner + "/" + name,
	}
	return &github.Repository{Owner: testIdentity, Name: name}, nil
}

func (f *fakeAPI) GetFileContent(_ context.Context, owner, name, path, ref string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetFileContent %s/%s@%s:%s", owner, name, ref, path)

	data, ok := f.files[fmt.Sprintf("%s/%s@%s:%s", owner, name, ref, path)]
	return data, ok, nil
}

func (f *fakeAPI) ListPullRequests(_ context.Context, owner, name string, filter github.PullRequestFilter) ([]github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListPullRequests %s/%s", owner, name)

	if f.listPRErr != nil {
		return nil, f.listPRErr
	}

	var out []github.PullRequest
	for _, pr := range f.prs[owner+"/"+name] {
		if filter.Head != "" && filter.Head != pr.HeadOwner+":"+pr.HeadRef {
			continue
		}
		if filter.Base != "" && filter.Base != pr.BaseRef {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

func (f *fakeAPI) CreatePullRequest(_ context.Context, owner, name string, pr github.NewPullRequest) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreatePullRequest %s/%s", owner, name)

	if err := f.createPRErr[owner+"/"+name]; err != nil {
		return nil, err
	}

	f.nextPR++
	f.createdPR = append(f.createdPR, pr)
	headOwner, headRef, _ := strings.Cut(pr.Head, ":")
	created := github.PullRequest{
		Number:    f.nextPR,
		Title:     pr.Title,
		State:     "open",
		HTMLURL:   fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, name, f.nextPR),
		HeadOwner: headOwner,
		HeadRef:   headRef,
		BaseRef:   pr.Base,
	}
	f.prs[owner+"/"+name] = append(f.prs[owner+"/"+name], created)
	return &created, nil
}

func (f *fakeAPI) GetBranch(_ context.Context, owner, name, branch string) (*github.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner + "/" + name
	f.record("GetBranch %s:%s", key, branch)

	if n := f.branchPolls[key]; n > 0 {
		f.branchPolls[key] = n - 1
		return nil, notFound(key + ":" + branch)
	}
	if _, ok := f.repos[key]; !ok {
		return nil, notFound(key)
	}
	return &github.Branch{Name: branch, SHA: "0123456789abcdef"}, nil
}

func (f *fakeAPI) DeleteBranch(_ context.Context, owner, name, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteBranch %s/%s:%s", owner, name, branch)
	f.deleted = append(f.deleted, owner+"/"+name+":"+branch)
	return nil
}

var _ github.APIClient = (*fakeAPI)(nil)

// fakeGit is an in-memory GitOperator keyed by repository name
type fakeGit struct {
	mu sync.Mutex

	files     map[string]map[string][]byte
	cloneErr  map[string]error
	syncWarn  map[string]*SyncWarning
	commitErr map[string]error
	delay     map[string]time.Duration

	cloned  []string
	applied map[string][]FileWrite
	commits map[string]*CommitRef
	closed  int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		files:     make(map[string]map[string][]byte),
		cloneErr:  make(map[string]error),
		syncWarn:  make(map[string]*SyncWarning),
		commitErr: make(map[string]error),
		delay:     make(map[string]time.Duration),
		applied:   make(map[string][]FileWrite),
		commits:   make(map[string]*CommitRef),
	}
}

func (g *fakeGit) setFile(repo, path, content string) {
	if g.files[repo] == nil {
		g.files[repo] = make(map[string][]byte)
	}
	g.files[repo][path] = []byte(content)
}

type fakeCopy struct {
	git   *fakeGit
	repo  string
	files map[string][]byte
}

func (c *fakeCopy) ReadFile(_ context.Context, path string) ([]byte, bool, error) {
	data, ok := c.files[path]
	return data, ok, nil
}

func (c *fakeCopy) Close() error {
	c.git.mu.Lock()
	defer c.git.mu.Unlock()
	c.git.closed++
	return nil
}

func (g *fakeGit) Clone(_ context.Context, _ *ForkHandle, target RepositoryTarget) (WorkingCopy, error) {
	g.mu.Lock()
	d := g.delay[target.Name]
	g.cloned = append(g.cloned, target.Name)
	err := g.cloneErr[target.Name]
	files := make(map[string][]byte)
	for k, v := range g.files[target.Name] {
		files[k] = v
	}
	g.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	if err != nil {
		return nil, err
	}
	return &fakeCopy{git: g, repo: target.Name, files: files}, nil
}

func (g *fakeGit) SyncWithUpstream(_ context.Context, _ WorkingCopy, _ *ForkHandle, target RepositoryTarget) *SyncWarning {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.syncWarn[target.Name]
}

func (g *fakeGit) ApplyDecisions(_ context.Context, wc WorkingCopy, decisions []FileSyncDecision) ([]FileWrite, error) {
	fc := wc.(*fakeCopy)
	writes := plannedWrites(decisions)
	for _, w := range writes {
		fc.files[w.Path] = w.Content
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.applied[fc.repo] = writes
	return writes, nil
}

func (g *fakeGit) CommitAndPush(_ context.Context, wc WorkingCopy, writes []FileWrite) (*CommitRef, error) {
	if len(writes) == 0 {
		return nil, nil
	}
	fc := wc.(*fakeCopy)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.commitErr[fc.repo]; err != nil {
		return nil, err
	}
	ref := &CommitRef{Branch: testRunContext(false).BranchName(), Hash: fmt.Sprintf("%040d", len(g.commits)+1)}
	g.commits[fc.repo] = ref
	return ref, nil
}

func (g *fakeGit) cloneCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cloned)
}

var _ GitOperator = (*fakeGit)(nil)
