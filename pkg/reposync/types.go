package reposync

import (
	"fmt"
	"time"
)

// RepositoryTarget is one organization repository listed in the membership file
type RepositoryTarget struct {
	Org           string `json:"org"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
}

// FullName returns "org/name"
func (t RepositoryTarget) FullName() string {
	return t.Org + "/" + t.Name
}

// DecisionKind classifies a destination file against its source
type DecisionKind int

const (
	DecisionUpToDate DecisionKind = iota
	DecisionMissing
	DecisionDifferent
)

// String implements fmt.Stringer
func (k DecisionKind) String() string {
	switch k {
	case DecisionUpToDate:
		return "up_to_date"
	case DecisionMissing:
		return "missing"
	case DecisionDifferent:
		return "different"
	default:
		return "unknown"
	}
}

// FileSyncDecision is the classification of one rule for one repository
type FileSyncDecision struct {
	Rule            FileRule
	Kind            DecisionKind
	SourceHash      string
	DestinationHash string
}

// Path returns the destination path the decision applies to
func (d FileSyncDecision) Path() string {
	return d.Rule.Destination
}

// NeedsWrite reports whether the destination must be written
func (d FileSyncDecision) NeedsWrite() bool {
	return d.Kind == DecisionMissing || d.Kind == DecisionDifferent
}

// Change returns "added" for missing files and "updated" for differing ones
func (d FileSyncDecision) Change() string {
	if d.Kind == DecisionMissing {
		return "added"
	}
	return "updated"
}

// FileWrite is a destination file written into a working copy
type FileWrite struct {
	Path    string
	Kind    DecisionKind
	Content []byte
}

// State is the progress of one repository through a run
type State string

const (
	StateStart      State = "start"
	StateForked     State = "forked"
	StateCloned     State = "cloned"
	StateClassified State = "classified"
	StateApplied    State = "applied"
	StatePublished  State = "published"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Stage names the step a repository failed in
type Stage string

const (
	StageForking     Stage = "forking"
	StageCloning     Stage = "cloning"
	StageClassifying Stage = "classifying"
	StageApplying    Stage = "applying"
	StageCommitting  Stage = "committing"
	StagePublishing  Stage = "publishing"
)

// OutcomeStatus is the terminal status of a repository
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Skip reasons
const (
	SkipExcluded  = "excluded"
	SkipCancelled = "run cancelled"
)

// Outcome is the terminal result of one repository
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	// Stage is set for failures
	Stage  Stage  `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// String implements fmt.Stringer
func (o Outcome) String() string {
	switch o.Status {
	case OutcomeFailed:
		return fmt.Sprintf("failed at %s: %s", o.Stage, o.Reason)
	case OutcomeSkipped:
		return fmt.Sprintf("skipped: %s", o.Reason)
	default:
		return string(o.Status)
	}
}

// ForkHandle describes the fork a repository is synchronized through
type ForkHandle struct {
	Owner    string
	Name     string
	CloneURL string
	// Exists is false when the fork has not been created yet (dry-run only)
	Exists bool
	// Created is true when this run created the fork
	Created bool
	// Simulated marks handles returned in dry-run mode. Without an existing
	// fork CloneURL points at the upstream repository.
	Simulated bool
	// Waited is how long fork creation took to become ready
	Waited time.Duration
}

// FullName returns "owner/name"
func (f ForkHandle) FullName() string {
	return f.Owner + "/" + f.Name
}

// CommitRef identifies the sync commit pushed to the fork
type CommitRef struct {
	Branch string
	Hash   string
}

// PullRequestRef identifies the pull request carrying a repository's changes
type PullRequestRef struct {
	Number int    `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`
	Branch string `json:"branch"`
	// Simulated is set in dry-run mode, where nothing was opened
	Simulated bool `json:"simulated,omitempty"`
	// Reused is set when an already open pull request carries the changes
	Reused bool `json:"reused,omitempty"`
}

// RepoSyncResult is the record of one repository's run
type RepoSyncResult struct {
	Target RepositoryTarget `json:"target"`
	State  State            `json:"state"`
	// Decisions holds the non-UpToDate decisions in rule order
	Decisions   []FileSyncDecision `json:"-"`
	UpToDate    []string           `json:"up_to_date,omitempty"`
	Outcome     Outcome            `json:"outcome"`
	Err         error              `json:"-"`
	Fork        *ForkHandle        `json:"-"`
	Commit      *CommitRef         `json:"commit,omitempty"`
	PullRequest *PullRequestRef    `json:"pull_request,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	// Stale is set when the upstream sync failed and classification ran
	// against the fork's possibly outdated default branch
	Stale    bool          `json:"stale,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the repository counts toward a successful run
func (r RepoSyncResult) Succeeded() bool {
	switch r.Outcome.Status {
	case OutcomeSuccess:
		return true
	case OutcomeSkipped:
		return r.Outcome.Reason != SkipCancelled
	default:
		return false
	}
}

// RunSummary aggregates every repository result of a run in catalog order
type RunSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	// Cancelled counts skipped repositories that were never dispatched
	Cancelled int              `json:"cancelled"`
	Results   []RepoSyncResult `json:"results"`
	Duration  time.Duration    `json:"duration"`
	DryRun    bool             `json:"dry_run"`
}

// OK reports whether every repository is done or excluded
func (s *RunSummary) OK() bool {
	return s.Failed == 0 && s.Cancelled == 0
}

func (s *RunSummary) add(res RepoSyncResult) {
	s.Processed++
	switch res.Outcome.Status {
	case OutcomeFailed:
		s.Failed++
	case OutcomeSkipped:
		s.Skipped++
		if res.Outcome.Reason == SkipCancelled {
			s.Cancelled++
		} else {
			s.Succeeded++
		}
	default:
		s.Succeeded++
	}
	s.Results = append(s.Results, res)
}

// RunContext carries everything a run needs that would otherwise be ambient:
// who is acting, with which token, where clones live and whether to mutate.
type RunContext struct {
	Org      string
	Identity string
	Token    string
	WorkRoot string
	DryRun   bool
	// StartedAt fixes the sync branch name for the whole run
	StartedAt    time.Time
	BranchPrefix string
	// GitURL is the base URL repositories are cloned from
	GitURL     string
	CloneDepth int
	Author     Author
}

// Author identifies the sync commit author
type Author struct {
	Name  string
	Email string
}

const (
	DefaultBranchPrefix = "sync-repo-standards"
	DefaultGitURL       = "https://github.com"
	branchTimeLayout    = "20060102150405"
)

// BranchName is the fork branch this run pushes to
func (rc RunContext) BranchName() string {
	prefix := rc.BranchPrefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return prefix + "-" + rc.StartedAt.UTC().Format(branchTimeLayout)
}

// SyncBranchPrefix is the prefix shared by every run's branch
func (rc RunContext) SyncBranchPrefix() string {
	if rc.BranchPrefix == "" {
		return DefaultBranchPrefix + "-"
	}
	return rc.BranchPrefix + "-"
}

// RepoURL returns the clone URL of owner/name
func (rc RunContext) RepoURL(owner, name string) string {
	base := rc.GitURL
	if base == "" {
		base = DefaultGitURL
	}
	return fmt.Sprintf("%s/%s/%s.git", base, owner, name)
}

// CommitAuthor returns the configured author or one derived from the identity
func (rc RunContext) CommitAuthor() Author {
	a := rc.Author
	if a.Name == "" {
		a.Name = rc.Identity
	}
	if a.Email == "" {
		a.Email = rc.Identity + "@users.noreply.github.com"
	}
	return a
}
