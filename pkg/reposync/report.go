package reposync

import (
	"fmt"
	"io"
	"strings"
)

var separator = strings.Repeat("=", 60)

// Reporter writes the line-oriented run report. It is used from a single
// goroutine.
type Reporter struct {
	w      io.Writer
	dryRun bool
}

// NewReporter creates a Reporter writing to w
func NewReporter(w io.Writer, dryRun bool) *Reporter {
	if w == nil {
		w = io.Discard
	}
	return &Reporter{w: w, dryRun: dryRun}
}

// Result writes the section of one repository
func (r *Reporter) Result(res RepoSyncResult) {
	fmt.Fprintln(r.w, separator)
	fmt.Fprintf(r.w, "Processing: %s\n", res.Target.FullName())
	fmt.Fprintln(r.w, separator)

	for _, w := range res.Warnings {
		fmt.Fprintf(r.w, "Warning: %s\n", w)
	}

	switch res.Outcome.Status {
	case OutcomeSkipped:
		fmt.Fprintf(r.w, "Skipped: %s\n", res.Outcome.Reason)
		return
	case OutcomeFailed:
		r.decisions(res)
		fmt.Fprintf(r.w, "Failed at %s: %s\n", res.Outcome.Stage, res.Outcome.Reason)
		return
	}

	r.decisions(res)
	if len(res.Decisions) == 0 {
		fmt.Fprintln(r.w, "All files up to date")
		return
	}

	if pr := res.PullRequest; pr != nil {
		fmt.Fprintf(r.w, "Pull request: %s (%s)\n", pullRequestLocation(pr), pullRequestStatus(pr))
	}
}

func (r *Reporter) decisions(res RepoSyncResult) {
	for _, d := range res.Decisions {
		fmt.Fprintf(r.w, "%s: %s\n", r.verb(d), d.Path())
	}
	for _, p := range res.UpToDate {
		fmt.Fprintf(r.w, "Up to date: %s\n", p)
	}
}

func (r *Reporter) verb(d FileSyncDecision) string {
	switch {
	case r.dryRun && d.Kind == DecisionMissing:
		return "Would add"
	case r.dryRun:
		return "Would update"
	case d.Kind == DecisionMissing:
		return "Added"
	default:
		return "Updated"
	}
}

func pullRequestLocation(pr *PullRequestRef) string {
	if pr.URL != "" {
		return pr.URL
	}
	return pr.Branch
}

func pullRequestStatus(pr *PullRequestRef) string {
	switch {
	case pr.Simulated:
		return "simulated"
	case pr.Reused:
		return "existing"
	default:
		return "created"
	}
}

// Summary writes the closing summary of a run
func (r *Reporter) Summary(s *RunSummary) {
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, separator)
	if r.dryRun {
		fmt.Fprintln(r.w, "Dry run: nothing was pushed or opened")
	}
	fmt.Fprintf(r.w, "Summary: Successfully processed %d/%d repositories\n", s.Succeeded, s.Processed)
	for _, res := range s.Results {
		if res.Outcome.Status == OutcomeFailed {
			fmt.Fprintf(r.w, "Failed: %s (%s: %s)\n", res.Target.FullName(), res.Outcome.Stage, res.Outcome.Reason)
		}
	}
	fmt.Fprintln(r.w, separator)
}
