package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reposync/pkg/fuzzy"
	"reposync/pkg/reposync"
)

// Flags shared by sync, validate and catalog
var (
	orgFlag        string
	syncConfigPath string
	sourceRoot     string
	membershipFile string
)

var (
	syncRepos        []string
	syncDryRun       bool
	syncSelect       bool
	syncWorkers      int
	syncForkTimeout  time.Duration
	syncWorkDir      string
	syncIdentity     string
	syncBranchPrefix string
	syncMetricsFile  string
)

// Replaced in tests
var (
	isInteractive = fuzzy.IsTerminalSupported
	newSelector   = func(prompt string) fuzzy.MultiSelector { return fuzzy.NewFzf(prompt) }
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Propagate the configured files to every repository of an organization",
	Long: `Synchronize standard files into the repositories of a GitHub organization.

For every repository in the organization's membership file, in file order:
  1. fork it into the acting identity (reusing an existing fork)
  2. clone the fork and bring its default branch up to date with upstream
  3. compare every configured file against the fork by content hash
  4. commit missing or different files to a sync branch and push it
  5. open a pull request against the upstream default branch

Repositories already carrying every file are left alone, and an open sync pull
request that already proposes the desired content is reused instead of
opening another. Each repository is processed independently; the run ends
with a summary and exits non-zero if any repository failed.

Examples:
  # Preview changes for the whole organization
  reposync sync --org acme --config sync.yaml --dry-run

  # Sync two repositories only
  reposync sync --org acme --config sync.yaml --repos api,web

  # Pick repositories interactively
  reposync sync --org acme --config sync.yaml --select

  # Offline catalog, metrics for the node-exporter textfile collector
  reposync sync --org acme --config sync.yaml --membership-file peribolos.yaml \
    --metrics-file /var/lib/node_exporter/reposync.prom`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	f := syncCmd.Flags()
	f.StringVar(&orgFlag, "org", "", "GitHub organization (defaults to github.organization)")
	f.StringVar(&syncConfigPath, "config", "", "sync configuration file (required)")
	f.StringVar(&sourceRoot, "source-root", "", "directory source paths are relative to (defaults to the config file's directory)")
	f.StringSliceVar(&syncRepos, "repos", nil, "comma-separated repository names to process (e.g., --repos api,web)")
	f.BoolVar(&syncDryRun, "dry-run", false, "show what would change without forking, pushing or opening pull requests")
	f.BoolVar(&syncSelect, "select", false, "pick repositories interactively")
	f.IntVar(&syncWorkers, "workers", 0, "repositories processed concurrently (default from sync.workers)")
	f.DurationVar(&syncForkTimeout, "fork-timeout", 0, "how long to wait for a new fork to become ready (default from sync.fork_timeout)")
	f.StringVar(&syncWorkDir, "work-dir", "", "directory for temporary clones (default is the system temp dir)")
	f.StringVar(&syncIdentity, "identity", "", "account owning the forks (default is the token's login)")
	f.StringVar(&syncBranchPrefix, "branch-prefix", "", "prefix of sync branch names (default from sync.branch_prefix)")
	f.StringVar(&membershipFile, "membership-file", "", "read the membership file from disk instead of GitHub")
	f.StringVar(&syncMetricsFile, "metrics-file", "", "write Prometheus metrics to this file when the run ends")
	_ = syncCmd.MarkFlagRequired("config")
}

func runSync(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	org, err := requireOrg()
	if err != nil {
		return err
	}
	if syncSelect && len(syncRepos) > 0 {
		return errors.New("--select and --repos cannot be combined")
	}

	syncConfig, err := reposync.LoadSyncConfig(syncConfigPath, sourceRoot)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := resolveCredentials(ctx, appConfig, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Authenticated as %s\n", creds.Identity)

	catalog, err := reposync.LoadCatalog(ctx, membershipSource(appConfig, membershipFile, creds.Client), org)
	if err != nil {
		return err
	}

	explicit := syncRepos
	if syncSelect {
		if explicit, err = selectRepositories(catalog, syncConfig); err != nil {
			return err
		}
	}

	targets, err := reposync.Filter(catalog, explicit, syncConfig.ExcludeRepos)
	if err != nil {
		return fmt.Errorf("repositories not found in %s: %w", org, err)
	}
	if len(targets) == 0 {
		fmt.Fprintln(out, "No repositories to process")
		return nil
	}

	workRoot, cleanup, err := makeWorkRoot(appConfig.Sync.WorkDir)
	if err != nil {
		return err
	}
	defer cleanup()

	rc := reposync.RunContext{
		Org:          org,
		Identity:     creds.Identity,
		Token:        creds.Token,
		WorkRoot:     workRoot,
		DryRun:       syncDryRun,
		StartedAt:    time.Now(),
		BranchPrefix: appConfig.Sync.BranchPrefix,
		GitURL:       gitBaseURL(appConfig.GitHub),
		CloneDepth:   appConfig.Sync.CloneDepth,
		Author: reposync.Author{
			Name:  appConfig.Sync.CommitAuthor.Name,
			Email: appConfig.Sync.CommitAuthor.Email,
		},
	}

	var metrics *reposync.Metrics
	if syncMetricsFile != "" {
		metrics = reposync.NewMetrics()
	}

	orchestrator, err := reposync.NewOrchestrator(reposync.Options{
		Config:  syncConfig,
		Run:     rc,
		Client:  creds.Client,
		Workers: appConfig.Sync.Workers,
		ForkOptions: []reposync.ForkOption{
			reposync.WithForkTimeout(appConfig.Sync.ForkTimeout),
			reposync.WithForkPollInterval(appConfig.Sync.ForkPollInterval),
		},
		Reporter: reposync.NewReporter(out, syncDryRun),
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	summary, err := orchestrator.Run(ctx, targets)
	if err != nil {
		return err
	}

	if metrics != nil {
		if err := metrics.WriteFile(syncMetricsFile); err != nil {
			logger.Warn("failed to write metrics", "file", syncMetricsFile, "error", err)
		}
	}

	return summaryError(summary)
}

// summaryError turns an unsuccessful run into the command's error
func summaryError(summary *reposync.RunSummary) error {
	switch {
	case summary.OK():
		return nil
	case summary.Cancelled > 0 && summary.Failed == 0:
		return fmt.Errorf("run cancelled: %d of %d repositories were not processed", summary.Cancelled, summary.Processed)
	case summary.Cancelled > 0:
		return fmt.Errorf("%d of %d repositories failed, %d not processed", summary.Failed, summary.Processed, summary.Cancelled)
	default:
		return fmt.Errorf("%d of %d repositories failed", summary.Failed, summary.Processed)
	}
}

// makeWorkRoot creates a per-run directory for clones under dir
func makeWorkRoot(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", nil, fmt.Errorf("failed to create work directory: %w", err)
		}
	}

	root, err := os.MkdirTemp(dir, "reposync-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	return root, func() {
		if err := os.RemoveAll(root); err != nil {
			logger.Warn("failed to remove work directory", "dir", root, "error", err)
		}
	}, nil
}

// selectRepositories asks the user to pick from the catalog minus exclusions
func selectRepositories(catalog []reposync.RepositoryTarget, syncConfig *reposync.SyncConfig) ([]string, error) {
	if !isInteractive() {
		return nil, errors.New("--select requires an interactive terminal")
	}

	candidates, err := reposync.Filter(catalog, nil, syncConfig.ExcludeRepos)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.New("every repository in the catalog is excluded")
	}

	options := make([]fuzzy.Option, len(candidates))
	for i, t := range candidates {
		options[i] = fuzzy.Option{Value: t.Name, Description: "default branch " + t.DefaultBranch}
	}

	selector := newSelector("Repositories>")
	if err := selector.SetOptions(options); err != nil {
		return nil, err
	}
	selected, err := selector.SelectMany()
	if err != nil {
		return nil, fmt.Errorf("repository selection failed: %w", err)
	}
	logger.Debug("repositories selected", "count", len(selected))
	return selected, nil
}
