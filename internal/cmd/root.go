package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"reposync/internal/logging"
	"reposync/pkg/config"
)

var (
	userConfigPath string
	logLevel       string
	logFile        string
	noColor        bool
)

// Resolved in PersistentPreRunE for the command being run
var (
	appConfig *config.Config
	logger    = logging.Discard()
	closeLog  = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "reposync",
	Short: "Propagate standard files to every repository of a GitHub organization",
	Long: `Reposync keeps shared files such as CI workflows, linters and ownership rules
in sync across the repositories of a GitHub organization.

For every repository listed in the organization's membership file it forks the
repository, compares the configured files against the fork, commits whatever
is missing or different to a sync branch and opens a pull request upstream.
Repositories are processed independently: a failure in one never stops the others.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setupCommand,
	PersistentPostRunE: teardownCommand,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userConfigPath, "user-config", "", "reposync settings file (default is $HOME/.reposync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured log output")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(initCmd)
}

// setupCommand resolves settings and builds the logger before any command runs
func setupCommand(cmd *cobra.Command, _ []string) error {
	loadEnvFiles()

	cfg, err := resolveConfig(cmd, userConfigPath)
	if err != nil {
		return err
	}
	appConfig = cfg

	l, closer, err := logging.Setup(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		NoColor: noColor,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger = l
	closeLog = closer
	slog.SetDefault(l)

	return nil
}

func teardownCommand(_ *cobra.Command, _ []string) error {
	return closeLog()
}
