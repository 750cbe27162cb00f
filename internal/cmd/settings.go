package cmd

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reposync/pkg/config"
)

// EnvPrefix prefixes every environment override, e.g. REPOSYNC_SYNC_WORKERS
const EnvPrefix = "REPOSYNC"

// settingFlags maps settings keys to the command flags that override them
var settingFlags = map[string]string{
	"github.organization": "org",
	"github.identity":     "identity",
	"sync.workers":        "workers",
	"sync.fork_timeout":   "fork-timeout",
	"sync.work_dir":       "work-dir",
	"sync.branch_prefix":  "branch-prefix",
	"log.level":           "log-level",
	"log.file":            "log-file",
}

// loadEnvFiles loads .env.local then .env from the working directory.
// Variables already set in the environment are never replaced.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// resolveConfig layers flags over REPOSYNC_* environment variables over the
// settings file over defaults
func resolveConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return nil, err
		}
	}

	fileConfig, err := config.LoadConfigFromPath(path)
	if err != nil {
		return nil, err
	}

	v := newSettings(fileConfig)
	for key, name := range settingFlags {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &config.Config{
		GitHub: config.GitHubConfig{
			Token:        v.GetString("github.token"),
			Organization: v.GetString("github.organization"),
			Identity:     v.GetString("github.identity"),
			APIURL:       v.GetString("github.api_url"),
			GitURL:       v.GetString("github.git_url"),
			App: config.AppConfig{
				AppID:          v.GetInt64("github.app.app_id"),
				InstallationID: v.GetInt64("github.app.installation_id"),
				PrivateKeyPath: v.GetString("github.app.private_key_path"),
			},
		},
		Sync: config.SyncConfig{
			Workers:          v.GetInt("sync.workers"),
			ForkTimeout:      v.GetDuration("sync.fork_timeout"),
			ForkPollInterval: v.GetDuration("sync.fork_poll_interval"),
			WorkDir:          v.GetString("sync.work_dir"),
			BranchPrefix:     v.GetString("sync.branch_prefix"),
			MembershipRepo:   v.GetString("sync.membership_repo"),
			MembershipPath:   v.GetString("sync.membership_path"),
			CloneDepth:       v.GetInt("sync.clone_depth"),
			CommitAuthor: config.AuthorConfig{
				Name:  v.GetString("sync.commit_author.name"),
				Email: v.GetString("sync.commit_author.email"),
			},
		},
		Log: config.LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return cfg, nil
}

// newSettings registers every key with the file value as its default so
// AutomaticEnv can find them
func newSettings(c *config.Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("github.token", c.GitHub.Token)
	v.SetDefault("github.organization", c.GitHub.Organization)
	v.SetDefault("github.identity", c.GitHub.Identity)
	v.SetDefault("github.api_url", c.GitHub.APIURL)
	v.SetDefault("github.git_url", c.GitHub.GitURL)
	v.SetDefault("github.app.app_id", c.GitHub.App.AppID)
	v.SetDefault("github.app.installation_id", c.GitHub.App.InstallationID)
	v.SetDefault("github.app.private_key_path", c.GitHub.App.PrivateKeyPath)

	v.SetDefault("sync.workers", c.Sync.Workers)
	v.SetDefault("sync.fork_timeout", c.Sync.ForkTimeout)
	v.SetDefault("sync.fork_poll_interval", c.Sync.ForkPollInterval)
	v.SetDefault("sync.work_dir", c.Sync.WorkDir)
	v.SetDefault("sync.branch_prefix", c.Sync.BranchPrefix)
	v.SetDefault("sync.membership_repo", c.Sync.MembershipRepo)
	v.SetDefault("sync.membership_path", c.Sync.MembershipPath)
	v.SetDefault("sync.clone_depth", c.Sync.CloneDepth)
	v.SetDefault("sync.commit_author.name", c.Sync.CommitAuthor.Name)
	v.SetDefault("sync.commit_author.email", c.Sync.CommitAuthor.Email)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.file", c.Log.File)
	return v
}

// gitBaseURL returns the configured git base, or derives the git host from a
// GitHub Enterprise API URL
func gitBaseURL(gh config.GitHubConfig) string {
	if gh.GitURL != "" {
		return strings.TrimSuffix(gh.GitURL, "/")
	}
	if gh.APIURL == "" {
		return ""
	}
	base := strings.TrimSuffix(gh.APIURL, "/")
	return strings.TrimSuffix(base, "/api/v3")
}
