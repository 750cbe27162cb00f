package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied before the user configuration is read
const (
	DefaultWorkers          = 4
	DefaultForkTimeout      = 2 * time.Minute
	DefaultForkPollInterval = 2 * time.Second
	DefaultBranchPrefix     = "sync-repo-standards"
	DefaultMembershipRepo   = ".github"
	DefaultMembershipPath   = "peribolos.yaml"
	DefaultLogLevel         = "info"
)

// Config represents the reposync user configuration
type Config struct {
	GitHub GitHubConfig `yaml:"github"`
	Sync   SyncConfig   `yaml:"sync"`
	Log    LogConfig    `yaml:"log"`
}

// GitHubConfig represents GitHub-specific configuration
type GitHubConfig struct {
	Token        string `yaml:"token,omitempty"`
	Organization string `yaml:"organization,omitempty"`
	// Identity is the account that owns the forks. Resolved from the token
	// when empty; required for GitHub App authentication.
	Identity string `yaml:"identity,omitempty"`
	APIURL   string `yaml:"api_url,omitempty"`
	// GitURL is the base repositories are cloned from, derived from APIURL when empty
	GitURL string    `yaml:"git_url,omitempty"`
	App    AppConfig `yaml:"app,omitempty"`
}

// AppConfig configures GitHub App installation authentication
type AppConfig struct {
	AppID          int64  `yaml:"app_id,omitempty"`
	InstallationID int64  `yaml:"installation_id,omitempty"`
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`
}

// Enabled reports whether any App setting is present
func (a AppConfig) Enabled() bool {
	return a.AppID != 0 || a.InstallationID != 0 || a.PrivateKeyPath != ""
}

// SyncConfig tunes sync runs
type SyncConfig struct {
	Workers          int           `yaml:"workers"`
	ForkTimeout      time.Duration `yaml:"fork_timeout"`
	ForkPollInterval time.Duration `yaml:"fork_poll_interval"`
	// WorkDir holds temporary clones, the system temp dir when empty
	WorkDir        string       `yaml:"work_dir,omitempty"`
	BranchPrefix   string       `yaml:"branch_prefix"`
	MembershipRepo string       `yaml:"membership_repo"`
	MembershipPath string       `yaml:"membership_path"`
	CloneDepth     int          `yaml:"clone_depth,omitempty"`
	CommitAuthor   AuthorConfig `yaml:"commit_author,omitempty"`
}

// AuthorConfig overrides the commit author, which defaults to the identity
type AuthorConfig struct {
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			Workers:          DefaultWorkers,
			ForkTimeout:      DefaultForkTimeout,
			ForkPollInterval: DefaultForkPollInterval,
			BranchPrefix:     DefaultBranchPrefix,
			MembershipRepo:   DefaultMembershipRepo,
			MembershipPath:   DefaultMembershipPath,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

// LoadConfig loads configuration from the default location
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadConfigFromPath(configPath)
}

// LoadConfigFromPath loads configuration from a specific path. Settings the
// file leaves out keep their defaults.
func LoadConfigFromPath(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to the default location
func (c *Config) SaveConfig() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	return c.SaveConfigToPath(configPath)
}

// SaveConfigToPath saves configuration to a specific path. The file may hold
// a token, so it is written owner-readable only.
func (c *Config) SaveConfigToPath(path string) error {
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(homeDir, ".reposync", "config.yaml"), nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Sync.Workers < 0 {
		return fmt.Errorf("sync.workers must not be negative")
	}

	if c.Sync.ForkTimeout < 0 {
		return fmt.Errorf("sync.fork_timeout must not be negative")
	}

	if c.Sync.ForkPollInterval < 0 {
		return fmt.Errorf("sync.fork_poll_interval must not be negative")
	}

	if c.Sync.CloneDepth < 0 {
		return fmt.Errorf("sync.clone_depth must not be negative")
	}

	if app := c.GitHub.App; app.Enabled() {
		if app.AppID == 0 || app.InstallationID == 0 || app.PrivateKeyPath == "" {
			return fmt.Errorf("github.app requires app_id, installation_id and private_key_path")
		}
		if c.GitHub.Identity == "" {
			return fmt.Errorf("github.identity is required with GitHub App authentication")
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}

	return nil
}
