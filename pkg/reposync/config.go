package reposync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SyncConfig is the parsed synchronization definition. It is read-only once
// loaded.
type SyncConfig struct {
	ExcludeRepos []string   `yaml:"exclude_repos,omitempty"`
	FilesToSync  []FileRule `yaml:"files_to_sync"`

	// SourceRoot is the directory rule sources are resolved against
	SourceRoot string `yaml:"-"`
}

// FileRule maps one canonical source file to a destination path
type FileRule struct {
	Source       string   `yaml:"source"`
	Destination  string   `yaml:"destination,omitempty"`
	ExcludeRepos []string `yaml:"exclude_repos,omitempty"`

	content []byte
	hash    string
}

// Content returns the source file content read at load time
func (r FileRule) Content() []byte {
	return r.content
}

// Hash returns the hex SHA-256 of the source content
func (r FileRule) Hash() string {
	return r.hash
}

// ExcludesRepo reports whether the rule is excluded for repo
func (r FileRule) ExcludesRepo(repo string) bool {
	return contains(r.ExcludeRepos, repo)
}

// IsExcluded reports whether repo is globally excluded
func (c *SyncConfig) IsExcluded(repo string) bool {
	return contains(c.ExcludeRepos, repo)
}

// RulesFor returns the rules that apply to repo, in order
func (c *SyncConfig) RulesFor(repo string) []FileRule {
	if c.IsExcluded(repo) {
		return nil
	}
	var rules []FileRule
	for _, r := range c.FilesToSync {
		if !r.ExcludesRepo(repo) {
			rules = append(rules, r)
		}
	}
	return rules
}

// LoadSyncConfig reads, validates and resolves a sync configuration file.
// Relative rule sources resolve against sourceRoot, or the config file's
// directory when sourceRoot is empty.
func LoadSyncConfig(configPath, sourceRoot string) (*SyncConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrInvalidConfig, configPath, err)
	}

	if sourceRoot == "" {
		sourceRoot = filepath.Dir(configPath)
	}

	cfg, err := ParseSyncConfig(data, sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// ParseSyncConfig parses YAML data and loads every rule source under
// sourceRoot. Any error wraps ErrInvalidConfig.
func ParseSyncConfig(data []byte, sourceRoot string) (*SyncConfig, error) {
	var cfg SyncConfig

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: configuration is empty", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidConfig, err)
	}

	cfg.SourceRoot = sourceRoot
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.loadSources(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// Validate checks the structure of the configuration and normalizes rule
// paths in place. It does not touch the filesystem.
func (c *SyncConfig) Validate() error {
	var errs ValidationErrors

	for i, name := range c.ExcludeRepos {
		if strings.TrimSpace(name) == "" {
			errs.Add(fmt.Sprintf("exclude_repos[%d]", i), "", "repository name cannot be empty")
		}
	}

	if len(c.FilesToSync) == 0 {
		errs.Add("files_to_sync", "", "at least one file rule is required")
	}

	seen := make(map[string]int)
	for i := range c.FilesToSync {
		rule := &c.FilesToSync[i]
		field := fmt.Sprintf("files_to_sync[%d]", i)

		src, err := normalizeRulePath(rule.Source)
		if err != nil {
			errs.Add(field+".source", rule.Source, err.Error())
			continue
		}
		rule.Source = src

		if rule.Destination == "" {
			rule.Destination = src
		}
		dst, err := normalizeRulePath(rule.Destination)
		if err != nil {
			errs.Add(field+".destination", rule.Destination, err.Error())
			continue
		}
		rule.Destination = dst

		if prev, ok := seen[dst]; ok {
			errs.Add(field+".destination", dst, fmt.Sprintf("duplicate destination (also used by files_to_sync[%d])", prev))
		} else {
			seen[dst] = i
		}

		for j, name := range rule.ExcludeRepos {
			if strings.TrimSpace(name) == "" {
				errs.Add(fmt.Sprintf("%s.exclude_repos[%d]", field, j), "", "repository name cannot be empty")
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *SyncConfig) loadSources() error {
	var errs ValidationErrors
	for i := range c.FilesToSync {
		rule := &c.FilesToSync[i]
		full := filepath.Join(c.SourceRoot, filepath.FromSlash(rule.Source))

		info, err := os.Stat(full)
		if err != nil {
			errs.Add(fmt.Sprintf("files_to_sync[%d].source", i), rule.Source, "source file does not exist or is unreadable")
			continue
		}
		if !info.Mode().IsRegular() {
			errs.Add(fmt.Sprintf("files_to_sync[%d].source", i), rule.Source, "source must be a regular file")
			continue
		}

		data, err := os.ReadFile(full)
		if err != nil {
			errs.Add(fmt.Sprintf("files_to_sync[%d].source", i), rule.Source, fmt.Sprintf("failed to read source: %v", err))
			continue
		}
		rule.content = data
		rule.hash = hashContent(data)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// normalizeRulePath validates a repository-relative slash path
func normalizeRulePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("path cannot be empty")
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return "", errors.New("path must be relative")
	}
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("path must stay inside the repository")
	}
	return cleaned, nil
}

// hashContent returns the hex SHA-256 of data
func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

// NewFileRule builds a rule with in-memory content, for callers that do not
// load sources from disk.
func NewFileRule(source, destination string, content []byte, excludeRepos ...string) FileRule {
	if destination == "" {
		destination = source
	}
	return FileRule{
		Source:       source,
		Destination:  destination,
		ExcludeRepos: excludeRepos,
		content:      content,
		hash:         hashContent(content),
	}
}
