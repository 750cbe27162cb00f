package reposync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"reposync/pkg/github"
)

const (
	DefaultMembershipRepo = ".github"
	DefaultMembershipPath = "peribolos.yaml"
	defaultBranchName     = "main"
)

// MembershipSource fetches the raw membership document of an organization
type MembershipSource interface {
	Fetch(ctx context.Context, org string) ([]byte, error)
	// Describe names the source in error messages
	Describe(org string) string
}

// GitHubMembershipSource reads the membership file from a repository of the
// organization through the contents API.
type GitHubMembershipSource struct {
	Client github.APIClient
	Repo   string
	Path   string
}

// NewGitHubMembershipSource reads peribolos.yaml from <org>/.github unless
// repo or path override it.
func NewGitHubMembershipSource(client github.APIClient, repo, path string) *GitHubMembershipSource {
	if repo == "" {
		repo = DefaultMembershipRepo
	}
	if path == "" {
		path = DefaultMembershipPath
	}
	return &GitHubMembershipSource{Client: client, Repo: repo, Path: path}
}

// Fetch implements MembershipSource
func (s *GitHubMembershipSource) Fetch(ctx context.Context, org string) ([]byte, error) {
	data, found, err := s.Client.GetFileContent(ctx, org, s.Repo, s.Path, "")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s not found", s.Describe(org))
	}
	return data, nil
}

// Describe implements MembershipSource
func (s *GitHubMembershipSource) Describe(org string) string {
	return fmt.Sprintf("%s/%s:%s", org, s.Repo, s.Path)
}

// FileMembershipSource reads the membership file from local disk
type FileMembershipSource struct {
	Path string
}

// Fetch implements MembershipSource
func (s *FileMembershipSource) Fetch(_ context.Context, _ string) ([]byte, error) {
	return os.ReadFile(s.Path)
}

// Describe implements MembershipSource
func (s *FileMembershipSource) Describe(string) string {
	return s.Path
}

// LoadCatalog resolves the ordered repository list of org
func LoadCatalog(ctx context.Context, source MembershipSource, org string) ([]RepositoryTarget, error) {
	data, err := source.Fetch(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch %s: %w", ErrCatalogUnavailable, source.Describe(org), err)
	}

	targets, err := ParseMembership(data, org)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogUnavailable, source.Describe(org), err)
	}
	return targets, nil
}

// ParseMembership extracts the repositories of org from a peribolos-style
// document, in document order.
func ParseMembership(data []byte, org string) ([]RepositoryTarget, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse membership file: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("membership file is empty")
	}

	orgs := mappingValue(doc.Content[0], "orgs")
	if orgs == nil {
		return nil, fmt.Errorf("membership file has no 'orgs' section")
	}
	orgNode := mappingValue(orgs, org)
	if orgNode == nil {
		return nil, fmt.Errorf("organization %q not found in membership file", org)
	}
	repos := mappingValue(orgNode, "repos")
	if repos == nil || repos.Kind != yaml.MappingNode || len(repos.Content) == 0 {
		return nil, fmt.Errorf("organization %q lists no repositories", org)
	}

	targets := make([]RepositoryTarget, 0, len(repos.Content)/2)
	for i := 0; i+1 < len(repos.Content); i += 2 {
		name := repos.Content[i].Value
		if name == "" {
			return nil, fmt.Errorf("repository entry at line %d has no name", repos.Content[i].Line)
		}

		var settings struct {
			DefaultBranch string `yaml:"default_branch"`
		}
		if body := repos.Content[i+1]; body.Kind == yaml.MappingNode {
			if err := body.Decode(&settings); err != nil {
				return nil, fmt.Errorf("repository %q: %w", name, err)
			}
		}
		if settings.DefaultBranch == "" {
			settings.DefaultBranch = defaultBranchName
		}

		targets = append(targets, RepositoryTarget{
			Org:           org,
			Name:          name,
			DefaultBranch: settings.DefaultBranch,
		})
	}
	return targets, nil
}

// mappingValue returns the value node for key in a mapping node
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// Filter narrows the catalog. With explicit names the result is their
// intersection with the catalog, in catalog order; every name absent from
// the catalog is reported in one ErrUnknownRepository error. Without
// explicit names the result is the catalog minus exclude. Matching is exact
// and case-sensitive.
func Filter(catalog []RepositoryTarget, explicit []string, exclude []string) ([]RepositoryTarget, error) {
	if len(explicit) == 0 {
		var out []RepositoryTarget
		for _, t := range catalog {
			if !contains(exclude, t.Name) {
				out = append(out, t)
			}
		}
		return out, nil
	}

	known := make(map[string]bool, len(catalog))
	for _, t := range catalog {
		known[t.Name] = true
	}

	wanted := make(map[string]bool, len(explicit))
	var missing []string
	for _, name := range explicit {
		name = strings.TrimSpace(name)
		if name == "" || wanted[name] {
			continue
		}
		wanted[name] = true
		if !known[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRepository, strings.Join(missing, ", "))
	}

	var out []RepositoryTarget
	for _, t := range catalog {
		if wanted[t.Name] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Names returns the repository names of targets
func Names(targets []RepositoryTarget) []string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	return names
}
