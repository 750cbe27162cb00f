package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"reposync/internal/auth"
	"reposync/pkg/config"
)

const membershipYAML = `orgs:
  acme:
    repos:
      api:
        default_branch: trunk
      web: {}
      legacy: {}
`

const syncYAML = `exclude_repos:
  - legacy
files_to_sync:
  - source: files/ci.yml
    destination: .github/workflows/ci.yml
  - source: files/CODEOWNERS
    exclude_repos: [web]
`

type syncFixture struct {
	config     string
	membership string
}

// newSyncFixture writes a sync configuration, its source files and a
// membership file for the acme organization
func newSyncFixture(t *testing.T) syncFixture {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"sync.yaml":        syncYAML,
		"peribolos.yaml":   membershipYAML,
		"files/ci.yml":     "name: ci\n",
		"files/CODEOWNERS": "* @acme/maintainers\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	return syncFixture{
		config:     filepath.Join(dir, "sync.yaml"),
		membership: filepath.Join(dir, "peribolos.yaml"),
	}
}

type fakeProvider struct {
	creds *auth.Credentials
	err   error
	calls int
}

func (p *fakeProvider) Credentials(context.Context) (*auth.Credentials, error) {
	p.calls++
	return p.creds, p.err
}

// stubProvider replaces newProvider for the duration of the test
func stubProvider(t *testing.T, p auth.Provider) {
	t.Helper()
	orig := newProvider
	newProvider = func(*config.Config) auth.Provider { return p }
	t.Cleanup(func() { newProvider = orig })
}
