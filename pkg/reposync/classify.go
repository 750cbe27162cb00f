package reposync

import (
	"context"
	"fmt"

	"reposync/pkg/github"
)

// ContentReader reads a destination path of a repository. found is false
// when the path does not exist.
type ContentReader interface {
	ReadFile(ctx context.Context, path string) (content []byte, found bool, err error)
}

// DiffClassifier compares source rules with a repository's files by content
// hash.
type DiffClassifier struct {
	config *SyncConfig
}

// NewDiffClassifier creates a classifier for config's rules
func NewDiffClassifier(config *SyncConfig) *DiffClassifier {
	return &DiffClassifier{config: config}
}

// Classify returns one decision per rule that applies to target, in rule
// order. Globally excluded repositories yield no decisions.
func (c *DiffClassifier) Classify(ctx context.Context, reader ContentReader, target RepositoryTarget) ([]FileSyncDecision, error) {
	return classifyRules(ctx, reader, c.config.RulesFor(target.Name))
}

func classifyRules(ctx context.Context, reader ContentReader, rules []FileRule) ([]FileSyncDecision, error) {
	decisions := make([]FileSyncDecision, 0, len(rules))
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision, err := classifyRule(ctx, reader, rule)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, decision)
	}
	return decisions, nil
}

func classifyRule(ctx context.Context, reader ContentReader, rule FileRule) (FileSyncDecision, error) {
	decision := FileSyncDecision{
		Rule:       rule,
		SourceHash: rule.Hash(),
	}

	content, found, err := reader.ReadFile(ctx, rule.Destination)
	if err != nil {
		return decision, fmt.Errorf("failed to read %s: %w", rule.Destination, err)
	}
	if !found {
		decision.Kind = DecisionMissing
		return decision, nil
	}

	decision.DestinationHash = hashContent(content)
	if decision.DestinationHash == decision.SourceHash {
		decision.Kind = DecisionUpToDate
	} else {
		decision.Kind = DecisionDifferent
	}
	return decision, nil
}

// pending returns the decisions that need a write
func pending(decisions []FileSyncDecision) []FileSyncDecision {
	var out []FileSyncDecision
	for _, d := range decisions {
		if d.NeedsWrite() {
			out = append(out, d)
		}
	}
	return out
}

// upToDatePaths returns the destination paths already matching their source
func upToDatePaths(decisions []FileSyncDecision) []string {
	var out []string
	for _, d := range decisions {
		if d.Kind == DecisionUpToDate {
			out = append(out, d.Path())
		}
	}
	return out
}

// apiReader reads repository files through the contents API at a ref
type apiReader struct {
	client      github.APIClient
	owner, name string
	ref         string
}

// NewAPIReader returns a ContentReader over owner/name at ref
func NewAPIReader(client github.APIClient, owner, name, ref string) ContentReader {
	return &apiReader{client: client, owner: owner, name: name, ref: ref}
}

func (r *apiReader) ReadFile(ctx context.Context, path string) ([]byte, bool, error) {
	return r.client.GetFileContent(ctx, r.owner, r.name, path, r.ref)
}
