// Package git provides the Git Mirror component: clone, resolve HEAD, and
// diff two commits into added/modified/deleted/renamed file sets.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// tokenAuth builds an HTTP basic-auth credential from a bearer/PAT-style
// token, matching how github/gitlab/bitbucket all accept a token as the
// password half of basic auth over HTTPS.
func tokenAuth(token string) *githttp.BasicAuth {
	return &githttp.BasicAuth{Username: "token", Password: token}
}

// ErrNonEmptyDestination is returned by Clone when dst exists and is a
// non-empty directory, or exists as a regular file.
var ErrNonEmptyDestination = errors.New("clone destination exists and is not an empty directory")

// Rename pairs a file's old and new path across a rename detected during
// a diff. The worker needs both halves to delete the old vector records
// and reprocess the file under its new path.
type Rename struct {
	From string
	To   string
}

// ChangeSet classifies the files touched between two commits.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
	Renamed  []Rename
}

// Mirror wraps go-git to provide the clone/HEAD/diff operations the
// Ingestion Worker needs. One Mirror instance is stateless; every method
// takes the working directory path explicitly, matching a
// single-writer-per-path ownership model.
type Mirror struct{}

// NewMirror creates a Mirror.
func NewMirror() Mirror { return Mirror{} }

// Clone clones url into dst. It clones if dst does not exist or is an
// empty directory; it fails with ErrNonEmptyDestination if dst is a
// non-empty directory or already exists as a file.
func (Mirror) Clone(ctx context.Context, url, dst string, token string) error {
	empty, err := isEmptyOrMissingDir(dst)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("clone %s into %s: %w", url, dst, ErrNonEmptyDestination)
	}

	opts := &gogit.CloneOptions{URL: url}
	if token != "" {
		opts.Auth = tokenAuth(token)
	}

	_, err = gogit.PlainCloneContext(ctx, dst, false, opts)
	if err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

// EnsureCloned clones url into dst only if dst does not already contain a
// git repository, otherwise fetches the latest refs. This realizes spec
// §4.7 step 1's "clones are skipped if already present" idempotency rule.
func (Mirror) EnsureCloned(ctx context.Context, url, dst, token string) error {
	repo, err := gogit.PlainOpen(dst)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return Mirror{}.Clone(ctx, url, dst, token)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", dst, err)
	}

	opts := &gogit.FetchOptions{RemoteName: "origin"}
	if token != "" {
		opts.Auth = tokenAuth(token)
	}
	if err := repo.FetchContext(ctx, opts); err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", dst, err)
	}
	return nil
}

// CurrentCommit resolves HEAD of the working clone at path.
func (Mirror) CurrentCommit(path string) (string, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD in %s: %w", path, err)
	}
	return head.Hash().String(), nil
}

// ChangedFiles diffs lastSha..HEAD at path and classifies every changed
// path. When lastSha is empty, every tracked path at HEAD is returned as
// Added — the bootstrap case. An invalid lastSha returns a diagnostic
// error; the worker reports that as a transient failure and the job is
// retried with lastSha unchanged.
func (m Mirror) ChangedFiles(path, lastSha string) (ChangeSet, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("open %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		return ChangeSet{}, fmt.Errorf("resolve HEAD in %s: %w", path, err)
	}
	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return ChangeSet{}, fmt.Errorf("load HEAD commit: %w", err)
	}

	if lastSha == "" {
		return m.allTrackedAsAdded(headCommit)
	}

	lastHash := plumbing.NewHash(lastSha)
	lastCommit, err := repo.CommitObject(lastHash)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("resolve last processed commit %s: %w", lastSha, err)
	}

	lastTree, err := lastCommit.Tree()
	if err != nil {
		return ChangeSet{}, fmt.Errorf("load tree for %s: %w", lastSha, err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return ChangeSet{}, fmt.Errorf("load tree for HEAD: %w", err)
	}

	// Tree.Diff alone performs no rename detection — a rename would
	// surface as an unrelated Delete+Insert pair. DefaultDiffTreeOptions
	// turns on content-similarity rename matching, which is what makes
	// the Renamed classification below reachable.
	changes, err := object.DiffTreeWithOptions(context.Background(), lastTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("diff %s..HEAD: %w", lastSha, err)
	}

	return classifyChanges(changes)
}

func (Mirror) allTrackedAsAdded(commit *object.Commit) (ChangeSet, error) {
	tree, err := commit.Tree()
	if err != nil {
		return ChangeSet{}, fmt.Errorf("load tree: %w", err)
	}

	var cs ChangeSet
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err != nil {
			break
		}
		if entry.Mode.IsFile() {
			cs.Added = append(cs.Added, name)
		}
	}
	return cs, nil
}

func classifyChanges(changes object.Changes) (ChangeSet, error) {
	var cs ChangeSet
	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return ChangeSet{}, fmt.Errorf("classify change: %w", err)
		}

		switch action {
		case merkletrie.Insert:
			cs.Added = append(cs.Added, change.To.Name)
		case merkletrie.Delete:
			cs.Deleted = append(cs.Deleted, change.From.Name)
		case merkletrie.Modify:
			if change.From.Name != "" && change.To.Name != "" && change.From.Name != change.To.Name {
				cs.Renamed = append(cs.Renamed, Rename{From: change.From.Name, To: change.To.Name})
				continue
			}
			cs.Modified = append(cs.Modified, change.To.Name)
		}
	}
	return cs, nil
}

func isEmptyOrMissingDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return false, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, fmt.Errorf("read dir %s: %w", path, err)
	}
	return len(entries) == 0, nil
}
