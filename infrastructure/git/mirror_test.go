package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepoWithFile(t *testing.T, dir, path, content string) (*gogit.Repository, string) {
	t.Helper()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(path)
	require.NoError(t, err)

	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	sha, err := wt.Commit("commit "+path, &gogit.CommitOptions{Author: sig})
	require.NoError(t, err)

	return repo, sha.String()
}

func TestCurrentCommit_ResolvesHead(t *testing.T) {
	dir := t.TempDir()
	_, sha := initRepoWithFile(t, dir, "a.go", "package a\n")

	m := NewMirror()
	got, err := m.CurrentCommit(dir)
	require.NoError(t, err)
	assert.Equal(t, sha, got)
}

func TestChangedFiles_BootstrapListsEverythingAsAdded(t *testing.T) {
	dir := t.TempDir()
	initRepoWithFile(t, dir, "a.go", "package a\n")

	m := NewMirror()
	cs, err := m.ChangedFiles(dir, "")
	require.NoError(t, err)
	assert.Contains(t, cs.Added, "a.go")
	assert.Empty(t, cs.Modified)
	assert.Empty(t, cs.Deleted)
}

func TestChangedFiles_ClassifiesModification(t *testing.T) {
	dir := t.TempDir()
	repo, firstSha := initRepoWithFile(t, dir, "a.go", "package a\n")

	full := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(full, []byte("package a\n\nfunc X() {}\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("a.go")
	require.NoError(t, err)
	sig := &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
	_, err = wt.Commit("modify a.go", &gogit.CommitOptions{Author: sig})
	require.NoError(t, err)

	m := NewMirror()
	cs, err := m.ChangedFiles(dir, firstSha)
	require.NoError(t, err)
	assert.Contains(t, cs.Modified, "a.go")
	assert.Empty(t, cs.Added)
}

func TestClone_RejectsNonEmptyDestination(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing"), []byte("x"), 0o644))

	m := NewMirror()
	err := m.Clone(context.Background(), "https://example.com/repo.git", dir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonEmptyDestination)
}
