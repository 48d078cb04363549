package git

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// noIndexFile is the repository-local file whose glob patterns exclude
// paths from ingestion without touching .gitignore.
const noIndexFile = ".noindex"

// Ignore decides whether a path inside one working clone should be
// skipped during ingestion. It layers the clone's .noindex glob patterns
// over git's own ignore rules; .gitignore semantics stay authoritative by
// shelling out to `git check-ignore` rather than reimplementing them.
//
// An Ignore is rooted at a single clone directory, so the worker builds a
// fresh one per job instead of sharing one across repositories.
type Ignore struct {
	root     string
	hasGit   bool
	patterns []string
}

// NewIgnore builds an Ignore rooted at a working clone. root must be an
// existing directory.
func NewIgnore(root string) (Ignore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return Ignore{}, fmt.Errorf("ignore root: %w", err)
	}
	if !info.IsDir() {
		return Ignore{}, fmt.Errorf("ignore root %s is not a directory", root)
	}

	ig := Ignore{root: root}

	if _, err := os.Stat(filepath.Join(root, ".git")); err == nil {
		ig.hasGit = true
	}
	ig.patterns = readNoIndex(filepath.Join(root, noIndexFile))

	return ig, nil
}

// ShouldIgnore reports whether the file at path (absolute, inside the
// root) should be excluded from ingestion. Directories and paths that
// cannot be resolved relative to the root are never ignored; anything
// under .git always is.
func (ig Ignore) ShouldIgnore(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	rel, err := filepath.Rel(ig.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	if ig.hasGit && ig.gitIgnores(rel) {
		return true
	}
	return ig.noIndexMatches(rel)
}

// gitIgnores asks git whether rel is covered by the repository's ignore
// rules. check-ignore exits 0 for an ignored path, 1 otherwise.
func (ig Ignore) gitIgnores(rel string) bool {
	cmd := exec.CommandContext(context.Background(), "git", "check-ignore", "-q", rel)
	cmd.Dir = ig.root
	return cmd.Run() == nil
}

// noIndexMatches matches rel against the .noindex globs, both as a whole
// path and per path component so a bare directory name excludes its
// contents.
func (ig Ignore) noIndexMatches(rel string) bool {
	for _, pattern := range ig.patterns {
		if ok, err := filepath.Match(pattern, rel); err == nil && ok {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if ok, err := filepath.Match(pattern, part); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// readNoIndex loads glob patterns from a .noindex file, skipping blanks
// and # comments. A missing or unreadable file yields no patterns.
func readNoIndex(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = file.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}
