// Package repostate models the Repository State entity: the durable
// per-repository record the Ingestion Worker consults to decide what has
// changed since the last successful ingestion.
package repostate

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// State is one repository's durable ingestion bookkeeping record.
type State struct {
	id                  string
	repoURL             string
	localPath           string
	lastProcessedCommit string
	fileSignatures      map[string]string
	createdAt           time.Time
	updatedAt           time.Time
}

// NewID mints a fresh sortable, time-ordered identifier for a newly seen
// repository URL. IDs are 26-character ULIDs so repo states sort roughly
// by creation time without an auxiliary sequence.
func NewID() string {
	return ulid.Make().String()
}

// New creates a brand new State for a repository seen for the first time.
// lastProcessedCommit starts empty; callers set it after clone + commit.
func New(id, repoURL, localPath string) State {
	now := time.Now()
	return State{
		id:             id,
		repoURL:        repoURL,
		localPath:      localPath,
		fileSignatures: map[string]string{},
		createdAt:      now,
		updatedAt:      now,
	}
}

// Reconstruct rebuilds a State from persisted fields.
func Reconstruct(id, repoURL, localPath, lastProcessedCommit string, fileSignatures map[string]string, createdAt, updatedAt time.Time) State {
	if fileSignatures == nil {
		fileSignatures = map[string]string{}
	}
	return State{
		id:                  id,
		repoURL:             repoURL,
		localPath:           localPath,
		lastProcessedCommit: lastProcessedCommit,
		fileSignatures:      fileSignatures,
		createdAt:           createdAt,
		updatedAt:           updatedAt,
	}
}

// ID returns the state's opaque, sortable identifier.
func (s State) ID() string { return s.id }

// RepoURL returns the canonical remote URL this state tracks.
func (s State) RepoURL() string { return s.repoURL }

// LocalPath returns the absolute path of the working clone.
func (s State) LocalPath() string { return s.localPath }

// LastProcessedCommit returns the last commit successfully ingested, or
// "" if the repository has never completed a job.
func (s State) LastProcessedCommit() string { return s.lastProcessedCommit }

// HasBeenProcessed reports whether any commit has ever been committed to
// this state — false means the next job is a bootstrap ingest.
func (s State) HasBeenProcessed() bool { return s.lastProcessedCommit != "" }

// FileSignatures returns a defensive copy of the path-to-content-hash map.
// Reserved for future double-checking; the diff path never reads it (spec
// §9 Design Note d).
func (s State) FileSignatures() map[string]string {
	out := make(map[string]string, len(s.fileSignatures))
	for k, v := range s.fileSignatures {
		out[k] = v
	}
	return out
}

// CreatedAt returns when the state row was first created.
func (s State) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns when the state row was last saved.
func (s State) UpdatedAt() time.Time { return s.updatedAt }

// WithCommit returns a copy of the state advanced to a newly processed
// commit. lastProcessedCommit only ever moves forward in normal
// operation; callers are responsible for calling this after a job's
// per-file phases have all completed successfully.
func (s State) WithCommit(sha string) State {
	s.lastProcessedCommit = sha
	s.updatedAt = time.Now()
	return s
}

// WithFileSignatures returns a copy of the state with an updated
// path-to-hash map.
func (s State) WithFileSignatures(sigs map[string]string) State {
	cp := make(map[string]string, len(sigs))
	for k, v := range sigs {
		cp[k] = v
	}
	s.fileSignatures = cp
	s.updatedAt = time.Now()
	return s
}
