// Package service implements the application-layer operations: the
// Ingestion Producer, Ingestion Worker, Retriever, and Query Service.
// Each type here composes the domain entities and infrastructure
// adapters read elsewhere in the module; none of them talk to a driver
// directly.
package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/rephole/rephole/domain/job"
	"github.com/rephole/rephole/domain/rerrors"
	"github.com/rephole/rephole/domain/vectorrecord"
	"github.com/rephole/rephole/infrastructure/queue"
)

// repoIDPattern is the validation regex applied to a caller-supplied or
// URL-derived repoId.
var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// knownGitHosts are hostnames the Producer accepts even when the URL
// doesn't end in ".git".
var knownGitHosts = map[string]struct{}{
	"github.com":    {},
	"gitlab.com":    {},
	"bitbucket.org": {},
}

// JobEnqueuer persists a new job whose id the caller has already
// assigned. Satisfied by infrastructure/persistence.JobStore.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, j job.Job) error
}

// JobNotifier wakes a polling worker early. Satisfied by
// infrastructure/queue.Notifier.
type JobNotifier interface {
	NotifyJobEnqueued(ctx context.Context, jobID string) error
}

// ProducerRequest is the caller-supplied shape of an ingestion request,
// matching the POST /ingestions/repository body.
type ProducerRequest struct {
	RepoURL string
	Ref     string
	Token   string
	UserID  string
	RepoID  string
	Meta    map[string]any
}

// ProducerResult is what the Producer hands back after a successful
// enqueue.
type ProducerResult struct {
	JobID   string
	RepoURL string
	Ref     string
	RepoID  string
}

// Producer implements the Ingestion Producer: validates a repository
// ingestion request, derives defaults, and enqueues a durable job. It
// only ever ingests a single remote git repository per request — there
// is no local-path or archive-upload branching to validate against.
type Producer struct {
	jobs        JobEnqueuer
	notifier    JobNotifier
	maxAttempts int
}

// NewProducer creates a Producer. maxAttempts is the retry ceiling
// assigned to every job at enqueue time.
func NewProducer(jobs JobEnqueuer, notifier JobNotifier, maxAttempts int) Producer {
	return Producer{jobs: jobs, notifier: notifier, maxAttempts: maxAttempts}
}

// Enqueue validates req and persists a new Ingestion Job in the waiting
// state, publishing a wakeup notification on success. Validation
// failures are returned as *rerrors.ValidationErrors so callers can
// render every field problem at once.
func (p Producer) Enqueue(ctx context.Context, req ProducerRequest) (ProducerResult, error) {
	normalized, verrs := normalize(req)
	if verrs.HasErrors() {
		return ProducerResult{}, verrs
	}

	j := job.New(ulid.Make().String(), job.Payload{
		RepoURL: normalized.RepoURL,
		Ref:     normalized.Ref,
		Token:   normalized.Token,
		UserID:  normalized.UserID,
		RepoID:  normalized.RepoID,
		Meta:    normalized.Meta,
	}, p.maxAttempts)

	if err := p.jobs.Enqueue(ctx, j); err != nil {
		return ProducerResult{}, fmt.Errorf("enqueue ingestion job: %w", err)
	}

	// A publish failure never rolls back the enqueue — the worker's poll
	// loop will pick the job up regardless, just later. See
	// infrastructure/queue.Notifier's doc comment.
	_ = p.notifier.NotifyJobEnqueued(ctx, j.ID())

	return ProducerResult{
		JobID:   j.ID(),
		RepoURL: normalized.RepoURL,
		Ref:     normalized.Ref,
		RepoID:  normalized.RepoID,
	}, nil
}

// normalize applies the defaulting and validation rules, returning the
// request with Ref/RepoID/Meta resolved, plus any accumulated field
// errors.
func normalize(req ProducerRequest) (ProducerRequest, *rerrors.ValidationErrors) {
	verrs := &rerrors.ValidationErrors{}

	parsed, err := url.Parse(req.RepoURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		verrs.Add("repoUrl", "must be a well-formed http(s) URL")
	} else if !strings.HasSuffix(parsed.Path, ".git") {
		if _, known := knownGitHosts[strings.ToLower(parsed.Host)]; !known {
			verrs.Add("repoUrl", "must end in .git or use a known git host (github.com, gitlab.com, bitbucket.org)")
		}
	}

	ref := req.Ref
	if ref == "" {
		ref = "main"
	}

	repoID := req.RepoID
	if repoID == "" && parsed != nil {
		repoID = deriveRepoID(parsed.Path)
	}
	if repoID == "" {
		verrs.Add("repoId", "could not be derived from repoUrl and none was supplied")
	} else if !repoIDPattern.MatchString(repoID) {
		verrs.Add("repoId", "must match [A-Za-z0-9._-]+")
	}

	if !vectorrecord.HasOnlyPrimitiveValues(req.Meta) {
		verrs.Add("meta", "must be a flat mapping of primitive values")
	}

	if verrs.HasErrors() {
		return ProducerRequest{}, verrs
	}

	return ProducerRequest{
		RepoURL: req.RepoURL,
		Ref:     ref,
		Token:   req.Token,
		UserID:  req.UserID,
		RepoID:  repoID,
		Meta:    req.Meta,
	}, verrs
}

// deriveRepoID takes a repo URL's trailing path segment and strips a
// ".git" suffix.
func deriveRepoID(urlPath string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(urlPath, "/"), ".git")
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1]
}

// Ensure the queue package's Notifier satisfies JobNotifier structurally
// (compile-time doc anchor; queue.Notifier already matches the method
// set, this just keeps the dependency visible to a reader of this file).
var _ JobNotifier = queue.Notifier{}
