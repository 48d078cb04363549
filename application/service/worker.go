package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rephole/rephole/domain/blob"
	"github.com/rephole/rephole/domain/chunk"
	"github.com/rephole/rephole/domain/job"
	"github.com/rephole/rephole/domain/repostate"
	"github.com/rephole/rephole/domain/rerrors"
	"github.com/rephole/rephole/domain/search"
	"github.com/rephole/rephole/domain/vectorrecord"
	"github.com/rephole/rephole/infrastructure/git"
	"github.com/rephole/rephole/internal/database"
)

// binaryExtensions is the blocklist checked case-insensitively against a
// file's extension before it is read.
var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {}, ".svg": {}, ".webp": {}, ".tiff": {},
	".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {}, ".mkv": {},
	".mp3": {}, ".wav": {}, ".ogg": {}, ".flac": {}, ".aac": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {}, ".bz2": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".bin": {}, ".class": {}, ".pyc": {}, ".o": {}, ".a": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".ttf": {}, ".otf": {}, ".woff": {}, ".woff2": {}, ".eot": {},
	".db": {}, ".sqlite": {}, ".sqlite3": {}, ".wasm": {}, ".lock": {},
}

func isBinaryPath(path string) bool {
	_, ok := binaryExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ChunkFunc extracts chunks from one file's source. Matches
// infrastructure/chunking.ChunkFile's signature.
type ChunkFunc func(path string, source []byte) []chunk.Chunk

// GitMirror is the subset of infrastructure/git.Mirror the worker drives.
type GitMirror interface {
	EnsureCloned(ctx context.Context, url, dst, token string) error
	CurrentCommit(path string) (string, error)
	ChangedFiles(path, lastSha string) (git.ChangeSet, error)
}

// IgnoreChecker reports whether a path should be skipped during
// ingestion regardless of its extension — files matched by .gitignore
// or a repository's .noindex list. Satisfied by
// infrastructure/git.Ignore.
type IgnoreChecker interface {
	ShouldIgnore(path string) bool
}

// IgnoreCheckerFactory builds an IgnoreChecker rooted at one working
// clone. Ignore matching is relative to the repository root, so the
// worker constructs a fresh checker per job rather than sharing one
// across repositories.
type IgnoreCheckerFactory func(root string) (IgnoreChecker, error)

// JobStore is the subset of infrastructure/persistence.JobStore the
// worker drives.
type JobStore interface {
	Dequeue(ctx context.Context) (job.Job, error)
	Save(ctx context.Context, j job.Job) error
}

// RepoStateStore is the subset of infrastructure/persistence.RepoStateStore
// the worker drives.
type RepoStateStore interface {
	FindOrCreate(ctx context.Context, url string, newLocalPath func(id string) string) (repostate.State, bool, error)
	Save(ctx context.Context, state repostate.State) (repostate.State, error)
}

// BlobWriter is the subset of infrastructure/persistence.BlobStore the
// worker drives.
type BlobWriter interface {
	SaveParent(ctx context.Context, b blob.Blob) error
}

// VectorWriter is the subset of infrastructure/vectorstore.Store the
// worker drives.
type VectorWriter interface {
	Upsert(ctx context.Context, filePath string, records []vectorrecord.Record) error
	DeleteByFilter(ctx context.Context, filter vectorrecord.Filter) error
}

// Worker implements the Ingestion Worker's state machine: resolve repo
// state, diff against the last processed commit, delete stale vectors,
// process each added/modified file, then commit the new HEAD. Polling
// runs on a ticker with an early-wakeup channel and per-job panic
// recovery.
type Worker struct {
	jobs           JobStore
	repoStates     RepoStateStore
	mirror         GitMirror
	newIgnore      IgnoreCheckerFactory
	blobs          BlobWriter
	vectors        VectorWriter
	embedder       search.Embedder
	chunkFile      ChunkFunc
	storageRoot    string
	initialBackoff time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
}

// WorkerOption configures optional Worker fields.
type WorkerOption func(*Worker)

// WithIgnoreCheckerFactory sets the factory for the per-repository
// ignore checker consulted before every added/modified file, in addition
// to the binary-extension blocklist.
func WithIgnoreCheckerFactory(f IgnoreCheckerFactory) WorkerOption {
	return func(w *Worker) { w.newIgnore = f }
}

// WithPollInterval overrides the default poll interval between drains.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// NewWorker creates a Worker. storageRoot is the directory new
// repositories are cloned under, joined with each repo state's id.
func NewWorker(
	jobs JobStore,
	repoStates RepoStateStore,
	mirror GitMirror,
	blobs BlobWriter,
	vectors VectorWriter,
	embedder search.Embedder,
	chunkFile ChunkFunc,
	storageRoot string,
	initialBackoff time.Duration,
	opts ...WorkerOption,
) Worker {
	w := Worker{
		jobs:           jobs,
		repoStates:     repoStates,
		mirror:         mirror,
		blobs:          blobs,
		vectors:        vectors,
		embedder:       embedder,
		chunkFile:      chunkFile,
		storageRoot:    storageRoot,
		initialBackoff: initialBackoff,
		pollInterval:   5 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

// Run drains the queue on every poll tick or wakeup notification, until
// ctx is cancelled.
func (w Worker) Run(ctx context.Context, wakeups <-chan string) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		case _, ok := <-wakeups:
			if !ok {
				wakeups = nil
				continue
			}
			w.drain(ctx)
		}
	}
}

// drain processes jobs until the queue reports none ready.
func (w Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.processNext(ctx)
		if err != nil {
			w.logger.Error("dequeue failed", "error", err)
			return
		}
		if !processed {
			return
		}
	}
}

func (w Worker) processNext(ctx context.Context) (bool, error) {
	j, err := w.jobs.Dequeue(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	w.runWithRecovery(ctx, j)
	return true, nil
}

// runWithRecovery executes one job's full pipeline, converting a panic
// into a retryable failure so one bad file never kills the worker
// process.
func (w Worker) runWithRecovery(ctx context.Context, j job.Job) {
	// Dequeue already claimed the job: it is active and its attempt is
	// counted. Calling Start here would double-count the attempt.
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("ingestion job panicked", "job_id", j.ID(), "panic", r)
			failed := j.Retry(fmt.Sprintf("panic: %v", r), job.Backoff(w.initialBackoff, j.AttemptsMade()))
			_ = w.jobs.Save(ctx, failed)
		}
	}()

	if err := w.process(ctx, &j); err != nil {
		w.logger.Warn("ingestion job failed", "job_id", j.ID(), "error", err)
		j = j.Retry(err.Error(), job.Backoff(w.initialBackoff, j.AttemptsMade()))
		_ = w.jobs.Save(ctx, j)
		return
	}

	j = j.Complete()
	if err := w.jobs.Save(ctx, j); err != nil {
		w.logger.Error("mark job complete failed", "job_id", j.ID(), "error", err)
	}
}

// process resolves state, diffs, deletes, processes each file, and
// commits the new HEAD for one job. j's progress is advanced and
// persisted as files complete.
func (w Worker) process(ctx context.Context, j *job.Job) error {
	payload := j.Payload()

	state, created, err := w.repoStates.FindOrCreate(ctx, payload.RepoURL, func(id string) string {
		return filepath.Join(w.storageRoot, id)
	})
	if err != nil {
		return fmt.Errorf("resolve repo state: %w", err)
	}

	if err := w.mirror.EnsureCloned(ctx, payload.RepoURL, state.LocalPath(), payload.Token); err != nil {
		return fmt.Errorf("%w: clone/fetch %s: %v", rerrors.ErrTransientExternal, payload.RepoURL, err)
	}

	if created {
		if state, err = w.repoStates.Save(ctx, state); err != nil {
			return fmt.Errorf("persist new repo state: %w", err)
		}
	}

	currentCommit, err := w.mirror.CurrentCommit(state.LocalPath())
	if err != nil {
		return fmt.Errorf("%w: resolve HEAD: %v", rerrors.ErrTransientExternal, err)
	}

	changes, err := w.mirror.ChangedFiles(state.LocalPath(), state.LastProcessedCommit())
	if err != nil {
		return fmt.Errorf("%w: diff changed files: %v", rerrors.ErrTransientExternal, err)
	}

	if err := w.deleteByParent(ctx, payload.RepoID, changes.Deleted); err != nil {
		return err
	}
	renamedFrom := make([]string, 0, len(changes.Renamed))
	renamedTo := make([]string, 0, len(changes.Renamed))
	for _, r := range changes.Renamed {
		renamedFrom = append(renamedFrom, r.From)
		renamedTo = append(renamedTo, r.To)
	}
	if err := w.deleteByParent(ctx, payload.RepoID, renamedFrom); err != nil {
		return err
	}

	toProcess := make([]string, 0, len(changes.Added)+len(changes.Modified)+len(renamedTo))
	toProcess = append(toProcess, changes.Added...)
	toProcess = append(toProcess, changes.Modified...)
	toProcess = append(toProcess, renamedTo...)

	if len(toProcess) == 0 {
		state = state.WithCommit(currentCommit)
		if _, err := w.repoStates.Save(ctx, state); err != nil {
			return fmt.Errorf("commit repo state: %w", err)
		}
		return nil
	}

	meta, dropped := vectorrecord.SanitizeMeta(payload.Meta)
	if len(dropped) > 0 {
		w.logger.Warn("dropped non-primitive or reserved meta keys", "repo_id", payload.RepoID, "keys", dropped)
	}

	var ignore IgnoreChecker
	if w.newIgnore != nil {
		checker, err := w.newIgnore(state.LocalPath())
		if err != nil {
			w.logger.Warn("ignore rules unavailable", "path", state.LocalPath(), "error", err)
		} else {
			ignore = checker
		}
	}

	for i, relPath := range toProcess {
		if err := w.processFile(ctx, state, payload, relPath, meta, ignore); err != nil {
			if errors.Is(err, rerrors.ErrTransientExternal) {
				return err
			}
			w.logger.Warn("skipping file", "repo_id", payload.RepoID, "path", relPath, "error", err)
		}
		*j = j.SetProgress(int(float64(i+1) / float64(len(toProcess)) * 100))
		_ = w.jobs.Save(ctx, *j)
	}

	state = state.WithCommit(currentCommit)
	if _, err := w.repoStates.Save(ctx, state); err != nil {
		return fmt.Errorf("commit repo state: %w", err)
	}
	return nil
}

// deleteByParent removes every vector record whose parentId matches one
// of paths, scoped to repoID.
func (w Worker) deleteByParent(ctx context.Context, repoID string, paths []string) error {
	for _, p := range paths {
		filter := vectorrecord.Filter{
			vectorrecord.KeyRepoID:   repoID,
			vectorrecord.KeyParentID: p,
		}
		if err := w.vectors.DeleteByFilter(ctx, filter); err != nil {
			return fmt.Errorf("%w: delete vectors for %s: %v", rerrors.ErrTransientExternal, p, err)
		}
	}
	return nil
}

// processFile handles a single added/modified/renamed-to file: skip
// binaries and ignored paths, read + sanitize, save the parent blob,
// chunk, embed, build records, and upsert.
func (w Worker) processFile(ctx context.Context, state repostate.State, payload job.Payload, relPath string, meta map[string]any, ignore IgnoreChecker) error {
	if isBinaryPath(relPath) {
		return nil
	}
	if ignore != nil && ignore.ShouldIgnore(filepath.Join(state.LocalPath(), relPath)) {
		return nil
	}

	raw, err := os.ReadFile(filepath.Join(state.LocalPath(), relPath))
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(raw) {
		return fmt.Errorf("not valid utf-8")
	}

	sanitized := blob.Sanitize(string(raw))
	if sanitized.BytesStripped > 0 {
		w.logger.Info("stripped control bytes", "path", relPath, "count", sanitized.BytesStripped)
	}

	b := blob.New(relPath, payload.RepoID, sanitized.Content, meta)
	if err := w.blobs.SaveParent(ctx, b); err != nil {
		return fmt.Errorf("%w: save blob: %v", rerrors.ErrTransientExternal, err)
	}

	chunks := w.chunkFile(relPath, []byte(sanitized.Content))
	live := chunks[:0]
	for _, c := range chunks {
		if !c.IsBlank() {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		w.logger.Warn("no chunks extracted; skipping file", "repo_id", payload.RepoID, "path", relPath)
		return nil
	}

	texts := make([]string, len(live))
	for i, c := range live {
		texts[i] = c.Content()
	}
	vectors, err := w.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embed chunks: %v", rerrors.ErrTransientExternal, err)
	}
	if len(vectors) != len(live) {
		return fmt.Errorf("%w: embedding count mismatch: got %d for %d chunks", rerrors.ErrTransientExternal, len(vectors), len(live))
	}

	now := time.Now()
	records := make([]vectorrecord.Record, len(live))
	for i, c := range live {
		records[i] = vectorrecord.Build(vectorrecord.BuildParams{
			ChunkID:      c.ID(),
			Vector:       vectors[i],
			Content:      c.Content(),
			WorkspaceID:  payload.UserID,
			UserID:       payload.UserID,
			FilePath:     relPath,
			FileType:     filepath.Ext(relPath),
			ChunkIndex:   i,
			ChunkType:    c.Type(),
			ParentID:     relPath,
			RepositoryID: state.ID(),
			RepoID:       payload.RepoID,
			FunctionName: c.Name(),
			StartLine:    c.StartLine(),
			EndLine:      c.EndLine(),
			UserMeta:     meta,
			Timestamp:    now,
		})
	}

	if err := w.vectors.Upsert(ctx, relPath, records); err != nil {
		if errors.Is(err, rerrors.ErrBadChunkBatch) {
			return err
		}
		return fmt.Errorf("%w: upsert records: %v", rerrors.ErrTransientExternal, err)
	}
	return nil
}
