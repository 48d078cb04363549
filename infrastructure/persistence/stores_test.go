package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rephole/rephole/domain/blob"
	"github.com/rephole/rephole/domain/job"
	"github.com/rephole/rephole/internal/database"
)

func openTestDB(t *testing.T) database.Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.NewDatabase(context.Background(), "sqlite:///"+dbPath)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBlobStore_SaveParentUpserts(t *testing.T) {
	store := NewBlobStore(openTestDB(t))
	ctx := context.Background()

	first := blob.New("src/a.ts", "demo", "first body", map[string]any{"env": "prod"})
	require.NoError(t, store.SaveParent(ctx, first))

	second := blob.New("src/a.ts", "demo", "second body", nil)
	require.NoError(t, store.SaveParent(ctx, second))

	got, err := store.GetParent(ctx, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "second body", got.Content(), "save is an upsert on id")
	assert.Equal(t, "demo", got.RepoID())
}

func TestBlobStore_GetParent_NotFound(t *testing.T) {
	store := NewBlobStore(openTestDB(t))
	_, err := store.GetParent(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBlobStore_GetParents_OmitsMissing(t *testing.T) {
	store := NewBlobStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.SaveParent(ctx, blob.New("src/a.ts", "demo", "a", nil)))
	require.NoError(t, store.SaveParent(ctx, blob.New("src/b.ts", "demo", "b", nil)))

	got, err := store.GetParents(ctx, []string{"src/a.ts", "src/missing.ts", "src/b.ts"})
	require.NoError(t, err)
	assert.Len(t, got, 2, "missing ids are silently omitted")

	empty, err := store.GetParents(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepoStateStore_FindOrCreate(t *testing.T) {
	store := NewRepoStateStore(openTestDB(t))
	ctx := context.Background()
	url := "https://github.com/acme/demo.git"

	state, created, err := store.FindOrCreate(ctx, url, func(id string) string {
		return filepath.Join("/tmp/repos", id)
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, state.ID(), 26)
	assert.Equal(t, filepath.Join("/tmp/repos", state.ID()), state.LocalPath())

	again, created, err := store.FindOrCreate(ctx, url, func(id string) string {
		return filepath.Join("/elsewhere", id)
	})
	require.NoError(t, err)
	assert.False(t, created, "second resolve observes the existing row")
	assert.Equal(t, state.ID(), again.ID())
	assert.Equal(t, state.LocalPath(), again.LocalPath(), "localPath never changes once minted")
}

func TestRepoStateStore_SaveAdvancesCommit(t *testing.T) {
	store := NewRepoStateStore(openTestDB(t))
	ctx := context.Background()
	url := "https://github.com/acme/demo.git"

	state, _, err := store.FindOrCreate(ctx, url, func(id string) string { return "/tmp/" + id })
	require.NoError(t, err)
	assert.Empty(t, state.LastProcessedCommit())

	_, err = store.Save(ctx, state.WithCommit("abc123"))
	require.NoError(t, err)

	reloaded, err := store.FindByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "abc123", reloaded.LastProcessedCommit())
}

func TestRepoStateStore_FindByURL_NotFound(t *testing.T) {
	store := NewRepoStateStore(openTestDB(t))
	_, err := store.FindByURL(context.Background(), "https://github.com/acme/unknown.git")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func testJob(id string) job.Job {
	return job.New(id, job.Payload{
		RepoURL: "https://github.com/acme/demo.git",
		Ref:     "main",
		RepoID:  "demo",
	}, 3)
}

func TestJobStore_EnqueueDequeue(t *testing.T) {
	store := NewJobStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, testJob("job-1")))

	claimed, err := store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", claimed.ID())
	assert.Equal(t, job.StateActive, claimed.State())
	assert.Equal(t, 1, claimed.AttemptsMade(), "dequeue counts the attempt")

	_, err = store.Dequeue(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound, "an active job is not re-delivered")
}

func TestJobStore_DequeueHonorsRunAfter(t *testing.T) {
	store := NewJobStore(openTestDB(t))
	ctx := context.Background()

	j := testJob("job-1")
	require.NoError(t, store.Enqueue(ctx, j))

	claimed, err := store.Dequeue(ctx)
	require.NoError(t, err)

	// Retry with a long backoff parks the job in the future.
	require.NoError(t, store.Save(ctx, claimed.Retry("flaky", time.Hour)))
	_, err = store.Dequeue(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound, "backed-off job is not eligible yet")
}

func TestJobStore_RetryFailedJob(t *testing.T) {
	store := NewJobStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, testJob("job-1")))
	claimed, err := store.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, claimed.Fail("broken")))

	failed, err := store.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "broken", failed[0].FailedReason())

	require.NoError(t, store.Retry(ctx, "job-1"))
	reclaimed, err := store.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", reclaimed.ID())
}

func TestJobStore_Retry_NotFailed(t *testing.T) {
	store := NewJobStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, testJob("job-1")))
	err := store.Retry(ctx, "job-1")
	assert.ErrorIs(t, err, database.ErrNotFound, "only failed jobs can be retried")
}

func TestJobStore_RetryAll(t *testing.T) {
	store := NewJobStore(openTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2"} {
		require.NoError(t, store.Enqueue(ctx, testJob(id)))
		claimed, err := store.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, claimed.Fail("broken")))
	}

	n, err := store.RetryAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestJobStore_Get(t *testing.T) {
	store := NewJobStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, testJob("job-1")))
	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Payload().RepoID)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
