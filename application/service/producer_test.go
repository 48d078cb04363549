package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rephole/rephole/domain/job"
	"github.com/rephole/rephole/domain/rerrors"
)

type fakeEnqueuer struct {
	enqueued []job.Job
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, j job.Job) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, j)
	return nil
}

type fakeNotifier struct {
	notified []string
	err      error
}

func (f *fakeNotifier) NotifyJobEnqueued(_ context.Context, jobID string) error {
	if f.err != nil {
		return f.err
	}
	f.notified = append(f.notified, jobID)
	return nil
}

func TestProducerEnqueue_DerivesDefaults(t *testing.T) {
	jobs := &fakeEnqueuer{}
	notifier := &fakeNotifier{}
	p := NewProducer(jobs, notifier, 3)

	result, err := p.Enqueue(context.Background(), ProducerRequest{
		RepoURL: "https://github.com/acme/demo.git",
	})
	require.NoError(t, err)

	assert.Equal(t, "main", result.Ref)
	assert.Equal(t, "demo", result.RepoID, "repoId derived from the URL's trailing segment")
	assert.NotEmpty(t, result.JobID)

	require.Len(t, jobs.enqueued, 1)
	j := jobs.enqueued[0]
	assert.Equal(t, job.StateWaiting, j.State())
	assert.Equal(t, 3, j.MaxAttempts())
	assert.Equal(t, []string{j.ID()}, notifier.notified)
}

func TestProducerEnqueue_AcceptsKnownHostWithoutGitSuffix(t *testing.T) {
	p := NewProducer(&fakeEnqueuer{}, &fakeNotifier{}, 3)

	result, err := p.Enqueue(context.Background(), ProducerRequest{
		RepoURL: "https://gitlab.com/acme/widgets",
	})
	require.NoError(t, err)
	assert.Equal(t, "widgets", result.RepoID)
}

func TestProducerEnqueue_RejectsBadURLs(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"not a url", "::::"},
		{"no scheme", "example.com/acme/demo.git"},
		{"wrong scheme", "git://github.com/acme/demo.git"},
		{"unknown host without .git", "https://example.com/acme/demo"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProducer(&fakeEnqueuer{}, &fakeNotifier{}, 3)
			_, err := p.Enqueue(context.Background(), ProducerRequest{RepoURL: tc.url})
			require.Error(t, err)
			assert.ErrorIs(t, err, rerrors.ErrValidation)
		})
	}
}

func TestProducerEnqueue_RejectsInvalidRepoID(t *testing.T) {
	p := NewProducer(&fakeEnqueuer{}, &fakeNotifier{}, 3)

	_, err := p.Enqueue(context.Background(), ProducerRequest{
		RepoURL: "https://github.com/acme/demo.git",
		RepoID:  "has spaces",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, rerrors.ErrValidation)
}

func TestProducerEnqueue_RejectsNonPrimitiveMeta(t *testing.T) {
	p := NewProducer(&fakeEnqueuer{}, &fakeNotifier{}, 3)

	_, err := p.Enqueue(context.Background(), ProducerRequest{
		RepoURL: "https://github.com/acme/demo.git",
		Meta:    map[string]any{"tags": []string{"a", "b"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, rerrors.ErrValidation)
}

func TestProducerEnqueue_AllowsReservedMetaKeyNames(t *testing.T) {
	jobs := &fakeEnqueuer{}
	p := NewProducer(jobs, &fakeNotifier{}, 3)

	// A reserved key name in meta is a worker-time stripping concern, not
	// an enqueue-time rejection.
	_, err := p.Enqueue(context.Background(), ProducerRequest{
		RepoURL: "https://github.com/acme/demo.git",
		Meta:    map[string]any{"repoId": "whatever", "env": "prod"},
	})
	require.NoError(t, err)
	require.Len(t, jobs.enqueued, 1)
}

func TestProducerEnqueue_NotifyFailureIsNonFatal(t *testing.T) {
	jobs := &fakeEnqueuer{}
	p := NewProducer(jobs, &fakeNotifier{err: errors.New("redis down")}, 3)

	_, err := p.Enqueue(context.Background(), ProducerRequest{
		RepoURL: "https://github.com/acme/demo.git",
	})
	require.NoError(t, err, "the worker's poll loop picks the job up regardless")
	require.Len(t, jobs.enqueued, 1)
}

func TestProducerEnqueue_EnqueueErrorPropagates(t *testing.T) {
	p := NewProducer(&fakeEnqueuer{err: errors.New("db down")}, &fakeNotifier{}, 3)

	_, err := p.Enqueue(context.Background(), ProducerRequest{
		RepoURL: "https://github.com/acme/demo.git",
	})
	require.Error(t, err)
}

func TestDeriveRepoID(t *testing.T) {
	assert.Equal(t, "demo", deriveRepoID("/acme/demo.git"))
	assert.Equal(t, "demo", deriveRepoID("/acme/demo"))
	assert.Equal(t, "demo", deriveRepoID("/acme/demo/"))
	assert.Equal(t, "demo.git.backup", deriveRepoID("/acme/demo.git.backup"))
}
