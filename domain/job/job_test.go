package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_StartsWaiting(t *testing.T) {
	j := New("job1", Payload{RepoURL: "https://github.com/acme/demo.git"}, 3)
	assert.Equal(t, StateWaiting, j.State())
	assert.Equal(t, 0, j.AttemptsMade())
}

func TestStart_IncrementsAttempts(t *testing.T) {
	j := New("job1", Payload{}, 3)
	j = j.Start()
	assert.Equal(t, StateActive, j.State())
	assert.Equal(t, 1, j.AttemptsMade())
}

func TestComplete_SetsTerminalState(t *testing.T) {
	j := New("job1", Payload{}, 3).Start().Complete()
	assert.Equal(t, StateCompleted, j.State())
	assert.Equal(t, 100, j.Progress())
	assert.True(t, j.State().IsTerminal())
}

func TestComplete_NoOpAfterTerminal(t *testing.T) {
	j := New("job1", Payload{}, 3).Start().Fail("boom")
	before := j
	after := j.Complete()
	assert.Equal(t, before, after)
}

func TestRetry_SchedulesBackoffUntilExhausted(t *testing.T) {
	j := New("job1", Payload{}, 2)

	j = j.Start().Retry("transient error", 5*time.Second)
	assert.Equal(t, StateWaiting, j.State())
	assert.Equal(t, "transient error", j.FailedReason())
	assert.True(t, j.RunAfter().After(j.CreatedAt()))

	j = j.Start().Retry("transient error again", 10*time.Second)
	assert.Equal(t, StateFailed, j.State(), "second attempt exhausts max attempts of 2")
}

func TestFail_IsAlwaysTerminalRegardlessOfAttempts(t *testing.T) {
	j := New("job1", Payload{}, 10).Start().Fail("irrecoverable")
	assert.Equal(t, StateFailed, j.State())
	assert.Equal(t, "irrecoverable", j.FailedReason())
}

func TestSetProgress_Clamps(t *testing.T) {
	j := New("job1", Payload{}, 3).Start()
	assert.Equal(t, 0, j.SetProgress(-5).Progress())
	assert.Equal(t, 100, j.SetProgress(150).Progress())
	assert.Equal(t, 42, j.SetProgress(42).Progress())
}

func TestBackoff_DoublesEachAttempt(t *testing.T) {
	assert.Equal(t, 5*time.Second, Backoff(5*time.Second, 1))
	assert.Equal(t, 10*time.Second, Backoff(5*time.Second, 2))
	assert.Equal(t, 20*time.Second, Backoff(5*time.Second, 3))
}

func TestExhaustedRetries(t *testing.T) {
	j := New("job1", Payload{}, 1)
	assert.False(t, j.ExhaustedRetries())
	j = j.Start()
	assert.True(t, j.ExhaustedRetries())
}
