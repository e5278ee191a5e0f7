package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fukkingsnow/arq-sub003/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker() (*Broker, *MemoryJobStore) {
	store := NewMemoryJobStore()
	return NewBroker(store, time.Minute, testLogger()), store
}

func TestEnqueue_AppliesDefaults(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	id, err := broker.Enqueue(ctx, "default", EnqueueParams{
		Type:    "echo",
		Payload: json.RawMessage(`{"n":1}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id, "an omitted id is generated")

	job, err := broker.GetJob(ctx, "default", id)
	require.NoError(t, err)

	assert.Equal(t, 0, job.Priority)
	assert.Equal(t, domain.DefaultMaxAttempts, job.MaxAttempts)
	assert.Equal(t, domain.DefaultBackoffPolicy(), job.Backoff)
	assert.Equal(t, domain.JobStateQueued, job.State)
	assert.Equal(t, 0, job.Attempt)
}

func TestEnqueue_HonorsOverrides(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	backoff := &domain.BackoffPolicy{Strategy: domain.BackoffFixed, Base: 500 * time.Millisecond}
	id, err := broker.Enqueue(ctx, "default", EnqueueParams{
		ID:          "my-id",
		Type:        "echo",
		Priority:    7,
		MaxAttempts: 5,
		Backoff:     backoff,
	})
	require.NoError(t, err)
	assert.Equal(t, "my-id", id)

	job, err := broker.GetJob(ctx, "default", "my-id")
	require.NoError(t, err)
	assert.Equal(t, 7, job.Priority)
	assert.Equal(t, 5, job.MaxAttempts)
	assert.Equal(t, *backoff, job.Backoff)
}

func TestEnqueue_IdempotentPerID(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	first, err := broker.Enqueue(ctx, "default", EnqueueParams{ID: "dup", Type: "echo"})
	require.NoError(t, err)

	// the duplicate is acknowledged, not created and not an error
	second, err := broker.Enqueue(ctx, "default", EnqueueParams{
		ID:       "dup",
		Type:     "echo",
		Priority: 99,
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	job, err := broker.GetJob(ctx, "default", "dup")
	require.NoError(t, err)
	assert.Equal(t, 0, job.Priority, "the duplicate's fields must not overwrite the original")
}

func TestEnqueue_ValidationErrors(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, "default", EnqueueParams{})
	assert.ErrorIs(t, err, domain.ErrEmptyJobType)

	_, err = broker.Enqueue(ctx, "", EnqueueParams{Type: "echo"})
	assert.ErrorIs(t, err, domain.ErrEmptyJobQueue)

	_, err = broker.Enqueue(ctx, "default", EnqueueParams{
		Type:    "echo",
		Backoff: &domain.BackoffPolicy{Strategy: "linear"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidBackoffStrategy)
}

// failingStore fails every write so broker error paths can be observed.
type failingStore struct {
	MemoryJobStore
	err error
}

func (s *failingStore) CreateJob(context.Context, *domain.Job) error { return s.err }

func TestEnqueue_StoreFailureSurfaces(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("store down")
	broker := NewBroker(&failingStore{err: sentinel}, time.Minute, testLogger())

	_, err := broker.Enqueue(context.Background(), "default", EnqueueParams{Type: "echo"})
	assert.ErrorIs(t, err, sentinel)
}

func TestAckFailure_RetryPath(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	id, err := broker.Enqueue(ctx, "default", EnqueueParams{Type: "echo"})
	require.NoError(t, err)

	claimed, err := broker.Claim(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)

	before := time.Now().UTC()
	updated, err := broker.AckFailure(ctx, claimed, errors.New("transient"), false)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateQueued, updated.State)
	assert.Equal(t, 1, updated.Attempt)
	assert.Equal(t, "transient", updated.LastError)

	// default backoff: the first retry waits the 2s base
	wantAt := before.Add(2 * time.Second)
	assert.WithinDuration(t, wantAt, updated.NextAttemptAt, time.Second)

	// invisible until the delay elapses
	_, err = broker.Claim(ctx, "default")
	assert.ErrorIs(t, err, ErrNoJobAvailable)
}

func TestAckFailure_ExhaustionFails(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	none := &domain.BackoffPolicy{Strategy: domain.BackoffNone}
	id, err := broker.Enqueue(ctx, "default", EnqueueParams{
		Type: "echo", MaxAttempts: 2, Backoff: none,
	})
	require.NoError(t, err)

	// first execution fails, retry is immediate with no backoff
	claimed, err := broker.Claim(ctx, "default")
	require.NoError(t, err)
	updated, err := broker.AckFailure(ctx, claimed, errors.New("boom 1"), false)
	require.NoError(t, err)
	require.Equal(t, domain.JobStateQueued, updated.State)

	// second execution exhausts the budget
	claimed, err = broker.Claim(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, 1, claimed.Attempt)

	updated, err = broker.AckFailure(ctx, claimed, errors.New("boom 2"), false)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, updated.State)
	assert.Equal(t, updated.MaxAttempts, updated.Attempt,
		"exhaustion ends with attempt == maxAttempts")
	assert.Equal(t, "boom 2", updated.LastError)

	job, err := broker.GetJob(ctx, "default", id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
}

func TestAckFailure_PermanentSkipsRetry(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, "default", EnqueueParams{Type: "echo", MaxAttempts: 5})
	require.NoError(t, err)

	claimed, err := broker.Claim(ctx, "default")
	require.NoError(t, err)

	updated, err := broker.AckFailure(ctx, claimed, errors.New("unknown job type"), true)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateFailed, updated.State)
	assert.Equal(t, 1, updated.Attempt, "a permanent failure keeps the attempt that produced it")
}

func TestAckSuccess(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	id, err := broker.Enqueue(ctx, "default", EnqueueParams{Type: "echo"})
	require.NoError(t, err)

	claimed, err := broker.Claim(ctx, "default")
	require.NoError(t, err)

	result := json.RawMessage(`{"echoed":true}`)
	updated, err := broker.AckSuccess(ctx, claimed, result)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStateCompleted, updated.State)
	assert.Equal(t, result, updated.Result)
	assert.Equal(t, 100, updated.Progress)

	job, err := broker.GetJob(ctx, "default", id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
}

func TestReportProgress_Clamps(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()
	ctx := context.Background()

	id, err := broker.Enqueue(ctx, "default", EnqueueParams{Type: "echo"})
	require.NoError(t, err)

	require.NoError(t, broker.ReportProgress(ctx, id, 150))
	job, err := broker.FindJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)

	require.NoError(t, broker.ReportProgress(ctx, id, -5))
	job, err = broker.FindJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, job.Progress)
}

// stubConsumer records Start/Stop calls.
type stubConsumer struct {
	started int
	stopped int
}

func (c *stubConsumer) Start() { c.started++ }
func (c *stubConsumer) Stop()  { c.stopped++ }

func TestRegisterWorker_OncePerQueue(t *testing.T) {
	t.Parallel()

	broker, _ := newTestBroker()

	first := &stubConsumer{}
	second := &stubConsumer{}

	assert.True(t, broker.RegisterWorker("default", first))
	assert.Equal(t, 1, first.started)

	// the second registration is ignored, not an error
	assert.False(t, broker.RegisterWorker("default", second))
	assert.Equal(t, 0, second.started)

	// a different queue name registers independently
	assert.True(t, broker.RegisterWorker("other", second))
	assert.Equal(t, 1, second.started)

	broker.Shutdown()
	assert.Equal(t, 1, first.stopped)
	assert.Equal(t, 1, second.stopped)
}

func TestReclaimExpired_ViaBroker(t *testing.T) {
	t.Parallel()

	store := NewMemoryJobStore()
	broker := NewBroker(store, 5*time.Millisecond, testLogger())
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, "default", EnqueueParams{Type: "echo"})
	require.NoError(t, err)

	claimed, err := broker.Claim(ctx, "default")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	n, err := broker.ReclaimExpired(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := broker.Claim(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, claimed.ID, again.ID)
	assert.Equal(t, claimed.Attempt, again.Attempt, "re-delivery, not a consumed attempt")
}
