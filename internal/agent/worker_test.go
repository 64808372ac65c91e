package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/smart-bug-triage/internal/intake"
	appErrors "github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

type captureSink struct {
	mu        sync.Mutex
	decisions []*Decision
}

func (s *captureSink) Deliver(ctx context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.decisions)
}

func TestWorker_ProcessNext(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	queue := intake.NewMemoryQueue(8, 10*time.Millisecond)
	sink := &captureSink{}
	worker := NewWorker(f.agent, queue, sink, time.Millisecond, nil)

	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "empty queue")

	require.NoError(t, intake.EnqueueBug(ctx, queue, backendBug))
	processed, err = worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "dev-a", sink.decisions[0].Result.DeveloperID)

	stats := worker.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.False(t, stats.StartedAt.IsZero())
}

func TestWorker_DeadLettersFailedAssignments(t *testing.T) {
	f := newFixture(t, true)
	f.store.SetFailure(appErrors.NewConfigError("bad credentials"))

	ctx := context.Background()
	queue := intake.NewMemoryQueue(8, 10*time.Millisecond)
	sink := &captureSink{}
	worker := NewWorker(f.agent, queue, sink, time.Millisecond, nil)

	require.NoError(t, intake.EnqueueBug(ctx, queue, backendBug))
	processed, err := worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 0, sink.count())

	letters := queue.DeadLetters()
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Reason, "assignment failed")
	assert.Contains(t, letters[0].Payload, `"bug_id":"bug-42"`)
	assert.Equal(t, int64(1), worker.Stats().Failed)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, true)
	queue := intake.NewMemoryQueue(8, 5*time.Millisecond)
	sink := &captureSink{}
	worker := NewWorker(f.agent, queue, sink, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, intake.EnqueueBug(ctx, queue, backendBug))

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
