package intake

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// MemoryQueue is a bounded in-process queue for tests and local runs
type MemoryQueue struct {
	items chan []byte
	wait  time.Duration

	mutex       sync.Mutex
	deadLetters []DeadLetter
}

// NewMemoryQueue creates a queue holding up to capacity payloads. Dequeue
// waits at most wait for an item.
func NewMemoryQueue(capacity int, wait time.Duration) *MemoryQueue {
	if capacity <= 0 {
		capacity = 100
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &MemoryQueue{
		items: make(chan []byte, capacity),
		wait:  wait,
	}
}

// Enqueue appends a payload, failing when the queue is full
func (q *MemoryQueue) Enqueue(ctx context.Context, payload []byte) error {
	data := append([]byte(nil), payload...)
	select {
	case q.items <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.NewUnavailableError("intake", "memory queue is full")
	}
}

// Dequeue returns the next decodable bug
func (q *MemoryQueue) Dequeue(ctx context.Context) (assignment.Bug, error) {
	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	for {
		select {
		case data := <-q.items:
			bug, err := Decode(data)
			if err != nil {
				q.DeadLetter(ctx, data, err.Error())
				continue
			}
			return bug, nil
		case <-timer.C:
			return assignment.Bug{}, ErrEmpty
		case <-ctx.Done():
			return assignment.Bug{}, ctx.Err()
		}
	}
}

// DeadLetter records a payload that could not be processed
func (q *MemoryQueue) DeadLetter(ctx context.Context, payload []byte, reason string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.deadLetters = append(q.deadLetters, DeadLetter{
		Payload:  string(payload),
		Reason:   reason,
		FailedAt: time.Now(),
	})
	return nil
}

// DeadLetters returns a copy of the dead letter list
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]DeadLetter(nil), q.deadLetters...)
}

// PurgeDeadLetters empties the dead letter list and returns how many were dropped
func (q *MemoryQueue) PurgeDeadLetters(ctx context.Context) (int64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	n := int64(len(q.deadLetters))
	q.deadLetters = nil
	return n, nil
}

// Depth returns the number of pending payloads
func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	return int64(len(q.items)), nil
}

// Health always succeeds
func (q *MemoryQueue) Health(ctx context.Context) error {
	return nil
}
