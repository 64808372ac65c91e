package intake

import (
	"context"
	stderrors "errors"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
)

// ErrEmpty is returned by Dequeue when no bug arrived before the wait ended
var ErrEmpty = stderrors.New("intake queue is empty")

// Queue is a source of classified bugs
type Queue interface {
	// Enqueue appends a raw payload
	Enqueue(ctx context.Context, payload []byte) error
	// Dequeue waits briefly for the next decodable bug. Malformed payloads
	// are moved to the dead letter list on the way.
	Dequeue(ctx context.Context) (assignment.Bug, error)
	// DeadLetter parks a payload that could not be processed
	DeadLetter(ctx context.Context, payload []byte, reason string) error
	// Depth is the number of pending payloads
	Depth(ctx context.Context) (int64, error)
	Health(ctx context.Context) error
}

// EnqueueBug encodes bug and enqueues it
func EnqueueBug(ctx context.Context, q Queue, bug assignment.Bug) error {
	data, err := Encode(bug)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, data)
}
