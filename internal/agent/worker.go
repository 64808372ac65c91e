package agent

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/internal/intake"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

// DecisionSink receives every decision a worker makes
type DecisionSink interface {
	Deliver(ctx context.Context, decision *Decision) error
}

// LoggingSink writes decisions to the log
type LoggingSink struct {
	logger *logging.Logger
}

// NewLoggingSink creates a sink that logs each decision
func NewLoggingSink(logger *logging.Logger) *LoggingSink {
	return &LoggingSink{logger: logging.OrDefault(logger)}
}

// Deliver logs the decision
func (s *LoggingSink) Deliver(ctx context.Context, d *Decision) error {
	kv := []interface{}{
		"bug_id", d.BugID,
		"agent_id", d.AgentID,
		"outcome", d.Outcome,
		"degraded", d.Degraded,
		"escalated", d.Escalated,
	}
	if d.Result != nil {
		kv = append(kv,
			"developer_id", d.Result.DeveloperID,
			"confidence", d.Result.Confidence,
			"rationale", d.Result.Rationale,
		)
	}
	s.logger.Info("Assignment decision", kv...)
	return nil
}

// WorkerStats are a worker's counters
type WorkerStats struct {
	Processed     int64     `json:"processed"`
	Failed        int64     `json:"failed"`
	DeliveryFails int64     `json:"delivery_failures"`
	StartedAt     time.Time `json:"started_at"`
}

// Worker polls the intake queue and runs each bug through its agent
type Worker struct {
	agent        *Agent
	queue        intake.Queue
	sink         DecisionSink
	pollInterval time.Duration
	logger       *logging.Logger

	processed     atomic.Int64
	failed        atomic.Int64
	deliveryFails atomic.Int64
	startedAt     time.Time
}

// NewWorker creates a worker. pollInterval is the pause after an empty poll
// or a queue error.
func NewWorker(agent *Agent, queue intake.Queue, sink DecisionSink, pollInterval time.Duration, logger *logging.Logger) *Worker {
	logger = logging.OrDefault(logger)
	if sink == nil {
		sink = NewLoggingSink(logger)
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		agent:        agent,
		queue:        queue,
		sink:         sink,
		pollInterval: pollInterval,
		logger:       logger,
		startedAt:    time.Now(),
	}
}

// Run processes bugs until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Assignment worker started", "agent_id", w.agent.ID())
	defer w.logger.Info("Assignment worker stopped", "agent_id", w.agent.ID())

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Warn("Intake poll failed", "agent_id", w.agent.ID(), "error", err)
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessNext handles at most one bug. processed is false when the queue was
// empty or could not be read.
func (w *Worker) ProcessNext(ctx context.Context) (processed bool, err error) {
	bug, err := w.queue.Dequeue(ctx)
	if err != nil {
		if stderrors.Is(err, intake.ErrEmpty) {
			return false, nil
		}
		return false, err
	}

	w.processed.Add(1)
	decision, err := w.agent.Assign(ctx, bug)
	if err != nil {
		w.failed.Add(1)
		if payload, encErr := intake.Encode(bug); encErr == nil {
			if dlErr := w.queue.DeadLetter(ctx, payload, "assignment failed: "+err.Error()); dlErr != nil {
				w.logger.Error("Failed to dead letter bug", "bug_id", bug.ID, "error", dlErr)
			}
		}
		return true, nil
	}

	if err := w.sink.Deliver(ctx, decision); err != nil {
		w.deliveryFails.Add(1)
		w.logger.Error("Failed to deliver decision", "bug_id", bug.ID, "error", err)
	}
	return true, nil
}

// Stats returns the worker counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Processed:     w.processed.Load(),
		Failed:        w.failed.Load(),
		DeliveryFails: w.deliveryFails.Load(),
		StartedAt:     w.startedAt,
	}
}
