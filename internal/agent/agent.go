// Package agent runs assignment decisions under the resilience framework:
// snapshot loads are retried, repeated failures degrade the agent to a
// round-robin fallback, and undecidable bugs are escalated for manual
// assignment.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/internal/store"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/resilience"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/tracing"
)

// Outcome is how an assignment request ended
type Outcome string

const (
	OutcomeAssigned   Outcome = "assigned"
	OutcomeNoDecision Outcome = "no_decision"
	OutcomeFallback   Outcome = "fallback"
	OutcomeFailed     Outcome = "failed"
)

// Decision is the result of one Assign call
type Decision struct {
	BugID         string             `json:"bug_id"`
	AgentID       string             `json:"agent_id"`
	CorrelationID string             `json:"correlation_id"`
	Outcome       Outcome            `json:"outcome"`
	Result        *assignment.Result `json:"result,omitempty"`
	Degraded      bool               `json:"degraded"`
	Strategy      string             `json:"strategy,omitempty"`
	Escalated     bool               `json:"escalated"`
	DecidedAt     time.Time          `json:"decided_at"`
}

// Recorder receives assignment metrics. *metrics.Metrics implements it.
type Recorder interface {
	RecordAssignment(outcome string, total, confidence float64, picked bool)
	RecordEscalation()
	RecordRetry(operation string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAssignment(string, float64, float64, bool) {}
func (nopRecorder) RecordEscalation()                              {}
func (nopRecorder) RecordRetry(string)                             {}

// Config holds per-agent settings
type Config struct {
	ID                     string
	HealthCheckInterval    time.Duration
	MaxConsecutiveFailures int
	EscalateToManual       bool
}

// Stats are the agent's counters since start or the last restart
type Stats struct {
	AgentID             string    `json:"agent_id"`
	Processed           int64     `json:"processed"`
	Assigned            int64     `json:"assigned"`
	NoDecision          int64     `json:"no_decision"`
	Fallback            int64     `json:"fallback"`
	Failed              int64     `json:"failed"`
	Escalations         int64     `json:"escalations"`
	Retries             int64     `json:"retries"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Degraded            bool      `json:"degraded"`
	Healthy             bool      `json:"healthy"`
	LastHealthCheck     time.Time `json:"last_health_check"`
	StartedAt           time.Time `json:"started_at"`
	Restarts            int       `json:"restarts"`
}

// Agent makes assignment decisions for one worker
type Agent struct {
	config     Config
	component  string
	algorithm  *assignment.Algorithm
	source     store.SnapshotSource
	roundRobin *assignment.RoundRobin
	guard      *resilience.Guard[assignment.Bug, *Decision]
	retrier    *resilience.Retrier
	dm         *resilience.DegradationManager
	alerter    resilience.Alerter
	recorder   Recorder
	tracer     *tracing.TracingService
	logger     *logging.Logger
	now        func() time.Time

	mutex           sync.Mutex
	stats           Stats
	cached          *store.Snapshot
	lastHealthCheck time.Time
	healthy         bool
}

// Option configures an Agent
type Option func(*Agent)

// WithAlerter routes manual assignment escalations to a
func WithAlerter(a resilience.Alerter) Option {
	return func(ag *Agent) { ag.alerter = a }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(ag *Agent) {
		if r != nil {
			ag.recorder = r
		}
	}
}

// WithTracer sets the tracing service
func WithTracer(t *tracing.TracingService) Option {
	return func(ag *Agent) {
		if t != nil {
			ag.tracer = t
		}
	}
}

// WithClock replaces the agent clock
func WithClock(now func() time.Time) Option {
	return func(ag *Agent) { ag.now = now }
}

// New creates an agent. The round-robin fallback is registered with dm
// under the agent's component name.
func New(config Config, algorithm *assignment.Algorithm, source store.SnapshotSource, dm *resilience.DegradationManager, retrier *resilience.Retrier, logger *logging.Logger, opts ...Option) (*Agent, error) {
	if config.ID == "" {
		return nil, errors.NewValidationError("agent id is required")
	}
	if algorithm == nil || source == nil || dm == nil {
		return nil, errors.NewValidationError("agent needs an algorithm, a snapshot source and a degradation manager")
	}
	if retrier == nil {
		retrier = resilience.NewRetrier(resilience.DefaultRetryConfig())
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = dm.Threshold()
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = time.Minute
	}

	a := &Agent{
		config:     config,
		component:  resilience.AgentComponent(config.ID),
		algorithm:  algorithm,
		source:     source,
		roundRobin: assignment.NewRoundRobin(),
		retrier:    retrier,
		dm:         dm,
		recorder:   nopRecorder{},
		tracer:     tracing.Noop(),
		logger:     logging.OrDefault(logger),
		now:        time.Now,
		healthy:    true,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.stats.AgentID = config.ID
	a.stats.StartedAt = a.now()
	a.guard = resilience.NewGuard[assignment.Bug, *Decision](dm, a.component, a.fallback)

	return a, nil
}

// ID returns the agent id
func (a *Agent) ID() string {
	return a.config.ID
}

// Component returns the agent's resilience component name
func (a *Agent) Component() string {
	return a.component
}

// Assign decides who should own bug. An error means neither the primary path
// nor the fallback produced a decision; a decision with OutcomeNoDecision
// means no developer cleared the confidence gate.
func (a *Agent) Assign(ctx context.Context, bug assignment.Bug) (*Decision, error) {
	correlationID := logging.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}
	ctx = logging.WithAgentID(logging.WithBugID(ctx, bug.ID), a.config.ID)

	ctx, span := a.tracer.StartAssignmentSpan(ctx, a.config.ID, bug.ID)
	defer span.End()

	a.periodicHealthCheck(ctx)

	decision, _, err := a.guard.Execute(ctx, bug, a.primary)
	if err != nil {
		a.tracer.RecordError(span, err)
		a.record(OutcomeFailed, nil)
		a.logger.LogError(ctx, err, "Assignment failed", logrus.Fields{"bug_id": bug.ID})
		return nil, err
	}

	decision.AgentID = a.config.ID
	decision.CorrelationID = correlationID

	if decision.Outcome == OutcomeNoDecision && a.config.EscalateToManual {
		decision.Escalated = a.escalate(ctx, bug)
	}
	a.record(decision.Outcome, decision.Result)

	developerID := ""
	fields := logrus.Fields{"outcome": decision.Outcome, "degraded": decision.Degraded}
	if decision.Result != nil {
		developerID = decision.Result.DeveloperID
		fields["confidence"] = decision.Result.Confidence
		fields["strategy"] = decision.Result.Strategy
	}
	a.logger.LogAssignmentEvent(ctx, string(decision.Outcome), bug.ID, developerID, fields)

	return decision, nil
}

// primary loads a snapshot with retries and runs the scoring algorithm
func (a *Agent) primary(ctx context.Context, bug assignment.Bug) (*Decision, error) {
	snapshot, err := a.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		BugID:     bug.ID,
		Outcome:   OutcomeNoDecision,
		Strategy:  assignment.StrategyScored,
		DecidedAt: a.now(),
	}
	if result, ok := a.algorithm.FindBestDeveloper(bug, snapshot.Developers, snapshot.Statuses, snapshot.Feedback); ok {
		decision.Outcome = OutcomeAssigned
		decision.Result = result
	}
	return decision, nil
}

// fallback picks round-robin from the last good snapshot, or a fresh one
// when nothing is cached yet
func (a *Agent) fallback(ctx context.Context, bug assignment.Bug) (*Decision, error) {
	snapshot := a.cachedSnapshot()
	if snapshot == nil {
		var err error
		if snapshot, err = a.source.Snapshot(ctx); err != nil {
			return nil, err
		}
	}

	result, err := a.roundRobin.Pick(bug, snapshot.Developers, snapshot.Statuses)
	if err != nil {
		return nil, err
	}

	return &Decision{
		BugID:     bug.ID,
		Outcome:   OutcomeFallback,
		Result:    result,
		Degraded:  true,
		Strategy:  result.Strategy,
		DecidedAt: a.now(),
	}, nil
}

func (a *Agent) loadSnapshot(ctx context.Context) (*store.Snapshot, error) {
	attempt := 0
	snapshot, err := resilience.ExecuteWithResult(ctx, a.retrier, func(ctx context.Context) (*store.Snapshot, error) {
		attempt++
		if attempt > 1 {
			a.recorder.RecordRetry("snapshot_load")
			a.mutex.Lock()
			a.stats.Retries++
			a.mutex.Unlock()
		}
		return a.source.Snapshot(ctx)
	})
	if err != nil {
		return nil, err
	}

	a.mutex.Lock()
	a.cached = snapshot.Clone()
	a.mutex.Unlock()
	return snapshot, nil
}

func (a *Agent) cachedSnapshot() *store.Snapshot {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.cached.Clone()
}

func (a *Agent) escalate(ctx context.Context, bug assignment.Bug) bool {
	a.recorder.RecordEscalation()
	a.mutex.Lock()
	a.stats.Escalations++
	a.mutex.Unlock()

	if a.alerter == nil {
		return false
	}

	alert := resilience.Alert{
		Kind:     resilience.KindManualAssignment,
		Severity: resilience.SeverityWarning,
		Title:    fmt.Sprintf("Manual assignment required for bug %s", bug.ID),
		Description: fmt.Sprintf("No developer cleared the confidence threshold for %s/%s bug %s",
			bug.Severity, bug.Category, bug.ID),
		Source: a.component,
		Tags: map[string]string{
			"bug_id":   bug.ID,
			"category": string(bug.Category),
			"severity": string(bug.Severity),
		},
	}
	if err := a.alerter.SendAlert(ctx, alert); err != nil {
		a.logger.Warn("Manual assignment alert not delivered", "bug_id", bug.ID, "error", err)
		return false
	}
	return true
}

func (a *Agent) record(outcome Outcome, result *assignment.Result) {
	a.mutex.Lock()
	a.stats.Processed++
	switch outcome {
	case OutcomeAssigned:
		a.stats.Assigned++
	case OutcomeNoDecision:
		a.stats.NoDecision++
	case OutcomeFallback:
		a.stats.Fallback++
	case OutcomeFailed:
		a.stats.Failed++
	}
	a.mutex.Unlock()

	if result == nil {
		a.recorder.RecordAssignment(string(outcome), 0, 0, false)
		return
	}
	total := 0.0
	if len(result.Scores) > 0 {
		total = result.Scores[0].Total
		for _, s := range result.Scores {
			if s.DeveloperID == result.DeveloperID {
				total = s.Total
				break
			}
		}
	}
	a.recorder.RecordAssignment(string(outcome), total, result.Confidence, true)
}

// HealthCheck reports the agent healthy while its consecutive failures stay
// below the configured maximum
func (a *Agent) HealthCheck(ctx context.Context) error {
	failures := 0
	if state, ok := a.dm.State(a.component); ok {
		failures = state.ConsecutiveFailures
	}
	healthy := failures < a.config.MaxConsecutiveFailures

	a.mutex.Lock()
	a.lastHealthCheck = a.now()
	a.healthy = healthy
	a.mutex.Unlock()

	if !healthy {
		return errors.NewUnavailableError(a.component,
			fmt.Sprintf("%d consecutive assignment failures", failures))
	}
	return nil
}

func (a *Agent) periodicHealthCheck(ctx context.Context) {
	a.mutex.Lock()
	due := a.now().Sub(a.lastHealthCheck) >= a.config.HealthCheckInterval
	a.mutex.Unlock()
	if !due {
		return
	}

	if err := a.HealthCheck(ctx); err != nil {
		a.logger.Warn("Agent health check failed", "agent_id", a.config.ID, "error", err)
		a.dm.MarkDegraded(ctx, a.component, err.Error())
	}
}

// Stats returns a copy of the agent counters
func (a *Agent) Stats() Stats {
	a.mutex.Lock()
	stats := a.stats
	stats.Healthy = a.healthy
	stats.LastHealthCheck = a.lastHealthCheck
	a.mutex.Unlock()

	if state, ok := a.dm.State(a.component); ok {
		stats.ConsecutiveFailures = state.ConsecutiveFailures
		stats.Degraded = state.Degraded
	}
	return stats
}

// Restart drops cached state and resets the counters, including the
// consecutive failure count. It is the agent's restart_agent recovery action.
func (a *Agent) Restart(ctx context.Context) error {
	a.dm.Restore(a.component)

	a.mutex.Lock()
	restarts := a.stats.Restarts + 1
	a.stats = Stats{AgentID: a.config.ID, StartedAt: a.now(), Restarts: restarts}
	a.cached = nil
	a.lastHealthCheck = time.Time{}
	a.healthy = true
	a.mutex.Unlock()

	a.logger.Info("Agent restarted", "agent_id", a.config.ID, "restarts", restarts)
	return nil
}

// ResetConnection verifies the snapshot source is reachable
func (a *Agent) ResetConnection(ctx context.Context) error {
	if err := a.source.Health(ctx); err != nil {
		return errors.NewExternalError("snapshot source", "snapshot source unreachable").WithCause(err)
	}
	return nil
}

// ClearCache drops the cached snapshot used by the fallback
func (a *Agent) ClearCache(ctx context.Context) error {
	a.mutex.Lock()
	a.cached = nil
	a.mutex.Unlock()
	return nil
}

// RegisterRecovery registers the agent's recovery actions with registry
func (a *Agent) RegisterRecovery(registry *resilience.ActionRegistry) {
	registry.RegisterFor(a.component, resilience.ActionRestartAgent, a.Restart)
	registry.RegisterFor(a.component, resilience.ActionResetConnection, a.ResetConnection)
	registry.RegisterFor(a.component, resilience.ActionClearCache, a.ClearCache)
}
