package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/internal/store"
	appErrors "github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/resilience"
)

var agentNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type alertCapture struct {
	mu     sync.Mutex
	alerts []resilience.Alert
}

func (c *alertCapture) SendAlert(ctx context.Context, alert resilience.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

func (c *alertCapture) received() []resilience.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]resilience.Alert(nil), c.alerts...)
}

type recorderStub struct {
	mu          sync.Mutex
	outcomes    []string
	escalations int
	retries     int
}

func (r *recorderStub) RecordAssignment(outcome string, total, confidence float64, picked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorderStub) RecordEscalation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations++
}

func (r *recorderStub) RecordRetry(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

type fixture struct {
	store    *store.MemoryStore
	dm       *resilience.DegradationManager
	agent    *Agent
	alerts   *alertCapture
	recorder *recorderStub
}

var backendBug = assignment.Bug{
	ID:       "bug-42",
	Category: assignment.CategoryBackend,
	Severity: assignment.SeverityCritical,
	Keywords: []string{"database", "timeout"},
}

func newFixture(t *testing.T, withFeedback bool) *fixture {
	t.Helper()

	f := &fixture{
		store:    store.NewMemoryStore(),
		dm:       resilience.NewDegradationManager(3, nil),
		alerts:   &alertCapture{},
		recorder: &recorderStub{},
	}

	require.NoError(t, f.store.UpsertDeveloper(context.Background(), assignment.Developer{
		ID: "dev-a", Name: "Dev A", Skills: []string{"Python", "Backend", "Database"},
		Experience: assignment.Senior, MaxCapacity: 5,
	}))
	require.NoError(t, f.store.UpsertDeveloper(context.Background(), assignment.Developer{
		ID: "dev-b", Name: "Dev B", Skills: []string{"JavaScript", "Frontend"},
		Experience: assignment.Senior, MaxCapacity: 5,
	}))
	for _, id := range []string{"dev-a", "dev-b"} {
		require.NoError(t, f.store.SetStatus(context.Background(), assignment.Status{
			DeveloperID: id, CurrentWorkload: 1, Availability: assignment.Available, CalendarFree: true,
		}))
	}
	if withFeedback {
		for i := 0; i < 10; i++ {
			require.NoError(t, f.store.AddFeedback(assignment.Feedback{DeveloperID: "dev-a", Rating: 5, Timestamp: agentNow}))
		}
	}

	algorithm, err := assignment.NewAlgorithm(assignment.DefaultConfig(),
		assignment.WithClock(func() time.Time { return agentNow }))
	require.NoError(t, err)

	retrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
	})

	f.agent, err = New(Config{ID: "a1", EscalateToManual: true}, algorithm, f.store, f.dm, retrier, nil,
		WithAlerter(f.alerts),
		WithRecorder(f.recorder),
		WithClock(func() time.Time { return agentNow }),
	)
	require.NoError(t, err)
	return f
}

func TestAssign_PicksBestDeveloper(t *testing.T) {
	f := newFixture(t, true)

	decision, err := f.agent.Assign(context.Background(), backendBug)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, decision.Outcome)
	require.NotNil(t, decision.Result)
	assert.Equal(t, "dev-a", decision.Result.DeveloperID)
	assert.False(t, decision.Degraded)
	assert.Equal(t, assignment.StrategyScored, decision.Strategy)
	assert.Equal(t, "a1", decision.AgentID)
	assert.NotEmpty(t, decision.CorrelationID)
	assert.Equal(t, agentNow, decision.DecidedAt)

	stats := f.agent.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Assigned)
	assert.True(t, stats.Healthy)
	assert.Equal(t, []string{"assigned"}, f.recorder.outcomes)
}

func TestAssign_NoDecisionEscalates(t *testing.T) {
	f := newFixture(t, false)

	decision, err := f.agent.Assign(context.Background(), backendBug)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoDecision, decision.Outcome)
	assert.Nil(t, decision.Result)
	assert.True(t, decision.Escalated)

	alerts := f.alerts.received()
	require.Len(t, alerts, 1)
	assert.Equal(t, resilience.KindManualAssignment, alerts[0].Kind)
	assert.Equal(t, "bug-42", alerts[0].Tags["bug_id"])

	stats := f.agent.Stats()
	assert.Equal(t, int64(1), stats.NoDecision)
	assert.Equal(t, int64(1), stats.Escalations)
	assert.Equal(t, 1, f.recorder.escalations)

	// a no-decision is still a success for degradation bookkeeping
	state, ok := f.dm.State(f.agent.Component())
	require.True(t, ok)
	assert.Equal(t, 0, state.ConsecutiveFailures)
}

func TestAssign_NoEscalationWhenDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.agent.config.EscalateToManual = false

	decision, err := f.agent.Assign(context.Background(), backendBug)
	require.NoError(t, err)
	assert.False(t, decision.Escalated)
	assert.Empty(t, f.alerts.received())
}

func TestAssign_DegradesToRoundRobin(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// prime the snapshot cache
	_, err := f.agent.Assign(ctx, backendBug)
	require.NoError(t, err)

	outage := errors.New("read: connection reset by peer")
	f.store.SetFailure(outage)

	for i := 0; i < 3; i++ {
		_, err := f.agent.Assign(ctx, backendBug)
		require.Error(t, err)
		assert.ErrorIs(t, err, outage)
	}
	assert.True(t, f.dm.IsDegraded(f.agent.Component()))
	assert.Equal(t, 3, f.recorder.retries, "one retry per failed assignment")
	assert.Error(t, f.agent.HealthCheck(ctx))

	decision, err := f.agent.Assign(ctx, backendBug)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, decision.Outcome)
	assert.True(t, decision.Degraded)
	assert.Equal(t, assignment.StrategyRoundRobin, decision.Strategy)
	assert.Equal(t, assignment.FallbackConfidence, decision.Result.Confidence)

	stats := f.agent.Stats()
	assert.Equal(t, int64(3), stats.Failed)
	assert.Equal(t, int64(1), stats.Fallback)
	assert.True(t, stats.Degraded)
	assert.False(t, stats.Healthy)

	// without a cached snapshot the fallback has nothing to work with
	require.NoError(t, f.agent.ClearCache(ctx))
	_, err = f.agent.Assign(ctx, backendBug)
	assert.Error(t, err)
}

func TestAssign_TerminalErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t, true)
	f.store.SetFailure(appErrors.NewConfigError("bad credentials"))

	_, err := f.agent.Assign(context.Background(), backendBug)
	require.Error(t, err)
	assert.Equal(t, 0, f.recorder.retries)
}

func TestRecovery_RestoresDegradedAgent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	checker := health.NewService(nil, nil)
	checker.RegisterFunc(f.agent.Component(), f.agent.HealthCheck)

	registry := resilience.NewActionRegistry(nil)
	f.agent.RegisterRecovery(registry)
	for _, action := range []resilience.RecoveryAction{
		resilience.ActionRestartAgent, resilience.ActionResetConnection, resilience.ActionClearCache,
	} {
		_, ok := registry.Lookup(resilience.HandlerName(f.agent.Component(), action))
		assert.True(t, ok, action)
	}

	orchestrator := resilience.NewOrchestrator(checker, nil)
	require.NoError(t, orchestrator.RegisterDefinitions(registry, resilience.AgentProcedure("a1")))
	recovery := resilience.NewRecoveryManager(orchestrator, checker, f.dm,
		resilience.RecoveryConfig{MaxAttempts: 3, Window: time.Minute}, nil)

	f.store.SetFailure(errors.New("service unavailable"))
	for i := 0; i < 3; i++ {
		_, _ = f.agent.Assign(ctx, backendBug)
	}
	require.True(t, f.dm.IsDegraded(f.agent.Component()))

	// recovery fails while the source is still down
	record, err := recovery.Recover(ctx, f.agent.Component())
	require.Error(t, err)
	assert.False(t, record.Success)

	f.store.SetFailure(nil)
	record, err = recovery.Recover(ctx, f.agent.Component())
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.False(t, f.dm.IsDegraded(f.agent.Component()))

	stats := f.agent.Stats()
	assert.Equal(t, 2, stats.Restarts)
	assert.Equal(t, int64(0), stats.Processed)

	decision, err := f.agent.Assign(ctx, backendBug)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, decision.Outcome)
}

func TestNew_Validation(t *testing.T) {
	algorithm, err := assignment.NewAlgorithm(assignment.DefaultConfig())
	require.NoError(t, err)
	dm := resilience.NewDegradationManager(3, nil)

	_, err = New(Config{}, algorithm, store.NewMemoryStore(), dm, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{ID: "x"}, nil, store.NewMemoryStore(), dm, nil, nil)
	assert.Error(t, err)

	a, err := New(Config{ID: "x"}, algorithm, store.NewMemoryStore(), dm, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "agent_x", a.Component())
	assert.Equal(t, 3, a.config.MaxConsecutiveFailures)
}
