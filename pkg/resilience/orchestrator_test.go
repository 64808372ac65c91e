package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
)

// callLog records the order in which recovery actions run
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) action(name string, err error) ActionFunc {
	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls = append(l.calls, name)
		return err
	}
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func TestOrchestrator_RunsStepsInOrder(t *testing.T) {
	log := &callLog{}
	orch := NewOrchestrator(nil, nil)

	require.NoError(t, orch.RegisterProcedure(Procedure{
		Component: "database",
		Steps: []RecoveryStep{
			{Action: ActionResetConnection, Run: log.action("reset", nil)},
			{Action: ActionClearCache, Run: log.action("clear", nil), Optional: true},
		},
	}))

	record, err := orch.Run(context.Background(), "database")
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Equal(t, []string{"reset", "clear"}, log.get())
	require.Len(t, record.Steps, 2)
	assert.Equal(t, 1, record.Steps[0].Number)
	assert.Equal(t, ActionClearCache, record.Steps[1].Action)
}

func TestOrchestrator_RequiredFailureRollsBackInReverse(t *testing.T) {
	log := &callLog{}
	orch := NewOrchestrator(nil, nil)

	require.NoError(t, orch.RegisterProcedure(Procedure{
		Component: "agent_1",
		Steps: []RecoveryStep{
			{Action: ActionRestartAgent, Run: log.action("restart", nil), Rollback: log.action("undo-restart", nil)},
			{Action: ActionClearCache, Run: log.action("clear", nil)},
			{Action: ActionFailover, Run: log.action("failover", nil), Rollback: log.action("undo-failover", nil)},
			{Action: ActionResetConnection, Run: log.action("reset", errors.New("refused")), Rollback: log.action("undo-reset", nil)},
			{Action: ActionScaleUp, Run: log.action("scale", nil)},
		},
	}))

	record, err := orch.Run(context.Background(), "agent_1")
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeInternal))
	assert.False(t, record.Success)
	assert.True(t, record.RolledBack)

	// the failed step is not rolled back, steps without rollback are skipped
	assert.Equal(t, []string{"restart", "clear", "failover", "reset", "undo-failover", "undo-restart"}, log.get())
	require.Len(t, record.Steps, 4)
	assert.True(t, record.Steps[0].RolledBack)
	assert.False(t, record.Steps[1].RolledBack)
	assert.True(t, record.Steps[2].RolledBack)
	assert.Equal(t, "refused", record.Steps[3].Error)
}

func TestOrchestrator_OptionalFailureContinues(t *testing.T) {
	log := &callLog{}
	orch := NewOrchestrator(nil, nil)

	require.NoError(t, orch.RegisterProcedure(Procedure{
		Component: "status_store",
		Steps: []RecoveryStep{
			{Action: ActionClearCache, Run: log.action("purge", errors.New("no dead letters")), Optional: true},
			{Action: ActionResetConnection, Run: log.action("reset", nil)},
		},
	}))

	record, err := orch.Run(context.Background(), "status_store")
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.False(t, record.Steps[0].Success)
	assert.Equal(t, []string{"purge", "reset"}, log.get())
}

func TestOrchestrator_StepTimeout(t *testing.T) {
	orch := NewOrchestrator(nil, nil)

	block := make(chan struct{})
	defer close(block)

	require.NoError(t, orch.RegisterProcedure(Procedure{
		Component: "intake",
		Steps: []RecoveryStep{
			{
				Action:  ActionResetConnection,
				Timeout: 20 * time.Millisecond,
				// ignores its context on purpose
				Run: func(ctx context.Context) error {
					<-block
					return nil
				},
			},
		},
	}))

	start := time.Now()
	record, err := orch.Run(context.Background(), "intake")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, record.Steps[0].Error, "timed out")
}

func TestOrchestrator_OverallBudget(t *testing.T) {
	log := &callLog{}
	orch := NewOrchestrator(nil, nil)

	wait := func(d time.Duration) ActionFunc {
		return func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		}
	}

	require.NoError(t, orch.RegisterProcedure(Procedure{
		Component:        "database",
		MaxExecutionTime: 100 * time.Millisecond,
		Steps: []RecoveryStep{
			{Action: ActionResetConnection, Timeout: time.Second, Run: wait(10 * time.Millisecond), Rollback: log.action("undo-1", nil)},
			{Action: ActionClearCache, Timeout: time.Second, Run: wait(5 * time.Second), Optional: true},
			{Action: ActionRestartService, Timeout: time.Second, Run: log.action("never", nil)},
		},
	}))

	record, err := orch.Run(context.Background(), "database")
	require.Error(t, err)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeTimeout))
	assert.False(t, record.Success)
	assert.NotContains(t, log.get(), "never")
	assert.Contains(t, log.get(), "undo-1")
}

func TestOrchestrator_PanicIsStepFailure(t *testing.T) {
	orch := NewOrchestrator(nil, nil)
	require.NoError(t, orch.RegisterProcedure(Procedure{
		Component: "agent_2",
		Steps: []RecoveryStep{
			{Action: ActionRestartAgent, Run: func(ctx context.Context) error { panic("boom") }},
		},
	}))

	record, err := orch.Run(context.Background(), "agent_2")
	require.Error(t, err)
	assert.Contains(t, record.Steps[0].Error, "panicked")
}

func TestOrchestrator_PrerequisitesAndPostChecks(t *testing.T) {
	checker := health.NewService(nil, nil)
	var redisErr error
	checker.RegisterFunc("redis", func(ctx context.Context) error { return redisErr })

	log := &callLog{}
	orch := NewOrchestrator(checker, nil)
	require.NoError(t, orch.RegisterProcedure(Procedure{
		Component:     "intake",
		Prerequisites: []string{"redis"},
		PostChecks:    []string{"redis"},
		Steps:         []RecoveryStep{{Action: ActionResetConnection, Run: log.action("reset", nil)}},
	}))

	redisErr = errors.New("connection refused")
	record, err := orch.Run(context.Background(), "intake")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prerequisite redis")
	assert.Empty(t, record.Steps)
	assert.Empty(t, log.get())

	redisErr = nil
	record, err = orch.Run(context.Background(), "intake")
	require.NoError(t, err)
	assert.True(t, record.Success)
}

func TestOrchestrator_UnknownComponent(t *testing.T) {
	orch := NewOrchestrator(nil, nil)
	_, err := orch.Run(context.Background(), "missing")
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeNotFound))
}

func TestOrchestrator_RejectsInvalidProcedures(t *testing.T) {
	orch := NewOrchestrator(nil, nil)

	assert.Error(t, orch.RegisterProcedure(Procedure{Component: "x"}))
	assert.Error(t, orch.RegisterProcedure(Procedure{Steps: []RecoveryStep{{Run: func(context.Context) error { return nil }}}}))
	assert.Error(t, orch.RegisterProcedure(Procedure{Component: "x", Steps: []RecoveryStep{{Action: ActionFailover}}}))
	assert.Empty(t, orch.Procedures())
}
