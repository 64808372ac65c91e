package resilience

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

const proceduresYAML = `
procedures:
  - component: database
    description: Recover database connectivity
    max_execution_time: 2m
    prerequisites: [redis]
    steps:
      - action: reset_connection
        description: Reset database connections
        timeout: 15s
        rollback: database.restore_pool
      - action: clear_cache
        description: Clear query cache
        optional: true
      - action: manual_intervention
        description: Page the on-call DBA
`

func TestParseProcedures(t *testing.T) {
	defs, err := ParseProcedures([]byte(proceduresYAML))
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "database", def.Component)
	assert.Equal(t, 2*time.Minute, def.MaxExecutionTime)
	assert.Equal(t, []string{"redis"}, def.Prerequisites)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, ActionResetConnection, def.Steps[0].Action)
	assert.Equal(t, 15*time.Second, def.Steps[0].Timeout)
	assert.Equal(t, "database.restore_pool", def.Steps[0].Rollback)
	assert.True(t, def.Steps[1].Optional)
}

func TestParseProcedures_Invalid(t *testing.T) {
	_, err := ParseProcedures([]byte("procedures: [{description: x, steps: [{action: failover}]}]"))
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfig))

	_, err = ParseProcedures([]byte("procedures:\n  - component: intake\n"))
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfig))

	_, err = ParseProcedures([]byte("procedures: ["))
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeConfig))
}

func TestLoadProcedures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procedures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(proceduresYAML), 0o600))

	defs, err := LoadProcedures(path)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = LoadProcedures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestActionRegistry_Build(t *testing.T) {
	log := &callLog{}
	registry := NewActionRegistry(nil)
	registry.RegisterFor("database", ActionResetConnection, log.action("reset", nil))
	registry.Register("database.restore_pool", log.action("restore", nil))

	alerts := &mockAlertHandler{name: "test"}
	am := NewAlertManager(nil)
	am.AddHandler(alerts)
	registry.SetAlerter(am)

	defs, err := ParseProcedures([]byte(proceduresYAML))
	require.NoError(t, err)

	p, err := registry.Build(defs[0])
	require.NoError(t, err)

	// the optional clear_cache step has no handler and is dropped
	require.Len(t, p.Steps, 2)
	assert.Equal(t, ActionResetConnection, p.Steps[0].Action)
	assert.NotNil(t, p.Steps[0].Rollback)
	assert.Equal(t, ActionManualIntervention, p.Steps[1].Action)

	require.NoError(t, p.Steps[1].Run(context.Background()))
	require.Len(t, alerts.received(), 1)
	assert.Equal(t, KindManualIntervention, alerts.received()[0].Kind)
}

func TestActionRegistry_BuildMissingRequiredHandler(t *testing.T) {
	registry := NewActionRegistry(nil)

	_, err := registry.Build(IntakeProcedure())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intake.reset_connection")

	registry.RegisterFor(ComponentIntake, ActionResetConnection, func(ctx context.Context) error { return nil })
	def := IntakeProcedure()
	def.Steps[0].Rollback = "intake.unknown"
	_, err = registry.Build(def)
	assert.Error(t, err)
}

func TestOrchestrator_RegisterDefinitions(t *testing.T) {
	log := &callLog{}
	registry := NewActionRegistry(nil)
	registry.RegisterFor(AgentComponent("a1"), ActionRestartAgent, log.action("restart", nil))
	registry.RegisterFor(AgentComponent("a1"), ActionResetConnection, log.action("reset", nil))
	registry.RegisterFor(AgentComponent("a1"), ActionClearCache, log.action("clear", errors.New("empty")))
	registry.RegisterFor(ComponentStatusStore, ActionResetConnection, log.action("status-reset", nil))

	orch := NewOrchestrator(nil, nil)
	require.NoError(t, orch.RegisterDefinitions(registry, AgentProcedure("a1"), StatusStoreProcedure()))
	assert.Equal(t, []string{"agent_a1", "status_store"}, orch.Procedures())

	record, err := orch.Run(context.Background(), "agent_a1")
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Equal(t, []string{"restart", "reset", "clear"}, log.get())

	assert.Error(t, orch.RegisterDefinitions(registry, DatabaseProcedure()))
}

func TestStandardProcedures(t *testing.T) {
	for _, def := range []ProcedureDefinition{DatabaseProcedure(), StatusStoreProcedure(), IntakeProcedure(), AgentProcedure("x")} {
		assert.NotEmpty(t, def.Component)
		require.NotEmpty(t, def.Steps)
		assert.False(t, def.Steps[0].Optional, "%s starts with a required step", def.Component)
	}
	assert.Equal(t, "agent_x", AgentProcedure("x").Component)
}
