package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mock alert handler for testing
type mockAlertHandler struct {
	mu     sync.Mutex
	name   string
	alerts []Alert
	fail   bool
}

func (m *mockAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	if m.fail {
		return errors.New("handler failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *mockAlertHandler) Name() string {
	return m.name
}

func (m *mockAlertHandler) received() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

func TestAlertManager_SendAlert(t *testing.T) {
	am := NewAlertManager(nil)
	handler := &mockAlertHandler{name: "test-handler"}
	am.AddHandler(handler)

	err := am.SendAlert(context.Background(), Alert{
		Kind:        KindManualAssignment,
		Severity:    SeverityError,
		Title:       "Test Alert",
		Description: "Test description",
		Source:      "assignment-1",
		Tags:        map[string]string{"bug_id": "bug-1"},
	})
	require.NoError(t, err)

	alerts := handler.received()
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityError, alerts[0].Severity)
	assert.Equal(t, KindManualAssignment, alerts[0].Kind)
	assert.Equal(t, "assignment-1", alerts[0].Source)
	assert.NotEmpty(t, alerts[0].ID)
	assert.False(t, alerts[0].Timestamp.IsZero())
}

func TestAlertManager_SendAlert_HandlerFailure(t *testing.T) {
	am := NewAlertManager(nil)

	successHandler := &mockAlertHandler{name: "success-handler"}
	failHandler := &mockAlertHandler{name: "fail-handler", fail: true}
	am.AddHandler(successHandler)
	am.AddHandler(failHandler)

	err := am.SendAlert(context.Background(), Alert{Severity: SeverityError, Title: "Test", Source: "s"})
	require.NoError(t, err) // one handler succeeded

	assert.Len(t, successHandler.received(), 1)
	assert.Len(t, failHandler.received(), 0)
}

func TestAlertManager_SendAlert_AllHandlersFail(t *testing.T) {
	am := NewAlertManager(nil)
	am.AddHandler(&mockAlertHandler{name: "fail-1", fail: true})
	am.AddHandler(&mockAlertHandler{name: "fail-2", fail: true})

	err := am.SendAlert(context.Background(), Alert{Severity: SeverityError, Title: "Test", Source: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all alert handlers failed")
}

func TestAlertManager_RateLimit(t *testing.T) {
	am := NewAlertManager(nil)
	am.SetRateLimit(2, time.Hour)

	handler := &mockAlertHandler{name: "test-handler"}
	am.AddHandler(handler)

	alert := Alert{Severity: SeverityError, Title: "Test Alert", Source: "recovery"}

	require.NoError(t, am.SendAlert(context.Background(), alert))
	require.NoError(t, am.SendAlert(context.Background(), alert))

	err := am.SendAlert(context.Background(), alert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")

	// other sources are unaffected
	require.NoError(t, am.SendAlert(context.Background(), Alert{Title: "x", Source: "assignment-1"}))
	assert.Len(t, handler.received(), 3)

	// the window resets
	now := time.Now().Add(2 * time.Hour)
	am.now = func() time.Time { return now }
	require.NoError(t, am.SendAlert(context.Background(), alert))
}

func TestLoggingAlertHandler(t *testing.T) {
	handler := NewLoggingAlertHandler(nil)

	for _, severity := range []AlertSeverity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		err := handler.HandleAlert(context.Background(), Alert{
			ID:        "alert-1",
			Severity:  severity,
			Title:     "Test Alert",
			Source:    "test-source",
			Tags:      map[string]string{"component": "test"},
			Metadata:  map[string]interface{}{"key": "value"},
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, "logging", handler.Name())
}

func TestManualInterventionAlert(t *testing.T) {
	alert := ManualInterventionAlert("database", "recovery attempt limit reached")

	assert.Equal(t, KindManualIntervention, alert.Kind)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, "database", alert.Tags["component"])
	assert.Contains(t, alert.Title, "database")
}

func TestAlertSeverity_String(t *testing.T) {
	tests := []struct {
		severity AlertSeverity
		expected string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityError, "ERROR"},
		{SeverityCritical, "CRITICAL"},
		{AlertSeverity(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.severity.String())
		})
	}
}
