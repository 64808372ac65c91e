package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert kinds raised by this package and by the assignment agent
const (
	KindManualIntervention = "manual_intervention_required"
	KindManualAssignment   = "manual_assignment_required"
	KindDegradationChanged = "degradation_level_changed"
)

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// Alerter is what components need to raise alerts
type Alerter interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// AlertManager routes alerts to handlers with a per-source rate limit
type AlertManager struct {
	handlers []AlertHandler
	mutex    sync.Mutex
	logger   *logging.Logger
	now      func() time.Time

	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *logging.Logger) *AlertManager {
	return &AlertManager{
		handlers:      make([]AlertHandler, 0),
		logger:        logging.OrDefault(logger),
		now:           time.Now,
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100,
		resetInterval: time.Hour,
	}
}

// SetRateLimit sets how many alerts one source may send per interval
func (am *AlertManager) SetRateLimit(limit int, interval time.Duration) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.rateLimit = limit
	am.resetInterval = interval
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	allowed := am.checkRateLimit(alert.Source)
	handlers := append([]AlertHandler(nil), am.handlers...)
	now := am.now()
	am.mutex.Unlock()

	if !allowed {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = now
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	am.logger.Info("Sending alert",
		"id", alert.ID,
		"kind", alert.Kind,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

// checkRateLimit must be called with the mutex held
func (am *AlertManager) checkRateLimit(source string) bool {
	now := am.now()

	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler(logger *logging.Logger) *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.OrDefault(logger),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"kind", alert.Kind,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}
	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// ManualInterventionAlert builds the alert raised when automated recovery gives up
func ManualInterventionAlert(component, reason string) Alert {
	return Alert{
		Kind:        KindManualIntervention,
		Severity:    SeverityCritical,
		Title:       fmt.Sprintf("Manual intervention required for %s", component),
		Description: reason,
		Source:      "recovery",
		Tags:        map[string]string{"component": component},
	}
}
