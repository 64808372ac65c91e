package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/tracing"
)

// RecoveryObserver receives the outcome of every recovery attempt
type RecoveryObserver interface {
	RecordRecovery(component, result string, duration time.Duration)
}

// Recovery results reported to the observer
const (
	RecoveryResultSuccess     = "success"
	RecoveryResultFailure     = "failure"
	RecoveryResultRateLimited = "rate_limited"
)

// RecoveryConfig holds recovery manager settings
type RecoveryConfig struct {
	// MaxAttempts caps recovery attempts per component inside Window
	MaxAttempts int
	Window      time.Duration
	// SettleDelay is waited after the steps before health is re-checked
	SettleDelay time.Duration
	// MaxHistory bounds the in-memory recovery log
	MaxHistory int
}

// DefaultRecoveryConfig returns the default recovery configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts: 3,
		Window:      10 * time.Minute,
		SettleDelay: 2 * time.Second,
		MaxHistory:  1000,
	}
}

// RecoveryStats summarizes the recovery log
type RecoveryStats struct {
	TotalAttempts        int                       `json:"total_recovery_attempts"`
	Successful           int                       `json:"successful_recoveries"`
	SuccessRate          float64                   `json:"success_rate"`
	AverageDuration      time.Duration             `json:"average_recovery_time"`
	Components           map[string]ComponentStats `json:"component_statistics"`
	RegisteredProcedures []string                  `json:"registered_procedures"`
}

// ComponentStats counts recovery attempts for one component
type ComponentStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
}

// RecoveryManager runs recovery procedures with a per-component rate limit,
// verifies the result with one health re-check and keeps the recovery log.
type RecoveryManager struct {
	orchestrator *Orchestrator
	checker      *health.Service
	degradation  *DegradationManager
	alerter      Alerter
	observer     RecoveryObserver
	tracer       *tracing.TracingService
	logger       *logging.Logger
	config       RecoveryConfig

	mutex     sync.Mutex
	attempts  map[string][]time.Time
	escalated map[string]time.Time
	history   []RecoveryRecord
	running   map[string]bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRecoveryManager wires a recovery manager. degradation may be nil. A nil
// checker trusts the procedure result and skips the post-recovery health
// re-check.
func NewRecoveryManager(orchestrator *Orchestrator, checker *health.Service, degradation *DegradationManager, config RecoveryConfig, logger *logging.Logger) *RecoveryManager {
	defaults := DefaultRecoveryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.SettleDelay < 0 {
		config.SettleDelay = 0
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = defaults.MaxHistory
	}

	return &RecoveryManager{
		orchestrator: orchestrator,
		checker:      checker,
		degradation:  degradation,
		tracer:       tracing.Noop(),
		logger:       logging.OrDefault(logger),
		config:       config,
		attempts:     make(map[string][]time.Time),
		escalated:    make(map[string]time.Time),
		running:      make(map[string]bool),
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// SetAlerter sets where manual-intervention alerts go
func (rm *RecoveryManager) SetAlerter(a Alerter) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.alerter = a
}

// SetObserver attaches an observer, typically the metrics recorder
func (rm *RecoveryManager) SetObserver(o RecoveryObserver) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.observer = o
}

// SetTracer sets the tracing service used for recovery spans
func (rm *RecoveryManager) SetTracer(t *tracing.TracingService) {
	if t == nil {
		t = tracing.Noop()
	}
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.tracer = t
}

// Orchestrator returns the underlying orchestrator
func (rm *RecoveryManager) Orchestrator() *Orchestrator {
	return rm.orchestrator
}

// Recover runs the recovery procedure for component. The error is non-nil
// when no procedure exists, the attempt was rate limited, or recovery failed.
func (rm *RecoveryManager) Recover(ctx context.Context, component string) (*RecoveryRecord, error) {
	if !rm.orchestrator.Has(component) {
		rm.logger.Warn("No recovery procedure for component", "component", component)
		return nil, errors.NewNotFoundError(fmt.Sprintf("recovery procedure for %s", component))
	}

	if err := rm.reserve(ctx, component); err != nil {
		return nil, err
	}
	defer rm.release(component)

	rm.mutex.Lock()
	tracer := rm.tracer
	rm.mutex.Unlock()

	ctx, span := tracer.StartRecoverySpan(ctx, component, component)
	defer span.End()

	start := rm.now()
	record, runErr := rm.orchestrator.Run(ctx, component)
	if record == nil {
		record = &RecoveryRecord{Component: component}
	}
	record.ID = uuid.New().String()
	record.Start = start

	// steps passing is not enough; the health re-check decides
	err := runErr
	if runErr == nil && rm.checker == nil {
		record.Success = true
	} else if runErr == nil {
		record.Success = false
		if sleepErr := rm.sleep(ctx, rm.config.SettleDelay); sleepErr != nil {
			err = sleepErr
			record.Error = sleepErr.Error()
		} else {
			check := rm.checker.Check(ctx, component)
			record.FinalHealth = check
			record.Success = check.Healthy()
			if !record.Success {
				err = errors.NewRecoveryError(component,
					fmt.Sprintf("component still unhealthy after recovery: %s", check.Error))
				record.Error = err.Error()
			}
		}
	}
	record.Duration = rm.now().Sub(start)

	if err != nil {
		tracer.RecordError(span, err)
	}
	if record.Success && rm.degradation != nil {
		rm.degradation.Restore(component)
	}

	rm.finish(ctx, record)
	return record, err
}

// reserve applies the rate limit and marks component as in recovery
func (rm *RecoveryManager) reserve(ctx context.Context, component string) error {
	rm.mutex.Lock()
	if rm.running[component] {
		rm.mutex.Unlock()
		return errors.NewRecoveryError(component, "recovery already in progress")
	}

	now := rm.now()
	recent := rm.recentAttempts(component, now)
	if len(recent) >= rm.config.MaxAttempts {
		alerter := rm.alerter
		observer := rm.observer
		escalate := rm.escalated[component].IsZero() || now.Sub(rm.escalated[component]) >= rm.config.Window
		if escalate {
			rm.escalated[component] = now
		}
		rm.mutex.Unlock()

		rm.logger.Warn("Too many recent recovery attempts, skipping",
			"component", component,
			"attempts", len(recent),
			"window", rm.config.Window.String(),
		)
		if observer != nil {
			observer.RecordRecovery(component, RecoveryResultRateLimited, 0)
		}
		if escalate && alerter != nil {
			reason := fmt.Sprintf("%d recovery attempts within %s did not restore %s",
				len(recent), rm.config.Window, component)
			if err := alerter.SendAlert(ctx, ManualInterventionAlert(component, reason)); err != nil {
				rm.logger.Error("Failed to send manual intervention alert", "component", component, "error", err)
			}
		}
		return errors.NewRateLimitError(fmt.Sprintf("recovery attempts for %s exhausted", component)).
			WithRetry(errors.Terminal).
			WithDetail("component", component)
	}

	rm.attempts[component] = append(recent, now)
	rm.running[component] = true
	rm.mutex.Unlock()
	return nil
}

func (rm *RecoveryManager) release(component string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	delete(rm.running, component)
}

// recentAttempts prunes attempts outside the window. Caller holds the lock.
func (rm *RecoveryManager) recentAttempts(component string, now time.Time) []time.Time {
	var recent []time.Time
	for _, t := range rm.attempts[component] {
		if now.Sub(t) < rm.config.Window {
			recent = append(recent, t)
		}
	}
	rm.attempts[component] = recent
	return recent
}

func (rm *RecoveryManager) finish(ctx context.Context, record *RecoveryRecord) {
	rm.mutex.Lock()
	rm.history = append(rm.history, *record)
	if len(rm.history) > rm.config.MaxHistory {
		rm.history = rm.history[len(rm.history)-rm.config.MaxHistory:]
	}
	if record.Success {
		delete(rm.escalated, record.Component)
	}
	observer := rm.observer
	rm.mutex.Unlock()

	result := RecoveryResultFailure
	if record.Success {
		result = RecoveryResultSuccess
	}
	if observer != nil {
		observer.RecordRecovery(record.Component, result, record.Duration)
	}

	rm.logger.LogRecoveryEvent(ctx, "recovery_completed", record.Component, record.Success, logrus.Fields{
		"recovery_id": record.ID,
		"duration_ms": record.Duration.Milliseconds(),
		"steps":       len(record.Steps),
		"rolled_back": record.RolledBack,
		"error":       record.Error,
	})
}

// Candidates returns the components that need recovery: degraded ones and
// ones whose last cached health check failed, limited to those with a
// registered procedure.
func (rm *RecoveryManager) Candidates() []string {
	seen := make(map[string]bool)
	if rm.degradation != nil {
		for _, name := range rm.degradation.DegradedComponents() {
			seen[name] = true
		}
	}
	if rm.checker != nil {
		for name, check := range rm.checker.CachedAll() {
			if !check.Healthy() {
				seen[name] = true
			}
		}
	}

	var out []string
	for name := range seen {
		if rm.orchestrator.Has(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// AutoRecover attempts recovery for every candidate component, respecting
// the rate limit. It returns the records of the attempts that ran.
func (rm *RecoveryManager) AutoRecover(ctx context.Context) []RecoveryRecord {
	var records []RecoveryRecord
	for _, component := range rm.Candidates() {
		if ctx.Err() != nil {
			break
		}
		record, err := rm.Recover(ctx, component)
		if record != nil {
			records = append(records, *record)
		}
		if err != nil {
			rm.logger.Debug("Automatic recovery did not succeed", "component", component, "error", err)
		}
	}
	return records
}

// History returns log entries newer than since, optionally for one component
func (rm *RecoveryManager) History(component string, since time.Time) []RecoveryRecord {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	out := make([]RecoveryRecord, 0)
	for _, record := range rm.history {
		if component != "" && record.Component != component {
			continue
		}
		if !since.IsZero() && record.Start.Before(since) {
			continue
		}
		out = append(out, record)
	}
	return out
}

// Stats summarizes the recovery log
func (rm *RecoveryManager) Stats() RecoveryStats {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	stats := RecoveryStats{
		TotalAttempts:        len(rm.history),
		Components:           make(map[string]ComponentStats),
		RegisteredProcedures: rm.orchestrator.Procedures(),
	}

	var successDuration time.Duration
	for _, record := range rm.history {
		cs := stats.Components[record.Component]
		cs.Total++
		if record.Success {
			cs.Successful++
			stats.Successful++
			successDuration += record.Duration
		}
		stats.Components[record.Component] = cs
	}

	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalAttempts)
	}
	if stats.Successful > 0 {
		stats.AverageDuration = successDuration / time.Duration(stats.Successful)
	}
	return stats
}

// ClearHistory empties the recovery log and resets the rate limit
func (rm *RecoveryManager) ClearHistory() {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	rm.history = nil
	rm.attempts = make(map[string][]time.Time)
	rm.escalated = make(map[string]time.Time)
	rm.logger.Info("Recovery history cleared")
}
