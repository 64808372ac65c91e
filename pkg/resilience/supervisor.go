package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

// DefaultSchedule is the supervisor sweep schedule
const DefaultSchedule = "@every 60s"

// Supervisor periodically checks health, applies degradation and runs
// automatic recovery. Sweeps run on the cron goroutine and never overlap.
type Supervisor struct {
	checker     *health.Service
	degradation *DegradationManager
	recovery    *RecoveryManager
	alerter     Alerter
	logger      *logging.Logger
	schedule    string
	timeout     time.Duration

	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	lastLevel DegradationLevel
	lastSweep time.Time
	mutex     sync.Mutex
}

// NewSupervisor creates a supervisor. recovery and alerter may be nil.
func NewSupervisor(checker *health.Service, degradation *DegradationManager, recovery *RecoveryManager, schedule string, logger *logging.Logger) (*Supervisor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid recovery schedule %q: %v", schedule, err))
	}

	return &Supervisor{
		checker:     checker,
		degradation: degradation,
		recovery:    recovery,
		logger:      logging.OrDefault(logger),
		schedule:    schedule,
		timeout:     5 * time.Minute,
		lastLevel:   LevelNormal,
	}, nil
}

// SetAlerter sets where degradation level changes are reported
func (s *Supervisor) SetAlerter(a Alerter) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.alerter = a
}

// Start schedules the sweep. It returns immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return nil
	}

	logger := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))

	s.ctx, s.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(s.ctx) }); err != nil {
		s.cancel()
		return errors.NewConfigError(fmt.Sprintf("invalid recovery schedule %q: %v", s.schedule, err))
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("Resilience supervisor started", "schedule", s.schedule)
	return nil
}

// Stop cancels the running sweep and waits for it to return
func (s *Supervisor) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.cancel()
	s.mutex.Unlock()

	<-c.Stop().Done()
	s.logger.Info("Resilience supervisor stopped")
}

// Sweep runs one supervision pass: health checks and degradation, a level
// change alert, then automatic recovery.
func (s *Supervisor) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	changed := s.degradation.CheckAndDegrade(ctx, s.checker)
	if len(changed) > 0 {
		s.logger.Info("Degradation state changed", "components", changed)
	}

	s.reportLevel(ctx)

	recovered := 0
	if s.recovery != nil {
		for _, record := range s.recovery.AutoRecover(ctx) {
			if record.Success {
				recovered++
			}
		}
	}

	s.mutex.Lock()
	s.lastSweep = time.Now()
	s.mutex.Unlock()

	s.logger.Debug("Supervisor sweep complete",
		"duration_ms", time.Since(start).Milliseconds(),
		"degraded", len(s.degradation.DegradedComponents()),
		"recovered", recovered,
	)
}

// LastSweep returns when the last sweep finished
func (s *Supervisor) LastSweep() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastSweep
}

func (s *Supervisor) reportLevel(ctx context.Context) {
	current := s.degradation.Level()

	s.mutex.Lock()
	previous := s.lastLevel
	s.lastLevel = current
	alerter := s.alerter
	s.mutex.Unlock()

	if current == previous || alerter == nil {
		return
	}

	var severity AlertSeverity
	switch current {
	case LevelNormal:
		severity = SeverityInfo
	case LevelPartial:
		severity = SeverityWarning
	case LevelSevere:
		severity = SeverityError
	default:
		severity = SeverityCritical
	}

	alert := Alert{
		Kind:        KindDegradationChanged,
		Severity:    severity,
		Title:       "System Degradation Level Changed",
		Description: fmt.Sprintf("System degradation level changed from %s to %s", previous, current),
		Source:      "supervisor",
		Tags: map[string]string{
			"previous_level": previous.String(),
			"current_level":  current.String(),
		},
		Metadata: map[string]interface{}{
			"degraded_components": s.degradation.DegradedComponents(),
		},
	}
	if err := alerter.SendAlert(ctx, alert); err != nil {
		s.logger.Error("Failed to send degradation alert", "error", err)
	}
}

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
