package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

// RecoveryAction names what a recovery step does
type RecoveryAction string

const (
	ActionRestartService     RecoveryAction = "restart_service"
	ActionRestartAgent       RecoveryAction = "restart_agent"
	ActionClearCache         RecoveryAction = "clear_cache"
	ActionResetConnection    RecoveryAction = "reset_connection"
	ActionScaleUp            RecoveryAction = "scale_up"
	ActionFailover           RecoveryAction = "failover"
	ActionManualIntervention RecoveryAction = "manual_intervention"
)

const (
	defaultStepTimeout      = 30 * time.Second
	defaultProcedureTimeout = 300 * time.Second
)

// ActionFunc performs one recovery action. It should honor ctx.
type ActionFunc func(ctx context.Context) error

// RecoveryStep is one entry of a recovery procedure. Steps are required
// unless Optional is set.
type RecoveryStep struct {
	Action      RecoveryAction
	Description string
	Timeout     time.Duration
	Optional    bool
	Run         ActionFunc
	Rollback    ActionFunc
}

// Procedure is the ordered recovery plan for one component
type Procedure struct {
	Component        string
	Description      string
	Steps            []RecoveryStep
	MaxExecutionTime time.Duration
	// Prerequisites must be healthy before any step runs
	Prerequisites []string
	// PostChecks must be healthy once every step has run
	PostChecks []string
}

// Validate checks that the procedure can be executed
func (p *Procedure) Validate() error {
	if p.Component == "" {
		return errors.NewValidationError("recovery procedure needs a component")
	}
	if len(p.Steps) == 0 {
		return errors.NewValidationError(fmt.Sprintf("recovery procedure for %s has no steps", p.Component))
	}
	for i, step := range p.Steps {
		if step.Run == nil {
			return errors.NewValidationError(
				fmt.Sprintf("step %d (%s) of %s has no action", i+1, step.Action, p.Component))
		}
	}
	return nil
}

// StepResult records the outcome of one executed step
type StepResult struct {
	Number      int            `json:"step_number"`
	Action      RecoveryAction `json:"action"`
	Description string         `json:"description"`
	Optional    bool           `json:"optional"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Timestamp   time.Time      `json:"timestamp"`
	RolledBack  bool           `json:"rolled_back,omitempty"`
}

// RecoveryRecord is one entry of the recovery log
type RecoveryRecord struct {
	ID          string        `json:"id"`
	Component   string        `json:"component"`
	Description string        `json:"description"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	RolledBack  bool          `json:"rolled_back"`
	Steps       []StepResult  `json:"steps"`
	FinalHealth *health.Check `json:"final_health,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Orchestrator holds recovery procedures and runs their steps
type Orchestrator struct {
	procedures map[string]*Procedure
	checker    *health.Service
	logger     *logging.Logger
	mutex      sync.RWMutex
	now        func() time.Time

	stepTimeout   time.Duration
	defaultBudget time.Duration
}

// NewOrchestrator creates an orchestrator. Prerequisites and post checks are
// evaluated against checker; a nil checker skips them.
func NewOrchestrator(checker *health.Service, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		procedures:    make(map[string]*Procedure),
		checker:       checker,
		logger:        logging.OrDefault(logger),
		now:           time.Now,
		stepTimeout:   defaultStepTimeout,
		defaultBudget: defaultProcedureTimeout,
	}
}

// SetDefaults sets the step timeout and overall budget used when a procedure
// leaves them unset
func (o *Orchestrator) SetDefaults(stepTimeout, budget time.Duration) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if stepTimeout > 0 {
		o.stepTimeout = stepTimeout
	}
	if budget > 0 {
		o.defaultBudget = budget
	}
}

// RegisterProcedure registers p, replacing any procedure for the same component
func (o *Orchestrator) RegisterProcedure(p Procedure) error {
	if err := p.Validate(); err != nil {
		return err
	}

	o.mutex.Lock()
	defer o.mutex.Unlock()

	if p.MaxExecutionTime <= 0 {
		p.MaxExecutionTime = o.defaultBudget
	}
	steps := make([]RecoveryStep, len(p.Steps))
	for i, step := range p.Steps {
		if step.Timeout <= 0 {
			step.Timeout = o.stepTimeout
		}
		steps[i] = step
	}
	p.Steps = steps

	o.procedures[p.Component] = &p
	o.logger.Info("Registered recovery procedure",
		"component", p.Component,
		"steps", len(p.Steps),
	)
	return nil
}

// Has reports whether a procedure is registered for component
func (o *Orchestrator) Has(component string) bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	_, ok := o.procedures[component]
	return ok
}

// Procedures returns the registered component names, sorted
func (o *Orchestrator) Procedures() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	names := make([]string, 0, len(o.procedures))
	for name := range o.procedures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the procedure for component. The returned record is always
// non-nil once a procedure exists; Success reports whether every required
// step and post check passed. The caller decides final health.
func (o *Orchestrator) Run(ctx context.Context, component string) (*RecoveryRecord, error) {
	o.mutex.RLock()
	p, ok := o.procedures[component]
	o.mutex.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("recovery procedure for %s", component))
	}

	start := o.now()
	record := &RecoveryRecord{
		Component:   component,
		Description: p.Description,
		Start:       start,
	}
	finish := func(err error) (*RecoveryRecord, error) {
		record.Duration = o.now().Sub(start)
		if err != nil {
			record.Error = err.Error()
		}
		return record, err
	}

	o.logger.Info("Starting recovery procedure",
		"component", component,
		"description", p.Description,
	)

	for _, prerequisite := range p.Prerequisites {
		if !o.healthy(ctx, prerequisite) {
			return finish(errors.NewRecoveryError(component,
				fmt.Sprintf("prerequisite %s is not healthy", prerequisite)))
		}
	}

	budgetCtx, cancel := context.WithTimeout(ctx, p.MaxExecutionTime)
	defer cancel()

	var executed []int
	for i, step := range p.Steps {
		result, err := o.runStep(budgetCtx, i+1, step)
		record.Steps = append(record.Steps, result)

		if err == nil {
			executed = append(executed, i)
		} else if !step.Optional {
			o.logger.Error("Required recovery step failed",
				"component", component,
				"step", i+1,
				"action", string(step.Action),
				"error", err.Error(),
			)
			o.rollback(ctx, p, record, executed)
			return finish(errors.NewRecoveryError(component,
				fmt.Sprintf("required step %d (%s) failed", i+1, step.Action)).WithCause(err))
		} else {
			o.logger.Warn("Optional recovery step failed, continuing",
				"component", component,
				"step", i+1,
				"action", string(step.Action),
				"error", err.Error(),
			)
		}

		if budgetCtx.Err() != nil && ctx.Err() == nil {
			o.rollback(ctx, p, record, executed)
			return finish(errors.NewTimeoutError(
				fmt.Sprintf("recovery of %s (budget %s)", component, p.MaxExecutionTime)))
		}
		if ctx.Err() != nil {
			o.rollback(ctx, p, record, executed)
			return finish(ctx.Err())
		}
	}

	for _, check := range p.PostChecks {
		if !o.healthy(ctx, check) {
			return finish(errors.NewRecoveryError(component,
				fmt.Sprintf("post-recovery check %s failed", check)))
		}
	}

	record.Success = true
	return finish(nil)
}

// runStep runs one step under its own timeout. A step that ignores its
// context is abandoned once the timeout fires.
func (o *Orchestrator) runStep(ctx context.Context, number int, step RecoveryStep) (StepResult, error) {
	result := StepResult{
		Number:      number,
		Action:      step.Action,
		Description: step.Description,
		Optional:    step.Optional,
		Timestamp:   o.now(),
	}

	o.logger.Info("Executing recovery step",
		"step", number,
		"action", string(step.Action),
		"description", step.Description,
	)

	err := callWithTimeout(ctx, step.Timeout, step.Run)
	result.Duration = o.now().Sub(result.Timestamp)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	result.Success = true
	return result, nil
}

// rollback undoes the executed steps in reverse order. Only steps that
// declare a rollback are touched. It runs even if ctx is done.
func (o *Orchestrator) rollback(ctx context.Context, p *Procedure, record *RecoveryRecord, executed []int) {
	if len(executed) == 0 {
		return
	}
	o.logger.Warn("Rolling back recovery steps", "component", p.Component)

	rollbackCtx := context.WithoutCancel(ctx)
	for i := len(executed) - 1; i >= 0; i-- {
		idx := executed[i]
		step := p.Steps[idx]
		if step.Rollback == nil {
			continue
		}
		record.RolledBack = true
		if err := callWithTimeout(rollbackCtx, step.Timeout, step.Rollback); err != nil {
			o.logger.Error("Rollback failed",
				"component", p.Component,
				"step", idx+1,
				"error", err.Error(),
			)
			continue
		}
		for j := range record.Steps {
			if record.Steps[j].Number == idx+1 {
				record.Steps[j].RolledBack = true
			}
		}
	}
}

func (o *Orchestrator) healthy(ctx context.Context, component string) bool {
	if o.checker == nil {
		return true
	}
	check := o.checker.Check(ctx, component)
	if !check.Healthy() {
		o.logger.Error("Component not healthy", "component", component, "error", check.Error)
		return false
	}
	return true
}

func callWithTimeout(ctx context.Context, timeout time.Duration, fn ActionFunc) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.NewInternalError(fmt.Sprintf("recovery action panicked: %v", r))
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-stepCtx.Done():
		return errors.NewTimeoutError(fmt.Sprintf("recovery step (limit %s)", timeout)).WithCause(stepCtx.Err())
	}
}
