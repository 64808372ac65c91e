package resilience

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

// ActionRegistry maps handler names to recovery actions. Procedures built
// from definitions look their steps up here.
type ActionRegistry struct {
	actions map[string]ActionFunc
	alerter Alerter
	logger  *logging.Logger
	mutex   sync.RWMutex
}

// NewActionRegistry creates an empty registry
func NewActionRegistry(logger *logging.Logger) *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]ActionFunc),
		logger:  logging.OrDefault(logger),
	}
}

// HandlerName is the default registry key for component's action
func HandlerName(component string, action RecoveryAction) string {
	return component + "." + string(action)
}

// Register adds or replaces a handler
func (r *ActionRegistry) Register(name string, fn ActionFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.actions[name] = fn
}

// RegisterFor registers the default handler for component's action
func (r *ActionRegistry) RegisterFor(component string, action RecoveryAction, fn ActionFunc) {
	r.Register(HandlerName(component, action), fn)
}

// SetAlerter sets where manual_intervention steps without a handler alert
func (r *ActionRegistry) SetAlerter(a Alerter) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.alerter = a
}

// Lookup returns the handler registered under name
func (r *ActionRegistry) Lookup(name string) (ActionFunc, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	fn, ok := r.actions[name]
	return fn, ok
}

// Names returns the registered handler names, sorted
func (r *ActionRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StepDefinition describes a recovery step by handler name
type StepDefinition struct {
	Action      RecoveryAction `yaml:"action" json:"action"`
	Description string         `yaml:"description" json:"description"`
	// Handler defaults to HandlerName(component, action)
	Handler  string        `yaml:"handler,omitempty" json:"handler,omitempty"`
	Rollback string        `yaml:"rollback,omitempty" json:"rollback,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Optional bool          `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// ProcedureDefinition describes a recovery procedure by handler names
type ProcedureDefinition struct {
	Component        string           `yaml:"component" json:"component"`
	Description      string           `yaml:"description" json:"description"`
	MaxExecutionTime time.Duration    `yaml:"max_execution_time,omitempty" json:"max_execution_time,omitempty"`
	Prerequisites    []string         `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	PostChecks       []string         `yaml:"post_checks,omitempty" json:"post_checks,omitempty"`
	Steps            []StepDefinition `yaml:"steps" json:"steps"`
}

type procedureFile struct {
	Procedures []ProcedureDefinition `yaml:"procedures"`
}

// Build resolves def against the registry. A required step with no handler
// is an error; an optional one is dropped. A manual_intervention step with
// no handler raises a manual-intervention alert and always succeeds.
func (r *ActionRegistry) Build(def ProcedureDefinition) (Procedure, error) {
	p := Procedure{
		Component:        def.Component,
		Description:      def.Description,
		MaxExecutionTime: def.MaxExecutionTime,
		Prerequisites:    def.Prerequisites,
		PostChecks:       def.PostChecks,
	}

	for i, sd := range def.Steps {
		handler := sd.Handler
		if handler == "" {
			handler = HandlerName(def.Component, sd.Action)
		}

		run, ok := r.Lookup(handler)
		if !ok && sd.Action == ActionManualIntervention {
			run, ok = r.manualIntervention(def.Component, sd.Description), true
		}
		if !ok {
			if sd.Optional {
				r.logger.Warn("Skipping optional recovery step with no handler",
					"component", def.Component,
					"step", i+1,
					"handler", handler,
				)
				continue
			}
			return Procedure{}, errors.NewConfigError(
				fmt.Sprintf("no recovery handler %q for step %d of %s", handler, i+1, def.Component))
		}

		step := RecoveryStep{
			Action:      sd.Action,
			Description: sd.Description,
			Timeout:     sd.Timeout,
			Optional:    sd.Optional,
			Run:         run,
		}
		if sd.Rollback != "" {
			rollback, ok := r.Lookup(sd.Rollback)
			if !ok {
				return Procedure{}, errors.NewConfigError(
					fmt.Sprintf("no rollback handler %q for step %d of %s", sd.Rollback, i+1, def.Component))
			}
			step.Rollback = rollback
		}
		p.Steps = append(p.Steps, step)
	}

	return p, p.Validate()
}

func (r *ActionRegistry) manualIntervention(component, description string) ActionFunc {
	return func(ctx context.Context) error {
		r.mutex.RLock()
		alerter := r.alerter
		r.mutex.RUnlock()

		r.logger.Error("Manual intervention required", "component", component, "step", description)
		if alerter == nil {
			return nil
		}
		if err := alerter.SendAlert(ctx, ManualInterventionAlert(component, description)); err != nil {
			r.logger.Warn("Manual intervention alert not delivered", "component", component, "error", err)
		}
		return nil
	}
}

// RegisterDefinitions builds every definition and registers the result
func (o *Orchestrator) RegisterDefinitions(registry *ActionRegistry, defs ...ProcedureDefinition) error {
	for _, def := range defs {
		p, err := registry.Build(def)
		if err != nil {
			return err
		}
		if err := o.RegisterProcedure(p); err != nil {
			return err
		}
	}
	return nil
}

// LoadProcedures reads procedure definitions from a YAML file of the form
//
//	procedures:
//	  - component: database
//	    description: Recover database connectivity
//	    steps:
//	      - action: reset_connection
//	        description: Reset database connections
//	        timeout: 30s
func LoadProcedures(path string) ([]ProcedureDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to read recovery procedures: %v", err)).WithCause(err)
	}
	return ParseProcedures(data)
}

// ParseProcedures decodes procedure definitions from YAML
func ParseProcedures(data []byte) ([]ProcedureDefinition, error) {
	var file procedureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid recovery procedures: %v", err)).WithCause(err)
	}
	for i, def := range file.Procedures {
		if def.Component == "" {
			return nil, errors.NewConfigError(fmt.Sprintf("recovery procedure %d has no component", i+1))
		}
		if len(def.Steps) == 0 {
			return nil, errors.NewConfigError(fmt.Sprintf("recovery procedure for %s has no steps", def.Component))
		}
	}
	return file.Procedures, nil
}

// Standard component names
const (
	ComponentDatabase    = "database"
	ComponentStatusStore = "status_store"
	ComponentIntake      = "intake"
)

// AgentComponent is the component name of one assignment agent
func AgentComponent(agentID string) string {
	return "agent_" + agentID
}

// DatabaseProcedure recovers the developer directory database
func DatabaseProcedure() ProcedureDefinition {
	return ProcedureDefinition{
		Component:   ComponentDatabase,
		Description: "Recover database connection and performance",
		Steps: []StepDefinition{
			{Action: ActionResetConnection, Description: "Reset database connections", Timeout: 30 * time.Second},
			{Action: ActionClearCache, Description: "Clear database query cache", Timeout: 10 * time.Second, Optional: true},
		},
	}
}

// StatusStoreProcedure recovers the developer status store
func StatusStoreProcedure() ProcedureDefinition {
	return ProcedureDefinition{
		Component:   ComponentStatusStore,
		Description: "Recover status store connectivity",
		Steps: []StepDefinition{
			{Action: ActionResetConnection, Description: "Reset status store connections", Timeout: 30 * time.Second},
			{Action: ActionClearCache, Description: "Purge dead letter queue", Timeout: 20 * time.Second, Optional: true},
		},
	}
}

// IntakeProcedure recovers the bug intake queue
func IntakeProcedure() ProcedureDefinition {
	return ProcedureDefinition{
		Component:   ComponentIntake,
		Description: "Recover bug intake queue connectivity",
		Steps: []StepDefinition{
			{Action: ActionResetConnection, Description: "Reset intake queue connections", Timeout: 20 * time.Second},
		},
	}
}

// AgentProcedure recovers one assignment agent
func AgentProcedure(agentID string) ProcedureDefinition {
	return ProcedureDefinition{
		Component:   AgentComponent(agentID),
		Description: "Recover failed assignment agent",
		Steps: []StepDefinition{
			{Action: ActionRestartAgent, Description: "Restart agent", Timeout: 30 * time.Second},
			{Action: ActionResetConnection, Description: "Reset agent connections", Timeout: 20 * time.Second},
			{Action: ActionClearCache, Description: "Clear agent state cache", Timeout: 10 * time.Second, Optional: true},
		},
	}
}
