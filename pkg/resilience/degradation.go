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

// DegradationLevel summarizes how much of the system runs degraded
type DegradationLevel int

const (
	// LevelNormal - no component is degraded
	LevelNormal DegradationLevel = iota
	// LevelPartial - under half of the components are degraded
	LevelPartial
	// LevelSevere - at least half of the components are degraded
	LevelSevere
	// LevelCritical - at least three quarters of the components are degraded
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelPartial:
		return "PARTIAL"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// StrategyFunc runs once when a component enters degraded mode
type StrategyFunc func(ctx context.Context, component string) error

// DegradationObserver is told about every degraded-state transition
type DegradationObserver interface {
	SetDegraded(component string, degraded bool)
}

// ComponentState is a snapshot of one component's degradation bookkeeping
type ComponentState struct {
	Name                string    `json:"name"`
	Degraded            bool      `json:"degraded"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int       `json:"total_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	DegradedSince       time.Time `json:"degraded_since,omitempty"`
}

type componentState struct {
	ComponentState
	strategy StrategyFunc
}

// DegradationManager tracks consecutive failures per component and moves a
// component into degraded mode once the threshold is crossed.
//
// Healthy -> (threshold consecutive failures) -> Degraded -> (primary success,
// Restore, or a passing health check) -> Healthy.
type DegradationManager struct {
	components map[string]*componentState
	mutex      sync.RWMutex
	logger     *logging.Logger
	observer   DegradationObserver
	now        func() time.Time

	maxConsecutiveFailures int
}

// NewDegradationManager creates a manager that degrades a component after
// maxConsecutiveFailures consecutive failures.
func NewDegradationManager(maxConsecutiveFailures int, logger *logging.Logger) *DegradationManager {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 5
	}

	return &DegradationManager{
		components:             make(map[string]*componentState),
		logger:                 logging.OrDefault(logger),
		now:                    time.Now,
		maxConsecutiveFailures: maxConsecutiveFailures,
	}
}

// SetObserver attaches an observer, typically the metrics recorder
func (dm *DegradationManager) SetObserver(o DegradationObserver) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()
	dm.observer = o
}

// Threshold returns the consecutive-failure threshold
func (dm *DegradationManager) Threshold() int {
	return dm.maxConsecutiveFailures
}

// RegisterStrategy registers the callback fired when component degrades.
// Registering also makes the component visible to status queries.
func (dm *DegradationManager) RegisterStrategy(component string, strategy StrategyFunc) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.state(component).strategy = strategy
	dm.logger.Info("Registered degradation strategy", "component", component)
}

// state returns the state for component, creating it. Caller holds the lock.
func (dm *DegradationManager) state(component string) *componentState {
	s, ok := dm.components[component]
	if !ok {
		s = &componentState{ComponentState: ComponentState{Name: component}}
		dm.components[component] = s
	}
	return s
}

// RecordFailure counts a failed primary call and reports whether this call
// moved the component into degraded mode.
func (dm *DegradationManager) RecordFailure(ctx context.Context, component string, err error) bool {
	dm.mutex.Lock()
	s := dm.state(component)
	s.ConsecutiveFailures++
	s.TotalFailures++
	s.LastFailure = dm.now()
	if err != nil {
		s.LastError = err.Error()
	}

	entered := !s.Degraded && s.ConsecutiveFailures >= dm.maxConsecutiveFailures
	failures := s.ConsecutiveFailures
	dm.mutex.Unlock()

	dm.logger.Debug("Component failure recorded",
		"component", component,
		"consecutive_failures", failures,
		"threshold", dm.maxConsecutiveFailures,
	)

	if entered {
		return dm.degrade(ctx, component, fmt.Sprintf("%d consecutive failures", failures))
	}
	return false
}

// RecordSuccess resets the failure counter and clears degraded mode
func (dm *DegradationManager) RecordSuccess(component string) {
	dm.mutex.Lock()
	s := dm.state(component)
	s.ConsecutiveFailures = 0
	s.LastSuccess = dm.now()
	wasDegraded := s.Degraded
	s.Degraded = false
	s.DegradedSince = time.Time{}
	observer := dm.observer
	dm.mutex.Unlock()

	if wasDegraded {
		dm.logger.Info("Component left degraded mode", "component", component)
		if observer != nil {
			observer.SetDegraded(component, false)
		}
	}
}

// Restore clears degraded mode after an explicit recovery success
func (dm *DegradationManager) Restore(component string) {
	dm.RecordSuccess(component)
}

// MarkDegraded forces component into degraded mode. It returns false if the
// component was already degraded.
func (dm *DegradationManager) MarkDegraded(ctx context.Context, component, reason string) bool {
	return dm.degrade(ctx, component, reason)
}

// degrade flips the component to degraded and fires its strategy exactly once
// per transition. The strategy runs outside the lock.
func (dm *DegradationManager) degrade(ctx context.Context, component, reason string) bool {
	dm.mutex.Lock()
	s := dm.state(component)
	if s.Degraded {
		dm.mutex.Unlock()
		return false
	}
	s.Degraded = true
	s.DegradedSince = dm.now()
	strategy := s.strategy
	observer := dm.observer
	dm.mutex.Unlock()

	dm.logger.Warn("Component entered degraded mode",
		"component", component,
		"reason", reason,
	)

	if observer != nil {
		observer.SetDegraded(component, true)
	}

	if strategy == nil {
		dm.logger.Warn("No degradation strategy for component", "component", component)
		return true
	}

	if err := strategy(ctx, component); err != nil {
		dm.logger.Error("Degradation strategy failed",
			"component", component,
			"error", err.Error(),
		)
	}
	return true
}

// IsDegraded reports whether component is in degraded mode
func (dm *DegradationManager) IsDegraded(component string) bool {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	s, ok := dm.components[component]
	return ok && s.Degraded
}

// DegradedComponents returns the degraded components in sorted order
func (dm *DegradationManager) DegradedComponents() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var degraded []string
	for name, s := range dm.components {
		if s.Degraded {
			degraded = append(degraded, name)
		}
	}
	sort.Strings(degraded)
	return degraded
}

// State returns a copy of component's state
func (dm *DegradationManager) State(component string) (ComponentState, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	s, ok := dm.components[component]
	if !ok {
		return ComponentState{}, false
	}
	return s.ComponentState, true
}

// States returns a copy of every component's state
func (dm *DegradationManager) States() map[string]ComponentState {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	out := make(map[string]ComponentState, len(dm.components))
	for name, s := range dm.components {
		out[name] = s.ComponentState
	}
	return out
}

// Level returns the overall degradation level from the share of degraded components
func (dm *DegradationManager) Level() DegradationLevel {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	total := len(dm.components)
	if total == 0 {
		return LevelNormal
	}

	degraded := 0
	for _, s := range dm.components {
		if s.Degraded {
			degraded++
		}
	}

	share := float64(degraded) / float64(total)
	switch {
	case degraded == 0:
		return LevelNormal
	case share >= 0.75:
		return LevelCritical
	case share >= 0.5:
		return LevelSevere
	default:
		return LevelPartial
	}
}

// CheckAndDegrade runs every health check, degrades components that fail and
// restores degraded components that pass. It returns the components that
// changed state.
func (dm *DegradationManager) CheckAndDegrade(ctx context.Context, checker *health.Service) []string {
	resp := checker.CheckHealth(ctx)

	var changed []string
	for name, check := range resp.Checks {
		switch {
		case !check.Healthy() && !dm.IsDegraded(name):
			reason := check.Error
			if reason == "" {
				reason = "health check failed"
			}
			if dm.degrade(ctx, name, reason) {
				changed = append(changed, name)
			}
		case check.Healthy() && dm.IsDegraded(name):
			dm.Restore(name)
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// Operation is a unit of work guarded by a Guard
type Operation[Req, Res any] func(ctx context.Context, req Req) (Res, error)

// Guard couples one component's primary operation with its fallback handler.
// While the component is degraded the fallback is tried first; if it fails
// the primary runs as usual.
type Guard[Req, Res any] struct {
	dm        *DegradationManager
	component string
	fallback  Operation[Req, Res]
}

// NewGuard registers fallback for component. A nil fallback is allowed.
func NewGuard[Req, Res any](dm *DegradationManager, component string, fallback Operation[Req, Res]) *Guard[Req, Res] {
	dm.mutex.Lock()
	dm.state(component)
	dm.mutex.Unlock()

	return &Guard[Req, Res]{dm: dm, component: component, fallback: fallback}
}

// Component returns the guarded component name
func (g *Guard[Req, Res]) Component() string {
	return g.component
}

// Execute runs primary under degradation bookkeeping. usedFallback is true
// when the returned value came from the fallback handler.
func (g *Guard[Req, Res]) Execute(ctx context.Context, req Req, primary Operation[Req, Res]) (res Res, usedFallback bool, err error) {
	if g.fallback != nil && g.dm.IsDegraded(g.component) {
		res, err = g.fallback(ctx, req)
		if err == nil {
			g.dm.logger.Info("Served request from fallback", "component", g.component)
			return res, true, nil
		}
		g.dm.logger.Warn("Fallback failed, trying primary",
			"component", g.component,
			"error", err.Error(),
		)
	}

	res, err = primary(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			g.dm.RecordFailure(ctx, g.component, err)
		}
		return res, false, err
	}

	g.dm.RecordSuccess(g.component)
	return res, false, nil
}

// ExecuteOrFallback runs primary and, if it fails, the fallback. Use it for
// operations where a best-effort answer beats an error even before the
// component is degraded.
func (g *Guard[Req, Res]) ExecuteOrFallback(ctx context.Context, req Req, primary Operation[Req, Res]) (Res, bool, error) {
	res, err := primary(ctx, req)
	if err == nil {
		g.dm.RecordSuccess(g.component)
		return res, false, nil
	}
	if ctx.Err() == nil {
		g.dm.RecordFailure(ctx, g.component, err)
	}
	if g.fallback == nil {
		return res, false, err
	}

	fb, fbErr := g.fallback(ctx, req)
	if fbErr != nil {
		return res, false, errors.NewUnavailableError(g.component,
			fmt.Sprintf("both primary and fallback failed for %s", g.component)).WithCause(err)
	}
	return fb, true, nil
}
