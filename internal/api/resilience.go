package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/smart-bug-triage/internal/agent"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/resilience"
)

// recoveryTimeout bounds a manually triggered recovery
const recoveryTimeout = 5 * time.Minute

// ResilienceHandler serves degradation and recovery state
type ResilienceHandler struct {
	health      *health.Service
	degradation *resilience.DegradationManager
	recovery    *resilience.RecoveryManager
	agents      []StatsProvider
	logger      *logging.Logger
}

// NewResilienceHandler creates a new resilience handler
func NewResilienceHandler(checker *health.Service, dm *resilience.DegradationManager, rm *resilience.RecoveryManager, agents []StatsProvider, logger *logging.Logger) *ResilienceHandler {
	return &ResilienceHandler{
		health:      checker,
		degradation: dm,
		recovery:    rm,
		agents:      agents,
		logger:      logging.OrDefault(logger),
	}
}

// ResilienceStatus is the body of GET /resilience/status
type ResilienceStatus struct {
	Level              string                                `json:"level"`
	DegradedComponents []string                              `json:"degraded_components"`
	Components         map[string]resilience.ComponentState `json:"components"`
	Health             map[string]*health.Check              `json:"health"`
	OverallHealth      health.Status                         `json:"overall_health"`
	Agents             []agent.Stats                         `json:"agents"`
}

// RecoveryReport is the body of GET /resilience/recovery
type RecoveryReport struct {
	Statistics resilience.RecoveryStats    `json:"statistics"`
	History    []resilience.RecoveryRecord `json:"history"`
}

// GetStatus handles GET /resilience/status
func (h *ResilienceHandler) GetStatus(c *gin.Context) {
	status := ResilienceStatus{
		Level:              h.degradation.Level().String(),
		DegradedComponents: h.degradation.DegradedComponents(),
		Components:         h.degradation.States(),
		Health:             h.health.CachedAll(),
		OverallHealth:      h.health.Overall(),
		Agents:             make([]agent.Stats, 0, len(h.agents)),
	}
	for _, a := range h.agents {
		status.Agents = append(status.Agents, a.Stats())
	}
	SuccessResponse(c, status)
}

// GetRecovery handles GET /resilience/recovery. The optional component
// query parameter filters by component; since accepts RFC 3339 or a
// duration such as 1h that is counted back from now.
func (h *ResilienceHandler) GetRecovery(c *gin.Context) {
	since, err := parseSince(c.Query("since"), time.Now())
	if err != nil {
		BadRequestResponse(c, "since must be an RFC 3339 timestamp or a duration")
		return
	}

	SuccessResponse(c, RecoveryReport{
		Statistics: h.recovery.Stats(),
		History:    h.recovery.History(c.Query("component"), since),
	})
}

// TriggerRecovery handles POST /resilience/recover/:component
func (h *ResilienceHandler) TriggerRecovery(c *gin.Context) {
	component := c.Param("component")

	ctx, cancel := context.WithTimeout(c.Request.Context(), recoveryTimeout)
	defer cancel()

	h.logger.Info("Manual recovery requested", "component", component, "request_id", requestID(c))
	record, err := h.recovery.Recover(ctx, component)
	if err != nil {
		if record != nil {
			// the procedure ran but did not restore the component
			respond(c, http.StatusServiceUnavailable, record, &APIError{
				Code:    "RECOVERY_FAILED",
				Message: err.Error(),
			})
			return
		}
		ErrorResponseFromError(c, err, nil)
		return
	}
	SuccessResponse(c, record)
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}
