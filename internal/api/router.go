// Package api serves the triage agent's HTTP surface: health checks,
// resilience status and manual recovery, the developer directory, assignment
// feedback, developer status updates and metrics.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/smart-bug-triage/internal/agent"
	"github.com/NikhilSetiya/smart-bug-triage/internal/store"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/metrics"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/resilience"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/tracing"
)

// StatsProvider is implemented by *agent.Agent
type StatsProvider interface {
	Stats() agent.Stats
}

// Dependencies are the services the router exposes
type Dependencies struct {
	Health      *health.Service
	Degradation *resilience.DegradationManager
	Recovery    *resilience.RecoveryManager
	Agents      []StatsProvider
	Directory   store.DeveloperDirectory
	Developers  store.DeveloperStore
	Feedback    store.FeedbackStore
	Statuses    store.StatusStore
	Metrics     *metrics.Metrics
	Tracing     *tracing.TracingService
	Logger      *logging.Logger
	Debug       bool
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Tracing == nil {
		deps.Tracing = tracing.Noop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(deps.Tracing.TracingMiddleware())
	router.Use(deps.Metrics.PrometheusMiddleware())
	router.Use(LoggingMiddleware(deps.Logger))
	router.Use(SecurityHeadersMiddleware())

	router.GET("/health", deps.Health.Handler())
	router.GET("/health/live", deps.Health.LivenessHandler())
	router.GET("/health/:component", deps.Health.ComponentHandler())

	handler := NewResilienceHandler(deps.Health, deps.Degradation, deps.Recovery, deps.Agents, deps.Logger)
	res := router.Group("/resilience")
	{
		res.GET("/status", handler.GetStatus)
		res.GET("/recovery", handler.GetRecovery)
		res.POST("/recover/:component", handler.TriggerRecovery)
	}

	if deps.Directory != nil && deps.Developers != nil && deps.Feedback != nil && deps.Statuses != nil {
		developers := NewDeveloperHandler(deps.Directory, deps.Developers, deps.Feedback, deps.Statuses, deps.Logger)
		router.POST("/feedback", developers.SubmitFeedback)
		dev := router.Group("/developers/:id")
		{
			dev.PUT("", developers.UpsertDeveloper)
			dev.DELETE("", developers.DeactivateDeveloper)
			dev.GET("/feedback", developers.GetFeedbackStats)
			dev.PUT("/status", developers.UpdateStatus)
			dev.DELETE("/status", developers.ClearStatus)
		}
	}

	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	return router
}
