package main

import (
	"context"
	"fmt"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/internal/agent"
	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/internal/intake"
	"github.com/NikhilSetiya/smart-bug-triage/internal/store"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/health"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/metrics"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/resilience"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/tracing"
)

const memoryQueueCapacity = 1000

// app holds every long-lived component of the triage agent
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *tracing.TracingService

	health       *health.Service
	degradation  *resilience.DegradationManager
	alerts       *resilience.AlertManager
	registry     *resilience.ActionRegistry
	orchestrator *resilience.Orchestrator
	recovery     *resilience.RecoveryManager
	supervisor   *resilience.Supervisor

	source     store.SnapshotSource
	directory  store.DeveloperDirectory
	developers store.DeveloperStore
	feedback   store.FeedbackStore
	statuses   store.StatusStore
	queue      intake.Queue
	depths     map[string]metrics.DepthFunc
	procedures []resilience.ProcedureDefinition

	agents  []*agent.Agent
	workers []*agent.Worker
	closers []func() error
}

func newApp(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics, tracer *tracing.TracingService) *app {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		tracer:  tracer,
		depths:  make(map[string]metrics.DepthFunc),
	}

	a.health = health.NewService(logger, &health.Config{
		Timeout:  cfg.Resilience.HealthCheckTimeout,
		Metadata: map[string]string{"version": version, "store_backend": cfg.Store.Backend},
	})
	a.degradation = resilience.NewDegradationManager(cfg.Resilience.MaxConsecutiveFailures, logger)
	a.alerts = resilience.NewAlertManager(logger)
	a.alerts.AddHandler(resilience.NewLoggingAlertHandler(logger))
	a.registry = resilience.NewActionRegistry(logger)
	a.registry.SetAlerter(a.alerts)

	if m != nil {
		a.health.SetObserver(m)
		a.degradation.SetObserver(m)
	}
	return a
}

// setupStores connects the snapshot source and the intake queue and registers
// their health checks and recovery actions
func (a *app) setupStores(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case "memory":
		return a.setupMemoryStores()
	case "external":
		return a.setupExternalStores(ctx)
	default:
		return fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
}

func (a *app) setupMemoryStores() error {
	mem := store.NewMemoryStore()
	if path := a.cfg.Store.RosterFile; path != "" {
		roster, err := store.LoadRoster(path)
		if err != nil {
			return err
		}
		if err := roster.Apply(mem); err != nil {
			return err
		}
		developers, statuses, feedback := mem.Counts()
		a.logger.Info("Loaded roster",
			"path", path,
			"developers", developers,
			"statuses", statuses,
			"feedback", feedback,
		)
	} else {
		a.logger.Warn("No roster file configured, starting with an empty developer roster")
	}
	a.source = mem
	a.directory = mem
	a.developers = mem
	a.feedback = mem
	a.statuses = mem

	a.health.RegisterChecker(resilience.ComponentDatabase, health.NewPingChecker(resilience.ComponentDatabase, mem))
	a.registry.RegisterFor(resilience.ComponentDatabase, resilience.ActionResetConnection, mem.Health)
	a.procedures = append(a.procedures, resilience.DatabaseProcedure())

	queue := intake.NewMemoryQueue(memoryQueueCapacity, a.cfg.Agent.PollInterval)
	a.queue = queue
	a.depths["intake"] = queue.Depth

	a.health.RegisterChecker(resilience.ComponentIntake, health.NewPingChecker(resilience.ComponentIntake, queue))
	a.registry.RegisterFor(resilience.ComponentIntake, resilience.ActionResetConnection, queue.Health)
	a.procedures = append(a.procedures, resilience.IntakeProcedure())
	return nil
}

func (a *app) setupExternalStores(ctx context.Context) error {
	repo, err := store.NewPostgresRepository(&a.cfg.Database)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, repo.Close)
	a.logger.Info("Database connection established", "host", a.cfg.Database.Host, "name", a.cfg.Database.Name)

	redisClient, err := store.NewRedisClient(&a.cfg.Redis)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, redisClient.Close)
	a.logger.Info("Redis connection established", "host", a.cfg.Redis.Host, "db", a.cfg.Redis.DB)

	statuses := store.NewRedisStatusStore(redisClient, a.cfg.Redis.StatusKey)
	a.source = store.NewCompositeSource(repo, statuses, repo)
	a.directory = repo
	a.developers = repo
	a.feedback = repo
	a.statuses = statuses

	queue := intake.NewRedisQueue(redisClient, a.cfg.Redis.IntakeQueue, a.cfg.Redis.DeadLetterQueue)
	a.queue = queue
	a.depths["intake"] = queue.Depth
	a.depths["dead_letter"] = queue.DeadLetterDepth

	a.health.RegisterChecker(resilience.ComponentDatabase, health.NewPingChecker(resilience.ComponentDatabase, repo))
	a.registry.RegisterFor(resilience.ComponentDatabase, resilience.ActionResetConnection, repo.Reconnect)
	a.registry.RegisterFor(resilience.ComponentDatabase, resilience.ActionClearCache, func(ctx context.Context) error {
		return repo.ClearStatementCache()
	})

	a.health.RegisterChecker(resilience.ComponentStatusStore, health.NewPingChecker(resilience.ComponentStatusStore, redisClient))
	a.registry.RegisterFor(resilience.ComponentStatusStore, resilience.ActionResetConnection, redisClient.Reconnect)
	a.registry.RegisterFor(resilience.ComponentStatusStore, resilience.ActionClearCache, func(ctx context.Context) error {
		purged, err := queue.PurgeDeadLetters(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("Purged dead letter queue", "entries", purged)
		return nil
	})

	a.health.RegisterChecker(resilience.ComponentIntake, health.NewPingChecker(resilience.ComponentIntake, queue))
	a.registry.RegisterFor(resilience.ComponentIntake, resilience.ActionResetConnection, queue.Reconnect)

	a.procedures = append(a.procedures,
		resilience.DatabaseProcedure(),
		resilience.StatusStoreProcedure(),
		resilience.IntakeProcedure(),
	)
	return nil
}

// setupAgents creates one agent and one worker per configured instance
func (a *app) setupAgents() error {
	scoring, err := assignment.NewConfig(a.cfg.Scoring)
	if err != nil {
		return err
	}
	algorithm, err := assignment.NewAlgorithm(scoring)
	if err != nil {
		return err
	}

	rc := a.cfg.Resilience.Retry
	retrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts:       rc.MaxAttempts,
		InitialDelay:      rc.BaseDelay,
		MaxDelay:          rc.MaxDelay,
		BackoffMultiplier: rc.Multiplier,
		Strategy:          resilience.BackoffStrategy(rc.Strategy),
		Jitter:            rc.Jitter,
	}).WithLogger(a.logger)

	for i := 1; i <= a.cfg.Agent.Count; i++ {
		id := fmt.Sprintf("%s-%d", a.cfg.Agent.IDPrefix, i)
		ag, err := agent.New(agent.Config{
			ID:                     id,
			HealthCheckInterval:    a.cfg.Resilience.HealthCheckInterval,
			MaxConsecutiveFailures: a.cfg.Resilience.MaxConsecutiveFailures,
			EscalateToManual:       a.cfg.Agent.EscalateToManual,
		}, algorithm, a.source, a.degradation, retrier, a.logger,
			agent.WithAlerter(a.alerts),
			agent.WithRecorder(a.recorder()),
			agent.WithTracer(a.tracer),
		)
		if err != nil {
			return err
		}

		a.health.RegisterFunc(ag.Component(), ag.HealthCheck)
		ag.RegisterRecovery(a.registry)
		a.procedures = append(a.procedures, resilience.AgentProcedure(id))

		a.agents = append(a.agents, ag)
		a.workers = append(a.workers, agent.NewWorker(ag, a.queue, nil, a.cfg.Agent.PollInterval, a.logger))
	}

	a.logger.Info("Assignment agents created", "count", len(a.agents))
	return nil
}

// recorder avoids handing agents a typed nil when metrics are disabled
func (a *app) recorder() agent.Recorder {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

// setupRecovery registers procedures and builds the recovery manager and the
// supervisor. It runs after every component has registered its actions.
func (a *app) setupRecovery() error {
	rc := a.cfg.Resilience

	a.orchestrator = resilience.NewOrchestrator(a.health, a.logger)
	a.orchestrator.SetDefaults(rc.StepTimeout, rc.ProcedureBudget)

	defs := a.procedures
	if rc.ProceduresFile != "" {
		custom, err := resilience.LoadProcedures(rc.ProceduresFile)
		if err != nil {
			return err
		}
		a.logger.Info("Loaded recovery procedures", "path", rc.ProceduresFile, "count", len(custom))
		// later definitions replace earlier ones for the same component
		defs = append(defs, custom...)
	}
	if err := a.orchestrator.RegisterDefinitions(a.registry, defs...); err != nil {
		return err
	}

	a.recovery = resilience.NewRecoveryManager(a.orchestrator, a.health, a.degradation, resilience.RecoveryConfig{
		MaxAttempts: rc.MaxRecoveryAttempts,
		Window:      rc.RecoveryWindow,
		SettleDelay: rc.RecoverySettleDelay,
	}, a.logger)
	a.recovery.SetAlerter(a.alerts)
	a.recovery.SetTracer(a.tracer)
	if a.metrics != nil {
		a.recovery.SetObserver(a.metrics)
	}

	supervisor, err := resilience.NewSupervisor(a.health, a.degradation, a.recovery, rc.RecoverySchedule, a.logger)
	if err != nil {
		return err
	}
	supervisor.SetAlerter(a.alerts)
	a.supervisor = supervisor
	return nil
}

func (a *app) newCollector() *metrics.Collector {
	if a.metrics == nil {
		return nil
	}
	return metrics.NewCollector(a.metrics, 15*time.Second, a.depths)
}

// close releases backend connections in reverse order of creation
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing connection", "error", err)
		}
	}
}
