// Package resilience wraps the triage agents' operations with retry,
// graceful degradation and automated recovery.
//
// # Retry with Backoff
//
// Errors are classified when they are produced (see pkg/errors). Retryable
// errors are retried with exponential, linear, fixed or Fibonacci backoff;
// terminal errors return after a single attempt.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	snapshot, err := resilience.ExecuteWithResult(ctx, retrier, source.Snapshot)
//
// # Graceful Degradation
//
// A component enters degraded mode after a configurable number of
// consecutive failures. Its strategy fires once on entry, and a Guard
// prefers the registered fallback until the primary succeeds again.
//
//	dm := resilience.NewDegradationManager(5, logger)
//	guard := resilience.NewGuard(dm, "assignment", roundRobin)
//	decision, usedFallback, err := guard.Execute(ctx, bug, score)
//
// # Recovery
//
// An Orchestrator runs a component's ordered recovery steps, each with its
// own timeout, inside an overall budget. A failed required step rolls back
// the steps that ran. The RecoveryManager rate limits attempts per
// component, re-checks health after a settle delay and raises a
// manual-intervention alert once attempts are exhausted.
//
//	registry := resilience.NewActionRegistry(logger)
//	registry.RegisterFor("database", resilience.ActionResetConnection, db.Reconnect)
//	orch := resilience.NewOrchestrator(checker, logger)
//	_ = orch.RegisterDefinitions(registry, resilience.DatabaseProcedure())
//	rm := resilience.NewRecoveryManager(orch, checker, dm, resilience.DefaultRecoveryConfig(), logger)
//
// The Supervisor ties these together on a cron schedule.
package resilience
