package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check is the health record produced by one check run
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Healthy reports whether the component can serve requests. Degraded counts
// as serving.
func (c *Check) Healthy() bool {
	return c != nil && (c.Status == StatusHealthy || c.Status == StatusDegraded)
}

func (c *Check) clone() *Check {
	out := *c
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Observer receives the outcome of every check
type Observer interface {
	ObserveHealthCheck(component string, healthy bool, duration time.Duration)
}

// Service runs registered checks on demand and caches the last result of each.
type Service struct {
	checkers map[string]Checker
	cache    map[string]*Check
	logger   *logging.Logger
	observer Observer
	timeout  time.Duration
	metadata map[string]string
	mutex    sync.RWMutex
}

// Config holds health check configuration
type Config struct {
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata"`
}

// DefaultConfig returns default health check configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		Metadata: make(map[string]string),
	}
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &Service{
		checkers: make(map[string]Checker),
		cache:    make(map[string]*Check),
		logger:   logging.OrDefault(logger),
		timeout:  config.Timeout,
		metadata: config.Metadata,
	}
}

// SetObserver attaches an observer, typically the metrics recorder
func (s *Service) SetObserver(o Observer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.observer = o
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// RegisterFunc registers a check that only reports success or failure
func (s *Service) RegisterFunc(name string, fn func(ctx context.Context) error) {
	s.RegisterChecker(name, NewCustomChecker(name, func(ctx context.Context) (Status, string, error) {
		if err := fn(ctx); err != nil {
			return StatusUnhealthy, "", err
		}
		return StatusHealthy, fmt.Sprintf("%s is healthy", name), nil
	}))
}

// UnregisterChecker unregisters a health checker and drops its cached result
func (s *Service) UnregisterChecker(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.checkers, name)
	delete(s.cache, name)
}

// Names returns the registered component names in sorted order
func (s *Service) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.checkers))
	for name := range s.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs the named check now and caches the result. An unregistered name
// yields an unhealthy record rather than an error.
func (s *Service) Check(ctx context.Context, name string) *Check {
	s.mutex.RLock()
	checker, ok := s.checkers[name]
	s.mutex.RUnlock()

	if !ok {
		return &Check{
			Name:      name,
			Status:    StatusUnhealthy,
			Error:     fmt.Sprintf("no health check registered for %s", name),
			Timestamp: time.Now(),
		}
	}

	check := s.run(ctx, name, checker)
	s.store(check)
	return check.clone()
}

// CheckHealth performs all health checks concurrently
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	checks := make(map[string]*Check, len(checkers))
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			check := s.run(ctx, name, checker)
			s.store(check)

			mutex.Lock()
			checks[name] = check.clone()
			mutex.Unlock()
		}(name, checker)
	}

	wg.Wait()

	return &HealthResponse{
		Status:    overall(checks),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// Cached returns the last stored result for name without running the check
func (s *Service) Cached(name string) (*Check, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	check, ok := s.cache[name]
	if !ok {
		return nil, false
	}
	return check.clone(), true
}

// CachedAll returns a copy of every cached result
func (s *Service) CachedAll() map[string]*Check {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make(map[string]*Check, len(s.cache))
	for name, check := range s.cache {
		out[name] = check.clone()
	}
	return out
}

// Overall summarizes the cached results
func (s *Service) Overall() Status {
	return overall(s.CachedAll())
}

func overall(checks map[string]*Check) Status {
	if len(checks) == 0 {
		return StatusUnknown
	}

	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy, StatusUnknown:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (s *Service) run(ctx context.Context, name string, checker Checker) (check *Check) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			check = &Check{
				Status: StatusUnhealthy,
				Error:  fmt.Sprintf("health check panicked: %v", r),
			}
		}
		if check == nil {
			check = &Check{Status: StatusUnhealthy, Error: "health check returned no result"}
		}
		check.Name = name
		if check.Timestamp.IsZero() {
			check.Timestamp = start
		}
		if check.Duration == 0 {
			check.Duration = time.Since(start)
		}
		if !check.Healthy() {
			s.logger.Warn("Health check failed",
				"component", name,
				"status", string(check.Status),
				"error", check.Error,
			)
		}
	}()

	return checker.Check(ctx)
}

func (s *Service) store(check *Check) {
	s.mutex.Lock()
	s.cache[check.Name] = check.clone()
	observer := s.observer
	s.mutex.Unlock()

	if observer != nil {
		observer.ObserveHealthCheck(check.Name, check.Healthy(), check.Duration)
	}
}

// Handler returns a Gin handler for health checks
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, health)
	}
}

// ComponentHandler runs a single named check, taken from the :component path parameter
func (s *Service) ComponentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		check := s.Check(ctx, c.Param("component"))

		statusCode := http.StatusOK
		if !check.Healthy() {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, check)
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// Pinger is implemented by backends that can verify their own connectivity
type Pinger interface {
	Health(ctx context.Context) error
}

// MetadataReporter is optionally implemented by a Pinger to expose pool stats
type MetadataReporter interface {
	HealthMetadata() map[string]string
}

// PingChecker checks a backend through its Health method
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a checker for a backend connection
func NewPingChecker(name string, pinger Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: pinger}
}

// Check performs the connectivity check
func (pc *PingChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      pc.name,
		Timestamp: start,
	}

	if pc.pinger == nil {
		check.Status = StatusUnhealthy
		check.Error = fmt.Sprintf("%s connection is nil", pc.name)
		check.Duration = time.Since(start)
		return check
	}

	if err := pc.pinger.Health(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	check.Status = StatusHealthy
	check.Message = fmt.Sprintf("%s is healthy", pc.name)
	check.Duration = time.Since(start)
	if reporter, ok := pc.pinger.(MetadataReporter); ok {
		check.Metadata = reporter.HealthMetadata()
	}
	return check
}

// CustomChecker allows for custom health checks
type CustomChecker struct {
	name     string
	checkFn  func(ctx context.Context) (Status, string, error)
	metadata map[string]string
}

// NewCustomChecker creates a new custom health checker
func NewCustomChecker(name string, checkFn func(ctx context.Context) (Status, string, error)) *CustomChecker {
	return &CustomChecker{
		name:     name,
		checkFn:  checkFn,
		metadata: make(map[string]string),
	}
}

// WithMetadata adds metadata to the custom checker
func (cc *CustomChecker) WithMetadata(metadata map[string]string) *CustomChecker {
	cc.metadata = metadata
	return cc
}

// Check performs the custom health check
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	status, message, err := cc.checkFn(ctx)

	check := &Check{
		Name:      cc.name,
		Status:    status,
		Message:   message,
		Duration:  time.Since(start),
		Timestamp: start,
		Metadata:  cc.metadata,
	}
	if err != nil {
		check.Error = err.Error()
		if status == StatusHealthy {
			check.Status = StatusUnhealthy
		}
	}
	return check
}
