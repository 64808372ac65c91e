package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

const (
	stmtListDevelopers    = "list_developers"
	stmtRecentFeedback    = "recent_feedback"
	stmtDeveloperFeedback = "developer_feedback"
)

var queries = map[string]string{
	stmtListDevelopers: `
		SELECT id, name, handle, email, skills, experience, max_capacity,
		       preferred_categories, timezone
		FROM developers
		WHERE active
		ORDER BY id`,
	stmtRecentFeedback: `
		SELECT developer_id, bug_id, rating, created_at
		FROM (
			SELECT developer_id, bug_id, rating, created_at,
			       ROW_NUMBER() OVER (PARTITION BY developer_id ORDER BY created_at DESC) AS rn
			FROM assignment_feedback
		) recent
		WHERE rn <= $1
		ORDER BY developer_id, created_at DESC`,
	stmtDeveloperFeedback: `
		SELECT developer_id, bug_id, rating, created_at
		FROM assignment_feedback
		WHERE developer_id = $1 AND created_at >= $2
		ORDER BY created_at DESC`,
}

// developerRow is the developers table row
type developerRow struct {
	ID                  string         `db:"id"`
	Name                string         `db:"name"`
	Handle              string         `db:"handle"`
	Email               string         `db:"email"`
	Skills              pq.StringArray `db:"skills"`
	Experience          string         `db:"experience"`
	MaxCapacity         int            `db:"max_capacity"`
	PreferredCategories pq.StringArray `db:"preferred_categories"`
	Timezone            string         `db:"timezone"`
}

func (r developerRow) toDeveloper() assignment.Developer {
	categories := make([]assignment.Category, 0, len(r.PreferredCategories))
	for _, c := range r.PreferredCategories {
		categories = append(categories, assignment.ParseCategory(c))
	}
	return assignment.Developer{
		ID:                  r.ID,
		Name:                r.Name,
		Handle:              r.Handle,
		Email:               r.Email,
		Skills:              []string(r.Skills),
		Experience:          assignment.ParseExperienceLevel(r.Experience),
		MaxCapacity:         r.MaxCapacity,
		PreferredCategories: categories,
		Timezone:            r.Timezone,
	}
}

// PostgresRepository is the developer directory and feedback history. It
// caches prepared statements and can reconnect in place.
type PostgresRepository struct {
	mutex     sync.RWMutex
	db        *sqlx.DB
	config    *config.DatabaseConfig
	stmtMutex sync.RWMutex
	stmtCache map[string]*sqlx.Stmt
}

// ConnString builds the lib/pq connection string for cfg
func ConnString(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

func connect(ctx context.Context, cfg *config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", ConnString(cfg))
	if err != nil {
		return nil, errors.NewExternalError("postgres", "failed to open database").WithCause(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewExternalError("postgres", "failed to ping database").WithCause(err)
	}
	return db, nil
}

// NewPostgresRepository connects to the database described by cfg
func NewPostgresRepository(cfg *config.DatabaseConfig) (*PostgresRepository, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresRepository{
		db:        db,
		config:    cfg,
		stmtCache: make(map[string]*sqlx.Stmt),
	}, nil
}

func (p *PostgresRepository) conn() *sqlx.DB {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.db
}

// Close closes cached statements and the connection pool
func (p *PostgresRepository) Close() error {
	p.ClearStatementCache()

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Health checks the database connection health
func (p *PostgresRepository) Health(ctx context.Context) error {
	db := p.conn()
	if db == nil {
		return errors.NewInternalError("database connection is nil")
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.NewExternalError("postgres", "database health check failed").WithCause(err)
	}
	return nil
}

// HealthMetadata exposes pool statistics on the health endpoint
func (p *PostgresRepository) HealthMetadata() map[string]string {
	db := p.conn()
	if db == nil {
		return nil
	}
	stats := db.Stats()
	return map[string]string{
		"open_connections": strconv.Itoa(stats.OpenConnections),
		"in_use":           strconv.Itoa(stats.InUse),
		"idle":             strconv.Itoa(stats.Idle),
		"cached_stmts":     strconv.Itoa(p.cachedStatements()),
	}
}

// Reconnect opens a fresh pool, swaps it in and closes the old one along
// with every statement prepared on it.
func (p *PostgresRepository) Reconnect(ctx context.Context) error {
	if p.config == nil {
		return errors.NewInternalError("database repository has no configuration")
	}

	fresh, err := connect(ctx, p.config)
	if err != nil {
		return err
	}

	p.ClearStatementCache()

	p.mutex.Lock()
	old := p.db
	p.db = fresh
	p.mutex.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// prepare returns the cached statement for name, preparing it on first use
func (p *PostgresRepository) prepare(ctx context.Context, name string) (*sqlx.Stmt, error) {
	p.stmtMutex.RLock()
	if stmt, ok := p.stmtCache[name]; ok {
		p.stmtMutex.RUnlock()
		return stmt, nil
	}
	p.stmtMutex.RUnlock()

	p.stmtMutex.Lock()
	defer p.stmtMutex.Unlock()

	// Double-check after acquiring write lock
	if stmt, ok := p.stmtCache[name]; ok {
		return stmt, nil
	}

	stmt, err := p.conn().PreparexContext(ctx, queries[name])
	if err != nil {
		return nil, errors.NewExternalError("postgres", "failed to prepare statement").WithCause(err)
	}
	p.stmtCache[name] = stmt
	return stmt, nil
}

// ClearStatementCache closes every cached prepared statement
func (p *PostgresRepository) ClearStatementCache() error {
	p.stmtMutex.Lock()
	defer p.stmtMutex.Unlock()

	var errs []error
	for name, stmt := range p.stmtCache {
		if err := stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close statement %s: %w", name, err))
		}
	}
	p.stmtCache = make(map[string]*sqlx.Stmt)

	if len(errs) > 0 {
		return errors.NewInternalError("failed to clear statement cache").WithCause(fmt.Errorf("%v", errs))
	}
	return nil
}

func (p *PostgresRepository) cachedStatements() int {
	p.stmtMutex.RLock()
	defer p.stmtMutex.RUnlock()
	return len(p.stmtCache)
}

// ListDevelopers returns every active developer ordered by id
func (p *PostgresRepository) ListDevelopers(ctx context.Context) ([]assignment.Developer, error) {
	stmt, err := p.prepare(ctx, stmtListDevelopers)
	if err != nil {
		return nil, err
	}

	var rows []developerRow
	if err := stmt.SelectContext(ctx, &rows); err != nil {
		return nil, errors.NewExternalError("postgres", "failed to list developers").WithCause(err)
	}

	developers := make([]assignment.Developer, len(rows))
	for i, row := range rows {
		developers[i] = row.toDeveloper()
	}
	return developers, nil
}

// RecentFeedback returns the latest ratings, newest first, at most limit per
// developer
func (p *PostgresRepository) RecentFeedback(ctx context.Context, limit int) (map[string][]assignment.Feedback, error) {
	stmt, err := p.prepare(ctx, stmtRecentFeedback)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultFeedbackPerDeveloper
	}

	var rows []assignment.Feedback
	if err := stmt.SelectContext(ctx, &rows, limit); err != nil {
		return nil, errors.NewExternalError("postgres", "failed to load feedback").WithCause(err)
	}

	feedback := make(map[string][]assignment.Feedback)
	for _, fb := range rows {
		feedback[fb.DeveloperID] = append(feedback[fb.DeveloperID], fb)
	}
	return feedback, nil
}

// UpsertDeveloper inserts or updates a developer profile
func (p *PostgresRepository) UpsertDeveloper(ctx context.Context, dev assignment.Developer) error {
	if dev.ID == "" {
		return errors.NewValidationError("developer id is required")
	}

	categories := make([]string, len(dev.PreferredCategories))
	for i, c := range dev.PreferredCategories {
		categories[i] = string(c)
	}

	query := `
		INSERT INTO developers (id, name, handle, email, skills, experience, max_capacity,
		                        preferred_categories, timezone, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			handle = EXCLUDED.handle,
			email = EXCLUDED.email,
			skills = EXCLUDED.skills,
			experience = EXCLUDED.experience,
			max_capacity = EXCLUDED.max_capacity,
			preferred_categories = EXCLUDED.preferred_categories,
			timezone = EXCLUDED.timezone,
			active = TRUE,
			updated_at = NOW()`

	_, err := p.conn().ExecContext(ctx, query,
		dev.ID, dev.Name, dev.Handle, dev.Email, pq.Array(dev.Skills), dev.Experience.String(),
		dev.MaxCapacity, pq.Array(categories), dev.Timezone,
	)
	if err != nil {
		return errors.NewExternalError("postgres", "failed to upsert developer").WithCause(err)
	}
	return nil
}

// DeactivateDeveloper hides a developer from the directory, keeping history
func (p *PostgresRepository) DeactivateDeveloper(ctx context.Context, id string) error {
	result, err := p.conn().ExecContext(ctx,
		`UPDATE developers SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return errors.NewExternalError("postgres", "failed to deactivate developer").WithCause(err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("developer")
	}
	return nil
}

// DeveloperFeedback returns one developer's ratings at or after since, newest first
func (p *PostgresRepository) DeveloperFeedback(ctx context.Context, developerID string, since time.Time) ([]assignment.Feedback, error) {
	stmt, err := p.prepare(ctx, stmtDeveloperFeedback)
	if err != nil {
		return nil, err
	}

	var rows []assignment.Feedback
	if err := stmt.SelectContext(ctx, &rows, developerID, since); err != nil {
		return nil, errors.NewExternalError("postgres", "failed to load developer feedback").WithCause(err)
	}
	return rows, nil
}

// RecordFeedback appends a rating for a past assignment
func (p *PostgresRepository) RecordFeedback(ctx context.Context, fb assignment.Feedback) error {
	if err := ValidateFeedback(fb); err != nil {
		return err
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now()
	}

	_, err := p.conn().ExecContext(ctx,
		`INSERT INTO assignment_feedback (developer_id, bug_id, rating, created_at) VALUES ($1, $2, $3, $4)`,
		fb.DeveloperID, fb.BugID, fb.Rating, fb.Timestamp,
	)
	if err != nil {
		return errors.NewExternalError("postgres", "failed to record feedback").WithCause(err)
	}
	return nil
}
