package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// MemoryStore keeps profiles, statuses and feedback in process. Every read
// returns a deep copy, so callers never observe a later update.
type MemoryStore struct {
	mutex      sync.RWMutex
	developers map[string]assignment.Developer
	statuses   map[string]assignment.Status
	feedback   map[string][]assignment.Feedback
	failure    error
	now        func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		developers: make(map[string]assignment.Developer),
		statuses:   make(map[string]assignment.Status),
		feedback:   make(map[string][]assignment.Feedback),
		now:        time.Now,
	}
}

// UpsertDeveloper adds or replaces a developer profile
func (m *MemoryStore) UpsertDeveloper(ctx context.Context, dev assignment.Developer) error {
	if err := m.Health(ctx); err != nil {
		return err
	}
	return m.putDeveloper(dev)
}

func (m *MemoryStore) putDeveloper(dev assignment.Developer) error {
	if dev.ID == "" {
		return errors.NewValidationError("developer id is required")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.developers[dev.ID] = cloneDeveloper(dev)
	return nil
}

// DeactivateDeveloper drops a developer and their status from the candidate
// set. Their feedback history is kept.
func (m *MemoryStore) DeactivateDeveloper(ctx context.Context, id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.failure != nil {
		return m.failure
	}
	if _, ok := m.developers[id]; !ok {
		return errors.NewNotFoundError("developer")
	}
	delete(m.developers, id)
	delete(m.statuses, id)
	return nil
}

// SetStatus replaces a developer's live status
func (m *MemoryStore) SetStatus(ctx context.Context, status assignment.Status) error {
	return m.putStatus(status)
}

func (m *MemoryStore) putStatus(status assignment.Status) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = m.now()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.statuses[status.DeveloperID] = status
	return nil
}

// ClearStatus removes a developer's status, taking them out of the candidate set
func (m *MemoryStore) ClearStatus(ctx context.Context, developerID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.failure != nil {
		return m.failure
	}
	delete(m.statuses, developerID)
	return nil
}

// RecordFeedback appends a rating, failing while an outage is injected
func (m *MemoryStore) RecordFeedback(ctx context.Context, fb assignment.Feedback) error {
	if err := m.Health(ctx); err != nil {
		return err
	}
	return m.AddFeedback(fb)
}

// AddFeedback appends a rating
func (m *MemoryStore) AddFeedback(fb assignment.Feedback) error {
	if err := ValidateFeedback(fb); err != nil {
		return err
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = m.now()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.feedback[fb.DeveloperID] = append(m.feedback[fb.DeveloperID], fb)
	return nil
}

// SetFailure makes every read fail with err until it is called with nil.
// It stands in for a backend outage in tests and drills.
func (m *MemoryStore) SetFailure(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failure = err
}

// Health reports the injected failure, if any
func (m *MemoryStore) Health(ctx context.Context) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.failure
}

// ListDevelopers returns every profile ordered by id
func (m *MemoryStore) ListDevelopers(ctx context.Context) ([]assignment.Developer, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	return m.developerList(), nil
}

// Statuses returns a copy of every status
func (m *MemoryStore) Statuses(ctx context.Context) (map[string]assignment.Status, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}
	return cloneStatuses(m.statuses), nil
}

// RecentFeedback returns the latest ratings, newest first, at most limit per
// developer. A limit of zero or less means no limit.
func (m *MemoryStore) RecentFeedback(ctx context.Context, limit int) (map[string][]assignment.Feedback, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}

	return m.latestFeedback(limit), nil
}

// DeveloperFeedback returns one developer's ratings at or after since, newest first
func (m *MemoryStore) DeveloperFeedback(ctx context.Context, developerID string, since time.Time) ([]assignment.Feedback, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}

	var out []assignment.Feedback
	for _, fb := range m.feedback[developerID] {
		if !fb.Timestamp.Before(since) {
			out = append(out, fb)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Snapshot returns a deep copy of all profiles, statuses and the latest
// DefaultFeedbackPerDeveloper ratings per developer, taken under one read lock.
func (m *MemoryStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.failure != nil {
		return nil, m.failure
	}

	return &Snapshot{
		Developers: m.developerList(),
		Statuses:   cloneStatuses(m.statuses),
		Feedback:   m.latestFeedback(DefaultFeedbackPerDeveloper),
		LoadedAt:   m.now(),
	}, nil
}

// Counts returns the number of developers, statuses and feedback entries
func (m *MemoryStore) Counts() (developers, statuses, feedback int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, fb := range m.feedback {
		feedback += len(fb)
	}
	return len(m.developers), len(m.statuses), feedback
}

// developerList must be called with the read lock held
func (m *MemoryStore) developerList() []assignment.Developer {
	out := make([]assignment.Developer, 0, len(m.developers))
	for _, d := range m.developers {
		out = append(out, cloneDeveloper(d))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// latestFeedback must be called with the read lock held
func (m *MemoryStore) latestFeedback(limit int) map[string][]assignment.Feedback {
	out := make(map[string][]assignment.Feedback, len(m.feedback))
	for id, all := range m.feedback {
		if len(all) == 0 {
			continue
		}
		recent := append([]assignment.Feedback(nil), all...)
		sort.SliceStable(recent, func(i, j int) bool {
			return recent[i].Timestamp.After(recent[j].Timestamp)
		})
		if limit > 0 && len(recent) > limit {
			recent = recent[:limit]
		}
		out[id] = recent
	}
	return out
}
