// Package store provides the developer snapshot sources the assignment
// agents read from: an in-memory store for tests and local runs, and the
// external backends (Postgres directory and feedback, Redis live status).
package store

import (
	"context"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// DefaultFeedbackPerDeveloper caps how many recent ratings are loaded per developer
const DefaultFeedbackPerDeveloper = 50

// Snapshot is a consistent view of everything the algorithm needs. Readers
// own the returned slices and maps.
type Snapshot struct {
	Developers []assignment.Developer
	Statuses   map[string]assignment.Status
	Feedback   map[string][]assignment.Feedback
	LoadedAt   time.Time
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{
		Developers: cloneDevelopers(s.Developers),
		Statuses:   cloneStatuses(s.Statuses),
		Feedback:   cloneFeedback(s.Feedback),
		LoadedAt:   s.LoadedAt,
	}
}

// SnapshotSource loads a snapshot for one assignment
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Health(ctx context.Context) error
}

// DeveloperDirectory lists developer profiles
type DeveloperDirectory interface {
	ListDevelopers(ctx context.Context) ([]assignment.Developer, error)
	Health(ctx context.Context) error
}

// StatusSource returns the live status of every developer, keyed by id
type StatusSource interface {
	Statuses(ctx context.Context) (map[string]assignment.Status, error)
	Health(ctx context.Context) error
}

// FeedbackSource returns the latest ratings, at most limit per developer,
// newest first. Age is not filtered here; the scoring window applies later.
type FeedbackSource interface {
	RecentFeedback(ctx context.Context, limit int) (map[string][]assignment.Feedback, error)
	Health(ctx context.Context) error
}

// FeedbackStore records ratings of past assignments and reads back one
// developer's history
type FeedbackStore interface {
	RecordFeedback(ctx context.Context, fb assignment.Feedback) error
	DeveloperFeedback(ctx context.Context, developerID string, since time.Time) ([]assignment.Feedback, error)
}

// DeveloperStore maintains the developer directory
type DeveloperStore interface {
	UpsertDeveloper(ctx context.Context, dev assignment.Developer) error
	DeactivateDeveloper(ctx context.Context, id string) error
}

// StatusStore updates live developer status
type StatusStore interface {
	SetStatus(ctx context.Context, status assignment.Status) error
	ClearStatus(ctx context.Context, developerID string) error
}

// ValidateFeedback checks a rating before it is stored
func ValidateFeedback(fb assignment.Feedback) error {
	if fb.DeveloperID == "" {
		return errors.NewValidationError("feedback developer id is required")
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return errors.NewValidationError("feedback rating must be between 1 and 5")
	}
	return nil
}

// ValidateStatus checks a status before it is stored
func ValidateStatus(status assignment.Status) error {
	if status.DeveloperID == "" {
		return errors.NewValidationError("status developer id is required")
	}
	if status.CurrentWorkload < 0 {
		return errors.NewValidationError("current workload must be non-negative")
	}
	return nil
}

func cloneDeveloper(d assignment.Developer) assignment.Developer {
	d.Skills = append([]string(nil), d.Skills...)
	d.PreferredCategories = append([]assignment.Category(nil), d.PreferredCategories...)
	return d
}

func cloneDevelopers(devs []assignment.Developer) []assignment.Developer {
	if devs == nil {
		return nil
	}
	out := make([]assignment.Developer, len(devs))
	for i, d := range devs {
		out[i] = cloneDeveloper(d)
	}
	return out
}

func cloneStatuses(statuses map[string]assignment.Status) map[string]assignment.Status {
	out := make(map[string]assignment.Status, len(statuses))
	for id, s := range statuses {
		out[id] = s
	}
	return out
}

func cloneFeedback(feedback map[string][]assignment.Feedback) map[string][]assignment.Feedback {
	out := make(map[string][]assignment.Feedback, len(feedback))
	for id, fb := range feedback {
		out[id] = append([]assignment.Feedback(nil), fb...)
	}
	return out
}
