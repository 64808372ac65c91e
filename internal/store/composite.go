package store

import (
	"context"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// CompositeSource assembles a snapshot from a directory, a live status
// source and a feedback history, each of which may live in a different
// backend.
type CompositeSource struct {
	directory    DeveloperDirectory
	statuses     StatusSource
	feedback     FeedbackSource
	perDeveloper int
	now          func() time.Time
}

// NewCompositeSource creates a source that loads the latest
// DefaultFeedbackPerDeveloper ratings per developer.
func NewCompositeSource(directory DeveloperDirectory, statuses StatusSource, feedback FeedbackSource) *CompositeSource {
	return &CompositeSource{
		directory:    directory,
		statuses:     statuses,
		feedback:     feedback,
		perDeveloper: DefaultFeedbackPerDeveloper,
		now:          time.Now,
	}
}

// Snapshot loads the three parts in turn. Any failure fails the whole
// snapshot; a partial view would skew the ranking.
func (c *CompositeSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := c.now()

	developers, err := c.directory.ListDevelopers(ctx)
	if err != nil {
		return nil, errors.NewExternalError("developer directory", "failed to list developers").WithCause(err)
	}

	statuses, err := c.statuses.Statuses(ctx)
	if err != nil {
		return nil, errors.NewExternalError("status store", "failed to load developer statuses").WithCause(err)
	}

	feedback, err := c.feedback.RecentFeedback(ctx, c.perDeveloper)
	if err != nil {
		return nil, errors.NewExternalError("feedback store", "failed to load feedback").WithCause(err)
	}

	return &Snapshot{
		Developers: developers,
		Statuses:   statuses,
		Feedback:   feedback,
		LoadedAt:   now,
	}, nil
}

// Health checks every backend and returns the first failure
func (c *CompositeSource) Health(ctx context.Context) error {
	if err := c.directory.Health(ctx); err != nil {
		return err
	}
	if err := c.statuses.Health(ctx); err != nil {
		return err
	}
	return c.feedback.Health(ctx)
}
