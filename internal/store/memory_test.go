package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	appErrors "github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

var storeNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	m.now = func() time.Time { return storeNow }

	require.NoError(t, m.UpsertDeveloper(context.Background(), assignment.Developer{
		ID: "dev-b", Name: "B", Skills: []string{"go"}, PreferredCategories: []assignment.Category{assignment.CategoryBackend},
	}))
	require.NoError(t, m.UpsertDeveloper(context.Background(), assignment.Developer{ID: "dev-a", Name: "A", Skills: []string{"react"}}))
	require.NoError(t, m.SetStatus(context.Background(), assignment.Status{DeveloperID: "dev-a", Availability: assignment.Available}))
	return m
}

func TestMemoryStore_SnapshotIsDeepCopy(t *testing.T) {
	m := newTestMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, m.AddFeedback(assignment.Feedback{DeveloperID: "dev-a", Rating: 4}))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Developers, 2)
	assert.Equal(t, "dev-a", snap.Developers[0].ID, "ordered by id")
	assert.Equal(t, storeNow, snap.LoadedAt)
	assert.Equal(t, storeNow, snap.Statuses["dev-a"].UpdatedAt)
	assert.Equal(t, storeNow, snap.Feedback["dev-a"][0].Timestamp)

	// mutate everything the caller received
	snap.Developers[1].Skills[0] = "cobol"
	snap.Developers[1].PreferredCategories[0] = assignment.CategoryMobile
	snap.Statuses["dev-a"] = assignment.Status{DeveloperID: "dev-a", Availability: assignment.Unavailable}
	snap.Feedback["dev-a"][0].Rating = 1

	again, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, again.Developers[1].Skills)
	assert.Equal(t, []assignment.Category{assignment.CategoryBackend}, again.Developers[1].PreferredCategories)
	assert.Equal(t, assignment.Available, again.Statuses["dev-a"].Availability)
	assert.Equal(t, 4, again.Feedback["dev-a"][0].Rating)
}

func TestMemoryStore_Validation(t *testing.T) {
	m := NewMemoryStore()

	assert.True(t, appErrors.IsType(m.UpsertDeveloper(context.Background(), assignment.Developer{}), appErrors.ErrorTypeValidation))
	assert.Error(t, m.SetStatus(context.Background(), assignment.Status{}))
	assert.Error(t, m.SetStatus(context.Background(), assignment.Status{DeveloperID: "d", CurrentWorkload: -1}))
	assert.Error(t, m.AddFeedback(assignment.Feedback{DeveloperID: "d", Rating: 0}))
	assert.Error(t, m.AddFeedback(assignment.Feedback{DeveloperID: "d", Rating: 6}))
	assert.Error(t, m.AddFeedback(assignment.Feedback{Rating: 3}))
}

func TestMemoryStore_DeactivateAndClear(t *testing.T) {
	m := newTestMemoryStore(t)
	require.NoError(t, m.AddFeedback(assignment.Feedback{DeveloperID: "dev-a", Rating: 5}))

	require.NoError(t, m.ClearStatus(context.Background(), "dev-a"))
	devs, statuses, feedback := m.Counts()
	assert.Equal(t, 2, devs)
	assert.Equal(t, 0, statuses)
	assert.Equal(t, 1, feedback)

	require.NoError(t, m.DeactivateDeveloper(context.Background(), "dev-a"))
	devs, _, feedback = m.Counts()
	assert.Equal(t, 1, devs)
	assert.Equal(t, 1, feedback, "history survives deactivation")

	err := m.DeactivateDeveloper(context.Background(), "dev-a")
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeNotFound))
}

func TestMemoryStore_RecentFeedback(t *testing.T) {
	m := newTestMemoryStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddFeedback(assignment.Feedback{
			DeveloperID: "dev-a",
			Rating:      i + 1,
			Timestamp:   storeNow.Add(-time.Duration(i) * 24 * time.Hour),
		}))
	}
	require.NoError(t, m.AddFeedback(assignment.Feedback{
		DeveloperID: "dev-b", Rating: 5, Timestamp: storeNow.Add(-40 * 24 * time.Hour),
	}))

	recent, err := m.RecentFeedback(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, recent["dev-a"], 3)
	assert.Equal(t, []int{1, 2, 3}, []int{recent["dev-a"][0].Rating, recent["dev-a"][1].Rating, recent["dev-a"][2].Rating})

	// age is not filtered at load time
	require.Len(t, recent["dev-b"], 1)
	assert.Equal(t, 5, recent["dev-b"][0].Rating)

	all, err := m.RecentFeedback(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all["dev-a"], 5)
}

func TestMemoryStore_SnapshotCapsFeedbackPerDeveloper(t *testing.T) {
	m := newTestMemoryStore(t)
	for i := 0; i < DefaultFeedbackPerDeveloper+5; i++ {
		require.NoError(t, m.AddFeedback(assignment.Feedback{
			DeveloperID: "dev-a",
			Rating:      3,
			Timestamp:   storeNow.Add(-time.Duration(i) * time.Hour),
		}))
	}

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Feedback["dev-a"], DefaultFeedbackPerDeveloper)
	assert.Equal(t, storeNow, snap.Feedback["dev-a"][0].Timestamp, "newest first")

	_, _, total := m.Counts()
	assert.Equal(t, DefaultFeedbackPerDeveloper+5, total)
}

func TestMemoryStore_Failure(t *testing.T) {
	m := newTestMemoryStore(t)
	ctx := context.Background()
	outage := errors.New("connection refused")

	m.SetFailure(outage)
	assert.ErrorIs(t, m.Health(ctx), outage)
	_, err := m.Snapshot(ctx)
	assert.ErrorIs(t, err, outage)
	_, err = m.ListDevelopers(ctx)
	assert.ErrorIs(t, err, outage)
	_, err = m.Statuses(ctx)
	assert.ErrorIs(t, err, outage)

	m.SetFailure(nil)
	assert.NoError(t, m.Health(ctx))
	_, err = m.Snapshot(ctx)
	assert.NoError(t, err)
}

func TestSnapshot_Clone(t *testing.T) {
	var nilSnap *Snapshot
	assert.Nil(t, nilSnap.Clone())

	snap := &Snapshot{
		Developers: []assignment.Developer{{ID: "a", Skills: []string{"go"}}},
		Statuses:   map[string]assignment.Status{"a": {DeveloperID: "a"}},
		Feedback:   map[string][]assignment.Feedback{"a": {{Rating: 3}}},
	}
	clone := snap.Clone()
	clone.Developers[0].Skills[0] = "rust"
	clone.Feedback["a"][0].Rating = 1
	assert.Equal(t, "go", snap.Developers[0].Skills[0])
	assert.Equal(t, 3, snap.Feedback["a"][0].Rating)
}

func TestMemoryStore_DeveloperFeedback(t *testing.T) {
	m := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, m.RecordFeedback(ctx, assignment.Feedback{DeveloperID: "dev-a", BugID: "bug-1", Rating: 2, Timestamp: storeNow.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, m.RecordFeedback(ctx, assignment.Feedback{DeveloperID: "dev-a", BugID: "bug-2", Rating: 4}))
	require.NoError(t, m.RecordFeedback(ctx, assignment.Feedback{DeveloperID: "dev-b", BugID: "bug-3", Rating: 5}))

	history, err := m.DeveloperFeedback(ctx, "dev-a", storeNow.Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bug-2", history[0].BugID, "newest first")
	assert.Equal(t, storeNow, history[0].Timestamp)

	history, err = m.DeveloperFeedback(ctx, "dev-a", storeNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, history, 1)

	outage := errors.New("connection refused")
	m.SetFailure(outage)
	assert.ErrorIs(t, m.RecordFeedback(ctx, assignment.Feedback{DeveloperID: "dev-a", Rating: 3}), outage)
	assert.ErrorIs(t, m.ClearStatus(ctx, "dev-a"), outage)
	_, err = m.DeveloperFeedback(ctx, "dev-a", time.Time{})
	assert.ErrorIs(t, err, outage)
}
