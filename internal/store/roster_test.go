package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
)

const testRoster = `
developers:
  - id: alice
    name: Alice
    handle: alice-gh
    skills: [Go, PostgreSQL, Redis]
    experience: senior
    max_capacity: 6
    preferred_categories: [backend, database]
  - id: bob
    name: Bob
    skills: [React, CSS]
    experience: mid
    max_capacity: 4
statuses:
  - developer_id: alice
    current_workload: 3
    availability: Available
    calendar_free: true
  - developer_id: bob
    current_workload: 1
    availability: focus_time
feedback:
  - developer_id: alice
    rating: 5
    timestamp: 2024-05-30T10:00:00Z
`

func TestLoadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRoster), 0o600))

	roster, err := LoadRoster(path)
	require.NoError(t, err)
	require.Len(t, roster.Developers, 2)
	assert.Equal(t, assignment.Senior, roster.Developers[0].Experience)
	assert.Equal(t, []assignment.Category{assignment.CategoryBackend, assignment.CategoryDatabase},
		roster.Developers[0].PreferredCategories)

	m := NewMemoryStore()
	require.NoError(t, roster.Apply(m))

	snap, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Developers, 2)
	assert.Equal(t, assignment.Available, snap.Statuses["alice"].Availability, "availability is normalized")
	assert.Equal(t, assignment.FocusTime, snap.Statuses["bob"].Availability)
	assert.Equal(t, 3, snap.Statuses["alice"].CurrentWorkload)
	require.Len(t, snap.Feedback["alice"], 1)
	assert.Equal(t, 5, snap.Feedback["alice"][0].Rating)
}

func TestParseRoster_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", "developers: [\n"},
		{"missing id", "developers:\n  - name: nobody\n"},
		{"duplicate id", "developers:\n  - id: a\n  - id: a\n"},
		{"unknown status", "developers:\n  - id: a\nstatuses:\n  - developer_id: b\n"},
		{"unknown feedback", "developers:\n  - id: a\nfeedback:\n  - developer_id: b\n    rating: 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoster([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadRoster_MissingFile(t *testing.T) {
	_, err := LoadRoster(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
