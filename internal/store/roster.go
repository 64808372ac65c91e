package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// Roster is the YAML seed for a MemoryStore
type Roster struct {
	Developers []assignment.Developer `yaml:"developers"`
	Statuses   []assignment.Status    `yaml:"statuses"`
	Feedback   []RosterFeedback       `yaml:"feedback"`
}

// RosterFeedback is one seeded rating
type RosterFeedback struct {
	DeveloperID string    `yaml:"developer_id"`
	Rating      int       `yaml:"rating"`
	Timestamp   time.Time `yaml:"timestamp"`
}

// LoadRoster reads a roster file
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to read roster file %s", path)).WithCause(err)
	}
	return ParseRoster(data)
}

// ParseRoster decodes a roster document and checks that every status and
// rating refers to a listed developer.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.NewConfigError("failed to parse roster").WithCause(err)
	}

	known := make(map[string]bool, len(r.Developers))
	for i, d := range r.Developers {
		if d.ID == "" {
			return nil, errors.NewConfigError(fmt.Sprintf("roster developer %d has no id", i))
		}
		if known[d.ID] {
			return nil, errors.NewConfigError(fmt.Sprintf("duplicate roster developer %s", d.ID))
		}
		known[d.ID] = true
	}
	for _, s := range r.Statuses {
		if !known[s.DeveloperID] {
			return nil, errors.NewConfigError(fmt.Sprintf("status for unknown developer %q", s.DeveloperID))
		}
	}
	for _, fb := range r.Feedback {
		if !known[fb.DeveloperID] {
			return nil, errors.NewConfigError(fmt.Sprintf("feedback for unknown developer %q", fb.DeveloperID))
		}
	}
	return &r, nil
}

// Apply loads the roster into m
func (r *Roster) Apply(m *MemoryStore) error {
	for _, d := range r.Developers {
		if err := m.putDeveloper(d); err != nil {
			return err
		}
	}
	for _, s := range r.Statuses {
		s.Availability = assignment.ParseAvailability(string(s.Availability))
		if err := m.putStatus(s); err != nil {
			return err
		}
	}
	for _, fb := range r.Feedback {
		err := m.AddFeedback(assignment.Feedback{
			DeveloperID: fb.DeveloperID,
			Rating:      fb.Rating,
			Timestamp:   fb.Timestamp,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
