package assignment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
)

func TestNewConfig(t *testing.T) {
	c, err := NewConfig(config.ScoringConfig{
		SkillWeight:        0.4,
		WorkloadWeight:     0.2,
		PerformanceWeight:  0.2,
		AvailabilityWeight: 0.2,
		MinConfidence:      0.6,
		TieWindow:          0.02,
		PerformanceWindow:  14 * 24 * time.Hour,
		FeedbackSaturation: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.4, c.Weights.Skill)
	assert.Equal(t, 0.6, c.MinConfidence)
	assert.Equal(t, 5, c.FeedbackSaturation)

	_, err = NewConfig(config.ScoringConfig{SkillWeight: 1, PerformanceWindow: time.Hour})
	assert.Error(t, err, "zero saturation")
}

func TestDefaultConfig_Valid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestDeveloper_YAMLExperience(t *testing.T) {
	var dev Developer
	err := yaml.Unmarshal([]byte(`
id: dev-1
name: Dev One
skills: [go, sql]
experience: Lead
max_capacity: 6
preferred_categories: [backend]
`), &dev)
	require.NoError(t, err)
	assert.Equal(t, Lead, dev.Experience)
	assert.True(t, dev.Prefers(CategoryBackend))
	assert.False(t, dev.Prefers(CategoryMobile))

	out, err := yaml.Marshal(dev)
	require.NoError(t, err)
	assert.Contains(t, string(out), "experience: lead")
}
