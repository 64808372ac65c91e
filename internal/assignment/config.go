package assignment

import (
	"fmt"
	"math"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// Weights blends the four sub-scores into the total
type Weights struct {
	Skill        float64 `json:"skill"`
	Workload     float64 `json:"workload"`
	Performance  float64 `json:"performance"`
	Availability float64 `json:"availability"`
}

// Config holds the scoring constants. Build it once at startup with
// NewConfig or DefaultConfig; the algorithm never mutates it.
type Config struct {
	Weights Weights `json:"weights"`
	// MinConfidence gates the winner; below it the result is "no decision"
	MinConfidence float64 `json:"min_confidence"`
	// TieWindow is the absolute total-score gap inside which tie-breaking applies
	TieWindow float64 `json:"tie_window"`
	// PerformanceWindow is the trailing feedback window and decay constant
	PerformanceWindow time.Duration `json:"performance_window"`
	// FeedbackSaturation is the feedback count at which data quality is full
	FeedbackSaturation int `json:"feedback_saturation"`
}

// DefaultConfig returns the standard scoring configuration
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Skill:        0.35,
			Workload:     0.25,
			Performance:  0.25,
			Availability: 0.15,
		},
		MinConfidence:      0.5,
		TieWindow:          0.05,
		PerformanceWindow:  30 * 24 * time.Hour,
		FeedbackSaturation: 10,
	}
}

// NewConfig converts the application scoring section and validates it
func NewConfig(sc config.ScoringConfig) (Config, error) {
	c := Config{
		Weights: Weights{
			Skill:        sc.SkillWeight,
			Workload:     sc.WorkloadWeight,
			Performance:  sc.PerformanceWeight,
			Availability: sc.AvailabilityWeight,
		},
		MinConfidence:      sc.MinConfidence,
		TieWindow:          sc.TieWindow,
		PerformanceWindow:  sc.PerformanceWindow,
		FeedbackSaturation: sc.FeedbackSaturation,
	}
	return c, c.Validate()
}

// Validate checks that the weights sum to 1.0 and the thresholds are in range
func (c Config) Validate() error {
	w := c.Weights
	for _, v := range []float64{w.Skill, w.Workload, w.Performance, w.Availability} {
		if v < 0 || math.IsNaN(v) {
			return errors.NewConfigError("scoring weights must be non-negative")
		}
	}
	if sum := w.Skill + w.Workload + w.Performance + w.Availability; math.Abs(sum-1.0) > 1e-9 {
		return errors.NewConfigError(fmt.Sprintf("scoring weights must sum to 1.0, got %.4f", sum))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return errors.NewConfigError("min confidence must be within [0,1]")
	}
	if c.TieWindow < 0 {
		return errors.NewConfigError("tie window must be non-negative")
	}
	if c.PerformanceWindow <= 0 {
		return errors.NewConfigError("performance window must be positive")
	}
	if c.FeedbackSaturation <= 0 {
		return errors.NewConfigError("feedback saturation must be positive")
	}
	return nil
}
