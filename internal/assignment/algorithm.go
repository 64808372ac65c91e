package assignment

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Algorithm scores developers for a bug and picks the best one. It is a pure
// function of its inputs and the clock, so one instance can serve every agent.
type Algorithm struct {
	config Config
	now    func() time.Time
}

// Option configures an Algorithm
type Option func(*Algorithm)

// WithClock replaces the clock used for feedback decay
func WithClock(now func() time.Time) Option {
	return func(a *Algorithm) {
		a.now = now
	}
}

// NewAlgorithm validates config and returns an algorithm
func NewAlgorithm(config Config, opts ...Option) (*Algorithm, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	a := &Algorithm{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the scoring configuration
func (a *Algorithm) Config() Config {
	return a.config
}

// FindBestDeveloper scores every developer that has a status entry and
// returns the winner. ok is false when there is no confident choice: no
// developers, no statuses, or a winner below the confidence gate.
func (a *Algorithm) FindBestDeveloper(bug Bug, developers []Developer, statuses map[string]Status, feedback map[string][]Feedback) (*Result, bool) {
	if len(developers) == 0 {
		return nil, false
	}

	now := a.now()
	scores := make([]Score, 0, len(developers))
	for i := range developers {
		dev := &developers[i]
		status, ok := statuses[dev.ID]
		if !ok {
			continue
		}
		scores = append(scores, a.ScoreDeveloper(bug, *dev, status, feedback[dev.ID], now))
	}
	if len(scores) == 0 {
		return nil, false
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Total > scores[j].Total
	})

	best := a.breakTie(scores, bug.Severity)
	if best.Confidence < a.config.MinConfidence {
		return nil, false
	}

	return &Result{
		DeveloperID: best.DeveloperID,
		Confidence:  best.Confidence,
		Rationale:   best.Rationale,
		Scores:      scores,
		Strategy:    StrategyScored,
	}, true
}

// ScoreDeveloper computes the full score breakdown for one developer
func (a *Algorithm) ScoreDeveloper(bug Bug, dev Developer, status Status, feedback []Feedback, now time.Time) Score {
	skill := SkillScore(dev, bug)
	workload := WorkloadScore(dev.MaxCapacity, status.CurrentWorkload)
	performance := PerformanceScore(feedback, now, a.config.PerformanceWindow)
	availability := AvailabilityScore(status)

	w := a.config.Weights
	total := skill*w.Skill + workload*w.Workload + performance*w.Performance + availability*w.Availability

	confidence := Confidence(skill, workload, performance, availability, len(feedback), a.config.FeedbackSaturation)

	return Score{
		DeveloperID:  dev.ID,
		Total:        total,
		Skill:        skill,
		Workload:     workload,
		Performance:  performance,
		Availability: availability,
		Confidence:   confidence,
		Rationale:    Rationale(dev, skill, workload, performance, availability, total),
	}
}

// breakTie applies the tie-break chain to the candidates within the tie
// window of the top score. scores must be sorted by total, descending.
func (a *Algorithm) breakTie(scores []Score, severity Severity) Score {
	if len(scores) == 1 {
		return scores[0]
	}

	top := scores[0].Total
	var tied []Score
	for _, s := range scores {
		if math.Abs(s.Total-top) <= a.config.TieWindow {
			tied = append(tied, s)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	// each criterion re-sorts the same slice; a strict lead at the top wins
	decide := func(key func(Score) float64) bool {
		sort.SliceStable(tied, func(i, j int) bool {
			return key(tied[i]) > key(tied[j])
		})
		return key(tied[0]) > key(tied[1])
	}

	if decide(func(s Score) float64 { return s.Availability }) {
		return tied[0]
	}
	if severity == SeverityCritical || severity == SeverityHigh {
		if decide(func(s Score) float64 { return s.Skill }) {
			return tied[0]
		}
	}
	if decide(func(s Score) float64 { return s.Workload }) {
		return tied[0]
	}
	if decide(func(s Score) float64 { return s.Performance }) {
		return tied[0]
	}
	decide(func(s Score) float64 { return s.Confidence })
	return tied[0]
}

// SkillScore blends canonical-skill coverage, keyword overlap and category
// preference, then adds the experience bonus. The result is capped at 1.
func SkillScore(dev Developer, bug Bug) float64 {
	categoryBonus := 0.0
	if dev.Prefers(bug.Category) {
		categoryBonus = 0.3
	}

	devSkills := make([]string, len(dev.Skills))
	devSet := make(map[string]bool, len(dev.Skills))
	for i, s := range dev.Skills {
		devSkills[i] = strings.ToLower(s)
		devSet[devSkills[i]] = true
	}

	skillMatch := 0.0
	if required := RequiredSkills(bug.Category); len(required) > 0 {
		matched := make(map[string]bool)
		for _, r := range required {
			if r = strings.ToLower(r); devSet[r] {
				matched[r] = true
			}
		}
		skillMatch = float64(len(matched)) / float64(len(required))
	}

	keywordMatch := 0.0
	if len(bug.Keywords) > 0 {
		matched := 0
		for _, kw := range bug.Keywords {
			kw = strings.ToLower(kw)
			for _, s := range devSkills {
				if strings.Contains(s, kw) {
					matched++
					break
				}
			}
		}
		keywordMatch = float64(matched) / float64(len(bug.Keywords))
	}

	base := skillMatch*0.4 + keywordMatch*0.4 + categoryBonus*0.2
	return math.Min(1.0, base+ExperienceBonus(dev.Experience, bug.Severity))
}

// WorkloadScore maps utilization to a score that peaks in the 0.7-0.8 band
// and drops to 0.1 once a developer is over capacity.
func WorkloadScore(maxCapacity, currentWorkload int) float64 {
	if maxCapacity <= 0 {
		return 0.0
	}

	utilization := float64(currentWorkload) / float64(maxCapacity)
	switch {
	case utilization <= 0.7:
		return 0.5 + (utilization/0.7)*0.5
	case utilization <= 0.8:
		return 1.0
	case utilization <= 1.0:
		// anchored at the upper bound so full capacity is exactly 0.3
		return 0.3 + ((1.0-utilization)/0.2)*0.7
	default:
		return 0.1
	}
}

// PerformanceScore is the time-decayed mean rating inside the trailing
// window, mapped from 1..5 to 0..1. No recent feedback scores a neutral 0.5.
func PerformanceScore(feedback []Feedback, now time.Time, window time.Duration) float64 {
	if len(feedback) == 0 {
		return 0.5
	}

	cutoff := now.Add(-window)
	decayDays := window.Hours() / 24

	var weightedSum, totalWeight float64
	for _, fb := range feedback {
		if fb.Timestamp.Before(cutoff) {
			continue
		}
		daysAgo := math.Max(0, math.Floor(now.Sub(fb.Timestamp).Hours()/24))
		weight := math.Exp(-daysAgo / decayDays)
		weightedSum += float64(fb.Rating) * weight
		totalWeight += weight
	}

	if totalWeight == 0 {
		return 0.5
	}
	avg := weightedSum / totalWeight
	return clamp01((avg - 1) / 4)
}

// AvailabilityScore maps the availability state to a score. The calendar
// and focus-time penalties only apply to Available developers.
func AvailabilityScore(status Status) float64 {
	switch status.Availability {
	case Unavailable:
		return 0.0
	case FocusTime:
		return 0.2
	case Busy:
		return 0.6
	case Available:
		score := 1.0
		if !status.CalendarFree {
			score *= 0.7
		}
		if status.FocusTimeActive {
			score *= 0.5
		}
		return score
	default:
		return 0.5
	}
}

// Confidence blends sub-score consistency, feedback volume and the weakest
// sub-score into [0,1].
func Confidence(skill, workload, performance, availability float64, feedbackCount, saturation int) float64 {
	scores := []float64{skill, workload, performance, availability}

	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	variance := 0.0
	minScore := scores[0]
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
		minScore = math.Min(minScore, s)
	}
	variance /= float64(len(scores))

	consistency := math.Max(0, 1-variance*2)
	dataQuality := math.Min(1, float64(feedbackCount)/float64(saturation))
	floor := math.Max(0, minScore)

	return clamp01(consistency*0.4 + dataQuality*0.3 + floor*0.3)
}

// Rationale describes the scores in words for the assignment comment
func Rationale(dev Developer, skill, workload, performance, availability, total float64) string {
	var reasons []string

	switch {
	case skill >= 0.8:
		reasons = append(reasons, "excellent skill match")
	case skill >= 0.6:
		reasons = append(reasons, "good skill match")
	case skill >= 0.4:
		reasons = append(reasons, "moderate skill match")
	default:
		reasons = append(reasons, "limited skill match")
	}

	switch {
	case workload >= 0.8:
		reasons = append(reasons, "optimal workload")
	case workload >= 0.6:
		reasons = append(reasons, "manageable workload")
	default:
		reasons = append(reasons, "high workload")
	}

	switch {
	case performance >= 0.8:
		reasons = append(reasons, "strong performance history")
	case performance >= 0.6:
		reasons = append(reasons, "good performance history")
	case performance >= 0.4:
		reasons = append(reasons, "average performance history")
	default:
		reasons = append(reasons, "limited performance data")
	}

	switch {
	case availability >= 0.8:
		reasons = append(reasons, "immediately available")
	case availability >= 0.6:
		reasons = append(reasons, "mostly available")
	default:
		reasons = append(reasons, "limited availability")
	}

	return fmt.Sprintf("Selected %s (%s) due to: %s. Overall score: %.2f",
		dev.Name, dev.Experience, strings.Join(reasons, ", "), total)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
