package assignment

import (
	"strings"
	"time"
)

// Category is the classifier's bug category
type Category string

const (
	CategoryFrontend    Category = "frontend"
	CategoryBackend     Category = "backend"
	CategoryDatabase    Category = "database"
	CategoryAPI         Category = "api"
	CategoryMobile      Category = "mobile"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryGeneral     Category = "general"
)

// Categories lists every known category
var Categories = []Category{
	CategoryFrontend, CategoryBackend, CategoryDatabase, CategoryAPI,
	CategoryMobile, CategorySecurity, CategoryPerformance, CategoryGeneral,
}

// ParseCategory maps a classifier label to a Category. Unknown labels map
// to CategoryGeneral.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return CategoryGeneral
}

// Severity is the classifier's bug severity
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity maps a label to a Severity. Unknown labels map to SeverityMedium.
func ParseSeverity(s string) Severity {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return v
	default:
		return SeverityMedium
	}
}

// ExperienceLevel is ordered: Junior < Mid < Senior < Lead < Principal
type ExperienceLevel int

const (
	Junior ExperienceLevel = iota
	Mid
	Senior
	Lead
	Principal
)

var experienceNames = map[ExperienceLevel]string{
	Junior:    "junior",
	Mid:       "mid",
	Senior:    "senior",
	Lead:      "lead",
	Principal: "principal",
}

func (l ExperienceLevel) String() string {
	if name, ok := experienceNames[l]; ok {
		return name
	}
	return "junior"
}

// ParseExperienceLevel maps a label to an ExperienceLevel. Unknown labels
// map to Junior, which carries no experience bonus.
func ParseExperienceLevel(s string) ExperienceLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	for level, name := range experienceNames {
		if name == s {
			return level
		}
	}
	return Junior
}

// MarshalText implements encoding.TextMarshaler
func (l ExperienceLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *ExperienceLevel) UnmarshalText(text []byte) error {
	*l = ParseExperienceLevel(string(text))
	return nil
}

// Availability is a developer's current availability
type Availability string

const (
	Available   Availability = "available"
	Busy        Availability = "busy"
	FocusTime   Availability = "focus_time"
	Unavailable Availability = "unavailable"
)

// ParseAvailability normalizes an availability label. Unknown labels are
// kept as-is and score as neutral.
func ParseAvailability(s string) Availability {
	return Availability(strings.ToLower(strings.TrimSpace(s)))
}

// Bug is a classified bug report. It is not modified after classification.
type Bug struct {
	ID         string    `json:"id"`
	Title      string    `json:"title,omitempty"`
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Keywords   []string  `json:"keywords"`
	Confidence float64   `json:"confidence"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// NormalizeKeywords trims keywords and drops empty and duplicate entries,
// keeping first-seen order.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		key := strings.ToLower(k)
		if k == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, k)
	}
	return out
}

// Developer is a developer's profile
type Developer struct {
	ID                  string          `json:"id" yaml:"id"`
	Name                string          `json:"name" yaml:"name"`
	Handle              string          `json:"handle" yaml:"handle"`
	Email               string          `json:"email" yaml:"email"`
	Skills              []string        `json:"skills" yaml:"skills"`
	Experience          ExperienceLevel `json:"experience" yaml:"experience"`
	MaxCapacity         int             `json:"max_capacity" yaml:"max_capacity"`
	PreferredCategories []Category      `json:"preferred_categories" yaml:"preferred_categories"`
	Timezone            string          `json:"timezone" yaml:"timezone"`
}

// Prefers reports whether c is one of the developer's preferred categories
func (d *Developer) Prefers(c Category) bool {
	for _, p := range d.PreferredCategories {
		if p == c {
			return true
		}
	}
	return false
}

// Status is a developer's runtime state, refreshed externally
type Status struct {
	DeveloperID     string       `json:"developer_id" yaml:"developer_id"`
	CurrentWorkload int          `json:"current_workload" yaml:"current_workload"`
	Availability    Availability `json:"availability" yaml:"availability"`
	CalendarFree    bool         `json:"calendar_free" yaml:"calendar_free"`
	FocusTimeActive bool         `json:"focus_time_active" yaml:"focus_time_active"`
	UpdatedAt       time.Time    `json:"updated_at" yaml:"updated_at"`
}

// Feedback is one rating of a past assignment
type Feedback struct {
	DeveloperID string    `json:"developer_id" db:"developer_id"`
	BugID       string    `json:"bug_id,omitempty" db:"bug_id"`
	Rating      int       `json:"rating" db:"rating"`
	Timestamp   time.Time `json:"timestamp" db:"created_at"`
}

// Score is the scoring breakdown for one developer
type Score struct {
	DeveloperID  string  `json:"developer_id"`
	Total        float64 `json:"total_score"`
	Skill        float64 `json:"skill_score"`
	Workload     float64 `json:"workload_score"`
	Performance  float64 `json:"performance_score"`
	Availability float64 `json:"availability_score"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale"`
}

// Strategy names how a result was produced
const (
	StrategyScored     = "scored"
	StrategyRoundRobin = "round_robin"
)

// Result is the chosen developer and the full ranking behind the choice.
// Degraded results come from a fallback and carry low confidence.
type Result struct {
	DeveloperID string  `json:"developer_id"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale"`
	Scores      []Score `json:"all_scores"`
	Strategy    string  `json:"strategy"`
	Degraded    bool    `json:"degraded"`
}
