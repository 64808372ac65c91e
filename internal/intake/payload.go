// Package intake receives classified bugs from the classifier and hands them
// to the assignment workers.
package intake

import (
	"encoding/json"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/internal/assignment"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// Payload is the classifier's wire format
type Payload struct {
	BugID      string    `json:"bug_id"`
	Title      string    `json:"title,omitempty"`
	Category   string    `json:"category"`
	Severity   string    `json:"severity"`
	Keywords   []string  `json:"keywords"`
	Confidence float64   `json:"confidence"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Decode parses a payload into a bug. Unknown categories become General and
// unknown severities become Medium; only undecodable JSON or a missing bug
// id is an error.
func Decode(data []byte) (assignment.Bug, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return assignment.Bug{}, errors.NewValidationError("malformed intake payload").WithCause(err)
	}
	if p.BugID == "" {
		return assignment.Bug{}, errors.NewValidationError("intake payload has no bug_id")
	}

	return assignment.Bug{
		ID:         p.BugID,
		Title:      p.Title,
		Category:   assignment.ParseCategory(p.Category),
		Severity:   assignment.ParseSeverity(p.Severity),
		Keywords:   assignment.NormalizeKeywords(p.Keywords),
		Confidence: p.Confidence,
		AnalyzedAt: p.AnalyzedAt,
	}, nil
}

// Encode renders a bug in the classifier's wire format
func Encode(bug assignment.Bug) ([]byte, error) {
	data, err := json.Marshal(Payload{
		BugID:      bug.ID,
		Title:      bug.Title,
		Category:   string(bug.Category),
		Severity:   string(bug.Severity),
		Keywords:   bug.Keywords,
		Confidence: bug.Confidence,
		AnalyzedAt: bug.AnalyzedAt,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode intake payload").WithCause(err)
	}
	return data, nil
}

// DeadLetter is a payload that could not be processed
type DeadLetter struct {
	Payload  string    `json:"payload"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
