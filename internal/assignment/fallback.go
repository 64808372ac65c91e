package assignment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// FallbackConfidence is the confidence reported for round-robin picks
const FallbackConfidence = 0.3

// RoundRobin is the degraded-mode strategy: it rotates through developers
// that have a status and are not Unavailable, ignoring scores.
type RoundRobin struct {
	mutex sync.Mutex
	next  int
}

// NewRoundRobin creates a round-robin picker
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick returns the next eligible developer. Candidates are ordered by id so
// the rotation is stable across roster refreshes.
func (rr *RoundRobin) Pick(bug Bug, developers []Developer, statuses map[string]Status) (*Result, error) {
	candidates := make([]Developer, 0, len(developers))
	for _, dev := range developers {
		status, ok := statuses[dev.ID]
		if !ok || status.Availability == Unavailable {
			continue
		}
		candidates = append(candidates, dev)
	}
	if len(candidates) == 0 {
		return nil, errors.NewUnavailableError("assignment",
			fmt.Sprintf("no available developers for fallback assignment of bug %s", bug.ID))
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})

	rr.mutex.Lock()
	dev := candidates[rr.next%len(candidates)]
	rr.next++
	rr.mutex.Unlock()

	return &Result{
		DeveloperID: dev.ID,
		Confidence:  FallbackConfidence,
		Rationale: fmt.Sprintf("Fallback round-robin assignment to %s (%s): scoring is degraded, review recommended",
			dev.Name, dev.Experience),
		Strategy: StrategyRoundRobin,
		Degraded: true,
	}, nil
}
