package investigation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a candidate can't move to the requested status
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation is returned for malformed workflow input; nothing is written
	ErrValidation = errors.New("validation error")
)

// Status is a candidate's position in the investigation workflow
type Status string

const (
	StatusUndiscovered  Status = "undiscovered"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusDismissed     Status = "dismissed"
)

// transitions lists the statuses reachable from each status. Resolved and dismissed are terminal.
var transitions = map[Status][]Status{
	StatusUndiscovered:  {StatusInvestigating},
	StatusInvestigating: {StatusResolved, StatusDismissed},
	StatusResolved:      nil,
	StatusDismissed:     nil,
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether s may move to next
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition returns ErrInvalidTransition unless from may move to to
func Transition(from, to Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Candidate priorities, assigned from insider probability at discovery
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// PriorityFor buckets an insider probability
func PriorityFor(probability float64) string {
	switch {
	case probability >= 0.8:
		return PriorityCritical
	case probability >= 0.6:
		return PriorityHigh
	case probability >= 0.4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Resolutions an investigator can record
const (
	ResolutionConfirmedInsider     = "confirmed_insider"
	ResolutionLikelyInsider        = "likely_insider"
	ResolutionInsufficientEvidence = "insufficient_evidence"
	ResolutionCleared              = "cleared"
)

// confidenceFor maps resolutions that create a ground-truth label to its confidence level
var confidenceFor = map[string]string{
	ResolutionConfirmedInsider: "confirmed",
	ResolutionLikelyInsider:    "likely",
}
