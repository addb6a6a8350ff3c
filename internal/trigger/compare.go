package trigger

import "github.com/feedbackloop/question-engine/internal/models"

// Candidate is the part of a trigger result that decides which trigger wins
type Candidate struct {
	Confidence float64
	Priority   models.TriggerPriority
}

// Better reports whether a beats b: higher confidence first, then higher
// priority rank. Equal candidates are not better than each other, so the
// earlier one is kept.
func Better(a, b Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Priority.Rank() > b.Priority.Rank()
}
