package harmonize

import (
	"math"
	"sort"
	"time"

	"github.com/feedbackloop/question-engine/internal/models"
)

const (
	overlapRatio       = 2.0
	overlapHighRatio   = 1.5
	collisionWindow    = time.Hour
	collisionHighGroup = 3
	priorityLevel      = 4
	starvedFraction    = 0.5
)

var suggestedResolution = map[models.ConflictType]string{
	models.ConflictFrequencyOverlap: string(models.ResolutionLCMFrequency),
	models.ConflictTimingCollision:  string(models.ResolutionTimeSpacing),
	models.ConflictPriority:         string(models.ResolutionPriorityBased),
}

func conflict(id string, kind models.ConflictType, severity string, others ...string) models.FrequencyConflict {
	return models.FrequencyConflict{
		QuestionID:          id,
		ConflictingIDs:      others,
		Type:                kind,
		Severity:            severity,
		SuggestedResolution: suggestedResolution[kind],
	}
}

// related reports whether two questions compete for the same slot: they share
// a category, or both carry the same topic.
func related(a, b models.QuestionForHarmonization) bool {
	if a.Category == b.Category {
		return true
	}
	return a.TopicCategory != "" && a.TopicCategory == b.TopicCategory
}

// DetectFrequencyOverlaps flags every pair sharing a category or topic whose
// current frequencies are less than 2x apart. Each side of a pair gets its own conflict.
func DetectFrequencyOverlaps(questions []models.QuestionForHarmonization) []models.FrequencyConflict {
	var out []models.FrequencyConflict
	for x := 0; x < len(questions); x++ {
		for y := x + 1; y < len(questions); y++ {
			a, b := questions[x], questions[y]
			if !related(a, b) || a.CurrentFrequency <= 0 || b.CurrentFrequency <= 0 {
				continue
			}
			ratio := math.Max(a.CurrentFrequency, b.CurrentFrequency) / math.Min(a.CurrentFrequency, b.CurrentFrequency)
			if ratio >= overlapRatio {
				continue
			}
			severity := models.SeverityMedium
			if ratio < overlapHighRatio {
				severity = models.SeverityHigh
			}
			out = append(out,
				conflict(a.ID, models.ConflictFrequencyOverlap, severity, b.ID),
				conflict(b.ID, models.ConflictFrequencyOverlap, severity, a.ID),
			)
		}
	}
	return out
}

// projectedNext returns when a question is next due, reading its frequency as occurrences per day
func projectedNext(q models.QuestionForHarmonization) (time.Time, bool) {
	if q.LastPresentedAt == nil || q.CurrentFrequency <= 0 {
		return time.Time{}, false
	}
	interval := time.Duration(float64(24*time.Hour) / q.CurrentFrequency)
	return q.LastPresentedAt.Add(interval), true
}

// DetectTimingCollisions flags questions whose projected next presentations
// fall within an hour of each other.
func DetectTimingCollisions(questions []models.QuestionForHarmonization) []models.FrequencyConflict {
	type due struct {
		id   string
		next time.Time
	}
	var scheduled []due
	for _, q := range questions {
		if next, ok := projectedNext(q); ok {
			scheduled = append(scheduled, due{id: q.ID, next: next})
		}
	}

	var out []models.FrequencyConflict
	for i, a := range scheduled {
		var colliding []string
		for j, b := range scheduled {
			if i == j {
				continue
			}
			if d := a.next.Sub(b.next); d <= collisionWindow && d >= -collisionWindow {
				colliding = append(colliding, b.id)
			}
		}
		if len(colliding) == 0 {
			continue
		}
		severity := models.SeverityMedium
		if len(colliding)+1 >= collisionHighGroup {
			severity = models.SeverityHigh
		}
		out = append(out, conflict(a.id, models.ConflictTimingCollision, severity, colliding...))
	}
	return out
}

// DetectPriorityConflicts flags high-priority questions presented at less than
// half their target frequency.
func DetectPriorityConflicts(questions []models.QuestionForHarmonization) []models.FrequencyConflict {
	var out []models.FrequencyConflict
	for _, q := range questions {
		if q.PriorityLevel >= priorityLevel && q.TargetFrequency > 0 && q.CurrentFrequency < starvedFraction*q.TargetFrequency {
			out = append(out, conflict(q.ID, models.ConflictPriority, models.SeverityHigh))
		}
	}
	return out
}

var conflictOrder = map[models.ConflictType]int{
	models.ConflictFrequencyOverlap: 0,
	models.ConflictTimingCollision:  1,
	models.ConflictPriority:         2,
}

// DetectConflicts runs all three passes and merges them so each question has
// at most one conflict per type, carrying the union of conflicting ids and the
// worst severity seen.
func DetectConflicts(questions []models.QuestionForHarmonization) map[string][]models.FrequencyConflict {
	type key struct {
		id   string
		kind models.ConflictType
	}
	merged := make(map[key]*models.FrequencyConflict)
	ids := make(map[key]map[string]bool)

	var all []models.FrequencyConflict
	all = append(all, DetectFrequencyOverlaps(questions)...)
	all = append(all, DetectTimingCollisions(questions)...)
	all = append(all, DetectPriorityConflicts(questions)...)

	for _, c := range all {
		k := key{c.QuestionID, c.Type}
		existing, ok := merged[k]
		if !ok {
			cp := c
			cp.ConflictingIDs = nil
			merged[k] = &cp
			ids[k] = make(map[string]bool)
			existing = &cp
		}
		if models.SeverityRank(c.Severity) > models.SeverityRank(existing.Severity) {
			existing.Severity = c.Severity
		}
		for _, other := range c.ConflictingIDs {
			ids[k][other] = true
		}
	}

	out := make(map[string][]models.FrequencyConflict)
	for k, c := range merged {
		for other := range ids[k] {
			c.ConflictingIDs = append(c.ConflictingIDs, other)
		}
		sort.Strings(c.ConflictingIDs)
		out[k.id] = append(out[k.id], *c)
	}
	for id := range out {
		list := out[id]
		sort.Slice(list, func(i, j int) bool { return conflictOrder[list[i].Type] < conflictOrder[list[j].Type] })
	}
	return out
}
