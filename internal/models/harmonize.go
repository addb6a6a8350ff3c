package models

import "time"

// ResolutionMethod is how a business-scoped harmonizer rule resolves conflicts
type ResolutionMethod string

const (
	ResolutionLCMFrequency     ResolutionMethod = "lcm_frequency"
	ResolutionBusinessOverride ResolutionMethod = "business_override"
	ResolutionPriorityBased    ResolutionMethod = "priority_based"
	ResolutionTimeSpacing      ResolutionMethod = "time_spacing"
)

// HarmonizationStrategy is the resolution strategy selected per harmonize call
type HarmonizationStrategy string

const (
	StrategyLCMFrequency     HarmonizationStrategy = "lcm_frequency"
	StrategyBusinessOverride HarmonizationStrategy = "business_override"
	StrategyAdaptive         HarmonizationStrategy = "adaptive"
)

// ConflictType tags a detected frequency conflict
type ConflictType string

const (
	ConflictFrequencyOverlap ConflictType = "frequency_overlap"
	ConflictTimingCollision  ConflictType = "timing_collision"
	ConflictPriority         ConflictType = "priority_conflict"
)

// Severity levels for detected conflicts
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// SeverityRank orders severities so the worst of several can be kept
func SeverityRank(s string) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// FrequencyHarmonizer is a business-scoped rule used to resolve conflicts
type FrequencyHarmonizer struct {
	ID                 string                 `json:"id" yaml:"id"`
	BusinessID         string                 `json:"business_id" yaml:"business_id"`
	RuleName           string                 `json:"rule_name" yaml:"rule_name"`
	Pattern            string                 `json:"pattern" yaml:"pattern"` // glob matched against category or topic
	ResolutionMethod   ResolutionMethod       `json:"resolution_method" yaml:"resolution_method"`
	OverrideFrequency  float64                `json:"override_frequency" yaml:"override_frequency"`
	ConflictThreshold  float64                `json:"conflict_threshold" yaml:"conflict_threshold"`
	BusinessOverrides  map[string]interface{} `json:"business_overrides,omitempty" yaml:"business_overrides,omitempty"`
	Active             bool                   `json:"active" yaml:"active"`
	EffectivenessScore float64                `json:"effectiveness_score" yaml:"-"`
	ConflictsResolved  int                    `json:"conflicts_resolved" yaml:"-"`
	Runs               int                    `json:"runs" yaml:"-"`
}

// QuestionForHarmonization is the harmonizer's view of a candidate question
type QuestionForHarmonization struct {
	ID               string     `json:"id"`
	BusinessID       string     `json:"business_id"`
	Category         string     `json:"category"`
	TopicCategory    string     `json:"topic_category"`
	PriorityLevel    int        `json:"priority_level"`
	CurrentFrequency float64    `json:"current_frequency"` // occurrences per day
	TargetFrequency  float64    `json:"target_frequency"`
	LastPresentedAt  *time.Time `json:"last_presented_at,omitempty"`
}

// FrequencyConflict is a derived tension between one question and others
type FrequencyConflict struct {
	QuestionID          string       `json:"question_id"`
	ConflictingIDs      []string     `json:"conflicting_ids"`
	Type                ConflictType `json:"type"`
	Severity            string       `json:"severity"`
	SuggestedResolution string       `json:"suggested_resolution"`
}

// HarmonizeOptions tunes a harmonize invocation
type HarmonizeOptions struct {
	Strategy             HarmonizationStrategy `json:"strategy,omitempty"`
	PreserveHighPriority bool                  `json:"preserve_high_priority"`
	MaxFrequencyRatio    float64               `json:"max_frequency_ratio,omitempty"`
	MinFrequencyInterval float64               `json:"min_frequency_interval,omitempty"`
}

// HarmonizedQuestion is the per-question outcome of harmonization
type HarmonizedQuestion struct {
	ID                  string              `json:"id"`
	OriginalFrequency   float64             `json:"original_frequency"`
	HarmonizedFrequency float64             `json:"harmonized_frequency"`
	Conflicts           []FrequencyConflict `json:"conflicts,omitempty"`
	ConflictsResolved   int                 `json:"conflicts_resolved"`
	Method              string              `json:"method,omitempty"`
	Error               string              `json:"error,omitempty"`
}

// HarmonizationResult aggregates a harmonize run
type HarmonizationResult struct {
	RuleID                string                `json:"rule_id,omitempty"`
	Strategy              HarmonizationStrategy `json:"strategy"`
	Questions             []HarmonizedQuestion  `json:"questions"`
	TotalQuestions        int                   `json:"total_questions"`
	TotalConflicts        int                   `json:"total_conflicts"`
	ResolutionsByMethod   map[string]int        `json:"resolutions_by_method"`
	AverageFrequencyRatio float64               `json:"average_frequency_ratio"`
	ProcessingTime        time.Duration         `json:"processing_time_ns"`
}
