package models

import "time"

// BalanceStrategy selects how final priorities are computed
type BalanceStrategy string

const (
	BalanceEqualDistribution BalanceStrategy = "equal_distribution"
	BalanceWeightedUrgency   BalanceStrategy = "weighted_urgency"
	BalanceTimeSensitive     BalanceStrategy = "time_sensitive"
	BalanceBusinessPriority  BalanceStrategy = "business_priority"
)

// PriorityWeight is a business-scoped multiplier for a category or topic
type PriorityWeight struct {
	BusinessID      string                 `json:"business_id" yaml:"business_id"`
	Category        string                 `json:"category" yaml:"category"`
	WeightFactor    float64                `json:"weight_factor" yaml:"weight_factor"`
	AdjustmentRules map[string]interface{} `json:"adjustment_rules,omitempty" yaml:"adjustment_rules,omitempty"`
	Active          bool                   `json:"active" yaml:"active"`
}

// QuestionForBalancing is the balancer's view of a candidate question
type QuestionForBalancing struct {
	ID                 string  `json:"id"`
	Text               string  `json:"text"`
	Category           string  `json:"category"`
	TopicCategory      string  `json:"topic_category"`
	BasePriority       float64 `json:"base_priority"`
	CustomerRelevance  float64 `json:"customer_relevance"`
	BusinessImportance float64 `json:"business_importance"`
	FrequencyScore     float64 `json:"frequency_score"`
	RecencyScore       float64 `json:"recency_score"`
}

// DurationBoosts are the time_sensitive boosts per estimated duration bucket
type DurationBoosts struct {
	Short  float64 `json:"short"`  // <= 15s
	Medium float64 `json:"medium"` // <= 30s
	Long   float64 `json:"long"`
}

// BalanceConfig tunes a balance invocation
type BalanceConfig struct {
	Strategy            BalanceStrategy    `json:"strategy"`
	BusinessID          string             `json:"business_id,omitempty"`
	MinPriorityLevel    int                `json:"min_priority_level,omitempty"`
	MaxPriorityLevel    int                `json:"max_priority_level,omitempty"`
	CategoryMultipliers map[string]float64 `json:"category_multipliers,omitempty"`
	DurationBoosts      *DurationBoosts    `json:"duration_boosts,omitempty"`
}

// BalancedQuestion is the per-question outcome of balancing
type BalancedQuestion struct {
	ID                string  `json:"id"`
	OriginalPriority  float64 `json:"original_priority"`
	BalancedPriority  int     `json:"balanced_priority"`
	Score             float64 `json:"score"`
	EstimatedDuration float64 `json:"estimated_duration_seconds"`
	Justification     string  `json:"justification"`
}

// PriorityBalanceResult aggregates a balance run
type PriorityBalanceResult struct {
	Strategy       BalanceStrategy    `json:"strategy"`
	Questions      []BalancedQuestion `json:"questions"`
	Distribution   map[int]int        `json:"distribution"`
	ProcessingTime time.Duration      `json:"processing_time_ns"`
}

// TimeBoxedSelection is the outcome of selecting questions under a duration budget
type TimeBoxedSelection struct {
	Selected          []BalancedQuestion `json:"selected"`
	Excluded          []string           `json:"excluded,omitempty"`
	TotalDuration     float64            `json:"total_duration_seconds"`
	MaxDuration       float64            `json:"max_duration_seconds"`
	PriorityThreshold float64            `json:"priority_threshold"`
}
