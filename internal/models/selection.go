package models

import "time"

// SelectionRequest asks the engine for the question set of one interaction
type SelectionRequest struct {
	BusinessID         string            `json:"business_id"`
	SessionID          string            `json:"session_id,omitempty"`
	QuestionIDs        []string          `json:"question_ids"`
	Context            EvaluationContext `json:"context"`
	HarmonizerRuleID   string            `json:"harmonizer_rule_id,omitempty"`
	Harmonize          HarmonizeOptions  `json:"harmonize"`
	Balance            BalanceConfig     `json:"balance"`
	MaxDurationSeconds float64           `json:"max_duration_seconds,omitempty"`
	PriorityThreshold  *float64          `json:"priority_threshold,omitempty"`
}

// SkippedQuestion records why a candidate did not make it into the selection
type SkippedQuestion struct {
	QuestionID string `json:"question_id"`
	Reason     string `json:"reason"`
}

// Selection is the final, ordered question set for an interaction
type Selection struct {
	BusinessID     string               `json:"business_id"`
	SessionID      string               `json:"session_id,omitempty"`
	Questions      []BalancedQuestion   `json:"questions"`
	Skipped        []SkippedQuestion    `json:"skipped,omitempty"`
	Harmonization  *HarmonizationResult `json:"harmonization,omitempty"`
	TotalDuration  float64              `json:"total_duration_seconds"`
	GeneratedAt    time.Time            `json:"generated_at"`
	ProcessingTime time.Duration        `json:"processing_time_ns"`
}

// Digest is the periodic adaptive-adjustment report sent to a business
type Digest struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Period      string                 `json:"period"`
	BusinessID  string                 `json:"business_id"`
	Adjustments []AdaptiveResult       `json:"adjustments"`
	Summary     map[string]interface{} `json:"summary"`
}

// Alert is an operational notice raised outside the regular digest
type Alert struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	BusinessID string    `json:"business_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
