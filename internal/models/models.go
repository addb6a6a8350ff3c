package models

import "time"

// WindowKind is the period over which a question's presentations are counted
type WindowKind string

const (
	WindowHourly  WindowKind = "hourly"
	WindowDaily   WindowKind = "daily"
	WindowWeekly  WindowKind = "weekly"
	WindowMonthly WindowKind = "monthly"
)

// Valid reports whether k is a supported window kind
func (k WindowKind) Valid() bool {
	switch k {
	case WindowHourly, WindowDaily, WindowWeekly, WindowMonthly:
		return true
	}
	return false
}

// Question represents a feedback prompt owned by a business
type Question struct {
	ID                 string                 `json:"id" yaml:"id"`
	BusinessID         string                 `json:"business_id" yaml:"business_id"`
	Text               string                 `json:"text" yaml:"text"`
	Category           string                 `json:"category" yaml:"category"`
	TopicCategory      string                 `json:"topic_category" yaml:"topic_category"`
	PriorityLevel      int                    `json:"priority_level" yaml:"priority_level"`     // 1-5
	FrequencyTarget    int                    `json:"frequency_target" yaml:"frequency_target"` // presentations per window
	FrequencyWindow    WindowKind             `json:"frequency_window" yaml:"frequency_window"`
	CurrentWindowCount int                    `json:"current_window_count" yaml:"current_window_count"`
	WindowResetAt      *time.Time             `json:"window_reset_at,omitempty" yaml:"window_reset_at,omitempty"`
	LastPresentedAt    *time.Time             `json:"last_presented_at,omitempty" yaml:"last_presented_at,omitempty"`
	CreatedAt          time.Time              `json:"created_at" yaml:"created_at"`
	RuleOverrides      map[string]interface{} `json:"rule_overrides,omitempty" yaml:"rule_overrides,omitempty"`
}

// WindowAnchor is the timestamp window bounds are computed from
func (q *Question) WindowAnchor() time.Time {
	if q.WindowResetAt != nil && !q.WindowResetAt.IsZero() {
		return *q.WindowResetAt
	}
	return q.CreatedAt
}

// FrequencyStatus is the answer to "can this question be shown now"
type FrequencyStatus struct {
	QuestionID             string     `json:"question_id"`
	CurrentCount           int        `json:"current_count"`
	TargetCount            int        `json:"target_count"`
	Window                 WindowKind `json:"window"`
	WindowStart            time.Time  `json:"window_start"`
	NextReset              time.Time  `json:"next_reset"`
	RemainingPresentations int        `json:"remaining_presentations"`
	CanPresent             bool       `json:"can_present"`
}

// FrequencyConfigUpdate carries the optional fields of a frequency config change
type FrequencyConfigUpdate struct {
	Target *int        `json:"target,omitempty"`
	Window *WindowKind `json:"window,omitempty"`
}

// AdaptiveConfig tunes the automatic frequency adjustment
type AdaptiveConfig struct {
	ResponseRateThreshold float64 `json:"response_rate_threshold"`
	RatingThreshold       float64 `json:"rating_threshold"`
	AdjustmentSensitivity float64 `json:"adjustment_sensitivity"`
	MinMultiplier         float64 `json:"min_multiplier"`
	MaxMultiplier         float64 `json:"max_multiplier"`
}

// AdaptiveResult reports what an adaptive adjustment did
type AdaptiveResult struct {
	QuestionID  string            `json:"question_id"`
	Applied     bool              `json:"applied"`
	Reason      string            `json:"reason"`
	Multiplier  float64           `json:"multiplier"`
	OldTarget   int               `json:"old_target"`
	NewTarget   int               `json:"new_target"`
	Metrics     PerformanceSample `json:"metrics"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// PerformanceSample aggregates the analytics buckets an adjustment is based on
type PerformanceSample struct {
	Periods            int     `json:"periods"`
	TotalPresentations int     `json:"total_presentations"`
	TotalResponses     int     `json:"total_responses"`
	ResponseRate       float64 `json:"response_rate"`
	AverageRating      float64 `json:"average_rating"`
	HasRatings         bool    `json:"has_ratings"`
}

// AnalyticsBucket is one time-bucketed row of question performance
type AnalyticsBucket struct {
	QuestionID        string    `json:"question_id"`
	PeriodStart       time.Time `json:"period_start"`
	PresentationCount int       `json:"presentation_count"`
	ResponseCount     int       `json:"response_count"`
	AverageRating     float64   `json:"average_rating"`
}

// AnalyticsDelta is an increment applied to a daily analytics bucket
type AnalyticsDelta struct {
	QuestionID    string
	Day           time.Time
	Presentations int
	Responses     int
	RatingSum     float64
	Ratings       int
}

// FrequencyAnalytics is the read model returned for dashboards
type FrequencyAnalytics struct {
	QuestionID         string            `json:"question_id"`
	Status             *FrequencyStatus  `json:"status"`
	Buckets            []AnalyticsBucket `json:"buckets"`
	TotalPresentations int               `json:"total_presentations"`
	TotalResponses     int               `json:"total_responses"`
	ResponseRate       float64           `json:"response_rate"`
	AverageRating      float64           `json:"average_rating"`
}

// FrequencyRecommendation suggests, without applying, a new frequency target
type FrequencyRecommendation struct {
	QuestionID      string            `json:"question_id"`
	CurrentTarget   int               `json:"current_target"`
	SuggestedTarget int               `json:"suggested_target"`
	Multiplier      float64           `json:"multiplier"`
	Action          string            `json:"action"` // "increase", "decrease", "maintain", "insufficient_data"
	Reason          string            `json:"reason"`
	Metrics         PerformanceSample `json:"metrics"`
}
