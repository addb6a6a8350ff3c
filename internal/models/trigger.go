package models

import (
	"fmt"
	"time"
)

// TriggerType selects which condition variant a trigger carries
type TriggerType string

const (
	TriggerTimeBased        TriggerType = "time_based"
	TriggerFrequencyBased   TriggerType = "frequency_based"
	TriggerCustomerBehavior TriggerType = "customer_behavior"
	TriggerStoreContext     TriggerType = "store_context"
	TriggerComposite        TriggerType = "composite"
)

// TriggerPriority is the tie-break tag of a trigger
type TriggerPriority string

const (
	TriggerPriorityHigh   TriggerPriority = "high"
	TriggerPriorityMedium TriggerPriority = "medium"
	TriggerPriorityLow    TriggerPriority = "low"
)

// Rank maps the priority tag onto its numeric rank; unknown or empty tags rank as medium
func (p TriggerPriority) Rank() int {
	switch p {
	case TriggerPriorityHigh:
		return 3
	case TriggerPriorityLow:
		return 1
	default:
		return 2
	}
}

// Trigger is a rule attached to a question deciding when it may be asked
type Trigger struct {
	ID                string             `json:"id" yaml:"id"`
	QuestionID        string             `json:"question_id" yaml:"question_id"`
	Type              TriggerType        `json:"type" yaml:"type"`
	Conditions        TriggerConditions  `json:"conditions" yaml:"conditions"`
	Priority          TriggerPriority    `json:"priority" yaml:"priority"`
	Enabled           bool               `json:"enabled" yaml:"enabled"`
	CooldownMinutes   int                `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	MaxActivations    int                `json:"max_activations" yaml:"max_activations"` // 0 means unlimited
	ActivationCount   int                `json:"activation_count" yaml:"activation_count"`
	LastActivatedAt   *time.Time         `json:"last_activated_at,omitempty" yaml:"last_activated_at,omitempty"`
	ActivationHistory []ActivationRecord `json:"activation_history,omitempty" yaml:"-"`
}

// ActivationRecord is one entry of a trigger's append-only firing log
type ActivationRecord struct {
	ID               string                 `json:"id"`
	TriggerID        string                 `json:"trigger_id"`
	ActivatedAt      time.Time              `json:"activated_at"`
	EvaluationMillis float64                `json:"evaluation_ms"`
	Confidence       float64                `json:"confidence"`
	Context          map[string]interface{} `json:"context,omitempty"`
}

// TriggerConditions is a tagged union: exactly the field matching the trigger type is set
type TriggerConditions struct {
	Time      *TimeConditions      `json:"time,omitempty" yaml:"time,omitempty"`
	Frequency *FrequencyConditions `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Behavior  *BehaviorConditions  `json:"behavior,omitempty" yaml:"behavior,omitempty"`
	Store     *StoreConditions     `json:"store,omitempty" yaml:"store,omitempty"`
	Composite *ConditionNode       `json:"composite,omitempty" yaml:"composite,omitempty"`
}

// TimeWindow is a clock range such as 09:00-11:30, bounds inclusive
type TimeWindow struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// TimeConditions restricts a question to days, hours and clock windows
type TimeConditions struct {
	Days      []int        `json:"days,omitempty" yaml:"days,omitempty"` // 0 = Sunday
	HourStart *int         `json:"hour_start,omitempty" yaml:"hour_start,omitempty"`
	HourEnd   *int         `json:"hour_end,omitempty" yaml:"hour_end,omitempty"`
	Windows   []TimeWindow `json:"windows,omitempty" yaml:"windows,omitempty"`
}

// FrequencyConditions requires a minimum number of customer visits
type FrequencyConditions struct {
	MinVisitCount int `json:"min_visit_count" yaml:"min_visit_count"`
}

// BehaviorConditions looks at the customer's session and rating history
type BehaviorConditions struct {
	MinSessionSeconds  float64  `json:"min_session_seconds,omitempty" yaml:"min_session_seconds,omitempty"`
	DeviceTypes        []string `json:"device_types,omitempty" yaml:"device_types,omitempty"`
	LowRatingThreshold float64  `json:"low_rating_threshold,omitempty" yaml:"low_rating_threshold,omitempty"`
}

// StoreConditions looks at the physical store at evaluation time
type StoreConditions struct {
	MinOccupancy   float64  `json:"min_occupancy,omitempty" yaml:"min_occupancy,omitempty"`
	PeakHoursOnly  bool     `json:"peak_hours_only,omitempty" yaml:"peak_hours_only,omitempty"`
	RequiredEvents []string `json:"required_events,omitempty" yaml:"required_events,omitempty"`
}

// ConditionNode is a node of a composite condition tree. Inner nodes set
// Operator ("and", "or", "not") and Children; leaves set Field, Comparator and Value.
type ConditionNode struct {
	Operator   string          `json:"operator,omitempty" yaml:"operator,omitempty"`
	Children   []ConditionNode `json:"children,omitempty" yaml:"children,omitempty"`
	Field      string          `json:"field,omitempty" yaml:"field,omitempty"`
	Comparator string          `json:"comparator,omitempty" yaml:"comparator,omitempty"`
	Value      interface{}     `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks that the condition variant matches the trigger type
func (t *Trigger) Validate() error {
	if t.ID == "" || t.QuestionID == "" {
		return fmt.Errorf("trigger id and question id are required")
	}
	c := t.Conditions
	var ok bool
	switch t.Type {
	case TriggerTimeBased:
		ok = c.Time != nil
	case TriggerFrequencyBased:
		ok = c.Frequency != nil
	case TriggerCustomerBehavior:
		ok = c.Behavior != nil
	case TriggerStoreContext:
		ok = c.Store != nil
	case TriggerComposite:
		ok = c.Composite != nil
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	if !ok {
		return fmt.Errorf("trigger %s of type %s has no %s conditions", t.ID, t.Type, t.Type)
	}
	return nil
}

// CustomerContext describes the customer at evaluation time
type CustomerContext struct {
	ID                     string  `json:"id,omitempty"`
	VisitCount             int     `json:"visit_count"`
	AverageRating          float64 `json:"average_rating"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
	DeviceType             string  `json:"device_type,omitempty"`
}

// StoreContext describes the physical store at evaluation time
type StoreContext struct {
	ID            string   `json:"id,omitempty"`
	Occupancy     float64  `json:"occupancy"`
	IsPeakHours   bool     `json:"is_peak_hours"`
	SpecialEvents []string `json:"special_events,omitempty"`
}

// EvaluationContext is the runtime input trigger conditions are scored against
type EvaluationContext struct {
	Now        time.Time       `json:"now"`
	BusinessID string          `json:"business_id"`
	SessionID  string          `json:"session_id,omitempty"`
	Customer   CustomerContext `json:"customer"`
	Store      StoreContext    `json:"store"`
}

// TriggerResult is the outcome of evaluating one trigger
type TriggerResult struct {
	TriggerID  string          `json:"trigger_id"`
	Priority   TriggerPriority `json:"priority"`
	Triggered  bool            `json:"triggered"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// EvaluationResult is the decision for one question
type EvaluationResult struct {
	QuestionID string                 `json:"question_id"`
	Triggered  bool                   `json:"triggered"`
	TriggerID  string                 `json:"trigger_id,omitempty"`
	Confidence float64                `json:"confidence"`
	Reason     string                 `json:"reason"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
