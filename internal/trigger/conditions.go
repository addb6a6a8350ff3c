package trigger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/feedbackloop/question-engine/internal/models"
)

const (
	timeConfidence      = 1.0
	behaviorConfidence  = 0.85
	lowRatingBoost      = 1.2
	storeConfidence     = 0.85
	compositeConfidence = 0.9
)

// outcome is what a condition check reports before gates and priorities apply
type outcome struct {
	matched    bool
	confidence float64
	reason     string
}

func miss(format string, args ...interface{}) outcome {
	return outcome{reason: fmt.Sprintf(format, args...)}
}

func (e *Evaluator) checkConditions(ctx context.Context, t *models.Trigger, ec models.EvaluationContext) (outcome, error) {
	c := t.Conditions
	switch t.Type {
	case models.TriggerTimeBased:
		if c.Time == nil {
			return outcome{}, fmt.Errorf("time-based trigger %s has no time conditions", t.ID)
		}
		return checkTime(c.Time, ec)
	case models.TriggerFrequencyBased:
		if c.Frequency == nil {
			return outcome{}, fmt.Errorf("frequency-based trigger %s has no frequency conditions", t.ID)
		}
		return checkFrequency(c.Frequency, ec), nil
	case models.TriggerCustomerBehavior:
		if c.Behavior == nil {
			return outcome{}, fmt.Errorf("customer-behavior trigger %s has no behavior conditions", t.ID)
		}
		return checkBehavior(c.Behavior, ec), nil
	case models.TriggerStoreContext:
		if c.Store == nil {
			return outcome{}, fmt.Errorf("store-context trigger %s has no store conditions", t.ID)
		}
		return checkStore(c.Store, ec), nil
	case models.TriggerComposite:
		if c.Composite == nil {
			return outcome{}, fmt.Errorf("composite trigger %s has no condition tree", t.ID)
		}
		ok, err := e.composite.EvaluateCondition(ctx, c.Composite, ec)
		if err != nil {
			return outcome{}, fmt.Errorf("composite condition: %w", err)
		}
		if !ok {
			return miss("composite condition not met"), nil
		}
		return outcome{matched: true, confidence: compositeConfidence, reason: "composite condition met"}, nil
	default:
		return outcome{}, fmt.Errorf("unknown trigger type %q", t.Type)
	}
}

func checkTime(c *models.TimeConditions, ec models.EvaluationContext) (outcome, error) {
	now := ec.Now

	if len(c.Days) > 0 {
		day := int(now.Weekday())
		allowed := false
		for _, d := range c.Days {
			if d == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return miss("day mismatch: %s not in allowed days %v", now.Weekday(), c.Days), nil
		}
	}

	if c.HourStart != nil || c.HourEnd != nil {
		start, end := 0, 23
		if c.HourStart != nil {
			start = *c.HourStart
		}
		if c.HourEnd != nil {
			end = *c.HourEnd
		}
		if h := now.Hour(); h < start || h > end {
			return miss("hour mismatch: %d outside [%d, %d]", h, start, end), nil
		}
	}

	if len(c.Windows) > 0 {
		minute := now.Hour()*60 + now.Minute()
		inside := false
		for _, w := range c.Windows {
			from, err := minuteOfDay(w.Start)
			if err != nil {
				return outcome{}, err
			}
			to, err := minuteOfDay(w.End)
			if err != nil {
				return outcome{}, err
			}
			// linear comparison, a window such as 22:00-02:00 never matches
			if minute >= from && minute <= to {
				inside = true
				break
			}
		}
		if !inside {
			return miss("time mismatch: %s outside configured windows", now.Format("15:04")), nil
		}
	}

	return outcome{matched: true, confidence: timeConfidence, reason: "time conditions met"}, nil
}

// minuteOfDay parses "HH:MM"
func minuteOfDay(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", clock)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in clock time %q", clock)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in clock time %q", clock)
	}
	return h*60 + m, nil
}

func checkFrequency(c *models.FrequencyConditions, ec models.EvaluationContext) outcome {
	visits := ec.Customer.VisitCount
	if visits < c.MinVisitCount {
		return miss("visit count %d below minimum %d", visits, c.MinVisitCount)
	}
	confidence := 1.0
	if c.MinVisitCount > 0 {
		progress := float64(visits) / float64(c.MinVisitCount)
		if progress > 1 {
			progress = 1
		}
		confidence = 0.8 + 0.2*progress
	}
	return outcome{matched: true, confidence: confidence, reason: fmt.Sprintf("customer has %d visits", visits)}
}

func checkBehavior(c *models.BehaviorConditions, ec models.EvaluationContext) outcome {
	cust := ec.Customer
	if cust.SessionDurationSeconds < c.MinSessionSeconds {
		return miss("session duration %.0fs below minimum %.0fs", cust.SessionDurationSeconds, c.MinSessionSeconds)
	}
	if len(c.DeviceTypes) > 0 && !containsFold(c.DeviceTypes, cust.DeviceType) {
		return miss("device type %q not in %v", cust.DeviceType, c.DeviceTypes)
	}

	confidence := behaviorConfidence
	reason := "customer behavior conditions met"
	// not clamped, a boosted result can exceed 1.0
	if c.LowRatingThreshold > 0 && cust.AverageRating > 0 && cust.AverageRating < c.LowRatingThreshold {
		confidence *= lowRatingBoost
		reason = fmt.Sprintf("low-rating customer (%.1f < %.1f), re-engagement boost", cust.AverageRating, c.LowRatingThreshold)
	}
	return outcome{matched: true, confidence: confidence, reason: reason}
}

func checkStore(c *models.StoreConditions, ec models.EvaluationContext) outcome {
	st := ec.Store
	if st.Occupancy < c.MinOccupancy {
		return miss("store occupancy %.2f below threshold %.2f", st.Occupancy, c.MinOccupancy)
	}
	if c.PeakHoursOnly && !st.IsPeakHours {
		return miss("outside peak hours")
	}
	for _, ev := range c.RequiredEvents {
		if !containsFold(st.SpecialEvents, ev) {
			return miss("required event %q not active", ev)
		}
	}
	return outcome{matched: true, confidence: storeConfidence, reason: "store context conditions met"}
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
