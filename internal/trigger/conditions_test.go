package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// 2024-05-11 is a Saturday
var saturday10 = time.Date(2024, 5, 11, 10, 0, 0, 0, time.UTC)

func TestCheckTime(t *testing.T) {
	weekdays := []int{1, 2, 3, 4, 5}
	monday := time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		cond        models.TimeConditions
		now         time.Time
		wantMatch   bool
		wantErr     bool
		reasonMatch string
	}{
		{
			name:        "saturday outside weekdays",
			cond:        models.TimeConditions{Days: weekdays, HourStart: intPtr(9), HourEnd: intPtr(17)},
			now:         saturday10,
			reasonMatch: "day mismatch",
		},
		{
			name:      "weekday inside hours",
			cond:      models.TimeConditions{Days: weekdays, HourStart: intPtr(9), HourEnd: intPtr(17)},
			now:       monday.Add(10 * time.Hour),
			wantMatch: true,
		},
		{
			name:      "hour end is inclusive",
			cond:      models.TimeConditions{HourStart: intPtr(9), HourEnd: intPtr(17)},
			now:       monday.Add(17*time.Hour + 59*time.Minute),
			wantMatch: true,
		},
		{
			name:        "before hour start",
			cond:        models.TimeConditions{HourStart: intPtr(9), HourEnd: intPtr(17)},
			now:         monday.Add(8 * time.Hour),
			reasonMatch: "hour mismatch",
		},
		{
			name:      "inside a clock window",
			cond:      models.TimeConditions{Windows: []models.TimeWindow{{Start: "07:00", End: "08:00"}, {Start: "11:30", End: "13:00"}}},
			now:       monday.Add(11*time.Hour + 30*time.Minute),
			wantMatch: true,
		},
		{
			name:        "outside every clock window",
			cond:        models.TimeConditions{Windows: []models.TimeWindow{{Start: "11:30", End: "13:00"}}},
			now:         monday.Add(13*time.Hour + 1*time.Minute),
			reasonMatch: "time mismatch",
		},
		{
			name:        "window crossing midnight never matches",
			cond:        models.TimeConditions{Windows: []models.TimeWindow{{Start: "22:00", End: "02:00"}}},
			now:         monday.Add(23 * time.Hour),
			reasonMatch: "time mismatch",
		},
		{
			name:    "malformed clock string",
			cond:    models.TimeConditions{Windows: []models.TimeWindow{{Start: "noon", End: "13:00"}}},
			now:     monday.Add(12 * time.Hour),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := checkTime(&tt.cond, models.EvaluationContext{Now: tt.now})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMatch, out.matched)
			if tt.wantMatch {
				assert.Equal(t, 1.0, out.confidence)
			} else {
				assert.Contains(t, out.reason, tt.reasonMatch)
			}
		})
	}
}

func TestCheckFrequency(t *testing.T) {
	cond := &models.FrequencyConditions{MinVisitCount: 3}

	out := checkFrequency(cond, models.EvaluationContext{Customer: models.CustomerContext{VisitCount: 2}})
	assert.False(t, out.matched)
	assert.Contains(t, out.reason, "below minimum")

	out = checkFrequency(cond, models.EvaluationContext{Customer: models.CustomerContext{VisitCount: 3}})
	assert.True(t, out.matched)
	assert.InDelta(t, 1.0, out.confidence, 1e-9)

	out = checkFrequency(&models.FrequencyConditions{}, models.EvaluationContext{})
	assert.True(t, out.matched)
	assert.Equal(t, 1.0, out.confidence)
}

func TestCheckBehavior(t *testing.T) {
	cond := &models.BehaviorConditions{MinSessionSeconds: 30, DeviceTypes: []string{"mobile", "tablet"}, LowRatingThreshold: 3}

	tests := []struct {
		name       string
		customer   models.CustomerContext
		wantMatch  bool
		confidence float64
	}{
		{name: "short session", customer: models.CustomerContext{SessionDurationSeconds: 10, DeviceType: "mobile"}},
		{name: "wrong device", customer: models.CustomerContext{SessionDurationSeconds: 60, DeviceType: "kiosk"}},
		{name: "regular customer", customer: models.CustomerContext{SessionDurationSeconds: 60, DeviceType: "Mobile", AverageRating: 4.5}, wantMatch: true, confidence: 0.85},
		{name: "low-rating customer boosted past 1", customer: models.CustomerContext{SessionDurationSeconds: 60, DeviceType: "tablet", AverageRating: 2}, wantMatch: true, confidence: 1.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := checkBehavior(cond, models.EvaluationContext{Customer: tt.customer})
			assert.Equal(t, tt.wantMatch, out.matched)
			assert.InDelta(t, tt.confidence, out.confidence, 1e-9)
		})
	}
}

func TestCheckStore(t *testing.T) {
	cond := &models.StoreConditions{MinOccupancy: 0.5, PeakHoursOnly: true, RequiredEvents: []string{"happy_hour"}}

	tests := []struct {
		name      string
		store     models.StoreContext
		wantMatch bool
	}{
		{name: "quiet store", store: models.StoreContext{Occupancy: 0.2, IsPeakHours: true, SpecialEvents: []string{"happy_hour"}}},
		{name: "off peak", store: models.StoreContext{Occupancy: 0.8, SpecialEvents: []string{"happy_hour"}}},
		{name: "missing event", store: models.StoreContext{Occupancy: 0.8, IsPeakHours: true}},
		{name: "all met", store: models.StoreContext{Occupancy: 0.8, IsPeakHours: true, SpecialEvents: []string{"live_music", "HAPPY_HOUR"}}, wantMatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := checkStore(cond, models.EvaluationContext{Store: tt.store})
			assert.Equal(t, tt.wantMatch, out.matched)
		})
	}
}

func TestTreeEvaluator(t *testing.T) {
	ec := models.EvaluationContext{
		Now:        saturday10,
		BusinessID: "biz-1",
		Customer:   models.CustomerContext{VisitCount: 4, DeviceType: "mobile"},
		Store:      models.StoreContext{Occupancy: 0.7, IsPeakHours: true, SpecialEvents: []string{"tasting"}},
	}

	tests := []struct {
		name    string
		node    models.ConditionNode
		want    bool
		wantErr bool
	}{
		{
			name: "and of leaves",
			node: models.ConditionNode{Operator: "and", Children: []models.ConditionNode{
				{Field: "customer.visit_count", Comparator: "gte", Value: 3.0},
				{Field: "store.is_peak_hours", Comparator: "eq", Value: true},
			}},
			want: true,
		},
		{
			name: "or with one match",
			node: models.ConditionNode{Operator: "or", Children: []models.ConditionNode{
				{Field: "customer.device_type", Comparator: "eq", Value: "desktop"},
				{Field: "store.special_events", Comparator: "contains", Value: "tasting"},
			}},
			want: true,
		},
		{
			name: "not",
			node: models.ConditionNode{Operator: "not", Children: []models.ConditionNode{
				{Field: "time.weekday", Comparator: "in", Value: []interface{}{0.0, 6.0}},
			}},
			want: false,
		},
		{
			name:    "unknown field",
			node:    models.ConditionNode{Field: "customer.shoe_size", Comparator: "eq", Value: 42},
			wantErr: true,
		},
		{
			name:    "unknown operator",
			node:    models.ConditionNode{Operator: "xor"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TreeEvaluator{}.EvaluateCondition(context.Background(), &tt.node, ec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
