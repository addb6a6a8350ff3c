package priority

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func question(id string, base float64, textLen int) models.QuestionForBalancing {
	return models.QuestionForBalancing{
		ID:                 id,
		Text:               strings.Repeat("a", textLen),
		Category:           "service",
		TopicCategory:      "staff",
		BasePriority:       base,
		CustomerRelevance:  3,
		BusinessImportance: 3,
	}
}

func byID(qs []models.BalancedQuestion) map[string]models.BalancedQuestion {
	out := make(map[string]models.BalancedQuestion, len(qs))
	for _, q := range qs {
		out[q.ID] = q
	}
	return out
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 15.0, EstimateDuration("Short?"))
	assert.InDelta(t, 100/4.2, EstimateDuration(strings.Repeat("x", 100)), 1e-9)
	assert.Equal(t, 15.0, EstimateDuration(""))
}

func TestBalance_EqualDistributionLevels(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())

	tests := []struct {
		n    int
		want []int
	}{
		{n: 1, want: []int{5}},
		{n: 2, want: []int{5, 4}},
		{n: 5, want: []int{5, 4, 3, 2, 1}},
		{n: 7, want: []int{5, 5, 4, 4, 3, 3, 2}},
		{n: 10, want: []int{5, 5, 4, 4, 3, 3, 2, 2, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d questions", tt.n), func(t *testing.T) {
			var qs []models.QuestionForBalancing
			for i := 0; i < tt.n; i++ {
				// strictly descending combined score
				qs = append(qs, question(fmt.Sprintf("q%02d", i), float64(10*tt.n-i), 40))
			}
			result, err := b.Balance(context.Background(), qs, models.BalanceConfig{Strategy: models.BalanceEqualDistribution})
			require.NoError(t, err)
			require.Len(t, result.Questions, tt.n)

			got := make([]int, 0, tt.n)
			for _, q := range result.Questions {
				got = append(got, q.BalancedPriority)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBalance_EqualDistributionHistogram(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())

	for _, n := range []int{1, 4, 5, 7, 10, 13, 24} {
		t.Run(fmt.Sprintf("%d questions", n), func(t *testing.T) {
			var qs []models.QuestionForBalancing
			for i := 0; i < n; i++ {
				qs = append(qs, question(fmt.Sprintf("q%02d", i), 3, 40))
			}
			result, err := b.Balance(context.Background(), qs, models.BalanceConfig{Strategy: models.BalanceEqualDistribution})
			require.NoError(t, err)
			require.Len(t, result.Questions, n)

			bucket := (n + 4) / 5
			lowest := 5 - (n-1)/bucket
			for level := 5; level > lowest; level-- {
				assert.Equal(t, bucket, result.Distribution[level], "level %d of %v", level, result.Distribution)
			}
			assert.Equal(t, n-(5-lowest)*bucket, result.Distribution[lowest], "distribution %v", result.Distribution)
			for level := 1; level < lowest; level++ {
				assert.Zero(t, result.Distribution[level])
			}
			for _, q := range result.Questions {
				assert.NotEmpty(t, q.Justification)
			}
		})
	}
}

func TestBalance_EqualDistributionRanksByCombinedScore(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())
	qs := []models.QuestionForBalancing{
		question("low", 1, 40),
		question("high", 5, 40),
		question("mid", 3, 40),
	}
	result, err := b.Balance(context.Background(), qs, models.BalanceConfig{Strategy: models.BalanceEqualDistribution, MinPriorityLevel: 1, MaxPriorityLevel: 3})
	require.NoError(t, err)

	got := byID(result.Questions)
	assert.Equal(t, 3, got["high"].BalancedPriority)
	assert.Equal(t, 2, got["mid"].BalancedPriority)
	assert.Equal(t, 1, got["low"].BalancedPriority)
	assert.Equal(t, "high", result.Questions[0].ID)
}

func TestBalance_WeightedUrgency(t *testing.T) {
	var gotArgs []float64
	b := NewBalancer(storage.NewMemoryStore(), WithScoreFunc(func(base, urgency, importance, relevance float64) float64 {
		gotArgs = []float64{base, urgency, importance, relevance}
		return base + urgency
	}))

	q := question("q1", 2, 40)
	q.FrequencyScore = 1
	q.RecencyScore = 2
	result, err := b.Balance(context.Background(), []models.QuestionForBalancing{q}, models.BalanceConfig{
		Strategy:            models.BalanceWeightedUrgency,
		CategoryMultipliers: map[string]float64{"service": 1.5},
	})
	require.NoError(t, err)

	// urgency = (0.4*1 + 0.6*2) * 1.5 = 2.4
	require.Len(t, gotArgs, 4)
	assert.InDelta(t, 2.4, gotArgs[1], 1e-9)
	assert.InDelta(t, 4.4, result.Questions[0].Score, 1e-9)
	assert.Equal(t, 4, result.Questions[0].BalancedPriority)
	assert.Contains(t, result.Questions[0].Justification, "weighted urgency")
}

func TestBalance_WeightedUrgencyClamps(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore(), WithScoreFunc(func(base, urgency, importance, relevance float64) float64 { return 42 }))
	result, err := b.Balance(context.Background(), []models.QuestionForBalancing{question("q1", 5, 10)}, models.BalanceConfig{Strategy: models.BalanceWeightedUrgency})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Questions[0].BalancedPriority)
}

func TestBalance_TimeSensitive(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())
	short := question("short", 2, 20)    // 15s
	medium := question("medium", 2, 100) // ~23.8s
	long := question("long", 2, 200)     // ~47.6s
	for _, q := range []*models.QuestionForBalancing{&short, &medium, &long} {
		q.BusinessImportance = 0
	}

	result, err := b.Balance(context.Background(), []models.QuestionForBalancing{long, medium, short}, models.BalanceConfig{Strategy: models.BalanceTimeSensitive})
	require.NoError(t, err)
	got := byID(result.Questions)

	assert.InDelta(t, 3.0, got["short"].Score, 1e-9)
	assert.InDelta(t, 2.5, got["medium"].Score, 1e-9)
	assert.InDelta(t, 2.0, got["long"].Score, 1e-9)
	assert.Equal(t, 3, got["short"].BalancedPriority)
	assert.Contains(t, got["long"].Justification, "long question")
	assert.Equal(t, "short", result.Questions[0].ID)
}

func TestBalance_BusinessPriority(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	b := NewBalancer(store)
	require.NoError(t, b.UpsertWeight(ctx, &models.PriorityWeight{BusinessID: "biz-1", Category: "service", WeightFactor: 2, Active: true}))
	require.NoError(t, b.UpsertWeight(ctx, &models.PriorityWeight{BusinessID: "biz-1", Category: "staff", WeightFactor: 3, Active: false}))

	fresh := question("fresh", 5, 40)
	worn := question("worn", 5, 40)
	worn.FrequencyScore = 8

	result, err := b.Balance(ctx, []models.QuestionForBalancing{fresh, worn}, models.BalanceConfig{Strategy: models.BalanceBusinessPriority, BusinessID: "biz-1"})
	require.NoError(t, err)
	got := byID(result.Questions)

	// 0.4*5 + 0.3*3*2 + 0.3*3*1 = 4.7
	assert.InDelta(t, 4.7, got["fresh"].Score, 1e-9)
	assert.Equal(t, 5, got["fresh"].BalancedPriority)
	// damped by max(0.5, 1-0.8)
	assert.InDelta(t, 2.35, got["worn"].Score, 1e-9)
	assert.Equal(t, 2, got["worn"].BalancedPriority)
}

func TestBalance_Errors(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())
	ctx := context.Background()

	_, err := b.Balance(ctx, []models.QuestionForBalancing{question("q1", 3, 10)}, models.BalanceConfig{Strategy: "alphabetical"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))

	_, err = b.Balance(ctx, []models.QuestionForBalancing{question("", 3, 10)}, models.BalanceConfig{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = b.Balance(ctx, nil, models.BalanceConfig{MinPriorityLevel: 4, MaxPriorityLevel: 2})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	err = b.UpsertWeight(ctx, &models.PriorityWeight{BusinessID: "biz-1", Category: "x", WeightFactor: 0})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestOptimizeForTimeConstraint(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())
	ctx := context.Background()

	qs := []models.QuestionForBalancing{
		question("a", 5, 20),  // 15s
		question("b", 4, 100), // ~23.8s
		question("c", 4, 20),  // 15s
		question("d", 2, 20),  // below threshold
		question("e", 3, 300), // ~71s
	}

	tests := []struct {
		name        string
		maxDuration float64
	}{
		{name: "tight", maxDuration: 20},
		{name: "medium", maxDuration: 45},
		{name: "roomy", maxDuration: 200},
		{name: "tiny", maxDuration: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := b.OptimizeForTimeConstraint(ctx, qs, tt.maxDuration, nil)
			require.NoError(t, err)
			assert.LessOrEqual(t, sel.TotalDuration, tt.maxDuration)
			assert.Equal(t, 3.0, sel.PriorityThreshold)
			assert.Contains(t, sel.Excluded, "d")
			assert.Equal(t, len(qs), len(sel.Selected)+len(sel.Excluded))

			var sum float64
			for _, s := range sel.Selected {
				sum += s.EstimatedDuration
				assert.NotEqual(t, "d", s.ID)
			}
			assert.InDelta(t, sel.TotalDuration, sum, 1e-9)
		})
	}

	sel, err := b.OptimizeForTimeConstraint(ctx, qs, 45, nil)
	require.NoError(t, err)
	require.Len(t, sel.Selected, 2)
	assert.Equal(t, "a", sel.Selected[0].ID)
	assert.Equal(t, "c", sel.Selected[1].ID)

	_, err = b.OptimizeForTimeConstraint(ctx, qs, 0, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	negative := -1.0
	_, err = b.OptimizeForTimeConstraint(ctx, qs, 45, &negative)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestOptimizeForTimeConstraint_ZeroThresholdKeepsEveryQuestion(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())
	qs := []models.QuestionForBalancing{
		question("high", 5, 20),
		question("low", 1, 20),
	}

	none := 0.0
	sel, err := b.OptimizeForTimeConstraint(context.Background(), qs, 60, &none)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sel.PriorityThreshold)
	assert.Empty(t, sel.Excluded)
	assert.Len(t, sel.Selected, 2)

	sel, err = b.OptimizeForTimeConstraint(context.Background(), qs, 60, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"low"}, sel.Excluded)
}

func TestBalance_FiftyQuestionsUnderBudget(t *testing.T) {
	b := NewBalancer(storage.NewMemoryStore())
	var qs []models.QuestionForBalancing
	for i := 0; i < 50; i++ {
		q := question(fmt.Sprintf("q%02d", i), float64(1+i%5), 20+i*3)
		q.FrequencyScore = float64(i % 10)
		q.RecencyScore = float64(i % 6)
		qs = append(qs, q)
	}

	for _, strategy := range []models.BalanceStrategy{
		models.BalanceEqualDistribution, models.BalanceWeightedUrgency,
		models.BalanceTimeSensitive, models.BalanceBusinessPriority,
	} {
		result, err := b.Balance(context.Background(), qs, models.BalanceConfig{Strategy: strategy, BusinessID: "biz-1"})
		require.NoError(t, err)
		assert.Len(t, result.Questions, 50)
		assert.Less(t, result.ProcessingTime, time.Second)
	}
}
