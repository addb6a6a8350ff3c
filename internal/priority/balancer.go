package priority

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultMinLevel          = 1
	defaultMaxLevel          = 5
	defaultPriorityThreshold = 3.0

	minQuestionSeconds = 15.0
	charsPerSecond     = 4.2
	shortQuestionMax   = 15.0
	mediumQuestionMax  = 30.0
)

// ScoreFunc turns the weighted_urgency inputs into a raw priority score
type ScoreFunc func(base, urgency, importance, relevance float64) float64

// DefaultScore weighs the base priority highest and customer relevance lowest
func DefaultScore(base, urgency, importance, relevance float64) float64 {
	return base*0.4 + urgency*0.3 + importance*0.2 + relevance*0.1
}

// DefaultDurationBoosts favour short questions in time_sensitive balancing
func DefaultDurationBoosts() models.DurationBoosts {
	return models.DurationBoosts{Short: 1.0, Medium: 0.5, Long: 0}
}

// WeightStore is the slice of the persistence collaborator the balancer needs
type WeightStore interface {
	ListPriorityWeights(ctx context.Context, businessID string) ([]models.PriorityWeight, error)
	UpsertPriorityWeight(ctx context.Context, w *models.PriorityWeight) error
}

// Balancer assigns final priorities to candidate questions
type Balancer struct {
	weights WeightStore
	score   ScoreFunc
	log     *logrus.Entry
}

// Option configures a Balancer
type Option func(*Balancer)

// WithScoreFunc replaces the weighted_urgency scoring function
func WithScoreFunc(fn ScoreFunc) Option {
	return func(b *Balancer) { b.score = fn }
}

// WithLogger sets the structured logger
func WithLogger(log *logrus.Entry) Option {
	return func(b *Balancer) { b.log = log }
}

// NewBalancer creates a priority balancer
func NewBalancer(weights WeightStore, opts ...Option) *Balancer {
	b := &Balancer{
		weights: weights,
		score:   DefaultScore,
		log:     logrus.WithField("component", "priority"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EstimateDuration is the spoken length of a question in seconds, at least 15
func EstimateDuration(text string) float64 {
	return math.Max(minQuestionSeconds, float64(utf8.RuneCountInString(text))/charsPerSecond)
}

func clampLevel(v float64, min, max int) int {
	level := int(math.Round(v))
	if level < min {
		return min
	}
	if level > max {
		return max
	}
	return level
}

// UpsertWeight validates and stores a business priority weight
func (b *Balancer) UpsertWeight(ctx context.Context, w *models.PriorityWeight) error {
	const op = "priority.UpsertWeight"
	if w == nil {
		return apperrors.Validation(op, "weight is required")
	}
	if err := apperrors.RequireID(op, "business id", w.BusinessID); err != nil {
		return err
	}
	if err := apperrors.RequireID(op, "category", w.Category); err != nil {
		return err
	}
	if w.WeightFactor <= 0 {
		return apperrors.Validation(op, "weight factor must be positive, got %v", w.WeightFactor)
	}
	if err := b.weights.UpsertPriorityWeight(ctx, w); err != nil {
		b.log.WithFields(logrus.Fields{"op": "UpsertPriorityWeight", "business_id": w.BusinessID, "category": w.Category}).WithError(err).Error("priority store operation failed")
		return err
	}
	return nil
}

func (b *Balancer) loadWeights(ctx context.Context, businessID string) (map[string]float64, error) {
	out := make(map[string]float64)
	if businessID == "" {
		return out, nil
	}
	weights, err := b.weights.ListPriorityWeights(ctx, businessID)
	if err != nil {
		b.log.WithFields(logrus.Fields{"op": "ListPriorityWeights", "business_id": businessID}).WithError(err).Error("priority store operation failed")
		return nil, err
	}
	for _, w := range weights {
		if w.Active && w.WeightFactor > 0 {
			out[w.Category] = w.WeightFactor
		}
	}
	return out, nil
}

func weightOf(weights map[string]float64, key string) float64 {
	if w, ok := weights[key]; ok {
		return w
	}
	return 1.0
}

// Balance computes final priorities with the configured strategy and returns
// the questions ordered by balanced priority, highest first.
func (b *Balancer) Balance(ctx context.Context, questions []models.QuestionForBalancing, cfg models.BalanceConfig) (*models.PriorityBalanceResult, error) {
	const op = "priority.Balance"
	start := time.Now()

	if cfg.Strategy == "" {
		cfg.Strategy = models.BalanceWeightedUrgency
	}
	if cfg.MinPriorityLevel == 0 {
		cfg.MinPriorityLevel = defaultMinLevel
	}
	if cfg.MaxPriorityLevel == 0 {
		cfg.MaxPriorityLevel = defaultMaxLevel
	}
	if cfg.MinPriorityLevel > cfg.MaxPriorityLevel {
		return nil, apperrors.Validation(op, "min priority level %d above max %d", cfg.MinPriorityLevel, cfg.MaxPriorityLevel)
	}
	for i, q := range questions {
		if q.ID == "" {
			return nil, apperrors.Validation(op, "question at index %d has no id", i)
		}
	}

	var balanced []models.BalancedQuestion
	switch cfg.Strategy {
	case models.BalanceEqualDistribution:
		balanced = equalDistribution(questions, cfg)
	case models.BalanceWeightedUrgency:
		balanced = b.weightedUrgency(questions, cfg)
	case models.BalanceTimeSensitive:
		balanced = timeSensitive(questions, cfg)
	case models.BalanceBusinessPriority:
		weights, err := b.loadWeights(ctx, cfg.BusinessID)
		if err != nil {
			return nil, err
		}
		balanced = businessPriority(questions, cfg, weights)
	default:
		return nil, apperrors.Configuration(op, "unsupported balance strategy %q", cfg.Strategy)
	}

	for i := range balanced {
		if balanced[i].EstimatedDuration == 0 {
			balanced[i].EstimatedDuration = EstimateDuration(questions[i].Text)
		}
	}
	sort.SliceStable(balanced, func(i, j int) bool {
		if balanced[i].BalancedPriority != balanced[j].BalancedPriority {
			return balanced[i].BalancedPriority > balanced[j].BalancedPriority
		}
		return balanced[i].Score > balanced[j].Score
	})

	result := &models.PriorityBalanceResult{
		Strategy:     cfg.Strategy,
		Questions:    balanced,
		Distribution: make(map[int]int),
	}
	for _, bq := range balanced {
		result.Distribution[bq.BalancedPriority]++
	}
	result.ProcessingTime = time.Since(start)

	b.log.WithFields(logrus.Fields{
		"strategy":        cfg.Strategy,
		"questions":       len(balanced),
		"distribution":    result.Distribution,
		"processing_time": result.ProcessingTime.String(),
	}).Debug("Priority balancing completed")
	return result, nil
}

// equalDistribution cuts the ranking into buckets of ceil(n/levels) questions;
// the first bucket gets the highest level, the next one the level below.
// Only the last bucket can be smaller than the rest.
func equalDistribution(questions []models.QuestionForBalancing, cfg models.BalanceConfig) []models.BalancedQuestion {
	n := len(questions)
	levels := cfg.MaxPriorityLevel - cfg.MinPriorityLevel + 1
	bucket := (n + levels - 1) / levels

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	combined := func(q models.QuestionForBalancing) float64 {
		return q.BasePriority + q.CustomerRelevance + q.BusinessImportance
	}
	sort.SliceStable(order, func(a, b int) bool {
		return combined(questions[order[a]]) > combined(questions[order[b]])
	})

	out := make([]models.BalancedQuestion, n)
	for rank, idx := range order {
		q := questions[idx]
		level := cfg.MaxPriorityLevel - rank/bucket
		out[idx] = models.BalancedQuestion{
			ID:               q.ID,
			OriginalPriority: q.BasePriority,
			BalancedPriority: level,
			Score:            combined(q),
			Justification: fmt.Sprintf("equal distribution: rank %d of %d by combined score %.2f, level %d of [%d,%d]",
				rank+1, n, combined(q), level, cfg.MinPriorityLevel, cfg.MaxPriorityLevel),
		}
	}
	return out
}

func (b *Balancer) weightedUrgency(questions []models.QuestionForBalancing, cfg models.BalanceConfig) []models.BalancedQuestion {
	out := make([]models.BalancedQuestion, len(questions))
	for i, q := range questions {
		multiplier := 1.0
		if m, ok := cfg.CategoryMultipliers[q.Category]; ok && m > 0 {
			multiplier = m
		}
		urgency := (0.4*q.FrequencyScore + 0.6*q.RecencyScore) * multiplier
		score := b.score(q.BasePriority, urgency, q.BusinessImportance, q.CustomerRelevance)
		level := clampLevel(score, cfg.MinPriorityLevel, cfg.MaxPriorityLevel)
		out[i] = models.BalancedQuestion{
			ID:               q.ID,
			OriginalPriority: q.BasePriority,
			BalancedPriority: level,
			Score:            score,
			Justification: fmt.Sprintf("weighted urgency: urgency %.2f (category x%.2f), business importance %.2f, customer relevance %.2f, score %.2f",
				urgency, multiplier, q.BusinessImportance, q.CustomerRelevance, score),
		}
	}
	return out
}

func durationBucket(seconds float64, boosts models.DurationBoosts) (string, float64) {
	switch {
	case seconds <= shortQuestionMax:
		return "short", boosts.Short
	case seconds <= mediumQuestionMax:
		return "medium", boosts.Medium
	default:
		return "long", boosts.Long
	}
}

func timeSensitive(questions []models.QuestionForBalancing, cfg models.BalanceConfig) []models.BalancedQuestion {
	boosts := DefaultDurationBoosts()
	if cfg.DurationBoosts != nil {
		boosts = *cfg.DurationBoosts
	}
	out := make([]models.BalancedQuestion, len(questions))
	for i, q := range questions {
		duration := EstimateDuration(q.Text)
		bucket, boost := durationBucket(duration, boosts)
		score := q.BasePriority + 0.3*q.RecencyScore + boost + 0.2*q.BusinessImportance
		level := clampLevel(score, cfg.MinPriorityLevel, cfg.MaxPriorityLevel)
		out[i] = models.BalancedQuestion{
			ID:                q.ID,
			OriginalPriority:  q.BasePriority,
			BalancedPriority:  level,
			Score:             score,
			EstimatedDuration: duration,
			Justification:     fmt.Sprintf("time sensitive: %s question (~%.0fs) boost %.2f, score %.2f", bucket, duration, boost, score),
		}
	}
	return out
}

func businessPriority(questions []models.QuestionForBalancing, cfg models.BalanceConfig, weights map[string]float64) []models.BalancedQuestion {
	out := make([]models.BalancedQuestion, len(questions))
	for i, q := range questions {
		categoryWeight := weightOf(weights, q.Category)
		topicWeight := weightOf(weights, q.TopicCategory)
		raw := 0.4*q.BasePriority + 0.3*q.BusinessImportance*categoryWeight + 0.3*q.CustomerRelevance*topicWeight
		damping := math.Max(0.5, 1-q.FrequencyScore/10)
		score := raw * damping
		level := clampLevel(score, cfg.MinPriorityLevel, cfg.MaxPriorityLevel)
		out[i] = models.BalancedQuestion{
			ID:               q.ID,
			OriginalPriority: q.BasePriority,
			BalancedPriority: level,
			Score:            score,
			Justification: fmt.Sprintf("business priority: category weight %.2f, topic weight %.2f, frequency damping %.2f, score %.2f",
				categoryWeight, topicWeight, damping, score),
		}
	}
	return out
}

// OptimizeForTimeConstraint keeps questions at or above the priority threshold,
// balances them time_sensitive and takes them greedily, highest priority first,
// stopping at the first question that would push the total past maxDuration.
// A nil threshold means the default of 3; zero keeps every question.
func (b *Balancer) OptimizeForTimeConstraint(ctx context.Context, questions []models.QuestionForBalancing, maxDuration float64, minPriority *float64) (*models.TimeBoxedSelection, error) {
	const op = "priority.OptimizeForTimeConstraint"
	if maxDuration <= 0 {
		return nil, apperrors.Validation(op, "max duration must be positive, got %v", maxDuration)
	}
	threshold := defaultPriorityThreshold
	if minPriority != nil {
		if *minPriority < 0 {
			return nil, apperrors.Validation(op, "priority threshold must not be negative, got %v", *minPriority)
		}
		threshold = *minPriority
	}

	selection := &models.TimeBoxedSelection{MaxDuration: maxDuration, PriorityThreshold: threshold}
	var eligible []models.QuestionForBalancing
	for _, q := range questions {
		if q.BasePriority >= threshold {
			eligible = append(eligible, q)
		} else {
			selection.Excluded = append(selection.Excluded, q.ID)
		}
	}

	balanced, err := b.Balance(ctx, eligible, models.BalanceConfig{Strategy: models.BalanceTimeSensitive})
	if err != nil {
		return nil, err
	}

	for i, bq := range balanced.Questions {
		if selection.TotalDuration+bq.EstimatedDuration > maxDuration {
			for _, rest := range balanced.Questions[i:] {
				selection.Excluded = append(selection.Excluded, rest.ID)
			}
			break
		}
		selection.Selected = append(selection.Selected, bq)
		selection.TotalDuration += bq.EstimatedDuration
	}

	b.log.WithFields(logrus.Fields{
		"candidates":     len(questions),
		"selected":       len(selection.Selected),
		"total_duration": selection.TotalDuration,
		"max_duration":   maxDuration,
	}).Debug("Time-boxed selection completed")
	return selection, nil
}
