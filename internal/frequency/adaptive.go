package frequency

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// adaptiveLookbackDays is the number of daily buckets adaptive behavior looks at
	adaptiveLookbackDays = 7
	// minAdaptivePresentations is the least evidence needed before adjusting
	minAdaptivePresentations = 5
	// noiseFloor discards multipliers this close to 1.0
	noiseFloor = 0.05

	ReasonInsufficientData = "insufficient data"
)

// DefaultAdaptiveConfig returns the adjustment settings used when a caller leaves fields unset
func DefaultAdaptiveConfig() models.AdaptiveConfig {
	return models.AdaptiveConfig{
		ResponseRateThreshold: 0.3,
		RatingThreshold:       3.0,
		AdjustmentSensitivity: 0.5,
		MinMultiplier:         0.5,
		MaxMultiplier:         2.0,
	}
}

func withDefaults(cfg models.AdaptiveConfig) models.AdaptiveConfig {
	def := DefaultAdaptiveConfig()
	if cfg.ResponseRateThreshold <= 0 {
		cfg.ResponseRateThreshold = def.ResponseRateThreshold
	}
	if cfg.RatingThreshold <= 0 {
		cfg.RatingThreshold = def.RatingThreshold
	}
	if cfg.AdjustmentSensitivity <= 0 {
		cfg.AdjustmentSensitivity = def.AdjustmentSensitivity
	}
	if cfg.MinMultiplier <= 0 {
		cfg.MinMultiplier = def.MinMultiplier
	}
	if cfg.MaxMultiplier <= 0 {
		cfg.MaxMultiplier = def.MaxMultiplier
	}
	return cfg
}

// Summarize folds analytics buckets into a performance sample
func Summarize(buckets []models.AnalyticsBucket) models.PerformanceSample {
	s := models.PerformanceSample{Periods: len(buckets)}
	var ratingWeighted float64
	var ratedResponses int
	for _, b := range buckets {
		s.TotalPresentations += b.PresentationCount
		s.TotalResponses += b.ResponseCount
		if b.AverageRating > 0 {
			weight := b.ResponseCount
			if weight == 0 {
				weight = 1
			}
			ratingWeighted += b.AverageRating * float64(weight)
			ratedResponses += weight
		}
	}
	if s.TotalPresentations > 0 {
		s.ResponseRate = float64(s.TotalResponses) / float64(s.TotalPresentations)
	}
	if ratedResponses > 0 {
		s.AverageRating = ratingWeighted / float64(ratedResponses)
		s.HasRatings = true
	}
	return s
}

// AdaptiveMultiplier computes the clamped frequency multiplier for a sample.
// Low response rate or low rating lowers it in proportion to the shortfall;
// a response rate above 1.5x the threshold raises it.
func AdaptiveMultiplier(s models.PerformanceSample, cfg models.AdaptiveConfig) float64 {
	cfg = withDefaults(cfg)
	m := 1.0

	lowResponse := s.ResponseRate < cfg.ResponseRateThreshold
	lowRating := s.HasRatings && s.AverageRating < cfg.RatingThreshold
	boostAt := 1.5 * cfg.ResponseRateThreshold

	switch {
	case lowResponse || lowRating:
		if lowResponse {
			m -= (cfg.ResponseRateThreshold - s.ResponseRate) / cfg.ResponseRateThreshold * cfg.AdjustmentSensitivity
		}
		if lowRating {
			m -= (cfg.RatingThreshold - s.AverageRating) / cfg.RatingThreshold * cfg.AdjustmentSensitivity
		}
	case s.ResponseRate > boostAt:
		m += (s.ResponseRate - boostAt) / boostAt * cfg.AdjustmentSensitivity
	}

	return math.Max(cfg.MinMultiplier, math.Min(cfg.MaxMultiplier, m))
}

func (t *Tracker) sample(ctx context.Context, questionID string, days int) ([]models.AnalyticsBucket, models.PerformanceSample, error) {
	since := t.now().In(time.UTC).AddDate(0, 0, -(days - 1))
	buckets, err := t.store.AnalyticsBuckets(ctx, questionID, since)
	if err != nil {
		return nil, models.PerformanceSample{}, t.storeError("AnalyticsBuckets", questionID, err)
	}
	return buckets, Summarize(buckets), nil
}

func scaledTarget(old int, multiplier float64) int {
	next := int(math.Round(float64(old) * multiplier))
	if next < 1 {
		next = 1
	}
	return next
}

// ApplyAdaptiveBehavior adjusts the question's frequency target from the last
// seven days of analytics.
func (t *Tracker) ApplyAdaptiveBehavior(ctx context.Context, questionID string, cfg models.AdaptiveConfig) (*models.AdaptiveResult, error) {
	if err := apperrors.RequireID("frequency.ApplyAdaptiveBehavior", "question id", questionID); err != nil {
		return nil, err
	}
	cfg = withDefaults(cfg)

	q, err := t.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, t.storeError("GetQuestion", questionID, err)
	}
	_, sample, err := t.sample(ctx, questionID, adaptiveLookbackDays)
	if err != nil {
		return nil, err
	}

	result := &models.AdaptiveResult{
		QuestionID:  questionID,
		Multiplier:  1.0,
		OldTarget:   q.FrequencyTarget,
		NewTarget:   q.FrequencyTarget,
		Metrics:     sample,
		EvaluatedAt: t.now(),
	}

	if sample.TotalPresentations < minAdaptivePresentations {
		result.Reason = ReasonInsufficientData
		return result, nil
	}

	result.Multiplier = AdaptiveMultiplier(sample, cfg)
	if math.Abs(result.Multiplier-1.0) < noiseFloor {
		result.Reason = "change below noise threshold"
		return result, nil
	}

	newTarget := scaledTarget(q.FrequencyTarget, result.Multiplier)
	if newTarget == q.FrequencyTarget {
		result.Reason = "rounded target unchanged"
		return result, nil
	}

	if err := t.store.UpdateFrequencyConfig(ctx, questionID, models.FrequencyConfigUpdate{Target: &newTarget}); err != nil {
		t.cache.Invalidate(questionID)
		return nil, t.storeError("UpdateFrequencyConfig", questionID, err)
	}
	t.cache.Invalidate(questionID)

	result.Applied = true
	result.NewTarget = newTarget
	result.Reason = fmt.Sprintf("frequency target adjusted from %d to %d", q.FrequencyTarget, newTarget)

	t.log.WithFields(logrus.Fields{
		"question_id":   questionID,
		"old_target":    q.FrequencyTarget,
		"new_target":    newTarget,
		"multiplier":    result.Multiplier,
		"response_rate": sample.ResponseRate,
		"avg_rating":    sample.AverageRating,
	}).Info("Applied adaptive frequency adjustment")
	return result, nil
}

// GetFrequencyAnalytics returns status plus the daily buckets of the last days
func (t *Tracker) GetFrequencyAnalytics(ctx context.Context, questionID string, days int) (*models.FrequencyAnalytics, error) {
	const op = "frequency.GetFrequencyAnalytics"
	if err := apperrors.RequireID(op, "question id", questionID); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = adaptiveLookbackDays
	}
	if days > 366 {
		return nil, apperrors.Validation(op, "days must be at most 366, got %d", days)
	}

	status, err := t.GetStatus(ctx, questionID)
	if err != nil {
		return nil, err
	}
	buckets, sample, err := t.sample(ctx, questionID, days)
	if err != nil {
		return nil, err
	}

	return &models.FrequencyAnalytics{
		QuestionID:         questionID,
		Status:             status,
		Buckets:            buckets,
		TotalPresentations: sample.TotalPresentations,
		TotalResponses:     sample.TotalResponses,
		ResponseRate:       sample.ResponseRate,
		AverageRating:      sample.AverageRating,
	}, nil
}

// GetFrequencyRecommendations reports what adaptive behavior would do for
// every question of a business, without changing anything.
func (t *Tracker) GetFrequencyRecommendations(ctx context.Context, businessID string, cfg models.AdaptiveConfig) ([]models.FrequencyRecommendation, error) {
	if err := apperrors.RequireID("frequency.GetFrequencyRecommendations", "business id", businessID); err != nil {
		return nil, err
	}
	cfg = withDefaults(cfg)

	questions, err := t.store.ListQuestions(ctx, businessID)
	if err != nil {
		t.log.WithFields(logrus.Fields{"op": "ListQuestions", "business_id": businessID}).WithError(err).Error("frequency store operation failed")
		return nil, err
	}

	recs := make([]models.FrequencyRecommendation, 0, len(questions))
	for _, q := range questions {
		_, sample, err := t.sample(ctx, q.ID, adaptiveLookbackDays)
		if err != nil {
			return nil, err
		}
		rec := models.FrequencyRecommendation{
			QuestionID:      q.ID,
			CurrentTarget:   q.FrequencyTarget,
			SuggestedTarget: q.FrequencyTarget,
			Multiplier:      1.0,
			Metrics:         sample,
		}

		switch {
		case sample.TotalPresentations < minAdaptivePresentations:
			rec.Action = "insufficient_data"
			rec.Reason = ReasonInsufficientData
		default:
			rec.Multiplier = AdaptiveMultiplier(sample, cfg)
			rec.SuggestedTarget = scaledTarget(q.FrequencyTarget, rec.Multiplier)
			switch {
			case math.Abs(rec.Multiplier-1.0) < noiseFloor || rec.SuggestedTarget == q.FrequencyTarget:
				rec.Action = "maintain"
				rec.SuggestedTarget = q.FrequencyTarget
				rec.Reason = "performance within expected range"
			case rec.SuggestedTarget < q.FrequencyTarget:
				rec.Action = "decrease"
				rec.Reason = fmt.Sprintf("response rate %.2f, average rating %.2f below thresholds", sample.ResponseRate, sample.AverageRating)
			default:
				rec.Action = "increase"
				rec.Reason = fmt.Sprintf("response rate %.2f well above threshold %.2f", sample.ResponseRate, cfg.ResponseRateThreshold)
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
