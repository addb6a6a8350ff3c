package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// maxRecencyDays caps the days-since-last-presentation recency score
const maxRecencyDays = 5.0

// candidate is one question that survived frequency and trigger checks
type candidate struct {
	question   *models.Question
	status     *models.FrequencyStatus
	evaluation *models.EvaluationResult
}

type candidateResult struct {
	candidate *candidate
	skip      *models.SkippedQuestion
	err       error
}

// Select runs the selection pipeline for one interaction: frequency and
// trigger eligibility, conflict harmonization, then priority balancing.
func (s *Service) Select(ctx context.Context, req models.SelectionRequest) (*models.Selection, error) {
	const op = "engine.Select"
	startTime := s.now()

	if err := apperrors.RequireID(op, "business id", req.BusinessID); err != nil {
		return nil, err
	}
	if req.MaxDurationSeconds < 0 {
		return nil, apperrors.Validation(op, "max duration must not be negative, got %v", req.MaxDurationSeconds)
	}

	ids, err := s.candidateIDs(ctx, req)
	if err != nil {
		return nil, err
	}

	ec := req.Context
	ec.BusinessID = req.BusinessID
	if ec.SessionID == "" {
		ec.SessionID = req.SessionID
	}
	if ec.Now.IsZero() {
		ec.Now = startTime
	}

	results := make([]candidateResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = s.screen(ctx, req.BusinessID, id, ec)
		}(i, id)
	}
	wg.Wait()

	selection := &models.Selection{
		BusinessID:  req.BusinessID,
		SessionID:   req.SessionID,
		Questions:   []models.BalancedQuestion{},
		GeneratedAt: startTime,
	}
	var eligible []*candidate
	for _, r := range results {
		switch {
		case r.err != nil:
			s.countError()
			return nil, r.err
		case r.skip != nil:
			selection.Skipped = append(selection.Skipped, *r.skip)
		default:
			eligible = append(eligible, r.candidate)
		}
	}

	if len(eligible) > 0 {
		if err := s.rank(ctx, req, eligible, selection); err != nil {
			s.countError()
			return nil, err
		}
	}

	selection.ProcessingTime = s.now().Sub(startTime)
	s.updateSelectionMetrics(len(ids), selection)

	logrus.WithFields(logrus.Fields{
		"business_id": req.BusinessID,
		"session_id":  req.SessionID,
		"candidates":  len(ids),
		"eligible":    len(eligible),
		"selected":    len(selection.Questions),
		"duration_ms": selection.ProcessingTime.Milliseconds(),
	}).Info("Question selection completed")
	return selection, nil
}

func (s *Service) candidateIDs(ctx context.Context, req models.SelectionRequest) ([]string, error) {
	if len(req.QuestionIDs) > 0 {
		seen := make(map[string]bool, len(req.QuestionIDs))
		ids := make([]string, 0, len(req.QuestionIDs))
		for _, id := range req.QuestionIDs {
			if id == "" {
				return nil, apperrors.Validation("engine.Select", "question ids must not be empty")
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	questions, err := s.store.ListQuestions(ctx, req.BusinessID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"op": "ListQuestions", "business_id": req.BusinessID}).WithError(err).Error("engine store operation failed")
		return nil, err
	}
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids, nil
}

// screen decides whether a single question may be asked in this interaction
func (s *Service) screen(ctx context.Context, businessID, id string, ec models.EvaluationContext) candidateResult {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return candidateResult{skip: &models.SkippedQuestion{QuestionID: id, Reason: "question not found"}}
		}
		return candidateResult{err: err}
	}
	if q.BusinessID != businessID {
		return candidateResult{skip: &models.SkippedQuestion{QuestionID: id, Reason: "question belongs to another business"}}
	}

	status, err := s.tracker.GetStatus(ctx, id)
	if err != nil {
		return candidateResult{err: err}
	}
	if !status.CanPresent {
		return candidateResult{skip: &models.SkippedQuestion{QuestionID: id, Reason: "frequency limit reached"}}
	}

	evaluation, err := s.evaluator.Evaluate(ctx, id, ec)
	if err != nil {
		return candidateResult{err: err}
	}
	if !evaluation.Triggered {
		return candidateResult{skip: &models.SkippedQuestion{QuestionID: id, Reason: "not triggered: " + evaluation.Reason}}
	}

	return candidateResult{candidate: &candidate{question: q, status: status, evaluation: evaluation}}
}

// rank harmonizes the eligible set and orders it, trimming to the time budget when asked
func (s *Service) rank(ctx context.Context, req models.SelectionRequest, eligible []*candidate, selection *models.Selection) error {
	now := s.now()

	forHarmonization := make([]models.QuestionForHarmonization, len(eligible))
	for i, c := range eligible {
		forHarmonization[i] = harmonizationInput(c, req.BusinessID)
	}
	harmonization, err := s.harmonizer.Harmonize(ctx, forHarmonization, req.HarmonizerRuleID, req.Harmonize)
	if err != nil {
		return err
	}
	selection.Harmonization = harmonization

	perDay := make(map[string]float64, len(harmonization.Questions))
	for _, hq := range harmonization.Questions {
		if hq.Error == "" {
			perDay[hq.ID] = hq.HarmonizedFrequency
		}
	}

	forBalancing := make([]models.QuestionForBalancing, len(eligible))
	for i, c := range eligible {
		frequency := float64(c.status.CurrentCount)
		if f, ok := perDay[c.question.ID]; ok {
			frequency = InWindow(f, c.question.FrequencyWindow)
		}
		forBalancing[i] = balancingInput(c, frequency, now)
	}

	if req.MaxDurationSeconds > 0 {
		boxed, err := s.balancer.OptimizeForTimeConstraint(ctx, forBalancing, req.MaxDurationSeconds, req.PriorityThreshold)
		if err != nil {
			return err
		}
		selection.Questions = append(selection.Questions, boxed.Selected...)
		selection.TotalDuration = boxed.TotalDuration
		for _, id := range boxed.Excluded {
			selection.Skipped = append(selection.Skipped, models.SkippedQuestion{QuestionID: id, Reason: "outside time budget"})
		}
		return nil
	}

	cfg := req.Balance
	if cfg.BusinessID == "" {
		cfg.BusinessID = req.BusinessID
	}
	balanced, err := s.balancer.Balance(ctx, forBalancing, cfg)
	if err != nil {
		return err
	}
	selection.Questions = append(selection.Questions, balanced.Questions...)
	for _, q := range balanced.Questions {
		selection.TotalDuration += q.EstimatedDuration
	}
	return nil
}

// PerDay converts a per-window target into occurrences per day
func PerDay(target int, window models.WindowKind) float64 {
	switch window {
	case models.WindowHourly:
		return float64(target) * 24
	case models.WindowWeekly:
		return float64(target) / 7
	case models.WindowMonthly:
		return float64(target) / 30
	default:
		return float64(target)
	}
}

// InWindow converts occurrences per day back into occurrences per window
func InWindow(perDay float64, window models.WindowKind) float64 {
	switch window {
	case models.WindowHourly:
		return perDay / 24
	case models.WindowWeekly:
		return perDay * 7
	case models.WindowMonthly:
		return perDay * 30
	default:
		return perDay
	}
}

func harmonizationInput(c *candidate, businessID string) models.QuestionForHarmonization {
	q := c.question
	return models.QuestionForHarmonization{
		ID:               q.ID,
		BusinessID:       businessID,
		Category:         q.Category,
		TopicCategory:    q.TopicCategory,
		PriorityLevel:    q.PriorityLevel,
		CurrentFrequency: PerDay(c.status.CurrentCount, q.FrequencyWindow),
		TargetFrequency:  PerDay(q.FrequencyTarget, q.FrequencyWindow),
		LastPresentedAt:  q.LastPresentedAt,
	}
}

// balancingInput scores a candidate; frequency is its harmonized presentation
// count for the current window.
func balancingInput(c *candidate, frequency float64, now time.Time) models.QuestionForBalancing {
	q := c.question
	importance := float64(q.PriorityLevel)
	if v, ok := q.RuleOverrides["business_importance"]; ok {
		if f, ok := toFloat(v); ok {
			importance = f
		}
	}

	recency := maxRecencyDays
	if q.LastPresentedAt != nil {
		recency = math.Min(maxRecencyDays, now.Sub(*q.LastPresentedAt).Hours()/24)
		if recency < 0 {
			recency = 0
		}
	}

	return models.QuestionForBalancing{
		ID:                 q.ID,
		Text:               q.Text,
		Category:           q.Category,
		TopicCategory:      q.TopicCategory,
		BasePriority:       float64(q.PriorityLevel),
		CustomerRelevance:  5 * c.evaluation.Confidence,
		BusinessImportance: importance,
		FrequencyScore:     frequency,
		RecencyScore:       recency,
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// skipCategory strips the per-question detail so skip reasons aggregate in metrics
func skipCategory(reason string) string {
	if i := strings.Index(reason, ":"); i >= 0 {
		return reason[:i]
	}
	return reason
}
