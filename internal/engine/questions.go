package engine

import (
	"context"
	"strings"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// UpsertQuestion validates and stores a question definition. Counters of an
// existing question are kept by the store.
func (s *Service) UpsertQuestion(ctx context.Context, q *models.Question) error {
	const op = "engine.UpsertQuestion"
	if q == nil {
		return apperrors.Validation(op, "question is required")
	}
	if err := apperrors.RequireID(op, "question id", q.ID); err != nil {
		return err
	}
	if err := apperrors.RequireID(op, "business id", q.BusinessID); err != nil {
		return err
	}
	if strings.TrimSpace(q.Text) == "" {
		return apperrors.Validation(op, "question %s has no text", q.ID)
	}
	if q.PriorityLevel < 1 || q.PriorityLevel > 5 {
		return apperrors.Validation(op, "priority level must be between 1 and 5, got %d", q.PriorityLevel)
	}
	if q.FrequencyTarget <= 0 {
		return apperrors.Validation(op, "frequency target must be positive, got %d", q.FrequencyTarget)
	}
	if q.FrequencyWindow == "" {
		q.FrequencyWindow = models.WindowDaily
	}
	if !q.FrequencyWindow.Valid() {
		return apperrors.Configuration(op, "unsupported frequency window %q", q.FrequencyWindow)
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.now()
	}

	err := s.store.UpsertQuestion(ctx, q)
	s.tracker.Invalidate(q.ID)
	if err != nil {
		logrus.WithFields(logrus.Fields{"op": "UpsertQuestion", "question_id": q.ID}).WithError(err).Error("engine store operation failed")
		return err
	}
	return nil
}

// GetQuestion loads one question definition with its counters
func (s *Service) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	if err := apperrors.RequireID("engine.GetQuestion", "question id", id); err != nil {
		return nil, err
	}
	return s.store.GetQuestion(ctx, id)
}

// ListQuestions returns the questions of a business
func (s *Service) ListQuestions(ctx context.Context, businessID string) ([]models.Question, error) {
	if err := apperrors.RequireID("engine.ListQuestions", "business id", businessID); err != nil {
		return nil, err
	}
	return s.store.ListQuestions(ctx, businessID)
}
