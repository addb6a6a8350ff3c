package frequency

import (
	"context"
	"fmt"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/cache"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultStatusTTL is how long a computed status may be served from cache
const DefaultStatusTTL = 2 * time.Minute

// Store is the slice of the persistence collaborator the tracker needs
type Store interface {
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestions(ctx context.Context, businessID string) ([]models.Question, error)
	IncrementPresentation(ctx context.Context, questionID string, at time.Time) (int, error)
	ResetQuestionWindow(ctx context.Context, questionID string, at time.Time) error
	ResetExpiredWindow(ctx context.Context, questionID string, expected *time.Time, at time.Time) (bool, error)
	UpdateFrequencyConfig(ctx context.Context, questionID string, update models.FrequencyConfigUpdate) error
	RecordAnalytics(ctx context.Context, delta models.AnalyticsDelta) error
	AnalyticsBuckets(ctx context.Context, questionID string, since time.Time) ([]models.AnalyticsBucket, error)
}

// Tracker owns per-question presentation counters and their rolling windows
type Tracker struct {
	store Store
	cache *cache.TTL[string, models.FrequencyStatus]
	now   func() time.Time
	loc   *time.Location
	log   *logrus.Entry
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLocation sets the zone windows are truncated in
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) { t.loc = loc }
}

// WithCache injects the status cache
func WithCache(c *cache.TTL[string, models.FrequencyStatus]) Option {
	return func(t *Tracker) { t.cache = c }
}

// WithLogger sets the structured logger
func WithLogger(log *logrus.Entry) Option {
	return func(t *Tracker) { t.log = log }
}

// NewTracker creates a frequency tracker
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		now:   time.Now,
		loc:   time.Local,
		log:   logrus.WithField("component", "frequency"),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.cache == nil {
		t.cache = cache.New[string, models.FrequencyStatus](DefaultStatusTTL, 0, t.now)
	}
	return t
}

// Invalidate drops the cached status of a question whose config changed elsewhere
func (t *Tracker) Invalidate(questionID string) {
	t.cache.Invalidate(questionID)
}

func (t *Tracker) storeError(op, questionID string, err error) error {
	t.log.WithFields(logrus.Fields{
		"op":          op,
		"question_id": questionID,
	}).WithError(err).Error("frequency store operation failed")
	return err
}

func buildStatus(q *models.Question, count int, start, next time.Time) models.FrequencyStatus {
	remaining := q.FrequencyTarget - count
	if remaining < 0 {
		remaining = 0
	}
	return models.FrequencyStatus{
		QuestionID:             q.ID,
		CurrentCount:           count,
		TargetCount:            q.FrequencyTarget,
		Window:                 q.FrequencyWindow,
		WindowStart:            start,
		NextReset:              next,
		RemainingPresentations: remaining,
		CanPresent:             remaining > 0,
	}
}

// maxResetAttempts bounds how often GetStatus re-reads a question whose
// expired window another caller reset first
const maxResetAttempts = 3

// GetStatus reports the question's current window, resetting it first when
// the window has already elapsed. The reset is conditional on the window the
// question was read with, so a counter restarted concurrently is never zeroed
// a second time.
func (t *Tracker) GetStatus(ctx context.Context, questionID string) (*models.FrequencyStatus, error) {
	if err := apperrors.RequireID("frequency.GetStatus", "question id", questionID); err != nil {
		return nil, err
	}
	now := t.now()
	if cached, ok := t.cache.Get(questionID); ok && now.Before(cached.NextReset) {
		return &cached, nil
	}

	for attempt := 1; ; attempt++ {
		q, err := t.store.GetQuestion(ctx, questionID)
		if err != nil {
			return nil, t.storeError("GetQuestion", questionID, err)
		}
		start, next, err := WindowBounds(q.WindowAnchor(), q.FrequencyWindow, t.loc)
		if err != nil {
			return nil, err
		}
		if now.Before(next) {
			status := buildStatus(q, q.CurrentWindowCount, start, next)
			t.cache.Set(questionID, status)
			return &status, nil
		}

		reset, err := t.store.ResetExpiredWindow(ctx, questionID, q.WindowResetAt, now)
		if err != nil {
			return nil, t.storeError("ResetExpiredWindow", questionID, err)
		}
		if !reset {
			if attempt == maxResetAttempts {
				return nil, fmt.Errorf("frequency window of question %s kept changing during reset", questionID)
			}
			continue
		}

		t.log.WithFields(logrus.Fields{
			"question_id":    questionID,
			"previous_count": q.CurrentWindowCount,
			"expired_at":     next,
		}).Info("Frequency window elapsed, counter reset")
		if start, next, err = WindowBounds(now, q.FrequencyWindow, t.loc); err != nil {
			return nil, err
		}
		status := buildStatus(q, 0, start, next)
		t.cache.Set(questionID, status)
		return &status, nil
	}
}

// CanPresent reports whether the question still has presentations left in its window
func (t *Tracker) CanPresent(ctx context.Context, questionID string) (bool, error) {
	status, err := t.GetStatus(ctx, questionID)
	if err != nil {
		return false, err
	}
	return status.CanPresent, nil
}

// RecordPresentation counts one presentation. It refuses when the window
// budget is exhausted; callers check CanPresent first. Once the counter is
// incremented the call succeeds, even if the analytics delta is lost.
func (t *Tracker) RecordPresentation(ctx context.Context, questionID string) (*models.FrequencyStatus, error) {
	status, err := t.GetStatus(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if !status.CanPresent {
		return nil, apperrors.PolicyViolation("frequency.RecordPresentation",
			"question %s already presented %d/%d times this %s window", questionID, status.CurrentCount, status.TargetCount, status.Window)
	}

	now := t.now()
	count, err := t.store.IncrementPresentation(ctx, questionID, now)
	t.cache.Invalidate(questionID)
	if err != nil {
		return nil, t.storeError("IncrementPresentation", questionID, err)
	}
	// the presentation is already counted, analytics failures are only logged
	if err := t.store.RecordAnalytics(ctx, models.AnalyticsDelta{QuestionID: questionID, Day: now, Presentations: 1}); err != nil {
		t.log.WithFields(logrus.Fields{
			"op":          "RecordAnalytics",
			"question_id": questionID,
		}).WithError(err).Warn("Presentation counted but analytics not recorded")
	}

	updated := *status
	updated.CurrentCount = count
	updated.RemainingPresentations = updated.TargetCount - count
	if updated.RemainingPresentations < 0 {
		updated.RemainingPresentations = 0
	}
	updated.CanPresent = updated.RemainingPresentations > 0

	t.log.WithFields(logrus.Fields{
		"question_id": questionID,
		"count":       count,
		"target":      updated.TargetCount,
	}).Debug("Recorded presentation")
	return &updated, nil
}

// ResetFrequency zeroes the counter and starts a new window now
func (t *Tracker) ResetFrequency(ctx context.Context, questionID string, manual bool) error {
	if err := apperrors.RequireID("frequency.ResetFrequency", "question id", questionID); err != nil {
		return err
	}
	err := t.store.ResetQuestionWindow(ctx, questionID, t.now())
	t.cache.Invalidate(questionID)
	if err != nil {
		return t.storeError("ResetQuestionWindow", questionID, err)
	}
	t.log.WithFields(logrus.Fields{
		"question_id": questionID,
		"manual":      manual,
	}).Info("Frequency counter reset")
	return nil
}

// UpdateFrequencyConfig changes the target and/or window of a question
func (t *Tracker) UpdateFrequencyConfig(ctx context.Context, questionID string, update models.FrequencyConfigUpdate) error {
	const op = "frequency.UpdateFrequencyConfig"
	if err := apperrors.RequireID(op, "question id", questionID); err != nil {
		return err
	}
	if update.Target == nil && update.Window == nil {
		return apperrors.Validation(op, "at least one of target or window must be provided")
	}
	if update.Target != nil && *update.Target <= 0 {
		return apperrors.Validation(op, "target must be positive, got %d", *update.Target)
	}
	if update.Window != nil && !update.Window.Valid() {
		return apperrors.Configuration(op, "unsupported frequency window %q", *update.Window)
	}

	err := t.store.UpdateFrequencyConfig(ctx, questionID, update)
	t.cache.Invalidate(questionID)
	if err != nil {
		return t.storeError("UpdateFrequencyConfig", questionID, err)
	}

	fields := logrus.Fields{"question_id": questionID}
	if update.Target != nil {
		fields["target"] = *update.Target
	}
	if update.Window != nil {
		fields["window"] = *update.Window
	}
	t.log.WithFields(fields).Info("Frequency config updated")
	return nil
}
