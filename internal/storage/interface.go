package storage

import (
	"context"
	"time"

	"github.com/feedbackloop/question-engine/internal/models"
)

// Store is the persistence collaborator of the engine. Every counter mutation
// must be a single atomic operation in the implementation; callers never
// read-modify-write counters themselves.
type Store interface {
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	ListQuestions(ctx context.Context, businessID string) ([]models.Question, error)
	UpsertQuestion(ctx context.Context, q *models.Question) error
	// IncrementPresentation atomically bumps the window counter and returns the new value
	IncrementPresentation(ctx context.Context, questionID string, at time.Time) (int, error)
	ResetQuestionWindow(ctx context.Context, questionID string, at time.Time) error
	// ResetExpiredWindow resets only while window_reset_at still equals expected
	// (nil for a question never reset); false means another caller got there first.
	ResetExpiredWindow(ctx context.Context, questionID string, expected *time.Time, at time.Time) (bool, error)
	UpdateFrequencyConfig(ctx context.Context, questionID string, update models.FrequencyConfigUpdate) error

	ListTriggers(ctx context.Context, questionID string) ([]models.Trigger, error)
	UpsertTrigger(ctx context.Context, t *models.Trigger) error
	AppendActivation(ctx context.Context, rec models.ActivationRecord) error

	GetHarmonizer(ctx context.Context, id string) (*models.FrequencyHarmonizer, error)
	ListHarmonizers(ctx context.Context, businessID string) ([]models.FrequencyHarmonizer, error)
	UpsertHarmonizer(ctx context.Context, h *models.FrequencyHarmonizer) error
	RecordHarmonizerOutcome(ctx context.Context, id string, resolved, total int) error

	ListPriorityWeights(ctx context.Context, businessID string) ([]models.PriorityWeight, error)
	UpsertPriorityWeight(ctx context.Context, w *models.PriorityWeight) error

	RecordAnalytics(ctx context.Context, delta models.AnalyticsDelta) error
	AnalyticsBuckets(ctx context.Context, questionID string, since time.Time) ([]models.AnalyticsBucket, error)

	Close() error
}

// Archive defines the contract for storing report snapshots (digests, harmonization runs)
type Archive interface {
	Store(filename string, data []byte) error
	Retrieve(filename string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(filename string) error
}

// DayBucket truncates t to the UTC day used as the analytics bucket key
func DayBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// effectiveness folds one run's resolved/total ratio into a running average
func effectiveness(score float64, runs, resolved, total int) float64 {
	ratio := 0.0
	if total > 0 {
		ratio = float64(resolved) / float64(total)
	}
	return (score*float64(runs) + ratio) / float64(runs+1)
}
