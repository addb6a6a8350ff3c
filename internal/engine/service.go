package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/cache"
	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/feedbackloop/question-engine/internal/frequency"
	"github.com/feedbackloop/question-engine/internal/harmonize"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/feedbackloop/question-engine/internal/notifications"
	"github.com/feedbackloop/question-engine/internal/priority"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/feedbackloop/question-engine/internal/trigger"
	"github.com/sirupsen/logrus"
)

// Service wires the four selection components together and feeds outcomes back into them
type Service struct {
	config              *config.Config
	store               storage.Store
	archive             storage.Archive
	notificationService notifications.NotificationInterface

	tracker    *frequency.Tracker
	evaluator  *trigger.Evaluator
	harmonizer *harmonize.Harmonizer
	balancer   *priority.Balancer

	now     func() time.Time
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics holds engine metrics
type Metrics struct {
	Selections         int            `json:"selections"`
	QuestionsEvaluated int            `json:"questions_evaluated"`
	QuestionsSelected  int            `json:"questions_selected"`
	SkipReasons        map[string]int `json:"skip_reasons"`
	ConflictsDetected  int            `json:"conflicts_detected"`
	Presentations      int            `json:"presentations"`
	Responses          int            `json:"responses"`
	LastSweep          time.Time      `json:"last_sweep"`
	LastSweepDuration  string         `json:"last_sweep_duration"`
	SweepAdjustments   int            `json:"sweep_adjustments"`
	ErrorCount         int            `json:"error_count"`
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now throughout the engine
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new engine service
func NewService(cfg *config.Config, store storage.Store, archive storage.Archive, notificationService notifications.NotificationInterface, opts ...Option) *Service {
	s := &Service{
		config:              cfg,
		store:               store,
		archive:             archive,
		notificationService: notificationService,
		now:                 time.Now,
		metrics: &Metrics{
			SkipReasons: make(map[string]int),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.initializeComponents()
	return s
}

func (s *Service) initializeComponents() {
	triggerTTL, statusTTL := trigger.DefaultCacheTTL, frequency.DefaultStatusTTL
	if s.config.TriggerCacheTTL > 0 {
		triggerTTL = s.config.TriggerCacheTTL
	}
	if s.config.FrequencyCacheTTL > 0 {
		statusTTL = s.config.FrequencyCacheTTL
	}

	s.tracker = frequency.NewTracker(s.store,
		frequency.WithClock(s.now),
		frequency.WithLocation(s.config.Location()),
		frequency.WithCache(cache.New[string, models.FrequencyStatus](statusTTL, s.config.CacheMaxEntries, s.now)),
	)
	s.evaluator = trigger.NewEvaluator(s.store,
		trigger.WithClock(s.now),
		trigger.WithCache(cache.New[string, []models.Trigger](triggerTTL, s.config.CacheMaxEntries, s.now)),
	)
	s.harmonizer = harmonize.NewHarmonizer(s.store)
	s.balancer = priority.NewBalancer(s.store)
}

// Tracker exposes the frequency tracker
func (s *Service) Tracker() *frequency.Tracker { return s.tracker }

// Evaluator exposes the trigger evaluator
func (s *Service) Evaluator() *trigger.Evaluator { return s.evaluator }

// Harmonizer exposes the conflict harmonizer
func (s *Service) Harmonizer() *harmonize.Harmonizer { return s.harmonizer }

// Balancer exposes the priority balancer
func (s *Service) Balancer() *priority.Balancer { return s.balancer }

// ReportPresentation records that a selected question was actually asked
func (s *Service) ReportPresentation(ctx context.Context, questionID string) (*models.FrequencyStatus, error) {
	status, err := s.tracker.RecordPresentation(ctx, questionID)
	if err != nil {
		s.countError()
		return nil, err
	}

	s.mu.Lock()
	s.metrics.Presentations++
	s.mu.Unlock()
	return status, nil
}

// ReportResponse records a customer's answer, with an optional 1-5 rating
func (s *Service) ReportResponse(ctx context.Context, questionID string, rating *float64) error {
	const op = "engine.ReportResponse"
	if err := apperrors.RequireID(op, "question id", questionID); err != nil {
		return err
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return apperrors.Validation(op, "rating must be between 1 and 5, got %v", *rating)
	}
	if _, err := s.store.GetQuestion(ctx, questionID); err != nil {
		return err
	}

	delta := models.AnalyticsDelta{QuestionID: questionID, Day: s.now(), Responses: 1}
	if rating != nil {
		delta.RatingSum = *rating
		delta.Ratings = 1
	}
	if err := s.store.RecordAnalytics(ctx, delta); err != nil {
		logrus.WithFields(logrus.Fields{"op": "RecordAnalytics", "question_id": questionID}).WithError(err).Error("engine store operation failed")
		s.countError()
		return err
	}

	s.mu.Lock()
	s.metrics.Responses++
	s.mu.Unlock()
	return nil
}

func (s *Service) countError() {
	s.mu.Lock()
	s.metrics.ErrorCount++
	s.mu.Unlock()
}

func (s *Service) updateSelectionMetrics(evaluated int, sel *models.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Selections++
	s.metrics.QuestionsEvaluated += evaluated
	s.metrics.QuestionsSelected += len(sel.Questions)
	for _, sk := range sel.Skipped {
		s.metrics.SkipReasons[skipCategory(sk.Reason)]++
	}
	if sel.Harmonization != nil {
		s.metrics.ConflictsDetected += sel.Harmonization.TotalConflicts
	}
}

func (s *Service) updateSweepMetrics(duration time.Duration, adjustments, errorCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.LastSweep = s.now()
	s.metrics.LastSweepDuration = duration.String()
	s.metrics.SweepAdjustments += adjustments
	s.metrics.ErrorCount += errorCount
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}

// AdaptiveConfig returns the configured adaptive adjustment defaults
func (s *Service) AdaptiveConfig() models.AdaptiveConfig {
	return s.config.AdaptiveConfig()
}
