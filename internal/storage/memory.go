package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
)

type analyticsRow struct {
	presentations int
	responses     int
	ratingSum     float64
	ratings       int
}

// MemoryStore is an in-process Store. Each method holds the store lock for its
// whole body, which gives the single-row atomicity the engine relies on.
type MemoryStore struct {
	mu          sync.Mutex
	questions   map[string]models.Question
	triggers    map[string]models.Trigger
	harmonizers map[string]models.FrequencyHarmonizer
	weights     map[string]models.PriorityWeight
	analytics   map[string]map[time.Time]*analyticsRow
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions:   make(map[string]models.Question),
		triggers:    make(map[string]models.Trigger),
		harmonizers: make(map[string]models.FrequencyHarmonizer),
		weights:     make(map[string]models.PriorityWeight),
		analytics:   make(map[string]map[time.Time]*analyticsRow),
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneQuestion(q models.Question) models.Question {
	q.WindowResetAt = copyTime(q.WindowResetAt)
	q.LastPresentedAt = copyTime(q.LastPresentedAt)
	if q.RuleOverrides != nil {
		overrides := make(map[string]interface{}, len(q.RuleOverrides))
		for k, v := range q.RuleOverrides {
			overrides[k] = v
		}
		q.RuleOverrides = overrides
	}
	return q
}

func cloneTrigger(t models.Trigger) models.Trigger {
	t.LastActivatedAt = copyTime(t.LastActivatedAt)
	t.ActivationHistory = append([]models.ActivationRecord(nil), t.ActivationHistory...)
	return t
}

func (s *MemoryStore) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[id]
	if !ok {
		return nil, apperrors.NotFound("storage.GetQuestion", "question %s", id)
	}
	c := cloneQuestion(q)
	return &c, nil
}

func (s *MemoryStore) ListQuestions(ctx context.Context, businessID string) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Question
	for _, q := range s.questions {
		if businessID == "" || q.BusinessID == businessID {
			out = append(out, cloneQuestion(q))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertQuestion(ctx context.Context, q *models.Question) error {
	if err := apperrors.RequireID("storage.UpsertQuestion", "question id", q.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneQuestion(*q)
	if existing, ok := s.questions[q.ID]; ok {
		next.CurrentWindowCount = existing.CurrentWindowCount
		next.WindowResetAt = existing.WindowResetAt
		next.LastPresentedAt = existing.LastPresentedAt
		next.CreatedAt = existing.CreatedAt
	}
	s.questions[q.ID] = next
	return nil
}

func (s *MemoryStore) IncrementPresentation(ctx context.Context, questionID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok {
		return 0, apperrors.NotFound("storage.IncrementPresentation", "question %s", questionID)
	}
	q.CurrentWindowCount++
	q.LastPresentedAt = &at
	s.questions[questionID] = q
	return q.CurrentWindowCount, nil
}

func (s *MemoryStore) ResetQuestionWindow(ctx context.Context, questionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok {
		return apperrors.NotFound("storage.ResetQuestionWindow", "question %s", questionID)
	}
	q.CurrentWindowCount = 0
	q.WindowResetAt = &at
	s.questions[questionID] = q
	return nil
}

func (s *MemoryStore) ResetExpiredWindow(ctx context.Context, questionID string, expected *time.Time, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok {
		return false, apperrors.NotFound("storage.ResetExpiredWindow", "question %s", questionID)
	}
	if !sameInstant(q.WindowResetAt, expected) {
		return false, nil
	}
	q.CurrentWindowCount = 0
	q.WindowResetAt = &at
	s.questions[questionID] = q
	return true, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *MemoryStore) UpdateFrequencyConfig(ctx context.Context, questionID string, update models.FrequencyConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[questionID]
	if !ok {
		return apperrors.NotFound("storage.UpdateFrequencyConfig", "question %s", questionID)
	}
	if update.Target != nil {
		q.FrequencyTarget = *update.Target
	}
	if update.Window != nil {
		q.FrequencyWindow = *update.Window
	}
	s.questions[questionID] = q
	return nil
}

func (s *MemoryStore) ListTriggers(ctx context.Context, questionID string) ([]models.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Trigger
	for _, t := range s.triggers {
		if t.QuestionID == questionID {
			out = append(out, cloneTrigger(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertTrigger(ctx context.Context, t *models.Trigger) error {
	if err := apperrors.RequireID("storage.UpsertTrigger", "trigger id", t.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneTrigger(*t)
	if existing, ok := s.triggers[t.ID]; ok {
		next.ActivationCount = existing.ActivationCount
		next.LastActivatedAt = existing.LastActivatedAt
		next.ActivationHistory = existing.ActivationHistory
	}
	s.triggers[t.ID] = next
	return nil
}

func (s *MemoryStore) AppendActivation(ctx context.Context, rec models.ActivationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[rec.TriggerID]
	if !ok {
		return apperrors.NotFound("storage.AppendActivation", "trigger %s", rec.TriggerID)
	}
	at := rec.ActivatedAt
	t.ActivationHistory = append(t.ActivationHistory, rec)
	t.ActivationCount++
	t.LastActivatedAt = &at
	s.triggers[rec.TriggerID] = t
	return nil
}

func (s *MemoryStore) GetHarmonizer(ctx context.Context, id string) (*models.FrequencyHarmonizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.harmonizers[id]
	if !ok {
		return nil, apperrors.NotFound("storage.GetHarmonizer", "harmonizer %s", id)
	}
	return &h, nil
}

func (s *MemoryStore) ListHarmonizers(ctx context.Context, businessID string) ([]models.FrequencyHarmonizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FrequencyHarmonizer
	for _, h := range s.harmonizers {
		if h.BusinessID == businessID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertHarmonizer(ctx context.Context, h *models.FrequencyHarmonizer) error {
	if err := apperrors.RequireID("storage.UpsertHarmonizer", "harmonizer id", h.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *h
	if existing, ok := s.harmonizers[h.ID]; ok {
		next.EffectivenessScore = existing.EffectivenessScore
		next.ConflictsResolved = existing.ConflictsResolved
		next.Runs = existing.Runs
	}
	s.harmonizers[h.ID] = next
	return nil
}

func (s *MemoryStore) RecordHarmonizerOutcome(ctx context.Context, id string, resolved, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.harmonizers[id]
	if !ok {
		return apperrors.NotFound("storage.RecordHarmonizerOutcome", "harmonizer %s", id)
	}
	h.EffectivenessScore = effectiveness(h.EffectivenessScore, h.Runs, resolved, total)
	h.ConflictsResolved += resolved
	h.Runs++
	s.harmonizers[id] = h
	return nil
}

func weightKey(businessID, category string) string {
	return businessID + "/" + category
}

func (s *MemoryStore) ListPriorityWeights(ctx context.Context, businessID string) ([]models.PriorityWeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PriorityWeight
	for _, w := range s.weights {
		if w.BusinessID == businessID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (s *MemoryStore) UpsertPriorityWeight(ctx context.Context, w *models.PriorityWeight) error {
	if w.BusinessID == "" || w.Category == "" {
		return apperrors.Validation("storage.UpsertPriorityWeight", "business id and category are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[weightKey(w.BusinessID, w.Category)] = *w
	return nil
}

func (s *MemoryStore) RecordAnalytics(ctx context.Context, delta models.AnalyticsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.analytics[delta.QuestionID]
	if !ok {
		rows = make(map[time.Time]*analyticsRow)
		s.analytics[delta.QuestionID] = rows
	}
	day := DayBucket(delta.Day)
	row, ok := rows[day]
	if !ok {
		row = &analyticsRow{}
		rows[day] = row
	}
	row.presentations += delta.Presentations
	row.responses += delta.Responses
	row.ratingSum += delta.RatingSum
	row.ratings += delta.Ratings
	return nil
}

func (s *MemoryStore) AnalyticsBuckets(ctx context.Context, questionID string, since time.Time) ([]models.AnalyticsBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := DayBucket(since)
	var out []models.AnalyticsBucket
	for day, row := range s.analytics[questionID] {
		if day.Before(cutoff) {
			continue
		}
		bucket := models.AnalyticsBucket{
			QuestionID:        questionID,
			PeriodStart:       day,
			PresentationCount: row.presentations,
			ResponseCount:     row.responses,
		}
		if row.ratings > 0 {
			bucket.AverageRating = row.ratingSum / float64(row.ratings)
		}
		out = append(out, bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
