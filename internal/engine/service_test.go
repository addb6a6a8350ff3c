package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockArchive is a mock implementation of the archive interface
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Store(filename string, data []byte) error {
	args := m.Called(filename, data)
	return args.Error(0)
}

func (m *MockArchive) Retrieve(filename string) ([]byte, error) {
	args := m.Called(filename)
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArchive) List(prefix string) ([]string, error) {
	args := m.Called(prefix)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockArchive) Delete(filename string) error {
	args := m.Called(filename)
	return args.Error(0)
}

// MockNotificationService is a mock implementation of the notification service
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) SendDigest(digest *models.Digest) error {
	args := m.Called(digest)
	return args.Error(0)
}

func (m *MockNotificationService) SendAlert(alert *models.Alert) error {
	args := m.Called(alert)
	return args.Error(0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Wednesday morning
var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func question(id, business string, level, target int) *models.Question {
	return &models.Question{
		ID:              id,
		BusinessID:      business,
		Text:            "How was your visit?",
		Category:        "experience",
		TopicCategory:   "service",
		PriorityLevel:   level,
		FrequencyTarget: target,
		FrequencyWindow: models.WindowDaily,
		CreatedAt:       t0.Add(-time.Hour),
	}
}

func weekdayTrigger(id, questionID string) *models.Trigger {
	return &models.Trigger{
		ID:         id,
		QuestionID: questionID,
		Type:       models.TriggerTimeBased,
		Priority:   models.TriggerPriorityHigh,
		Enabled:    true,
		Conditions: models.TriggerConditions{Time: &models.TimeConditions{
			Days: []int{1, 2, 3, 4, 5}, HourStart: intPtr(8), HourEnd: intPtr(18),
		}},
	}
}

func setupService(t *testing.T, cfg *config.Config) (*Service, *storage.MemoryStore, *MockArchive, *MockNotificationService) {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	store := storage.NewMemoryStore()
	archive := &MockArchive{}
	notifier := &MockNotificationService{}
	clock := &fakeClock{now: t0}
	return NewService(cfg, store, archive, notifier, WithClock(clock.Now)), store, archive, notifier
}

func seed(t *testing.T, store *storage.MemoryStore, questions []*models.Question, triggers []*models.Trigger) {
	t.Helper()
	ctx := context.Background()
	for _, q := range questions {
		require.NoError(t, store.UpsertQuestion(ctx, q))
	}
	for _, tr := range triggers {
		require.NoError(t, store.UpsertTrigger(ctx, tr))
	}
}

func TestService_Select(t *testing.T) {
	service, store, _, _ := setupService(t, nil)
	ctx := context.Background()

	peakOnly := &models.Trigger{
		ID: "t2", QuestionID: "q2", Type: models.TriggerStoreContext, Enabled: true,
		Conditions: models.TriggerConditions{Store: &models.StoreConditions{PeakHoursOnly: true}},
	}
	seed(t, store,
		[]*models.Question{
			question("q1", "biz-1", 4, 2),
			question("q2", "biz-1", 2, 5),
			question("q3", "biz-1", 3, 5),
			question("q4", "biz-1", 3, 1),
			question("q5", "biz-2", 3, 5),
		},
		[]*models.Trigger{weekdayTrigger("t1", "q1"), peakOnly, weekdayTrigger("t4", "q4"), weekdayTrigger("t5", "q5")},
	)
	_, err := service.ReportPresentation(ctx, "q4")
	require.NoError(t, err)

	selection, err := service.Select(ctx, models.SelectionRequest{
		BusinessID:  "biz-1",
		SessionID:   "s-1",
		QuestionIDs: []string{"q1", "q2", "q3", "q4", "q5", "ghost", "q1"},
	})
	require.NoError(t, err)

	require.Len(t, selection.Questions, 1)
	assert.Equal(t, "q1", selection.Questions[0].ID)
	assert.Equal(t, 15.0, selection.TotalDuration)
	assert.Equal(t, t0, selection.GeneratedAt)

	reasons := make(map[string]string)
	for _, sk := range selection.Skipped {
		reasons[sk.QuestionID] = sk.Reason
	}
	assert.True(t, strings.HasPrefix(reasons["q2"], "not triggered:"))
	assert.Equal(t, "not triggered: no active triggers", reasons["q3"])
	assert.Equal(t, "frequency limit reached", reasons["q4"])
	assert.Equal(t, "question belongs to another business", reasons["q5"])
	assert.Equal(t, "question not found", reasons["ghost"])

	require.NotNil(t, selection.Harmonization)
	assert.Equal(t, 1, selection.Harmonization.TotalQuestions)

	triggers, err := store.ListTriggers(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, triggers[0].ActivationCount)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(service.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.Selections)
	assert.Equal(t, 6, metrics.QuestionsEvaluated)
	assert.Equal(t, 1, metrics.QuestionsSelected)
	assert.Equal(t, 2, metrics.SkipReasons["not triggered"])
	assert.Equal(t, 1, metrics.Presentations)
}

func TestService_SelectListsBusinessQuestionsByDefault(t *testing.T) {
	service, store, _, _ := setupService(t, nil)
	seed(t, store,
		[]*models.Question{question("q1", "biz-1", 4, 2), question("q2", "biz-1", 3, 2), question("q9", "biz-2", 5, 2)},
		[]*models.Trigger{weekdayTrigger("t1", "q1"), weekdayTrigger("t2", "q2"), weekdayTrigger("t9", "q9")},
	)

	selection, err := service.Select(context.Background(), models.SelectionRequest{BusinessID: "biz-1"})
	require.NoError(t, err)

	ids := make([]string, 0, len(selection.Questions))
	for _, q := range selection.Questions {
		ids = append(ids, q.ID)
	}
	assert.ElementsMatch(t, []string{"q1", "q2"}, ids)
	assert.Empty(t, selection.Skipped)
}

func TestService_SelectWithinTimeBudget(t *testing.T) {
	service, store, _, _ := setupService(t, nil)
	seed(t, store,
		[]*models.Question{question("q1", "biz-1", 4, 2), question("q2", "biz-1", 3, 2)},
		[]*models.Trigger{weekdayTrigger("t1", "q1"), weekdayTrigger("t2", "q2")},
	)

	selection, err := service.Select(context.Background(), models.SelectionRequest{
		BusinessID:         "biz-1",
		QuestionIDs:        []string{"q1", "q2"},
		MaxDurationSeconds: 20,
	})
	require.NoError(t, err)

	require.Len(t, selection.Questions, 1)
	assert.LessOrEqual(t, selection.TotalDuration, 20.0)
	require.Len(t, selection.Skipped, 1)
	assert.Equal(t, "outside time budget", selection.Skipped[0].Reason)
}

func TestService_SelectRanksOnHarmonizedFrequency(t *testing.T) {
	service, store, _, _ := setupService(t, nil)
	ctx := context.Background()

	inCategory := func(id, category string) *models.Question {
		q := question(id, "biz-1", 3, 10)
		q.Category = category
		q.TopicCategory = category
		return q
	}
	seed(t, store,
		[]*models.Question{inCategory("a", "checkout"), inCategory("b", "checkout"), inCategory("c", "ambience")},
		[]*models.Trigger{weekdayTrigger("ta", "a"), weekdayTrigger("tb", "b"), weekdayTrigger("tc", "c")},
	)
	// a=2, b=3 overlap in checkout; c=4 stands alone
	for id, n := range map[string]int{"a": 2, "b": 3, "c": 4} {
		for i := 0; i < n; i++ {
			_, err := service.ReportPresentation(ctx, id)
			require.NoError(t, err)
		}
	}

	selection, err := service.Select(ctx, models.SelectionRequest{BusinessID: "biz-1", QuestionIDs: []string{"a", "b", "c"}})
	require.NoError(t, err)
	require.Len(t, selection.Questions, 3)

	require.NotNil(t, selection.Harmonization)
	harmonized := make(map[string]float64)
	for _, hq := range selection.Harmonization.Questions {
		harmonized[hq.ID] = hq.HarmonizedFrequency
	}
	assert.Equal(t, 4.0, harmonized["a"])
	assert.Equal(t, 6.0, harmonized["b"])
	assert.Equal(t, 4.0, harmonized["c"])

	// raw counts would rank c first
	assert.Equal(t, "b", selection.Questions[0].ID)
	assert.Contains(t, selection.Questions[0].Justification, "urgency 2.40")
}

func TestService_SelectValidation(t *testing.T) {
	service, _, _, _ := setupService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.SelectionRequest
	}{
		{name: "missing business", req: models.SelectionRequest{QuestionIDs: []string{"q1"}}},
		{name: "empty question id", req: models.SelectionRequest{BusinessID: "biz-1", QuestionIDs: []string{""}}},
		{name: "negative budget", req: models.SelectionRequest{BusinessID: "biz-1", MaxDurationSeconds: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Select(ctx, tt.req)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "got %v", err)
		})
	}
}

func TestService_ReportResponse(t *testing.T) {
	service, store, _, _ := setupService(t, nil)
	ctx := context.Background()
	seed(t, store, []*models.Question{question("q1", "biz-1", 3, 5)}, nil)

	rating := 4.0
	require.NoError(t, service.ReportResponse(ctx, "q1", &rating))
	require.NoError(t, service.ReportResponse(ctx, "q1", nil))

	buckets, err := store.AnalyticsBuckets(ctx, "q1", t0.AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2, buckets[0].ResponseCount)
	assert.Equal(t, 4.0, buckets[0].AverageRating)

	tooHigh := 6.0
	err = service.ReportResponse(ctx, "q1", &tooHigh)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	err = service.ReportResponse(ctx, "missing", nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestService_RunAdaptiveSweep(t *testing.T) {
	cfg := &config.Config{AdaptiveSchedule: "daily", AdaptiveBusinesses: []string{"biz-1"}}
	service, store, archive, notifier := setupService(t, cfg)
	ctx := context.Background()

	seed(t, store, []*models.Question{question("q1", "biz-1", 3, 10), question("q2", "biz-1", 3, 10)}, nil)
	require.NoError(t, store.RecordAnalytics(ctx, models.AnalyticsDelta{QuestionID: "q1", Day: t0, Presentations: 10, Responses: 1}))

	archive.On("Store", mock.MatchedBy(func(name string) bool {
		return name == "digests/biz-1/2024-05-01-09-00-00.json"
	}), mock.Anything).Return(nil)
	notifier.On("SendDigest", mock.MatchedBy(func(d *models.Digest) bool {
		return d.BusinessID == "biz-1" && d.Summary["decreased"] == 1 && d.Summary["insufficient_data"] == 1
	})).Return(nil)

	require.NoError(t, service.RunAdaptiveSweep(ctx))

	q1, err := store.GetQuestion(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 7, q1.FrequencyTarget)

	archive.AssertExpectations(t)
	notifier.AssertExpectations(t)
	notifier.AssertNotCalled(t, "SendAlert", mock.Anything)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(service.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.SweepAdjustments)
	assert.Equal(t, t0, metrics.LastSweep)
}

func TestService_RunAdaptiveSweepAlertsOnFailure(t *testing.T) {
	cfg := &config.Config{AdaptiveSchedule: "daily", AdaptiveBusinesses: []string{"biz-1"}}
	service, store, archive, notifier := setupService(t, cfg)
	seed(t, store, []*models.Question{question("q1", "biz-1", 3, 10)}, nil)

	archive.On("Store", mock.Anything, mock.Anything).Return(nil)
	notifier.On("SendDigest", mock.Anything).Return(errors.New("webhook down"))
	notifier.On("SendAlert", mock.MatchedBy(func(a *models.Alert) bool {
		return a.Type == "adaptive_sweep" && strings.Contains(a.Message, "webhook down")
	})).Return(nil)

	err := service.RunAdaptiveSweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "biz-1")
	notifier.AssertExpectations(t)
}

func TestService_RunAdaptiveSweepWithoutBusinesses(t *testing.T) {
	service, _, archive, notifier := setupService(t, nil)

	require.NoError(t, service.RunAdaptiveSweep(context.Background()))
	archive.AssertNotCalled(t, "Store", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "SendDigest", mock.Anything)
}

func TestService_Digests(t *testing.T) {
	service, _, archive, _ := setupService(t, nil)

	archive.On("List", "digests/biz-1/").Return([]string{
		"digests/biz-1/2024-05-01-03-00-00.json",
		"digests/biz-1/2024-05-02-03-00-00.json",
	}, nil)
	archive.On("Retrieve", "digests/biz-1/2024-05-02-03-00-00.json").Return([]byte(`{"business_id":"biz-1","period":"daily"}`), nil)

	names, err := service.ListDigests("biz-1")
	require.NoError(t, err)
	assert.Equal(t, "digests/biz-1/2024-05-02-03-00-00.json", names[0])

	digest, err := service.GetDigest(names[0])
	require.NoError(t, err)
	assert.Equal(t, "daily", digest.Period)

	_, err = service.GetDigest("../secrets.json")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestPerDay(t *testing.T) {
	tests := []struct {
		window   models.WindowKind
		target   int
		expected float64
	}{
		{models.WindowHourly, 2, 48},
		{models.WindowDaily, 3, 3},
		{models.WindowWeekly, 14, 2},
		{models.WindowMonthly, 60, 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			assert.InDelta(t, tt.expected, PerDay(tt.target, tt.window), 1e-9)
		})
	}
}

func TestInWindow(t *testing.T) {
	for _, window := range []models.WindowKind{models.WindowHourly, models.WindowDaily, models.WindowWeekly, models.WindowMonthly} {
		t.Run(string(window), func(t *testing.T) {
			assert.InDelta(t, 7.0, InWindow(PerDay(7, window), window), 1e-9)
		})
	}
}

func TestService_PruneDigests(t *testing.T) {
	cfg := &config.Config{AdaptiveBusinesses: []string{"biz-1"}, DigestRetentionDays: 30}
	service, _, archive, _ := setupService(t, cfg)

	archive.On("List", "digests/biz-1/").Return([]string{
		"digests/biz-1/2024-03-01-03-00-00.json",
		"digests/biz-1/2024-04-30-03-00-00.json",
		"digests/biz-1/notes.txt",
	}, nil)
	archive.On("Delete", "digests/biz-1/2024-03-01-03-00-00.json").Return(nil)

	removed, err := service.PruneDigests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	archive.AssertExpectations(t)
	archive.AssertNotCalled(t, "Delete", "digests/biz-1/2024-04-30-03-00-00.json")
}

func TestService_UpsertQuestion(t *testing.T) {
	service, _, _, _ := setupService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(q *models.Question)
		expected apperrors.Kind
	}{
		{name: "valid", mutate: func(q *models.Question) {}},
		{name: "missing business", mutate: func(q *models.Question) { q.BusinessID = "" }, expected: apperrors.KindValidation},
		{name: "blank text", mutate: func(q *models.Question) { q.Text = "  " }, expected: apperrors.KindValidation},
		{name: "level out of range", mutate: func(q *models.Question) { q.PriorityLevel = 6 }, expected: apperrors.KindValidation},
		{name: "zero target", mutate: func(q *models.Question) { q.FrequencyTarget = 0 }, expected: apperrors.KindValidation},
		{name: "unknown window", mutate: func(q *models.Question) { q.FrequencyWindow = "fortnightly" }, expected: apperrors.KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := question("q1", "biz-1", 3, 5)
			tt.mutate(q)
			err := service.UpsertQuestion(ctx, q)
			if tt.expected == "" {
				require.NoError(t, err)
				return
			}
			assert.Equal(t, tt.expected, apperrors.KindOf(err))
		})
	}

	q := question("q2", "biz-1", 3, 5)
	q.FrequencyWindow = ""
	q.CreatedAt = time.Time{}
	require.NoError(t, service.UpsertQuestion(ctx, q))
	got, err := service.GetQuestion(ctx, "q2")
	require.NoError(t, err)
	assert.Equal(t, models.WindowDaily, got.FrequencyWindow)
	assert.Equal(t, t0, got.CreatedAt)
}
