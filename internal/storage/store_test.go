package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "engine.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func sampleQuestion(id string) *models.Question {
	return &models.Question{
		ID:              id,
		BusinessID:      "biz-1",
		Text:            "How was checkout today?",
		Category:        "checkout",
		TopicCategory:   "payments",
		PriorityLevel:   3,
		FrequencyTarget: 10,
		FrequencyWindow: models.WindowDaily,
		CreatedAt:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		RuleOverrides:   map[string]interface{}{"business_importance": 4.0},
	}
}

func TestStore_QuestionLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.UpsertQuestion(ctx, sampleQuestion("q1")))

			got, err := store.GetQuestion(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, "checkout", got.Category)
			assert.Equal(t, models.WindowDaily, got.FrequencyWindow)
			assert.Equal(t, 4.0, got.RuleOverrides["business_importance"])

			at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
			count, err := store.IncrementPresentation(ctx, "q1", at)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			// config upsert keeps the counters
			require.NoError(t, store.UpsertQuestion(ctx, sampleQuestion("q1")))
			got, err = store.GetQuestion(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, 1, got.CurrentWindowCount)
			require.NotNil(t, got.LastPresentedAt)
			assert.True(t, at.Equal(*got.LastPresentedAt))

			require.NoError(t, store.ResetQuestionWindow(ctx, "q1", at.Add(time.Hour)))
			got, err = store.GetQuestion(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, 0, got.CurrentWindowCount)
			require.NotNil(t, got.WindowResetAt)

			target := 4
			window := models.WindowWeekly
			require.NoError(t, store.UpdateFrequencyConfig(ctx, "q1", models.FrequencyConfigUpdate{Target: &target, Window: &window}))
			got, err = store.GetQuestion(ctx, "q1")
			require.NoError(t, err)
			assert.Equal(t, 4, got.FrequencyTarget)
			assert.Equal(t, models.WindowWeekly, got.FrequencyWindow)

			_, err = store.GetQuestion(ctx, "missing")
			assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
			_, err = store.IncrementPresentation(ctx, "missing", at)
			assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
		})
	}
}

func TestStore_ResetExpiredWindow(t *testing.T) {
	ctx := context.Background()
	first := time.Date(2024, 5, 2, 0, 5, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.UpsertQuestion(ctx, sampleQuestion("q-reset")))
			_, err := store.IncrementPresentation(ctx, "q-reset", first.Add(-time.Hour))
			require.NoError(t, err)

			// never reset before, so the expected anchor is nil
			reset, err := store.ResetExpiredWindow(ctx, "q-reset", nil, first)
			require.NoError(t, err)
			assert.True(t, reset)

			_, err = store.IncrementPresentation(ctx, "q-reset", first)
			require.NoError(t, err)

			// a caller still holding the old anchor must not zero the new window
			reset, err = store.ResetExpiredWindow(ctx, "q-reset", nil, second)
			require.NoError(t, err)
			assert.False(t, reset)

			got, err := store.GetQuestion(ctx, "q-reset")
			require.NoError(t, err)
			assert.Equal(t, 1, got.CurrentWindowCount)
			require.NotNil(t, got.WindowResetAt)
			assert.True(t, first.Equal(*got.WindowResetAt))

			reset, err = store.ResetExpiredWindow(ctx, "q-reset", got.WindowResetAt, second)
			require.NoError(t, err)
			assert.True(t, reset)

			_, err = store.ResetExpiredWindow(ctx, "missing", nil, second)
			assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
		})
	}
}

func TestStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.UpsertQuestion(ctx, sampleQuestion("q-conc")))

			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.IncrementPresentation(ctx, "q-conc", time.Now())
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := store.GetQuestion(ctx, "q-conc")
			require.NoError(t, err)
			assert.Equal(t, 20, got.CurrentWindowCount)
		})
	}
}

func TestStore_TriggersAndActivations(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			start := 9
			trigger := &models.Trigger{
				ID:         "t1",
				QuestionID: "q1",
				Type:       models.TriggerTimeBased,
				Priority:   models.TriggerPriorityHigh,
				Enabled:    true,
				Conditions: models.TriggerConditions{Time: &models.TimeConditions{Days: []int{1, 2}, HourStart: &start}},
			}
			require.NoError(t, store.UpsertTrigger(ctx, trigger))

			at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
			require.NoError(t, store.AppendActivation(ctx, models.ActivationRecord{
				ID: "a1", TriggerID: "t1", ActivatedAt: at, EvaluationMillis: 1.5, Confidence: 1,
				Context: map[string]interface{}{"session_id": "s1"},
			}))

			triggers, err := store.ListTriggers(ctx, "q1")
			require.NoError(t, err)
			require.Len(t, triggers, 1)
			assert.Equal(t, 1, triggers[0].ActivationCount)
			require.NotNil(t, triggers[0].LastActivatedAt)
			assert.True(t, at.Equal(*triggers[0].LastActivatedAt))
			require.NotNil(t, triggers[0].Conditions.Time)
			assert.Equal(t, []int{1, 2}, triggers[0].Conditions.Time.Days)
			assert.Equal(t, 9, *triggers[0].Conditions.Time.HourStart)

			err = store.AppendActivation(ctx, models.ActivationRecord{ID: "a2", TriggerID: "nope", ActivatedAt: at})
			assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
		})
	}
}

func TestStore_HarmonizerOutcome(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.UpsertHarmonizer(ctx, &models.FrequencyHarmonizer{
				ID: "h1", BusinessID: "biz-1", RuleName: "checkout cap", Pattern: "checkout",
				ResolutionMethod: models.ResolutionBusinessOverride, OverrideFrequency: 3, Active: true,
			}))

			require.NoError(t, store.RecordHarmonizerOutcome(ctx, "h1", 2, 4))
			require.NoError(t, store.RecordHarmonizerOutcome(ctx, "h1", 4, 4))

			h, err := store.GetHarmonizer(ctx, "h1")
			require.NoError(t, err)
			assert.Equal(t, 6, h.ConflictsResolved)
			assert.Equal(t, 2, h.Runs)
			assert.InDelta(t, 0.75, h.EffectivenessScore, 1e-9)

			list, err := store.ListHarmonizers(ctx, "biz-1")
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_PriorityWeights(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.UpsertPriorityWeight(ctx, &models.PriorityWeight{BusinessID: "biz-1", Category: "checkout", WeightFactor: 1.5, Active: true}))
			require.NoError(t, store.UpsertPriorityWeight(ctx, &models.PriorityWeight{BusinessID: "biz-1", Category: "checkout", WeightFactor: 2.0, Active: true}))

			weights, err := store.ListPriorityWeights(ctx, "biz-1")
			require.NoError(t, err)
			require.Len(t, weights, 1)
			assert.Equal(t, 2.0, weights[0].WeightFactor)

			err = store.UpsertPriorityWeight(ctx, &models.PriorityWeight{BusinessID: "biz-1"})
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
		})
	}
}

func TestStore_AnalyticsBuckets(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.RecordAnalytics(ctx, models.AnalyticsDelta{QuestionID: "q1", Day: day1, Presentations: 3}))
			require.NoError(t, store.RecordAnalytics(ctx, models.AnalyticsDelta{QuestionID: "q1", Day: day1.Add(time.Hour), Responses: 1, RatingSum: 4, Ratings: 1}))
			require.NoError(t, store.RecordAnalytics(ctx, models.AnalyticsDelta{QuestionID: "q1", Day: day2, Presentations: 2, Responses: 2, RatingSum: 6, Ratings: 2}))

			buckets, err := store.AnalyticsBuckets(ctx, "q1", day1)
			require.NoError(t, err)
			require.Len(t, buckets, 2)
			assert.Equal(t, 3, buckets[0].PresentationCount)
			assert.Equal(t, 1, buckets[0].ResponseCount)
			assert.Equal(t, 4.0, buckets[0].AverageRating)
			assert.Equal(t, 3.0, buckets[1].AverageRating)

			buckets, err = store.AnalyticsBuckets(ctx, "q1", day2)
			require.NoError(t, err)
			assert.Len(t, buckets, 1)
		})
	}
}

func TestFileArchive(t *testing.T) {
	archive, err := NewFileArchive(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, archive.Store("digests/biz-1.json", []byte(`{"ok":true}`)))
	data, err := archive.Retrieve("digests/biz-1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))

	names, err := archive.List("digests/")
	require.NoError(t, err)
	assert.Equal(t, []string{"digests/biz-1.json"}, names)

	assert.Error(t, archive.Store("../escape.json", nil))
	require.NoError(t, archive.Delete("digests/biz-1.json"))
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(MemoryDatabase, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = OpenStore(filepath.Join(t.TempDir(), "engine.db"), "")
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Close())

	_, err = OpenStore("", "")
	assert.Error(t, err)
}

func TestOpenArchive_FallsBackToFiles(t *testing.T) {
	archive, err := OpenArchive("", "question-engine", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileArchive{}, archive)
}

func TestSnapshotNames(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		wantErr  bool
		metadata map[string]string
	}{
		{name: "digest", input: "digests/biz-1/2024-05-01-03-00-00.json", want: "digests/biz-1/2024-05-01-03-00-00.json",
			metadata: map[string]string{"kind": "digest", "business_id": "biz-1"}},
		{name: "cleaned", input: "digests//biz-1/./a.json", want: "digests/biz-1/a.json",
			metadata: map[string]string{"kind": "digest", "business_id": "biz-1"}},
		{name: "other snapshot", input: "exports/run.json", want: "exports/run.json",
			metadata: map[string]string{"kind": "snapshot"}},
		{name: "empty", input: "", wantErr: true},
		{name: "parent escape", input: "../secrets.json", wantErr: true},
		{name: "nested escape", input: "digests/../../secrets.json", wantErr: true},
		{name: "absolute", input: "/etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanSnapshotName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.metadata, snapshotMetadata(got))

			meta := blobMetadata(got)
			for k, v := range tt.metadata {
				require.NotNil(t, meta[k])
				assert.Equal(t, v, *meta[k])
			}
		})
	}
}
