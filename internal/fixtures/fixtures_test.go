package fixtures

import (
	"context"
	"strings"
	"testing"

	"github.com/feedbackloop/question-engine/internal/apperrors"
	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/feedbackloop/question-engine/internal/engine"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/feedbackloop/question-engine/internal/notifications"
	"github.com/feedbackloop/question-engine/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = `
questions:
  - id: q-checkout
    business_id: biz-1
    text: How smooth was checkout today?
    category: checkout
    topic_category: payments
    priority_level: 4
    frequency_target: 20
    frequency_window: daily
    rule_overrides:
      business_importance: 5
triggers:
  - id: t-weekday
    question_id: q-checkout
    type: time_based
    priority: high
    enabled: true
    conditions:
      time:
        days: [1, 2, 3, 4, 5]
        hour_start: 9
        hour_end: 17
harmonizers:
  - id: h-checkout
    business_id: biz-1
    rule_name: checkout cap
    pattern: "check*"
    resolution_method: business_override
    override_frequency: 3
    active: true
priority_weights:
  - business_id: biz-1
    category: checkout
    weight_factor: 1.5
    active: true
`

func setupEngine(t *testing.T) (*engine.Service, *storage.MemoryStore) {
	t.Helper()
	cfg := &config.Config{}
	store := storage.NewMemoryStore()
	archive, err := storage.NewFileArchive(t.TempDir())
	require.NoError(t, err)
	return engine.NewService(cfg, store, archive, notifications.NewService(cfg)), store
}

func TestDecodeAndApply(t *testing.T) {
	fixture, err := Decode(strings.NewReader(seed))
	require.NoError(t, err)
	require.Len(t, fixture.Questions, 1)
	assert.Equal(t, models.WindowDaily, fixture.Questions[0].FrequencyWindow)
	require.NotNil(t, fixture.Triggers[0].Conditions.Time)
	assert.Equal(t, 17, *fixture.Triggers[0].Conditions.Time.HourEnd)

	svc, store := setupEngine(t)
	ctx := context.Background()
	summary, err := Apply(ctx, svc, fixture)
	require.NoError(t, err)
	assert.Equal(t, Summary{Questions: 1, Triggers: 1, Harmonizers: 1, PriorityWeights: 1}, summary)

	triggers, err := store.ListTriggers(ctx, "q-checkout")
	require.NoError(t, err)
	assert.Len(t, triggers, 1)

	rule, err := store.GetHarmonizer(ctx, "h-checkout")
	require.NoError(t, err)
	assert.Equal(t, 3.0, rule.OverrideFrequency)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown key", doc: "questionz: []"},
		{name: "malformed", doc: "questions: [id: ]]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}

	fixture, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, fixture.Questions)
}

func TestApply_StopsAtFirstInvalidEntity(t *testing.T) {
	svc, _ := setupEngine(t)
	fixture := &Fixture{Questions: []models.Question{
		{ID: "ok", BusinessID: "biz-1", Text: "Fine?", PriorityLevel: 3, FrequencyTarget: 1},
		{ID: "bad", BusinessID: "biz-1", Text: "Level?", PriorityLevel: 9, FrequencyTarget: 1},
	}}

	summary, err := Apply(context.Background(), svc, fixture)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, 1, summary.Questions)
}

func TestLoadFile_Demo(t *testing.T) {
	fixture, err := LoadFile("../../fixtures/demo.yaml")
	require.NoError(t, err)

	svc, _ := setupEngine(t)
	summary, err := Apply(context.Background(), svc, fixture)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Questions)
	assert.Equal(t, 4, summary.Triggers)

	_, err = LoadFile("does-not-exist.yaml")
	assert.Error(t, err)
}
