package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "0 0 3 * * *", cfg.CronExpression())
	assert.Equal(t, 5*time.Minute, cfg.TriggerCacheTTL)
	assert.Equal(t, 2*time.Minute, cfg.FrequencyCacheTTL)
	assert.Equal(t, 0.3, cfg.AdaptiveConfig().ResponseRateThreshold)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 90, cfg.DigestRetentionDays)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ADAPTIVE_SCHEDULE", "0 30 */6 * * *")
	t.Setenv("ADAPTIVE_BUSINESSES", "biz-1, biz-2,")
	t.Setenv("TEAMS_WEBHOOK_URL", "https://example.invalid/webhook")
	t.Setenv("TRIGGER_CACHE_TTL", "90s")
	t.Setenv("ADAPTIVE_SENSITIVITY", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0 30 */6 * * *", cfg.CronExpression())
	assert.Equal(t, []string{"biz-1", "biz-2"}, cfg.AdaptiveBusinesses)
	assert.Equal(t, 90*time.Second, cfg.TriggerCacheTTL)
	assert.Equal(t, 0.25, cfg.AdjustmentSensitivity)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad schedule", env: map[string]string{"ADAPTIVE_SCHEDULE": "sometimes"}},
		{name: "bad timezone", env: map[string]string{"TIMEZONE": "Mars/Olympus_Mons"}},
		{name: "sweep without notifications", env: map[string]string{"ADAPTIVE_BUSINESSES": "biz-1"}},
		{name: "email without smtp", env: map[string]string{"NOTIFICATION_EMAIL": "ops@example.com"}},
		{name: "negative retention", env: map[string]string{"DIGEST_RETENTION_DAYS": "-1"}},
		{name: "inverted multipliers", env: map[string]string{"ADAPTIVE_MIN_MULTIPLIER": "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
