package config_test

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-event-service/eventservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			TriggerTopicID:     "base-topic",
			SubscriptionID:     "base-sub",
			NumPipelineWorkers: 2,
			Fanout:             config.FanoutConfig{BatchSize: 100},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("TRIGGER_TOPIC_ID", "env-topic")
		t.Setenv("FANOUT_BATCH_SIZE", "250")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("REDIS_TTL", "1m")
		t.Setenv("FANOUT_CLAIM_LEASE", "45s")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.com, http://b.com,")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.Equal(t, "env-sub", finalCfg.PubsubConsumerConfig.SubscriptionID)
		assert.Equal(t, "env-topic", finalCfg.TriggerTopicID)
		assert.Equal(t, 250, finalCfg.Fanout.BatchSize)
		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, time.Minute, finalCfg.Redis.TTL)
		assert.Equal(t, 45*time.Second, finalCfg.Fanout.ClaimLease)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - Defaults filled", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.Equal(t, 100, finalCfg.Fanout.BatchSize)
		assert.Equal(t, 100, finalCfg.Fanout.BodyMaxChars)
		assert.Equal(t, "event_notifications", finalCfg.Fanout.AndroidChannelID)
		assert.Equal(t, "usuario", finalCfg.Fanout.RecipientRole)
		assert.Equal(t, 10, finalCfg.Fanout.TestRecipientLimit)
		assert.Equal(t, 2*time.Minute, finalCfg.Fanout.ClaimLease)
		assert.Equal(t, "http://localhost:3000", finalCfg.IdentityServiceURL)
		assert.NotNil(t, finalCfg.PubsubConsumerConfig)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		cfg := &config.Config{SubscriptionID: "sub", TriggerTopicID: "topic"}
		os.Unsetenv("PROJECT_ID")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Missing trigger topic", func(t *testing.T) {
		cfg := &config.Config{ProjectID: "p", SubscriptionID: "sub"}
		os.Unsetenv("TRIGGER_TOPIC_ID")
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Batch above multicast limit", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Fanout.BatchSize = 501
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})
}
