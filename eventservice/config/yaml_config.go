package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlFanoutConfig struct {
	BatchSize          int    `yaml:"batch_size"`
	BodyMaxChars       int    `yaml:"body_max_chars"`
	AndroidChannelID   string `yaml:"android_channel_id"`
	RecipientRole      string `yaml:"recipient_role"`
	TestRecipientLimit int    `yaml:"test_recipient_limit"`
	ClaimLease         string `yaml:"claim_lease"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string           `yaml:"project_id"`
	ListenAddr             string           `yaml:"listen_addr"`
	IdentityServiceURL     string           `yaml:"identity_service_url"`
	TriggerTopicID         string           `yaml:"trigger_topic_id"`
	SubscriptionID         string           `yaml:"subscription_id"`
	SubscriptionDLQTopicID string           `yaml:"subscription_dlq_topic_id"`
	CorsConfig             YamlCorsConfig   `yaml:"cors"`
	RedisConfig            YamlRedisConfig  `yaml:"redis"`
	FanoutConfig           YamlFanoutConfig `yaml:"fanout"`
	NumPipelineWorkers     int              `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		TriggerTopicID:     baseCfg.TriggerTopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Fanout: FanoutConfig{
			BatchSize:          baseCfg.FanoutConfig.BatchSize,
			BodyMaxChars:       baseCfg.FanoutConfig.BodyMaxChars,
			AndroidChannelID:   baseCfg.FanoutConfig.AndroidChannelID,
			RecipientRole:      baseCfg.FanoutConfig.RecipientRole,
			TestRecipientLimit: baseCfg.FanoutConfig.TestRecipientLimit,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if baseCfg.RedisConfig.TTL != "" {
		ttl, err := time.ParseDuration(baseCfg.RedisConfig.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis ttl %q: %w", baseCfg.RedisConfig.TTL, err)
		}
		cfg.Redis.TTL = ttl
	}

	if baseCfg.FanoutConfig.ClaimLease != "" {
		lease, err := time.ParseDuration(baseCfg.FanoutConfig.ClaimLease)
		if err != nil {
			return nil, fmt.Errorf("invalid fanout claim_lease %q: %w", baseCfg.FanoutConfig.ClaimLease, err)
		}
		cfg.Fanout.ClaimLease = lease
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"trigger_topic_id", cfg.TriggerTopicID,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
