/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables, with an
 * optional .env file for local development, providing a centralized and
 * straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the pool-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	ChainGatewayURL              string `mapstructure:"CHAIN_GATEWAY_URL"`
	ChainGatewayAPIKey           string `mapstructure:"CHAIN_GATEWAY_API_KEY"`
	TreasuryAddress              string `mapstructure:"TREASURY_ADDRESS"`
	TreasurySignerKey            string `mapstructure:"TREASURY_SIGNER_KEY"`
	RegistryURL                  string `mapstructure:"REGISTRY_URL"`
	RegistryInternalAPIKey       string `mapstructure:"REGISTRY_INTERNAL_API_KEY"`
	AllowListRefreshSeconds      int    `mapstructure:"ALLOWLIST_REFRESH_SECONDS"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	EventExchange                string `mapstructure:"EVENT_EXCHANGE"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	SettlementRateLimitPerMinute int    `mapstructure:"SETTLEMENT_RATE_LIMIT_PER_MINUTE"`
	JWTSecret                    string `mapstructure:"JWT_SECRET"`
	ClaimTimeoutSeconds          int    `mapstructure:"CLAIM_TIMEOUT_SECONDS"`
	RedistributionTimeoutSeconds int    `mapstructure:"REDISTRIBUTION_TIMEOUT_SECONDS"`
	ConfirmPollIntervalMillis    int    `mapstructure:"CONFIRM_POLL_INTERVAL_MILLIS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("EVENT_EXCHANGE", "aidring.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "aidring:rate_limit")
	viper.SetDefault("SETTLEMENT_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("ALLOWLIST_REFRESH_SECONDS", 60)
	viper.SetDefault("CLAIM_TIMEOUT_SECONDS", 120)
	viper.SetDefault("REDISTRIBUTION_TIMEOUT_SECONDS", 600)
	viper.SetDefault("CONFIRM_POLL_INTERVAL_MILLIS", 1000)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("CHAIN_GATEWAY_URL")
	_ = viper.BindEnv("CHAIN_GATEWAY_API_KEY")
	_ = viper.BindEnv("TREASURY_ADDRESS")
	_ = viper.BindEnv("TREASURY_SIGNER_KEY", "TREASURY_SIGNER_KEY", "TREASURY_SIGNER_KEY_FILE_CONTENTS")
	_ = viper.BindEnv("REGISTRY_URL")
	_ = viper.BindEnv("REGISTRY_INTERNAL_API_KEY")
	_ = viper.BindEnv("ALLOWLIST_REFRESH_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("SETTLEMENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("CLAIM_TIMEOUT_SECONDS")
	_ = viper.BindEnv("REDISTRIBUTION_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CONFIRM_POLL_INTERVAL_MILLIS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.TreasuryAddress = strings.TrimSpace(config.TreasuryAddress)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "aidring:rate_limit"
	}
	if strings.TrimSpace(config.EventExchange) == "" {
		config.EventExchange = "aidring.events"
	}

	if config.AllowListRefreshSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive allow-list refresh; using default\" seconds=%d", config.AllowListRefreshSeconds)
		config.AllowListRefreshSeconds = 60
	}
	if config.ClaimTimeoutSeconds <= 0 {
		config.ClaimTimeoutSeconds = 120
	}
	if config.RedistributionTimeoutSeconds <= 0 {
		config.RedistributionTimeoutSeconds = 600
	}
	if config.RedistributionTimeoutSeconds < config.ClaimTimeoutSeconds {
		log.Printf("level=warn component=config msg=\"redistribution timeout below claim timeout; raising to claim timeout\" redistribution_seconds=%d claim_seconds=%d",
			config.RedistributionTimeoutSeconds, config.ClaimTimeoutSeconds)
		config.RedistributionTimeoutSeconds = config.ClaimTimeoutSeconds
	}
	if config.ConfirmPollIntervalMillis <= 0 {
		config.ConfirmPollIntervalMillis = 1000
	}
	if config.SettlementRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative settlement rate limit; disabling\" per_minute=%d", config.SettlementRateLimitPerMinute)
		config.SettlementRateLimitPerMinute = 0
	}

	return
}
