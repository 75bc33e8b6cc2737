package config

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.ServerPort)
	}
	if cfg.EventExchange != "aidring.events" {
		t.Fatalf("expected default exchange, got %s", cfg.EventExchange)
	}
	if cfg.RedisRateLimitPrefix != "aidring:rate_limit" {
		t.Fatalf("expected default rate-limit prefix, got %s", cfg.RedisRateLimitPrefix)
	}
	if cfg.ClaimTimeoutSeconds != 120 || cfg.RedistributionTimeoutSeconds != 600 {
		t.Fatalf("expected default timeouts, got claim=%d redistribution=%d", cfg.ClaimTimeoutSeconds, cfg.RedistributionTimeoutSeconds)
	}
	if cfg.ConfirmPollIntervalMillis != 1000 {
		t.Fatalf("expected default poll interval, got %d", cfg.ConfirmPollIntervalMillis)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TREASURY_ADDRESS", "  0x00000000000000000000000000000000000000fe  ")
	t.Setenv("SETTLEMENT_RATE_LIMIT_PER_MINUTE", "12")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerPort != "9000" {
		t.Fatalf("expected port 9000, got %s", cfg.ServerPort)
	}
	if cfg.JWTSecret != "test-secret" {
		t.Fatalf("expected jwt secret from env, got %q", cfg.JWTSecret)
	}
	if cfg.TreasuryAddress != "0x00000000000000000000000000000000000000fe" {
		t.Fatalf("expected trimmed treasury address, got %q", cfg.TreasuryAddress)
	}
	if cfg.SettlementRateLimitPerMinute != 12 {
		t.Fatalf("expected rate limit 12, got %d", cfg.SettlementRateLimitPerMinute)
	}
}

func TestLoadConfigPortEnvWins(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("PORT", "7777")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerPort != "7777" {
		t.Fatalf("expected PORT to win, got %s", cfg.ServerPort)
	}
}

func TestLoadConfigSanitizesTimeouts(t *testing.T) {
	t.Setenv("CLAIM_TIMEOUT_SECONDS", "300")
	t.Setenv("REDISTRIBUTION_TIMEOUT_SECONDS", "60")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedistributionTimeoutSeconds != 300 {
		t.Fatalf("expected redistribution timeout raised to claim timeout, got %d", cfg.RedistributionTimeoutSeconds)
	}

	t.Setenv("SETTLEMENT_RATE_LIMIT_PER_MINUTE", "-5")
	cfg, err = LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SettlementRateLimitPerMinute != 0 {
		t.Fatalf("expected negative rate limit disabled, got %d", cfg.SettlementRateLimitPerMinute)
	}
}
