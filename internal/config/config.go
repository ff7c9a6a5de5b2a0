// Package config loads per-service runtime configuration from the
// environment, with a YAML file providing defaults that env vars
// override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the options every service binary in the economy recognizes.
// A given binary only reads the fields relevant to it.
type Config struct {
	Port      string `yaml:"port"`
	Env       string `yaml:"env"`
	DatabasePath string `yaml:"database_path"`

	IdentityBaseURL   string `yaml:"identity_base_url"`
	BankBaseURL       string `yaml:"bank_base_url"`
	BoardBaseURL      string `yaml:"board_base_url"`
	ReputationBaseURL string `yaml:"reputation_base_url"`
	CourtBaseURL      string `yaml:"court_base_url"`

	SalaryAmount           int64 `yaml:"salary_amount"`
	SalaryPeriodSeconds    int   `yaml:"salary_period_seconds"`
	DefaultBiddingSeconds  int   `yaml:"default_bidding_seconds"`
	DefaultExecutionSeconds int  `yaml:"default_execution_seconds"`
	DefaultReviewSeconds   int   `yaml:"default_review_seconds"`
	TickIntervalSeconds    int   `yaml:"tick_interval_seconds"`

	JudgePanelSize         int    `yaml:"judge_panel_size"`
	JudgeTimeoutSeconds    int    `yaml:"judge_timeout_seconds"`
	RebuttalWindowSeconds  int    `yaml:"rebuttal_window_seconds"`
	JudgePanelURL          string `yaml:"judge_panel_url"`

	AssetStorageDir  string `yaml:"asset_storage_dir"`
	MaxAssetSizeBytes int64 `yaml:"max_asset_size_bytes"`
	MaxCommentLength int    `yaml:"max_comment_length"`

	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the baseline configuration before YAML or env overrides.
func Default() Config {
	return Config{
		Port:                    "8080",
		Env:                     "dev",
		DatabasePath:            "agora.db",
		IdentityBaseURL:         "http://localhost:8081",
		BankBaseURL:             "http://localhost:8082",
		BoardBaseURL:            "http://localhost:8083",
		ReputationBaseURL:       "http://localhost:8084",
		CourtBaseURL:            "http://localhost:8085",
		SalaryAmount:            50,
		SalaryPeriodSeconds:     86400,
		DefaultBiddingSeconds:   3600,
		DefaultExecutionSeconds: 86400,
		DefaultReviewSeconds:    3600,
		TickIntervalSeconds:     2,
		JudgePanelSize:          3,
		JudgeTimeoutSeconds:     30,
		RebuttalWindowSeconds:   3600,
		JudgePanelURL:           "http://localhost:9100",
		AssetStorageDir:         "assets",
		MaxAssetSizeBytes:       10 << 20,
		MaxCommentLength:        256,
		RateLimitPerSecond:      5,
		RateLimitBurst:          10,
		AllowedOrigins:          []string{"*"},
	}
}

// Load reads the optional YAML file at path over the defaults, then applies
// AGORA_* environment variable overrides, mirroring the teacher's pattern of
// a YAML base layer with env vars winning (gateway/config/config.go) plus the
// per-service FromEnv fail-fast idiom (services/otc-gateway/config/config.go).
func Load(service, path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	prefix := "AGORA_" + strings.ToUpper(service) + "_"
	cfg.Port = getEnvDefault(prefix+"PORT", getEnvDefault("AGORA_PORT", cfg.Port))
	cfg.Env = getEnvDefault("AGORA_ENV", cfg.Env)
	cfg.DatabasePath = getEnvDefault(prefix+"DB_PATH", getEnvDefault("AGORA_DB_PATH", cfg.DatabasePath))

	cfg.IdentityBaseURL = getEnvDefault("AGORA_IDENTITY_BASE_URL", cfg.IdentityBaseURL)
	cfg.BankBaseURL = getEnvDefault("AGORA_BANK_BASE_URL", cfg.BankBaseURL)
	cfg.BoardBaseURL = getEnvDefault("AGORA_BOARD_BASE_URL", cfg.BoardBaseURL)
	cfg.ReputationBaseURL = getEnvDefault("AGORA_REPUTATION_BASE_URL", cfg.ReputationBaseURL)
	cfg.CourtBaseURL = getEnvDefault("AGORA_COURT_BASE_URL", cfg.CourtBaseURL)

	cfg.SalaryAmount = parseInt64Env("AGORA_SALARY_AMOUNT", cfg.SalaryAmount)
	cfg.SalaryPeriodSeconds = parseIntEnv("AGORA_SALARY_PERIOD_SECONDS", cfg.SalaryPeriodSeconds)
	cfg.DefaultBiddingSeconds = parseIntEnv("AGORA_DEFAULT_BIDDING_SECONDS", cfg.DefaultBiddingSeconds)
	cfg.DefaultExecutionSeconds = parseIntEnv("AGORA_DEFAULT_EXECUTION_SECONDS", cfg.DefaultExecutionSeconds)
	cfg.DefaultReviewSeconds = parseIntEnv("AGORA_DEFAULT_REVIEW_SECONDS", cfg.DefaultReviewSeconds)
	cfg.TickIntervalSeconds = parseIntEnv("AGORA_TICK_INTERVAL_SECONDS", cfg.TickIntervalSeconds)

	cfg.JudgePanelSize = parseIntEnv("AGORA_JUDGE_PANEL_SIZE", cfg.JudgePanelSize)
	cfg.JudgeTimeoutSeconds = parseIntEnv("AGORA_JUDGE_TIMEOUT_SECONDS", cfg.JudgeTimeoutSeconds)
	cfg.RebuttalWindowSeconds = parseIntEnv("AGORA_REBUTTAL_WINDOW_SECONDS", cfg.RebuttalWindowSeconds)
	cfg.JudgePanelURL = getEnvDefault("AGORA_JUDGE_PANEL_URL", cfg.JudgePanelURL)

	cfg.AssetStorageDir = getEnvDefault("AGORA_ASSET_STORAGE_DIR", cfg.AssetStorageDir)
	cfg.MaxAssetSizeBytes = parseInt64Env("AGORA_MAX_ASSET_SIZE_BYTES", cfg.MaxAssetSizeBytes)
	cfg.MaxCommentLength = parseIntEnv("AGORA_MAX_COMMENT_LENGTH", cfg.MaxCommentLength)

	if origins := parseCSVEnv("AGORA_ALLOWED_ORIGINS"); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}

	if cfg.JudgePanelSize <= 0 {
		return nil, fmt.Errorf("judge_panel_size must be positive, got %d", cfg.JudgePanelSize)
	}
	if cfg.MaxCommentLength <= 0 {
		return nil, fmt.Errorf("max_comment_length must be positive, got %d", cfg.MaxCommentLength)
	}
	return &cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt64Env(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseCSVEnv(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' })
}
