// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the worker process.
type Config struct {
	// HTTP surface
	Port                   int
	WorkerAPIKey           string
	WorkerPublicBaseURL    string
	CORSAllowedOrigins     []string
	JobsRateLimitPerMinute int
	ShutdownGraceSec       int

	// Directory roots
	OutputRoot        string
	TmpRoot           string
	SourceCacheRoot   string
	DatasetRoot       string
	ModelArtifactRoot string

	// Source cache
	SourceCacheMaxBytes int64
	SourceCacheMaxFiles int

	// Stem isolation
	StemIsolationTimeoutSec int
	StemZipCompression      string
	StemModelRoformerName   string
	StemModelDemucsName     string

	// Mastering
	MasteringEngine   string
	SonicmasterScript string

	// Dataset ledger
	DatasetSessionSalt          string
	DatasetRawRetentionDays     int
	DatasetDerivedRetentionDays int

	// Training aggregator
	TrainingWindowHours int

	// Logging
	LogLevel  string
	LogFormat string

	// Optional S3 mirror
	StorageS3Enabled         bool
	StorageS3Bucket          string
	StorageS3Region          string
	StorageS3Endpoint        string
	StorageS3AccessKeyID     string
	StorageS3SecretAccessKey string

	// Metrics
	MetricsEnabled bool
}

// Load reads configuration from the environment, applying the defaults
// fixed by the specification. WORKER_API_KEY is required; its absence is
// a fatal configuration error.
func Load() (*Config, error) {
	apiKey := getEnv("WORKER_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("config: WORKER_API_KEY is required")
	}

	cfg := &Config{
		Port:                   getEnvInt("PORT", 8000),
		WorkerAPIKey:           apiKey,
		WorkerPublicBaseURL:    getEnv("WORKER_PUBLIC_BASE_URL", "http://localhost:8000"),
		CORSAllowedOrigins:     getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		JobsRateLimitPerMinute: getEnvInt("JOBS_RATE_LIMIT_PER_MINUTE", 60),
		ShutdownGraceSec:       getEnvInt("SHUTDOWN_GRACE_SEC", 30),

		OutputRoot:        getEnv("OUTPUT_ROOT", "./data/output"),
		TmpRoot:           getEnv("TMP_ROOT", "./data/tmp"),
		SourceCacheRoot:   getEnv("SOURCE_CACHE_ROOT", "./data/source-cache"),
		DatasetRoot:       getEnv("DATASET_ROOT", "./data/dataset"),
		ModelArtifactRoot: getEnv("MODEL_ARTIFACT_ROOT", "./data/models"),

		SourceCacheMaxBytes: getEnvInt64("SOURCE_CACHE_MAX_BYTES", 2*1024*1024*1024),
		SourceCacheMaxFiles: getEnvInt("SOURCE_CACHE_MAX_FILES", 300),

		StemIsolationTimeoutSec: maxInt(getEnvInt("STEM_ISOLATION_TIMEOUT_SEC", 120), 30),
		StemZipCompression:      getEnv("STEM_ZIP_COMPRESSION", "stored"),
		StemModelRoformerName:   getEnv("STEM_MODEL_ROFORMER_NAME", "mel_band_roformer.ckpt"),
		StemModelDemucsName:     getEnv("STEM_MODEL_DEMUCS_NAME", "htdemucs_ft.ckpt"),

		MasteringEngine:   getEnv("MASTERING_ENGINE", "matchering_2_0"),
		SonicmasterScript: getEnv("SONICMASTER_SCRIPT_PATH", ""),

		DatasetSessionSalt:          getEnv("DATASET_SESSION_SALT", "soundmaxx-dataset-salt"),
		DatasetRawRetentionDays:     maxInt(getEnvInt("DATASET_RAW_RETENTION_DAYS", 90), 1),
		DatasetDerivedRetentionDays: getEnvInt("DATASET_DERIVED_RETENTION_DAYS", 365),

		TrainingWindowHours: maxInt(getEnvInt("TRAINING_WINDOW_HOURS", 48), 1),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),

		StorageS3Enabled:         getEnvBool("STORAGE_S3_ENABLED", false),
		StorageS3Bucket:          getEnv("STORAGE_S3_BUCKET", ""),
		StorageS3Region:          getEnv("STORAGE_S3_REGION", "auto"),
		StorageS3Endpoint:        getEnv("STORAGE_S3_ENDPOINT", ""),
		StorageS3AccessKeyID:     getEnv("STORAGE_S3_ACCESS_KEY_ID", ""),
		StorageS3SecretAccessKey: getEnv("STORAGE_S3_SECRET_ACCESS_KEY", ""),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	if cfg.MasteringEngine == "sonicmaster" && cfg.SonicmasterScript == "" {
		return nil, fmt.Errorf("config: SONICMASTER_SCRIPT_PATH is required when MASTERING_ENGINE=sonicmaster")
	}
	if cfg.DatasetDerivedRetentionDays < cfg.DatasetRawRetentionDays {
		cfg.DatasetDerivedRetentionDays = cfg.DatasetRawRetentionDays
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvInt64(key string, defaultValue int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultValue
	}
	return i
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

// getEnvDuration is kept alongside the other typed helpers for future
// duration-valued settings; no current config field needs it.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvSlice(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
