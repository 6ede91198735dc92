package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for our application
type Config struct {
	Port        string
	Origin      string
	Environment string
	JWTSecret   string
	Database    DatabaseConfig
	Redis       RedisConfig
	AI          AIConfig
	Analysis    AnalysisConfig
	Blob        BlobConfig
	Log         LogConfig

	// PatternCacheBackend is "redis" or "database"
	PatternCacheBackend string
	// TaxonomyFile optionally replaces the embedded region table
	TaxonomyFile string
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
	Debug    bool
}

// RedisConfig holds the pattern cache connection details
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AIConfig holds the language model endpoint settings
type AIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string
	Timeout     time.Duration
}

// AnalysisConfig holds the body impact analysis limits
type AnalysisConfig struct {
	MaxReportAgeDays    int
	MaxReportsToScan    int
	MaxParametersForGPT int
	CacheMaxAgeDays     int
	BatchConcurrency    int
	BatchDelay          time.Duration
	RateLimitPerMinute  int
	RateBurst           int
}

// BlobConfig holds the signed file reference settings
type BlobConfig struct {
	Secret        string
	RefTTL        time.Duration
	PublicBaseURL string
	// Source selects how the extractor reads documents: "database" or "http".
	Source string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	p := &intParser{}

	// Load database configuration
	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "3306"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "medi"),
		Debug:    getEnv("DB_DEBUG", "false") == "true",
	}

	// Build DSN (Data Source Name) for MySQL connection
	dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)

	redisConfig := RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       p.parse("REDIS_DB", "0"),
	}

	aiConfig := AIConfig{
		BaseURL:     getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
		APIKey:      getEnv("AI_API_KEY", ""),
		Model:       getEnv("AI_MODEL", "gpt-4o-mini"),
		VisionModel: getEnv("AI_VISION_MODEL", "gpt-4o"),
		Timeout:     time.Duration(p.parse("AI_TIMEOUT_SECONDS", "60")) * time.Second,
	}

	analysisConfig := AnalysisConfig{
		MaxReportAgeDays:    p.parse("ANALYSIS_MAX_REPORT_AGE_DAYS", "365"),
		MaxReportsToScan:    p.parse("ANALYSIS_MAX_REPORTS_TO_SCAN", "10"),
		MaxParametersForGPT: p.parse("ANALYSIS_MAX_PARAMETERS_FOR_GPT", "50"),
		CacheMaxAgeDays:     p.parse("ANALYSIS_CACHE_MAX_AGE_DAYS", "30"),
		BatchConcurrency:    p.parse("ANALYSIS_BATCH_CONCURRENCY", "3"),
		BatchDelay:          time.Duration(p.parse("ANALYSIS_BATCH_DELAY_MS", "2000")) * time.Millisecond,
		RateLimitPerMinute:  p.parse("ANALYSIS_RATE_LIMIT_PER_MINUTE", "2"),
		RateBurst:           p.parse("ANALYSIS_RATE_BURST", "1"),
	}

	blobConfig := BlobConfig{
		Secret:        getEnv("BLOB_REF_SECRET", "default_blob_ref_secret"),
		RefTTL:        time.Duration(p.parse("BLOB_REF_TTL_MINUTES", "15")) * time.Minute,
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:3001"),
		Source:        strings.ToLower(getEnv("BLOB_SOURCE", "database")),
	}

	if p.err != nil {
		return nil, p.err
	}

	backend := strings.ToLower(getEnv("PATTERN_CACHE_BACKEND", "redis"))
	if backend != "redis" && backend != "database" {
		return nil, fmt.Errorf("invalid PATTERN_CACHE_BACKEND %q: want redis or database", backend)
	}
	if blobConfig.Source != "database" && blobConfig.Source != "http" {
		return nil, fmt.Errorf("invalid BLOB_SOURCE %q: want database or http", blobConfig.Source)
	}
	if analysisConfig.BatchConcurrency < 1 {
		return nil, fmt.Errorf("invalid ANALYSIS_BATCH_CONCURRENCY: must be at least 1")
	}

	// Return complete configuration
	return &Config{
		Port:                getEnv("PORT", "3001"),
		Origin:              getEnv("ORIGIN", "http://localhost:4200"),
		Environment:         getEnv("NODE_ENV", "development"),
		JWTSecret:           getEnv("JWT_SECRET", "default_jwt_secret"),
		Database:            dbConfig,
		Redis:               redisConfig,
		AI:                  aiConfig,
		Analysis:            analysisConfig,
		Blob:                blobConfig,
		Log:                 LogConfig{Level: getEnv("LOG_LEVEL", "info"), Format: getEnv("LOG_FORMAT", "json")},
		PatternCacheBackend: backend,
		TaxonomyFile:        getEnv("TAXONOMY_FILE", ""),
	}, nil
}

// intParser keeps the first numeric parse error so LoadConfig can report it once.
type intParser struct {
	err error
}

func (p *intParser) parse(key, defaultValue string) int {
	v, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return v
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
