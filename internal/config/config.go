/**
 * Configuration for the Document Extraction Worker
 *
 * Values come from environment variables. An optional YAML file named by
 * CONFIG_FILE supplies defaults that the environment overrides.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"

	RecognitionEngineTextract  = "textract"
	RecognitionEngineTesseract = "tesseract"
)

// Config holds worker configuration
type Config struct {
	// Queue configuration
	RedisURL     string `yaml:"redis_url"`
	QueueBackend string `yaml:"queue_backend"`
	QueueName    string `yaml:"queue_name"`
	MaxRetries   int    `yaml:"max_retries"`

	// PostgreSQL configuration
	DatabaseURL string `yaml:"database_url"`

	// Qdrant duplicate index configuration (disabled when QdrantURL is empty)
	QdrantURL          string  `yaml:"qdrant_url"`
	QdrantCollection   string  `yaml:"qdrant_collection"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`

	// AWS configuration
	AWSRegion   string `yaml:"aws_region"`
	BucketName  string `yaml:"bucket_name"`
	SNSTopicARN string `yaml:"sns_topic_arn"`

	// Recognition configuration
	RecognitionEngine   string   `yaml:"recognition_engine"`
	RecognitionFallback bool     `yaml:"recognition_fallback"`
	TesseractLanguages  []string `yaml:"tesseract_languages"`
	SyncSizeLimit       int64    `yaml:"sync_size_limit"`

	// TesseractMinConfidence drops OCR words below this confidence (0-100)
	TesseractMinConfidence float64 `yaml:"tesseract_min_confidence"`

	// Worker configuration
	WorkerConcurrency int `yaml:"worker_concurrency"`
	ProcessingTimeout int `yaml:"processing_timeout"`

	// HTTP API
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	file := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, file); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := &Config{
		RedisURL:               getEnvOrDefault("REDIS_URL", file.RedisURL, "redis://localhost:6379"),
		QueueBackend:           strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", file.QueueBackend, QueueBackendRedis)),
		QueueName:              getEnvOrDefault("QUEUE_NAME", file.QueueName, "docextract:jobs"),
		MaxRetries:             getEnvAsIntOrDefault("MAX_RETRIES", file.MaxRetries, 3),
		DatabaseURL:            getEnvOrDefault("DATABASE_URL", file.DatabaseURL, ""),
		QdrantURL:              getEnvOrDefault("QDRANT_URL", file.QdrantURL, ""),
		QdrantCollection:       getEnvOrDefault("QDRANT_COLLECTION", file.QdrantCollection, "docextract_fingerprints"),
		DuplicateThreshold:     getEnvAsFloatOrDefault("DUPLICATE_THRESHOLD", file.DuplicateThreshold, 0.95),
		AWSRegion:              getEnvOrDefault("AWS_REGION", file.AWSRegion, ""),
		BucketName:             getEnvOrDefault("BUCKET_NAME", file.BucketName, ""),
		SNSTopicARN:            getEnvOrDefault("SNS_TOPIC_ARN", file.SNSTopicARN, ""),
		RecognitionEngine:      strings.ToLower(getEnvOrDefault("RECOGNITION_ENGINE", file.RecognitionEngine, RecognitionEngineTextract)),
		RecognitionFallback:    getEnvAsBoolOrDefault("RECOGNITION_FALLBACK", file.RecognitionFallback),
		TesseractLanguages:     getEnvAsListOrDefault("TESSERACT_LANGUAGES", file.TesseractLanguages, []string{"eng"}),
		SyncSizeLimit:          getEnvAsInt64OrDefault("SYNC_SIZE_LIMIT", file.SyncSizeLimit, 5*1024*1024), // 5MB
		TesseractMinConfidence: getEnvAsFloatOrDefault("TESSERACT_MIN_CONFIDENCE", file.TesseractMinConfidence, 0),
		WorkerConcurrency:      getEnvAsIntOrDefault("WORKER_CONCURRENCY", file.WorkerConcurrency, 4),
		ProcessingTimeout:      getEnvAsIntOrDefault("PROCESSING_TIMEOUT", file.ProcessingTimeout, 300000), // 5 minutes
		HTTPAddr:               getEnvOrDefault("HTTP_ADDR", file.HTTPAddr, ":8080"),
		AllowedOrigins:         getEnvAsListOrDefault("CORS_ALLOWED_ORIGINS", file.AllowedOrigins, nil),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.RecognitionEngine != RecognitionEngineTextract && c.RecognitionEngine != RecognitionEngineTesseract {
		return fmt.Errorf("RECOGNITION_ENGINE must be %q or %q, got %q", RecognitionEngineTextract, RecognitionEngineTesseract, c.RecognitionEngine)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}

	if c.SyncSizeLimit < 1024 {
		return fmt.Errorf("SYNC_SIZE_LIMIT must be at least 1KB, got %d", c.SyncSizeLimit)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("DUPLICATE_THRESHOLD must be in (0, 1], got %v", c.DuplicateThreshold)
	}

	if c.TesseractMinConfidence < 0 || c.TesseractMinConfidence > 100 {
		return fmt.Errorf("TESSERACT_MIN_CONFIDENCE must be in [0, 100], got %v", c.TesseractMinConfidence)
	}

	return nil
}

// getEnvOrDefault returns the environment value, then the file value, then the default
func getEnvOrDefault(key, fileValue, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, fileValue, defaultValue int) int {
	if fileValue != 0 {
		defaultValue = fileValue
	}

	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, fileValue, defaultValue int64) int64 {
	if fileValue != 0 {
		defaultValue = fileValue
	}

	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, fileValue, defaultValue float64) float64 {
	if fileValue != 0 {
		defaultValue = fileValue
	}

	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault splits a comma or plus separated list ("eng+deu")
func getEnvAsListOrDefault(key string, fileValue, defaultValue []string) []string {
	if len(fileValue) > 0 {
		defaultValue = fileValue
	}

	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.FieldsFunc(valueStr, func(r rune) bool {
		return r == ',' || r == '+'
	})

	var result []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
