package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string
	DevMode  bool

	RedisURL    string
	DatabaseURL string

	// Log queue backend: "redis", "sqs" or "memory".
	QueueBackend string
	QueueKey     string
	SQSQueueURL  string

	AWSRegion      string
	BedrockEnabled bool

	EncryptionKey   string
	BillingTopicARN string
	OTLPEndpoint    string

	ServiceFeeMultiplier float64
	TopUpCooldown        time.Duration
	WorkerBatchSize      int
	WorkerPollInterval   time.Duration

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                 getEnv("ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DevMode:              getEnv("DEV_MODE", "false") == "true",
		RedisURL:             getEnv("REDIS_URL", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		QueueBackend:         getEnv("QUEUE_BACKEND", "redis"),
		QueueKey:             getEnv("QUEUE_KEY", ""),
		SQSQueueURL:          getEnv("SQS_QUEUE_URL", ""),
		AWSRegion:            getEnv("AWS_REGION", ""),
		BedrockEnabled:       getEnv("BEDROCK_ENABLED", "false") == "true",
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		BillingTopicARN:      getEnv("BILLING_TOPIC_ARN", ""),
		OTLPEndpoint:         getEnv("OTLP_ENDPOINT", ""),
		ServiceFeeMultiplier: getFloatEnv("SERVICE_FEE_MULTIPLIER", 1.05),
		TopUpCooldown:        getDurationEnv("TOP_UP_COOLDOWN", time.Hour),
		WorkerBatchSize:      getIntEnv("WORKER_BATCH_SIZE", 50),
		WorkerPollInterval:   getDurationEnv("WORKER_POLL_INTERVAL", time.Second),
		ShutdownTimeout:      getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
