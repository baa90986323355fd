package config

import (
	"os"
	"strconv"
	"time"
)

type S3 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type Config struct {
	PostgresURI string
	FrontendURL string

	// SecretKey signs user and service JWTs; TokenCryptKey encrypts
	// stored platform tokens (must be 16 or 32 bytes).
	SecretKey     string
	TokenCryptKey string

	LinkedinClientID     string
	LinkedinClientSecret string
	LinkedinRedirectURI  string
	LinkedinAPIBase      string
	LinkedinAuthBase     string
	LinkedinVersion      string

	TwitterClientID       string
	TwitterClientSecret   string
	TwitterRedirectURI    string
	TwitterConsumerKey    string
	TwitterConsumerSecret string
	TwitterAPIBase        string
	TwitterUploadBase     string

	SendMessageURL string
	N8NWebhookURL  string

	MediaMaxBytes  int64
	MediaRetention time.Duration

	JobPollInterval time.Duration
	JobLockLease    time.Duration
	JobConcurrency  int

	// PublishRetryBackoff enables re-scheduling a post whose publish
	// failed on every platform. Zero keeps the job dropped, which is
	// what the product shipped with.
	PublishRetryBackoff time.Duration
	PublishMaxAttempts  int

	FollowUpInterval time.Duration

	S3 S3
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI: getEnv("POSTGRES_URI", ""),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		SecretKey:     getEnv("JWT_SECRET", ""),
		TokenCryptKey: getEnv("TOKEN_CRYPT_KEY", ""),

		LinkedinClientID:     getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedinClientSecret: getEnv("LINKEDIN_CLIENT_SECRET", ""),
		LinkedinRedirectURI:  getEnv("LINKEDIN_REDIRECT_URI", ""),
		LinkedinAPIBase:      getEnv("LINKEDIN_API_BASE", "https://api.linkedin.com"),
		LinkedinAuthBase:     getEnv("LINKEDIN_AUTH_BASE", "https://www.linkedin.com"),
		LinkedinVersion:      getEnv("LINKEDIN_VERSION", "202502"),

		TwitterClientID:       getEnv("TWITTER_CLIENT_ID", ""),
		TwitterClientSecret:   getEnv("TWITTER_CLIENT_SECRET", ""),
		TwitterRedirectURI:    getEnv("TWITTER_REDIRECT_URI", ""),
		TwitterConsumerKey:    getEnv("TWITTER_CONSUMER_KEY", ""),
		TwitterConsumerSecret: getEnv("TWITTER_CONSUMER_SECRET", ""),
		TwitterAPIBase:        getEnv("TWITTER_API_BASE", "https://api.twitter.com"),
		TwitterUploadBase:     getEnv("TWITTER_UPLOAD_BASE", "https://upload.twitter.com"),

		SendMessageURL: getEnv("SEND_MESSAGE_URL", "http://localhost:3000/send-message"),
		N8NWebhookURL:  getEnv("N8N_WEBHOOK_URL", "http://localhost:5678/webhook/chat-handler"),

		MediaMaxBytes:  getEnvInt64("MEDIA_MAX_BYTES", 5*1024*1024),
		MediaRetention: getEnvDuration("MEDIA_RETENTION", 24*time.Hour),

		JobPollInterval: getEnvDuration("JOB_POLL_INTERVAL", 5*time.Second),
		JobLockLease:    getEnvDuration("JOB_LOCK_LEASE", 10*time.Minute),
		JobConcurrency:  getEnvInt("JOB_CONCURRENCY", 20),

		PublishRetryBackoff: getEnvDuration("PUBLISH_RETRY_BACKOFF", 0),
		PublishMaxAttempts:  getEnvInt("PUBLISH_MAX_ATTEMPTS", 5),

		FollowUpInterval: getEnvDuration("FOLLOW_UP_INTERVAL", 24*time.Hour),

		S3: S3{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
