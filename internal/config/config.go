package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	APIJWTSecret string

	TwilioAccountSID    string
	TwilioAuthToken     string
	PlivoAuthID         string
	PlivoAuthToken      string
	ElevenLabsSecret    string
	VapiSecret          string
	DefaultCountryCode  string
	VoicemailGreeting   string
	NotConfiguredNotice string

	WebhookMaxAttempts    int
	WebhookTimeout        time.Duration
	WebhookBackoff        []time.Duration
	RealtimeSweepInterval time.Duration
	RealtimeStaleAfter    time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	NotifyFromEmail     string
	NotifyFromName      string
}

// Load reads configuration from environment variables. A local .env file is
// applied first when present so development processes pick it up without a
// wrapper script.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		PlivoAuthID:         getEnv("PLIVO_AUTH_ID", ""),
		PlivoAuthToken:      getEnv("PLIVO_AUTH_TOKEN", ""),
		ElevenLabsSecret:    getEnv("ELEVENLABS_WEBHOOK_SECRET", ""),
		VapiSecret:          getEnv("VAPI_WEBHOOK_SECRET", ""),
		DefaultCountryCode:  getEnv("DEFAULT_COUNTRY_CODE", "1"),
		VoicemailGreeting:   getEnv("VOICEMAIL_GREETING", "Thank you for calling. Please leave a message after the tone and our team will call you back."),
		NotConfiguredNotice: getEnv("NOT_CONFIGURED_NOTICE", "This number is not configured to receive calls. Goodbye."),

		WebhookMaxAttempts:    getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 3),
		WebhookTimeout:        getEnvAsDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookBackoff:        getEnvAsBackoff("WEBHOOK_BACKOFF", []time.Duration{time.Second, 5 * time.Second, 15 * time.Second}),
		RealtimeSweepInterval: getEnvAsDuration("REALTIME_SWEEP_INTERVAL", time.Minute),
		RealtimeStaleAfter:    getEnvAsDuration("REALTIME_STALE_AFTER", 5*time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotifyFromEmail:     getEnv("NOTIFY_FROM_EMAIL", ""),
		NotifyFromName:      getEnv("NOTIFY_FROM_NAME", "CaseCurrent"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBackoff parses a comma-separated duration list, e.g. "1s,5s,15s".
func getEnvAsBackoff(key string, defaultValue []time.Duration) []time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
