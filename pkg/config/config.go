package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration values
type Config struct {
	Port     string
	GinMode  string
	LogLevel string

	SmartMovingProviderKey string
	SmartMovingBaseURL     string

	GoogleMapsAPIKey string

	TwilioAccountSID       string
	TwilioAuthToken        string
	TwilioVerifyServiceSID string
	RecaptchaSecret        string
	SMSRatePerMinute       float64

	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration

	KafkaBroker        string
	KafkaActivityTopic string

	CORSAllowedOrigins []string
}

// LoadConfig reads configuration from environment variables, applying defaults
func LoadConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SMARTMOVING_BASE_URL", "https://api.smartmoving.com")
	v.SetDefault("SESSION_TTL", "72h")
	v.SetDefault("KAFKA_ACTIVITY_TOPIC", "quote.activity")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("SMS_RATE_PER_MINUTE", 5)

	return &Config{
		Port:     v.GetString("PORT"),
		GinMode:  v.GetString("GIN_MODE"),
		LogLevel: v.GetString("LOG_LEVEL"),

		SmartMovingProviderKey: v.GetString("SMARTMOVING_PROVIDER_KEY"),
		SmartMovingBaseURL:     v.GetString("SMARTMOVING_BASE_URL"),

		GoogleMapsAPIKey: v.GetString("GOOGLE_MAPS_API_KEY"),

		TwilioAccountSID:       v.GetString("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:        v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioVerifyServiceSID: v.GetString("TWILIO_VERIFY_SERVICE_SID"),
		RecaptchaSecret:        v.GetString("RECAPTCHA_SECRET"),
		SMSRatePerMinute:       v.GetFloat64("SMS_RATE_PER_MINUTE"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		SessionTTL:    v.GetDuration("SESSION_TTL"),

		KafkaBroker:        v.GetString("KAFKA_BROKER"),
		KafkaActivityTopic: v.GetString("KAFKA_ACTIVITY_TOPIC"),

		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
