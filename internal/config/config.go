/**
 * @description
 * This package handles the configuration management for the signup-service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */
package config

import (
	"errors"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the signup-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthAPIBaseURL string `mapstructure:"AUTH_API_BASE_URL"`
	AuthAPIKey     string `mapstructure:"AUTH_API_KEY"`

	PaymentAPIBaseURL    string `mapstructure:"PAYMENT_API_BASE_URL"`
	PaymentAPIKey        string `mapstructure:"PAYMENT_API_KEY"`
	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`
	CheckoutSuccessURL   string `mapstructure:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL    string `mapstructure:"CHECKOUT_CANCEL_URL"`

	PIIEncryptionKey  string `mapstructure:"PII_ENCRYPTION_KEY"`
	LookupHMACSecret  string `mapstructure:"LOOKUP_HMAC_SECRET"`
	CaptchaHMACSecret string `mapstructure:"CAPTCHA_HMAC_SECRET"`

	OTPTTLSeconds        int `mapstructure:"OTP_TTL_SECONDS"`
	OTPMaxAttempts       int `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPLockoutMinutes    int `mapstructure:"OTP_LOCKOUT_MINUTES"`
	OTPSendLimit         int `mapstructure:"OTP_SEND_LIMIT"`
	OTPSendWindowMinutes int `mapstructure:"OTP_SEND_WINDOW_MINUTES"`

	SignupRateLimitPerMinute    int `mapstructure:"SIGNUP_RATE_LIMIT_PER_MINUTE"`
	OTPVerifyRateLimitPerMinute int `mapstructure:"OTP_VERIFY_RATE_LIMIT_PER_MINUTE"`

	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	IntentTTLHours        int    `mapstructure:"INTENT_TTL_HOURS"`
	IntentCleanupSchedule string `mapstructure:"INTENT_CLEANUP_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
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
	viper.SetDefault("OTP_TTL_SECONDS", 300)
	viper.SetDefault("OTP_MAX_ATTEMPTS", 5)
	viper.SetDefault("OTP_LOCKOUT_MINUTES", 15)
	viper.SetDefault("OTP_SEND_LIMIT", 3)
	viper.SetDefault("OTP_SEND_WINDOW_MINUTES", 30)
	viper.SetDefault("SIGNUP_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("OTP_VERIFY_RATE_LIMIT_PER_MINUTE", 15)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "clinio:rate_limit")
	viper.SetDefault("INTENT_TTL_HOURS", 48)
	viper.SetDefault("INTENT_CLEANUP_SCHEDULE", "*/30 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("AUTH_API_BASE_URL")
	_ = viper.BindEnv("AUTH_API_KEY")
	_ = viper.BindEnv("PAYMENT_API_BASE_URL")
	_ = viper.BindEnv("PAYMENT_API_KEY")
	_ = viper.BindEnv("PAYMENT_WEBHOOK_SECRET")
	_ = viper.BindEnv("CHECKOUT_SUCCESS_URL")
	_ = viper.BindEnv("CHECKOUT_CANCEL_URL")
	_ = viper.BindEnv("PII_ENCRYPTION_KEY")
	_ = viper.BindEnv("LOOKUP_HMAC_SECRET")
	_ = viper.BindEnv("CAPTCHA_HMAC_SECRET")
	_ = viper.BindEnv("OTP_TTL_SECONDS")
	_ = viper.BindEnv("OTP_MAX_ATTEMPTS")
	_ = viper.BindEnv("OTP_LOCKOUT_MINUTES")
	_ = viper.BindEnv("OTP_SEND_LIMIT")
	_ = viper.BindEnv("OTP_SEND_WINDOW_MINUTES")
	_ = viper.BindEnv("SIGNUP_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OTP_VERIFY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("INTENT_TTL_HOURS")
	_ = viper.BindEnv("INTENT_CLEANUP_SCHEDULE")

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

	if port := strings.TrimSpace(viper.GetString("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "clinio:rate_limit"
	}

	// Coerce nonsensical tuning values back to safe defaults.
	if config.OTPTTLSeconds <= 0 {
		config.OTPTTLSeconds = 300
	}
	if config.OTPMaxAttempts <= 0 {
		config.OTPMaxAttempts = 5
	}
	if config.OTPLockoutMinutes <= 0 {
		config.OTPLockoutMinutes = 15
	}
	if config.OTPSendLimit <= 0 {
		config.OTPSendLimit = 3
	}
	if config.OTPSendWindowMinutes <= 0 {
		config.OTPSendWindowMinutes = 30
	}
	if config.SignupRateLimitPerMinute <= 0 {
		config.SignupRateLimitPerMinute = 10
	}
	if config.OTPVerifyRateLimitPerMinute <= 0 {
		config.OTPVerifyRateLimitPerMinute = 15
	}
	if config.IntentTTLHours <= 0 {
		config.IntentTTLHours = 48
	}
	if strings.TrimSpace(config.IntentCleanupSchedule) == "" {
		config.IntentCleanupSchedule = "*/30 * * * *"
	}

	return
}

// Validate checks that the secrets the crypto layer depends on are present.
// The service must not start without them.
func (c Config) Validate() error {
	if strings.TrimSpace(c.PIIEncryptionKey) == "" {
		return errors.New("PII_ENCRYPTION_KEY is required")
	}
	if strings.TrimSpace(c.LookupHMACSecret) == "" {
		return errors.New("LOOKUP_HMAC_SECRET is required")
	}
	if strings.TrimSpace(c.PaymentWebhookSecret) == "" {
		return errors.New("PAYMENT_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}
