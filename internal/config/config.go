/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file. Both the API server and the reminder scheduler load the same Config.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"log"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	defaultServerPort          = "8085"
	defaultEventsExchange      = "subscription_events"
	defaultRateLimitPrefix     = "subtrack:rate_limit"
	defaultWriteRateLimit      = 60
	defaultReminderJobSchedule = "0 9 * * *" // Every day at 09:00.
	defaultDBMaxConns          = 20
)

// Config holds all the configuration variables for the subscription service.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32  `mapstructure:"DB_MAX_CONNS"`
	ClerkJWKSURL            string `mapstructure:"CLERK_JWKS_URL"`
	ClerkAudience           string `mapstructure:"CLERK_AUDIENCE"`
	ClerkIssuer             string `mapstructure:"CLERK_ISSUER"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	EventsExchange          string `mapstructure:"SUBSCRIPTION_EVENTS_EXCHANGE"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	WriteRateLimitPerMinute int    `mapstructure:"WRITE_RATE_LIMIT_PER_MINUTE"`
	ReminderJobSchedule     string `mapstructure:"REMINDER_JOB_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("DB_MAX_CONNS", defaultDBMaxConns)
	viper.SetDefault("SUBSCRIPTION_EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("WRITE_RATE_LIMIT_PER_MINUTE", defaultWriteRateLimit)
	viper.SetDefault("REMINDER_JOB_SCHEDULE", defaultReminderJobSchedule)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("CLERK_AUDIENCE")
	_ = viper.BindEnv("CLERK_ISSUER")
	_ = viper.BindEnv("RABBITMQ_URL", "RABBITMQ_URL", "CLOUDAMQP_URL")
	_ = viper.BindEnv("SUBSCRIPTION_EVENTS_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("WRITE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REMINDER_JOB_SCHEDULE")

	// A missing .env file is fine; the environment is enough.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	if config.DatabaseURL == "" {
		err = errors.New("DATABASE_URL is required")
		return
	}

	config.ClerkJWKSURL = strings.TrimSpace(config.ClerkJWKSURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	if config.WriteRateLimitPerMinute <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive write rate limit; using default\" value=%d", config.WriteRateLimitPerMinute)
		config.WriteRateLimitPerMinute = defaultWriteRateLimit
	}
	if config.DBMaxConns <= 0 {
		config.DBMaxConns = defaultDBMaxConns
	}

	config.ReminderJobSchedule = strings.TrimSpace(config.ReminderJobSchedule)
	if _, parseErr := cron.ParseStandard(config.ReminderJobSchedule); parseErr != nil {
		log.Printf("level=warn component=config msg=\"invalid REMINDER_JOB_SCHEDULE; using default\" value=%q err=%v", config.ReminderJobSchedule, parseErr)
		config.ReminderJobSchedule = defaultReminderJobSchedule
	}

	return
}
