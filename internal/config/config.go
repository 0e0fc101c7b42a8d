package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server                 ServerConfig   `mapstructure:"server"`
	Database               DatabaseConfig `mapstructure:"database"`
	Redis                  RedisConfig    `mapstructure:"redis"`
	NATS                   NATSConfig     `mapstructure:"nats"`
	JWT                    JWTConfig      `mapstructure:"jwt"`
	Security               SecurityConfig `mapstructure:"security"`
	NotificationServiceURL string         `mapstructure:"notification_service_url"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type JWTConfig struct {
	// Secret signs both access and refresh tokens; the type claim keeps
	// them apart.
	Secret              string `mapstructure:"secret"`
	AccessExpiryMinutes int    `mapstructure:"access_expiry_minutes"`
	RefreshExpiryDays   int    `mapstructure:"refresh_expiry_days"`
}

func (j JWTConfig) AccessTTL() time.Duration {
	return time.Duration(j.AccessExpiryMinutes) * time.Minute
}

func (j JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(j.RefreshExpiryDays) * 24 * time.Hour
}

type SecurityConfig struct {
	LockoutThreshold       int `mapstructure:"lockout_threshold"`
	LockoutDurationMinutes int `mapstructure:"lockout_duration_minutes"`
	ThrottleMaxRequests    int `mapstructure:"throttle_max_requests"`
	ThrottleWindowSeconds  int `mapstructure:"throttle_window_seconds"`
}

func (s SecurityConfig) LockoutDuration() time.Duration {
	return time.Duration(s.LockoutDurationMinutes) * time.Minute
}

func (s SecurityConfig) ThrottleWindow() time.Duration {
	return time.Duration(s.ThrottleWindowSeconds) * time.Second
}

func LoadConfig() *Config {
	config := &Config{}

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "3080")
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "dev")
	viper.SetDefault("database.password", "devpass")
	viper.SetDefault("database.name", "school_access")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("nats.enabled", false)

	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.access_expiry_minutes", 30)
	viper.SetDefault("jwt.refresh_expiry_days", 7)

	viper.SetDefault("security.lockout_threshold", 5)
	viper.SetDefault("security.lockout_duration_minutes", 30)
	viper.SetDefault("security.throttle_max_requests", 20)
	viper.SetDefault("security.throttle_window_seconds", 60)

	viper.SetDefault("notification_service_url", "http://notification-service:8090")

	viper.AutomaticEnv()

	if host := os.Getenv("SERVER_HOST"); host != "" {
		viper.Set("server.host", host)
	}
	if port := os.Getenv("PORT"); port != "" {
		viper.Set("server.port", port)
	}
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		viper.Set("server.mode", mode)
	}

	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		viper.Set("database.host", dbHost)
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		viper.Set("database.port", dbPort)
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		viper.Set("database.user", dbUser)
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		viper.Set("database.password", dbPassword)
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		viper.Set("database.name", dbName)
	}
	if dbSSLMode := os.Getenv("DB_SSLMODE"); dbSSLMode != "" {
		viper.Set("database.sslmode", dbSSLMode)
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		viper.Set("redis.port", redisPort)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		viper.Set("nats.url", natsURL)
		viper.Set("nats.enabled", true)
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	if notificationURL := os.Getenv("NOTIFICATION_SERVICE_URL"); notificationURL != "" {
		viper.Set("notification_service_url", notificationURL)
	}

	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}

	return config
}
