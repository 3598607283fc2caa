package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Zitadel   ZitadelConfig
	R2        R2Config
	Briefing  BriefingConfig
	Poller    PollerConfig
	Cache     CacheConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GeneratePerHour int
	ContentPerMin   int
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	URLExpiry       time.Duration
}

// BriefingConfig points at the remote podcast generation service
type BriefingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type PollerConfig struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	ContentRetries int
}

type CacheConfig struct {
	ContentTTL time.Duration
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("BRIEFING_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("ratelimit.content_per_min", "RATELIMIT_CONTENT_PER_MIN")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("r2.url_expiry", "R2_URL_EXPIRY")
	_ = viper.BindEnv("briefing.base_url", "BRIEFING_BASE_URL")
	_ = viper.BindEnv("briefing.api_key", "BRIEFING_API_KEY")
	_ = viper.BindEnv("briefing.timeout", "BRIEFING_TIMEOUT")
	_ = viper.BindEnv("poller.interval", "POLLER_INTERVAL")
	_ = viper.BindEnv("poller.request_timeout", "POLLER_REQUEST_TIMEOUT")
	_ = viper.BindEnv("poller.content_retries", "POLLER_CONTENT_RETRIES")
	_ = viper.BindEnv("cache.content_ttl", "CACHE_CONTENT_TTL")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_hour", 10)
	viper.SetDefault("ratelimit.content_per_min", 60)

	// Generation service defaults
	viper.SetDefault("briefing.base_url", "http://localhost:3001")
	viper.SetDefault("briefing.timeout", 30*time.Second)

	// Poller defaults
	viper.SetDefault("poller.interval", 3*time.Second)
	viper.SetDefault("poller.request_timeout", 10*time.Second)
	viper.SetDefault("poller.content_retries", 3)

	viper.SetDefault("cache.content_ttl", time.Hour)
	viper.SetDefault("r2.url_expiry", 15*time.Minute)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			ContentPerMin:   viper.GetInt("ratelimit.content_per_min"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
			URLExpiry:       viper.GetDuration("r2.url_expiry"),
		},
		Briefing: BriefingConfig{
			BaseURL: strings.TrimRight(viper.GetString("briefing.base_url"), "/"),
			APIKey:  viper.GetString("briefing.api_key"),
			Timeout: viper.GetDuration("briefing.timeout"),
		},
		Poller: PollerConfig{
			Interval:       viper.GetDuration("poller.interval"),
			RequestTimeout: viper.GetDuration("poller.request_timeout"),
			ContentRetries: viper.GetInt("poller.content_retries"),
		},
		Cache: CacheConfig{
			ContentTTL: viper.GetDuration("cache.content_ttl"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
