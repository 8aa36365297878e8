package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
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
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Store     StoreConfig
	Storage   StorageConfig
	R2        R2Config
	Minio     MinioConfig
	Photoroom PhotoroomConfig
	Fashn     FashnConfig
	SizeGuard SizeGuardConfig
	Credits   CreditsConfig
	Images    ImagesConfig
	Worker    WorkerConfig
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

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	ProcessPerHour int
	SubmitPerHour  int
	UploadPerHour  int
}

// StoreConfig selects the backend for jobs and accounts: memory, redis or postgres.
type StoreConfig struct {
	Driver      string
	PostgresURL string
}

// StorageConfig selects the object storage backend: r2, minio or memory.
type StorageConfig struct {
	Driver        string
	PublicBaseURL string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Location  string
	UseSSL    bool
	PublicURL string
}

type PhotoroomConfig struct {
	APIKey          string
	SegmentURL      string
	EditURL         string
	Timeout         time.Duration
	CompressQuality int
}

type FashnConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
}

type SizeGuardConfig struct {
	MaxBytes int64
	Headroom float64
}

type CreditsConfig struct {
	DefaultTier         string
	DefaultMonthlyLimit int
	UnlimitedThreshold  int
}

type ImagesConfig struct {
	AllowedHosts []string
}

type WorkerConfig struct {
	Concurrency int
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("DATABASE_URL")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("MINIO_ACCESS_KEY")
	readSecret("MINIO_SECRET_KEY")
	readSecret("PHOTOROOM_API_KEY")
	readSecret("FASHN_API_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("ratelimit.process_per_hour", "RATELIMIT_PROCESS_PER_HOUR")
	_ = v.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.postgres_url", "DATABASE_URL")
	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("storage.public_base_url", "STORAGE_PUBLIC_BASE_URL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	_ = v.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	_ = v.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	_ = v.BindEnv("minio.bucket", "MINIO_BUCKET")
	_ = v.BindEnv("minio.location", "MINIO_LOCATION")
	_ = v.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	_ = v.BindEnv("minio.public_url", "MINIO_PUBLIC_URL")
	_ = v.BindEnv("photoroom.api_key", "PHOTOROOM_API_KEY")
	_ = v.BindEnv("photoroom.segment_url", "PHOTOROOM_SEGMENT_URL")
	_ = v.BindEnv("photoroom.edit_url", "PHOTOROOM_EDIT_URL")
	_ = v.BindEnv("photoroom.timeout", "PHOTOROOM_TIMEOUT")
	_ = v.BindEnv("photoroom.compress_quality", "PHOTOROOM_COMPRESS_QUALITY")
	_ = v.BindEnv("fashn.api_key", "FASHN_API_KEY")
	_ = v.BindEnv("fashn.base_url", "FASHN_BASE_URL")
	_ = v.BindEnv("fashn.poll_interval", "FASHN_POLL_INTERVAL")
	_ = v.BindEnv("fashn.max_polls", "FASHN_MAX_POLLS")
	_ = v.BindEnv("fashn.timeout", "FASHN_TIMEOUT")
	_ = v.BindEnv("sizeguard.max_bytes", "SIZEGUARD_MAX_BYTES")
	_ = v.BindEnv("sizeguard.headroom", "SIZEGUARD_HEADROOM")
	_ = v.BindEnv("credits.default_tier", "CREDITS_DEFAULT_TIER")
	_ = v.BindEnv("credits.default_monthly_limit", "CREDITS_DEFAULT_MONTHLY_LIMIT")
	_ = v.BindEnv("credits.unlimited_threshold", "CREDITS_UNLIMITED_THRESHOLD")
	_ = v.BindEnv("images.allowed_hosts", "IMAGES_ALLOWED_HOSTS")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.process_per_hour", 120)
	v.SetDefault("ratelimit.submit_per_hour", 120)
	v.SetDefault("ratelimit.upload_per_hour", 200)

	v.SetDefault("store.driver", "redis")
	v.SetDefault("storage.driver", "r2")

	// Sync provider defaults
	v.SetDefault("photoroom.segment_url", "https://sdk.photoroom.com/v1/segment")
	v.SetDefault("photoroom.edit_url", "https://image-api.photoroom.com/v2/edit")
	v.SetDefault("photoroom.timeout", 60*time.Second)
	v.SetDefault("photoroom.compress_quality", 80)

	// Async provider defaults
	v.SetDefault("fashn.base_url", "https://api.fashn.ai")
	v.SetDefault("fashn.poll_interval", 2*time.Second)
	v.SetDefault("fashn.max_polls", 30)
	v.SetDefault("fashn.timeout", 60*time.Second)

	v.SetDefault("sizeguard.max_bytes", 25*1024*1024)
	v.SetDefault("sizeguard.headroom", 0.9)

	v.SetDefault("credits.default_tier", "free")
	v.SetDefault("credits.default_monthly_limit", 5)
	v.SetDefault("credits.unlimited_threshold", 999999)

	v.SetDefault("images.allowed_hosts", []string{})
	v.SetDefault("worker.concurrency", 10)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			ProcessPerHour: v.GetInt("ratelimit.process_per_hour"),
			SubmitPerHour:  v.GetInt("ratelimit.submit_per_hour"),
			UploadPerHour:  v.GetInt("ratelimit.upload_per_hour"),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			PostgresURL: v.GetString("store.postgres_url"),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(v.GetString("storage.driver")),
			PublicBaseURL: v.GetString("storage.public_base_url"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Minio: MinioConfig{
			Endpoint:  v.GetString("minio.endpoint"),
			AccessKey: v.GetString("minio.access_key"),
			SecretKey: v.GetString("minio.secret_key"),
			Bucket:    v.GetString("minio.bucket"),
			Location:  v.GetString("minio.location"),
			UseSSL:    v.GetBool("minio.use_ssl"),
			PublicURL: v.GetString("minio.public_url"),
		},
		Photoroom: PhotoroomConfig{
			APIKey:          v.GetString("photoroom.api_key"),
			SegmentURL:      v.GetString("photoroom.segment_url"),
			EditURL:         v.GetString("photoroom.edit_url"),
			Timeout:         v.GetDuration("photoroom.timeout"),
			CompressQuality: v.GetInt("photoroom.compress_quality"),
		},
		Fashn: FashnConfig{
			APIKey:       v.GetString("fashn.api_key"),
			BaseURL:      v.GetString("fashn.base_url"),
			PollInterval: v.GetDuration("fashn.poll_interval"),
			MaxPolls:     v.GetInt("fashn.max_polls"),
			Timeout:      v.GetDuration("fashn.timeout"),
		},
		SizeGuard: SizeGuardConfig{
			MaxBytes: v.GetInt64("sizeguard.max_bytes"),
			Headroom: v.GetFloat64("sizeguard.headroom"),
		},
		Credits: CreditsConfig{
			DefaultTier:         v.GetString("credits.default_tier"),
			DefaultMonthlyLimit: v.GetInt("credits.default_monthly_limit"),
			UnlimitedThreshold:  v.GetInt("credits.unlimited_threshold"),
		},
		Images: ImagesConfig{
			AllowedHosts: splitList(v.GetStringSlice("images.allowed_hosts")),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
		},
	}

	return cfg, nil
}

// splitList flattens comma separated entries, which is how list values
// arrive from a single environment variable.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
