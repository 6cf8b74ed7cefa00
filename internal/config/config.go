package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
}

type CacheConfig struct {
	Enabled     bool
	TTL         time.Duration
	MaxFailures int
}

type StorageConfig struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	BucketOriginals string
	BucketFrames    string
	BucketFixed     string
	UseSSL          bool
	Region          string
}

type SecurityConfig struct {
	JWTSecret    string
	JWTAccessTTL time.Duration
}

type MeteringConfig struct {
	DefaultLimit int
	UploadCost   int
	FixCost      int
}

type AIConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

type PipelineConfig struct {
	FrameInterval    time.Duration
	MaxFrames        int
	FrameTolerance   time.Duration
	ModerationBatch  int
	MaxProblemFrames int
	MaxActiveFixes   int
	FixParallel      int
	StaleJobAfter    time.Duration
	FFmpegPath       string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Queue            QueueConfig
	Cache            CacheConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Metering         MeteringConfig
	AI               AIConfig
	Pipeline         PipelineConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("ROOMLENS")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "30s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.stream", "roomlens:jobs")
	v.SetDefault("queue.group", "workers")
	v.SetDefault("queue.consumer", "worker-1")
	v.SetDefault("queue.claiminterval", "60s")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.maxfailures", 5)

	v.SetDefault("storage.bucketoriginals", "roomlens-originals")
	v.SetDefault("storage.bucketframes", "roomlens-frames")
	v.SetDefault("storage.bucketfixed", "roomlens-fixed")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.jwtaccessttl", "24h")

	v.SetDefault("metering.defaultlimit", 20)
	v.SetDefault("metering.uploadcost", 1)
	v.SetDefault("metering.fixcost", 1)

	v.SetDefault("ai.timeout", "120s")
	v.SetDefault("ai.maxretries", 3)

	v.SetDefault("pipeline.frameinterval", "5s")
	v.SetDefault("pipeline.maxframes", 12)
	v.SetDefault("pipeline.frametolerance", "1s")
	v.SetDefault("pipeline.moderationbatch", 4)
	v.SetDefault("pipeline.maxproblemframes", 6)
	v.SetDefault("pipeline.maxactivefixes", 3)
	v.SetDefault("pipeline.fixparallel", 2)
	v.SetDefault("pipeline.stalejobafter", "15m")
	v.SetDefault("pipeline.ffmpegpath", "ffmpeg")
}
