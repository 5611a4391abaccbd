package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents runtime configuration for the service. It is built once at
// start-up and handed to every constructor; nothing reads the environment later.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Log           LogConfig
	Providers     ProvidersConfig
	Resolver      ResolverConfig
	Uploads       UploadConfig
	Bot           BotConfig
	SessionSecret string
}

type ServerConfig struct {
	Address  string
	AppURL   string
	AppTitle string
	Env      string
}

// Production reports whether the service runs with production logging and gin release mode.
func (s ServerConfig) Production() bool {
	return strings.EqualFold(s.Env, "production")
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type LogConfig struct {
	Level string
	File  string
}

type ProviderConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Enabled reports whether the vendor has a credential. Vendors without one stay unconfigured.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

type ProvidersConfig struct {
	OpenAI     ProviderConfig
	Anthropic  ProviderConfig
	Gemini     ProviderConfig
	OpenRouter ProviderConfig
	ElevenLabs ProviderConfig
	Stability  ProviderConfig
	Translate  ProviderConfig
}

type ResolverConfig struct {
	Timeout          time.Duration
	OfflinePhrases   bool
	DefaultModel     string
	TitleMaxRunes    int
	MaxAttempts      int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type UploadConfig struct {
	Dir           string
	TTL           time.Duration
	CleanInterval time.Duration
	MaxBytes      int64
}

type BotConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 5000)
	v.SetDefault("SERVER_ADDRESS", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_URL", "http://localhost:5000")
	v.SetDefault("APP_TITLE", "Yasmin")
	v.SetDefault("DATABASE_URL", "sqlite3://yasmin.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_USERNAME", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "logs/yasmin.log")

	for _, key := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL", "ANTHROPIC_MODEL",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "GEMINI_MODEL",
		"OPENROUTER_API_KEY", "OPENROUTER_MODEL",
		"ELEVENLABS_API_KEY", "ELEVENLABS_BASE_URL",
		"STABILITY_API_KEY", "STABILITY_BASE_URL", "STABILITY_ENGINE",
		"TRANSLATE_API_KEY", "TRANSLATE_BASE_URL",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")

	v.SetDefault("PROVIDER_TIMEOUT", 30*time.Second)
	v.SetDefault("OFFLINE_PHRASES_ENABLED", true)
	v.SetDefault("DEFAULT_MODEL", "openai/gpt-3.5-turbo")
	v.SetDefault("TITLE_MAX_RUNES", 30)
	v.SetDefault("PROVIDER_MAX_ATTEMPTS", 1)
	v.SetDefault("PROVIDER_BREAKER_THRESHOLD", 0)
	v.SetDefault("PROVIDER_BREAKER_COOLDOWN", time.Minute)

	v.SetDefault("UPLOAD_DIR", "./data/uploads")
	v.SetDefault("UPLOAD_TTL", 24*time.Hour)
	v.SetDefault("UPLOAD_CLEAN_INTERVAL", time.Hour)
	v.SetDefault("UPLOAD_MAX_BYTES", 5<<20)

	v.SetDefault("BOT_MIN_WORKERS", 1)
	v.SetDefault("BOT_MAX_WORKERS", 4)
	v.SetDefault("BOT_QUEUE_SIZE", 64)
	v.SetDefault("BOT_WORKER_IDLE", 30*time.Second)
}

// Load builds the configuration from the environment. A .env file in the working
// directory is loaded first when present; path optionally names an extra config
// file (yaml, json or env). Environment variables always win over file values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	addr := strings.TrimSpace(v.GetString("SERVER_ADDRESS"))
	if addr == "" {
		port := v.GetInt("PORT")
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %d", port)
		}
		addr = fmt.Sprintf(":%d", port)
	}

	geminiKey := v.GetString("GEMINI_API_KEY")
	if geminiKey == "" {
		geminiKey = v.GetString("GOOGLE_API_KEY")
	}
	translateKey := v.GetString("TRANSLATE_API_KEY")
	if translateKey == "" {
		translateKey = v.GetString("GOOGLE_API_KEY")
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:  addr,
			AppURL:   v.GetString("APP_URL"),
			AppTitle: v.GetString("APP_TITLE"),
			Env:      v.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{URL: v.GetString("DATABASE_URL")},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Username: v.GetString("REDIS_USERNAME"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Log: LogConfig{
			Level: strings.ToLower(v.GetString("LOG_LEVEL")),
			File:  v.GetString("LOG_FILE"),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:  v.GetString("OPENAI_API_KEY"),
				BaseURL: v.GetString("OPENAI_BASE_URL"),
				Model:   v.GetString("OPENAI_MODEL"),
			},
			Anthropic: ProviderConfig{
				APIKey:  v.GetString("ANTHROPIC_API_KEY"),
				BaseURL: v.GetString("ANTHROPIC_BASE_URL"),
				Model:   v.GetString("ANTHROPIC_MODEL"),
			},
			Gemini: ProviderConfig{
				APIKey: geminiKey,
				Model:  v.GetString("GEMINI_MODEL"),
			},
			OpenRouter: ProviderConfig{
				APIKey:  v.GetString("OPENROUTER_API_KEY"),
				BaseURL: v.GetString("OPENROUTER_BASE_URL"),
				Model:   v.GetString("OPENROUTER_MODEL"),
			},
			ElevenLabs: ProviderConfig{
				APIKey:  v.GetString("ELEVENLABS_API_KEY"),
				BaseURL: v.GetString("ELEVENLABS_BASE_URL"),
			},
			Stability: ProviderConfig{
				APIKey:  v.GetString("STABILITY_API_KEY"),
				BaseURL: v.GetString("STABILITY_BASE_URL"),
				Model:   v.GetString("STABILITY_ENGINE"),
			},
			Translate: ProviderConfig{
				APIKey:  translateKey,
				BaseURL: v.GetString("TRANSLATE_BASE_URL"),
			},
		},
		Resolver: ResolverConfig{
			Timeout:          v.GetDuration("PROVIDER_TIMEOUT"),
			OfflinePhrases:   v.GetBool("OFFLINE_PHRASES_ENABLED"),
			DefaultModel:     v.GetString("DEFAULT_MODEL"),
			TitleMaxRunes:    v.GetInt("TITLE_MAX_RUNES"),
			MaxAttempts:      v.GetInt("PROVIDER_MAX_ATTEMPTS"),
			BreakerThreshold: v.GetInt("PROVIDER_BREAKER_THRESHOLD"),
			BreakerCooldown:  v.GetDuration("PROVIDER_BREAKER_COOLDOWN"),
		},
		Uploads: UploadConfig{
			Dir:           v.GetString("UPLOAD_DIR"),
			TTL:           v.GetDuration("UPLOAD_TTL"),
			CleanInterval: v.GetDuration("UPLOAD_CLEAN_INTERVAL"),
			MaxBytes:      v.GetInt64("UPLOAD_MAX_BYTES"),
		},
		Bot: BotConfig{
			MinWorkers:  v.GetInt("BOT_MIN_WORKERS"),
			MaxWorkers:  v.GetInt("BOT_MAX_WORKERS"),
			QueueSize:   v.GetInt("BOT_QUEUE_SIZE"),
			IdleTimeout: v.GetDuration("BOT_WORKER_IDLE"),
		},
		SessionSecret: v.GetString("SESSION_SECRET"),
	}

	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL must be configured")
	}
	if cfg.Resolver.Timeout <= 0 {
		cfg.Resolver.Timeout = 30 * time.Second
	}
	if cfg.Resolver.TitleMaxRunes <= 0 {
		cfg.Resolver.TitleMaxRunes = 30
	}
	if cfg.Resolver.MaxAttempts <= 0 {
		cfg.Resolver.MaxAttempts = 1
	}
	return cfg, nil
}
