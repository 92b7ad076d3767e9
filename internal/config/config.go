package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for Pilltick
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Alarm     AlarmConfig     `mapstructure:"alarm"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	RateLimit    int    `mapstructure:"rate_limit"` // requests per second per client, 0 = unlimited
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// AlarmConfig holds alarm engine settings
type AlarmConfig struct {
	PollIntervalSeconds   int `mapstructure:"poll_interval_seconds"`
	RepeatIntervalSeconds int `mapstructure:"repeat_interval_seconds"`
	DefaultSnoozeMinutes  int `mapstructure:"default_snooze_minutes"`
}

// ChannelsConfig holds alert channel settings
type ChannelsConfig struct {
	Audio    AudioConfig    `mapstructure:"audio"`
	Pushover PushoverConfig `mapstructure:"pushover"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// AudioConfig holds audio channel settings
type AudioConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Player  string `mapstructure:"player"` // empty = autodetect
}

// PushoverConfig holds Pushover channel settings
type PushoverConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	AppToken string `mapstructure:"app_token"`
	UserKey  string `mapstructure:"user_key"`
}

// TelegramConfig holds Telegram channel settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// AssistantConfig holds AI assistant settings
type AssistantConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	Timeout   int    `mapstructure:"timeout"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// JobsConfig holds scheduled job settings
type JobsConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SummaryTime   string `mapstructure:"summary_time"`   // HH:MM local time
	SweepSchedule string `mapstructure:"sweep_schedule"` // cron spec
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "pilltick.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "pilltick.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (PILLTICK_SERVER_PORT, PILLTICK_AUTH_JWT_SECRET, etc.)
	v.SetEnvPrefix("PILLTICK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Watch reloads the config file on change and invokes onChange with the
// freshly parsed config. Reload errors keep the previous config in effect.
func Watch(configPath, dataDir string, onChange func(*Config)) (*viper.Viper, error) {
	v := viper.New()
	if configPath == "" {
		configPath = filepath.Join(dataDir, "pilltick.yaml")
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := Load(configPath, dataDir)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()

	return v, nil
}

// WriteDefault writes a starter config file if none exists yet.
func WriteDefault(configPath string, cfg *Config) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	out := map[string]interface{}{
		"server": map[string]interface{}{
			"address": cfg.Server.Address,
			"port":    cfg.Server.Port,
		},
		"alarm": map[string]interface{}{
			"poll_interval_seconds":   cfg.Alarm.PollIntervalSeconds,
			"repeat_interval_seconds": cfg.Alarm.RepeatIntervalSeconds,
			"default_snooze_minutes":  cfg.Alarm.DefaultSnoozeMinutes,
		},
		"channels": map[string]interface{}{
			"audio":    map[string]interface{}{"enabled": cfg.Channels.Audio.Enabled},
			"pushover": map[string]interface{}{"enabled": false},
			"telegram": map[string]interface{}{"enabled": false},
		},
		"jobs": map[string]interface{}{
			"enabled":      cfg.Jobs.Enabled,
			"summary_time": cfg.Jobs.SummaryTime,
		},
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 8390)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.rate_limit", 20)

	// Auth defaults
	v.SetDefault("auth.token_ttl_hours", 720)

	// Alarm defaults
	v.SetDefault("alarm.poll_interval_seconds", 60)
	v.SetDefault("alarm.repeat_interval_seconds", 30)
	v.SetDefault("alarm.default_snooze_minutes", 5)

	// Channel defaults
	v.SetDefault("channels.audio.enabled", true)
	v.SetDefault("channels.pushover.enabled", false)
	v.SetDefault("channels.telegram.enabled", false)

	// Assistant defaults
	v.SetDefault("assistant.enabled", false)
	v.SetDefault("assistant.base_url", "https://api.openai.com/v1")
	v.SetDefault("assistant.model", "gpt-4o-mini")
	v.SetDefault("assistant.timeout", 60)
	v.SetDefault("assistant.max_tokens", 1024)

	// Job defaults
	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.summary_time", "07:30")
	v.SetDefault("jobs.sweep_schedule", "5 0 * * *")
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pilltick")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "pilltick")
}

// loadEnvOverrides loads specific env vars that Viper doesn't handle well once
// the struct has been unmarshalled.
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.Server.Address = getEnv("PILLTICK_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("PILLTICK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Auth.JWTSecret = getEnv("PILLTICK_AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Assistant.APIKey = getEnv("PILLTICK_ASSISTANT_API_KEY", cfg.Assistant.APIKey)
	cfg.Channels.Pushover.AppToken = getEnv("PILLTICK_CHANNELS_PUSHOVER_APP_TOKEN", cfg.Channels.Pushover.AppToken)
	cfg.Channels.Pushover.UserKey = getEnv("PILLTICK_CHANNELS_PUSHOVER_USER_KEY", cfg.Channels.Pushover.UserKey)
	cfg.Channels.Telegram.BotToken = getEnv("PILLTICK_CHANNELS_TELEGRAM_BOT_TOKEN", cfg.Channels.Telegram.BotToken)
}

func validate(cfg *Config) error {
	if cfg.Alarm.PollIntervalSeconds <= 0 {
		return fmt.Errorf("alarm.poll_interval_seconds must be positive")
	}
	if cfg.Alarm.RepeatIntervalSeconds <= 0 {
		return fmt.Errorf("alarm.repeat_interval_seconds must be positive")
	}
	if cfg.Alarm.DefaultSnoozeMinutes <= 0 {
		return fmt.Errorf("alarm.default_snooze_minutes must be positive")
	}
	if cfg.Channels.Pushover.Enabled && (cfg.Channels.Pushover.AppToken == "" || cfg.Channels.Pushover.UserKey == "") {
		return fmt.Errorf("pushover channel enabled but app_token/user_key missing")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("telegram channel enabled but bot_token missing")
	}
	if cfg.Assistant.Enabled && cfg.Assistant.APIKey == "" {
		return fmt.Errorf("assistant enabled but api_key missing")
	}
	return nil
}
