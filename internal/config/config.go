package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds everything the scheduler, store, router, and API need to
// start. Static defaults come from config/config.yaml; secrets and
// per-deployment knobs are overlaid from the environment, the same
// two-step load the teacher's config.Load uses.
type Config struct {
	Env string `mapstructure:"env"`

	DataDir string `mapstructure:"data_dir"`

	DefaultTimezone string `mapstructure:"default_timezone"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	API       APIConfig       `mapstructure:"api"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxBatch        int           `mapstructure:"max_batch"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxCrashWindow  time.Duration `mapstructure:"max_crash_window"`
}

type NotifyConfig struct {
	NtfyTopic     string `mapstructure:"ntfy_topic"`
	NtfyBaseURL   string `mapstructure:"ntfy_base_url"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	DryRun        bool   `mapstructure:"dry_run"`
}

type APIConfig struct {
	Addr        string `mapstructure:"addr"`
	ActionToken string `mapstructure:"action_token"`
}

type LedgerConfig struct {
	UndoWindow time.Duration `mapstructure:"undo_window"`
	DraftTTL   time.Duration `mapstructure:"draft_ttl"`
}

// Load reads config/config.yaml for static defaults, then overlays the
// environment variables from spec.md §6, mirroring the teacher's
// godotenv.Load + viper.Unmarshal + os.Getenv overlay pattern.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")

	v.SetDefault("env", "development")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("default_timezone", "America/Chicago")
	v.SetDefault("scheduler.poll_interval", 5*time.Second)
	v.SetDefault("scheduler.max_batch", 100)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.max_crash_window", 5*time.Minute)
	v.SetDefault("notify.ntfy_base_url", "https://ntfy.sh")
	v.SetDefault("notify.dry_run", false)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("ledger.undo_window", 30*time.Minute)
	v.SetDefault("ledger.draft_ttl", 10*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	overlayEnv(&cfg)

	return &cfg, nil
}

// overlayEnv applies the env-var table from spec.md §6 on top of whatever
// config/config.yaml set, exactly where the teacher overlays
// TELEGRAM_API_TOKEN/DB_USER/DB_PASSWORD after unmarshalling.
func overlayEnv(cfg *Config) {
	if v := os.Getenv("NTFY_TOPIC"); v != "" {
		cfg.Notify.NtfyTopic = v
	}
	if v := os.Getenv("NTFY_BASE_URL"); v != "" {
		cfg.Notify.NtfyBaseURL = v
	}
	if v := os.Getenv("PUBLIC_BASE_URL"); v != "" {
		cfg.Notify.PublicBaseURL = v
	}
	if v := os.Getenv("ACTION_TOKEN"); v != "" {
		cfg.API.ActionToken = v
	}
	if v := os.Getenv("DEFAULT_TIMEZONE"); v != "" {
		cfg.DefaultTimezone = v
	}
	if v := os.Getenv("SCHEDULER_POLL_SEC"); v != "" {
		if n, err := parseSeconds(v); err == nil {
			cfg.Scheduler.PollInterval = n
		}
	}
	if v := os.Getenv("SCHEDULER_MAX_BATCH"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Scheduler.MaxBatch = n
		}
	}
	if v := os.Getenv("SCHEDULER_MAX_ATTEMPTS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Scheduler.MaxAttempts = n
		}
	}
	if v := os.Getenv("NOTIFY_DRY_RUN"); v != "" {
		cfg.Notify.DryRun = v == "1"
	}
	if v := os.Getenv("UNDO_WINDOW_SEC"); v != "" {
		if n, err := parseSeconds(v); err == nil {
			cfg.Ledger.UndoWindow = n
		}
	}
	if v := os.Getenv("DRAFT_TTL_SEC"); v != "" {
		if n, err := parseSeconds(v); err == nil {
			cfg.Ledger.DraftTTL = n
		}
	}
}

func parseSeconds(s string) (time.Duration, error) {
	n, err := parseInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
