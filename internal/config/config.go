package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Site struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"site"`
	Queue struct {
		RedisAddr        string `yaml:"redis_addr"`
		RedisPassword    string `yaml:"redis_password"`
		RedisDB          int    `yaml:"redis_db"`
		Stream           string `yaml:"stream"`
		DLQStream        string `yaml:"dlq_stream"`
		Group            string `yaml:"group"`
		Consumer         string `yaml:"consumer"`
		BlockSeconds     int    `yaml:"block_seconds"`
		ClaimIdleSeconds int    `yaml:"claim_idle_seconds"`
	} `yaml:"queue"`
	Workers struct {
		Count             int  `yaml:"count"`
		DelaySeconds      int  `yaml:"delay_seconds"`
		DryRunDefault     bool `yaml:"dry_run_default"`
		PersistRetries    int  `yaml:"persist_retries"`
		PersistBackoffMs  int  `yaml:"persist_backoff_ms"`
		JobTimeoutSeconds int  `yaml:"job_timeout_seconds"`
	} `yaml:"workers"`
	Limits struct {
		MaxConnectionsPerDay int `yaml:"max_connections_per_day"`
		// ActiveStart and ActiveEnd bound the daily window ("15:04") in which
		// workers take jobs. Leave either empty to run around the clock.
		ActiveStart string `yaml:"active_start"`
		ActiveEnd   string `yaml:"active_end"`
	} `yaml:"limits"`
	Browser struct {
		Headless               bool   `yaml:"headless"`
		BinPath                string `yaml:"bin_path"`
		CookiesPath            string `yaml:"cookies_path"`
		PageTimeoutSeconds     int    `yaml:"page_timeout_seconds"`
		ComposerTimeoutSeconds int    `yaml:"composer_timeout_seconds"`
		MenuTimeoutSeconds     int    `yaml:"menu_timeout_seconds"`
	} `yaml:"browser"`
	Store struct {
		DatabaseURL string `yaml:"database_url"`
		SQLitePath  string `yaml:"sqlite_path"`
	} `yaml:"store"`
	Audit struct {
		Dir string `yaml:"dir"`
	} `yaml:"audit"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// ackAllowance matches worker.AckTimeout.
const ackAllowance = 10 * time.Second

func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional
	cfg := Default()
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Default() Config {
	var cfg Config
	cfg.Site.BaseURL = "https://www.linkedin.com/"
	cfg.Queue.Stream = "outreach_queue"
	cfg.Queue.DLQStream = "outreach_queue_dlq"
	cfg.Queue.Group = "outreach_workers"
	cfg.Queue.Consumer = "outreachd"
	cfg.Queue.BlockSeconds = 5
	cfg.Queue.ClaimIdleSeconds = 900
	cfg.Workers.Count = 1
	cfg.Workers.DelaySeconds = 180
	cfg.Workers.DryRunDefault = true
	cfg.Workers.PersistRetries = 3
	cfg.Workers.PersistBackoffMs = 500
	cfg.Workers.JobTimeoutSeconds = 300
	cfg.Limits.MaxConnectionsPerDay = 20
	cfg.Browser.Headless = true
	cfg.Browser.CookiesPath = ".cache/cookies.json"
	cfg.Browser.PageTimeoutSeconds = 20
	cfg.Browser.ComposerTimeoutSeconds = 10
	cfg.Browser.MenuTimeoutSeconds = 5
	cfg.Store.SQLitePath = "outreach.db"
	cfg.Audit.Dir = "data/output/outreach_screenshots"
	cfg.Logging.Level = "info"
	return cfg
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OUTREACH_REDIS_ADDR"); v != "" {
		cfg.Queue.RedisAddr = v
	}
	if v := os.Getenv("OUTREACH_REDIS_PASSWORD"); v != "" {
		cfg.Queue.RedisPassword = v
	}
	if v := os.Getenv("OUTREACH_QUEUE"); v != "" {
		cfg.Queue.Stream = v
		cfg.Queue.DLQStream = v + "_dlq"
	}
	if v := os.Getenv("OUTREACH_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OUTREACH_WORKERS: %w", err)
		}
		cfg.Workers.Count = n
	}
	if v := os.Getenv("OUTREACH_JOB_DELAY_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OUTREACH_JOB_DELAY_SECONDS: %w", err)
		}
		cfg.Workers.DelaySeconds = n
	}
	if v := os.Getenv("OUTREACH_DRY_RUN_DEFAULT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OUTREACH_DRY_RUN_DEFAULT: %w", err)
		}
		cfg.Workers.DryRunDefault = b
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("OUTREACH_DB_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("OUTREACH_AUDIT_DIR"); v != "" {
		cfg.Audit.Dir = v
	}
	if v := os.Getenv("OUTREACH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OUTREACH_HEADLESS"); v != "" {
		cfg.Browser.Headless = v == "1" || strings.EqualFold(v, "true")
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return errors.New("site.base_url is required")
	}
	if !strings.HasSuffix(c.Site.BaseURL, "/") {
		c.Site.BaseURL += "/"
	}
	if c.Queue.Stream == "" {
		return errors.New("queue.stream is required")
	}
	if c.Queue.Group == "" {
		return errors.New("queue.group is required")
	}
	if c.Queue.BlockSeconds <= 0 {
		return errors.New("queue.block_seconds must be > 0")
	}
	if c.Workers.Count <= 0 {
		return errors.New("workers.count must be > 0")
	}
	if c.Workers.DelaySeconds < 0 {
		return errors.New("workers.delay_seconds must be >= 0")
	}
	if c.Workers.PersistRetries <= 0 {
		return errors.New("workers.persist_retries must be > 0")
	}
	if c.Workers.JobTimeoutSeconds <= 0 {
		return errors.New("workers.job_timeout_seconds must be > 0")
	}
	if c.ClaimIdle() <= c.JobBudget() {
		return fmt.Errorf("queue.claim_idle_seconds must exceed %s (job timeout, persistence retries and ack)", c.JobBudget())
	}
	if c.Limits.MaxConnectionsPerDay <= 0 {
		return errors.New("limits.max_connections_per_day must be > 0")
	}
	for _, v := range []string{c.Limits.ActiveStart, c.Limits.ActiveEnd} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("limits active window %q: %w", v, err)
		}
	}
	if c.Browser.PageTimeoutSeconds <= 0 {
		return errors.New("browser.page_timeout_seconds must be > 0")
	}
	if c.Store.DatabaseURL == "" && c.Store.SQLitePath == "" {
		return errors.New("store.database_url or store.sqlite_path is required")
	}
	if c.Audit.Dir == "" {
		return errors.New("audit.dir is required")
	}
	return nil
}

func (c *Config) JobDelay() time.Duration {
	return time.Duration(c.Workers.DelaySeconds) * time.Second
}

func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Workers.JobTimeoutSeconds) * time.Second
}

// JobBudget is the longest a worker can hold a received message: the job
// timeout, the linear persistence backoff between retries and the ack.
func (c *Config) JobBudget() time.Duration {
	n := c.Workers.PersistRetries
	backoff := c.PersistBackoff() * time.Duration(n*(n-1)/2)
	return c.JobTimeout() + backoff + ackAllowance
}

func (c *Config) PersistBackoff() time.Duration {
	return time.Duration(c.Workers.PersistBackoffMs) * time.Millisecond
}

func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.Browser.PageTimeoutSeconds) * time.Second
}

func (c *Config) ComposerTimeout() time.Duration {
	return time.Duration(c.Browser.ComposerTimeoutSeconds) * time.Second
}

func (c *Config) MenuTimeout() time.Duration {
	return time.Duration(c.Browser.MenuTimeoutSeconds) * time.Second
}

func (c *Config) QueueBlock() time.Duration {
	return time.Duration(c.Queue.BlockSeconds) * time.Second
}

func (c *Config) ClaimIdle() time.Duration {
	return time.Duration(c.Queue.ClaimIdleSeconds) * time.Second
}
