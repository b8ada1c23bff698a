package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
	DriverFailover = "failover"
)

type Config struct {
	Storage struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
		KeyPrefix  string `yaml:"key_prefix"`
	} `yaml:"storage"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Schedule ScheduleConfig `yaml:"schedule"`

	Workflow struct {
		SubmitDelayMs         int `yaml:"submit_delay_ms"`
		ConfirmationDwellMs   int `yaml:"confirmation_dwell_ms"`
		SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`
		SessionCleanupSeconds int `yaml:"session_cleanup_seconds"`
		UpcomingDefaultLimit  int `yaml:"upcoming_default_limit"`
	} `yaml:"workflow"`

	HTTP struct {
		Port            int     `yaml:"port"`
		SubmitRateLimit float64 `yaml:"submit_rate_limit"`
		SubmitBurst     int     `yaml:"submit_burst"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Backup BackupConfig `yaml:"backup"`

	Reminders ReminderConfig `yaml:"reminders"`
}

// ScheduleConfig describes the bookable business hours.
type ScheduleConfig struct {
	StartTime    string `yaml:"start_time"`
	EndTime      string `yaml:"end_time"`
	LunchStart   string `yaml:"lunch_start"`
	LunchEnd     string `yaml:"lunch_end"`
	SlotDuration int    `yaml:"slot_duration"` // minutes
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

func (b BackupConfig) Interval() time.Duration {
	if b.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(b.IntervalHours) * time.Hour
}

func (b BackupConfig) Retention() time.Duration {
	if b.RetentionDays <= 0 {
		return 14 * 24 * time.Hour
	}
	return time.Duration(b.RetentionDays) * 24 * time.Hour
}

type ReminderConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

func (r ReminderConfig) Interval() time.Duration {
	if r.IntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// Load reads the YAML config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		// Support ${ENV_VAR} placeholders in YAML config.
		data = []byte(os.ExpandEnv(string(data)))
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Driver == DriverSQLite || cfg.Storage.Driver == DriverFailover {
		if err = os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/slotbook.db"
	}
	if c.Schedule.StartTime == "" {
		c.Schedule.StartTime = "09:00"
	}
	if c.Schedule.EndTime == "" {
		c.Schedule.EndTime = "17:00"
	}
	if c.Schedule.SlotDuration <= 0 {
		c.Schedule.SlotDuration = 30
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.SubmitRateLimit <= 0 {
		c.HTTP.SubmitRateLimit = 5
	}
	if c.HTTP.SubmitBurst <= 0 {
		c.HTTP.SubmitBurst = 10
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverSQLite, DriverMemory:
	case DriverRedis, DriverFailover:
		if c.Redis.Address == "" {
			return fmt.Errorf("storage driver %q requires redis.address", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// SubmitDelay is the simulated latency before a booking is stored.
func (c *Config) SubmitDelay() time.Duration {
	if c.Workflow.SubmitDelayMs < 0 {
		return 0
	}
	if c.Workflow.SubmitDelayMs == 0 {
		return time.Second
	}
	return time.Duration(c.Workflow.SubmitDelayMs) * time.Millisecond
}

// ConfirmationDwell is how long the confirmed state is shown before resetting.
func (c *Config) ConfirmationDwell() time.Duration {
	if c.Workflow.ConfirmationDwellMs < 0 {
		return 0
	}
	if c.Workflow.ConfirmationDwellMs == 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(c.Workflow.ConfirmationDwellMs) * time.Millisecond
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Workflow.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Workflow.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) SessionCleanupInterval() time.Duration {
	if c.Workflow.SessionCleanupSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Workflow.SessionCleanupSeconds) * time.Second
}

func (c *Config) UpcomingLimit() int {
	if c.Workflow.UpcomingDefaultLimit <= 0 {
		return 3
	}
	return c.Workflow.UpcomingDefaultLimit
}
