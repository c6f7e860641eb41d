package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultConfigPath       = "config/driver.yaml"
	defaultPort             = 4002
	defaultDecisionWindowMS = 10000
	defaultTickIntervalMS   = 1000
	defaultResetDelayMS     = 3000
	defaultCallTimeoutMS    = 10000
	defaultQueueBackend     = "http"
	defaultRetentionDays    = 30
)

// Config holds runtime configuration of the driver client.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Driver struct {
		// Token is the driver's session JWT.
		Token string `yaml:"token"`
		City  string `yaml:"city"`
	} `yaml:"driver"`
	API struct {
		BaseURL string `yaml:"base_url"`
		PushURL string `yaml:"push_url"`
	} `yaml:"api"`
	Database struct {
		// Driver is mysql or pgx; an empty URL disables offer history.
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
		// RetentionDays bounds how long offer history is kept.
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Queue struct {
		// Backend selects queue membership: http (dispatch API) or redis.
		Backend string `yaml:"backend"`
	} `yaml:"queue"`
	Offer struct {
		DecisionWindowMS int      `yaml:"decision_window_ms"`
		TickIntervalMS   int      `yaml:"tick_interval_ms"`
		ResetDelayMS     int      `yaml:"reset_delay_ms"`
		CallTimeoutMS    int      `yaml:"call_timeout_ms"`
		Events           []string `yaml:"events"`
		LeaveQueue       struct {
			OnAccepted  bool `yaml:"on_accepted"`
			OnDismissed bool `yaml:"on_dismissed"`
			OnExpired   bool `yaml:"on_expired"`
			OnFailed    bool `yaml:"on_failed"`
		} `yaml:"leave_queue"`
	} `yaml:"offer"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.Port = defaultPort
	cfg.Queue.Backend = defaultQueueBackend
	cfg.Database.Driver = "mysql"
	cfg.Database.RetentionDays = defaultRetentionDays
	cfg.Offer.DecisionWindowMS = defaultDecisionWindowMS
	cfg.Offer.TickIntervalMS = defaultTickIntervalMS
	cfg.Offer.ResetDelayMS = defaultResetDelayMS
	cfg.Offer.CallTimeoutMS = defaultCallTimeoutMS
	cfg.Offer.Events = []string{"order_offer", "ride_offer"}
	cfg.Offer.LeaveQueue.OnAccepted = true
	cfg.Offer.LeaveQueue.OnDismissed = true
	return cfg
}

// Load reads the YAML file at CONFIG_PATH (or config/driver.yaml), applies
// environment overrides and validates the result. A missing file is not an
// error.
func Load() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit path.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	readString("DRIVER_TOKEN", &cfg.Driver.Token)
	readString("DRIVER_CITY", &cfg.Driver.City)
	readString("API_BASE_URL", &cfg.API.BaseURL)
	readString("PUSH_URL", &cfg.API.PushURL)
	readString("DATABASE_DRIVER", &cfg.Database.Driver)
	readString("DATABASE_URL", &cfg.Database.URL)
	readString("REDIS_ADDR", &cfg.Redis.Addr)
	readString("REDIS_PASSWORD", &cfg.Redis.Password)
	readString("QUEUE_BACKEND", &cfg.Queue.Backend)
	if v := os.Getenv("OFFER_EVENTS"); v != "" {
		cfg.Offer.Events = splitList(v)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"PORT", &cfg.Server.Port},
		{"REDIS_DB", &cfg.Redis.DB},
		{"HISTORY_RETENTION_DAYS", &cfg.Database.RetentionDays},
		{"DECISION_WINDOW_MS", &cfg.Offer.DecisionWindowMS},
		{"TICK_INTERVAL_MS", &cfg.Offer.TickIntervalMS},
		{"RESET_DELAY_MS", &cfg.Offer.ResetDelayMS},
		{"CALL_TIMEOUT_MS", &cfg.Offer.CallTimeoutMS},
	}
	for _, it := range ints {
		if v, err := readIntEnv(it.name); err != nil {
			return fmt.Errorf("parse %s: %w", it.name, err)
		} else if v != nil {
			*it.dst = *v
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"LEAVE_QUEUE_ON_ACCEPT", &cfg.Offer.LeaveQueue.OnAccepted},
		{"LEAVE_QUEUE_ON_DISMISS", &cfg.Offer.LeaveQueue.OnDismissed},
		{"LEAVE_QUEUE_ON_EXPIRE", &cfg.Offer.LeaveQueue.OnExpired},
		{"LEAVE_QUEUE_ON_FAIL", &cfg.Offer.LeaveQueue.OnFailed},
	}
	for _, it := range bools {
		if v := os.Getenv(it.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", it.name, err)
			}
			*it.dst = b
		}
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.Driver.Token == "" {
		return fmt.Errorf("DRIVER_TOKEN is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.API.PushURL == "" {
		return fmt.Errorf("PUSH_URL is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Offer.DecisionWindowMS <= 0 || c.Offer.TickIntervalMS <= 0 || c.Offer.ResetDelayMS <= 0 || c.Offer.CallTimeoutMS <= 0 {
		return fmt.Errorf("offer timings must be positive")
	}
	if c.Offer.TickIntervalMS > c.Offer.DecisionWindowMS {
		return fmt.Errorf("TICK_INTERVAL_MS must be <= DECISION_WINDOW_MS")
	}
	if c.Database.RetentionDays <= 0 {
		return fmt.Errorf("HISTORY_RETENTION_DAYS must be positive")
	}
	if len(c.Offer.Events) == 0 {
		return fmt.Errorf("at least one offer event is required")
	}
	switch c.Queue.Backend {
	case "http":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis queue backend")
		}
		if c.Driver.City == "" {
			return fmt.Errorf("DRIVER_CITY is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Database.URL != "" && c.Database.Driver != "mysql" && c.Database.Driver != "pgx" {
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// Duration converts a millisecond setting.
func Duration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func readString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
