package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Neople   NeopleConfig   `json:"neople"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Watch    WatchConfig    `json:"watch,omitempty"`
	Schedule ScheduleConfig `json:"schedule,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
}

type NeopleConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	// Timeout is a Go duration string (e.g. "10s").
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`

	// TimelineCodes overrides the event-type filter sent to the timeline
	// endpoint (comma-separated codes).
	TimelineCodes string `json:"timeline_codes,omitempty"`
	TimelineLimit int    `json:"timeline_limit,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WatchConfig controls filtering and fetch concurrency.
//
// All durations are Go duration strings (e.g. "30s", "2m", "7h").
//
// Defaults (when fields are omitted/zero):
//   - target_level: 115
//   - rarities: ["에픽", "태초"]
//   - weights: {"태초": 3, "에픽": 2, "레전더리": 1}
//   - lookback: "30m"
//   - fetch_concurrency: 4, item_concurrency: 2
//   - notify retry: "15s" interval, "90s" ceiling
//   - daily retry: "1m" interval, "7h" ceiling
type WatchConfig struct {
	TargetLevel int            `json:"target_level,omitempty"`
	Rarities    []string       `json:"rarities,omitempty"`
	Weights     map[string]int `json:"weights,omitempty"`
	Lookback    string         `json:"lookback,omitempty"`

	FetchConcurrency int `json:"fetch_concurrency,omitempty"`
	ItemConcurrency  int `json:"item_concurrency,omitempty"`

	NotifyRetryInterval string `json:"notify_retry_interval,omitempty"`
	NotifyRetryCeiling  string `json:"notify_retry_ceiling,omitempty"`
	DailyRetryInterval  string `json:"daily_retry_interval,omitempty"`
	DailyRetryCeiling   string `json:"daily_retry_ceiling,omitempty"`
}

// ScheduleConfig controls the two cycles.
type ScheduleConfig struct {
	// NotifyEvery is a Go duration string; default "2m".
	NotifyEvery string `json:"notify_every,omitempty"`
	// DailyAt is "HH:MM" in KST; default "06:00".
	DailyAt string `json:"daily_at,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "path": "./data/dfobot.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// PprofConfig controls the optional debug/profiling listener.
type PprofConfig struct {
	Enabled       bool   `json:"enabled,omitempty"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Validate checks the parts that would otherwise only fail deep inside a
// service at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Neople.APIKey) == "" {
		return errors.New("neople.api_key is required")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	durations := map[string]string{
		"neople.timeout":              c.Neople.Timeout,
		"watch.lookback":              c.Watch.Lookback,
		"watch.notify_retry_interval": c.Watch.NotifyRetryInterval,
		"watch.notify_retry_ceiling":  c.Watch.NotifyRetryCeiling,
		"watch.daily_retry_interval":  c.Watch.DailyRetryInterval,
		"watch.daily_retry_ceiling":   c.Watch.DailyRetryCeiling,
		"schedule.notify_every":       c.Schedule.NotifyEvery,
		"storage.busy_timeout":        c.Storage.BusyTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	for rarity, weight := range c.Watch.Weights {
		if weight < 0 {
			return fmt.Errorf("watch.weights[%s]: weight must be >= 0", rarity)
		}
	}
	return nil
}
