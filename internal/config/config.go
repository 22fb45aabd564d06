package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultResyncIntervalMinutes = 5
	DefaultMessagePageSize       = 50
)

// BackendConfig points the client at the hosted PaceClub backend.
type BackendConfig struct {
	BaseURL     string `json:"base_url"`
	RealtimeURL string `json:"realtime_url"`
	AuthToken   string `json:"auth_token"`
}

// SessionConfig identifies the signed-in user. Authentication itself is
// handled outside this client; the core only needs the resulting ids.
type SessionConfig struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// SyncConfig tunes resync cadence and fetch sizes.
type SyncConfig struct {
	ResyncIntervalMinutes int `json:"resync_interval_minutes"`
	MessagePageSize       int `json:"message_page_size"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// NotificationEventsConfig stores per-event notification toggles.
type NotificationEventsConfig struct {
	IncomingMessage bool `json:"incoming_message"`
	ReadFailure     bool `json:"read_failure"`
	SendFailure     bool `json:"send_failure"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	NotifyWhenFocused bool                     `json:"notify_when_focused"`
	Events            NotificationEventsConfig `json:"events"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Backend       BackendConfig      `json:"backend"`
	Session       SessionConfig      `json:"session"`
	Sync          SyncConfig         `json:"sync"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Backend: BackendConfig{},
		Session: SessionConfig{},
		Sync: SyncConfig{
			ResyncIntervalMinutes: DefaultResyncIntervalMinutes,
			MessagePageSize:       DefaultMessagePageSize,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			NotifyWhenFocused: false,
			Events: NotificationEventsConfig{
				IncomingMessage: true,
				ReadFailure:     true,
				SendFailure:     true,
			},
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Sync.ResyncIntervalMinutes <= 0 {
		c.Sync.ResyncIntervalMinutes = DefaultResyncIntervalMinutes
	}
	if c.Sync.MessagePageSize <= 0 {
		c.Sync.MessagePageSize = DefaultMessagePageSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend base url is required")
	}
	if strings.TrimSpace(c.Backend.RealtimeURL) == "" {
		return errors.New("backend realtime url is required")
	}
	if strings.TrimSpace(c.Session.UserID) == "" {
		return errors.New("session user id is required")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
