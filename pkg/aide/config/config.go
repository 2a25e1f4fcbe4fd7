// Package config loads and resolves the aide configuration: YAML file,
// .env overlay, environment expansion, and OS-keyring secret resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avaraes/aide/pkg/aide/autoreply"
	"github.com/avaraes/aide/pkg/aide/llm"
	"github.com/avaraes/aide/pkg/aide/tts"
)

// Config is the root configuration.
type Config struct {
	// DataDir holds the database and session files. Defaults to ~/.aide.
	DataDir string `yaml:"data_dir"`

	// Timezone for the auto-reply business-hours window. Defaults to the
	// system local zone.
	Timezone string `yaml:"timezone"`

	Logging  LoggingConfig  `yaml:"logging"`
	LLM      llm.Config     `yaml:"llm"`
	TTS      tts.Config     `yaml:"tts"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Sync     SyncConfig     `yaml:"sync"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// WhatsAppConfig is the WhatsApp connector section.
type WhatsAppConfig struct {
	Enabled    bool               `yaml:"enabled"`
	DeviceName string             `yaml:"device_name"`
	AutoReply  autoreply.Settings `yaml:"auto_reply"`
}

// TelegramConfig is the Telegram connector section. APIID/APIHash come from
// https://my.telegram.org and identify the application, not the user.
type TelegramConfig struct {
	Enabled   bool               `yaml:"enabled"`
	APIID     int                `yaml:"api_id"`
	APIHash   string             `yaml:"api_hash"`
	AutoReply autoreply.Settings `yaml:"auto_reply"`
}

// SyncConfig controls the periodic chat refresh.
type SyncConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression. Defaults to every 15 minutes.
	Schedule string `yaml:"schedule"`

	// ChatLimit caps how many chats each refresh pulls.
	ChatLimit int `yaml:"chat_limit"`
}

// Default returns the configuration defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".aide"),
		Logging: LoggingConfig{Level: "info", Format: "text"},
		LLM:     llm.Config{Model: "gpt-4o-mini"},
		WhatsApp: WhatsAppConfig{
			Enabled:    true,
			DeviceName: "Aide",
			AutoReply:  defaultAutoReply(),
		},
		Telegram: TelegramConfig{
			AutoReply: defaultAutoReply(),
		},
		Sync: SyncConfig{
			Enabled:   true,
			Schedule:  "@every 15m",
			ChatLimit: 50,
		},
	}
}

func defaultAutoReply() autoreply.Settings {
	return autoreply.Settings{
		BusinessHoursStart: "09:00",
		BusinessHoursEnd:   "18:00",
	}
}

// DatabasePath returns the aide.db location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "aide.db")
}

// SessionsDir returns the per-platform session root.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks cross-field constraints that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Telegram.Enabled && (c.Telegram.APIID == 0 || c.Telegram.APIHash == "") {
		return fmt.Errorf("telegram enabled but api_id/api_hash missing")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
