package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Data      DataConfig      `json:"data"`
	Bot       BotConfig       `json:"bot"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Backup    BackupConfig    `json:"backup,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminChatID gates /mail, /stat, /db and the broadcast conversation.
	AdminChatID int64 `json:"admin_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type DataConfig struct {
	// Dir holds the bot resources: <dir>/json/*.json and <dir>/images/*.
	Dir string `json:"dir"`
	// DBPath is the sqlite database file. Default: <dir>/bot.db.
	DBPath string `json:"db_path,omitempty"`
	// Timezone fixes the calendar period for statistics (IANA name).
	Timezone string `json:"timezone,omitempty"`
}

type BotConfig struct {
	// DefaultAnswer is sent in reply to plain messages that match no flow.
	// Empty disables the reply.
	DefaultAnswer string `json:"default_answer,omitempty"`
	// BackExclusions are menu-key suffixes that never get a synthesized
	// back button. Default: start, broadcast, stat.
	BackExclusions []string `json:"back_exclusions,omitempty"`
}

// BroadcastConfig controls the fan-out. Concurrency bounds in-flight
// deliveries; RatePerSec throttles the aggregate send rate (0 disables).
type BroadcastConfig struct {
	Concurrency int `json:"concurrency,omitempty"`
	RatePerSec  int `json:"rate_per_sec,omitempty"`
}

// BackupConfig controls the scheduled sqlite snapshot.
type BackupConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "0 3 * * *"
	Dir      string `json:"dir,omitempty"`      // default: <data.dir>/backups
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if c.Data.Dir == "" {
		c.Data.Dir = "./data"
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = c.Data.Dir + "/bot.db"
	}
	if c.Data.Timezone == "" {
		c.Data.Timezone = "Asia/Irkutsk"
	}
	if len(c.Bot.BackExclusions) == 0 {
		c.Bot.BackExclusions = []string{"start", "broadcast", "stat"}
	}
	if c.Broadcast.Concurrency <= 0 {
		c.Broadcast.Concurrency = 20
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = c.Data.Dir + "/backups"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnv lets the environment override secrets and ids so the config file
// can be committed without them.
func (c *Config) applyEnv() {
	if v := os.Getenv("MENUBOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("BOT_TOKEN"); v != "" && c.Telegram.Token == "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("MENUBOT_ADMIN_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Telegram.AdminChatID = id
		}
	}
	if v := os.Getenv("MENUBOT_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required (or MENUBOT_TOKEN env)")
	}
	if c.Broadcast.Concurrency < 0 {
		return errors.New("broadcast.concurrency must be >= 0")
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Data.Timezone); err != nil {
		return fmt.Errorf("data.timezone: %w", err)
	}
	return nil
}

func (c *Config) PollTimeout() (time.Duration, error) {
	s := strings.TrimSpace(c.Telegram.PollTimeout)
	if s == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("telegram.poll_timeout: %w", err)
	}
	return d, nil
}

// Location resolves the configured statistics timezone.
// Validate() has already checked it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Data.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
