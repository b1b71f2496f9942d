package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot     BotConfig     `mapstructure:"bot"`
	Group   GroupConfig   `mapstructure:"group"`
	Token   TokenConfig   `mapstructure:"token"`
	CLI     CLIConfig     `mapstructure:"cli"`
	Server  ServerConfig  `mapstructure:"server"`
	State   StateConfig   `mapstructure:"state"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type BotConfig struct {
	Token          string `mapstructure:"token"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSec     int    `mapstructure:"timeout_sec"`
	RetryCount     int    `mapstructure:"retry_count"`
	RetryDelaySec  int    `mapstructure:"retry_delay_sec"`
	RatePerSecond  int    `mapstructure:"rate_per_second"`
	PollTimeoutSec int    `mapstructure:"poll_timeout_sec"`
	AnnounceChatID int64  `mapstructure:"announce_chat_id"`
}

type GroupConfig struct {
	ID          int64  `mapstructure:"id"`
	Kind        string `mapstructure:"kind"`
	TitlePrefix string `mapstructure:"title_prefix"`
	PageSize    int    `mapstructure:"page_size"`
}

type TokenConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	ExpireSec     int    `mapstructure:"expire_sec"`
	GCIntervalSec int    `mapstructure:"gc_interval_sec"`
}

type CLIConfig struct {
	Addr       string `mapstructure:"addr"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
	BaseURL   string `mapstructure:"base_url"`
}

type StateConfig struct {
	File string `mapstructure:"file"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("bot.base_url", "https://api.telegram.org")
	v.SetDefault("bot.timeout_sec", 45)
	v.SetDefault("bot.retry_count", 2)
	v.SetDefault("bot.retry_delay_sec", 2)
	v.SetDefault("bot.rate_per_second", 25)
	v.SetDefault("bot.poll_timeout_sec", 10)
	v.SetDefault("group.kind", "channel")
	v.SetDefault("group.page_size", 100)
	v.SetDefault("token.expire_sec", 600)
	v.SetDefault("token.gc_interval_sec", 600)
	v.SetDefault("cli.addr", "ws://127.0.0.1:1337/events")
	v.SetDefault("cli.timeout_sec", 30)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_dir", "./static")
	v.SetDefault("state.file", "state.json")
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("TITLEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The two secrets are usually injected from the environment.
	_ = v.BindEnv("bot.token", "TITLEBOT_BOT_TOKEN")
	_ = v.BindEnv("token.secret_key", "TITLEBOT_SECRET_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot token is required (set TITLEBOT_BOT_TOKEN env var)")
	}
	if c.Token.SecretKey == "" {
		return fmt.Errorf("secret key is required (set TITLEBOT_SECRET_KEY env var)")
	}
	if c.Group.ID == 0 {
		return fmt.Errorf("group.id is required")
	}
	if c.Group.Kind != "channel" && c.Group.Kind != "chat" {
		return fmt.Errorf("invalid group.kind: %s (must be 'channel' or 'chat')", c.Group.Kind)
	}
	if c.Bot.AnnounceChatID == 0 {
		return fmt.Errorf("bot.announce_chat_id is required")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Group.PageSize < 1 {
		return fmt.Errorf("group.page_size must be >= 1")
	}
	if c.Token.ExpireSec < 1 {
		return fmt.Errorf("token.expire_sec must be >= 1")
	}
	return nil
}

func (c *BotConfig) Timeout() time.Duration     { return time.Duration(c.TimeoutSec) * time.Second }
func (c *BotConfig) RetryDelay() time.Duration  { return time.Duration(c.RetryDelaySec) * time.Second }
func (c *BotConfig) PollTimeout() time.Duration { return time.Duration(c.PollTimeoutSec) * time.Second }

func (c *TokenConfig) Expire() time.Duration { return time.Duration(c.ExpireSec) * time.Second }

// GCInterval of zero disables the periodic sweep; the startup sweep
// always runs.
func (c *TokenConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSec) * time.Second
}

func (c *CLIConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }
