// Package config loads milo's settings from viper and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/milo/internal/common"
	"github.com/Veraticus/milo/internal/llm"
	"github.com/Veraticus/milo/internal/service"
)

// Config is the typed view of all settings.
type Config struct {
	Database DatabaseConfig
	Discord  DiscordConfig
	Logging  LoggingConfig
	Server   ServerConfig
	Ledger   LedgerConfig
	LLM      llm.Config
	Backlog  BacklogConfig
	Backup   BackupConfig
}

// DatabaseConfig locates the ledger.
type DatabaseConfig struct {
	Path string
}

// LedgerConfig holds ledger policy.
type LedgerConfig struct {
	Scope service.CheckpointScope
}

// DiscordConfig holds transport credentials and routing.
type DiscordConfig struct {
	Token         string
	ApplicationID string
	ChannelID     string
	AdminUserID   string
	APIBase       string
	GatewayURL    string
}

// BacklogConfig paces catch-up runs.
type BacklogConfig struct {
	Interval   time.Duration
	PageSize   int
	ChunkSize  int
	ChunkPause time.Duration
}

// BackupConfig schedules ledger snapshots. A zero interval disables them.
type BackupConfig struct {
	Interval time.Duration
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string
	Format string
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "~/.local/share/milo/receipts.db")
	v.SetDefault("ledger.scope", string(service.ScopePerChannel))

	v.SetDefault("discord.api_base", "https://discord.com/api/v10")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.timeout", 20*time.Second)
	v.SetDefault("llm.retry_delay", 2*time.Second)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.rate_limit", 0)
	v.SetDefault("llm.cache_ttl", time.Hour)
	v.SetDefault("llm.max_image_width", 1024)

	v.SetDefault("backlog.interval", 5*time.Minute)
	v.SetDefault("backlog.page_size", 50)
	v.SetDefault("backlog.chunk_size", 20)
	v.SetDefault("backlog.chunk_pause", 2*time.Second)

	v.SetDefault("backup.interval", 0)

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom builds a Config from v. Values in v win over the well-known
// environment variables, except DB_PATH which overrides database.path.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	scope, err := service.ParseCheckpointScope(v.GetString("ledger.scope"))
	if err != nil {
		return nil, fmt.Errorf("%w: ledger.scope: %w", common.ErrInvalidConfig, err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path: firstNonEmpty(os.Getenv("DB_PATH"), v.GetString("database.path")),
		},
		Ledger: LedgerConfig{Scope: scope},
		Discord: DiscordConfig{
			Token:         firstNonEmpty(v.GetString("discord.token"), os.Getenv("DISCORD_BOT_TOKEN")),
			ApplicationID: firstNonEmpty(v.GetString("discord.application_id"), os.Getenv("DISCORD_APPLICATION_ID")),
			ChannelID:     firstNonEmpty(v.GetString("discord.channel_id"), os.Getenv("DISCORD_CHANNEL_ID")),
			AdminUserID:   firstNonEmpty(v.GetString("discord.admin_user_id"), os.Getenv("DISCORD_ADMIN_USER_ID")),
			APIBase:       v.GetString("discord.api_base"),
			GatewayURL:    v.GetString("discord.gateway_url"),
		},
		LLM: llm.Config{
			Provider:      strings.ToLower(v.GetString("llm.provider")),
			Model:         v.GetString("llm.model"),
			APIKey:        v.GetString("llm.api_key"),
			BaseURL:       v.GetString("llm.base_url"),
			Timeout:       v.GetDuration("llm.timeout"),
			RetryDelay:    v.GetDuration("llm.retry_delay"),
			MaxAttempts:   v.GetInt("llm.max_attempts"),
			RateLimit:     v.GetInt("llm.rate_limit"),
			CacheTTL:      v.GetDuration("llm.cache_ttl"),
			MaxImageWidth: v.GetInt("llm.max_image_width"),
			MaxTokens:     v.GetInt("llm.max_tokens"),
		},
		Backlog: BacklogConfig{
			Interval:   v.GetDuration("backlog.interval"),
			PageSize:   v.GetInt("backlog.page_size"),
			ChunkSize:  v.GetInt("backlog.chunk_size"),
			ChunkPause: v.GetDuration("backlog.chunk_pause"),
		},
		Backup: BackupConfig{Interval: v.GetDuration("backup.interval")},
		Server: ServerConfig{Addr: v.GetString("server.addr")},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Provider)
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "gemini", "anthropic", "openai":
	default:
		return fmt.Errorf("%w: unknown llm.provider %q", common.ErrInvalidConfig, c.LLM.Provider)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if c.Backup.Interval < 0 {
		return fmt.Errorf("%w: backup.interval must not be negative", common.ErrInvalidConfig)
	}
	if c.Backlog.PageSize <= 0 || c.Backlog.ChunkSize <= 0 {
		return fmt.Errorf("%w: backlog page and chunk sizes must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// RequireDiscord reports missing settings needed to talk to Discord.
func (c *Config) RequireDiscord() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("%w: discord.token (or DISCORD_BOT_TOKEN)", common.ErrMissingConfig)
	}
	return nil
}

// RequireChannel reports a missing receipts channel.
func (c *Config) RequireChannel() error {
	if c.Discord.ChannelID == "" {
		return fmt.Errorf("%w: discord.channel_id (or DISCORD_CHANNEL_ID)", common.ErrMissingConfig)
	}
	return nil
}

// RequireLLM reports a missing provider key.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("%w: llm.api_key for provider %s", common.ErrMissingConfig, c.LLM.Provider)
	}
	return nil
}

func providerKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ExpandPath expands a leading ~ and $VAR references in path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}
