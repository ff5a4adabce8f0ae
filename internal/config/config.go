// Package config provides the configuration schema, loader, hot-reload
// watcher and resolver source registry for the vibot music bot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unrecognised values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Discord  DiscordConfig  `yaml:"discord"`
	Playback PlaybackConfig `yaml:"playback"`
	Resolver ResolverConfig `yaml:"resolver"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the listener. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DiscordConfig holds the bot credentials.
type DiscordConfig struct {
	// Token is the bot token. The DISCORD_TOKEN environment variable takes
	// precedence.
	Token string `yaml:"token"`

	// GuildID scopes slash command registration to one guild, which makes
	// changes visible immediately. Empty registers commands globally.
	GuildID string `yaml:"guild_id"`
}

// PlaybackConfig tunes the per-guild queues.
type PlaybackConfig struct {
	// IdleTimeout is how long the bot stays in a channel after the queue
	// drains. Reloadable.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ConnectTimeout bounds joining a voice channel.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ResolveTimeout bounds how long a source may take to produce audio.
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`

	// MaxMessageLength caps rendered queue listings.
	MaxMessageLength int `yaml:"max_message_length"`
}

// ResolverConfig selects and tunes the audio sources.
type ResolverConfig struct {
	// Chain lists the sources tried for every locator, in order. Each Name
	// selects a factory registered in the [Registry].
	Chain []SourceEntry `yaml:"chain"`

	// FFmpeg is the ffmpeg executable shared by all sources.
	FFmpeg string `yaml:"ffmpeg"`

	// AllowedHosts restricts which URL hosts may be queued. An explicit
	// empty list admits every host. Reloadable.
	AllowedHosts []string `yaml:"allowed_hosts"`

	// Breaker configures the circuit breaker placed in front of each source.
	Breaker BreakerConfig `yaml:"breaker"`
}

// SourceEntry configures one resolver source.
type SourceEntry struct {
	// Name selects the registered source implementation (e.g., "ytdlp").
	Name string `yaml:"name"`

	// Binary overrides the source's external executable, if it has one.
	Binary string `yaml:"binary"`

	// Format is a source-specific format selector.
	Format string `yaml:"format"`
}

// BreakerConfig mirrors the tunable fields of the resolver circuit breakers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive start failures before a
	// source is skipped.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long a tripped source is skipped.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
