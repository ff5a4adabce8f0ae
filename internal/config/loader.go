package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenEnv is the environment variable overriding discord.token.
const TokenEnv = "DISCORD_TOKEN"

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":9090"
	DefaultIdleTimeout      = 2 * time.Minute
	DefaultConnectTimeout   = 15 * time.Second
	DefaultResolveTimeout   = 30 * time.Second
	DefaultMaxMessageLength = 2000
	DefaultFFmpeg           = "ffmpeg"
	DefaultBreakerFailures  = 5
	DefaultBreakerReset     = 30 * time.Second

	// minMessageLength leaves room for the queue header and one entry.
	minMessageLength = 200
)

// DefaultAllowedHosts admits YouTube's public hosts.
var DefaultAllowedHosts = []string{
	"youtube.com",
	"www.youtube.com",
	"m.youtube.com",
	"music.youtube.com",
	"youtu.be",
}

// ValidSourceNames lists the resolver sources known to this build.
// Used by [Validate] to warn about unrecognised names.
var ValidSourceNames = []string{"ytdlp", "direct"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the environment
// override and defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file values with environment variables read through
// lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if tok, ok := lookup(TokenEnv); ok && strings.TrimSpace(tok) != "" {
		cfg.Discord.Token = strings.TrimSpace(tok)
	}
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	p := &cfg.Playback
	if p.IdleTimeout == 0 {
		p.IdleTimeout = DefaultIdleTimeout
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}
	if p.ResolveTimeout == 0 {
		p.ResolveTimeout = DefaultResolveTimeout
	}
	if p.MaxMessageLength == 0 {
		p.MaxMessageLength = DefaultMaxMessageLength
	}

	r := &cfg.Resolver
	if len(r.Chain) == 0 {
		r.Chain = []SourceEntry{{Name: "ytdlp"}, {Name: "direct"}}
	}
	if r.FFmpeg == "" {
		r.FFmpeg = DefaultFFmpeg
	}
	if r.AllowedHosts == nil {
		r.AllowedHosts = slices.Clone(DefaultAllowedHosts)
	}
	if r.Breaker.MaxFailures == 0 {
		r.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if r.Breaker.ResetTimeout == 0 {
		r.Breaker.ResetTimeout = DefaultBreakerReset
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Discord
	if cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.token is required (or set %s)", TokenEnv))
	}

	// Playback
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"playback.idle_timeout", cfg.Playback.IdleTimeout},
		{"playback.connect_timeout", cfg.Playback.ConnectTimeout},
		{"playback.resolve_timeout", cfg.Playback.ResolveTimeout},
		{"resolver.breaker.reset_timeout", cfg.Resolver.Breaker.ResetTimeout},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("%s %v must not be negative", d.name, d.val))
		}
	}
	if n := cfg.Playback.MaxMessageLength; n != 0 && (n < minMessageLength || n > DefaultMaxMessageLength) {
		errs = append(errs, fmt.Errorf("playback.max_message_length %d is out of range [%d, %d]", n, minMessageLength, DefaultMaxMessageLength))
	}

	// Resolver
	seen := make(map[string]int, len(cfg.Resolver.Chain))
	for i, src := range cfg.Resolver.Chain {
		prefix := fmt.Sprintf("resolver.chain[%d]", i)
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[src.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of resolver.chain[%d]", prefix, src.Name, prev))
		}
		seen[src.Name] = i
		validateSourceName(src.Name)
	}
	for i, h := range cfg.Resolver.AllowedHosts {
		if h == "" || strings.ContainsAny(h, "/: ") {
			errs = append(errs, fmt.Errorf("resolver.allowed_hosts[%d] %q must be a bare host name", i, h))
		}
	}
	if cfg.Resolver.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resolver.breaker.max_failures %d must not be negative", cfg.Resolver.Breaker.MaxFailures))
	}

	return errors.Join(errs...)
}

// validateSourceName logs a warning if name is not in [ValidSourceNames].
func validateSourceName(name string) {
	if slices.Contains(ValidSourceNames, name) {
		return
	}
	slog.Warn("unknown resolver source name; may be a typo or a third-party source",
		"name", name,
		"known", ValidSourceNames,
	)
}
