package config

import (
	"slices"
	"strings"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Reloadable fields are reported with their new value; everything else that
// changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	IdleTimeoutChanged bool
	NewIdleTimeout     time.Duration

	AllowedHostsChanged bool
	NewAllowedHosts     []string

	// RestartRequired names changed settings that only take effect after a
	// restart, e.g. "discord.token".
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.IdleTimeoutChanged && !d.AllowedHostsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Playback.IdleTimeout != new.Playback.IdleTimeout {
		d.IdleTimeoutChanged = true
		d.NewIdleTimeout = new.Playback.IdleTimeout
	}
	if !sameHosts(old.Resolver.AllowedHosts, new.Resolver.AllowedHosts) {
		d.AllowedHostsChanged = true
		d.NewAllowedHosts = slices.Clone(new.Resolver.AllowedHosts)
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("discord.token", old.Discord.Token != new.Discord.Token)
	restart("discord.guild_id", old.Discord.GuildID != new.Discord.GuildID)
	restart("playback.connect_timeout", old.Playback.ConnectTimeout != new.Playback.ConnectTimeout)
	restart("playback.resolve_timeout", old.Playback.ResolveTimeout != new.Playback.ResolveTimeout)
	restart("playback.max_message_length", old.Playback.MaxMessageLength != new.Playback.MaxMessageLength)
	restart("resolver.chain", !slices.Equal(old.Resolver.Chain, new.Resolver.Chain))
	restart("resolver.ffmpeg", old.Resolver.FFmpeg != new.Resolver.FFmpeg)
	restart("resolver.breaker", old.Resolver.Breaker != new.Resolver.Breaker)

	return d
}

// sameHosts compares host lists as case-insensitive sets.
func sameHosts(a, b []string) bool {
	norm := func(in []string) []string {
		out := make([]string, len(in))
		for i, h := range in {
			out[i] = strings.ToLower(strings.TrimSpace(h))
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	return slices.Equal(norm(a), norm(b))
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
