package config_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/vibot/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "bad log level",
			yaml: "server: {log_level: bananas}\ndiscord: {token: x}\n",
			want: []string{"server.log_level"},
		},
		{
			name: "half tls",
			yaml: "server: {tls: {cert_file: a.pem}}\ndiscord: {token: x}\n",
			want: []string{"server.tls"},
		},
		{
			name: "negative timeout",
			yaml: "discord: {token: x}\nplayback: {idle_timeout: -1s}\n",
			want: []string{"playback.idle_timeout"},
		},
		{
			name: "message length out of range",
			yaml: "discord: {token: x}\nplayback: {max_message_length: 5000}\n",
			want: []string{"playback.max_message_length"},
		},
		{
			name: "duplicate source",
			yaml: "discord: {token: x}\nresolver: {chain: [{name: ytdlp}, {name: ytdlp}]}\n",
			want: []string{"duplicate"},
		},
		{
			name: "nameless source",
			yaml: "discord: {token: x}\nresolver: {chain: [{binary: yt-dlp}]}\n",
			want: []string{"resolver.chain[0].name"},
		},
		{
			name: "host with scheme",
			yaml: "discord: {token: x}\nresolver: {allowed_hosts: [\"https://youtu.be\"]}\n",
			want: []string{"resolver.allowed_hosts[0]"},
		},
		{
			name: "collects every error",
			yaml: "server: {log_level: loud}\ndiscord: {token: x}\nresolver: {breaker: {max_failures: -2}}\n",
			want: []string{"server.log_level", "resolver.breaker.max_failures"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("discord: {token: x, shard: 2}\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidate_UnknownSourceOnlyWarns(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("discord: {token: x}\nresolver: {chain: [{name: soundcloud}]}\n"))
	if err != nil {
		t.Fatalf("unknown source name rejected: %v", err)
	}
}

func TestValidate_TokenRequired(t *testing.T) {
	t.Setenv(config.TokenEnv, "")

	_, err := config.LoadFromReader(strings.NewReader("server: {log_level: info}\n"))
	if err == nil || !strings.Contains(err.Error(), "discord.token") {
		t.Fatalf("err = %v, want missing token", err)
	}
}

func TestLoadFromReader_TokenFromEnv(t *testing.T) {
	t.Setenv(config.TokenEnv, "from-env")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("token = %q, want from-env", cfg.Discord.Token)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv(config.TokenEnv, "example-token")

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Discord.Token != "example-token" {
		t.Errorf("token = %q, want env override", cfg.Discord.Token)
	}
	if got := len(cfg.Resolver.Chain); got != 2 {
		t.Errorf("chain length = %d, want 2", got)
	}
}
