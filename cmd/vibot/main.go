// Command vibot runs the Discord music bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/vibot/internal/app"
	"github.com/MrWong99/vibot/internal/config"
	discordbot "github.com/MrWong99/vibot/internal/discord"
	"github.com/MrWong99/vibot/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vibot: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vibot: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	slog.Info("vibot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	application, err := app.New(ctx, cfg, bot,
		app.WithLevelVar(level),
		app.WithConfigWatch(*configPath),
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(telemetry.MetricsHandler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("bot ready; press Ctrl+C to shut down")

	exitCode := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return exitCode
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	names := make([]string, 0, len(cfg.Resolver.Chain))
	for _, e := range cfg.Resolver.Chain {
		names = append(names, e.Name)
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         vibot · startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Resolvers", strings.Join(names, " → "))
	printRow("FFmpeg", cfg.Resolver.FFmpeg)
	printRow("Idle timeout", cfg.Playback.IdleTimeout.String())
	printRow("Allowed hosts", fmt.Sprintf("%d", len(cfg.Resolver.AllowedHosts)))
	if cfg.Discord.GuildID != "" {
		printRow("Commands", "guild "+cfg.Discord.GuildID)
	} else {
		printRow("Commands", "global")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger whose level follows level, so config
// reloads can change verbosity at runtime.
func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
