// Package app wires all vibot subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the resolver chain, the
// playback orchestrator and the command surface, Run serves the bot and the
// HTTP endpoints, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSources,
// WithClock, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vibot/internal/config"
	"github.com/MrWong99/vibot/internal/discord"
	"github.com/MrWong99/vibot/internal/discord/commands"
	"github.com/MrWong99/vibot/internal/health"
	"github.com/MrWong99/vibot/internal/observe"
	"github.com/MrWong99/vibot/internal/playback"
	"github.com/MrWong99/vibot/internal/resilience"
	"github.com/MrWong99/vibot/internal/resolve"
	"github.com/MrWong99/vibot/internal/voice"
	"github.com/MrWong99/vibot/pkg/audio"
)

// readHeaderTimeout bounds how long the HTTP server waits for request headers.
const readHeaderTimeout = 10 * time.Second

// Bot is the chat-platform surface the App drives. *discord.Bot implements it.
type Bot interface {
	Platform() audio.Platform
	Router() *discord.CommandRouter
	VoiceChannel(guildID, userID string) string
	Notifier(channelID string) playback.Notifier
	Ready(ctx context.Context) error
	Run(ctx context.Context) error
	Close() error
}

var _ Bot = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	bot Bot

	registry       *config.Registry
	sources        []resolve.Source
	hosts          *resolve.HostPolicy
	chain          *resolve.Chain
	orch           *playback.Orchestrator
	music          *commands.MusicCommands
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	clock          clock.Clock
	level          *slog.LevelVar

	configPath string
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSources injects resolver sources instead of creating them from
// the configured chain.
func WithSources(sources ...resolve.Source) Option {
	return func(a *App) { a.sources = sources }
}

// WithRegistry replaces the source registry used to build the chain.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithClock replaces the clock driving idle eviction.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics sets the instruments recorded by playback and the commands.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler mounted at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets configuration reloads adjust the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch reloads path while the App runs.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Slash commands are
// registered on bot's router; they are published to Discord by Run.
func New(_ context.Context, cfg *config.Config, bot Bot, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		bot: bot,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	if a.clock == nil {
		a.clock = clock.New()
	}

	// ── 1. Resolver chain ────────────────────────────────────────────────
	if err := a.initResolver(); err != nil {
		return nil, fmt.Errorf("app: init resolver: %w", err)
	}

	// ── 2. Playback orchestrator ─────────────────────────────────────────
	a.orch = playback.New(
		voice.New(bot.Platform()),
		a.chain,
		playback.WithClock(a.clock),
		playback.WithIdleTimeout(cfg.Playback.IdleTimeout),
		playback.WithConnectTimeout(cfg.Playback.ConnectTimeout),
		playback.WithMetrics(a.metrics),
	)

	// ── 3. Command surface ───────────────────────────────────────────────
	a.music = commands.NewMusicCommands(commands.MusicConfig{
		Player:           a.orch,
		Voice:            bot.VoiceChannel,
		Notifier:         bot.Notifier,
		Describer:        a.chain,
		Metrics:          a.metrics,
		MaxMessageLength: cfg.Playback.MaxMessageLength,
		Now:              a.clock.Now,
	})
	a.music.Register(bot.Router())

	// ── 4. Health checks ─────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	a.closers = append(a.closers, bot.Close)

	slog.Info("app initialised",
		"sources", a.chain.Sources(),
		"idle_timeout", cfg.Playback.IdleTimeout,
		"allowed_hosts", len(a.hosts.Hosts()),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initResolver() error {
	rc := a.cfg.Resolver
	if len(a.sources) == 0 {
		if a.registry == nil {
			a.registry = config.NewRegistry()
			config.RegisterBuiltinSources(a.registry)
		}
		sources, err := a.registry.CreateChain(rc)
		if err != nil {
			return err
		}
		a.sources = sources
	}

	a.hosts = resolve.NewHostPolicy(rc.AllowedHosts)
	chain, err := resolve.NewChain(resolve.ChainConfig{
		Hosts:        a.hosts,
		StartTimeout: a.cfg.Playback.ResolveTimeout,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.Breaker.MaxFailures,
			ResetTimeout: rc.Breaker.ResetTimeout,
		},
	}, a.sources...)
	if err != nil {
		return err
	}
	a.chain = chain
	return nil
}

// checkers returns the readiness probes: the gateway plus every external
// binary the configured chain needs.
func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{Name: "discord", Check: a.bot.Ready}}

	seen := make(map[string]bool)
	addBinary := func(bin string) {
		if bin == "" || seen[bin] {
			return
		}
		seen[bin] = true
		checks = append(checks, health.BinaryCheck(bin, bin))
	}
	for _, s := range a.sources {
		switch src := s.(type) {
		case *resolve.YTDLP:
			addBinary(valueOr(src.Binary, resolve.DefaultYTDLP))
			addBinary(valueOr(src.FFmpeg, resolve.DefaultFFmpeg))
		case *resolve.Direct:
			addBinary(valueOr(src.FFmpeg, resolve.DefaultFFmpeg))
		}
	}
	return checks
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the playback orchestrator.
func (a *App) Orchestrator() *playback.Orchestrator { return a.orch }

// Chain returns the resolver chain.
func (a *App) Chain() *resolve.Chain { return a.chain }

// Handler returns the HTTP handler serving /metrics, /healthz and /readyz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metricsHandler)
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the bot and the HTTP endpoints until ctx is cancelled or one of
// them fails. It does not tear anything down; call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload)
		if err != nil {
			// Running without hot reload is preferable to not running.
			slog.Warn("config watcher disabled", "path", a.configPath, "err", err)
		} else {
			a.watcher = w
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: bot: %w", err)
		}
		return nil
	})

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Reload applies the reloadable settings of next. It is the config
// watcher's change callback.
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.IdleTimeoutChanged {
		a.orch.SetIdleTimeout(d.NewIdleTimeout)
		slog.Info("config reload: idle timeout changed", "idle_timeout", d.NewIdleTimeout)
	}
	if d.AllowedHostsChanged {
		a.hosts.Set(d.NewAllowedHosts)
		slog.Info("config reload: allowed hosts changed", "hosts", d.NewAllowedHosts)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "fields", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown leaves every voice channel, then tears down the remaining
// subsystems in order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "groups", a.orch.Groups(), "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}

		var errs []error
		if err := a.orch.Close(ctx); err != nil {
			errs = append(errs, err)
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				break
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
