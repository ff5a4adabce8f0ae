// Package discord provides the Discord bot layer for vibot. It owns the
// discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, and posts playback notices to text channels.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vibot/internal/playback"
	"github.com/MrWong99/vibot/pkg/audio"
	discordaudio "github.com/MrWong99/vibot/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token, without the "Bot " prefix.
	Token string

	// GuildID scopes command registration to one guild. Empty registers
	// commands globally.
	GuildID string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers. One Bot serves every guild it is in.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	// Voice state updates feed both the caller lookup and the forced
	// disconnect detection.
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   NewCommandRouter(),
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// VoiceChannel returns the voice channel userID is connected to in guildID,
// or "" when the user is not in voice. It reads the gateway state cache.
func (b *Bot) VoiceChannel(guildID, userID string) string {
	vs, err := b.Session().State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

// Notifier returns a [playback.Notifier] posting to channelID.
func (b *Bot) Notifier(channelID string) playback.Notifier {
	return NewChannelNotifier(b.Session(), channelID)
}

// Ready reports an error until the gateway handshake has completed.
func (b *Bot) Ready(context.Context) error {
	s := b.Session()
	if s == nil {
		return errors.New("discord: no session")
	}
	s.RLock()
	ready := s.DataReady
	s.RUnlock()
	if !ready {
		return errors.New("discord: gateway not ready")
	}
	return nil
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord and unregisters commands.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		slog.Info("discord bot closed")
	})
	return closeErr
}
